// Package room holds the identity and lifetime of a transfer room.
package room

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/BioHazard786/codedrop/internal/relay"
)

// DefaultTTL bounds how long a room stays open before it is torn down.
const DefaultTTL = 300 * time.Second

const (
	codeLength = 4
	codeMin    = 1000
	codeSpan   = 9000
)

var (
	ErrInvalidRoomCode = errors.New("room code must be exactly 4 digits")
	ErrRoomExpired     = errors.New("room expired")
)

// Role is the side a peer plays in a room.
type Role int

const (
	Initiator Role = iota
	Responder
)

func (r Role) String() string {
	switch r {
	case Initiator:
		return "initiator"
	case Responder:
		return "responder"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Session is one room as seen by one peer. Expired is closed once the TTL
// elapses or Close is called.
type Session struct {
	Code      string
	Role      Role
	CreatedAt time.Time
	ExpiresAt time.Time

	timer   *time.Timer
	expired chan struct{}
	once    sync.Once
	now     func() time.Time
}

// NewCode returns a uniformly random code in 1000-9999.
func NewCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpan))
	if err != nil {
		return "", fmt.Errorf("failed to generate room code: %w", err)
	}
	return fmt.Sprintf("%d", codeMin+n.Int64()), nil
}

// ValidateCode checks that code is exactly four ASCII digits.
func ValidateCode(code string) error {
	if len(code) != codeLength {
		return fmt.Errorf("%w: %q", ErrInvalidRoomCode, code)
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return fmt.Errorf("%w: %q", ErrInvalidRoomCode, code)
		}
	}
	return nil
}

// Create opens a new room with a fresh code as the initiator.
func Create(ttl time.Duration) (*Session, error) {
	code, err := NewCode()
	if err != nil {
		return nil, err
	}
	return newSession(code, Initiator, ttl, time.Now), nil
}

// Join enters an existing room as the responder.
func Join(code string, ttl time.Duration) (*Session, error) {
	if err := ValidateCode(code); err != nil {
		return nil, err
	}
	return newSession(code, Responder, ttl, time.Now), nil
}

func newSession(code string, role Role, ttl time.Duration, now func() time.Time) *Session {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	created := now()
	s := &Session{
		Code:      code,
		Role:      role,
		CreatedAt: created,
		ExpiresAt: created.Add(ttl),
		expired:   make(chan struct{}),
		now:       now,
	}
	s.timer = time.AfterFunc(ttl, s.expire)
	return s
}

// Expired is closed when the room's lifetime ends.
func (s *Session) Expired() <-chan struct{} {
	return s.expired
}

// Remaining reports the time left before expiry, never negative.
func (s *Session) Remaining() time.Duration {
	d := s.ExpiresAt.Sub(s.now())
	if d < 0 {
		return 0
	}
	return d
}

// Close ends the room early.
func (s *Session) Close() {
	s.timer.Stop()
	s.expire()
}

func (s *Session) expire() {
	s.once.Do(func() { close(s.expired) })
}

// Path is the relay subtree mirroring the room.
func Path(code string) string {
	return relay.Join(relay.SweepRoot, code)
}

func OfferPath(code string) string {
	return relay.Join(Path(code), "offer")
}

func AnswerPath(code string) string {
	return relay.Join(Path(code), "answer")
}

func CandidatePath(code string) string {
	return relay.Join(Path(code), "candidate")
}
