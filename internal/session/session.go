// Package session ties a room, its negotiator and the resulting transfer
// channel together and owns their teardown.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/BioHazard786/codedrop/internal/negotiator"
	"github.com/BioHazard786/codedrop/internal/relay"
	"github.com/BioHazard786/codedrop/internal/room"
	"github.com/BioHazard786/codedrop/internal/transfer"
	"github.com/pion/webrtc/v4"
)

var (
	ErrConnectionFailed = errors.New("connection failed")
	ErrClosed           = errors.New("session closed")
)

const removeTimeout = 5 * time.Second

type Options struct {
	Role   room.Role
	Code   string // responder only
	TTL    time.Duration
	Relay  relay.Client
	WebRTC webrtc.Configuration
	Logger *slog.Logger

	// OnState, when set, is called from the session goroutine for every
	// negotiator transition.
	OnState func(negotiator.State)
}

// Session is one attempt at connecting two peers through a room. A retry
// is a Close followed by a fresh Session.
type Session struct {
	Room *room.Session

	relay   relay.Client
	neg     *negotiator.Negotiator
	events  <-chan negotiator.Event
	logger  *slog.Logger
	onState func(negotiator.State)

	mu      sync.Mutex
	channel *transfer.DataChannel

	ready     chan struct{}
	failed    chan struct{}
	closed    chan struct{}
	cancel    context.CancelFunc
	readyOnce sync.Once
	failOnce  sync.Once
	closeOnce sync.Once
}

// New creates the room and its negotiator. For a responder the code is
// validated before anything touches the relay.
func New(opts Options) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = room.DefaultTTL
	}

	var (
		rm  *room.Session
		err error
	)
	if opts.Role == room.Initiator {
		rm, err = room.Create(ttl)
	} else {
		rm, err = room.Join(opts.Code, ttl)
	}
	if err != nil {
		return nil, err
	}

	neg, err := negotiator.New(negotiator.Options{
		Code:   rm.Code,
		Role:   rm.Role,
		Relay:  opts.Relay,
		WebRTC: opts.WebRTC,
		Logger: logger,
	})
	if err != nil {
		rm.Close()
		return nil, err
	}

	return &Session{
		Room:    rm,
		relay:   opts.Relay,
		neg:     neg,
		events:  neg.Events(),
		logger:  logger.With("component", "session", "room", rm.Code),
		onState: opts.OnState,
		ready:   make(chan struct{}),
		failed:  make(chan struct{}),
		closed:  make(chan struct{}),
		cancel:  func() {},
	}, nil
}

func (s *Session) Code() string {
	return s.Room.Code
}

// Start runs the negotiation in the background. Expiry of the room closes
// the session whatever state it is in.
func (s *Session) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		if err := s.neg.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("negotiation stopped", "err", err)
			s.fail()
		}
	}()

	go s.watch()

	go func() {
		select {
		case <-s.Room.Expired():
			s.logger.Info("room expired")
			s.Close()
		case <-s.closed:
		}
	}()
}

// WaitReady blocks until the transfer channel is open.
func (s *Session) WaitReady(ctx context.Context) (*transfer.DataChannel, error) {
	select {
	case <-s.ready:
		return s.Channel(), nil
	case <-s.failed:
		return nil, ErrConnectionFailed
	case <-s.Room.Expired():
		return nil, s.endErr()
	case <-s.closed:
		return nil, s.endErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Channel is the open transfer channel, or nil before WaitReady succeeds.
func (s *Session) Channel() *transfer.DataChannel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

// Closed is closed once teardown has started.
func (s *Session) Closed() <-chan struct{} {
	return s.closed
}

// Close tears everything down: negotiator, channel, relay state for the
// room and the expiry timer. It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)

		s.mu.Lock()
		cancel, ch := s.cancel, s.channel
		s.mu.Unlock()

		if ch != nil {
			ch.Close()
		}
		err = s.neg.Close()
		cancel()

		ctx, done := context.WithTimeout(context.Background(), removeTimeout)
		defer done()
		if rerr := s.relay.Remove(ctx, room.Path(s.Room.Code)); rerr != nil {
			s.logger.Debug("failed to clear room", "err", rerr)
		}

		s.Room.Close()
		s.logger.Debug("session closed")
	})
	return err
}

// watch follows the negotiator. A lost connection before the channel opens
// fails the session; afterwards it aborts the channel so the transfer on it
// ends with ErrTransferAborted.
func (s *Session) watch() {
	for ev := range s.events {
		if s.onState != nil {
			s.onState(ev.State)
		}

		if ev.Channel != nil {
			s.mu.Lock()
			s.channel = ev.Channel
			s.mu.Unlock()
			s.readyOnce.Do(func() { close(s.ready) })
			continue
		}

		if !ev.State.Lost() {
			continue
		}
		if !s.isReady() {
			s.fail()
			continue
		}
		ch := s.Channel()
		select {
		case <-ch.Closed():
		default:
			s.logger.Warn("connection lost", "state", ev.State)
			ch.Abort()
		}
	}
	if !s.isReady() {
		s.fail()
	}
}

// endErr tells a room that ran out of time from one closed early.
func (s *Session) endErr() error {
	if s.Room.Remaining() == 0 {
		return room.ErrRoomExpired
	}
	return ErrClosed
}

func (s *Session) isReady() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}

func (s *Session) fail() {
	s.failOnce.Do(func() { close(s.failed) })
}
