// Package relay implements the path-addressed key-value pub/sub service
// peers use to exchange negotiation messages before a direct channel exists.
package relay

import (
	"context"
	"errors"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrClosed      = errors.New("relay client closed")
	ErrInvalidPath = errors.New("invalid relay path")
	ErrRemote      = errors.New("relay rejected request")
)

// Client is the relay surface consumed by the negotiator.
//
// WatchValue replays the current value of path (if any) and then fires on
// every change. WatchChildAdded replays existing children in insertion order
// and then fires once per new child. Subscriptions end when Close is called
// on them or when ctx is done.
type Client interface {
	Push(ctx context.Context, path string, value any) (string, error)
	Set(ctx context.Context, path string, value any) error
	Remove(ctx context.Context, path string) error
	WatchValue(ctx context.Context, path string) (*Subscription, error)
	WatchChildAdded(ctx context.Context, path string) (*Subscription, error)
	Close() error
}

// Event is a single notification delivered on a Subscription.
type Event struct {
	Path    string
	Key     string
	Value   []byte
	Removed bool
}

// Decode unmarshals the event value into v.
func (e Event) Decode(v any) error {
	return msgpack.Unmarshal(e.Value, v)
}

// Encode marshals a value the way it is stored in the relay.
func Encode(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Subscription delivers events for one watch, in order.
type Subscription struct {
	C <-chan Event

	q *queue
}

// Close stops delivery. C is closed once the pending events are dropped.
func (s *Subscription) Close() {
	s.q.close()
}

// Join builds a relay path from segments.
func Join(parts ...string) string {
	return strings.Join(parts, "/")
}

func splitPath(path string) ([]string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, ErrInvalidPath
	}
	parts := strings.Split(path, "/")
	for _, p := range parts {
		if p == "" {
			return nil, ErrInvalidPath
		}
	}
	return parts, nil
}
