package relay

import (
	"context"
	"errors"
	"testing"
	"time"
)

type record struct {
	Name string `msgpack:"name"`
	N    int    `msgpack:"n"`
}

func setupMemory(t *testing.T) *Memory {
	t.Helper()
	m := NewMemory()
	t.Cleanup(func() { m.Close() })
	return m
}

func recv(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C:
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relay event")
	}
	return Event{}
}

func expectSilence(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatchValueReplaysCurrentValue(t *testing.T) {
	m := setupMemory(t)
	ctx := context.Background()

	if err := m.Set(ctx, "connections/4821/offer", record{Name: "offer", N: 1}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	sub, err := m.WatchValue(ctx, "connections/4821/offer")
	if err != nil {
		t.Fatalf("WatchValue: %v", err)
	}
	defer sub.Close()

	var got record
	if err := recv(t, sub).Decode(&got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Name != "offer" || got.N != 1 {
		t.Fatalf("replayed %+v", got)
	}
}

func TestWatchValueFiresOnChangeAndRemoval(t *testing.T) {
	m := setupMemory(t)
	ctx := context.Background()

	sub, err := m.WatchValue(ctx, "connections/4821/answer")
	if err != nil {
		t.Fatalf("WatchValue: %v", err)
	}
	defer sub.Close()
	expectSilence(t, sub)

	for i := 1; i <= 2; i++ {
		if err := m.Set(ctx, "connections/4821/answer", record{N: i}); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	for i := 1; i <= 2; i++ {
		var got record
		if err := recv(t, sub).Decode(&got); err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got.N != i {
			t.Fatalf("event %d carried N=%d", i, got.N)
		}
	}

	if err := m.Remove(ctx, "connections/4821"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if ev := recv(t, sub); !ev.Removed {
		t.Fatalf("expected removal event, got %+v", ev)
	}
}

func TestWatchChildAddedReplaysInInsertionOrder(t *testing.T) {
	m := setupMemory(t)
	ctx := context.Background()
	path := "connections/4821/candidate"

	var keys []string
	for i := 0; i < 3; i++ {
		key, err := m.Push(ctx, path, record{N: i})
		if err != nil {
			t.Fatalf("Push: %v", err)
		}
		keys = append(keys, key)
	}

	sub, err := m.WatchChildAdded(ctx, path)
	if err != nil {
		t.Fatalf("WatchChildAdded: %v", err)
	}
	defer sub.Close()

	for i := 0; i < 3; i++ {
		ev := recv(t, sub)
		if ev.Key != keys[i] {
			t.Fatalf("child %d: key %q, want %q", i, ev.Key, keys[i])
		}
	}

	if _, err := m.Push(ctx, path, record{N: 3}); err != nil {
		t.Fatalf("Push: %v", err)
	}
	var got record
	if err := recv(t, sub).Decode(&got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.N != 3 {
		t.Fatalf("new child carried N=%d", got.N)
	}

	// Overwriting an existing child is not a new child.
	if err := m.Set(ctx, Join(path, keys[0]), record{N: 9}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	expectSilence(t, sub)
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	m := setupMemory(t)
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := m.WatchValue(ctx, "connections/4821/offer")
	if err != nil {
		t.Fatalf("WatchValue: %v", err)
	}
	cancel()

	select {
	case _, ok := <-sub.C:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed after cancel")
	}
}

func TestSweepDropsStaleRooms(t *testing.T) {
	m := setupMemory(t)
	ctx := context.Background()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	if err := m.Set(ctx, "connections/1111/offer", record{N: 1}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	now = now.Add(2 * time.Hour)
	if err := m.Set(ctx, "connections/2222/offer", record{N: 2}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if n := m.Sweep(SweepRoot, time.Hour); n != 1 {
		t.Fatalf("Sweep removed %d rooms, want 1", n)
	}

	sub, err := m.WatchValue(ctx, "connections/2222/offer")
	if err != nil {
		t.Fatalf("WatchValue: %v", err)
	}
	defer sub.Close()
	recv(t, sub)

	stale, err := m.WatchValue(ctx, "connections/1111/offer")
	if err != nil {
		t.Fatalf("WatchValue: %v", err)
	}
	defer stale.Close()
	expectSilence(t, stale)
}

func TestInvalidPathRejected(t *testing.T) {
	m := setupMemory(t)

	for _, path := range []string{"", "/", "connections//offer"} {
		if err := m.Set(context.Background(), path, record{}); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("Set(%q) = %v, want ErrInvalidPath", path, err)
		}
	}
}

func TestClosedMemoryRejectsWrites(t *testing.T) {
	m := NewMemory()
	sub, err := m.WatchValue(context.Background(), "a/b")
	if err != nil {
		t.Fatalf("WatchValue: %v", err)
	}
	m.Close()

	if _, ok := <-sub.C; ok {
		t.Fatal("subscription still open after Close")
	}
	if err := m.Set(context.Background(), "a/b", record{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Set after Close = %v, want ErrClosed", err)
	}
}
