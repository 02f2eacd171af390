package negotiator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/codedrop/internal/relay"
	"github.com/BioHazard786/codedrop/internal/room"
	"github.com/BioHazard786/codedrop/internal/transfer"
	"github.com/pion/webrtc/v4"
)

// countingRelay records every call before delegating to an in-memory relay.
type countingRelay struct {
	*relay.Memory

	mu    sync.Mutex
	calls []string
}

func newCountingRelay() *countingRelay {
	return &countingRelay{Memory: relay.NewMemory()}
}

func (c *countingRelay) record(op, path string) {
	c.mu.Lock()
	c.calls = append(c.calls, op+" "+path)
	c.mu.Unlock()
}

func (c *countingRelay) count(op, path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if call == op+" "+path {
			n++
		}
	}
	return n
}

func (c *countingRelay) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *countingRelay) Set(ctx context.Context, path string, v any) error {
	c.record("set", path)
	return c.Memory.Set(ctx, path, v)
}

func (c *countingRelay) Push(ctx context.Context, path string, v any) (string, error) {
	c.record("push", path)
	return c.Memory.Push(ctx, path, v)
}

func (c *countingRelay) Remove(ctx context.Context, path string) error {
	c.record("remove", path)
	return c.Memory.Remove(ctx, path)
}

func (c *countingRelay) WatchValue(ctx context.Context, path string) (*relay.Subscription, error) {
	c.record("watch_value", path)
	return c.Memory.WatchValue(ctx, path)
}

func (c *countingRelay) WatchChildAdded(ctx context.Context, path string) (*relay.Subscription, error) {
	c.record("watch_child", path)
	return c.Memory.WatchChildAdded(ctx, path)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newNegotiator(t *testing.T, code string, role room.Role, rc relay.Client) *Negotiator {
	t.Helper()
	return setupNegotiator(t, Options{Code: code, Role: role, Relay: rc})
}

func setupNegotiator(t *testing.T, opts Options) *Negotiator {
	t.Helper()
	opts.Logger = testLogger()
	n, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { n.Close() })
	return n
}

// channelOf delivers the data channel once n reports it open, or closes
// empty if negotiation ends first.
func channelOf(n *Negotiator) <-chan *transfer.DataChannel {
	out := make(chan *transfer.DataChannel, 1)
	go func() {
		defer close(out)
		for ev := range n.Events() {
			if ev.Channel != nil {
				out <- ev.Channel
				return
			}
			if ev.State.Terminal() {
				return
			}
		}
	}()
	return out
}

// remoteAnswer answers offer from an independent peer connection.
func remoteAnswer(t *testing.T, offer *webrtc.SessionDescription) Description {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	t.Cleanup(func() { pc.Close() })

	if err := pc.SetRemoteDescription(*offer); err != nil {
		t.Fatalf("SetRemoteDescription: %v", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		t.Fatalf("CreateAnswer: %v", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		t.Fatalf("SetLocalDescription: %v", err)
	}
	return Description{SDP: answer.SDP, Type: answer.Type.String(), Timestamp: time.Now().UnixMilli()}
}

// remoteOffer produces a real offer from an independent peer connection.
func remoteOffer(t *testing.T) Description {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	t.Cleanup(func() { pc.Close() })

	if _, err := pc.CreateDataChannel(transfer.ChannelLabel, nil); err != nil {
		t.Fatalf("CreateDataChannel: %v", err)
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		t.Fatalf("SetLocalDescription: %v", err)
	}
	return Description{SDP: offer.SDP, Type: offer.Type.String(), Timestamp: time.Now().UnixMilli()}
}

func TestInvalidCodeDoesNoRelayIO(t *testing.T) {
	for _, code := range []string{"12a4", "123", "", "12345"} {
		rc := newCountingRelay()
		_, err := New(Options{Code: code, Role: room.Responder, Relay: rc, Logger: testLogger()})
		if !errors.Is(err, room.ErrInvalidRoomCode) {
			t.Errorf("New(%q) error = %v, want ErrInvalidRoomCode", code, err)
		}
		if rc.total() != 0 {
			t.Errorf("New(%q) made %d relay calls", code, rc.total())
		}
	}
}

func TestResponderWatchesOffer(t *testing.T) {
	rc := newCountingRelay()
	n := newNegotiator(t, "4821", room.Responder, rc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	ev := <-n.Events()
	if ev.State != AwaitingOffer {
		t.Fatalf("first state = %v, want %v", ev.State, AwaitingOffer)
	}
	if got := rc.count("watch_value", room.OfferPath("4821")); got != 1 {
		t.Fatalf("offer watches = %d, want 1", got)
	}
	if rc.total() != 1 {
		t.Fatalf("relay calls = %d, want 1", rc.total())
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v", err)
	}
	if _, ok := <-n.Events(); ok {
		t.Fatal("events channel left open after Run")
	}
}

func TestDuplicateOfferAnsweredOnce(t *testing.T) {
	rc := newCountingRelay()
	n := newNegotiator(t, "4821", room.Responder, rc)
	ctx := context.Background()

	offer := remoteOffer(t)
	if err := n.onRemoteOfferObserved(ctx, offer); err != nil {
		t.Fatalf("first offer: %v", err)
	}
	remote := n.pc.RemoteDescription()
	if remote == nil {
		t.Fatal("remote description not applied")
	}

	if err := n.onRemoteOfferObserved(ctx, offer); !errors.Is(err, ErrStaleNegotiationMessage) {
		t.Fatalf("second offer: %v, want ErrStaleNegotiationMessage", err)
	}
	if got := rc.count("set", room.AnswerPath("4821")); got != 1 {
		t.Fatalf("answers published = %d, want 1", got)
	}
	if got := rc.count("watch_child", room.CandidatePath("4821")); got != 1 {
		t.Fatalf("candidate watches = %d, want 1", got)
	}
	if n.pc.RemoteDescription().SDP != remote.SDP {
		t.Fatal("remote description replaced")
	}
	if n.state != IceExchange {
		t.Fatalf("state = %v, want %v", n.state, IceExchange)
	}
}

func TestAnswerOutsideHaveLocalOfferIsStale(t *testing.T) {
	rc := newCountingRelay()
	n := newNegotiator(t, "4821", room.Initiator, rc)

	answer := Description{SDP: "v=0", Type: "answer"}
	if err := n.onRemoteAnswerObserved(context.Background(), answer); !errors.Is(err, ErrStaleNegotiationMessage) {
		t.Fatalf("answer in stable state: %v", err)
	}
	if n.pc.RemoteDescription() != nil {
		t.Fatal("remote description set from stale answer")
	}
	if rc.total() != 0 {
		t.Fatalf("relay calls = %d", rc.total())
	}
}

func TestMalformedOfferRejected(t *testing.T) {
	rc := newCountingRelay()
	n := newNegotiator(t, "4821", room.Responder, rc)

	bogus := Description{SDP: "v=0", Type: "rollback-ish"}
	if err := n.onRemoteOfferObserved(context.Background(), bogus); !errors.Is(err, ErrMalformedSignal) {
		t.Fatalf("unknown type: %v", err)
	}
	if n.pc.RemoteDescription() != nil {
		t.Fatal("remote description set from malformed offer")
	}
}

func TestOwnCandidatesIgnoredAndEarlyOnesBuffered(t *testing.T) {
	rc := newCountingRelay()
	n := newNegotiator(t, "4821", room.Responder, rc)

	own := Candidate{Sender: senderFor(room.Responder)}
	if err := n.onRemoteCandidateObserved(own); !errors.Is(err, ErrStaleNegotiationMessage) {
		t.Fatalf("own candidate: %v", err)
	}

	peer := Candidate{
		Candidate: webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 50000 typ host"},
		Sender:    senderFor(room.Initiator),
	}
	if err := n.onRemoteCandidateObserved(peer); err != nil {
		t.Fatalf("early candidate: %v", err)
	}
	if len(n.pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(n.pending))
	}

	if err := n.onRemoteOfferObserved(context.Background(), remoteOffer(t)); err != nil {
		t.Fatalf("offer: %v", err)
	}
	if len(n.pending) != 0 {
		t.Fatalf("pending not flushed: %d", len(n.pending))
	}
}

func TestLoopbackOpensChannel(t *testing.T) {
	if testing.Short() {
		t.Skip("opens real peer connections")
	}

	rc := newCountingRelay()
	initiator := newNegotiator(t, "4821", room.Initiator, rc)
	responder := newNegotiator(t, "4821", room.Responder, rc)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	go initiator.Run(ctx)
	go responder.Run(ctx)

	a, b := channelOf(initiator), channelOf(responder)
	for name, ch := range map[string]<-chan *transfer.DataChannel{"initiator": a, "responder": b} {
		select {
		case dc, ok := <-ch:
			if !ok || dc == nil {
				t.Fatalf("%s: channel never opened", name)
			}
			if !dc.IsOpen() {
				t.Fatalf("%s: channel reported but not open", name)
			}
		case <-ctx.Done():
			t.Fatalf("%s: timed out waiting for channel", name)
		}
	}

	if got := rc.count("set", room.OfferPath("4821")); got != 1 {
		t.Errorf("offers published = %d", got)
	}
	if got := rc.count("set", room.AnswerPath("4821")); got != 1 {
		t.Errorf("answers published = %d", got)
	}
}

func TestReplayedAnswerIsStale(t *testing.T) {
	rc := newCountingRelay()
	n := newNegotiator(t, "4821", room.Initiator, rc)
	ctx := context.Background()

	if err := n.startAsInitiator(ctx); err != nil {
		t.Fatalf("startAsInitiator: %v", err)
	}
	answer := remoteAnswer(t, n.pc.LocalDescription())

	if err := n.onRemoteAnswerObserved(ctx, answer); err != nil {
		t.Fatalf("first answer: %v", err)
	}
	if n.pc.SignalingState() != webrtc.SignalingStateStable {
		t.Fatalf("signaling state = %v, want stable", n.pc.SignalingState())
	}
	applied := n.pc.RemoteDescription().SDP

	if err := n.onRemoteAnswerObserved(ctx, answer); !errors.Is(err, ErrStaleNegotiationMessage) {
		t.Fatalf("replayed answer: %v, want ErrStaleNegotiationMessage", err)
	}
	if n.pc.RemoteDescription().SDP != applied {
		t.Fatal("remote description replaced by replayed answer")
	}
	if got := rc.count("watch_child", room.CandidatePath("4821")); got != 1 {
		t.Fatalf("candidate watches = %d, want 1", got)
	}
	if n.state != IceExchange {
		t.Fatalf("state = %v, want %v", n.state, IceExchange)
	}
}

func TestRelayWatchEndingStopsRun(t *testing.T) {
	m := relay.NewMemory()
	n := newNegotiator(t, "4821", room.Responder, m)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	if ev := <-n.Events(); ev.State != AwaitingOffer {
		t.Fatalf("first state = %v, want %v", ev.State, AwaitingOffer)
	}
	m.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrSignalLost) {
			t.Fatalf("Run = %v, want ErrSignalLost", err)
		}
	case <-ctx.Done():
		t.Fatal("Run kept waiting on a closed relay watch")
	}
	var last State
	for ev := range n.Events() {
		last = ev.State
	}
	if last != Failed {
		t.Fatalf("last state = %v, want %v", last, Failed)
	}
}

func TestLostConnectivityAbortsChannel(t *testing.T) {
	if testing.Short() {
		t.Skip("opens real peer connections")
	}

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(500*time.Millisecond, time.Second, 100*time.Millisecond)
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))

	rc := newCountingRelay()
	initiator := setupNegotiator(t, Options{Code: "4821", Role: room.Initiator, Relay: rc, API: api})
	responder := setupNegotiator(t, Options{Code: "4821", Role: room.Responder, Relay: rc, API: api})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	go initiator.Run(ctx)
	go responder.Run(ctx)

	a, b := channelOf(initiator), channelOf(responder)
	var received *transfer.DataChannel
	for name, ch := range map[string]<-chan *transfer.DataChannel{"initiator": a, "responder": b} {
		select {
		case dc, ok := <-ch:
			if !ok || dc == nil {
				t.Fatalf("%s: channel never opened", name)
			}
			if name == "responder" {
				received = dc
			}
		case <-ctx.Done():
			t.Fatalf("%s: timed out waiting for channel", name)
		}
	}

	if err := initiator.pc.SCTP().Transport().ICETransport().Stop(); err != nil {
		t.Fatalf("stop ICE transport: %v", err)
	}

	select {
	case <-received.Closed():
	case <-ctx.Done():
		t.Fatal("responder channel still open after the connection was lost")
	}
	if received.IsOpen() {
		t.Fatal("responder channel reports open after the connection was lost")
	}
}
