// Package negotiator drives the offer/answer/candidate exchange through the
// relay until a direct data channel between the two peers is open.
package negotiator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BioHazard786/codedrop/internal/relay"
	"github.com/BioHazard786/codedrop/internal/room"
	"github.com/BioHazard786/codedrop/internal/transfer"
	"github.com/pion/webrtc/v4"
)

var (
	// ErrStaleNegotiationMessage marks duplicate or late relay notifications.
	// They are dropped and never surfaced.
	ErrStaleNegotiationMessage = errors.New("stale negotiation message")
	// ErrMalformedSignal marks an offer or answer that does not decode to a
	// description of the expected type.
	ErrMalformedSignal = errors.New("malformed signal")
	// ErrSignalLost is returned by Run when a relay watch ends before the
	// data channel opens.
	ErrSignalLost = errors.New("relay watch ended during negotiation")
)

// Options configure a Negotiator.
type Options struct {
	Code   string
	Role   room.Role
	Relay  relay.Client
	WebRTC webrtc.Configuration
	Logger *slog.Logger

	// API builds the peer connection when set, e.g. to carry a
	// SettingEngine. Defaults to the package level constructor.
	API *webrtc.API
}

// Negotiator owns one peer connection. All negotiation state is touched
// only from the Run goroutine; pion callbacks and relay watches feed it
// through channels.
type Negotiator struct {
	code   string
	role   room.Role
	relay  relay.Client
	logger *slog.Logger
	now    func() time.Time

	pc      *webrtc.PeerConnection
	state   State
	channel *transfer.DataChannel
	pending []webrtc.ICECandidateInit

	// delivered is the channel handed out in an Event; it is aborted when
	// connectivity is lost.
	delivered *transfer.DataChannel

	offerSub     *relay.Subscription
	answerSub    *relay.Subscription
	candidateSub *relay.Subscription

	events     chan Event
	candidates chan webrtc.ICECandidateInit
	peerStates chan webrtc.PeerConnectionState
	incoming   chan *transfer.DataChannel

	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
}

// New creates the peer connection. A responder's room code is validated
// before anything else happens.
func New(opts Options) (*Negotiator, error) {
	if err := room.ValidateCode(opts.Code); err != nil {
		return nil, err
	}
	if opts.Relay == nil {
		return nil, errors.New("negotiator requires a relay client")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	newPeerConnection := webrtc.NewPeerConnection
	if opts.API != nil {
		newPeerConnection = opts.API.NewPeerConnection
	}
	pc, err := newPeerConnection(opts.WebRTC)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	n := &Negotiator{
		code:       opts.Code,
		role:       opts.Role,
		relay:      opts.Relay,
		logger:     logger.With("component", "negotiator", "room", opts.Code, "role", opts.Role),
		now:        time.Now,
		pc:         pc,
		state:      Idle,
		events:     make(chan Event, 16),
		candidates: make(chan webrtc.ICECandidateInit, 64),
		peerStates: make(chan webrtc.PeerConnectionState, 16),
		incoming:   make(chan *transfer.DataChannel, 1),
		done:       make(chan struct{}),
		exited:     make(chan struct{}),
	}
	n.registerCallbacks()
	return n, nil
}

// Events delivers state transitions. It is closed when Run returns.
func (n *Negotiator) Events() <-chan Event {
	return n.events
}

// Run negotiates and then keeps tracking connectivity until the connection
// fails or closes, ctx is done, or Close is called.
func (n *Negotiator) Run(ctx context.Context) error {
	defer func() {
		n.stopWatches()
		close(n.exited)
		close(n.events)
	}()

	var err error
	if n.role == room.Initiator {
		err = n.startAsInitiator(ctx)
	} else {
		err = n.startAsResponder(ctx)
	}
	if err != nil {
		n.setState(ctx, Failed)
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-n.done:
			n.setState(ctx, Closed)
			return nil

		case ev, ok := <-subscription(n.offerSub):
			if !ok {
				n.offerSub = nil
				if err := n.watchEnded(ctx, "offer"); err != nil {
					return err
				}
				continue
			}
			n.onOfferEvent(ctx, ev)

		case ev, ok := <-subscription(n.answerSub):
			if !ok {
				n.answerSub = nil
				if err := n.watchEnded(ctx, "answer"); err != nil {
					return err
				}
				continue
			}
			n.onAnswerEvent(ctx, ev)

		case ev, ok := <-subscription(n.candidateSub):
			if !ok {
				n.candidateSub = nil
				if err := n.watchEnded(ctx, "candidate"); err != nil {
					return err
				}
				continue
			}
			n.onCandidateEvent(ev)

		case c := <-n.candidates:
			n.onLocalCandidateDiscovered(ctx, c)

		case ch := <-n.incoming:
			n.channel = ch

		case <-ready(n.channel):
			ch := n.channel
			n.channel = nil
			n.delivered = ch
			n.emit(ctx, Event{State: n.state, Channel: ch})

		case s := <-n.peerStates:
			n.onChannelStateChanged(ctx, s)
			if n.state.Terminal() {
				return nil
			}
		}
	}
}

// Close tears the peer connection down. Run observes it and returns.
func (n *Negotiator) Close() error {
	var err error
	n.closeOnce.Do(func() {
		close(n.done)
		err = n.pc.Close()
	})
	return err
}

func (n *Negotiator) registerCallbacks() {
	n.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		select {
		case n.candidates <- c.ToJSON():
		case <-n.done:
		case <-n.exited:
		}
	})

	n.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		n.logger.Debug("peer connection state", "state", s)
		select {
		case n.peerStates <- s:
		case <-n.done:
		case <-n.exited:
		}
	})

	n.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != transfer.ChannelLabel {
			n.logger.Warn("ignoring unexpected data channel", "label", dc.Label())
			return
		}
		ch := transfer.NewDataChannel(dc, n.logger)
		select {
		case n.incoming <- ch:
		case <-n.done:
		case <-n.exited:
		}
	})
}

func (n *Negotiator) startAsInitiator(ctx context.Context) error {
	ordered := true
	dc, err := n.pc.CreateDataChannel(transfer.ChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return fmt.Errorf("create data channel: %w", err)
	}
	n.channel = transfer.NewDataChannel(dc, n.logger)

	offer, err := n.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := n.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	n.setState(ctx, OfferCreated)

	desc := Description{SDP: offer.SDP, Type: offer.Type.String(), Timestamp: millis(n.now())}
	if err := n.relay.Set(ctx, room.OfferPath(n.code), desc); err != nil {
		return fmt.Errorf("publish offer: %w", err)
	}
	n.setState(ctx, AwaitingAnswer)

	n.answerSub, err = n.relay.WatchValue(ctx, room.AnswerPath(n.code))
	if err != nil {
		return fmt.Errorf("watch answer: %w", err)
	}
	return nil
}

func (n *Negotiator) startAsResponder(ctx context.Context) error {
	if err := room.ValidateCode(n.code); err != nil {
		return err
	}
	var err error
	n.offerSub, err = n.relay.WatchValue(ctx, room.OfferPath(n.code))
	if err != nil {
		return fmt.Errorf("watch offer: %w", err)
	}
	n.setState(ctx, AwaitingOffer)
	return nil
}

func (n *Negotiator) onOfferEvent(ctx context.Context, ev relay.Event) {
	if ev.Removed {
		return
	}
	var desc Description
	if err := ev.Decode(&desc); err != nil {
		n.logger.Warn("dropping malformed offer", "err", err)
		return
	}
	if err := n.onRemoteOfferObserved(ctx, desc); err != nil {
		n.drop("offer", err)
	}
}

func (n *Negotiator) onAnswerEvent(ctx context.Context, ev relay.Event) {
	if ev.Removed {
		return
	}
	var desc Description
	if err := ev.Decode(&desc); err != nil {
		n.logger.Warn("dropping malformed answer", "err", err)
		return
	}
	if err := n.onRemoteAnswerObserved(ctx, desc); err != nil {
		n.drop("answer", err)
	}
}

func (n *Negotiator) onCandidateEvent(ev relay.Event) {
	var c Candidate
	if err := ev.Decode(&c); err != nil {
		n.logger.Warn("dropping malformed candidate", "err", err)
		return
	}
	if err := n.onRemoteCandidateObserved(c); err != nil {
		n.drop("candidate", err)
	}
}

// onRemoteOfferObserved answers the first offer; repeats are stale.
func (n *Negotiator) onRemoteOfferObserved(ctx context.Context, desc Description) error {
	if n.pc.RemoteDescription() != nil {
		return ErrStaleNegotiationMessage
	}

	offer, err := desc.session()
	if err != nil || offer.Type != webrtc.SDPTypeOffer {
		return ErrMalformedSignal
	}
	if err := n.pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	answer, err := n.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := n.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	n.setState(ctx, AnswerCreated)

	reply := Description{SDP: answer.SDP, Type: answer.Type.String(), Timestamp: millis(n.now())}
	if err := n.relay.Set(ctx, room.AnswerPath(n.code), reply); err != nil {
		return fmt.Errorf("publish answer: %w", err)
	}
	n.setState(ctx, IceExchange)

	return n.watchCandidates(ctx)
}

// onRemoteAnswerObserved applies an answer only while our offer is
// outstanding.
func (n *Negotiator) onRemoteAnswerObserved(ctx context.Context, desc Description) error {
	if n.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer || n.pc.RemoteDescription() != nil {
		return ErrStaleNegotiationMessage
	}

	answer, err := desc.session()
	if err != nil || answer.Type != webrtc.SDPTypeAnswer {
		return ErrMalformedSignal
	}
	if err := n.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	n.setState(ctx, IceExchange)

	return n.watchCandidates(ctx)
}

func (n *Negotiator) onLocalCandidateDiscovered(ctx context.Context, c webrtc.ICECandidateInit) {
	rec := Candidate{Candidate: c, Sender: senderFor(n.role), Timestamp: millis(n.now())}
	if _, err := n.relay.Push(ctx, room.CandidatePath(n.code), rec); err != nil {
		n.logger.Warn("failed to publish candidate", "err", err)
	}
}

// onRemoteCandidateObserved applies the peer's candidates. Candidates that
// arrive before the remote description are held until it is set.
func (n *Negotiator) onRemoteCandidateObserved(c Candidate) error {
	if c.Sender == senderFor(n.role) {
		return ErrStaleNegotiationMessage
	}
	if n.pc.RemoteDescription() == nil {
		n.pending = append(n.pending, c.Candidate)
		return nil
	}
	n.addCandidate(c.Candidate)
	return nil
}

// onChannelStateChanged follows the peer connection. Once the channel has
// been handed out, Disconnected, Failed and Closed abort it so senders and
// receivers stop instead of waiting on a dead transport.
func (n *Negotiator) onChannelStateChanged(ctx context.Context, s webrtc.PeerConnectionState) {
	next, ok := fromPeerState(s)
	if !ok || next == n.state {
		return
	}
	if n.delivered != nil && next.Lost() {
		n.logger.Warn("connection lost", "state", next)
		n.delivered.Abort()
	}
	n.setState(ctx, next)
}

// watchEnded handles a relay watch closing underneath us. Before the channel
// is handed out that is fatal; afterwards the relay is no longer needed.
func (n *Negotiator) watchEnded(ctx context.Context, what string) error {
	if ctx.Err() != nil || n.delivered != nil {
		return nil
	}
	select {
	case <-n.done:
		return nil
	default:
	}
	n.logger.Warn("relay watch ended", "watch", what, "state", n.state)
	n.setState(ctx, Failed)
	return fmt.Errorf("%s: %w", what, ErrSignalLost)
}

func (n *Negotiator) watchCandidates(ctx context.Context) error {
	if n.candidateSub == nil {
		sub, err := n.relay.WatchChildAdded(ctx, room.CandidatePath(n.code))
		if err != nil {
			return fmt.Errorf("watch candidates: %w", err)
		}
		n.candidateSub = sub
	}

	pending := n.pending
	n.pending = nil
	for _, c := range pending {
		n.addCandidate(c)
	}
	return nil
}

func (n *Negotiator) addCandidate(c webrtc.ICECandidateInit) {
	if err := n.pc.AddICECandidate(c); err != nil {
		n.logger.Debug("candidate rejected", "err", err)
	}
}

func (n *Negotiator) setState(ctx context.Context, s State) {
	if n.state == s || n.state.Terminal() {
		return
	}
	n.logger.Debug("state change", "from", n.state, "to", s)
	n.state = s
	n.emit(ctx, Event{State: s})
}

func (n *Negotiator) emit(ctx context.Context, ev Event) {
	select {
	case n.events <- ev:
	case <-ctx.Done():
	}
}

func (n *Negotiator) drop(what string, err error) {
	if errors.Is(err, ErrStaleNegotiationMessage) {
		n.logger.Debug("dropping stale "+what, "state", n.state)
		return
	}
	n.logger.Warn("failed to apply "+what, "err", err)
}

func (n *Negotiator) stopWatches() {
	for _, sub := range []*relay.Subscription{n.offerSub, n.answerSub, n.candidateSub} {
		if sub != nil {
			sub.Close()
		}
	}
	n.offerSub, n.answerSub, n.candidateSub = nil, nil, nil
}

func subscription(s *relay.Subscription) <-chan relay.Event {
	if s == nil {
		return nil
	}
	return s.C
}

func ready(ch *transfer.DataChannel) <-chan struct{} {
	if ch == nil {
		return nil
	}
	return ch.Ready()
}
