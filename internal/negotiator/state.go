package negotiator

import (
	"fmt"

	"github.com/BioHazard786/codedrop/internal/transfer"
	"github.com/pion/webrtc/v4"
)

// State is a step of the offer/answer exchange.
type State int

const (
	Idle State = iota
	OfferCreated
	AwaitingAnswer
	AwaitingOffer
	AnswerCreated
	IceExchange
	Connected
	Disconnected
	Failed
	Closed
)

var stateNames = map[State]string{
	Idle:           "idle",
	OfferCreated:   "offer-created",
	AwaitingAnswer: "awaiting-answer",
	AwaitingOffer:  "awaiting-offer",
	AnswerCreated:  "answer-created",
	IceExchange:    "ice-exchange",
	Connected:      "connected",
	Disconnected:   "disconnected",
	Failed:         "failed",
	Closed:         "closed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == Failed || s == Closed
}

// Lost reports whether an open channel can no longer be trusted.
func (s State) Lost() bool {
	return s == Disconnected || s.Terminal()
}

// Event is raised on every state transition. Channel is set, once, when the
// data channel opens.
type Event struct {
	State   State
	Channel *transfer.DataChannel
}

// fromPeerState maps pion connection states to negotiator states.
func fromPeerState(s webrtc.PeerConnectionState) (State, bool) {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		return Connected, true
	case webrtc.PeerConnectionStateDisconnected:
		return Disconnected, true
	case webrtc.PeerConnectionStateFailed:
		return Failed, true
	case webrtc.PeerConnectionStateClosed:
		return Closed, true
	default:
		return 0, false
	}
}
