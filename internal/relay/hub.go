package relay

import (
	"context"
	"log/slog"
	"time"
)

// SweepRoot is the subtree the hub keeps clean of abandoned rooms.
const SweepRoot = "connections"

// request is a frame read from a peer, queued for the hub loop.
type request struct {
	peer  *Peer
	frame *Frame
}

// Hub serves the relay protocol to websocket peers on top of a Memory
// store. Peer bookkeeping and request dispatch happen on the single Run
// goroutine.
type Hub struct {
	store  *Memory
	logger *slog.Logger

	peers map[*Peer]struct{}

	register   chan *Peer
	unregister chan *Peer
	requests   chan request
	quit       chan struct{}

	sweepInterval time.Duration
	sweepHorizon  time.Duration
}

// NewHub creates a hub that sweeps stale rooms every interval, dropping
// those untouched for longer than horizon.
func NewHub(store *Memory, interval, horizon time.Duration, logger *slog.Logger) *Hub {
	return &Hub{
		store:         store,
		logger:        logger.With("component", "hub"),
		peers:         make(map[*Peer]struct{}),
		register:      make(chan *Peer),
		unregister:    make(chan *Peer),
		requests:      make(chan request, 64),
		quit:          make(chan struct{}),
		sweepInterval: interval,
		sweepHorizon:  horizon,
	}
}

// Run processes peer lifecycle and requests until ctx is done. It never
// blocks on a peer; one that cannot keep up is disconnected.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.sweepInterval)
	defer ticker.Stop()
	defer close(h.quit)

	for {
		select {
		case p := <-h.register:
			h.peers[p] = struct{}{}
			h.logger.Info("peer connected", "peer", p.id, "addr", p.conn.RemoteAddr())

		case p := <-h.unregister:
			if _, ok := h.peers[p]; ok {
				delete(h.peers, p)
				p.stop()
				h.logger.Info("peer disconnected", "peer", p.id)
			}

		case req := <-h.requests:
			h.handle(ctx, req.peer, req.frame)

		case <-ticker.C:
			if n := h.store.Sweep(SweepRoot, h.sweepHorizon); n > 0 {
				h.logger.Info("swept stale rooms", "count", n)
			}

		case <-ctx.Done():
			for p := range h.peers {
				p.stop()
			}
			return
		}
	}
}

func (h *Hub) handle(ctx context.Context, p *Peer, f *Frame) {
	ack := &Frame{ID: f.ID, Op: OpAck, Sub: f.Sub}

	var err error
	switch f.Op {
	case OpSet:
		err = h.store.setRaw(f.Path, f.Value)
	case OpPush:
		ack.Key, err = h.store.pushRaw(f.Path, f.Value)
	case OpRemove:
		err = h.store.remove(f.Path)
	case OpWatchValue, OpWatchChild:
		var sub *Subscription
		sub, err = h.store.watch(ctx, f.Path, f.Op == OpWatchChild)
		if err == nil {
			p.forward(f.Sub, sub)
		}
	case OpUnwatch:
		p.unforward(f.Sub)
		return
	default:
		h.logger.Warn("unknown relay op", "peer", p.id, "op", f.Op)
		ack.Error = "unknown op"
	}

	if err != nil {
		h.logger.Debug("relay request failed", "peer", p.id, "op", f.Op, "path", f.Path, "err", err)
		ack.Error = err.Error()
	}
	p.send(ack)
}
