package relay

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Peer is one websocket connection served by the hub.
type Peer struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	out    chan *Frame
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger

	mu   sync.Mutex
	subs map[uint64]*Subscription
}

// ServeWs upgrades the request and attaches the connection to the hub.
func ServeWs(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.logger.Warn("failed to upgrade connection", "err", err)
			return
		}

		p := &Peer{
			id:     uuid.NewString(),
			hub:    hub,
			conn:   conn,
			out:    make(chan *Frame, 256),
			done:   make(chan struct{}),
			logger: hub.logger,
			subs:   make(map[uint64]*Subscription),
		}

		select {
		case hub.register <- p:
		case <-hub.quit:
			conn.Close()
			return
		}

		go p.writePump()
		go p.readPump()
	}
}

// HealthHandler reports liveness of the relay server.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Relay server is healthy."))
}

// send queues f without blocking. A peer whose queue is full is not reading
// and gets disconnected.
func (p *Peer) send(f *Frame) {
	select {
	case <-p.done:
		return
	default:
	}

	select {
	case p.out <- f:
	default:
		p.logger.Warn("peer too slow, disconnecting", "peer", p.id, "queued", len(p.out))
		p.stop()
	}
}

func (p *Peer) forward(id uint64, sub *Subscription) {
	p.mu.Lock()
	if old := p.subs[id]; old != nil {
		old.Close()
	}
	p.subs[id] = sub
	p.mu.Unlock()

	go func() {
		for ev := range sub.C {
			p.send(eventFrame(id, ev))
		}
	}()
}

func (p *Peer) unforward(id uint64) {
	p.mu.Lock()
	sub := p.subs[id]
	delete(p.subs, id)
	p.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
}

func (p *Peer) stop() {
	p.once.Do(func() {
		close(p.done)

		p.mu.Lock()
		subs := p.subs
		p.subs = make(map[uint64]*Subscription)
		p.mu.Unlock()

		for _, sub := range subs {
			sub.Close()
		}
	})
}

func (p *Peer) readPump() {
	defer func() {
		select {
		case p.hub.unregister <- p:
		case <-p.hub.quit:
			p.stop()
		}
		p.conn.Close()
	}()

	p.conn.SetReadLimit(maxMessageSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				p.logger.Warn("peer read failed", "peer", p.id, "err", err)
			}
			return
		}

		f, err := decodeFrame(data)
		if err != nil {
			p.logger.Warn("dropping malformed frame", "peer", p.id, "err", err)
			continue
		}

		select {
		case p.hub.requests <- request{peer: p, frame: f}:
		case <-p.done:
			return
		}
	}
}

func (p *Peer) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		p.stop()
		p.conn.Close()
	}()

	for {
		select {
		case f := <-p.out:
			data, err := encodeFrame(f)
			if err != nil {
				p.logger.Error("failed to encode frame", "peer", p.id, "err", err)
				continue
			}
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				p.logger.Debug("peer write failed", "peer", p.id, "err", err)
				return
			}

		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-p.done:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			p.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
