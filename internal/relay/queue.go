package relay

import "sync"

// queue is an unbounded FIFO feeding a subscription channel so publishers
// never block on slow consumers.
type queue struct {
	mu     sync.Mutex
	items  []Event
	signal chan struct{}
	out    chan Event
	done   chan struct{}
	once   sync.Once
	onStop func()
}

func newQueue(onStop func()) *queue {
	q := &queue{
		signal: make(chan struct{}, 1),
		out:    make(chan Event),
		done:   make(chan struct{}),
		onStop: onStop,
	}
	go q.run()
	return q
}

func (q *queue) push(ev Event) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *queue) close() {
	q.once.Do(func() {
		close(q.done)
		if q.onStop != nil {
			q.onStop()
		}
	})
}

func (q *queue) closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

func (q *queue) run() {
	defer close(q.out)

	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			select {
			case <-q.signal:
				continue
			case <-q.done:
				return
			}
		}
		ev := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		select {
		case q.out <- ev:
		case <-q.done:
			return
		}
	}
}

func (q *queue) subscription() *Subscription {
	return &Subscription{C: q.out, q: q}
}
