package relay

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type node struct {
	value    []byte
	children map[string]*node
	order    []string
	updated  time.Time
}

func (n *node) child(key string) *node {
	if n.children == nil {
		return nil
	}
	return n.children[key]
}

func (n *node) addChild(key string, c *node) {
	if n.children == nil {
		n.children = make(map[string]*node)
	}
	n.children[key] = c
	n.order = append(n.order, key)
}

func (n *node) removeChild(key string) {
	delete(n.children, key)
	for i, k := range n.order {
		if k == key {
			n.order = append(n.order[:i], n.order[i+1:]...)
			break
		}
	}
}

// Memory is an in-process relay. It backs the relay server and serves as
// the relay in tests.
type Memory struct {
	mu         sync.Mutex
	root       *node
	now        func() time.Time
	nextID     uint64
	valueWatch map[string]map[uint64]*queue
	childWatch map[string]map[uint64]*queue
	closed     bool
}

var _ Client = (*Memory)(nil)

// NewMemory creates an empty in-process relay.
func NewMemory() *Memory {
	return &Memory{
		root:       &node{},
		now:        time.Now,
		valueWatch: make(map[string]map[uint64]*queue),
		childWatch: make(map[string]map[uint64]*queue),
	}
}

func (m *Memory) Set(_ context.Context, path string, value any) error {
	raw, err := Encode(value)
	if err != nil {
		return err
	}
	return m.setRaw(path, raw)
}

func (m *Memory) Push(_ context.Context, path string, value any) (string, error) {
	raw, err := Encode(value)
	if err != nil {
		return "", err
	}
	return m.pushRaw(path, raw)
}

func (m *Memory) Remove(_ context.Context, path string) error {
	return m.remove(path)
}

func (m *Memory) WatchValue(ctx context.Context, path string) (*Subscription, error) {
	return m.watch(ctx, path, false)
}

func (m *Memory) WatchChildAdded(ctx context.Context, path string) (*Subscription, error) {
	return m.watch(ctx, path, true)
}

// Close ends every open subscription. Further calls fail with ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var queues []*queue
	for _, set := range m.valueWatch {
		for _, q := range set {
			queues = append(queues, q)
		}
	}
	for _, set := range m.childWatch {
		for _, q := range set {
			queues = append(queues, q)
		}
	}
	m.mu.Unlock()

	for _, q := range queues {
		q.close()
	}
	return nil
}

// Sweep removes every child of root whose newest write is older than
// horizon and reports how many subtrees were dropped.
func (m *Memory) Sweep(root string, horizon time.Duration) int {
	parts, err := splitPath(root)
	if err != nil {
		return 0
	}

	m.mu.Lock()
	n := m.lookup(parts)
	if n == nil {
		m.mu.Unlock()
		return 0
	}
	cutoff := m.now().Add(-horizon)
	var stale []string
	for _, key := range n.order {
		if n.children[key].updated.Before(cutoff) {
			stale = append(stale, key)
		}
	}
	m.mu.Unlock()

	for _, key := range stale {
		m.remove(Join(root, key))
	}
	return len(stale)
}

func (m *Memory) setRaw(path string, raw []byte) error {
	parts, err := splitPath(path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	now := m.now()
	n := m.root
	n.updated = now
	created := false
	for _, key := range parts {
		c := n.child(key)
		if c == nil {
			c = &node{}
			n.addChild(key, c)
			created = true
		} else {
			created = false
		}
		c.updated = now
		n = c
	}
	n.value = raw
	n.children = nil
	n.order = nil

	path = strings.Join(parts, "/")
	key := parts[len(parts)-1]
	m.notify(m.valueWatch[path], Event{Path: path, Key: key, Value: raw})
	if created {
		parent := strings.Join(parts[:len(parts)-1], "/")
		m.notify(m.childWatch[parent], Event{Path: path, Key: key, Value: raw})
	}
	return nil
}

func (m *Memory) pushRaw(path string, raw []byte) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	key := id.String()
	if err := m.setRaw(Join(path, key), raw); err != nil {
		return "", err
	}
	return key, nil
}

func (m *Memory) remove(path string) error {
	parts, err := splitPath(path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	parent := m.lookup(parts[:len(parts)-1])
	key := parts[len(parts)-1]
	if parent == nil || parent.child(key) == nil {
		return nil
	}
	parent.removeChild(key)

	now := m.now()
	n := m.root
	n.updated = now
	for _, p := range parts[:len(parts)-1] {
		n = n.child(p)
		n.updated = now
	}

	path = strings.Join(parts, "/")
	for watched, set := range m.valueWatch {
		if watched == path || strings.HasPrefix(watched, path+"/") {
			m.notify(set, Event{Path: watched, Key: watched[strings.LastIndex(watched, "/")+1:], Removed: true})
		}
	}
	return nil
}

func (m *Memory) watch(ctx context.Context, path string, children bool) (*Subscription, error) {
	parts, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	path = strings.Join(parts, "/")

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	registry := m.valueWatch
	if children {
		registry = m.childWatch
	}

	m.nextID++
	id := m.nextID
	q := newQueue(func() { m.unwatch(registry, path, id) })
	if registry[path] == nil {
		registry[path] = make(map[uint64]*queue)
	}
	registry[path][id] = q

	if n := m.lookup(parts); n != nil {
		if children {
			for _, key := range n.order {
				q.push(Event{Path: Join(path, key), Key: key, Value: n.children[key].value})
			}
		} else if n.value != nil {
			q.push(Event{Path: path, Key: parts[len(parts)-1], Value: n.value})
		}
	}

	context.AfterFunc(ctx, q.close)
	return q.subscription(), nil
}

func (m *Memory) unwatch(registry map[string]map[uint64]*queue, path string, id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(registry[path], id)
	if len(registry[path]) == 0 {
		delete(registry, path)
	}
}

func (m *Memory) lookup(parts []string) *node {
	n := m.root
	for _, key := range parts {
		n = n.child(key)
		if n == nil {
			return nil
		}
	}
	return n
}

func (m *Memory) notify(set map[uint64]*queue, ev Event) {
	for _, q := range set {
		q.push(ev)
	}
}
