// Package realtime is the change feed of the backing store: writers publish
// row-level changes, readers subscribe by table and an optional column filter.
// Delivery is best-effort; every consumer pairs a subscription with a poll.
package realtime

import (
	"sync"
	"sync/atomic"
)

type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Change is one row-level change. Keys holds the filterable column values of
// the row (the old row for deletes).
type Change struct {
	Table  string            `json:"table"`
	Op     Op                `json:"op"`
	Keys   map[string]string `json:"-"`
	Record any               `json:"record"`
}

// Filter selects changes of one table, optionally restricted to one op and
// to rows whose Column equals Value.
type Filter struct {
	Table  string
	Op     Op
	Column string
	Value  string
}

func (f Filter) matches(c Change) bool {
	if f.Table != c.Table {
		return false
	}
	if f.Op != "" && f.Op != c.Op {
		return false
	}
	if f.Column != "" && c.Keys[f.Column] != f.Value {
		return false
	}
	return true
}

// Publisher is implemented by Hub. Stores accept it so that a nil publisher
// can be used where nobody listens.
type Publisher interface {
	Publish(c Change)
}

// Hub is an in-process pub/sub for store changes, keyed by table.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[*Subscription]struct{}
	buffer  int
	dropped atomic.Int64
}

func NewHub() *Hub {
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: 32,
	}
}

// Subscription delivers matching changes on C until Close is called.
type Subscription struct {
	C      <-chan Change
	ch     chan Change
	filter Filter
	hub    *Hub
	once   sync.Once
}

// Subscribe registers a new subscription for f.
func (h *Hub) Subscribe(f Filter) *Subscription {
	ch := make(chan Change, h.buffer)
	s := &Subscription{C: ch, ch: ch, filter: f, hub: h}
	h.mu.Lock()
	if h.subs[f.Table] == nil {
		h.subs[f.Table] = make(map[*Subscription]struct{})
	}
	h.subs[f.Table][s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Close unsubscribes and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		delete(h.subs[s.filter.Table], s)
		if len(h.subs[s.filter.Table]) == 0 {
			delete(h.subs, s.filter.Table)
		}
		close(s.ch)
		h.mu.Unlock()
	})
}

// Publish fans c out to every matching subscriber without blocking.
func (h *Hub) Publish(c Change) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[c.Table] {
		if !s.filter.matches(c) {
			continue
		}
		select {
		case s.ch <- c:
		default:
			// Slow subscriber; its poller will catch up.
			h.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, m := range h.subs {
		n += len(m)
	}
	return n
}

// Dropped returns how many deliveries were skipped because a buffer was full.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }
