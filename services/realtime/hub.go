package realtime

import (
	"context"
	"sync"
)

// Filter narrows a subscription. Zero values match everything.
type Filter struct {
	OwnerID string
	Ops     []Op
}

func (f Filter) Match(ch Change) bool {
	if f.OwnerID != "" && f.OwnerID != ch.OwnerID {
		return false
	}
	if len(f.Ops) == 0 {
		return true
	}
	for _, op := range f.Ops {
		if op == ch.Op {
			return true
		}
	}
	return false
}

type subscription struct {
	table  string
	filter Filter
	cb     func(Change)
}

// Hub fans changes out to in-process subscribers.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]subscription
}

var _ Notifier = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]subscription)}
}

// Subscribe registers cb for the changes of table matching filter. An empty table matches every table.
// Callbacks run synchronously on the publishing goroutine and must not block.
// The returned func cancels the subscription and is safe to call more than once.
func (h *Hub) Subscribe(table string, filter Filter, cb func(Change)) (cancel func()) {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = subscription{table: table, filter: filter, cb: cb}
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// Publish delivers ch to the matching subscribers.
func (h *Hub) Publish(ch Change) {
	h.mu.RLock()
	matched := make([]func(Change), 0, len(h.subs))
	for _, sub := range h.subs {
		if (sub.table == "" || sub.table == ch.Table) && sub.filter.Match(ch) {
			matched = append(matched, sub.cb)
		}
	}
	h.mu.RUnlock()

	for _, cb := range matched {
		cb(ch)
	}
}

// Notify publishes ch. It never fails.
func (h *Hub) Notify(_ context.Context, ch Change) error {
	h.Publish(ch)
	return nil
}

// Len returns the number of active subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
