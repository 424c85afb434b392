package notify

import (
	"context"
	"sync"
)

// InMemoryNotifier keeps the most recent notifications for a UI to show.
// It is thread-safe.
type InMemoryNotifier struct {
	mu       sync.RWMutex
	capacity int
	items    []Notification
}

// NewInMemoryNotifier keeps at most capacity notifications; values below one
// are treated as one.
func NewInMemoryNotifier(capacity int) *InMemoryNotifier {
	if capacity < 1 {
		capacity = 1
	}
	return &InMemoryNotifier{capacity: capacity}
}

// Notify implements Notifier. The oldest notification is dropped when full.
func (m *InMemoryNotifier) Notify(_ context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.items) == m.capacity {
		copy(m.items, m.items[1:])
		m.items = m.items[:len(m.items)-1]
	}
	m.items = append(m.items, n)
	return nil
}

// Recent returns up to limit notifications, newest first. A limit of zero or
// less returns everything held.
func (m *InMemoryNotifier) Recent(limit int) []Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.items) {
		limit = len(m.items)
	}
	out := make([]Notification, 0, limit)
	for i := len(m.items) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.items[i])
	}
	return out
}
