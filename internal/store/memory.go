package store

import (
	"sync"
	"time"
)

const subscriberBuffer = 16

// MemoryStore is an in-memory implementation of [Store].
type MemoryStore struct {
	mu      sync.RWMutex
	current Snapshot
	now     func() time.Time

	subMu       sync.RWMutex
	subscribers map[chan Snapshot]struct{}
}

// NewMemoryStore returns a store whose snapshot starts in the given state.
// now stamps UpdatedAt; nil means time.Now.
func NewMemoryStore(state string, now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		current:     Snapshot{State: state, UpdatedAt: now()},
		now:         now,
		subscribers: make(map[chan Snapshot]struct{}),
	}
}

// Update mutates the snapshot and publishes the result.
func (m *MemoryStore) Update(fn func(*Snapshot)) {
	m.mu.Lock()
	fn(&m.current)
	m.current.UpdatedAt = m.now()
	snap := m.current.clone()
	m.mu.Unlock()

	m.notifySubscribers(snap)
}

// Snapshot returns a copy; modifications do not affect the store.
func (m *MemoryStore) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.clone()
}

// Subscribe creates a subscription. If the buffer fills, new snapshots are
// dropped for this subscriber.
func (m *MemoryStore) Subscribe() <-chan Snapshot {
	ch := make(chan Snapshot, subscriberBuffer)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (m *MemoryStore) Unsubscribe(ch <-chan Snapshot) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for subCh := range m.subscribers {
		if subCh == ch {
			delete(m.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

func (m *MemoryStore) notifySubscribers(snap Snapshot) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- snap:
		default:
			// subscriber is slow, drop the snapshot
		}
	}
}

func (s Snapshot) clone() Snapshot {
	if s.LastSample != nil {
		r := *s.LastSample
		s.LastSample = &r
	}
	return s
}
