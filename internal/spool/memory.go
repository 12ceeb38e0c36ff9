package spool

import (
	"fmt"
	"sync"

	"fmeta-go/internal/meta"
)

// MemorySpool is an in-memory event queue. Safe for concurrent use.
type MemorySpool struct {
	mu        sync.Mutex
	maxEvents int
	queue     []*meta.Event
}

// NewMemorySpool creates an empty spool holding at most maxEvents events.
func NewMemorySpool(maxEvents int) *MemorySpool {
	return &MemorySpool{maxEvents: maxEvents}
}

// Stage appends ev to the queue.
func (m *MemorySpool) Stage(ev *meta.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) >= m.maxEvents {
		return fmt.Errorf("%w: %d events queued", ErrSpoolFull, len(m.queue))
	}
	m.queue = append(m.queue, ev)
	return nil
}

// ProcessNext hands the oldest event to fn and dequeues it when fn succeeds.
// The lock is not held while fn runs.
func (m *MemorySpool) ProcessNext(fn func(*meta.Event) error) error {
	m.mu.Lock()
	if len(m.queue) == 0 {
		m.mu.Unlock()
		return nil
	}
	ev := m.queue[0]
	m.mu.Unlock()

	if err := fn(ev); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) > 0 && m.queue[0] == ev {
		m.queue[0] = nil
		m.queue = m.queue[1:]
	}
	return nil
}

// Count returns the number of queued events.
func (m *MemorySpool) Count() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue), nil
}

var _ meta.EventSpool = (*MemorySpool)(nil)
