// Package realtime buffers backend change notifications between the gateway
// subscription and the Request Store, so bursts are applied in small batches.
package realtime

import (
	"context"
	"sync"

	"civreg/internal/gateway"
)

// Mailbox is a bounded FIFO of changes. When full, new changes are dropped and
// the overflow flag is raised; the consumer is expected to refetch instead.
type Mailbox struct {
	mu         sync.Mutex
	items      []gateway.Change
	capacity   int
	overflowed bool
	ready      chan struct{}
}

// NewMailbox creates a mailbox holding at most capacity changes.
func NewMailbox(capacity int) *Mailbox {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Mailbox{capacity: capacity, ready: make(chan struct{}, 1)}
}

// Push queues c. It reports false when the mailbox was full and c was dropped.
func (m *Mailbox) Push(c gateway.Change) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.items) >= m.capacity {
		m.overflowed = true
		m.signal()
		return false
	}
	m.items = append(m.items, c)
	m.signal()
	return true
}

func (m *Mailbox) signal() {
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// Ready fires after a Push since the last receive. Drainers may also poll on a tick.
func (m *Mailbox) Ready() <-chan struct{} {
	return m.ready
}

// DrainBatch removes up to n changes in arrival order. overflowed reports
// whether changes were dropped since the previous drain; the flag is reset.
func (m *Mailbox) DrainBatch(n int) (batch []gateway.Change, overflowed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 || n > len(m.items) {
		n = len(m.items)
	}
	batch = append([]gateway.Change(nil), m.items[:n]...)
	m.items = append(m.items[:0], m.items[n:]...)
	overflowed, m.overflowed = m.overflowed, false
	return batch, overflowed
}

func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Forward pushes every change of sub into m until the subscription ends or ctx
// is done. onOverflow runs for each dropped change.
func Forward(ctx context.Context, sub gateway.Subscription, m *Mailbox, onOverflow func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-sub.Changes():
			if !ok {
				return
			}
			if !m.Push(c) && onOverflow != nil {
				onOverflow()
			}
		}
	}
}
