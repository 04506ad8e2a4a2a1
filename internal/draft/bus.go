package draft

import "sync"

// Bus broadcasts draft id changes to consumers in the same process context.
// Publish calls every handler synchronously, in subscription order.
type Bus struct {
	mu       sync.RWMutex
	handlers []busHandler
	nextID   int
}

type busHandler struct {
	id int
	fn func(Change)
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn and returns its unsubscribe func.
func (b *Bus) Subscribe(fn func(Change)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	hid := b.nextID
	b.nextID++
	b.handlers = append(b.handlers, busHandler{id: hid, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, h := range b.handlers {
			if h.id == hid {
				b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
				return
			}
		}
	}
}

func (b *Bus) Publish(c Change) {
	b.mu.RLock()
	handlers := append([]busHandler(nil), b.handlers...)
	b.mu.RUnlock()
	for _, h := range handlers {
		h.fn(c)
	}
}
