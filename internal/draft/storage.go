package draft

import (
	"context"
	"sync"

	id "civreg/pkg/domain"
)

// StorageKey is the session storage key holding the current draft id.
const StorageKey = "currentRequestId"

// Change is the broadcast payload. NewValue is nil when the value was removed.
type Change struct {
	Key      string  `json:"key"`
	NewValue *string `json:"newValue"`
}

// Storage is session-scoped key/value persistence for the current draft id.
// Writes are announced to every other watcher of the session, the way a
// browser announces storage changes to other tabs.
type Storage interface {
	Get(ctx context.Context, sid id.SessionID) (string, bool, error)
	Set(ctx context.Context, sid id.SessionID, value string) error
	Delete(ctx context.Context, sid id.SessionID) error
	// Watch streams changes made to sid's value until stop is called or ctx is done.
	Watch(ctx context.Context, sid id.SessionID) (changes <-chan Change, stop func(), err error)
}

// MemoryStorage keeps values in process, for tests and single-process use.
type MemoryStorage struct {
	mu       sync.Mutex
	values   map[id.SessionID]string
	watchers map[id.SessionID]map[chan Change]struct{}
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		values:   make(map[id.SessionID]string),
		watchers: make(map[id.SessionID]map[chan Change]struct{}),
	}
}

func (m *MemoryStorage) Get(_ context.Context, sid id.SessionID) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[sid]
	return v, ok, nil
}

func (m *MemoryStorage) Set(ctx context.Context, sid id.SessionID, value string) error {
	m.SetWithoutNotify(ctx, sid, value)
	m.notify(sid, Change{Key: StorageKey, NewValue: &value})
	return nil
}

// SetWithoutNotify writes value without telling watchers, like a code path
// that forgot to broadcast. Drift detection is expected to catch it.
func (m *MemoryStorage) SetWithoutNotify(_ context.Context, sid id.SessionID, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[sid] = value
}

func (m *MemoryStorage) Delete(_ context.Context, sid id.SessionID) error {
	m.mu.Lock()
	delete(m.values, sid)
	m.mu.Unlock()
	m.notify(sid, Change{Key: StorageKey})
	return nil
}

func (m *MemoryStorage) Watch(ctx context.Context, sid id.SessionID) (<-chan Change, func(), error) {
	ch := make(chan Change, 16)
	m.mu.Lock()
	if m.watchers[sid] == nil {
		m.watchers[sid] = make(map[chan Change]struct{})
	}
	m.watchers[sid][ch] = struct{}{}
	m.mu.Unlock()

	stopped := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.watchers[sid], ch)
			m.mu.Unlock()
			close(stopped)
			close(ch)
		})
	}
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				stop()
			case <-stopped:
			}
		}()
	}
	return ch, stop, nil
}

// notify delivers c to every watcher of sid. A watcher whose buffer is full
// misses the change; the drift poll reconciles it.
func (m *MemoryStorage) notify(sid id.SessionID, c Change) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.watchers[sid] {
		select {
		case ch <- c:
		default:
		}
	}
}
