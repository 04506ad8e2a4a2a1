package state

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"civreg/internal/platform/metrics"
	"civreg/internal/requests/cache"
	"civreg/pkg/platform/sentinel"
)

// ErrClosed is returned by Dispatch after Close.
var ErrClosed = sentinel.ErrClosed

type envelope struct {
	actions []Action
	applied chan struct{}
}

// Store serializes every transition on one goroutine. Readers take lock-free
// snapshots; the cache is read directly but only written here.
type Store struct {
	inbox   chan envelope
	current atomic.Pointer[State]
	cache   *cache.Cache

	subsMu sync.Mutex
	subs   map[int]chan State
	nextID int

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// New starts the store loop. Callers must Close it.
func New(c *cache.Cache, opts ...Option) *Store {
	s := &Store{
		inbox: make(chan envelope),
		cache: c,
		subs:  make(map[int]chan State),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.current.Store(&State{})
	s.wg.Add(1)
	go s.loop()
	return s
}

// Cache exposes the cache for reads.
func (s *Store) Cache() *cache.Cache {
	return s.cache
}

// Snapshot returns the latest state.
func (s *Store) Snapshot() State {
	return *s.current.Load()
}

// Dispatch applies actions in order, as one step, and returns once observers
// can see the result. A cancelled ctx aborts only while still waiting to enqueue.
func (s *Store) Dispatch(ctx context.Context, actions ...Action) error {
	if len(actions) == 0 {
		return nil
	}
	env := envelope{actions: actions, applied: make(chan struct{})}
	select {
	case s.inbox <- env:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
	select {
	case <-env.applied:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// Subscribe returns a channel that receives the state after each dispatch.
// Slow subscribers only see the latest state. Call the returned func to stop.
func (s *Store) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	s.subsMu.Lock()
	subID := s.nextID
	s.nextID++
	s.subs[subID] = ch
	s.subsMu.Unlock()
	return ch, func() {
		s.subsMu.Lock()
		delete(s.subs, subID)
		s.subsMu.Unlock()
	}
}

// Close stops the loop. Pending and later dispatches fail with ErrClosed.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}

func (s *Store) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case env := <-s.inbox:
			s.apply(env.actions)
			close(env.applied)
		}
	}
}

func (s *Store) apply(actions []Action) {
	next := *s.current.Load()
	for _, a := range actions {
		s.applyCache(a)
		next = Reduce(next, a)
		s.metrics.ActionApplied(a.Name())
	}
	s.current.Store(&next)
	s.publish(next)
}

func (s *Store) applyCache(a Action) {
	if s.cache == nil {
		return
	}
	switch a := a.(type) {
	case CachePut:
		s.cache.Set(a.Key, a.Value, a.TTL)
	case CacheInvalidate:
		n := 0
		if a.Request != nil {
			n += s.cache.InvalidateRequest(*a.Request)
		} else if a.Listings {
			n += s.cache.InvalidateListings()
		}
		if len(a.Ops) > 0 {
			n += s.cache.InvalidateOps(a.Ops...)
		}
		for _, key := range a.Keys {
			s.cache.Delete(key)
			n++
		}
		s.logger.Debug("cache invalidated", "entries", n)
	}
}

func (s *Store) publish(st State) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- st:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- st:
			default:
			}
		}
	}
}
