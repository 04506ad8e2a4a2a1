package gateway

import (
	"context"
	"sync"
)

const subscriptionBuffer = 256

// Feed fans changes out to table subscriptions. Implementations publish every
// committed change; each subscription receives the changes matching its filters
// in publish order.
type Feed struct {
	mu     sync.RWMutex
	subs   map[*feedSub]struct{}
	closed bool
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[*feedSub]struct{})}
}

type feedSub struct {
	feed    *Feed
	table   Table
	filters []Filter
	ch      chan Change
	done    chan struct{}
	once    sync.Once
}

func (s *feedSub) Changes() <-chan Change { return s.ch }

func (s *feedSub) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.feed.mu.Lock()
		delete(s.feed.subs, s)
		s.feed.mu.Unlock()
		close(s.ch)
	})
	return nil
}

// Subscribe registers a subscription that lives until Close or until ctx is done.
func (f *Feed) Subscribe(ctx context.Context, table Table, match []Filter) (Subscription, error) {
	s := &feedSub{
		feed:    f,
		table:   table,
		filters: append([]Filter(nil), match...),
		ch:      make(chan Change, subscriptionBuffer),
		done:    make(chan struct{}),
	}
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(s.ch)
		return s, nil
	}
	f.subs[s] = struct{}{}
	f.mu.Unlock()

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				_ = s.Close()
			case <-s.done:
			}
		}()
	}
	return s, nil
}

// Publish delivers changes to matching subscriptions. It blocks while a
// subscriber's buffer is full, unless that subscription is closed meanwhile.
func (f *Feed) Publish(changes ...Change) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, c := range changes {
		for s := range f.subs {
			if s.table != c.Table || !s.matches(c) {
				continue
			}
			select {
			case s.ch <- cloneChange(c):
			case <-s.done:
			}
		}
	}
}

// Close closes every subscription and rejects new ones.
func (f *Feed) Close() {
	f.mu.Lock()
	f.closed = true
	subs := make([]*feedSub, 0, len(f.subs))
	for s := range f.subs {
		subs = append(subs, s)
	}
	f.mu.Unlock()
	for _, s := range subs {
		_ = s.Close()
	}
}

func (s *feedSub) matches(c Change) bool {
	if len(s.filters) == 0 {
		return true
	}
	if MatchAll(s.filters, c.Row) {
		return true
	}
	return c.Old != nil && MatchAll(s.filters, c.Old)
}

func cloneChange(c Change) Change {
	c.Row = c.Row.Clone()
	c.Old = c.Old.Clone()
	return c
}
