package service

import (
	"context"
	"errors"
	"time"

	"civreg/internal/gateway"
	"civreg/internal/requests/realtime"
	"civreg/internal/requests/state"
	"civreg/internal/requests/store"
	"civreg/pkg/requestcontext"
)

// Start subscribes to requester and status changes and runs the realtime
// drain and background refresh loops until Close. Requester changes are
// limited to the signed-in user's rows when ctx carries one.
func (s *Service) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return nil
	}
	runCtx, stop := context.WithCancel(context.WithoutCancel(ctx))

	var requesterFilter []gateway.Filter
	if uid := requestcontext.UserID(ctx); !uid.IsNil() {
		requesterFilter = []gateway.Filter{gateway.Eq("user_id", uid.String())}
	}
	gw := s.repo.Gateway()
	requesters, err := gw.Subscribe(runCtx, gateway.TableRequester, requesterFilter)
	if err != nil {
		stop()
		return s.backendError(ctx, err, "")
	}
	statuses, err := gw.Subscribe(runCtx, gateway.TableStatus, nil)
	if err != nil {
		_ = requesters.Close()
		stop()
		return s.backendError(ctx, err, "")
	}
	s.subs = []gateway.Subscription{requesters, statuses}
	s.stop = stop
	s.running = true

	for _, sub := range s.subs {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			realtime.Forward(runCtx, sub, s.mailbox, s.metrics.IncRealtimeOverflow)
		}()
	}
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.drainLoop(runCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.refreshLoop(runCtx)
	}()
	return nil
}

func (s *Service) stopRealtime() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if !s.running {
		return
	}
	s.stop()
	for _, sub := range s.subs {
		_ = sub.Close()
	}
	s.wg.Wait()
	s.subs = nil
	s.running = false
}

// drainLoop applies at most DrainBatch queued changes per tick, in arrival
// order. Dropped changes trigger a refetch of the active listing instead.
// The loop idles on the mailbox's Ready signal while the queue is empty.
func (s *Service) drainLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.DrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.mailbox.Ready():
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			s.DrainRealtime(ctx)
			if s.mailbox.Len() == 0 {
				break
			}
		}
	}
}

// DrainRealtime applies one batch of queued changes and reports how many were applied.
func (s *Service) DrainRealtime(ctx context.Context) int {
	batch, overflowed := s.mailbox.DrainBatch(s.cfg.DrainBatch)
	s.metrics.SetRealtimeQueued(s.mailbox.Len())
	actions := make([]state.Action, 0, 2*len(batch))
	for _, c := range batch {
		actions = append(actions, changeActions(c)...)
	}
	s.dispatch(ctx, actions...)
	if overflowed {
		s.logger.WarnContext(ctx, "realtime mailbox overflowed, refetching listing")
		s.refetch(ctx)
	}
	return len(batch)
}

// changeActions maps one backend change to store actions. Each mapping is
// idempotent so an echo of a local write is harmless.
func changeActions(c gateway.Change) []state.Action {
	row := c.Row
	if c.Type == gateway.EventDelete && len(row) == 0 {
		row = c.Old
	}
	switch c.Table {
	case gateway.TableRequester:
		r := store.RequestFromRow(row)
		rid := r.ID
		switch c.Type {
		case gateway.EventInsert:
			return []state.Action{state.CacheInvalidate{Listings: true}, state.RemoteInserted{Request: r}}
		case gateway.EventUpdate:
			return []state.Action{state.CacheInvalidate{Request: &rid}, state.RequestUpdated{Request: r}}
		case gateway.EventDelete:
			return []state.Action{state.CacheInvalidate{Request: &rid}, state.RequestDeleted{ID: rid}}
		}
	case gateway.TableStatus:
		st := store.StatusFromRow(row)
		rid := st.RequestID
		if c.Type == gateway.EventDelete {
			return []state.Action{state.CacheInvalidate{Request: &rid}, state.StatusRemoved{RequestID: rid, StatusID: st.ID}}
		}
		return []state.Action{state.CacheInvalidate{Request: &rid}, state.StatusChanged{Status: st}}
	}
	return nil
}

// refreshLoop refetches the active listing every RefreshInterval while the
// portal is visible.
func (s *Service) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.visible() {
				s.logger.DebugContext(ctx, "background refresh skipped, not visible")
				continue
			}
			s.refetch(ctx)
		}
	}
}

// refetch reruns the last listing, bypassing its cached result.
func (s *Service) refetch(ctx context.Context) {
	snap := s.store.Snapshot()
	if snap.LastFetchTime.IsZero() && !snap.Loading {
		return
	}
	s.dispatch(ctx, state.CacheInvalidate{Listings: true})
	if _, err := s.FetchFiltered(ctx, snap.Filters); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, "background refresh failed", "error", err)
	}
}
