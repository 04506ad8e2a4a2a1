package service

import (
	"context"
	"time"

	"civreg/internal/requests/cache"
	"civreg/internal/requests/models"
	"civreg/internal/requests/state"
	id "civreg/pkg/domain"
	dErrors "civreg/pkg/domain-errors"
	"civreg/pkg/requestcontext"
)

// listingParams is the cache key encoding of a FilterSpec.
type listingParams struct {
	UserID      string     `json:"user_id,omitempty"`
	Status      string     `json:"status,omitempty"`
	Purpose     string     `json:"purpose,omitempty"`
	IsDraft     *bool      `json:"is_draft,omitempty"`
	CreatedFrom *time.Time `json:"created_from,omitempty"`
	CreatedTo   *time.Time `json:"created_to,omitempty"`
	Limit       int        `json:"limit"`
}

func listingKey(f models.FilterSpec) string {
	p := listingParams{Status: string(f.Status), Purpose: f.Purpose, IsDraft: f.IsDraft, CreatedFrom: f.CreatedFrom, CreatedTo: f.CreatedTo, Limit: f.Limit}
	if !f.UserID.IsNil() {
		p.UserID = f.UserID.String()
	}
	return cache.Key(cache.OpFetchFiltered, p)
}

// beginFetch cancels the previous listing fetch and starts a new generation.
func (s *Service) beginFetch(ctx context.Context) (context.Context, uint64, context.CancelFunc) {
	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()
	if s.cancelFetch != nil {
		s.cancelFetch()
	}
	fetchCtx, cancel := context.WithCancel(ctx)
	s.cancelFetch = cancel
	return fetchCtx, s.fetchGen.Add(1), cancel
}

func (s *Service) superseded(gen uint64) bool {
	return s.fetchGen.Load() != gen
}

// FetchFiltered replaces the request list with the listing for f, newest
// first. Starting a fetch cancels the one in flight; a superseded fetch
// returns context.Canceled and leaves state untouched.
func (s *Service) FetchFiltered(ctx context.Context, f models.FilterSpec) ([]*models.Request, error) {
	f = f.Normalize(s.cfg.FetchLimit)
	fetchCtx, gen, cancel := s.beginFetch(ctx)
	defer cancel()

	s.dispatch(ctx, state.FetchStarted{Gen: gen, Filters: f})
	key := listingKey(f)
	if v, ok := s.cache.Get(key); ok {
		list := v.([]*models.Request)
		s.dispatch(ctx, state.FetchSucceeded{Gen: gen, Requests: list, At: requestcontext.Now(ctx)})
		return cloneAll(list), nil
	}

	list, err := s.repo.ListRequests(fetchCtx, f)
	if s.superseded(gen) {
		s.metrics.IncFetchCancelled()
		return nil, context.Canceled
	}
	if err != nil {
		s.dispatch(ctx, state.FetchFailed{Gen: gen})
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, s.backendError(ctx, err, "")
	}

	s.dispatch(ctx,
		state.CachePut{Key: key, Value: list},
		state.FetchSucceeded{Gen: gen, Requests: list, At: requestcontext.Now(ctx)},
	)
	s.clearError(ctx)
	return cloneAll(list), nil
}

// GetByID parses raw and loads that request with its owner aggregate and
// status history, focusing it as the current request.
func (s *Service) GetByID(ctx context.Context, raw string) (*models.Request, error) {
	rid, err := id.ParseRequestID(raw)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid request id")
	}
	return s.Get(ctx, rid)
}

// Get is GetByID for an already parsed id.
func (s *Service) Get(ctx context.Context, rid id.RequestID) (*models.Request, error) {
	key := cache.RequestKey(rid)
	if v, ok := s.cache.Get(key); ok {
		r := v.(*models.Request)
		s.dispatch(ctx, state.RequestLoaded{Request: r})
		return r.Clone(), nil
	}
	r, err := s.repo.FindRequest(ctx, rid)
	if err != nil {
		return nil, s.backendError(ctx, err, "request not found")
	}
	s.dispatch(ctx,
		state.CachePut{Key: key, Value: r},
		state.RequestLoaded{Request: r},
	)
	return r.Clone(), nil
}

// GetRequestsByStatus lists the user's submitted requests whose latest status
// is equivalent to status: approved and completed match each other, as do
// rejected and cancelled.
func (s *Service) GetRequestsByStatus(ctx context.Context, userID id.UserID, status id.StatusValue) ([]*models.Request, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "user id required")
	}
	if _, err := id.ParseStatus(string(status)); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid status")
	}
	key := cache.Key(cache.OpByStatus, map[string]any{"user_id": userID.String(), "class": status.Class()})
	if v, ok := s.cache.Get(key); ok {
		return cloneAll(v.([]*models.Request)), nil
	}
	all, err := s.repo.ListRequests(ctx, models.FilterSpec{UserID: userID, IsDraft: models.Bool(false)})
	if err != nil {
		return nil, s.backendError(ctx, err, "")
	}
	out := make([]*models.Request, 0, len(all))
	for _, r := range all {
		if latest, ok := r.LatestStatus(); ok && latest.Value.Equivalent(status) {
			out = append(out, r)
		}
	}
	s.dispatch(ctx, state.CachePut{Key: key, Value: out})
	return cloneAll(out), nil
}

// LatestDraft returns the user's most recently created draft.
func (s *Service) LatestDraft(ctx context.Context, userID id.UserID) (*models.Request, error) {
	key := cache.Key(cache.OpLatestDraft, map[string]string{"user_id": userID.String()})
	if v, ok := s.cache.Get(key); ok {
		return v.(*models.Request).Clone(), nil
	}
	r, err := s.repo.LatestDraft(ctx, userID)
	if err != nil {
		return nil, s.backendError(ctx, err, "no draft request")
	}
	s.dispatch(ctx, state.CachePut{Key: key, Value: r})
	return r.Clone(), nil
}

// ClearCurrent drops the focused request.
func (s *Service) ClearCurrent(ctx context.Context) error {
	return s.store.Dispatch(ctx, state.CurrentCleared{})
}

// InvalidateRequest purges cached reads of rid after a write made elsewhere,
// such as the owner builder.
func (s *Service) InvalidateRequest(ctx context.Context, rid id.RequestID) {
	s.dispatch(ctx, state.CacheInvalidate{Request: &rid})
}

// Refresh reloads rid from the backend into the list and the current request.
func (s *Service) Refresh(ctx context.Context, rid id.RequestID) (*models.Request, error) {
	r, err := s.repo.FindRequest(ctx, rid)
	if err != nil {
		return nil, s.backendError(ctx, err, "request not found")
	}
	actions := []state.Action{
		state.CacheInvalidate{Request: &rid},
		state.CachePut{Key: cache.RequestKey(rid), Value: r},
		state.RequestUpdated{Request: r},
	}
	if cur := s.store.Snapshot().Current; cur != nil && cur.ID == rid {
		actions = append(actions, state.RequestLoaded{Request: r})
	}
	s.dispatch(ctx, actions...)
	return r.Clone(), nil
}

func cloneAll(list []*models.Request) []*models.Request {
	out := make([]*models.Request, len(list))
	for i, r := range list {
		out[i] = r.Clone()
	}
	return out
}
