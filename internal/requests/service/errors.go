package service

import (
	"context"
	"errors"
	"time"

	"civreg/internal/requests/state"
	dErrors "civreg/pkg/domain-errors"
	"civreg/pkg/platform/sentinel"
	"civreg/pkg/requestcontext"
)

// backendError translates a repository failure for callers and mirrors it
// into the store's error state.
func (s *Service) backendError(ctx context.Context, err error, notFoundMsg string) error {
	if errors.Is(err, sentinel.ErrNotFound) && notFoundMsg != "" {
		return dErrors.New(dErrors.CodeNotFound, notFoundMsg)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	s.reportError(ctx, err)
	return dErrors.Backend(err)
}

// reportError publishes err to observers once no newer error arrived within
// the debounce window.
func (s *Service) reportError(ctx context.Context, err error) {
	code, ok := dErrors.CodeOf(err)
	if !ok {
		code = dErrors.CodeBackend
	}
	failure := state.Failure{Code: code, Message: err.Error(), At: requestcontext.Now(ctx)}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errTimer != nil {
		s.errTimer.Stop()
	}
	s.errTimer = time.AfterFunc(s.cfg.ErrorDebounce, func() {
		_ = s.store.Dispatch(context.Background(), state.OperationFailed{Failure: failure})
	})
}

// clearError drops a pending error report and any visible one.
func (s *Service) clearError(ctx context.Context) {
	s.errMu.Lock()
	if s.errTimer != nil {
		s.errTimer.Stop()
		s.errTimer = nil
	}
	s.errMu.Unlock()
	if s.store.Snapshot().Error != nil {
		s.dispatch(ctx, state.ErrorCleared{})
	}
}
