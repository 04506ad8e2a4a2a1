package service

import (
	"context"
	"time"

	"civreg/internal/requests/models"
	"civreg/internal/requests/state"
	"civreg/internal/requests/store"
	id "civreg/pkg/domain"
	dErrors "civreg/pkg/domain-errors"
	"civreg/pkg/platform/audit"
	"civreg/pkg/requestcontext"
)

// CreateInitialRequest stores the requester step. A submission (IsDraft false)
// is refused with CodeConflict while an identical earlier submission is still
// in flight. The row is inserted as a draft and submitted by an explicit
// update; the companion Status and Certificate inserts are best effort.
func (s *Service) CreateInitialRequest(ctx context.Context, in models.CreateRequestInput) (*models.Request, error) {
	start := time.Now()
	in.Normalize()
	if in.UserID.IsNil() {
		in.UserID = requestcontext.UserID(ctx)
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	if !in.IsDraft {
		if err := s.checkDuplicate(ctx, in.DuplicateKey()); err != nil {
			return nil, err
		}
	}

	now := requestcontext.Now(ctx)
	r, err := s.repo.InsertRequest(ctx, in, now)
	if err != nil {
		return nil, s.backendError(ctx, err, "")
	}

	event := audit.EventRequestCreated
	if !in.IsDraft {
		certNumber := store.CertificateNumber(r.ID, now)
		submitted, err := s.repo.UpdateRequest(ctx, r.ID, models.RequestPatch{
			IsDraft:    models.Bool(false),
			CertNumber: &certNumber,
		})
		if err != nil {
			s.dispatch(ctx, state.CacheInvalidate{Listings: true}, state.RequestCreated{Request: r})
			return nil, s.backendError(ctx, err, "")
		}
		r = submitted
		r.Statuses = s.insertCompanions(ctx, r.ID, certNumber, now)
		s.metrics.ObserveSubmission(start)
		event = audit.EventRequestSubmitted
	}

	s.dispatch(ctx,
		state.CacheInvalidate{Listings: true},
		state.RequestCreated{Request: r},
	)
	s.clearError(ctx)
	if in.IsDraft && s.drafts != nil {
		if err := s.drafts.Set(ctx, r.ID); err != nil {
			s.logger.WarnContext(ctx, "failed to publish draft id", "req_id", r.ID.String(), "error", err)
		}
	}
	s.logAudit(ctx, event, "user_id", r.UserID, "req_id", r.ID)
	return r.Clone(), nil
}

// checkDuplicate fails when an identical submission is not yet in a terminal state.
func (s *Service) checkDuplicate(ctx context.Context, key models.DuplicateKey) error {
	dups, err := s.repo.FindDuplicates(ctx, key)
	if err != nil {
		return s.backendError(ctx, err, "")
	}
	for _, d := range dups {
		latest, ok := d.LatestStatus()
		if !ok || !latest.Value.IsTerminal() {
			return dErrors.New(dErrors.CodeConflict, "an identical request is already being processed")
		}
	}
	return nil
}

// insertCompanions creates the pending Status and the Certificate of a newly
// submitted request. Failures are logged; the request stays submitted.
func (s *Service) insertCompanions(ctx context.Context, rid id.RequestID, certNumber string, now time.Time) []models.Status {
	statuses := []models.Status{}
	failures := 0
	st, err := s.repo.InsertStatus(ctx, rid, id.StatusPending, now)
	if err != nil {
		failures++
		s.logger.WarnContext(ctx, "status insert failed", "req_id", rid.String(), "error", err)
	} else {
		statuses = append(statuses, st)
	}
	if _, err := s.repo.InsertCertificate(ctx, rid, certNumber); err != nil {
		failures++
		s.logger.WarnContext(ctx, "certificate insert failed", "req_id", rid.String(), "error", err)
	}
	if failures > 0 {
		partial := dErrors.New(dErrors.CodePartialFailure, "submission companions incomplete")
		s.logger.WarnContext(ctx, "request submitted with partial failures",
			"req_id", rid.String(), "partial_failures", failures, "error", partial)
	}
	return statuses
}

// UpdateRequest overwrites the patched fields. A submitted request cannot be
// moved back to draft.
func (s *Service) UpdateRequest(ctx context.Context, rid id.RequestID, patch models.RequestPatch) (*models.Request, error) {
	if patch.IsEmpty() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "empty patch")
	}
	if patch.IsDraft != nil && *patch.IsDraft {
		existing, err := s.repo.FindRequest(ctx, rid)
		if err != nil {
			return nil, s.backendError(ctx, err, "request not found")
		}
		if !existing.IsDraft {
			return nil, dErrors.New(dErrors.CodeInvalidState, "submitted requests cannot return to draft")
		}
	}
	r, err := s.repo.UpdateRequest(ctx, rid, patch)
	if err != nil {
		return nil, s.backendError(ctx, err, "request not found")
	}
	s.dispatch(ctx,
		state.CacheInvalidate{Request: &rid},
		state.RequestUpdated{Request: r},
	)
	s.clearError(ctx)
	s.logAudit(ctx, audit.EventRequestUpdated, "user_id", r.UserID, "req_id", rid)
	return r.Clone(), nil
}

// UpdateRequestStatus records an administrator's review decision and then
// reloads the request as the current one. Completing a request stamps its
// certificate's issue date.
func (s *Service) UpdateRequestStatus(ctx context.Context, rid id.RequestID, status id.StatusValue) (*models.Request, error) {
	if _, err := id.ParseStatus(string(status)); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid status")
	}
	existing, err := s.repo.FindRequest(ctx, rid)
	if err != nil {
		return nil, s.backendError(ctx, err, "request not found")
	}
	if existing.IsDraft {
		return nil, dErrors.New(dErrors.CodeInvalidState, "draft requests have no status")
	}

	now := requestcontext.Now(ctx)
	st, err := s.repo.SetStatus(ctx, rid, status, now)
	if err != nil {
		return nil, s.backendError(ctx, err, "")
	}
	if status == id.StatusCompleted {
		if _, err := s.repo.IssueCertificate(ctx, rid, now); err != nil {
			s.logger.WarnContext(ctx, "certificate issue date not recorded", "req_id", rid.String(), "error", err)
		}
	}
	s.dispatch(ctx,
		state.CacheInvalidate{Request: &rid},
		state.StatusChanged{Status: st},
	)

	previous := ""
	if latest, ok := existing.LatestStatus(); ok {
		previous = string(latest.Value)
	}
	s.logAudit(ctx, audit.EventRequestStatusChanged,
		"user_id", existing.UserID, "req_id", rid,
		"actor_id", requestcontext.UserID(ctx).String(),
		"reason", previous+"->"+string(status))

	return s.Get(ctx, rid)
}

// DeleteRequest removes a request. Its Status and Certificate rows are
// removed first on a best-effort basis; failing to delete the request row
// itself is returned.
func (s *Service) DeleteRequest(ctx context.Context, rid id.RequestID) error {
	failures := 0
	if err := s.repo.DeleteStatuses(ctx, rid); err != nil {
		failures++
		s.logger.WarnContext(ctx, "status delete failed", "req_id", rid.String(), "error", err)
	}
	if err := s.repo.DeleteCertificates(ctx, rid); err != nil {
		failures++
		s.logger.WarnContext(ctx, "certificate delete failed", "req_id", rid.String(), "error", err)
	}
	if err := s.repo.DeleteRequest(ctx, rid); err != nil {
		return s.backendError(ctx, err, "")
	}
	s.metrics.AddCascadePartialFailures(failures)
	s.afterDelete(ctx, rid)
	s.logAudit(ctx, audit.EventRequestDeleted,
		"user_id", requestcontext.UserID(ctx), "req_id", rid, "partial_failures", failures)
	return nil
}

func (s *Service) afterDelete(ctx context.Context, rid id.RequestID) {
	s.dispatch(ctx,
		state.CacheInvalidate{Request: &rid},
		state.RequestDeleted{ID: rid},
	)
	s.clearError(ctx)
	if s.drafts == nil {
		return
	}
	if _, err := s.drafts.ClearIf(ctx, rid); err != nil {
		s.logger.WarnContext(ctx, "failed to clear draft id", "req_id", rid.String(), "error", err)
	}
}
