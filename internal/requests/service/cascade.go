package service

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"civreg/internal/requests/models"
	id "civreg/pkg/domain"
	dErrors "civreg/pkg/domain-errors"
	"civreg/pkg/platform/audit"
	"civreg/pkg/requestcontext"
)

// DeleteDraftWithCascade deletes a draft and everything reachable from it:
// Status, Certificate, Owner and the Owner's Parent and Address. Sub-deletes
// run concurrently and their failures are tolerated; the request row is
// deleted last and its failure is returned.
func (s *Service) DeleteDraftWithCascade(ctx context.Context, rid id.RequestID) error {
	r, err := s.repo.FindRequest(ctx, rid)
	if err != nil {
		return s.backendError(ctx, err, "request not found")
	}
	if uid := requestcontext.UserID(ctx); !uid.IsNil() && r.UserID != uid {
		return dErrors.New(dErrors.CodeNotFound, "request not found")
	}
	if !r.IsDraft {
		return dErrors.New(dErrors.CodeInvalidState, "only drafts can be deleted")
	}

	subErrs := s.deleteDependents(ctx, r)
	if err := s.repo.DeleteRequest(ctx, rid); err != nil {
		return s.backendError(ctx, err, "")
	}

	if len(subErrs) > 0 {
		s.metrics.AddCascadePartialFailures(len(subErrs))
		s.logger.WarnContext(ctx, "draft deleted with partial failures",
			"req_id", rid.String(), "partial_failures", len(subErrs), "error", errors.Join(subErrs...))
	}
	s.afterDelete(ctx, rid)
	s.logAudit(ctx, audit.EventDraftDeleted,
		"user_id", r.UserID, "req_id", rid, "partial_failures", len(subErrs))
	return nil
}

// deleteDependents issues every sub-delete independently and returns the
// failures. A missing row is not a failure.
func (s *Service) deleteDependents(ctx context.Context, r *models.Request) []error {
	steps := []func(context.Context) error{
		func(ctx context.Context) error { return s.repo.DeleteStatuses(ctx, r.ID) },
		func(ctx context.Context) error { return s.repo.DeleteCertificates(ctx, r.ID) },
	}
	if r.OwnerID != nil {
		oid := *r.OwnerID
		steps = append(steps, func(ctx context.Context) error { return s.repo.DeleteOwner(ctx, oid) })
	}
	if o := r.Owner; o != nil {
		if o.ParentID != nil {
			pid := *o.ParentID
			steps = append(steps, func(ctx context.Context) error { return s.repo.DeleteParent(ctx, pid) })
		}
		if o.AddressID != nil {
			aid := *o.AddressID
			steps = append(steps, func(ctx context.Context) error { return s.repo.DeleteAddress(ctx, aid) })
		}
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	for _, step := range steps {
		g.Go(func() error {
			if err := step(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}
