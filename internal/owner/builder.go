package owner

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"civreg/internal/platform/metrics"
	"civreg/internal/requests/models"
	"civreg/internal/requests/store"
	id "civreg/pkg/domain"
	dErrors "civreg/pkg/domain-errors"
	"civreg/pkg/platform/audit"
	"civreg/pkg/platform/sentinel"
	"civreg/pkg/requestcontext"
)

// Requests is the Request Store surface the builder writes through, so the
// store's list and cache see every change.
type Requests interface {
	Get(ctx context.Context, rid id.RequestID) (*models.Request, error)
	LatestDraft(ctx context.Context, userID id.UserID) (*models.Request, error)
	UpdateRequest(ctx context.Context, rid id.RequestID, patch models.RequestPatch) (*models.Request, error)
	Refresh(ctx context.Context, rid id.RequestID) (*models.Request, error)
	InvalidateRequest(ctx context.Context, rid id.RequestID)
}

// Repository is the table access for the owner aggregate and the submission
// companions.
type Repository interface {
	FindOrCreateParent(ctx context.Context, p models.Parent) (models.Parent, error)
	FindOrCreateAddress(ctx context.Context, a models.Address) (models.Address, error)
	InsertOwner(ctx context.Context, o models.Owner) (*models.Owner, error)
	UpdateOwner(ctx context.Context, oid id.OwnerID, o models.Owner) (*models.Owner, error)
	ListStatuses(ctx context.Context, rid id.RequestID) ([]models.Status, error)
	InsertStatus(ctx context.Context, rid id.RequestID, value id.StatusValue, now time.Time) (models.Status, error)
	SetStatus(ctx context.Context, rid id.RequestID, value id.StatusValue, now time.Time) (models.Status, error)
	FindCertificate(ctx context.Context, rid id.RequestID) (models.Certificate, error)
	InsertCertificate(ctx context.Context, rid id.RequestID, certNumber string) (models.Certificate, error)
}

// DraftIdentity is the session's current draft id.
type DraftIdentity interface {
	Current() (id.RequestID, bool)
	Stored(ctx context.Context) (id.RequestID, bool, error)
	Clear(ctx context.Context) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, base audit.Event) error
}

type Builder struct {
	forms    *FormStore
	requests Requests
	repo     Repository
	drafts   DraftIdentity

	inFlight atomic.Bool

	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher AuditPublisher
}

type Option func(*Builder)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		b.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Builder) {
		b.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(b *Builder) {
		b.auditPublisher = publisher
	}
}

func NewBuilder(forms *FormStore, requests Requests, repo Repository, drafts DraftIdentity, opts ...Option) *Builder {
	b := &Builder{forms: forms, requests: requests, repo: repo, drafts: drafts}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// HandleOwnerSubmission persists the form's owner aggregate on the active
// draft and sets the request's draft flag to isDraft. Submitting
// (isDraft false) also makes sure the request has a pending Status and a
// Certificate. Steps run in order and the first failure is returned; steps
// already applied are not undone, and calling again resumes safely.
func (b *Builder) HandleOwnerSubmission(ctx context.Context, isDraft bool) (*models.Owner, error) {
	if !b.inFlight.CompareAndSwap(false, true) {
		return nil, dErrors.New(dErrors.CodeConflict, "owner submission already in progress")
	}
	defer b.inFlight.Store(false)
	start := time.Now()

	form, phase := b.forms.Snapshot()
	if phase == PhaseSubmitted {
		return nil, dErrors.New(dErrors.CodeInvalidState, "request already submitted")
	}
	if !isDraft {
		if err := form.Validate(); err != nil {
			return nil, err
		}
	}

	rid, err := b.resolveRequestID(ctx)
	if err != nil {
		return nil, err
	}
	r, err := b.requests.Get(ctx, rid)
	if err != nil {
		return nil, err
	}
	if r.UserID != requestcontext.UserID(ctx) {
		return nil, dErrors.New(dErrors.CodeNotFound, "request not found")
	}
	if !r.IsDraft && isDraft {
		return nil, dErrors.New(dErrors.CodeInvalidState, "submitted requests cannot return to draft")
	}

	owner, err := b.saveOwner(ctx, r, form)
	// The owner row may have changed even if a later step fails.
	b.requests.InvalidateRequest(ctx, rid)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	patch := models.RequestPatch{IsDraft: models.Bool(isDraft)}
	if !isDraft && r.CertNumber == nil {
		certNumber := store.CertificateNumber(rid, now)
		patch.CertNumber = &certNumber
	}
	if _, err := b.requests.UpdateRequest(ctx, rid, patch); err != nil {
		return nil, err
	}
	if !isDraft {
		if err := b.ensureCompanions(ctx, r, now); err != nil {
			return nil, err
		}
	}
	if _, err := b.requests.Refresh(ctx, rid); err != nil {
		b.logger.WarnContext(ctx, "request refresh after owner save failed", "req_id", rid.String(), "error", err)
	}

	b.forms.markSaved(rid, isDraft)
	if !isDraft {
		if err := b.drafts.Clear(ctx); err != nil {
			b.logger.WarnContext(ctx, "failed to clear draft id after submission", "req_id", rid.String(), "error", err)
		}
		b.metrics.ObserveSubmission(start)
	}
	b.logAudit(ctx, audit.EventOwnerSaved, "user_id", r.UserID, "req_id", rid, "owner_id", owner.ID)
	if r.IsDraft && !isDraft {
		b.logAudit(ctx, audit.EventRequestSubmitted, "user_id", r.UserID, "req_id", rid)
	}
	return owner, nil
}

// resolveRequestID prefers the form's id, then the synchronizer's in-memory
// and stored values, then the user's most recent draft.
func (b *Builder) resolveRequestID(ctx context.Context) (id.RequestID, error) {
	if rid, ok := b.forms.RequestID(); ok {
		return rid, nil
	}
	if rid, ok := b.drafts.Current(); ok {
		return rid, nil
	}
	rid, ok, err := b.drafts.Stored(ctx)
	if err != nil && !dErrors.HasCode(err, dErrors.CodeInvalidInput) {
		return 0, dErrors.Backend(err)
	}
	if ok {
		return rid, nil
	}
	userID := requestcontext.UserID(ctx)
	if userID.IsNil() {
		return 0, dErrors.New(dErrors.CodeNotFound, "no active request")
	}
	latest, err := b.requests.LatestDraft(ctx, userID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return 0, dErrors.New(dErrors.CodeNotFound, "no active request")
		}
		return 0, err
	}
	return latest.ID, nil
}

// saveOwner resolves the shared sub-entities, then updates the request's owner
// in place or inserts a new one and points the request at it.
func (b *Builder) saveOwner(ctx context.Context, r *models.Request, form Form) (*models.Owner, error) {
	o := form.Owner
	o.Parent, o.Address, o.ParentID, o.AddressID = nil, nil, nil, nil

	if !form.Parent.IsBlank() {
		p, err := b.repo.FindOrCreateParent(ctx, form.Parent)
		if err != nil {
			return nil, dErrors.Backend(err)
		}
		o.ParentID = &p.ID
	}
	if !form.Address.IsBlank() {
		a, err := b.repo.FindOrCreateAddress(ctx, form.Address)
		if err != nil {
			return nil, dErrors.Backend(err)
		}
		o.AddressID = &a.ID
	}

	if r.OwnerID != nil {
		saved, err := b.repo.UpdateOwner(ctx, *r.OwnerID, o)
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Backend(err)
		}
	}
	saved, err := b.repo.InsertOwner(ctx, o)
	if err != nil {
		return nil, dErrors.Backend(err)
	}
	if _, err := b.requests.UpdateRequest(ctx, r.ID, models.RequestPatch{OwnerID: &saved.ID}); err != nil {
		return nil, err
	}
	return saved, nil
}

// ensureCompanions creates the pending Status and the Certificate when they do
// not exist yet. On a repeated submission the existing Status is reset to pending.
func (b *Builder) ensureCompanions(ctx context.Context, r *models.Request, now time.Time) error {
	statuses, err := b.repo.ListStatuses(ctx, r.ID)
	if err != nil {
		return dErrors.Backend(err)
	}
	if len(statuses) == 0 {
		_, err = b.repo.InsertStatus(ctx, r.ID, id.StatusPending, now)
	} else if !r.IsDraft {
		_, err = b.repo.SetStatus(ctx, r.ID, id.StatusPending, now)
	}
	if err != nil {
		return dErrors.Backend(err)
	}

	_, err = b.repo.FindCertificate(ctx, r.ID)
	if errors.Is(err, sentinel.ErrNotFound) {
		certNumber := store.CertificateNumber(r.ID, now)
		if r.CertNumber != nil {
			certNumber = *r.CertNumber
		}
		_, err = b.repo.InsertCertificate(ctx, r.ID, certNumber)
	}
	if err != nil {
		return dErrors.Backend(err)
	}
	return nil
}
