// Package draft owns "the request id of the draft currently being edited" for
// one browsing context of a session. Session storage is the source of truth;
// the synchronizer mirrors it in memory, announces every change on a
// same-context Bus, follows changes made by other contexts through
// Storage.Watch and polls for drift.
package draft

//go:generate mockgen -source=synchronizer.go -destination=mocks/mocks.go -package=mocks Loader,AuditPublisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"civreg/internal/platform/metrics"
	"civreg/internal/requests/models"
	id "civreg/pkg/domain"
	dErrors "civreg/pkg/domain-errors"
	"civreg/pkg/platform/audit"
	"civreg/pkg/requestcontext"
)

// Loader is the part of the Request Store the synchronizer drives on mount.
type Loader interface {
	GetByID(ctx context.Context, raw string) (*models.Request, error)
	FetchFiltered(ctx context.Context, f models.FilterSpec) ([]*models.Request, error)
	ClearCurrent(ctx context.Context) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, base audit.Event) error
}

type Synchronizer struct {
	storage Storage
	bus     *Bus
	session id.SessionID

	mu      sync.RWMutex
	current id.RequestID

	pollInterval   time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher AuditPublisher

	runMu   sync.Mutex
	running bool
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

type Option func(*Synchronizer)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Synchronizer) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Synchronizer) {
		s.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Synchronizer) {
		s.auditPublisher = publisher
	}
}

// WithPollInterval sets the drift check period (default one second).
func WithPollInterval(d time.Duration) Option {
	return func(s *Synchronizer) {
		s.pollInterval = d
	}
}

// WithBus shares a bus with other consumers in the same context.
func WithBus(b *Bus) Option {
	return func(s *Synchronizer) {
		s.bus = b
	}
}

// New creates the synchronizer of session sid. It is idle until Start.
func New(storage Storage, sid id.SessionID, opts ...Option) *Synchronizer {
	s := &Synchronizer{storage: storage, session: sid, pollInterval: time.Second}
	for _, opt := range opts {
		opt(s)
	}
	if s.bus == nil {
		s.bus = NewBus()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Bus is the same-context broadcast every change is announced on.
func (s *Synchronizer) Bus() *Bus {
	return s.bus
}

// Current returns the in-memory draft id.
func (s *Synchronizer) Current() (id.RequestID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.current != 0
}

// Stored reads the draft id from session storage. A malformed stored value is
// reported as CodeInvalidInput.
func (s *Synchronizer) Stored(ctx context.Context) (id.RequestID, bool, error) {
	raw, ok, err := s.storage.Get(ctx, s.session)
	if err != nil || !ok {
		return 0, false, err
	}
	rid, err := id.ParseRequestID(raw)
	if err != nil {
		return 0, false, err
	}
	return rid, true, nil
}

// Subscribe calls fn with every change of the draft id seen in this context.
func (s *Synchronizer) Subscribe(fn func(rid id.RequestID, ok bool)) func() {
	return s.bus.Subscribe(func(c Change) {
		rid, ok := parseChange(c)
		fn(rid, ok)
	})
}

// Set persists rid and announces it.
func (s *Synchronizer) Set(ctx context.Context, rid id.RequestID) error {
	if rid <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid request id")
	}
	if err := s.storage.Set(ctx, s.session, rid.String()); err != nil {
		return err
	}
	s.apply(rid)
	return nil
}

// Clear removes the stored draft id and announces null.
func (s *Synchronizer) Clear(ctx context.Context) error {
	if err := s.storage.Delete(ctx, s.session); err != nil {
		return err
	}
	s.apply(0)
	return nil
}

// ClearIf clears the draft id only while it refers to rid, in memory or in storage.
func (s *Synchronizer) ClearIf(ctx context.Context, rid id.RequestID) (bool, error) {
	cur, _ := s.Current()
	stored, _, err := s.Stored(ctx)
	if err != nil && !dErrors.HasCode(err, dErrors.CodeInvalidInput) {
		return false, err
	}
	if cur != rid && stored != rid {
		return false, nil
	}
	return true, s.Clear(ctx)
}

// apply records rid in memory and broadcasts it when it changed.
func (s *Synchronizer) apply(rid id.RequestID) bool {
	s.mu.Lock()
	changed := s.current != rid
	s.current = rid
	s.mu.Unlock()
	if changed {
		s.bus.Publish(changeOf(rid))
	}
	return changed
}

// Mount restores the stored draft. The stored id must name a draft owned by
// the signed-in user; anything else (deleted row, foreign row, malformed id)
// is cleared and the user's request list is loaded instead. It returns the
// restored draft, or nil after falling back.
func (s *Synchronizer) Mount(ctx context.Context, loader Loader) (*models.Request, error) {
	raw, ok, err := s.storage.Get(ctx, s.session)
	if err != nil {
		return nil, err
	}
	if ok {
		r, reason := s.restore(ctx, loader, raw)
		if r != nil {
			return r, nil
		}
		if err := s.heal(ctx, loader, raw, reason); err != nil {
			return nil, err
		}
	} else {
		s.apply(0)
	}
	if _, err := loader.FetchFiltered(ctx, models.FilterSpec{UserID: requestcontext.UserID(ctx)}); err != nil && !errors.Is(err, context.Canceled) {
		return nil, err
	}
	return nil, nil
}

func (s *Synchronizer) restore(ctx context.Context, loader Loader, raw string) (*models.Request, string) {
	r, err := loader.GetByID(ctx, raw)
	switch {
	case err != nil:
		return nil, err.Error()
	case r.UserID != requestcontext.UserID(ctx):
		return nil, "request belongs to another user"
	case !r.IsDraft:
		return nil, "request is no longer a draft"
	}
	rid := r.ID
	s.apply(rid)
	return r, ""
}

func (s *Synchronizer) heal(ctx context.Context, loader Loader, raw, reason string) error {
	if err := s.Clear(ctx); err != nil {
		return err
	}
	if err := loader.ClearCurrent(ctx); err != nil {
		s.logger.WarnContext(ctx, "failed to clear current request", "error", err)
	}
	s.logAudit(ctx, raw, reason)
	return nil
}

func (s *Synchronizer) logAudit(ctx context.Context, raw, reason string) {
	userID := requestcontext.UserID(ctx)
	s.logger.InfoContext(ctx, string(audit.EventDraftIdentityHealed),
		"user_id", userID.String(), "stored_value", raw, "reason", reason,
		"event", string(audit.EventDraftIdentityHealed), "log_type", "audit")
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, audit.Event{
		UserID:  userID,
		Subject: "session:" + s.session.String(),
		Action:  string(audit.EventDraftIdentityHealed),
		Reason:  reason,
	}); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "error", err)
	}
}

// CheckDrift reconciles the in-memory value with storage and reports whether
// it had drifted.
func (s *Synchronizer) CheckDrift(ctx context.Context) (bool, error) {
	stored, _, err := s.Stored(ctx)
	if err != nil && !dErrors.HasCode(err, dErrors.CodeInvalidInput) {
		return false, err
	}
	if !s.apply(stored) {
		return false, nil
	}
	s.metrics.IncDraftDrift()
	s.logger.DebugContext(ctx, "draft id drift corrected", "req_id", stored.String())
	return true, nil
}

// Start follows changes from other contexts and runs the drift poll until Close.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return nil
	}
	runCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	changes, unwatch, err := s.storage.Watch(runCtx, s.session)
	if err != nil {
		stop()
		return err
	}
	s.stop = func() {
		stop()
		unwatch()
	}
	s.running = true

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		for c := range changes {
			rid, _ := parseChange(c)
			s.apply(rid)
		}
	}()
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if _, err := s.CheckDrift(runCtx); err != nil {
					s.logger.WarnContext(runCtx, "draft drift check failed", "error", err)
				}
			}
		}
	}()
	return nil
}

func (s *Synchronizer) Close() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if !s.running {
		return
	}
	s.stop()
	s.wg.Wait()
	s.running = false
}

func changeOf(rid id.RequestID) Change {
	if rid == 0 {
		return Change{Key: StorageKey}
	}
	v := rid.String()
	return Change{Key: StorageKey, NewValue: &v}
}

// parseChange decodes a change; a nil or malformed value means no draft.
func parseChange(c Change) (id.RequestID, bool) {
	if c.NewValue == nil {
		return 0, false
	}
	rid, err := id.ParseRequestID(*c.NewValue)
	if err != nil {
		return 0, false
	}
	return rid, true
}
