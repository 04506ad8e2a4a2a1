// Package service is the Request Store: request lifecycle operations over the
// gateway, with all shared state (request list, focused request, entity cache)
// mutated only through the state package's dispatcher.
package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"civreg/internal/gateway"
	"civreg/internal/platform/metrics"
	"civreg/internal/requests/cache"
	"civreg/internal/requests/models"
	"civreg/internal/requests/realtime"
	"civreg/internal/requests/state"
	id "civreg/pkg/domain"
	"civreg/pkg/platform/audit"
)

// Repository is the typed table access the store needs.
type Repository interface {
	FindRequest(ctx context.Context, rid id.RequestID) (*models.Request, error)
	ListRequests(ctx context.Context, f models.FilterSpec) ([]*models.Request, error)
	FindDuplicates(ctx context.Context, key models.DuplicateKey) ([]*models.Request, error)
	LatestDraft(ctx context.Context, userID id.UserID) (*models.Request, error)
	InsertRequest(ctx context.Context, in models.CreateRequestInput, now time.Time) (*models.Request, error)
	UpdateRequest(ctx context.Context, rid id.RequestID, patch models.RequestPatch) (*models.Request, error)
	DeleteRequest(ctx context.Context, rid id.RequestID) error

	InsertStatus(ctx context.Context, rid id.RequestID, value id.StatusValue, now time.Time) (models.Status, error)
	SetStatus(ctx context.Context, rid id.RequestID, value id.StatusValue, now time.Time) (models.Status, error)
	DeleteStatuses(ctx context.Context, rid id.RequestID) error
	InsertCertificate(ctx context.Context, rid id.RequestID, certNumber string) (models.Certificate, error)
	IssueCertificate(ctx context.Context, rid id.RequestID, at time.Time) (models.Certificate, error)
	DeleteCertificates(ctx context.Context, rid id.RequestID) error

	DeleteOwner(ctx context.Context, oid id.OwnerID) error
	DeleteParent(ctx context.Context, pid id.ParentID) error
	DeleteAddress(ctx context.Context, aid id.AddressID) error

	Gateway() gateway.Gateway
}

// DraftIdentity is the session's "current draft id" owner.
type DraftIdentity interface {
	Set(ctx context.Context, rid id.RequestID) error
	ClearIf(ctx context.Context, rid id.RequestID) (bool, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, base audit.Event) error
}

// Config tunes listing size and the background loops.
type Config struct {
	FetchLimit      int
	RefreshInterval time.Duration
	DrainInterval   time.Duration
	DrainBatch      int
	MailboxSize     int
	ErrorDebounce   time.Duration
}

func (c Config) withDefaults() Config {
	if c.FetchLimit <= 0 {
		c.FetchLimit = models.DefaultFetchLimit
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 3 * time.Minute
	}
	if c.DrainInterval <= 0 {
		c.DrainInterval = 50 * time.Millisecond
	}
	if c.DrainBatch <= 0 {
		c.DrainBatch = 10
	}
	if c.MailboxSize <= 0 {
		c.MailboxSize = 1000
	}
	if c.ErrorDebounce <= 0 {
		c.ErrorDebounce = 100 * time.Millisecond
	}
	return c
}

type Service struct {
	repo           Repository
	cache          *cache.Cache
	store          *state.Store
	cfg            Config
	drafts         DraftIdentity
	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher AuditPublisher
	visible        func() bool

	fetchMu     sync.Mutex
	fetchGen    atomic.Uint64
	cancelFetch context.CancelFunc

	errMu    sync.Mutex
	errTimer *time.Timer

	mailbox *realtime.Mailbox

	runMu   sync.Mutex
	running bool
	stop    context.CancelFunc
	subs    []gateway.Subscription
	wg      sync.WaitGroup
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

// WithDraftIdentity lets deletes and draft creation keep the session's current
// draft id consistent.
func WithDraftIdentity(d DraftIdentity) Option {
	return func(s *Service) {
		s.drafts = d
	}
}

// WithVisibility sets the check consulted before each background refresh.
// Refreshes are skipped while it reports false.
func WithVisibility(visible func() bool) Option {
	return func(s *Service) {
		s.visible = visible
	}
}

// New constructs the store. Close releases its dispatcher and background loops.
func New(repo Repository, c *cache.Cache, cfg Config, opts ...Option) *Service {
	s := &Service{repo: repo, cache: c, cfg: cfg.withDefaults()}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.visible == nil {
		s.visible = func() bool { return true }
	}
	s.mailbox = realtime.NewMailbox(s.cfg.MailboxSize)
	s.store = state.New(c, state.WithLogger(s.logger), state.WithMetrics(s.metrics))
	return s
}

// SetDraftIdentity wires the synchronizer after construction; the two depend
// on each other.
func (s *Service) SetDraftIdentity(d DraftIdentity) {
	s.drafts = d
}

// Snapshot returns the current store state.
func (s *Service) Snapshot() state.State {
	return s.store.Snapshot()
}

// Subscribe streams store states to passive observers.
func (s *Service) Subscribe() (<-chan state.State, func()) {
	return s.store.Subscribe()
}

// Close stops background work and the dispatcher.
func (s *Service) Close() {
	s.stopRealtime()
	s.fetchMu.Lock()
	if s.cancelFetch != nil {
		s.cancelFetch()
	}
	s.fetchMu.Unlock()
	s.errMu.Lock()
	if s.errTimer != nil {
		s.errTimer.Stop()
	}
	s.errMu.Unlock()
	s.store.Close()
}

// Cache exposes the cache for reads. Writes go through Dispatch.
func (s *Service) Cache() *cache.Cache {
	return s.store.Cache()
}

// Dispatch applies actions through the store's dispatcher, so writers outside
// this package keep the cache and the state in one order.
func (s *Service) Dispatch(ctx context.Context, actions ...state.Action) error {
	return s.store.Dispatch(ctx, actions...)
}

func (s *Service) dispatch(ctx context.Context, actions ...state.Action) {
	if err := s.store.Dispatch(context.WithoutCancel(ctx), actions...); err != nil {
		s.logger.DebugContext(ctx, "dispatch skipped", "error", err)
	}
}
