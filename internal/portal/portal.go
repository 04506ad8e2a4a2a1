// Package portal wires one signed-in session of the request portal: the
// gateway, the Request Store, the draft synchronizer, the owner builder and
// the user directory, plus the audit and metrics plumbing they share.
package portal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"civreg/internal/draft"
	"civreg/internal/gateway"
	"civreg/internal/gateway/memory"
	"civreg/internal/gateway/sqlgw"
	"civreg/internal/owner"
	"civreg/internal/platform/config"
	"civreg/internal/platform/metrics"
	"civreg/internal/platform/redis"
	"civreg/internal/requests/cache"
	"civreg/internal/requests/service"
	"civreg/internal/requests/store"
	"civreg/internal/users"
	id "civreg/pkg/domain"
	"civreg/pkg/platform/audit"
	"civreg/pkg/platform/audit/kafka"
	"civreg/pkg/platform/audit/publisher"
	auditmemory "civreg/pkg/platform/audit/store/memory"
	"civreg/pkg/platform/audit/store/sqlstore"
)

type Portal struct {
	Cache    *cache.Cache
	Requests *service.Service
	Drafts   *draft.Synchronizer
	Forms    *owner.FormStore
	Owners   *owner.Builder
	Users    *users.Service
	Audit    *publisher.Publisher

	logger  *slog.Logger
	metrics *metrics.Metrics
	gateway gateway.Gateway
	closers []func() error
}

type Option func(*options)

type options struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
	visible    func() bool
	storage    draft.Storage
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRegisterer registers the portal's collectors with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithVisibility pauses background refresh while visible reports false.
func WithVisibility(visible func() bool) Option {
	return func(o *options) {
		o.visible = visible
	}
}

// WithSessionStorage replaces the configured session storage, for embedders
// that own the session (and for sharing one between portals in tests).
func WithSessionStorage(storage draft.Storage) Option {
	return func(o *options) {
		o.storage = storage
	}
}

// New builds the portal for session sid. Nothing runs until Start.
func New(ctx context.Context, cfg config.Config, sid id.SessionID, opts ...Option) (*Portal, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	p := &Portal{logger: o.logger, metrics: metrics.New(o.registerer)}

	auditStore, err := p.openGateway(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := p.openAudit(cfg, auditStore); err != nil {
		p.Close()
		return nil, err
	}
	storage := o.storage
	if storage == nil {
		if storage, err = p.openSessionStorage(ctx, cfg); err != nil {
			p.Close()
			return nil, err
		}
	}

	repo := store.New(p.gateway)
	p.Cache = cache.New(cache.Config{
		ListTTL:     cfg.Cache.ListTTL,
		MetadataTTL: cfg.Cache.MetadataTTL,
		SoftLimit:   cfg.Cache.SoftLimit,
	}, cache.WithMetrics(p.metrics))

	serviceOpts := []service.Option{
		service.WithLogger(p.logger),
		service.WithMetrics(p.metrics),
		service.WithAuditPublisher(p.Audit),
	}
	if o.visible != nil {
		serviceOpts = append(serviceOpts, service.WithVisibility(o.visible))
	}
	p.Requests = service.New(repo, p.Cache, service.Config{
		FetchLimit:      cfg.Store.FetchLimit,
		RefreshInterval: cfg.Store.RefreshInterval,
		DrainInterval:   cfg.Store.DrainInterval,
		DrainBatch:      cfg.Store.DrainBatch,
		MailboxSize:     cfg.Store.MailboxSize,
		ErrorDebounce:   cfg.Store.ErrorDebounce,
	}, serviceOpts...)

	p.Drafts = draft.New(storage, sid,
		draft.WithLogger(p.logger),
		draft.WithMetrics(p.metrics),
		draft.WithAuditPublisher(p.Audit),
		draft.WithPollInterval(cfg.Draft.PollInterval),
	)
	p.Requests.SetDraftIdentity(p.Drafts)

	p.Forms = owner.NewFormStore()
	p.Forms.Follow(p.Drafts)
	p.Owners = owner.NewBuilder(p.Forms, p.Requests, repo, p.Drafts,
		owner.WithLogger(p.logger),
		owner.WithMetrics(p.metrics),
		owner.WithAuditPublisher(p.Audit),
	)
	p.Users = users.New(repo, p.Requests,
		users.WithLogger(p.logger),
		users.WithAuditPublisher(p.Audit),
	)
	return p, nil
}

// openGateway connects the configured backend and returns the audit store
// living next to it.
func (p *Portal) openGateway(ctx context.Context, cfg config.Config) (audit.Store, error) {
	if cfg.Backend.Driver == config.DriverMemory {
		g := memory.New()
		p.addCloser(func() error { g.Close(); return nil })
		p.gateway = gateway.Instrument(g, cfg.Gateway.Timeout, p.metrics)
		return auditmemory.NewInMemoryStore(), nil
	}

	dialect, ok := sqlgw.DialectFor(cfg.Backend.Driver)
	if !ok {
		return nil, fmt.Errorf("unknown backend driver %q", cfg.Backend.Driver)
	}
	g, err := sqlgw.Open(ctx, dialect, cfg.Backend.DSN, sqlgw.WithLogger(p.logger))
	if err != nil {
		return nil, err
	}
	p.addCloser(g.Close)
	if cfg.Backend.Migrate {
		if err := g.Migrate(ctx); err != nil {
			p.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	if cfg.Backend.ListenNotify {
		if err := g.ListenNotify(cfg.Backend.DSN); err != nil {
			p.Close()
			return nil, err
		}
	}
	p.gateway = gateway.Instrument(g, cfg.Gateway.Timeout, p.metrics)
	return sqlstore.New(g.DB(), dialect.Placeholder), nil
}

func (p *Portal) openAudit(cfg config.Config, auditStore audit.Store) error {
	pubOpts := []publisher.Option{
		publisher.WithLogger(p.logger),
		publisher.WithAsyncBuffer(cfg.Audit.AsyncBuffer),
	}
	if len(cfg.Audit.KafkaBrokers) > 0 {
		sink, err := kafka.New(cfg.Audit.KafkaBrokers, cfg.Audit.Topic)
		if err != nil {
			return err
		}
		p.addCloser(func() error { sink.Close(); return nil })
		pubOpts = append(pubOpts, publisher.WithSink(sink))
	}
	p.Audit = publisher.NewPublisher(auditStore, pubOpts...)
	p.addCloser(func() error { p.Audit.Close(); return nil })
	return nil
}

// openSessionStorage uses redis when configured and process memory otherwise.
func (p *Portal) openSessionStorage(ctx context.Context, cfg config.Config) (draft.Storage, error) {
	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return draft.NewMemoryStorage(), nil
	}
	p.addCloser(client.Close)
	return draft.NewRedisStorage(client.Client, cfg.Draft.SessionTTL), nil
}

func (p *Portal) addCloser(fn func() error) {
	p.closers = append(p.closers, fn)
}

// Start restores the session's draft and starts the background loops, which
// run until Close. ctx must carry the signed-in user.
func (p *Portal) Start(ctx context.Context) error {
	if err := p.Requests.Start(ctx); err != nil {
		return fmt.Errorf("start request store: %w", err)
	}
	restored, err := p.Drafts.Mount(ctx, p.Requests)
	if err != nil {
		return fmt.Errorf("mount draft identity: %w", err)
	}
	if restored != nil {
		p.Forms.Load(restored.ID, restored.Owner)
	}
	if err := p.Drafts.Start(ctx); err != nil {
		return fmt.Errorf("start draft synchronizer: %w", err)
	}
	p.logger.InfoContext(ctx, "portal session started", "restored_draft", restored != nil)
	return nil
}

// Close stops the loops and releases connections, newest first.
func (p *Portal) Close() error {
	if p.Forms != nil {
		p.Forms.Unfollow()
	}
	if p.Drafts != nil {
		p.Drafts.Close()
	}
	if p.Requests != nil {
		p.Requests.Close()
	}
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}
