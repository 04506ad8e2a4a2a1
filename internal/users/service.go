// Package users is the profile directory and administrator role management.
package users

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store,AuditPublisher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"civreg/internal/requests/cache"
	"civreg/internal/requests/models"
	"civreg/internal/requests/state"
	"civreg/pkg/attrs"
	id "civreg/pkg/domain"
	dErrors "civreg/pkg/domain-errors"
	"civreg/pkg/email"
	"civreg/pkg/platform/audit"
	"civreg/pkg/platform/sentinel"
	"civreg/pkg/requestcontext"
)

// Store is the users table.
type Store interface {
	FindUser(ctx context.Context, uid id.UserID) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
	InsertUser(ctx context.Context, u models.User, now time.Time) (*models.User, error)
	UpdateUserRole(ctx context.Context, uid id.UserID, role id.Role) (*models.User, error)
}

// Dispatcher is the Request Store: reads hit its cache, writes are dispatched.
type Dispatcher interface {
	Cache() *cache.Cache
	Dispatch(ctx context.Context, actions ...state.Action) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, base audit.Event) error
}

type Service struct {
	store          Store
	cache          *cache.Cache
	dispatcher     Dispatcher
	logger         *slog.Logger
	auditPublisher AuditPublisher
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func New(store Store, d Dispatcher, opts ...Option) *Service {
	s := &Service{store: store, cache: d.Cache(), dispatcher: d}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// EnsureProfile returns the signed-in user's profile, creating it from the
// auth identity's email on first sign-in.
func (s *Service) EnsureProfile(ctx context.Context, address string) (*models.User, error) {
	userID := requestcontext.UserID(ctx)
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "user id required")
	}
	u, err := s.store.FindUser(ctx, userID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Backend(err)
	}

	normalized, err := email.Normalize(address)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid email")
	}
	first, last := email.DeriveName(normalized)
	u, err = s.store.InsertUser(ctx, models.User{
		ID:        userID,
		FirstName: first,
		LastName:  last,
		Email:     normalized,
		Role:      id.RoleUser,
	}, requestcontext.Now(ctx))
	if err != nil {
		return nil, dErrors.Backend(err)
	}
	s.dispatch(ctx, state.CacheInvalidate{Ops: []cache.Op{cache.OpUsersList}})
	s.logAudit(ctx, audit.EventUserProfileCreated, "user_id", userID)
	return u, nil
}

func (s *Service) Get(ctx context.Context, uid id.UserID) (*models.User, error) {
	key := cache.UserKey(uid)
	if v, ok := s.cache.Get(key); ok {
		u := *v.(*models.User)
		return &u, nil
	}
	u, err := s.store.FindUser(ctx, uid)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "user not found")
		}
		return nil, dErrors.Backend(err)
	}
	s.dispatch(ctx, state.CachePut{Key: key, Value: u})
	out := *u
	return &out, nil
}

// List returns every profile, cached under the metadata TTL.
func (s *Service) List(ctx context.Context) ([]*models.User, error) {
	key := cache.Key(cache.OpUsersList, map[string]string{})
	if v, ok := s.cache.Get(key); ok {
		return cloneUsers(v.([]*models.User)), nil
	}
	list, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, dErrors.Backend(err)
	}
	s.dispatch(ctx, state.CachePut{Key: key, Value: list})
	return cloneUsers(list), nil
}

func (s *Service) IsAdmin(ctx context.Context, uid id.UserID) (bool, error) {
	u, err := s.Get(ctx, uid)
	if err != nil {
		return false, err
	}
	return u.IsAdmin(), nil
}

// UpdateRole lets an administrator change target's role. Admins cannot revoke
// their own admin role.
func (s *Service) UpdateRole(ctx context.Context, actor, target id.UserID, role id.Role) (*models.User, error) {
	if _, err := id.ParseRole(string(role)); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid role")
	}
	admin, err := s.IsAdmin(ctx, actor)
	if err != nil {
		return nil, err
	}
	if !admin {
		s.logAudit(ctx, audit.EventUserRoleDenied, "user_id", target, "actor_id", actor, "reason", "not_admin")
		return nil, dErrors.New(dErrors.CodeForbidden, "only administrators can change roles")
	}
	if actor == target && role != id.RoleAdmin {
		s.logAudit(ctx, audit.EventUserRoleDenied, "user_id", target, "actor_id", actor, "reason", "self_revoke")
		return nil, dErrors.New(dErrors.CodeForbidden, "administrators cannot revoke their own role")
	}

	prev, err := s.Get(ctx, target)
	if err != nil {
		return nil, err
	}
	u, err := s.store.UpdateUserRole(ctx, target, role)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "user not found")
		}
		return nil, dErrors.Backend(err)
	}
	s.dispatch(ctx, state.CacheInvalidate{
		Keys: []string{cache.UserKey(target)},
		Ops:  []cache.Op{cache.OpUsersList},
	})
	s.logAudit(ctx, audit.EventUserRoleChanged,
		"user_id", target,
		"actor_id", actor,
		"reason", string(prev.Role)+"->"+string(role),
	)
	return u, nil
}

func (s *Service) dispatch(ctx context.Context, actions ...state.Action) {
	if err := s.dispatcher.Dispatch(context.WithoutCancel(ctx), actions...); err != nil {
		s.logger.DebugContext(ctx, "cache dispatch skipped", "error", err)
	}
}

func cloneUsers(list []*models.User) []*models.User {
	out := make([]*models.User, len(list))
	for i, u := range list {
		c := *u
		out[i] = &c
	}
	return out
}

func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, attributes ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", string(event), "log_type", "audit")
	s.logger.InfoContext(ctx, string(event), args...)
	if s.auditPublisher == nil {
		return
	}
	userID, _ := id.ParseUserID(attrs.ExtractString(attributes, "user_id"))
	if err := s.auditPublisher.Emit(ctx, audit.Event{
		Category: audit.CategorySecurity,
		UserID:   userID,
		Subject:  "user:" + userID.String(),
		Action:   string(event),
		Reason:   attrs.ExtractString(attributes, "reason"),
		ActorID:  attrs.ExtractString(attributes, "actor_id"),
	}); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "event", string(event), "error", err)
	}
}
