package testutil

import (
	"context"
	"time"

	"github.com/google/uuid"

	id "civreg/pkg/domain"
	"civreg/pkg/requestcontext"
)

// NewUserID returns a fresh random user id.
func NewUserID() id.UserID {
	return id.UserID(uuid.New())
}

// SignedIn returns a context carrying userID as the signed-in user, the way
// session bootstrap does for real sessions.
func SignedIn(ctx context.Context, userID id.UserID) context.Context {
	return requestcontext.WithUserID(ctx, userID)
}

// WithSession adds both a user and a fresh session id.
func WithSession(ctx context.Context, userID id.UserID) (context.Context, id.SessionID) {
	sessionID := id.SessionID(uuid.New())
	ctx = requestcontext.WithUserID(ctx, userID)
	return requestcontext.WithSessionID(ctx, sessionID), sessionID
}

// At pins the operation clock.
func At(ctx context.Context, t time.Time) context.Context {
	return requestcontext.WithTime(ctx, t)
}
