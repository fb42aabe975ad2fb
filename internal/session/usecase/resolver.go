package usecase

import (
	"context"

	"session-registry/internal/session/domain/model"
	"session-registry/internal/session/domain/repository"
	"session-registry/internal/shared/clock"
	apperrors "session-registry/internal/shared/errors"
	"session-registry/internal/shared/logger"
)

// Resolver turns a bearer token into the live session it names.
type Resolver struct {
	store  SessionStoreInterface
	tokens repository.TokenService
	clock  clock.Clock
	logger logger.Logger
}

// NewResolver creates a Resolver. A nil clock means the wall clock.
func NewResolver(store SessionStoreInterface, tokens repository.TokenService, clk clock.Clock, log logger.Logger) *Resolver {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Resolver{
		store:  store,
		tokens: tokens,
		clock:  clk,
		logger: log.WithComponent("session-resolver"),
	}
}

// Resolve returns the active session for token. Any failure (empty or invalid
// token, unknown session, logged-out or expired record) yields false.
func (r *Resolver) Resolve(ctx context.Context, token string) (*model.ActiveSession, bool) {
	if token == "" {
		return nil, false
	}

	claim, err := r.tokens.Verify(token)
	if err != nil {
		if apperrors.IsInvalidToken(err) {
			r.logger.WithContext(ctx).Debugf("Rejected session token: %v", err)
		} else {
			r.logger.WithContext(ctx).Warnf("Session token could not be verified: %v", err)
		}
		return nil, false
	}

	sess, ok := r.store.Get(claim.SessionID)
	if !ok {
		return nil, false
	}

	rec, ok := sess.Find(claim.CreatedAt)
	if !ok || rec.Expired(r.clock.Now()) {
		return nil, false
	}

	sessionID, createdAt := claim.SessionID, rec.CreatedAt
	return model.NewActiveSession(sessionID, rec, func(ctx context.Context) error {
		return r.store.Logout(ctx, sessionID, createdAt)
	}), true
}
