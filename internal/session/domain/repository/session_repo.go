package repository

import (
	"context"
	"time"

	"session-registry/internal/session/domain/model"
)

// SessionRepository is the backing-store capability mirrored by the session store.
// Implementations address one document per session id, shaped like model.Session.
type SessionRepository interface {
	// PushRecord appends rec to the session's records, creating the document if needed.
	PushRecord(ctx context.Context, sessionID string, rec model.Record) error
	// ReplaceRecords sets the session's records to exactly [rec], creating the document if needed.
	ReplaceRecords(ctx context.Context, sessionID string, rec model.Record) error
	// ClearRecords empties the session's records without removing the document.
	ClearRecords(ctx context.Context, sessionID string) error
	// PullRecord removes the record created at exactly createdAt.
	PullRecord(ctx context.Context, sessionID string, createdAt time.Time) error
	// PullExpired removes every record with expiresAt <= now across all sessions.
	PullExpired(ctx context.Context, now time.Time) error
	// LoadAll returns every stored session.
	LoadAll(ctx context.Context) ([]*model.Session, error)
	// EnsureIndexes prepares the backing store for the access patterns above.
	EnsureIndexes(ctx context.Context) error
	// Ping checks the backing store is reachable.
	Ping(ctx context.Context) error
}

// SessionCache is the in-memory view of every Session. Implementations publish a
// whole record list per Set; readers never observe a partially updated Session.
type SessionCache interface {
	Get(sessionID string) (*model.Session, bool)
	Set(session *model.Session)
	SessionIDs() []string
	Len() int
}
