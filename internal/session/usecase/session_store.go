package usecase

import (
	"context"
	"time"

	"session-registry/internal/session/config"
	"session-registry/internal/session/domain/model"
	"session-registry/internal/session/domain/repository"
	"session-registry/internal/shared/clock"
	apperrors "session-registry/internal/shared/errors"
	"session-registry/internal/shared/eventbus"
	"session-registry/internal/shared/logger"
	"session-registry/internal/shared/utils"
)

// SessionStoreInterface defines the session operations exposed to adapters.
type SessionStoreInterface interface {
	CreateSession(ctx context.Context, sessionID string, data map[string]interface{}) (string, error)
	DeleteUserSessions(ctx context.Context, sessionID string) error
	Logout(ctx context.Context, sessionID string, createdAt time.Time) error
	Get(sessionID string) (*model.Session, bool)
	Sessions() []string
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
	Persistent() bool
}

// SessionStore keeps every Session in the cache and, when a repository is
// configured, writes each change to it before updating the cache.
type SessionStore struct {
	cache  repository.SessionCache
	repo   repository.SessionRepository
	tokens repository.TokenService
	events eventbus.Publisher
	clock  clock.Clock
	logger logger.Logger

	multi        bool
	durationDays int

	locks    *keyedMutex
	issuedAt createdAtIssuer
}

// StoreOption customizes a SessionStore.
type StoreOption func(*SessionStore)

// WithRepository enables persistence through repo.
func WithRepository(repo repository.SessionRepository) StoreOption {
	return func(s *SessionStore) { s.repo = repo }
}

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) StoreOption {
	return func(s *SessionStore) { s.clock = c }
}

// WithEvents publishes lifecycle events to p.
func WithEvents(p eventbus.Publisher) StoreOption {
	return func(s *SessionStore) { s.events = p }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) StoreOption {
	return func(s *SessionStore) { s.logger = l }
}

// NewSessionStore creates a memory-only store unless WithRepository is given.
func NewSessionStore(
	cache repository.SessionCache,
	tokens repository.TokenService,
	cfg *config.Config,
	opts ...StoreOption,
) *SessionStore {
	s := &SessionStore{
		cache:        cache,
		tokens:       tokens,
		clock:        clock.RealClock{},
		logger:       logger.NewNop(),
		multi:        cfg.Multi,
		durationDays: cfg.DurationDays,
		locks:        newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("session-store")
	return s
}

// Persistent reports whether writes go to a backing store.
func (s *SessionStore) Persistent() bool {
	return s.repo != nil
}

// Start prepares the backing store and fills the cache from it: indexes, one
// expiration sweep, then every document verbatim. On failure the store drops
// its repository and keeps running memory-only; the error is returned so the
// caller can report it.
func (s *SessionStore) Start(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}

	if err := s.start(ctx); err != nil {
		s.repo = nil
		s.logger.Errorf("Backing store unavailable, continuing memory-only: %v", err)
		return err
	}
	return nil
}

func (s *SessionStore) start(ctx context.Context) error {
	ctx = utils.WithOperation(ctx, "load")
	if err := s.repo.EnsureIndexes(ctx); err != nil {
		return apperrors.NewPersistenceError("ensure indexes", err)
	}

	if _, err := s.PurgeExpired(ctx, s.clock.Now()); err != nil {
		return err
	}

	sessions, err := s.repo.LoadAll(ctx)
	if err != nil {
		return apperrors.NewPersistenceError("load sessions", err)
	}
	for _, sess := range sessions {
		if sess == nil || sess.SessionID == "" {
			continue
		}
		for _, rec := range sess.Records {
			s.issuedAt.observe(rec.CreatedAt)
		}
		s.cache.Set(sess)
	}

	s.logger.WithContext(ctx).Infof("Loaded %d sessions from backing store", len(sessions))
	return nil
}

// CreateSession records a new login instance for sessionID and returns its token.
// MULTI mode appends to the existing records; SINGLE mode replaces them.
func (s *SessionStore) CreateSession(ctx context.Context, sessionID string, data map[string]interface{}) (string, error) {
	if sessionID == "" {
		return "", ErrEmptySessionID
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	ctx = utils.WithOperation(ctx, "create")

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	now := s.clock.Now()
	rec := model.Record{
		Data:      data,
		CreatedAt: s.issuedAt.next(now),
		ExpiresAt: expiresAt(now, s.durationDays),
	}

	token, err := s.tokens.Sign(model.Claim{SessionID: sessionID, CreatedAt: rec.CreatedAt})
	if err != nil {
		return "", err
	}

	if s.repo != nil {
		if s.multi {
			err = s.repo.PushRecord(ctx, sessionID, rec)
		} else {
			err = s.repo.ReplaceRecords(ctx, sessionID, rec)
		}
		if err != nil {
			return "", apperrors.NewPersistenceError("create session", err)
		}
	}

	next := &model.Session{SessionID: sessionID, Records: []model.Record{rec}}
	if current, ok := s.cache.Get(sessionID); ok && s.multi {
		next.Records = append(current.Records, rec)
	}
	s.cache.Set(next)

	s.logger.WithContext(utils.WithSessionID(ctx, sessionID)).Debugf("Created session record, %d active", len(next.Records))
	s.publish(ctx, eventbus.EventTypeSessionCreated, eventbus.SessionEventData{
		SessionID: sessionID,
		CreatedAt: rec.CreatedAt,
	})
	return token, nil
}

// DeleteUserSessions invalidates every record of sessionID. The Session entry
// stays with zero records. Unknown ids are ignored.
func (s *SessionStore) DeleteUserSessions(ctx context.Context, sessionID string) error {
	ctx = utils.WithOperation(ctx, "clear")
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	if _, ok := s.cache.Get(sessionID); !ok {
		return nil
	}

	if s.repo != nil {
		if err := s.repo.ClearRecords(ctx, sessionID); err != nil {
			return apperrors.NewPersistenceError("delete user sessions", err)
		}
	}

	s.cache.Set(&model.Session{SessionID: sessionID, Records: []model.Record{}})

	s.logger.WithContext(utils.WithSessionID(ctx, sessionID)).Debug("Cleared all session records")
	s.publish(ctx, eventbus.EventTypeSessionCleared, eventbus.SessionEventData{SessionID: sessionID})
	return nil
}

// Logout removes the single record identified by (sessionID, createdAt).
// Other records of the same session are untouched.
func (s *SessionStore) Logout(ctx context.Context, sessionID string, createdAt time.Time) error {
	ctx = utils.WithOperation(ctx, "logout")
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	current, ok := s.cache.Get(sessionID)
	if !ok {
		return nil
	}
	if _, found := current.Find(createdAt); !found {
		return nil
	}

	if s.repo != nil {
		if err := s.repo.PullRecord(ctx, sessionID, createdAt); err != nil {
			return apperrors.NewPersistenceError("logout", err)
		}
	}

	kept := make([]model.Record, 0, len(current.Records))
	for _, rec := range current.Records {
		if !rec.CreatedAt.Equal(createdAt) {
			kept = append(kept, rec)
		}
	}
	s.cache.Set(&model.Session{SessionID: sessionID, Records: kept})

	s.logger.WithContext(utils.WithSessionID(ctx, sessionID)).Debug("Logged out session record")
	s.publish(ctx, eventbus.EventTypeSessionLoggedOut, eventbus.SessionEventData{
		SessionID: sessionID,
		CreatedAt: createdAt,
	})
	return nil
}

// Get returns a snapshot of the Session for sessionID.
func (s *SessionStore) Get(sessionID string) (*model.Session, bool) {
	return s.cache.Get(sessionID)
}

// Sessions returns every cached session id.
func (s *SessionStore) Sessions() []string {
	return s.cache.SessionIDs()
}

// PurgeExpired drops records with expiresAt <= now, from the backing store
// first. When the backing update fails the cache is left as is.
func (s *SessionStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	ctx = utils.WithOperation(ctx, "sweep")
	if s.repo != nil {
		if err := s.repo.PullExpired(ctx, now); err != nil {
			return 0, apperrors.NewPersistenceError("sweep expired sessions", err)
		}
	}

	removed := 0
	for _, id := range s.cache.SessionIDs() {
		removed += s.purgeCached(id, now)
	}

	if removed > 0 {
		s.logger.WithContext(ctx).Debugf("Swept %d expired records", removed)
		s.publish(ctx, eventbus.EventTypeSessionsSwept, eventbus.SessionEventData{Removed: removed})
	}
	return removed, nil
}

func (s *SessionStore) purgeCached(sessionID string, now time.Time) int {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	current, ok := s.cache.Get(sessionID)
	if !ok {
		return 0
	}

	kept := make([]model.Record, 0, len(current.Records))
	for _, rec := range current.Records {
		if !rec.Expired(now) {
			kept = append(kept, rec)
		}
	}
	if len(kept) == len(current.Records) {
		return 0
	}

	s.cache.Set(&model.Session{SessionID: sessionID, Records: kept})
	return len(current.Records) - len(kept)
}

func (s *SessionStore) publish(ctx context.Context, eventType string, data eventbus.SessionEventData) {
	if s.events == nil {
		return
	}
	s.events.PublishAndForget(ctx, eventbus.NewSessionEvent(eventType, data, s.clock.Now()))
}

// expiresAt is midnight of now's calendar day, days later, in now's location.
func expiresAt(now time.Time, days int) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location()).AddDate(0, 0, days)
}
