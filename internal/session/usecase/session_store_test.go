package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"session-registry/internal/session/adapter/persistence/memory"
	"session-registry/internal/session/adapter/security"
	"session-registry/internal/session/domain/model"
	"session-registry/internal/session/testutil"
	"session-registry/internal/session/usecase"
	"session-registry/internal/shared/clock"
	apperrors "session-registry/internal/shared/errors"
	"session-registry/internal/shared/eventbus"
	"session-registry/internal/shared/logger"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

var baseTime = time.Date(2024, 5, 1, 15, 30, 0, 0, time.UTC)

type harness struct {
	store    *usecase.SessionStore
	resolver *usecase.Resolver
	clock    *clock.FixedClock
	cache    *memory.Cache
}

func newHarness(t *testing.T, multi bool, opts ...usecase.StoreOption) *harness {
	t.Helper()
	tokens, err := security.NewJWTokenService(testutil.TestSecret)
	require.NoError(t, err)

	clk := clock.NewFixedClock(baseTime)
	cache := memory.NewCache()
	opts = append([]usecase.StoreOption{usecase.WithClock(clk)}, opts...)
	store := usecase.NewSessionStore(cache, tokens, testutil.Config(multi), opts...)

	return &harness{
		store:    store,
		resolver: usecase.NewResolver(store, tokens, clk, nil),
		clock:    clk,
		cache:    cache,
	}
}

func (h *harness) resolve(token string) (*model.ActiveSession, bool) {
	return h.resolver.Resolve(context.Background(), token)
}

// SessionStoreSuite covers the memory-only store.
type SessionStoreSuite struct {
	suite.Suite
	ctx context.Context
}

func (s *SessionStoreSuite) SetupTest() {
	s.ctx = context.Background()
}

func TestSessionStoreSuite(t *testing.T) {
	suite.Run(t, new(SessionStoreSuite))
}

func (s *SessionStoreSuite) TestReferenceScenario_Multi() {
	h := newHarness(s.T(), true)

	t1, err := h.store.CreateSession(s.ctx, "123456", map[string]interface{}{"name": "Hulk"})
	s.Require().NoError(err)
	t2, err := h.store.CreateSession(s.ctx, "123456", map[string]interface{}{"name": "Hulk"})
	s.Require().NoError(err)
	t3, err := h.store.CreateSession(s.ctx, "123", map[string]interface{}{"name": "Groot"})
	s.Require().NoError(err)

	s.NotEqual(t1, t2)

	expected := map[string]string{t1: "Hulk", t2: "Hulk", t3: "Groot"}
	for _, tok := range []string{t1, t2, t3} {
		active, ok := h.resolve(tok)
		s.Require().True(ok)
		s.Equal(expected[tok], active.Data["name"])
	}

	sess, ok := h.store.Get("123456")
	s.Require().True(ok)
	s.Len(sess.Records, 2)
	sess, ok = h.store.Get("123")
	s.Require().True(ok)
	s.Len(sess.Records, 1)
	s.Equal([]string{"123", "123456"}, h.store.Sessions())

	for _, tok := range []string{t1, t2, t3} {
		active, ok := h.resolve(tok)
		s.Require().True(ok)
		s.Require().NoError(active.Logout(s.ctx))
	}
	for _, tok := range []string{t1, t2, t3} {
		_, ok := h.resolve(tok)
		s.False(ok)
	}
}

func (s *SessionStoreSuite) TestReferenceScenario_Single() {
	h := newHarness(s.T(), false)

	t1, err := h.store.CreateSession(s.ctx, "4321", map[string]interface{}{"name": "Hulk"})
	s.Require().NoError(err)
	t2, err := h.store.CreateSession(s.ctx, "4321", map[string]interface{}{"name": "Hulk"})
	s.Require().NoError(err)
	t3, err := h.store.CreateSession(s.ctx, "432", map[string]interface{}{"name": "Groot"})
	s.Require().NoError(err)

	_, ok := h.resolve(t1)
	s.False(ok, "SINGLE mode replaces the earlier record")

	active, ok := h.resolve(t2)
	s.Require().True(ok)
	s.Equal("Hulk", active.Data["name"])

	active, ok = h.resolve(t3)
	s.Require().True(ok)
	s.Equal("Groot", active.Data["name"])

	sess, _ := h.store.Get("4321")
	s.Len(sess.Records, 1)
}

func (s *SessionStoreSuite) TestCreatedAtStrictlyIncreasesOnSameInstant() {
	h := newHarness(s.T(), true)

	for i := 0; i < 3; i++ {
		_, err := h.store.CreateSession(s.ctx, "123456", nil)
		s.Require().NoError(err)
	}

	sess, ok := h.store.Get("123456")
	s.Require().True(ok)
	s.Require().Len(sess.Records, 3)
	s.True(sess.Records[0].CreatedAt.Equal(baseTime))
	s.True(sess.Records[1].CreatedAt.Equal(baseTime.Add(time.Millisecond)))
	s.True(sess.Records[2].CreatedAt.Equal(baseTime.Add(2 * time.Millisecond)))
	s.NotNil(sess.Records[0].Data)
}

func (s *SessionStoreSuite) TestExpiresAtIsMidnightPlusDuration() {
	h := newHarness(s.T(), false)

	_, err := h.store.CreateSession(s.ctx, "123", nil)
	s.Require().NoError(err)

	sess, _ := h.store.Get("123")
	s.True(time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC).Equal(sess.Records[0].ExpiresAt))
}

func (s *SessionStoreSuite) TestExpiryBoundary() {
	h := newHarness(s.T(), false)

	tok, err := h.store.CreateSession(s.ctx, "123", map[string]interface{}{"name": "Groot"})
	s.Require().NoError(err)

	h.clock.Set(time.Date(2024, 5, 14, 23, 59, 59, 999e6, time.UTC))
	_, ok := h.resolve(tok)
	s.True(ok)

	h.clock.Set(time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC))
	_, ok = h.resolve(tok)
	s.False(ok, "a record expiring exactly now is expired")
}

func (s *SessionStoreSuite) TestLogoutIsRecordScoped() {
	h := newHarness(s.T(), true)

	t1, _ := h.store.CreateSession(s.ctx, "123456", map[string]interface{}{"device": "phone"})
	t2, _ := h.store.CreateSession(s.ctx, "123456", map[string]interface{}{"device": "laptop"})

	active, ok := h.resolve(t1)
	s.Require().True(ok)
	s.Require().NoError(active.Logout(s.ctx))

	_, ok = h.resolve(t1)
	s.False(ok)
	active, ok = h.resolve(t2)
	s.Require().True(ok)
	s.Equal("laptop", active.Data["device"])
}

func (s *SessionStoreSuite) TestDeleteUserSessionsClearsEveryToken() {
	h := newHarness(s.T(), true)

	t1, _ := h.store.CreateSession(s.ctx, "123456", nil)
	t2, _ := h.store.CreateSession(s.ctx, "123456", nil)
	other, _ := h.store.CreateSession(s.ctx, "123", nil)

	s.Require().NoError(h.store.DeleteUserSessions(s.ctx, "123456"))

	_, ok := h.resolve(t1)
	s.False(ok)
	_, ok = h.resolve(t2)
	s.False(ok)
	_, ok = h.resolve(other)
	s.True(ok)

	sess, ok := h.store.Get("123456")
	s.Require().True(ok, "emptied session keeps its entry")
	s.Empty(sess.Records)
}

func (s *SessionStoreSuite) TestUnknownIdsAreNoOps() {
	h := newHarness(s.T(), false)

	s.NoError(h.store.DeleteUserSessions(s.ctx, "ghost"))
	s.NoError(h.store.Logout(s.ctx, "ghost", baseTime))

	_, ok := h.store.Get("ghost")
	s.False(ok)
	s.Empty(h.store.Sessions())
}

func (s *SessionStoreSuite) TestEmptySessionIDRejected() {
	h := newHarness(s.T(), false)

	_, err := h.store.CreateSession(s.ctx, "", nil)
	s.Require().Error(err)
	s.True(apperrors.IsValidation(err))
}

func (s *SessionStoreSuite) TestResolveRejectsForgedAndEmptyTokens() {
	h := newHarness(s.T(), false)
	_, err := h.store.CreateSession(s.ctx, "123", nil)
	s.Require().NoError(err)

	_, ok := h.resolve("")
	s.False(ok)
	_, ok = h.resolve("not-a-token")
	s.False(ok)

	other, err := security.NewJWTokenService("another-secret")
	s.Require().NoError(err)
	forged, err := other.Sign(model.Claim{SessionID: "123", CreatedAt: baseTime})
	s.Require().NoError(err)
	_, ok = h.resolve(forged)
	s.False(ok)
}

func (s *SessionStoreSuite) TestResolvedDataIsACopy() {
	h := newHarness(s.T(), false)
	tok, _ := h.store.CreateSession(s.ctx, "123", map[string]interface{}{"name": "Groot"})

	active, ok := h.resolve(tok)
	s.Require().True(ok)
	active.Data["name"] = "changed"

	again, ok := h.resolve(tok)
	s.Require().True(ok)
	s.Equal("Groot", again.Data["name"])
}

func (s *SessionStoreSuite) TestPurgeExpiredMemoryOnly() {
	h := newHarness(s.T(), true)

	old, _ := h.store.CreateSession(s.ctx, "123", nil)
	h.clock.Advance(10 * 24 * time.Hour)
	fresh, _ := h.store.CreateSession(s.ctx, "123", nil)
	h.clock.Set(time.Date(2024, 5, 16, 0, 0, 0, 0, time.UTC))

	removed, err := h.store.PurgeExpired(s.ctx, h.clock.Now())
	s.Require().NoError(err)
	s.Equal(1, removed)

	_, ok := h.resolve(old)
	s.False(ok)
	_, ok = h.resolve(fresh)
	s.True(ok)
}

func (s *SessionStoreSuite) TestConcurrentCreatesKeepEveryRecord() {
	h := newHarness(s.T(), true)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.store.CreateSession(s.ctx, "123456", nil)
			s.NoError(err)
		}()
	}
	wg.Wait()

	sess, ok := h.store.Get("123456")
	s.Require().True(ok)
	s.Len(sess.Records, 50)

	seen := make(map[int64]bool)
	for _, rec := range sess.Records {
		seen[rec.CreatedAt.UnixMilli()] = true
	}
	s.Len(seen, 50)
}

func TestSessionStore_PersistentWritesBeforeCache(t *testing.T) {
	ctx := context.Background()
	repo := new(testutil.MockSessionRepository)
	h := newHarness(t, true, usecase.WithRepository(repo))

	repo.On("PushRecord", mock.Anything, "123456", mock.AnythingOfType("model.Record")).Return(nil).Twice()
	repo.On("PullRecord", mock.Anything, "123456", mock.MatchedBy(func(at time.Time) bool {
		return at.Equal(baseTime)
	})).Return(nil).Once()
	repo.On("ClearRecords", mock.Anything, "123456").Return(nil).Once()

	t1, err := h.store.CreateSession(ctx, "123456", map[string]interface{}{"name": "Hulk"})
	require.NoError(t, err)
	_, err = h.store.CreateSession(ctx, "123456", map[string]interface{}{"name": "Hulk"})
	require.NoError(t, err)

	active, ok := h.resolve(t1)
	require.True(t, ok)
	require.NoError(t, active.Logout(ctx))
	require.NoError(t, h.store.DeleteUserSessions(ctx, "123456"))

	repo.AssertExpectations(t)
	assert.True(t, h.store.Persistent())
}

func TestSessionStore_SingleModeReplacesInBackingStore(t *testing.T) {
	ctx := context.Background()
	repo := new(testutil.MockSessionRepository)
	h := newHarness(t, false, usecase.WithRepository(repo))

	repo.On("ReplaceRecords", mock.Anything, "4321", mock.MatchedBy(func(rec model.Record) bool {
		return rec.Data["name"] == "Hulk"
	})).Return(nil).Once()

	_, err := h.store.CreateSession(ctx, "4321", map[string]interface{}{"name": "Hulk"})
	require.NoError(t, err)
	repo.AssertExpectations(t)
	repo.AssertNotCalled(t, "PushRecord", mock.Anything, mock.Anything, mock.Anything)
}

func TestSessionStore_PersistenceFailureLeavesCacheUntouched(t *testing.T) {
	ctx := context.Background()
	repo := new(testutil.MockSessionRepository)
	h := newHarness(t, true, usecase.WithRepository(repo))
	boom := errors.New("connection reset")

	repo.On("PushRecord", mock.Anything, "123456", mock.Anything).Return(nil).Once()
	tok, err := h.store.CreateSession(ctx, "123456", nil)
	require.NoError(t, err)

	repo.On("PushRecord", mock.Anything, "123456", mock.Anything).Return(boom).Once()
	_, err = h.store.CreateSession(ctx, "123456", nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsPersistence(err))
	assert.ErrorIs(t, err, boom)

	sess, _ := h.store.Get("123456")
	assert.Len(t, sess.Records, 1)

	repo.On("PullRecord", mock.Anything, "123456", mock.Anything).Return(boom).Once()
	active, ok := h.resolve(tok)
	require.True(t, ok)
	assert.True(t, apperrors.IsPersistence(active.Logout(ctx)))
	_, ok = h.resolve(tok)
	assert.True(t, ok, "failed logout keeps the record")

	repo.On("ClearRecords", mock.Anything, "123456").Return(boom).Once()
	assert.True(t, apperrors.IsPersistence(h.store.DeleteUserSessions(ctx, "123456")))
	_, ok = h.resolve(tok)
	assert.True(t, ok)
}

func TestSessionStore_PurgeExpiredSkipsCacheWhenBackingFails(t *testing.T) {
	ctx := context.Background()
	repo := new(testutil.MockSessionRepository)
	h := newHarness(t, false, usecase.WithRepository(repo))

	repo.On("ReplaceRecords", mock.Anything, "123", mock.Anything).Return(nil)
	tok, err := h.store.CreateSession(ctx, "123", nil)
	require.NoError(t, err)

	h.clock.Advance(30 * 24 * time.Hour)
	repo.On("PullExpired", mock.Anything, h.clock.Now()).Return(errors.New("timeout")).Once()

	removed, err := h.store.PurgeExpired(ctx, h.clock.Now())
	require.Error(t, err)
	assert.Zero(t, removed)

	sess, _ := h.store.Get("123")
	assert.Len(t, sess.Records, 1, "cache filter is skipped when the backing update fails")

	_, ok := h.resolve(tok)
	assert.False(t, ok, "expired records never resolve")
}

func TestSessionStore_StartLoadsBackingStore(t *testing.T) {
	ctx := context.Background()
	repo := new(testutil.MockSessionRepository)
	h := newHarness(t, true, usecase.WithRepository(repo))
	fx := testutil.NewRecordFixture(baseTime.Add(-time.Hour))

	tokens, err := security.NewJWTokenService(testutil.TestSecret)
	require.NoError(t, err)
	rec := fx.Record("Hulk", 0, 48*time.Hour)
	tok, err := tokens.Sign(model.Claim{SessionID: "123456", CreatedAt: rec.CreatedAt})
	require.NoError(t, err)

	repo.On("EnsureIndexes", mock.Anything).Return(nil).Once()
	repo.On("PullExpired", mock.Anything, baseTime).Return(nil).Once()
	repo.On("LoadAll", mock.Anything).Return([]*model.Session{
		fx.Session("123456", rec),
		fx.Session("123"),
	}, nil).Once()

	require.NoError(t, h.store.Start(ctx))
	repo.AssertExpectations(t)

	assert.True(t, h.store.Persistent())
	assert.Equal(t, []string{"123", "123456"}, h.store.Sessions())

	active, ok := h.resolve(tok)
	require.True(t, ok)
	assert.Equal(t, "Hulk", active.Data["name"])
}

func TestSessionStore_CreatedAtStaysAheadOfLoadedRecords(t *testing.T) {
	ctx := context.Background()
	repo := new(testutil.MockSessionRepository)
	h := newHarness(t, true, usecase.WithRepository(repo))

	// the previous process ran with a clock five seconds ahead of this one
	fx := testutil.NewRecordFixture(baseTime.Add(5 * time.Second))
	loaded := fx.Record("Hulk", 0, 48*time.Hour)

	repo.On("EnsureIndexes", mock.Anything).Return(nil).Once()
	repo.On("PullExpired", mock.Anything, baseTime).Return(nil).Once()
	repo.On("LoadAll", mock.Anything).Return([]*model.Session{fx.Session("123456", loaded)}, nil).Once()
	repo.On("PushRecord", mock.Anything, "123456", mock.Anything).Return(nil).Once()
	require.NoError(t, h.store.Start(ctx))

	tokens, err := security.NewJWTokenService(testutil.TestSecret)
	require.NoError(t, err)
	oldToken, err := tokens.Sign(model.Claim{SessionID: "123456", CreatedAt: loaded.CreatedAt})
	require.NoError(t, err)

	newToken, err := h.store.CreateSession(ctx, "123456", map[string]interface{}{"name": "Groot"})
	require.NoError(t, err)

	sess, ok := h.store.Get("123456")
	require.True(t, ok)
	require.Len(t, sess.Records, 2)
	assert.True(t, sess.Records[1].CreatedAt.Equal(loaded.CreatedAt.Add(time.Millisecond)))

	active, ok := h.resolve(oldToken)
	require.True(t, ok)
	assert.Equal(t, "Hulk", active.Data["name"])
	active, ok = h.resolve(newToken)
	require.True(t, ok)
	assert.Equal(t, "Groot", active.Data["name"])
	repo.AssertExpectations(t)
}

func TestSessionStore_StartFailureFallsBackToMemory(t *testing.T) {
	ctx := context.Background()
	repo := new(testutil.MockSessionRepository)
	h := newHarness(t, false, usecase.WithRepository(repo))

	repo.On("EnsureIndexes", mock.Anything).Return(errors.New("not primary")).Once()

	err := h.store.Start(ctx)
	require.Error(t, err)
	assert.True(t, apperrors.IsPersistence(err))
	assert.False(t, h.store.Persistent())

	tok, err := h.store.CreateSession(ctx, "123", nil)
	require.NoError(t, err)
	_, ok := h.resolve(tok)
	assert.True(t, ok)
	repo.AssertNotCalled(t, "ReplaceRecords", mock.Anything, mock.Anything, mock.Anything)
}

func TestSessionStore_PublishesLifecycleEvents(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.NewEventBus(nil)
	h := newHarness(t, true, usecase.WithEvents(bus))

	var mu sync.Mutex
	received := make(map[string]int)
	done := make(chan struct{}, 8)
	handler := func(ctx context.Context, e eventbus.Event) error {
		mu.Lock()
		received[e.Type()]++
		mu.Unlock()
		done <- struct{}{}
		return nil
	}
	bus.Subscribe(eventbus.EventTypeSessionCreated, handler)
	bus.Subscribe(eventbus.EventTypeSessionLoggedOut, handler)
	bus.Subscribe(eventbus.EventTypeSessionCleared, handler)

	tok, err := h.store.CreateSession(ctx, "123456", nil)
	require.NoError(t, err)
	active, ok := h.resolve(tok)
	require.True(t, ok)
	require.NoError(t, active.Logout(ctx))
	require.NoError(t, h.store.DeleteUserSessions(ctx, "123456"))

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for session events")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, received[eventbus.EventTypeSessionCreated])
	assert.Equal(t, 1, received[eventbus.EventTypeSessionLoggedOut])
	assert.Equal(t, 1, received[eventbus.EventTypeSessionCleared])
}

func TestSessionStore_LogsCarryOperation(t *testing.T) {
	ctx := context.Background()
	base, hook := logtest.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	h := newHarness(t, true, usecase.WithLogger(logger.NewFromLogrus(base)))

	tok, err := h.store.CreateSession(ctx, "123456", nil)
	require.NoError(t, err)
	active, ok := h.resolve(tok)
	require.True(t, ok)
	require.NoError(t, active.Logout(ctx))

	_, err = h.store.CreateSession(ctx, "123", nil)
	require.NoError(t, err)
	require.NoError(t, h.store.DeleteUserSessions(ctx, "123"))

	_, err = h.store.CreateSession(ctx, "4321", nil)
	require.NoError(t, err)
	h.clock.Advance(30 * 24 * time.Hour)
	removed, err := h.store.PurgeExpired(ctx, h.clock.Now())
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	ops := map[string]bool{}
	for _, entry := range hook.AllEntries() {
		assert.Equal(t, "session-store", entry.Data["component"])
		if op, ok := entry.Data["operation"].(string); ok {
			ops[op] = true
		}
	}
	assert.Equal(t, map[string]bool{"create": true, "logout": true, "clear": true, "sweep": true}, ops)
}
