package testutil

import (
	"context"
	"time"

	"session-registry/internal/session/config"
	"session-registry/internal/session/domain/model"

	"github.com/stretchr/testify/mock"
)

// TestSecret is the signing secret used across session tests.
const TestSecret = "test-secret-key-for-session-registry"

// Config returns a memory-only configuration with the given retention mode.
func Config(multi bool) *config.Config {
	cfg := config.Default()
	cfg.Secret = TestSecret
	cfg.Multi = multi
	return cfg
}

// RecordFixture provides test data for session records
type RecordFixture struct {
	Base time.Time
}

// NewRecordFixture creates a fixture anchored at base.
func NewRecordFixture(base time.Time) *RecordFixture {
	return &RecordFixture{Base: base}
}

// Record returns a record created offset after Base, valid for ttl.
func (f *RecordFixture) Record(name string, offset, ttl time.Duration) model.Record {
	created := f.Base.Add(offset)
	return model.Record{
		Data:      map[string]interface{}{"name": name},
		CreatedAt: created,
		ExpiresAt: created.Add(ttl),
	}
}

// Session wraps records into a Session.
func (f *RecordFixture) Session(sessionID string, records ...model.Record) *model.Session {
	if records == nil {
		records = []model.Record{}
	}
	return &model.Session{SessionID: sessionID, Records: records}
}

// MockSessionRepository is a testify mock of repository.SessionRepository.
type MockSessionRepository struct {
	mock.Mock
}

func (m *MockSessionRepository) PushRecord(ctx context.Context, sessionID string, rec model.Record) error {
	args := m.Called(ctx, sessionID, rec)
	return args.Error(0)
}

func (m *MockSessionRepository) ReplaceRecords(ctx context.Context, sessionID string, rec model.Record) error {
	args := m.Called(ctx, sessionID, rec)
	return args.Error(0)
}

func (m *MockSessionRepository) ClearRecords(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *MockSessionRepository) PullRecord(ctx context.Context, sessionID string, createdAt time.Time) error {
	args := m.Called(ctx, sessionID, createdAt)
	return args.Error(0)
}

func (m *MockSessionRepository) PullExpired(ctx context.Context, now time.Time) error {
	args := m.Called(ctx, now)
	return args.Error(0)
}

func (m *MockSessionRepository) LoadAll(ctx context.Context) ([]*model.Session, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Session), args.Error(1)
}

func (m *MockSessionRepository) EnsureIndexes(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockSessionRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
