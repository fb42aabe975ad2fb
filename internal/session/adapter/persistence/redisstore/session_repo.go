package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"session-registry/internal/session/domain/model"

	"github.com/redis/go-redis/v9"
)

// maxTxRetries bounds optimistic-lock retries when a watched key changes mid-update.
const maxTxRetries = 8

// ErrTxConflict is returned when an update keeps losing the optimistic lock.
var ErrTxConflict = errors.New("session document changed concurrently, retries exhausted")

// RedisSessionRepository stores one JSON document per session id under
// <prefix>:<namespace>:doc:<sessionId> and tracks ids in a set so the whole
// collection can be scanned without KEYS.
type RedisSessionRepository struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisSessionRepository creates a repository whose keys live under prefix:namespace.
func NewRedisSessionRepository(client *redis.Client, prefix, namespace string) *RedisSessionRepository {
	return &RedisSessionRepository{
		client:    client,
		keyPrefix: prefix + ":" + namespace,
	}
}

func (r *RedisSessionRepository) docKey(sessionID string) string {
	return r.keyPrefix + ":doc:" + sessionID
}

func (r *RedisSessionRepository) indexKey() string {
	return r.keyPrefix + ":ids"
}

// EnsureIndexes is a no-op: the id set is maintained on every write.
func (r *RedisSessionRepository) EnsureIndexes(ctx context.Context) error {
	return nil
}

// PushRecord appends rec, creating the document when missing.
func (r *RedisSessionRepository) PushRecord(ctx context.Context, sessionID string, rec model.Record) error {
	err := r.update(ctx, sessionID, true, func(s *model.Session) {
		s.Records = append(s.Records, rec)
	})
	if err != nil {
		return fmt.Errorf("push record for session %s: %w", sessionID, err)
	}
	return nil
}

// ReplaceRecords sets the record list to [rec], creating the document when missing.
func (r *RedisSessionRepository) ReplaceRecords(ctx context.Context, sessionID string, rec model.Record) error {
	err := r.update(ctx, sessionID, true, func(s *model.Session) {
		s.Records = []model.Record{rec}
	})
	if err != nil {
		return fmt.Errorf("replace records for session %s: %w", sessionID, err)
	}
	return nil
}

// ClearRecords empties the record list of an existing document.
func (r *RedisSessionRepository) ClearRecords(ctx context.Context, sessionID string) error {
	err := r.update(ctx, sessionID, false, func(s *model.Session) {
		s.Records = []model.Record{}
	})
	if err != nil {
		return fmt.Errorf("clear records for session %s: %w", sessionID, err)
	}
	return nil
}

// PullRecord removes the record created at createdAt.
func (r *RedisSessionRepository) PullRecord(ctx context.Context, sessionID string, createdAt time.Time) error {
	err := r.update(ctx, sessionID, false, func(s *model.Session) {
		s.Records = filterRecords(s.Records, func(rec model.Record) bool {
			return !rec.CreatedAt.Equal(createdAt)
		})
	})
	if err != nil {
		return fmt.Errorf("pull record for session %s: %w", sessionID, err)
	}
	return nil
}

// PullExpired removes records with expiresAt <= now from every document.
func (r *RedisSessionRepository) PullExpired(ctx context.Context, now time.Time) error {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return fmt.Errorf("pull expired records: %w", err)
	}

	for _, id := range ids {
		err := r.update(ctx, id, false, func(s *model.Session) {
			s.Records = filterRecords(s.Records, func(rec model.Record) bool {
				return !rec.Expired(now)
			})
		})
		if err != nil {
			return fmt.Errorf("pull expired records for session %s: %w", id, err)
		}
	}
	return nil
}

// LoadAll returns every stored document ordered by session id.
func (r *RedisSessionRepository) LoadAll(ctx context.Context) ([]*model.Session, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list session ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.docKey(id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}

	sessions := make([]*model.Session, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// id indexed but document gone
			continue
		}
		var s model.Session
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("decode session %s: %w", ids[i], err)
		}
		sessions = append(sessions, &s)
	}
	return sessions, nil
}

// Ping checks the server is reachable.
func (r *RedisSessionRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// update applies mutate to the stored document under WATCH. When create is false
// and the document does not exist, nothing is written.
func (r *RedisSessionRepository) update(ctx context.Context, sessionID string, create bool, mutate func(*model.Session)) error {
	key := r.docKey(sessionID)

	txf := func(tx *redis.Tx) error {
		s := &model.Session{SessionID: sessionID, Records: []model.Record{}}

		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if !create {
				return nil
			}
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(raw, s); err != nil {
				return fmt.Errorf("decode session %s: %w", sessionID, err)
			}
		}

		mutate(s)
		if s.Records == nil {
			s.Records = []model.Record{}
		}

		payload, err := json.Marshal(s)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			pipe.SAdd(ctx, r.indexKey(), sessionID)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrTxConflict
}

func filterRecords(records []model.Record, keep func(model.Record) bool) []model.Record {
	out := make([]model.Record, 0, len(records))
	for _, rec := range records {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	return out
}
