package iamclient

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultSessionTTL = 2 * time.Hour

// RedisSessionStore persists sessions in Redis so multiple nodes share
// them. Records are stored as JSON under a key prefix with a sliding TTL.
type RedisSessionStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger Logger
}

var _ SessionStore = (*RedisSessionStore)(nil)

func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{
		client: client,
		prefix: "iam:session:",
		ttl:    defaultSessionTTL,
		logger: defLogger{},
	}
}

// WithPrefix sets the key prefix, we expect it to
// return the store to chain the call.
func (r *RedisSessionStore) WithPrefix(prefix string) *RedisSessionStore {
	if prefix != "" {
		r.prefix = prefix
	}
	return r
}

func (r *RedisSessionStore) WithTTL(ttl time.Duration) *RedisSessionStore {
	if ttl > 0 {
		r.ttl = ttl
	}
	return r
}

func (r *RedisSessionStore) WithLogger(logger Logger) *RedisSessionStore {
	if logger != nil {
		r.logger = logger
	}
	return r
}

func (r *RedisSessionStore) key(id string) string {
	return r.prefix + id
}

func (r *RedisSessionStore) Load(ctx context.Context, id string) (*SessionRecord, error) {
	if id == "" {
		return NewSessionRecord(""), nil
	}

	raw, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return NewSessionRecord(id), nil
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "session load failed")
	}

	record := NewSessionRecord(id)
	if err := json.Unmarshal(raw, &record.Values); err != nil {
		// A corrupt payload is not worth failing a request over; start
		// the session clean.
		r.logger.Warn("discarding unreadable session %s: %v", id, err)
		record.Values = make(map[string]any)
	}
	return record, nil
}

func (r *RedisSessionStore) Save(ctx context.Context, record *SessionRecord) error {
	if record == nil || record.ID == "" {
		return goerrors.New("cannot save session without id", goerrors.CategoryBadInput)
	}

	raw, err := json.Marshal(record.Values)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "session encode failed")
	}

	if err := r.client.Set(ctx, r.key(record.ID), raw, r.ttl).Err(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "session save failed")
	}
	return nil
}

func (r *RedisSessionStore) Invalidate(ctx context.Context, record *SessionRecord) error {
	if record == nil {
		return nil
	}

	if err := r.client.Del(ctx, r.key(record.ID)).Err(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "session invalidate failed")
	}

	record.ID = uuid.NewString()
	record.Values = make(map[string]any)
	return nil
}

func (r *RedisSessionStore) RegenerateID(ctx context.Context, record *SessionRecord) error {
	if record == nil {
		return nil
	}

	oldKey := r.key(record.ID)
	record.ID = uuid.NewString()

	if err := r.Save(ctx, record); err != nil {
		return err
	}

	if err := r.client.Del(ctx, oldKey).Err(); err != nil {
		r.logger.Warn("failed to drop rotated session key %s: %v", oldKey, err)
	}
	return nil
}
