package implementation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"analytics-console/internal/repository/contract"
	"analytics-console/pkg/console"

	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "console:session:"

// RedisSessionStateRepository keeps each user's record as one JSON value.
type RedisSessionStateRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisSessionStateRepository stores records without expiry when ttl is zero.
func NewRedisSessionStateRepository(rdb *redis.Client, ttl time.Duration) contract.SessionStateRepository {
	return &RedisSessionStateRepository{rdb: rdb, ttl: ttl}
}

func sessionKey(userID string) string {
	return sessionKeyPrefix + userID
}

func (r *RedisSessionStateRepository) Load(ctx context.Context, userID string) (*console.Session, error) {
	raw, err := r.rdb.Get(ctx, sessionKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var s console.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

func (r *RedisSessionStateRepository) Save(ctx context.Context, session *console.Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return r.rdb.Set(ctx, sessionKey(session.UserID), raw, r.ttl).Err()
}

func (r *RedisSessionStateRepository) Delete(ctx context.Context, userID string) error {
	return r.rdb.Del(ctx, sessionKey(userID)).Err()
}

// Replace swaps the record in one MULTI/EXEC.
func (r *RedisSessionStateRepository) Replace(ctx context.Context, userID string, next *console.Session) error {
	raw, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKey(userID))
		pipe.Set(ctx, sessionKey(next.UserID), raw, r.ttl)
		return nil
	})
	return err
}
