package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dontdude/codestream/internal/domain"
)

// maxTxRetries bounds optimistic retries when a watched key changes mid-update.
const maxTxRetries = 8

// RedisStore implements domain.ExecutionStore with one JSON value per record.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// Ensure RedisStore satisfies the interface
var _ domain.ExecutionStore = (*RedisStore)(nil)

// NewRedisStore returns a new Redis-backed store.
// It pings the server so a bad address fails at startup.
func NewRedisStore(ctx context.Context, addr, prefix string) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	// Fail-fast ping check
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{
		client: rdb,
		prefix: prefix,
	}, nil
}

func (r *RedisStore) key(id string) string {
	return r.prefix + id
}

// Create stores e with SETNX so an existing id is never overwritten.
func (r *RedisStore) Create(ctx context.Context, e *domain.Execution) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}

	ok, err := r.client.SetNX(ctx, r.key(e.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("redis create failed: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrExists, e.ID)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*domain.Execution, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return decode(data)
}

// Update runs fn inside WATCH/MULTI and retries when another writer won the race.
func (r *RedisStore) Update(ctx context.Context, id string, fn func(*domain.Execution) error) (*domain.Execution, error) {
	key := r.key(id)

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		var updated *domain.Execution

		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return domain.ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("redis get failed: %w", err)
			}

			e, err := decode(data)
			if err != nil {
				return err
			}
			if err := fn(e); err != nil {
				return err
			}

			out, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("failed to marshal execution: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, out, 0)
				return nil
			})
			if err != nil {
				return err
			}
			updated = e
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}

	return nil, fmt.Errorf("redis update of %s kept conflicting after %d attempts", id, maxTxRetries)
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func decode(data []byte) (*domain.Execution, error) {
	var e domain.Execution
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}
	return &e, nil
}
