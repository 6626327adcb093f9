// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package queue

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/juju/clock"
	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/changewatch/internal/config"
	"github.com/tomtom215/changewatch/internal/metrics"
	"github.com/tomtom215/changewatch/internal/models"
)

// RedisStore implements Store with one Redis list per client.
// The list TTL is refreshed on every enqueue, so an idle queue disappears
// one retention window after its newest entry.
type RedisStore struct {
	client *redis.Client
	prefix string
	opts   Options
	clock  clock.Clock
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     20,
		MinIdleConns: 2,
		MaxRetries:   3,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisStore wraps a connected client. A nil clk uses the wall clock.
func NewRedisStore(client *redis.Client, prefix string, opts Options, clk clock.Clock) *RedisStore {
	if clk == nil {
		clk = clock.WallClock
	}
	return &RedisStore{client: client, prefix: prefix, opts: opts, clock: clk}
}

func (s *RedisStore) key(clientID string) string {
	return s.prefix + clientID
}

// Enqueue implements Store.
func (s *RedisStore) Enqueue(ctx context.Context, clientID string, msg models.Message) error {
	data, err := json.Marshal(models.QueuedMessage{ClientID: clientID, Payload: msg, QueuedAt: s.clock.Now()})
	if err != nil {
		return fmt.Errorf("marshal queued message: %w", err)
	}

	key := s.key(clientID)
	pipe := s.client.TxPipeline()
	push := pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, int64(-s.opts.MaxSize), -1)
	pipe.PExpire(ctx, key, s.opts.Retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue for %s: %w", clientID, err)
	}

	if over := push.Val() - int64(s.opts.MaxSize); over > 0 {
		metrics.QueueEvictions.Add(float64(over))
	}
	return nil
}

// Requeue implements Store. LPUSH prepends one value at a time, so the
// entries are pushed newest first.
func (s *RedisStore) Requeue(ctx context.Context, clientID string, entries []models.QueuedMessage) error {
	if len(entries) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		e.ClientID = clientID
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal queued message: %w", err)
		}
		values = append(values, data)
	}

	key := s.key(clientID)
	pipe := s.client.TxPipeline()
	push := pipe.LPush(ctx, key, values...)
	pipe.LTrim(ctx, key, int64(-s.opts.MaxSize), -1)
	pipe.PExpire(ctx, key, s.opts.Retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("requeue for %s: %w", clientID, err)
	}

	if over := push.Val() - int64(s.opts.MaxSize); over > 0 {
		metrics.QueueEvictions.Add(float64(over))
	}
	return nil
}

// Drain implements Store.
func (s *RedisStore) Drain(ctx context.Context, clientID string) ([]models.QueuedMessage, error) {
	key := s.key(clientID)
	pipe := s.client.TxPipeline()
	rng := pipe.LRange(ctx, key, 0, -1)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("drain %s: %w", clientID, err)
	}

	raw := rng.Val()
	entries := make([]models.QueuedMessage, 0, len(raw))
	for _, item := range raw {
		var qm models.QueuedMessage
		if err := json.Unmarshal([]byte(item), &qm); err != nil {
			return nil, fmt.Errorf("decode queued message for %s: %w", clientID, err)
		}
		entries = append(entries, qm)
	}
	return unexpired(entries, s.clock.Now().Add(-s.opts.Retention)), nil
}

// Discard implements Store.
func (s *RedisStore) Discard(ctx context.Context, clientID string) error {
	if err := s.client.Del(ctx, s.key(clientID)).Err(); err != nil {
		return fmt.Errorf("discard %s: %w", clientID, err)
	}
	return nil
}

// Len implements Store.
func (s *RedisStore) Len(ctx context.Context, clientID string) (int, error) {
	n, err := s.client.LLen(ctx, s.key(clientID)).Result()
	if err != nil {
		return 0, fmt.Errorf("len %s: %w", clientID, err)
	}
	return int(n), nil
}

// Sweep implements Store. Redis expires idle lists on its own and Drain
// filters stale entries, so there is nothing to do.
func (s *RedisStore) Sweep(ctx context.Context) (int, error) {
	return 0, nil
}
