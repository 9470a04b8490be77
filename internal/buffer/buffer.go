// Livesink - Live-Stream Telemetry Ingestor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livesink

// Package buffer implements the durable buffer: named FIFO queues on an
// external Redis cache. Records appended here survive a producer crash; the
// store writer pops batches and pushes them back on write failure.
//
// Ordering is guaranteed within one queue only. When the cache is
// unreachable every operation surfaces a transient error; the caller decides
// whether to retain the record in memory.
package buffer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queue names. Each carries opaque serialized records of one event kind.
const (
	QueueChats = "buffer:chats"
	QueueGifts = "buffer:gifts"
	QueueStats = "buffer:stats"
)

// Buffer wraps the Redis list commands backing the durable queues plus the
// single-op create-if-absent used for gift dedup fingerprints.
type Buffer struct {
	rdb *redis.Client
}

// New connects to the cache at the given redis:// URL. The connection is
// lazy; call Ping to verify reachability at startup.
func New(url string) (*Buffer, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse cache url: %w", err)
	}
	return &Buffer{rdb: redis.NewClient(opts)}, nil
}

// Ping verifies the cache is reachable.
func (b *Buffer) Ping(ctx context.Context) error {
	if err := b.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cache ping: %w", err)
	}
	return nil
}

// Append pushes one record onto the tail of the queue.
func (b *Buffer) Append(ctx context.Context, queue string, payload []byte) error {
	if err := b.rdb.RPush(ctx, queue, payload).Err(); err != nil {
		return fmt.Errorf("append %s: %w", queue, err)
	}
	return nil
}

// Len returns the queue length.
func (b *Buffer) Len(ctx context.Context, queue string) (int64, error) {
	n, err := b.rdb.LLen(ctx, queue).Result()
	if err != nil {
		return 0, fmt.Errorf("len %s: %w", queue, err)
	}
	return n, nil
}

// PopBatch atomically removes and returns up to n oldest records from the
// queue. An empty queue yields a nil slice and no error.
func (b *Buffer) PopBatch(ctx context.Context, queue string, n int64) ([]string, error) {
	raw, err := b.rdb.LPopCount(ctx, queue, int(n)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("pop %s: %w", queue, err)
	}
	return raw, nil
}

// DrainAll atomically reads the whole queue and deletes it, for batches that
// may exceed a single pop's cap. Range and delete run in one transaction.
func (b *Buffer) DrainAll(ctx context.Context, queue string) ([]string, error) {
	pipe := b.rdb.TxPipeline()
	rangeCmd := pipe.LRange(ctx, queue, 0, -1)
	pipe.Del(ctx, queue)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("drain %s: %w", queue, err)
	}
	return rangeCmd.Val(), nil
}

// PushBack re-appends raw records to the tail of the queue after a failed
// store write. The next pop returns them in their original relative order
// once the queue drains to them.
func (b *Buffer) PushBack(ctx context.Context, queue string, raw []string) error {
	if len(raw) == 0 {
		return nil
	}
	vals := make([]interface{}, len(raw))
	for i, r := range raw {
		vals[i] = r
	}
	if err := b.rdb.RPush(ctx, queue, vals...).Err(); err != nil {
		return fmt.Errorf("push back %s: %w", queue, err)
	}
	return nil
}

// Restore re-prepends raw records to the head of the queue, preserving their
// order, so the next pop retries the same records first.
func (b *Buffer) Restore(ctx context.Context, queue string, raw []string) error {
	if len(raw) == 0 {
		return nil
	}
	// LPUSH reverses its arguments, so feed them tail-first.
	vals := make([]interface{}, len(raw))
	for i, r := range raw {
		vals[len(raw)-1-i] = r
	}
	if err := b.rdb.LPush(ctx, queue, vals...).Err(); err != nil {
		return fmt.Errorf("restore %s: %w", queue, err)
	}
	return nil
}

// SetFingerprint performs a single-op create-if-absent with TTL. It returns
// true when the key was created (first sighting) and false when it already
// existed (duplicate).
func (b *Buffer) SetFingerprint(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	created, err := b.rdb.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("fingerprint %s: %w", key, err)
	}
	return created, nil
}

// Close releases the cache connection.
func (b *Buffer) Close() error {
	return b.rdb.Close()
}
