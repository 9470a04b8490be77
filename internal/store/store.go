// Livesink - Live-Stream Telemetry Ingestor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livesink

package store

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/tomtom215/livesink/internal/buffer"
	"github.com/tomtom215/livesink/internal/logging"
)

// Collection names.
const (
	colGifts        = "live_gifts"
	colChats        = "live_chats"
	colStats        = "live_stats"
	colRooms        = "rooms"
	colBroadcasters = "broadcasters"
	colBattles      = "battle_history"
	colCookies      = "settings_cookies"
)

// Config tunes the buffered write path.
type Config struct {
	// BatchSize triggers a chat/gift flush when a queue reaches it.
	BatchSize int
	// StatsBatchSize triggers a stats flush when the stats queue reaches it.
	StatsBatchSize int
	// BufferTimeout triggers a flush when the shared pacer is older than
	// this, regardless of queue length.
	BufferTimeout time.Duration
}

// Store is the process-wide writer over the document store and the durable
// buffer. Safe for concurrent use.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	buf    *buffer.Buffer
	cfg    Config

	// lastWrite is the shared flush pacer, unix nanos. A single value
	// covers all three queues: a fresh chat flush delays the time-based
	// trigger for gifts and stats too. Known quirk, kept on purpose.
	lastWrite atomic.Int64

	now func() time.Time
}

// Connect opens the store client and verifies the deployment is reachable.
func Connect(ctx context.Context, url, database string, connectTimeout time.Duration, buf *buffer.Buffer, cfg Config) (*Store, error) {
	opts := options.Client().ApplyURI(url)
	if connectTimeout > 0 {
		opts = opts.SetServerSelectionTimeout(connectTimeout)
	}
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("connect store: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping store: %w", err)
	}

	s := &Store{
		client: client,
		db:     client.Database(database),
		buf:    buf,
		cfg:    cfg,
		now:    time.Now,
	}
	s.lastWrite.Store(s.now().UnixNano())
	logging.Info().Str("database", database).Msg("store connected")
	return s, nil
}

// Ping verifies the deployment is still reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("ping store: %w", err)
	}
	return nil
}

// Close flushes the three durable queues a final time and disconnects.
func (s *Store) Close(ctx context.Context) error {
	if err := s.FlushChats(ctx); err != nil {
		logging.Err(err).Msg("final chat flush failed")
	}
	if err := s.FlushGifts(ctx); err != nil {
		logging.Err(err).Msg("final gift flush failed")
	}
	if err := s.FlushStats(ctx); err != nil {
		logging.Err(err).Msg("final stat flush failed")
	}
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect store: %w", err)
	}
	return nil
}

// touchLastWrite resets the shared pacer to now.
func (s *Store) touchLastWrite() {
	s.lastWrite.Store(s.now().UnixNano())
}

// pacerStale reports whether the shared pacer is older than the buffer
// timeout.
func (s *Store) pacerStale() bool {
	return s.now().Sub(time.Unix(0, s.lastWrite.Load())) > s.cfg.BufferTimeout
}
