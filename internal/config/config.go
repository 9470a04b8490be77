// Livesink - Live-Stream Telemetry Ingestor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livesink

// Package config loads Livesink configuration via Koanf v2 with layered
// sources: built-in defaults, an optional YAML config file, and environment
// variables (highest priority).
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the ingestor.
type Config struct {
	Store      StoreConfig      `koanf:"store" validate:"required"`
	Cache      CacheConfig      `koanf:"cache" validate:"required"`
	Platform   PlatformConfig   `koanf:"platform"`
	Recorder   RecorderConfig   `koanf:"recorder"`
	Writer     WriterConfig     `koanf:"writer"`
	Aggregator AggregatorConfig `koanf:"aggregator"`
	Ops        OpsConfig        `koanf:"ops"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// StoreConfig configures the MongoDB document store.
type StoreConfig struct {
	// URL is the mongodb:// connection string.
	URL string `koanf:"url" validate:"required"`
	// Database is the database name holding all collections.
	Database string `koanf:"database" validate:"required"`
	// ConnectTimeout bounds the startup server selection.
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
}

// CacheConfig configures the Redis durable buffer.
type CacheConfig struct {
	// URL is the redis:// connection string.
	URL string `koanf:"url" validate:"required"`
}

// PlatformConfig configures the live-streaming platform endpoints.
type PlatformConfig struct {
	// WebBase is the base URL of the platform's web API (following list).
	WebBase string `koanf:"web_base" validate:"required,url"`
	// LiveBase is the base URL of the live site (room detail, ttwid).
	LiveBase string `koanf:"live_base" validate:"required,url"`
	// PushURL is the websocket push-channel endpoint.
	PushURL string `koanf:"push_url" validate:"required"`
	// SignerURL is the HTTP signature oracle computing a_bogus and the
	// push-channel signature. Opaque to the ingestor.
	SignerURL string `koanf:"signer_url"`
	// UserAgent is sent on every platform request and fed to the oracle.
	UserAgent string `koanf:"user_agent"`
	// RequestTimeout bounds each platform HTTP request.
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// RecorderConfig configures discovery and per-room sessions.
type RecorderConfig struct {
	// ScanInterval is the pause between follow-list scans.
	ScanInterval time.Duration `koanf:"scan_interval" validate:"min=1s"`
	// PageSize is the follow-list page size.
	PageSize int `koanf:"page_size" validate:"min=1"`
	// PageDelay is the pause between follow-list pages.
	PageDelay time.Duration `koanf:"page_delay"`
	// ZombieTimeout marks live rooms with no writes for this long as ended.
	ZombieTimeout time.Duration `koanf:"zombie_timeout" validate:"min=1s"`
	// HeartbeatInterval is the push-channel heartbeat period.
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	// ThrottleInterval bounds viewer-count and like handling per room.
	ThrottleInterval time.Duration `koanf:"throttle_interval"`
}

// WriterConfig configures the buffered store write path.
type WriterConfig struct {
	// BatchSize triggers a chat/gift flush when a queue reaches it.
	BatchSize int `koanf:"batch_size" validate:"min=1"`
	// StatsBatchSize triggers a stats flush when the stats queue reaches it.
	StatsBatchSize int `koanf:"stats_batch_size" validate:"min=1"`
	// BufferTimeout triggers a flush when this much time passed since the
	// last write, regardless of queue length.
	BufferTimeout time.Duration `koanf:"buffer_timeout" validate:"min=100ms"`
}

// AggregatorConfig configures the gift aggregation engine.
type AggregatorConfig struct {
	// FlushTimeout evicts combo entries idle for this long.
	FlushTimeout time.Duration `koanf:"flush_timeout" validate:"min=1s"`
	// MaxBufferSize bounds the combo buffer; overflow evicts the head.
	MaxBufferSize int `koanf:"max_buffer_size" validate:"min=1"`
	// SweepInterval is the eviction sweep period.
	SweepInterval time.Duration `koanf:"sweep_interval"`
	// DedupTTL is the L2 fingerprint lifetime in the cache.
	DedupTTL time.Duration `koanf:"dedup_ttl"`
}

// OpsConfig configures the operational HTTP endpoint.
type OpsConfig struct {
	// Enabled toggles the /healthz and /metrics listener.
	Enabled bool `koanf:"enabled"`
	// Addr is the listen address.
	Addr string `koanf:"addr"`
}

// LoggingConfig configures the zerolog output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
