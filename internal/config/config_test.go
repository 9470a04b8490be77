// Livesink - Live-Stream Telemetry Ingestor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livesink

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := defaultConfig()

	assert.Equal(t, 20*time.Second, cfg.Recorder.ScanInterval)
	assert.Equal(t, 180*time.Second, cfg.Recorder.ZombieTimeout)
	assert.Equal(t, 500, cfg.Writer.BatchSize)
	assert.Equal(t, 100, cfg.Writer.StatsBatchSize)
	assert.Equal(t, 5*time.Second, cfg.Writer.BufferTimeout)
	assert.Equal(t, 10000, cfg.Aggregator.MaxBufferSize)
	assert.Equal(t, 10*time.Second, cfg.Aggregator.FlushTimeout)
	assert.Equal(t, 600*time.Second, cfg.Aggregator.DedupTTL)

	require.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("STORE_URL", "mongodb://db:27017")
	t.Setenv("STORE_DB", "livetest")
	t.Setenv("CACHE_URL", "redis://cache:6379/1")
	t.Setenv("SCAN_INTERVAL", "45s")
	t.Setenv("ZOMBIE_TIMEOUT", "300s")
	t.Setenv("BATCH_SIZE", "250")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "mongodb://db:27017", cfg.Store.URL)
	assert.Equal(t, "livetest", cfg.Store.Database)
	assert.Equal(t, "redis://cache:6379/1", cfg.Cache.URL)
	assert.Equal(t, 45*time.Second, cfg.Recorder.ScanInterval)
	assert.Equal(t, 300*time.Second, cfg.Recorder.ZombieTimeout)
	assert.Equal(t, 250, cfg.Writer.BatchSize)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestEnvTransformSkipsUnmapped(t *testing.T) {
	assert.Equal(t, "", envTransformFunc("PATH"))
	assert.Equal(t, "", envTransformFunc("HOME"))
	assert.Equal(t, "store.url", envTransformFunc("STORE_URL"))
	assert.Equal(t, "recorder.scan_interval", envTransformFunc("SCAN_INTERVAL"))
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := defaultConfig()
	cfg.Writer.BatchSize = 0
	assert.Error(t, cfg.Validate())

	cfg = defaultConfig()
	cfg.Store.URL = ""
	assert.Error(t, cfg.Validate())
}
