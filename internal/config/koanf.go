// Livesink - Live-Stream Telemetry Ingestor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livesink

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/livesink/config.yaml",
	"/etc/livesink/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			URL:            "mongodb://localhost:27017",
			Database:       "livesink",
			ConnectTimeout: 5 * time.Second,
		},
		Cache: CacheConfig{
			URL: "redis://localhost:6379/0",
		},
		Platform: PlatformConfig{
			WebBase:  "https://www.douyin.com",
			LiveBase: "https://live.douyin.com",
			PushURL:  "wss://webcast100-ws-web-lq.douyin.com/webcast/im/push/v2/",
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
				"(KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
			RequestTimeout: 15 * time.Second,
		},
		Recorder: RecorderConfig{
			ScanInterval:      20 * time.Second,
			PageSize:          20,
			PageDelay:         time.Second,
			ZombieTimeout:     180 * time.Second,
			HeartbeatInterval: 10 * time.Second,
			ThrottleInterval:  2 * time.Second,
		},
		Writer: WriterConfig{
			BatchSize:      500,
			StatsBatchSize: 100,
			BufferTimeout:  5 * time.Second,
		},
		Aggregator: AggregatorConfig{
			FlushTimeout:  10 * time.Second,
			MaxBufferSize: 10000,
			SweepInterval: time.Second,
			DedupTTL:      600 * time.Second,
		},
		Ops: OpsConfig{
			Enabled: true,
			Addr:    ":9480",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config File: optional YAML config file (if exists)
//  3. Environment Variables: override any setting
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Transform environment variable names to koanf paths:
	// STORE_URL -> store.url, SCAN_INTERVAL -> recorder.scan_interval
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps flat environment variable names to nested config
// paths. Unmapped variables are skipped so random environment noise does not
// pollute the configuration.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Store mappings
		"store_url":             "store.url",
		"store_db":              "store.database",
		"store_connect_timeout": "store.connect_timeout",

		// Cache mappings
		"cache_url": "cache.url",

		// Platform mappings
		"platform_web_base":  "platform.web_base",
		"platform_live_base": "platform.live_base",
		"platform_push_url":  "platform.push_url",
		"signer_url":         "platform.signer_url",
		"user_agent":         "platform.user_agent",
		"request_timeout":    "platform.request_timeout",

		// Recorder mappings
		"scan_interval":      "recorder.scan_interval",
		"page_size":          "recorder.page_size",
		"page_delay":         "recorder.page_delay",
		"zombie_timeout":     "recorder.zombie_timeout",
		"heartbeat_interval": "recorder.heartbeat_interval",
		"throttle_interval":  "recorder.throttle_interval",

		// Writer mappings
		"batch_size":       "writer.batch_size",
		"stats_batch_size": "writer.stats_batch_size",
		"buffer_timeout":   "writer.buffer_timeout",

		// Aggregator mappings
		"gift_flush_timeout":  "aggregator.flush_timeout",
		"gift_buffer_size":    "aggregator.max_buffer_size",
		"gift_sweep_interval": "aggregator.sweep_interval",
		"gift_dedup_ttl":      "aggregator.dedup_ttl",

		// Ops mappings
		"ops_enabled": "ops.enabled",
		"ops_addr":    "ops.addr",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
