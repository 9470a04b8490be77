// Livesink - Live-Stream Telemetry Ingestor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livesink

// Package main is the entry point for the Livesink ingestor.
//
// Livesink watches one account's follow list on a live-streaming platform,
// opens a push-channel session for every room that goes live, and lands the
// resulting telemetry (chat, gifts, viewer counters, battle settlements) in
// a document store, buffered through a durable cache queue.
//
// # Startup order
//
//  1. Configuration: Koanf v2 with layered sources (env > file > defaults)
//  2. Durable buffer: Redis, connected with exponential backoff
//  3. Document store: MongoDB, connected with exponential backoff, then
//     time-series collections and indexes are ensured
//  4. Credential pool: loaded from the store; an empty pool refuses to start
//  5. Signature oracle: external signer sidecar, when configured
//  6. Supervision tree: gift sweeper, recorder, ops listener
//
// # Shutdown
//
// On SIGINT/SIGTERM the tree stops: sessions drain, the gift aggregator
// flushes its buffered combos, and the store performs a final flush of the
// three durable queues before disconnecting. Records still queued in the
// buffer survive a crash and are picked up on the next start.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/livesink/internal/buffer"
	"github.com/tomtom215/livesink/internal/config"
	"github.com/tomtom215/livesink/internal/credentials"
	"github.com/tomtom215/livesink/internal/gift"
	"github.com/tomtom215/livesink/internal/logging"
	"github.com/tomtom215/livesink/internal/ops"
	"github.com/tomtom215/livesink/internal/platform"
	"github.com/tomtom215/livesink/internal/session"
	"github.com/tomtom215/livesink/internal/signing"
	"github.com/tomtom215/livesink/internal/store"
	"github.com/tomtom215/livesink/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		logging.Err(err).Msg("livesink exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Msg("livesink starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	buf, err := connectBuffer(ctx, cfg.Cache.URL)
	if err != nil {
		return err
	}
	defer func() {
		if err := buf.Close(); err != nil {
			logging.Err(err).Msg("buffer close failed")
		}
	}()

	st, err := connectStore(ctx, cfg, buf)
	if err != nil {
		return err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	pool, err := credentials.NewPool(ctx, st)
	if err != nil {
		if errors.Is(err, credentials.ErrPoolEmpty) {
			return errors.New("no platform credentials provisioned, refusing to start")
		}
		return fmt.Errorf("load credential pool: %w", err)
	}

	var oracle signing.Oracle
	if cfg.Platform.SignerURL != "" {
		oracle = signing.NewHTTPOracle(cfg.Platform.SignerURL, cfg.Platform.RequestTimeout)
	} else {
		logging.Warn().Msg("no signature oracle configured, requests go out unsigned")
	}

	client := platform.NewClient(platform.Config{
		WebBase:        cfg.Platform.WebBase,
		LiveBase:       cfg.Platform.LiveBase,
		UserAgent:      cfg.Platform.UserAgent,
		RequestTimeout: cfg.Platform.RequestTimeout,
	}, pool, oracle)

	aggregator := gift.New(st, buf, gift.Config{
		FlushTimeout:  cfg.Aggregator.FlushTimeout,
		MaxBufferSize: cfg.Aggregator.MaxBufferSize,
		SweepInterval: cfg.Aggregator.SweepInterval,
		DedupTTL:      cfg.Aggregator.DedupTTL,
	})

	tree := supervisor.NewTree(supervisor.DefaultTreeConfig())
	tree.AddPipelineService(aggregator)

	sessionCfg := session.Config{
		PushURL:           cfg.Platform.PushURL,
		HeartbeatInterval: cfg.Recorder.HeartbeatInterval,
		ThrottleInterval:  cfg.Recorder.ThrottleInterval,
	}
	recorder := supervisor.NewRecorder(client, st, pool, tree.Sessions(),
		func(seed platform.Seed) suture.Service {
			return session.New(seed, st, aggregator, client, oracle, sessionCfg)
		},
		supervisor.RecorderConfig{
			ScanInterval:  cfg.Recorder.ScanInterval,
			PageSize:      cfg.Recorder.PageSize,
			PageDelay:     cfg.Recorder.PageDelay,
			ZombieTimeout: cfg.Recorder.ZombieTimeout,
		})
	tree.AddRecorderService(recorder)

	if cfg.Ops.Enabled {
		tree.AddOpsService(ops.NewServer(cfg.Ops.Addr, map[string]ops.Check{
			"cache": buf.Ping,
			"store": st.Ping,
		}, 0))
	}

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Err(err).Msg("supervision tree stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	aggregator.FlushAll(shutdownCtx)
	if err := st.Close(shutdownCtx); err != nil {
		logging.Err(err).Msg("store close failed")
	}
	logging.Info().Msg("livesink stopped")
	return nil
}

// connectBuffer opens the durable buffer, retrying with exponential backoff
// so the ingestor survives the cache coming up after it.
func connectBuffer(ctx context.Context, url string) (*buffer.Buffer, error) {
	var buf *buffer.Buffer
	operation := func() error {
		b, err := buffer.New(url)
		if err != nil {
			return err
		}
		if err := b.Ping(ctx); err != nil {
			_ = b.Close()
			return err
		}
		buf = b
		return nil
	}
	policy := backoff.WithContext(newConnectBackoff(), ctx)
	if err := backoff.RetryNotify(operation, policy, func(err error, next time.Duration) {
		logging.Warn().Err(err).Dur("retry_in", next).Msg("buffer not ready")
	}); err != nil {
		return nil, fmt.Errorf("connect buffer: %w", err)
	}
	return buf, nil
}

// connectStore opens the document store with the same backoff policy.
func connectStore(ctx context.Context, cfg *config.Config, buf *buffer.Buffer) (*store.Store, error) {
	var st *store.Store
	operation := func() error {
		s, err := store.Connect(ctx, cfg.Store.URL, cfg.Store.Database,
			cfg.Store.ConnectTimeout, buf, store.Config{
				BatchSize:      cfg.Writer.BatchSize,
				StatsBatchSize: cfg.Writer.StatsBatchSize,
				BufferTimeout:  cfg.Writer.BufferTimeout,
			})
		if err != nil {
			return err
		}
		st = s
		return nil
	}
	policy := backoff.WithContext(newConnectBackoff(), ctx)
	if err := backoff.RetryNotify(operation, policy, func(err error, next time.Duration) {
		logging.Warn().Err(err).Dur("retry_in", next).Msg("store not ready")
	}); err != nil {
		return nil, fmt.Errorf("connect store: %w", err)
	}
	return st, nil
}

func newConnectBackoff() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = 15 * time.Second
	policy.MaxElapsedTime = 2 * time.Minute
	return policy
}
