// Livesink - Live-Stream Telemetry Ingestor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livesink

// Package supervisor holds the suture supervision tree and the recorder
// service that turns follow-list scans into running room sessions.
package supervisor

import (
	"context"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/tomtom215/livesink/internal/logging"
)

// TreeConfig holds supervision parameters shared by every layer.
type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff.
	FailureThreshold float64
	// FailureDecay is the rate at which failures decay, in seconds.
	FailureDecay float64
	// FailureBackoff is the wait when the threshold is exceeded.
	FailureBackoff time.Duration
	// ShutdownTimeout bounds graceful shutdown of each service.
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig returns suture's documented defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree is the livesink supervision hierarchy:
//
//   - pipeline: the gift sweeper and other write-path background services
//   - recorder: discovery plus one child per running room session
//   - ops: the operational HTTP listener
//
// A crashing session only churns the recorder layer; the write path and the
// ops listener keep running.
type Tree struct {
	root     *suture.Supervisor
	pipeline *suture.Supervisor
	recorder *suture.Supervisor
	ops      *suture.Supervisor
	config   TreeConfig
}

// NewTree builds the supervision tree. Suture events are logged through the
// zerolog-backed slog adapter.
func NewTree(config TreeConfig) *Tree {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5.0
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = 30.0
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = 15 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	handler := &sutureslog.Handler{Logger: logging.NewSlogLogger()}
	rootSpec := suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	root := suture.New("livesink", rootSpec)
	pipeline := suture.New("pipeline", childSpec)
	recorder := suture.New("recorder", childSpec)
	ops := suture.New("ops", childSpec)

	root.Add(pipeline)
	root.Add(recorder)
	root.Add(ops)

	return &Tree{
		root:     root,
		pipeline: pipeline,
		recorder: recorder,
		ops:      ops,
		config:   config,
	}
}

// AddPipelineService adds a write-path background service.
func (t *Tree) AddPipelineService(svc suture.Service) suture.ServiceToken {
	return t.pipeline.Add(svc)
}

// AddRecorderService adds the recorder itself or a room session.
func (t *Tree) AddRecorderService(svc suture.Service) suture.ServiceToken {
	return t.recorder.Add(svc)
}

// AddOpsService adds the operational HTTP listener.
func (t *Tree) AddOpsService(svc suture.Service) suture.ServiceToken {
	return t.ops.Add(svc)
}

// Sessions returns the supervisor room sessions run under, for the recorder
// to add and remove children dynamically.
func (t *Tree) Sessions() *suture.Supervisor { return t.recorder }

// Serve runs the tree until the context is canceled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground runs the tree in a goroutine; the channel receives the
// terminal error.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that ignored the shutdown timeout.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
