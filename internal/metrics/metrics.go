// Livesink - Live-Stream Telemetry Ingestor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livesink

// Package metrics defines the Prometheus collectors exported on the ops
// endpoint. Collectors register against the default registry at init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsActive tracks the number of live recorder sessions.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livesink_sessions_active",
		Help: "Number of per-room recorder sessions currently running.",
	})

	// EventsDecoded counts decoded push-channel messages by method.
	EventsDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livesink_events_decoded_total",
		Help: "Push-channel messages decoded, by method.",
	}, []string{"method"})

	// DecodeFailures counts per-message decode errors (logged and skipped).
	DecodeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livesink_decode_failures_total",
		Help: "Push-channel messages that failed to decode, by method.",
	}, []string{"method"})

	// RecordsBuffered counts records appended to the durable buffer by queue.
	RecordsBuffered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livesink_records_buffered_total",
		Help: "Records appended to the durable buffer, by queue.",
	}, []string{"queue"})

	// RecordsFlushed counts records written to the store by queue.
	RecordsFlushed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livesink_records_flushed_total",
		Help: "Records flushed from the durable buffer into the store, by queue.",
	}, []string{"queue"})

	// FlushFailures counts failed flush attempts by queue.
	FlushFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livesink_flush_failures_total",
		Help: "Store flush failures, by queue.",
	}, []string{"queue"})

	// DedupHits counts gift frames dropped as duplicates, by dedup layer.
	DedupHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livesink_gift_dedup_hits_total",
		Help: "Gift frames dropped by deduplication, by layer (l1, l2).",
	}, []string{"layer"})

	// ComboEvictions counts combo-buffer entries flushed by overflow eviction.
	ComboEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livesink_gift_combo_evictions_total",
		Help: "Combo buffer entries evicted early because the buffer was full.",
	})

	// CredentialRotations counts credential pool rotations by cause.
	CredentialRotations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livesink_credential_rotations_total",
		Help: "Credential rotations, by cause (rejected, invalid_response).",
	}, []string{"cause"})

	// ZombieRoomsCleared counts rooms force-ended by the zombie sweep.
	ZombieRoomsCleared = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livesink_zombie_rooms_cleared_total",
		Help: "Rooms marked ended because no telemetry arrived within the timeout.",
	})
)
