// Livesink - Live-Stream Telemetry Ingestor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livesink

// Package store implements the MongoDB store writer: room and broadcaster
// upserts, battle history, and the buffered time-series write path for chat,
// gift, and viewer-stat records.
//
// High-volume records never hit the store directly. Producers call
// BufferChat, BufferGift, or BufferStat, which append to the durable buffer
// and advisorily trigger a flush when a queue reaches its batch size or the
// shared write pacer goes stale. Flushes pop a batch, insert unordered into
// the matching time-series collection, and roll per-room aggregates into the
// rooms collection. Rollback differs per queue: gifts push back to the tail,
// stats restore at the head, chats drop (documented asymmetry).
package store
