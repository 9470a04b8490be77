// Livesink - Live-Stream Telemetry Ingestor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livesink

package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/tomtom215/livesink/internal/buffer"
	"github.com/tomtom215/livesink/internal/logging"
	"github.com/tomtom215/livesink/internal/metrics"
	"github.com/tomtom215/livesink/internal/records"
)

// giftFlushBatch bounds one gifts pop; statFlushBatch one stats pop. Chats
// drain the whole queue instead, since a busy room can outrun any fixed cap.
const (
	giftFlushBatch = 1000
	statFlushBatch = 500
)

// BufferChat appends a chat record to the durable buffer and advisorily
// triggers a flush.
func (s *Store) BufferChat(ctx context.Context, c *records.Chat) error {
	if c == nil {
		return nil
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	data, err := records.EncodeChat(c)
	if err != nil {
		return err
	}
	if err := s.buf.Append(ctx, buffer.QueueChats, data); err != nil {
		return err
	}
	metrics.RecordsBuffered.WithLabelValues("chats").Inc()
	s.maybeFlush(ctx, buffer.QueueChats, s.cfg.BatchSize, s.FlushChats)
	return nil
}

// BufferGift appends a finalized gift record to the durable buffer and
// advisorily triggers a flush.
func (s *Store) BufferGift(ctx context.Context, g *records.Gift) error {
	if g == nil {
		return nil
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = s.now()
	}
	data, err := records.EncodeGift(g)
	if err != nil {
		return err
	}
	if err := s.buf.Append(ctx, buffer.QueueGifts, data); err != nil {
		return err
	}
	metrics.RecordsBuffered.WithLabelValues("gifts").Inc()
	s.maybeFlush(ctx, buffer.QueueGifts, s.cfg.BatchSize, s.FlushGifts)
	return nil
}

// BufferStat appends a viewer snapshot to the durable buffer and advisorily
// triggers a flush.
func (s *Store) BufferStat(ctx context.Context, st *records.Stat) error {
	if st == nil {
		return nil
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = s.now()
	}
	data, err := records.EncodeStat(st)
	if err != nil {
		return err
	}
	if err := s.buf.Append(ctx, buffer.QueueStats, data); err != nil {
		return err
	}
	metrics.RecordsBuffered.WithLabelValues("stats").Inc()
	s.maybeFlush(ctx, buffer.QueueStats, s.cfg.StatsBatchSize, s.FlushStats)
	return nil
}

// maybeFlush runs the flusher when the queue reached its batch size or the
// shared pacer went stale. Flush errors are logged, not surfaced: the
// records are already durable in the buffer and the next trigger retries.
func (s *Store) maybeFlush(ctx context.Context, queue string, batchSize int, flush func(context.Context) error) {
	n, err := s.buf.Len(ctx, queue)
	if err != nil {
		logging.Err(err).Str("queue", queue).Msg("queue length check failed")
		return
	}
	if int(n) < batchSize && !s.pacerStale() {
		return
	}
	if err := flush(ctx); err != nil {
		logging.Err(err).Str("queue", queue).Msg("flush failed")
	}
}

// FlushGifts pops one batch of gift records, inserts them unordered into the
// gifts time-series collection, and rolls per-room diamond totals into the
// rooms collection. When the insert fails the raw batch is pushed back to
// the tail of the queue so nothing is lost.
func (s *Store) FlushGifts(ctx context.Context) error {
	raw, err := s.buf.PopBatch(ctx, buffer.QueueGifts, giftFlushBatch)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	s.touchLastWrite()

	batch := make([]*records.Gift, 0, len(raw))
	docs := make([]interface{}, 0, len(raw))
	for _, r := range raw {
		g, err := records.DecodeGift([]byte(r))
		if err != nil {
			logging.Err(err).Msg("dropping malformed gift record")
			continue
		}
		batch = append(batch, g)
		docs = append(docs, g)
	}
	if len(docs) == 0 {
		return nil
	}

	if err := s.insertUnordered(ctx, colGifts, docs); err != nil {
		metrics.FlushFailures.WithLabelValues("gifts").Inc()
		if pushErr := s.buf.PushBack(ctx, buffer.QueueGifts, raw); pushErr != nil {
			logging.Err(pushErr).Msg("gift rollback failed, records lost")
		}
		return fmt.Errorf("insert gifts: %w", err)
	}
	metrics.RecordsFlushed.WithLabelValues("gifts").Add(float64(len(docs)))

	// Aggregation is best-effort: the detail records are already durable,
	// so a failed room increment is logged and never rolls anything back.
	for roomID, inc := range sumDiamondsByRoom(batch) {
		if err := s.IncrementRoomStats(ctx, roomID, map[string]int64{"total_diamond_count": inc}); err != nil {
			logging.Err(err).Str("room_id", roomID).Msg("diamond rollup failed")
		}
	}
	logging.Debug().Int("count", len(docs)).Msg("gift batch flushed")
	return nil
}

// FlushChats drains the whole chats queue via an atomic range-then-delete,
// inserts unordered, and rolls per-room chat counts into the rooms
// collection. Chat flushes have no rollback: re-queuing the full drain under
// a persistently broken store would grow the queue without bound, and chat
// loss is tolerable.
func (s *Store) FlushChats(ctx context.Context) error {
	n, err := s.buf.Len(ctx, buffer.QueueChats)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	s.touchLastWrite()

	raw, err := s.buf.DrainAll(ctx, buffer.QueueChats)
	if err != nil {
		return err
	}
	batch := make([]*records.Chat, 0, len(raw))
	docs := make([]interface{}, 0, len(raw))
	for _, r := range raw {
		c, err := records.DecodeChat([]byte(r))
		if err != nil {
			logging.Err(err).Msg("dropping malformed chat record")
			continue
		}
		batch = append(batch, c)
		docs = append(docs, c)
	}
	if len(docs) == 0 {
		return nil
	}

	if err := s.insertUnordered(ctx, colChats, docs); err != nil {
		metrics.FlushFailures.WithLabelValues("chats").Inc()
		return fmt.Errorf("insert chats: %w", err)
	}
	metrics.RecordsFlushed.WithLabelValues("chats").Add(float64(len(docs)))

	for roomID, inc := range countChatsByRoom(batch) {
		if err := s.IncrementRoomStats(ctx, roomID, map[string]int64{"total_chat_count": inc}); err != nil {
			logging.Err(err).Str("room_id", roomID).Msg("chat rollup failed")
		}
	}
	logging.Debug().Int("count", len(docs)).Msg("chat batch flushed")
	return nil
}

// FlushStats pops one batch of viewer snapshots and inserts them unordered.
// On failure the raw batch is restored at the head of the queue so the next
// flush retries the same records first.
func (s *Store) FlushStats(ctx context.Context) error {
	raw, err := s.buf.PopBatch(ctx, buffer.QueueStats, statFlushBatch)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	s.touchLastWrite()

	docs := make([]interface{}, 0, len(raw))
	for _, r := range raw {
		st, err := records.DecodeStat([]byte(r))
		if err != nil {
			logging.Err(err).Msg("dropping malformed stat record")
			continue
		}
		docs = append(docs, st)
	}
	if len(docs) == 0 {
		return nil
	}

	if err := s.insertUnordered(ctx, colStats, docs); err != nil {
		metrics.FlushFailures.WithLabelValues("stats").Inc()
		if restoreErr := s.buf.Restore(ctx, buffer.QueueStats, raw); restoreErr != nil {
			logging.Err(restoreErr).Msg("stat restore failed, records lost")
		}
		return fmt.Errorf("insert stats: %w", err)
	}
	metrics.RecordsFlushed.WithLabelValues("stats").Add(float64(len(docs)))
	logging.Debug().Int("count", len(docs)).Msg("stat batch flushed")
	return nil
}

func (s *Store) insertUnordered(ctx context.Context, collection string, docs []interface{}) error {
	_, err := s.db.Collection(collection).InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	return err
}

// sumDiamondsByRoom tallies the diamond value of a flushed batch per room.
// Records carrying no precomputed total fall back to price x combo x group.
func sumDiamondsByRoom(batch []*records.Gift) map[string]int64 {
	sums := make(map[string]int64)
	for _, g := range batch {
		if g.RoomID == "" {
			continue
		}
		diamond := g.TotalDiamondCount
		if diamond == 0 {
			diamond = g.Total()
		}
		if diamond > 0 {
			sums[g.RoomID] += diamond
		}
	}
	return sums
}

// countChatsByRoom tallies flushed chat records per room.
func countChatsByRoom(batch []*records.Chat) map[string]int64 {
	counts := make(map[string]int64)
	for _, c := range batch {
		if c.RoomID != "" {
			counts[c.RoomID]++
		}
	}
	return counts
}
