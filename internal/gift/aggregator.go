// Livesink - Live-Stream Telemetry Ingestor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livesink

// Package gift implements the process-wide gift aggregation engine: frame
// deduplication, unit-price correction, and combo rollup so each logical
// gift is persisted exactly once at its final combo value.
package gift

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/livesink/internal/logging"
	"github.com/tomtom215/livesink/internal/metrics"
	"github.com/tomtom215/livesink/internal/records"
)

// smallGiftThreshold splits the two persistence strategies: cheap gifts are
// written straight from their terminal frame, expensive ones go through the
// combo buffer.
const smallGiftThreshold = 60

// Sink receives finalized records: the buffered gift path and the per-room
// counter increments for badges.
type Sink interface {
	BufferGift(ctx context.Context, g *records.Gift) error
	IncrementRoomStats(ctx context.Context, roomID string, inc map[string]int64) error
}

// Config tunes the aggregation engine.
type Config struct {
	// FlushTimeout evicts combo entries idle for this long.
	FlushTimeout time.Duration
	// MaxBufferSize bounds the combo buffer; a new key arriving at the
	// bound evicts the head synchronously.
	MaxBufferSize int
	// SweepInterval is the eviction sweep period.
	SweepInterval time.Duration
	// DedupTTL is the L2 fingerprint lifetime.
	DedupTTL time.Duration
}

// entry is one in-flight combo, keyed by (sender, gift, group).
type entry struct {
	gift       *records.Gift
	lastUpdate time.Time
	forceFlush bool
}

// Aggregator rolls gift frames up into final records. Process-wide: all
// sessions feed the same instance. The mutex covers only the combo buffer;
// sink and cache I/O always happen outside it.
type Aggregator struct {
	sink  Sink
	dedup *deduper
	cfg   Config

	mu      sync.Mutex
	order   *list.List               // *list.Element values are buffer keys
	entries map[string]*list.Element // key -> element; element value is *keyed
	now     func() time.Time
}

// keyed pairs a buffer key with its entry so list elements carry both.
type keyed struct {
	key   string
	entry *entry
}

// New builds an aggregator over the sink and the shared fingerprint cache.
func New(sink Sink, cache FingerprintCache, cfg Config) *Aggregator {
	return &Aggregator{
		sink:    sink,
		dedup:   newDeduper(cache, cfg.DedupTTL),
		cfg:     cfg,
		order:   list.New(),
		entries: make(map[string]*list.Element),
		now:     time.Now,
	}
}

func comboKey(g *records.Gift) string {
	return fmt.Sprintf("%s_%s_%s", g.UserID, g.GiftID, g.GroupID)
}

// Process ingests one gift frame.
func (a *Aggregator) Process(ctx context.Context, g *records.Gift) error {
	if g == nil {
		return nil
	}

	// Badges are counted on the room document and never stored as detail.
	if isBadgeGift(g) {
		inc := map[string]int64{"fans_ticket_count": 1}
		if g.DiamondCount > 0 {
			inc["total_diamond_count"] = g.DiamondCount
		}
		return a.sink.IncrementRoomStats(ctx, g.RoomID, inc)
	}

	// Frames without a trace id cannot be deduplicated; let them through.
	if g.TraceID != "" && a.dedup.isDuplicate(ctx, g.TraceID, g.ComboCount, g.RepeatEnd) {
		return nil
	}

	applyPriceOverride(g)

	if g.DiamondCount < smallGiftThreshold {
		return a.processSmall(ctx, g)
	}
	return a.processLarge(ctx, g)
}

// processSmall persists only the terminal frame: intermediate combo frames
// of cheap gifts carry no information the terminal frame lacks.
func (a *Aggregator) processSmall(ctx context.Context, g *records.Gift) error {
	if g.RepeatEnd == 0 {
		return nil
	}
	if g.ComboCount <= 0 {
		return nil
	}
	finalize(g)
	return a.sink.BufferGift(ctx, g)
}

// processLarge folds the frame into the combo buffer. Expensive gifts are
// retransmitted with growing combo counts, so the buffer keeps the running
// maximum and the sweeper emits one record when the combo settles.
func (a *Aggregator) processLarge(ctx context.Context, g *records.Gift) error {
	key := comboKey(g)
	now := a.now()

	var evicted *entry
	a.mu.Lock()
	if elem, ok := a.entries[key]; ok {
		e := elem.Value.(*keyed).entry
		if g.ComboCount > e.gift.ComboCount {
			e.gift.ComboCount = g.ComboCount
		}
		if g.GroupCount > e.gift.GroupCount {
			e.gift.GroupCount = g.GroupCount
		}
		e.lastUpdate = now
		a.order.MoveToBack(elem)
		if g.RepeatEnd == 1 {
			e.gift.RepeatEnd = 1
			e.forceFlush = true // sticky: later frames cannot unset it
		}
	} else {
		if a.order.Len() >= a.cfg.MaxBufferSize {
			head := a.order.Front()
			a.order.Remove(head)
			k := head.Value.(*keyed)
			delete(a.entries, k.key)
			evicted = k.entry
		}
		e := &entry{gift: g, lastUpdate: now}
		if g.RepeatEnd == 1 {
			e.forceFlush = true
		}
		a.entries[key] = a.order.PushBack(&keyed{key: key, entry: e})
	}
	a.mu.Unlock()

	if evicted != nil {
		metrics.ComboEvictions.Inc()
		return a.flushEntry(ctx, evicted)
	}
	return nil
}

// flushEntry finalizes and persists one combo entry. Entries whose combo
// never rose above zero are dropped.
func (a *Aggregator) flushEntry(ctx context.Context, e *entry) error {
	if e.gift.ComboCount <= 0 {
		return nil
	}
	finalize(e.gift)
	return a.sink.BufferGift(ctx, e.gift)
}

// finalize computes the at-most-once economic value. Group counts the wire
// never filled in count as 1.
func finalize(g *records.Gift) {
	if g.GroupCount <= 0 {
		g.GroupCount = 1
	}
	g.TotalDiamondCount = g.DiamondCount * g.ComboCount * g.GroupCount
}

// sweep flushes entries marked terminal or idle past the flush timeout.
// Keys are collected under the lock, then flushed outside it.
func (a *Aggregator) sweep(ctx context.Context) {
	now := a.now()

	var due []*entry
	a.mu.Lock()
	for elem := a.order.Front(); elem != nil; {
		next := elem.Next()
		k := elem.Value.(*keyed)
		if k.entry.forceFlush || now.Sub(k.entry.lastUpdate) > a.cfg.FlushTimeout {
			a.order.Remove(elem)
			delete(a.entries, k.key)
			due = append(due, k.entry)
		}
		elem = next
	}
	a.mu.Unlock()

	for _, e := range due {
		if err := a.flushEntry(ctx, e); err != nil {
			logging.Err(err).Msg("combo flush failed")
		}
	}
}

// Serve runs the eviction sweeper until the context is canceled. Implements
// suture.Service.
func (a *Aggregator) Serve(ctx context.Context) error {
	interval := a.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logging.Info().Int("max_buffer", a.cfg.MaxBufferSize).Msg("gift sweeper started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.sweep(ctx)
		}
	}
}

func (a *Aggregator) String() string { return "gift-sweeper" }

// FlushAll drains every buffered combo, concurrently. Called once at
// shutdown after the sweeper has stopped.
func (a *Aggregator) FlushAll(ctx context.Context) {
	a.mu.Lock()
	remaining := make([]*entry, 0, a.order.Len())
	for elem := a.order.Front(); elem != nil; elem = elem.Next() {
		remaining = append(remaining, elem.Value.(*keyed).entry)
	}
	a.order.Init()
	a.entries = make(map[string]*list.Element)
	a.mu.Unlock()

	if len(remaining) == 0 {
		return
	}
	logging.Info().Int("count", len(remaining)).Msg("flushing buffered combos")

	var wg sync.WaitGroup
	for _, e := range remaining {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			if err := a.flushEntry(ctx, e); err != nil {
				logging.Err(err).Msg("shutdown combo flush failed")
			}
		}(e)
	}
	wg.Wait()
}

// BufferedCombos reports the number of in-flight combo entries.
func (a *Aggregator) BufferedCombos() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.order.Len()
}
