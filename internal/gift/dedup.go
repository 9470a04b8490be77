// Livesink - Live-Stream Telemetry Ingestor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livesink

package gift

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/livesink/internal/logging"
	"github.com/tomtom215/livesink/internal/metrics"
)

// localHistorySize caps the L1 fingerprint set; the oldest entry is evicted
// on overflow.
const localHistorySize = 1000

// FingerprintCache is the L2 dedup tier: a shared create-if-absent with TTL.
type FingerprintCache interface {
	SetFingerprint(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// deduper drops retransmitted gift frames. The L1 tier is a bounded
// insertion-ordered in-memory set; the L2 tier is the shared cache, so
// duplicates are caught across process restarts and concurrent ingestors.
type deduper struct {
	cache FingerprintCache
	ttl   time.Duration

	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

func newDeduper(cache FingerprintCache, ttl time.Duration) *deduper {
	return &deduper{
		cache: cache,
		ttl:   ttl,
		seen:  make(map[string]struct{}, localHistorySize),
	}
}

// isDuplicate reports whether the (trace, combo, repeat_end) fingerprint was
// already observed. Cache errors fail open: double-counting is preferable to
// dropping revenue records, and the aggregation step bounds the damage.
func (d *deduper) isDuplicate(ctx context.Context, traceID string, combo int64, repeatEnd int) bool {
	fingerprint := fmt.Sprintf("%s_%d_%d", traceID, combo, repeatEnd)

	d.mu.Lock()
	_, hit := d.seen[fingerprint]
	d.mu.Unlock()
	if hit {
		metrics.DedupHits.WithLabelValues("l1").Inc()
		return true
	}

	created, err := d.cache.SetFingerprint(ctx, "dedup:gift:"+fingerprint, d.ttl)
	if err != nil {
		logging.Err(err).Msg("dedup cache unreachable, passing frame through")
		return false
	}
	if created {
		return false
	}

	// Known to the cache: remember locally to absorb fast retries.
	d.remember(fingerprint)
	metrics.DedupHits.WithLabelValues("l2").Inc()
	return true
}

func (d *deduper) remember(fingerprint string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[fingerprint]; ok {
		return
	}
	d.seen[fingerprint] = struct{}{}
	d.order = append(d.order, fingerprint)
	if len(d.order) > localHistorySize {
		delete(d.seen, d.order[0])
		d.order = d.order[1:]
	}
}
