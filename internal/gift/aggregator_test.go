// Livesink - Live-Stream Telemetry Ingestor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livesink

package gift

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/livesink/internal/records"
)

type fakeSink struct {
	mu         sync.Mutex
	gifts      []*records.Gift
	increments []map[string]int64
	incRooms   []string
}

func (f *fakeSink) BufferGift(_ context.Context, g *records.Gift) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gifts = append(f.gifts, g)
	return nil
}

func (f *fakeSink) IncrementRoomStats(_ context.Context, roomID string, inc map[string]int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incRooms = append(f.incRooms, roomID)
	f.increments = append(f.increments, inc)
	return nil
}

func (f *fakeSink) buffered() []*records.Gift {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*records.Gift(nil), f.gifts...)
}

type fakeCache struct {
	mu   sync.Mutex
	keys map[string]bool
	err  error
}

func (f *fakeCache) SetFingerprint(_ context.Context, key string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.keys == nil {
		f.keys = make(map[string]bool)
	}
	if f.keys[key] {
		return false, nil
	}
	f.keys[key] = true
	return true, nil
}

func newTestAggregator(sink Sink, cache FingerprintCache) *Aggregator {
	return New(sink, cache, Config{
		FlushTimeout:  10 * time.Second,
		MaxBufferSize: 10000,
		SweepInterval: time.Second,
		DedupTTL:      600 * time.Second,
	})
}

func giftFrame(mut func(*records.Gift)) *records.Gift {
	g := &records.Gift{
		WebRID:       "777",
		RoomID:       "r1",
		UserID:       "u1",
		GiftID:       "g1",
		GiftName:     "玫瑰",
		DiamondCount: 1,
		ComboCount:   1,
		GroupCount:   1,
		GroupID:      "grp1",
		RepeatEnd:    1,
		TraceID:      "t1",
	}
	if mut != nil {
		mut(g)
	}
	return g
}

func TestBadgeGiftCountsWithoutDetailRecord(t *testing.T) {
	sink := &fakeSink{}
	agg := newTestAggregator(sink, &fakeCache{})

	require.NoError(t, agg.Process(context.Background(), giftFrame(func(g *records.Gift) {
		g.GiftID = "685"
		g.GiftName = "粉丝团灯牌"
		g.DiamondCount = 1
	})))

	assert.Empty(t, sink.buffered(), "badges never become detail records")
	require.Len(t, sink.increments, 1)
	assert.Equal(t, "r1", sink.incRooms[0])
	assert.Equal(t, map[string]int64{"fans_ticket_count": 1, "total_diamond_count": 1}, sink.increments[0])
}

func TestBadgeGiftByNameOnly(t *testing.T) {
	sink := &fakeSink{}
	agg := newTestAggregator(sink, &fakeCache{})

	require.NoError(t, agg.Process(context.Background(), giftFrame(func(g *records.Gift) {
		g.GiftID = "999"
		g.GiftName = "超级灯牌"
		g.DiamondCount = 0
	})))

	require.Len(t, sink.increments, 1)
	assert.Equal(t, map[string]int64{"fans_ticket_count": 1}, sink.increments[0])
}

func TestDuplicateFrameDropped(t *testing.T) {
	sink := &fakeSink{}
	cache := &fakeCache{}
	agg := newTestAggregator(sink, cache)

	frame := func() *records.Gift { return giftFrame(nil) }
	require.NoError(t, agg.Process(context.Background(), frame()))
	require.NoError(t, agg.Process(context.Background(), frame()))

	assert.Len(t, sink.buffered(), 1, "retransmission must not double-count")
}

func TestDedupSkippedWithoutTraceID(t *testing.T) {
	sink := &fakeSink{}
	cache := &fakeCache{}
	agg := newTestAggregator(sink, cache)

	frame := func() *records.Gift { return giftFrame(func(g *records.Gift) { g.TraceID = "" }) }
	require.NoError(t, agg.Process(context.Background(), frame()))
	require.NoError(t, agg.Process(context.Background(), frame()))

	assert.Len(t, sink.buffered(), 2)
	assert.Empty(t, cache.keys, "no trace id, no fingerprint")
}

func TestDedupFailsOpenOnCacheError(t *testing.T) {
	sink := &fakeSink{}
	agg := newTestAggregator(sink, &fakeCache{err: errors.New("cache down")})

	require.NoError(t, agg.Process(context.Background(), giftFrame(nil)))
	assert.Len(t, sink.buffered(), 1, "cache outage must not drop revenue")
}

func TestL1CachesKnownDuplicates(t *testing.T) {
	cache := &fakeCache{}
	d := newDeduper(cache, time.Minute)

	assert.False(t, d.isDuplicate(context.Background(), "t9", 1, 1))
	assert.True(t, d.isDuplicate(context.Background(), "t9", 1, 1))

	// Fingerprint is now local: even a broken cache catches the retry.
	cache.mu.Lock()
	cache.err = errors.New("cache down")
	cache.mu.Unlock()
	assert.True(t, d.isDuplicate(context.Background(), "t9", 1, 1))
}

func TestSmallGiftNonTerminalDropped(t *testing.T) {
	sink := &fakeSink{}
	agg := newTestAggregator(sink, &fakeCache{})

	require.NoError(t, agg.Process(context.Background(), giftFrame(func(g *records.Gift) {
		g.DiamondCount = 10
		g.RepeatEnd = 0
	})))

	assert.Empty(t, sink.buffered())
	assert.Zero(t, agg.BufferedCombos(), "small gifts never enter the combo buffer")
}

func TestSmallGiftTerminalPersisted(t *testing.T) {
	sink := &fakeSink{}
	agg := newTestAggregator(sink, &fakeCache{})

	require.NoError(t, agg.Process(context.Background(), giftFrame(func(g *records.Gift) {
		g.DiamondCount = 10
		g.ComboCount = 3
		g.GroupCount = 2
		g.RepeatEnd = 1
	})))

	got := sink.buffered()
	require.Len(t, got, 1)
	assert.Equal(t, int64(60), got[0].TotalDiamondCount)
}

func TestThresholdBoundary(t *testing.T) {
	sink := &fakeSink{}
	agg := newTestAggregator(sink, &fakeCache{})

	// 59 diamonds: small path, persisted immediately on the terminal frame.
	require.NoError(t, agg.Process(context.Background(), giftFrame(func(g *records.Gift) {
		g.TraceID = "t59"
		g.DiamondCount = 59
	})))
	assert.Len(t, sink.buffered(), 1)
	assert.Zero(t, agg.BufferedCombos())

	// 60 diamonds: combo path, held until the sweep.
	require.NoError(t, agg.Process(context.Background(), giftFrame(func(g *records.Gift) {
		g.TraceID = "t60"
		g.DiamondCount = 60
	})))
	assert.Len(t, sink.buffered(), 1)
	assert.Equal(t, 1, agg.BufferedCombos())
}

func TestComboRollupKeepsMaxima(t *testing.T) {
	sink := &fakeSink{}
	agg := newTestAggregator(sink, &fakeCache{})
	ctx := context.Background()

	send := func(trace string, combo int64, repeatEnd int) {
		require.NoError(t, agg.Process(ctx, giftFrame(func(g *records.Gift) {
			g.TraceID = trace
			g.DiamondCount = 100
			g.ComboCount = combo
			g.RepeatEnd = repeatEnd
		})))
	}
	send("c1", 1, 0)
	send("c2", 3, 0)
	send("c3", 5, 1)
	send("c4", 2, 0) // late lower combo must not regress the maximum

	agg.sweep(ctx) // terminal flag forces the flush

	got := sink.buffered()
	require.Len(t, got, 1)
	assert.Equal(t, int64(5), got[0].ComboCount)
	assert.Equal(t, int64(500), got[0].TotalDiamondCount)
	assert.Equal(t, 1, got[0].RepeatEnd)
	assert.Zero(t, agg.BufferedCombos())
}

func TestZeroComboDropped(t *testing.T) {
	sink := &fakeSink{}
	agg := newTestAggregator(sink, &fakeCache{})
	ctx := context.Background()

	require.NoError(t, agg.Process(ctx, giftFrame(func(g *records.Gift) {
		g.DiamondCount = 100
		g.ComboCount = 0
		g.RepeatEnd = 1
	})))
	agg.sweep(ctx)

	assert.Empty(t, sink.buffered())
}

func TestIdleComboFlushedBySweep(t *testing.T) {
	sink := &fakeSink{}
	agg := newTestAggregator(sink, &fakeCache{})
	current := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	agg.now = func() time.Time { return current }
	ctx := context.Background()

	require.NoError(t, agg.Process(ctx, giftFrame(func(g *records.Gift) {
		g.DiamondCount = 100
		g.RepeatEnd = 0
	})))

	current = current.Add(5 * time.Second)
	agg.sweep(ctx)
	assert.Empty(t, sink.buffered(), "not yet idle")

	current = current.Add(6 * time.Second)
	agg.sweep(ctx)
	assert.Len(t, sink.buffered(), 1, "idle past the timeout")
}

func TestActivityDefersIdleFlush(t *testing.T) {
	sink := &fakeSink{}
	agg := newTestAggregator(sink, &fakeCache{})
	current := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	agg.now = func() time.Time { return current }
	ctx := context.Background()

	send := func(trace string, combo int64) {
		require.NoError(t, agg.Process(ctx, giftFrame(func(g *records.Gift) {
			g.TraceID = trace
			g.DiamondCount = 100
			g.ComboCount = combo
			g.RepeatEnd = 0
		})))
	}
	send("a1", 1)
	current = current.Add(8 * time.Second)
	send("a2", 2) // refreshes last update

	current = current.Add(8 * time.Second)
	agg.sweep(ctx)
	assert.Empty(t, sink.buffered(), "recent activity keeps the combo open")
}

func TestOverflowEvictsHeadSynchronously(t *testing.T) {
	sink := &fakeSink{}
	agg := New(sink, &fakeCache{}, Config{
		FlushTimeout:  10 * time.Second,
		MaxBufferSize: 2,
		SweepInterval: time.Second,
		DedupTTL:      time.Minute,
	})
	ctx := context.Background()

	send := func(user, trace string) {
		require.NoError(t, agg.Process(ctx, giftFrame(func(g *records.Gift) {
			g.UserID = user
			g.TraceID = trace
			g.DiamondCount = 100
			g.ComboCount = 2
			g.RepeatEnd = 0
		})))
	}
	send("u1", "e1")
	send("u2", "e2")
	send("u3", "e3") // full: evicts u1's entry before inserting

	got := sink.buffered()
	require.Len(t, got, 1)
	assert.Equal(t, "u1", got[0].UserID)
	assert.Equal(t, 2, agg.BufferedCombos())

	// An update to an existing key must not evict anything.
	send("u2", "e4")
	assert.Len(t, sink.buffered(), 1)
	assert.Equal(t, 2, agg.BufferedCombos())
}

func TestFlushAllDrainsConcurrently(t *testing.T) {
	sink := &fakeSink{}
	agg := newTestAggregator(sink, &fakeCache{})
	ctx := context.Background()

	for _, user := range []string{"u1", "u2", "u3"} {
		require.NoError(t, agg.Process(ctx, giftFrame(func(g *records.Gift) {
			g.UserID = user
			g.TraceID = "f-" + user
			g.DiamondCount = 100
			g.ComboCount = 1
			g.RepeatEnd = 0
		})))
	}

	agg.FlushAll(ctx)
	assert.Len(t, sink.buffered(), 3)
	assert.Zero(t, agg.BufferedCombos())
}

func TestPriceOverrides(t *testing.T) {
	cases := []struct {
		name    string
		gift    string
		icon    string
		wire    int64
		want    int64
	}{
		{"diamond rocket", "钻石火箭", "", 1, 12001},
		{"diamond carnival", "钻石嘉年华", "", 1, 36000},
		{"diamond sports car by icon", "跑车", "https://cdn/diamond_paoche_icon.png", 1, 1500},
		{"plain sports car untouched", "跑车", "https://cdn/paoche.png", 1, 1},
		{"unknown gift untouched", "玫瑰", "", 1, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := &records.Gift{GiftName: tc.gift, GiftIconURL: tc.icon, DiamondCount: tc.wire}
			applyPriceOverride(g)
			assert.Equal(t, tc.want, g.DiamondCount)
		})
	}
}

func TestCorrectedPriceRoutesToComboBuffer(t *testing.T) {
	sink := &fakeSink{}
	agg := newTestAggregator(sink, &fakeCache{})

	// Wire says 1 diamond; the override lifts it over the threshold, so the
	// frame must take the combo path.
	require.NoError(t, agg.Process(context.Background(), giftFrame(func(g *records.Gift) {
		g.GiftName = "钻石兔兔"
		g.DiamondCount = 1
		g.RepeatEnd = 0
	})))

	assert.Empty(t, sink.buffered())
	assert.Equal(t, 1, agg.BufferedCombos())
}
