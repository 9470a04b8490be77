// Livesink - Live-Stream Telemetry Ingestor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livesink

package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/tomtom215/livesink/internal/records"
)

func TestRoomInfoUpdateNeverSetsCreatedAt(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	update := roomInfoUpdate(&records.Room{
		WebRID:             "777",
		RoomID:             "r1",
		Title:              "morning show",
		StartFollowerCount: 1234,
	}, now)

	set := update["$set"].(bson.M)
	_, hasCreated := set["created_at"]
	assert.False(t, hasCreated, "created_at must live only in $setOnInsert")
	_, hasStart := set["start_follower_count"]
	assert.False(t, hasStart, "start_follower_count must live only in $setOnInsert")
	assert.Equal(t, now, set["updated_at"])
	assert.Equal(t, "morning show", set["title"])

	insert := update["$setOnInsert"].(bson.M)
	assert.Equal(t, now, insert["created_at"])
	assert.Equal(t, int64(1234), insert["start_follower_count"])
}

func TestRoomInfoUpdateDefaultsStartFollowerCount(t *testing.T) {
	update := roomInfoUpdate(&records.Room{WebRID: "777", RoomID: "r1"}, time.Now())
	insert := update["$setOnInsert"].(bson.M)
	assert.Equal(t, int64(0), insert["start_follower_count"])
}

func TestRoomInfoUpdateMirrorsRoomStatus(t *testing.T) {
	update := roomInfoUpdate(&records.Room{
		WebRID:     "777",
		RoomID:     "r1",
		LiveStatus: records.LiveStatusLive,
	}, time.Now())
	set := update["$set"].(bson.M)
	assert.Equal(t, records.LiveStatusLive, set["live_status"])
	assert.Equal(t, records.LiveStatusLive, set["room_status"])
}

func TestRoomStatsUpdateMaxViewers(t *testing.T) {
	users := int64(5000)
	update := roomStatsUpdate(&records.RoomStats{UserCount: &users}, time.Now())

	maxDoc, ok := update["$max"].(bson.M)
	require.True(t, ok, "a present viewer count drives max_viewers")
	assert.Equal(t, int64(5000), maxDoc["max_viewers"])
	assert.Equal(t, int64(5000), update["$set"].(bson.M)["user_count"])
}

func TestRoomStatsUpdateOmitsMaxWithoutViewers(t *testing.T) {
	likes := int64(42)
	update := roomStatsUpdate(&records.RoomStats{LikeCount: &likes}, time.Now())

	_, hasMax := update["$max"]
	assert.False(t, hasMax)
	set := update["$set"].(bson.M)
	assert.Equal(t, int64(42), set["like_count"])
	_, hasUsers := set["user_count"]
	assert.False(t, hasUsers, "nil pointers leave fields alone")
}

func TestZombiePipelineUsesDocumentUpdatedAt(t *testing.T) {
	pipeline := zombiePipeline()
	require.Len(t, pipeline, 1)

	set := pipeline[0][0].Value.(bson.M)
	assert.Equal(t, records.LiveStatusEnded, set["live_status"])
	assert.Equal(t, records.LiveStatusEnded, set["room_status"])
	assert.Equal(t, "$updated_at", set["end_time"], "end_time comes from the document, not the sweep")
	assert.Equal(t, EndReasonZombie, set["end_reason"])
}

func TestSumDiamondsByRoom(t *testing.T) {
	batch := []*records.Gift{
		{RoomID: "r1", TotalDiamondCount: 100},
		{RoomID: "r1", DiamondCount: 10, ComboCount: 3, GroupCount: 2}, // fallback 60
		{RoomID: "r2", DiamondCount: 5},                               // fallback 5, combo/group default 1
		{RoomID: "", TotalDiamondCount: 999},                          // no room, skipped
		{RoomID: "r2", TotalDiamondCount: 0, DiamondCount: 0},         // zero value, skipped
	}

	sums := sumDiamondsByRoom(batch)
	assert.Equal(t, map[string]int64{"r1": 160, "r2": 5}, sums)
}

func TestCountChatsByRoom(t *testing.T) {
	batch := []*records.Chat{
		{RoomID: "r1"}, {RoomID: "r1"}, {RoomID: "r2"}, {RoomID: ""},
	}
	assert.Equal(t, map[string]int64{"r1": 2, "r2": 1}, countChatsByRoom(batch))
}

func TestPacerStale(t *testing.T) {
	current := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	s := &Store{cfg: Config{BufferTimeout: 5 * time.Second}}
	s.now = func() time.Time { return current }
	s.touchLastWrite()

	current = current.Add(4 * time.Second)
	assert.False(t, s.pacerStale())

	current = current.Add(2 * time.Second)
	assert.True(t, s.pacerStale())
}
