// Livesink - Live-Stream Telemetry Ingestor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livesink

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/tomtom215/livesink/internal/logging"
	"github.com/tomtom215/livesink/internal/metrics"
	"github.com/tomtom215/livesink/internal/records"
)

// EndReasonZombie marks rooms force-ended by the zombie sweep.
const EndReasonZombie = "zombie_cleanup"

// roomInfoUpdate builds the SaveRoomInfo update document. created_at and
// start_follower_count live only in $setOnInsert: they are written once when
// the episode document is born and never touched again.
func roomInfoUpdate(r *records.Room, now time.Time) bson.M {
	set := bson.M{
		"web_rid":    r.WebRID,
		"room_id":    r.RoomID,
		"updated_at": now,
	}
	if r.Title != "" {
		set["title"] = r.Title
	}
	if r.UserID != "" {
		set["user_id"] = r.UserID
	}
	if r.SecUID != "" {
		set["sec_uid"] = r.SecUID
	}
	if r.Nickname != "" {
		set["nickname"] = r.Nickname
	}
	if r.AvatarURL != "" {
		set["avatar_url"] = r.AvatarURL
	}
	if r.CoverURL != "" {
		set["cover_url"] = r.CoverURL
	}
	if r.UserCount > 0 {
		set["user_count"] = r.UserCount
	}
	if r.LikeCount > 0 {
		set["like_count"] = r.LikeCount
	}
	if r.LiveStatus != 0 {
		set["live_status"] = r.LiveStatus
		set["room_status"] = r.LiveStatus
	}
	return bson.M{
		"$set": set,
		"$setOnInsert": bson.M{
			"created_at":           now,
			"start_follower_count": r.StartFollowerCount,
		},
	}
}

// SaveRoomInfo upserts the per-episode room document keyed by room_id.
func (s *Store) SaveRoomInfo(ctx context.Context, r *records.Room) error {
	if r == nil || r.RoomID == "" {
		return nil
	}
	_, err := s.db.Collection(colRooms).UpdateOne(ctx,
		bson.M{"room_id": r.RoomID},
		roomInfoUpdate(r, s.now()),
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save room %s: %w", r.RoomID, err)
	}
	return nil
}

// MarkRoomEnded settles the episode: live_status 4 and an end timestamp.
// Idempotent; marking an already-ended room rewrites the same terminal state.
func (s *Store) MarkRoomEnded(ctx context.Context, roomID string) error {
	if roomID == "" {
		return nil
	}
	now := s.now()
	_, err := s.db.Collection(colRooms).UpdateOne(ctx,
		bson.M{"room_id": roomID},
		bson.M{"$set": bson.M{
			"live_status": records.LiveStatusEnded,
			"room_status": records.LiveStatusEnded,
			"end_time":    now,
			"updated_at":  now,
		}},
	)
	if err != nil {
		return fmt.Errorf("mark room %s ended: %w", roomID, err)
	}
	logging.Info().Str("room_id", roomID).Msg("room marked ended")
	return nil
}

// UpdateRoomRealtime refreshes the live status seen during discovery and,
// when a follower count is known, the growth since the episode started.
func (s *Store) UpdateRoomRealtime(ctx context.Context, roomID string, liveStatus int, followerCount int64) error {
	if roomID == "" {
		return nil
	}
	set := bson.M{
		"updated_at":  s.now(),
		"live_status": liveStatus,
		"room_status": liveStatus,
	}
	if followerCount > 0 {
		set["current_follower_count"] = followerCount
		var doc struct {
			StartFollowerCount int64 `bson:"start_follower_count"`
		}
		err := s.db.Collection(colRooms).FindOne(ctx,
			bson.M{"room_id": roomID},
			options.FindOne().SetProjection(bson.M{"start_follower_count": 1}),
		).Decode(&doc)
		switch {
		case err == nil:
			if doc.StartFollowerCount > 0 {
				set["follower_diff"] = followerCount - doc.StartFollowerCount
			}
		case errors.Is(err, mongo.ErrNoDocuments):
			// No episode document yet; skip the diff.
		default:
			return fmt.Errorf("read room %s: %w", roomID, err)
		}
	}
	_, err := s.db.Collection(colRooms).UpdateOne(ctx,
		bson.M{"room_id": roomID}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("update room %s realtime: %w", roomID, err)
	}
	return nil
}

// roomStatsUpdate builds the UpdateRoomStats document. Only fields the
// caller set are written; a present viewer count additionally drives the
// max_viewers high-water mark.
func roomStatsUpdate(st *records.RoomStats, now time.Time) bson.M {
	set := bson.M{"updated_at": now}
	if st.UserCount != nil {
		set["user_count"] = *st.UserCount
	}
	if st.TotalUserCount != nil {
		set["total_user_count"] = *st.TotalUserCount
	}
	if st.LikeCount != nil {
		set["like_count"] = *st.LikeCount
	}
	if st.LiveStatus != nil {
		set["live_status"] = *st.LiveStatus
		set["room_status"] = *st.LiveStatus
	}
	if st.Ranks != nil {
		set["ranks"] = st.Ranks
	}
	update := bson.M{"$set": set}
	if st.UserCount != nil {
		update["$max"] = bson.M{"max_viewers": *st.UserCount}
	}
	return update
}

// UpdateRoomStats overwrites realtime viewer fields on the room document.
func (s *Store) UpdateRoomStats(ctx context.Context, roomID string, st *records.RoomStats) error {
	if roomID == "" || st == nil {
		return nil
	}
	_, err := s.db.Collection(colRooms).UpdateOne(ctx,
		bson.M{"room_id": roomID},
		roomStatsUpdate(st, s.now()),
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("update room %s stats: %w", roomID, err)
	}
	return nil
}

// IncrementRoomStats applies counter increments on the room document.
func (s *Store) IncrementRoomStats(ctx context.Context, roomID string, inc map[string]int64) error {
	if roomID == "" || len(inc) == 0 {
		return nil
	}
	incDoc := bson.M{}
	for k, v := range inc {
		incDoc[k] = v
	}
	_, err := s.db.Collection(colRooms).UpdateOne(ctx,
		bson.M{"room_id": roomID},
		bson.M{"$inc": incDoc, "$set": bson.M{"updated_at": s.now()}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("increment room %s stats: %w", roomID, err)
	}
	return nil
}

// SaveBroadcasterCard upserts the broadcaster profile keyed by sec_uid.
func (s *Store) SaveBroadcasterCard(ctx context.Context, card *records.BroadcasterCard) error {
	if card == nil || card.SecUID == "" {
		return nil
	}
	set := bson.M{
		"nickname":       card.Nickname,
		"sec_uid":        card.SecUID,
		"live_status":    card.LiveStatus,
		"user_count":     card.UserCount,
		"follower_count": card.FollowerCount,
		"weight":         card.Weight,
		"updated_at":     s.now(),
	}
	if card.UID != "" {
		set["uid"] = card.UID
	}
	if card.Avatar != "" {
		set["avatar"] = card.Avatar
	}
	if card.Signature != "" {
		set["signature"] = card.Signature
	}
	if card.WebRID != "" {
		set["web_rid"] = card.WebRID
	}
	if card.SelfWebRID != "" {
		set["self_web_rid"] = card.SelfWebRID
	}
	_, err := s.db.Collection(colBroadcasters).UpdateOne(ctx,
		bson.M{"sec_uid": card.SecUID},
		bson.M{"$set": set},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save broadcaster %s: %w", card.SecUID, err)
	}
	return nil
}

// SelfWebRID returns the broadcaster's own routing id recorded while they
// were last seen self-hosting, or "" when unknown.
func (s *Store) SelfWebRID(ctx context.Context, secUID string) (string, error) {
	var doc struct {
		SelfWebRID string `bson:"self_web_rid"`
	}
	err := s.db.Collection(colBroadcasters).FindOne(ctx,
		bson.M{"sec_uid": secUID},
		options.FindOne().SetProjection(bson.M{"self_web_rid": 1}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read broadcaster %s: %w", secUID, err)
	}
	return doc.SelfWebRID, nil
}

// SaveBattleResult upserts one battle settlement, keyed by (battle_id,
// room_id) so a retransmitted finish frame rewrites the same document.
func (s *Store) SaveBattleResult(ctx context.Context, r *records.BattleResult) error {
	if r == nil || r.BattleID == "" {
		return nil
	}
	_, err := s.db.Collection(colBattles).UpdateOne(ctx,
		bson.M{"battle_id": r.BattleID, "room_id": r.RoomID},
		bson.M{"$set": r},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save battle %s: %w", r.BattleID, err)
	}
	logging.Info().Str("battle_id", r.BattleID).Str("room_id", r.RoomID).
		Str("mode", r.Mode).Msg("battle result saved")
	return nil
}

// GetRoomLiveStatus returns the stored live status, 0 when the room is
// unknown.
func (s *Store) GetRoomLiveStatus(ctx context.Context, roomID string) (int, error) {
	var doc struct {
		LiveStatus int `bson:"live_status"`
	}
	err := s.db.Collection(colRooms).FindOne(ctx,
		bson.M{"room_id": roomID},
		options.FindOne().SetProjection(bson.M{"live_status": 1}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return records.LiveStatusUnknown, nil
	}
	if err != nil {
		return records.LiveStatusUnknown, fmt.Errorf("read room %s status: %w", roomID, err)
	}
	return doc.LiveStatus, nil
}

// zombiePipeline settles stale rooms in one server-side pass. end_time is
// set from each document's own updated_at, not from the sweep time, so the
// recorded end matches the last moment telemetry actually arrived.
func zombiePipeline() mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"live_status": records.LiveStatusEnded,
			"room_status": records.LiveStatusEnded,
			"end_time":    "$updated_at",
			"end_reason":  EndReasonZombie,
		}}},
	}
}

// ClearZombieRooms force-ends rooms still flagged live whose updated_at is
// older than the timeout. Returns the number of rooms settled.
func (s *Store) ClearZombieRooms(ctx context.Context, timeout time.Duration) (int64, error) {
	cutoff := s.now().Add(-timeout)
	res, err := s.db.Collection(colRooms).UpdateMany(ctx,
		bson.M{
			"live_status": records.LiveStatusLive,
			"updated_at":  bson.M{"$lt": cutoff},
		},
		zombiePipeline(),
	)
	if err != nil {
		return 0, fmt.Errorf("clear zombie rooms: %w", err)
	}
	if res.ModifiedCount > 0 {
		metrics.ZombieRoomsCleared.Add(float64(res.ModifiedCount))
		logging.Warn().Int64("count", res.ModifiedCount).Msg("zombie rooms settled")
	}
	return res.ModifiedCount, nil
}
