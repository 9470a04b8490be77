// Livesink - Live-Stream Telemetry Ingestor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livesink

// Package records defines the normalized event records flowing from the
// per-room sessions through the durable buffer into the document store.
//
// Each event kind is its own struct (one variant per kind). The bson tags
// are the store-side field names; the json tags are the durable-buffer wire
// shape. The two are kept identical so a record round-trips the queue without
// translation.
package records

import "time"

// Room live status values as reported by the platform.
const (
	LiveStatusUnknown = 0
	LiveStatusLive    = 1
	LiveStatusGuest   = 2
	LiveStatusEnded   = 4
)

// Room is the per-episode document upserted into the rooms collection.
// StartFollowerCount and CreatedAt are written once on insert and never again.
type Room struct {
	WebRID             string `bson:"web_rid" json:"web_rid"`
	RoomID             string `bson:"room_id" json:"room_id"`
	Title              string `bson:"title,omitempty" json:"title,omitempty"`
	UserID             string `bson:"user_id,omitempty" json:"user_id,omitempty"`
	SecUID             string `bson:"sec_uid,omitempty" json:"sec_uid,omitempty"`
	Nickname           string `bson:"nickname,omitempty" json:"nickname,omitempty"`
	AvatarURL          string `bson:"avatar_url,omitempty" json:"avatar_url,omitempty"`
	CoverURL           string `bson:"cover_url,omitempty" json:"cover_url,omitempty"`
	UserCount          int64  `bson:"user_count,omitempty" json:"user_count,omitempty"`
	LikeCount          int64  `bson:"like_count,omitempty" json:"like_count,omitempty"`
	LiveStatus         int    `bson:"live_status,omitempty" json:"live_status,omitempty"`
	RoomStatus         int    `bson:"room_status,omitempty" json:"room_status,omitempty"`
	StartFollowerCount int64  `bson:"start_follower_count,omitempty" json:"start_follower_count,omitempty"`
}

// BroadcasterCard is the per-broadcaster profile document, keyed by SecUID.
// SelfWebRID is set only when the broadcaster has been seen self-hosting.
type BroadcasterCard struct {
	Nickname      string `bson:"nickname" json:"nickname"`
	SecUID        string `bson:"sec_uid" json:"sec_uid"`
	UID           string `bson:"uid,omitempty" json:"uid,omitempty"`
	Avatar        string `bson:"avatar,omitempty" json:"avatar,omitempty"`
	Signature     string `bson:"signature,omitempty" json:"signature,omitempty"`
	LiveStatus    int    `bson:"live_status" json:"live_status"`
	WebRID        string `bson:"web_rid,omitempty" json:"web_rid,omitempty"`
	UserCount     int64  `bson:"user_count" json:"user_count"`
	FollowerCount int64  `bson:"follower_count" json:"follower_count"`
	Weight        int    `bson:"weight" json:"weight"`
	SelfWebRID    string `bson:"self_web_rid,omitempty" json:"self_web_rid,omitempty"`
}

// Chat is one chat message, stored time-series by CreatedAt, partitioned
// by WebRID.
type Chat struct {
	WebRID        string    `bson:"web_rid" json:"web_rid"`
	RoomID        string    `bson:"room_id" json:"room_id"`
	UserID        string    `bson:"user_id" json:"user_id"`
	UserName      string    `bson:"user_name" json:"user_name"`
	Gender        int       `bson:"gender,omitempty" json:"gender,omitempty"`
	Content       string    `bson:"content" json:"content"`
	SecUID        string    `bson:"sec_uid,omitempty" json:"sec_uid,omitempty"`
	AvatarURL     string    `bson:"avatar_url,omitempty" json:"avatar_url,omitempty"`
	PayGrade      int       `bson:"pay_grade,omitempty" json:"pay_grade,omitempty"`
	PayGradeIcon  string    `bson:"pay_grade_icon,omitempty" json:"pay_grade_icon,omitempty"`
	FansClubIcon  string    `bson:"fans_club_icon,omitempty" json:"fans_club_icon,omitempty"`
	FansClubLevel int       `bson:"fans_club_level,omitempty" json:"fans_club_level,omitempty"`
	EventTime     time.Time `bson:"event_time" json:"event_time"`
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`
}

// Gift is one finalized gift record. TotalDiamondCount is the at-most-once
// economic value: unit price x combo x group.
type Gift struct {
	WebRID            string    `bson:"web_rid" json:"web_rid"`
	RoomID            string    `bson:"room_id" json:"room_id"`
	UserID            string    `bson:"user_id" json:"user_id"`
	UserName          string    `bson:"user_name" json:"user_name"`
	Gender            int       `bson:"gender,omitempty" json:"gender,omitempty"`
	SecUID            string    `bson:"sec_uid,omitempty" json:"sec_uid,omitempty"`
	AvatarURL         string    `bson:"avatar_url,omitempty" json:"avatar_url,omitempty"`
	PayGrade          int       `bson:"pay_grade,omitempty" json:"pay_grade,omitempty"`
	PayGradeIcon      string    `bson:"pay_grade_icon,omitempty" json:"pay_grade_icon,omitempty"`
	FansClubIcon      string    `bson:"fans_club_icon,omitempty" json:"fans_club_icon,omitempty"`
	FansClubLevel     int       `bson:"fans_club_level,omitempty" json:"fans_club_level,omitempty"`
	GiftIconURL       string    `bson:"gift_icon_url,omitempty" json:"gift_icon_url,omitempty"`
	GiftID            string    `bson:"gift_id" json:"gift_id"`
	GiftName          string    `bson:"gift_name" json:"gift_name"`
	DiamondCount      int64     `bson:"diamond_count" json:"diamond_count"`
	ComboCount        int64     `bson:"combo_count" json:"combo_count"`
	GroupCount        int64     `bson:"group_count" json:"group_count"`
	GroupID           string    `bson:"group_id" json:"group_id"`
	RepeatEnd         int       `bson:"repeat_end" json:"repeat_end"`
	TraceID           string    `bson:"trace_id,omitempty" json:"trace_id,omitempty"`
	SendTime          time.Time `bson:"send_time" json:"send_time"`
	TotalDiamondCount int64     `bson:"total_diamond_count" json:"total_diamond_count"`
	CreatedAt         time.Time `bson:"created_at" json:"created_at"`
}

// Total computes the economic value of the record, treating missing combo
// and group counts as 1.
func (g *Gift) Total() int64 {
	combo := g.ComboCount
	if combo <= 0 {
		combo = 1
	}
	group := g.GroupCount
	if group <= 0 {
		group = 1
	}
	return g.DiamondCount * combo * group
}

// Stat is one viewer-count snapshot, stored time-series by CreatedAt,
// partitioned by RoomID.
type Stat struct {
	RoomID         string    `bson:"room_id" json:"room_id"`
	WebRID         string    `bson:"web_rid,omitempty" json:"web_rid,omitempty"`
	UserCount      int64     `bson:"user_count" json:"user_count"`
	TotalUserCount int64     `bson:"total_user_count" json:"total_user_count"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
}

// RoomStats carries the overwrite-style per-room fields applied by
// Store.UpdateRoomStats. Nil pointers mean "leave the field alone".
type RoomStats struct {
	UserCount      *int64
	TotalUserCount *int64
	LikeCount      *int64
	LiveStatus     *int
	Ranks          []RankEntry
}

// RankEntry is one slot of the room's viewer leaderboard.
type RankEntry struct {
	UID      string `bson:"uid" json:"uid"`
	Nickname string `bson:"nickname" json:"nickname"`
	Avatar   string `bson:"avatar,omitempty" json:"avatar,omitempty"`
	Rank     int    `bson:"rank" json:"rank"`
}

// BattleResult is one PK/battle settlement, keyed by (BattleID, RoomID).
type BattleResult struct {
	BattleID  string       `bson:"battle_id" json:"battle_id"`
	RoomID    string       `bson:"room_id" json:"room_id"`
	StartTime time.Time    `bson:"start_time" json:"start_time"`
	Mode      string       `bson:"mode" json:"mode"`
	CreatedAt time.Time    `bson:"created_at" json:"created_at"`
	Teams     []BattleTeam `bson:"teams" json:"teams"`
}

// Battle modes.
const (
	BattleModeTeam       = "team_battle"
	BattleModeFreeForAll = "free_for_all"
)

// BattleTeam groups the anchors sharing a win status (team mode) or a single
// anchor (free-for-all).
type BattleTeam struct {
	TeamID    string         `bson:"team_id" json:"team_id"`
	WinStatus int            `bson:"win_status" json:"win_status"`
	Anchors   []BattleAnchor `bson:"anchors" json:"anchors"`
}

// BattleAnchor is one competing broadcaster with their top contributors.
type BattleAnchor struct {
	UserID       string              `bson:"user_id" json:"user_id"`
	Nickname     string              `bson:"nickname" json:"nickname"`
	Avatar       string              `bson:"avatar,omitempty" json:"avatar,omitempty"`
	Score        int64               `bson:"score" json:"score"`
	Rank         int                 `bson:"rank" json:"rank"`
	Contributors []BattleContributor `bson:"contributors" json:"contributors"`
}

// BattleContributor is one of the top-3 gift senders behind an anchor.
type BattleContributor struct {
	UserID   string `bson:"user_id" json:"user_id"`
	Nickname string `bson:"nickname" json:"nickname"`
	Avatar   string `bson:"avatar,omitempty" json:"avatar,omitempty"`
	Score    int64  `bson:"score" json:"score"`
	Rank     int    `bson:"rank" json:"rank"`
}
