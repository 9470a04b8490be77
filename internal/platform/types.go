// Livesink - Live-Stream Telemetry Ingestor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livesink

package platform

import (
	"github.com/goccy/go-json"

	"github.com/tomtom215/livesink/internal/records"
)

// followingResponse is one page of the follow-list endpoint.
type followingResponse struct {
	StatusCode int             `json:"status_code"`
	StatusMsg  string          `json:"status_msg"`
	HasMore    bool            `json:"has_more"`
	Followings []FollowingUser `json:"followings"`
}

// FollowingUser is one followed account as the platform reports it.
// RoomData is a nested JSON string, parsed lazily.
type FollowingUser struct {
	Nickname      string    `json:"nickname"`
	UID           string    `json:"uid"`
	SecUID        string    `json:"sec_uid"`
	Signature     string    `json:"signature"`
	LiveStatus    int       `json:"live_status"`
	RoomIDStr     string    `json:"room_id_str"`
	WebRID        string    `json:"web_rid"`
	FollowerCount int64     `json:"follower_count"`
	AvatarThumb   imageSpec `json:"avatar_thumb"`
	RoomData      string    `json:"room_data"`
}

type imageSpec struct {
	URLList []string `json:"url_list"`
}

func (i imageSpec) first() string {
	if len(i.URLList) == 0 {
		return ""
	}
	return i.URLList[0]
}

// roomData is the nested room payload inside a FollowingUser.
type roomData struct {
	IDStr     string `json:"id_str"`
	RoomIDStr string `json:"room_id_str"`
	UserCount int64  `json:"user_count"`
	Owner     struct {
		WebRID string `json:"web_rid"`
	} `json:"owner"`
}

func (u *FollowingUser) parseRoomData() (roomData, bool) {
	if u.RoomData == "" {
		return roomData{}, false
	}
	var rd roomData
	if err := json.Unmarshal([]byte(u.RoomData), &rd); err != nil {
		return roomData{}, false
	}
	return rd, true
}

// RoomID resolves the user's current room id: the top-level field when
// live, with the nested room payload as fallback.
func (u *FollowingUser) RoomID() string {
	if u.LiveStatus == records.LiveStatusLive && u.RoomIDStr != "" {
		return u.RoomIDStr
	}
	if rd, ok := u.parseRoomData(); ok {
		if rd.IDStr != "" {
			return rd.IDStr
		}
		return rd.RoomIDStr
	}
	return ""
}

// Card converts the discovery record into a broadcaster profile. Weight is
// the live status when live or guesting, 3 for offline; self_web_rid is
// recorded only when the broadcaster was seen self-hosting.
func (u *FollowingUser) Card() *records.BroadcasterCard {
	card := &records.BroadcasterCard{
		Nickname:      u.Nickname,
		SecUID:        u.SecUID,
		UID:           u.UID,
		Avatar:        u.AvatarThumb.first(),
		Signature:     u.Signature,
		LiveStatus:    u.LiveStatus,
		FollowerCount: u.FollowerCount,
		Weight:        3,
	}
	if u.LiveStatus == records.LiveStatusLive || u.LiveStatus == records.LiveStatusGuest {
		card.Weight = u.LiveStatus
		if rd, ok := u.parseRoomData(); ok {
			card.UserCount = rd.UserCount
			card.WebRID = rd.Owner.WebRID
		}
		if card.WebRID == "" {
			card.WebRID = u.WebRID
		}
		if u.LiveStatus == records.LiveStatusLive && card.WebRID != "" {
			card.SelfWebRID = card.WebRID
		}
	}
	return card
}

// Seed is the fast-path launch record handed to a session: everything
// discovery knows about a live room before the detail endpoint confirms it.
type Seed struct {
	WebRID        string
	RoomID        string
	Nickname      string
	UID           string
	SecUID        string
	AvatarURL     string
	CoverURL      string
	FollowerCount int64
}

// Seed builds the launch record for a live broadcaster. The second return
// is false when no web_rid could be resolved from the response; the caller
// may still back-fill from the store.
func (u *FollowingUser) Seed() (Seed, bool) {
	avatar := u.AvatarThumb.first()
	s := Seed{
		WebRID:        u.resolveWebRID(),
		RoomID:        u.RoomID(),
		Nickname:      u.Nickname,
		UID:           u.UID,
		SecUID:        u.SecUID,
		AvatarURL:     avatar,
		CoverURL:      avatar,
		FollowerCount: u.FollowerCount,
	}
	return s, s.WebRID != ""
}

func (u *FollowingUser) resolveWebRID() string {
	if rd, ok := u.parseRoomData(); ok && rd.Owner.WebRID != "" {
		return rd.Owner.WebRID
	}
	return u.WebRID
}
