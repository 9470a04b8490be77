// Livesink - Live-Stream Telemetry Ingestor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livesink

package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tomtom215/livesink/internal/records"
	"github.com/tomtom215/livesink/internal/signing"
)

const enterPath = "/webcast/room/web/enter/"

// enterResponse mirrors the room-detail endpoint. The room document arrives
// either as data.data[0] or, on some variants, directly under data next to
// the owner profile.
type enterResponse struct {
	Data struct {
		Data []enterRoom `json:"data"`
		User enterUser   `json:"user"`
	} `json:"data"`
	StatusCode int `json:"status_code"`
}

type enterRoom struct {
	IDStr  string    `json:"id_str"`
	Status int       `json:"status"`
	Title  string    `json:"title"`
	Cover  imageSpec `json:"cover"`
	Stats  struct {
		UserCount int64 `json:"user_count"`
		LikeCount int64 `json:"like_count"`
	} `json:"stats"`
	Owner enterUser `json:"owner"`
}

type enterUser struct {
	IDStr         string    `json:"id_str"`
	SecUID        string    `json:"sec_uid"`
	Nickname      string    `json:"nickname"`
	AvatarThumb   imageSpec `json:"avatar_thumb"`
	FollowerCount int64     `json:"follower_count"`
}

// RoomDetail fetches the authoritative room document for a live web_rid.
// Calls go through a circuit breaker so a platform brown-out does not hammer
// the endpoint from every session at once.
func (c *Client) RoomDetail(ctx context.Context, webRID string) (*records.Room, error) {
	return c.breaker.Execute(func() (*records.Room, error) {
		return c.fetchRoomDetail(ctx, webRID)
	})
}

func (c *Client) fetchRoomDetail(ctx context.Context, webRID string) (*records.Room, error) {
	ttwid, err := c.TTWID(ctx)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("aid", "6383")
	params.Set("app_name", "douyin_web")
	params.Set("live_id", "1")
	params.Set("device_platform", "web")
	params.Set("language", "zh-CN")
	params.Set("enter_from", "web_live")
	params.Set("cookie_enabled", "true")
	params.Set("screen_width", "1920")
	params.Set("screen_height", "1080")
	params.Set("browser_language", "zh-CN")
	params.Set("browser_platform", "Win32")
	params.Set("browser_name", "Chrome")
	params.Set("browser_version", "126.0.0.0")
	params.Set("web_rid", webRID)
	params.Set("msToken", signing.NewMsToken())

	query := params.Encode()
	if ab, err := c.abogus(ctx, query); err != nil {
		return nil, fmt.Errorf("sign room-detail query: %w", err)
	} else if ab != "" {
		query += "&a_bogus=" + url.QueryEscape(ab)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.LiveBase+enterPath+"?"+query, nil)
	if err != nil {
		return nil, fmt.Errorf("build room-detail request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Referer", c.cfg.LiveBase+"/"+webRID)
	req.Header.Set("Cookie", "ttwid="+ttwid)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch room detail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("room detail returned %d", resp.StatusCode)
	}
	body, err := decodeJSONBody[enterResponse](resp.Body)
	if err != nil {
		return nil, err
	}
	if body.StatusCode != 0 {
		return nil, fmt.Errorf("room detail business error %d", body.StatusCode)
	}
	return buildRoom(webRID, body)
}

// buildRoom normalizes both detail response shapes into a Room document.
func buildRoom(webRID string, body *enterResponse) (*records.Room, error) {
	user := body.Data.User
	room := &records.Room{
		WebRID:             webRID,
		UserID:             user.IDStr,
		SecUID:             user.SecUID,
		Nickname:           user.Nickname,
		AvatarURL:          user.AvatarThumb.first(),
		LiveStatus:         records.LiveStatusLive,
		StartFollowerCount: user.FollowerCount,
	}

	if len(body.Data.Data) > 0 {
		rd := body.Data.Data[0]
		room.RoomID = rd.IDStr
		room.Title = rd.Title
		room.RoomStatus = rd.Status
		room.UserCount = rd.Stats.UserCount
		room.LikeCount = rd.Stats.LikeCount
		room.CoverURL = rd.Cover.first()
		if room.UserID == "" {
			room.UserID = rd.Owner.IDStr
		}
		if room.SecUID == "" {
			room.SecUID = rd.Owner.SecUID
		}
		if room.Nickname == "" {
			room.Nickname = rd.Owner.Nickname
		}
		if room.AvatarURL == "" {
			room.AvatarURL = rd.Owner.AvatarThumb.first()
		}
	}

	if room.RoomID == "" && room.SecUID == "" {
		return nil, fmt.Errorf("%w: room detail carries neither room nor owner", errBadPayload)
	}
	return room, nil
}
