// Livesink - Live-Stream Telemetry Ingestor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livesink

package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/livesink/internal/credentials"
	"github.com/tomtom215/livesink/internal/records"
)

type memoryBackend struct {
	mu          sync.Mutex
	cookies     []string
	invalidated []string
}

func (b *memoryBackend) LoadCookies(context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.cookies))
	copy(out, b.cookies)
	return out, nil
}

func (b *memoryBackend) InvalidateCookie(_ context.Context, cookie string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.invalidated = append(b.invalidated, cookie)
	for i, c := range b.cookies {
		if c == cookie {
			b.cookies = append(b.cookies[:i], b.cookies[i+1:]...)
			break
		}
	}
	return nil
}

func newTestClient(t *testing.T, srvURL string, cookies ...string) (*Client, *memoryBackend) {
	t.Helper()
	backend := &memoryBackend{cookies: cookies}
	pool, err := credentials.NewPool(context.Background(), backend)
	require.NoError(t, err)
	return NewClient(Config{WebBase: srvURL, LiveBase: srvURL}, pool, nil), backend
}

func TestCardOfflineUser(t *testing.T) {
	u := FollowingUser{Nickname: "主播甲", SecUID: "MS4wLjABaaa", UID: "100", LiveStatus: 0, FollowerCount: 5000}
	card := u.Card()
	assert.Equal(t, 3, card.Weight)
	assert.Empty(t, card.WebRID)
	assert.Empty(t, card.SelfWebRID)
	assert.Equal(t, int64(5000), card.FollowerCount)
}

func TestCardLiveUserParsesRoomData(t *testing.T) {
	u := FollowingUser{
		Nickname:   "主播乙",
		SecUID:     "MS4wLjABbbb",
		LiveStatus: records.LiveStatusLive,
		RoomIDStr:  "7390000000000000001",
		RoomData:   `{"id_str":"7390000000000000001","user_count":812,"owner":{"web_rid":"168168168"}}`,
	}
	card := u.Card()
	assert.Equal(t, records.LiveStatusLive, card.Weight)
	assert.Equal(t, "168168168", card.WebRID)
	assert.Equal(t, "168168168", card.SelfWebRID)
	assert.Equal(t, int64(812), card.UserCount)
}

func TestCardGuestUserHasNoSelfWebRID(t *testing.T) {
	u := FollowingUser{
		Nickname:   "连麦嘉宾",
		SecUID:     "MS4wLjABccc",
		LiveStatus: records.LiveStatusGuest,
		WebRID:     "999888777",
	}
	card := u.Card()
	assert.Equal(t, records.LiveStatusGuest, card.Weight)
	assert.Equal(t, "999888777", card.WebRID)
	assert.Empty(t, card.SelfWebRID, "guest appearances are in someone else's room")
}

func TestSeedFallsBackToTopLevelWebRID(t *testing.T) {
	u := FollowingUser{
		Nickname:   "主播丙",
		LiveStatus: records.LiveStatusLive,
		RoomIDStr:  "7391",
		WebRID:     "555666777",
	}
	seed, ok := u.Seed()
	require.True(t, ok)
	assert.Equal(t, "555666777", seed.WebRID)
	assert.Equal(t, "7391", seed.RoomID)
}

func TestSeedWithoutWebRID(t *testing.T) {
	u := FollowingUser{Nickname: "主播丁", LiveStatus: records.LiveStatusLive, RoomIDStr: "7392"}
	_, ok := u.Seed()
	assert.False(t, ok)
}

func TestRoomIDFallsBackToRoomData(t *testing.T) {
	u := FollowingUser{
		LiveStatus: records.LiveStatusGuest,
		RoomData:   `{"id_str":"7393000000000000003"}`,
	}
	assert.Equal(t, "7393000000000000003", u.RoomID())
}

func TestFollowingPaginates(t *testing.T) {
	var offsets []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, followingPath, r.URL.Path)
		offset := r.URL.Query().Get("offset")
		offsets = append(offsets, offset)
		if offset == "0" {
			fmt.Fprint(w, `{"status_code":0,"has_more":true,"followings":[{"nickname":"a"},{"nickname":"b"}]}`)
			return
		}
		fmt.Fprint(w, `{"status_code":0,"has_more":false,"followings":[{"nickname":"c"}]}`)
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL, "sessionid=one")
	users, err := client.Following(context.Background(), 2, 0)
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, "c", users[2].Nickname)
	assert.Equal(t, []string{"0", "2"}, offsets)
}

func TestFollowingDiscardsRejectedCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Cookie") == "sessionid=dead" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		fmt.Fprint(w, `{"status_code":0,"has_more":false,"followings":[{"nickname":"ok"}]}`)
	}))
	defer srv.Close()

	client, backend := newTestClient(t, srv.URL, "sessionid=dead", "sessionid=live")
	users, err := client.Following(context.Background(), 20, 0)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, []string{"sessionid=dead"}, backend.invalidated)
}

func TestFollowingRotatesOnBusinessError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Cookie") == "sessionid=limited" {
			fmt.Fprint(w, `{"status_code":2483,"status_msg":"not logged in"}`)
			return
		}
		fmt.Fprint(w, `{"status_code":0,"has_more":false,"followings":[{"nickname":"ok"}]}`)
	}))
	defer srv.Close()

	client, backend := newTestClient(t, srv.URL, "sessionid=limited", "sessionid=fine")
	users, err := client.Following(context.Background(), 20, 0)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Empty(t, backend.invalidated, "a business error must not invalidate the credential")
}

func TestFollowingExhaustsPool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL, "sessionid=one", "sessionid=two")
	_, err := client.Following(context.Background(), 20, 0)
	assert.ErrorIs(t, err, ErrCredentialsExhausted)
}

func TestRoomDetailParsesRoomDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			http.SetCookie(w, &http.Cookie{Name: "ttwid", Value: "tt-123"})
		case enterPath:
			assert.Equal(t, "ttwid=tt-123", r.Header.Get("Cookie"))
			assert.Equal(t, "168168168", r.URL.Query().Get("web_rid"))
			fmt.Fprint(w, `{"status_code":0,"data":{
				"data":[{"id_str":"7394000000000000004","status":2,"title":"晚场直播",
					"stats":{"user_count":1200,"like_count":88000},
					"owner":{"id_str":"42","sec_uid":"MS4wLjABowner","nickname":"主播戊"}}],
				"user":{"id_str":"42","sec_uid":"MS4wLjABowner","nickname":"主播戊","follower_count":31000}}}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL, "sessionid=one")
	room, err := client.RoomDetail(context.Background(), "168168168")
	require.NoError(t, err)
	assert.Equal(t, "7394000000000000004", room.RoomID)
	assert.Equal(t, "晚场直播", room.Title)
	assert.Equal(t, 2, room.RoomStatus)
	assert.Equal(t, records.LiveStatusLive, room.LiveStatus)
	assert.Equal(t, int64(1200), room.UserCount)
	assert.Equal(t, int64(31000), room.StartFollowerCount)
	assert.Equal(t, "MS4wLjABowner", room.SecUID)
}

func TestRoomDetailUserOnlyFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.SetCookie(w, &http.Cookie{Name: "ttwid", Value: "tt-456"})
			return
		}
		fmt.Fprint(w, `{"status_code":0,"data":{"user":{"id_str":"43","sec_uid":"MS4wLjABonly","nickname":"主播己"}}}`)
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL, "sessionid=one")
	room, err := client.RoomDetail(context.Background(), "555")
	require.NoError(t, err)
	assert.Empty(t, room.RoomID)
	assert.Equal(t, "MS4wLjABonly", room.SecUID)
	assert.Equal(t, "主播己", room.Nickname)
}

func TestBuildRoomRejectsEmptyResponse(t *testing.T) {
	_, err := buildRoom("1", &enterResponse{})
	assert.Error(t, err)
}

func TestTTWIDCached(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		http.SetCookie(w, &http.Cookie{Name: "ttwid", Value: "tt-cache"})
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL, "sessionid=one")
	for range 3 {
		v, err := client.TTWID(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tt-cache", v)
	}
	assert.Equal(t, 1, hits)
}
