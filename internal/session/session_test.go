// Livesink - Live-Stream Telemetry Ingestor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livesink

package session

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/suture/v4"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/tomtom215/livesink/internal/platform"
	"github.com/tomtom215/livesink/internal/records"
	"github.com/tomtom215/livesink/internal/wire"
)

type fakeDetailer struct {
	room *records.Room
}

func (f *fakeDetailer) RoomDetail(context.Context, string) (*records.Room, error) {
	return f.room, nil
}

func (f *fakeDetailer) TTWID(context.Context) (string, error) { return "tt-test", nil }

func (f *fakeDetailer) UserAgent() string { return "test-agent" }

// serverFrame builds a push frame whose payload is a gzipped response
// carrying one inner message, built field by field so the session's decode
// path is exercised against independent bytes.
func serverFrame(t *testing.T, logID uint64, needAck bool, method string, payload []byte) []byte {
	t.Helper()

	var msg []byte
	msg = protowire.AppendTag(msg, 1, protowire.BytesType)
	msg = protowire.AppendBytes(msg, []byte(method))
	msg = protowire.AppendTag(msg, 2, protowire.BytesType)
	msg = protowire.AppendBytes(msg, payload)

	var resp []byte
	resp = protowire.AppendTag(resp, 1, protowire.BytesType)
	resp = protowire.AppendBytes(resp, msg)
	resp = protowire.AppendTag(resp, 5, protowire.BytesType)
	resp = protowire.AppendBytes(resp, []byte("ext-state"))
	if needAck {
		resp = protowire.AppendTag(resp, 9, protowire.VarintType)
		resp = protowire.AppendVarint(resp, 1)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(resp)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	return wire.EncodePushFrame(&wire.PushFrame{
		LogID:       logID,
		PayloadType: "msg",
		Payload:     buf.Bytes(),
	})
}

func TestServeEndsCleanlyOnControlEnded(t *testing.T) {
	upgrader := websocket.Upgrader{}
	acks := make(chan *wire.PushFrame, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		assert.Contains(t, r.Header.Get("Cookie"), "ttwid=tt-test")
		assert.Equal(t, "7394000000000000004", r.URL.Query().Get("room_id"))

		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var ctl []byte
		ctl = protowire.AppendTag(ctl, 1, protowire.VarintType)
		ctl = protowire.AppendVarint(ctl, wire.ControlStatusEnded)
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage,
			serverFrame(t, 77, true, wire.MethodControl, ctl)))

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frame, err := wire.DecodePushFrame(data)
			if err == nil && frame.PayloadType == wire.PayloadAck {
				acks <- frame
			}
		}
	}))
	defer srv.Close()

	st := &fakeStore{}
	s := New(platform.Seed{
		WebRID:   "168168168",
		RoomID:   "7394000000000000004",
		Nickname: "主播甲",
	}, st, &fakeGifts{}, &fakeDetailer{}, nil, Config{
		PushURL:           "ws" + strings.TrimPrefix(srv.URL, "http"),
		HeartbeatInterval: time.Minute,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.Serve(ctx)
	assert.ErrorIs(t, err, suture.ErrDoNotRestart)
	assert.Equal(t, "terminated", s.State())

	require.Len(t, st.rooms, 1, "provisional room document written before connecting")
	assert.Equal(t, "主播甲正在直播", st.rooms[0].Title)
	assert.Equal(t, []string{"7394000000000000004"}, st.ended)

	select {
	case ack := <-acks:
		assert.Equal(t, uint64(77), ack.LogID)
		assert.Equal(t, []byte("ext-state"), ack.Payload)
	case <-time.After(5 * time.Second):
		t.Fatal("no ack received")
	}
}

func TestServeSlowPathResolvesRoomFromDetail(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7395000000000000005", r.URL.Query().Get("room_id"))
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var ctl []byte
		ctl = protowire.AppendTag(ctl, 1, protowire.VarintType)
		ctl = protowire.AppendVarint(ctl, wire.ControlStatusEnded)
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage,
			serverFrame(t, 1, false, wire.MethodControl, ctl)))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	st := &fakeStore{}
	detail := &fakeDetailer{room: &records.Room{
		WebRID:     "555666777",
		RoomID:     "7395000000000000005",
		Title:      "真标题",
		LiveStatus: records.LiveStatusLive,
	}}
	s := New(platform.Seed{WebRID: "555666777", Nickname: "主播乙"},
		st, &fakeGifts{}, detail, nil, Config{
			PushURL:           "ws" + strings.TrimPrefix(srv.URL, "http"),
			HeartbeatInterval: time.Minute,
		})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.Serve(ctx)
	assert.ErrorIs(t, err, suture.ErrDoNotRestart)

	require.Len(t, st.rooms, 1)
	assert.Equal(t, "真标题", st.rooms[0].Title, "slow path saves the detail document, not a placeholder")
}
