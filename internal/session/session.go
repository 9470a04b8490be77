// Livesink - Live-Stream Telemetry Ingestor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livesink

// Package session runs one live room end to end: resolving the room
// document, holding the push-channel websocket, heartbeating, acking, and
// dispatching decoded events into the write path.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/livesink/internal/logging"
	"github.com/tomtom215/livesink/internal/metrics"
	"github.com/tomtom215/livesink/internal/platform"
	"github.com/tomtom215/livesink/internal/records"
	"github.com/tomtom215/livesink/internal/signing"
	"github.com/tomtom215/livesink/internal/wire"
)

// Store is the subset of store operations a session drives.
type Store interface {
	SaveRoomInfo(ctx context.Context, r *records.Room) error
	MarkRoomEnded(ctx context.Context, roomID string) error
	UpdateRoomStats(ctx context.Context, roomID string, st *records.RoomStats) error
	IncrementRoomStats(ctx context.Context, roomID string, inc map[string]int64) error
	SaveBattleResult(ctx context.Context, r *records.BattleResult) error
	BufferChat(ctx context.Context, c *records.Chat) error
	BufferStat(ctx context.Context, st *records.Stat) error
}

// Detailer fetches the authoritative room document.
type Detailer interface {
	RoomDetail(ctx context.Context, webRID string) (*records.Room, error)
	TTWID(ctx context.Context) (string, error)
	UserAgent() string
}

// GiftProcessor receives raw gift records for aggregation.
type GiftProcessor interface {
	Process(ctx context.Context, g *records.Gift) error
}

// Config tunes one session.
type Config struct {
	// PushURL is the websocket push-channel endpoint.
	PushURL string
	// HeartbeatInterval is the push-channel heartbeat period.
	HeartbeatInterval time.Duration
	// ThrottleInterval bounds viewer-count and like handling.
	ThrottleInterval time.Duration
}

// errEnded signals a clean broadcaster-initiated shutdown of the room.
var errEnded = errors.New("room ended")

// Session lifecycle states.
const (
	stateInit int32 = iota
	stateConnecting
	stateConnected
	stateDraining
	stateTerminated
)

var stateNames = map[int32]string{
	stateInit:       "init",
	stateConnecting: "connecting",
	stateConnected:  "connected",
	stateDraining:   "draining",
	stateTerminated: "terminated",
}

// Session records one live room. Runs under the recorder supervisor; a
// clean room end returns suture.ErrDoNotRestart so the slot is released.
type Session struct {
	seed   platform.Seed
	store  Store
	gifts  GiftProcessor
	detail Detailer
	oracle signing.Oracle
	cfg    Config

	roomID       string
	userUniqueID string

	state atomic.Int32

	writeMu sync.Mutex
	conn    *websocket.Conn

	// viewer-seq derived state, single-goroutine (the read loop).
	seqSeen    bool
	prevOnline int64
	prevTotal  int64
	lastSeq    time.Time
	lastLike   time.Time

	now func() time.Time
}

// New builds a session for one discovered live room.
func New(seed platform.Seed, st Store, gifts GiftProcessor, detail Detailer, oracle signing.Oracle, cfg Config) *Session {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	if cfg.ThrottleInterval <= 0 {
		cfg.ThrottleInterval = 2 * time.Second
	}
	return &Session{
		seed:         seed,
		store:        st,
		gifts:        gifts,
		detail:       detail,
		oracle:       oracle,
		cfg:          cfg,
		roomID:       seed.RoomID,
		userUniqueID: newUserUniqueID(),
		now:          time.Now,
	}
}

func (s *Session) String() string { return "session-" + s.seed.WebRID }

// State reports the session lifecycle phase.
func (s *Session) State() string { return stateNames[s.state.Load()] }

// Serve implements suture.Service.
func (s *Session) Serve(ctx context.Context) error {
	log := logging.With().Str("web_rid", s.seed.WebRID).Str("room_id", s.roomID).Logger()

	defer s.state.Store(stateTerminated)

	lazy, err := s.resolveRoom(ctx)
	if err != nil {
		log.Err(err).Msg("room resolution failed, giving up")
		return suture.ErrDoNotRestart
	}

	s.state.Store(stateConnecting)
	conn, err := s.connect(ctx)
	if err != nil {
		return fmt.Errorf("connect push channel: %w", err)
	}
	s.conn = conn
	defer conn.Close()
	s.state.Store(stateConnected)

	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()
	log.Info().Msg("session connected")

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.heartbeat(loopCtx)
	}()
	if lazy {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.lazyRefresh(loopCtx)
		}()
	}

	err = s.readLoop(loopCtx)
	s.state.Store(stateDraining)
	cancel()
	_ = conn.Close()
	wg.Wait()

	switch {
	case errors.Is(err, errEnded):
		log.Info().Msg("room ended, session released")
		return suture.ErrDoNotRestart
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return err
	}
}

// resolveRoom makes sure an episode document exists before the push channel
// opens. With a room id in hand a provisional document is written and the
// detail endpoint is polled lazily in the background (fast path). Without
// one the detail endpoint is authoritative: one retry, then abort (slow
// path). Returns whether the lazy refresh is still owed.
func (s *Session) resolveRoom(ctx context.Context) (bool, error) {
	if s.roomID != "" {
		if err := s.store.SaveRoomInfo(ctx, s.provisionalRoom()); err != nil {
			logging.Err(err).Str("room_id", s.roomID).Msg("provisional room save failed")
		}
		return true, nil
	}

	room, err := s.detail.RoomDetail(ctx, s.seed.WebRID)
	if err != nil {
		logging.Warn().Err(err).Str("web_rid", s.seed.WebRID).Msg("room detail failed, retrying once")
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(3 * time.Second):
		}
		room, err = s.detail.RoomDetail(ctx, s.seed.WebRID)
		if err != nil {
			return false, fmt.Errorf("room detail: %w", err)
		}
	}
	if room.RoomID == "" {
		return false, errors.New("room detail carried no room id")
	}
	s.roomID = room.RoomID
	return false, s.store.SaveRoomInfo(ctx, room)
}

// provisionalRoom is the fast-path placeholder document, refined later by
// the lazy refresh.
func (s *Session) provisionalRoom() *records.Room {
	return &records.Room{
		WebRID:             s.seed.WebRID,
		RoomID:             s.roomID,
		Title:              s.seed.Nickname + "正在直播",
		UserID:             s.seed.UID,
		SecUID:             s.seed.SecUID,
		Nickname:           s.seed.Nickname,
		AvatarURL:          s.seed.AvatarURL,
		CoverURL:           s.seed.CoverURL,
		LiveStatus:         records.LiveStatusLive,
		RoomStatus:         records.LiveStatusLive,
		StartFollowerCount: s.seed.FollowerCount,
	}
}

// lazyRefresh replaces the provisional document with the real one. Five
// tries, 10+5i seconds apart, stopping on the first success.
func (s *Session) lazyRefresh(ctx context.Context) {
	for i := range 5 {
		wait := time.Duration(10+i*5) * time.Second
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		room, err := s.detail.RoomDetail(ctx, s.seed.WebRID)
		if err != nil {
			logging.Debug().Err(err).Str("web_rid", s.seed.WebRID).Int("try", i+1).
				Msg("lazy room refresh failed")
			continue
		}
		// The episode document is keyed by the id the session started with.
		room.RoomID = s.roomID
		if err := s.store.SaveRoomInfo(ctx, room); err != nil {
			logging.Err(err).Str("room_id", s.roomID).Msg("lazy room save failed")
			continue
		}
		logging.Debug().Str("room_id", s.roomID).Msg("room document refreshed")
		return
	}
}

// connect dials the push channel with a signed query and the device cookie.
func (s *Session) connect(ctx context.Context) (*websocket.Conn, error) {
	ttwid, err := s.detail.TTWID(ctx)
	if err != nil {
		return nil, err
	}

	rawQuery := s.pushQuery()
	if s.oracle != nil {
		sig, err := s.oracle.Sign(ctx, signing.CanonicalDigest(rawQuery))
		if err != nil {
			return nil, fmt.Errorf("sign push query: %w", err)
		}
		rawQuery += "&signature=" + url.QueryEscape(sig)
	}

	header := http.Header{}
	header.Set("User-Agent", s.detail.UserAgent())
	header.Set("Cookie", "ttwid="+ttwid)

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, s.cfg.PushURL+"?"+rawQuery, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("push channel handshake: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("push channel handshake: %w", err)
	}
	return conn, nil
}

// pushQuery builds the push-channel query string. Parameter order is kept
// stable so the signed digest matches what the server recomputes.
func (s *Session) pushQuery() string {
	params := []struct{ k, v string }{
		{"app_name", "douyin_web"},
		{"version_code", "180800"},
		{"webcast_sdk_version", "1.0.14-beta.0"},
		{"update_version_code", "1.0.14-beta.0"},
		{"compress", "gzip"},
		{"device_platform", "web"},
		{"cookie_enabled", "true"},
		{"screen_width", "1920"},
		{"screen_height", "1080"},
		{"browser_language", "zh-CN"},
		{"browser_platform", "Win32"},
		{"browser_name", "Mozilla"},
		{"browser_online", "true"},
		{"tz_name", "Asia/Shanghai"},
		{"cursor", ""},
		{"internal_ext", ""},
		{"host", "https://live.douyin.com"},
		{"aid", "6383"},
		{"live_id", "1"},
		{"did_rule", "3"},
		{"endpoint", "live_pc"},
		{"support_wrds", "1"},
		{"user_unique_id", s.userUniqueID},
		{"im_path", "/webcast/im/fetch/"},
		{"identity", "audience"},
		{"need_persist_msg_count", "15"},
		{"insert_task_id", ""},
		{"live_reason", ""},
		{"room_id", s.roomID},
		{"heartbeatDuration", "0"},
	}
	var sb []byte
	for i, p := range params {
		if i > 0 {
			sb = append(sb, '&')
		}
		sb = append(sb, p.k...)
		sb = append(sb, '=')
		sb = append(sb, url.QueryEscape(p.v)...)
	}
	return string(sb)
}

// newUserUniqueID fabricates the pseudo device id the push channel expects:
// a decimal string in the platform's id range.
func newUserUniqueID() string {
	id := uuid.New().ID()
	return strconv.FormatUint(7_300_000_000_000_000_000+uint64(id), 10)
}

// heartbeat keeps the push channel alive.
func (s *Session) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.write(wire.HeartbeatFrame()); err != nil {
				logging.Debug().Err(err).Str("room_id", s.roomID).Msg("heartbeat write failed")
				return
			}
		}
	}
}

// write sends one binary frame. The websocket allows one writer at a time;
// heartbeat and ack share this path.
func (s *Session) write(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// readLoop pumps frames until the context ends, the transport fails, or the
// broadcaster ends the room.
func (s *Session) readLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("push channel read: %w", err)
		}
		if err := s.handleFrame(ctx, data); err != nil {
			if errors.Is(err, errEnded) {
				return err
			}
			logging.Debug().Err(err).Str("room_id", s.roomID).Msg("frame handling failed")
		}
	}
}

// handleFrame decodes one envelope, acks when asked, and dispatches the
// inner messages.
func (s *Session) handleFrame(ctx context.Context, data []byte) error {
	frame, err := wire.DecodePushFrame(data)
	if err != nil {
		return fmt.Errorf("decode push frame: %w", err)
	}
	if len(frame.Payload) == 0 {
		return nil
	}
	resp, err := wire.DecodeCompressedResponse(frame.Payload)
	if err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.NeedAck {
		if err := s.write(wire.AckFrame(frame.LogID, resp.InternalExt)); err != nil {
			logging.Debug().Err(err).Str("room_id", s.roomID).Msg("ack write failed")
		}
	}

	var ended bool
	for _, msg := range resp.Messages {
		if err := s.dispatch(ctx, &msg); err != nil {
			if errors.Is(err, errEnded) {
				ended = true
				continue
			}
			metrics.DecodeFailures.WithLabelValues(msg.Method).Inc()
			logging.Debug().Err(err).Str("method", msg.Method).Msg("message handling failed")
		}
	}
	if ended {
		return errEnded
	}
	return nil
}
