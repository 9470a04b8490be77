// Livesink - Live-Stream Telemetry Ingestor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livesink

package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/livesink/internal/logging"
	"github.com/tomtom215/livesink/internal/platform"
	"github.com/tomtom215/livesink/internal/records"
)

// Discovery walks the follow list.
type Discovery interface {
	Following(ctx context.Context, pageSize int, pageDelay time.Duration) ([]platform.FollowingUser, error)
}

// Store is the subset of store operations discovery drives.
type Store interface {
	SaveBroadcasterCard(ctx context.Context, card *records.BroadcasterCard) error
	UpdateRoomRealtime(ctx context.Context, roomID string, liveStatus int, followerCount int64) error
	SelfWebRID(ctx context.Context, secUID string) (string, error)
	MarkRoomEnded(ctx context.Context, roomID string) error
	GetRoomLiveStatus(ctx context.Context, roomID string) (int, error)
	ClearZombieRooms(ctx context.Context, timeout time.Duration) (int64, error)
}

// Pool is the credential pool surface the recorder touches after an
// exhaustion backoff.
type Pool interface {
	Reload(ctx context.Context) error
}

// Launcher places sessions under supervision. Satisfied by
// *suture.Supervisor.
type Launcher interface {
	Add(svc suture.Service) suture.ServiceToken
	RemoveAndWait(id suture.ServiceToken, timeout time.Duration) error
}

// SessionFactory builds the service recording one live room.
type SessionFactory func(seed platform.Seed) suture.Service

// RecorderConfig tunes the scan loop.
type RecorderConfig struct {
	// ScanInterval is the pause between follow-list scans.
	ScanInterval time.Duration
	// PageSize is the follow-list page size.
	PageSize int
	// PageDelay is the pause between follow-list pages.
	PageDelay time.Duration
	// ZombieTimeout settles live rooms with no writes for this long.
	ZombieTimeout time.Duration
	// ExhaustedCooldown is the pause after the credential pool ran dry
	// before reloading and trying again.
	ExhaustedCooldown time.Duration
	// RemoveTimeout bounds waiting for a removed session to stop.
	RemoveTimeout time.Duration
}

// running tracks one supervised session.
type running struct {
	roomID string
	token  suture.ServiceToken
}

// Recorder periodically scans the follow list, reconciles the set of
// running sessions against the rooms actually live, and settles episodes
// the platform no longer reports. Single goroutine; the sessions map needs
// no lock.
type Recorder struct {
	discovery Discovery
	store     Store
	pool      Pool
	launcher  Launcher
	factory   SessionFactory
	cfg       RecorderConfig

	sessions map[string]*running // keyed by web_rid
}

// NewRecorder builds the recorder service.
func NewRecorder(d Discovery, st Store, pool Pool, launcher Launcher, factory SessionFactory, cfg RecorderConfig) *Recorder {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 20 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	if cfg.ExhaustedCooldown <= 0 {
		cfg.ExhaustedCooldown = time.Minute
	}
	if cfg.RemoveTimeout <= 0 {
		cfg.RemoveTimeout = 10 * time.Second
	}
	return &Recorder{
		discovery: d,
		store:     st,
		pool:      pool,
		launcher:  launcher,
		factory:   factory,
		cfg:       cfg,
		sessions:  make(map[string]*running),
	}
}

func (r *Recorder) String() string { return "recorder-scan" }

// Serve implements suture.Service: one scan immediately, then on the tick.
func (r *Recorder) Serve(ctx context.Context) error {
	r.scan(ctx)
	ticker := time.NewTicker(r.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.scan(ctx)
		}
	}
}

// scan runs one full discovery and reconciliation pass.
func (r *Recorder) scan(ctx context.Context) {
	users, err := r.discovery.Following(ctx, r.cfg.PageSize, r.cfg.PageDelay)
	switch {
	case err == nil:
	case errors.Is(err, platform.ErrCredentialsExhausted):
		logging.Warn().Dur("cooldown", r.cfg.ExhaustedCooldown).
			Msg("credential pool exhausted, cooling down")
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.cfg.ExhaustedCooldown):
		}
		if rerr := r.pool.Reload(ctx); rerr != nil {
			logging.Err(rerr).Msg("credential reload failed")
		}
		return
	default:
		logging.Err(err).Msg("follow-list scan failed")
		return
	}

	live := r.collectLive(ctx, users)
	r.reconcile(ctx, live)

	if r.cfg.ZombieTimeout > 0 {
		if _, err := r.store.ClearZombieRooms(ctx, r.cfg.ZombieTimeout); err != nil {
			logging.Err(err).Msg("zombie sweep failed")
		}
	}
}

// collectLive persists what discovery learned about every followed account
// and returns the self-hosted live rooms worth a session. Rooms whose
// routing id cannot be resolved, even from the stored profile, are dropped.
func (r *Recorder) collectLive(ctx context.Context, users []platform.FollowingUser) map[string]platform.Seed {
	live := make(map[string]platform.Seed)
	for i := range users {
		u := &users[i]
		if err := r.store.SaveBroadcasterCard(ctx, u.Card()); err != nil {
			logging.Err(err).Str("sec_uid", u.SecUID).Msg("broadcaster card save failed")
		}

		if u.LiveStatus == records.LiveStatusLive || u.LiveStatus == records.LiveStatusGuest {
			if roomID := u.RoomID(); roomID != "" {
				if err := r.store.UpdateRoomRealtime(ctx, roomID, u.LiveStatus, u.FollowerCount); err != nil {
					logging.Err(err).Str("room_id", roomID).Msg("realtime room update failed")
				}
			}
		}
		if u.LiveStatus != records.LiveStatusLive {
			continue
		}

		seed, ok := u.Seed()
		if !ok && u.SecUID != "" {
			// The response hid the routing id; the profile may remember it
			// from an earlier self-hosted episode.
			if webRID, err := r.store.SelfWebRID(ctx, u.SecUID); err == nil && webRID != "" {
				seed.WebRID = webRID
				ok = true
			}
		}
		if !ok {
			logging.Warn().Str("nickname", u.Nickname).Str("sec_uid", u.SecUID).
				Msg("live room dropped, no routing id")
			continue
		}
		live[seed.WebRID] = seed
	}
	return live
}

// reconcile settles sessions the platform no longer lists, restarts rooms
// that rolled into a new episode, and launches newly live rooms.
func (r *Recorder) reconcile(ctx context.Context, live map[string]platform.Seed) {
	for webRID, run := range r.sessions {
		seed, still := live[webRID]
		if still && run.roomID == "" && seed.RoomID != "" {
			// Sessions launched before discovery reported a room id learn it
			// here; without it neither episode changes nor flaps are
			// detectable.
			run.roomID = seed.RoomID
		}
		switch {
		case !still:
			logging.Info().Str("web_rid", webRID).Msg("room offline, settling session")
			r.stop(ctx, webRID, run, true)
		case seed.RoomID != "" && run.roomID != "" && seed.RoomID != run.roomID:
			logging.Info().Str("web_rid", webRID).Str("old_room", run.roomID).
				Str("new_room", seed.RoomID).Msg("new episode, restarting session")
			r.stop(ctx, webRID, run, true)
		case run.roomID != "":
			// The session may have released itself on a control frame while
			// the platform still lists the room live: a flap. The settled
			// episode document is the tell.
			status, err := r.store.GetRoomLiveStatus(ctx, run.roomID)
			if err == nil && status == records.LiveStatusEnded {
				logging.Info().Str("web_rid", webRID).Str("room_id", run.roomID).
					Msg("room flapped, restarting session")
				r.stop(ctx, webRID, run, false)
			}
		}
	}

	for webRID, seed := range live {
		if _, ok := r.sessions[webRID]; ok {
			continue
		}
		token := r.launcher.Add(r.factory(seed))
		r.sessions[webRID] = &running{roomID: seed.RoomID, token: token}
		logging.Info().Str("web_rid", webRID).Str("room_id", seed.RoomID).Msg("session launched")
	}
}

// stop removes a session from supervision and optionally settles its
// episode document. A session that already released itself makes the
// removal fail harmlessly.
func (r *Recorder) stop(ctx context.Context, webRID string, run *running, settle bool) {
	if settle {
		if err := r.store.MarkRoomEnded(ctx, run.roomID); err != nil {
			logging.Err(err).Str("room_id", run.roomID).Msg("episode settlement failed")
		}
	}
	if err := r.launcher.RemoveAndWait(run.token, r.cfg.RemoveTimeout); err != nil {
		logging.Debug().Err(err).Str("web_rid", webRID).Msg("session already gone")
	}
	delete(r.sessions, webRID)
}

// Running reports the number of supervised sessions.
func (r *Recorder) Running() int { return len(r.sessions) }
