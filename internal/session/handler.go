// Livesink - Live-Stream Telemetry Ingestor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livesink

package session

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/tomtom215/livesink/internal/metrics"
	"github.com/tomtom215/livesink/internal/records"
	"github.com/tomtom215/livesink/internal/wire"
)

// platformOffset corrects the platform's event clocks, which run eight
// hours behind UTC+8 wall time as stored.
const platformOffset = 8 * time.Hour

// platformTimeSec converts a platform epoch in seconds. A zero epoch means
// the platform omitted the clock; the local fallback stands in.
func platformTimeSec(epoch uint64, fallback time.Time) time.Time {
	if epoch == 0 {
		return fallback
	}
	return time.Unix(int64(epoch), 0).Add(platformOffset)
}

// platformTimeMS converts a platform epoch in milliseconds.
func platformTimeMS(epoch uint64, fallback time.Time) time.Time {
	if epoch == 0 {
		return fallback
	}
	return time.UnixMilli(int64(epoch)).Add(platformOffset)
}

// dispatch decodes and routes one inner message.
func (s *Session) dispatch(ctx context.Context, msg *wire.Message) error {
	var err error
	switch msg.Method {
	case wire.MethodChat:
		var e *wire.ChatEvent
		if e, err = wire.DecodeChatEvent(msg.Payload); err == nil {
			err = s.handleChat(ctx, e)
		}
	case wire.MethodGift:
		var e *wire.GiftEvent
		if e, err = wire.DecodeGiftEvent(msg.Payload); err == nil {
			err = s.handleGift(ctx, e)
		}
	case wire.MethodRoomUserSeq:
		var e *wire.RoomUserSeqEvent
		if e, err = wire.DecodeRoomUserSeqEvent(msg.Payload); err == nil {
			err = s.handleUserSeq(ctx, e)
		}
	case wire.MethodLike:
		var e *wire.LikeEvent
		if e, err = wire.DecodeLikeEvent(msg.Payload); err == nil {
			err = s.handleLike(ctx, e)
		}
	case wire.MethodControl:
		var e *wire.ControlEvent
		if e, err = wire.DecodeControlEvent(msg.Payload); err == nil {
			err = s.handleControl(ctx, e)
		}
	case wire.MethodBattleFinish:
		var e *wire.BattleFinishEvent
		if e, err = wire.DecodeBattleFinishEvent(msg.Payload); err == nil {
			err = s.handleBattleFinish(ctx, e)
		}
	default:
		return nil
	}
	if err == nil {
		metrics.EventsDecoded.WithLabelValues(msg.Method).Inc()
	}
	return err
}

func (s *Session) handleChat(ctx context.Context, e *wire.ChatEvent) error {
	return s.store.BufferChat(ctx, &records.Chat{
		WebRID:        s.seed.WebRID,
		RoomID:        s.roomID,
		UserID:        strconv.FormatUint(e.User.ID, 10),
		UserName:      e.User.Nickname,
		Gender:        int(e.User.Gender),
		Content:       e.Content,
		SecUID:        e.User.SecUID,
		AvatarURL:     e.User.AvatarURL,
		PayGrade:      int(e.User.PayGrade),
		PayGradeIcon:  e.User.PayGradeIcon,
		FansClubIcon:  e.User.FansClubIcon,
		FansClubLevel: int(e.User.FansClubLevel),
		EventTime:     platformTimeSec(e.EventTime, s.now()),
	})
}

func (s *Session) handleGift(ctx context.Context, e *wire.GiftEvent) error {
	return s.gifts.Process(ctx, &records.Gift{
		WebRID:        s.seed.WebRID,
		RoomID:        s.roomID,
		UserID:        strconv.FormatUint(e.User.ID, 10),
		UserName:      e.User.Nickname,
		Gender:        int(e.User.Gender),
		SecUID:        e.User.SecUID,
		AvatarURL:     e.User.AvatarURL,
		PayGrade:      int(e.User.PayGrade),
		PayGradeIcon:  e.User.PayGradeIcon,
		FansClubIcon:  e.User.FansClubIcon,
		FansClubLevel: int(e.User.FansClubLevel),
		GiftIconURL:   e.GiftIconURL,
		GiftID:        strconv.FormatUint(e.GiftID, 10),
		GiftName:      e.GiftName,
		DiamondCount:  e.DiamondCount,
		ComboCount:    e.ComboCount,
		GroupCount:    e.GroupCount,
		GroupID:       strconv.FormatUint(e.GroupID, 10),
		RepeatEnd:     int(e.RepeatEnd),
		TraceID:       e.TraceID,
		SendTime:      platformTimeMS(e.SendTime, s.now()),
	})
}

// handleUserSeq turns the cumulative viewer counters into per-interval
// entry/exit/watch-time increments. Handling is throttled; the platform
// retransmits this message far faster than the derived numbers move.
func (s *Session) handleUserSeq(ctx context.Context, e *wire.RoomUserSeqEvent) error {
	now := s.now()
	if !s.lastSeq.IsZero() && now.Sub(s.lastSeq) < s.cfg.ThrottleInterval {
		return nil
	}

	if s.seqSeen {
		elapsed := now.Sub(s.lastSeq).Seconds()
		newEntries := max(e.TotalUser-s.prevTotal, 0)
		netGrowth := e.Online - s.prevOnline
		newExits := max(newEntries-netGrowth, 0)
		watchInc := int64(float64(e.Online) * elapsed)
		if newEntries > 0 || newExits > 0 || watchInc > 0 {
			if err := s.store.IncrementRoomStats(ctx, s.roomID, map[string]int64{
				"real_time_entries":    newEntries,
				"real_time_exits":      newExits,
				"total_watch_time_sec": watchInc,
			}); err != nil {
				return err
			}
		}
	}
	s.seqSeen = true
	s.prevOnline = e.Online
	s.prevTotal = e.TotalUser
	s.lastSeq = now

	stats := &records.RoomStats{
		UserCount:      &e.Online,
		TotalUserCount: &e.TotalUser,
	}
	if len(e.Ranks) > 0 {
		ranks := make([]records.RankEntry, 0, len(e.Ranks))
		for _, r := range e.Ranks {
			ranks = append(ranks, records.RankEntry{
				UID:      strconv.FormatUint(r.User.ID, 10),
				Nickname: r.User.Nickname,
				Avatar:   r.User.AvatarURL,
				Rank:     int(r.Rank),
			})
		}
		stats.Ranks = ranks
	}
	if err := s.store.UpdateRoomStats(ctx, s.roomID, stats); err != nil {
		return err
	}

	return s.store.BufferStat(ctx, &records.Stat{
		RoomID:         s.roomID,
		WebRID:         s.seed.WebRID,
		UserCount:      e.Online,
		TotalUserCount: e.TotalUser,
	})
}

func (s *Session) handleLike(ctx context.Context, e *wire.LikeEvent) error {
	now := s.now()
	if !s.lastLike.IsZero() && now.Sub(s.lastLike) < s.cfg.ThrottleInterval {
		return nil
	}
	s.lastLike = now
	return s.store.UpdateRoomStats(ctx, s.roomID, &records.RoomStats{LikeCount: &e.Total})
}

func (s *Session) handleControl(ctx context.Context, e *wire.ControlEvent) error {
	if e.Status != wire.ControlStatusEnded {
		return nil
	}
	if err := s.store.MarkRoomEnded(ctx, s.roomID); err != nil {
		return err
	}
	return errEnded
}

// handleBattleFinish persists a settled PK round. Non-settled frames are
// progress updates and carry no final scores.
func (s *Session) handleBattleFinish(ctx context.Context, e *wire.BattleFinishEvent) error {
	if e.Info.Status != wire.BattleStatusSettled || e.Info.BattleID == 0 {
		return nil
	}
	result := buildBattleResult(s.roomID, s.now(), e)
	return s.store.SaveBattleResult(ctx, result)
}

const battleContributorLimit = 3

// buildBattleResult normalizes a settlement frame. Two modes exist: a team
// battle (win statuses are reported, or exactly two sides fought) groups
// anchors by their win status; a free-for-all ranks every anchor on their
// own.
func buildBattleResult(roomID string, now time.Time, e *wire.BattleFinishEvent) *records.BattleResult {
	scores := make(map[uint64]wire.BattleScore, len(e.Scores))
	hasWinStatus := false
	for _, sc := range e.Scores {
		scores[sc.UserID] = sc
		if sc.WinStatus == 1 || sc.WinStatus == 2 {
			hasWinStatus = true
		}
	}

	contributors := make(map[uint64][]records.BattleContributor, len(e.Contributors))
	for _, group := range e.Contributors {
		list := group.List
		if len(list) > battleContributorLimit {
			list = list[:battleContributorLimit]
		}
		out := make([]records.BattleContributor, 0, len(list))
		for _, c := range list {
			out = append(out, records.BattleContributor{
				UserID:   strconv.FormatUint(c.ID, 10),
				Nickname: c.Nickname,
				Avatar:   c.Avatar,
				Score:    c.Score,
				Rank:     int(c.Rank),
			})
		}
		contributors[group.AnchorID] = out
	}

	var anchors []records.BattleAnchor
	for _, army := range e.Armies {
		for _, u := range army.Anchors {
			sc := scores[u.ID]
			anchors = append(anchors, records.BattleAnchor{
				UserID:       strconv.FormatUint(u.ID, 10),
				Nickname:     u.Nickname,
				Avatar:       u.AvatarURL,
				Score:        sc.Score,
				Rank:         int(sc.Rank),
				Contributors: contributors[u.ID],
			})
		}
	}

	result := &records.BattleResult{
		BattleID:  strconv.FormatUint(e.Info.BattleID, 10),
		RoomID:    roomID,
		StartTime: platformTimeMS(e.Info.StartTimeMS, now),
	}

	if hasWinStatus || len(anchors) == 2 {
		result.Mode = records.BattleModeTeam
		result.Teams = teamsByWinStatus(anchors, scores)
	} else {
		result.Mode = records.BattleModeFreeForAll
		sort.SliceStable(anchors, func(i, j int) bool { return anchors[i].Rank < anchors[j].Rank })
		teams := make([]records.BattleTeam, 0, len(anchors))
		for i, a := range anchors {
			teams = append(teams, records.BattleTeam{
				TeamID:  strconv.Itoa(i + 1),
				Anchors: []records.BattleAnchor{a},
			})
		}
		result.Teams = teams
	}
	return result
}

// teamsByWinStatus groups anchors sharing a win status, winners first.
func teamsByWinStatus(anchors []records.BattleAnchor, scores map[uint64]wire.BattleScore) []records.BattleTeam {
	byStatus := make(map[int32][]records.BattleAnchor)
	for _, a := range anchors {
		id, _ := strconv.ParseUint(a.UserID, 10, 64)
		byStatus[scores[id].WinStatus] = append(byStatus[scores[id].WinStatus], a)
	}
	statuses := make([]int32, 0, len(byStatus))
	for st := range byStatus {
		statuses = append(statuses, st)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i] > statuses[j] })

	teams := make([]records.BattleTeam, 0, len(statuses))
	for i, st := range statuses {
		teams = append(teams, records.BattleTeam{
			TeamID:    strconv.Itoa(i + 1),
			WinStatus: int(st),
			Anchors:   byStatus[st],
		})
	}
	return teams
}
