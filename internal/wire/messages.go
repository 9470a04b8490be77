// Livesink - Live-Stream Telemetry Ingestor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livesink

package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Inner message methods the ingestor dispatches on. Everything else is
// skipped without decoding.
const (
	MethodChat         = "WebcastChatMessage"
	MethodGift         = "WebcastGiftMessage"
	MethodRoomUserSeq  = "WebcastRoomUserSeqMessage"
	MethodLike         = "WebcastLikeMessage"
	MethodControl      = "WebcastControlMessage"
	MethodBattleFinish = "WebcastLinkMicBattleFinishMethod"
)

// User is the sender block shared by chat and gift events.
type User struct {
	ID            uint64
	Nickname      string
	Gender        int32
	SecUID        string
	AvatarURL     string
	PayGrade      int32
	PayGradeIcon  string
	FansClubLevel int32
	FansClubIcon  string
}

// ChatEvent is one chat message. EventTime is a platform epoch in seconds,
// 0 when the platform omitted it.
type ChatEvent struct {
	User      User
	Content   string
	EventTime uint64
}

// GiftEvent is one gift frame. SendTime is a platform epoch in
// milliseconds, 0 when omitted.
type GiftEvent struct {
	User         User
	GiftID       uint64
	GiftName     string
	GiftIconURL  string
	DiamondCount int64
	ComboCount   int64
	GroupCount   int64
	GroupID      uint64
	RepeatEnd    int32
	TraceID      string
	SendTime     uint64
}

// RoomUserSeqEvent carries the room's viewer counters and leaderboard.
type RoomUserSeqEvent struct {
	Online    int64
	TotalUser int64
	Ranks     []RoomRank
}

// RoomRank is one leaderboard slot.
type RoomRank struct {
	User User
	Rank int32
}

// LikeEvent carries the cumulative like total.
type LikeEvent struct {
	Total int64
}

// ControlEvent signals room lifecycle transitions; status 3 means the
// broadcaster ended the session.
type ControlEvent struct {
	Status int32
}

// ControlStatusEnded is the broadcaster-ended control status.
const ControlStatusEnded = 3

// BattleFinishEvent is one PK settlement frame.
type BattleFinishEvent struct {
	Info         BattleInfo
	Scores       []BattleScore
	Armies       []BattleArmy
	Contributors []BattleContributorGroup
}

// BattleInfo identifies the battle; status 2 means settled.
type BattleInfo struct {
	BattleID    uint64
	Status      int32
	StartTimeMS uint64
}

// BattleStatusSettled is the only battle status worth persisting.
const BattleStatusSettled = 2

// BattleScore is one anchor's settlement line.
type BattleScore struct {
	UserID    uint64
	Score     int64
	WinStatus int32
	Rank      int32
}

// BattleArmy groups the anchors fighting on one side.
type BattleArmy struct {
	Anchors []User
}

// BattleContributorGroup lists the top gift senders behind one anchor.
type BattleContributorGroup struct {
	AnchorID uint64
	List     []BattleContributor
}

// BattleContributor is one contributing viewer.
type BattleContributor struct {
	ID       uint64
	Nickname string
	Avatar   string
	Score    int64
	Rank     int32
}

// User field numbers.
const (
	userID            = 1
	userNickname      = 2
	userGender        = 3
	userSecUID        = 4
	userAvatarURL     = 5
	userPayGrade      = 6
	userPayGradeIcon  = 7
	userFansClubLevel = 8
	userFansClubIcon  = 9
)

func decodeUser(b []byte) (User, error) {
	var u User
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, value []byte) error {
		switch {
		case num == userID && typ == protowire.VarintType:
			return setVarint(value, &u.ID)
		case num == userNickname && typ == protowire.BytesType:
			return setString(value, &u.Nickname)
		case num == userGender && typ == protowire.VarintType:
			return setVarint32(value, &u.Gender)
		case num == userSecUID && typ == protowire.BytesType:
			return setString(value, &u.SecUID)
		case num == userAvatarURL && typ == protowire.BytesType:
			return setString(value, &u.AvatarURL)
		case num == userPayGrade && typ == protowire.VarintType:
			return setVarint32(value, &u.PayGrade)
		case num == userPayGradeIcon && typ == protowire.BytesType:
			return setString(value, &u.PayGradeIcon)
		case num == userFansClubLevel && typ == protowire.VarintType:
			return setVarint32(value, &u.FansClubLevel)
		case num == userFansClubIcon && typ == protowire.BytesType:
			return setString(value, &u.FansClubIcon)
		}
		return nil
	})
	return u, err
}

// ChatEvent field numbers.
const (
	chatUser      = 1
	chatContent   = 2
	chatEventTime = 3
)

// DecodeChatEvent parses a chat payload.
func DecodeChatEvent(b []byte) (*ChatEvent, error) {
	e := &ChatEvent{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, value []byte) error {
		switch {
		case num == chatUser && typ == protowire.BytesType:
			return setMessage(value, &e.User, decodeUser)
		case num == chatContent && typ == protowire.BytesType:
			return setString(value, &e.Content)
		case num == chatEventTime && typ == protowire.VarintType:
			return setVarint(value, &e.EventTime)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("decode chat event: %w", err)
	}
	return e, nil
}

// GiftEvent field numbers.
const (
	giftUser         = 1
	giftGiftID       = 2
	giftGiftName     = 3
	giftDiamondCount = 4
	giftComboCount   = 5
	giftGroupCount   = 6
	giftGroupID      = 7
	giftRepeatEnd    = 8
	giftTraceID      = 9
	giftSendTime     = 10
	giftIconURL      = 11
)

// DecodeGiftEvent parses a gift payload.
func DecodeGiftEvent(b []byte) (*GiftEvent, error) {
	e := &GiftEvent{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, value []byte) error {
		switch {
		case num == giftUser && typ == protowire.BytesType:
			return setMessage(value, &e.User, decodeUser)
		case num == giftGiftID && typ == protowire.VarintType:
			return setVarint(value, &e.GiftID)
		case num == giftGiftName && typ == protowire.BytesType:
			return setString(value, &e.GiftName)
		case num == giftDiamondCount && typ == protowire.VarintType:
			return setVarint64(value, &e.DiamondCount)
		case num == giftComboCount && typ == protowire.VarintType:
			return setVarint64(value, &e.ComboCount)
		case num == giftGroupCount && typ == protowire.VarintType:
			return setVarint64(value, &e.GroupCount)
		case num == giftGroupID && typ == protowire.VarintType:
			return setVarint(value, &e.GroupID)
		case num == giftRepeatEnd && typ == protowire.VarintType:
			return setVarint32(value, &e.RepeatEnd)
		case num == giftTraceID && typ == protowire.BytesType:
			return setString(value, &e.TraceID)
		case num == giftSendTime && typ == protowire.VarintType:
			return setVarint(value, &e.SendTime)
		case num == giftIconURL && typ == protowire.BytesType:
			return setString(value, &e.GiftIconURL)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("decode gift event: %w", err)
	}
	return e, nil
}

// RoomUserSeqEvent field numbers.
const (
	seqOnline    = 1
	seqTotalUser = 2
	seqRanks     = 3
)

// RoomRank field numbers.
const (
	rankUser = 1
	rankRank = 2
)

// DecodeRoomUserSeqEvent parses a viewer-counter payload.
func DecodeRoomUserSeqEvent(b []byte) (*RoomUserSeqEvent, error) {
	e := &RoomUserSeqEvent{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, value []byte) error {
		switch {
		case num == seqOnline && typ == protowire.VarintType:
			return setVarint64(value, &e.Online)
		case num == seqTotalUser && typ == protowire.VarintType:
			return setVarint64(value, &e.TotalUser)
		case num == seqRanks && typ == protowire.BytesType:
			raw, err := fieldBytes(value)
			if err != nil {
				return err
			}
			var r RoomRank
			if err := walkFields(raw, func(num protowire.Number, typ protowire.Type, value []byte) error {
				switch {
				case num == rankUser && typ == protowire.BytesType:
					return setMessage(value, &r.User, decodeUser)
				case num == rankRank && typ == protowire.VarintType:
					return setVarint32(value, &r.Rank)
				}
				return nil
			}); err != nil {
				return err
			}
			e.Ranks = append(e.Ranks, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("decode user seq event: %w", err)
	}
	return e, nil
}

// LikeEvent field numbers.
const likeTotal = 1

// DecodeLikeEvent parses a like payload.
func DecodeLikeEvent(b []byte) (*LikeEvent, error) {
	e := &LikeEvent{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, value []byte) error {
		if num == likeTotal && typ == protowire.VarintType {
			return setVarint64(value, &e.Total)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("decode like event: %w", err)
	}
	return e, nil
}

// ControlEvent field numbers.
const controlStatus = 1

// DecodeControlEvent parses a control payload.
func DecodeControlEvent(b []byte) (*ControlEvent, error) {
	e := &ControlEvent{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, value []byte) error {
		if num == controlStatus && typ == protowire.VarintType {
			return setVarint32(value, &e.Status)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("decode control event: %w", err)
	}
	return e, nil
}

// BattleFinishEvent field numbers.
const (
	battleInfo         = 1
	battleScores       = 2
	battleArmies       = 3
	battleContributors = 4
)

// BattleInfo field numbers.
const (
	battleInfoID     = 1
	battleInfoStatus = 2
	battleInfoStart  = 3
)

// BattleScore field numbers.
const (
	scoreUserID    = 1
	scoreScore     = 2
	scoreWinStatus = 3
	scoreRank      = 4
)

// BattleArmy field numbers.
const armyAnchors = 1

// BattleContributorGroup field numbers.
const (
	contribAnchorID = 1
	contribList     = 2
)

// BattleContributor field numbers.
const (
	contribID       = 1
	contribNickname = 2
	contribAvatar   = 3
	contribScore    = 4
	contribRank     = 5
)

// DecodeBattleFinishEvent parses a PK settlement payload.
func DecodeBattleFinishEvent(b []byte) (*BattleFinishEvent, error) {
	e := &BattleFinishEvent{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, value []byte) error {
		switch {
		case num == battleInfo && typ == protowire.BytesType:
			return setMessage(value, &e.Info, decodeBattleInfo)
		case num == battleScores && typ == protowire.BytesType:
			return appendMessage(value, &e.Scores, decodeBattleScore)
		case num == battleArmies && typ == protowire.BytesType:
			return appendMessage(value, &e.Armies, decodeBattleArmy)
		case num == battleContributors && typ == protowire.BytesType:
			return appendMessage(value, &e.Contributors, decodeBattleContributorGroup)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("decode battle finish event: %w", err)
	}
	return e, nil
}

func decodeBattleInfo(b []byte) (BattleInfo, error) {
	var info BattleInfo
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, value []byte) error {
		switch {
		case num == battleInfoID && typ == protowire.VarintType:
			return setVarint(value, &info.BattleID)
		case num == battleInfoStatus && typ == protowire.VarintType:
			return setVarint32(value, &info.Status)
		case num == battleInfoStart && typ == protowire.VarintType:
			return setVarint(value, &info.StartTimeMS)
		}
		return nil
	})
	return info, err
}

func decodeBattleScore(b []byte) (BattleScore, error) {
	var s BattleScore
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, value []byte) error {
		switch {
		case num == scoreUserID && typ == protowire.VarintType:
			return setVarint(value, &s.UserID)
		case num == scoreScore && typ == protowire.VarintType:
			return setVarint64(value, &s.Score)
		case num == scoreWinStatus && typ == protowire.VarintType:
			return setVarint32(value, &s.WinStatus)
		case num == scoreRank && typ == protowire.VarintType:
			return setVarint32(value, &s.Rank)
		}
		return nil
	})
	return s, err
}

func decodeBattleArmy(b []byte) (BattleArmy, error) {
	var a BattleArmy
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, value []byte) error {
		if num == armyAnchors && typ == protowire.BytesType {
			raw, err := fieldBytes(value)
			if err != nil {
				return err
			}
			u, err := decodeUser(raw)
			if err != nil {
				return err
			}
			a.Anchors = append(a.Anchors, u)
		}
		return nil
	})
	return a, err
}

func decodeBattleContributorGroup(b []byte) (BattleContributorGroup, error) {
	var g BattleContributorGroup
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, value []byte) error {
		switch {
		case num == contribAnchorID && typ == protowire.VarintType:
			return setVarint(value, &g.AnchorID)
		case num == contribList && typ == protowire.BytesType:
			return appendMessage(value, &g.List, decodeBattleContributor)
		}
		return nil
	})
	return g, err
}

func decodeBattleContributor(b []byte) (BattleContributor, error) {
	var c BattleContributor
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, value []byte) error {
		switch {
		case num == contribID && typ == protowire.VarintType:
			return setVarint(value, &c.ID)
		case num == contribNickname && typ == protowire.BytesType:
			return setString(value, &c.Nickname)
		case num == contribAvatar && typ == protowire.BytesType:
			return setString(value, &c.Avatar)
		case num == contribScore && typ == protowire.VarintType:
			return setVarint64(value, &c.Score)
		case num == contribRank && typ == protowire.VarintType:
			return setVarint32(value, &c.Rank)
		}
		return nil
	})
	return c, err
}

// Field-value setters shared by the decoders.

func setVarint(value []byte, dst *uint64) error {
	v, err := fieldVarint(value)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func setVarint64(value []byte, dst *int64) error {
	v, err := fieldVarint(value)
	if err != nil {
		return err
	}
	*dst = int64(v)
	return nil
}

func setVarint32(value []byte, dst *int32) error {
	v, err := fieldVarint(value)
	if err != nil {
		return err
	}
	*dst = int32(v)
	return nil
}

func setString(value []byte, dst *string) error {
	v, err := fieldString(value)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func setMessage[T any](value []byte, dst *T, decode func([]byte) (T, error)) error {
	raw, err := fieldBytes(value)
	if err != nil {
		return err
	}
	v, err := decode(raw)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func appendMessage[T any](value []byte, dst *[]T, decode func([]byte) (T, error)) error {
	raw, err := fieldBytes(value)
	if err != nil {
		return err
	}
	v, err := decode(raw)
	if err != nil {
		return err
	}
	*dst = append(*dst, v)
	return nil
}
