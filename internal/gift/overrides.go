// Livesink - Live-Stream Telemetry Ingestor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livesink

package gift

import (
	"strings"

	"github.com/tomtom215/livesink/internal/records"
)

// badgeGiftID is the fan-club badge gift; badge names carry 灯牌.
const badgeGiftID = "685"

// priceOverrides corrects the unit price of diamond-series gifts, which the
// wire reports at a placeholder value.
var priceOverrides = map[string]int64{
	"钻石火箭":  12001,
	"钻石嘉年华": 36000,
	"钻石兔兔":  360,
	"钻石飞艇":  23333,
	"钻石秘境":  16000,
	"钻石游轮":  7200,
	"钻石飞机":  3600,
	"钻石跑车":  1500,
	"钻石热气球": 620,
	"钻石邮轮":  7200,
}

// sportsCarIconMarker identifies the diamond variant of the plain 跑车 gift,
// which shares its name with the ordinary one.
const sportsCarIconMarker = "diamond_paoche_icon.png"

// isBadgeGift reports whether the gift is a fan-club badge. Badges are
// counted on the room document and never persisted as detail records.
func isBadgeGift(g *records.Gift) bool {
	return g.GiftID == badgeGiftID || strings.Contains(g.GiftName, "灯牌")
}

// applyPriceOverride corrects the unit price in place when the gift is a
// known diamond-series gift or the diamond sports car variant.
func applyPriceOverride(g *records.Gift) {
	if strings.Contains(g.GiftName, "钻石") {
		if price, ok := priceOverrides[g.GiftName]; ok {
			g.DiamondCount = price
		}
		return
	}
	if g.GiftName == "跑车" && strings.Contains(g.GiftIconURL, sportsCarIconMarker) {
		g.DiamondCount = 1500
	}
}
