// Livesink - Live-Stream Telemetry Ingestor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livesink

package store

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/tomtom215/livesink/internal/logging"
)

// EnsureSchema creates the time-series collections and secondary indexes.
// Idempotent; safe to rerun on every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	existing, err := s.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}

	series := []struct {
		name      string
		metaField string
	}{
		{colGifts, "web_rid"},
		{colChats, "web_rid"},
		{colStats, "room_id"},
	}
	for _, ts := range series {
		if slices.Contains(existing, ts.name) {
			continue
		}
		opts := options.CreateCollection().SetTimeSeriesOptions(
			options.TimeSeries().
				SetTimeField("created_at").
				SetMetaField(ts.metaField).
				SetGranularity("seconds"),
		)
		if err := s.db.CreateCollection(ctx, ts.name, opts); err != nil {
			// A concurrent starter may have won the race.
			if !isNamespaceExists(err) {
				return fmt.Errorf("create %s: %w", ts.name, err)
			}
		} else {
			logging.Info().Str("collection", ts.name).Msg("created time-series collection")
		}
	}

	if err := s.ensureIndexes(ctx); err != nil {
		return err
	}
	logging.Info().Msg("store schema verified")
	return nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	plans := map[string][]mongo.IndexModel{
		colBroadcasters: {
			{Keys: bson.D{{Key: "sec_uid", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		colRooms: {
			{Keys: bson.D{{Key: "room_id", Value: 1}}},
			{Keys: bson.D{{Key: "live_status", Value: 1}}},
		},
		colBattles: {
			{Keys: bson.D{{Key: "battle_id", Value: 1}, {Key: "room_id", Value: 1}}},
			{Keys: bson.D{{Key: "room_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		colGifts: {
			{Keys: bson.D{{Key: "gift_name", Value: 1}}},
			{Keys: bson.D{{Key: "room_id", Value: 1}, {Key: "total_diamond_count", Value: -1}}},
			{Keys: bson.D{{Key: "room_id", Value: 1}, {Key: "gift_name", Value: 1}}},
			{Keys: bson.D{{Key: "room_id", Value: 1}, {Key: "user_name", Value: 1}}},
		},
		colChats: {
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
			{Keys: bson.D{{Key: "room_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "room_id", Value: 1}, {Key: "user_name", Value: 1}}},
			{Keys: bson.D{{Key: "user_name", Value: 1}}},
			{Keys: bson.D{{Key: "sec_uid", Value: 1}}},
		},
		colStats: {
			{Keys: bson.D{{Key: "room_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
	}

	for name, models := range plans {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("index %s: %w", name, err)
		}
	}
	return nil
}

// isNamespaceExists matches the server error for an already-created
// collection (code 48).
func isNamespaceExists(err error) bool {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code == 48
	}
	return false
}
