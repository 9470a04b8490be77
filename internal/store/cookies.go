// Livesink - Live-Stream Telemetry Ingestor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livesink

package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/tomtom215/livesink/internal/logging"
)

// cookieDoc is one credential in the settings collection. Note is operator
// metadata (which account the cookie belongs to); it controls whether an
// invalidation keeps the document around.
type cookieDoc struct {
	Cookie string `bson:"cookie"`
	Status string `bson:"status,omitempty"`
	Note   string `bson:"note,omitempty"`
}

// LoadCookies returns every non-empty credential string from the settings
// collection, in stored order.
func (s *Store) LoadCookies(ctx context.Context) ([]string, error) {
	cur, err := s.db.Collection(colCookies).Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("load cookies: %w", err)
	}
	var docs []cookieDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode cookies: %w", err)
	}
	cookies := make([]string, 0, len(docs))
	for _, d := range docs {
		if d.Cookie != "" {
			cookies = append(cookies, d.Cookie)
		}
	}
	return cookies, nil
}

// InvalidateCookie removes a rejected credential. Documents carrying an
// operator note are soft-invalidated (cookie cleared, status expired) so the
// note survives for re-provisioning; anonymous documents are deleted.
func (s *Store) InvalidateCookie(ctx context.Context, cookie string) error {
	if cookie == "" {
		return nil
	}
	var doc cookieDoc
	err := s.db.Collection(colCookies).FindOne(ctx, bson.M{"cookie": cookie}).Decode(&doc)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("read cookie: %w", err)
	}

	if doc.Note != "" {
		_, err = s.db.Collection(colCookies).UpdateOne(ctx,
			bson.M{"cookie": cookie},
			bson.M{"$set": bson.M{"cookie": "", "status": "expired", "updated_at": s.now()}},
		)
		if err != nil {
			return fmt.Errorf("expire cookie: %w", err)
		}
		logging.Info().Str("note", doc.Note).Msg("cookie expired, note kept")
		return nil
	}

	if _, err = s.db.Collection(colCookies).DeleteOne(ctx, bson.M{"cookie": cookie}); err != nil {
		return fmt.Errorf("delete cookie: %w", err)
	}
	logging.Info().Msg("rejected cookie deleted")
	return nil
}
