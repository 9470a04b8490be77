// Livesink - Live-Stream Telemetry Ingestor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livesink

package records

import (
	"fmt"

	"github.com/goccy/go-json"
)

// EncodeChat serializes a chat record for the durable buffer.
func EncodeChat(c *Chat) ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal chat record: %w", err)
	}
	return data, nil
}

// DecodeChat deserializes a chat record popped from the durable buffer.
func DecodeChat(data []byte) (*Chat, error) {
	var c Chat
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal chat record: %w", err)
	}
	return &c, nil
}

// EncodeGift serializes a gift record for the durable buffer.
func EncodeGift(g *Gift) ([]byte, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("marshal gift record: %w", err)
	}
	return data, nil
}

// DecodeGift deserializes a gift record popped from the durable buffer.
func DecodeGift(data []byte) (*Gift, error) {
	var g Gift
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("unmarshal gift record: %w", err)
	}
	return &g, nil
}

// EncodeStat serializes a stat snapshot for the durable buffer.
func EncodeStat(s *Stat) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal stat record: %w", err)
	}
	return data, nil
}

// DecodeStat deserializes a stat snapshot popped from the durable buffer.
func DecodeStat(data []byte) (*Stat, error) {
	var s Stat
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal stat record: %w", err)
	}
	return &s, nil
}
