// Livesink - Live-Stream Telemetry Ingestor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livesink

// Package signing produces the request tokens the platform checks: the
// msToken identifier, the canonical digest fed to the push-channel
// signature, and a client for the external signature oracle that runs the
// platform's obfuscated signing code.
package signing

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"math/rand/v2"
	"strings"
)

// msTokenLength matches the identifier length a browser client generates.
const msTokenLength = 182

const msTokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// NewMsToken generates a random msToken identifier.
func NewMsToken() string {
	var sb strings.Builder
	sb.Grow(msTokenLength)
	for range msTokenLength {
		sb.WriteByte(msTokenAlphabet[rand.IntN(len(msTokenAlphabet))])
	}
	return sb.String()
}

// canonicalParams is the ordered parameter subset the push-channel
// signature covers.
var canonicalParams = []string{
	"live_id", "aid", "version_code", "webcast_sdk_version",
	"room_id", "sub_room_id", "sub_channel_id", "did_rule",
	"user_unique_id", "device_platform", "device_type", "ac",
	"identity",
}

// CanonicalString extracts the canonical parameter subset from a raw query
// string, in signature order, joined as k=v pairs. Values are taken verbatim
// (no percent-decoding); absent parameters contribute an empty value.
func CanonicalString(rawQuery string) string {
	values := make(map[string]string)
	for _, pair := range strings.Split(rawQuery, "&") {
		eq := strings.IndexByte(pair, '=')
		if eq < 0 {
			continue
		}
		key := pair[:eq]
		// Value is everything after the last separator, mirroring the
		// platform client's parser.
		value := pair[strings.LastIndexByte(pair, '=')+1:]
		values[key] = value
	}

	pairs := make([]string, len(canonicalParams))
	for i, name := range canonicalParams {
		pairs[i] = name + "=" + values[name]
	}
	return strings.Join(pairs, ",")
}

// CanonicalDigest hashes the canonical parameter string; the digest is what
// the oracle actually signs.
func CanonicalDigest(rawQuery string) string {
	sum := md5.Sum([]byte(CanonicalString(rawQuery)))
	return hex.EncodeToString(sum[:])
}

// Oracle computes the platform's opaque signatures. The algorithms are
// obfuscated JavaScript; the production implementation delegates to a
// sidecar that executes them.
type Oracle interface {
	// Sign signs the push-channel canonical digest.
	Sign(ctx context.Context, digest string) (string, error)
	// ABogus signs a serialized query string and user agent for the HTTP
	// endpoints.
	ABogus(ctx context.Context, query, userAgent string) (string, error)
}
