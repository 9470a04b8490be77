// Livesink - Live-Stream Telemetry Ingestor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livesink

package signing

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMsToken(t *testing.T) {
	token := NewMsToken()
	assert.Len(t, token, 182)
	for _, c := range token {
		assert.Contains(t, msTokenAlphabet, string(c))
	}
	assert.NotEqual(t, token, NewMsToken(), "tokens must be random")
}

func TestCanonicalString(t *testing.T) {
	query := "app_name=douyin_web&live_id=1&aid=6383&version_code=180800" +
		"&webcast_sdk_version=1.0.14-beta.0&room_id=7392091211001140287" +
		"&did_rule=3&user_unique_id=7319483754668557238&device_platform=web" +
		"&identity=audience&compress=gzip"

	got := CanonicalString(query)
	want := "live_id=1,aid=6383,version_code=180800," +
		"webcast_sdk_version=1.0.14-beta.0,room_id=7392091211001140287," +
		"sub_room_id=,sub_channel_id=,did_rule=3," +
		"user_unique_id=7319483754668557238,device_platform=web," +
		"device_type=,ac=,identity=audience"
	assert.Equal(t, want, got)
}

func TestCanonicalStringIgnoresBareTokens(t *testing.T) {
	got := CanonicalString("aid=6383&noise&identity=audience")
	assert.True(t, strings.Contains(got, "aid=6383"))
	assert.True(t, strings.Contains(got, "identity=audience"))
}

func TestCanonicalDigest(t *testing.T) {
	query := "live_id=1&aid=6383&room_id=42&identity=audience"
	sum := md5.Sum([]byte(CanonicalString(query)))
	assert.Equal(t, hex.EncodeToString(sum[:]), CanonicalDigest(query))
}

func TestHTTPOracleSign(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sign", r.URL.Path)
		var req signRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "abc123", req.Digest)
		_ = json.NewEncoder(w).Encode(signResponse{Signature: "signed-" + req.Digest})
	}))
	defer srv.Close()

	oracle := NewHTTPOracle(srv.URL, 0)
	sig, err := oracle.Sign(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "signed-abc123", sig)
}

func TestHTTPOracleABogus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/a_bogus", r.URL.Path)
		var req abogusRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "mozilla", req.UserAgent)
		_ = json.NewEncoder(w).Encode(abogusResponse{ABogus: "ab-ok"})
	}))
	defer srv.Close()

	oracle := NewHTTPOracle(srv.URL, 0)
	ab, err := oracle.ABogus(context.Background(), "k=v", "mozilla")
	require.NoError(t, err)
	assert.Equal(t, "ab-ok", ab)
}

func TestHTTPOracleErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	oracle := NewHTTPOracle(srv.URL, 0)
	_, err := oracle.Sign(context.Background(), "x")
	assert.Error(t, err)
}
