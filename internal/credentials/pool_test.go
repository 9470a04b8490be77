// Livesink - Live-Stream Telemetry Ingestor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livesink

package credentials

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	cookies     []string
	invalidated []string
}

func (f *fakeBackend) LoadCookies(context.Context) ([]string, error) {
	out := make([]string, len(f.cookies))
	copy(out, f.cookies)
	return out, nil
}

func (f *fakeBackend) InvalidateCookie(_ context.Context, cookie string) error {
	f.invalidated = append(f.invalidated, cookie)
	for i, c := range f.cookies {
		if c == cookie {
			f.cookies = append(f.cookies[:i], f.cookies[i+1:]...)
			break
		}
	}
	return nil
}

func TestNewPoolRejectsEmpty(t *testing.T) {
	_, err := NewPool(context.Background(), &fakeBackend{})
	assert.ErrorIs(t, err, ErrPoolEmpty)
}

func TestRotateRoundRobin(t *testing.T) {
	pool, err := NewPool(context.Background(), &fakeBackend{cookies: []string{"a", "b", "c"}})
	require.NoError(t, err)

	assert.Equal(t, "a", pool.Current())
	assert.Equal(t, "b", pool.Rotate())
	assert.Equal(t, "c", pool.Rotate())
	assert.Equal(t, "a", pool.Rotate())
}

func TestDiscardRemovesAndReloads(t *testing.T) {
	backend := &fakeBackend{cookies: []string{"a", "b"}}
	pool, err := NewPool(context.Background(), backend)
	require.NoError(t, err)

	require.NoError(t, pool.Discard(context.Background(), "a"))
	assert.Equal(t, []string{"a"}, backend.invalidated)
	assert.Equal(t, 1, pool.Size())
	assert.Equal(t, "b", pool.Current())
}

func TestDiscardLastCredential(t *testing.T) {
	backend := &fakeBackend{cookies: []string{"only"}}
	pool, err := NewPool(context.Background(), backend)
	require.NoError(t, err)

	err = pool.Discard(context.Background(), "only")
	assert.ErrorIs(t, err, ErrPoolEmpty)
	assert.Equal(t, "", pool.Current())
}

func TestDiscardPicksUpReplacements(t *testing.T) {
	backend := &fakeBackend{cookies: []string{"old"}}
	pool, err := NewPool(context.Background(), backend)
	require.NoError(t, err)

	// An operator provisioned a new credential before the old one died.
	backend.cookies = append(backend.cookies, "fresh")
	require.NoError(t, pool.Discard(context.Background(), "old"))
	assert.Equal(t, "fresh", pool.Current())
}

func TestCurrentSecUserID(t *testing.T) {
	cookie := "ttwid=1; others=x; sec_uid=MS4wLjABAAAAabc123_-; more=y"
	pool, err := NewPool(context.Background(), &fakeBackend{cookies: []string{cookie}})
	require.NoError(t, err)

	assert.Equal(t, "MS4wLjABAAAAabc123_-", pool.CurrentSecUserID())
}

func TestMaxAttempts(t *testing.T) {
	pool, err := NewPool(context.Background(), &fakeBackend{cookies: []string{"a", "b", "c"}})
	require.NoError(t, err)
	assert.Equal(t, 5, pool.MaxAttempts())
}
