// Livesink - Live-Stream Telemetry Ingestor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livesink

// Package credentials manages the rotating pool of platform cookies backed
// by the store. The pool is process-wide; discovery and detail clients share
// it so a rotation caused by one request is visible to the next.
package credentials

import (
	"context"
	"errors"
	"regexp"
	"sync"

	"github.com/tomtom215/livesink/internal/logging"
	"github.com/tomtom215/livesink/internal/metrics"
)

// ErrPoolEmpty is returned when no usable credential remains.
var ErrPoolEmpty = errors.New("credential pool empty")

// secUserIDPattern matches the account id embedded in a credential string.
var secUserIDPattern = regexp.MustCompile(`MS4wLjAB[^%;]*`)

// Backend persists the pool: loading survivors and invalidating rejects.
type Backend interface {
	LoadCookies(ctx context.Context) ([]string, error)
	InvalidateCookie(ctx context.Context, cookie string) error
}

// Pool is a round-robin credential pool with hot reload. Safe for
// concurrent use.
type Pool struct {
	backend Backend

	mu      sync.Mutex
	cookies []string
	index   int
}

// NewPool builds a pool over the backend and performs the initial load.
// An empty pool at startup is an error; the caller should refuse to start.
func NewPool(ctx context.Context, backend Backend) (*Pool, error) {
	p := &Pool{backend: backend}
	if err := p.Reload(ctx); err != nil {
		return nil, err
	}
	if p.Size() == 0 {
		return nil, ErrPoolEmpty
	}
	return p, nil
}

// Reload refreshes the pool from the backend. The rotation index is clamped
// so a shrunken pool never indexes out of range. A load failure keeps the
// in-memory pool intact.
func (p *Pool) Reload(ctx context.Context) error {
	cookies, err := p.backend.LoadCookies(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookies = cookies
	if p.index >= len(p.cookies) {
		p.index = 0
	}
	logging.Info().Int("count", len(cookies)).Msg("credential pool reloaded")
	return nil
}

// Current returns the active credential, or "" when the pool is empty.
func (p *Pool) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.cookies) == 0 {
		return ""
	}
	return p.cookies[p.index]
}

// CurrentSecUserID extracts the account id from the active credential, ""
// when absent.
func (p *Pool) CurrentSecUserID() string {
	return secUserIDPattern.FindString(p.Current())
}

// Rotate advances to the next credential and returns it. Used when a
// response was malformed or carried a business error: the credential may
// still be good, so it stays in the pool.
func (p *Pool) Rotate() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.cookies) == 0 {
		return ""
	}
	p.index = (p.index + 1) % len(p.cookies)
	metrics.CredentialRotations.WithLabelValues("invalid_response").Inc()
	logging.Warn().Int("index", p.index).Msg("rotated credential")
	return p.cookies[p.index]
}

// Discard invalidates a rejected credential in the backend, removes it from
// the pool, and hot-reloads in case an operator provisioned replacements.
// Used on a hard platform rejection (401/403).
func (p *Pool) Discard(ctx context.Context, cookie string) error {
	if cookie == "" {
		return nil
	}
	if err := p.backend.InvalidateCookie(ctx, cookie); err != nil {
		logging.Err(err).Msg("credential invalidation failed")
	}

	p.mu.Lock()
	for i, c := range p.cookies {
		if c == cookie {
			p.cookies = append(p.cookies[:i], p.cookies[i+1:]...)
			if p.index >= len(p.cookies) {
				p.index = 0
			}
			break
		}
	}
	p.mu.Unlock()

	metrics.CredentialRotations.WithLabelValues("rejected").Inc()
	if err := p.Reload(ctx); err != nil {
		logging.Err(err).Msg("credential reload after discard failed")
	}
	if p.Size() == 0 {
		return ErrPoolEmpty
	}
	return nil
}

// Size returns the number of credentials currently pooled.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cookies)
}

// MaxAttempts bounds one retry loop: every pooled credential plus slack for
// hot-reloaded replacements.
func (p *Pool) MaxAttempts() int {
	return p.Size() + 2
}
