// Livesink - Live-Stream Telemetry Ingestor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livesink

// Package platform talks to the live-streaming platform's HTTP surface:
// the follow-list endpoint that drives discovery and the room-detail
// endpoint that confirms a live episode. Both go through the credential
// pool and the external signature oracle; the push channel itself lives in
// the session package.
package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"github.com/tomtom215/livesink/internal/credentials"
	"github.com/tomtom215/livesink/internal/records"
	"github.com/tomtom215/livesink/internal/signing"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// ErrCredentialsExhausted reports that every pooled credential was tried
// without a single accepted request. The caller backs off and reloads.
var ErrCredentialsExhausted = errors.New("platform: all credentials exhausted")

// errRejected marks an HTTP 401/403: the credential itself is dead.
var errRejected = errors.New("platform: credential rejected")

// errBadPayload marks a syntactically or semantically broken response:
// the credential may be shadow-limited, try the next one.
var errBadPayload = errors.New("platform: unusable response")

// Config carries the endpoints and timing knobs for the platform clients.
type Config struct {
	// WebBase is the web API origin serving the follow list.
	WebBase string
	// LiveBase is the live site origin serving room detail and ttwid.
	LiveBase string
	// UserAgent is sent on every request and fed to the signature oracle.
	UserAgent string
	// RequestTimeout bounds each HTTP request.
	RequestTimeout time.Duration
}

// Client is the authenticated platform HTTP client.
type Client struct {
	cfg    Config
	http   *http.Client
	pool   *credentials.Pool
	oracle signing.Oracle

	breaker *gobreaker.CircuitBreaker[*records.Room]

	mu    sync.Mutex
	ttwid string
}

// NewClient builds a platform client. oracle may be nil when no signer is
// configured; signed parameters are then omitted and the platform may
// degrade responses.
func NewClient(cfg Config, pool *credentials.Pool, oracle signing.Oracle) *Client {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.RequestTimeout},
		pool:   pool,
		oracle: oracle,
		breaker: gobreaker.NewCircuitBreaker[*records.Room](gobreaker.Settings{
			Name:    "room-detail",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// UserAgent returns the user agent the client presents, for callers that
// open their own connections (the push channel).
func (c *Client) UserAgent() string { return c.cfg.UserAgent }

// TTWID returns the platform's device cookie, fetching it from the live
// site on first use. The value is cached for the process lifetime.
func (c *Client) TTWID(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ttwid != "" {
		return c.ttwid, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.LiveBase+"/", nil)
	if err != nil {
		return "", fmt.Errorf("build ttwid request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch ttwid: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	for _, cookie := range resp.Cookies() {
		if cookie.Name == "ttwid" {
			c.ttwid = cookie.Value
			return c.ttwid, nil
		}
	}
	return "", fmt.Errorf("live site set no ttwid cookie (status %d)", resp.StatusCode)
}

// abogus signs a query string through the oracle. Absent an oracle the
// parameter is omitted rather than faked.
func (c *Client) abogus(ctx context.Context, query string) (string, error) {
	if c.oracle == nil {
		return "", nil
	}
	return c.oracle.ABogus(ctx, query, c.cfg.UserAgent)
}

func decodeJSONBody[T any](r io.Reader) (*T, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadPayload, err)
	}
	return &out, nil
}
