// Livesink - Live-Stream Telemetry Ingestor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livesink

package signing

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// HTTPOracle calls an external signer sidecar over HTTP. The sidecar hosts
// the platform's signing JavaScript; this process never executes it.
type HTTPOracle struct {
	baseURL string
	client  *http.Client
}

// NewHTTPOracle builds an oracle client for the signer at baseURL.
func NewHTTPOracle(baseURL string, timeout time.Duration) *HTTPOracle {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPOracle{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type signRequest struct {
	Digest string `json:"digest"`
}

type signResponse struct {
	Signature string `json:"signature"`
}

type abogusRequest struct {
	Query     string `json:"query"`
	UserAgent string `json:"user_agent"`
}

type abogusResponse struct {
	ABogus string `json:"a_bogus"`
}

// Sign implements Oracle.
func (o *HTTPOracle) Sign(ctx context.Context, digest string) (string, error) {
	var resp signResponse
	if err := o.post(ctx, "/sign", signRequest{Digest: digest}, &resp); err != nil {
		return "", err
	}
	return resp.Signature, nil
}

// ABogus implements Oracle.
func (o *HTTPOracle) ABogus(ctx context.Context, query, userAgent string) (string, error) {
	var resp abogusResponse
	if err := o.post(ctx, "/a_bogus", abogusRequest{Query: query, UserAgent: userAgent}, &resp); err != nil {
		return "", err
	}
	return resp.ABogus, nil
}

func (o *HTTPOracle) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode signer request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build signer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("call signer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("signer %s returned %d", path, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read signer response: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode signer response: %w", err)
	}
	return nil
}
