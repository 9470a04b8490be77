// Livesink - Live-Stream Telemetry Ingestor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livesink

package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/livesink/internal/logging"
	"github.com/tomtom215/livesink/internal/signing"
)

const followingPath = "/aweme/v1/web/user/following/list/"

// Page is one decoded follow-list page.
type Page struct {
	Users   []FollowingUser
	HasMore bool
}

// Following walks the full follow list of the active credential's account,
// pageDelay apart, and returns every followed user. Credential trouble is
// handled in place: a hard rejection discards the credential, a broken or
// business-error response rotates to the next one. When every credential
// fails the walk returns ErrCredentialsExhausted.
func (c *Client) Following(ctx context.Context, pageSize int, pageDelay time.Duration) ([]FollowingUser, error) {
	if pageSize <= 0 {
		pageSize = 20
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if pageDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(pageDelay), 1)
	}

	var users []FollowingUser
	offset := 0
	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		page, err := c.FollowingPage(ctx, offset, pageSize)
		if err != nil {
			return nil, err
		}
		users = append(users, page.Users...)
		if !page.HasMore || len(page.Users) == 0 {
			return users, nil
		}
		offset += pageSize
	}
}

// FollowingPage fetches one follow-list page, retrying across the credential
// pool on rejection or unusable responses.
func (c *Client) FollowingPage(ctx context.Context, offset, count int) (*Page, error) {
	attempts := c.pool.MaxAttempts()
	var lastErr error
	for i := 0; i < attempts; i++ {
		cookie := c.pool.Current()
		if cookie == "" {
			return nil, ErrCredentialsExhausted
		}

		page, err := c.fetchFollowingPage(ctx, cookie, offset, count)
		switch {
		case err == nil:
			return page, nil
		case errors.Is(err, errRejected):
			logging.Warn().Int("offset", offset).Msg("credential rejected by follow-list endpoint")
			if derr := c.pool.Discard(ctx, cookie); derr != nil {
				return nil, ErrCredentialsExhausted
			}
		case errors.Is(err, errBadPayload):
			logging.Warn().Err(err).Int("offset", offset).Msg("unusable follow-list response")
			c.pool.Rotate()
		default:
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrCredentialsExhausted, lastErr)
}

func (c *Client) fetchFollowingPage(ctx context.Context, cookie string, offset, count int) (*Page, error) {
	params := url.Values{}
	params.Set("device_platform", "webapp")
	params.Set("aid", "6383")
	params.Set("channel", "channel_pc_web")
	params.Set("sec_user_id", c.pool.CurrentSecUserID())
	params.Set("offset", strconv.Itoa(offset))
	params.Set("count", strconv.Itoa(count))
	params.Set("source_type", "4")
	params.Set("version_code", "170400")
	params.Set("msToken", signing.NewMsToken())

	query := params.Encode()
	if ab, err := c.abogus(ctx, query); err != nil {
		return nil, fmt.Errorf("sign follow-list query: %w", err)
	} else if ab != "" {
		query += "&a_bogus=" + url.QueryEscape(ab)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.WebBase+followingPath+"?"+query, nil)
	if err != nil {
		return nil, fmt.Errorf("build follow-list request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Referer", c.cfg.WebBase+"/")
	req.Header.Set("Cookie", cookie)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch follow list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, errRejected
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: follow list returned %d", errBadPayload, resp.StatusCode)
	}

	body, err := decodeJSONBody[followingResponse](resp.Body)
	if err != nil {
		return nil, err
	}
	if body.StatusCode != 0 {
		return nil, fmt.Errorf("%w: business error %d %s",
			errBadPayload, body.StatusCode, body.StatusMsg)
	}
	return &Page{Users: body.Followings, HasMore: body.HasMore}, nil
}
