// Package discord implements the bot's platform surface on the Discord REST
// API and gateway.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dmorn/m4d-automod/sdk/bot"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL   = "https://discord.com/api/v10"
	userAgent        = "DiscordBot (https://github.com/dmorn/m4d-automod, 1.0)"
	maxRateLimitWait = 30 * time.Second
)

type Options struct {
	BaseURL           string // default https://discord.com/api/v10
	RequestsPerSecond int    // default 40
	HTTPClient        *http.Client
	Logger            *zap.Logger
	MaxRetries        int // retries on 429 only; default 3
}

type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	maxRetries int
}

func New(token string, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 40
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	return &Client{
		token:      token,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: opts.HTTPClient,
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.RequestsPerSecond),
		logger:     opts.Logger,
		maxRetries: opts.MaxRetries,
	}
}

var _ bot.Platform = (*Client)(nil)

// do sends a Discord REST request.
// path: e.g. "/channels/123/messages"
// payload: JSON-serializable body (or nil)
// result: pointer to decode into (or nil to ignore)
func (c *Client) do(ctx context.Context, method, path string, payload any, result any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal discord request: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		respBody, status, header, err := c.roundTrip(ctx, method, path, body)
		if err != nil {
			return err
		}

		if status == http.StatusTooManyRequests && attempt < c.maxRetries {
			wait := retryAfter(header, respBody)
			c.logger.Warn("discord rate limited",
				zap.String("method", method),
				zap.String("path", path),
				zap.Duration("retry_after", wait),
			)
			if err := sleepContext(ctx, wait); err != nil {
				return err
			}
			continue
		}

		if status < 200 || status > 299 {
			return newAPIError(method, path, status, header, respBody)
		}

		if result != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, result); err != nil {
				return fmt.Errorf("decode discord %s %s: %w", method, path, err)
			}
		}
		return nil
	}
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body []byte) ([]byte, int, http.Header, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("build discord request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("discord %s %s request failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, nil, fmt.Errorf("read discord response: %w", err)
	}
	return respBody, resp.StatusCode, resp.Header, nil
}

// retryAfter prefers the JSON body's retry_after (float seconds) over the header.
func retryAfter(h http.Header, body []byte) time.Duration {
	var rl struct {
		RetryAfter float64 `json:"retry_after"`
	}
	d := time.Second
	if json.Unmarshal(body, &rl) == nil && rl.RetryAfter > 0 {
		d = time.Duration(rl.RetryAfter * float64(time.Second))
	} else if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			d = time.Duration(secs * float64(time.Second))
		}
	}
	if d > maxRateLimitWait {
		d = maxRateLimitWait
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsNotFound reports whether err is a 404 from the REST API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}
