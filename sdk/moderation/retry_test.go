package moderation

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"syscall"
	"testing"
	"time"
)

func response(status int) *http.Response {
	return &http.Response{StatusCode: status, Header: http.Header{}, Body: io.NopCloser(strings.NewReader(""))}
}

func fastRetry(n int) RetryConfig {
	return RetryConfig{MaxRetries: n, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Jitter: 0.1}
}

func TestDoWithRetryReturnsLastRetryableResponse(t *testing.T) {
	calls := 0
	resp, err := doWithRetry(context.Background(), fastRetry(2), func() (*http.Response, error) {
		calls++
		return response(http.StatusTooManyRequests), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusTooManyRequests || calls != 3 {
		t.Fatalf("status=%d calls=%d", resp.StatusCode, calls)
	}
}

func TestDoWithRetryDoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	resp, err := doWithRetry(context.Background(), fastRetry(3), func() (*http.Response, error) {
		calls++
		return response(http.StatusBadRequest), nil
	})
	if err != nil || resp.StatusCode != http.StatusBadRequest || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestDoWithRetryTransientError(t *testing.T) {
	calls := 0
	resp, err := doWithRetry(context.Background(), fastRetry(3), func() (*http.Response, error) {
		calls++
		if calls == 1 {
			return nil, syscall.ECONNRESET
		}
		return response(http.StatusOK), nil
	})
	if err != nil || resp.StatusCode != http.StatusOK || calls != 2 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestDoWithRetryPermanentError(t *testing.T) {
	boom := errors.New("tls: bad certificate")
	calls := 0
	_, err := doWithRetry(context.Background(), fastRetry(3), func() (*http.Response, error) {
		calls++
		return nil, boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestDoWithRetryCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := doWithRetry(ctx, fastRetry(3), func() (*http.Response, error) {
		t.Fatal("fn must not be called")
		return nil, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("2"); got != 2*time.Second {
		t.Fatalf("integer: %v", got)
	}
	if got := parseRetryAfter("0.25"); got != 250*time.Millisecond {
		t.Fatalf("fractional: %v", got)
	}
	if got := parseRetryAfter("soon"); got != 0 {
		t.Fatalf("garbage: %v", got)
	}
	future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(future); got <= 0 {
		t.Fatalf("http date: %v", got)
	}
}

func TestRetryDelayHonoursRetryAfter(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 1, BaseDelay: time.Second, MaxDelay: 5 * time.Second, Jitter: 0.2}
	resp := response(http.StatusTooManyRequests)
	resp.Header.Set("Retry-After", "3")
	if got := retryDelay(cfg, 0, resp); got != 3*time.Second {
		t.Fatalf("retry-after: %v", got)
	}
	resp.Header.Set("Retry-After", "60")
	if got := retryDelay(cfg, 0, resp); got != 5*time.Second {
		t.Fatalf("capped retry-after: %v", got)
	}
	if got := retryDelay(cfg, 10, nil); got > 6*time.Second {
		t.Fatalf("backoff not capped: %v", got)
	}
}
