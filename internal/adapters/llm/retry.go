package llm

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryConfig controls retries of transient HTTP failures.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     float64
}

// DefaultRetryConfig retries twice, starting at half a second.
var DefaultRetryConfig = RetryConfig{
	MaxRetries: 2,
	BaseDelay:  500 * time.Millisecond,
	MaxDelay:   5 * time.Second,
	Jitter:     0.2,
}

type requestFn func() (*http.Response, error)

func doWithRetry(ctx context.Context, cfg RetryConfig, fn requestFn) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := fn()
		if err == nil {
			if !shouldRetryStatus(resp.StatusCode) || attempt == cfg.MaxRetries {
				return resp, nil
			}
			resp.Body.Close()
			lastErr = errors.New(resp.Status)
			if err := sleepContext(ctx, retryDelay(cfg, attempt, resp)); err != nil {
				return nil, err
			}
			continue
		}

		if !shouldRetryError(err) || attempt == cfg.MaxRetries {
			return nil, err
		}
		lastErr = err
		if err := sleepContext(ctx, retryDelay(cfg, attempt, nil)); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func shouldRetryStatus(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}

func shouldRetryError(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused")
}

func retryDelay(cfg RetryConfig, attempt int, resp *http.Response) time.Duration {
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			return min(time.Duration(secs)*time.Second, cfg.MaxDelay)
		}
	}

	d := time.Duration(float64(cfg.BaseDelay) * math.Pow(2, float64(attempt)))
	if d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	jitter := 1 + (rand.Float64()*2-1)*cfg.Jitter
	if jitter < 0 {
		jitter = 0
	}
	return time.Duration(float64(d) * jitter)
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
