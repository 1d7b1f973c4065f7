package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cenk/backoff"
)

const (
	DefaultMaxRetries     = 3
	DefaultInitialBackoff = 1 * time.Second
	DefaultMaxBackoff     = 30 * time.Second

	// longest Retry-After honoured
	maxRetryAfter = 2 * time.Minute
)

// RetryConfig bounds DoWithRetry. Fetch never retries: the scheduler
// decides what a failed job means.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         float64
}

// DefaultRetryConfig returns three retries starting at one second.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     DefaultMaxRetries,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
		Multiplier:     2,
		Jitter:         0.1,
	}
}

// schedule returns the backoff for one call. It stops after MaxRetries or
// when ctx is done.
func (rc *RetryConfig) schedule(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = rc.InitialBackoff
	b.MaxInterval = rc.MaxBackoff
	b.Multiplier = rc.Multiplier
	b.RandomizationFactor = rc.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(rc.MaxRetries, 0))), ctx)
}

// Temporary reports whether err is worth retrying: connection level
// failures, timeouts and TransportErrors carrying a retryable status.
// Cancellation is never temporary.
func Temporary(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) && te.StatusCode != 0 {
		return retryableStatus(te.StatusCode)
	}

	var netErr net.Error
	return errors.As(err, &netErr) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, context.DeadlineExceeded)
}

// retryableStatus covers throttling and gateway failures. Plain 500s are
// usually deterministic on package repositories.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// retryAfter reads a Retry-After header given in seconds or as an HTTP
// date, capped at maxRetryAfter. Zero means absent or unusable.
func retryAfter(h http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}

	var d time.Duration
	if secs, err := strconv.Atoi(v); err == nil {
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(v); err == nil {
		d = at.Sub(now)
	}
	if d <= 0 {
		return 0
	}
	return min(d, maxRetryAfter)
}

// DoWithRetry sends req until it gets a response with a non-retryable
// status, retrying temporary failures with exponential backoff or the
// server's Retry-After. When retries run out the last response is
// returned as is.
func (c *Client) DoWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	bo := c.retryConfig.schedule(ctx)

	for attempt := 0; ; attempt++ {
		attemptReq := req.Clone(ctx)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("rewind request body: %w", err)
			}
			attemptReq.Body = body
		}

		resp, err := c.Do(ctx, attemptReq)
		switch {
		case err != nil && !Temporary(err):
			return nil, err
		case err == nil && !retryableStatus(resp.StatusCode):
			if attempt > 0 {
				c.logger.DebugContext(ctx, "HTTP {Method} {URL} succeeded after {Attempt} retries",
					req.Method, req.URL.String(), attempt)
			}
			return resp, nil
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			if ctxErr := ctx.Err(); ctxErr != nil {
				if resp != nil {
					_ = resp.Body.Close()
				}
				return nil, ctxErr
			}
			if err != nil {
				return nil, fmt.Errorf("after %d retries: %w", attempt, err)
			}
			return resp, nil
		}
		if resp != nil {
			if ra := retryAfter(resp.Header, time.Now()); ra > 0 {
				wait = ra
			}
			_ = resp.Body.Close()
		}

		c.logger.DebugContext(ctx, "HTTP {Method} {URL} retry {Attempt}/{MaxRetries} in {Backoff}ms",
			req.Method, req.URL.String(), attempt+1, c.retryConfig.MaxRetries, wait.Milliseconds())

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}
