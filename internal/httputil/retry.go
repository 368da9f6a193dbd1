// Package httputil provides a small retrying HTTP request helper shared by
// the session store client and the frame ingester.
package httputil

import (
	"bytes"
	"context"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/clearlane/visionpipe/internal/logging"
)

var log = logging.L("httputil")

// RetryConfig controls the retry behavior for HTTP requests.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterFrac    float64 // ±fraction of delay to randomize (e.g. 0.3 = ±30%)

	// HonorRetryAfter causes a 429 response's Retry-After header to override
	// the computed backoff delay, if present. Only the delay-seconds form is
	// parsed; an HTTP-date value is not.
	HonorRetryAfter bool
}

// DefaultSessionRetryConfig matches §6.3's "session open/close has its own
// bounded retry (5 attempts, exponential)".
func DefaultSessionRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    4,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
		JitterFrac:    0.2,
	}
}

// DefaultIngestRetryConfig matches §4.8's ingest retry policy: base 200ms,
// exponential up to max_retries (default 3), honoring Retry-After on 429.
func DefaultIngestRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialDelay:    200 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		BackoffFactor:   2.0,
		JitterFrac:      0.2,
		HonorRetryAfter: true,
	}
}

// isRetryableStatus returns true for HTTP status codes that are safe to retry.
func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

// isTerminalClientError reports a 4xx status (other than 429, which is
// retryable) that should not be retried.
func isTerminalClientError(code int) bool {
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests
}

// Do executes an HTTP request with retry logic, making up to
// cfg.MaxRetries+1 attempts. bodyFn is called before every attempt to build
// a fresh body (BytesBody wraps a fixed byte slice so it can be replayed;
// other bodies such as streamed multipart are rebuilt each time). Returns
// the response of the first attempt that is not retried; when the retries
// run out it returns a nil response and the last error. The caller owns
// closing the response body.
func Do(ctx context.Context, client *http.Client, method, url string, bodyFn func() (io.Reader, string, error), headers http.Header, cfg RetryConfig) (*http.Response, error) {
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			jittered := applyJitter(delay, cfg.JitterFrac)
			log.Debug("retrying request", "attempt", attempt, "delay", jittered, "url", url)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jittered):
			}
			delay = time.Duration(float64(delay) * cfg.BackoffFactor)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}

		bodyReader, contentType, err := bodyFn()
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return nil, err // not retryable
		}
		for k, vals := range headers {
			for _, v := range vals {
				req.Header.Add(k, v)
			}
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue // network error — retry
		}

		if isTerminalClientError(resp.StatusCode) {
			return resp, nil // 4xx other than 429: terminal, caller decides
		}
		if !isRetryableStatus(resp.StatusCode) {
			return resp, nil // success
		}

		retryAfter := time.Duration(0)
		if cfg.HonorRetryAfter && resp.StatusCode == http.StatusTooManyRequests {
			retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		}
		resp.Body.Close()
		lastErr = &RetryableStatusError{StatusCode: resp.StatusCode, URL: url}
		if retryAfter > 0 {
			delay = retryAfter
		}
	}

	log.Warn("all retries exhausted", "method", method, "url", url, "attempts", cfg.MaxRetries+1, "error", lastErr)
	return nil, lastErr
}

// BytesBody wraps a fixed byte slice as a replayable bodyFn for Do.
func BytesBody(contentType string, body []byte) func() (io.Reader, string, error) {
	return func() (io.Reader, string, error) {
		if body == nil {
			return nil, contentType, nil
		}
		return bytes.NewReader(body), contentType, nil
	}
}

// RetryableStatusError indicates the server returned a retryable HTTP status.
type RetryableStatusError struct {
	StatusCode int
	URL        string
}

func (e *RetryableStatusError) Error() string {
	return "request to " + e.URL + " failed after retries with status " + http.StatusText(e.StatusCode)
}

// applyJitter adds ±frac random jitter to a duration.
func applyJitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	jitter := float64(d) * frac * (2*rand.Float64() - 1)
	result := time.Duration(float64(d) + jitter)
	if result < 0 {
		return 0
	}
	return result
}

// parseRetryAfter parses a Retry-After header value (seconds form; the
// HTTP-date form is not expected from this store and falls back to zero).
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := time.ParseDuration(v + "s"); err == nil {
		return secs
	}
	return 0
}
