package source

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// maxRequestSize limits the request body buffered for replay between attempts.
const maxRequestSize = 1 * 1024 * 1024

// RetryPolicy controls RetryTransport backoff.
type RetryPolicy struct {
	Attempts  uint
	Delay     time.Duration
	MaxDelay  time.Duration
	MaxJitter time.Duration
}

// DefaultRetryPolicy is used by every client unless WithRetry overrides it.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:  5,
		Delay:     1 * time.Second,
		MaxDelay:  1 * time.Minute,
		MaxJitter: 1 * time.Second,
	}
}

// RetryTransport wraps an http.RoundTripper with exponential backoff for 429,
// 5xx and rate-limited 403 responses. When attempts run out on a retryable
// status, the last response is returned unchanged so callers can report it.
type RetryTransport struct {
	Base   http.RoundTripper
	Policy RetryPolicy
	Logger *slog.Logger
}

// RoundTrip implements http.RoundTripper.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	log := t.Logger
	if log == nil {
		log = slog.Default()
	}
	attempts := t.Policy.Attempts
	if attempts == 0 {
		attempts = 1
	}

	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(io.LimitReader(req.Body, maxRequestSize))
		if err != nil {
			return nil, err
		}
		_ = req.Body.Close()
	}

	var resp *http.Response
	var lastErr error

	opts := []retry.Option{
		retry.Context(req.Context()),
		retry.Attempts(attempts),
		retry.Delay(t.Policy.Delay),
		retry.MaxDelay(t.Policy.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxJitter(t.Policy.MaxJitter),
		retry.RetryIf(func(err error) bool {
			var retryErr *retryableError
			return errors.As(err, &retryErr)
		}),
	}

	err := retry.Do(func() error {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}

		var err error
		start := time.Now()
		resp, err = base.RoundTrip(req) //nolint:bodyclose // returned to the caller
		if err != nil {
			log.DebugContext(req.Context(), "source: http request failed",
				"url", req.URL.String(), "err", err, "elapsed", time.Since(start))
			lastErr = err
			return err
		}

		reason := ""
		switch {
		case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500 && resp.StatusCode < 600:
			reason = "retryable status code"
		case resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-Ratelimit-Remaining") == "0":
			reason = "rate limit exceeded"
		}
		if reason == "" {
			lastErr = nil
			return nil
		}

		// Keep the body readable in case this turns out to be the final attempt.
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewReader(b))

		log.InfoContext(req.Context(), "source: http request will be retried",
			"status", resp.StatusCode, "url", req.URL.String(), "reason", reason)
		lastErr = &retryableError{StatusCode: resp.StatusCode}
		return lastErr
	}, opts...)

	if err == nil {
		return resp, nil
	}
	var retryErr *retryableError
	if errors.As(lastErr, &retryErr) && resp != nil {
		return resp, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, err
}

// retryableError marks a response status worth another attempt.
type retryableError struct {
	StatusCode int
}

func (e *retryableError) Error() string {
	return http.StatusText(e.StatusCode)
}
