// Package httpclient provides the shared plumbing for outbound HTTP: a
// client constructor with request logging and bounded response reads. Upload
// traffic deliberately has no retry or breaker layer; a failed call surfaces
// to the caller exactly once.
package httpclient

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"pixlift/internal/logging"
)

const defaultTimeout = 60 * time.Second

// New builds an HTTP client with the given total timeout and debug logging
// on every round trip.
func New(timeout time.Duration, logger logging.Logger) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &loggingRoundTripper{
			base:   http.DefaultTransport,
			logger: logging.OrNop(logger),
		},
	}
}

type loggingRoundTripper struct {
	base   http.RoundTripper
	logger logging.Logger
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		t.logger.Debug("%s %s failed after %s: %v", req.Method, req.URL, time.Since(start).Round(time.Millisecond), err)
		return nil, err
	}
	t.logger.Debug("%s %s -> %d in %s", req.Method, req.URL, resp.StatusCode, time.Since(start).Round(time.Millisecond))
	return resp, nil
}

// ResponseTooLargeError reports that the response body exceeded the limit.
type ResponseTooLargeError struct {
	Limit int64
}

func (e ResponseTooLargeError) Error() string {
	return fmt.Sprintf("response body exceeded limit of %d bytes", e.Limit)
}

// IsResponseTooLarge reports whether the error indicates a response limit violation.
func IsResponseTooLarge(err error) bool {
	var limitErr ResponseTooLargeError
	return errors.As(err, &limitErr)
}

// ReadAllWithLimit reads the response body up to the provided limit.
// If limit <= 0, it behaves like io.ReadAll.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	lr := &io.LimitedReader{R: r, N: limit + 1}
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ResponseTooLargeError{Limit: limit}
	}
	return data, nil
}

// DrainAndClose consumes what remains of body so the underlying connection
// can be reused, then closes it.
func DrainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 1<<18))
	_ = body.Close()
}
