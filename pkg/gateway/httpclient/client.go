package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// New creates an HTTP client for calls to the hosted identity and database APIs.
func New(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// StatusError is returned by CheckResponse for non-2xx responses. Body holds
// at most the first 64KiB of the response.
type StatusError struct {
	Code int
	Body []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// CheckResponse turns a non-2xx response into a *StatusError, consuming the body.
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return &StatusError{Code: resp.StatusCode, Body: body}
}

type Backoff struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Retriable decides whether an error is worth another attempt; nil means IsRetriable.
	Retriable func(error) bool
}

// DefaultBackoff is used for store writes from background workers.
var DefaultBackoff = Backoff{Attempts: 5, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second}

// Retry executes fn with exponential backoff while the error is retriable.
func Retry(ctx context.Context, b Backoff, fn func() error) error {
	if b.Attempts <= 1 {
		return fn()
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = 2 * time.Second
	}
	retriable := b.Retriable
	if retriable == nil {
		retriable = IsRetriable
	}

	var err error
	delay := b.BaseDelay
	for i := 0; i < b.Attempts; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = fn()
		if err == nil || !retriable(err) {
			return err
		}

		// Do not sleep after last attempt
		if i == b.Attempts-1 {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay *= 2
		if delay > b.MaxDelay {
			delay = b.MaxDelay
		}
	}

	return err
}

// IsRetriable reports whether err is a transient network failure, a timeout
// or a throttled/5xx response.
func IsRetriable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == http.StatusTooManyRequests || statusErr.Code >= 500
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var permanent interface{ Permanent() bool }
	if errors.As(err, &permanent) {
		return !permanent.Permanent()
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF)
}
