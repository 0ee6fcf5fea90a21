package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// statusError is returned for a non-2xx upstream response.
type statusError struct {
	Code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.Code)
}

// retryableHTTP retries transport errors, 5xx and 429. Context errors are final.
func retryableHTTP(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	return true
}

type retryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func (c retryConfig) normalize() retryConfig {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= c.BaseDelay {
		c.MaxDelay = 2 * c.BaseDelay
	}
	return c
}

//nolint:bodyclose // *http.Response is the generic result type here
func newHTTPExecutor(cfg retryConfig) failsafe.Executor[*http.Response] {
	cfg = cfg.normalize()
	policy := retrypolicy.NewBuilder[*http.Response]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(_ *http.Response, err error) bool {
			return retryableHTTP(err)
		}).
		Build()
	return failsafe.With(policy)
}

// doHTTP runs build+Do through the executor. Any non-2xx response is closed
// and turned into a *statusError; the caller owns the returned body.
func doHTTP(ctx context.Context, client HTTPClient, exec failsafe.Executor[*http.Response], build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	return exec.WithContext(ctx).Get(func() (*http.Response, error) {
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_ = resp.Body.Close()
			return nil, &statusError{Code: resp.StatusCode}
		}
		return resp, nil
	})
}
