// Package apitask runs single HTTP exchanges as executor tasks, so network
// calls share the cancellation and completion rules of local storage work.
//
// It is the entry point for callers that fetch from a remote wiki API; the
// daemon in this repository only stores and removes pages, so it has no
// caller of its own.
package apitask

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rossigee/pagekeeper/internal/retry"
	"github.com/rossigee/pagekeeper/internal/tasks"
)

// DefaultRetry applies when a Client is built with a zero retry config.
var DefaultRetry = retry.Config{
	MaxAttempts: 3,
	Delays:      []time.Duration{500 * time.Millisecond, 2 * time.Second},
}

// BuildFunc creates the request for one attempt. It is called again on
// every retry, so request bodies are rebuilt each time.
type BuildFunc func(ctx context.Context) (*http.Request, error)

// ProcessFunc turns a non-5xx response into the task value. The body is
// closed after it returns.
type ProcessFunc[V any] func(resp *http.Response) (V, error)

// StatusError reports a server error that outlived every retry.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server error: %s", e.Status)
}

// Client sends requests on behalf of tasks.
type Client struct {
	http  *http.Client
	retry retry.Config
}

// NewClient wraps httpClient; nil uses a client with a 30 second timeout.
func NewClient(httpClient *http.Client, cfg retry.Config) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultRetry
	}
	return &Client{http: httpClient, retry: cfg}
}

// Submit schedules one request on the executor's pool. Transport errors and
// 5xx responses are retried while the task is not cancelled.
func Submit[V any](e *tasks.Executor, c *Client, build BuildFunc, process ProcessFunc[V], onDone func(tasks.Outcome[V]), opts ...tasks.Option) *tasks.Task[V] {
	return tasks.Submit(e, tasks.Pooled, func(ctx context.Context) (V, error) {
		return Do(ctx, c, build, process)
	}, onDone, opts...)
}

// Do performs the exchange on the calling goroutine.
func Do[V any](ctx context.Context, c *Client, build BuildFunc, process ProcessFunc[V]) (V, error) {
	var value V
	attempt := 0
	err := retry.WithRetry(ctx, c.retry, func() error {
		attempt++
		req, err := build(ctx)
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to build request: %w", err))
		}

		entry := logrus.WithFields(logrus.Fields{
			"method":  req.Method,
			"url":     req.URL.Redacted(),
			"attempt": attempt,
		})

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return retry.Permanent(ctx.Err())
			}
			entry.WithError(err).Warn("Request failed")
			return err
		}
		defer func() {
			_, _ = io.Copy(io.Discard, resp.Body) // Drain so the connection can be reused
			_ = resp.Body.Close()
		}()

		if resp.StatusCode >= http.StatusInternalServerError {
			entry.WithField("status", resp.StatusCode).Warn("Server error response")
			return &StatusError{Code: resp.StatusCode, Status: resp.Status}
		}

		v, err := process(resp)
		if err != nil {
			return retry.Permanent(err)
		}
		value = v
		return nil
	})
	if err != nil {
		var zero V
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		return zero, fmt.Errorf("request failed: %w", err)
	}
	return value, nil
}

// DecodeJSON is a ProcessFunc factory for endpoints answering 2xx JSON.
func DecodeJSON[V any]() ProcessFunc[V] {
	return func(resp *http.Response) (V, error) {
		var v V
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return v, fmt.Errorf("unexpected status: %s", resp.Status)
		}
		if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
			return v, fmt.Errorf("failed to decode response: %w", err)
		}
		return v, nil
	}
}
