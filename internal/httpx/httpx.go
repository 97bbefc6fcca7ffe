// Package httpx holds the outbound request helper shared by the remote clients.
package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// maxBody caps how much of an error body ends up in an error message.
const maxBody = 512

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Client wraps http.Client with an opt-in retry policy. With RetryMaxElapsed
// zero every request is attempted exactly once.
type Client struct {
	HTTP            *http.Client
	RetryMaxElapsed time.Duration
}

func New(timeout, retryMaxElapsed time.Duration) *Client {
	return &Client{
		HTTP:            &http.Client{Timeout: timeout},
		RetryMaxElapsed: retryMaxElapsed,
	}
}

// DoJSON sends the request built by newReq and decodes a 2xx body into target.
// newReq is called once per attempt since request bodies cannot be replayed.
func (c *Client) DoJSON(ctx context.Context, newReq func(context.Context) (*http.Request, error), target any) error {
	op := func() error {
		req, err := newReq(ctx)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("new request: %w", err))
		}
		resp, err := c.HTTP.Do(req)
		if err != nil {
			return fmt.Errorf("do request: %w", err)
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			serr := &StatusError{Code: resp.StatusCode, Body: truncate(body)}
			if resp.StatusCode >= 500 {
				return serr
			}
			return backoff.Permanent(serr)
		}
		if target == nil {
			return nil
		}
		if len(body) == 0 {
			return backoff.Permanent(fmt.Errorf("empty body"))
		}
		if err := json.Unmarshal(body, target); err != nil {
			return backoff.Permanent(fmt.Errorf("json decode error: %v body=%s", err, truncate(body)))
		}
		return nil
	}
	return backoff.Retry(op, c.policy(ctx))
}

func (c *Client) policy(ctx context.Context) backoff.BackOff {
	if c.RetryMaxElapsed <= 0 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.RetryMaxElapsed
	return backoff.WithContext(bo, ctx)
}

func truncate(b []byte) string {
	if len(b) > maxBody {
		return string(b[:maxBody]) + "..."
	}
	return string(b)
}
