// internal/common/http/client.go
package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is an HTTP client that retries failed requests with exponential
// backoff.
type Client struct {
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

func NewClient(timeout time.Duration, maxRetries int) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		maxRetries:  maxRetries,
		baseBackoff: 100 * time.Millisecond,
	}
}

// WithBackoff sets the first retry delay; later delays double.
func (c *Client) WithBackoff(d time.Duration) *Client {
	c.baseBackoff = d
	return c
}

// StatusError is returned when every attempt ended with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// PostJSON posts body and retries transport errors and 5xx/429 answers. The
// response of the first 2xx attempt is returned with its body unread.
// Context cancellation ends the loop with ctx.Err().
func (c *Client) PostJSON(ctx context.Context, url string, body []byte, headers map[string]string) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if ctx.Err() != nil {
			if resp != nil {
				resp.Body.Close()
			}
			return nil, ctx.Err()
		}
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		lastErr = &StatusError{StatusCode: resp.StatusCode, Body: string(snippet)}

		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, lastErr
		}
	}

	return nil, lastErr
}
