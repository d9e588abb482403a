// Package httpclient provides the synchronous outbound HTTP client used by
// the regulatory monitor. Every call carries a hard deadline.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxRedirects = 10

// Response is the envelope returned for every request, including failures.
type Response struct {
	Status  int
	Body    []byte
	Headers http.Header
	Success bool
	Err     error
}

// Client wraps net/http with a per-call deadline and a redirect cap.
type Client struct {
	http *http.Client
}

// New creates a client whose calls time out after the given duration.
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
	}
}

// Get fetches the URL and returns the response envelope.
func (c *Client) Get(ctx context.Context, url string) *Response {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &Response{Err: err}
	}
	return c.do(req)
}

// Post sends the body with the given content type.
func (c *Client) Post(ctx context.Context, url, contentType string, body []byte) *Response {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &Response{Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	return c.do(req)
}

func (c *Client) do(req *http.Request) *Response {
	resp, err := c.http.Do(req)
	if err != nil {
		return &Response{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20)) // 10MB cap
	if err != nil {
		return &Response{Status: resp.StatusCode, Headers: resp.Header, Err: err}
	}

	return &Response{
		Status:  resp.StatusCode,
		Body:    body,
		Headers: resp.Header,
		Success: resp.StatusCode >= 200 && resp.StatusCode < 300,
	}
}
