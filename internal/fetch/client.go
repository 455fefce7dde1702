package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// Client is a JSON HTTP client with bounded retries and a circuit breaker.
// All fetch adapters (SensorThings, ArcGIS, WFS) share it; the Telraam API
// additionally needs the TokenRing for key rotation.
type Client struct {
	HTTP    *http.Client
	Retries int           // additional attempts after the first
	Delay   time.Duration // pause between retries

	DumpPath string // append raw response bodies for debugging, empty to disable

	breaker *gobreaker.CircuitBreaker
	sleep   func(time.Duration)
}

// NewClient creates a Client with the given retry budget.
func NewClient(retries int) *Client {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "upstream",
		MaxRequests: 5,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
	})
	return &Client{
		HTTP:    &http.Client{Timeout: 60 * time.Second},
		Retries: retries,
		Delay:   time.Second,
		breaker: cb,
		sleep:   time.Sleep,
	}
}

// GetJSON performs a GET with query parameters and decodes the JSON body
// into out. Transient failures (429, 5xx, transport errors) are retried up
// to the configured budget; permanent failures are returned immediately.
func (c *Client) GetJSON(ctx context.Context, rawurl string, params url.Values, out any) error {
	u := rawurl
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(rawurl, "?") {
			sep = "&"
		}
		u = rawurl + sep + params.Encode()
	}
	body, err := c.do(ctx, http.MethodGet, u, "")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decoding %s: %v", ErrMalformed, rawurl, err)
	}
	return nil
}

// do executes the request with retry and breaker handling and returns the
// raw response body.
func (c *Client) do(ctx context.Context, method, u, payload string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.Retries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt > 0 {
			c.sleep(c.Delay)
		}
		body, err := c.once(ctx, method, u, payload, nil)
		if err == nil {
			return body, nil
		}
		if !retryable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// once is a single request attempt through the circuit breaker.
func (c *Client) once(ctx context.Context, method, u, payload string, header http.Header) ([]byte, error) {
	var rd io.Reader
	if payload != "" {
		rd = strings.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, err
	}
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	result, err := c.breaker.Execute(func() (any, error) {
		resp, err := c.HTTP.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return body, classify(resp.StatusCode, u)
		}
		return body, nil
	})
	var body []byte
	if b, ok := result.([]byte); ok {
		body = b
	}
	if len(body) > 0 && c.DumpPath != "" {
		c.dump(body)
	}
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("circuit open for %s: %w", u, err)
		}
		return body, err
	}
	return body, nil
}

// dump appends the raw body to the configured dump file. Failures are
// ignored, dumping is a debugging aid only.
func (c *Client) dump(body []byte) {
	f, err := os.OpenFile(c.DumpPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()
	f.Write(body)
	f.Write([]byte("\n"))
}

// retryable reports whether the request may be repeated without changing it.
func retryable(err error) bool {
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrServer) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return false
	}
	if errors.Is(err, ErrForbidden) || errors.Is(err, ErrMalformed) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// transport-level failure
	return true
}
