package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"time"
)

// TokenRing issues requests against an API-key protected REST endpoint,
// rotating round-robin over the configured keys. A minimum delay between
// requests keeps the combined request rate under the per-key limit of the
// upstream (1.1s spread across all keys).
type TokenRing struct {
	Base string

	// Delay is the pause before each request. Tests may zero it.
	Delay time.Duration

	client  *Client
	tokens  []string
	index   int
	queries int
}

// NewTokenRing creates a ring over the given API keys. The ring starts at a
// random key so parallel deployments do not hammer the same key first.
func NewTokenRing(client *Client, base string, tokens []string) (*TokenRing, error) {
	if len(tokens) == 0 {
		return nil, errors.New("no API tokens configured")
	}
	return &TokenRing{
		Base:   base,
		client: client,
		tokens: tokens,
		index:  rand.Intn(len(tokens)),
		Delay:  time.Duration(float64(1100*time.Millisecond) / float64(len(tokens))),
	}, nil
}

// Request performs one API call and decodes the JSON object response.
// HTTP 429 responses are retried in place without consuming the retry
// budget; a missing required top-level key is reported as
// ErrMalformed so the caller can abort the window.
func (r *TokenRing) Request(ctx context.Context, path, method, payload, required string) (map[string]json.RawMessage, error) {
	var lastErr error
	for attempt := 0; attempt <= r.client.Retries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.queries++
		time.Sleep(r.Delay)
		token := r.tokens[r.index]
		r.index = (r.index + 1) % len(r.tokens)

		header := http.Header{"X-Api-Key": []string{token}}
		body, err := r.client.once(ctx, method, r.Base+path, payload, header)
		if errors.Is(err, ErrRateLimited) {
			log.Printf("Warning: rate limited on %s, retrying", path)
			continue
		}
		if err != nil && body == nil {
			lastErr = err
			continue
		}

		var response map[string]json.RawMessage
		if jerr := json.Unmarshal(body, &response); jerr != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, path, jerr)
		}
		if msg, ok := response["errorMessage"]; ok {
			log.Printf("Error on %s %s: %s", path, payload, msg)
		}
		if errors.Is(err, ErrForbidden) {
			log.Printf("Warning: forbidden on %s", path)
			return response, err
		}
		if err != nil {
			lastErr = err
			continue
		}
		if required != "" {
			if _, ok := response[required]; !ok {
				return response, fmt.Errorf("%w: missing %q in response to %s %s", ErrMalformed, required, path, payload)
			}
		}
		return response, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: giving up on %s", ErrRateLimited, path)
	}
	return nil, lastErr
}

// Queries returns the number of requests issued so far.
func (r *TokenRing) Queries() int {
	return r.queries
}

// Stats returns a printable summary for verbose runs.
func (r *TokenRing) Stats() string {
	return fmt.Sprintf("%d connections %d queries", len(r.tokens), r.queries)
}
