// Package webhook implements a handoff provider that POSTs escalation
// summaries to an HTTP endpoint as JSON.
//
// The request body is the JSON encoding of [handoff.Summary]. Any 2xx
// response counts as delivered; everything else is an error the caller logs.
// Receivers that need authentication can be given a bearer token.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/handoff"
)

// Compile-time interface assertion.
var _ handoff.Provider = (*Notifier)(nil)

const defaultTimeout = 10 * time.Second

// Notifier delivers escalation summaries over HTTP.
type Notifier struct {
	endpoint   string
	bearer     string
	httpClient *http.Client
}

// Option is a functional option for Notifier.
type Option func(*Notifier)

// WithTimeout sets the per-request HTTP timeout. Defaults to 10 s.
func WithTimeout(d time.Duration) Option {
	return func(n *Notifier) {
		n.httpClient.Timeout = d
	}
}

// WithBearerToken adds an Authorization: Bearer header to every request.
func WithBearerToken(token string) Option {
	return func(n *Notifier) {
		n.bearer = token
	}
}

// New constructs a webhook escalation notifier targeting endpoint.
func New(endpoint string, opts ...Option) (*Notifier, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("webhook: endpoint must not be empty")
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("webhook: invalid endpoint %q", endpoint)
	}

	n := &Notifier{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Escalate implements [handoff.Provider].
func (n *Notifier) Escalate(ctx context.Context, summary handoff.Summary) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("webhook: encode summary: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+n.bearer)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: POST %s: %w", n.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook: POST %s returned status %d", n.endpoint, resp.StatusCode)
	}

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
