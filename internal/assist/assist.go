// Package assist calls an optional remote suggestion service that drafts
// a project plan from a free-text brief. The whole feature is absent when
// no endpoint is configured.
package assist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrUnavailable means the service is not configured or not reachable.
var ErrUnavailable = errors.New("suggestion service unavailable")

// Suggestion is a drafted project plan.
type Suggestion struct {
	Architecture      string  `json:"architecture"`
	EstimatedBudget   float64 `json:"estimatedBudget"`
	EstimatedTimeline string  `json:"estimatedTimeline"`
	Reasoning         string  `json:"reasoning"`
}

// Client talks to the suggestion endpoint. A nil *Client is valid and
// reports the feature as disabled, so callers never branch on config.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// New returns nil when no endpoint is configured.
func New(endpoint, apiKey string) *Client {
	if endpoint == "" {
		return nil
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) Enabled() bool {
	return c != nil
}

// Suggest submits the project brief and returns the drafted plan.
func (c *Client) Suggest(ctx context.Context, projectName, clientName, description string) (Suggestion, error) {
	if c == nil {
		return Suggestion{}, ErrUnavailable
	}

	body, err := json.Marshal(map[string]string{
		"projectName": projectName,
		"clientName":  clientName,
		"description": description,
	})
	if err != nil {
		return Suggestion{}, fmt.Errorf("encode brief: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Suggestion{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Suggestion{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Suggestion{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var out Suggestion
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Suggestion{}, fmt.Errorf("decode suggestion: %w", err)
	}
	return out, nil
}
