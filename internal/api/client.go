package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const (
	DefaultUsageURL   = "https://api.anthropic.com/api/oauth/usage"
	DefaultAPIVersion = "2023-06-01"
	DefaultBeta       = "oauth-2025-04-20"
	defaultTimeout    = 10 * time.Second
)

// ErrDecode wraps a 200 response whose body is not a usage document.
var ErrDecode = errors.New("decode usage response")

// StatusError is returned for any non-200 response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API returned %d", e.StatusCode)
}

// Unauthorized reports whether the server rejected the token.
func (e *StatusError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

type Options struct {
	URL        string
	APIVersion string
	Beta       string
	HTTPClient *http.Client
}

// Client calls the usage endpoint.
type Client struct {
	url        string
	apiVersion string
	beta       string
	http       *http.Client
}

func New(opts Options) *Client {
	c := &Client{
		url:        opts.URL,
		apiVersion: opts.APIVersion,
		beta:       opts.Beta,
		http:       opts.HTTPClient,
	}
	if c.url == "" {
		c.url = DefaultUsageURL
	}
	if c.apiVersion == "" {
		c.apiVersion = DefaultAPIVersion
	}
	if c.beta == "" {
		c.beta = DefaultBeta
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: defaultTimeout}
	}
	return c
}

// FetchUsage returns the decoded usage document. Non-200 responses are
// *StatusError, undecodable bodies wrap ErrDecode, and anything else is a
// transport failure.
func (c *Client) FetchUsage(ctx context.Context, accessToken string) (*UsageResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("anthropic-version", c.apiVersion)
	req.Header.Set("anthropic-beta", c.beta)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	var usage UsageResponse
	if err := json.NewDecoder(resp.Body).Decode(&usage); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return &usage, nil
}
