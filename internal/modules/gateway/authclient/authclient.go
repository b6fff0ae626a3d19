package authclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	verifyPath     = "/api/auth/verify"
	defaultTimeout = 3 * time.Second
	maxBodyBytes   = 1 << 16
)

var ErrUnexpectedStatus = errors.New("unexpected authority status")

// Client asks the session authority whether a credential is live.
type Client struct {
	base string
	http *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// New builds a client for the authority at baseURL, e.g. http://auth:2333.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type verifyResponse struct {
	Valid bool `json:"valid"`
}

// VerifyToken calls the authority's verify endpoint. Transport failures and
// non-200 answers are errors, not a negative outcome.
func (c *Client) VerifyToken(ctx context.Context, credential string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+verifyPath, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("call authority: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return false, fmt.Errorf("read authority response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	var out verifyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return false, fmt.Errorf("decode authority response: %w", err)
	}
	return out.Valid, nil
}
