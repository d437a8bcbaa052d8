// Package client talks to the backend's HTTP API: login and the read-only
// remote tree endpoint used as a polling fallback.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fruitsalade/projectsync/internal/metrics"
	"github.com/fruitsalade/projectsync/pkg/models"
	"github.com/fruitsalade/projectsync/pkg/retry"
)

// ErrUnauthorized is returned when the backend rejects the token.
var ErrUnauthorized = errors.New("unauthorized")

// Client is an HTTP client with retry and bearer auth.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig retry.Config

	mu        sync.RWMutex
	authToken string
}

// Config holds client configuration.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RetryConfig retry.Config
	AuthToken   string
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.Fixed(15, 2*time.Second)
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retryConfig: cfg.RetryConfig,
		authToken:   cfg.AuthToken,
	}
}

// SetAuthToken sets the bearer token for requests.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = token
}

// applyAuth adds the auth header to a request if a token is set.
func (c *Client) applyAuth(req *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

// treeResponse is the envelope of GET /api/apps/{id}/remote/tree. Older
// backends put files at the top level.
type treeResponse struct {
	Success bool `json:"success"`
	Data    *struct {
		Files []*models.FileNode `json:"files"`
	} `json:"data"`
	Files   []*models.FileNode `json:"files"`
	Error   string             `json:"error"`
	Message string             `json:"message"`
}

// FetchRemoteTree fetches the app's file tree, retrying transient failures
// and unsuccessful envelopes.
func (c *Client) FetchRemoteTree(ctx context.Context, appID string) ([]*models.FileNode, error) {
	endpoint := c.baseURL + "/api/apps/" + url.PathEscape(appID) + "/remote/tree"
	start := time.Now()

	nodes, err := retry.DoWithResult(ctx, c.retryConfig, func() ([]*models.FileNode, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		c.applyAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, retry.Retryable(err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, fmt.Errorf("fetch tree: %w (%d)", ErrUnauthorized, resp.StatusCode)
		case resp.StatusCode >= 500:
			return nil, retry.Retryable(fmt.Errorf("server error: %d", resp.StatusCode))
		}

		var tr treeResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 32<<20)).Decode(&tr); err != nil {
			return nil, retry.Retryable(fmt.Errorf("decode tree: %w", err))
		}
		if !tr.Success {
			msg := tr.Error
			if msg == "" {
				msg = tr.Message
			}
			if msg == "" {
				msg = fmt.Sprintf("status %d", resp.StatusCode)
			}
			return nil, retry.Retryable(fmt.Errorf("fetch tree: %s", msg))
		}
		if tr.Data != nil && tr.Data.Files != nil {
			return tr.Data.Files, nil
		}
		if tr.Files != nil {
			return tr.Files, nil
		}
		return []*models.FileNode{}, nil
	})

	metrics.RecordTreeFetch(err == nil, time.Since(start))
	return nodes, err
}
