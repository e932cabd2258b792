/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package plex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const plexTVBaseURL = "https://plex.tv"

// clientIdentifier is sent as X-Plex-Client-Identifier on every request.
const clientIdentifier = "PLM"

// Client talks to one Plex Media Server.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retries    int
	logger     zerolog.Logger
}

// Config holds client configuration.
type Config struct {
	Timeout time.Duration
	Retries int
}

// DefaultConfig returns default client configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,
		Retries: 3,
	}
}

// NewClient creates a client for a registered server.
func NewClient(baseURL, token string, cfg Config, logger zerolog.Logger) (*Client, error) {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}

	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}

	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		retries: cfg.Retries,
		logger:  logger.With().Str("component", "plex_client").Logger(),
	}, nil
}

// Libraries lists the server's library sections.
func (c *Client) Libraries(ctx context.Context) ([]Library, error) {
	var resp container[Library]
	if err := c.getJSON(ctx, "/library/sections", nil, &resp); err != nil {
		return nil, fmt.Errorf("list libraries: %w", err)
	}
	return resp.MediaContainer.Directory, nil
}

// LibraryItems fetches one page of a library's item listing. It returns the
// page and the total item count so callers can drive pagination.
func (c *Client) LibraryItems(ctx context.Context, libraryKey string, start, size int) ([]MediaItem, int, error) {
	headers := map[string]string{
		"X-Plex-Container-Start": strconv.Itoa(start),
		"X-Plex-Container-Size":  strconv.Itoa(size),
	}

	var resp container[MediaItem]
	path := "/library/sections/" + url.PathEscape(libraryKey) + "/all"
	if err := c.getJSON(ctx, path, headers, &resp); err != nil {
		return nil, 0, fmt.Errorf("list library items: %w", err)
	}

	total := resp.MediaContainer.TotalSize
	if total == 0 {
		total = resp.MediaContainer.Size
	}
	return resp.MediaContainer.Metadata, total, nil
}

// getJSON performs a GET with bounded retry and backoff for transient
// failures (network errors and 5xx responses).
func (c *Client) getJSON(ctx context.Context, path string, headers map[string]string, dest any) error {
	backoff := 2 * time.Second
	var lastErr error

	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			c.logger.Debug().
				Int("attempt", attempt).
				Str("path", path).
				Msg("retrying plex request")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		retryable, err := c.doGet(ctx, path, headers, dest)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
	}

	return lastErr
}

func (c *Client) doGet(ctx context.Context, path string, headers map[string]string, dest any) (retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Plex-Token", c.token)
	req.Header.Set("X-Plex-Client-Identifier", clientIdentifier)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return true, fmt.Errorf("plex request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		io.Copy(io.Discard, resp.Body)
		return true, fmt.Errorf("plex request failed (status %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return false, fmt.Errorf("plex request failed (status %d)", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return false, fmt.Errorf("decode plex response: %w", err)
	}
	return false, nil
}

// SignIn exchanges Plex account credentials for an auth token via plex.tv.
func SignIn(ctx context.Context, username, password string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}

	body, err := json.Marshal(struct {
		Login    string `json:"login"`
		Password string `json:"password"`
	}{
		Login:    username,
		Password: password,
	})
	if err != nil {
		return "", fmt.Errorf("marshal credentials: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, plexTVBaseURL+"/api/v2/users/signin", strings.NewReader(string(body)))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Plex-Client-Identifier", clientIdentifier)
	req.Header.Set("X-Plex-Product", "PLM")
	req.Header.Set("X-Plex-Version", "1.0.0")

	httpClient := &http.Client{Timeout: timeout}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("plex.tv request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return "", fmt.Errorf("invalid plex credentials")
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("plex.tv sign-in failed (status %d)", resp.StatusCode)
	}

	var signin struct {
		AuthToken string `json:"authToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&signin); err != nil {
		return "", fmt.Errorf("decode plex.tv response: %w", err)
	}
	if signin.AuthToken == "" {
		return "", fmt.Errorf("plex.tv sign-in returned no token")
	}

	return signin.AuthToken, nil
}
