package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// HTTPConfig configures the HTTP directory client.
type HTTPConfig struct {
	BaseURL    string
	HTTPClient *http.Client
}

// HTTPDirectory talks to the platform's user and match services over HTTP.
type HTTPDirectory struct {
	cfg HTTPConfig
}

// NewHTTP builds an HTTP directory client.
func NewHTTP(cfg HTTPConfig) (*HTTPDirectory, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("directory base url is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &HTTPDirectory{cfg: cfg}, nil
}

// DisplayName resolves a user's display name from the user service.
func (d *HTTPDirectory) DisplayName(ctx context.Context, userID string) (string, error) {
	var payload struct {
		DisplayName string `json:"display_name"`
	}
	path := fmt.Sprintf("/v1/users/%s", url.PathEscape(userID))
	if err := d.getJSON(ctx, path, &payload); err != nil {
		return "", err
	}
	if strings.TrimSpace(payload.DisplayName) == "" {
		return userID, nil
	}
	return payload.DisplayName, nil
}

// IsMutual asks the match service whether the match pairs these users.
func (d *HTTPDirectory) IsMutual(ctx context.Context, matchID, userA, userB string) (bool, error) {
	var payload struct {
		Mutual bool `json:"mutual"`
	}
	path := fmt.Sprintf("/v1/matches/%s?user_a=%s&user_b=%s",
		url.PathEscape(matchID), url.QueryEscape(userA), url.QueryEscape(userB))
	if err := d.getJSON(ctx, path, &payload); err != nil {
		return false, err
	}
	return payload.Mutual, nil
}

func (d *HTTPDirectory) getJSON(ctx context.Context, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.cfg.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build directory request: %w", err)
	}
	res, err := d.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("directory request failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, err := io.ReadAll(io.LimitReader(res.Body, 4096))
		if err != nil {
			return fmt.Errorf("read directory error body: %w", err)
		}
		return fmt.Errorf("directory request status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(res.Body).Decode(target); err != nil {
		return fmt.Errorf("decode directory response: %w", err)
	}
	return nil
}

// Permissive is a development-mode directory: every match counts as mutual
// and display names fall back to user IDs. Never use it behind real traffic.
type Permissive struct{}

// DisplayName returns the user ID unchanged.
func (Permissive) DisplayName(_ context.Context, userID string) (string, error) {
	return userID, nil
}

// IsMutual reports every pairing as mutual.
func (Permissive) IsMutual(_ context.Context, _, _, _ string) (bool, error) {
	return true, nil
}
