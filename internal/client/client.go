// Package client is an HTTP client for the saferollout API, used by
// the rolloutctl command.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/TimurManjosov/saferollout/internal/rollout"
)

// Client is an HTTP client for the saferollout API
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// StaleFeature is one row of the staleness report.
type StaleFeature struct {
	ID           string    `json:"id"`
	Owner        string    `json:"owner"`
	Archived     bool      `json:"archived"`
	DateCreated  time.Time `json:"dateCreated"`
	DateUpdated  time.Time `json:"dateUpdated"`
	ValueType    string    `json:"valueType"`
	Environments map[string]struct {
		Value *string `json:"value"`
	} `json:"environments"`
	Project string `json:"project,omitempty"`
	Stale   *bool  `json:"stale,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// StaleReport is the paginated staleness report.
type StaleReport struct {
	Features []StaleFeature `json:"features"`
	Limit    int            `json:"limit"`
	Offset   int            `json:"offset"`
	Total    int            `json:"total"`
}

// ListRollouts retrieves all safe rollouts
func (c *Client) ListRollouts(ctx context.Context) ([]rollout.SafeRollout, error) {
	req, err := c.newRequest(ctx, "GET", "/v1/rollouts", nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Rollouts []rollout.SafeRollout `json:"rollouts"`
	}
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	return result.Rollouts, nil
}

// GetRollout retrieves a single safe rollout by id
func (c *Client) GetRollout(ctx context.Context, id string) (*rollout.SafeRollout, error) {
	req, err := c.newRequest(ctx, "GET", "/v1/rollouts/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}

	var result rollout.SafeRollout
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// TickRollout triggers a manual controller tick for one rollout and
// returns the rollout's status after the tick. Requires the admin key.
func (c *Client) TickRollout(ctx context.Context, id string) (string, error) {
	req, err := c.newRequest(ctx, "POST", "/v1/rollouts/"+url.PathEscape(id)+"/tick", nil)
	if err != nil {
		return "", err
	}

	var result struct {
		OK     bool   `json:"ok"`
		Status string `json:"status"`
	}
	if err := c.do(req, &result); err != nil {
		return "", err
	}
	return result.Status, nil
}

// StaleReport retrieves the staleness report. When ids is non-empty the
// POST variant is used, which filters to those features and includes
// the stale classification per row.
func (c *Client) StaleReport(ctx context.Context, ids []string, limit, offset int) (*StaleReport, error) {
	path := "/v1/features/stale"
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		query.Set("offset", strconv.Itoa(offset))
	}
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var req *http.Request
	var err error
	if len(ids) > 0 {
		body, merr := json.Marshal(map[string][]string{"ids": ids})
		if merr != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", merr)
		}
		req, err = c.newRequest(ctx, "POST", path, bytes.NewReader(body))
	} else {
		req, err = c.newRequest(ctx, "POST", path, bytes.NewReader([]byte("{}")))
	}
	if err != nil {
		return nil, err
	}

	var result StaleReport
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
