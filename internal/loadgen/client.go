package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/okian/rhythmboard/internal/domain/model"
	"github.com/okian/rhythmboard/internal/domain/types"
)

// ErrStatus is returned for unexpected HTTP status codes.
var ErrStatus = errors.New("unexpected status")

// Client talks to the leaderboard HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client with the given per-request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Ready calls /readyz.
func (c *Client) Ready(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/readyz", nil, nil)
}

// ServerStats is the subset of /stats used by the load run.
type ServerStats struct {
	Backend         string `json:"backend"`
	MaxPerPartition int    `json:"maxPerPartition"`
	Partitions      int    `json:"partitions"`
	Records         int    `json:"records"`
}

// Stats calls /stats.
func (c *Client) Stats(ctx context.Context) (ServerStats, error) {
	var st ServerStats
	err := c.do(ctx, http.MethodGet, "/stats", nil, &st)
	return st, err
}

// Submit posts one result.
func (c *Client) Submit(ctx context.Context, req types.SubmitRequest) (types.SubmitResponse, error) {
	var res types.SubmitResponse
	err := c.do(ctx, http.MethodPost, "/leaderboard/submit", req, &res)
	return res, err
}

// Leaderboard reads the first limit entries of p.
func (c *Client) Leaderboard(ctx context.Context, p model.Partition, limit int) ([]types.Entry, error) {
	q := url.Values{"diff": {string(p.Difficulty)}, "limit": {strconv.Itoa(limit)}}
	var entries []types.Entry
	err := c.do(ctx, http.MethodGet, "/leaderboard/"+url.PathEscape(p.TrackID)+"?"+q.Encode(), nil, &entries)
	return entries, err
}

// Rank asks for one player's rank in p.
func (c *Client) Rank(ctx context.Context, p model.Partition, name string) (types.RankResponse, error) {
	q := url.Values{"diff": {string(p.Difficulty)}, "name": {name}}
	var res types.RankResponse
	err := c.do(ctx, http.MethodGet, "/leaderboard/"+url.PathEscape(p.TrackID)+"/rank?"+q.Encode(), nil, &res)
	return res, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e types.ErrorResponse
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("%w: %s %s: %d %s", ErrStatus, method, path, resp.StatusCode, e.Error)
		}
		return fmt.Errorf("%w: %s %s: %d", ErrStatus, method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
