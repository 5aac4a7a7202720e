package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apiv1 "github.com/beam-cloud/synopsis/pkg/api/v1"
	"github.com/beam-cloud/synopsis/pkg/persist"
	"github.com/beam-cloud/synopsis/pkg/types"
)

// Client talks to the gateway's HTTP API
type Client struct {
	baseURL    string
	session    string
	httpClient *http.Client
}

// APIError is a non-2xx response from the gateway
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway returned %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Message)
}

// NewClient creates a client for the gateway at addr
func NewClient(addr, session string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(addr, "/") + apiv1.HttpServerBaseRoute,
		session:    session,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// Ingest runs one ingest call for the session's owner
func (c *Client) Ingest(ctx context.Context, pageSize int64, pageToken string) (*types.IngestResult, error) {
	var result types.IngestResult
	req := apiv1.IngestRequest{PageSize: pageSize, PageToken: pageToken}
	if err := c.do(ctx, http.MethodPost, "/ingest", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// QueueStats returns the background queue snapshot
func (c *Client) QueueStats(ctx context.Context) (*types.QueueStats, error) {
	var stats types.QueueStats
	if err := c.do(ctx, http.MethodGet, "/queue/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// ListSynopses returns the owner's most recent synopses
func (c *Client) ListSynopses(ctx context.Context, limit int) ([]*persist.StoredSynopsis, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var list []*persist.StoredSynopsis
	if err := c.do(ctx, http.MethodGet, "/synopses?"+q.Encode(), nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// GetSynopsis returns one synopsis by message id
func (c *Client) GetSynopsis(ctx context.Context, messageId string) (*persist.StoredSynopsis, error) {
	var s persist.StoredSynopsis
	if err := c.do(ctx, http.MethodGet, "/synopses/"+url.PathEscape(messageId), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.session != "" {
		req.Header.Set("Authorization", "Bearer "+c.session)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		if resp.StatusCode >= 300 {
			return &APIError{StatusCode: resp.StatusCode}
		}
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= 300 || !envelope.Success {
		return &APIError{StatusCode: resp.StatusCode, Message: envelope.Error}
	}

	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Data, out)
}
