// Package client calls the index API over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hyperjump/semcache/internal/models"
)

// APIError is a non-success response from the server.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Detail)
}

// IndexClient is a client for one index server.
type IndexClient struct {
	baseURL    string
	httpClient *http.Client
}

// New returns a client for the server at baseURL. A nil httpClient uses a client with a 30s timeout.
func New(baseURL string, httpClient *http.Client) *IndexClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &IndexClient{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// AddIndex stores text under id.
func (c *IndexClient) AddIndex(ctx context.Context, id int64, text string) error {
	return c.do(ctx, http.MethodPost, "/addIndex", models.AddRequest{ID: id, Context: text}, nil)
}

// QueryIndex looks up text. It returns nil on a cache miss. A nil threshold uses the server default.
func (c *IndexClient) QueryIndex(ctx context.Context, text string, threshold *float64) (*models.QueryResponse, error) {
	var out models.QueryResponse
	req := models.QueryRequest{Context: text, DistanceThreshold: threshold}
	if err := c.do(ctx, http.MethodPost, "/queryIndex", req, &out); err != nil {
		if errors.Is(err, errNoContent) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

// Rebuild asks the server to rebuild its index and waits for it to finish.
func (c *IndexClient) Rebuild(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/rebuild", nil, nil)
}

// Status returns the server's index status.
func (c *IndexClient) Status(ctx context.Context) (*models.IndexStatus, error) {
	var out models.IndexStatus
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

var errNoContent = errors.New("no content")

func (c *IndexClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return errNoContent
	case resp.StatusCode != http.StatusOK:
		b, _ := io.ReadAll(resp.Body)
		var er models.ErrorResponse
		if json.Unmarshal(b, &er) == nil && er.Detail != "" {
			return &APIError{StatusCode: resp.StatusCode, Detail: er.Detail}
		}
		return &APIError{StatusCode: resp.StatusCode, Detail: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
