package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/docrag/internal/models"
)

// apiClient talks to a running docrag server.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

// do sends a request and decodes a 200 JSON response into out.
func (c *apiClient) do(ctx context.Context, method, path string, body any, out any) error {
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
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(b, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *apiClient) Query(ctx context.Context, question string) (*models.QueryResult, error) {
	var res models.QueryResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/query", models.QueryRequest{Query: question}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *apiClient) Document(ctx context.Context, id int64) (*models.Document, error) {
	var doc models.Document
	if err := c.do(ctx, http.MethodGet, "/api/v1/documents/"+strconv.FormatInt(id, 10), nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *apiClient) Documents(ctx context.Context, limit, offset int) ([]*models.Document, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	var out struct {
		Documents []*models.Document `json:"documents"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/documents?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Documents, nil
}

func (c *apiClient) Status(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
