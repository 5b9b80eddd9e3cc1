package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Searcher is the information-retrieval capability. Only the analysis step
// uses it, and only as best-effort context: a failed search degrades the
// analysis, it never fails it.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// SerperClient queries the Serper web-search API and flattens the organic
// results into a plain-text digest the completion service can consume.
type SerperClient struct {
	apiKey string
	url    string
	client *http.Client
}

func NewSerperClient(apiKey, url string) *SerperClient {
	return &SerperClient{
		apiKey: apiKey,
		url:    url,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type serperResult struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
}

func (c *SerperClient) Search(ctx context.Context, query string) (string, error) {
	body, err := json.Marshal(map[string]any{"q": query, "num": 5})
	if err != nil {
		return "", fmt.Errorf("failed to encode search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("search service returned %d: %s", resp.StatusCode, string(raw))
	}

	var result serperResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode search response: %w", err)
	}

	if len(result.Organic) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for i, r := range result.Organic {
		fmt.Fprintf(&sb, "%d. %s\n%s\n(%s)\n\n", i+1, r.Title, r.Snippet, r.Link)
	}

	slog.Debug("search completed", "query", query, "results", len(result.Organic))
	return sb.String(), nil
}
