package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSerperClient_FlattensOrganicResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-API-KEY"); got != "test-key" {
			t.Errorf("expected api key header, got %q", got)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["q"] != "tesla earnings" {
			t.Errorf("unexpected query: %v", req["q"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"organic": []map[string]string{
				{"title": "Tesla Q2 results", "link": "https://example.com/a", "snippet": "Revenue up."},
				{"title": "Analyst view", "link": "https://example.com/b", "snippet": "Margins tighten."},
			},
		})
	}))
	defer srv.Close()

	c := NewSerperClient("test-key", srv.URL)
	digest, err := c.Search(context.Background(), "tesla earnings")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !strings.Contains(digest, "1. Tesla Q2 results") || !strings.Contains(digest, "2. Analyst view") {
		t.Fatalf("digest missing numbered results:\n%s", digest)
	}
	if !strings.Contains(digest, "https://example.com/a") {
		t.Fatalf("digest missing source link:\n%s", digest)
	}
}

func TestSerperClient_NoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"organic": []any{}})
	}))
	defer srv.Close()

	c := NewSerperClient("k", srv.URL)
	digest, err := c.Search(context.Background(), "nothing")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if digest != "" {
		t.Fatalf("expected empty digest, got %q", digest)
	}
}

func TestSerperClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Unauthorized"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewSerperClient("bad-key", srv.URL)
	if _, err := c.Search(context.Background(), "q"); err == nil {
		t.Fatal("expected error on 403")
	}
}
