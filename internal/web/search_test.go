package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/leonardcser/hotcache/internal/logger"
)

func resultPage(n int) string {
	var sb strings.Builder
	sb.WriteString("<html><body>")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&sb, `<div class="result results_links results_links_deep web-result">
  <a class="result__a" href="//duckduckgo.com/l/?uddg=https%%3A%%2F%%2Fsite%d.example%%2Fpage&rut=abc">Result
    %d</a>
  <a class="result__snippet" href="#">Snippet   for %d</a>
</div>`, i, i, i)
	}
	sb.WriteString("</body></html>")
	return sb.String()
}

func TestParseSearchResults(t *testing.T) {
	got, err := ParseSearchResults(strings.NewReader(resultPage(3)), 2)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []SearchResult{
		{Title: "Result 1", Description: "Snippet for 1", Link: "https://site1.example/page"},
		{Title: "Result 2", Description: "Snippet for 2", Link: "https://site2.example/page"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("results (-want +got):\n%s", diff)
	}
}

func TestParseSearchResults_FallbackLayout(t *testing.T) {
	page := `<html><body><table><tr><td>
  <a class="result__a" href="https://plain.example/">Plain</a>
  <a class="result__snippet">About plain</a>
</td></tr></table></body></html>`
	got, err := ParseSearchResults(strings.NewReader(page), 5)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []SearchResult{{Title: "Plain", Description: "About plain", Link: "https://plain.example/"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("results (-want +got):\n%s", diff)
	}
}

func TestExtractDDGURL(t *testing.T) {
	for in, want := range map[string]string{
		"//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fa%3Fb%3D1&rut=x": "https://example.com/a?b=1",
		"https://example.com/direct":                                          "https://example.com/direct",
		"//duckduckgo.com/l/?rut=x":                                           "https://duckduckgo.com/l/?rut=x",
	} {
		if got := extractDDGURL(in); got != want {
			t.Errorf("extractDDGURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSearcher_CachesByQuery(t *testing.T) {
	logger.SetOutput(io.Discard)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if q := r.URL.Query().Get("q"); q != "go cache" {
			t.Errorf("query: %q", q)
		}
		if r.Header.Get("User-Agent") == "" {
			t.Errorf("missing user agent")
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, resultPage(12))
	}))
	defer srv.Close()

	kv := newTestKV(t)
	s := NewSearcher(kv, time.Hour, WithSearchEndpoint(srv.URL+"/html/"))

	first, err := s.Search(context.Background(), "  go cache ", 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(first) != 3 {
		t.Fatalf("expected 3 results, got %d", len(first))
	}

	// a larger limit is still answered from the cached page
	second, err := s.Search(context.Background(), "go cache", 0)
	if err != nil {
		t.Fatalf("search again: %v", err)
	}
	if len(second) != DefaultSearchLimit {
		t.Fatalf("expected %d results, got %d", DefaultSearchLimit, len(second))
	}
	if diff := cmp.Diff(first, second[:3]); diff != "" {
		t.Fatalf("cached results differ (-first +second):\n%s", diff)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one upstream request, got %d", hits.Load())
	}
	if kv.Stats().Hits != 1 {
		t.Fatalf("expected a hot tier hit, got %+v", kv.Stats())
	}
}

func TestSearcher_Errors(t *testing.T) {
	logger.SetOutput(io.Discard)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	kv := newTestKV(t)
	s := NewSearcher(kv, time.Hour, WithSearchEndpoint(srv.URL))
	if _, err := s.Search(context.Background(), "   ", 5); !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
	if _, err := s.Search(context.Background(), "q", 5); err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status error, got %v", err)
	}
	if _, err := kv.Get(searchCacheKey("q")); err == nil {
		t.Fatalf("failed search must not be cached")
	}
}
