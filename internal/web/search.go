package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	json "github.com/goccy/go-json"

	"github.com/leonardcser/hotcache/internal/cache"
	"github.com/leonardcser/hotcache/internal/logger"
)

const (
	DefaultSearchEndpoint = "https://html.duckduckgo.com/html/"
	DefaultSearchLimit    = 10
	MaxSearchResults      = 20
)

var ErrEmptyQuery = errors.New("empty query")

type SearchResult struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Link        string `json:"link"`
}

// Searcher queries the DuckDuckGo HTML endpoint and caches result lists
// keyed by the trimmed query.
type Searcher struct {
	client   *http.Client
	cache    cache.KV
	ttl      time.Duration
	endpoint string
}

// SearcherOption tweaks a Searcher built by NewSearcher.
type SearcherOption func(*Searcher)

// WithSearchEndpoint points the searcher at another DuckDuckGo-compatible URL.
func WithSearchEndpoint(endpoint string) SearcherOption {
	return func(s *Searcher) { s.endpoint = endpoint }
}

func NewSearcher(kv cache.KV, ttl time.Duration, opts ...SearcherOption) *Searcher {
	s := &Searcher{
		client:   &http.Client{Timeout: 15 * time.Second},
		cache:    kv,
		ttl:      ttl,
		endpoint: DefaultSearchEndpoint,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func searchCacheKey(q string) string { return "web_search|" + q }

// Search returns up to limit results for query. limit outside 1..20 means 10.
// The full result page is cached, so a later call with a larger limit is
// still answered from cache.
func (s *Searcher) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 || limit > MaxSearchResults {
		limit = DefaultSearchLimit
	}

	results, ok := s.cached(q)
	if !ok {
		var err error
		if results, err = s.query(ctx, q); err != nil {
			return nil, err
		}
		if b, err := json.Marshal(results); err == nil {
			if err := s.cache.Put(searchCacheKey(q), b, s.ttl); err != nil {
				logger.Warnf("cache put search %q: %v", q, err)
			}
		}
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *Searcher) cached(q string) ([]SearchResult, bool) {
	v, err := s.cache.Get(searchCacheKey(q))
	if err != nil {
		if !cache.IsMiss(err) {
			logger.Warnf("cache get search %q: %v", q, err)
		}
		return nil, false
	}
	var results []SearchResult
	if err := json.Unmarshal(v, &results); err != nil {
		logger.Warnf("cache entry for search %q is corrupt: %v", q, err)
		return nil, false
	}
	logger.Debugf("search %q served from cache", q)
	return results, true
}

func (s *Searcher) query(ctx context.Context, q string) ([]SearchResult, error) {
	values := url.Values{"q": {q}, "kl": {"us-en"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+values.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", nextUserAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("duckduckgo status %d", resp.StatusCode)
	}
	results, err := ParseSearchResults(resp.Body, MaxSearchResults)
	if err != nil {
		return nil, err
	}
	logger.Infof("search %q: %d results in %s", q, len(results), time.Since(start))
	return results, nil
}

// ParseSearchResults reads a DuckDuckGo HTML result page.
func ParseSearchResults(r io.Reader, limit int) ([]SearchResult, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, limit)
	doc.Find("div.result.results_links.results_links_deep.web-result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		a := s.Find("a.result__a").First()
		link := strings.TrimSpace(a.AttrOr("href", ""))
		title := singleLine(a.Text())
		desc := singleLine(s.Find("a.result__snippet").First().Text())
		if title != "" && link != "" {
			results = append(results, SearchResult{Title: title, Description: desc, Link: extractDDGURL(link)})
		}
		return len(results) < limit
	})
	if len(results) > 0 {
		return results, nil
	}

	// older layouts: bare anchors with the snippet somewhere above them
	doc.Find("a.result__a").EachWithBreak(func(_ int, n *goquery.Selection) bool {
		link := strings.TrimSpace(n.AttrOr("href", ""))
		if link == "" {
			return true
		}
		results = append(results, SearchResult{
			Title:       singleLine(n.Text()),
			Description: singleLine(n.Parents().Find("a.result__snippet").First().Text()),
			Link:        extractDDGURL(link),
		})
		return len(results) < limit
	})
	return results, nil
}

// extractDDGURL unwraps DuckDuckGo's redirect links
// (//duckduckgo.com/l/?uddg=<escaped url>&rut=...). Anything else is
// returned unchanged.
func extractDDGURL(ddgURL string) string {
	if strings.HasPrefix(ddgURL, "//duckduckgo.com/l/") {
		ddgURL = "https:" + ddgURL
	}
	u, err := url.Parse(ddgURL)
	if err != nil {
		return ddgURL
	}
	// Query() has already unescaped the value
	if uddg := u.Query().Get("uddg"); uddg != "" {
		return uddg
	}
	return ddgURL
}

// singleLine collapses whitespace runs, newlines included, to single spaces.
func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
