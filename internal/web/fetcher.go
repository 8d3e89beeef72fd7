package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	json "github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"

	"github.com/leonardcser/hotcache/internal/cache"
	"github.com/leonardcser/hotcache/internal/logger"
)

const (
	RequestTimeout  = 20 * time.Second
	MaxResponseSize = 1 * 1024 * 1024 // 1MB
	maxLinks        = 50
)

// hiddenElements never contribute visible text.
const hiddenElements = "script, style, noscript, iframe, object, embed, img, video, picture, svg, canvas, audio, source, track, map, area, form, label, input, button, select, textarea, progress, ins, applet"

var (
	ErrBadScheme   = errors.New("url must start with http:// or https://")
	ErrEmptyBody   = errors.New("empty response body")
	ErrUnsupported = errors.New("unsupported content type: binary files like images or PDFs are not supported")
)

type PageSummary struct {
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Text        string   `json:"text"`
	Links       []string `json:"links"`
}

// Fetcher downloads pages and caches their summaries keyed by URL.
type Fetcher struct {
	c     *colly.Collector
	cache cache.KV
	ttl   time.Duration
	group singleflight.Group
}

// FetcherOption tweaks the collector built by NewFetcher.
type FetcherOption func(*fetcherOptions)

type fetcherOptions struct {
	delay time.Duration
}

// WithRequestDelay sets the pause between two requests to the same domain.
func WithRequestDelay(d time.Duration) FetcherOption {
	return func(o *fetcherOptions) { o.delay = d }
}

func NewFetcher(kv cache.KV, ttl time.Duration, opts ...FetcherOption) *Fetcher {
	o := fetcherOptions{delay: time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.Async(false),
	)
	_ = c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       o.delay,
	})
	c.SetRequestTimeout(RequestTimeout)
	return &Fetcher{c: c, cache: kv, ttl: ttl}
}

func cacheKey(rawURL string) string { return "web_fetch|" + rawURL }

// Fetch returns the summary of rawURL, from cache when a live copy exists.
// Concurrent calls for the same URL share one download.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*PageSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return nil, ErrBadScheme
	}
	if ps, ok := f.cached(rawURL); ok {
		return ps, nil
	}

	// The download belongs to every caller waiting on it, so it is not
	// cancelled with the first one; each caller stops waiting on its own ctx.
	ch := f.group.DoChan(rawURL, func() (any, error) {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), RequestTimeout)
		defer cancel()
		return f.download(dctx, rawURL)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			logger.Debugf("fetch %s shared with a concurrent caller", rawURL)
		}
		return res.Val.(*PageSummary), nil
	}
}

func (f *Fetcher) cached(rawURL string) (*PageSummary, bool) {
	v, err := f.cache.Get(cacheKey(rawURL))
	if err != nil {
		if !cache.IsMiss(err) {
			logger.Warnf("cache get %s: %v", rawURL, err)
		}
		return nil, false
	}
	var ps PageSummary
	if err := json.Unmarshal(v, &ps); err != nil {
		logger.Warnf("cache entry for %s is corrupt: %v", rawURL, err)
		return nil, false
	}
	logger.Debugf("fetch %s served from cache", rawURL)
	return &ps, true
}

func (f *Fetcher) download(ctx context.Context, rawURL string) (*PageSummary, error) {
	var (
		body        []byte
		finalURL    string
		contentType string
	)
	// a clone carries no callbacks from earlier fetches
	c := f.c.Clone()
	c.Context = ctx
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", nextUserAgent())
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})
	c.OnResponse(func(r *colly.Response) {
		finalURL = r.Request.URL.String()
		body = append([]byte(nil), r.Body...)
		contentType = r.Headers.Get("Content-Type")
	})

	start := time.Now()
	if err := c.Visit(rawURL); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger.Infof("fetched %s (%d bytes) in %s", rawURL, len(body), time.Since(start))

	ps, err := Summarize(body, contentType, finalURL)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(ps); err == nil {
		if err := f.cache.Put(cacheKey(rawURL), b, f.ttl); err != nil {
			logger.Warnf("cache put %s: %v", rawURL, err)
		}
	}
	return ps, nil
}

// Summarize extracts title, description, links and markdown text from a
// response body. Non-HTML text is returned verbatim.
func Summarize(body []byte, contentType, finalURL string) (*PageSummary, error) {
	if len(body) == 0 {
		return nil, ErrEmptyBody
	}
	if len(body) > MaxResponseSize {
		cut := MaxResponseSize
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = append(body[:cut:cut], "... [response trimmed due to size]"...)
	}

	ct := strings.ToLower(contentType)
	if !strings.HasPrefix(ct, "text/") {
		return nil, ErrUnsupported
	}
	if !strings.Contains(ct, "text/html") {
		return &PageSummary{URL: finalURL, Text: string(body)}, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	doc.Find(hiddenElements).Remove()

	ps := &PageSummary{
		URL:         finalURL,
		Title:       strings.TrimSpace(doc.Find("head > title").First().Text()),
		Description: strings.TrimSpace(doc.Find("meta[name=description]").AttrOr("content", "")),
		Links:       extractLinks(doc, finalURL),
	}

	plain := strings.Join(strings.Fields(doc.Find("body").Text()), " ")

	// links are reported separately; chrome around the content is noise
	doc.Find("a, header, footer, aside").Remove()
	html, err := doc.Html()
	if err != nil {
		return nil, err
	}
	if md, err := htmltomarkdown.ConvertString(html); err == nil {
		ps.Text = md
	} else {
		ps.Text = plain
	}
	return ps, nil
}

// extractLinks resolves anchors against base, drops non-web schemes and
// fragments, and returns at most maxLinks sorted unique URLs.
func extractLinks(doc *goquery.Document, base string) []string {
	baseURL, _ := url.Parse(base)
	set := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" {
			return
		}
		u, err := url.Parse(href)
		if err != nil {
			return
		}
		if !u.IsAbs() && baseURL != nil {
			u = baseURL.ResolveReference(u)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return
		}
		u.Fragment = ""
		set[u.String()] = struct{}{}
	})

	links := make([]string, 0, len(set))
	for l := range set {
		links = append(links, l)
	}
	sort.Strings(links)
	if len(links) > maxLinks {
		links = links[:maxLinks]
	}
	return links
}
