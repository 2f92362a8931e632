// Package retrieve implements lore retrieval: parallel, per-host-dispatched
// HTTP fetch of candidate sources for a query, structural extraction of
// each page, and the term-matching logic that picks which of their sections
// make it into a lookup prompt.
package retrieve

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html/charset"
	"golang.org/x/sync/errgroup"
)

// SearchBackend resolves a query to up to topK candidate URLs. It is
// injected so the caller can swap in a real search API without this package
// depending on one.
type SearchBackend interface {
	Search(ctx context.Context, query string, topK int) ([]string, error)
}

// Source is one fetched-and-extracted candidate: URL, host weight, and the
// extraction (nil when the fetch or extraction failed).
type Source struct {
	URL        string
	Host       string
	Weight     float64
	Extraction *Extraction // nil on fetch or extraction failure, non-fatal
	FetchErr   error
}

// hostWeights is the static per-host priority map: wiki-like hosts rank
// above generic pages. Read-only after init.
var hostWeights = map[string]float64{
	"en.wikipedia.org": 1.0,
	"wikipedia.org":     1.0,
	"fandom.com":        0.9,
	"wikia.org":         0.9,
}

const (
	defaultGenericWeight = 0.5
	defaultTopK          = 5
	defaultConcurrency   = 4
	defaultPerFetchDeadline = 8 * time.Second
)

// Options tune Fetcher behavior. Zero value is sensible.
type Options struct {
	TopK          int
	Concurrency   int
	PerFetchDeadline time.Duration
	UserAgent     string
	Registry      Registry
}

// Fetcher resolves a query to fetched-and-extracted lore sources.
type Fetcher struct {
	search SearchBackend
	client *http.Client
	opts   Options
}

// New constructs a Fetcher backed by search, applying Options defaults for
// zero fields.
func New(search SearchBackend, opts Options) *Fetcher {
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.PerFetchDeadline <= 0 {
		opts.PerFetchDeadline = defaultPerFetchDeadline
	}
	if opts.Registry == nil {
		opts.Registry = DefaultRegistry()
	}
	return &Fetcher{
		search: search,
		client: &http.Client{},
		opts:   opts,
	}
}

// Fetch runs the retrieval sequence: search, bounded parallel
// fetch+dispatch, non-fatal extraction, and host-weight assignment.
func (f *Fetcher) Fetch(ctx context.Context, query string) ([]Source, error) {
	urls, err := f.search.Search(ctx, query, f.opts.TopK)
	if err != nil {
		return nil, fmt.Errorf("retrieve: search backend: %w", err)
	}

	sources := make([]Source, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Concurrency)

	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			sources[i] = f.fetchOne(gctx, u)
			return nil // per-URL errors are carried in Source.FetchErr, never fatal
		})
	}
	_ = g.Wait()

	return sources, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, rawURL string) Source {
	src := Source{URL: rawURL, Weight: defaultGenericWeight}

	u, err := url.Parse(rawURL)
	if err != nil {
		src.FetchErr = fmt.Errorf("invalid url: %w", err)
		return src
	}
	src.Host = u.Host
	src.Weight = weightFor(u.Host)

	fetchCtx, cancel := context.WithTimeout(ctx, f.opts.PerFetchDeadline)
	defer cancel()

	rawHTML, err := f.fetchHTML(fetchCtx, rawURL)
	if err != nil {
		src.FetchErr = err
		return src
	}

	extraction, err := f.opts.Registry.forHost(u.Host).Extract(rawHTML, rawURL)
	if err != nil {
		// Extraction failure is non-fatal: keep the source with
		// Extraction == nil and the cause in FetchErr.
		src.FetchErr = fmt.Errorf("extract %s: %w", rawURL, err)
		return src
	}
	src.Extraction = extraction
	return src
}

func (f *Fetcher) fetchHTML(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	ua := f.opts.UserAgent
	if ua == "" {
		ua = "narrative-lookup/1.0"
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}

	// Decode to UTF-8 before handing the document to an extractor; lore
	// wikis are not reliably UTF-8 and the DOM walk assumes it.
	reader, err := charset.NewReader(io.LimitReader(resp.Body, 8*1000*1000), resp.Header.Get("Content-Type"))
	if err != nil {
		return "", fmt.Errorf("fetch %s: charset: %w", rawURL, err)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func weightFor(host string) float64 {
	host = strings.ToLower(host)
	if w, ok := hostWeights[host]; ok {
		return w
	}
	for suffix, w := range hostWeights {
		if strings.HasSuffix(host, "."+suffix) {
			return w
		}
	}
	return defaultGenericWeight
}
