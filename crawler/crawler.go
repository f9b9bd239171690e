package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const maxPageBytes = 10 << 20

type Options struct {
	Scope     Scope
	Delay     time.Duration
	Timeout   time.Duration
	MaxPages  int
	MaxDepth  int
	Workers   int
	UserAgent string
	// Verbose logs every saved page and document, not only failures.
	Verbose bool
}

// Crawler performs a breadth-first walk from a seed URL. Each URL is fetched
// at most once per run, including when several workers discover it at the
// same time.
type Crawler struct {
	client  *http.Client
	store   *Store
	opts    Options
	limiter *rate.Limiter
	logger  *log.Logger

	mu         sync.Mutex
	visited    map[string]struct{}
	downloaded map[string]struct{}
	reserved   int
	stats      Stats
}

func New(store *Store, opts Options, client *http.Client, logger *log.Logger) *Crawler {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = log.Default()
	}
	limit := rate.Inf
	if opts.Delay > 0 {
		limit = rate.Every(opts.Delay)
	}
	return &Crawler{
		client:     client,
		store:      store,
		opts:       opts,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
		visited:    make(map[string]struct{}),
		downloaded: make(map[string]struct{}),
	}
}

// Crawl walks from seed until the frontier is empty or a bound is reached.
// Per-URL failures are logged and counted; only context cancellation and an
// invalid seed abort the run.
func (c *Crawler) Crawl(ctx context.Context, seed string) (Stats, error) {
	start, err := url.Parse(seed)
	if err != nil || !isHTTP(start) || start.Host == "" {
		return Stats{}, fmt.Errorf("invalid seed url %q", seed)
	}
	start.Fragment = ""
	start.RawFragment = ""
	if c.opts.Scope.Host == "" {
		c.opts.Scope.Host = start.Host
	}

	c.claim(c.visited, start.String())
	level := []string{start.String()}

	for depth := 0; len(level) > 0; depth++ {
		followLinks := c.opts.MaxDepth <= 0 || depth < c.opts.MaxDepth

		var (
			nextMu sync.Mutex
			next   []string
		)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.opts.Workers)
		for _, pageURL := range level {
			if !c.reservePage() {
				break
			}
			g.Go(func() error {
				links, err := c.visit(gctx, pageURL)
				if err != nil {
					return err
				}
				if !followLinks {
					return nil
				}
				for _, link := range links {
					if c.claim(c.visited, link) {
						nextMu.Lock()
						next = append(next, link)
						nextMu.Unlock()
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return c.Stats(), err
		}
		level = next
	}

	return c.Stats(), nil
}

// Visited returns every URL claimed during the run, sorted.
func (c *Crawler) Visited() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.visited))
	for u := range c.visited {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Stats returns a snapshot of the run so far.
func (c *Crawler) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Pages:  append([]PageRef(nil), c.stats.Pages...),
		Files:  append([]FileRecord(nil), c.stats.Files...),
		Links:  append([]Link(nil), c.stats.Links...),
		Failed: append([]string(nil), c.stats.Failed...),
		Errors: c.stats.Errors,
	}
}

// visit fetches one page, saves it, downloads linked documents and returns
// the in-scope page links it found. The returned error is non-nil only when
// ctx is done.
func (c *Crawler) visit(ctx context.Context, pageURL string) ([]string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	page, hrefs, err := c.fetchPage(ctx, pageURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.fail(pageURL, err)
		return nil, nil
	}

	saved, err := c.store.SavePage(page)
	if err != nil {
		c.fail(pageURL, err)
		return nil, nil
	}
	c.mu.Lock()
	c.stats.Pages = append(c.stats.Pages, PageRef{URL: page.URL, Title: page.Title, Path: saved})
	c.mu.Unlock()
	if c.opts.Verbose {
		c.logger.Printf("crawled %s", pageURL)
	}

	base, _ := url.Parse(pageURL)
	var links []string
	for _, href := range hrefs {
		target, ok := resolve(base, href)
		if !ok {
			continue
		}
		switch {
		case IsDocument(target):
			c.addLink(pageURL, target.String(), LinkFile)
			if err := c.download(ctx, target.String()); err != nil {
				return nil, err
			}
		case c.opts.Scope.InScope(target):
			c.addLink(pageURL, target.String(), LinkPage)
			links = append(links, target.String())
		}
	}
	return links, nil
}

func (c *Crawler) fetchPage(ctx context.Context, pageURL string) (PageRecord, []string, error) {
	resp, err := c.get(ctx, pageURL)
	if err != nil {
		return PageRecord{}, nil, err
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mediaType, _, _ := mime.ParseMediaType(ct)
		if mediaType != "" && !strings.Contains(mediaType, "html") {
			return PageRecord{}, nil, &ParseError{URL: pageURL, Err: fmt.Errorf("unexpected content type %q", mediaType)}
		}
	}

	extracted, err := Extract(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return PageRecord{}, nil, &ParseError{URL: pageURL, Err: err}
	}
	return PageRecord{URL: pageURL, Title: extracted.Title, Content: extracted.Text}, extracted.Links, nil
}

// download saves a document once per run. Failures are recorded and do not
// stop the crawl.
func (c *Crawler) download(ctx context.Context, fileURL string) error {
	if !c.claim(c.downloaded, fileURL) {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	resp, err := c.get(ctx, fileURL)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.fail(fileURL, err)
		return nil
	}
	defer resp.Body.Close()

	rec, err := c.store.SaveFile(fileURL, resp.Body)
	if err != nil {
		c.fail(fileURL, err)
		return nil
	}
	c.mu.Lock()
	c.stats.Files = append(c.stats.Files, rec)
	c.mu.Unlock()
	if c.opts.Verbose {
		c.logger.Printf("downloaded %s", fileURL)
	}
	return nil
}

func (c *Crawler) get(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &FetchError{URL: target, Err: err}
	}
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: target, Err: err}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		resp.Body.Close()
		return nil, &FetchError{URL: target, StatusCode: resp.StatusCode, Err: errors.New(resp.Status)}
	}
	return resp, nil
}

func (c *Crawler) claim(set map[string]struct{}, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, seen := set[key]; seen {
		return false
	}
	set[key] = struct{}{}
	return true
}

func (c *Crawler) reservePage() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opts.MaxPages > 0 && c.reserved >= c.opts.MaxPages {
		return false
	}
	c.reserved++
	return true
}

func (c *Crawler) addLink(from, to string, kind LinkKind) {
	c.mu.Lock()
	c.stats.Links = append(c.stats.Links, Link{From: from, To: to, Kind: kind})
	c.mu.Unlock()
}

func (c *Crawler) fail(target string, err error) {
	c.mu.Lock()
	c.stats.Errors++
	c.stats.Failed = append(c.stats.Failed, target)
	c.mu.Unlock()
	c.logger.Printf("crawl error: %v", err)
}
