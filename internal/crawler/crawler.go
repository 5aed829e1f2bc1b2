package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/basonpark/ether-guru/internal/config"
	"github.com/basonpark/ether-guru/pkg/logger"
	"github.com/basonpark/ether-guru/pkg/types"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidStartURL is returned by New for a missing or non-HTTP start URL
var ErrInvalidStartURL = errors.New("start url must be an absolute http(s) url")

// Crawler walks a documentation site breadth-first from a start URL
type Crawler struct {
	cfg     config.CrawlConfig
	start   *url.URL
	include []*regexp.Regexp
	exclude []*regexp.Regexp
	fetcher *fetcher
	log     logger.Logger
}

// Stats summarizes a crawl
type Stats struct {
	PagesFetched int // Pages delivered downstream
	PagesFailed  int // Fetch or decode errors
	PagesSkipped int // Fetched but empty
	LinksQueued  int // Links accepted for a later level
	Duration     time.Duration
}

// result is the outcome of fetching one URL
type result struct {
	page  *types.Page
	links []string
}

// New validates cfg and builds a crawler
func New(cfg config.CrawlConfig, log logger.Logger) (*Crawler, error) {
	start, err := url.Parse(cfg.StartURL)
	if err != nil || (start.Scheme != "http" && start.Scheme != "https") || start.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStartURL, cfg.StartURL)
	}
	start.Fragment = ""

	include, err := compilePatterns(cfg.Include)
	if err != nil {
		return nil, err
	}
	exclude, err := compilePatterns(cfg.Exclude)
	if err != nil {
		return nil, err
	}

	defaults := config.Default().Crawl
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxPageBytes <= 0 {
		cfg.MaxPageBytes = defaults.MaxPageBytes
	}
	if log == nil {
		log = logger.GetDefault()
	}

	return &Crawler{
		cfg:     cfg,
		start:   start,
		include: include,
		exclude: exclude,
		fetcher: newFetcher(&cfg),
		log:     log,
	}, nil
}

// compilePatterns anchors each pattern at the start of the URL
func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("^(?:" + p + ")")
		if err != nil {
			return nil, fmt.Errorf("invalid url pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// Allowed reports whether a discovered link should be followed
func (c *Crawler) Allowed(link string) bool {
	if !strings.HasPrefix(link, c.start.String()) {
		return false
	}
	for _, re := range c.exclude {
		if re.MatchString(link) {
			return false
		}
	}
	if len(c.include) == 0 {
		return true
	}
	for _, re := range c.include {
		if re.MatchString(link) {
			return true
		}
	}
	return false
}

// Crawl fetches pages level by level up to MaxDepth link hops from the start
// URL and sends each non-empty page to out. Fetch failures are logged and
// skipped. Crawl closes out before returning.
func (c *Crawler) Crawl(ctx context.Context, out chan<- types.Page) (*Stats, error) {
	defer close(out)

	startTime := time.Now()
	stats := &Stats{}
	visited := map[string]bool{c.start.String(): true}
	level := []string{c.start.String()}

	c.log.Info("Starting crawl",
		"start_url", c.start.String(),
		"max_depth", c.cfg.MaxDepth,
		"concurrency", c.cfg.Concurrency)

	for depth := 0; len(level) > 0; depth++ {
		results, err := c.crawlLevel(ctx, level, out, stats)
		if err != nil {
			stats.Duration = time.Since(startTime)
			return stats, err
		}
		if depth >= c.cfg.MaxDepth {
			break
		}

		var next []string
		for _, r := range results {
			for _, link := range r.links {
				if visited[link] || !c.Allowed(link) {
					continue
				}
				visited[link] = true
				next = append(next, link)
			}
		}
		stats.LinksQueued += len(next)
		c.log.Debug("Crawl level complete", "depth", depth, "pages", len(level), "next", len(next))
		level = next
	}

	stats.Duration = time.Since(startTime)
	c.log.Info("Crawl finished",
		"pages", stats.PagesFetched,
		"failed", stats.PagesFailed,
		"skipped", stats.PagesSkipped,
		"duration", stats.Duration)
	return stats, nil
}

// crawlLevel fetches urls with bounded concurrency. Results keep the order
// of urls so the next level is deterministic.
func (c *Crawler) crawlLevel(ctx context.Context, urls []string, out chan<- types.Page, stats *Stats) ([]result, error) {
	results := make([]result, len(urls))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)

	for i, u := range urls {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			r, err := c.fetchPage(gctx, u)
			mu.Lock()
			switch {
			case err != nil:
				stats.PagesFailed++
			case r.page == nil:
				stats.PagesSkipped++
			default:
				stats.PagesFetched++
			}
			mu.Unlock()

			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				c.log.Warn("Failed to crawl page", "url", u, "error", err)
				return nil
			}
			results[i] = r

			if r.page != nil {
				select {
				case out <- *r.page:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return c.pause(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Crawler) fetchPage(ctx context.Context, rawURL string) (result, error) {
	doc, err := c.fetcher.fetch(ctx, rawURL)
	if err != nil {
		return result{}, err
	}

	page, links, err := toPage(doc)
	if err != nil {
		return result{}, err
	}
	if page.IsEmpty() {
		c.log.Warn("No content extracted", "url", doc.URL)
		return result{links: links}, nil
	}

	c.log.Debug("Crawled page", "url", page.SourceIdentifier, "chars", len(page.Text), "links", len(links))
	return result{page: &page, links: links}, nil
}

func (c *Crawler) pause(ctx context.Context) error {
	if c.cfg.Delay <= 0 {
		return nil
	}
	timer := time.NewTimer(c.cfg.Delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// toPage normalizes a fetched document into a page. Markdown and plain text
// are used as-is; HTML is converted to Markdown-like text.
func toPage(doc *document) (types.Page, []string, error) {
	source := stripFragment(doc.URL)

	if doc.ContentType != "text/html" && doc.ContentType != "application/xhtml+xml" {
		return types.Page{SourceIdentifier: source, Text: strings.TrimSpace(doc.Text)}, nil, nil
	}

	base, err := url.Parse(doc.URL)
	if err != nil {
		return types.Page{}, nil, fmt.Errorf("parse page url: %w", err)
	}
	text, links, err := parseHTML(doc.Text, base)
	if err != nil {
		return types.Page{}, nil, fmt.Errorf("parse html %s: %w", doc.URL, err)
	}
	return types.Page{SourceIdentifier: source, Text: text}, links, nil
}

func stripFragment(rawURL string) string {
	if i := strings.IndexByte(rawURL, '#'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
