package loader

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/xhad/cyberrag/internal/models"
	"golang.org/x/time/rate"
)

type CrawlerConfig struct {
	BaseURL           string
	MaxDepth          int
	RateLimit         float64 // requests per second
	IgnorePatterns    []string
	AllowedExtensions []string
	Timeout           time.Duration
	HTTPClient        *http.Client
	OnProgress        func(url string)
	Logger            *slog.Logger
}

// Crawler walks a documentation site on a single host, breadth first.
type Crawler struct {
	config   CrawlerConfig
	client   *http.Client
	limiter  *rate.Limiter
	baseHost string
	log      *slog.Logger
}

type crawlTarget struct {
	url   string
	depth int
}

func NewCrawler(config CrawlerConfig) (*Crawler, error) {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxDepth == 0 {
		config.MaxDepth = 3
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2
	}
	if len(config.AllowedExtensions) == 0 {
		config.AllowedExtensions = []string{".html", ".htm", "/", ""}
	}

	parsedURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, models.NewError(models.KindInvalidInput, "new crawler", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, models.Errorf(models.KindInvalidInput, "new crawler", "base URL must be http or https: %q", config.BaseURL)
	}

	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Crawler{
		config:   config,
		client:   client,
		limiter:  rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		baseHost: parsedURL.Host,
		log:      logger.With("component", "crawler"),
	}, nil
}

func (c *Crawler) shouldProcessURL(urlStr string) bool {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return false
	}
	if parsedURL.Host != c.baseHost {
		return false
	}

	path := strings.ToLower(parsedURL.Path)
	validExt := false
	for _, allowedExt := range c.config.AllowedExtensions {
		if allowedExt == "" {
			// extensionless paths such as /docs/intro
			if !strings.Contains(path[strings.LastIndex(path, "/")+1:], ".") {
				validExt = true
				break
			}
			continue
		}
		if strings.HasSuffix(path, allowedExt) {
			validExt = true
			break
		}
	}
	if !validExt {
		return false
	}

	for _, pattern := range c.config.IgnorePatterns {
		if strings.Contains(urlStr, pattern) {
			return false
		}
	}
	return true
}

// Crawl fetches BaseURL and the same-host pages it links to, up to MaxDepth
// links away. Pages that fail are logged and skipped; only a failure on the
// start page is returned.
func (c *Crawler) Crawl(ctx context.Context) ([]models.Document, error) {
	start := normalizeURL(c.config.BaseURL)
	visited := map[string]bool{start: true}
	queue := []crawlTarget{{url: start}}

	var documents []models.Document
	for len(queue) > 0 {
		target := queue[0]
		queue = queue[1:]

		if !c.shouldProcessURL(target.url) {
			continue
		}
		if c.config.OnProgress != nil {
			c.config.OnProgress(target.url)
		}

		doc, links, err := c.fetch(ctx, target)
		if err != nil {
			if ctx.Err() != nil {
				return documents, ctx.Err()
			}
			if target.depth == 0 {
				return nil, err
			}
			c.log.Warn("Failed to fetch page", slog.String("url", target.url), slog.Any("error", err))
			continue
		}
		if doc.Content != "" {
			documents = append(documents, doc)
		}

		if target.depth >= c.config.MaxDepth {
			continue
		}
		for _, link := range links {
			if visited[link] {
				continue
			}
			visited[link] = true
			queue = append(queue, crawlTarget{url: link, depth: target.depth + 1})
		}
	}

	c.log.Info("Crawl finished", slog.String("base_url", c.config.BaseURL), slog.Int("documents", len(documents)))
	return documents, nil
}

// Load lets a Crawler feed the indexer like a directory Loader.
func (c *Crawler) Load(ctx context.Context) ([]models.Document, error) {
	return c.Crawl(ctx)
}

func (c *Crawler) fetch(ctx context.Context, target crawlTarget) (models.Document, []string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return models.Document{}, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.url, nil)
	if err != nil {
		return models.Document{}, nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return models.Document{}, nil, models.NewError(models.KindTransport, "crawl", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Document{}, nil, models.Errorf(models.KindTransport, "crawl",
			"received status code %d for URL: %s", resp.StatusCode, target.url)
	}

	page, title, content, err := parseHTML(resp.Body)
	if err != nil {
		return models.Document{}, nil, fmt.Errorf("failed to parse page: %w", err)
	}

	doc := newDocument(target.url, title, content, map[string]any{
		"depth":         target.depth,
		"content_type":  resp.Header.Get("Content-Type"),
		"last_modified": resp.Header.Get("Last-Modified"),
	})
	return doc, c.links(target.url, page), nil
}

// links resolves every anchor on page against pageURL.
func (c *Crawler) links(pageURL string, page *goquery.Document) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	var out []string
	page.Find("a[href]").Each(func(_ int, selection *goquery.Selection) {
		href, _ := selection.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			c.log.Debug("Skipping malformed link", slog.String("href", href))
			return
		}
		out = append(out, normalizeURL(base.ResolveReference(ref).String()))
	})
	return out
}

// normalizeURL drops the fragment so anchors on one page are fetched once.
func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	return u.String()
}
