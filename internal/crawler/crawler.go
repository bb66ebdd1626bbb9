// Package crawler drives one source's page-by-page crawl: it resolves the
// effective configuration, fetches each page through the rate limiter and
// the SSRF-safe transport, extracts and deduplicates links, and lets a
// pagination strategy pick the next page.
package crawler

//go:generate mockgen -destination=mocks/mock_fetcher.go -package=mocks github.com/jonesrussell/north-cloud/harvester/internal/crawler PageFetcher

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/north-cloud/harvester/internal/domain"
	"github.com/jonesrussell/north-cloud/harvester/internal/extract"
	"github.com/jonesrussell/north-cloud/harvester/internal/fetcher"
	"github.com/jonesrussell/north-cloud/harvester/internal/logger"
	"github.com/jonesrussell/north-cloud/harvester/internal/pagination"
	"github.com/jonesrussell/north-cloud/harvester/internal/ratelimit"
)

// maxErrorDetails caps Result.ErrorDetails.
const maxErrorDetails = 20

// PageFetcher is one fetch transport variant.
type PageFetcher interface {
	Fetch(ctx context.Context, req fetcher.Request) (*fetcher.Result, error)
}

// RobotsGate decides whether a URL may be fetched.
type RobotsGate interface {
	IsAllowed(ctx context.Context, rawURL string) (bool, error)
	CrawlDelay(host string) time.Duration
}

// DocumentStore is the document persistence collaborator.
type DocumentStore interface {
	ExistsByURL(ctx context.Context, normalizedURL string) (bool, error)
	// Save persists doc and returns its ID, or domain.ErrDuplicateURL when
	// another writer saved the same normalized URL first.
	Save(ctx context.Context, doc *domain.Document) (string, error)
}

// SourceStore is the subset of source configuration storage a crawl writes.
type SourceStore interface {
	UpdatePaginationMemory(ctx context.Context, sourceID string, memory domain.JSONBMap) error
	UpdateCrawlStats(ctx context.Context, sourceID string, stats domain.CrawlStats) error
}

// DocumentSink is called once per newly saved document.
type DocumentSink interface {
	OnDocument(ctx context.Context, doc *domain.Document)
}

// Recorder receives crawl observations.
type Recorder interface {
	PageFetched(transport string, elapsed time.Duration)
	FetchError(kind string)
	RateLimitWait(waited time.Duration)
}

// CancelCheck reports whether the crawl's job was cancelled.
type CancelCheck func(ctx context.Context) (bool, error)

// Params holds the collaborators of a Crawler.
type Params struct {
	Logger  logger.Logger
	Limiter *ratelimit.Limiter
	// Transports by name; the "http" entry is the fallback for unknown names.
	Transports map[string]PageFetcher
	Robots     RobotsGate
	Documents  DocumentStore
	Sources    SourceStore
	Sink       DocumentSink
	Recorder   Recorder
	Registry   *Registry
	Defaults   Defaults
	// Now defaults to time.Now.
	Now func() time.Time
}

// Crawler runs single-source crawls. It is safe for concurrent use.
type Crawler struct {
	logger     logger.Logger
	limiter    *ratelimit.Limiter
	transports map[string]PageFetcher
	robots     RobotsGate
	documents  DocumentStore
	sources    SourceStore
	sink       DocumentSink
	recorder   Recorder
	registry   *Registry
	defaults   Defaults
	now        func() time.Time
}

// New creates a Crawler.
func New(p Params) (*Crawler, error) {
	if p.Documents == nil {
		return nil, errors.New("crawler: document store is required")
	}
	if p.Sources == nil {
		return nil, errors.New("crawler: source store is required")
	}
	if _, ok := p.Transports[fetcher.TransportHTTP]; !ok {
		return nil, errors.New("crawler: an http transport is required")
	}

	c := &Crawler{
		logger:     p.Logger,
		limiter:    p.Limiter,
		transports: p.Transports,
		robots:     p.Robots,
		documents:  p.Documents,
		sources:    p.Sources,
		sink:       p.Sink,
		recorder:   p.Recorder,
		registry:   p.Registry,
		defaults:   p.Defaults.withFallbacks(),
		now:        p.Now,
	}
	if c.logger == nil {
		c.logger = logger.NewNop()
	}
	if c.limiter == nil {
		c.limiter = ratelimit.New(c.defaults.Delay)
	}
	if c.sink == nil {
		c.sink = nopSink{}
	}
	if c.recorder == nil {
		c.recorder = nopRecorder{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// Request is one crawl of one source.
type Request struct {
	JobID     string
	Source    *domain.Source
	Overrides map[string]any
	// Cancelled is checked before every page. Nil never cancels.
	Cancelled CancelCheck
}

// Result summarizes a crawl. It is returned even when the crawl failed.
type Result struct {
	PagesFetched int
	TotalFound   int
	NewDocuments int
	Duplicates   int
	Errors       int
	ErrorDetails []string
	// Cancelled is set when the job was cancelled between pages.
	Cancelled bool
	// Strategy is the pagination strategy that actually paginated.
	Strategy string
	// MemoryWritten is set when pagination memory was persisted.
	MemoryWritten bool
}

// Counters returns the result's counters.
func (r *Result) Counters() domain.Counters {
	return domain.Counters{
		PagesFetched: r.PagesFetched,
		TotalFound:   r.TotalFound,
		NewDocuments: r.NewDocuments,
		Duplicates:   r.Duplicates,
		Errors:       r.Errors,
	}
}

func (r *Result) recordError(pageURL string, err error) {
	r.Errors++
	if len(r.ErrorDetails) < maxErrorDetails {
		r.ErrorDetails = append(r.ErrorDetails, fmt.Sprintf("%s: %s: %v", domain.ErrorKind(err), pageURL, err))
	}
}

// crawlRun is the state of one Crawl call.
type crawlRun struct {
	req       Request
	cfg       Config
	log       logger.Logger
	strategy  pagination.Strategy
	cursor    *pagination.Cursor
	transport string
	fetch     PageFetcher
	extractor *extract.LinkExtractor
	result    *Result
}

// Crawl runs one source to completion, its page limit, or cancellation. The
// returned error is fatal to the source: the first page could not be
// fetched, or the document store failed. Later-page failures end pagination
// early and are only recorded in the Result. When ctx ends mid-crawl the
// error wraps domain.ErrCancelled and neither memory nor stats are written.
func (c *Crawler) Crawl(ctx context.Context, req Request) (*Result, error) {
	if req.Source == nil {
		return &Result{}, fmt.Errorf("%w: nil source", domain.ErrInvalidURL)
	}
	source := req.Source
	log := c.logger.With(
		logger.String("job_id", req.JobID),
		logger.String("source_id", source.ID),
		logger.String("domain", source.Domain()),
	)

	resolution, err := Resolve(c.defaults, c.registry, source, req.Overrides, c.now())
	if err != nil {
		return &Result{}, fmt.Errorf("resolve crawl config: %w", err)
	}
	if resolution.MemoryIgnored {
		log.Info("Ignoring stale pagination memory")
	}
	cfg := resolution.Config

	strategy, known := pagination.New(cfg.Strategy, cfg.Options)
	if !known {
		log.Warn("Unknown pagination strategy, using next_link", logger.String("strategy", cfg.Strategy))
	}
	transportName, fetch := c.transport(cfg.Transport)

	run := &crawlRun{
		req:       req,
		cfg:       cfg,
		log:       log,
		strategy:  strategy,
		cursor:    strategy.InitialCursor(),
		transport: transportName,
		fetch:     fetch,
		extractor: extract.NewLinkExtractor(extract.Options{
			LinkSelector:    cfg.LinkSelector,
			Filter:          cfg.LinkFilter,
			ArticlePatterns: cfg.ArticlePatterns,
			AllowExternal:   cfg.AllowExternal,
		}),
		result: &Result{Strategy: strategy.Name()},
	}

	log.Info("Starting crawl",
		logger.String("url", source.URL),
		logger.String("strategy", strategy.Name()),
		logger.String("transport", transportName),
		logger.Int("max_pages", cfg.MaxPages),
		logger.Strings("layers", resolution.Layers),
	)

	fatal := c.loop(ctx, run)
	res := run.result
	res.Strategy = pagination.EffectiveName(strategy, run.cursor)

	if fatal != nil && errors.Is(fatal, domain.ErrCancelled) && ctx.Err() != nil {
		log.Info("Crawl interrupted, leaving source state unchanged",
			logger.Int("pages_fetched", res.PagesFetched),
			logger.Error(fatal),
		)
		return res, fatal
	}

	if shouldRemember(res, fatal) {
		if memErr := c.writeMemory(ctx, run); memErr != nil {
			log.Warn("Failed to persist pagination memory", logger.Error(memErr))
		} else {
			res.MemoryWritten = true
		}
	}

	stats := domain.CrawlStats{NewDocuments: res.NewDocuments, Success: fatal == nil, CrawledAt: c.now()}
	if statsErr := c.sources.UpdateCrawlStats(ctx, source.ID, stats); statsErr != nil {
		log.Warn("Failed to update source statistics", logger.Error(statsErr))
	}

	log.Info("Crawl finished",
		logger.Int("pages_fetched", res.PagesFetched),
		logger.Int("total_found", res.TotalFound),
		logger.Int("new_documents", res.NewDocuments),
		logger.Int("duplicates", res.Duplicates),
		logger.Int("errors", res.Errors),
		logger.Bool("cancelled", res.Cancelled),
		logger.String("effective_strategy", res.Strategy),
	)
	return res, fatal
}

// loop fetches pages until a stop condition and returns the fatal error, if any.
func (c *Crawler) loop(ctx context.Context, run *crawlRun) error {
	res := run.result
	current := run.req.Source.URL

	for res.PagesFetched < run.cfg.MaxPages && current != "" {
		if c.cancelled(ctx, run) {
			res.Cancelled = true
			run.log.Info("Job cancelled, stopping crawl", logger.Int("pages_fetched", res.PagesFetched))
			return nil
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrCancelled, err)
		}

		run.cursor.Visit(current)
		page, finalURL, err := c.fetchPage(ctx, run, current)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("%w: %w", domain.ErrCancelled, ctxErr)
			}
			res.recordError(current, err)
			c.recorder.FetchError(domain.ErrorKind(err))
			if res.PagesFetched == 0 {
				run.log.Warn("First page failed", logger.String("url", current), logger.Error(err))
				return err
			}
			run.log.Warn("Page failed, stopping pagination", logger.String("url", current), logger.Error(err))
			return nil
		}
		run.cursor.Visit(finalURL)

		stop, err := c.collect(ctx, run, page)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("%w: %w", domain.ErrCancelled, ctxErr)
			}
			res.recordError(current, err)
			return err
		}
		res.PagesFetched++

		if stop {
			run.log.Info("Reached max articles", logger.Int("max_articles", run.cfg.MaxArticles))
			return nil
		}

		next, err := run.strategy.Next(pagination.Page{
			URL:       current,
			FinalURL:  finalURL,
			Doc:       page.Doc,
			LinkCount: len(page.Links),
		}, run.cursor)
		if err != nil {
			if errors.Is(err, domain.ErrPaginationCycle) {
				run.log.Info("Pagination cycle detected, stopping", logger.Error(err))
				return nil
			}
			res.recordError(current, err)
			return nil
		}
		current = next
	}
	return nil
}

func (c *Crawler) cancelled(ctx context.Context, run *crawlRun) bool {
	if run.req.Cancelled == nil {
		return false
	}
	cancelled, err := run.req.Cancelled(ctx)
	if err != nil {
		run.log.Warn("Cancellation check failed", logger.Error(err))
		return false
	}
	return cancelled
}

// fetchPage fetches and parses one page. It returns the parsed page and the
// URL after redirects.
func (c *Crawler) fetchPage(ctx context.Context, run *crawlRun, pageURL string) (*extract.Page, string, error) {
	host := domain.DomainOf(pageURL)

	if run.cfg.RespectRobots && c.robots != nil {
		allowed, err := c.robots.IsAllowed(ctx, pageURL)
		if err != nil {
			return nil, "", err
		}
		if !allowed {
			return nil, "", fmt.Errorf("%w: %s", domain.ErrRobotsDisallowed, pageURL)
		}
	}

	interval := run.cfg.Delay
	if run.cfg.RespectRobots && c.robots != nil {
		if robotsDelay := c.robots.CrawlDelay(host); robotsDelay > interval {
			interval = robotsDelay
		}
	}
	c.limiter.SetInterval(host, interval)
	waited, err := c.limiter.Acquire(ctx, host)
	if err != nil {
		return nil, "", fmt.Errorf("%w: rate limiter: %w", domain.ErrCancelled, err)
	}
	c.recorder.RateLimitWait(waited)

	fetched, err := run.fetch.Fetch(ctx, fetcher.Request{
		URL:       pageURL,
		Timeout:   run.cfg.Timeout,
		UserAgent: run.cfg.UserAgent,
	})
	if err != nil {
		return nil, "", err
	}
	c.recorder.PageFetched(run.transport, fetched.Elapsed)

	finalURL := fetched.FinalURL
	if finalURL == "" {
		finalURL = pageURL
	}
	if fetched.StatusCode < 200 || fetched.StatusCode > 299 {
		return nil, finalURL, fmt.Errorf("%w: %d from %s", domain.ErrHTTPStatus, fetched.StatusCode, finalURL)
	}
	if !isHTML(fetched.Header.Get("Content-Type")) {
		return nil, finalURL, fmt.Errorf("%w: content type %q is not html", domain.ErrParse, fetched.Header.Get("Content-Type"))
	}

	page, err := run.extractor.Extract(finalURL, fetched.Body)
	if err != nil {
		return nil, finalURL, err
	}
	run.log.Debug("Fetched page",
		logger.String("url", finalURL),
		logger.Int("status", fetched.StatusCode),
		logger.Int("links", len(page.Links)),
		logger.Bool("is_article", page.IsArticle),
		logger.Duration("elapsed", fetched.Elapsed),
	)
	return page, finalURL, nil
}

// collect deduplicates and persists the page's links. It reports whether
// the max articles limit was reached.
func (c *Crawler) collect(ctx context.Context, run *crawlRun, page *extract.Page) (bool, error) {
	res := run.result
	for _, link := range page.Links {
		normalized, err := extract.NormalizeURL(link)
		if err != nil {
			continue
		}
		res.TotalFound++

		exists, err := c.documents.ExistsByURL(ctx, normalized)
		if err != nil {
			return false, fmt.Errorf("check document %s: %w", normalized, err)
		}
		if exists {
			res.Duplicates++
			continue
		}

		doc := &domain.Document{
			ID:            uuid.NewString(),
			SourceID:      run.req.Source.ID,
			JobID:         run.req.JobID,
			URL:           link,
			NormalizedURL: normalized,
			URLHash:       extract.HashNormalized(normalized),
			FoundOn:       page.URL,
			DiscoveredAt:  c.now().UTC(),
		}
		id, err := c.documents.Save(ctx, doc)
		if errors.Is(err, domain.ErrDuplicateURL) {
			res.Duplicates++
			continue
		}
		if err != nil {
			return false, fmt.Errorf("save document %s: %w", normalized, err)
		}
		if id != "" {
			doc.ID = id
		}
		res.NewDocuments++
		c.sink.OnDocument(ctx, doc)

		if run.cfg.MaxArticles > 0 && res.NewDocuments >= run.cfg.MaxArticles {
			return true, nil
		}
	}
	return false, nil
}

// shouldRemember reports whether the crawl demonstrated that its pagination
// works: more than one page, links found, no fatal error, not cancelled.
func shouldRemember(res *Result, fatal error) bool {
	return fatal == nil && !res.Cancelled && res.PagesFetched > 1 && res.TotalFound > 0
}

func (c *Crawler) writeMemory(ctx context.Context, run *crawlRun) error {
	cfg, err := memoryConfig(run.cfg.Options.WithDefaults())
	if err != nil {
		return err
	}
	memory := domain.PaginationMemory{
		Strategy:  run.result.Strategy,
		Config:    cfg,
		UpdatedAt: c.now().UTC(),
	}
	if err := c.sources.UpdatePaginationMemory(ctx, run.req.Source.ID, memory.ToJSONB()); err != nil {
		return err
	}
	run.log.Info("Persisted pagination memory", logger.String("strategy", memory.Strategy))
	return nil
}

func (c *Crawler) transport(name string) (string, PageFetcher) {
	key := strings.ToLower(strings.TrimSpace(name))
	if t, ok := c.transports[key]; ok {
		return key, t
	}
	return fetcher.TransportHTTP, c.transports[fetcher.TransportHTTP]
}

// isHTML accepts a missing content type.
func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

type nopSink struct{}

func (nopSink) OnDocument(context.Context, *domain.Document) {}

type nopRecorder struct{}

func (nopRecorder) PageFetched(string, time.Duration) {}
func (nopRecorder) FetchError(string)                 {}
func (nopRecorder) RateLimitWait(time.Duration)       {}
