package bootstrap

import (
	"fmt"

	"github.com/jonesrussell/north-cloud/harvester/internal/config"
	"github.com/jonesrussell/north-cloud/harvester/internal/crawler"
	"github.com/jonesrussell/north-cloud/harvester/internal/fetcher"
	"github.com/jonesrussell/north-cloud/harvester/internal/logger"
	"github.com/jonesrussell/north-cloud/harvester/internal/ratelimit"
)

// CrawlerDeps holds the stores and observers a crawler writes to.
type CrawlerDeps struct {
	Documents crawler.DocumentStore
	Sources   crawler.SourceStore
	Sink      crawler.DocumentSink
	Recorder  crawler.Recorder
}

// SetupCrawler builds the SSRF-safe fetcher, its transports, the robots gate,
// the per-domain limiter, and the domain registry, and returns a crawler over them.
func SetupCrawler(cfg *config.Config, log logger.Logger, deps CrawlerDeps) (*crawler.Crawler, error) {
	denylist, err := fetcher.NewDenylist(cfg.Fetcher.DenyCIDRs, cfg.Fetcher.AllowCIDRs)
	if err != nil {
		return nil, fmt.Errorf("invalid fetcher CIDRs: %w", err)
	}

	safe := fetcher.NewSafeFetcher(fetcher.Config{
		UserAgent:    cfg.Crawl.UserAgent,
		MaxBodyBytes: cfg.Crawl.MaxBodyBytes,
		Denylist:     denylist,
	})

	registry, err := crawler.LoadRegistry(cfg.Crawl.RegistryPath)
	if err != nil {
		return nil, err
	}

	c, err := crawler.New(crawler.Params{
		Logger:  log,
		Limiter: ratelimit.New(cfg.Crawl.Delay),
		Transports: map[string]crawler.PageFetcher{
			fetcher.TransportHTTP:  safe,
			fetcher.TransportColly: fetcher.NewCollyTransport(safe),
		},
		Robots:    fetcher.NewRobotsChecker(safe, cfg.Crawl.UserAgent, 0),
		Documents: deps.Documents,
		Sources:   deps.Sources,
		Sink:      deps.Sink,
		Recorder:  deps.Recorder,
		Registry:  registry,
		Defaults: crawler.Defaults{
			MaxPages:      cfg.Crawl.MaxPages,
			Delay:         cfg.Crawl.Delay,
			Timeout:       cfg.Crawl.Timeout,
			UserAgent:     cfg.Crawl.UserAgent,
			Transport:     cfg.Crawl.Transport,
			RespectRobots: cfg.Crawl.RespectRobots,
			MemoryTTL:     cfg.Crawl.MemoryTTL,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create crawler: %w", err)
	}
	return c, nil
}
