package bootstrap

import (
	"context"
	"fmt"

	"github.com/jonesrussell/north-cloud/harvester/internal/config"
	"github.com/jonesrussell/north-cloud/harvester/internal/crawler"
	"github.com/jonesrussell/north-cloud/harvester/internal/logger"
	"github.com/jonesrussell/north-cloud/harvester/internal/sink"
)

// SetupSink returns the document sink for cfg. It is nil when no sink is enabled.
func SetupSink(ctx context.Context, cfg config.ElasticsearchConfig, log logger.Logger) (crawler.DocumentSink, error) {
	if !cfg.Enabled {
		log.Info("Elasticsearch sink disabled")
		return nil, nil //nolint:nilnil // no sink configured
	}

	client, err := sink.NewElasticsearchClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	es := sink.NewElasticsearch(client, cfg.Index, log)
	if indexErr := es.EnsureIndex(ctx); indexErr != nil {
		return nil, fmt.Errorf("failed to prepare index: %w", indexErr)
	}

	log.Info("Elasticsearch sink enabled",
		logger.Strings("addresses", cfg.Addresses),
		logger.String("index", cfg.Index),
	)
	return sink.Fanout{es}, nil
}
