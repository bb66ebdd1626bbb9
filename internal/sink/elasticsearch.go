package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/jonesrussell/north-cloud/harvester/internal/config"
	"github.com/jonesrussell/north-cloud/harvester/internal/domain"
	"github.com/jonesrussell/north-cloud/harvester/internal/logger"
)

const (
	// DefaultIndex receives documents when no index is configured.
	DefaultIndex = "harvester_documents"

	defaultIndexTimeout = 10 * time.Second
)

// indexMapping keeps URLs and IDs as exact-match keywords.
var indexMapping = map[string]any{
	"mappings": map[string]any{
		"properties": map[string]any{
			"source_id":      map[string]any{"type": "keyword"},
			"job_id":         map[string]any{"type": "keyword"},
			"url":            map[string]any{"type": "keyword"},
			"normalized_url": map[string]any{"type": "keyword"},
			"url_hash":       map[string]any{"type": "keyword"},
			"found_on":       map[string]any{"type": "keyword"},
			"discovered_at":  map[string]any{"type": "date"},
		},
	},
}

// Elasticsearch indexes each new document under its URL hash.
type Elasticsearch struct {
	client  *es.Client
	index   string
	timeout time.Duration
	logger  logger.Logger
}

// NewElasticsearchClient creates a client for cfg and verifies the cluster answers.
func NewElasticsearchClient(ctx context.Context, cfg config.ElasticsearchConfig) (*es.Client, error) {
	client, err := es.NewClient(es.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	res, err := client.Ping(client.Ping.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to ping Elasticsearch: %w", err)
	}
	defer drain(res)

	if res.IsError() {
		return nil, fmt.Errorf("error pinging Elasticsearch: %s", res.String())
	}
	return client, nil
}

// NewElasticsearch returns a sink writing to index on client.
func NewElasticsearch(client *es.Client, index string, log logger.Logger) *Elasticsearch {
	if index == "" {
		index = DefaultIndex
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Elasticsearch{
		client:  client,
		index:   index,
		timeout: defaultIndexTimeout,
		logger:  log.With(logger.String("index", index)),
	}
}

// EnsureIndex creates the index with its mapping when it does not exist.
func (s *Elasticsearch) EnsureIndex(ctx context.Context) error {
	res, err := s.client.Indices.Exists([]string{s.index}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to check index existence: %w", err)
	}
	drain(res)
	if res.StatusCode == http.StatusOK {
		return nil
	}

	var buf bytes.Buffer
	if encodeErr := json.NewEncoder(&buf).Encode(indexMapping); encodeErr != nil {
		return fmt.Errorf("error encoding mapping: %w", encodeErr)
	}
	res, err = s.client.Indices.Create(
		s.index,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(&buf),
	)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer drain(res)

	if res.IsError() {
		return fmt.Errorf("error creating index: %s", res.String())
	}
	s.logger.Info("Created index")
	return nil
}

// Index writes doc. Its URL hash is the document ID, so rewrites are idempotent.
func (s *Elasticsearch) Index(ctx context.Context, doc *domain.Document) error {
	if doc == nil {
		return errors.New("document is nil")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document for indexing: %w", err)
	}

	res, err := s.client.Index(
		s.index,
		bytes.NewReader(body),
		s.client.Index.WithContext(ctx),
		s.client.Index.WithDocumentID(doc.URLHash),
	)
	if err != nil {
		return fmt.Errorf("failed to index document: %w", err)
	}
	defer drain(res)

	if res.IsError() {
		return fmt.Errorf("elasticsearch error: %s", res.String())
	}
	return nil
}

// OnDocument indexes doc. Failures are logged; the crawl carries on.
func (s *Elasticsearch) OnDocument(ctx context.Context, doc *domain.Document) {
	if doc == nil {
		return
	}
	if err := s.Index(ctx, doc); err != nil {
		s.logger.Error("Failed to index document",
			logger.String("url", doc.URL),
			logger.String("source_id", doc.SourceID),
			logger.Error(err),
		)
	}
}

func drain(res *esapi.Response) {
	if res == nil || res.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()
}
