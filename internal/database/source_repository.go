package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/north-cloud/harvester/internal/domain"
)

const sourceSelectColumns = `id, name, url, enabled, crawler_config, pagination_memory,
	total_documents, last_crawled_at, last_success_at, consecutive_errors,
	created_at, updated_at`

// SourceRepository handles database operations for crawl sources.
type SourceRepository struct {
	db *sqlx.DB
}

// NewSourceRepository creates a new source repository.
func NewSourceRepository(db *sqlx.DB) *SourceRepository {
	return &SourceRepository{db: db}
}

// Upsert creates the source or replaces its name, URL, enabled flag, and
// crawler config. Pagination memory and crawl statistics are kept.
func (r *SourceRepository) Upsert(ctx context.Context, src *domain.Source) error {
	if src.ID == "" {
		src.ID = uuid.NewString()
	}

	query := `
		INSERT INTO sources (id, name, url, enabled, crawler_config)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			url = EXCLUDED.url,
			enabled = EXCLUDED.enabled,
			crawler_config = EXCLUDED.crawler_config,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowContext(ctx, query, src.ID, src.Name, src.URL, src.Enabled, src.CrawlerConfig).
		Scan(&src.CreatedAt, &src.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert source: %w", err)
	}
	return nil
}

// GetSource retrieves a source by ID.
func (r *SourceRepository) GetSource(ctx context.Context, sourceID string) (*domain.Source, error) {
	var src domain.Source
	query := `SELECT ` + sourceSelectColumns + ` FROM sources WHERE id = $1`

	if err := r.db.GetContext(ctx, &src, query, sourceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrSourceNotFound, sourceID)
		}
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return &src, nil
}

// ListSources returns sources ordered by name, optionally only enabled ones.
func (r *SourceRepository) ListSources(ctx context.Context, enabledOnly bool) ([]*domain.Source, error) {
	query := `SELECT ` + sourceSelectColumns + ` FROM sources`
	if enabledOnly {
		query += ` WHERE enabled`
	}
	query += ` ORDER BY name, id`

	sources := []*domain.Source{}
	if err := r.db.SelectContext(ctx, &sources, query); err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	return sources, nil
}

// UpdatePaginationMemory replaces the source's pagination memory.
func (r *SourceRepository) UpdatePaginationMemory(ctx context.Context, sourceID string, memory domain.JSONBMap) error {
	query := `UPDATE sources SET pagination_memory = $2, updated_at = NOW() WHERE id = $1`

	result, execErr := r.db.ExecContext(ctx, query, sourceID, memory)
	return execRequireRows(result, execErr, fmt.Errorf("%w: %s", domain.ErrSourceNotFound, sourceID))
}

// UpdateCrawlStats applies one crawl's statistics to the source.
func (r *SourceRepository) UpdateCrawlStats(ctx context.Context, sourceID string, stats domain.CrawlStats) error {
	query := `
		UPDATE sources
		SET total_documents = total_documents + $2,
			last_crawled_at = $3,
			last_success_at = CASE WHEN $4 THEN $3 ELSE last_success_at END,
			consecutive_errors = CASE WHEN $4 THEN 0 ELSE consecutive_errors + 1 END,
			updated_at = $3
		WHERE id = $1
	`

	crawledAt := stats.CrawledAt
	if crawledAt.IsZero() {
		crawledAt = time.Now()
	}
	result, execErr := r.db.ExecContext(ctx, query, sourceID, stats.NewDocuments, dbTime(crawledAt), stats.Success)
	return execRequireRows(result, execErr, fmt.Errorf("%w: %s", domain.ErrSourceNotFound, sourceID))
}
