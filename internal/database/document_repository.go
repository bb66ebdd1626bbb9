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

const documentSelectColumns = `id, source_id, job_id, url, normalized_url, url_hash, found_on, discovered_at`

// DocumentRepository stores discovered documents keyed by normalized URL.
type DocumentRepository struct {
	db *sqlx.DB
}

// NewDocumentRepository creates a new document repository.
func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// ExistsByURL reports whether a document with the normalized URL is stored.
func (r *DocumentRepository) ExistsByURL(ctx context.Context, normalizedURL string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM documents WHERE normalized_url = $1)`

	if err := r.db.GetContext(ctx, &exists, query, normalizedURL); err != nil {
		return false, fmt.Errorf("failed to check document: %w", err)
	}
	return exists, nil
}

// Save inserts doc. A concurrent insert of the same normalized URL yields
// domain.ErrDuplicateURL.
func (r *DocumentRepository) Save(ctx context.Context, doc *domain.Document) (string, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.DiscoveredAt.IsZero() {
		doc.DiscoveredAt = time.Now()
	}

	query := `
		INSERT INTO documents (id, source_id, job_id, url, normalized_url, url_hash, found_on, discovered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (normalized_url) DO NOTHING
		RETURNING id
	`

	var id string
	err := r.db.QueryRowContext(
		ctx, query,
		doc.ID, doc.SourceID, doc.JobID, doc.URL, doc.NormalizedURL, doc.URLHash, doc.FoundOn, dbTime(doc.DiscoveredAt),
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", domain.ErrDuplicateURL, doc.NormalizedURL)
		}
		return "", fmt.Errorf("failed to save document: %w", err)
	}
	return id, nil
}

// ListByJob returns the documents a job discovered, oldest first.
func (r *DocumentRepository) ListByJob(ctx context.Context, jobID string, limit int) ([]*domain.Document, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `SELECT ` + documentSelectColumns + ` FROM documents WHERE job_id = $1 ORDER BY discovered_at, id LIMIT $2`

	docs := []*domain.Document{}
	if err := r.db.SelectContext(ctx, &docs, query, jobID, limit); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}
