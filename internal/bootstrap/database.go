package bootstrap

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/north-cloud/harvester/internal/config"
	"github.com/jonesrussell/north-cloud/harvester/internal/database"
)

// DatabaseComponents holds database connection and all repositories.
type DatabaseComponents struct {
	DB           *sqlx.DB
	JobRepo      *database.JobRepository
	SourceRepo   *database.SourceRepository
	DocumentRepo *database.DocumentRepository
}

// SetupDatabase connects to PostgreSQL, applies migrations, and creates all repositories.
func SetupDatabase(ctx context.Context, cfg config.DatabaseConfig) (*DatabaseComponents, error) {
	db, err := database.NewPostgresConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if migrateErr := database.Migrate(ctx, db); migrateErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", migrateErr)
	}

	return &DatabaseComponents{
		DB:           db,
		JobRepo:      database.NewJobRepository(db),
		SourceRepo:   database.NewSourceRepository(db),
		DocumentRepo: database.NewDocumentRepository(db),
	}, nil
}

// Ping reports whether the database answers.
func (d *DatabaseComponents) Ping(ctx context.Context) error {
	return d.DB.PingContext(ctx)
}

// Close closes the connection pool.
func (d *DatabaseComponents) Close() error {
	return d.DB.Close()
}
