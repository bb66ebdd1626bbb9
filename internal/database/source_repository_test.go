package database_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/jonesrussell/north-cloud/harvester/internal/database"
	"github.com/jonesrussell/north-cloud/harvester/internal/domain"
)

var sourceColumns = []string{
	"id", "name", "url", "enabled", "crawler_config", "pagination_memory",
	"total_documents", "last_crawled_at", "last_success_at", "consecutive_errors",
	"created_at", "updated_at",
}

func newSourceRepo(t *testing.T) (*database.SourceRepository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock := newSQLMock(t)
	return database.NewSourceRepository(db), mock
}

func TestSourceRepository_GetSource(t *testing.T) {
	repo, mock := newSourceRepo(t)
	now := time.Now()

	memory := []byte(`{"strategy":"path","config":{"path_prefix":"page"},"updated_at":"2026-10-01T00:00:00Z"}`)
	mock.ExpectQuery(regexp.QuoteMeta("FROM sources WHERE id = $1")).
		WithArgs("src-1").
		WillReturnRows(sqlmock.NewRows(sourceColumns).AddRow(
			"src-1", "Sudbury", "https://www.sudbury.com/local-news", true,
			[]byte(`{"max_pages":4}`), memory,
			120, now, now, 0,
			now, now,
		))

	src, err := repo.GetSource(context.Background(), "src-1")
	if err != nil {
		t.Fatalf("GetSource() error = %v", err)
	}
	if src.Domain() != "sudbury.com" {
		t.Errorf("expected domain sudbury.com, got %s", src.Domain())
	}
	mem, ok := domain.ParsePaginationMemory(src.PaginationMemory)
	if !ok || mem.Strategy != "path" {
		t.Errorf("expected path memory, got %+v (ok=%v)", mem, ok)
	}

	expectationsMet(t, mock)
}

func TestSourceRepository_GetSource_NotFound(t *testing.T) {
	repo, mock := newSourceRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM sources WHERE id = $1")).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(sourceColumns))

	if _, err := repo.GetSource(context.Background(), "nope"); !errors.Is(err, domain.ErrSourceNotFound) {
		t.Fatalf("expected ErrSourceNotFound, got %v", err)
	}

	expectationsMet(t, mock)
}

func TestSourceRepository_ListSources_EnabledOnly(t *testing.T) {
	repo, mock := newSourceRepo(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM sources WHERE enabled ORDER BY name, id")).
		WillReturnRows(sqlmock.NewRows(sourceColumns).
			AddRow("a", "A", "https://a.example.com", true, []byte("{}"), []byte("{}"), 0, nil, nil, 0, now, now).
			AddRow("b", "B", "https://b.example.com", true, []byte("{}"), []byte("{}"), 0, nil, nil, 2, now, now))

	sources, err := repo.ListSources(context.Background(), true)
	if err != nil {
		t.Fatalf("ListSources() error = %v", err)
	}
	if len(sources) != 2 || sources[1].ConsecutiveErrors != 2 {
		t.Errorf("unexpected sources %+v", sources)
	}

	expectationsMet(t, mock)
}

func TestSourceRepository_Upsert(t *testing.T) {
	repo, mock := newSourceRepo(t)
	now := time.Now()

	mock.ExpectQuery("INSERT INTO sources").
		WithArgs("src-1", "CBC", "https://www.cbc.ca/news", true, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	src := &domain.Source{ID: "src-1", Name: "CBC", URL: "https://www.cbc.ca/news", Enabled: true}
	if err := repo.Upsert(context.Background(), src); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if !src.UpdatedAt.Equal(now) {
		t.Errorf("expected updated_at from RETURNING, got %v", src.UpdatedAt)
	}

	expectationsMet(t, mock)
}

func TestSourceRepository_UpdatePaginationMemory_NotFound(t *testing.T) {
	repo, mock := newSourceRepo(t)

	mock.ExpectExec("UPDATE sources SET pagination_memory").
		WithArgs("gone", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdatePaginationMemory(context.Background(), "gone", domain.JSONBMap{"strategy": "offset"})
	if !errors.Is(err, domain.ErrSourceNotFound) {
		t.Fatalf("expected ErrSourceNotFound, got %v", err)
	}

	expectationsMet(t, mock)
}

func TestSourceRepository_UpdateCrawlStats(t *testing.T) {
	repo, mock := newSourceRepo(t)
	crawled := time.Date(2026, 10, 14, 8, 30, 0, 123456789, time.UTC)

	mock.ExpectExec("UPDATE sources").
		WithArgs("src-1", 7, crawled.Truncate(time.Microsecond), false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateCrawlStats(context.Background(), "src-1", domain.CrawlStats{
		NewDocuments: 7,
		Success:      false,
		CrawledAt:    crawled,
	})
	if err != nil {
		t.Fatalf("UpdateCrawlStats() error = %v", err)
	}

	expectationsMet(t, mock)
}
