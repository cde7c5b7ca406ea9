package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sveikata-ai/rag-engine/internal/core/domain"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db, nil), mock
}

func resultRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "title", "url", "category", "content", "rank"})
}

func TestSearchReturnsRankedCandidates(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("websearch_to_tsquery").
		WithArgs("plaučių vėžys", "", 0.3, 10).
		WillReturnRows(resultRows().
			AddRow("d1", "Plaučių vėžys", "https://sam.lrv.lt/vezys", "onkologija", "Aprašymas.", 0.91).
			AddRow("d2", "", "", "", "Kitas tekstas.", 0.44))

	candidates, err := store.Search(context.Background(), "plaučių vėžys", 10, 0.3, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}
	first := candidates[0]
	if first.ID != "d1" || first.RawScore != 0.91 || first.Source != domain.SourceKeyword {
		t.Fatalf("unexpected first candidate: %+v", first)
	}
	if first.Metadata["category"] != "onkologija" {
		t.Fatalf("expected category metadata, got %v", first.Metadata)
	}
	if candidates[1].Metadata != nil {
		t.Fatalf("empty category must not allocate metadata")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSearchPassesCategoryFilter(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("websearch_to_tsquery").
		WithArgs("gripas", "infekcijos", 0.2, 5).
		WillReturnRows(resultRows())

	_, err := store.Search(context.Background(), "gripas", 5, 0.2, map[string]string{"category": "infekcijos"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSearchFallsBackOnSyntaxError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("websearch_to_tsquery").
		WithArgs(`"broken AND`, "", 0.3, 10).
		WillReturnError(&pgconn.PgError{Code: "42601"})
	mock.ExpectQuery("plainto_tsquery").
		WithArgs(`"broken AND`, "", 0.3, 10).
		WillReturnRows(resultRows().AddRow("d1", "", "", "", "Tekstas.", 0.5))

	candidates, err := store.Search(context.Background(), `"broken AND`, 10, 0.3, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected fallback result, got %d", len(candidates))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSearchDoubleSyntaxErrorDegradesToEmpty(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("websearch_to_tsquery").
		WillReturnError(&pgconn.PgError{Code: "42601"})
	mock.ExpectQuery("plainto_tsquery").
		WillReturnError(&pgconn.PgError{Code: "42601"})

	candidates, err := store.Search(context.Background(), "???", 10, 0.3, nil)
	if err != nil {
		t.Fatalf("unparseable input must degrade to empty, got %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("expected empty result, got %d", len(candidates))
	}
}

func TestSearchWrapsTimeoutAsAdapterTimeout(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("websearch_to_tsquery").
		WillReturnError(context.DeadlineExceeded)

	_, err := store.Search(context.Background(), "gripas", 10, 0.3, nil)
	if !domain.IsKind(err, domain.ErrAdapterTimeout) {
		t.Fatalf("expected adapter timeout, got %v", err)
	}
}

func TestSearchWrapsBackendErrorAsUnavailable(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("websearch_to_tsquery").
		WillReturnError(errors.New("connection refused"))

	_, err := store.Search(context.Background(), "gripas", 10, 0.3, nil)
	if !domain.IsKind(err, domain.ErrAdapterUnavailable) {
		t.Fatalf("expected adapter unavailable, got %v", err)
	}
}

func TestEnsureSchemaRunsInTransaction(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS knowledge_documents").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
