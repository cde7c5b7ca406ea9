package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/sveikata-ai/rag-engine/internal/core/domain"
)

// Store is the keyword search adapter: ranked full-text search over document
// title and content. Title matches are weighted 'A' against content 'B'
// (2.5x in postgres' default weight table).
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across instances.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082901)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS knowledge_documents (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	search_vector tsvector GENERATED ALWAYS AS (
		setweight(to_tsvector('simple', coalesce(title, '')), 'A') ||
		setweight(to_tsvector('simple', content), 'B')
	) STORED,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS knowledge_documents_search_idx
	ON knowledge_documents USING GIN (search_vector);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return tx.Commit()
}

// searchQuery uses ts_rank normalization flag 32 (rank/(rank+1)) so scores
// land in [0,1) and compare against the caller's minRank directly.
const searchQuery = `
SELECT id, title, url, category, content, rank FROM (
	SELECT d.id, d.title, d.url, d.category, d.content,
	       ts_rank(d.search_vector, query, 32) AS rank
	FROM knowledge_documents d, %s('simple', $1) query
	WHERE d.search_vector @@ query
	  AND ($2 = '' OR d.category = $2)
) ranked
WHERE rank >= $3
ORDER BY rank DESC
LIMIT $4`

// Search runs the user text as search syntax first; malformed syntax degrades
// to a plain token-conjunction query, and a second failure degrades to an
// empty result with a warning. Raw syntax errors never reach the caller.
func (s *Store) Search(
	ctx context.Context,
	queryText string,
	limit int,
	minRank float64,
	filters map[string]string,
) ([]domain.Candidate, error) {
	category := filters["category"]

	candidates, err := s.run(ctx, "websearch_to_tsquery", queryText, limit, minRank, category)
	if err == nil {
		return candidates, nil
	}
	if !isSyntaxError(err) {
		return nil, wrapKeywordError(err)
	}

	candidates, err = s.run(ctx, "plainto_tsquery", queryText, limit, minRank, category)
	if err == nil {
		return candidates, nil
	}
	if !isSyntaxError(err) {
		return nil, wrapKeywordError(err)
	}

	s.logger.Warn("keyword_query_unparseable", "query", queryText, "error", err)
	return []domain.Candidate{}, nil
}

func (s *Store) run(
	ctx context.Context,
	parser, queryText string,
	limit int,
	minRank float64,
	category string,
) ([]domain.Candidate, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(searchQuery, parser), queryText, category, minRank, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Candidate, 0, limit)
	for rows.Next() {
		var (
			c    domain.Candidate
			cat  string
			rank float64
		)
		if err := rows.Scan(&c.ID, &c.Title, &c.URL, &cat, &c.Content, &rank); err != nil {
			return nil, fmt.Errorf("scan keyword row: %w", err)
		}
		c.Source = domain.SourceKeyword
		c.RawScore = rank
		if cat != "" {
			c.Metadata = map[string]string{"category": cat}
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keyword rows: %w", err)
	}
	return out, nil
}

func isSyntaxError(err error) bool {
	var pgErr *pgconn.PgError
	// 42601 syntax_error covers malformed tsquery input.
	return errors.As(err, &pgErr) && pgErr.Code == "42601"
}

func wrapKeywordError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.WrapError(domain.ErrAdapterTimeout, "keyword search", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.WrapError(domain.ErrAdapterTimeout, "keyword search", err)
	}
	return domain.WrapError(domain.ErrAdapterUnavailable, "keyword search", err)
}
