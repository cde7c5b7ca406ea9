package usecase

import (
	"context"
	"log/slog"
	"time"
	"unicode"

	"github.com/sveikata-ai/rag-engine/internal/core/domain"
	"github.com/sveikata-ai/rag-engine/internal/core/ports"
)

const defaultAdapterTimeout = 5 * time.Second

// RetrievalOutcome carries per-source results and failures so the caller can
// tolerate one side failing while still logging it.
type RetrievalOutcome struct {
	Vector     []domain.Candidate
	Keyword    []domain.Candidate
	VectorErr  error
	KeywordErr error
}

// Unavailable reports the coordinator-level RetrievalUnavailable condition:
// both sources failed for this attempt.
func (o RetrievalOutcome) Unavailable() bool {
	return o.VectorErr != nil && o.KeywordErr != nil
}

// RetrievalCoordinator dispatches vector and keyword search concurrently for
// one query, with independent per-adapter deadlines.
type RetrievalCoordinator struct {
	embedder       ports.Embedder
	vectorStore    ports.VectorStore
	keywordStore   ports.KeywordStore
	adapterTimeout time.Duration
	logger         *slog.Logger
}

func NewRetrievalCoordinator(
	embedder ports.Embedder,
	vectorStore ports.VectorStore,
	keywordStore ports.KeywordStore,
	adapterTimeout time.Duration,
	logger *slog.Logger,
) *RetrievalCoordinator {
	if adapterTimeout <= 0 {
		adapterTimeout = defaultAdapterTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetrievalCoordinator{
		embedder:       embedder,
		vectorStore:    vectorStore,
		keywordStore:   keywordStore,
		adapterTimeout: adapterTimeout,
		logger:         logger,
	}
}

// Retrieve runs both adapters concurrently. A failure or timeout in one does
// not cancel the other; its partial result is simply empty.
func (c *RetrievalCoordinator) Retrieve(
	ctx context.Context,
	queryText string,
	k int,
	threshold float64,
	filters map[string]string,
) RetrievalOutcome {
	vectorK, keywordK := splitBudget(queryText, k)

	type sourceResult struct {
		candidates []domain.Candidate
		err        error
	}
	vectorCh := make(chan sourceResult, 1)
	keywordCh := make(chan sourceResult, 1)

	go func() {
		callCtx, cancel := context.WithTimeout(ctx, c.adapterTimeout)
		defer cancel()
		candidates, err := c.searchVector(callCtx, queryText, vectorK, threshold, filters)
		vectorCh <- sourceResult{candidates: candidates, err: err}
	}()
	go func() {
		callCtx, cancel := context.WithTimeout(ctx, c.adapterTimeout)
		defer cancel()
		candidates, err := c.keywordStore.Search(callCtx, queryText, keywordK, threshold, filters)
		keywordCh <- sourceResult{candidates: candidates, err: err}
	}()

	// Each goroutine is bounded by its own deadline, so awaiting both never
	// lets a slow adapter hold back the finished one past that deadline.
	vector := <-vectorCh
	keyword := <-keywordCh

	if vector.err != nil {
		c.logger.Warn("vector_search_failed", "error", vector.err)
	}
	if keyword.err != nil {
		c.logger.Warn("keyword_search_failed", "error", keyword.err)
	}

	return RetrievalOutcome{
		Vector:     vector.candidates,
		Keyword:    keyword.candidates,
		VectorErr:  vector.err,
		KeywordErr: keyword.err,
	}
}

// RetrieveVectorOnly is the degraded fallback path: full budget, single source.
func (c *RetrievalCoordinator) RetrieveVectorOnly(
	ctx context.Context,
	queryText string,
	k int,
	threshold float64,
	filters map[string]string,
) RetrievalOutcome {
	callCtx, cancel := context.WithTimeout(ctx, c.adapterTimeout)
	defer cancel()

	candidates, err := c.searchVector(callCtx, queryText, k, threshold, filters)
	if err != nil {
		c.logger.Warn("vector_only_fallback_failed", "error", err)
	}
	return RetrievalOutcome{
		Vector:    candidates,
		VectorErr: err,
		// Keyword side already known to be unavailable on this path.
		KeywordErr: domain.ErrAdapterUnavailable,
	}
}

func (c *RetrievalCoordinator) searchVector(
	ctx context.Context,
	queryText string,
	k int,
	threshold float64,
	filters map[string]string,
) ([]domain.Candidate, error) {
	queryVector, err := c.embedder.EmbedQuery(ctx, queryText)
	if err != nil {
		return nil, err
	}
	return c.vectorStore.Search(ctx, queryVector, k, threshold, filters)
}

// splitBudget allocates result slots asymmetrically: keyword-like queries get
// the full budget on the keyword side and half on the vector side, and vice
// versa for semantic-like queries.
func splitBudget(queryText string, k int) (vectorK, keywordK int) {
	if k <= 0 {
		k = 1
	}
	half := k / 2
	if half < 1 {
		half = 1
	}
	if isKeywordLike(queryText) {
		return half, k
	}
	return k, half
}

// isKeywordLike marks short queries and queries with punctuation as better
// served by full-text search.
func isKeywordLike(queryText string) bool {
	if len(tokenizeWords(queryText)) <= 3 {
		return true
	}
	for _, r := range queryText {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || r == '?' {
			continue
		}
		return true
	}
	return false
}
