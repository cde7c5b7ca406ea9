package ports

import (
	"context"
	"time"

	"github.com/sveikata-ai/rag-engine/internal/core/domain"
)

// Embedder builds vectors for query text.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorStore performs approximate nearest-neighbor search. Scores are
// cosine-like, normalized to [0,1], higher is better. The implementation
// must respect the context deadline and never return scores below threshold.
type VectorStore interface {
	Search(ctx context.Context, queryVector []float32, limit int, threshold float64, filters map[string]string) ([]domain.Candidate, error)
}

// KeywordStore performs ranked full-text search over content and title.
// Malformed query syntax must degrade to a token-conjunction query, never
// propagate as a raw syntax error.
type KeywordStore interface {
	Search(ctx context.Context, queryText string, limit int, minRank float64, filters map[string]string) ([]domain.Candidate, error)
}

// AnswerGenerator creates the final user-facing answer, constrained to the
// supplied candidates.
type AnswerGenerator interface {
	GenerateAnswer(ctx context.Context, question, conversationContext string, candidates []domain.Candidate) (string, error)
}

// AnswerCache caches complete answers keyed by normalized query.
type AnswerCache interface {
	Get(ctx context.Context, key string) (*domain.Answer, bool, error)
	Set(ctx context.Context, key string, answer *domain.Answer) error
}

// SnapshotStore persists periodic monitor snapshots.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, takenAt time.Time, payload []byte) error
}

// EventPublisher emits notable pipeline events (best-effort, fire-and-forget).
type EventPublisher interface {
	Publish(ctx context.Context, event string, payload []byte) error
}
