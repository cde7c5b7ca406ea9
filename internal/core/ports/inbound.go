package ports

import (
	"context"

	"github.com/sveikata-ai/rag-engine/internal/core/domain"
)

// QueryService is the inbound contract for the retrieval/response pipeline.
// Only domain.ErrInvalidQuery is ever returned; every other failure mode is
// absorbed into a degraded Answer.
type QueryService interface {
	Query(ctx context.Context, req domain.QueryRequest) (*domain.Answer, error)
}
