package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sveikata-ai/rag-engine/internal/core/domain"
	"github.com/sveikata-ai/rag-engine/internal/infrastructure/resilience"
)

// Client is the vector search adapter backed by qdrant's HTTP API.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, collection string) *Client {
	return NewWithExecutor(baseURL, collection, nil)
}

func NewWithExecutor(baseURL, collection string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		executor:   executor,
	}
}

// Search performs approximate nearest-neighbor search. Scores below threshold
// are filtered server-side via score_threshold. Timeouts and backend errors
// come back as typed adapter errors, never as panics across the coordinator.
func (c *Client) Search(
	ctx context.Context,
	queryVector []float32,
	limit int,
	threshold float64,
	filters map[string]string,
) ([]domain.Candidate, error) {
	reqBody := map[string]any{
		"vector":          queryVector,
		"limit":           limit,
		"with_payload":    true,
		"score_threshold": threshold,
	}
	if len(filters) > 0 {
		must := make([]map[string]any, 0, len(filters))
		for key, value := range filters {
			must = append(must, map[string]any{
				"key":   key,
				"match": map[string]any{"value": value},
			})
		}
		reqBody["filter"] = map[string]any{"must": must}
	}

	var searchResp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}

	call := func(callCtx context.Context) error {
		return c.postSearch(callCtx, reqBody, &searchResp)
	}
	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "qdrant.search", call, classifyQdrantError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, wrapSearchError(err)
	}

	out := make([]domain.Candidate, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		score := r.Score
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		candidate := domain.Candidate{
			ID:       candidateID(r.ID, r.Payload),
			Content:  getStringPayload(r.Payload, "text"),
			Title:    getStringPayload(r.Payload, "title"),
			URL:      getStringPayload(r.Payload, "url"),
			Source:   domain.SourceVector,
			RawScore: score,
		}
		if category := getStringPayload(r.Payload, "category"); category != "" {
			candidate.Metadata = map[string]string{"category": category}
		}
		out = append(out, candidate)
	}
	return out, nil
}

func (c *Client) postSearch(ctx context.Context, reqBody map[string]any, out any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal search body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if msg := strings.TrimSpace(string(respBody)); msg != "" {
			return fmt.Errorf("qdrant search status: %s: %s", resp.Status, msg)
		}
		return fmt.Errorf("qdrant search status: %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode search response: %w", err)
	}
	return nil
}

func wrapSearchError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.WrapError(domain.ErrAdapterTimeout, "vector search", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.WrapError(domain.ErrAdapterTimeout, "vector search", err)
	}
	return domain.WrapError(domain.ErrAdapterUnavailable, "vector search", err)
}

func classifyQdrantError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

// candidateID prefers the stable chunk identifier from the payload, falling
// back to qdrant's point id.
func candidateID(pointID any, payload map[string]any) string {
	if id := getStringPayload(payload, "chunk_id"); id != "" {
		return id
	}
	if id := getStringPayload(payload, "doc_id"); id != "" {
		if idx, ok := payload["chunk_index"]; ok {
			return fmt.Sprintf("%s:%v", id, idx)
		}
		return id
	}
	return fmt.Sprintf("%v", pointID)
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
