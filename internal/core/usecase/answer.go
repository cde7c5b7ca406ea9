package usecase

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/sveikata-ai/rag-engine/internal/core/domain"
	"github.com/sveikata-ai/rag-engine/internal/core/ports"
)

// StageTimings carries per-stage durations for one query turn.
type StageTimings struct {
	Normalize  time.Duration
	Retrieval  time.Duration
	Generation time.Duration
}

// Monitor is the append-only event sink the pipeline reports into. It is the
// only cross-query shared state; implementations must serialize updates.
type Monitor interface {
	LogSuccess(queryID string, intent domain.Intent, docCount int, mix domain.SourceMix, attempts int, timings StageTimings)
	LogLowConfidence(queryID string, attempts int, timings StageTimings)
	LogError(kind, queryID, detail string)
	LogCacheHit()
	LogCacheMiss()
}

// PipelineConfig bounds one query turn end to end.
// DefaultPrioritizedSources applies when a request carries no prioritized
// URLs of its own.
type PipelineConfig struct {
	DefaultK                  int
	DefaultMinConfidence      float64
	ConfidenceFloor           float64
	MaxAttempts               int
	RetrySchedule             []float64
	OverallTimeout            time.Duration
	DefaultPrioritizedSources []string
}

func (c PipelineConfig) normalize() PipelineConfig {
	out := c
	if out.DefaultK <= 0 {
		out.DefaultK = 10
	}
	if out.DefaultMinConfidence <= 0 || out.DefaultMinConfidence > 1 {
		out.DefaultMinConfidence = 0.7
	}
	if out.ConfidenceFloor <= 0 {
		out.ConfidenceFloor = 0.3
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 3
	}
	if out.OverallTimeout <= 0 {
		out.OverallTimeout = 10 * time.Second
	}
	return out
}

// AnswerUseCase runs the full pipeline: normalize, retrieve concurrently,
// fuse, gate with bounded retry, synthesize with attribution, report.
type AnswerUseCase struct {
	normalizer  *Normalizer
	coordinator *RetrievalCoordinator
	generator   ports.AnswerGenerator
	cache       ports.AnswerCache
	monitor     Monitor
	cfg         PipelineConfig
	logger      *slog.Logger
}

func NewAnswerUseCase(
	normalizer *Normalizer,
	coordinator *RetrievalCoordinator,
	generator ports.AnswerGenerator,
	cache ports.AnswerCache,
	monitor Monitor,
	cfg PipelineConfig,
	logger *slog.Logger,
) *AnswerUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnswerUseCase{
		normalizer:  normalizer,
		coordinator: coordinator,
		generator:   generator,
		cache:       cache,
		monitor:     monitor,
		cfg:         cfg.normalize(),
		logger:      logger,
	}
}

// Query is the single inbound operation. Only domain.ErrInvalidQuery is ever
// returned as an error; every other failure degrades into a valid Answer.
func (uc *AnswerUseCase) Query(ctx context.Context, req domain.QueryRequest) (*domain.Answer, error) {
	var timings StageTimings

	normalizeStart := time.Now()
	query, err := uc.normalizer.Normalize(req.Text, req.ConversationContext)
	timings.Normalize = time.Since(normalizeStart)
	if err != nil {
		uc.monitor.LogError("invalid_query", "", err.Error())
		return nil, err
	}

	k := req.K
	if k <= 0 {
		k = uc.cfg.DefaultK
	}
	minConfidence := req.MinConfidence
	if minConfidence <= 0 || minConfidence > 1 {
		minConfidence = uc.cfg.DefaultMinConfidence
	}
	if len(req.PrioritizedSourceURLs) == 0 {
		req.PrioritizedSourceURLs = uc.cfg.DefaultPrioritizedSources
	}

	cacheKey := answerCacheKey(query, k, minConfidence, req)
	if uc.cache != nil {
		if cached, ok, cacheErr := uc.cache.Get(ctx, cacheKey); cacheErr != nil {
			uc.logger.Warn("answer_cache_get_failed", "error", cacheErr)
		} else if ok {
			uc.monitor.LogCacheHit()
			return cached, nil
		}
		uc.monitor.LogCacheMiss()
	}

	ctx, cancel := context.WithTimeout(ctx, uc.cfg.OverallTimeout)
	defer cancel()

	retrievalStart := time.Now()
	fused, gate := uc.retrieveWithRetry(ctx, query, k, minConfidence, req)
	timings.Retrieval = time.Since(retrievalStart)

	attempts := len(gate.Attempts())
	if attempts == 0 {
		attempts = 1
	}

	answer := &domain.Answer{
		UsedDocuments:      []domain.UsedDocument{},
		ConfidenceAchieved: fused.Confidence,
		Attempts:           attempts,
	}

	if gate.State() != StateAccepted || len(fused.Candidates) == 0 {
		answer.ResponseText = insufficientInfoText(query.Language)
		uc.monitor.LogLowConfidence(query.ID, attempts, timings)
		return answer, nil
	}

	generationStart := time.Now()
	text, genErr := uc.generator.GenerateAnswer(ctx, query.Normalized, query.ConversationContext, fused.Candidates)
	timings.Generation = time.Since(generationStart)
	if genErr != nil {
		// Generation failure is infrastructure, not a data gap: same graceful
		// text, different monitor kind.
		uc.logger.Error("generation_failed", "query_id", query.ID, "error", genErr)
		uc.monitor.LogError("synthesis_failure", query.ID, genErr.Error())
		answer.ResponseText = insufficientInfoText(query.Language)
		return answer, nil
	}

	answer.ResponseText = text + "\n\n" + buildAttribution(query.Language, fused)
	answer.UsedDocuments = usedDocuments(fused)

	if uc.cache != nil {
		if cacheErr := uc.cache.Set(ctx, cacheKey, answer); cacheErr != nil {
			uc.logger.Warn("answer_cache_set_failed", "error", cacheErr)
		}
	}
	uc.monitor.LogSuccess(query.ID, query.Intent, len(fused.Candidates), fused.SourceMix(), attempts, timings)
	return answer, nil
}

// retrieveWithRetry drives the confidence gate loop, including the degraded
// vector-only fallback when both adapters fail.
func (uc *AnswerUseCase) retrieveWithRetry(
	ctx context.Context,
	query domain.Query,
	k int,
	minConfidence float64,
	req domain.QueryRequest,
) (domain.FusedResult, *ConfidenceGate) {
	gate := NewConfidenceGate(GatePolicy{
		InitialThreshold: minConfidence,
		RetrySchedule:    uc.cfg.RetrySchedule,
		Floor:            uc.cfg.ConfidenceFloor,
		MaxAttempts:      uc.cfg.MaxAttempts,
	})

	var fused domain.FusedResult
	for gate.Active() {
		if ctx.Err() != nil {
			gate.Abandon()
			break
		}

		queryText := textForAttempt(query, gate.AttemptNumber())
		outcome := uc.coordinator.Retrieve(ctx, queryText, k, gate.Threshold(), req.Filters)
		uc.reportAdapterErrors(query.ID, outcome)

		if outcome.Unavailable() {
			uc.monitor.LogError("retrieval_unavailable", query.ID, "both adapters failed")
			if !gate.AllowDegraded() || ctx.Err() != nil {
				gate.Abandon()
				break
			}
			outcome = uc.coordinator.RetrieveVectorOnly(ctx, queryText, k, gate.Threshold(), req.Filters)
			fused = FuseCandidates(outcome.Vector, outcome.Keyword, req.PrioritizedSourceURLs, k, gate.Threshold())
			gate.ObserveDegraded(len(fused.Candidates))
			break
		}

		fused = FuseCandidates(outcome.Vector, outcome.Keyword, req.PrioritizedSourceURLs, k, gate.Threshold())
		gate.Observe(len(fused.Candidates))
	}
	return fused, gate
}

func (uc *AnswerUseCase) reportAdapterErrors(queryID string, outcome RetrievalOutcome) {
	for _, side := range []struct {
		err    error
		source domain.SourceType
	}{
		{outcome.VectorErr, domain.SourceVector},
		{outcome.KeywordErr, domain.SourceKeyword},
	} {
		if side.err == nil {
			continue
		}
		kind := "adapter_unavailable"
		if domain.IsKind(side.err, domain.ErrAdapterTimeout) {
			kind = "adapter_timeout"
		}
		uc.monitor.LogError(kind, queryID, fmt.Sprintf("%s: %v", side.source, side.err))
	}
}

// textForAttempt widens recall on retries by cycling through query variants.
func textForAttempt(query domain.Query, attempt int) string {
	if attempt <= 1 || len(query.Variants) == 0 {
		return query.Normalized
	}
	idx := attempt - 2
	if idx >= len(query.Variants) {
		return query.Normalized
	}
	return query.Variants[idx]
}

func usedDocuments(fused domain.FusedResult) []domain.UsedDocument {
	out := make([]domain.UsedDocument, 0, len(fused.Candidates))
	for _, c := range fused.Candidates {
		out = append(out, domain.UsedDocument{
			ID:     c.ID,
			Title:  c.Title,
			URL:    c.URL,
			Source: c.Source,
			Score:  c.FinalScore,
		})
	}
	return out
}

// buildAttribution lists at most the top 2 distinct sources plus a one-line
// summary of how many documents were used and from which origins.
func buildAttribution(language string, fused domain.FusedResult) string {
	type source struct {
		title string
		url   string
	}
	seen := make(map[string]struct{}, 2)
	sources := make([]source, 0, 2)
	for _, c := range fused.Candidates {
		key := c.URL
		if key == "" {
			key = c.Title
		}
		if key == "" {
			key = c.ID
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		sources = append(sources, source{title: c.Title, url: c.URL})
		if len(sources) == 2 {
			break
		}
	}

	var b strings.Builder
	if language == "lt" {
		b.WriteString("Šaltiniai:\n")
	} else {
		b.WriteString("Sources:\n")
	}
	for i, s := range sources {
		line := s.title
		if line == "" {
			line = s.url
		} else if s.url != "" {
			line = fmt.Sprintf("%s (%s)", s.title, s.url)
		}
		b.WriteString(fmt.Sprintf("%d. %s\n", i+1, line))
	}
	b.WriteString(summaryLine(language, fused))
	return b.String()
}

func summaryLine(language string, fused domain.FusedResult) string {
	var origin string
	switch fused.SourceMix() {
	case domain.MixVectorOnly:
		origin = "semantic search"
		if language == "lt" {
			origin = "semantinę paiešką"
		}
	case domain.MixKeywordOnly:
		origin = "keyword search"
		if language == "lt" {
			origin = "raktažodžių paiešką"
		}
	default:
		origin = "semantic and keyword search"
		if language == "lt" {
			origin = "semantinę ir raktažodžių paiešką"
		}
	}
	if language == "lt" {
		return fmt.Sprintf("Atsakymas parengtas pagal %d dokumentus per %s.", len(fused.Candidates), origin)
	}
	return fmt.Sprintf("Answer based on %d documents via %s.", len(fused.Candidates), origin)
}

func insufficientInfoText(language string) string {
	if language == "lt" {
		return "Deja, turimuose šaltiniuose nepakanka patikimos informacijos atsakyti į šį klausimą."
	}
	return "I do not have enough reliable information in the available sources to answer this question."
}

func answerCacheKey(query domain.Query, k int, minConfidence float64, req domain.QueryRequest) string {
	h := fnv.New64a()
	write := func(s string) {
		_, _ = h.Write([]byte(s))
		_, _ = h.Write([]byte{0})
	}
	write(strings.ToLower(query.Normalized))
	write(fmt.Sprintf("%d|%.3f", k, minConfidence))
	write(query.ConversationContext)

	keys := make([]string, 0, len(req.Filters))
	for key := range req.Filters {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		write(key + "=" + req.Filters[key])
	}

	urls := append([]string(nil), req.PrioritizedSourceURLs...)
	sort.Strings(urls)
	for _, u := range urls {
		write(strings.ToLower(u))
	}
	return fmt.Sprintf("rag:answer:%x", h.Sum64())
}
