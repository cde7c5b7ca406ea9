package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sveikata-ai/rag-engine/internal/core/domain"
	"github.com/sveikata-ai/rag-engine/internal/core/ports"
	"github.com/sveikata-ai/rag-engine/internal/core/usecase"
)

const (
	defaultEMAAlpha        = 0.2
	defaultBucketRetention = 30 * 24 * time.Hour
	defaultFlushInterval   = 5 * time.Minute
)

// Bucket aggregates query outcomes for one hour or one day.
type Bucket struct {
	Start         time.Time `json:"start"`
	Queries       uint64    `json:"queries"`
	Successes     uint64    `json:"successes"`
	Failures      uint64    `json:"failures"`
	LowConfidence uint64    `json:"low_confidence"`
}

// Snapshot is the JSON-serializable view of the aggregate metrics state.
type Snapshot struct {
	StartedAt     time.Time `json:"started_at"`
	TakenAt       time.Time `json:"taken_at"`
	TotalQueries  uint64    `json:"total_queries"`
	Successes     uint64    `json:"successes"`
	Failures      uint64    `json:"failures"`
	LowConfidence uint64    `json:"low_confidence"`
	CacheHits     uint64    `json:"cache_hits"`
	CacheMisses   uint64    `json:"cache_misses"`

	ErrorCounts map[string]uint64 `json:"error_counts"`
	SourceMix   map[string]uint64 `json:"source_mix"`
	IntentMix   map[string]uint64 `json:"intent_mix"`

	// Exponential moving averages of stage timings, milliseconds.
	NormalizeMsEMA  float64 `json:"normalize_ms_ema"`
	RetrievalMsEMA  float64 `json:"retrieval_ms_ema"`
	GenerationMsEMA float64 `json:"generation_ms_ema"`

	AvgAttempts float64 `json:"avg_attempts"`

	Hourly []Bucket `json:"hourly"`
	Daily  []Bucket `json:"daily"`
}

// EngineMetrics exports pipeline outcomes to the process metrics registry.
// Implementations must be safe for concurrent use.
type EngineMetrics interface {
	RecordQueryTurn(outcome, mix string, docCount, attempts int, duration time.Duration)
	RecordLowConfidence()
	RecordPipelineError(kind string)
	RecordCacheLookup(hit bool)
}

// Options tune the monitor; zero values fall back to defaults. Metrics may be
// nil when no registry is wired.
type Options struct {
	EMAAlpha        float64
	BucketRetention time.Duration
	FlushInterval   time.Duration
	Clock           func() time.Time
	Metrics         EngineMetrics
}

// Monitor owns the process-wide metrics snapshot. All pipeline components
// write through its logging methods only; a single mutex serializes updates
// across concurrent queries.
type Monitor struct {
	store  ports.SnapshotStore
	events ports.EventPublisher
	logger *slog.Logger

	alpha     float64
	retention time.Duration
	interval  time.Duration
	clock     func() time.Time
	metrics   EngineMetrics

	mu            sync.Mutex
	startedAt     time.Time
	totalQueries  uint64
	successes     uint64
	failures      uint64
	lowConfidence uint64
	cacheHits     uint64
	cacheMisses   uint64
	totalAttempts uint64
	errorCounts   map[string]uint64
	sourceMix     map[string]uint64
	intentMix     map[string]uint64
	normalizeEMA  ema
	retrievalEMA  ema
	generationEMA ema
	hourly        map[int64]*Bucket
	daily         map[int64]*Bucket
}

// New builds a monitor. store and events may be nil: snapshots are then only
// logged and events dropped.
func New(store ports.SnapshotStore, events ports.EventPublisher, logger *slog.Logger, opts Options) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.EMAAlpha <= 0 || opts.EMAAlpha > 1 {
		opts.EMAAlpha = defaultEMAAlpha
	}
	if opts.BucketRetention <= 0 {
		opts.BucketRetention = defaultBucketRetention
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultFlushInterval
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	m := &Monitor{
		store:     store,
		events:    events,
		logger:    logger,
		alpha:     opts.EMAAlpha,
		retention: opts.BucketRetention,
		interval:  opts.FlushInterval,
		clock:     opts.Clock,
		metrics:   opts.Metrics,
	}
	m.resetLocked(opts.Clock())
	return m
}

func (m *Monitor) LogSuccess(queryID string, intent domain.Intent, docCount int, mix domain.SourceMix, attempts int, timings usecase.StageTimings) {
	now := m.clock()
	m.mu.Lock()
	m.totalQueries++
	m.successes++
	m.totalAttempts += uint64(attempts)
	m.sourceMix[string(mix)]++
	m.intentMix[string(intent)]++
	m.normalizeEMA.observe(m.alpha, timings.Normalize)
	m.retrievalEMA.observe(m.alpha, timings.Retrieval)
	m.generationEMA.observe(m.alpha, timings.Generation)
	m.bump(now, func(b *Bucket) { b.Queries++; b.Successes++ })
	m.mu.Unlock()

	if m.metrics != nil {
		total := timings.Normalize + timings.Retrieval + timings.Generation
		m.metrics.RecordQueryTurn("answered", string(mix), docCount, attempts, total)
	}
	m.logger.Debug("query_success",
		"query_id", queryID,
		"docs", docCount,
		"source_mix", string(mix),
		"attempts", attempts,
	)
}

// LogLowConfidence records the Exhausted terminal outcome. It is a valid
// result, counted apart from hard failures.
func (m *Monitor) LogLowConfidence(queryID string, attempts int, timings usecase.StageTimings) {
	now := m.clock()
	m.mu.Lock()
	m.totalQueries++
	m.lowConfidence++
	m.totalAttempts += uint64(attempts)
	m.sourceMix[string(domain.MixNone)]++
	m.normalizeEMA.observe(m.alpha, timings.Normalize)
	m.retrievalEMA.observe(m.alpha, timings.Retrieval)
	m.bump(now, func(b *Bucket) { b.Queries++; b.LowConfidence++ })
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordQueryTurn("low_confidence", "", 0, attempts, timings.Normalize+timings.Retrieval)
		m.metrics.RecordLowConfidence()
	}
	m.publish("low_confidence", map[string]any{"query_id": queryID, "attempts": attempts})
	m.logger.Info("query_low_confidence", "query_id", queryID, "attempts", attempts)
}

func (m *Monitor) LogError(kind, queryID, detail string) {
	now := m.clock()
	m.mu.Lock()
	m.errorCounts[kind]++
	// Adapter and retrieval errors are recovered inside the turn; only
	// terminal kinds end the turn, so only they enter the query totals.
	if kind == "invalid_query" || kind == "synthesis_failure" {
		m.totalQueries++
		m.failures++
		m.bump(now, func(b *Bucket) { b.Queries++; b.Failures++ })
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordPipelineError(kind)
	}
	if kind == "retrieval_unavailable" || kind == "synthesis_failure" {
		m.publish(kind, map[string]any{"query_id": queryID, "detail": detail})
	}
	m.logger.Warn("pipeline_error", "kind", kind, "query_id", queryID, "detail", detail)
}

func (m *Monitor) LogCacheHit() {
	m.mu.Lock()
	m.cacheHits++
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.RecordCacheLookup(true)
	}
}

func (m *Monitor) LogCacheMiss() {
	m.mu.Lock()
	m.cacheMisses++
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.RecordCacheLookup(false)
	}
}

// Report returns a consistent copy of the aggregate state.
func (m *Monitor) Report() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(m.clock())
}

// Reset clears all counters and buckets. Operator action only.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked(m.clock())
}

// Run flushes snapshots on the configured interval until ctx is done, then
// performs one final flush.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.flush(context.Background())
			return
		case <-ticker.C:
			m.flush(ctx)
		}
	}
}

// Flush persists a snapshot immediately.
func (m *Monitor) Flush(ctx context.Context) {
	m.flush(ctx)
}

func (m *Monitor) flush(ctx context.Context) {
	if m.store == nil {
		return
	}
	snapshot := m.Report()
	payload, err := json.Marshal(snapshot)
	if err != nil {
		m.logger.Error("snapshot_marshal_failed", "error", err)
		return
	}
	saveCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := m.store.SaveSnapshot(saveCtx, snapshot.TakenAt, payload); err != nil {
		m.logger.Error("snapshot_save_failed", "error", err)
		return
	}
	m.logger.Debug("snapshot_saved", "taken_at", snapshot.TakenAt)
}

func (m *Monitor) publish(event string, payload map[string]any) {
	if m.events == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.events.Publish(ctx, event, data); err != nil {
		m.logger.Warn("event_publish_failed", "event", event, "error", err)
	}
}

func (m *Monitor) bump(now time.Time, apply func(*Bucket)) {
	hourKey := now.Truncate(time.Hour).Unix()
	dayKey := now.Truncate(24 * time.Hour).Unix()

	hour, ok := m.hourly[hourKey]
	if !ok {
		hour = &Bucket{Start: time.Unix(hourKey, 0).UTC()}
		m.hourly[hourKey] = hour
	}
	day, ok := m.daily[dayKey]
	if !ok {
		day = &Bucket{Start: time.Unix(dayKey, 0).UTC()}
		m.daily[dayKey] = day
	}
	apply(hour)
	apply(day)
	m.evictLocked(now)
}

func (m *Monitor) evictLocked(now time.Time) {
	cutoff := now.Add(-m.retention).Unix()
	for key := range m.hourly {
		if key < cutoff {
			delete(m.hourly, key)
		}
	}
	for key := range m.daily {
		if key < cutoff {
			delete(m.daily, key)
		}
	}
}

func (m *Monitor) resetLocked(now time.Time) {
	m.startedAt = now
	m.totalQueries = 0
	m.successes = 0
	m.failures = 0
	m.lowConfidence = 0
	m.cacheHits = 0
	m.cacheMisses = 0
	m.totalAttempts = 0
	m.errorCounts = make(map[string]uint64)
	m.sourceMix = make(map[string]uint64)
	m.intentMix = make(map[string]uint64)
	m.normalizeEMA = ema{}
	m.retrievalEMA = ema{}
	m.generationEMA = ema{}
	m.hourly = make(map[int64]*Bucket)
	m.daily = make(map[int64]*Bucket)
}

func (m *Monitor) snapshotLocked(now time.Time) Snapshot {
	s := Snapshot{
		StartedAt:       m.startedAt,
		TakenAt:         now,
		TotalQueries:    m.totalQueries,
		Successes:       m.successes,
		Failures:        m.failures,
		LowConfidence:   m.lowConfidence,
		CacheHits:       m.cacheHits,
		CacheMisses:     m.cacheMisses,
		ErrorCounts:     make(map[string]uint64, len(m.errorCounts)),
		SourceMix:       make(map[string]uint64, len(m.sourceMix)),
		IntentMix:       make(map[string]uint64, len(m.intentMix)),
		NormalizeMsEMA:  m.normalizeEMA.value,
		RetrievalMsEMA:  m.retrievalEMA.value,
		GenerationMsEMA: m.generationEMA.value,
	}
	for k, v := range m.errorCounts {
		s.ErrorCounts[k] = v
	}
	for k, v := range m.sourceMix {
		s.SourceMix[k] = v
	}
	for k, v := range m.intentMix {
		s.IntentMix[k] = v
	}
	if m.totalQueries > 0 {
		s.AvgAttempts = float64(m.totalAttempts) / float64(m.totalQueries)
	}
	s.Hourly = sortedBuckets(m.hourly)
	s.Daily = sortedBuckets(m.daily)
	return s
}

func sortedBuckets(buckets map[int64]*Bucket) []Bucket {
	keys := make([]int64, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := make([]Bucket, 0, len(keys))
	for _, k := range keys {
		out = append(out, *buckets[k])
	}
	return out
}

type ema struct {
	value       float64
	initialized bool
}

func (e *ema) observe(alpha float64, d time.Duration) {
	sample := float64(d.Microseconds()) / 1000.0
	if !e.initialized {
		e.value = sample
		e.initialized = true
		return
	}
	e.value = alpha*sample + (1-alpha)*e.value
}
