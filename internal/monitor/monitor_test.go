package monitor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sveikata-ai/rag-engine/internal/core/domain"
	"github.com/sveikata-ai/rag-engine/internal/core/usecase"
)

type fakeSnapshotStore struct {
	saved [][]byte
}

func (f *fakeSnapshotStore) SaveSnapshot(_ context.Context, _ time.Time, payload []byte) error {
	f.saved = append(f.saved, payload)
	return nil
}

type fakeEventPublisher struct {
	events []string
}

func (f *fakeEventPublisher) Publish(_ context.Context, event string, _ []byte) error {
	f.events = append(f.events, event)
	return nil
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

type fakeEngineMetrics struct {
	turns      []string
	lowConf    int
	errorKinds []string
	cacheHits  []bool
}

func (f *fakeEngineMetrics) RecordQueryTurn(outcome, mix string, _ int, _ int, _ time.Duration) {
	f.turns = append(f.turns, outcome+"/"+mix)
}

func (f *fakeEngineMetrics) RecordLowConfidence() { f.lowConf++ }

func (f *fakeEngineMetrics) RecordPipelineError(kind string) {
	f.errorKinds = append(f.errorKinds, kind)
}

func (f *fakeEngineMetrics) RecordCacheLookup(hit bool) { f.cacheHits = append(f.cacheHits, hit) }

func TestMonitorCountsSuccessAndBuckets(t *testing.T) {
	now := time.Date(2026, 8, 29, 14, 30, 0, 0, time.UTC)
	m := New(nil, nil, nil, Options{Clock: fixedClock(now)})

	timings := usecase.StageTimings{
		Normalize:  2 * time.Millisecond,
		Retrieval:  120 * time.Millisecond,
		Generation: 800 * time.Millisecond,
	}
	m.LogSuccess("q1", domain.IntentInformational, 5, domain.MixMixed, 1, timings)
	m.LogSuccess("q2", domain.IntentHowTo, 3, domain.MixVectorOnly, 2, timings)

	s := m.Report()
	if s.TotalQueries != 2 || s.Successes != 2 {
		t.Fatalf("expected 2 successes, got total=%d successes=%d", s.TotalQueries, s.Successes)
	}
	if s.SourceMix["mixed"] != 1 || s.SourceMix["vector_only"] != 1 {
		t.Fatalf("unexpected source mix: %v", s.SourceMix)
	}
	if s.IntentMix["informational"] != 1 || s.IntentMix["how-to"] != 1 {
		t.Fatalf("unexpected intent mix: %v", s.IntentMix)
	}
	if s.AvgAttempts != 1.5 {
		t.Fatalf("expected avg attempts 1.5, got %v", s.AvgAttempts)
	}
	if s.RetrievalMsEMA != 120 {
		t.Fatalf("expected retrieval EMA 120ms after identical samples, got %v", s.RetrievalMsEMA)
	}
	if len(s.Hourly) != 1 || s.Hourly[0].Queries != 2 {
		t.Fatalf("expected one hourly bucket with 2 queries, got %+v", s.Hourly)
	}
	if len(s.Daily) != 1 || s.Daily[0].Successes != 2 {
		t.Fatalf("expected one daily bucket with 2 successes, got %+v", s.Daily)
	}
}

func TestMonitorEMAConverges(t *testing.T) {
	m := New(nil, nil, nil, Options{EMAAlpha: 0.5})

	m.LogSuccess("q1", domain.IntentUnknown, 1, domain.MixVectorOnly, 1, usecase.StageTimings{Retrieval: 100 * time.Millisecond})
	m.LogSuccess("q2", domain.IntentUnknown, 1, domain.MixVectorOnly, 1, usecase.StageTimings{Retrieval: 200 * time.Millisecond})

	s := m.Report()
	// First sample seeds the EMA, second moves it halfway: 0.5*200 + 0.5*100.
	if s.RetrievalMsEMA != 150 {
		t.Fatalf("expected EMA 150ms, got %v", s.RetrievalMsEMA)
	}
}

func TestMonitorLowConfidencePublishesEvent(t *testing.T) {
	events := &fakeEventPublisher{}
	m := New(nil, events, nil, Options{})

	m.LogLowConfidence("q1", 2, usecase.StageTimings{})

	s := m.Report()
	if s.LowConfidence != 1 || s.TotalQueries != 1 {
		t.Fatalf("expected low-confidence turn counted, got %+v", s)
	}
	if s.Failures != 0 {
		t.Fatalf("low confidence is not a failure, got %d", s.Failures)
	}
	if len(events.events) != 1 || events.events[0] != "low_confidence" {
		t.Fatalf("expected low_confidence event, got %v", events.events)
	}
}

func TestMonitorErrorKindsAndFailureCounting(t *testing.T) {
	events := &fakeEventPublisher{}
	m := New(nil, events, nil, Options{})

	m.LogError("adapter_timeout", "q1", "vector timed out")
	m.LogError("retrieval_unavailable", "q1", "both adapters failed")
	m.LogError("synthesis_failure", "q2", "model crashed")

	s := m.Report()
	if s.ErrorCounts["adapter_timeout"] != 1 || s.ErrorCounts["retrieval_unavailable"] != 1 || s.ErrorCounts["synthesis_failure"] != 1 {
		t.Fatalf("unexpected error counts: %v", s.ErrorCounts)
	}
	// Recoverable kinds never count as failed queries.
	if s.Failures != 1 {
		t.Fatalf("expected only the synthesis failure counted, got %d", s.Failures)
	}
	// A terminal error still ends a turn, so it enters the totals.
	if s.TotalQueries != 1 {
		t.Fatalf("expected failed turn counted in total, got %d", s.TotalQueries)
	}
	if len(events.events) != 2 {
		t.Fatalf("expected events for retrieval_unavailable and synthesis_failure, got %v", events.events)
	}
}

func TestMonitorFailuresNeverExceedTotals(t *testing.T) {
	now := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)
	m := New(nil, nil, nil, Options{Clock: fixedClock(now)})

	m.LogError("invalid_query", "", "empty query text")
	m.LogError("synthesis_failure", "q1", "model crashed")
	m.LogSuccess("q2", domain.IntentUnknown, 1, domain.MixVectorOnly, 1, usecase.StageTimings{})

	s := m.Report()
	if s.TotalQueries != 3 {
		t.Fatalf("expected 3 turns counted, got %d", s.TotalQueries)
	}
	if s.Failures > s.TotalQueries {
		t.Fatalf("failures %d exceed total %d", s.Failures, s.TotalQueries)
	}
	if len(s.Hourly) != 1 || s.Hourly[0].Queries != 3 || s.Hourly[0].Failures != 2 {
		t.Fatalf("unexpected hourly bucket: %+v", s.Hourly)
	}
}

func TestMonitorForwardsToEngineMetrics(t *testing.T) {
	em := &fakeEngineMetrics{}
	m := New(nil, nil, nil, Options{Metrics: em})

	m.LogSuccess("q1", domain.IntentInformational, 4, domain.MixMixed, 2, usecase.StageTimings{})
	m.LogLowConfidence("q2", 3, usecase.StageTimings{})
	m.LogError("synthesis_failure", "q3", "model crashed")
	m.LogCacheHit()
	m.LogCacheMiss()

	if len(em.turns) != 2 || em.turns[0] != "answered/mixed" || em.turns[1] != "low_confidence/" {
		t.Fatalf("unexpected turn records: %v", em.turns)
	}
	if em.lowConf != 1 {
		t.Fatalf("expected one low-confidence record, got %d", em.lowConf)
	}
	if len(em.errorKinds) != 1 || em.errorKinds[0] != "synthesis_failure" {
		t.Fatalf("unexpected error records: %v", em.errorKinds)
	}
	if len(em.cacheHits) != 2 || !em.cacheHits[0] || em.cacheHits[1] {
		t.Fatalf("unexpected cache records: %v", em.cacheHits)
	}
}

func TestMonitorReset(t *testing.T) {
	m := New(nil, nil, nil, Options{})
	m.LogSuccess("q1", domain.IntentUnknown, 1, domain.MixVectorOnly, 1, usecase.StageTimings{})
	m.LogCacheHit()

	m.Reset()

	s := m.Report()
	if s.TotalQueries != 0 || s.CacheHits != 0 || len(s.Hourly) != 0 {
		t.Fatalf("expected clean state after reset, got %+v", s)
	}
}

func TestMonitorFlushPersistsSnapshot(t *testing.T) {
	store := &fakeSnapshotStore{}
	m := New(store, nil, nil, Options{})
	m.LogSuccess("q1", domain.IntentUnknown, 1, domain.MixVectorOnly, 1, usecase.StageTimings{})

	m.Flush(context.Background())

	if len(store.saved) != 1 {
		t.Fatalf("expected one snapshot saved, got %d", len(store.saved))
	}
	var s Snapshot
	if err := json.Unmarshal(store.saved[0], &s); err != nil {
		t.Fatalf("snapshot payload is not valid JSON: %v", err)
	}
	if s.TotalQueries != 1 {
		t.Fatalf("expected persisted total 1, got %d", s.TotalQueries)
	}
}

func TestMonitorEvictsExpiredBuckets(t *testing.T) {
	current := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }
	m := New(nil, nil, nil, Options{Clock: clock, BucketRetention: 24 * time.Hour})

	m.LogSuccess("q1", domain.IntentUnknown, 1, domain.MixVectorOnly, 1, usecase.StageTimings{})
	current = current.Add(48 * time.Hour)
	m.LogSuccess("q2", domain.IntentUnknown, 1, domain.MixVectorOnly, 1, usecase.StageTimings{})

	s := m.Report()
	if len(s.Hourly) != 1 {
		t.Fatalf("expected expired hourly bucket evicted, got %d", len(s.Hourly))
	}
	if s.TotalQueries != 2 {
		t.Fatalf("lifetime counters must survive eviction, got %d", s.TotalQueries)
	}
}

func TestMonitorRunFlushesOnTickerAndShutdown(t *testing.T) {
	store := &fakeSnapshotStore{}
	m := New(store, nil, nil, Options{FlushInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	time.Sleep(35 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop after cancellation")
	}

	if len(store.saved) < 2 {
		t.Fatalf("expected ticker flushes plus final flush, got %d", len(store.saved))
	}
}
