package httpadapter

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/sveikata-ai/rag-engine/internal/core/domain"
	"github.com/sveikata-ai/rag-engine/internal/core/ports"
	"github.com/sveikata-ai/rag-engine/internal/monitor"
)

// StatsReporter is the slice of the monitor the router needs.
type StatsReporter interface {
	Report() monitor.Snapshot
	Reset()
}

type Router struct {
	queryService ports.QueryService
	stats        StatsReporter

	rateLimitRPS   float64
	rateLimitBurst int
}

type RouterOptions struct {
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(queryService ports.QueryService, stats StatsReporter, options RouterOptions) *Router {
	return &Router{
		queryService:   queryService,
		stats:          stats,
		rateLimitRPS:   options.RateLimitRPS,
		rateLimitBurst: options.RateLimitBurst,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/rag/query", rt.query)
	mux.HandleFunc("/v1/rag/stats", rt.statsReport)
	mux.HandleFunc("/v1/rag/stats/reset", rt.statsReset)

	var handler http.Handler = mux
	if rt.rateLimitRPS > 0 {
		handler = rateLimitMiddleware(handler, rt.rateLimitRPS, rt.rateLimitBurst)
	}
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type queryRequest struct {
	Question              string            `json:"question"`
	K                     int               `json:"k"`
	MinConfidence         float64           `json:"min_confidence"`
	Filters               map[string]string `json:"filters"`
	PrioritizedSourceURLs []string          `json:"prioritized_source_urls"`
	ConversationContext   string            `json:"conversation_context"`
}

func (rt *Router) query(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question is required"})
		return
	}

	answer, err := rt.queryService.Query(r.Context(), domain.QueryRequest{
		Text:                  req.Question,
		K:                     req.K,
		MinConfidence:         req.MinConfidence,
		Filters:               req.Filters,
		PrioritizedSourceURLs: req.PrioritizedSourceURLs,
		ConversationContext:   req.ConversationContext,
	})
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (rt *Router) statsReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, rt.stats.Report())
}

func (rt *Router) statsReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	rt.stats.Reset()
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "reset",
		"reset_at": time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
