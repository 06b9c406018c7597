// Package chi is the ops HTTP surface: health, metrics, cache stats and
// knowledge base lookups over the in-process caches.
package chi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/fwcache/internal/domain"
	domrag "github.com/kailas-cloud/fwcache/internal/domain/rag"
	logpkg "github.com/kailas-cloud/fwcache/internal/logger"
	"github.com/kailas-cloud/fwcache/internal/metrics"
	embeddinguc "github.com/kailas-cloud/fwcache/internal/usecase/embedding"
	"github.com/kailas-cloud/fwcache/internal/usecase/fingerprint"
	healthuc "github.com/kailas-cloud/fwcache/internal/usecase/health"
	"github.com/kailas-cloud/fwcache/internal/usecase/rag"
	"github.com/kailas-cloud/fwcache/internal/usecase/semantic"
)

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 50
)

// Server serves the ops endpoints.
type Server struct {
	fingerprint FingerprintCache
	semantic    SemanticCache
	kb          KnowledgeBase
	health      HealthChecker
	budget      BudgetReader
	logger      *zap.Logger
}

// NewServer creates the ops server. kb may be nil when the knowledge base is disabled.
func NewServer(
	fp FingerprintCache,
	sem SemanticCache,
	kb KnowledgeBase,
	health HealthChecker,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		fingerprint: fp,
		semantic:    sem,
		kb:          kb,
		health:      health,
		logger:      logger,
	}
}

// WithBudget exposes budget counters in the stats response.
func (s *Server) WithBudget(b BudgetReader) *Server {
	s.budget = b
	return s
}

// Router returns the full handler with middleware applied.
func (s *Server) Router(apiKeys []string) http.Handler {
	r := chi.NewRouter()
	r.Use(JSONRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(WideEvent(s.logger))
	r.Use(BearerAuthMiddleware(apiKeys))
	r.Use(metrics.Middleware())

	r.Get("/healthz", s.HealthCheck)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/cache/stats", s.CacheStats)
		r.Post("/cache/clear", s.ClearCaches)
		if s.kb != nil {
			r.Get("/kb/documents", s.ListDocuments)
			r.Get("/kb/documents/{id}", s.GetDocument)
			r.Get("/kb/search", s.SearchDocuments)
		}
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "route not found")
	})
	return r
}

// HealthCheck handles GET /healthz.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	status := http.StatusOK
	if report.Status != healthuc.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// StatsResponse is the body of GET /v1/cache/stats.
type StatsResponse struct {
	Fingerprint   fingerprint.Stats         `json:"fingerprint"`
	Semantic      semantic.Stats            `json:"semantic"`
	KnowledgeBase *rag.Stats                `json:"knowledge_base,omitempty"`
	Budget        *embeddinguc.BudgetStatus `json:"budget,omitempty"`
}

// CacheStats handles GET /v1/cache/stats.
func (s *Server) CacheStats(w http.ResponseWriter, _ *http.Request) {
	resp := StatsResponse{
		Fingerprint: s.fingerprint.Stats(),
		Semantic:    s.semantic.Stats(),
	}
	if s.kb != nil {
		st := s.kb.Stats()
		resp.KnowledgeBase = &st
	}
	if s.budget != nil {
		st := s.budget.Status()
		resp.Budget = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

// ClearResponse lists the caches that were cleared.
type ClearResponse struct {
	Cleared []string `json:"cleared"`
}

// ClearCaches handles POST /v1/cache/clear. The optional ?cache= parameter
// (fingerprint or semantic) limits the clear to one cache.
func (s *Server) ClearCaches(w http.ResponseWriter, r *http.Request) {
	var cleared []string
	switch target := r.URL.Query().Get("cache"); target {
	case "":
		s.fingerprint.Clear()
		s.semantic.Clear()
		cleared = []string{"fingerprint", "semantic"}
	case "fingerprint":
		s.fingerprint.Clear()
		cleared = []string{target}
	case "semantic":
		s.semantic.Clear()
		cleared = []string{target}
	default:
		writeError(w, http.StatusBadRequest, CodeBadRequest, "cache must be fingerprint or semantic")
		return
	}

	logpkg.FromContext(r.Context()).Info("caches cleared via ops api", zap.Strings("caches", cleared))
	writeJSON(w, http.StatusOK, ClearResponse{Cleared: cleared})
}

// ListDocuments handles GET /v1/kb/documents.
func (s *Server) ListDocuments(w http.ResponseWriter, _ *http.Request) {
	docs := s.kb.ListDocuments()
	if docs == nil {
		docs = []domrag.DocumentInfo{}
	}
	writeJSON(w, http.StatusOK, docs)
}

// GetDocument handles GET /v1/kb/documents/{id}.
func (s *Server) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.kb.GetDocument(chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc.Info())
}

// SearchResponse is the body of GET /v1/kb/search.
type SearchResponse struct {
	Query   string                `json:"query"`
	Results []domrag.SearchResult `json:"results"`
}

// SearchDocuments handles GET /v1/kb/search?q=&limit=&min_score=.
func (s *Server) SearchDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "q is required")
		return
	}

	limit := defaultSearchLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxSearchLimit {
			writeError(w, http.StatusBadRequest, CodeValidationFailed,
				"limit must be between 1 and "+strconv.Itoa(maxSearchLimit))
			return
		}
		limit = n
	}

	var minScore float32
	if v := q.Get("min_score"); v != "" {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil || f < -1 || f > 1 {
			writeError(w, http.StatusBadRequest, CodeValidationFailed, "min_score must be between -1 and 1")
			return
		}
		minScore = float32(f)
	}

	results, err := s.kb.Search(r.Context(), query, limit, minScore)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if results == nil {
		results = []domrag.SearchResult{}
	}

	setEmbeddingHeaders(w, domain.UsageFromContext(r.Context()))
	writeJSON(w, http.StatusOK, SearchResponse{Query: query, Results: results})
}

// handleDomainError logs with the request logger WideEvent put in the context.
func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	logger := logpkg.FromContext(r.Context())
	for _, h := range errorHandlers {
		if h(w, err) {
			if !errors.Is(err, domain.ErrDocumentNotFound) {
				logger.Warn("domain error", zap.Error(err))
			}
			return
		}
	}
	logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}
