package httpadapter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/akulikov/kbdoc/internal/core/domain"
	"github.com/akulikov/kbdoc/internal/core/ports"
	"github.com/akulikov/kbdoc/internal/observability/metrics"
)

type Router struct {
	processing ports.ProcessingService
	search     ports.SearchService
	sync       ports.SyncService
	metrics    *metrics.HTTPServerMetrics
	logger     *slog.Logger
}

func NewRouter(
	processing ports.ProcessingService,
	search ports.SearchService,
	sync ports.SyncService,
	m *metrics.HTTPServerMetrics,
	logger *slog.Logger,
) *Router {
	return &Router{
		processing: processing,
		search:     search,
		sync:       sync,
		metrics:    m,
		logger:     logger,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/processing", rt.requestProcessing)
	mux.HandleFunc("/v1/processing/", rt.getProcessingStatus)
	mux.HandleFunc("/v1/documents", rt.removeDocuments)
	mux.HandleFunc("/v1/documents/cancel", rt.cancelDocument)
	mux.HandleFunc("/v1/search", rt.searchChunks)
	mux.HandleFunc("/v1/sync", rt.syncKnowledgeBase)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware("api", handler)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) requestProcessing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		Paths  []string `json:"paths"`
		KBCode string   `json:"kb_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if len(req.Paths) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "paths is required"})
		return
	}

	request, err := rt.processing.RequestProcessing(r.Context(), req.Paths, req.KBCode)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordDocumentsAccepted("api", len(request.Paths))
	}
	writeJSON(w, http.StatusAccepted, request)
}

func (rt *Router) getProcessingStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/processing/")
	if id == "" || strings.Contains(id, "/") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "request id is required"})
		return
	}

	progress, err := rt.processing.GetStatus(r.Context(), id)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (rt *Router) removeDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		Paths  []string `json:"paths"`
		KBCode string   `json:"kb_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if len(req.Paths) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "paths is required"})
		return
	}

	if err := rt.processing.RemoveDocuments(r.Context(), req.Paths, req.KBCode); err != nil {
		rt.writeError(w, r, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordDocumentsPurged("api", len(req.Paths))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) cancelDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		Path   string `json:"path"`
		KBCode string `json:"kb_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "path is required"})
		return
	}

	if err := rt.processing.CancelDocument(r.Context(), req.Path, req.KBCode); err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "canceling"})
}

func (rt *Router) searchChunks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		Query  string `json:"query"`
		K      int    `json:"k"`
		KBCode string `json:"kb_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	start := time.Now()
	chunks, err := rt.search.Query(r.Context(), req.Query, req.K, domain.SearchScope{KBCode: req.KBCode})
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordSearch("api", len(chunks), time.Since(start))
	}
	writeJSON(w, http.StatusOK, map[string]any{"chunks": chunks})
}

func (rt *Router) syncKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		KBCode string `json:"kb_code"`
		Full   bool   `json:"full"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	result, err := rt.sync.Sync(r.Context(), req.KBCode, req.Full)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordDocumentsAccepted("api", len(result.Enqueued))
		rt.metrics.RecordDocumentsPurged("api", len(result.Removed))
	}
	writeJSON(w, http.StatusAccepted, result)
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= 500 && rt.logger != nil {
		rt.logger.Error("request failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
