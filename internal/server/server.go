package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/psantana5/exitshim/internal/report"
	"github.com/psantana5/exitshim/pkg/auth"
	"github.com/psantana5/exitshim/pkg/logging"
	"github.com/psantana5/exitshim/pkg/middleware"
	"github.com/psantana5/exitshim/pkg/store"
)

// Server exposes a running campaign over HTTP: metrics for Prometheus,
// the recent interceptions, and stored results.
type Server struct {
	metrics *report.Metrics
	recent  *report.InterceptionLog
	store   store.Store
	logger  *logging.Logger
	keys    *auth.KeySet
}

// New creates a server. store may be nil, which disables the /runs routes.
func New(metrics *report.Metrics, recent *report.InterceptionLog, s store.Store, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{metrics: metrics, recent: recent, store: s, logger: logger}
}

// RequireKeys protects every route but /health with API keys from keys.
// An empty set leaves the server open.
func (s *Server) RequireKeys(keys *auth.KeySet) {
	s.keys = keys
}

// Router returns the HTTP routes.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	if s.keys != nil && s.keys.Len() > 0 {
		r.Use(middleware.RequireAPIKey(s.keys, s.logger, "/health"))
	}
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})).Methods("GET")
	r.HandleFunc("/interceptions", s.ListInterceptions).Methods("GET")
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods("GET")

	if s.store != nil {
		r.HandleFunc("/runs", s.ListRuns).Methods("GET")
		r.HandleFunc("/runs/{id}/results", s.ListResults).Methods("GET")
		r.HandleFunc("/runs/{id}/statuses", s.CountStatuses).Methods("GET")
	}
	return r
}

// HTTPServer wraps Router in an http.Server listening on addr.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// ListInterceptions returns the most recent interceptions, newest first
func (s *Server) ListInterceptions(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	samples := s.recent.GetRecent(limit)
	writeJSON(w, map[string]interface{}{
		"interceptions": samples,
		"count":         len(samples),
	})
}

// ListRuns returns stored run IDs
func (s *Server) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.Runs()
	if err != nil {
		s.internalError(w, "list runs", err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// ListResults returns the stored results of a run, newest first
func (s *Server) ListResults(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	runID := mux.Vars(r)["id"]
	results, err := s.store.List(runID, limit)
	if err != nil {
		s.internalError(w, "list results", err)
		return
	}
	if len(results) == 0 {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]interface{}{
		"results": results,
		"count":   len(results),
	})
}

// CountStatuses returns a run's results grouped by outcome and status
func (s *Server) CountStatuses(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	counts, err := s.store.CountByStatus(runID)
	if err != nil {
		s.internalError(w, "count statuses", err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"run_id":   runID,
		"statuses": counts,
	})
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error("request failed", logging.Fields{"op": op, "error": err.Error()})
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		http.Error(w, "Invalid limit", http.StatusBadRequest)
		return 0, false
	}
	return limit, true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
