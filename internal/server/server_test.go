package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/exitshim/internal/report"
	"github.com/psantana5/exitshim/pkg/auth"
	"github.com/psantana5/exitshim/pkg/redirect"
	"github.com/psantana5/exitshim/pkg/store"
)

func newServer(t *testing.T) (*Server, *store.MemoryStore) {
	t.Helper()
	metrics := report.NewMetrics()
	recent := report.NewInterceptionLog(10)
	s := store.NewMemoryStore()

	outcomes := []redirect.Outcome{
		{Returned: true, Status: 0},
		{Kind: redirect.KindNormal, Status: 2},
		{Kind: redirect.KindImmediate, Status: 1},
	}
	start := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	for i, o := range outcomes {
		r := report.NewResult("run-1", "demo", uint64(i), "in", []byte{byte(i)})
		r.SetTiming(start, start.Add(time.Millisecond))
		r.SetOutcome(o)
		metrics.IncrStarted()
		metrics.RecordResult(r)
		recent.Record(r)
		require.NoError(t, s.Save(r))
	}
	return New(metrics, recent, s, nil), s
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	srv, _ := newServer(t)
	rec := get(t, srv.Router(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestMetrics(t *testing.T) {
	srv, _ := newServer(t)
	rec := get(t, srv.Router(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "exitshim_iterations_started_total 3")
	assert.Contains(t, body, `exitshim_interceptions_total{outcome="immediate_exit",status="1"} 1`)
}

func TestInterceptions(t *testing.T) {
	srv, _ := newServer(t)

	rec := get(t, srv.Router(), "/interceptions")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Interceptions []report.InterceptionSample `json:"interceptions"`
		Count         int                         `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, report.OutcomeImmediateExit, body.Interceptions[0].Outcome)

	rec = get(t, srv.Router(), "/interceptions?limit=1")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)

	rec = get(t, srv.Router(), "/interceptions?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRuns(t *testing.T) {
	srv, _ := newServer(t)
	router := srv.Router()

	rec := get(t, router, "/runs")
	assert.JSONEq(t, `{"runs":["run-1"],"count":1}`, rec.Body.String())

	rec = get(t, router, "/runs/run-1/results?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":2`)

	rec = get(t, router, "/runs/missing/results")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(t, router, "/runs/run-1/statuses")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `"outcome":"exit","status":2,"count":1`))
}

func TestRunsDisabledWithoutStore(t *testing.T) {
	srv := New(report.NewMetrics(), report.NewInterceptionLog(1), nil, nil)
	rec := get(t, srv.Router(), "/runs")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newServer(t)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRequireKeys(t *testing.T) {
	srv, _ := newServer(t)
	keys := auth.NewKeySet()
	require.NoError(t, keys.Add("scrape"))
	srv.RequireKeys(keys)
	router := srv.Router()

	assert.Equal(t, http.StatusOK, get(t, router, "/health").Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, router, "/metrics").Code)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Bearer scrape")
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
