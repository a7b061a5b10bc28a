package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/sprintpulse/sprintpulse/internal/exporter"
	"github.com/sprintpulse/sprintpulse/internal/history"
	"github.com/sprintpulse/sprintpulse/internal/metrics"
	"github.com/sprintpulse/sprintpulse/internal/notify"
	"github.com/sprintpulse/sprintpulse/internal/store"
)

// HistoryReader lists past runs for a team.
type HistoryReader interface {
	List(ctx context.Context, team string, limit int) ([]history.Run, error)
}

// Option configures optional routes and middleware.
type Option func(*Handler)

// WithHub mounts hub at /ws/stream.
func WithHub(hub http.Handler) Option {
	return func(h *Handler) { h.hub = hub }
}

// WithHistory enables GET /api/v1/reports/{team}/history.
func WithHistory(hr HistoryReader) Option {
	return func(h *Handler) { h.history = hr }
}

// WithAuth guards /api/v1 with APIKeyMiddleware(mode, header, key).
func WithAuth(mode, header, key string) Option {
	return func(h *Handler) { h.auth = APIKeyMiddleware(mode, header, key) }
}

// Handler is the HTTP handler for all routes.
type Handler struct {
	store   *store.Store
	history HistoryReader
	hub     http.Handler
	auth    mux.MiddlewareFunc
	router  *mux.Router
	now     func() time.Time
}

// New creates a Handler wired to the given report store and registers all routes.
func New(st *store.Store, opts ...Option) http.Handler {
	h := &Handler{store: st, router: mux.NewRouter(), now: time.Now}
	for _, opt := range opts {
		opt(h)
	}

	notFound := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusNotFound, "not found")
	})
	notAllowed := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	h.router.NotFoundHandler = notFound
	h.router.MethodNotAllowedHandler = notAllowed

	v1 := h.router.PathPrefix("/api/v1").Subrouter()
	v1.NotFoundHandler = notFound
	v1.MethodNotAllowedHandler = notAllowed
	if h.auth != nil {
		v1.Use(h.auth)
	}
	v1.HandleFunc("/health", h.health).Methods(http.MethodGet)
	v1.HandleFunc("/reports", h.listReports).Methods(http.MethodGet)
	v1.HandleFunc("/reports/{team}", h.getReport).Methods(http.MethodGet)
	v1.HandleFunc("/reports/{team}/anomalies", h.anomalies).Methods(http.MethodGet)
	v1.HandleFunc("/reports/{team}/history", h.runHistory).Methods(http.MethodGet)
	v1.HandleFunc("/reports/{team}/slack", h.slackHealthCheck).Methods(http.MethodGet)

	h.router.HandleFunc("/metrics", h.serveMetrics).Methods(http.MethodGet)
	if h.hub != nil {
		h.router.Handle("/ws/stream", h.hub)
	}

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health: average PR health and anomaly counts.
func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	entries := h.store.List()
	resp := HealthResponse{
		TeamCount:   len(entries),
		Anomalies:   make(map[string]int, 4),
		GeneratedAt: h.now().UTC().Format(time.RFC3339),
	}
	for _, sev := range []metrics.Severity{metrics.SeverityCritical, metrics.SeverityHigh, metrics.SeverityMedium, metrics.SeverityLow} {
		resp.Anomalies[string(sev)] = 0
	}

	if len(entries) == 0 {
		resp.State = "unknown"
		jsonResp(w, http.StatusOK, resp)
		return
	}

	var total int
	for _, e := range entries {
		total += e.Report.PRHealth.Score
		for sev, n := range metrics.CountBySeverity(e.Report.Anomalies) {
			resp.Anomalies[string(sev)] += n
		}
	}
	avg := float64(total) / float64(len(entries))
	resp.AverageScore = float64(int(avg*10+0.5)) / 10
	resp.State = metrics.HealthState(int(avg))
	jsonResp(w, http.StatusOK, resp)
}

// listReports returns GET /api/v1/reports: every fresh report, sorted by team.
func (h *Handler) listReports(w http.ResponseWriter, _ *http.Request) {
	entries := h.store.List()
	out := make([]ReportResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toReportResponse(e))
	}
	jsonResp(w, http.StatusOK, out)
}

// getReport returns GET /api/v1/reports/{team}.
func (h *Handler) getReport(w http.ResponseWriter, r *http.Request) {
	e, ok := h.store.Get(mux.Vars(r)["team"])
	if !ok {
		jsonErr(w, http.StatusNotFound, "team not found")
		return
	}
	jsonResp(w, http.StatusOK, toReportResponse(e))
}

// anomalies returns GET /api/v1/reports/{team}/anomalies?severity=high.
func (h *Handler) anomalies(w http.ResponseWriter, r *http.Request) {
	team := mux.Vars(r)["team"]
	e, ok := h.store.Get(team)
	if !ok {
		jsonErr(w, http.StatusNotFound, "team not found")
		return
	}

	resp := AnomaliesResponse{Team: team, Anomalies: e.Report.Anomalies}
	if raw := r.URL.Query().Get("severity"); raw != "" {
		sev := metrics.Severity(raw)
		if !sev.Valid() {
			jsonErr(w, http.StatusBadRequest, "severity must be one of critical, high, medium, low")
			return
		}
		resp.Severity = raw
		resp.Anomalies = e.Report.AnomaliesAtLeast(sev)
	}
	if resp.Anomalies == nil {
		resp.Anomalies = []metrics.Anomaly{}
	}
	resp.Count = len(resp.Anomalies)
	jsonResp(w, http.StatusOK, resp)
}

// slackHealthCheck returns GET /api/v1/reports/{team}/slack: the short health
// check as a Slack message body, ready for a slash command response.
func (h *Handler) slackHealthCheck(w http.ResponseWriter, r *http.Request) {
	e, ok := h.store.Get(mux.Vars(r)["team"])
	if !ok {
		jsonErr(w, http.StatusNotFound, "team not found")
		return
	}
	jsonResp(w, http.StatusOK, SlackMessageResponse{
		Text:   "Sprint Health Check",
		Blocks: notify.HealthCheck(e.Report),
	})
}

// runHistory returns GET /api/v1/reports/{team}/history?limit=N.
func (h *Handler) runHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		jsonErr(w, http.StatusNotFound, "history is not enabled")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			jsonErr(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	team := mux.Vars(r)["team"]
	runs, err := h.history.List(r.Context(), team, limit)
	if err != nil {
		slog.Error("api: history list failed", "team", team, "err", err)
		jsonErr(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}
	jsonResp(w, http.StatusOK, HistoryResponse{Team: team, Runs: runs})
}

// serveMetrics returns GET /metrics in the Prometheus text format.
func (h *Handler) serveMetrics(w http.ResponseWriter, _ *http.Request) {
	body, err := exporter.Render(h.store.Reports())
	if err != nil {
		slog.Error("api: render metrics failed", "err", err)
		http.Error(w, "render metrics", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", exporter.ContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(body) //nolint:errcheck
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func toReportResponse(e *store.Entry) ReportResponse {
	return ReportResponse{
		Report:    e.Report,
		UpdatedAt: e.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
