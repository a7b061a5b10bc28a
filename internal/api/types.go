package api

import (
	"github.com/sprintpulse/sprintpulse/internal/history"
	"github.com/sprintpulse/sprintpulse/internal/metrics"
	"github.com/sprintpulse/sprintpulse/internal/notify"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	// State is good, fair or poor from the average PR health score, or
	// unknown when no team has a fresh report.
	State        string         `json:"state"`
	AverageScore float64        `json:"average_pr_health_score"`
	TeamCount    int            `json:"team_count"`
	Anomalies    map[string]int `json:"anomalies"`
	GeneratedAt  string         `json:"generated_at"` // RFC3339
}

// ReportResponse is one team's report plus the time it was stored.
type ReportResponse struct {
	*metrics.Report
	UpdatedAt string `json:"updated_at"` // RFC3339
}

// AnomaliesResponse is the payload for GET /api/v1/reports/{team}/anomalies.
type AnomaliesResponse struct {
	Team      string            `json:"team"`
	Severity  string            `json:"severity,omitempty"`
	Count     int               `json:"count"`
	Anomalies []metrics.Anomaly `json:"anomalies"`
}

// HistoryResponse is the payload for GET /api/v1/reports/{team}/history.
type HistoryResponse struct {
	Team string        `json:"team"`
	Runs []history.Run `json:"runs"`
}

// SlackMessageResponse is the payload for GET /api/v1/reports/{team}/slack.
type SlackMessageResponse struct {
	Text   string         `json:"text"`
	Blocks []notify.Block `json:"blocks"`
}

// errorResponse is the standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}
