// Package exporter renders team reports in the Prometheus text exposition
// format for scraping at /metrics.
package exporter

import (
	"bytes"
	"fmt"
	"io"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/sprintpulse/sprintpulse/internal/metrics"
)

// Metric names exposed by WriteTo.
const (
	MetricPRHealthScore        = "sprintpulse_pr_health_score"
	MetricVelocityScore        = "sprintpulse_velocity_score"
	MetricCompletionPercentage = "sprintpulse_completion_percentage"
	MetricBlockedTickets       = "sprintpulse_blocked_tickets"
	MetricOpenPRs              = "sprintpulse_open_prs"
	MetricAnomalies            = "sprintpulse_anomalies"
	MetricReportAge            = "sprintpulse_report_timestamp_seconds"
)

// ContentType is the Content-Type of the rendered exposition.
var ContentType = string(expfmt.NewFormat(expfmt.TypeTextPlain))

var severities = []metrics.Severity{
	metrics.SeverityCritical,
	metrics.SeverityHigh,
	metrics.SeverityMedium,
	metrics.SeverityLow,
}

// Render returns the exposition for reports as a byte slice.
func Render(reports []*metrics.Report) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteTo(&buf, reports); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTo writes one gauge family per metric. Families without samples are
// omitted. Velocity gauges are only emitted for teams with an active sprint.
func WriteTo(w io.Writer, reports []*metrics.Report) error {
	for _, mf := range families(reports) {
		if len(mf.Metric) == 0 {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("exporter: write %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

func families(reports []*metrics.Report) []*dto.MetricFamily {
	health := gaugeFamily(MetricPRHealthScore, "Pull request health score (0-100).")
	velocity := gaugeFamily(MetricVelocityScore, "Sprint velocity score (0-100).")
	completion := gaugeFamily(MetricCompletionPercentage, "Percentage of sprint points completed.")
	blocked := gaugeFamily(MetricBlockedTickets, "Tickets currently blocked in the active sprint.")
	open := gaugeFamily(MetricOpenPRs, "Active pull requests by status.")
	anomalies := gaugeFamily(MetricAnomalies, "Detected anomalies by severity.")
	generated := gaugeFamily(MetricReportAge, "Unix time the report was generated.")

	for _, r := range reports {
		team := label("team", r.Team)

		health.Metric = append(health.Metric, gauge(float64(r.PRHealth.Score), team))
		generated.Metric = append(generated.Metric, gauge(float64(r.GeneratedAt.Unix()), team))

		if r.Velocity != nil {
			velocity.Metric = append(velocity.Metric, gauge(float64(r.Velocity.VelocityScore), team))
			completion.Metric = append(completion.Metric, gauge(r.Velocity.CompletionPercentage, team))
		}
		if r.Sprint != nil {
			blocked.Metric = append(blocked.Metric, gauge(float64(len(r.Sprint.BlockedTickets())), team))
		}

		open.Metric = append(open.Metric,
			gauge(float64(r.PRSummary.Open), team, label("status", "open")),
			gauge(float64(r.PRSummary.Draft), team, label("status", "draft")),
			gauge(float64(len(r.PRSummary.Stuck)), team, label("status", "stuck")),
		)

		counts := metrics.CountBySeverity(r.Anomalies)
		for _, sev := range severities {
			anomalies.Metric = append(anomalies.Metric, gauge(float64(counts[sev]), team, label("severity", string(sev))))
		}
	}

	return []*dto.MetricFamily{health, velocity, completion, blocked, open, anomalies, generated}
}

func gaugeFamily(name, help string) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: ptr(name),
		Help: ptr(help),
		Type: dto.MetricType_GAUGE.Enum(),
	}
}

func gauge(v float64, labels ...*dto.LabelPair) *dto.Metric {
	return &dto.Metric{
		Label: labels,
		Gauge: &dto.Gauge{Value: ptr(v)},
	}
}

func label(name, value string) *dto.LabelPair {
	return &dto.LabelPair{Name: ptr(name), Value: ptr(value)}
}

func ptr[T any](v T) *T { return &v }
