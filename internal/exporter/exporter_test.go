package exporter

import (
	"bytes"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/sprintpulse/sprintpulse/internal/metrics"
	"github.com/sprintpulse/sprintpulse/pkg/activity"
)

var baseTime = time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC)

func sampleReports() []*metrics.Report {
	blocked := activity.Ticket{ID: "T-1", Status: activity.TicketBlocked, IsBlocked: true}
	sprint := activity.NewSprint("7", "Sprint 7", activity.SourceJira, nil, nil, []activity.Ticket{blocked})
	return []*metrics.Report{
		{
			Team:        "api",
			GeneratedAt: baseTime,
			PRHealth:    metrics.PRHealthScore{Score: 72},
			PRSummary:   metrics.PRSummary{Open: 3, Draft: 1, Stuck: []activity.PullRequest{{Number: 1}}},
			Sprint:      sprint,
			Velocity:    &metrics.SprintVelocity{VelocityScore: 64, CompletionPercentage: 41.5},
			Anomalies: []metrics.Anomaly{
				{ID: "a", Severity: metrics.SeverityCritical},
				{ID: "b", Severity: metrics.SeverityHigh},
				{ID: "c", Severity: metrics.SeverityHigh},
			},
		},
		{
			Team:        "web",
			GeneratedAt: baseTime,
			PRHealth:    metrics.PRHealthScore{Score: 100},
		},
	}
}

// parse decodes the rendered exposition back into metric families.
func parse(t *testing.T, data []byte) map[string]*dto.MetricFamily {
	t.Helper()
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("parse exposition: %v\n%s", err, data)
	}
	return mfs
}

// value returns the gauge value in mf whose labels include every pair in want.
func value(t *testing.T, mf *dto.MetricFamily, want map[string]string) float64 {
	t.Helper()
	if mf == nil {
		t.Fatal("metric family missing")
	}
outer:
	for _, m := range mf.GetMetric() {
		for k, v := range want {
			found := false
			for _, lp := range m.GetLabel() {
				if lp.GetName() == k && lp.GetValue() == v {
					found = true
					break
				}
			}
			if !found {
				continue outer
			}
		}
		return m.GetGauge().GetValue()
	}
	t.Fatalf("%s: no sample with labels %v", mf.GetName(), want)
	return 0
}

func TestRender_Values(t *testing.T) {
	data, err := Render(sampleReports())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	mfs := parse(t, data)

	tests := []struct {
		name   string
		metric string
		labels map[string]string
		want   float64
	}{
		{"api health", MetricPRHealthScore, map[string]string{"team": "api"}, 72},
		{"web health", MetricPRHealthScore, map[string]string{"team": "web"}, 100},
		{"velocity", MetricVelocityScore, map[string]string{"team": "api"}, 64},
		{"completion", MetricCompletionPercentage, map[string]string{"team": "api"}, 41.5},
		{"blocked", MetricBlockedTickets, map[string]string{"team": "api"}, 1},
		{"open", MetricOpenPRs, map[string]string{"team": "api", "status": "open"}, 3},
		{"draft", MetricOpenPRs, map[string]string{"team": "api", "status": "draft"}, 1},
		{"stuck", MetricOpenPRs, map[string]string{"team": "api", "status": "stuck"}, 1},
		{"critical", MetricAnomalies, map[string]string{"team": "api", "severity": "critical"}, 1},
		{"high", MetricAnomalies, map[string]string{"team": "api", "severity": "high"}, 2},
		{"low zero-filled", MetricAnomalies, map[string]string{"team": "web", "severity": "low"}, 0},
		{"timestamp", MetricReportAge, map[string]string{"team": "web"}, float64(baseTime.Unix())},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := value(t, mfs[tc.metric], tc.labels); got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRender_GaugeType(t *testing.T) {
	data, _ := Render(sampleReports())
	for name, mf := range parse(t, data) {
		if mf.GetType() != dto.MetricType_GAUGE {
			t.Errorf("%s: type %v, want GAUGE", name, mf.GetType())
		}
	}
}

func TestRender_NoSprintOmitsVelocity(t *testing.T) {
	data, _ := Render(sampleReports()[1:])
	mfs := parse(t, data)
	for _, name := range []string{MetricVelocityScore, MetricCompletionPercentage, MetricBlockedTickets} {
		if _, ok := mfs[name]; ok {
			t.Errorf("%s present for a team without a sprint", name)
		}
	}
}

func TestRender_Empty(t *testing.T) {
	data, err := Render(nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("expected empty output, got %q", data)
	}
}

func TestContentType(t *testing.T) {
	if !strings.HasPrefix(ContentType, "text/plain") {
		t.Errorf("ContentType = %q", ContentType)
	}
}
