package metrics

import (
	"encoding/json"
	"testing"

	"github.com/sprintpulse/sprintpulse/pkg/activity"
)

func TestHealthState(t *testing.T) {
	tests := []struct {
		score int
		want  string
	}{
		{100, StateGood},
		{80, StateGood},
		{79, StateFair},
		{60, StateFair},
		{59, StatePoor},
		{0, StatePoor},
	}
	for _, tt := range tests {
		if got := HealthState(tt.score); got != tt.want {
			t.Errorf("HealthState(%d) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestEvaluate_PROnly(t *testing.T) {
	pr := openPR(42, 6)
	pr.ReviewCount = 0

	r, err := Evaluate(Input{Team: "platform", PRs: []activity.PullRequest{pr}}, baseTime)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if r.Team != "platform" || !r.GeneratedAt.Equal(baseTime) {
		t.Errorf("header = %q %v", r.Team, r.GeneratedAt)
	}
	if r.PRHealth.Score != 75 {
		t.Errorf("PRHealth.Score = %d, want 75", r.PRHealth.Score)
	}
	if r.Velocity != nil || r.Sprint != nil {
		t.Error("no sprint supplied but velocity/sprint present")
	}
	if r.DayOfSprint != 1 || r.SprintLength != DefaultSprintDays {
		t.Errorf("DayOfSprint/SprintLength = %d/%d, want 1/%d", r.DayOfSprint, r.SprintLength, DefaultSprintDays)
	}
	if len(r.Anomalies) != 1 || r.Anomalies[0].ID != "pr-stale-42" {
		t.Errorf("Anomalies = %+v", r.Anomalies)
	}
}

func TestEvaluate_WithSprint(t *testing.T) {
	s := activity.NewSprint("9", "Sprint 9", activity.SourceJira, timeAt(-4*day), timeAt(10*day), []activity.Ticket{
		{ID: "1", Status: activity.TicketDone, StoryPoints: pts(5), CreatedAt: daysAgo(10), UpdatedAt: daysAgo(1)},
		{ID: "2", Status: activity.TicketInProgress, StoryPoints: pts(5), CreatedAt: daysAgo(10), UpdatedAt: daysAgo(7)},
	})

	r, err := Evaluate(Input{Team: "t", Sprint: s, SprintLengthDays: 14}, baseTime)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if r.Velocity == nil {
		t.Fatal("Velocity is nil")
	}
	if r.Velocity.CompletionPercentage != 50 {
		t.Errorf("CompletionPercentage = %v, want 50", r.Velocity.CompletionPercentage)
	}
	if r.DayOfSprint != 5 {
		t.Errorf("DayOfSprint = %d, want 5", r.DayOfSprint)
	}
	if r.SprintLength != 14 {
		t.Errorf("SprintLength = %d, want 14", r.SprintLength)
	}
	if len(r.Anomalies) != 1 || r.Anomalies[0].Type != AnomalyStaleTicket {
		t.Errorf("Anomalies = %+v", r.Anomalies)
	}
}

func TestEvaluate_FutureSprintDayIsOne(t *testing.T) {
	s := activity.NewSprint("9", "Next", activity.SourceJira, timeAt(3*day), timeAt(13*day), nil)
	r, err := Evaluate(Input{Sprint: s}, baseTime)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if r.DayOfSprint != 1 {
		t.Errorf("DayOfSprint = %d, want 1", r.DayOfSprint)
	}
}

func TestEvaluate_Idempotent(t *testing.T) {
	pr := openPR(1, 9)
	pr.HoursSinceLastActivity = hours(80)
	in := Input{Team: "t", PRs: []activity.PullRequest{pr, draftPR(2, 11)}, Sprint: blockedSprint(4)}

	a, err := Evaluate(in, baseTime)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	b, _ := Evaluate(in, baseTime)
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	if string(ja) != string(jb) {
		t.Errorf("reports differ:\n%s\n%s", ja, jb)
	}
}

func TestReport_Filters(t *testing.T) {
	r := &Report{
		Anomalies: []Anomaly{{ID: "c", Severity: SeverityCritical}, {ID: "h", Severity: SeverityHigh}, {ID: "m", Severity: SeverityMedium}},
		PRHealth:  PRHealthScore{Issues: []Issue{{Severity: SeverityHigh}, {Severity: SeverityLow}, {Severity: SeverityHigh}}},
	}
	if got := r.AnomaliesAtLeast(SeverityHigh); len(got) != 2 || got[1].ID != "h" {
		t.Errorf("AnomaliesAtLeast(high) = %+v", got)
	}
	if got := r.IssuesBySeverity(SeverityHigh); len(got) != 2 {
		t.Errorf("IssuesBySeverity(high) = %+v", got)
	}
}
