package metrics

import (
	"fmt"
	"time"

	"github.com/sprintpulse/sprintpulse/pkg/activity"
)

// Health state labels derived from a 0–100 score.
const (
	StateGood = "good"
	StateFair = "fair"
	StatePoor = "poor"
)

// Thresholds that map a score to a health state.
const (
	ThresholdGood = 80
	ThresholdFair = 60
)

// HealthState maps a 0–100 score to good, fair or poor.
func HealthState(score int) string {
	switch {
	case score >= ThresholdGood:
		return StateGood
	case score >= ThresholdFair:
		return StateFair
	default:
		return StatePoor
	}
}

// Input is one team's snapshot for a single evaluation.
type Input struct {
	Team string
	PRs  []activity.PullRequest

	// Sprint is nil when the team has no active sprint; the report then
	// carries PR results only.
	Sprint *activity.Sprint

	// SprintLengthDays is used for the report header and as the velocity
	// fallback when the sprint has no end date. <= 0 means DefaultSprintDays.
	SprintLengthDays int
}

// Report is the full derived picture for one team at one instant.
type Report struct {
	Team        string    `json:"team"`
	GeneratedAt time.Time `json:"generated_at"`

	PRHealth  PRHealthScore `json:"pr_health"`
	PRSummary PRSummary     `json:"pr_summary"`

	Sprint   *activity.Sprint `json:"sprint,omitempty"`
	Velocity *SprintVelocity  `json:"velocity,omitempty"`

	Anomalies []Anomaly `json:"anomalies"`

	DayOfSprint  int `json:"day_of_sprint"`
	SprintLength int `json:"sprint_length"`
}

// Evaluate scores in as of now. now is shared by the velocity calculation and
// anomaly detection so both agree on the same instant.
func Evaluate(in Input, now time.Time) (*Report, error) {
	length := in.SprintLengthDays
	if length <= 0 {
		length = DefaultSprintDays
	}

	r := &Report{
		Team:         in.Team,
		GeneratedAt:  now,
		PRHealth:     ScorePRs(in.PRs),
		PRSummary:    Summarize(in.PRs),
		Sprint:       in.Sprint,
		DayOfSprint:  1,
		SprintLength: length,
	}

	if in.Sprint != nil {
		v, err := CalculateVelocity(in.Sprint, now, length)
		if err != nil {
			return nil, fmt.Errorf("metrics: evaluate %s: %w", in.Team, err)
		}
		r.Velocity = &v
		if in.Sprint.Start != nil {
			r.DayOfSprint = max(1, activity.DaysBetween(now, *in.Sprint.Start)+1)
		}
	}

	r.Anomalies = DetectAll(in.PRs, in.Sprint, r.Velocity, now)
	return r, nil
}

// AnomaliesAtLeast returns the anomalies whose severity is floor or worse.
func (r *Report) AnomaliesAtLeast(floor Severity) []Anomaly {
	out := []Anomaly{}
	for _, a := range r.Anomalies {
		if a.Severity.Rank() <= floor.Rank() {
			out = append(out, a)
		}
	}
	return out
}

// IssuesBySeverity returns the PR health issues with exactly sev.
func (r *Report) IssuesBySeverity(sev Severity) []Issue {
	var out []Issue
	for _, i := range r.PRHealth.Issues {
		if i.Severity == sev {
			out = append(out, i)
		}
	}
	return out
}
