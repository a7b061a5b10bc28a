package metrics

import (
	"fmt"
	"math"
	"time"

	"github.com/sprintpulse/sprintpulse/pkg/activity"
)

// DefaultSprintDays is the sprint length assumed when a sprint has no end date
// and the caller supplies none.
const DefaultSprintDays = 10

const (
	behindPenalty   = 20
	blockerPenalty  = 5
	lateSprintRatio = 0.3
)

// SprintVelocity is the output of CalculateVelocity. All point and rate fields
// are rounded to one decimal.
type SprintVelocity struct {
	CompletedPoints  float64 `json:"completed_points"`
	InProgressPoints float64 `json:"in_progress_points"`
	TotalPoints      float64 `json:"total_points"`

	// PlannedPoints equals TotalPoints; scope added mid-sprint is counted as
	// planned because historical scope is not tracked.
	PlannedPoints float64 `json:"planned_points"`

	CompletionPercentage float64 `json:"completion_percentage"`

	// DaysElapsed is negative when the sprint starts in the future.
	DaysElapsed   int `json:"days_elapsed"`
	DaysRemaining int `json:"days_remaining"`

	ExpectedBurndownRate float64 `json:"expected_burndown_rate"`
	ActualBurndownRate   float64 `json:"actual_burndown_rate"`
	IsOnTrack            bool    `json:"is_on_track"`
	VelocityScore        int     `json:"velocity_score"`
	ScopeCreep           float64 `json:"scope_creep"`
}

// CalculateVelocity derives velocity metrics for sprint as of now.
//
// defaultSprintDays is the sprint length used when the sprint has no end date;
// values <= 0 fall back to DefaultSprintDays. A nil sprint returns
// ErrInvalidInput.
func CalculateVelocity(sprint *activity.Sprint, now time.Time, defaultSprintDays int) (SprintVelocity, error) {
	if sprint == nil {
		return SprintVelocity{}, fmt.Errorf("metrics: calculate velocity: nil sprint: %w", ErrInvalidInput)
	}
	if defaultSprintDays <= 0 {
		defaultSprintDays = DefaultSprintDays
	}

	start := now
	if sprint.Start != nil {
		start = *sprint.Start
	}

	daysElapsed := activity.DaysBetween(now, start)
	daysRemaining := 0
	totalDays := defaultSprintDays
	if sprint.End != nil {
		daysRemaining = max(0, activity.DaysBetween(*sprint.End, now))
		totalDays = activity.DaysBetween(*sprint.End, start)
	}

	completed := sprint.CompletedPoints
	planned := sprint.TotalPoints
	remaining := planned - completed

	var completion float64
	if planned > 0 {
		completion = completed / planned * 100
	}

	var expectedRate, requiredRate float64
	if daysRemaining > 0 {
		expectedRate = remaining / float64(daysRemaining)
		requiredRate = expectedRate
	}
	var actualRate float64
	if daysElapsed > 0 {
		actualRate = completed / float64(daysElapsed)
	}

	onTrack := actualRate >= requiredRate || completed >= planned

	score := completion
	if !onTrack && float64(daysRemaining) < float64(totalDays)*lateSprintRatio {
		score -= behindPenalty
	}
	score -= float64(sprint.BlockedCount * blockerPenalty)

	var creep float64
	for _, t := range sprint.Tickets {
		if t.CreatedAt.After(start) {
			creep += t.Points()
		}
	}

	return SprintVelocity{
		CompletedPoints:      round1(completed),
		InProgressPoints:     round1(sprint.InProgressPoints),
		TotalPoints:          round1(sprint.TotalPoints),
		PlannedPoints:        round1(planned),
		CompletionPercentage: round1(completion),
		DaysElapsed:          daysElapsed,
		DaysRemaining:        daysRemaining,
		ExpectedBurndownRate: round1(expectedRate),
		ActualBurndownRate:   round1(actualRate),
		IsOnTrack:            onTrack,
		VelocityScore:        int(math.Round(clampScore(score))),
		ScopeCreep:           round1(creep),
	}, nil
}
