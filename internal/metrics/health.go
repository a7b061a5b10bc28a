package metrics

import (
	"fmt"

	"github.com/sprintpulse/sprintpulse/pkg/activity"
)

// BaseScore is the PR health score before any deduction.
const BaseScore = 100

// Deductions applied per open pull request. Rules are independent; a single
// pull request can trigger several.
const (
	deductAge          = -10 // non-draft older than ageThresholdDays
	deductNoReviews    = -15 // non-draft with zero reviews
	deductFailedCI     = -20 // CI rollup failure or error
	deductStaleDraft   = -5  // draft older than draftThresholdDays
	deductUnresolved   = -10 // unresolved threads with activity older than unresolvedHours
	deductInactive     = -15 // non-draft with no activity for inactiveHours
	ageThresholdDays   = 3
	draftThresholdDays = 7
	stuckThresholdDays = 5
	unresolvedHours    = 24
	inactiveHours      = 48
	inactiveHighHours  = 72
)

// Deduction is one itemized score reduction. Points is always <= 0.
type Deduction struct {
	Reason string `json:"reason"`
	Points int    `json:"points"`
}

// Issue is a problem found on a single pull request.
type Issue struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	PRNumber int      `json:"pr_number"`
	PRURL    string   `json:"pr_url"`
}

// PRHealthScore is the output of ScorePRs. Deductions and Issues are in
// application order (pull request order, then rule order).
type PRHealthScore struct {
	Score      int         `json:"score"`
	BaseScore  int         `json:"base_score"`
	Deductions []Deduction `json:"deductions"`
	Issues     []Issue     `json:"issues"`
}

// ScorePRs computes the PR health score. Merged and closed pull requests are
// ignored. A nil slice scores 100.
func ScorePRs(prs []activity.PullRequest) PRHealthScore {
	out := PRHealthScore{
		BaseScore:  BaseScore,
		Deductions: []Deduction{},
		Issues:     []Issue{},
	}
	raw := BaseScore

	add := func(pr activity.PullRequest, points int, reason string, sev Severity, msg string) {
		raw += points
		out.Deductions = append(out.Deductions, Deduction{Reason: reason, Points: points})
		out.Issues = append(out.Issues, Issue{Severity: sev, Message: msg, PRNumber: pr.Number, PRURL: pr.URL})
	}

	for _, pr := range prs {
		if !pr.IsActive() {
			continue
		}

		if pr.AgeInDays > ageThresholdDays && !pr.IsDraft {
			add(pr, deductAge,
				fmt.Sprintf("PR #%d is %d days old", pr.Number, pr.AgeInDays),
				ageSeverity(pr.AgeInDays),
				fmt.Sprintf("PR #%d has been open for %d days", pr.Number, pr.AgeInDays))
		}

		if pr.ReviewCount == 0 && !pr.IsDraft {
			add(pr, deductNoReviews,
				fmt.Sprintf("PR #%d has no reviewers", pr.Number),
				SeverityHigh,
				fmt.Sprintf("PR #%d has no reviews", pr.Number))
		}

		if pr.CIStatus == activity.CheckFailure || pr.CIStatus == activity.CheckError {
			msg := fmt.Sprintf("PR #%d has failed CI/CD checks", pr.Number)
			add(pr, deductFailedCI, msg, SeverityCritical, msg)
		}

		if pr.IsDraft && pr.AgeInDays > draftThresholdDays {
			add(pr, deductStaleDraft,
				fmt.Sprintf("Draft PR #%d is %d days old", pr.Number, pr.AgeInDays),
				SeverityLow,
				fmt.Sprintf("Draft PR #%d has been open for %d days", pr.Number, pr.AgeInDays))
		}

		if pr.HasUnresolvedComments && pr.InactiveFor(unresolvedHours) {
			add(pr, deductUnresolved,
				fmt.Sprintf("PR #%d has unresolved comments for %d days", pr.Number, *pr.HoursSinceLastActivity/24),
				SeverityMedium,
				fmt.Sprintf("PR #%d has unresolved review comments", pr.Number))
		}

		if pr.InactiveAtLeast(inactiveHours) && !pr.IsDraft {
			days := *pr.HoursSinceLastActivity / 24
			add(pr, deductInactive,
				fmt.Sprintf("PR #%d has no activity for %d days", pr.Number, days),
				inactiveSeverity(*pr.HoursSinceLastActivity),
				fmt.Sprintf("PR #%d has been inactive for %d days", pr.Number, days))
		}
	}

	out.Score = int(clampScore(float64(raw)))
	return out
}

func ageSeverity(days int) Severity {
	switch {
	case days > 5:
		return SeverityCritical
	case days > 4:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

func inactiveSeverity(hours int) Severity {
	if hours >= inactiveHighHours {
		return SeverityHigh
	}
	return SeverityMedium
}

// PRSummary holds counts and ages across a set of pull requests.
type PRSummary struct {
	Total  int `json:"total"`
	Open   int `json:"open"`
	Draft  int `json:"draft"`
	Merged int `json:"merged"`
	Closed int `json:"closed"`

	// AverageAge is the mean age in days of open and draft pull requests,
	// rounded to one decimal. Zero when there are none.
	AverageAge float64 `json:"average_age"`

	// Oldest is the open or draft pull request with the greatest age; the
	// first one wins ties. Nil when there are none.
	Oldest *activity.PullRequest `json:"oldest,omitempty"`

	// Stuck lists open and draft pull requests older than five days.
	Stuck []activity.PullRequest `json:"stuck"`
}

// Summarize computes a PRSummary.
func Summarize(prs []activity.PullRequest) PRSummary {
	s := PRSummary{Total: len(prs), Stuck: []activity.PullRequest{}}
	var ageSum, active int

	for _, pr := range prs {
		switch pr.Status {
		case activity.PRStatusOpen:
			s.Open++
		case activity.PRStatusDraft:
			s.Draft++
		case activity.PRStatusMerged:
			s.Merged++
		case activity.PRStatusClosed:
			s.Closed++
		}
		if !pr.IsActive() {
			continue
		}
		active++
		ageSum += pr.AgeInDays
		if s.Oldest == nil || pr.AgeInDays > s.Oldest.AgeInDays {
			oldest := pr
			s.Oldest = &oldest
		}
		if pr.AgeInDays > stuckThresholdDays {
			s.Stuck = append(s.Stuck, pr)
		}
	}

	if active > 0 {
		s.AverageAge = round1(float64(ageSum) / float64(active))
	}
	return s
}
