package metrics

import (
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/sprintpulse/sprintpulse/pkg/activity"
)

// AnomalyType is the machine-readable anomaly tag.
type AnomalyType string

// Anomaly types.
const (
	AnomalyStalePR            AnomalyType = "stale_pr"
	AnomalyStaleDraftPR       AnomalyType = "stale_draft_pr"
	AnomalyInactivePR         AnomalyType = "inactive_pr"
	AnomalyUnresolvedComments AnomalyType = "unresolved_comments"
	AnomalyDeveloperOverload  AnomalyType = "developer_overload"
	AnomalyLowVelocity        AnomalyType = "low_velocity"
	AnomalyMultipleBlockers   AnomalyType = "multiple_blockers"
	AnomalyStaleTicket        AnomalyType = "stale_ticket"
)

// Detection thresholds.
const (
	staleAgeDays          = 5
	overloadPRCount       = 5
	lowVelocityDaysLeft   = 3
	lowVelocityCompletion = 60.0
	blockersHigh          = 3
	blockersCritical      = 5
	staleTicketDays       = 5
)

// Anomaly is a condition that needs human attention. ID is derived from the
// type and subject so unchanged input produces the same ID on every run.
type Anomaly struct {
	ID          string         `json:"id"`
	Severity    Severity       `json:"severity"`
	Type        AnomalyType    `json:"type"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	URL         string         `json:"url,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// PRRef is a pull request reference carried in anomaly metadata.
type PRRef struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
}

// TicketSummary is a ticket reference carried in anomaly metadata.
type TicketSummary struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// DetectAll runs every rule and returns the anomalies most severe first.
// Sprint rules run only when both sprint and velocity are non-nil. Ties keep
// detection order: pull request rules, then sprint rules.
func DetectAll(prs []activity.PullRequest, sprint *activity.Sprint, velocity *SprintVelocity, now time.Time) []Anomaly {
	out := DetectPRAnomalies(prs)
	if sprint != nil && velocity != nil {
		out = append(out, DetectSprintAnomalies(sprint, *velocity, now)...)
	}
	SortBySeverity(out)
	return out
}

// SortBySeverity stable-sorts anomalies critical first.
func SortBySeverity(as []Anomaly) {
	slices.SortStableFunc(as, func(a, b Anomaly) int {
		return a.Severity.Rank() - b.Severity.Rank()
	})
}

// DetectPRAnomalies applies the pull request rules to open and draft PRs.
func DetectPRAnomalies(prs []activity.PullRequest) []Anomaly {
	out := []Anomaly{}

	var authors []string
	byAuthor := make(map[string][]activity.PullRequest)

	for _, pr := range prs {
		if !pr.IsActive() {
			continue
		}

		if pr.AgeInDays > staleAgeDays && !pr.IsDraft {
			out = append(out, Anomaly{
				ID:          "pr-stale-" + prSubject(pr),
				Severity:    SeverityCritical,
				Type:        AnomalyStalePR,
				Title:       fmt.Sprintf("PR #%d has been open for %d days", pr.Number, pr.AgeInDays),
				Description: fmt.Sprintf("Pull request %q has been open for %d days without being merged or closed.", pr.Title, pr.AgeInDays),
				URL:         pr.URL,
				Metadata:    map[string]any{"pr_number": pr.Number, "age_in_days": pr.AgeInDays, "author": pr.Author},
			})
		}

		if pr.IsDraft && pr.AgeInDays > draftThresholdDays {
			out = append(out, Anomaly{
				ID:          "pr-draft-stale-" + prSubject(pr),
				Severity:    SeverityMedium,
				Type:        AnomalyStaleDraftPR,
				Title:       fmt.Sprintf("Draft PR #%d has been open for %d days", pr.Number, pr.AgeInDays),
				Description: fmt.Sprintf("Draft pull request %q has been open for %d days.", pr.Title, pr.AgeInDays),
				URL:         pr.URL,
				Metadata:    map[string]any{"pr_number": pr.Number, "age_in_days": pr.AgeInDays, "author": pr.Author},
			})
		}

		if pr.InactiveAtLeast(inactiveHours) && !pr.IsDraft {
			hours := *pr.HoursSinceLastActivity
			out = append(out, Anomaly{
				ID:          "pr-inactive-" + prSubject(pr),
				Severity:    inactiveSeverity(hours),
				Type:        AnomalyInactivePR,
				Title:       fmt.Sprintf("PR #%d has no activity for %d days", pr.Number, hours/24),
				Description: fmt.Sprintf("Pull request %q has had no activity for %d days.", pr.Title, hours/24),
				URL:         pr.URL,
				Metadata:    map[string]any{"pr_number": pr.Number, "hours_since_last_activity": hours, "author": pr.Author},
			})
		}

		if pr.HasUnresolvedComments && pr.InactiveFor(unresolvedHours) {
			out = append(out, Anomaly{
				ID:          "pr-unresolved-comments-" + prSubject(pr),
				Severity:    SeverityMedium,
				Type:        AnomalyUnresolvedComments,
				Title:       fmt.Sprintf("PR #%d has unresolved review comments", pr.Number),
				Description: fmt.Sprintf("Pull request %q has unresolved review comments that are more than 24 hours old.", pr.Title),
				URL:         pr.URL,
				Metadata:    map[string]any{"pr_number": pr.Number, "hours_since_last_activity": *pr.HoursSinceLastActivity, "author": pr.Author},
			})
		}

		if _, seen := byAuthor[pr.Author]; !seen {
			authors = append(authors, pr.Author)
		}
		byAuthor[pr.Author] = append(byAuthor[pr.Author], pr)
	}

	for _, author := range authors {
		owned := byAuthor[author]
		if len(owned) < overloadPRCount {
			continue
		}
		refs := make([]PRRef, 0, len(owned))
		for _, pr := range owned {
			refs = append(refs, PRRef{Number: pr.Number, URL: pr.URL})
		}
		out = append(out, Anomaly{
			ID:          "developer-overloaded-" + author,
			Severity:    SeverityHigh,
			Type:        AnomalyDeveloperOverload,
			Title:       fmt.Sprintf("%s has %d open PRs", author, len(owned)),
			Description: fmt.Sprintf("Developer %s has %d open pull requests, which may indicate overload.", author, len(owned)),
			Metadata:    map[string]any{"author": author, "pr_count": len(owned), "prs": refs},
		})
	}

	return out
}

// prSubject identifies a pull request across repositories: "owner/repo#12",
// or the bare number when the repository is unknown.
func prSubject(pr activity.PullRequest) string {
	if pr.Repo == "" {
		return strconv.Itoa(pr.Number)
	}
	return pr.Repo + "#" + strconv.Itoa(pr.Number)
}

// DetectSprintAnomalies applies the sprint rules. now is used for ticket
// staleness; a ticket updated after now yields a negative day count and is
// never flagged.
func DetectSprintAnomalies(sprint *activity.Sprint, v SprintVelocity, now time.Time) []Anomaly {
	out := []Anomaly{}

	if v.DaysRemaining < lowVelocityDaysLeft && v.CompletionPercentage < lowVelocityCompletion {
		out = append(out, Anomaly{
			ID:          "sprint-velocity-low-" + sprint.ID,
			Severity:    SeverityCritical,
			Type:        AnomalyLowVelocity,
			Title:       fmt.Sprintf("Sprint %q is behind schedule", sprint.Name),
			Description: fmt.Sprintf("Sprint is %.1f%% complete with only %d days remaining.", v.CompletionPercentage, v.DaysRemaining),
			Metadata: map[string]any{
				"sprint_id":             sprint.ID,
				"completion_percentage": v.CompletionPercentage,
				"days_remaining":        v.DaysRemaining,
			},
		})
	}

	if sprint.BlockedCount > blockersHigh {
		sev := SeverityHigh
		if sprint.BlockedCount > blockersCritical {
			sev = SeverityCritical
		}
		blocked := sprint.BlockedTickets()
		refs := make([]TicketSummary, 0, len(blocked))
		for _, t := range blocked {
			refs = append(refs, TicketSummary{Key: t.DisplayKey(), Title: t.DisplayTitle(), URL: t.URL})
		}
		out = append(out, Anomaly{
			ID:          "sprint-blockers-" + sprint.ID,
			Severity:    sev,
			Type:        AnomalyMultipleBlockers,
			Title:       fmt.Sprintf("%d tickets are blocked", sprint.BlockedCount),
			Description: fmt.Sprintf("There are %d blocked tickets in the sprint, which may indicate systemic issues.", sprint.BlockedCount),
			Metadata: map[string]any{
				"sprint_id":       sprint.ID,
				"blocked_count":   sprint.BlockedCount,
				"blocked_tickets": refs,
			},
		})
	}

	for _, t := range sprint.Tickets {
		// A zero UpdatedAt means the tracker timestamp did not parse.
		if t.Status != activity.TicketInProgress || t.UpdatedAt.IsZero() {
			continue
		}
		days := activity.DaysBetween(now, t.UpdatedAt)
		if days <= staleTicketDays {
			continue
		}
		key := t.DisplayKey()
		out = append(out, Anomaly{
			ID:          "ticket-stale-" + t.ID,
			Severity:    SeverityMedium,
			Type:        AnomalyStaleTicket,
			Title:       fmt.Sprintf("Ticket %s has been in progress for %d days", key, days),
			Description: fmt.Sprintf("Ticket %q has been in progress for %d days without updates.", t.DisplayTitle(), days),
			URL:         t.URL,
			Metadata: map[string]any{
				"ticket_id":         t.ID,
				"ticket_key":        key,
				"days_since_update": days,
				"assignee":          t.Assignee,
			},
		})
	}

	return out
}

// CountBySeverity tallies anomalies per severity. Every known level is present.
func CountBySeverity(as []Anomaly) map[Severity]int {
	counts := make(map[Severity]int, len(Severities))
	for _, s := range Severities {
		counts[s] = 0
	}
	for _, a := range as {
		counts[a.Severity]++
	}
	return counts
}
