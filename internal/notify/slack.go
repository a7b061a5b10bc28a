package notify

import (
	"fmt"
	"slices"
	"strings"

	"github.com/sprintpulse/sprintpulse/internal/metrics"
	"github.com/sprintpulse/sprintpulse/pkg/activity"
)

const (
	topIssuesLimit  = 5
	pendingPRsLimit = 10
)

// Block is one Slack Block Kit block.
type Block struct {
	Type     string    `json:"type"`
	Text     *Text     `json:"text,omitempty"`
	Fields   []Text    `json:"fields,omitempty"`
	Elements []Element `json:"elements,omitempty"`
}

// Text is a plain_text or mrkdwn text object.
type Text struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

// Element is an interactive element inside an actions block.
type Element struct {
	Type  string `json:"type"`
	Text  Text   `json:"text"`
	URL   string `json:"url,omitempty"`
	Style string `json:"style,omitempty"`
}

func header(s string) Block {
	return Block{Type: "header", Text: &Text{Type: "plain_text", Text: s, Emoji: true}}
}

func section(s string) Block {
	return Block{Type: "section", Text: &Text{Type: "mrkdwn", Text: s}}
}

func fields(ss ...string) Block {
	b := Block{Type: "section"}
	for _, s := range ss {
		b.Fields = append(b.Fields, Text{Type: "mrkdwn", Text: s})
	}
	return b
}

func divider() Block { return Block{Type: "divider"} }

// healthEmoji is green at good, yellow at fair and red otherwise.
func healthEmoji(score int) string {
	switch metrics.HealthState(score) {
	case metrics.StateGood:
		return "🟢"
	case metrics.StateFair:
		return "🟡"
	default:
		return "🔴"
	}
}

// issueEmoji collapses medium and low into yellow.
func issueEmoji(s metrics.Severity) string {
	switch s {
	case metrics.SeverityCritical:
		return "🔴"
	case metrics.SeverityHigh:
		return "🟠"
	default:
		return "🟡"
	}
}

func anomalyEmoji(s metrics.Severity) string {
	switch s {
	case metrics.SeverityCritical:
		return "🔴"
	case metrics.SeverityHigh:
		return "🟠"
	case metrics.SeverityMedium:
		return "🟡"
	default:
		return "🔵"
	}
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

// points prints whole numbers without a decimal point.
func points(v float64) string {
	return strings.TrimSuffix(fmt.Sprintf("%.1f", v), ".0")
}

// SummaryTitle is the plain-text fallback for the daily summary.
func SummaryTitle(r *metrics.Report) string {
	return fmt.Sprintf("Sprint Health Report - Day %d/%d", r.DayOfSprint, r.SprintLength)
}

// DailySummary formats the daily report: overall health, sprint points when a
// sprint is present, pull request counts, an action list for critical and high
// issues, and the top five issues.
func DailySummary(r *metrics.Report) []Block {
	blocks := []Block{
		header("🚀 " + SummaryTitle(r)),
		divider(),
		section(fmt.Sprintf("📊 *Overall Health:* %d/100 %s", r.PRHealth.Score, healthEmoji(r.PRHealth.Score))),
	}

	if v := r.Velocity; r.Sprint != nil && v != nil {
		atRisk := v.TotalPoints - v.CompletedPoints - v.InProgressPoints
		blocks = append(blocks, fields(
			fmt.Sprintf("✅ *Completed:* %s story points", points(v.CompletedPoints)),
			fmt.Sprintf("🔄 *In Progress:* %s story points", points(v.InProgressPoints)),
			fmt.Sprintf("⚠️ *At Risk:* %s story points", points(atRisk)),
			fmt.Sprintf("📈 *Velocity:* %.1f%% complete", v.CompletionPercentage),
		))
	}

	s := r.PRSummary
	blocks = append(blocks, fields(
		fmt.Sprintf("📝 *Open PRs:* %d", s.Open),
		fmt.Sprintf("📄 *Draft PRs:* %d", s.Draft),
		fmt.Sprintf("✅ *Merged:* %d", s.Merged),
		fmt.Sprintf("⏱️ *Avg Age:* %s days", points(s.AverageAge)),
	))

	critical := len(r.IssuesBySeverity(metrics.SeverityCritical))
	high := len(r.IssuesBySeverity(metrics.SeverityHigh))
	if critical > 0 || high > 0 {
		var items []string
		if critical > 0 {
			items = append(items, "• "+plural(critical, "critical PR issue"))
		}
		if high > 0 {
			items = append(items, "• "+plural(high, "high-priority PR issue"))
		}
		if r.Sprint != nil && r.Sprint.BlockedCount > 0 {
			items = append(items, "• "+plural(r.Sprint.BlockedCount, "ticket")+" blocked")
		}
		blocks = append(blocks, divider(), section("🔴 *ACTION NEEDED:*"), section(strings.Join(items, "\n")))
	}

	if issues := r.PRHealth.Issues; len(issues) > 0 {
		issues = issues[:min(len(issues), topIssuesLimit)]
		lines := make([]string, len(issues))
		for i, is := range issues {
			lines[i] = fmt.Sprintf("%s <%s|PR #%d>: %s", issueEmoji(is.Severity), is.PRURL, is.PRNumber, is.Message)
		}
		blocks = append(blocks, divider(), section("*Top Issues:*"), section(strings.Join(lines, "\n")))
	}

	return blocks
}

// AnomalyAlert formats one real-time alert. A "View Details" button is added
// when the anomaly has a URL, styled as danger for critical anomalies.
func AnomalyAlert(a metrics.Anomaly) []Block {
	blocks := []Block{
		section(fmt.Sprintf("%s *%s*\n\n%s", anomalyEmoji(a.Severity), a.Title, a.Description)),
	}
	if a.URL != "" {
		btn := Element{
			Type: "button",
			Text: Text{Type: "plain_text", Text: "View Details"},
			URL:  a.URL,
		}
		if a.Severity == metrics.SeverityCritical {
			btn.Style = "danger"
		}
		blocks = append(blocks, Block{Type: "actions", Elements: []Element{btn}})
	}
	return blocks
}

// Blockers lists the sprint's blocked tickets.
func Blockers(s *activity.Sprint) []Block {
	blocked := s.BlockedTickets()
	if len(blocked) == 0 {
		return []Block{section("✅ *No blockers found!*")}
	}
	blocks := []Block{header(fmt.Sprintf("🚫 Blockers (%d)", len(blocked)))}
	for _, t := range blocked {
		blocks = append(blocks, section(fmt.Sprintf("• <%s|%s>: %s", t.URL, t.DisplayKey(), t.DisplayTitle())))
	}
	return blocks
}

// PendingPRs returns the open and draft pull requests older than
// thresholdDays, oldest first.
func PendingPRs(prs []activity.PullRequest, thresholdDays int) []activity.PullRequest {
	var out []activity.PullRequest
	for _, pr := range prs {
		if pr.IsActive() && pr.AgeInDays > thresholdDays {
			out = append(out, pr)
		}
	}
	slices.SortStableFunc(out, func(a, b activity.PullRequest) int {
		return b.AgeInDays - a.AgeInDays
	})
	return out
}

// PendingList formats pull requests waiting on the team, oldest first, at
// most ten with a trailing count of the rest.
func PendingList(prs []activity.PullRequest) []Block {
	if len(prs) == 0 {
		return []Block{section("✅ *No pending PRs!*")}
	}
	sorted := slices.Clone(prs)
	slices.SortStableFunc(sorted, func(a, b activity.PullRequest) int {
		return b.AgeInDays - a.AgeInDays
	})

	blocks := []Block{header(fmt.Sprintf("📝 Pending PRs (%d)", len(prs)))}
	for _, pr := range sorted[:min(len(sorted), pendingPRsLimit)] {
		blocks = append(blocks, section(fmt.Sprintf("%s <%s|PR #%d>: %s", ageMarker(pr.AgeInDays), pr.URL, pr.Number, pr.Title)))
	}
	if extra := len(prs) - pendingPRsLimit; extra > 0 {
		blocks = append(blocks, section(fmt.Sprintf("_...and %d more_", extra)))
	}
	return blocks
}

func ageMarker(days int) string {
	switch {
	case days > 5:
		return fmt.Sprintf("🔴 %dd", days)
	case days > 3:
		return fmt.Sprintf("🟠 %dd", days)
	default:
		return fmt.Sprintf("%dd", days)
	}
}

// HealthCheck is the short form: PR score plus velocity when present.
func HealthCheck(r *metrics.Report) []Block {
	blocks := []Block{
		header("📊 Sprint Health Check"),
		divider(),
		section(fmt.Sprintf("*PR Health Score:* %d/100 %s", r.PRHealth.Score, healthEmoji(r.PRHealth.Score))),
	}
	if v := r.Velocity; v != nil {
		blocks = append(blocks, section(fmt.Sprintf("*Sprint Velocity:* %d/100 %s\n%.1f%% complete (%d days remaining)",
			v.VelocityScore, healthEmoji(v.VelocityScore), v.CompletionPercentage, v.DaysRemaining)))
	}
	return blocks
}
