package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/sprintpulse/sprintpulse/internal/metrics"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	dimStyle  = lipgloss.NewStyle().Faint(true)
	boldStyle = lipgloss.NewStyle().Bold(true)
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	infoStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("205")).
			Padding(0, 1)
)

func scoreStyle(score int) lipgloss.Style {
	switch metrics.HealthState(score) {
	case metrics.StateGood:
		return okStyle
	case metrics.StateFair:
		return warnStyle
	default:
		return errStyle
	}
}

func severityStyle(s metrics.Severity) lipgloss.Style {
	switch s {
	case metrics.SeverityCritical:
		return errStyle
	case metrics.SeverityHigh:
		return warnStyle
	case metrics.SeverityMedium:
		return infoStyle
	default:
		return dimStyle
	}
}

// RenderTerminal renders r for a terminal. Timestamps are shown in loc.
func RenderTerminal(r *metrics.Report, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	var b strings.Builder

	fmt.Fprintf(&b, "%s  %s\n", titleStyle.Render(r.Team+" · "+SummaryTitle(r)),
		dimStyle.Render(r.GeneratedAt.In(loc).Format("2006-01-02 15:04 MST")))

	health := fmt.Sprintf("%s %s  %s",
		boldStyle.Render("PR health"),
		scoreStyle(r.PRHealth.Score).Render(fmt.Sprintf("%d/100", r.PRHealth.Score)),
		dimStyle.Render(metrics.HealthState(r.PRHealth.Score)))
	if v := r.Velocity; v != nil {
		health += fmt.Sprintf("\n%s %s  %s",
			boldStyle.Render("Velocity "),
			scoreStyle(v.VelocityScore).Render(fmt.Sprintf("%d/100", v.VelocityScore)),
			dimStyle.Render(fmt.Sprintf("%.1f%% complete, %d days remaining", v.CompletionPercentage, v.DaysRemaining)))
	}
	b.WriteString(boxStyle.Render(health))
	b.WriteString("\n")

	s := r.PRSummary
	fmt.Fprintf(&b, "%s open %d · draft %d · merged %d · closed %d · avg age %s days\n",
		boldStyle.Render("PRs"), s.Open, s.Draft, s.Merged, s.Closed, points(s.AverageAge))

	if sp, v := r.Sprint, r.Velocity; sp != nil && v != nil {
		fmt.Fprintf(&b, "%s %s · done %s / %s pts · in progress %s · blocked %d\n",
			boldStyle.Render("Sprint"), sp.Name, points(v.CompletedPoints), points(v.TotalPoints),
			points(v.InProgressPoints), sp.BlockedCount)
	}

	if len(r.PRHealth.Deductions) > 0 {
		b.WriteString("\n" + boldStyle.Render("Deductions") + "\n")
		for _, d := range r.PRHealth.Deductions {
			fmt.Fprintf(&b, "  %s %s\n", errStyle.Render(fmt.Sprintf("%4d", d.Points)), d.Reason)
		}
	}

	b.WriteString("\n" + boldStyle.Render("Anomalies") + "\n")
	if len(r.Anomalies) == 0 {
		b.WriteString("  " + okStyle.Render("none") + "\n")
	}
	for _, a := range r.Anomalies {
		fmt.Fprintf(&b, "  %s %s\n", severityStyle(a.Severity).Render(fmt.Sprintf("%-8s", a.Severity)), a.Title)
		if a.Description != "" {
			fmt.Fprintf(&b, "           %s\n", dimStyle.Render(a.Description))
		}
	}
	return b.String()
}
