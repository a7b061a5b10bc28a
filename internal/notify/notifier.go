package notify

import (
	"log/slog"
	"sync"

	"github.com/sprintpulse/sprintpulse/internal/config"
	"github.com/sprintpulse/sprintpulse/internal/metrics"
	"github.com/sprintpulse/sprintpulse/pkg/activity"
)

// Notifier turns reports into deliveries.
type Notifier struct {
	d        *Dispatcher
	cooldown *Cooldown

	mu          sync.Mutex
	pendingDays int
}

// NewNotifier returns a Notifier feeding d, configured from app.
func NewNotifier(d *Dispatcher, app config.AppConfig) *Notifier {
	return &Notifier{
		d:           d,
		cooldown:    NewCooldown(app.AlertCooldown),
		pendingDays: app.AlertThresholdDays,
	}
}

// Configure applies reloaded app settings.
func (n *Notifier) Configure(app config.AppConfig) {
	n.cooldown.SetWindow(app.AlertCooldown)
	n.mu.Lock()
	n.pendingDays = app.AlertThresholdDays
	n.mu.Unlock()
}

// Notify queues the daily summary and real-time alerts for r on every
// webhook. prs is the fetched pull request list the pending section is built
// from. Only critical and high anomalies become alerts, and an anomaly already
// alerted within the cooldown is skipped. It returns the number of queued
// deliveries.
func (n *Notifier) Notify(webhooks []config.WebhookConfig, r *metrics.Report, prs []activity.PullRequest) int {
	targets := resolveTargets(r.Team, webhooks)
	if len(targets) == 0 {
		return 0
	}

	n.mu.Lock()
	pendingDays := n.pendingDays
	n.mu.Unlock()

	msgs := []Message{n.summary(r, prs, pendingDays)}
	for _, a := range r.AnomaliesAtLeast(metrics.SeverityHigh) {
		if !n.cooldown.Allow(r.Team+"/"+a.ID, r.GeneratedAt) {
			slog.Debug("notify: alert in cooldown, skipping", "team", r.Team, "anomaly", a.ID)
			continue
		}
		msgs = append(msgs, Message{
			Team:     r.Team,
			Kind:     KindAlert,
			Title:    "Alert: " + a.Title,
			Severity: a.Severity,
			Blocks:   AnomalyAlert(a),
			Payload:  a,
		})
	}

	for _, m := range msgs {
		for _, t := range targets {
			n.d.Enqueue(Delivery{Target: t, Message: m})
		}
	}
	return len(msgs) * len(targets)
}

// summary is the daily report followed by blockers and pending pull requests.
func (n *Notifier) summary(r *metrics.Report, prs []activity.PullRequest, pendingDays int) Message {
	blocks := DailySummary(r)
	if r.Sprint != nil {
		blocks = append(blocks, divider())
		blocks = append(blocks, Blockers(r.Sprint)...)
	}
	blocks = append(blocks, divider())
	blocks = append(blocks, PendingList(PendingPRs(prs, pendingDays))...)

	return Message{
		Team:    r.Team,
		Kind:    KindSummary,
		Title:   SummaryTitle(r),
		Blocks:  blocks,
		Payload: r,
	}
}

func resolveTargets(team string, webhooks []config.WebhookConfig) []Target {
	var out []Target
	for _, wh := range webhooks {
		url := wh.URL()
		if url == "" {
			slog.Warn("notify: webhook url unset, skipping", "team", team, "type", wh.Type, "url_env", wh.URLEnv)
			continue
		}
		out = append(out, Target{Type: wh.Type, URL: url})
	}
	return out
}
