package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sprintpulse/sprintpulse/internal/config"
	"github.com/sprintpulse/sprintpulse/internal/history"
	"github.com/sprintpulse/sprintpulse/internal/metrics"
	"github.com/sprintpulse/sprintpulse/internal/source"
	"github.com/sprintpulse/sprintpulse/internal/store"
	"github.com/sprintpulse/sprintpulse/pkg/activity"
)

// Notifier delivers a team's report.
type Notifier interface {
	Notify(webhooks []config.WebhookConfig, r *metrics.Report, prs []activity.PullRequest) int
	Configure(app config.AppConfig)
}

// Recorder persists a run.
type Recorder interface {
	Record(ctx context.Context, r *metrics.Report) (history.Run, error)
}

// Broadcaster pushes the stored reports to live clients.
type Broadcaster interface {
	Broadcast()
}

// Option configures a Runner.
type Option func(*Runner)

// WithNotifier delivers every report through n.
func WithNotifier(n Notifier) Option { return func(r *Runner) { r.notifier = n } }

// WithRecorder records every report through rec.
func WithRecorder(rec Recorder) Option { return func(r *Runner) { r.recorder = rec } }

// WithBroadcaster calls b.Broadcast after every run.
func WithBroadcaster(b Broadcaster) Option { return func(r *Runner) { r.broadcaster = b } }

// WithSources replaces DefaultSources.
func WithSources(f SourceFactory) Option { return func(r *Runner) { r.sources = f } }

// Runner evaluates every configured team on an interval.
type Runner struct {
	store       *store.Store
	notifier    Notifier
	recorder    Recorder
	broadcaster Broadcaster
	sources     SourceFactory
	now         func() time.Time

	mu    sync.RWMutex
	app   config.AppConfig
	teams []config.Team

	// intervalCh carries a new tick interval to Run after a reload.
	intervalCh chan time.Duration
}

// New creates a Runner for cfg that writes reports to st.
func New(cfg *config.Config, st *store.Store, opts ...Option) *Runner {
	r := &Runner{
		store:      st,
		sources:    DefaultSources,
		now:        time.Now,
		app:        cfg.App,
		teams:      cfg.Teams,
		intervalCh: make(chan time.Duration, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run evaluates all teams immediately, then every app.interval, until ctx is
// cancelled.
func (r *Runner) Run(ctx context.Context) {
	r.RunOnce(ctx, r.now())

	r.mu.RLock()
	interval := r.app.Interval
	r.mu.RUnlock()

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-r.intervalCh:
			slog.Info("worker: interval changed", "interval", d)
			t.Reset(d)
		case <-t.C:
			r.RunOnce(ctx, r.now())
		}
	}
}

// RunOnce evaluates every team as of now and returns the reports that were
// produced. Teams that fail are logged and left out.
func (r *Runner) RunOnce(ctx context.Context, now time.Time) []*metrics.Report {
	r.mu.RLock()
	app, teams := r.app, r.teams
	r.mu.RUnlock()

	start := time.Now()
	reports := make([]*metrics.Report, 0, len(teams))
	for _, team := range teams {
		if ctx.Err() != nil {
			break
		}
		rep, err := r.runTeam(ctx, app, team, now)
		if err != nil {
			slog.Error("worker: team run failed", "team", team.ID, "err", err)
			continue
		}
		reports = append(reports, rep)
	}

	if r.broadcaster != nil && len(reports) > 0 {
		r.broadcaster.Broadcast()
	}
	slog.Info("worker: run complete",
		"teams", len(teams),
		"reports", len(reports),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return reports
}

func (r *Runner) runTeam(ctx context.Context, app config.AppConfig, team config.Team, now time.Time) (*metrics.Report, error) {
	srcs, err := r.sources(team)
	if err != nil {
		return nil, fmt.Errorf("build sources: %w", err)
	}

	prs := srcs.PRs.FetchAll(ctx, team.GitHub.Org, team.GitHub.Repos, now)

	var sprint *activity.Sprint
	if srcs.Sprint != nil {
		s, err := srcs.Sprint.FetchActiveSprint(ctx, now)
		switch {
		case errors.Is(err, source.ErrNoActiveSprint):
			slog.Info("worker: no active sprint", "team", team.ID, "tracker", team.Tracker())
		case err != nil:
			// Sprint data is optional; keep the PR results.
			slog.Warn("worker: sprint fetch failed, continuing with pull requests only",
				"team", team.ID, "tracker", team.Tracker(), "err", err)
		default:
			sprint = s
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rep, err := metrics.Evaluate(metrics.Input{
		Team:             team.ID,
		PRs:              prs,
		Sprint:           sprint,
		SprintLengthDays: team.EffectiveSprintLength(app),
	}, now)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}

	r.store.Put(rep)
	slog.Debug("worker: report stored",
		"team", team.ID,
		"prs", len(prs),
		"pr_health", rep.PRHealth.Score,
		"anomalies", len(rep.Anomalies),
	)

	if r.recorder != nil {
		if _, err := r.recorder.Record(ctx, rep); err != nil {
			slog.Warn("worker: history record failed", "team", team.ID, "err", err)
		}
	}
	if r.notifier != nil {
		if n := r.notifier.Notify(team.Webhooks, rep, prs); n > 0 {
			slog.Debug("worker: notifications queued", "team", team.ID, "count", n)
		}
	}
	return rep, nil
}

// Reload swaps in the teams and app settings of cfg. Stored reports of teams
// that were removed are dropped.
func (r *Runner) Reload(cfg *config.Config) {
	r.mu.Lock()
	oldInterval := r.app.Interval
	r.app, r.teams = cfg.App, cfg.Teams
	r.mu.Unlock()

	ids := make([]string, len(cfg.Teams))
	for i, t := range cfg.Teams {
		ids[i] = t.ID
	}
	if n := r.store.Retain(ids); n > 0 {
		slog.Info("worker: dropped reports of removed teams", "count", n)
	}
	r.store.SetTTL(cfg.Server.ReportTTL)
	if r.notifier != nil {
		r.notifier.Configure(cfg.App)
	}

	if cfg.App.Interval != oldInterval {
		// Keep only the newest pending interval.
		select {
		case <-r.intervalCh:
		default:
		}
		r.intervalCh <- cfg.App.Interval
	}
}

// Teams returns the IDs of the configured teams.
func (r *Runner) Teams() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, len(r.teams))
	for i, t := range r.teams {
		ids[i] = t.ID
	}
	return ids
}
