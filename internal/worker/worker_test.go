package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sprintpulse/sprintpulse/internal/config"
	"github.com/sprintpulse/sprintpulse/internal/history"
	"github.com/sprintpulse/sprintpulse/internal/metrics"
	"github.com/sprintpulse/sprintpulse/internal/source"
	"github.com/sprintpulse/sprintpulse/internal/store"
	"github.com/sprintpulse/sprintpulse/pkg/activity"
)

var baseTime = time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC)

// --- fakes ------------------------------------------------------------------

type fakePRs struct {
	prs    []activity.PullRequest
	gotOrg string
	gotNow time.Time
}

func (f *fakePRs) FetchAll(_ context.Context, org string, _ []string, now time.Time) []activity.PullRequest {
	f.gotOrg, f.gotNow = org, now
	return f.prs
}

type fakeSprint struct {
	sprint *activity.Sprint
	err    error
}

func (f *fakeSprint) FetchActiveSprint(context.Context, time.Time) (*activity.Sprint, error) {
	return f.sprint, f.err
}

type fakeNotifier struct {
	mu         sync.Mutex
	notified   []string
	configured []config.AppConfig
}

func (f *fakeNotifier) Notify(_ []config.WebhookConfig, r *metrics.Report, _ []activity.PullRequest) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, r.Team)
	return 1
}

func (f *fakeNotifier) Configure(app config.AppConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configured = append(f.configured, app)
}

type fakeRecorder struct {
	teams []string
	err   error
}

func (f *fakeRecorder) Record(_ context.Context, r *metrics.Report) (history.Run, error) {
	f.teams = append(f.teams, r.Team)
	return history.Run{Team: r.Team}, f.err
}

type countingBroadcaster struct{ n int }

func (b *countingBroadcaster) Broadcast() { b.n++ }

// --- helpers ----------------------------------------------------------------

func openPR(number, ageDays int) activity.PullRequest {
	return activity.PullRequest{
		ID:        "pr-" + string(rune('a'+number)),
		Number:    number,
		Status:    activity.PRStatusOpen,
		AgeInDays: ageDays,
		CreatedAt: baseTime.Add(-time.Duration(ageDays) * 24 * time.Hour),
	}
}

func team(id string) config.Team {
	return config.Team{
		ID:     id,
		GitHub: config.GitHubConfig{Org: "acme", Repos: []string{id}},
	}
}

func testConfig(teams ...config.Team) *config.Config {
	return &config.Config{
		App: config.AppConfig{
			Interval:         time.Hour,
			SprintLengthDays: 10,
		},
		Server: config.ServerConfig{ReportTTL: time.Hour},
		Teams:  teams,
	}
}

// staticSources returns the same Sources for every team, or err for the
// teams listed in failing.
func staticSources(srcs Sources, failing ...string) SourceFactory {
	return func(t config.Team) (Sources, error) {
		for _, id := range failing {
			if t.ID == id {
				return Sources{}, errors.New("boom")
			}
		}
		return srcs, nil
	}
}

// --- tests ------------------------------------------------------------------

func TestRunOnce_PROnly(t *testing.T) {
	st := store.New(0)
	prs := &fakePRs{prs: []activity.PullRequest{openPR(1, 2)}}
	n := &fakeNotifier{}
	rec := &fakeRecorder{}
	b := &countingBroadcaster{}

	r := New(testConfig(team("api")), st,
		WithSources(staticSources(Sources{PRs: prs})),
		WithNotifier(n),
		WithRecorder(rec),
		WithBroadcaster(b),
	)
	reports := r.RunOnce(context.Background(), baseTime)

	if len(reports) != 1 {
		t.Fatalf("reports: got %d, want 1", len(reports))
	}
	rep := reports[0]
	if rep.Team != "api" || !rep.GeneratedAt.Equal(baseTime) {
		t.Errorf("report header = %q %v", rep.Team, rep.GeneratedAt)
	}
	if rep.Sprint != nil || rep.Velocity != nil {
		t.Error("no tracker configured but sprint present")
	}
	if prs.gotOrg != "acme" || !prs.gotNow.Equal(baseTime) {
		t.Errorf("FetchAll called with %q %v", prs.gotOrg, prs.gotNow)
	}
	if _, ok := st.Get("api"); !ok {
		t.Error("report not stored")
	}
	if len(rec.teams) != 1 || len(n.notified) != 1 {
		t.Errorf("recorded %v, notified %v", rec.teams, n.notified)
	}
	if b.n != 1 {
		t.Errorf("broadcasts: got %d, want 1", b.n)
	}
}

func TestRunOnce_SprintOutcomes(t *testing.T) {
	start, end := baseTime.Add(-3*24*time.Hour), baseTime.Add(7*24*time.Hour)
	sprint := activity.NewSprint("1", "Sprint 1", activity.SourceLinear, &start, &end, []activity.Ticket{
		{ID: "t1", Status: activity.TicketDone, StoryPoints: ptr(3.0), CreatedAt: start, UpdatedAt: baseTime},
	})

	tests := []struct {
		name       string
		fetcher    *fakeSprint
		wantSprint bool
	}{
		{"active sprint", &fakeSprint{sprint: sprint}, true},
		{"no active sprint", &fakeSprint{err: source.ErrNoActiveSprint}, false},
		{"tracker down", &fakeSprint{err: errors.New("503")}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srcs := Sources{PRs: &fakePRs{}, Sprint: tc.fetcher}
			r := New(testConfig(team("api")), store.New(0), WithSources(staticSources(srcs)))

			reports := r.RunOnce(context.Background(), baseTime)
			if len(reports) != 1 {
				t.Fatalf("reports: got %d, want 1 (sprint failures must not drop the team)", len(reports))
			}
			rep := reports[0]
			if (rep.Sprint != nil) != tc.wantSprint || (rep.Velocity != nil) != tc.wantSprint {
				t.Errorf("sprint=%v velocity=%v, want present=%v", rep.Sprint != nil, rep.Velocity != nil, tc.wantSprint)
			}
			if tc.wantSprint && rep.DayOfSprint != 4 {
				t.Errorf("DayOfSprint = %d, want 4", rep.DayOfSprint)
			}
		})
	}
}

func TestRunOnce_TeamFailureIsolated(t *testing.T) {
	st := store.New(0)
	r := New(testConfig(team("bad"), team("good")), st,
		WithSources(staticSources(Sources{PRs: &fakePRs{}}, "bad")),
	)

	reports := r.RunOnce(context.Background(), baseTime)
	if len(reports) != 1 || reports[0].Team != "good" {
		t.Fatalf("reports: got %+v", reports)
	}
	if _, ok := st.Get("bad"); ok {
		t.Error("failed team should not be stored")
	}
}

func TestRunOnce_RecorderFailureKeepsReport(t *testing.T) {
	st := store.New(0)
	r := New(testConfig(team("api")), st,
		WithSources(staticSources(Sources{PRs: &fakePRs{}})),
		WithRecorder(&fakeRecorder{err: errors.New("db down")}),
	)
	if got := r.RunOnce(context.Background(), baseTime); len(got) != 1 {
		t.Fatalf("reports: got %d, want 1", len(got))
	}
	if _, ok := st.Get("api"); !ok {
		t.Error("report should be stored even when history fails")
	}
}

func TestRunOnce_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := New(testConfig(team("api")), store.New(0), WithSources(staticSources(Sources{PRs: &fakePRs{}})))
	if got := r.RunOnce(ctx, baseTime); len(got) != 0 {
		t.Errorf("reports: got %d, want 0 after cancel", len(got))
	}
}

func TestRunOnce_UsesTeamSprintLength(t *testing.T) {
	tm := team("api")
	tm.SprintLengthDays = 14
	r := New(testConfig(tm), store.New(0), WithSources(staticSources(Sources{PRs: &fakePRs{}})))
	if rep := r.RunOnce(context.Background(), baseTime)[0]; rep.SprintLength != 14 {
		t.Errorf("SprintLength = %d, want 14", rep.SprintLength)
	}
}

func TestReload(t *testing.T) {
	st := store.New(0)
	n := &fakeNotifier{}
	r := New(testConfig(team("api"), team("web")), st,
		WithSources(staticSources(Sources{PRs: &fakePRs{}})),
		WithNotifier(n),
	)
	r.RunOnce(context.Background(), baseTime)

	next := testConfig(team("web"), team("ios"))
	next.App.Interval = 2 * time.Hour
	next.App.AlertThresholdDays = 9
	r.Reload(next)

	if got := r.Teams(); len(got) != 2 || got[0] != "web" || got[1] != "ios" {
		t.Errorf("Teams = %v", got)
	}
	if _, ok := st.Get("api"); ok {
		t.Error("removed team's report should be dropped")
	}
	if _, ok := st.Get("web"); !ok {
		t.Error("kept team's report should survive reload")
	}
	if len(n.configured) != 1 || n.configured[0].AlertThresholdDays != 9 {
		t.Errorf("notifier configured with %+v", n.configured)
	}
	select {
	case d := <-r.intervalCh:
		if d != 2*time.Hour {
			t.Errorf("interval: got %v, want 2h", d)
		}
	default:
		t.Error("interval change not signalled")
	}
}

func TestRun_RunsImmediatelyAndStops(t *testing.T) {
	st := store.New(0)
	r := New(testConfig(team("api")), st, WithSources(staticSources(Sources{PRs: &fakePRs{}})))
	r.now = func() time.Time { return baseTime }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for st.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if st.Count() != 1 {
		t.Fatal("Run did not evaluate immediately")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDefaultSources(t *testing.T) {
	t.Setenv("SP_GH", "ghp")
	t.Setenv("SP_LINEAR", "lin")

	tests := []struct {
		name       string
		team       config.Team
		wantErr    string
		wantSprint bool
	}{
		{
			name:    "missing github token",
			team:    config.Team{ID: "a", GitHub: config.GitHubConfig{TokenEnv: "SP_UNSET"}},
			wantErr: "SP_UNSET",
		},
		{
			name: "github only",
			team: config.Team{ID: "a", GitHub: config.GitHubConfig{TokenEnv: "SP_GH"}},
		},
		{
			name: "linear",
			team: config.Team{
				ID:     "a",
				GitHub: config.GitHubConfig{TokenEnv: "SP_GH"},
				Linear: &config.LinearConfig{APIKeyEnv: "SP_LINEAR", TeamID: "t"},
			},
			wantSprint: true,
		},
		{
			name: "jira",
			team: config.Team{
				ID:     "a",
				GitHub: config.GitHubConfig{TokenEnv: "SP_GH"},
				Jira:   &config.JiraConfig{URL: "https://x.atlassian.net", Email: "e", ProjectKey: "P"},
			},
			wantSprint: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srcs, err := DefaultSources(tc.team)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("err = %v, want mention of %q", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DefaultSources: %v", err)
			}
			if srcs.PRs == nil {
				t.Error("PRs fetcher is nil")
			}
			if (srcs.Sprint != nil) != tc.wantSprint {
				t.Errorf("Sprint present = %v, want %v", srcs.Sprint != nil, tc.wantSprint)
			}
		})
	}
}

func ptr[T any](v T) *T { return &v }

type fakeLatest struct {
	runs map[string]history.Run
	errs map[string]error
}

func (f *fakeLatest) Latest(_ context.Context, team string) (history.Run, error) {
	if err := f.errs[team]; err != nil {
		return history.Run{}, err
	}
	run, ok := f.runs[team]
	if !ok {
		return history.Run{}, history.ErrNotFound
	}
	return run, nil
}

func TestRestore(t *testing.T) {
	st := store.New(time.Hour)
	now := time.Now()
	hist := &fakeLatest{
		runs: map[string]history.Run{
			"platform": {Team: "platform", RanAt: now.Add(-10 * time.Minute), Report: &metrics.Report{Team: "platform", PRHealth: metrics.PRHealthScore{Score: 71}}},
			"old":      {Team: "old", RanAt: now.Add(-3 * time.Hour), Report: &metrics.Report{Team: "old"}},
		},
		errs: map[string]error{"broken": errors.New("connection refused")},
	}
	teams := []config.Team{{ID: "platform"}, {ID: "old"}, {ID: "new"}, {ID: "broken"}}

	if got := Restore(context.Background(), st, hist, teams); got != 2 {
		t.Errorf("restored = %d, want 2", got)
	}
	e, ok := st.Get("platform")
	if !ok || e.Report.PRHealth.Score != 71 {
		t.Fatalf("platform not restored: %+v", e)
	}
	if !e.UpdatedAt.Equal(now.Add(-10 * time.Minute)) {
		t.Errorf("UpdatedAt = %v, want the recorded run time", e.UpdatedAt)
	}
	if _, ok := st.Get("old"); ok {
		t.Error("a run older than the TTL should not be served")
	}
	if _, ok := st.Get("new"); ok {
		t.Error("team without history should stay empty")
	}
}
