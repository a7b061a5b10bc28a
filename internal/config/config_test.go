package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
app:
  interval: 6h
  timezone: Europe/Berlin
  sprint_length_days: 14
  alert_cooldown: 12h
server:
  http_port: 9090
  auth:
    mode: apikey
    key_env: SP_API_KEY
storage:
  database_url_env: SP_DB
teams:
  - id: platform
    github:
      token_env: SP_GH_TOKEN
      org: acme
      repos: [api, web]
    jira:
      url: https://acme.atlassian.net
      email: bot@acme.io
      token_env: SP_JIRA_TOKEN
      project_key: PLAT
    webhooks:
      - type: slack
        url_env: SP_SLACK_URL
  - id: mobile
    sprint_length_days: 7
    github:
      org: acme
      repos: [ios]
      concurrency: 2
    linear:
      api_key_env: SP_LINEAR_KEY
      team_id: team-123
`

func TestLoad_Valid(t *testing.T) {
	cfg := loadFromString(t, validYAML)

	if cfg.App.Interval != 6*time.Hour {
		t.Errorf("interval: got %v", cfg.App.Interval)
	}
	if cfg.App.Location().String() != "Europe/Berlin" {
		t.Errorf("location: got %v", cfg.App.Location())
	}
	if cfg.Server.HTTPPort != 9090 {
		t.Errorf("http_port: got %d", cfg.Server.HTTPPort)
	}
	if len(cfg.Teams) != 2 {
		t.Fatalf("teams: got %d, want 2", len(cfg.Teams))
	}

	platform := cfg.Teams[0]
	if platform.Tracker() != "jira" || platform.Jira.ProjectKey != "PLAT" {
		t.Errorf("platform tracker: got %q %+v", platform.Tracker(), platform.Jira)
	}
	if platform.GitHub.Concurrency != DefaultRepoConcurrency {
		t.Errorf("platform concurrency: got %d, want default %d", platform.GitHub.Concurrency, DefaultRepoConcurrency)
	}
	if platform.EffectiveSprintLength(cfg.App) != 14 {
		t.Errorf("platform sprint length: got %d, want 14", platform.EffectiveSprintLength(cfg.App))
	}

	mobile := cfg.Teams[1]
	if mobile.Tracker() != "linear" || mobile.Linear.TeamID != "team-123" {
		t.Errorf("mobile tracker: got %q %+v", mobile.Tracker(), mobile.Linear)
	}
	if mobile.GitHub.Concurrency != 2 {
		t.Errorf("mobile concurrency: got %d", mobile.GitHub.Concurrency)
	}
	if mobile.EffectiveSprintLength(cfg.App) != 7 {
		t.Errorf("mobile sprint length: got %d, want 7", mobile.EffectiveSprintLength(cfg.App))
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadFromString(t, "teams: []\n")

	if cfg.App.Interval != DefaultInterval {
		t.Errorf("default interval: got %v, want %v", cfg.App.Interval, DefaultInterval)
	}
	if cfg.App.SprintLengthDays != DefaultSprintLengthDays {
		t.Errorf("default sprint_length_days: got %d", cfg.App.SprintLengthDays)
	}
	if cfg.App.AlertThresholdDays != DefaultAlertThresholdDays {
		t.Errorf("default alert_threshold_days: got %d", cfg.App.AlertThresholdDays)
	}
	if cfg.App.AlertCooldown != DefaultAlertCooldown {
		t.Errorf("default alert_cooldown: got %v", cfg.App.AlertCooldown)
	}
	if cfg.Server.HTTPPort != DefaultHTTPPort || cfg.Server.ReportTTL != DefaultReportTTL {
		t.Errorf("default server: got %+v", cfg.Server)
	}
	if cfg.Server.Auth.EffectiveHeader() != DefaultAuthHeader {
		t.Errorf("default header: got %q", cfg.Server.Auth.EffectiveHeader())
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "bad timezone",
			yaml:    "app:\n  timezone: Mars/Olympus\n",
			wantErr: "app.timezone",
		},
		{
			name:    "port out of range",
			yaml:    "server:\n  http_port: 70000\n",
			wantErr: "http_port",
		},
		{
			name:    "unknown auth mode",
			yaml:    "server:\n  auth:\n    mode: magictoken\n",
			wantErr: "auth.mode",
		},
		{
			name:    "apikey without key_env",
			yaml:    "server:\n  auth:\n    mode: apikey\n",
			wantErr: "key_env",
		},
		{
			name:    "team without id",
			yaml:    "teams:\n  - github: {org: acme, repos: [a]}\n",
			wantErr: "id is required",
		},
		{
			name:    "duplicate team",
			yaml:    "teams:\n  - id: a\n    github: {org: acme, repos: [a]}\n  - id: a\n    github: {org: acme, repos: [b]}\n",
			wantErr: "duplicate",
		},
		{
			name:    "no repos",
			yaml:    "teams:\n  - id: a\n    github: {org: acme}\n",
			wantErr: "github.repos",
		},
		{
			name:    "incomplete jira",
			yaml:    "teams:\n  - id: a\n    github: {org: acme, repos: [a]}\n    jira: {url: https://x}\n",
			wantErr: "jira",
		},
		{
			name:    "linear without team",
			yaml:    "teams:\n  - id: a\n    github: {org: acme, repos: [a]}\n    linear: {api_key_env: K}\n",
			wantErr: "linear.team_id",
		},
		{
			name:    "unknown webhook",
			yaml:    "teams:\n  - id: a\n    github: {org: acme, repos: [a]}\n    webhooks: [{type: pagerduty}]\n",
			wantErr: "unknown type",
		},
		{
			name:    "malformed yaml",
			yaml:    "app: [",
			wantErr: "parse yaml",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadStringErr(t, tc.yaml)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestSecretsResolveFromEnv(t *testing.T) {
	t.Setenv("SP_API_KEY", "k")
	t.Setenv("SP_DB", "postgres://localhost/sp")
	t.Setenv("SP_GH_TOKEN", "ghp")
	t.Setenv("SP_JIRA_TOKEN", "jt")
	t.Setenv("SP_LINEAR_KEY", "lk")
	t.Setenv("SP_SLACK_URL", "https://hooks.slack.com/x")

	cfg := loadFromString(t, validYAML)
	p, m := cfg.Teams[0], cfg.Teams[1]

	checks := map[string][2]string{
		"api key":      {cfg.Server.Auth.Key(), "k"},
		"database url": {cfg.Storage.DatabaseURL(), "postgres://localhost/sp"},
		"github":       {p.GitHub.Token(), "ghp"},
		"jira":         {p.Jira.Token(), "jt"},
		"linear":       {m.Linear.APIKey(), "lk"},
		"slack":        {p.Webhooks[0].URL(), "https://hooks.slack.com/x"},
		"unset github": {m.GitHub.Token(), ""},
	}
	for name, c := range checks {
		if c[0] != c[1] {
			t.Errorf("%s: got %q, want %q", name, c[0], c[1])
		}
	}
}

func TestAuthConfig_Check(t *testing.T) {
	t.Setenv("SP_SET_KEY", "k")

	tests := []struct {
		name    string
		auth    AuthConfig
		wantErr bool
	}{
		{"apikey with key", AuthConfig{Mode: "apikey", KeyEnv: "SP_SET_KEY"}, false},
		{"apikey with empty key", AuthConfig{Mode: "apikey", KeyEnv: "SP_UNSET_KEY"}, true},
		{"mode none", AuthConfig{Mode: "none", KeyEnv: "SP_UNSET_KEY"}, false},
		{"no mode", AuthConfig{}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.auth.Check()
			if (err != nil) != tc.wantErr {
				t.Errorf("Check() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestTeam_TrackerPrefersJira(t *testing.T) {
	team := Team{Jira: &JiraConfig{}, Linear: &LinearConfig{}}
	if team.Tracker() != "jira" {
		t.Errorf("Tracker() = %q, want jira", team.Tracker())
	}
	if (Team{}).Tracker() != "" {
		t.Error("no tracker configured should be empty")
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("app:\n  interval: 1h\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan *Config, 16)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, nil, func(c *Config) {
			select {
			case changed <- c:
			default:
			}
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("app:\n  interval: 2h\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	// WriteFile truncates first, so an intermediate reload of the empty file
	// (all defaults) may arrive before the final content.
	deadline := time.After(5 * time.Second)
	for reloaded := false; !reloaded; {
		select {
		case c := <-changed:
			reloaded = c.App.Interval == 2*time.Hour
		case <-deadline:
			t.Fatal("onChange not called with the new interval within 5s")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestDiffTeams(t *testing.T) {
	prev := &Config{Teams: []Team{
		{ID: "platform", GitHub: GitHubConfig{Org: "acme"}},
		{ID: "mobile"},
		{ID: "data"},
	}}
	next := &Config{Teams: []Team{
		{ID: "platform", GitHub: GitHubConfig{Org: "acme-labs"}},
		{ID: "web"},
		{ID: "data"},
	}}

	d := DiffTeams(prev, next)
	if strings.Join(d.Added, ",") != "web" {
		t.Errorf("Added = %v, want [web]", d.Added)
	}
	if strings.Join(d.Removed, ",") != "mobile" {
		t.Errorf("Removed = %v, want [mobile]", d.Removed)
	}
	if strings.Join(d.Changed, ",") != "platform" {
		t.Errorf("Changed = %v, want [platform]", d.Changed)
	}

	if d := DiffTeams(nil, next); len(d.Added) != 3 || len(d.Removed) != 0 {
		t.Errorf("nil prev: %+v, want every team added", d)
	}
}

func TestReloader_SkipsUnchangedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	current, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	var calls int
	r := &reloader{path: path, current: current, onChange: func(*Config) { calls++ }}

	if r.reload() {
		t.Error("reload of an unchanged file applied a new config")
	}

	changed := strings.Replace(validYAML, "interval: 6h", "interval: 3h", 1)
	if err := os.WriteFile(path, []byte(changed), 0o600); err != nil {
		t.Fatal(err)
	}
	if !r.reload() {
		t.Fatal("reload of a changed file was skipped")
	}
	if calls != 1 || r.current.App.Interval != 3*time.Hour {
		t.Errorf("calls = %d, interval = %v; want 1 call with 3h", calls, r.current.App.Interval)
	}

	if err := os.WriteFile(path, []byte("app: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if r.reload() || calls != 1 {
		t.Error("invalid file must keep the previous config")
	}
}

// loadFromString writes yaml to a temp file and calls Load, failing on error.
func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := loadStringErr(t, content)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	return cfg
}

// loadStringErr writes yaml to a temp file and calls Load, returning any error.
func loadStringErr(t *testing.T, content string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return Load(path)
}
