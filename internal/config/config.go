package config

import (
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultInterval           = 24 * time.Hour
	DefaultTimezone           = "America/New_York"
	DefaultSprintLengthDays   = 10
	DefaultAlertThresholdDays = 3
	DefaultAlertCooldown      = 24 * time.Hour
	DefaultHTTPPort           = 8080
	DefaultReportTTL          = 48 * time.Hour
	DefaultAuthHeader         = "X-API-Key"
	DefaultRepoConcurrency    = 4
)

// Config is the full configuration tree parsed from config.yaml.
type Config struct {
	App     AppConfig     `yaml:"app"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Teams   []Team        `yaml:"teams"`
}

// AppConfig holds settings shared by every team.
type AppConfig struct {
	// Interval is how often the worker evaluates every team.
	Interval time.Duration `yaml:"interval"`

	// Timezone is an IANA zone name used when rendering report timestamps.
	Timezone string `yaml:"timezone"`

	// SprintLengthDays is the default sprint length for the report header and
	// for sprints without an end date.
	SprintLengthDays int `yaml:"sprint_length_days"`

	// AlertThresholdDays is the age above which open pull requests are listed
	// as pending in the daily summary.
	AlertThresholdDays int `yaml:"alert_threshold_days"`

	// AlertCooldown suppresses re-posting the same anomaly ID within this window.
	AlertCooldown time.Duration `yaml:"alert_cooldown"`
}

// Location returns the configured time zone, falling back to UTC when the
// name cannot be resolved.
func (a AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API, /metrics and WebSocket hub listen on.
	HTTPPort int `yaml:"http_port"`

	// ReportTTL is how long a team's report stays in the store without refresh.
	ReportTTL time.Duration `yaml:"report_ttl"`

	// Auth configures how the server authenticates incoming REST requests.
	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig controls API key authentication on the HTTP API.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected key.
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header to read the key from. Defaults to X-API-Key.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	return env(a.KeyEnv)
}

// Check reports an apikey mode whose key variable resolves to nothing. Load
// does not enforce this because -once runs never serve HTTP.
func (a AuthConfig) Check() error {
	if a.Mode == "apikey" && a.Key() == "" {
		return fmt.Errorf("config: server.auth: mode is apikey but %s is empty", a.KeyEnv)
	}
	return nil
}

// EffectiveHeader returns the configured header name, or DefaultAuthHeader.
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return DefaultAuthHeader
}

// StorageConfig configures the optional Postgres run history.
type StorageConfig struct {
	// DatabaseURLEnv names the environment variable holding the Postgres DSN.
	// History is disabled when the variable is unset or empty.
	DatabaseURLEnv string `yaml:"database_url_env"`
}

// DatabaseURL returns the DSN resolved from the environment.
func (s StorageConfig) DatabaseURL() string {
	return env(s.DatabaseURLEnv)
}

// Team is one monitored team: a set of repositories plus one ticket tracker.
type Team struct {
	ID string `yaml:"id"`

	// SprintLengthDays overrides app.sprint_length_days when positive.
	SprintLengthDays int `yaml:"sprint_length_days"`

	GitHub GitHubConfig `yaml:"github"`

	// Jira and Linear are alternatives. When both are configured Jira wins.
	Jira   *JiraConfig   `yaml:"jira"`
	Linear *LinearConfig `yaml:"linear"`

	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// EffectiveSprintLength returns the team override or the app default.
func (t Team) EffectiveSprintLength(app AppConfig) int {
	if t.SprintLengthDays > 0 {
		return t.SprintLengthDays
	}
	return app.SprintLengthDays
}

// Tracker returns "jira", "linear" or "" for the team's active tracker.
func (t Team) Tracker() string {
	switch {
	case t.Jira != nil:
		return "jira"
	case t.Linear != nil:
		return "linear"
	default:
		return ""
	}
}

// GitHubConfig selects the repositories whose pull requests are scored.
type GitHubConfig struct {
	TokenEnv string   `yaml:"token_env"`
	Org      string   `yaml:"org"`
	Repos    []string `yaml:"repos"`

	// APIURL overrides the GraphQL endpoint (GitHub Enterprise).
	APIURL string `yaml:"api_url"`

	// Concurrency bounds parallel repository fetches.
	Concurrency int `yaml:"concurrency"`
}

// Token returns the GitHub token resolved from the environment.
func (g GitHubConfig) Token() string {
	return env(g.TokenEnv)
}

// JiraConfig points at a Jira Cloud project.
type JiraConfig struct {
	URL        string `yaml:"url"`
	Email      string `yaml:"email"`
	TokenEnv   string `yaml:"token_env"`
	ProjectKey string `yaml:"project_key"`
}

// Token returns the Jira API token resolved from the environment.
func (j JiraConfig) Token() string {
	return env(j.TokenEnv)
}

// LinearConfig points at a Linear team.
type LinearConfig struct {
	APIKeyEnv string `yaml:"api_key_env"`
	TeamID    string `yaml:"team_id"`

	// APIURL overrides the GraphQL endpoint.
	APIURL string `yaml:"api_url"`
}

// APIKey returns the Linear API key resolved from the environment.
func (l LinearConfig) APIKey() string {
	return env(l.APIKeyEnv)
}

// WebhookConfig defines one notification delivery target.
type WebhookConfig struct {
	// Type is one of: slack | teams | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	return env(w.URLEnv)
}

func env(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	for i := range cfg.Teams {
		if cfg.Teams[i].GitHub.Concurrency <= 0 {
			cfg.Teams[i].GitHub.Concurrency = DefaultRepoConcurrency
		}
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		App: AppConfig{
			Interval:           DefaultInterval,
			Timezone:           DefaultTimezone,
			SprintLengthDays:   DefaultSprintLengthDays,
			AlertThresholdDays: DefaultAlertThresholdDays,
			AlertCooldown:      DefaultAlertCooldown,
		},
		Server: ServerConfig{
			HTTPPort:  DefaultHTTPPort,
			ReportTTL: DefaultReportTTL,
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if cfg.App.Interval <= 0 {
		return fmt.Errorf("app.interval must be positive")
	}
	if _, err := time.LoadLocation(cfg.App.Timezone); err != nil {
		return fmt.Errorf("app.timezone %q: %w", cfg.App.Timezone, err)
	}
	if cfg.App.SprintLengthDays <= 0 {
		return fmt.Errorf("app.sprint_length_days must be positive")
	}
	if cfg.App.AlertCooldown < 0 {
		return fmt.Errorf("app.alert_cooldown must not be negative")
	}
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	if cfg.Server.ReportTTL < 0 {
		return fmt.Errorf("server.report_ttl must not be negative")
	}
	switch cfg.Server.Auth.Mode {
	case "apikey":
		if cfg.Server.Auth.KeyEnv == "" {
			return fmt.Errorf("server.auth.key_env is required when mode is apikey")
		}
	case "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", cfg.Server.Auth.Mode)
	}

	seen := make(map[string]bool, len(cfg.Teams))
	for i, t := range cfg.Teams {
		if t.ID == "" {
			return fmt.Errorf("teams[%d]: id is required", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("teams[%d]: duplicate id %q", i, t.ID)
		}
		seen[t.ID] = true

		if t.GitHub.Org == "" {
			return fmt.Errorf("teams[%d] %q: github.org is required", i, t.ID)
		}
		if len(t.GitHub.Repos) == 0 {
			return fmt.Errorf("teams[%d] %q: github.repos must not be empty", i, t.ID)
		}
		if t.SprintLengthDays < 0 {
			return fmt.Errorf("teams[%d] %q: sprint_length_days must not be negative", i, t.ID)
		}
		if j := t.Jira; j != nil {
			if j.URL == "" || j.Email == "" || j.ProjectKey == "" {
				return fmt.Errorf("teams[%d] %q: jira needs url, email and project_key", i, t.ID)
			}
		}
		if l := t.Linear; l != nil && l.TeamID == "" {
			return fmt.Errorf("teams[%d] %q: linear.team_id is required", i, t.ID)
		}
		for k, w := range t.Webhooks {
			switch w.Type {
			case "slack", "teams", "http":
			default:
				return fmt.Errorf("teams[%d] %q: webhooks[%d]: unknown type %q", i, t.ID, k, w.Type)
			}
		}
	}
	return nil
}
