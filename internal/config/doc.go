// Package config loads and watches config.yaml.
//
// Top-level sections:
//   - app: interval, timezone, sprint_length_days, alert_threshold_days, alert_cooldown
//   - server: http_port, report_ttl, auth{mode, key_env, header}
//   - storage: database_url_env (optional Postgres history)
//   - teams[]: id, github{token_env, org, repos}, jira or linear, webhooks[]
//
// Secrets are never stored in the file. Fields ending in _env name an
// environment variable, resolved lazily by Token(), APIKey(), Key(), URL()
// and DatabaseURL().
//
// Watch(ctx, path, onChange) uses fsnotify and re-adds the watch after each
// event so atomic saves keep being observed.
package config
