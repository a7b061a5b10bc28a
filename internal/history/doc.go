// Package history persists one row per team evaluation in Postgres.
//
// History is optional: the worker only records runs when
// storage.database_url_env resolves to a DSN. The full report is kept as jsonb
// so past runs can be re-served; the scalar columns support cheap trend
// queries without decoding it.
package history
