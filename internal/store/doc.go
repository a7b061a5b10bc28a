// Package store holds the latest report per team in memory.
//
// Entries older than the TTL are hidden from Get and List and removed by the
// background Run loop, so a team whose worker keeps failing drops out of the
// API instead of serving an old report indefinitely.
package store
