// Package metrics derives sprint health from normalized activity records.
//
// health.go provides ScorePRs, the pure PR health scorer (base 100 minus
// per-rule deductions, clamped to 0–100), and Summarize for PR counts and ages.
//
// velocity.go provides CalculateVelocity: completion, burndown rates, on-track
// and a 0–100 velocity score for one sprint.
//
// anomaly.go provides DetectAll, which emits severity-tagged anomalies with
// deterministic IDs, most severe first.
//
// report.go ties the three together: Evaluate reads the clock once and
// returns a Report. Every function takes now explicitly so tests are
// deterministic. Nothing in this package performs I/O or logs.
package metrics
