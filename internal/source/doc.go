// Package source fetches raw activity from upstream systems and normalizes it
// into pkg/activity values.
//
// Clients: GitHub (github.go, GraphQL pull requests), Jira (jira.go, agile REST
// sprint + issues) and Linear (linear.go, GraphQL active cycle). Every
// normalized value is derived relative to the reference time passed by the
// caller, never the wall clock.
//
// Authentication (bearer, basic, raw API key header) is handled by the shared
// authRoundTripper in base.go. Rate limits and transient upstream failures are
// retried by RetryTransport; anything else surfaces as *APIError.
package source
