// Package worker drives the evaluation loop.
//
// For every configured team a run fetches pull requests from GitHub and the
// active sprint from Jira or Linear, evaluates the report, stores it, records
// it in history when enabled and hands it to the notifier. Teams are processed
// one after another; a failing team is logged and the rest still run.
package worker
