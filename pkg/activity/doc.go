// Package activity defines the normalized engineering-activity records shared
// by the upstream source clients and the metrics engine.
//
// Both trackers (Jira, Linear) and the code host (GitHub) hand the engine the
// same shapes: PullRequest, Ticket and Sprint. Tracker-specific naming
// (key/summary vs identifier/title) is hidden behind the TicketRef interface so
// consumers never branch on the source.
//
// Sprint aggregates (completed/in-progress/total points, blocked count) are
// computed once by NewSprint from the ticket statuses at assembly time.
package activity
