package activity

import "time"

// PRStatus is the lifecycle state of a pull request.
type PRStatus string

// Pull request lifecycle states.
const (
	PRStatusOpen   PRStatus = "open"
	PRStatusDraft  PRStatus = "draft"
	PRStatusMerged PRStatus = "merged"
	PRStatusClosed PRStatus = "closed"
)

// CheckStatus is the CI/CD rollup state of a pull request's head commit.
type CheckStatus string

// CI rollup states.
const (
	CheckPending CheckStatus = "pending"
	CheckSuccess CheckStatus = "success"
	CheckFailure CheckStatus = "failure"
	CheckError   CheckStatus = "error"
)

// PullRequest is one normalized pull request as produced by the code-hosting
// client. AgeInDays and HoursSinceLastActivity are derived relative to the
// reference time the client fetched with.
type PullRequest struct {
	ID        string      `json:"id"`
	Number    int         `json:"number"`
	Repo      string      `json:"repo,omitempty"`
	Title     string      `json:"title"`
	URL       string      `json:"url"`
	Author    string      `json:"author"`
	Status    PRStatus    `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	AgeInDays int         `json:"age_in_days"`
	IsDraft   bool        `json:"is_draft"`
	CIStatus  CheckStatus `json:"ci_status"`

	ReviewCount   int `json:"review_count"`
	ApprovalCount int `json:"approval_count"`
	CommentCount  int `json:"comment_count"`

	// HasUnresolvedComments is true when at least one review thread is unresolved.
	HasUnresolvedComments bool       `json:"has_unresolved_comments"`
	LastReviewActivity    *time.Time `json:"last_review_activity,omitempty"`

	// HoursSinceLastActivity is nil only when no activity timestamp exists.
	HoursSinceLastActivity *int `json:"hours_since_last_activity,omitempty"`

	Labels  []string `json:"labels"`
	BaseRef string   `json:"base_ref"`
	HeadRef string   `json:"head_ref"`
}

// IsActive reports whether the pull request is still open (including drafts).
// Merged and closed pull requests never affect health scores or anomalies.
func (pr PullRequest) IsActive() bool {
	return pr.Status == PRStatusOpen || pr.Status == PRStatusDraft
}

// InactiveFor reports whether the pull request has a known last-activity age
// strictly greater than hours.
func (pr PullRequest) InactiveFor(hours int) bool {
	return pr.HoursSinceLastActivity != nil && *pr.HoursSinceLastActivity > hours
}

// InactiveAtLeast reports whether the pull request has a known last-activity
// age of at least hours.
func (pr PullRequest) InactiveAtLeast(hours int) bool {
	return pr.HoursSinceLastActivity != nil && *pr.HoursSinceLastActivity >= hours
}

// PRStatusFromState maps a GitHub pull request state plus its draft flag to a
// PRStatus. Merged and closed win over the draft flag.
func PRStatusFromState(state string, isDraft bool) PRStatus {
	switch state {
	case "MERGED":
		return PRStatusMerged
	case "CLOSED":
		return PRStatusClosed
	}
	if isDraft {
		return PRStatusDraft
	}
	return PRStatusOpen
}

// CheckStatusFromRollup maps a GitHub statusCheckRollup state to a CheckStatus.
// Anything unrecognised (including an absent rollup) is pending.
func CheckStatusFromRollup(state string) CheckStatus {
	switch state {
	case "SUCCESS":
		return CheckSuccess
	case "FAILURE":
		return CheckFailure
	case "ERROR":
		return CheckError
	default:
		return CheckPending
	}
}

// LastActivity returns the most recent of the given timestamps, ignoring nils.
// It returns nil when every argument is nil.
func LastActivity(times ...*time.Time) *time.Time {
	var latest *time.Time
	for _, t := range times {
		if t == nil {
			continue
		}
		if latest == nil || t.After(*latest) {
			latest = t
		}
	}
	return latest
}

// HoursSince returns the whole hours between last and now, or nil if last is nil.
func HoursSince(now time.Time, last *time.Time) *int {
	if last == nil {
		return nil
	}
	h := HoursBetween(now, *last)
	return &h
}
