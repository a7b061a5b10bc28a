package activity

import (
	"encoding/json"
	"strings"
	"time"
)

// TicketStatus is the normalized workflow state of a ticket.
type TicketStatus string

// Normalized ticket states.
const (
	TicketToDo       TicketStatus = "to-do"
	TicketInProgress TicketStatus = "in-progress"
	TicketBlocked    TicketStatus = "blocked"
	TicketDone       TicketStatus = "done"
	TicketOther      TicketStatus = "other"
)

// Tracker source names.
const (
	SourceJira   = "jira"
	SourceLinear = "linear"
)

// TicketRef carries the tracker-specific identity of a ticket.
type TicketRef interface {
	Source() string
	DisplayKey() string
	DisplayTitle() string
}

// JiraRef identifies a Jira issue.
type JiraRef struct {
	Key     string `json:"key"`
	Summary string `json:"summary"`
}

func (r JiraRef) Source() string       { return SourceJira }
func (r JiraRef) DisplayKey() string   { return r.Key }
func (r JiraRef) DisplayTitle() string { return r.Summary }

// LinearRef identifies a Linear issue.
type LinearRef struct {
	Identifier string `json:"identifier"`
	Title      string `json:"title"`
}

func (r LinearRef) Source() string       { return SourceLinear }
func (r LinearRef) DisplayKey() string   { return r.Identifier }
func (r LinearRef) DisplayTitle() string { return r.Title }

// Ticket is one normalized ticket from either tracker.
//
// Status and IsBlocked are derived independently: IsBlocked is true whenever
// Status is blocked, but also when the raw status name merely mentions
// "blocked" (see BlockedFlag). A ticket can therefore be blocked with a
// Status of other.
type Ticket struct {
	ID         string
	Ref        TicketRef
	Status     TicketStatus
	StatusName string
	Assignee   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	AgeInDays  int
	IsBlocked  bool
	// StoryPoints is nil when the ticket has no estimate.
	StoryPoints *float64
	Labels      []string
	URL         string
}

// DisplayKey returns the human-readable ticket key (PLAT-12, ENG-7).
func (t Ticket) DisplayKey() string {
	if t.Ref == nil {
		return t.ID
	}
	return t.Ref.DisplayKey()
}

// DisplayTitle returns the ticket's summary/title.
func (t Ticket) DisplayTitle() string {
	if t.Ref == nil {
		return ""
	}
	return t.Ref.DisplayTitle()
}

// Points returns the story-point estimate, or 0 when unestimated.
func (t Ticket) Points() float64 {
	if t.StoryPoints == nil {
		return 0
	}
	return *t.StoryPoints
}

// MarshalJSON flattens the tracker ref into source/key/title fields.
func (t Ticket) MarshalJSON() ([]byte, error) {
	var source string
	if t.Ref != nil {
		source = t.Ref.Source()
	}
	return json.Marshal(struct {
		ID          string       `json:"id"`
		Source      string       `json:"source"`
		Key         string       `json:"key"`
		Title       string       `json:"title"`
		Status      TicketStatus `json:"status"`
		StatusName  string       `json:"status_name"`
		Assignee    string       `json:"assignee,omitempty"`
		CreatedAt   time.Time    `json:"created_at"`
		UpdatedAt   time.Time    `json:"updated_at"`
		AgeInDays   int          `json:"age_in_days"`
		IsBlocked   bool         `json:"is_blocked"`
		StoryPoints *float64     `json:"story_points,omitempty"`
		Labels      []string     `json:"labels"`
		URL         string       `json:"url"`
	}{
		ID:          t.ID,
		Source:      source,
		Key:         t.DisplayKey(),
		Title:       t.DisplayTitle(),
		Status:      t.Status,
		StatusName:  t.StatusName,
		Assignee:    t.Assignee,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
		AgeInDays:   t.AgeInDays,
		IsBlocked:   t.IsBlocked,
		StoryPoints: t.StoryPoints,
		Labels:      t.Labels,
		URL:         t.URL,
	})
}

// UnmarshalJSON restores a ticket written by MarshalJSON, rebuilding the
// tracker ref from the source field.
func (t *Ticket) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID          string       `json:"id"`
		Source      string       `json:"source"`
		Key         string       `json:"key"`
		Title       string       `json:"title"`
		Status      TicketStatus `json:"status"`
		StatusName  string       `json:"status_name"`
		Assignee    string       `json:"assignee"`
		CreatedAt   time.Time    `json:"created_at"`
		UpdatedAt   time.Time    `json:"updated_at"`
		AgeInDays   int          `json:"age_in_days"`
		IsBlocked   bool         `json:"is_blocked"`
		StoryPoints *float64     `json:"story_points"`
		Labels      []string     `json:"labels"`
		URL         string       `json:"url"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*t = Ticket{
		ID:          raw.ID,
		Status:      raw.Status,
		StatusName:  raw.StatusName,
		Assignee:    raw.Assignee,
		CreatedAt:   raw.CreatedAt,
		UpdatedAt:   raw.UpdatedAt,
		AgeInDays:   raw.AgeInDays,
		IsBlocked:   raw.IsBlocked,
		StoryPoints: raw.StoryPoints,
		Labels:      raw.Labels,
		URL:         raw.URL,
	}
	switch raw.Source {
	case SourceJira:
		t.Ref = JiraRef{Key: raw.Key, Summary: raw.Title}
	case SourceLinear:
		t.Ref = LinearRef{Identifier: raw.Key, Title: raw.Title}
	}
	return nil
}

// MapJiraStatus normalizes a Jira status name by substring match.
// Order matters: "done" wins over "blocked", which wins over "progress".
func MapJiraStatus(name string) TicketStatus {
	lower := strings.ToLower(name)
	switch {
	case containsAny(lower, "done", "complete", "closed"):
		return TicketDone
	case containsAny(lower, "blocked", "impediment"):
		return TicketBlocked
	case containsAny(lower, "progress", "in dev"):
		return TicketInProgress
	case containsAny(lower, "to do", "backlog", "open"):
		return TicketToDo
	default:
		return TicketOther
	}
}

// MapLinearStatus normalizes a Linear workflow state using both its display
// name and its state type (backlog, unstarted, started, completed, canceled).
func MapLinearStatus(name, stateType string) TicketStatus {
	lower := strings.ToLower(name)
	typ := strings.ToLower(stateType)
	switch {
	case typ == "completed" || typ == "canceled" || strings.Contains(lower, "done"):
		return TicketDone
	case containsAny(lower, "blocked", "impediment"):
		return TicketBlocked
	case typ == "started" || containsAny(lower, "progress", "in dev"):
		return TicketInProgress
	case typ == "unstarted" || containsAny(lower, "backlog", "todo"):
		return TicketToDo
	default:
		return TicketOther
	}
}

// BlockedFlag reports whether a ticket counts as blocked. It is a superset of
// the status check: a raw status name containing "blocked" is enough.
func BlockedFlag(status TicketStatus, rawName string) bool {
	return status == TicketBlocked || strings.Contains(strings.ToLower(rawName), "blocked")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
