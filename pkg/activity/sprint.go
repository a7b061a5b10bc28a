package activity

import "time"

// Sprint is the active sprint (Jira) or cycle (Linear) with its tickets.
//
// Build it with NewSprint. The point totals and BlockedCount are computed once
// from the tickets' statuses at assembly time and are not re-derived later;
// callers must treat a Sprint as read-only.
type Sprint struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Source string     `json:"source"`
	Start  *time.Time `json:"start,omitempty"`
	End    *time.Time `json:"end,omitempty"`

	Tickets []Ticket `json:"tickets"`

	CompletedPoints  float64 `json:"completed_points"`
	InProgressPoints float64 `json:"in_progress_points"`
	TotalPoints      float64 `json:"total_points"`
	BlockedCount     int     `json:"blocked_count"`
}

// NewSprint assembles a Sprint and freezes its aggregates. The ticket slice is
// copied so later changes by the caller do not leak in.
func NewSprint(id, name, source string, start, end *time.Time, tickets []Ticket) *Sprint {
	s := &Sprint{
		ID:      id,
		Name:    name,
		Source:  source,
		Start:   start,
		End:     end,
		Tickets: make([]Ticket, len(tickets)),
	}
	copy(s.Tickets, tickets)

	for _, t := range s.Tickets {
		pts := t.Points()
		s.TotalPoints += pts
		switch t.Status {
		case TicketDone:
			s.CompletedPoints += pts
		case TicketInProgress:
			s.InProgressPoints += pts
		}
		if t.IsBlocked {
			s.BlockedCount++
		}
	}
	return s
}

// BlockedTickets returns the tickets flagged as blocked, in sprint order.
func (s *Sprint) BlockedTickets() []Ticket {
	var out []Ticket
	for _, t := range s.Tickets {
		if t.IsBlocked {
			out = append(out, t)
		}
	}
	return out
}
