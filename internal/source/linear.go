package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sprintpulse/sprintpulse/pkg/activity"
)

// DefaultLinearURL is the Linear GraphQL endpoint.
const DefaultLinearURL = "https://api.linear.app/graphql"

const activeCycleQuery = `
query ActiveCycle($teamId: String!, $cursor: String) {
  team(id: $teamId) {
    activeCycle { id name startsAt endsAt }
    issues(filter: {cycle: {isActive: {eq: true}}}, first: 100, after: $cursor) {
      pageInfo { hasNextPage endCursor }
      nodes {
        id
        identifier
        title
        state { name type }
        assignee { name displayName }
        createdAt
        updatedAt
        estimate
        labels { nodes { name } }
        url
      }
    }
  }
}`

type linearData struct {
	Team *struct {
		ActiveCycle *struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			StartsAt string `json:"startsAt"`
			EndsAt   string `json:"endsAt"`
		} `json:"activeCycle"`
		Issues struct {
			PageInfo struct {
				HasNextPage bool   `json:"hasNextPage"`
				EndCursor   string `json:"endCursor"`
			} `json:"pageInfo"`
			Nodes []linearIssue `json:"nodes"`
		} `json:"issues"`
	} `json:"team"`
}

type linearIssue struct {
	ID         string `json:"id"`
	Identifier string `json:"identifier"`
	Title      string `json:"title"`
	State      struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"state"`
	Assignee *struct {
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
	} `json:"assignee"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Estimate  *float64  `json:"estimate"`
	Labels    struct {
		Nodes []struct {
			Name string `json:"name"`
		} `json:"nodes"`
	} `json:"labels"`
	URL string `json:"url"`
}

// Linear reads a team's active cycle over the GraphQL API.
type Linear struct {
	endpoint string
	teamID   string
	client   *http.Client
	log      *slog.Logger
	maxPages int
}

// NewLinear returns a client that sends apiKey verbatim in the Authorization
// header, as Linear personal API keys expect.
func NewLinear(apiKey, teamID string, opts ...Option) *Linear {
	o := buildOptions(DefaultLinearURL, opts)
	return &Linear{
		endpoint: o.baseURL,
		teamID:   teamID,
		client:   buildHTTPClient(o, credentials{mode: "apikey", header: "Authorization", secret: apiKey}),
		log:      o.logger,
		maxPages: o.maxPages,
	}
}

// FetchActiveSprint returns the team's active cycle with its issues. It
// returns ErrNoActiveSprint when the team is unknown or has no active cycle.
func (l *Linear) FetchActiveSprint(ctx context.Context, now time.Time) (*activity.Sprint, error) {
	var (
		tickets []activity.Ticket
		cursor  *string
		cycleID string
		name    string
		start   *time.Time
		end     *time.Time
	)

	for page := 0; page < l.maxPages; page++ {
		var data linearData
		vars := map[string]any{"teamId": l.teamID, "cursor": cursor}
		if err := queryGraphQL(ctx, l.client, l.endpoint, activeCycleQuery, vars, &data); err != nil {
			return nil, fmt.Errorf("linear: team %s: %w", l.teamID, err)
		}
		if data.Team == nil {
			l.log.Warn("linear: team not found", "team_id", l.teamID)
			return nil, ErrNoActiveSprint
		}
		cycle := data.Team.ActiveCycle
		if cycle == nil {
			l.log.Warn("linear: no active cycle", "team_id", l.teamID)
			return nil, ErrNoActiveSprint
		}
		if page == 0 {
			cycleID, name = cycle.ID, cycle.Name
			start, end = parseTrackerTime(cycle.StartsAt), parseTrackerTime(cycle.EndsAt)
		}

		for _, is := range data.Team.Issues.Nodes {
			tickets = append(tickets, normalizeLinearIssue(is, now))
		}
		info := data.Team.Issues.PageInfo
		if !info.HasNextPage {
			break
		}
		next := info.EndCursor
		cursor = &next
	}

	return activity.NewSprint(cycleID, name, activity.SourceLinear, start, end, tickets), nil
}

func normalizeLinearIssue(is linearIssue, now time.Time) activity.Ticket {
	status := activity.MapLinearStatus(is.State.Name, is.State.Type)

	var assignee string
	if is.Assignee != nil {
		assignee = is.Assignee.DisplayName
		if assignee == "" {
			assignee = is.Assignee.Name
		}
	}

	labels := make([]string, 0, len(is.Labels.Nodes))
	for _, lb := range is.Labels.Nodes {
		labels = append(labels, lb.Name)
	}

	return activity.Ticket{
		ID:          is.ID,
		Ref:         activity.LinearRef{Identifier: is.Identifier, Title: is.Title},
		Status:      status,
		StatusName:  is.State.Name,
		Assignee:    assignee,
		CreatedAt:   is.CreatedAt,
		UpdatedAt:   is.UpdatedAt,
		AgeInDays:   activity.DaysBetween(now, is.CreatedAt),
		IsBlocked:   activity.BlockedFlag(status, is.State.Name),
		StoryPoints: is.Estimate,
		Labels:      labels,
		URL:         is.URL,
	}
}
