package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sprintpulse/sprintpulse/pkg/activity"
)

const jiraIssuePageSize = 100

// Jira reads the active sprint of a project through the agile REST API.
type Jira struct {
	baseURL    string
	projectKey string
	client     *http.Client
	log        *slog.Logger
	maxPages   int
}

// NewJira returns a client using basic auth (account email + API token).
func NewJira(baseURL, email, token, projectKey string, opts ...Option) *Jira {
	o := buildOptions(baseURL, opts)
	return &Jira{
		baseURL:    strings.TrimRight(o.baseURL, "/"),
		projectKey: projectKey,
		client:     buildHTTPClient(o, credentials{mode: "basic", username: email, secret: token}),
		log:        o.logger,
		maxPages:   o.maxPages,
	}
}

type jiraBoards struct {
	Values []struct {
		ID int `json:"id"`
	} `json:"values"`
}

type jiraSprints struct {
	Values []struct {
		ID        int    `json:"id"`
		Name      string `json:"name"`
		StartDate string `json:"startDate"`
		EndDate   string `json:"endDate"`
	} `json:"values"`
}

type jiraIssues struct {
	StartAt    int         `json:"startAt"`
	MaxResults int         `json:"maxResults"`
	Total      int         `json:"total"`
	Issues     []jiraIssue `json:"issues"`
}

type jiraIssue struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Fields struct {
		Summary string `json:"summary"`
		Status  struct {
			Name string `json:"name"`
		} `json:"status"`
		Assignee *struct {
			DisplayName string `json:"displayName"`
			Name        string `json:"name"`
		} `json:"assignee"`
		Created   string          `json:"created"`
		Updated   string          `json:"updated"`
		Labels    []string        `json:"labels"`
		Points    json.RawMessage `json:"customfield_10016"`
		AltPoints json.RawMessage `json:"customfield_10020"`
	} `json:"fields"`
}

// FetchActiveSprint returns the first active sprint on the project's first
// board, with every issue in it. It returns ErrNoActiveSprint when the project
// has no board or the board has no active sprint.
func (j *Jira) FetchActiveSprint(ctx context.Context, now time.Time) (*activity.Sprint, error) {
	var boards jiraBoards
	u := j.baseURL + "/rest/agile/1.0/board?projectKeyOrId=" + url.QueryEscape(j.projectKey)
	if err := getJSON(ctx, j.client, u, &boards); err != nil {
		return nil, fmt.Errorf("jira: list boards: %w", err)
	}
	if len(boards.Values) == 0 {
		j.log.Warn("jira: no boards found", "project", j.projectKey)
		return nil, ErrNoActiveSprint
	}
	boardID := boards.Values[0].ID

	var sprints jiraSprints
	u = fmt.Sprintf("%s/rest/agile/1.0/board/%d/sprint?state=active", j.baseURL, boardID)
	if err := getJSON(ctx, j.client, u, &sprints); err != nil {
		return nil, fmt.Errorf("jira: list sprints: %w", err)
	}
	if len(sprints.Values) == 0 {
		j.log.Warn("jira: no active sprint", "project", j.projectKey, "board", boardID)
		return nil, ErrNoActiveSprint
	}
	sp := sprints.Values[0]

	var tickets []activity.Ticket
	for page, startAt := 0, 0; page < j.maxPages; page++ {
		var issues jiraIssues
		u = fmt.Sprintf("%s/rest/agile/1.0/sprint/%d/issue?startAt=%d&maxResults=%d",
			j.baseURL, sp.ID, startAt, jiraIssuePageSize)
		if err := getJSON(ctx, j.client, u, &issues); err != nil {
			return nil, fmt.Errorf("jira: sprint %d issues: %w", sp.ID, err)
		}
		for _, is := range issues.Issues {
			tickets = append(tickets, j.normalize(is, now))
		}
		startAt += len(issues.Issues)
		if len(issues.Issues) == 0 || startAt >= issues.Total {
			break
		}
	}

	return activity.NewSprint(fmt.Sprint(sp.ID), sp.Name, activity.SourceJira,
		parseTrackerTime(sp.StartDate), parseTrackerTime(sp.EndDate), tickets), nil
}

func (j *Jira) normalize(is jiraIssue, now time.Time) activity.Ticket {
	f := is.Fields
	status := activity.MapJiraStatus(f.Status.Name)

	var assignee string
	if f.Assignee != nil {
		assignee = f.Assignee.DisplayName
		if assignee == "" {
			assignee = f.Assignee.Name
		}
	}

	points := numericField(f.Points)
	if points == nil {
		points = numericField(f.AltPoints)
	}

	var created, updated time.Time
	if t := parseTrackerTime(f.Created); t != nil {
		created = *t
	}
	if t := parseTrackerTime(f.Updated); t != nil {
		updated = *t
	}

	labels := f.Labels
	if labels == nil {
		labels = []string{}
	}

	return activity.Ticket{
		ID:          is.ID,
		Ref:         activity.JiraRef{Key: is.Key, Summary: f.Summary},
		Status:      status,
		StatusName:  f.Status.Name,
		Assignee:    assignee,
		CreatedAt:   created,
		UpdatedAt:   updated,
		AgeInDays:   activity.DaysBetween(now, created),
		IsBlocked:   activity.BlockedFlag(status, f.Status.Name),
		StoryPoints: points,
		Labels:      labels,
		URL:         j.baseURL + "/browse/" + is.Key,
	}
}

// numericField decodes a custom field that holds a story-point estimate.
// Instances reuse these field IDs for other data, so anything other than a
// JSON number is treated as absent. Zero counts as absent too.
func numericField(raw json.RawMessage) *float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] == 'n' || raw[0] == '[' || raw[0] == '{' || raw[0] == '"' {
		return nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil || v == 0 {
		return nil
	}
	return &v
}

// trackerTimeLayouts covers RFC 3339 (Linear, Jira sprints) and Jira's issue
// timestamps, which carry a colon-less zone offset.
var trackerTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
}

// parseTrackerTime returns nil for empty or unparseable timestamps.
func parseTrackerTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range trackerTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
