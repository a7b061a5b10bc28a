package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sprintpulse/sprintpulse/pkg/activity"
)

const jiraIssuesPage1 = `{"startAt":0,"maxResults":2,"total":3,"issues":[
  {"id":"10001","key":"PLAT-1","fields":{"summary":"Login page","status":{"name":"Done"},
   "assignee":{"displayName":"Alice"},"created":"2025-12-20T09:00:00.000+0000","updated":"2025-12-31T09:00:00.000+0000",
   "labels":["web"],"customfield_10016":5}},
  {"id":"10002","key":"PLAT-2","fields":{"summary":"Billing","status":{"name":"Blocked by vendor"},
   "assignee":{"name":"bob"},"created":"2025-12-22T09:00:00.000+0000","updated":"2025-12-23T09:00:00.000+0000",
   "customfield_10016":null,"customfield_10020":3}}
]}`

const jiraIssuesPage2 = `{"startAt":2,"maxResults":2,"total":3,"issues":[
  {"id":"10003","key":"PLAT-3","fields":{"summary":"Search","status":{"name":"In Progress"},
   "created":"2025-12-30T09:00:00.000+0000","updated":"2025-12-31T09:00:00.000+0000",
   "customfield_10020":[{"id":1,"name":"Sprint 4"}]}}
]}`

func newJiraServer(t *testing.T, sprints string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/agile/1.0/board", func(w http.ResponseWriter, r *http.Request) {
		if user, pass, ok := r.BasicAuth(); !ok || user != "bot@acme.io" || pass != "jt" {
			t.Errorf("basic auth = %q %q %v", user, pass, ok)
		}
		if r.URL.Query().Get("projectKeyOrId") != "PLAT" {
			t.Errorf("projectKeyOrId = %q", r.URL.Query().Get("projectKeyOrId"))
		}
		fmt.Fprint(w, `{"values":[{"id":12},{"id":99}]}`)
	})
	mux.HandleFunc("/rest/agile/1.0/board/12/sprint", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != "active" {
			t.Errorf("state = %q, want active", r.URL.Query().Get("state"))
		}
		fmt.Fprint(w, sprints)
	})
	mux.HandleFunc("/rest/agile/1.0/sprint/4/issue", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("startAt") == "0" {
			fmt.Fprint(w, jiraIssuesPage1)
			return
		}
		fmt.Fprint(w, jiraIssuesPage2)
	})
	return httptest.NewServer(mux)
}

func TestJira_FetchActiveSprint(t *testing.T) {
	srv := newJiraServer(t, `{"values":[{"id":4,"name":"Sprint 4","startDate":"2025-12-29T09:00:00.000Z","endDate":"2026-01-09T09:00:00.000Z"}]}`)
	defer srv.Close()

	j := NewJira(srv.URL+"/", "bot@acme.io", "jt", "PLAT", WithHTTPClient(srv.Client()), noRetry)
	s, err := j.FetchActiveSprint(context.Background(), baseTime)
	if err != nil {
		t.Fatalf("FetchActiveSprint: %v", err)
	}

	if s.ID != "4" || s.Name != "Sprint 4" || s.Source != activity.SourceJira {
		t.Errorf("sprint header = %q %q %q", s.ID, s.Name, s.Source)
	}
	if s.Start == nil || !s.Start.Equal(time.Date(2025, 12, 29, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("Start = %v", s.Start)
	}
	if len(s.Tickets) != 3 {
		t.Fatalf("tickets = %d, want 3", len(s.Tickets))
	}

	done, blocked, prog := s.Tickets[0], s.Tickets[1], s.Tickets[2]
	if done.DisplayKey() != "PLAT-1" || done.Status != activity.TicketDone || done.Assignee != "Alice" {
		t.Errorf("done ticket = %+v", done)
	}
	if done.URL != srv.URL+"/browse/PLAT-1" {
		t.Errorf("URL = %q", done.URL)
	}
	if done.AgeInDays != 12 {
		t.Errorf("AgeInDays = %d, want 12", done.AgeInDays)
	}
	if !blocked.IsBlocked || blocked.Status != activity.TicketBlocked || blocked.Assignee != "bob" {
		t.Errorf("blocked ticket = %+v", blocked)
	}
	if blocked.StoryPoints == nil || *blocked.StoryPoints != 3 {
		t.Errorf("fallback story points = %v, want 3", blocked.StoryPoints)
	}
	// customfield_10020 holding sprint objects is not an estimate.
	if prog.StoryPoints != nil {
		t.Errorf("StoryPoints = %v, want nil", *prog.StoryPoints)
	}
	if prog.Labels == nil {
		t.Error("Labels should be empty, not nil")
	}

	if s.TotalPoints != 8 || s.CompletedPoints != 5 || s.BlockedCount != 1 {
		t.Errorf("aggregates = total %v completed %v blocked %d", s.TotalPoints, s.CompletedPoints, s.BlockedCount)
	}
}

func TestJira_NoActiveSprint(t *testing.T) {
	srv := newJiraServer(t, `{"values":[]}`)
	defer srv.Close()

	j := NewJira(srv.URL, "bot@acme.io", "jt", "PLAT", WithHTTPClient(srv.Client()), noRetry)
	if _, err := j.FetchActiveSprint(context.Background(), baseTime); !errors.Is(err, ErrNoActiveSprint) {
		t.Errorf("err = %v, want ErrNoActiveSprint", err)
	}
}

func TestJira_NoBoards(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"values":[]}`)
	}))
	defer srv.Close()

	j := NewJira(srv.URL, "bot@acme.io", "jt", "NONE", WithHTTPClient(srv.Client()), noRetry)
	if _, err := j.FetchActiveSprint(context.Background(), baseTime); !errors.Is(err, ErrNoActiveSprint) {
		t.Errorf("err = %v, want ErrNoActiveSprint", err)
	}
}

func TestJira_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	j := NewJira(srv.URL, "bot@acme.io", "wrong", "PLAT", WithHTTPClient(srv.Client()), noRetry)
	_, err := j.FetchActiveSprint(context.Background(), baseTime)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Body != "bad token" {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestParseTrackerTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2026-01-01T09:00:00.000+0000", baseTime, true},
		{"2026-01-01T10:00:00.000+0100", baseTime, true},
		{"2026-01-01T09:00:00Z", baseTime, true},
		{"2026-01-01T09:00:00.123Z", baseTime.Add(123 * time.Millisecond), true},
		{"", time.Time{}, false},
		{"yesterday", time.Time{}, false},
	}
	for _, tt := range tests {
		got := parseTrackerTime(tt.in)
		if (got != nil) != tt.ok {
			t.Errorf("parseTrackerTime(%q) = %v, want ok=%v", tt.in, got, tt.ok)
			continue
		}
		if got != nil && !got.Equal(tt.want) {
			t.Errorf("parseTrackerTime(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
