package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/sprintpulse/sprintpulse/internal/config"
	"github.com/sprintpulse/sprintpulse/internal/source"
	"github.com/sprintpulse/sprintpulse/pkg/activity"
)

// PRFetcher returns the normalized pull requests of a set of repositories.
type PRFetcher interface {
	FetchAll(ctx context.Context, org string, repos []string, now time.Time) []activity.PullRequest
}

// SprintFetcher returns the team's active sprint, or source.ErrNoActiveSprint.
type SprintFetcher interface {
	FetchActiveSprint(ctx context.Context, now time.Time) (*activity.Sprint, error)
}

// Sources are the upstream clients of one team. Sprint is nil when the team
// has no tracker configured.
type Sources struct {
	PRs    PRFetcher
	Sprint SprintFetcher
}

// SourceFactory builds the clients for a team.
type SourceFactory func(team config.Team) (Sources, error)

// DefaultSources builds GitHub, Jira and Linear clients from the team config.
// Jira wins when both trackers are configured.
func DefaultSources(team config.Team) (Sources, error) {
	token := team.GitHub.Token()
	if token == "" {
		return Sources{}, fmt.Errorf("github token env %q is empty", team.GitHub.TokenEnv)
	}

	ghOpts := []source.Option{source.WithConcurrency(team.GitHub.Concurrency)}
	if team.GitHub.APIURL != "" {
		ghOpts = append(ghOpts, source.WithBaseURL(team.GitHub.APIURL))
	}
	srcs := Sources{PRs: source.NewGitHub(token, ghOpts...)}

	switch team.Tracker() {
	case "jira":
		j := team.Jira
		srcs.Sprint = source.NewJira(j.URL, j.Email, j.Token(), j.ProjectKey)
	case "linear":
		l := team.Linear
		var opts []source.Option
		if l.APIURL != "" {
			opts = append(opts, source.WithBaseURL(l.APIURL))
		}
		srcs.Sprint = source.NewLinear(l.APIKey(), l.TeamID, opts...)
	}
	return srcs, nil
}
