package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sprintpulse/sprintpulse/pkg/activity"
)

// DefaultGitHubURL is the public GitHub GraphQL endpoint.
const DefaultGitHubURL = "https://api.github.com/graphql"

const pullRequestsQuery = `
query PullRequests($owner: String!, $repo: String!, $cursor: String) {
  repository(owner: $owner, name: $repo) {
    pullRequests(
      first: 100
      after: $cursor
      states: [OPEN, CLOSED, MERGED]
      orderBy: {field: UPDATED_AT, direction: DESC}
    ) {
      pageInfo { hasNextPage endCursor }
      nodes {
        id
        number
        title
        url
        state
        isDraft
        createdAt
        updatedAt
        baseRefName
        headRefName
        author { login }
        labels(first: 10) { nodes { name } }
        reviews(first: 50) { nodes { state submittedAt author { login } } }
        comments(first: 50) { nodes { createdAt author { login } } }
        reviewThreads(first: 20) {
          nodes { isResolved comments(first: 5) { nodes { createdAt } } }
        }
        commits(last: 1) { nodes { commit { statusCheckRollup { state } } } }
      }
    }
  }
}`

type ghPullRequestsData struct {
	Repository *struct {
		PullRequests struct {
			PageInfo struct {
				HasNextPage bool   `json:"hasNextPage"`
				EndCursor   string `json:"endCursor"`
			} `json:"pageInfo"`
			Nodes []ghPullRequest `json:"nodes"`
		} `json:"pullRequests"`
	} `json:"repository"`
}

type ghLogin struct {
	Login string `json:"login"`
}

type ghPullRequest struct {
	ID          string    `json:"id"`
	Number      int       `json:"number"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	State       string    `json:"state"`
	IsDraft     bool      `json:"isDraft"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	BaseRefName string    `json:"baseRefName"`
	HeadRefName string    `json:"headRefName"`
	Author      *ghLogin  `json:"author"`
	Labels      struct {
		Nodes []struct {
			Name string `json:"name"`
		} `json:"nodes"`
	} `json:"labels"`
	Reviews struct {
		Nodes []struct {
			State       string     `json:"state"`
			SubmittedAt *time.Time `json:"submittedAt"`
			Author      *ghLogin   `json:"author"`
		} `json:"nodes"`
	} `json:"reviews"`
	Comments struct {
		Nodes []struct {
			CreatedAt time.Time `json:"createdAt"`
			Author    *ghLogin  `json:"author"`
		} `json:"nodes"`
	} `json:"comments"`
	ReviewThreads struct {
		Nodes []struct {
			IsResolved bool `json:"isResolved"`
			Comments   struct {
				Nodes []struct {
					CreatedAt time.Time `json:"createdAt"`
				} `json:"nodes"`
			} `json:"comments"`
		} `json:"nodes"`
	} `json:"reviewThreads"`
	Commits struct {
		Nodes []struct {
			Commit struct {
				StatusCheckRollup *struct {
					State string `json:"state"`
				} `json:"statusCheckRollup"`
			} `json:"commit"`
		} `json:"nodes"`
	} `json:"commits"`
}

// GitHub fetches pull requests over the GraphQL API.
type GitHub struct {
	endpoint    string
	client      *http.Client
	log         *slog.Logger
	maxPages    int
	concurrency int
}

// NewGitHub returns a client authenticated with a bearer token.
func NewGitHub(token string, opts ...Option) *GitHub {
	o := buildOptions(DefaultGitHubURL, opts)
	return &GitHub{
		endpoint:    o.baseURL,
		client:      buildHTTPClient(o, credentials{mode: "bearer", secret: token}),
		log:         o.logger,
		maxPages:    o.maxPages,
		concurrency: o.concurrency,
	}
}

// FetchRepo returns every pull request of owner/repo (open, closed and merged,
// most recently updated first), normalized relative to now. A repository the
// API reports as missing yields no pull requests and no error.
func (g *GitHub) FetchRepo(ctx context.Context, owner, repo string, now time.Time) ([]activity.PullRequest, error) {
	var out []activity.PullRequest
	var cursor *string

	for page := 0; page < g.maxPages; page++ {
		vars := map[string]any{"owner": owner, "repo": repo, "cursor": cursor}
		var data ghPullRequestsData
		if err := queryGraphQL(ctx, g.client, g.endpoint, pullRequestsQuery, vars, &data); err != nil {
			return nil, fmt.Errorf("github: %s/%s: %w", owner, repo, err)
		}
		if data.Repository == nil {
			g.log.Warn("github: repository not found", "repo", owner+"/"+repo)
			return out, nil
		}

		prs := data.Repository.PullRequests
		for _, node := range prs.Nodes {
			pr := normalizePR(node, now)
			pr.Repo = owner + "/" + repo
			out = append(out, pr)
		}
		if !prs.PageInfo.HasNextPage {
			return out, nil
		}
		next := prs.PageInfo.EndCursor
		cursor = &next
	}

	g.log.Warn("github: page limit reached, results truncated",
		"repo", owner+"/"+repo, "max_pages", g.maxPages)
	return out, nil
}

// FetchAll fetches every repository of org concurrently. A repository that
// fails is logged and contributes nothing; the rest still return. Results
// keep the order of repos and each pull request ID appears once.
func (g *GitHub) FetchAll(ctx context.Context, org string, repos []string, now time.Time) []activity.PullRequest {
	results := make([][]activity.PullRequest, len(repos))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for i, repo := range repos {
		eg.Go(func() error {
			prs, err := g.FetchRepo(egCtx, org, repo, now)
			if err != nil {
				g.log.Error("github: fetch failed, skipping repository", "repo", org+"/"+repo, "err", err)
				return nil
			}
			results[i] = prs
			return nil
		})
	}
	_ = eg.Wait()

	seen := make(map[string]bool)
	var out []activity.PullRequest
	for _, prs := range results {
		for _, pr := range prs {
			if seen[pr.ID] {
				continue
			}
			seen[pr.ID] = true
			out = append(out, pr)
		}
	}
	return out
}

// normalizePR converts one GraphQL node into an activity.PullRequest.
//
// Only submitted reviews count. The last-activity timestamp is the latest of
// the PR's updatedAt, its last submitted review, and the newest comment on an
// unresolved review thread.
func normalizePR(n ghPullRequest, now time.Time) activity.PullRequest {
	author := "unknown"
	if n.Author != nil && n.Author.Login != "" {
		author = n.Author.Login
	}

	var reviews, approvals int
	var lastReview *time.Time
	for _, r := range n.Reviews.Nodes {
		if r.SubmittedAt == nil {
			continue
		}
		reviews++
		if r.State == "APPROVED" {
			approvals++
		}
		lastReview = activity.LastActivity(lastReview, r.SubmittedAt)
	}

	var unresolved bool
	var lastUnresolved *time.Time
	for _, th := range n.ReviewThreads.Nodes {
		if th.IsResolved {
			continue
		}
		unresolved = true
		for _, c := range th.Comments.Nodes {
			lastUnresolved = activity.LastActivity(lastUnresolved, activity.TimePtr(c.CreatedAt))
		}
	}

	rollup := ""
	if len(n.Commits.Nodes) > 0 {
		if r := n.Commits.Nodes[0].Commit.StatusCheckRollup; r != nil {
			rollup = r.State
		}
	}

	labels := make([]string, 0, len(n.Labels.Nodes))
	for _, l := range n.Labels.Nodes {
		labels = append(labels, l.Name)
	}

	last := activity.LastActivity(activity.TimePtr(n.UpdatedAt), lastReview, lastUnresolved)

	return activity.PullRequest{
		ID:                     n.ID,
		Number:                 n.Number,
		Title:                  n.Title,
		URL:                    n.URL,
		Author:                 author,
		Status:                 activity.PRStatusFromState(n.State, n.IsDraft),
		CreatedAt:              n.CreatedAt,
		UpdatedAt:              n.UpdatedAt,
		AgeInDays:              activity.DaysBetween(now, n.CreatedAt),
		IsDraft:                n.IsDraft,
		CIStatus:               activity.CheckStatusFromRollup(rollup),
		ReviewCount:            reviews,
		ApprovalCount:          approvals,
		CommentCount:           len(n.Comments.Nodes),
		HasUnresolvedComments:  unresolved,
		LastReviewActivity:     lastReview,
		HoursSinceLastActivity: activity.HoursSince(now, last),
		Labels:                 labels,
		BaseRef:                n.BaseRefName,
		HeadRef:                n.HeadRefName,
	}
}
