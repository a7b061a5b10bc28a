package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sprintpulse/sprintpulse/internal/config"
	"github.com/sprintpulse/sprintpulse/internal/history"
	"github.com/sprintpulse/sprintpulse/internal/store"
)

// LatestReader returns a team's most recent recorded run.
type LatestReader interface {
	Latest(ctx context.Context, team string) (history.Run, error)
}

// Restore fills st with each team's last recorded report, so the API answers
// before the first evaluation completes. Entries age from the recorded run
// time, so runs older than the store TTL stay hidden. It returns the number
// of teams restored.
func Restore(ctx context.Context, st *store.Store, hist LatestReader, teams []config.Team) int {
	restored := 0
	for _, t := range teams {
		if ctx.Err() != nil {
			break
		}
		run, err := hist.Latest(ctx, t.ID)
		if errors.Is(err, history.ErrNotFound) {
			continue
		}
		if err != nil {
			slog.Warn("worker: restore from history failed", "team", t.ID, "err", err)
			continue
		}
		if run.Report == nil {
			continue
		}
		st.PutAt(run.Report, run.RanAt)
		restored++
	}
	if restored > 0 {
		slog.Info("worker: restored reports from history", "teams", restored)
	}
	return restored
}
