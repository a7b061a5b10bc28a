package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sprintpulse/sprintpulse/internal/metrics"
)

// DefaultListLimit caps List when the caller passes limit <= 0.
const DefaultListLimit = 30

// MaxListLimit is the largest page List will return.
const MaxListLimit = 500

// ErrNotFound is returned by Latest when the team has no recorded runs.
var ErrNotFound = errors.New("history: not found")

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sprintpulse_runs (
		id UUID PRIMARY KEY,
		team TEXT NOT NULL,
		ran_at TIMESTAMPTZ NOT NULL,
		pr_health_score INTEGER NOT NULL,
		velocity_score INTEGER,
		anomaly_count INTEGER NOT NULL,
		report JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sprintpulse_runs_team_ran_at ON sprintpulse_runs(team, ran_at DESC)`,
}

// Run is one recorded evaluation.
type Run struct {
	ID            uuid.UUID `json:"id"`
	Team          string    `json:"team"`
	RanAt         time.Time `json:"ran_at"`
	PRHealthScore int       `json:"pr_health_score"`
	// VelocityScore is nil when the team had no active sprint.
	VelocityScore *int `json:"velocity_score,omitempty"`
	AnomalyCount  int  `json:"anomaly_count"`
	// Report is only populated by Latest.
	Report *metrics.Report `json:"report,omitempty"`
}

// Store reads and writes runs through a pgx connection pool.
type Store struct {
	pool  *pgxpool.Pool
	newID func() uuid.UUID
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("history: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	return New(pool), nil
}

// New wraps an existing pool. The caller keeps ownership of pool unless it
// calls Close.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, newID: uuid.New}
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Migrate creates the runs table and its index if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("history: migrate: %w", err)
		}
	}
	return nil
}

// Record inserts one row for r and returns it.
func (s *Store) Record(ctx context.Context, r *metrics.Report) (Run, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return Run{}, fmt.Errorf("history: encode report: %w", err)
	}

	run := summarize(r)
	run.ID = s.newID()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO sprintpulse_runs (id, team, ran_at, pr_health_score, velocity_score, anomaly_count, report)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.Team, run.RanAt, run.PRHealthScore, run.VelocityScore, run.AnomalyCount, body)
	if err != nil {
		return Run{}, fmt.Errorf("history: record %q: %w", r.Team, err)
	}
	return run, nil
}

// Latest returns the most recent run for team, including its report.
func (s *Store) Latest(ctx context.Context, team string) (Run, error) {
	var (
		run  Run
		body []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, team, ran_at, pr_health_score, velocity_score, anomaly_count, report
		FROM sprintpulse_runs
		WHERE team = $1
		ORDER BY ran_at DESC
		LIMIT 1`, team).
		Scan(&run.ID, &run.Team, &run.RanAt, &run.PRHealthScore, &run.VelocityScore, &run.AnomalyCount, &body)
	if errors.Is(err, pgx.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("history: latest %q: %w", team, err)
	}

	run.Report = &metrics.Report{}
	if err := json.Unmarshal(body, run.Report); err != nil {
		return Run{}, fmt.Errorf("history: decode report %s: %w", run.ID, err)
	}
	return run, nil
}

// List returns up to limit runs for team, newest first, without reports.
func (s *Store) List(ctx context.Context, team string, limit int) ([]Run, error) {
	limit = clampLimit(limit)

	rows, err := s.pool.Query(ctx, `
		SELECT id, team, ran_at, pr_health_score, velocity_score, anomaly_count
		FROM sprintpulse_runs
		WHERE team = $1
		ORDER BY ran_at DESC
		LIMIT $2`, team, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list %q: %w", team, err)
	}
	defer rows.Close()

	out := make([]Run, 0, limit)
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.Team, &run.RanAt, &run.PRHealthScore, &run.VelocityScore, &run.AnomalyCount); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: list %q: %w", team, err)
	}
	return out, nil
}

// summarize extracts the scalar columns of r.
func summarize(r *metrics.Report) Run {
	run := Run{
		Team:          r.Team,
		RanAt:         r.GeneratedAt.UTC(),
		PRHealthScore: r.PRHealth.Score,
		AnomalyCount:  len(r.Anomalies),
	}
	if r.Velocity != nil {
		v := r.Velocity.VelocityScore
		run.VelocityScore = &v
	}
	return run
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}
