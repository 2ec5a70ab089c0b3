package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"jobpulse/internal/database"

	"github.com/google/uuid"
)

const (
	ScrapeRunRunning  = "running"
	ScrapeRunFinished = "finished"
	ScrapeRunFailed   = "failed"
)

type ScrapeRun struct {
	ID         uuid.UUID       `json:"id"`
	Trigger    string          `json:"trigger"`
	Status     string          `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	JobsFound  int             `json:"jobs_found"`
	NewJobs    int             `json:"new_jobs"`
	Summary    json.RawMessage `json:"summary"`
}

type PostgresScrapeRunRepository struct {
	db database.DB
}

func NewPostgresScrapeRunRepository(db database.DB) *PostgresScrapeRunRepository {
	return &PostgresScrapeRunRepository{db: db}
}

func (r *PostgresScrapeRunRepository) Start(ctx context.Context, trigger string, at time.Time) (uuid.UUID, error) {
	id := uuid.New()
	_, err := r.db.Exec(ctx,
		`INSERT INTO scrape_runs (id, trigger, status, started_at) VALUES ($1, $2, $3, $4)`,
		id, trigger, ScrapeRunRunning, at.UTC(),
	)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (r *PostgresScrapeRunRepository) Finish(ctx context.Context, run ScrapeRun) error {
	summary := run.Summary
	if len(summary) == 0 {
		summary = json.RawMessage(`{}`)
	}
	finished := time.Now().UTC()
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC()
	}
	_, err := r.db.Exec(ctx,
		`UPDATE scrape_runs
		 SET status = $2, finished_at = $3, jobs_found = $4, new_jobs = $5, summary = $6
		 WHERE id = $1`,
		run.ID, run.Status, finished, run.JobsFound, run.NewJobs, []byte(summary),
	)
	return err
}

func (r *PostgresScrapeRunRepository) ListRecent(ctx context.Context, limit int) ([]ScrapeRun, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, trigger, status, started_at, finished_at, jobs_found, new_jobs, summary
		 FROM scrape_runs
		 ORDER BY started_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ScrapeRun, 0)
	for rows.Next() {
		var (
			run      ScrapeRun
			finished sql.NullTime
			summary  []byte
		)
		if err := rows.Scan(&run.ID, &run.Trigger, &run.Status, &run.StartedAt, &finished, &run.JobsFound, &run.NewJobs, &summary); err != nil {
			return nil, err
		}
		if finished.Valid {
			t := finished.Time.UTC()
			run.FinishedAt = &t
		}
		run.StartedAt = run.StartedAt.UTC()
		run.Summary = json.RawMessage(summary)
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
