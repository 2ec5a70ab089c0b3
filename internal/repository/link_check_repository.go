package repository

import (
	"context"
	"time"

	"jobpulse/internal/database"
	"jobpulse/internal/domain/linkcheck"
)

type PostgresLinkCheckRepository struct {
	db database.DB
}

func NewPostgresLinkCheckRepository(db database.DB) *PostgresLinkCheckRepository {
	return &PostgresLinkCheckRepository{db: db}
}

// Save keeps the latest result per job.
func (r *PostgresLinkCheckRepository) Save(ctx context.Context, res linkcheck.Result) error {
	var finalURL *string
	if res.FinalURL != "" {
		finalURL = &res.FinalURL
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO link_checks (job_key, url, outcome, status_code, final_url, attempts, duration_ms, checked_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (job_key) DO UPDATE SET
		   url = EXCLUDED.url,
		   outcome = EXCLUDED.outcome,
		   status_code = EXCLUDED.status_code,
		   final_url = EXCLUDED.final_url,
		   attempts = EXCLUDED.attempts,
		   duration_ms = EXCLUDED.duration_ms,
		   checked_at = EXCLUDED.checked_at`,
		res.JobKey.String(), res.URL, string(res.Outcome), res.StatusCode, finalURL,
		res.Attempts, res.Duration.Milliseconds(), res.CheckedAt.UTC(),
	)
	return err
}

func (r *PostgresLinkCheckRepository) Health(ctx context.Context, source string) (linkcheck.HealthReport, error) {
	rep := linkcheck.HealthReport{Source: source}
	row := r.db.QueryRow(ctx,
		`SELECT COUNT(1),
		        COUNT(link_checked_at),
		        COUNT(1) FILTER (WHERE link_checked_at IS NOT NULL AND link_state = 'working'),
		        COUNT(1) FILTER (WHERE link_checked_at IS NOT NULL AND link_state = 'broken')
		 FROM jobs
		 WHERE is_active AND ($1 = '' OR source = $1)`,
		source,
	)
	if err := row.Scan(&rep.Total, &rep.Checked, &rep.Working, &rep.Broken); err != nil {
		return linkcheck.HealthReport{}, err
	}
	rep.Unknown = rep.Checked - rep.Working - rep.Broken
	rep.GeneratedAt = time.Now().UTC()
	rep.Grade()
	return rep, nil
}
