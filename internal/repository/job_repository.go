package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"jobpulse/internal/database"
	"jobpulse/internal/domain/job"

	"github.com/jackc/pgx/v5"
)

// ErrDuplicateConflict is returned by inserts that lose the race on the
// identity key. Callers treat it as a successful no-op.
var ErrDuplicateConflict = job.ErrDuplicateConflict

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

const jobColumns = `id, identity_key, source, native_id, title, company, description, location, is_remote,
	required_skills, job_type, salary_range, apply_url, link_state, link_checked_at, is_active, posted_at, ingested_at`

type PostgresJobRepository struct {
	db database.DB
}

func NewPostgresJobRepository(db database.DB) *PostgresJobRepository {
	return &PostgresJobRepository{db: db}
}

func (r *PostgresJobRepository) Exists(ctx context.Context, key job.IdentityKey) (bool, error) {
	var exists bool
	row := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM jobs WHERE identity_key = $1)`, key.String())
	if err := row.Scan(&exists); err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, err
	}
	return exists, nil
}

func (r *PostgresJobRepository) Insert(ctx context.Context, j job.Job) error {
	n, err := insertJob(ctx, r.db, j)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateConflict, j.Key)
	}
	return nil
}

// BatchInsert stores jobs in one transaction, skipping keys that already
// exist. It reports how many rows were actually written.
func (r *PostgresJobRepository) BatchInsert(ctx context.Context, jobs []job.Job) (int, error) {
	if len(jobs) == 0 {
		return 0, nil
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback(context.Background())
	}()

	inserted := 0
	for _, j := range jobs {
		n, err := insertJob(ctx, tx, j)
		if err != nil {
			return 0, err
		}
		inserted += int(n)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

type execer interface {
	Exec(ctx context.Context, query string, args ...any) (int64, error)
}

func insertJob(ctx context.Context, db execer, j job.Job) (int64, error) {
	skills := j.RequiredSkills
	if skills == nil {
		skills = []string{}
	}
	state := j.LinkState
	if state == "" {
		state = job.LinkUnknown
	}
	ingested := j.IngestedAt
	if ingested.IsZero() {
		ingested = time.Now().UTC()
	}
	return db.Exec(ctx,
		`INSERT INTO jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		 ON CONFLICT (identity_key) DO NOTHING`,
		j.ID, j.Key.String(), j.Source, j.NativeID, j.Title, j.Company, j.Description, j.Location, j.Remote,
		skills, string(j.Type), j.SalaryRange, j.ApplyURL, string(state), j.LinkCheckedAt, j.Active, j.PostedAt, ingested,
	)
}

func (r *PostgresJobRepository) Query(ctx context.Context, f job.Filter) ([]job.Job, error) {
	q, args := buildJobQuery(f)
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]job.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PostgresJobRepository) UpdateLinkState(ctx context.Context, key job.IdentityKey, state job.LinkState, checkedAt time.Time) error {
	n, err := r.db.Exec(ctx,
		`UPDATE jobs SET link_state = $2, link_checked_at = $3 WHERE identity_key = $1`,
		key.String(), string(state), checkedAt.UTC(),
	)
	if err != nil {
		return err
	}
	if n == 0 {
		return job.ErrNotFound
	}
	return nil
}

func buildJobQuery(f job.Filter) (string, []any) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.ActiveOnly {
		where = append(where, "is_active")
	}
	if s := strings.TrimSpace(f.Source); s != "" {
		where = append(where, "source = "+arg(strings.ToLower(s)))
	}
	if len(f.SkillsAny) > 0 {
		where = append(where, "required_skills && "+arg(f.SkillsAny)+"::text[]")
	}
	if f.WithoutSkills {
		where = append(where, "cardinality(required_skills) = 0")
	}
	if f.Remote != nil {
		where = append(where, "is_remote = "+arg(*f.Remote))
	}
	if f.NeedsCheckBefore != nil {
		where = append(where, "(link_checked_at IS NULL OR link_checked_at < "+arg(f.NeedsCheckBefore.UTC())+")")
	}
	if f.LinkState != "" {
		where = append(where, "link_state = "+arg(string(f.LinkState)))
	}
	if f.ExcludeBroken {
		where = append(where, "link_state <> "+arg(string(job.LinkBroken)))
	}
	if f.IngestedAfter != nil {
		where = append(where, "ingested_at >= "+arg(f.IngestedAfter.UTC()))
	}
	if len(f.ExcludeKeys) > 0 {
		keys := make([]string, 0, len(f.ExcludeKeys))
		for _, k := range f.ExcludeKeys {
			keys = append(keys, k.String())
		}
		where = append(where, "NOT (identity_key = ANY("+arg(keys)+"::text[]))")
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(jobColumns)
	b.WriteString(" FROM jobs")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	if f.NeedsCheckBefore != nil {
		b.WriteString(" ORDER BY link_checked_at ASC NULLS FIRST, ingested_at DESC")
	} else {
		b.WriteString(" ORDER BY ingested_at DESC, identity_key ASC")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	b.WriteString(" LIMIT " + arg(limit))

	return b.String(), args
}

func scanJob(row database.Row) (job.Job, error) {
	var (
		j        job.Job
		key      string
		jobType  string
		state    string
		location sql.NullString
		salary   sql.NullString
		checked  sql.NullTime
		posted   sql.NullTime
	)
	err := row.Scan(
		&j.ID, &key, &j.Source, &j.NativeID, &j.Title, &j.Company, &j.Description, &location, &j.Remote,
		&j.RequiredSkills, &jobType, &salary, &j.ApplyURL, &state, &checked, &j.Active, &posted, &j.IngestedAt,
	)
	if err != nil {
		return job.Job{}, err
	}
	j.Key = job.IdentityKey(key)
	j.Type = job.Type(jobType)
	j.LinkState = job.ParseLinkState(state)
	if location.Valid {
		j.Location = &location.String
	}
	if salary.Valid {
		j.SalaryRange = &salary.String
	}
	if checked.Valid {
		t := checked.Time.UTC()
		j.LinkCheckedAt = &t
	}
	if posted.Valid {
		t := posted.Time.UTC()
		j.PostedAt = &t
	}
	j.IngestedAt = j.IngestedAt.UTC()
	return j, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows)
}
