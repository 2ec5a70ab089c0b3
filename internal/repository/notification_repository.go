package repository

import (
	"context"
	"fmt"
	"time"

	"jobpulse/internal/database"
	"jobpulse/internal/domain/job"
	"jobpulse/internal/domain/notification"

	"github.com/google/uuid"
)

type PostgresNotificationRepository struct {
	db database.DB
}

func NewPostgresNotificationRepository(db database.DB) *PostgresNotificationRepository {
	return &PostgresNotificationRepository{db: db}
}

// ClaimSlot serializes claims per subscriber with a transaction-scoped
// advisory lock, then applies the slot rules: one send per window and day,
// a daily cap across windows, bounded attempts and a lease for in-flight
// composition.
func (r *PostgresNotificationRepository) ClaimSlot(ctx context.Context, req notification.ClaimRequest) (notification.ClaimOutcome, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback(context.Background())
	}()

	key := req.Key
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key.SubscriberID); err != nil {
		return 0, err
	}

	var (
		status    string
		attempts  int
		claimedAt time.Time
		found     = true
	)
	row := tx.QueryRow(ctx,
		`SELECT status, attempts, claimed_at FROM delivery_slots
		 WHERE subscriber_id = $1 AND delivery_window = $2 AND delivery_day = $3
		 FOR UPDATE`,
		key.SubscriberID, key.Window.String(), key.Day,
	)
	if err := row.Scan(&status, &attempts, &claimedAt); err != nil {
		if !isNoRows(err) {
			return 0, err
		}
		found = false
	}

	if found {
		if outcome, closed := slotOutcome(notification.SlotStatus(status), attempts, claimedAt, req); closed {
			return outcome, nil
		}
	}

	var used int
	row = tx.QueryRow(ctx,
		`SELECT COUNT(1) FROM delivery_slots
		 WHERE subscriber_id = $1 AND delivery_day = $2
		   AND NOT (delivery_window = $3)
		   AND (status = 'sent' OR (status = 'composing' AND claimed_at > $4))`,
		key.SubscriberID, key.Day, key.Window.String(), req.Now.Add(-req.Lease),
	)
	if err := row.Scan(&used); err != nil {
		return 0, err
	}
	if req.MaxDaily > 0 && used >= req.MaxDaily {
		return notification.ClaimCapReached, nil
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO delivery_slots (subscriber_id, delivery_window, delivery_day, status, attempts, claimed_at)
		 VALUES ($1, $2, $3, 'composing', 1, $4)
		 ON CONFLICT (subscriber_id, delivery_window, delivery_day)
		 DO UPDATE SET status = 'composing', attempts = delivery_slots.attempts + 1,
		               claimed_at = EXCLUDED.claimed_at, last_error = ''`,
		key.SubscriberID, key.Window.String(), key.Day, req.Now.UTC(),
	)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return notification.ClaimGranted, nil
}

// slotOutcome decides whether an existing slot blocks a new claim.
func slotOutcome(status notification.SlotStatus, attempts int, claimedAt time.Time, req notification.ClaimRequest) (notification.ClaimOutcome, bool) {
	switch status {
	case notification.SlotSent:
		return notification.ClaimAlreadySent, true
	case notification.SlotSkipped, notification.SlotBlocked:
		return notification.ClaimClosed, true
	case notification.SlotComposing:
		if claimedAt.Add(req.Lease).After(req.Now) {
			return notification.ClaimInFlight, true
		}
	}
	if req.MaxAttempts > 0 && attempts >= req.MaxAttempts {
		return notification.ClaimExhausted, true
	}
	return notification.ClaimGranted, false
}

func (r *PostgresNotificationRepository) CompleteSlot(ctx context.Context, key notification.SlotKey, rec notification.Record) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(context.Background())
	}()

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	n, err := tx.Exec(ctx,
		`INSERT INTO notification_records (id, subscriber_id, delivery_window, delivery_day, job_keys, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (subscriber_id, delivery_window, delivery_day) DO NOTHING`,
		rec.ID, key.SubscriberID, key.Window.String(), key.Day, keyStrings(rec.JobKeys), rec.SentAt.UTC(),
	)
	if err != nil {
		return err
	}
	if n == 0 {
		return notification.ErrDuplicateRecord
	}

	if _, err := tx.Exec(ctx,
		`UPDATE delivery_slots SET status = 'sent', last_error = ''
		 WHERE subscriber_id = $1 AND delivery_window = $2 AND delivery_day = $3`,
		key.SubscriberID, key.Window.String(), key.Day,
	); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *PostgresNotificationRepository) FailSlot(ctx context.Context, key notification.SlotKey, status notification.SlotStatus, reason string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO delivery_slots (subscriber_id, delivery_window, delivery_day, status, attempts, claimed_at, last_error)
		 VALUES ($1, $2, $3, $4, 0, now(), $5)
		 ON CONFLICT (subscriber_id, delivery_window, delivery_day)
		 DO UPDATE SET status = EXCLUDED.status, last_error = EXCLUDED.last_error`,
		key.SubscriberID, key.Window.String(), key.Day, string(status), reason,
	)
	return err
}

// ListSlots returns every slot of the UTC day, whatever its status.
func (r *PostgresNotificationRepository) ListSlots(ctx context.Context, day time.Time) ([]notification.Slot, error) {
	rows, err := r.db.Query(ctx,
		`SELECT subscriber_id, delivery_window, delivery_day, status, attempts, claimed_at, last_error
		 FROM delivery_slots
		 WHERE delivery_day = $1
		 ORDER BY claimed_at ASC`,
		notification.DayOf(day),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]notification.Slot, 0)
	for rows.Next() {
		var (
			s      notification.Slot
			window string
			status string
		)
		if err := rows.Scan(&s.Key.SubscriberID, &window, &s.Key.Day, &status, &s.Attempts, &s.ClaimedAt, &s.LastError); err != nil {
			return nil, err
		}
		w, err := notification.ParseWindow(window)
		if err != nil {
			continue
		}
		s.Key.Window = w
		s.Key.Day = notification.DayOf(s.Key.Day)
		s.Status = notification.SlotStatus(status)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PostgresNotificationRepository) SentJobKeys(ctx context.Context, subscriberID string, since time.Time) ([]job.IdentityKey, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT k FROM notification_records, unnest(job_keys) AS k
		 WHERE subscriber_id = $1 AND sent_at >= $2`,
		subscriberID, since.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]job.IdentityKey, 0)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, job.IdentityKey(k))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PostgresNotificationRepository) StatsSince(ctx context.Context, subscriberID string, since time.Time) (notification.Stats, error) {
	var s notification.Stats
	row := r.db.QueryRow(ctx,
		`SELECT COUNT(1),
		        COALESCE(SUM(cardinality(nr.job_keys)), 0),
		        COALESCE((SELECT COUNT(1) FROM notification_clicks c
		                  JOIN notification_records x ON x.id = c.record_id
		                  WHERE x.subscriber_id = $1 AND x.sent_at >= $2), 0)
		 FROM notification_records nr
		 WHERE nr.subscriber_id = $1 AND nr.sent_at >= $2`,
		subscriberID, since.UTC(),
	)
	if err := row.Scan(&s.Notifications, &s.JobsSent, &s.JobsClicked); err != nil {
		return notification.Stats{}, err
	}
	return s, nil
}

// MarkClicked is idempotent per (record, job). The job must have been part
// of the record.
func (r *PostgresNotificationRepository) MarkClicked(ctx context.Context, recordID uuid.UUID, key job.IdentityKey, at time.Time) error {
	n, err := r.db.Exec(ctx,
		`INSERT INTO notification_clicks (record_id, job_key, clicked_at)
		 SELECT $1, $2, $3
		 WHERE EXISTS (SELECT 1 FROM notification_records WHERE id = $1 AND $2 = ANY(job_keys))
		 ON CONFLICT (record_id, job_key) DO NOTHING`,
		recordID, key.String(), at.UTC(),
	)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var exists bool
	row := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM notification_records WHERE id = $1 AND $2 = ANY(job_keys))`,
		recordID, key.String(),
	)
	if err := row.Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return notification.ErrRecordNotFound
	}
	return nil
}

func keyStrings(keys []job.IdentityKey) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.String())
	}
	return out
}
