package dedup

import (
	"context"
	"time"

	"jobpulse/internal/domain/job"
	"jobpulse/internal/logger"
)

const (
	claimPrefix  = "jobs:dedup:"
	defaultClaim = 10 * time.Minute
)

type Store interface {
	Exists(ctx context.Context, key job.IdentityKey) (bool, error)
}

// Claimer holds short-lived cross-run claims. *cache.Redis satisfies it.
type Claimer interface {
	SetIfNotExists(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Deduplicator answers whether a job has been seen before. It fails open:
// when it cannot tell, the job is treated as new and the unique constraint
// on the store settles it.
type Deduplicator struct {
	store    Store
	claimer  Claimer
	claimTTL time.Duration
	log      logger.Logger
}

// New builds a Deduplicator. claimer may be nil.
func New(store Store, claimer Claimer, claimTTL time.Duration, log logger.Logger) *Deduplicator {
	if claimTTL <= 0 {
		claimTTL = defaultClaim
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Deduplicator{store: store, claimer: claimer, claimTTL: claimTTL, log: log}
}

func (d *Deduplicator) IsNew(ctx context.Context, j job.Job) (bool, error) {
	exists, err := d.store.Exists(ctx, j.Key)
	if err != nil {
		d.log.Warn("dedup lookup failed, treating job as new", logger.String("key", j.Key.String()), logger.Error(err))
		return true, nil
	}
	if exists {
		return false, nil
	}
	if d.claimer == nil {
		return true, nil
	}

	claimed, err := d.claimer.SetIfNotExists(ctx, claimPrefix+j.Key.String(), "1", d.claimTTL)
	if err != nil {
		return true, nil
	}
	if !claimed {
		d.log.Debug("dedup claim held by another run", logger.String("key", j.Key.String()))
	}
	return claimed, nil
}

// Release drops the claim on a job that could not be stored, so the next
// run sees it as new instead of waiting out the claim TTL.
func (d *Deduplicator) Release(ctx context.Context, key job.IdentityKey) {
	if d.claimer == nil {
		return
	}
	if err := d.claimer.Delete(ctx, claimPrefix+key.String()); err != nil {
		d.log.Warn("release dedup claim failed", logger.String("key", key.String()), logger.Error(err))
	}
}
