package job

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDuplicateConflict = errors.New("job identity key already stored")
	ErrNotFound          = errors.New("job not found")
)

type Repository interface {
	Exists(ctx context.Context, key IdentityKey) (bool, error)
	Insert(ctx context.Context, j Job) error
	BatchInsert(ctx context.Context, jobs []Job) (inserted int, err error)
	Query(ctx context.Context, f Filter) ([]Job, error)
	UpdateLinkState(ctx context.Context, key IdentityKey, state LinkState, checkedAt time.Time) error
}
