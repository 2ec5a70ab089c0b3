package subscriber

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("subscriber not found")

type Repository interface {
	GetByID(ctx context.Context, id string) (Profile, error)
	ListActive(ctx context.Context) ([]Profile, error)
	Deactivate(ctx context.Context, id string) error
}
