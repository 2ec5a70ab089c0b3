package notification

import (
	"context"
	"errors"
	"time"

	"jobpulse/internal/domain/job"

	"github.com/google/uuid"
)

var (
	ErrDuplicateRecord = errors.New("notification already recorded for window")
	ErrRecordNotFound  = errors.New("notification record not found")
)

type Repository interface {
	ClaimSlot(ctx context.Context, req ClaimRequest) (ClaimOutcome, error)
	CompleteSlot(ctx context.Context, key SlotKey, rec Record) error
	FailSlot(ctx context.Context, key SlotKey, status SlotStatus, reason string) error
	ListSlots(ctx context.Context, day time.Time) ([]Slot, error)

	SentJobKeys(ctx context.Context, subscriberID string, since time.Time) ([]job.IdentityKey, error)
	StatsSince(ctx context.Context, subscriberID string, since time.Time) (Stats, error)
	MarkClicked(ctx context.Context, recordID uuid.UUID, key job.IdentityKey, at time.Time) error
}
