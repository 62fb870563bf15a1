package notification

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotificationNotFound = errors.New("notification not found")
)

// Repository contains the DB interactions of the notification pipeline.
// Records are never deleted here; retention is external housekeeping.
type Repository interface {
	Insert(ctx context.Context, n *Record) (*Record, error)
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*Record, error)
	ListByIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]Record, error)

	// SelectDue returns pending records whose send time falls inside the
	// lookahead window, priority first, earlier send time breaking ties.
	SelectDue(ctx context.Context, until time.Time, limit int) ([]Record, error)

	// MarkQueued flips pending -> queued; returns false when the record was
	// no longer pending (another scheduler pass got there first).
	MarkQueued(ctx context.Context, id uuid.UUID) (bool, error)

	MarkDelivered(ctx context.Context, id uuid.UUID, sentAt time.Time, details map[string]string) error

	// MarkFailed records a failure the retry sweep may later resurrect,
	// e.g. a lost queue publish.
	MarkFailed(ctx context.Context, id uuid.UUID, errDetail string) error

	// MarkFailedFinal records a terminal failure: the retry count is pinned
	// to the attempt cap so no sweep ever puts the record back in rotation.
	MarkFailedFinal(ctx context.Context, id uuid.UUID, errDetail string) error

	MarkSuperseded(ctx context.Context, id uuid.UUID) error

	// Requeue puts a record back to pending with a new send time.
	// incrementRetry distinguishes a retryable failure from a quiet-hours
	// deferral, which must not consume an attempt.
	Requeue(ctx context.Context, id uuid.UUID, sendAt time.Time, incrementRetry bool, errDetail *string) error

	// SweepFailed resets failed records still under the attempt budget whose
	// last update is older than the cooldown: retry_count+1, pending,
	// send time = now. Returns how many were reset.
	SweepFailed(ctx context.Context, updatedBefore time.Time, maxRetry int, now time.Time) (int, error)

	// SweepStuckQueued returns queued records that never made it onto the
	// dispatch queue (crash between the status flip and the publish) back
	// to pending once their last update is older than the cutoff.
	SweepStuckQueued(ctx context.Context, updatedBefore time.Time) (int, error)
}
