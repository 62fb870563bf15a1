package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RuleFilter narrows availability-rule lookups. Nil fields match everything.
type RuleFilter struct {
	ProviderID *uuid.UUID
	FacilityID *uuid.UUID
}

// Update is the explicit set of mutable non-time fields. Time changes go
// through Reschedule, status changes through the transition path; anything
// not listed here is rejected at the API boundary.
type Update struct {
	Type     *string
	Priority *int
	Reason   *string
}

// Repository contains all DB interactions needed by the scheduling core.
//
// CreateAppointment, CreateSeries and Reschedule run their conflict scan and
// the subsequent write inside a single transaction: two concurrent bookings
// for an overlapping provider interval must yield exactly one success.
type Repository interface {
	CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error)
	CreateSeries(ctx context.Context, s *Series, members []*Appointment) (*Series, []Appointment, error)
	Reschedule(ctx context.Context, tenantID, id uuid.UUID, newStart, newEnd time.Time, durationMinutes int) (*Appointment, error)
	CancelAppointment(ctx context.Context, tenantID, id uuid.UUID, reason *string, at time.Time) (*Appointment, error)

	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*Appointment, error)
	ListByPatient(ctx context.Context, tenantID, patientID uuid.UUID, limit, offset int) ([]Appointment, error)

	// ListLive returns appointments in live statuses intersecting [from, to)
	// for the given providers; empty providerIDs means all providers.
	ListLive(ctx context.Context, tenantID uuid.UUID, providerIDs []uuid.UUID, from, to time.Time) ([]Appointment, error)

	// TransitionStatus is a compare-and-set: the row is updated only when it
	// still holds the expected current status. stampAt fills the timestamp
	// column matching the target status, when one applies.
	TransitionStatus(ctx context.Context, tenantID, id uuid.UUID, from, to Status, stampAt time.Time) (*Appointment, error)

	UpdateDetails(ctx context.Context, tenantID, id uuid.UUID, upd Update) (*Appointment, error)

	ListActiveRules(ctx context.Context, tenantID uuid.UUID, f RuleFilter, from, to time.Time) ([]AvailabilityRule, error)
}
