package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusConfirmed  Status = "confirmed"
	StatusArrived    Status = "arrived"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no-show"
)

// allowedTransitions is the authoritative adjacency map for the appointment
// status machine. Anything not listed here is rejected.
var allowedTransitions = map[Status][]Status{
	StatusScheduled:  {StatusConfirmed, StatusCancelled, StatusNoShow},
	StatusConfirmed:  {StatusArrived, StatusCancelled, StatusNoShow},
	StatusArrived:    {StatusInProgress, StatusNoShow},
	StatusInProgress: {StatusCompleted},
	StatusCompleted:  {},
	StatusCancelled:  {},
	StatusNoShow:     {},
}

func (s Status) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// IsLive reports whether an appointment in this status occupies the
// provider's calendar for conflict purposes.
func (s Status) IsLive() bool {
	return s != StatusCancelled && s != StatusNoShow
}

func (s Status) IsTerminal() bool {
	return len(allowedTransitions[s]) == 0 && s.Valid()
}

// CanTransition reports whether from -> to is a legal status transition.
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Appointment struct {
	ID                 uuid.UUID
	TenantID           uuid.UUID
	PatientID          uuid.UUID
	ProviderID         uuid.UUID
	FacilityID         uuid.UUID
	SeriesID           *uuid.UUID
	Type               string
	ScheduledStart     time.Time
	ScheduledEnd       time.Time
	DurationMinutes    int
	Status             Status
	Priority           int
	Reason             *string
	CancellationReason *string
	CheckedInAt        *time.Time
	CompletedAt        *time.Time
	CancelledAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type Series struct {
	ID                    uuid.UUID
	TenantID              uuid.UUID
	PatientID             uuid.UUID
	ProviderID            uuid.UUID
	Name                  string
	RecurrencePattern     string
	StartDate             time.Time
	EndDate               *time.Time
	TotalAppointments     int
	CompletedAppointments int
	Active                bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// AvailabilityRule is a provider's weekly recurring bookable window.
// Rules are managed by provider-availability administration and are
// read-only here.
type AvailabilityRule struct {
	ID                  uuid.UUID
	TenantID            uuid.UUID
	ProviderID          uuid.UUID
	FacilityID          uuid.UUID
	DayOfWeek           int // 0 = Sunday .. 6 = Saturday
	StartMinute         int // minutes from midnight
	EndMinute           int
	SlotDurationMinutes int
	Active              bool
	EffectiveFrom       time.Time
	EffectiveUntil      *time.Time
}

// Slot is one bookable window produced by the slot finder. Listings are
// advisory; booking always re-validates inside the write transaction.
type Slot struct {
	ProviderID      uuid.UUID `json:"provider_id"`
	FacilityID      uuid.UUID `json:"facility_id"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes int       `json:"duration_minutes"`
}

// overlaps implements the half-open interval test: [aStart, aEnd) and
// [bStart, bEnd) collide iff aStart < bEnd && aEnd > bStart. An appointment
// ending exactly when another begins is not a conflict.
func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}
