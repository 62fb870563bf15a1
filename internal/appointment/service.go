package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/carebridge/scheduling-service/internal/audit"
	"github.com/carebridge/scheduling-service/internal/metrics"
	redisclient "github.com/carebridge/scheduling-service/internal/redis"
)

// NotificationPlanner schedules the notification records that follow
// appointment mutations. Implemented by the notification package; failures
// are logged, never propagated: a booked appointment must persist even when
// its confirmation could not be scheduled.
type NotificationPlanner interface {
	PlanAppointmentCreated(ctx context.Context, a *Appointment) error
	PlanAppointmentRescheduled(ctx context.Context, a *Appointment) error
	PlanAppointmentCancelled(ctx context.Context, a *Appointment) error
}

type CreateInput struct {
	PatientID       uuid.UUID
	ProviderID      uuid.UUID
	FacilityID      uuid.UUID
	Type            string
	Start           time.Time
	DurationMinutes int
	Priority        int
	Reason          *string
}

type Service struct {
	repo    Repository
	locker  redisclient.Locker
	planner NotificationPlanner
	auditor audit.Recorder
	log     *logrus.Entry
	now     func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, planner NotificationPlanner, auditor audit.Recorder, log *logrus.Entry) *Service {
	return &Service{
		repo:    repo,
		locker:  locker,
		planner: planner,
		auditor: auditor,
		log:     log,
		now:     time.Now,
	}
}

// Create books a new appointment. The conflict scan and the insert run in
// one transaction; a Redis per-provider lock keeps concurrent booking
// attempts for the same provider from stampeding the same rows.
func (s *Service) Create(ctx context.Context, tenantID uuid.UUID, in CreateInput) (*Appointment, error) {
	if err := validateCreate(in); err != nil {
		return nil, err
	}

	appt := &Appointment{
		ID:              uuid.New(),
		TenantID:        tenantID,
		PatientID:       in.PatientID,
		ProviderID:      in.ProviderID,
		FacilityID:      in.FacilityID,
		Type:            in.Type,
		ScheduledStart:  in.Start,
		ScheduledEnd:    in.Start.Add(time.Duration(in.DurationMinutes) * time.Minute),
		DurationMinutes: in.DurationMinutes,
		Status:          StatusScheduled,
		Priority:        in.Priority,
		Reason:          in.Reason,
	}

	var created *Appointment
	err := s.locker.WithProviderLock(ctx, tenantID, in.ProviderID, func(lockCtx context.Context) error {
		var err error
		created, err = s.repo.CreateAppointment(lockCtx, appt)
		return err
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrProviderBusy
		}
		if errors.Is(err, ErrConflict) {
			metrics.BookingConflicts.Inc()
			return nil, err
		}
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	metrics.BookingsCreated.Inc()
	s.auditor.Record(ctx, tenantID, "appointment", created.ID, "create", map[string]any{
		"provider_id": created.ProviderID,
		"patient_id":  created.PatientID,
		"start":       created.ScheduledStart,
		"end":         created.ScheduledEnd,
	})

	if err := s.planner.PlanAppointmentCreated(ctx, created); err != nil {
		s.log.WithError(err).WithField("appointment_id", created.ID).
			Error("failed to schedule creation notifications")
	}

	return created, nil
}

// Reschedule moves an appointment to a new start/duration. The appointment's
// own row is excluded from the conflict scan; still-pending reminders for the
// old time are superseded in the same transaction as the time change.
func (s *Service) Reschedule(ctx context.Context, tenantID, id uuid.UUID, newStart time.Time, durationMinutes int) (*Appointment, error) {
	if newStart.IsZero() {
		return nil, &ValidationError{Field: "start", Message: "is required"}
	}
	if durationMinutes <= 0 {
		return nil, &ValidationError{Field: "duration_minutes", Message: "must be positive"}
	}

	current, err := s.repo.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	newEnd := newStart.Add(time.Duration(durationMinutes) * time.Minute)

	var updated *Appointment
	err = s.locker.WithProviderLock(ctx, tenantID, current.ProviderID, func(lockCtx context.Context) error {
		var err error
		updated, err = s.repo.Reschedule(lockCtx, tenantID, id, newStart, newEnd, durationMinutes)
		return err
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrProviderBusy
		}
		if errors.Is(err, ErrConflict) {
			metrics.BookingConflicts.Inc()
		}
		return nil, err
	}

	s.auditor.Record(ctx, tenantID, "appointment", id, "reschedule", map[string]any{
		"old_start": current.ScheduledStart,
		"new_start": updated.ScheduledStart,
		"new_end":   updated.ScheduledEnd,
	})

	if err := s.planner.PlanAppointmentRescheduled(ctx, updated); err != nil {
		s.log.WithError(err).WithField("appointment_id", id).
			Error("failed to schedule reschedule notifications")
	}

	return updated, nil
}

// Cancel transitions the appointment to cancelled, stamps the cancellation
// time and supersedes its pending reminders.
func (s *Service) Cancel(ctx context.Context, tenantID, id uuid.UUID, reason *string) (*Appointment, error) {
	cancelled, err := s.repo.CancelAppointment(ctx, tenantID, id, reason, s.now())
	if err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, tenantID, "appointment", id, "cancel", map[string]any{
		"reason": reason,
	})

	if err := s.planner.PlanAppointmentCancelled(ctx, cancelled); err != nil {
		s.log.WithError(err).WithField("appointment_id", id).
			Error("failed to schedule cancellation notification")
	}

	return cancelled, nil
}

// CheckIn marks the patient as arrived. No conflict check: the time does not
// change.
func (s *Service) CheckIn(ctx context.Context, tenantID, id uuid.UUID) (*Appointment, error) {
	return s.Transition(ctx, tenantID, id, StatusArrived)
}

// Transition applies a status change after validating it against the
// adjacency map, with a compare-and-set so a concurrent transition cannot be
// silently overwritten.
func (s *Service) Transition(ctx context.Context, tenantID, id uuid.UUID, to Status) (*Appointment, error) {
	if !to.Valid() {
		return nil, &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", to)}
	}

	current, err := s.repo.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(current.Status, to) {
		return nil, &TransitionError{From: current.Status, To: to}
	}

	updated, err := s.repo.TransitionStatus(ctx, tenantID, id, current.Status, to, s.now())
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Row moved under us; report against its present status.
			fresh, getErr := s.repo.GetByID(ctx, tenantID, id)
			if getErr != nil {
				return nil, getErr
			}
			return nil, &TransitionError{From: fresh.Status, To: to}
		}
		return nil, fmt.Errorf("transition appointment: %w", err)
	}

	s.auditor.Record(ctx, tenantID, "appointment", id, "status-change", map[string]any{
		"from": current.Status,
		"to":   to,
	})

	return updated, nil
}

// Update mutates the explicitly allowed non-time fields.
func (s *Service) Update(ctx context.Context, tenantID, id uuid.UUID, upd Update) (*Appointment, error) {
	if upd.Type != nil && *upd.Type == "" {
		return nil, &ValidationError{Field: "type", Message: "must not be empty"}
	}
	if upd.Priority != nil && *upd.Priority < 0 {
		return nil, &ValidationError{Field: "priority", Message: "must not be negative"}
	}

	updated, err := s.repo.UpdateDetails(ctx, tenantID, id, upd)
	if err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, tenantID, "appointment", id, "update", map[string]any{
		"type":     upd.Type,
		"priority": upd.Priority,
	})

	return updated, nil
}

func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, tenantID, id)
}

func (s *Service) ListByPatient(ctx context.Context, tenantID, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByPatient(ctx, tenantID, patientID, limit, offset)
}

func validateCreate(in CreateInput) error {
	switch {
	case in.PatientID == uuid.Nil:
		return &ValidationError{Field: "patient_id", Message: "is required"}
	case in.ProviderID == uuid.Nil:
		return &ValidationError{Field: "provider_id", Message: "is required"}
	case in.FacilityID == uuid.Nil:
		return &ValidationError{Field: "facility_id", Message: "is required"}
	case in.Type == "":
		return &ValidationError{Field: "type", Message: "is required"}
	case in.Start.IsZero():
		return &ValidationError{Field: "start", Message: "is required"}
	case in.DurationMinutes <= 0:
		return &ValidationError{Field: "duration_minutes", Message: "must be positive"}
	case in.Priority < 0:
		return &ValidationError{Field: "priority", Message: "must not be negative"}
	}
	return nil
}
