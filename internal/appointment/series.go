package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/scheduling-service/internal/metrics"
	redisclient "github.com/carebridge/scheduling-service/internal/redis"
)

type SeriesMemberInput struct {
	Type            string
	Start           time.Time
	DurationMinutes int
	Priority        int
	Reason          *string
}

type CreateSeriesInput struct {
	PatientID         uuid.UUID
	ProviderID        uuid.UUID
	FacilityID        uuid.UUID
	Name              string
	RecurrencePattern string
	StartDate         time.Time
	EndDate           *time.Time
	Appointments      []SeriesMemberInput
}

// CreateSeries books every member appointment inside one transaction. Each
// member is conflict-checked independently, including against members booked
// earlier in the same series; any collision aborts the whole series and
// nothing persists.
func (s *Service) CreateSeries(ctx context.Context, tenantID uuid.UUID, in CreateSeriesInput) (*Series, []Appointment, error) {
	if err := validateSeries(in); err != nil {
		return nil, nil, err
	}

	series := &Series{
		ID:                uuid.New(),
		TenantID:          tenantID,
		PatientID:         in.PatientID,
		ProviderID:        in.ProviderID,
		Name:              in.Name,
		RecurrencePattern: in.RecurrencePattern,
		StartDate:         in.StartDate,
		EndDate:           in.EndDate,
		TotalAppointments: len(in.Appointments),
		Active:            true,
	}

	members := make([]*Appointment, 0, len(in.Appointments))
	for _, m := range in.Appointments {
		seriesID := series.ID
		members = append(members, &Appointment{
			ID:              uuid.New(),
			TenantID:        tenantID,
			PatientID:       in.PatientID,
			ProviderID:      in.ProviderID,
			FacilityID:      in.FacilityID,
			SeriesID:        &seriesID,
			Type:            m.Type,
			ScheduledStart:  m.Start,
			ScheduledEnd:    m.Start.Add(time.Duration(m.DurationMinutes) * time.Minute),
			DurationMinutes: m.DurationMinutes,
			Status:          StatusScheduled,
			Priority:        m.Priority,
			Reason:          m.Reason,
		})
	}

	var (
		createdSeries *Series
		created       []Appointment
	)
	err := s.locker.WithProviderLock(ctx, tenantID, in.ProviderID, func(lockCtx context.Context) error {
		var err error
		createdSeries, created, err = s.repo.CreateSeries(lockCtx, series, members)
		return err
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, nil, ErrProviderBusy
		}
		if errors.Is(err, ErrConflict) {
			metrics.BookingConflicts.Inc()
		}
		return nil, nil, err
	}

	metrics.SeriesCreated.Inc()
	s.auditor.Record(ctx, tenantID, "appointment_series", createdSeries.ID, "create", map[string]any{
		"provider_id":        createdSeries.ProviderID,
		"patient_id":         createdSeries.PatientID,
		"total_appointments": createdSeries.TotalAppointments,
	})

	for i := range created {
		if err := s.planner.PlanAppointmentCreated(ctx, &created[i]); err != nil {
			s.log.WithError(err).WithField("appointment_id", created[i].ID).
				Error("failed to schedule series member notifications")
		}
	}

	return createdSeries, created, nil
}

func validateSeries(in CreateSeriesInput) error {
	switch {
	case in.PatientID == uuid.Nil:
		return &ValidationError{Field: "patient_id", Message: "is required"}
	case in.ProviderID == uuid.Nil:
		return &ValidationError{Field: "provider_id", Message: "is required"}
	case in.FacilityID == uuid.Nil:
		return &ValidationError{Field: "facility_id", Message: "is required"}
	case in.RecurrencePattern == "":
		return &ValidationError{Field: "recurrence_pattern", Message: "is required"}
	case in.StartDate.IsZero():
		return &ValidationError{Field: "series_start_date", Message: "is required"}
	case len(in.Appointments) == 0:
		return &ValidationError{Field: "appointments", Message: "must contain at least one appointment"}
	}

	for _, m := range in.Appointments {
		if m.Type == "" {
			return &ValidationError{Field: "appointments", Message: "member type is required"}
		}
		if m.Start.IsZero() {
			return &ValidationError{Field: "appointments", Message: "member start is required"}
		}
		if m.DurationMinutes <= 0 {
			return &ValidationError{Field: "appointments", Message: "member duration must be positive"}
		}
	}
	return nil
}
