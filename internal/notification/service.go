package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/carebridge/scheduling-service/internal/appointment"
	"github.com/carebridge/scheduling-service/internal/directory"
)

// Service is the notification producer: it turns appointment lifecycle
// events, medication schedules and manual API requests into pending
// notification records for the scheduler to pick up.
type Service struct {
	repo      Repository
	directory directory.Store
	offsets   []time.Duration // reminder lead times, e.g. 72h, 24h, 2h
	log       *logrus.Entry
	now       func() time.Time
}

func NewService(repo Repository, dir directory.Store, offsets []time.Duration, log *logrus.Entry) *Service {
	return &Service{
		repo:      repo,
		directory: dir,
		offsets:   offsets,
		log:       log,
		now:       time.Now,
	}
}

// PlanAppointmentCreated schedules the confirmation plus one reminder per
// configured offset. Offsets already in the past are skipped: a same-day
// booking gets fewer reminders, not reminders scheduled behind the clock.
func (s *Service) PlanAppointmentCreated(ctx context.Context, a *appointment.Appointment) error {
	now := s.now()

	records := []*Record{
		appointmentRecord(a, TypeAppointmentConfirmation, PriorityConfirmation, now),
	}
	records = append(records, s.reminderRecords(a, now)...)

	return s.insertAll(ctx, records)
}

// PlanAppointmentRescheduled schedules the reschedule notice and a fresh
// reminder fan for the new time. Reminders for the old time were superseded
// inside the reschedule transaction.
func (s *Service) PlanAppointmentRescheduled(ctx context.Context, a *appointment.Appointment) error {
	now := s.now()

	records := []*Record{
		appointmentRecord(a, TypeAppointmentRescheduled, PriorityStatusChange, now),
	}
	records = append(records, s.reminderRecords(a, now)...)

	return s.insertAll(ctx, records)
}

func (s *Service) PlanAppointmentCancelled(ctx context.Context, a *appointment.Appointment) error {
	return s.insertAll(ctx, []*Record{
		appointmentRecord(a, TypeAppointmentCancelled, PriorityStatusChange, s.now()),
	})
}

func (s *Service) reminderRecords(a *appointment.Appointment, now time.Time) []*Record {
	var records []*Record
	for _, offset := range s.offsets {
		sendAt := a.ScheduledStart.Add(-offset)
		if !sendAt.After(now) {
			continue
		}
		rec := appointmentRecord(a, TypeAppointmentReminder, PriorityReminder, sendAt)
		ref := a.ScheduledStart
		rec.ReferenceTime = &ref
		records = append(records, rec)
	}
	return records
}

func appointmentRecord(a *appointment.Appointment, t Type, priority int, sendAt time.Time) *Record {
	patientID := a.PatientID
	providerID := a.ProviderID
	appointmentID := a.ID

	return &Record{
		ID:                uuid.New(),
		TenantID:          a.TenantID,
		PatientID:         &patientID,
		ProviderID:        &providerID,
		AppointmentID:     &appointmentID,
		Type:              t,
		Priority:          priority,
		ScheduledSendTime: sendAt,
		DeliveryStatus:    StatusPending,
	}
}

func (s *Service) insertAll(ctx context.Context, records []*Record) error {
	for _, rec := range records {
		if _, err := s.repo.Insert(ctx, rec); err != nil {
			return fmt.Errorf("insert %s notification: %w", rec.Type, err)
		}
	}
	return nil
}

// CreateInput is the manual-creation DTO for POST /notifications.
type CreateInput struct {
	PatientID         *uuid.UUID
	ProviderID        *uuid.UUID
	AppointmentID     *uuid.UUID
	MedicationID      *uuid.UUID
	Type              Type
	Channel           *Channel
	Priority          int
	ScheduledSendTime time.Time
	TemplateData      map[string]string
}

// Create inserts a single notification record from a manual API request.
func (s *Service) Create(ctx context.Context, tenantID uuid.UUID, in CreateInput) (*Record, error) {
	if !in.Type.Valid() {
		return nil, &appointment.ValidationError{Field: "notification_type", Message: fmt.Sprintf("unknown type %q", in.Type)}
	}
	if in.PatientID == nil {
		return nil, &appointment.ValidationError{Field: "patient_id", Message: "is required"}
	}
	if in.Channel != nil {
		switch *in.Channel {
		case ChannelSMS, ChannelEmail, ChannelPush:
		default:
			return nil, &appointment.ValidationError{Field: "channel", Message: fmt.Sprintf("unknown channel %q", *in.Channel)}
		}
	}
	if in.Priority < 0 {
		return nil, &appointment.ValidationError{Field: "priority", Message: "must not be negative"}
	}

	sendAt := in.ScheduledSendTime
	if sendAt.IsZero() {
		sendAt = s.now()
	}

	return s.repo.Insert(ctx, &Record{
		ID:                uuid.New(),
		TenantID:          tenantID,
		PatientID:         in.PatientID,
		ProviderID:        in.ProviderID,
		AppointmentID:     in.AppointmentID,
		MedicationID:      in.MedicationID,
		Type:              in.Type,
		Channel:           in.Channel,
		Priority:          in.Priority,
		ScheduledSendTime: sendAt,
		DeliveryStatus:    StatusPending,
		TemplateData:      in.TemplateData,
	})
}

// PlanMedicationReminders expands a medication's frequency into concrete
// reminder records for the next `days` days, in the patient's local time.
func (s *Service) PlanMedicationReminders(ctx context.Context, tenantID, medicationID uuid.UUID, days int) ([]Record, error) {
	if days <= 0 {
		days = 1
	}

	med, err := s.directory.GetMedication(ctx, tenantID, medicationID)
	if err != nil {
		return nil, err
	}
	patient, err := s.directory.GetPatient(ctx, tenantID, med.PatientID)
	if err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(patient.Timezone)
	if err != nil {
		loc = time.UTC
	}

	now := s.now()
	localNow := now.In(loc)
	times := TimesForFrequency(med.Frequency)

	var created []Record
	for day := 0; day < days; day++ {
		date := localNow.AddDate(0, 0, day)
		for _, rt := range times {
			sendAt := time.Date(date.Year(), date.Month(), date.Day(), rt.Hour, rt.Minute, 0, 0, loc)
			if !sendAt.After(now) {
				continue
			}

			patientID := med.PatientID
			medID := med.ID
			rec, err := s.repo.Insert(ctx, &Record{
				ID:                uuid.New(),
				TenantID:          tenantID,
				PatientID:         &patientID,
				MedicationID:      &medID,
				Type:              TypeMedicationReminder,
				Priority:          PriorityMedication,
				ScheduledSendTime: sendAt.UTC(),
				DeliveryStatus:    StatusPending,
			})
			if err != nil {
				return nil, fmt.Errorf("insert medication reminder: %w", err)
			}
			created = append(created, *rec)
		}
	}

	return created, nil
}

func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (*Record, error) {
	return s.repo.GetByID(ctx, tenantID, id)
}

// DeliveryStatuses returns the delivery state of the requested records.
// IDs under another tenant are simply absent from the result.
func (s *Service) DeliveryStatuses(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.repo.ListByIDs(ctx, tenantID, ids)
}
