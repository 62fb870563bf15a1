package notification

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/scheduling-service/internal/appointment"
	"github.com/carebridge/scheduling-service/internal/directory"
	redisclient "github.com/carebridge/scheduling-service/internal/redis"
)

type dispatcherFixture struct {
	dispatcher *Dispatcher
	repo       *fakeNotifRepo
	dir        *fakeDirectory
	appts      *fakeAppointments
	sms        *fakeSender
	email      *fakeSender
	push       *fakeSender
	tenantID   uuid.UUID
	now        time.Time
}

func newDispatcherFixture(now time.Time) *dispatcherFixture {
	f := &dispatcherFixture{
		repo:     newFakeNotifRepo(),
		dir:      newFakeDirectory(),
		appts:    newFakeAppointments(),
		sms:      &fakeSender{msgID: "sms-1"},
		email:    &fakeSender{msgID: "email-1"},
		push:     &fakeSender{msgID: "push-1"},
		tenantID: uuid.New(),
		now:      now,
	}

	f.dispatcher = NewDispatcher(
		f.repo,
		f.dir,
		f.appts,
		Transports{SMS: f.sms, Email: f.email, Push: f.push},
		2*time.Hour,
		30*time.Minute,
		quietLogger(),
	)
	f.dispatcher.now = func() time.Time { return now }
	return f
}

func (f *dispatcherFixture) addPatient(mutate func(*directory.Patient)) *directory.Patient {
	phone := "+15550100"
	email := "ana@example.com"
	token := "ExponentPushToken[abc]"
	p := &directory.Patient{
		ID:          uuid.New(),
		TenantID:    f.tenantID,
		Name:        "Ana Flores",
		Phone:       &phone,
		Email:       &email,
		DeviceToken: &token,
		Timezone:    "UTC",
	}
	if mutate != nil {
		mutate(p)
	}
	f.dir.patients[p.ID] = p
	return p
}

func (f *dispatcherFixture) addQueuedRecord(patientID uuid.UUID, mutate func(*Record)) *Record {
	pid := patientID
	rec := &Record{
		ID:                uuid.New(),
		TenantID:          f.tenantID,
		PatientID:         &pid,
		Type:              TypeAppointmentConfirmation,
		Priority:          PriorityConfirmation,
		ScheduledSendTime: f.now,
		DeliveryStatus:    StatusQueued,
		TemplateData: map[string]string{
			"provider_name":    "Dr. Chen",
			"facility_name":    "Riverside Clinic",
			"appointment_type": "consultation",
			"appointment_time": "Mon, Mar 2 2026 at 9:00 AM",
		},
	}
	if mutate != nil {
		mutate(rec)
	}
	stored, err := f.repo.Insert(context.Background(), rec)
	if err != nil {
		panic(err)
	}
	return stored
}

func (f *dispatcherFixture) handle(t *testing.T, rec *Record) error {
	t.Helper()
	payload, err := json.Marshal(DispatchMessage{NotificationID: rec.ID, TenantID: rec.TenantID})
	require.NoError(t, err)
	return f.dispatcher.Handle(context.Background(), redisclient.Message{ID: uuid.New(), Payload: payload})
}

func TestDispatchDelivers(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	f := newDispatcherFixture(now)

	patient := f.addPatient(nil)
	rec := f.addQueuedRecord(patient.ID, nil)

	require.NoError(t, f.handle(t, rec))

	require.Len(t, f.sms.sent, 1)
	assert.Equal(t, "+15550100", f.sms.sent[0].recipient)
	assert.Contains(t, f.sms.sent[0].body, "Ana Flores")
	assert.Contains(t, f.sms.sent[0].body, "Dr. Chen")

	stored := f.repo.get(rec.ID)
	assert.Equal(t, StatusDelivered, stored.DeliveryStatus)
	require.NotNil(t, stored.SentAt)
	assert.Equal(t, "sms-1", stored.DeliveryDetails["message_id"])
	assert.Equal(t, "sms", stored.DeliveryDetails["channel"])
}

func TestDispatchIdempotentOnRedelivery(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	f := newDispatcherFixture(now)

	patient := f.addPatient(nil)
	rec := f.addQueuedRecord(patient.ID, nil)

	require.NoError(t, f.handle(t, rec))
	require.NoError(t, f.handle(t, rec))

	assert.Len(t, f.sms.sent, 1, "a redelivered message must not send twice")
}

func TestDispatchQuietHoursDefersWithoutBurningRetry(t *testing.T) {
	// 23:00 local, quiet window 22-07.
	now := time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)
	f := newDispatcherFixture(now)

	patient := f.addPatient(func(p *directory.Patient) {
		start, end := 22, 7
		p.QuietStartHour = &start
		p.QuietEndHour = &end
	})
	rec := f.addQueuedRecord(patient.ID, nil)

	require.NoError(t, f.handle(t, rec))

	assert.Empty(t, f.sms.sent)
	stored := f.repo.get(rec.ID)
	assert.Equal(t, StatusPending, stored.DeliveryStatus)
	assert.Equal(t, now.Add(2*time.Hour), stored.ScheduledSendTime)
	assert.Equal(t, 0, stored.RetryCount, "quiet-hours deferral is not a retry")
}

func TestDispatchQuietHoursWrapMidnight(t *testing.T) {
	// 03:00 local is inside a 22-07 window that wraps midnight.
	f := newDispatcherFixture(time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC))
	patient := f.addPatient(func(p *directory.Patient) {
		start, end := 22, 7
		p.QuietStartHour = &start
		p.QuietEndHour = &end
	})
	rec := f.addQueuedRecord(patient.ID, nil)
	require.NoError(t, f.handle(t, rec))
	assert.Equal(t, StatusPending, f.repo.get(rec.ID).DeliveryStatus)

	// 12:00 local is outside it.
	f2 := newDispatcherFixture(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	patient2 := f2.addPatient(func(p *directory.Patient) {
		start, end := 22, 7
		p.QuietStartHour = &start
		p.QuietEndHour = &end
	})
	rec2 := f2.addQueuedRecord(patient2.ID, nil)
	require.NoError(t, f2.handle(t, rec2))
	assert.Equal(t, StatusDelivered, f2.repo.get(rec2.ID).DeliveryStatus)
}

func TestDispatchSupersedesStaleReminder(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	f := newDispatcherFixture(now)
	patient := f.addPatient(nil)

	originalStart := now.Add(24 * time.Hour)

	appt := &appointment.Appointment{
		ID:             uuid.New(),
		TenantID:       f.tenantID,
		PatientID:      patient.ID,
		Status:         appointment.StatusScheduled,
		ScheduledStart: originalStart.Add(48 * time.Hour), // moved since the reminder was cut
	}
	f.appts.appts[appt.ID] = appt

	rec := f.addQueuedRecord(patient.ID, func(r *Record) {
		r.Type = TypeAppointmentReminder
		apptID := appt.ID
		r.AppointmentID = &apptID
		ref := originalStart
		r.ReferenceTime = &ref
	})

	require.NoError(t, f.handle(t, rec))

	assert.Empty(t, f.sms.sent)
	assert.Equal(t, StatusSuperseded, f.repo.get(rec.ID).DeliveryStatus)
}

func TestDispatchSupersedesReminderForDeadAppointment(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	for _, status := range []appointment.Status{appointment.StatusCancelled, appointment.StatusNoShow} {
		f := newDispatcherFixture(now)
		patient := f.addPatient(nil)
		start := now.Add(24 * time.Hour)

		appt := &appointment.Appointment{
			ID:             uuid.New(),
			TenantID:       f.tenantID,
			PatientID:      patient.ID,
			Status:         status,
			ScheduledStart: start,
		}
		f.appts.appts[appt.ID] = appt

		rec := f.addQueuedRecord(patient.ID, func(r *Record) {
			r.Type = TypeAppointmentReminder
			apptID := appt.ID
			r.AppointmentID = &apptID
			ref := start
			r.ReferenceTime = &ref
		})

		require.NoError(t, f.handle(t, rec))
		assert.Equal(t, StatusSuperseded, f.repo.get(rec.ID).DeliveryStatus, "status %s", status)
	}

	// Appointment gone entirely.
	f := newDispatcherFixture(now)
	patient := f.addPatient(nil)
	rec := f.addQueuedRecord(patient.ID, func(r *Record) {
		r.Type = TypeAppointmentReminder
		missing := uuid.New()
		r.AppointmentID = &missing
	})
	require.NoError(t, f.handle(t, rec))
	assert.Equal(t, StatusSuperseded, f.repo.get(rec.ID).DeliveryStatus)
}

func TestDispatchMatchingReminderStillSends(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	f := newDispatcherFixture(now)
	patient := f.addPatient(nil)
	start := now.Add(24 * time.Hour)

	appt := &appointment.Appointment{
		ID:             uuid.New(),
		TenantID:       f.tenantID,
		PatientID:      patient.ID,
		ProviderID:     uuid.New(),
		FacilityID:     uuid.New(),
		Type:           "consultation",
		Status:         appointment.StatusConfirmed,
		ScheduledStart: start,
	}
	f.appts.appts[appt.ID] = appt

	rec := f.addQueuedRecord(patient.ID, func(r *Record) {
		r.Type = TypeAppointmentReminder
		apptID := appt.ID
		r.AppointmentID = &apptID
		ref := start
		r.ReferenceTime = &ref
	})

	require.NoError(t, f.handle(t, rec))
	assert.Equal(t, StatusDelivered, f.repo.get(rec.ID).DeliveryStatus)
	require.Len(t, f.sms.sent, 1)
}

func TestDispatchOptedOutFailsTerminally(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	f := newDispatcherFixture(now)
	patient := f.addPatient(func(p *directory.Patient) { p.OptedOut = true })
	rec := f.addQueuedRecord(patient.ID, nil)

	require.NoError(t, f.handle(t, rec))

	assert.Empty(t, f.sms.sent)
	stored := f.repo.get(rec.ID)
	assert.Equal(t, StatusFailed, stored.DeliveryStatus)
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, "opted out")
}

func TestDispatchChannelSelection(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	t.Run("pinned channel wins", func(t *testing.T) {
		f := newDispatcherFixture(now)
		patient := f.addPatient(nil)
		rec := f.addQueuedRecord(patient.ID, func(r *Record) {
			c := ChannelPush
			r.Channel = &c
		})

		require.NoError(t, f.handle(t, rec))
		assert.Len(t, f.push.sent, 1)
		assert.Empty(t, f.sms.sent)
	})

	t.Run("preference wins over fallback order", func(t *testing.T) {
		f := newDispatcherFixture(now)
		patient := f.addPatient(func(p *directory.Patient) {
			pref := "email"
			p.PreferredChannel = &pref
		})
		rec := f.addQueuedRecord(patient.ID, nil)

		require.NoError(t, f.handle(t, rec))
		assert.Len(t, f.email.sent, 1)
		assert.Empty(t, f.sms.sent)
	})

	t.Run("missing contact falls through", func(t *testing.T) {
		f := newDispatcherFixture(now)
		patient := f.addPatient(func(p *directory.Patient) {
			p.Phone = nil // sms is first in fallback order but unusable
		})
		rec := f.addQueuedRecord(patient.ID, nil)

		require.NoError(t, f.handle(t, rec))
		assert.Empty(t, f.sms.sent)
		assert.Len(t, f.email.sent, 1)
	})

	t.Run("unconfigured transport falls through", func(t *testing.T) {
		f := newDispatcherFixture(now)
		f.dispatcher.transports.SMS = nil
		patient := f.addPatient(nil)
		rec := f.addQueuedRecord(patient.ID, nil)

		require.NoError(t, f.handle(t, rec))
		assert.Len(t, f.email.sent, 1)
	})

	t.Run("no usable channel fails terminally", func(t *testing.T) {
		f := newDispatcherFixture(now)
		patient := f.addPatient(func(p *directory.Patient) {
			p.Phone = nil
			p.Email = nil
			p.DeviceToken = nil
		})
		rec := f.addQueuedRecord(patient.ID, nil)

		require.NoError(t, f.handle(t, rec))
		stored := f.repo.get(rec.ID)
		assert.Equal(t, StatusFailed, stored.DeliveryStatus)
		require.NotNil(t, stored.LastError)
		assert.Contains(t, *stored.LastError, "no deliverable channel")
	})
}

func TestDispatchRetryableFailureRequeues(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	f := newDispatcherFixture(now)
	f.sms.err = retryableErr("gateway timeout", nil)

	patient := f.addPatient(nil)
	rec := f.addQueuedRecord(patient.ID, nil)

	require.NoError(t, f.handle(t, rec))

	stored := f.repo.get(rec.ID)
	assert.Equal(t, StatusPending, stored.DeliveryStatus)
	assert.Equal(t, 1, stored.RetryCount)
	assert.Equal(t, now.Add(30*time.Minute), stored.ScheduledSendTime)
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, "gateway timeout")
}

func TestDispatchRetryBudgetExhausted(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	f := newDispatcherFixture(now)
	f.sms.err = retryableErr("gateway timeout", nil)

	patient := f.addPatient(nil)
	rec := f.addQueuedRecord(patient.ID, func(r *Record) {
		r.RetryCount = MaxAttempts - 1
	})

	require.NoError(t, f.handle(t, rec))

	stored := f.repo.get(rec.ID)
	assert.Equal(t, StatusFailed, stored.DeliveryStatus)
	assert.Equal(t, MaxAttempts, stored.RetryCount, "the final attempt must be persisted")

	// An hour later the retry sweep must leave the record alone: a fourth
	// attempt would overrun the budget.
	sweeper := newTestScheduler(f.repo, &fakeQueue{}, now.Add(time.Hour))
	reset, err := sweeper.SweepRetries(context.Background())
	require.NoError(t, err)
	assert.Zero(t, reset)
	assert.Equal(t, StatusFailed, f.repo.get(rec.ID).DeliveryStatus)
}

func TestDispatchPermanentFailureSkipsRetries(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	f := newDispatcherFixture(now)
	f.sms.err = permanentErr("invalid phone number", nil)

	patient := f.addPatient(nil)
	rec := f.addQueuedRecord(patient.ID, nil)

	require.NoError(t, f.handle(t, rec))

	stored := f.repo.get(rec.ID)
	assert.Equal(t, StatusFailed, stored.DeliveryStatus)
	assert.Equal(t, MaxAttempts, stored.RetryCount, "pinned out of the retry sweep's reach")
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, "invalid phone number")
	assert.Len(t, f.sms.sent, 1)
}

func TestDispatchUnknownNotificationIsDropped(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	f := newDispatcherFixture(now)

	payload, err := json.Marshal(DispatchMessage{NotificationID: uuid.New(), TenantID: f.tenantID})
	require.NoError(t, err)

	assert.NoError(t, f.dispatcher.Handle(context.Background(), redisclient.Message{ID: uuid.New(), Payload: payload}))
}

func TestDispatchRendersFromLiveRecords(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	f := newDispatcherFixture(now)
	patient := f.addPatient(nil)

	provider := &directory.Provider{ID: uuid.New(), TenantID: f.tenantID, Name: "Dr. Okafor"}
	facility := &directory.Facility{ID: uuid.New(), TenantID: f.tenantID, Name: "Lakeside Clinic", Timezone: "UTC"}
	f.dir.providers[provider.ID] = provider
	f.dir.facilities[facility.ID] = facility

	appt := &appointment.Appointment{
		ID:             uuid.New(),
		TenantID:       f.tenantID,
		PatientID:      patient.ID,
		ProviderID:     provider.ID,
		FacilityID:     facility.ID,
		Type:           "follow-up",
		Status:         appointment.StatusScheduled,
		ScheduledStart: time.Date(2026, 3, 9, 14, 30, 0, 0, time.UTC),
	}
	f.appts.appts[appt.ID] = appt

	rec := f.addQueuedRecord(patient.ID, func(r *Record) {
		apptID := appt.ID
		r.AppointmentID = &apptID
		r.TemplateData = nil // everything resolved from the live records
	})

	require.NoError(t, f.handle(t, rec))

	require.Len(t, f.sms.sent, 1)
	body := f.sms.sent[0].body
	assert.Contains(t, body, "Ana Flores")
	assert.Contains(t, body, "Dr. Okafor")
	assert.Contains(t, body, "Lakeside Clinic")
	assert.Contains(t, body, "follow-up")
	assert.NotContains(t, body, "{{")
}
