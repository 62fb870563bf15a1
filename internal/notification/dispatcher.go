package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/carebridge/scheduling-service/internal/appointment"
	"github.com/carebridge/scheduling-service/internal/directory"
	"github.com/carebridge/scheduling-service/internal/metrics"
	redisclient "github.com/carebridge/scheduling-service/internal/redis"
)

// AppointmentReader is the slice of the appointment repository the
// dispatcher needs: re-validating a reminder's parent before sending.
type AppointmentReader interface {
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*appointment.Appointment, error)
}

// Dispatcher drives one notification through channel selection, quiet-hours
// deferral, rendering and transport send, recording the outcome on the
// record's delivery state machine.
type Dispatcher struct {
	repo         Repository
	directory    directory.Store
	appointments AppointmentReader
	transports   Transports

	quietDeferral time.Duration
	retryBackoff  time.Duration

	log *logrus.Entry
	now func() time.Time
}

func NewDispatcher(repo Repository, dir directory.Store, appts AppointmentReader, transports Transports, quietDeferral, retryBackoff time.Duration, log *logrus.Entry) *Dispatcher {
	return &Dispatcher{
		repo:          repo,
		directory:     dir,
		appointments:  appts,
		transports:    transports,
		quietDeferral: quietDeferral,
		retryBackoff:  retryBackoff,
		log:           log,
		now:           time.Now,
	}
}

// Handle processes one dispatch message. It returns an error only for
// infrastructure failures where queue redelivery helps; every business
// outcome (delivered, deferred, failed, superseded) is persisted and
// absorbed here.
func (d *Dispatcher) Handle(ctx context.Context, msg redisclient.Message) error {
	var dm DispatchMessage
	if err := json.Unmarshal(msg.Payload, &dm); err != nil {
		d.log.WithError(err).WithField("message_id", msg.ID).Error("dropping undecodable dispatch message")
		return nil
	}

	rec, err := d.repo.GetByID(ctx, dm.TenantID, dm.NotificationID)
	if err != nil {
		if errors.Is(err, ErrNotificationNotFound) {
			d.log.WithField("notification_id", dm.NotificationID).Warn("dispatch message references unknown notification")
			return nil
		}
		return fmt.Errorf("load notification: %w", err)
	}

	log := d.log.WithFields(logrus.Fields{
		"notification_id": rec.ID,
		"type":            rec.Type,
	})

	// Idempotency: a redelivered message for a finished record is a no-op.
	if rec.DeliveryStatus.IsFinal() {
		return nil
	}

	if !rec.Type.Valid() {
		return d.failTerminal(ctx, rec, "unknown notification type", log)
	}

	if stale, err := d.reminderIsStale(ctx, rec); err != nil {
		return err
	} else if stale {
		log.Info("reminder no longer matches its appointment, superseding")
		return d.repo.MarkSuperseded(ctx, rec.ID)
	}

	if rec.PatientID == nil {
		return d.failTerminal(ctx, rec, "notification has no recipient", log)
	}

	patient, err := d.directory.GetPatient(ctx, rec.TenantID, *rec.PatientID)
	if err != nil {
		if errors.Is(err, directory.ErrPatientNotFound) {
			return d.failTerminal(ctx, rec, "recipient not found", log)
		}
		return fmt.Errorf("load patient: %w", err)
	}

	if patient.OptedOut {
		return d.failTerminal(ctx, rec, "recipient opted out", log)
	}

	now := d.now()

	if deferUntil, deferred := d.quietHoursDefer(patient, now); deferred {
		log.WithField("resume_at", deferUntil).Info("inside recipient quiet hours, deferring")
		metrics.NotificationsDeferred.Inc()
		// Deferral is not a failure: the retry budget is untouched.
		return d.repo.Requeue(ctx, rec.ID, deferUntil, false, nil)
	}

	channel, recipient, ok := d.selectChannel(rec, patient)
	if !ok {
		return d.failTerminal(ctx, rec, "no deliverable channel for recipient", log)
	}

	rendered, err := d.render(ctx, rec, patient)
	if err != nil {
		return d.failTerminal(ctx, rec, fmt.Sprintf("render: %v", err), log)
	}

	result, sendErr := d.send(ctx, channel, recipient, rendered)
	if sendErr == nil {
		metrics.NotificationsDispatched.WithLabelValues(string(channel), "delivered").Inc()
		details := result.Details
		if details == nil {
			details = map[string]string{}
		}
		if result.MessageID != "" {
			details["message_id"] = result.MessageID
		}
		details["channel"] = string(channel)
		return d.repo.MarkDelivered(ctx, rec.ID, now, details)
	}

	if isPermanent(sendErr) {
		metrics.NotificationsDispatched.WithLabelValues(string(channel), "permanent_failure").Inc()
		return d.failTerminal(ctx, rec, sendErr.Error(), log)
	}

	// Retryable: burn an attempt, push the send time, back to pending.
	attempts := rec.RetryCount + 1
	if attempts >= MaxAttempts {
		metrics.NotificationsDispatched.WithLabelValues(string(channel), "exhausted").Inc()
		log.WithError(sendErr).Warn("attempt budget exhausted")
		return d.repo.MarkFailedFinal(ctx, rec.ID, fmt.Sprintf("attempt %d: %v", attempts, sendErr))
	}

	metrics.NotificationsDispatched.WithLabelValues(string(channel), "retryable_failure").Inc()
	log.WithError(sendErr).WithField("attempt", attempts).Warn("transport failure, scheduling retry")
	detail := sendErr.Error()
	return d.repo.Requeue(ctx, rec.ID, now.Add(d.retryBackoff), true, &detail)
}

func (d *Dispatcher) failTerminal(ctx context.Context, rec *Record, reason string, log *logrus.Entry) error {
	log.WithField("reason", reason).Warn("notification failed terminally")
	return d.repo.MarkFailedFinal(ctx, rec.ID, reason)
}

// reminderIsStale reports whether an appointment reminder no longer matches
// a live appointment at its original time. This backstops the transactional
// superseding done on reschedule/cancel.
func (d *Dispatcher) reminderIsStale(ctx context.Context, rec *Record) (bool, error) {
	if rec.Type != TypeAppointmentReminder || rec.AppointmentID == nil {
		return false, nil
	}

	appt, err := d.appointments.GetByID(ctx, rec.TenantID, *rec.AppointmentID)
	if err != nil {
		if errors.Is(err, appointment.ErrAppointmentNotFound) {
			return true, nil
		}
		return false, fmt.Errorf("load appointment for reminder: %w", err)
	}

	if !appt.Status.IsLive() {
		return true, nil
	}
	if rec.ReferenceTime != nil && !appt.ScheduledStart.Equal(*rec.ReferenceTime) {
		return true, nil
	}
	return false, nil
}

// quietHoursDefer checks the recipient's local hour against their quiet
// window. The window may wrap midnight: start 22, end 7 covers 22:00-06:59.
func (d *Dispatcher) quietHoursDefer(p *directory.Patient, now time.Time) (time.Time, bool) {
	if p.QuietStartHour == nil || p.QuietEndHour == nil {
		return time.Time{}, false
	}

	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		loc = time.UTC
	}

	hour := now.In(loc).Hour()
	start, end := *p.QuietStartHour, *p.QuietEndHour

	var inside bool
	if start <= end {
		inside = hour >= start && hour < end
	} else {
		inside = hour >= start || hour < end
	}

	if !inside {
		return time.Time{}, false
	}
	return now.Add(d.quietDeferral), true
}

// selectChannel picks the delivery channel: the record's pinned channel if
// usable, else the recipient's preference, else sms -> email -> push across
// the contact fields that exist.
func (d *Dispatcher) selectChannel(rec *Record, p *directory.Patient) (Channel, string, bool) {
	candidates := make([]Channel, 0, 5)
	if rec.Channel != nil {
		candidates = append(candidates, *rec.Channel)
	}
	if p.PreferredChannel != nil {
		candidates = append(candidates, Channel(*p.PreferredChannel))
	}
	candidates = append(candidates, fallbackOrder...)

	seen := make(map[Channel]bool, len(candidates))
	for _, c := range candidates {
		if seen[c] {
			continue
		}
		seen[c] = true

		if !d.transports.available(c) {
			continue
		}
		if addr, ok := contactFor(c, p); ok {
			return c, addr, true
		}
	}
	return "", "", false
}

func contactFor(c Channel, p *directory.Patient) (string, bool) {
	switch c {
	case ChannelSMS:
		if p.Phone != nil && *p.Phone != "" {
			return *p.Phone, true
		}
	case ChannelEmail:
		if p.Email != nil && *p.Email != "" {
			return *p.Email, true
		}
	case ChannelPush:
		if p.DeviceToken != nil && *p.DeviceToken != "" {
			return *p.DeviceToken, true
		}
	}
	return "", false
}

// render merges the record's explicit template data with fields pulled live
// from the related records. Explicit values win; live lookups fill the gaps.
func (d *Dispatcher) render(ctx context.Context, rec *Record, patient *directory.Patient) (MessageTemplate, error) {
	data := make(map[string]string, len(rec.TemplateData)+6)
	for k, v := range rec.TemplateData {
		data[k] = v
	}

	fill := func(key, value string) {
		if _, ok := data[key]; !ok && value != "" {
			data[key] = value
		}
	}

	fill("patient_name", patient.Name)

	loc, err := time.LoadLocation(patient.Timezone)
	if err != nil {
		loc = time.UTC
	}

	if rec.AppointmentID != nil {
		appt, err := d.appointments.GetByID(ctx, rec.TenantID, *rec.AppointmentID)
		if err == nil {
			fill("appointment_type", appt.Type)
			fill("appointment_time", appt.ScheduledStart.In(loc).Format("Mon, Jan 2 2006 at 3:04 PM"))

			if provider, err := d.directory.GetProvider(ctx, rec.TenantID, appt.ProviderID); err == nil {
				fill("provider_name", provider.Name)
			}
			if facility, err := d.directory.GetFacility(ctx, rec.TenantID, appt.FacilityID); err == nil {
				fill("facility_name", facility.Name)
			}
		}
	}

	if rec.MedicationID != nil {
		if med, err := d.directory.GetMedication(ctx, rec.TenantID, *rec.MedicationID); err == nil {
			fill("medication_name", med.Name)
			fill("dosage", med.Dosage)
		}
	}

	return Render(rec.Type, data)
}

func (d *Dispatcher) send(ctx context.Context, channel Channel, recipient string, msg MessageTemplate) (SendResult, error) {
	switch channel {
	case ChannelSMS:
		return d.transports.SMS.SendSMS(ctx, recipient, msg.Body)
	case ChannelEmail:
		return d.transports.Email.SendEmail(ctx, recipient, msg.Subject, msg.Body)
	case ChannelPush:
		return d.transports.Push.SendPush(ctx, recipient, msg.Subject, msg.Body)
	default:
		return SendResult{}, permanentErr(fmt.Sprintf("unknown channel %q", channel), nil)
	}
}
