package notification

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/carebridge/scheduling-service/internal/appointment"
	"github.com/carebridge/scheduling-service/internal/directory"
	redisclient "github.com/carebridge/scheduling-service/internal/redis"
)

// fakeNotifRepo is an in-memory Repository mirroring the CAS semantics of
// the Postgres implementation.
type fakeNotifRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]*Record
}

func newFakeNotifRepo() *fakeNotifRepo {
	return &fakeNotifRepo{records: make(map[uuid.UUID]*Record)}
}

func (r *fakeNotifRepo) Insert(_ context.Context, n *Record) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *n
	stored.CreatedAt = time.Now()
	stored.UpdatedAt = stored.CreatedAt
	r.records[stored.ID] = &stored

	out := stored
	return &out, nil
}

func (r *fakeNotifRepo) GetByID(_ context.Context, tenantID, id uuid.UUID) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.records[id]
	if !ok || n.TenantID != tenantID {
		return nil, ErrNotificationNotFound
	}
	out := *n
	return &out, nil
}

func (r *fakeNotifRepo) ListByIDs(_ context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []Record
	for _, id := range ids {
		if n, ok := r.records[id]; ok && n.TenantID == tenantID {
			result = append(result, *n)
		}
	}
	return result, nil
}

func (r *fakeNotifRepo) SelectDue(_ context.Context, until time.Time, limit int) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []Record
	for _, n := range r.records {
		if n.DeliveryStatus == StatusPending && !n.ScheduledSendTime.After(until) {
			due = append(due, *n)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].ScheduledSendTime.Before(due[j].ScheduledSendTime)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *fakeNotifRepo) MarkQueued(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.records[id]
	if !ok || n.DeliveryStatus != StatusPending {
		return false, nil
	}
	n.DeliveryStatus = StatusQueued
	n.UpdatedAt = time.Now()
	return true, nil
}

func (r *fakeNotifRepo) MarkDelivered(_ context.Context, id uuid.UUID, sentAt time.Time, details map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.records[id]
	if !ok {
		return ErrNotificationNotFound
	}
	n.DeliveryStatus = StatusDelivered
	n.SentAt = &sentAt
	n.DeliveryDetails = details
	n.UpdatedAt = time.Now()
	return nil
}

func (r *fakeNotifRepo) MarkFailed(_ context.Context, id uuid.UUID, errDetail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.records[id]
	if !ok {
		return ErrNotificationNotFound
	}
	n.DeliveryStatus = StatusFailed
	n.LastError = &errDetail
	n.UpdatedAt = time.Now()
	return nil
}

func (r *fakeNotifRepo) MarkFailedFinal(_ context.Context, id uuid.UUID, errDetail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.records[id]
	if !ok {
		return ErrNotificationNotFound
	}
	n.DeliveryStatus = StatusFailed
	n.LastError = &errDetail
	if n.RetryCount < MaxAttempts {
		n.RetryCount = MaxAttempts
	}
	n.UpdatedAt = time.Now()
	return nil
}

func (r *fakeNotifRepo) MarkSuperseded(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.records[id]
	if !ok {
		return ErrNotificationNotFound
	}
	n.DeliveryStatus = StatusSuperseded
	n.UpdatedAt = time.Now()
	return nil
}

func (r *fakeNotifRepo) Requeue(_ context.Context, id uuid.UUID, sendAt time.Time, incrementRetry bool, errDetail *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.records[id]
	if !ok {
		return ErrNotificationNotFound
	}
	n.DeliveryStatus = StatusPending
	n.ScheduledSendTime = sendAt
	if incrementRetry {
		n.RetryCount++
	}
	if errDetail != nil {
		n.LastError = errDetail
	}
	n.UpdatedAt = time.Now()
	return nil
}

func (r *fakeNotifRepo) SweepFailed(_ context.Context, updatedBefore time.Time, maxRetry int, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var reset int
	for _, n := range r.records {
		if n.DeliveryStatus != StatusFailed || n.RetryCount >= maxRetry || !n.UpdatedAt.Before(updatedBefore) {
			continue
		}
		n.DeliveryStatus = StatusPending
		n.RetryCount++
		n.ScheduledSendTime = now
		n.UpdatedAt = now
		reset++
	}
	return reset, nil
}

func (r *fakeNotifRepo) SweepStuckQueued(_ context.Context, updatedBefore time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var reset int
	for _, n := range r.records {
		if n.DeliveryStatus != StatusQueued || !n.UpdatedAt.Before(updatedBefore) {
			continue
		}
		n.DeliveryStatus = StatusPending
		n.UpdatedAt = time.Now()
		reset++
	}
	return reset, nil
}

func (r *fakeNotifRepo) byType(tp Type) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []Record
	for _, n := range r.records {
		if n.Type == tp {
			result = append(result, *n)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ScheduledSendTime.Before(result[j].ScheduledSendTime)
	})
	return result
}

func (r *fakeNotifRepo) get(id uuid.UUID) Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.records[id]
}

// fakeDirectory serves directory lookups from maps.
type fakeDirectory struct {
	patients    map[uuid.UUID]*directory.Patient
	providers   map[uuid.UUID]*directory.Provider
	facilities  map[uuid.UUID]*directory.Facility
	medications map[uuid.UUID]*directory.Medication
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		patients:    make(map[uuid.UUID]*directory.Patient),
		providers:   make(map[uuid.UUID]*directory.Provider),
		facilities:  make(map[uuid.UUID]*directory.Facility),
		medications: make(map[uuid.UUID]*directory.Medication),
	}
}

func (d *fakeDirectory) GetPatient(_ context.Context, tenantID, id uuid.UUID) (*directory.Patient, error) {
	if p, ok := d.patients[id]; ok && p.TenantID == tenantID {
		out := *p
		return &out, nil
	}
	return nil, directory.ErrPatientNotFound
}

func (d *fakeDirectory) GetProvider(_ context.Context, tenantID, id uuid.UUID) (*directory.Provider, error) {
	if p, ok := d.providers[id]; ok && p.TenantID == tenantID {
		out := *p
		return &out, nil
	}
	return nil, directory.ErrProviderNotFound
}

func (d *fakeDirectory) GetFacility(_ context.Context, tenantID, id uuid.UUID) (*directory.Facility, error) {
	if f, ok := d.facilities[id]; ok && f.TenantID == tenantID {
		out := *f
		return &out, nil
	}
	return nil, directory.ErrFacilityNotFound
}

func (d *fakeDirectory) GetMedication(_ context.Context, tenantID, id uuid.UUID) (*directory.Medication, error) {
	if m, ok := d.medications[id]; ok && m.TenantID == tenantID {
		out := *m
		return &out, nil
	}
	return nil, directory.ErrMedicationNotFound
}

// fakeAppointments backs the dispatcher's reminder re-validation.
type fakeAppointments struct {
	appts map[uuid.UUID]*appointment.Appointment
}

func newFakeAppointments() *fakeAppointments {
	return &fakeAppointments{appts: make(map[uuid.UUID]*appointment.Appointment)}
}

func (f *fakeAppointments) GetByID(_ context.Context, tenantID, id uuid.UUID) (*appointment.Appointment, error) {
	if a, ok := f.appts[id]; ok && a.TenantID == tenantID {
		out := *a
		return &out, nil
	}
	return nil, appointment.ErrAppointmentNotFound
}

// fakeQueue records published messages.
type fakeQueue struct {
	mu          sync.Mutex
	published   []redisclient.Message
	failPublish bool
}

func (q *fakeQueue) Publish(_ context.Context, _ string, msg redisclient.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failPublish {
		return errors.New("redis unavailable")
	}
	q.published = append(q.published, msg)
	return nil
}

func (q *fakeQueue) Consume(context.Context, string, int, redisclient.Handler) error {
	return errors.New("not implemented")
}

// fakeSender serves as every channel transport.
type fakeSender struct {
	mu    sync.Mutex
	sent  []sentMessage
	err   error
	msgID string
}

type sentMessage struct {
	channel   Channel
	recipient string
	subject   string
	body      string
}

func (s *fakeSender) record(m sentMessage) (SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, m)
	if s.err != nil {
		return SendResult{}, s.err
	}
	return SendResult{MessageID: s.msgID}, nil
}

func (s *fakeSender) SendSMS(_ context.Context, recipient, text string) (SendResult, error) {
	return s.record(sentMessage{channel: ChannelSMS, recipient: recipient, body: text})
}

func (s *fakeSender) SendEmail(_ context.Context, recipient, subject, body string) (SendResult, error) {
	return s.record(sentMessage{channel: ChannelEmail, recipient: recipient, subject: subject, body: body})
}

func (s *fakeSender) SendPush(_ context.Context, token, title, body string) (SendResult, error) {
	return s.record(sentMessage{channel: ChannelPush, recipient: token, subject: title, body: body})
}

func quietLogger() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(log)
}
