package notification

import (
	"time"

	"github.com/google/uuid"
)

type DeliveryStatus string

const (
	StatusPending    DeliveryStatus = "pending"
	StatusQueued     DeliveryStatus = "queued"
	StatusDelivered  DeliveryStatus = "delivered"
	StatusFailed     DeliveryStatus = "failed"
	StatusSuperseded DeliveryStatus = "superseded"
)

// IsFinal reports whether no further dispatch work applies. failed is only
// terminal once the attempt budget is spent; the retry sweep decides that.
func (s DeliveryStatus) IsFinal() bool {
	return s == StatusDelivered || s == StatusSuperseded
}

type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
)

// fallbackOrder is the channel preference when the recipient has none, or
// when the preferred channel has no usable contact field.
var fallbackOrder = []Channel{ChannelSMS, ChannelEmail, ChannelPush}

type Type string

const (
	TypeAppointmentConfirmation Type = "appointment-confirmation"
	TypeAppointmentReminder     Type = "appointment-reminder"
	TypeAppointmentRescheduled  Type = "appointment-rescheduled"
	TypeAppointmentCancelled    Type = "appointment-cancelled"
	TypeMedicationReminder      Type = "medication-reminder"
)

func (t Type) Valid() bool {
	switch t {
	case TypeAppointmentConfirmation, TypeAppointmentReminder,
		TypeAppointmentRescheduled, TypeAppointmentCancelled,
		TypeMedicationReminder:
		return true
	}
	return false
}

// MaxAttempts bounds delivery retries. The third failure is terminal.
const MaxAttempts = 3

// Default priorities, on the queue's 0..1000 scale.
const (
	PriorityConfirmation = 500
	PriorityReminder     = 300
	PriorityStatusChange = 500
	PriorityMedication   = 400
)

type Record struct {
	ID                uuid.UUID
	TenantID          uuid.UUID
	PatientID         *uuid.UUID
	ProviderID        *uuid.UUID
	AppointmentID     *uuid.UUID
	MedicationID      *uuid.UUID
	Type              Type
	Channel           *Channel // nil = resolve from recipient preference at dispatch
	Priority          int
	ScheduledSendTime time.Time
	SentAt            *time.Time
	DeliveryStatus    DeliveryStatus
	ReadAt            *time.Time
	TemplateData      map[string]string
	RetryCount        int
	DeliveryDetails   map[string]string
	LastError         *string

	// ReferenceTime is the appointment start this reminder was computed
	// from. The dispatcher drops the reminder if the appointment has since
	// moved away from it.
	ReferenceTime *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DispatchMessage is the queue payload: just enough to reload the record.
type DispatchMessage struct {
	NotificationID uuid.UUID `json:"notification_id"`
	TenantID       uuid.UUID `json:"tenant_id"`
}
