package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/scheduling-service/internal/appointment"
	"github.com/carebridge/scheduling-service/internal/notification"
)

// Every response carries the same envelope: success flag, payload, and a
// meta block echoing the request id so a client report can be matched to a
// log line.
type Envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
	Meta    Meta       `json:"meta"`
}

type Meta struct {
	RequestID string    `json:"requestId"`
	Timestamp time.Time `json:"timestamp"`
}

type ErrorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{
		Success: true,
		Data:    data,
		Meta:    Meta{RequestID: GetRequestID(r.Context()), Timestamp: time.Now().UTC()},
	})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeErrorDetails(w, r, status, code, message, nil)
}

func writeErrorDetails(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{
		Success: false,
		Error:   &ErrorBody{Code: code, Message: message, Details: details},
		Meta:    Meta{RequestID: GetRequestID(r.Context()), Timestamp: time.Now().UTC()},
	})
}

type CreateAppointmentRequest struct {
	PatientID       string  `json:"patient_id"`
	ProviderID      string  `json:"provider_id"`
	FacilityID      string  `json:"facility_id"`
	Type            string  `json:"appointment_type"`
	Start           string  `json:"scheduled_start"` // RFC 3339
	DurationMinutes int     `json:"duration_minutes"`
	Priority        int     `json:"priority"`
	Reason          *string `json:"reason,omitempty"`
}

type RescheduleRequest struct {
	Start           string `json:"scheduled_start"`
	DurationMinutes int    `json:"duration_minutes"`
}

type CancelRequest struct {
	Reason *string `json:"reason,omitempty"`
}

type UpdateAppointmentRequest struct {
	Type     *string `json:"appointment_type,omitempty"`
	Priority *int    `json:"priority,omitempty"`
	Reason   *string `json:"reason,omitempty"`
	Status   *string `json:"status,omitempty"`
}

type SeriesMemberRequest struct {
	Type            string  `json:"appointment_type"`
	Start           string  `json:"scheduled_start"`
	DurationMinutes int     `json:"duration_minutes"`
	Priority        int     `json:"priority"`
	Reason          *string `json:"reason,omitempty"`
}

type CreateSeriesRequest struct {
	PatientID         string                `json:"patient_id"`
	ProviderID        string                `json:"provider_id"`
	FacilityID        string                `json:"facility_id"`
	Name              string                `json:"series_name"`
	RecurrencePattern string                `json:"recurrence_pattern"`
	StartDate         string                `json:"series_start_date"`
	EndDate           *string               `json:"series_end_date,omitempty"`
	Appointments      []SeriesMemberRequest `json:"appointments"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID  `json:"id"`
	PatientID          uuid.UUID  `json:"patient_id"`
	ProviderID         uuid.UUID  `json:"provider_id"`
	FacilityID         uuid.UUID  `json:"facility_id"`
	SeriesID           *uuid.UUID `json:"series_id,omitempty"`
	Type               string     `json:"appointment_type"`
	ScheduledStart     time.Time  `json:"scheduled_start"`
	ScheduledEnd       time.Time  `json:"scheduled_end"`
	DurationMinutes    int        `json:"duration_minutes"`
	Status             string     `json:"status"`
	Priority           int        `json:"priority"`
	Reason             *string    `json:"reason,omitempty"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`
	CheckedInAt        *time.Time `json:"checked_in_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                 a.ID,
		PatientID:          a.PatientID,
		ProviderID:         a.ProviderID,
		FacilityID:         a.FacilityID,
		SeriesID:           a.SeriesID,
		Type:               a.Type,
		ScheduledStart:     a.ScheduledStart,
		ScheduledEnd:       a.ScheduledEnd,
		DurationMinutes:    a.DurationMinutes,
		Status:             string(a.Status),
		Priority:           a.Priority,
		Reason:             a.Reason,
		CancellationReason: a.CancellationReason,
		CheckedInAt:        a.CheckedInAt,
		CompletedAt:        a.CompletedAt,
		CancelledAt:        a.CancelledAt,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

func toAppointmentResponses(appts []appointment.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, len(appts))
	for i := range appts {
		out[i] = toAppointmentResponse(&appts[i])
	}
	return out
}

type SeriesResponse struct {
	ID                uuid.UUID             `json:"id"`
	PatientID         uuid.UUID             `json:"patient_id"`
	ProviderID        uuid.UUID             `json:"provider_id"`
	Name              string                `json:"series_name"`
	RecurrencePattern string                `json:"recurrence_pattern"`
	StartDate         time.Time             `json:"series_start_date"`
	EndDate           *time.Time            `json:"series_end_date,omitempty"`
	TotalAppointments int                   `json:"total_appointments"`
	Active            bool                  `json:"active"`
	Appointments      []AppointmentResponse `json:"appointments"`
}

type SlotResponse struct {
	ProviderID      uuid.UUID `json:"provider_id"`
	FacilityID      uuid.UUID `json:"facility_id"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes int       `json:"duration_minutes"`
}

type CreateNotificationRequest struct {
	PatientID         *string           `json:"patient_id,omitempty"`
	ProviderID        *string           `json:"provider_id,omitempty"`
	AppointmentID     *string           `json:"appointment_id,omitempty"`
	MedicationID      *string           `json:"medication_id,omitempty"`
	Type              string            `json:"notification_type"`
	Channel           *string           `json:"channel,omitempty"`
	Priority          int               `json:"priority"`
	ScheduledSendTime *string           `json:"scheduled_send_time,omitempty"`
	TemplateData      map[string]string `json:"template_data,omitempty"`

	// Medication reminders expand into one record per dose over this many
	// days instead of inserting a single record.
	Days int `json:"days,omitempty"`
}

type NotificationResponse struct {
	ID                uuid.UUID         `json:"id"`
	PatientID         *uuid.UUID        `json:"patient_id,omitempty"`
	ProviderID        *uuid.UUID        `json:"provider_id,omitempty"`
	AppointmentID     *uuid.UUID        `json:"appointment_id,omitempty"`
	MedicationID      *uuid.UUID        `json:"medication_id,omitempty"`
	Type              string            `json:"notification_type"`
	Channel           *string           `json:"channel,omitempty"`
	Priority          int               `json:"priority"`
	ScheduledSendTime time.Time         `json:"scheduled_send_time"`
	SentAt            *time.Time        `json:"sent_at,omitempty"`
	DeliveryStatus    string            `json:"delivery_status"`
	RetryCount        int               `json:"retry_count"`
	DeliveryDetails   map[string]string `json:"delivery_details,omitempty"`
	LastError         *string           `json:"last_error,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

func toNotificationResponse(n *notification.Record) NotificationResponse {
	var channel *string
	if n.Channel != nil {
		c := string(*n.Channel)
		channel = &c
	}
	return NotificationResponse{
		ID:                n.ID,
		PatientID:         n.PatientID,
		ProviderID:        n.ProviderID,
		AppointmentID:     n.AppointmentID,
		MedicationID:      n.MedicationID,
		Type:              string(n.Type),
		Channel:           channel,
		Priority:          n.Priority,
		ScheduledSendTime: n.ScheduledSendTime,
		SentAt:            n.SentAt,
		DeliveryStatus:    string(n.DeliveryStatus),
		RetryCount:        n.RetryCount,
		DeliveryDetails:   n.DeliveryDetails,
		LastError:         n.LastError,
		CreatedAt:         n.CreatedAt,
		UpdatedAt:         n.UpdatedAt,
	}
}

type DeliveryStatusResponse struct {
	ID             uuid.UUID  `json:"id"`
	DeliveryStatus string     `json:"delivery_status"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	RetryCount     int        `json:"retry_count"`
	LastError      *string    `json:"last_error,omitempty"`
}
