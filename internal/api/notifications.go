package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/scheduling-service/internal/appointment"
	"github.com/carebridge/scheduling-service/internal/directory"
	"github.com/carebridge/scheduling-service/internal/notification"
)

func createNotificationHandler(svc *notification.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateNotificationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		tenantID := TenantID(r.Context())

		// A medication reminder with a day span fans out into the full dose
		// schedule instead of one record.
		if notification.Type(req.Type) == notification.TypeMedicationReminder && req.Days > 0 {
			if req.MedicationID == nil {
				writeError(w, r, http.StatusBadRequest, "missing_medication_id", "medication_id is required for medication reminders")
				return
			}
			medID, err := uuid.Parse(*req.MedicationID)
			if err != nil {
				writeError(w, r, http.StatusBadRequest, "invalid_medication_id", "medication_id must be a valid UUID")
				return
			}

			records, err := svc.PlanMedicationReminders(r.Context(), tenantID, medID, req.Days)
			if err != nil {
				handleNotificationError(w, r, err)
				return
			}

			out := make([]NotificationResponse, len(records))
			for i := range records {
				out[i] = toNotificationResponse(&records[i])
			}
			writeJSON(w, r, http.StatusCreated, out)
			return
		}

		in := notification.CreateInput{
			Type:         notification.Type(req.Type),
			Priority:     req.Priority,
			TemplateData: req.TemplateData,
		}

		if !parseOptionalUUID(w, r, req.PatientID, "patient_id", &in.PatientID) ||
			!parseOptionalUUID(w, r, req.ProviderID, "provider_id", &in.ProviderID) ||
			!parseOptionalUUID(w, r, req.AppointmentID, "appointment_id", &in.AppointmentID) ||
			!parseOptionalUUID(w, r, req.MedicationID, "medication_id", &in.MedicationID) {
			return
		}

		if req.Channel != nil {
			c := notification.Channel(*req.Channel)
			in.Channel = &c
		}
		if req.ScheduledSendTime != nil {
			t, err := time.Parse(time.RFC3339, *req.ScheduledSendTime)
			if err != nil {
				writeError(w, r, http.StatusBadRequest, "invalid_send_time", "scheduled_send_time must be RFC 3339")
				return
			}
			in.ScheduledSendTime = t
		}

		rec, err := svc.Create(r.Context(), tenantID, in)
		if err != nil {
			handleNotificationError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, toNotificationResponse(rec))
	}
}

func getNotificationHandler(svc *notification.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		rec, err := svc.Get(r.Context(), TenantID(r.Context()), id)
		if err != nil {
			handleNotificationError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, toNotificationResponse(rec))
	}
}

// deliveryStatusHandler reports delivery state for a comma-separated id list.
// IDs belonging to another tenant are omitted, not errored, so the response
// leaks nothing about other tenants' records.
func deliveryStatusHandler(svc *notification.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("ids")
		if raw == "" {
			writeError(w, r, http.StatusBadRequest, "missing_ids", "ids query parameter is required")
			return
		}

		parts := strings.Split(raw, ",")
		ids := make([]uuid.UUID, 0, len(parts))
		for _, p := range parts {
			id, err := uuid.Parse(strings.TrimSpace(p))
			if err != nil {
				writeError(w, r, http.StatusBadRequest, "invalid_ids", "ids must be comma-separated UUIDs")
				return
			}
			ids = append(ids, id)
		}

		records, err := svc.DeliveryStatuses(r.Context(), TenantID(r.Context()), ids)
		if err != nil {
			handleNotificationError(w, r, err)
			return
		}

		out := make([]DeliveryStatusResponse, len(records))
		for i, rec := range records {
			out[i] = DeliveryStatusResponse{
				ID:             rec.ID,
				DeliveryStatus: string(rec.DeliveryStatus),
				SentAt:         rec.SentAt,
				RetryCount:     rec.RetryCount,
				LastError:      rec.LastError,
			}
		}

		writeJSON(w, r, http.StatusOK, out)
	}
}

func parseOptionalUUID(w http.ResponseWriter, r *http.Request, raw *string, field string, dst **uuid.UUID) bool {
	if raw == nil {
		return true
	}
	id, err := uuid.Parse(*raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_"+field, field+" must be a valid UUID")
		return false
	}
	*dst = &id
	return true
}

func handleNotificationError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *appointment.ValidationError

	switch {
	case errors.As(err, &validationErr):
		writeErrorDetails(w, r, http.StatusBadRequest, "validation_failed", validationErr.Message,
			map[string]string{"field": validationErr.Field})
	case errors.Is(err, notification.ErrNotificationNotFound):
		writeError(w, r, http.StatusNotFound, "notification_not_found", err.Error())
	case errors.Is(err, directory.ErrPatientNotFound):
		writeError(w, r, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, directory.ErrMedicationNotFound):
		writeError(w, r, http.StatusNotFound, "medication_not_found", err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal_error", "an internal error occurred")
	}
}
