package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/carebridge/scheduling-service/internal/appointment"
)

func createAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		providerID, err := uuid.Parse(req.ProviderID)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
			return
		}
		facilityID, err := uuid.Parse(req.FacilityID)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_facility_id", "facility_id must be a valid UUID")
			return
		}
		start, err := time.Parse(time.RFC3339, req.Start)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_start", "scheduled_start must be RFC 3339")
			return
		}

		appt, err := svc.Create(r.Context(), TenantID(r.Context()), appointment.CreateInput{
			PatientID:       patientID,
			ProviderID:      providerID,
			FacilityID:      facilityID,
			Type:            req.Type,
			Start:           start,
			DurationMinutes: req.DurationMinutes,
			Priority:        req.Priority,
			Reason:          req.Reason,
		})
		if err != nil {
			handleAppointmentError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		appt, err := svc.Get(r.Context(), TenantID(r.Context()), id)
		if err != nil {
			handleAppointmentError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientIDStr := r.URL.Query().Get("patient_id")
		if patientIDStr == "" {
			writeError(w, r, http.StatusBadRequest, "missing_patient_id", "patient_id query parameter is required")
			return
		}
		patientID, err := uuid.Parse(patientIDStr)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		appts, err := svc.ListByPatient(r.Context(), TenantID(r.Context()), patientID, limit, offset)
		if err != nil {
			handleAppointmentError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, toAppointmentResponses(appts))
	}
}

// updateAppointmentHandler mutates the allowed detail fields and, when the
// request carries a status, applies that transition through the state
// machine.
func updateAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		var req UpdateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		tenantID := TenantID(r.Context())

		appt, err := svc.Update(r.Context(), tenantID, id, appointment.Update{
			Type:     req.Type,
			Priority: req.Priority,
			Reason:   req.Reason,
		})
		if err != nil {
			handleAppointmentError(w, r, err)
			return
		}

		if req.Status != nil {
			appt, err = svc.Transition(r.Context(), tenantID, id, appointment.Status(*req.Status))
			if err != nil {
				handleAppointmentError(w, r, err)
				return
			}
		}

		writeJSON(w, r, http.StatusOK, toAppointmentResponse(appt))
	}
}

func rescheduleAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		var req RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		start, err := time.Parse(time.RFC3339, req.Start)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_start", "scheduled_start must be RFC 3339")
			return
		}

		appt, err := svc.Reschedule(r.Context(), TenantID(r.Context()), id, start, req.DurationMinutes)
		if err != nil {
			handleAppointmentError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, toAppointmentResponse(appt))
	}
}

func checkInAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		appt, err := svc.CheckIn(r.Context(), TenantID(r.Context()), id)
		if err != nil {
			handleAppointmentError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		var req CancelRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, r, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
				return
			}
		}

		appt, err := svc.Cancel(r.Context(), TenantID(r.Context()), id, req.Reason)
		if err != nil {
			handleAppointmentError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, toAppointmentResponse(appt))
	}
}

func createSeriesHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSeriesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		providerID, err := uuid.Parse(req.ProviderID)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
			return
		}
		facilityID, err := uuid.Parse(req.FacilityID)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_facility_id", "facility_id must be a valid UUID")
			return
		}
		startDate, err := time.Parse(time.RFC3339, req.StartDate)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_start_date", "series_start_date must be RFC 3339")
			return
		}
		var endDate *time.Time
		if req.EndDate != nil {
			t, err := time.Parse(time.RFC3339, *req.EndDate)
			if err != nil {
				writeError(w, r, http.StatusBadRequest, "invalid_end_date", "series_end_date must be RFC 3339")
				return
			}
			endDate = &t
		}

		members := make([]appointment.SeriesMemberInput, 0, len(req.Appointments))
		for _, m := range req.Appointments {
			start, err := time.Parse(time.RFC3339, m.Start)
			if err != nil {
				writeError(w, r, http.StatusBadRequest, "invalid_start", "member scheduled_start must be RFC 3339")
				return
			}
			members = append(members, appointment.SeriesMemberInput{
				Type:            m.Type,
				Start:           start,
				DurationMinutes: m.DurationMinutes,
				Priority:        m.Priority,
				Reason:          m.Reason,
			})
		}

		series, appts, err := svc.CreateSeries(r.Context(), TenantID(r.Context()), appointment.CreateSeriesInput{
			PatientID:         patientID,
			ProviderID:        providerID,
			FacilityID:        facilityID,
			Name:              req.Name,
			RecurrencePattern: req.RecurrencePattern,
			StartDate:         startDate,
			EndDate:           endDate,
			Appointments:      members,
		})
		if err != nil {
			handleAppointmentError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, SeriesResponse{
			ID:                series.ID,
			PatientID:         series.PatientID,
			ProviderID:        series.ProviderID,
			Name:              series.Name,
			RecurrencePattern: series.RecurrencePattern,
			StartDate:         series.StartDate,
			EndDate:           series.EndDate,
			TotalAppointments: series.TotalAppointments,
			Active:            series.Active,
			Appointments:      toAppointmentResponses(appts),
		})
	}
}

func availabilityHandler(finder *appointment.SlotFinder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		startDate, err := parseDateParam(q.Get("start_date"))
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_start_date", "start_date must be YYYY-MM-DD or RFC 3339")
			return
		}
		endDate, err := parseDateParam(q.Get("end_date"))
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_end_date", "end_date must be YYYY-MM-DD or RFC 3339")
			return
		}

		filter := appointment.SlotFilter{
			AppointmentType: q.Get("appointment_type"),
			StartDate:       startDate,
			EndDate:         endDate,
		}

		if raw := q.Get("provider_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, r, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
				return
			}
			filter.ProviderID = &id
		}
		if raw := q.Get("facility_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, r, http.StatusBadRequest, "invalid_facility_id", "facility_id must be a valid UUID")
				return
			}
			filter.FacilityID = &id
		}

		slots, err := finder.FindSlots(r.Context(), TenantID(r.Context()), filter)
		if err != nil {
			handleAppointmentError(w, r, err)
			return
		}

		out := make([]SlotResponse, len(slots))
		for i, s := range slots {
			out[i] = SlotResponse{
				ProviderID:      s.ProviderID,
				FacilityID:      s.FacilityID,
				Start:           s.Start,
				End:             s.End,
				DurationMinutes: s.DurationMinutes,
			}
		}

		writeJSON(w, r, http.StatusOK, out)
	}
}

func parseIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// parseDateParam accepts a bare date or a full RFC 3339 timestamp.
func parseDateParam(raw string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func handleAppointmentError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *appointment.ValidationError
		conflictErr   *appointment.ConflictError
		transitionErr *appointment.TransitionError
	)

	switch {
	case errors.As(err, &validationErr):
		writeErrorDetails(w, r, http.StatusBadRequest, "validation_failed", validationErr.Message,
			map[string]string{"field": validationErr.Field})
	case errors.As(err, &conflictErr):
		writeErrorDetails(w, r, http.StatusConflict, "appointment_conflict", err.Error(),
			map[string]string{"conflicting_appointment_id": conflictErr.ConflictingID.String()})
	case errors.Is(err, appointment.ErrConflict):
		writeError(w, r, http.StatusConflict, "appointment_conflict", err.Error())
	case errors.As(err, &transitionErr):
		writeErrorDetails(w, r, http.StatusConflict, "invalid_status_transition", err.Error(),
			map[string]string{"from": string(transitionErr.From), "to": string(transitionErr.To)})
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, r, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrProviderBusy):
		writeError(w, r, http.StatusConflict, "provider_busy", "provider calendar is being modified, please retry shortly")
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, r, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrSeriesNotFound):
		writeError(w, r, http.StatusNotFound, "series_not_found", err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal_error", "an internal error occurred")
	}
}
