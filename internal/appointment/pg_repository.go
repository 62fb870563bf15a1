package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `
	id, tenant_id, patient_id, provider_id, facility_id, series_id,
	type, scheduled_start, scheduled_end, duration_minutes, status, priority,
	reason, cancellation_reason, checked_in_at, completed_at, cancelled_at,
	created_at, updated_at`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.TenantID,
		&a.PatientID,
		&a.ProviderID,
		&a.FacilityID,
		&a.SeriesID,
		&a.Type,
		&a.ScheduledStart,
		&a.ScheduledEnd,
		&a.DurationMinutes,
		&a.Status,
		&a.Priority,
		&a.Reason,
		&a.CancellationReason,
		&a.CheckedInAt,
		&a.CompletedAt,
		&a.CancelledAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func scanRule(row pgx.Row) (*AvailabilityRule, error) {
	var r AvailabilityRule

	err := row.Scan(
		&r.ID,
		&r.TenantID,
		&r.ProviderID,
		&r.FacilityID,
		&r.DayOfWeek,
		&r.StartMinute,
		&r.EndMinute,
		&r.SlotDurationMinutes,
		&r.Active,
		&r.EffectiveFrom,
		&r.EffectiveUntil,
	)
	if err != nil {
		return nil, err
	}

	return &r, nil
}

// lockProviderCalendar takes a transaction-scoped advisory lock on the
// provider's calendar. Concurrent booking transactions for the same provider
// serialize here, which closes the phantom-row window a plain overlap scan
// would leave open.
func lockProviderCalendar(ctx context.Context, tx pgx.Tx, tenantID, providerID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		SELECT pg_advisory_xact_lock(hashtextextended($1, 0))
	`, tenantID.String()+":"+providerID.String())
	if err != nil {
		return fmt.Errorf("lock provider calendar: %w", err)
	}
	return nil
}

// findConflict scans for a live appointment overlapping [start, end) using
// the half-open interval test. excludeID skips the appointment's own row on
// reschedules.
func findConflict(ctx context.Context, tx pgx.Tx, tenantID, providerID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (*uuid.UUID, error) {
	row := tx.QueryRow(ctx, `
		SELECT id
		FROM appointments
		WHERE tenant_id = $1
		  AND provider_id = $2
		  AND status NOT IN ('cancelled', 'no-show')
		  AND scheduled_start < $4
		  AND scheduled_end > $3
		  AND ($5::uuid IS NULL OR id <> $5)
		ORDER BY scheduled_start
		LIMIT 1
	`, tenantID, providerID, start, end, excludeID)

	var id uuid.UUID
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &id, nil
}

func insertAppointment(ctx context.Context, tx pgx.Tx, a *Appointment) (*Appointment, error) {
	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (
			id, tenant_id, patient_id, provider_id, facility_id, series_id,
			type, scheduled_start, scheduled_end, duration_minutes, status, priority,
			reason, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now(), now())
		RETURNING`+appointmentColumns+`
	`, a.ID, a.TenantID, a.PatientID, a.ProviderID, a.FacilityID, a.SeriesID,
		a.Type, a.ScheduledStart, a.ScheduledEnd, a.DurationMinutes, a.Status, a.Priority,
		a.Reason)

	return scanAppointment(row)
}

// supersedeReminders marks still-undelivered reminders for an appointment as
// superseded. Runs inside the same transaction as the time/status change so a
// stale reminder can never survive a committed reschedule or cancellation.
func supersedeReminders(ctx context.Context, tx pgx.Tx, tenantID, appointmentID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE notifications
		SET delivery_status = 'superseded',
		    updated_at = now()
		WHERE tenant_id = $1
		  AND appointment_id = $2
		  AND notification_type = 'appointment-reminder'
		  AND delivery_status IN ('pending', 'queued')
	`, tenantID, appointmentID)
	if err != nil {
		return fmt.Errorf("supersede reminders: %w", err)
	}
	return nil
}

// Interface methods

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin booking tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockProviderCalendar(ctx, tx, a.TenantID, a.ProviderID); err != nil {
		return nil, err
	}

	conflictID, err := findConflict(ctx, tx, a.TenantID, a.ProviderID, a.ScheduledStart, a.ScheduledEnd, nil)
	if err != nil {
		return nil, fmt.Errorf("conflict scan: %w", err)
	}
	if conflictID != nil {
		return nil, &ConflictError{ConflictingID: *conflictID}
	}

	created, err := insertAppointment(ctx, tx, a)
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit booking tx: %w", err)
	}

	return created, nil
}

func (r *PgRepository) CreateSeries(ctx context.Context, s *Series, members []*Appointment) (*Series, []Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin series tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockProviderCalendar(ctx, tx, s.TenantID, s.ProviderID); err != nil {
		return nil, nil, err
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO appointment_series (
			id, tenant_id, patient_id, provider_id, name, recurrence_pattern,
			start_date, end_date, total_appointments, completed_appointments,
			active, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, true, now(), now())
		RETURNING id, tenant_id, patient_id, provider_id, name, recurrence_pattern,
		          start_date, end_date, total_appointments, completed_appointments,
		          active, created_at, updated_at
	`, s.ID, s.TenantID, s.PatientID, s.ProviderID, s.Name, s.RecurrencePattern,
		s.StartDate, s.EndDate, len(members))

	createdSeries, err := scanSeries(row)
	if err != nil {
		return nil, nil, fmt.Errorf("insert series: %w", err)
	}

	created := make([]Appointment, 0, len(members))
	for _, m := range members {
		// Members inserted earlier in this transaction are visible to the
		// scan, so a series that collides with itself also fails.
		conflictID, err := findConflict(ctx, tx, m.TenantID, m.ProviderID, m.ScheduledStart, m.ScheduledEnd, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("conflict scan for series member: %w", err)
		}
		if conflictID != nil {
			return nil, nil, &ConflictError{ConflictingID: *conflictID}
		}

		appt, err := insertAppointment(ctx, tx, m)
		if err != nil {
			return nil, nil, fmt.Errorf("insert series member: %w", err)
		}
		created = append(created, *appt)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit series tx: %w", err)
	}

	return createdSeries, created, nil
}

func (r *PgRepository) Reschedule(ctx context.Context, tenantID, id uuid.UUID, newStart, newEnd time.Time, durationMinutes int) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin reschedule tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := scanAppointment(tx.QueryRow(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE
	`, tenantID, id))
	if err != nil {
		return nil, err
	}

	if current.Status.IsTerminal() {
		return nil, &TransitionError{From: current.Status, To: current.Status}
	}

	if err := lockProviderCalendar(ctx, tx, tenantID, current.ProviderID); err != nil {
		return nil, err
	}

	conflictID, err := findConflict(ctx, tx, tenantID, current.ProviderID, newStart, newEnd, &id)
	if err != nil {
		return nil, fmt.Errorf("conflict scan: %w", err)
	}
	if conflictID != nil {
		return nil, &ConflictError{ConflictingID: *conflictID}
	}

	updated, err := scanAppointment(tx.QueryRow(ctx, `
		UPDATE appointments
		SET scheduled_start = $3,
		    scheduled_end = $4,
		    duration_minutes = $5,
		    updated_at = now()
		WHERE tenant_id = $1 AND id = $2
		RETURNING`+appointmentColumns+`
	`, tenantID, id, newStart, newEnd, durationMinutes))
	if err != nil {
		return nil, fmt.Errorf("update appointment times: %w", err)
	}

	if err := supersedeReminders(ctx, tx, tenantID, id); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit reschedule tx: %w", err)
	}

	return updated, nil
}

func (r *PgRepository) CancelAppointment(ctx context.Context, tenantID, id uuid.UUID, reason *string, at time.Time) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin cancel tx: %w", err)
	}
	defer tx.Rollback(ctx)

	updated, err := scanAppointment(tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
		    cancellation_reason = $3,
		    cancelled_at = $4,
		    updated_at = now()
		WHERE tenant_id = $1
		  AND id = $2
		  AND status IN ('scheduled', 'confirmed')
		RETURNING`+appointmentColumns+`
	`, tenantID, id, reason, at))
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Distinguish a missing row from an illegal transition.
			current, getErr := r.GetByID(ctx, tenantID, id)
			if getErr != nil {
				return nil, getErr
			}
			return nil, &TransitionError{From: current.Status, To: StatusCancelled}
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	if err := supersedeReminders(ctx, tx, tenantID, id); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit cancel tx: %w", err)
	}

	return updated, nil
}

func (r *PgRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListByPatient(ctx context.Context, tenantID, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1 AND patient_id = $2
		ORDER BY scheduled_start DESC
		LIMIT $3 OFFSET $4
	`, tenantID, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *PgRepository) ListLive(ctx context.Context, tenantID uuid.UUID, providerIDs []uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1
		  AND status NOT IN ('cancelled', 'no-show')
		  AND scheduled_start < $3
		  AND scheduled_end > $2
		  AND (cardinality($4::uuid[]) = 0 OR provider_id = ANY($4))
		ORDER BY scheduled_start
	`, tenantID, from, to, providerIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *PgRepository) TransitionStatus(ctx context.Context, tenantID, id uuid.UUID, from, to Status, stampAt time.Time) (*Appointment, error) {
	stampColumn := ""
	switch to {
	case StatusArrived:
		stampColumn = "checked_in_at = $5,"
	case StatusCompleted:
		stampColumn = "completed_at = $5,"
	case StatusCancelled:
		stampColumn = "cancelled_at = $5,"
	}

	args := []any{tenantID, id, from, to}
	if stampColumn != "" {
		args = append(args, stampAt)
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $4,
		    `+stampColumn+`
		    updated_at = now()
		WHERE tenant_id = $1
		  AND id = $2
		  AND status = $3
		RETURNING`+appointmentColumns+`
	`, args...)

	return scanAppointment(row)
}

func (r *PgRepository) UpdateDetails(ctx context.Context, tenantID, id uuid.UUID, upd Update) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET type = COALESCE($3, type),
		    priority = COALESCE($4, priority),
		    reason = COALESCE($5, reason),
		    updated_at = now()
		WHERE tenant_id = $1 AND id = $2
		RETURNING`+appointmentColumns+`
	`, tenantID, id, upd.Type, upd.Priority, upd.Reason)

	return scanAppointment(row)
}

func (r *PgRepository) ListActiveRules(ctx context.Context, tenantID uuid.UUID, f RuleFilter, from, to time.Time) ([]AvailabilityRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, provider_id, facility_id, day_of_week,
		       start_minute, end_minute, slot_duration_minutes, active,
		       effective_from, effective_until
		FROM availability_rules
		WHERE tenant_id = $1
		  AND active = true
		  AND effective_from <= $3
		  AND (effective_until IS NULL OR effective_until >= $2)
		  AND ($4::uuid IS NULL OR provider_id = $4)
		  AND ($5::uuid IS NULL OR facility_id = $5)
		ORDER BY provider_id, day_of_week, start_minute
	`, tenantID, from, to, f.ProviderID, f.FacilityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AvailabilityRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rule)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func scanSeries(row pgx.Row) (*Series, error) {
	var s Series

	err := row.Scan(
		&s.ID,
		&s.TenantID,
		&s.PatientID,
		&s.ProviderID,
		&s.Name,
		&s.RecurrencePattern,
		&s.StartDate,
		&s.EndDate,
		&s.TotalAppointments,
		&s.CompletedAppointments,
		&s.Active,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSeriesNotFound
		}
		return nil, err
	}

	return &s, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
