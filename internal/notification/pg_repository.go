package notification

import (
	"context"
	"encoding/json"
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

const notificationColumns = `
	id, tenant_id, patient_id, provider_id, appointment_id, medication_id,
	notification_type, channel, priority, scheduled_send_time, sent_at,
	delivery_status, read_at, template_data, retry_count, delivery_details,
	last_error, reference_time, created_at, updated_at`

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		n            Record
		templateData []byte
		details      []byte
	)

	err := row.Scan(
		&n.ID,
		&n.TenantID,
		&n.PatientID,
		&n.ProviderID,
		&n.AppointmentID,
		&n.MedicationID,
		&n.Type,
		&n.Channel,
		&n.Priority,
		&n.ScheduledSendTime,
		&n.SentAt,
		&n.DeliveryStatus,
		&n.ReadAt,
		&templateData,
		&n.RetryCount,
		&details,
		&n.LastError,
		&n.ReferenceTime,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotificationNotFound
		}
		return nil, err
	}

	if len(templateData) > 0 {
		if err := json.Unmarshal(templateData, &n.TemplateData); err != nil {
			return nil, fmt.Errorf("decode template_data: %w", err)
		}
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &n.DeliveryDetails); err != nil {
			return nil, fmt.Errorf("decode delivery_details: %w", err)
		}
	}

	return &n, nil
}

func (r *PgRepository) Insert(ctx context.Context, n *Record) (*Record, error) {
	templateData, err := json.Marshal(n.TemplateData)
	if err != nil {
		return nil, fmt.Errorf("encode template_data: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO notifications (
			id, tenant_id, patient_id, provider_id, appointment_id, medication_id,
			notification_type, channel, priority, scheduled_send_time,
			delivery_status, template_data, retry_count, reference_time,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'pending', $11, 0, $12, now(), now())
		RETURNING`+notificationColumns+`
	`, n.ID, n.TenantID, n.PatientID, n.ProviderID, n.AppointmentID, n.MedicationID,
		n.Type, n.Channel, n.Priority, n.ScheduledSendTime, templateData, n.ReferenceTime)

	return scanRecord(row)
}

func (r *PgRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*Record, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT`+notificationColumns+`
		FROM notifications
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	return scanRecord(row)
}

func (r *PgRepository) ListByIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT`+notificationColumns+`
		FROM notifications
		WHERE tenant_id = $1 AND id = ANY($2)
		ORDER BY created_at
	`, tenantID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectRecords(rows)
}

func (r *PgRepository) SelectDue(ctx context.Context, until time.Time, limit int) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT`+notificationColumns+`
		FROM notifications
		WHERE delivery_status = 'pending'
		  AND scheduled_send_time <= $1
		ORDER BY priority DESC, scheduled_send_time ASC
		LIMIT $2
	`, until, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectRecords(rows)
}

func (r *PgRepository) MarkQueued(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET delivery_status = 'queued',
		    updated_at = now()
		WHERE id = $1
		  AND delivery_status = 'pending'
	`, id)
	if err != nil {
		return false, fmt.Errorf("mark queued: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgRepository) MarkDelivered(ctx context.Context, id uuid.UUID, sentAt time.Time, details map[string]string) error {
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode delivery_details: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		UPDATE notifications
		SET delivery_status = 'delivered',
		    sent_at = $2,
		    delivery_details = $3,
		    last_error = NULL,
		    updated_at = now()
		WHERE id = $1
	`, id, sentAt, payload)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}

func (r *PgRepository) MarkFailed(ctx context.Context, id uuid.UUID, errDetail string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET delivery_status = 'failed',
		    last_error = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, errDetail)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

func (r *PgRepository) MarkFailedFinal(ctx context.Context, id uuid.UUID, errDetail string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET delivery_status = 'failed',
		    last_error = $2,
		    retry_count = GREATEST(retry_count, $3),
		    updated_at = now()
		WHERE id = $1
	`, id, errDetail, MaxAttempts)
	if err != nil {
		return fmt.Errorf("mark failed final: %w", err)
	}
	return nil
}

func (r *PgRepository) MarkSuperseded(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET delivery_status = 'superseded',
		    updated_at = now()
		WHERE id = $1
		  AND delivery_status IN ('pending', 'queued')
	`, id)
	if err != nil {
		return fmt.Errorf("mark superseded: %w", err)
	}
	return nil
}

func (r *PgRepository) Requeue(ctx context.Context, id uuid.UUID, sendAt time.Time, incrementRetry bool, errDetail *string) error {
	increment := 0
	if incrementRetry {
		increment = 1
	}

	_, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET delivery_status = 'pending',
		    scheduled_send_time = $2,
		    retry_count = retry_count + $3,
		    last_error = COALESCE($4, last_error),
		    updated_at = now()
		WHERE id = $1
	`, id, sendAt, increment, errDetail)
	if err != nil {
		return fmt.Errorf("requeue notification: %w", err)
	}
	return nil
}

func (r *PgRepository) SweepFailed(ctx context.Context, updatedBefore time.Time, maxRetry int, now time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET delivery_status = 'pending',
		    retry_count = retry_count + 1,
		    scheduled_send_time = $3,
		    updated_at = now()
		WHERE delivery_status = 'failed'
		  AND retry_count < $2
		  AND updated_at < $1
	`, updatedBefore, maxRetry, now)
	if err != nil {
		return 0, fmt.Errorf("sweep failed notifications: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PgRepository) SweepStuckQueued(ctx context.Context, updatedBefore time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET delivery_status = 'pending',
		    updated_at = now()
		WHERE delivery_status = 'queued'
		  AND updated_at < $1
	`, updatedBefore)
	if err != nil {
		return 0, fmt.Errorf("sweep stuck queued notifications: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func collectRecords(rows pgx.Rows) ([]Record, error) {
	var result []Record
	for rows.Next() {
		n, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *n)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
