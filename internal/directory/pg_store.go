package directory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) GetPatient(ctx context.Context, tenantID, id uuid.UUID) (*Patient, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, phone, email, device_token, timezone,
		       preferred_channel, quiet_start_hour, quiet_end_hour, opted_out
		FROM patients
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)

	var p Patient
	err := row.Scan(
		&p.ID,
		&p.TenantID,
		&p.Name,
		&p.Phone,
		&p.Email,
		&p.DeviceToken,
		&p.Timezone,
		&p.PreferredChannel,
		&p.QuietStartHour,
		&p.QuietEndHour,
		&p.OptedOut,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	return &p, nil
}

func (s *PgStore) GetProvider(ctx context.Context, tenantID, id uuid.UUID) (*Provider, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, specialty
		FROM providers
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)

	var p Provider
	err := row.Scan(&p.ID, &p.TenantID, &p.Name, &p.Specialty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}

	return &p, nil
}

func (s *PgStore) GetFacility(ctx context.Context, tenantID, id uuid.UUID) (*Facility, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, timezone
		FROM facilities
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)

	var f Facility
	err := row.Scan(&f.ID, &f.TenantID, &f.Name, &f.Timezone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFacilityNotFound
		}
		return nil, err
	}

	return &f, nil
}

func (s *PgStore) GetMedication(ctx context.Context, tenantID, id uuid.UUID) (*Medication, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, patient_id, name, dosage, frequency
		FROM medications
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)

	var m Medication
	err := row.Scan(&m.ID, &m.TenantID, &m.PatientID, &m.Name, &m.Dosage, &m.Frequency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMedicationNotFound
		}
		return nil, err
	}

	return &m, nil
}
