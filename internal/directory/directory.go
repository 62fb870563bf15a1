package directory

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound    = errors.New("patient not found")
	ErrProviderNotFound   = errors.New("provider not found")
	ErrFacilityNotFound   = errors.New("facility not found")
	ErrMedicationNotFound = errors.New("medication not found")
)

// Patient carries the fields notification rendering and channel selection
// need. Record ownership lives with the patient directory service; this is a
// read-only view.
type Patient struct {
	ID               uuid.UUID
	TenantID         uuid.UUID
	Name             string
	Phone            *string
	Email            *string
	DeviceToken      *string
	Timezone         string
	PreferredChannel *string
	QuietStartHour   *int // recipient-local hour, 0-23
	QuietEndHour     *int // may be below start: window wraps midnight
	OptedOut         bool
}

type Provider struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Name      string
	Specialty *string
}

type Facility struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Name     string
	Timezone string
}

type Medication struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	PatientID uuid.UUID
	Name      string
	Dosage    string
	Frequency string
}

// Store exposes the read-only directory lookups the core consumes. All
// lookups are tenant-scoped; a record under another tenant reports not-found.
type Store interface {
	GetPatient(ctx context.Context, tenantID, id uuid.UUID) (*Patient, error)
	GetProvider(ctx context.Context, tenantID, id uuid.UUID) (*Provider, error)
	GetFacility(ctx context.Context, tenantID, id uuid.UUID) (*Facility, error)
	GetMedication(ctx context.Context, tenantID, id uuid.UUID) (*Medication, error)
}
