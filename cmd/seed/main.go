package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebridge/scheduling-service/internal/db"
)

var timezones = []string{
	"America/New_York",
	"America/Chicago",
	"America/Denver",
	"America/Los_Angeles",
	"Europe/London",
}

var frequencies = []string{
	"once-daily",
	"twice-daily",
	"three-times-daily",
	"four-times-daily",
	"at-bedtime",
	"with-meals",
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	for i := 0; i < 3; i++ {
		tenantID := uuid.New()
		if err := seedTenant(context.Background(), pool, tenantID); err != nil {
			log.Fatalf("seed tenant: %v", err)
		}
		log.Printf("tenant seeded: %s", tenantID)
	}

	log.Println("seed complete")
}

func seedTenant(ctx context.Context, pool *pgxpool.Pool, tenantID uuid.UUID) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO tenants (id, name) VALUES ($1, $2)
	`, tenantID, gofakeit.Company()+" Health"); err != nil {
		return err
	}

	facilityIDs, err := seedFacilities(ctx, tx, tenantID, 3)
	if err != nil {
		return err
	}
	providerIDs, err := seedProviders(ctx, tx, tenantID, 20)
	if err != nil {
		return err
	}
	patientIDs, err := seedPatients(ctx, tx, tenantID, 500)
	if err != nil {
		return err
	}
	if err := seedAvailabilityRules(ctx, tx, tenantID, providerIDs, facilityIDs); err != nil {
		return err
	}
	if err := seedMedications(ctx, tx, tenantID, patientIDs); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func seedFacilities(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, count int) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		_, err := tx.Exec(ctx, `
			INSERT INTO facilities (id, tenant_id, name, timezone)
			VALUES ($1, $2, $3, $4)
		`, id, tenantID, gofakeit.City()+" Clinic", pick(timezones))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func seedProviders(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, count int) ([]uuid.UUID, error) {
	specialties := []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
	}

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		_, err := tx.Exec(ctx, `
			INSERT INTO providers (id, tenant_id, name, specialty)
			VALUES ($1, $2, $3, $4)
		`, id, tenantID, "Dr. "+gofakeit.Name(), pick(specialties))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func seedPatients(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, count int) ([]uuid.UUID, error) {
	channels := []string{"sms", "email", "push"}

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()

		var quietStart, quietEnd *int
		if gofakeit.Bool() {
			qs := 21 + gofakeit.Number(0, 2) // 21-23
			qe := 6 + gofakeit.Number(0, 2)  // 06-08
			quietStart, quietEnd = &qs, &qe
		}

		channel := pick(channels)

		_, err := tx.Exec(ctx, `
			INSERT INTO patients (
				id, tenant_id, name, phone, email, device_token, timezone,
				preferred_channel, quiet_start_hour, quiet_end_hour, opted_out
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, id, tenantID, gofakeit.Name(), gofakeit.Phone(), gofakeit.Email(),
			gofakeit.UUID(), pick(timezones), channel, quietStart, quietEnd,
			gofakeit.Number(0, 99) < 2) // ~2% opted out
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// seedAvailabilityRules gives every provider a weekday 09:00-17:00 window at
// the 30-minute grid, out of their first facility.
func seedAvailabilityRules(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, providerIDs, facilityIDs []uuid.UUID) error {
	effectiveFrom := time.Now().AddDate(0, -1, 0)

	for _, providerID := range providerIDs {
		facilityID := facilityIDs[gofakeit.Number(0, len(facilityIDs)-1)]
		for dow := 1; dow <= 5; dow++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO availability_rules (
					id, tenant_id, provider_id, facility_id, day_of_week,
					start_minute, end_minute, slot_duration_minutes, active, effective_from
				)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, true, $9)
			`, uuid.New(), tenantID, providerID, facilityID, dow,
				9*60, 17*60, 30, effectiveFrom)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func seedMedications(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, patientIDs []uuid.UUID) error {
	for _, patientID := range patientIDs {
		if gofakeit.Number(0, 99) >= 30 { // ~30% of patients carry one
			continue
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO medications (id, tenant_id, patient_id, name, dosage, frequency)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, uuid.New(), tenantID, patientID,
			medicationName(), fmt.Sprintf("%dmg", gofakeit.Number(1, 4)*25), pick(frequencies))
		if err != nil {
			return err
		}
	}
	return nil
}

func medicationName() string {
	names := []string{
		"Lisinopril", "Metformin", "Atorvastatin", "Levothyroxine",
		"Amlodipine", "Omeprazole", "Sertraline", "Albuterol",
	}
	return pick(names)
}

func pick(options []string) string {
	return options[gofakeit.Number(0, len(options)-1)]
}
