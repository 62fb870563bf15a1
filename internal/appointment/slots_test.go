package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/scheduling-service/internal/audit"
)

func newTestSlotFinder(repo *fakeRepo, now time.Time) *SlotFinder {
	sf := NewSlotFinder(repo)
	sf.now = func() time.Time { return now }
	return sf
}

func TestFindSlotsCutsRuleWindow(t *testing.T) {
	repo := newFakeRepo()
	tenantID := uuid.New()
	providerID := uuid.New()
	facilityID := uuid.New()

	// Monday 09:00-11:00 at the 30-minute grid.
	repo.rules = []AvailabilityRule{{
		ID:                  uuid.New(),
		TenantID:            tenantID,
		ProviderID:          providerID,
		FacilityID:          facilityID,
		DayOfWeek:           1,
		StartMinute:         9 * 60,
		EndMinute:           11 * 60,
		SlotDurationMinutes: 30,
		Active:              true,
		EffectiveFrom:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) // Sunday
	sf := newTestSlotFinder(repo, now)

	monday := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	slots, err := sf.FindSlots(context.Background(), tenantID, SlotFilter{
		StartDate: monday,
		EndDate:   monday,
	})
	require.NoError(t, err)

	require.Len(t, slots, 4)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), slots[0].Start)
	assert.Equal(t, time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC), slots[3].Start)
	for i := 1; i < len(slots); i++ {
		assert.True(t, slots[i].Start.After(slots[i-1].Start), "slots must be chronological")
	}
	for _, s := range slots {
		assert.Equal(t, providerID, s.ProviderID)
		assert.Equal(t, 30, s.DurationMinutes)
	}
}

func TestFindSlotsExcludesBookedIntervals(t *testing.T) {
	repo := newFakeRepo()
	tenantID := uuid.New()
	providerID := uuid.New()

	repo.rules = []AvailabilityRule{{
		ID:                  uuid.New(),
		TenantID:            tenantID,
		ProviderID:          providerID,
		FacilityID:          uuid.New(),
		DayOfWeek:           1,
		StartMinute:         9 * 60,
		EndMinute:           11 * 60,
		SlotDurationMinutes: 30,
		Active:              true,
		EffectiveFrom:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}}

	// 09:30-10:00 is taken.
	booked := &Appointment{
		ID:             uuid.New(),
		TenantID:       tenantID,
		ProviderID:     providerID,
		Status:         StatusScheduled,
		ScheduledStart: time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
		ScheduledEnd:   time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
	repo.appts[booked.ID] = booked

	// A cancelled appointment over 10:00-10:30 must not block the slot.
	cancelled := &Appointment{
		ID:             uuid.New(),
		TenantID:       tenantID,
		ProviderID:     providerID,
		Status:         StatusCancelled,
		ScheduledStart: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		ScheduledEnd:   time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC),
	}
	repo.appts[cancelled.ID] = cancelled

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sf := newTestSlotFinder(repo, now)

	monday := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	slots, err := sf.FindSlots(context.Background(), tenantID, SlotFilter{
		StartDate: monday,
		EndDate:   monday,
	})
	require.NoError(t, err)

	starts := make([]time.Time, len(slots))
	for i, s := range slots {
		starts[i] = s.Start
	}
	assert.Equal(t, []time.Time{
		time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC),
	}, starts)
}

func TestFindSlotsOnlyFuture(t *testing.T) {
	repo := newFakeRepo()
	tenantID := uuid.New()

	repo.rules = []AvailabilityRule{{
		ID:                  uuid.New(),
		TenantID:            tenantID,
		ProviderID:          uuid.New(),
		FacilityID:          uuid.New(),
		DayOfWeek:           1,
		StartMinute:         9 * 60,
		EndMinute:           11 * 60,
		SlotDurationMinutes: 30,
		Active:              true,
		EffectiveFrom:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}}

	// Mid-window on that Monday: the 09:00 and 09:30 slots are gone, 09:45
	// cuts the 09:30 slot too since it already started.
	now := time.Date(2026, 3, 2, 9, 45, 0, 0, time.UTC)
	sf := newTestSlotFinder(repo, now)

	monday := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	slots, err := sf.FindSlots(context.Background(), tenantID, SlotFilter{
		StartDate: monday,
		EndDate:   monday,
	})
	require.NoError(t, err)

	require.Len(t, slots, 2)
	assert.Equal(t, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC), slots[0].Start)
	assert.Equal(t, time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC), slots[1].Start)
}

func TestFindSlotsFilters(t *testing.T) {
	repo := newFakeRepo()
	tenantID := uuid.New()
	providerA := uuid.New()
	providerB := uuid.New()

	rule := func(provider uuid.UUID) AvailabilityRule {
		return AvailabilityRule{
			ID:                  uuid.New(),
			TenantID:            tenantID,
			ProviderID:          provider,
			FacilityID:          uuid.New(),
			DayOfWeek:           1,
			StartMinute:         9 * 60,
			EndMinute:           10 * 60,
			SlotDurationMinutes: 30,
			Active:              true,
			EffectiveFrom:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		}
	}
	repo.rules = []AvailabilityRule{rule(providerA), rule(providerB)}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sf := newTestSlotFinder(repo, now)
	monday := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	all, err := sf.FindSlots(context.Background(), tenantID, SlotFilter{StartDate: monday, EndDate: monday})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	only, err := sf.FindSlots(context.Background(), tenantID, SlotFilter{
		ProviderID: &providerA,
		StartDate:  monday,
		EndDate:    monday,
	})
	require.NoError(t, err)
	require.Len(t, only, 2)
	for _, s := range only {
		assert.Equal(t, providerA, s.ProviderID)
	}

	_, err = sf.FindSlots(context.Background(), tenantID, SlotFilter{
		StartDate: monday,
		EndDate:   monday.Add(-48 * time.Hour),
	})
	assert.Error(t, err)
}

// Every slot the finder returns must be bookable: walking the full result
// and booking each one in turn may never hit a conflict.
func TestFindSlotsAllBookable(t *testing.T) {
	repo := newFakeRepo()
	tenantID := uuid.New()
	providerID := uuid.New()
	facilityID := uuid.New()

	repo.rules = []AvailabilityRule{{
		ID:                  uuid.New(),
		TenantID:            tenantID,
		ProviderID:          providerID,
		FacilityID:          facilityID,
		DayOfWeek:           1,
		StartMinute:         9 * 60,
		EndMinute:           12 * 60,
		SlotDurationMinutes: 30,
		Active:              true,
		EffectiveFrom:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	monday := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	sf := newTestSlotFinder(repo, now)

	svc := NewService(repo, passLocker{}, &recordingPlanner{}, audit.Nop{}, testLogger())

	// 10:00-10:30 is already taken; the finder must route around it.
	_, err := svc.Create(context.Background(), tenantID, CreateInput{
		PatientID:       uuid.New(),
		ProviderID:      providerID,
		FacilityID:      facilityID,
		Type:            "consultation",
		Start:           time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		DurationMinutes: 30,
	})
	require.NoError(t, err)

	slots, err := sf.FindSlots(context.Background(), tenantID, SlotFilter{
		ProviderID: &providerID,
		StartDate:  monday,
		EndDate:    monday,
	})
	require.NoError(t, err)
	require.Len(t, slots, 5)

	for _, slot := range slots {
		_, err := svc.Create(context.Background(), tenantID, CreateInput{
			PatientID:       uuid.New(),
			ProviderID:      slot.ProviderID,
			FacilityID:      slot.FacilityID,
			Type:            "consultation",
			Start:           slot.Start,
			DurationMinutes: slot.DurationMinutes,
		})
		assert.NoError(t, err, "slot %s must book cleanly", slot.Start)
	}

	// With the grid fully booked there is nothing left to offer.
	remaining, err := sf.FindSlots(context.Background(), tenantID, SlotFilter{
		ProviderID: &providerID,
		StartDate:  monday,
		EndDate:    monday,
	})
	require.NoError(t, err)
	assert.Empty(t, remaining)
}
