package appointment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func weekdayRule(dow int) AvailabilityRule {
	return AvailabilityRule{
		DayOfWeek:           dow,
		StartMinute:         9 * 60,
		EndMinute:           17 * 60,
		SlotDurationMinutes: 30,
		Active:              true,
		EffectiveFrom:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestRuleAppliesOn(t *testing.T) {
	rule := weekdayRule(1) // Mondays

	monday := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	tuesday := monday.Add(24 * time.Hour)

	assert.True(t, rule.AppliesOn(monday))
	assert.False(t, rule.AppliesOn(tuesday))

	// Before the effective range.
	earlier := time.Date(2025, 12, 29, 0, 0, 0, 0, time.UTC) // also a Monday
	assert.False(t, rule.AppliesOn(earlier))

	// After effective_until.
	until := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	rule.EffectiveUntil = &until
	assert.False(t, rule.AppliesOn(monday))

	rule.EffectiveUntil = nil
	rule.Active = false
	assert.False(t, rule.AppliesOn(monday))
}

func TestRuleWindowOn(t *testing.T) {
	rule := weekdayRule(1)
	day := time.Date(2026, 3, 2, 13, 45, 0, 0, time.UTC) // time-of-day is ignored

	start, end := rule.WindowOn(day)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC), end)
}

func TestRuleValidate(t *testing.T) {
	assert.NoError(t, weekdayRule(0).Validate())
	assert.NoError(t, weekdayRule(6).Validate())

	bad := weekdayRule(7)
	assert.Error(t, bad.Validate())

	bad = weekdayRule(1)
	bad.SlotDurationMinutes = 0
	assert.Error(t, bad.Validate())

	bad = weekdayRule(1)
	bad.EndMinute = bad.StartMinute
	assert.Error(t, bad.Validate())
}
