package appointment

import (
	"time"
)

// AppliesOn reports whether the rule produces windows on the given calendar
// date: the weekday matches and the date falls inside the effective range.
func (r AvailabilityRule) AppliesOn(date time.Time) bool {
	if !r.Active {
		return false
	}
	if int(date.Weekday()) != r.DayOfWeek {
		return false
	}

	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	if day.Before(truncateToDay(r.EffectiveFrom)) {
		return false
	}
	if r.EffectiveUntil != nil && day.After(truncateToDay(*r.EffectiveUntil)) {
		return false
	}
	return true
}

// WindowOn anchors the rule's clock-time window onto a concrete date.
func (r AvailabilityRule) WindowOn(date time.Time) (start, end time.Time) {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	start = day.Add(time.Duration(r.StartMinute) * time.Minute)
	end = day.Add(time.Duration(r.EndMinute) * time.Minute)
	return start, end
}

// Validate enforces the rule invariants: weekday range, positive slot
// duration, end after start.
func (r AvailabilityRule) Validate() error {
	if r.DayOfWeek < 0 || r.DayOfWeek > 6 {
		return &ValidationError{Field: "day_of_week", Message: "must be between 0 and 6"}
	}
	if r.SlotDurationMinutes <= 0 {
		return &ValidationError{Field: "slot_duration_minutes", Message: "must be positive"}
	}
	if r.EndMinute <= r.StartMinute {
		return &ValidationError{Field: "end_minute", Message: "must be after start_minute"}
	}
	return nil
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
