package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SlotFilter narrows a free-slot search. StartDate and EndDate are
// inclusive calendar bounds; the other fields are optional.
type SlotFilter struct {
	ProviderID      *uuid.UUID
	FacilityID      *uuid.UUID
	AppointmentType string
	StartDate       time.Time
	EndDate         time.Time
}

// SlotFinder projects free bookable slots from availability rules minus the
// live appointments already on the calendar. The projection is read-only and
// may be stale by the time a client books; the booking path re-validates.
type SlotFinder struct {
	repo Repository
	now  func() time.Time
}

func NewSlotFinder(repo Repository) *SlotFinder {
	return &SlotFinder{
		repo: repo,
		now:  time.Now,
	}
}

// FindSlots walks each calendar day in the filter range, resolves the rules
// applying on that day, and cuts each rule's window into slot-duration
// pieces. A slot survives if it starts in the future and does not overlap a
// live appointment for its provider (half-open test). Output is
// chronological per provider/day.
func (sf *SlotFinder) FindSlots(ctx context.Context, tenantID uuid.UUID, f SlotFilter) ([]Slot, error) {
	if f.EndDate.Before(f.StartDate) {
		return nil, &ValidationError{Field: "end_date", Message: "must not be before start_date"}
	}

	rangeStart := truncateToDay(f.StartDate)
	rangeEnd := truncateToDay(f.EndDate).Add(24 * time.Hour)

	rules, err := sf.repo.ListActiveRules(ctx, tenantID, RuleFilter{
		ProviderID: f.ProviderID,
		FacilityID: f.FacilityID,
	}, rangeStart, rangeEnd)
	if err != nil {
		return nil, fmt.Errorf("list availability rules: %w", err)
	}
	if len(rules) == 0 {
		return nil, nil
	}

	providerSet := make(map[uuid.UUID]struct{})
	for _, r := range rules {
		providerSet[r.ProviderID] = struct{}{}
	}
	providerIDs := make([]uuid.UUID, 0, len(providerSet))
	for id := range providerSet {
		providerIDs = append(providerIDs, id)
	}

	booked, err := sf.repo.ListLive(ctx, tenantID, providerIDs, rangeStart, rangeEnd)
	if err != nil {
		return nil, fmt.Errorf("list live appointments: %w", err)
	}

	bookedByProvider := make(map[uuid.UUID][]Appointment)
	for _, a := range booked {
		bookedByProvider[a.ProviderID] = append(bookedByProvider[a.ProviderID], a)
	}

	now := sf.now()

	var slots []Slot
	for day := rangeStart; day.Before(rangeEnd); day = day.Add(24 * time.Hour) {
		for _, rule := range rules {
			if !rule.AppliesOn(day) {
				continue
			}

			windowStart, windowEnd := rule.WindowOn(day)
			step := time.Duration(rule.SlotDurationMinutes) * time.Minute

			for start := windowStart; !start.Add(step).After(windowEnd); start = start.Add(step) {
				end := start.Add(step)

				if !start.After(now) {
					continue
				}
				if overlapsAny(start, end, bookedByProvider[rule.ProviderID]) {
					continue
				}

				slots = append(slots, Slot{
					ProviderID:      rule.ProviderID,
					FacilityID:      rule.FacilityID,
					Start:           start,
					End:             end,
					DurationMinutes: rule.SlotDurationMinutes,
				})
			}
		}
	}

	return slots, nil
}

func overlapsAny(start, end time.Time, appts []Appointment) bool {
	for _, a := range appts {
		if overlaps(start, end, a.ScheduledStart, a.ScheduledEnd) {
			return true
		}
	}
	return false
}
