package notification

// ReminderTime is a clock time in the recipient's local day.
type ReminderTime struct {
	Hour   int
	Minute int
}

// frequencyTimes maps a medication frequency to its daily reminder times.
// This is an explicit lookup, not a natural-language parser; anything not
// listed falls back to a single morning reminder.
var frequencyTimes = map[string][]ReminderTime{
	"once-daily":        {{Hour: 9}},
	"twice-daily":       {{Hour: 9}, {Hour: 21}},
	"three-times-daily": {{Hour: 8}, {Hour: 14}, {Hour: 20}},
	"four-times-daily":  {{Hour: 8}, {Hour: 12}, {Hour: 16}, {Hour: 20}},
	"at-bedtime":        {{Hour: 21}},
	"with-meals":        {{Hour: 8}, {Hour: 13}, {Hour: 19}},
}

var defaultReminderTimes = []ReminderTime{{Hour: 9}}

// TimesForFrequency returns the reminder clock times for a frequency key,
// defaulting to one 09:00 reminder for unrecognized values.
func TimesForFrequency(frequency string) []ReminderTime {
	if times, ok := frequencyTimes[frequency]; ok {
		return times
	}
	return defaultReminderTimes
}
