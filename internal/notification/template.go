package notification

import (
	"fmt"
	"regexp"
)

// MessageTemplate is a channel-agnostic template. Subject is used by email;
// SMS and push send the body only.
type MessageTemplate struct {
	Subject string
	Body    string
}

var templates = map[Type]MessageTemplate{
	TypeAppointmentConfirmation: {
		Subject: "Appointment confirmed with {{provider_name}}",
		Body:    "Hi {{patient_name}}, your {{appointment_type}} appointment with {{provider_name}} at {{facility_name}} is confirmed for {{appointment_time}}.",
	},
	TypeAppointmentReminder: {
		Subject: "Upcoming appointment with {{provider_name}}",
		Body:    "Hi {{patient_name}}, this is a reminder of your {{appointment_type}} appointment with {{provider_name}} at {{facility_name}} on {{appointment_time}}.",
	},
	TypeAppointmentRescheduled: {
		Subject: "Appointment rescheduled",
		Body:    "Hi {{patient_name}}, your appointment with {{provider_name}} has been moved to {{appointment_time}} at {{facility_name}}.",
	},
	TypeAppointmentCancelled: {
		Subject: "Appointment cancelled",
		Body:    "Hi {{patient_name}}, your appointment with {{provider_name}} on {{appointment_time}} has been cancelled.",
	},
	TypeMedicationReminder: {
		Subject: "Medication reminder: {{medication_name}}",
		Body:    "Hi {{patient_name}}, it is time to take {{medication_name}} ({{dosage}}).",
	},
}

var placeholderPattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Render selects the template for the type and substitutes {{name}}
// placeholders from data. Placeholders with no value stay verbatim in the
// output: a half-rendered message is easier to debug than a silently blank
// one.
func Render(t Type, data map[string]string) (MessageTemplate, error) {
	tpl, ok := templates[t]
	if !ok {
		return MessageTemplate{}, fmt.Errorf("no template for notification type %q", t)
	}

	return MessageTemplate{
		Subject: interpolate(tpl.Subject, data),
		Body:    interpolate(tpl.Body, data),
	}, nil
}

func interpolate(s string, data map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		if v, ok := data[key]; ok {
			return v
		}
		return match
	})
}
