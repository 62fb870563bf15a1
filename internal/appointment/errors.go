package appointment

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound     = errors.New("appointment not found")
	ErrSeriesNotFound          = errors.New("appointment series not found")
	ErrProviderNotFound        = errors.New("provider not found")
	ErrPatientNotFound         = errors.New("patient not found")
	ErrConflict                = errors.New("appointment time conflict")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrProviderBusy            = errors.New("provider calendar is being modified, please retry")
)

// ConflictError names the appointment already occupying the interval so the
// caller can offer alternatives.
type ConflictError struct {
	ConflictingID uuid.UUID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("requested time overlaps appointment %s", e.ConflictingID)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// ValidationError carries field-level detail for malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// TransitionError reports an illegal status transition attempt.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition appointment from %q to %q", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidStatusTransition
}
