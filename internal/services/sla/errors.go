package sla

import (
	"errors"
	"fmt"

	"github.com/tracklane-io/tracklane/internal/models"
)

// NotFoundError reports that a referenced config or instance does not exist
// (or is not visible to the caller). It is surfaced unchanged and never
// retried internally.
type NotFoundError struct {
	Kind string // "config" or "instance"
	Ref  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("sla %s %q not found", e.Kind, e.Ref)
}

// ValidationError reports a failed state-transition precondition. Repeated
// occurrences indicate a caller bug or a race the store guard should have
// prevented, not routine flow.
type ValidationError struct {
	Op     string
	Ref    string
	Status models.SLAStatus // status that blocked the transition
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("sla %s %q: %s (status %s)", e.Op, e.Ref, e.Reason, e.Status)
	}
	return fmt.Sprintf("sla %s %q: %s", e.Op, e.Ref, e.Reason)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
