package consolidation

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks an event that can never be applied. Not retried.
	ErrValidation = errors.New("consolidation validation")
	// ErrConflict marks a failed optimistic write. Retried locally.
	ErrConflict = errors.New("consolidation conflict")
	// ErrInfrastructure marks a storage failure. Left to bus redelivery.
	ErrInfrastructure = errors.New("consolidation infrastructure")
	// ErrExhaustedRetries wraps the last conflict once the local attempts are used up.
	ErrExhaustedRetries = errors.New("consolidation retries exhausted")
)

func validationError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrValidation, err)
}

func infrastructureError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrInfrastructure, err)
}

// Status names the error class for logs and hooks.
func Status(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrExhaustedRetries):
		return "exhausted"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInfrastructure):
		return "infrastructure"
	default:
		return "failure"
	}
}
