package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrNotReady        = errors.New("not ready")
	ErrNoCompletedJobs = errors.New("no completed jobs")
	ErrConflict        = errors.New("conflict")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrTemporary       = errors.New("temporary failure")

	// Conversion failures. These end up on the job record, not in a response.
	ErrMissingCredential = errors.New("missing credential")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrEngine            = errors.New("engine error")
	ErrTimeout           = errors.New("timeout")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
