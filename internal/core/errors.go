package core

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by stores, services and the HTTP edge. Backends wrap
// these together with the driver error so both remain inspectable.
var (
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrValidation        = errors.New("validation failed")
	ErrWriteFailure      = errors.New("write failure")
	ErrReadFailure       = errors.New("read failure")
	ErrMissingIdentifier = errors.New("missing identifier")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("concurrent update conflict")
)

// WriteFailure tags a backend error as a write failure for op.
func WriteFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrWriteFailure, err)
}

// ReadFailure tags a backend error as a read failure for op.
func ReadFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrReadFailure, err)
}
