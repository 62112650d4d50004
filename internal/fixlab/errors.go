package fixlab

import (
	"errors"
	"fmt"
)

// Error kinds. Wrap them with fmt.Errorf("...: %w", Err...) and test with errors.Is.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrDriver       = errors.New("driver failure")
	ErrStore        = errors.New("store failure")
)

// InvalidInput returns an ErrInvalidInput carrying msg.
func InvalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// DriverError records which page stage failed.
type DriverError struct {
	URL   string
	Stage string
	Err   error
}

func (e *DriverError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Stage, e.URL, e.Err)
}

// Unwrap lets errors.Is match both ErrDriver and the cause.
func (e *DriverError) Unwrap() []error {
	return []error{ErrDriver, e.Err}
}

// StoreError wraps a persistence failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap lets errors.Is match both ErrStore and the cause.
func (e *StoreError) Unwrap() []error {
	return []error{ErrStore, e.Err}
}
