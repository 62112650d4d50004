package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/fixlab/internal/fixlab"
)

// ErrNotConfigured is returned by Noop.Launch.
var ErrNotConfigured = errors.New("headless driver not configured")

// Noop implements fixlab.Driver but always fails to launch. It stands in when
// the service runs without a browser, for example in API-only deployments.
type Noop struct{}

// NewNoop creates a new Noop driver.
func NewNoop() *Noop {
	return &Noop{}
}

// Launch always fails.
func (Noop) Launch(_ context.Context) (fixlab.Browser, error) {
	return nil, &fixlab.DriverError{Stage: "launch", Err: ErrNotConfigured}
}
