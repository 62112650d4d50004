// Package system provides a real clock implementation.
package system

import "time"

// Clock implements fixlab.Clock using time.Now at second precision, matching
// the timestamps the session store writes.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time truncated to the second.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
