// Package uuid provides session ID generation helpers.
package uuid

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// SessionPrefix marks every audit session id.
const SessionPrefix = "cufl_"

// Generator creates time-ordered session IDs from UUIDv7 values.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns "cufl_" followed by the 32 hex digits of a UUIDv7.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return SessionPrefix + hex.EncodeToString(id[:]), nil
}

// NewRequestID returns a random UUIDv4 string for correlating HTTP requests.
func NewRequestID() string {
	return uuid.NewString()
}
