// Package uuid generates resolution identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator issues time-ordered UUIDv7 values so resolution rows sort by
// creation when listed.
type Generator struct{}

// New creates a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a fresh UUIDv7.
func (Generator) NewID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate uuid7: %w", err)
	}
	return id, nil
}
