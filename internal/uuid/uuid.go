// Package uuid provides outbox item identifiers.
// An item ID is a UUID v4 generated once at enqueue time and reused as the
// idempotency key for every upload attempt of that item.
package uuid

import (
	"fmt"
	"regexp"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/kimhsiao/fieldsync/backend/internal/models"
)

// UUID v4 format: xxxxxxxx-xxxx-4xxx-yxxx-xxxxxxxxxxxx
// where y is one of [8, 9, a, b] (variant bits)
var uuidV4Regex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-4[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

// Generator produces item identifiers.
type Generator func() models.UUID

// New generates a new UUID v4 string.
func New() string {
	return uuid.New().String()
}

// NewItemID generates a new outbox item identifier.
func NewItemID() models.UUID {
	return models.UUID(uuid.New().String())
}

// Sequence returns a Generator yielding prefix-1, prefix-2, ... for
// deterministic identifiers in tests and fixtures.
func Sequence(prefix string) Generator {
	var n atomic.Int64
	return func() models.UUID {
		return models.UUID(fmt.Sprintf("%s-%d", prefix, n.Add(1)))
	}
}

// IsValid checks if a string is a valid UUID v4.
// Enforces strict format with dashes and correct variant bits.
func IsValid(s string) bool {
	return uuidV4Regex.MatchString(s)
}

// Validate returns an error if the string is not a valid UUID v4.
func Validate(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("invalid UUID v4 format: %q", s)
	}
	return nil
}
