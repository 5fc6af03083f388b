// Package uuid provides unit tests for item identifier generation.
package uuid

import (
	"testing"
)

// TestNewItemID tests that generated item IDs are valid UUID v4 strings.
func TestNewItemID(t *testing.T) {
	id := NewItemID()

	if id == "" {
		t.Fatal("Expected non-empty item ID")
	}
	if !IsValid(string(id)) {
		t.Errorf("Generated ID does not match v4 format: %s", id)
	}
}

// TestNewItemIDUniqueness tests that generated IDs do not repeat.
func TestNewItemIDUniqueness(t *testing.T) {
	ids := make(map[string]bool)

	for i := 0; i < 1000; i++ {
		id := New()
		if ids[id] {
			t.Errorf("Duplicate UUID generated: %s", id)
		}
		ids[id] = true
	}
}

// TestSequence tests the deterministic generator.
func TestSequence(t *testing.T) {
	gen := Sequence("item")

	if got := gen(); got != "item-1" {
		t.Errorf("first id = %s, want item-1", got)
	}
	if got := gen(); got != "item-2" {
		t.Errorf("second id = %s, want item-2", got)
	}
}

// TestIsValid tests valid and invalid UUID v4 strings.
func TestIsValid(t *testing.T) {
	tests := []struct {
		name string
		uuid string
		want bool
	}{
		{"valid UUID v4", "f47ac10b-58cc-4372-a567-0e02b2c3d479", true},
		{"uppercase", "F47AC10B-58CC-4372-A567-0E02B2C3D479", true},
		{"version 1", "f47ac10b-58cc-1372-a567-0e02b2c3d479", false},
		{"bad variant", "f47ac10b-58cc-4372-c567-0e02b2c3d479", false},
		{"no dashes", "f47ac10b58cc4372a5670e02b2c3d479", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValid(tt.uuid); got != tt.want {
				t.Errorf("IsValid(%q) = %v, want %v", tt.uuid, got, tt.want)
			}
			if err := Validate(tt.uuid); (err == nil) != tt.want {
				t.Errorf("Validate(%q) err = %v", tt.uuid, err)
			}
		})
	}
}
