package model

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"3f1c2a9e-1b2c-4d5e-8f90-123456789abc", true},
		{"abc_DEF-123", true},
		{"", false},
		{"../etc/passwd", false},
		{"a/b", false},
		{"has space", false},
		{"dot.json", false},
		{strings.Repeat("a", 129), false},
	}

	for _, tt := range tests {
		err := ValidateID(tt.id)
		if tt.valid && err != nil {
			t.Errorf("ValidateID(%q) unexpected error: %v", tt.id, err)
		}
		if !tt.valid && !errors.Is(err, ErrInvalidIdentifier) {
			t.Errorf("ValidateID(%q) expected ErrInvalidIdentifier, got %v", tt.id, err)
		}
	}
}
