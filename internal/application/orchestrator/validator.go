package orchestrator

import (
	"fmt"

	"github.com/aescanero/cellvert/pkg/domain"
)

// Validator validates host documents
type Validator struct{}

// NewValidator creates a new document validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks that a unit list is usable as a replay sequence
func (v *Validator) Validate(units []domain.Unit) error {
	seen := make(map[string]bool, len(units))
	for i, u := range units {
		if err := v.validateUnit(u); err != nil {
			return fmt.Errorf("invalid unit at position %d: %w", i, err)
		}

		if seen[u.ID] {
			return fmt.Errorf("duplicate unit ID: %s", u.ID)
		}
		seen[u.ID] = true
	}

	return nil
}

// validateUnit validates a single unit
func (v *Validator) validateUnit(u domain.Unit) error {
	if u.ID == "" {
		return fmt.Errorf("unit ID is required")
	}

	switch u.Kind {
	case domain.UnitKindCode, domain.UnitKindMarkdown, domain.UnitKindRaw:
		return nil
	default:
		return fmt.Errorf("unknown unit kind %q", u.Kind)
	}
}
