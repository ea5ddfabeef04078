package editor

import (
	"errors"
	"fmt"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrSectionNotFound = errors.New("section not found")
	ErrNotLoaded       = errors.New("project not loaded")
)

// ValidationError rejects input before any remote call is made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func notFound(sectionID int64) error {
	return fmt.Errorf("%w: %d", ErrSectionNotFound, sectionID)
}
