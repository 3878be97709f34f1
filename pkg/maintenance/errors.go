package maintenance

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks. The typed errors below match them.
var (
	ErrInvalid  = errors.New("invalid maintenance data")
	ErrNotFound = errors.New("not found")
)

// ValidationError reports malformed machine or interval data.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is makes ValidationError match ErrInvalid.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

// NotFoundError reports a lookup miss, e.g. resetting an interval that does
// not exist or is disabled.
type NotFoundError struct {
	Kind string // "machine", "interval"
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

// Is makes NotFoundError match ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
