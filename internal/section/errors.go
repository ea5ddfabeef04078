package section

import (
	"errors"
	"fmt"
)

var ErrInvariant = errors.New("section invariant violated")

// InvariantError reports a mutation that would break the ordering or identity
// rules of the collection. The store is left untouched when one is returned.
type InvariantError struct {
	Op     string
	Reason string
}

func (e *InvariantError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *InvariantError) Is(target error) bool {
	return target == ErrInvariant
}

func invariantError(op, format string, args ...any) *InvariantError {
	return &InvariantError{Op: op, Reason: fmt.Sprintf(format, args...)}
}
