package query

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownField a path segment does not exist on the model it was
	// resolved against
	ErrUnknownField = errors.New("unknown field")
	// ErrTypeMismatch an operator is incompatible with the resolved field
	ErrTypeMismatch = errors.New("operator type mismatch")
)

// UnknownFieldError reports the exact path segment that failed to resolve
// and the model it was resolved against
type UnknownFieldError struct {
	Model   string
	Segment string
	Path    string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown field or relation %q on model %s in path %q", e.Segment, e.Model, e.Path)
}

func (e *UnknownFieldError) Is(target error) bool { return target == ErrUnknownField }

// TypeMismatchError reports an operator applied to a field of an
// incompatible type
type TypeMismatchError struct {
	Path   string
	Op     Operator
	Reason string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("cannot apply %s to %q: %s", e.Op, e.Path, e.Reason)
}

func (e *TypeMismatchError) Is(target error) bool { return target == ErrTypeMismatch }
