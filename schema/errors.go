package schema

import (
	"errors"
	"fmt"
)

var (
	// ErrDefinition invalid schema definition
	ErrDefinition = errors.New("invalid definition")
	// ErrDuplicateModel model name registered twice with different definitions
	ErrDuplicateModel = errors.New("duplicate model")
)

// DefinitionError reports an invalid model, field or relation definition,
// detected at registration time
type DefinitionError struct {
	Model  string
	Reason string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("invalid definition for model %s: %s", e.Model, e.Reason)
}

func (e *DefinitionError) Is(target error) bool { return target == ErrDefinition }

func definitionErr(model, format string, args ...interface{}) error {
	return &DefinitionError{Model: model, Reason: fmt.Sprintf(format, args...)}
}

// DuplicateModelError reports re-registration of a model name with a
// definition that differs from the registered one
type DuplicateModelError struct {
	Model string
}

func (e *DuplicateModelError) Error() string {
	return fmt.Sprintf("model %s already registered with a different definition", e.Model)
}

func (e *DuplicateModelError) Is(target error) bool { return target == ErrDuplicateModel }
