package relmap

import (
	"errors"
	"fmt"

	"github.com/relmap/relmap/logger"
)

var (
	// ErrRecordNotFound a single-record fetch matched zero rows
	ErrRecordNotFound = logger.ErrRecordNotFound
	// ErrMultipleRecords a single-record fetch matched more than one row
	ErrMultipleRecords = errors.New("multiple records returned for single-record fetch")
	// ErrDeleteProtected a protected dependent blocked a delete
	ErrDeleteProtected = errors.New("delete blocked by protected dependent")
	// ErrIntegrity the storage backend rejected a uniqueness constraint
	ErrIntegrity = errors.New("integrity constraint violation")
	// ErrThroughRequired the relation uses a through model; create or delete
	// through records explicitly instead of add/remove/set
	ErrThroughRequired = errors.New("relation uses a through model; manage through records explicitly")
	// ErrUnsupportedRelation the operation does not apply to this relation kind
	ErrUnsupportedRelation = errors.New("unsupported relation")
	// ErrUnknownModel the model name is not registered
	ErrUnknownModel = errors.New("model not registered")
	// ErrEvaluating a QuerySet was re-entered while evaluating
	ErrEvaluating = errors.New("queryset is already evaluating")
)

// DeleteProtectedError reports the dependent relation that blocked a cascade
type DeleteProtectedError struct {
	Model       string
	PK          int64
	ProtectedBy string
}

func (e *DeleteProtectedError) Error() string {
	return fmt.Sprintf("cannot delete %s(%d): protected by %s", e.Model, e.PK, e.ProtectedBy)
}

func (e *DeleteProtectedError) Is(target error) bool { return target == ErrDeleteProtected }

// IntegrityError wraps a uniqueness violation reported by the backend
type IntegrityError struct {
	Table string
	Err   error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation on %s: %v", e.Table, e.Err)
}

func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }

func (e *IntegrityError) Unwrap() error { return e.Err }
