// Package driver defines the storage collaborator contract. The mapping core
// compiles every query into a FetchSpec and every write into a Mutation; it
// is agnostic to whether the backend is a relational database, an in-memory
// table set or a remote service.
package driver

import (
	"context"
	"errors"

	"github.com/relmap/relmap/query"
)

// ErrUniqueViolation returned by backends when a mutation breaks a declared
// unique constraint
var ErrUniqueViolation = errors.New("unique constraint violation")

// Row one fetched row; keys are alias-qualified column names ("t0.id")
type Row map[string]interface{}

// ColumnRef an alias-qualified column reference
type ColumnRef struct {
	Alias string
	Name  string
}

func (c ColumnRef) String() string { return c.Alias + "." + c.Name }

// JoinKind join semantics
type JoinKind string

const (
	InnerJoin JoinKind = "inner"
	LeftJoin  JoinKind = "left"
)

// Join one relational hop merged into a fetch
type Join struct {
	Kind    JoinKind
	Table   string
	Alias   string
	OnLeft  ColumnRef // column on an already-joined alias
	OnRight string    // column in the joined table
}

// Ordering one sort key
type Ordering struct {
	Column ColumnRef
	Desc   bool
}

// Predicate node of a compiled condition tree over alias-qualified columns
type Predicate interface {
	isPred()
}

// Cond atomic compiled condition
type Cond struct {
	Column ColumnRef
	Op     query.Operator
	Value  interface{}
}

// And conjunction
type And struct{ Preds []Predicate }

// Or disjunction
type Or struct{ Preds []Predicate }

// Not negation
type Not struct{ Pred Predicate }

func (Cond) isPred() {}
func (And) isPred()  {}
func (Or) isPred()   {}
func (Not) isPred()  {}

// FetchSpec a complete retrieval description: base table, merged joins,
// condition tree, ordering, pagination, projection
type FetchSpec struct {
	Table string
	Alias string

	Joins []Join
	Where Predicate // nil selects all rows

	Order  []Ordering
	Limit  int // < 0 means no limit
	Offset int

	// Columns projection; empty fetches every column of every alias
	Columns []ColumnRef

	// Distinct deduplicates projected rows
	Distinct bool
}

// MutationKind write operation kind
type MutationKind string

const (
	Insert MutationKind = "insert"
	Update MutationKind = "update"
	Delete MutationKind = "delete"
)

// Mutation a single-table write. Where uses the table's own columns under
// alias "t0". Unique lists column sets the backend must keep unique; nulls
// are exempt, matching SQL NULL semantics.
type Mutation struct {
	Kind   MutationKind
	Table  string
	Values map[string]interface{}
	Where  Predicate
	Unique [][]string
}

// Result outcome of a mutation
type Result struct {
	RowsAffected int64
	LastInsertID int64
}

// Backend the storage collaborator. Fetch and Exec honor ctx cancellation.
type Backend interface {
	Fetch(ctx context.Context, spec *FetchSpec) ([]Row, error)
	Exec(ctx context.Context, mutation *Mutation) (Result, error)
	Begin(ctx context.Context) (Tx, error)
}

// Tx a transactional view of the backend; either Commit or Rollback must be
// called exactly once
type Tx interface {
	Backend
	Commit() error
	Rollback() error
}

// TableCreator optionally implemented by backends that can provision tables
type TableCreator interface {
	EnsureTable(name string, unique [][]string) error
}
