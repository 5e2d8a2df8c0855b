package query

import (
	"strings"

	"github.com/relmap/relmap/schema"
)

// PathSeparator separates segments in a relationship-traversing field path,
// e.g. "team__name"
const PathSeparator = "__"

// Lookup a validated join plan for one field path: the ordered relation hops
// to traverse and the terminal field the predicate applies to
type Lookup struct {
	Model *schema.Model
	Path  string

	// Hops relations crossed before the terminal segment, in traversal order
	Hops []*schema.Relationship

	// Field terminal scalar field; nil when the path ends bare on a relation
	Field *schema.Field

	// Rel set when the terminal segment named a relation (bare existence or
	// null test, or a forward relation shorthand for its key column)
	Rel *schema.Relationship
}

// ManyValued reports whether the path crosses a many-valued relation, which
// expands one row per related record and requires deduplication when
// hydrating record-shaped results
func (l *Lookup) ManyValued() bool {
	for _, hop := range l.Hops {
		if hop.ManyValued() {
			return true
		}
	}
	return l.Rel != nil && l.Field == nil && l.Rel.ManyValued()
}

// Resolve parses path against the relation graph rooted at model. Every
// segment must name a field or relation on the model reached so far;
// intermediate segments must be relations. The terminal segment may be a
// scalar field, a forward single-valued relation (resolved to its key
// column), or any relation left bare for existence and null checks.
func Resolve(model *schema.Model, path string) (*Lookup, error) {
	lookup := &Lookup{Model: model, Path: path}
	segments := strings.Split(path, PathSeparator)
	current := model

	for i, segment := range segments {
		last := i == len(segments)-1

		if rel, ok := current.Relationships.Relations[segment]; ok {
			if !last {
				lookup.Hops = append(lookup.Hops, rel)
				current = rel.Target
				continue
			}
			lookup.Rel = rel
			if rel.Owning && !rel.ManyValued() {
				// forward single-valued relation: predicate applies to the
				// key column on the near side, no join needed
				lookup.Field = rel.ForeignKey
			}
			return lookup, nil
		}

		if field := current.LookUpField(segment); field != nil {
			if !last {
				return nil, &UnknownFieldError{Model: current.Name, Segment: segment, Path: path}
			}
			lookup.Field = field
			return lookup, nil
		}

		return nil, &UnknownFieldError{Model: current.Name, Segment: segment, Path: path}
	}

	return nil, &UnknownFieldError{Model: model.Name, Segment: path, Path: path}
}

// ResolveField resolves a path that must terminate in a scalar field,
// used for ordering and projections
func ResolveField(model *schema.Model, path string) (*Lookup, error) {
	lookup, err := Resolve(model, path)
	if err != nil {
		return nil, err
	}
	if lookup.Field == nil {
		return nil, &TypeMismatchError{Path: path, Op: OpEq, Reason: "path must end in a field"}
	}
	return lookup, nil
}

// Check validates operator and value against the lookup's terminal, failing
// with TypeMismatchError before any I/O is attempted
func Check(lookup *Lookup, op Operator, value interface{}) error {
	if !validOperator(op) {
		return &TypeMismatchError{Path: lookup.Path, Op: op, Reason: "unknown operator"}
	}

	if lookup.Field == nil {
		// bare relation path: only existence/null checks apply
		if op != OpIsNull {
			return &TypeMismatchError{Path: lookup.Path, Op: op,
				Reason: "path ends on relation " + lookup.Rel.String() + "; only isnull applies"}
		}
		if _, ok := value.(bool); !ok {
			return &TypeMismatchError{Path: lookup.Path, Op: op, Reason: "isnull takes a bool"}
		}
		return nil
	}

	field := lookup.Field
	switch {
	case op.stringOnly():
		if field.DataType != schema.String {
			return &TypeMismatchError{Path: lookup.Path, Op: op,
				Reason: "requires a string field, " + field.String() + " is " + string(field.DataType)}
		}
		if _, ok := value.(string); !ok {
			return &TypeMismatchError{Path: lookup.Path, Op: op, Reason: "requires a string value"}
		}
	case op.datePart():
		if field.DataType != schema.Time {
			return &TypeMismatchError{Path: lookup.Path, Op: op,
				Reason: "requires a time field, " + field.String() + " is " + string(field.DataType)}
		}
		if _, ok := value.(int); !ok {
			return &TypeMismatchError{Path: lookup.Path, Op: op, Reason: "requires an int value"}
		}
	case op == OpIsNull:
		if _, ok := value.(bool); !ok {
			return &TypeMismatchError{Path: lookup.Path, Op: op, Reason: "isnull takes a bool"}
		}
	case op == OpIn:
		values, ok := value.([]interface{})
		if !ok {
			return &TypeMismatchError{Path: lookup.Path, Op: op, Reason: "requires a value list"}
		}
		for _, v := range values {
			if _, err := field.CoerceValue(v); err != nil {
				return &TypeMismatchError{Path: lookup.Path, Op: op, Reason: err.Error()}
			}
		}
	case op == OpRange:
		bounds, ok := value.([2]interface{})
		if !ok {
			return &TypeMismatchError{Path: lookup.Path, Op: op, Reason: "requires two bounds"}
		}
		if !field.Orderable() {
			return &TypeMismatchError{Path: lookup.Path, Op: op,
				Reason: field.String() + " does not support range comparisons"}
		}
		for _, v := range bounds {
			if _, err := field.CoerceValue(v); err != nil {
				return &TypeMismatchError{Path: lookup.Path, Op: op, Reason: err.Error()}
			}
		}
	case op.ordering():
		if !field.Orderable() {
			return &TypeMismatchError{Path: lookup.Path, Op: op,
				Reason: field.String() + " does not support ordering comparisons"}
		}
		if _, err := field.CoerceValue(value); err != nil {
			return &TypeMismatchError{Path: lookup.Path, Op: op, Reason: err.Error()}
		}
	default: // OpEq
		if _, err := field.CoerceValue(value); err != nil {
			return &TypeMismatchError{Path: lookup.Path, Op: op, Reason: err.Error()}
		}
	}
	return nil
}

// Walk visits every atomic condition in an expression tree
func Walk(expr Expression, visit func(Cond) error) error {
	switch e := expr.(type) {
	case Cond:
		return visit(e)
	case AndExpr:
		for _, sub := range e.Exprs {
			if err := Walk(sub, visit); err != nil {
				return err
			}
		}
	case OrExpr:
		for _, sub := range e.Exprs {
			if err := Walk(sub, visit); err != nil {
				return err
			}
		}
	case NotExpr:
		return Walk(e.Expr, visit)
	}
	return nil
}
