package relmap

import (
	"fmt"
	"strings"

	"github.com/relmap/relmap/query"
	"github.com/relmap/relmap/schema"
)

// Strategy eager-loading strategy for a requested relation path
type Strategy int

const (
	// Auto picks JoinMerge when every hop is forward and single-valued,
	// BatchFetch otherwise
	Auto Strategy = iota
	// JoinMerge satisfies the path by merging joins into the primary fetch:
	// zero extra round-trips. Only valid for forward single-valued paths.
	JoinMerge
	// BatchFetch satisfies the path with one additional batched fetch per
	// hop, keyed on the parent level's identities
	BatchFetch
)

type ordering struct {
	path string
	desc bool
}

type preloadSpec struct {
	path     string
	strategy Strategy
	chain    []*schema.Relationship
}

type evalState int

const (
	stateUnevaluated evalState = iota
	stateEvaluating
	stateEvaluated
	stateFailed
)

type queryResult struct {
	state   evalState
	records []*Record
	maps    []map[string]interface{}
	err     error
}

// QuerySet an immutable, lazily evaluated description of a retrieval.
// Builder calls validate their arguments immediately and return a new value;
// no I/O happens until a finisher runs. A QuerySet value is not meant for
// concurrent use, but independent QuerySets may be evaluated concurrently.
type QuerySet struct {
	engine *Engine
	model  *schema.Model

	where    []query.Expression // conjunction
	order    []ordering
	limit    int
	offset   int
	distinct bool
	preloads []preloadSpec
	// values projection mode: field paths to project, nil means record mode
	projection []string

	err error
	res *queryResult
}

// clone returns an unevaluated copy; the parent's cached result is never
// shared or reused
func (qs *QuerySet) clone() *QuerySet {
	dup := &QuerySet{
		engine:     qs.engine,
		model:      qs.model,
		limit:      qs.limit,
		offset:     qs.offset,
		distinct:   qs.distinct,
		err:        qs.err,
		where:      append([]query.Expression(nil), qs.where...),
		order:      append([]ordering(nil), qs.order...),
		preloads:   append([]preloadSpec(nil), qs.preloads...),
		projection: append([]string(nil), qs.projection...),
	}
	return dup
}

func (qs *QuerySet) poison(err error) *QuerySet {
	dup := qs.clone()
	if dup.err == nil {
		dup.err = err
	}
	return dup
}

// Err returns the first construction error recorded on this QuerySet
func (qs *QuerySet) Err() error { return qs.err }

// Model returns the target model descriptor
func (qs *QuerySet) Model() *schema.Model { return qs.model }

// Filter returns a QuerySet narrowed by the conjunction of the given
// predicates. Paths may traverse relations ("team__name"); every path and
// operator is validated against the registry now, not at execution.
func (qs *QuerySet) Filter(exprs ...query.Expression) *QuerySet {
	if qs.err != nil {
		return qs.clone()
	}
	if err := qs.validate(exprs); err != nil {
		return qs.poison(err)
	}
	dup := qs.clone()
	dup.where = append(dup.where, exprs...)
	return dup
}

// Exclude returns a QuerySet excluding rows matching the conjunction of the
// given predicates
func (qs *QuerySet) Exclude(exprs ...query.Expression) *QuerySet {
	if qs.err != nil {
		return qs.clone()
	}
	if err := qs.validate(exprs); err != nil {
		return qs.poison(err)
	}
	dup := qs.clone()
	dup.where = append(dup.where, query.Not(query.And(exprs...)))
	return dup
}

// OrderBy replaces the ordering; "-" prefix sorts descending, paths may
// traverse forward relations ("team__name", "-joined_date")
func (qs *QuerySet) OrderBy(paths ...string) *QuerySet {
	if qs.err != nil {
		return qs.clone()
	}
	orders := make([]ordering, 0, len(paths))
	for _, path := range paths {
		ord := ordering{path: path}
		if strings.HasPrefix(path, "-") {
			ord.path = path[1:]
			ord.desc = true
		}
		if _, err := query.ResolveField(qs.model, ord.path); err != nil {
			return qs.poison(err)
		}
		orders = append(orders, ord)
	}
	dup := qs.clone()
	dup.order = orders
	return dup
}

// Limit caps the number of primary records
func (qs *QuerySet) Limit(n int) *QuerySet {
	dup := qs.clone()
	dup.limit = n
	return dup
}

// Offset skips the first n primary records
func (qs *QuerySet) Offset(n int) *QuerySet {
	dup := qs.clone()
	dup.offset = n
	return dup
}

// Distinct deduplicates projected rows
func (qs *QuerySet) Distinct() *QuerySet {
	dup := qs.clone()
	dup.distinct = true
	return dup
}

// Values switches to projection mode: Maps returns plain mappings for the
// given field paths, hydration and relation wiring are skipped entirely. No
// fields means every local field.
func (qs *QuerySet) Values(fields ...string) *QuerySet {
	if qs.err != nil {
		return qs.clone()
	}
	if len(fields) == 0 {
		for _, field := range qs.model.Fields {
			fields = append(fields, field.Name)
		}
	}
	for _, path := range fields {
		if _, err := query.ResolveField(qs.model, path); err != nil {
			return qs.poison(err)
		}
	}
	dup := qs.clone()
	dup.projection = fields
	return dup
}

// Preload requests eager loading of relation paths with the Auto strategy
func (qs *QuerySet) Preload(paths ...string) *QuerySet {
	out := qs
	for _, path := range paths {
		out = out.PreloadWith(path, Auto)
	}
	return out
}

// PreloadWith requests eager loading of one relation path with an explicit
// strategy. The path must consist solely of relation segments; JoinMerge is
// rejected now if any hop is reverse or many-valued.
func (qs *QuerySet) PreloadWith(path string, strategy Strategy) *QuerySet {
	if qs.err != nil {
		return qs.clone()
	}
	chain, err := resolveRelationPath(qs.model, path)
	if err != nil {
		return qs.poison(err)
	}
	if strategy == JoinMerge && !mergeable(chain) {
		return qs.poison(fmt.Errorf("%w: join-merge requires a forward single-valued path, %q is not", ErrUnsupportedRelation, path))
	}
	dup := qs.clone()
	dup.preloads = append(dup.preloads, preloadSpec{path: path, strategy: strategy, chain: chain})
	return dup
}

func (qs *QuerySet) validate(exprs []query.Expression) error {
	for _, expr := range exprs {
		err := query.Walk(expr, func(cond query.Cond) error {
			lookup, err := query.Resolve(qs.model, cond.Path)
			if err != nil {
				return err
			}
			return query.Check(lookup, cond.Op, normalizeValue(cond.Value))
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// resolveRelationPath resolves a preload path: every segment must be a
// relation
func resolveRelationPath(model *schema.Model, path string) ([]*schema.Relationship, error) {
	lookup, err := query.Resolve(model, path)
	if err != nil {
		return nil, err
	}
	if lookup.Rel == nil {
		return nil, &query.TypeMismatchError{Path: path, Op: query.OpEq,
			Reason: "preload path must end on a relation"}
	}
	return append(append([]*schema.Relationship(nil), lookup.Hops...), lookup.Rel), nil
}

func mergeable(chain []*schema.Relationship) bool {
	for _, rel := range chain {
		if !rel.Forward() || rel.ManyValued() {
			return false
		}
	}
	return true
}

// normalizeValue lowers records to their primary keys so predicates can
// compare against relation key columns
func normalizeValue(value interface{}) interface{} {
	switch v := value.(type) {
	case *Record:
		return v.PK()
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = normalizeValue(item)
		}
		return out
	case [2]interface{}:
		return [2]interface{}{normalizeValue(v[0]), normalizeValue(v[1])}
	}
	return value
}
