package relmap

import (
	"context"
	"fmt"

	"github.com/relmap/relmap/query"
	"github.com/relmap/relmap/schema"
)

// All evaluates the QuerySet and returns hydrated records. The result is
// cached on this QuerySet value; evaluating again returns the same rows
// without I/O. Chaining off this QuerySet always starts unevaluated.
func (qs *QuerySet) All(ctx context.Context) ([]*Record, error) {
	if qs.err != nil {
		return nil, qs.err
	}
	if qs.projection != nil {
		return nil, fmt.Errorf("queryset is in values mode, use Maps")
	}
	res, err := qs.evaluate(ctx)
	if err != nil {
		return nil, err
	}
	return res.records, nil
}

// Maps evaluates the QuerySet in projection mode and returns plain mappings
// keyed by the requested field paths; hydration and relation wiring are
// skipped. A QuerySet not already in values mode projects every local field.
func (qs *QuerySet) Maps(ctx context.Context) ([]map[string]interface{}, error) {
	if qs.err != nil {
		return nil, qs.err
	}
	target := qs
	if qs.projection == nil {
		target = qs.Values()
	}
	res, err := target.evaluate(ctx)
	if err != nil {
		return nil, err
	}
	return res.maps, nil
}

// First returns the first record under the effective ordering (primary key
// when none is declared); ErrRecordNotFound when nothing matched
func (qs *QuerySet) First(ctx context.Context) (*Record, error) {
	if qs.err != nil {
		return nil, qs.err
	}
	derived := qs.clone()
	if len(derived.effectiveOrder()) == 0 {
		derived.order = []ordering{{path: schema.PrimaryKeyName}}
	}
	derived.limit = 1
	records, err := derived.All(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrRecordNotFound
	}
	return records[0], nil
}

// Last returns the last record under the effective ordering, inverting each
// sort key (descending primary key when none is declared)
func (qs *QuerySet) Last(ctx context.Context) (*Record, error) {
	if qs.err != nil {
		return nil, qs.err
	}
	derived := qs.clone()
	effective := derived.effectiveOrder()
	if len(effective) == 0 {
		derived.order = []ordering{{path: schema.PrimaryKeyName, desc: true}}
	} else {
		inverted := make([]ordering, len(effective))
		for i, ord := range effective {
			inverted[i] = ordering{path: ord.path, desc: !ord.desc}
		}
		derived.order = inverted
	}
	derived.limit = 1
	records, err := derived.All(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrRecordNotFound
	}
	return records[0], nil
}

// Get returns the single record matching the QuerySet narrowed by the given
// predicates: ErrRecordNotFound for zero matches, ErrMultipleRecords for
// more than one
func (qs *QuerySet) Get(ctx context.Context, exprs ...query.Expression) (*Record, error) {
	derived := qs
	if len(exprs) > 0 {
		derived = qs.Filter(exprs...)
	}
	if derived.err != nil {
		return nil, derived.err
	}
	derived = derived.clone()
	derived.limit = 2
	derived.offset = 0
	records, err := derived.All(ctx)
	if err != nil {
		return nil, err
	}
	switch len(records) {
	case 0:
		return nil, ErrRecordNotFound
	case 1:
		return records[0], nil
	}
	return nil, fmt.Errorf("%w: %s matched more than one record", ErrMultipleRecords, qs.model.Name)
}

// Count returns the number of distinct records matched, without hydrating
// them
func (qs *QuerySet) Count(ctx context.Context) (int64, error) {
	if qs.err != nil {
		return 0, qs.err
	}
	derived := qs.clone()
	derived.order = nil
	derived.preloads = nil
	derived.projection = nil

	compiled, err := derived.compile()
	if err != nil {
		return 0, err
	}
	pkCol := driverPK(compiled.spec.Alias)
	compiled.spec.Columns = compiled.spec.Columns[:0]
	compiled.spec.Columns = append(compiled.spec.Columns, pkCol)
	compiled.spec.Limit = -1
	compiled.spec.Offset = 0

	rows, err := qs.engine.fetch(ctx, qs.engine.backend, compiled.spec)
	if err != nil {
		return 0, err
	}

	seen := map[int64]bool{}
	var count int64
	for _, row := range rows {
		pk, ok := row[pkCol.String()].(int64)
		if !ok || seen[pk] {
			continue
		}
		seen[pk] = true
		count++
	}

	// honor slicing the way record hydration would
	if qs.offset > 0 {
		count -= int64(qs.offset)
		if count < 0 {
			count = 0
		}
	}
	if qs.limit >= 0 && count > int64(qs.limit) {
		count = int64(qs.limit)
	}
	return count, nil
}

// Exists reports whether any record matches, fetching at most one row
func (qs *QuerySet) Exists(ctx context.Context) (bool, error) {
	if qs.err != nil {
		return false, qs.err
	}
	derived := qs.clone()
	derived.order = nil
	derived.preloads = nil
	derived.projection = nil
	derived.limit = 1
	derived.offset = 0
	records, err := derived.All(ctx)
	if err != nil {
		return false, err
	}
	return len(records) > 0, nil
}
