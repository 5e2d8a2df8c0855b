package relmap

import (
	"context"
	"strings"

	"github.com/relmap/relmap/driver"
	"github.com/relmap/relmap/query"
	"github.com/relmap/relmap/schema"
)

// prefetchChain satisfies one batched eager-load path: one level at a time,
// each level keyed on the previous level's identities. Total fetches are
// bounded by the path depth (two per many-to-many hop for the join table),
// never by the number of parents.
func (e *Engine) prefetchChain(ctx context.Context, backend driver.Backend, parents []*Record, chain []*schema.Relationship) error {
	level := parents
	for _, rel := range chain {
		if len(level) == 0 {
			return nil
		}
		children, err := e.prefetchHop(ctx, backend, level, rel)
		if err != nil {
			return err
		}
		level = children
	}
	return nil
}

func (e *Engine) prefetchHop(ctx context.Context, backend driver.Backend, parents []*Record, rel *schema.Relationship) ([]*Record, error) {
	switch {
	case rel.Kind == schema.ManyToMany:
		return e.prefetchManyToMany(ctx, backend, parents, rel)
	case rel.Forward():
		return e.prefetchForward(ctx, backend, parents, rel)
	default:
		return e.prefetchReverse(ctx, backend, parents, rel)
	}
}

// prefetchForward batches many-to-one / one-to-one hops: one fetch of the
// target model keyed by the parents' foreign key values
func (e *Engine) prefetchForward(ctx context.Context, backend driver.Backend, parents []*Record, rel *schema.Relationship) ([]*Record, error) {
	var keys []interface{}
	seen := map[int64]bool{}
	for _, parent := range parents {
		fk, ok := parent.values[rel.ForeignKey.Name].(int64)
		if ok && !seen[fk] {
			seen[fk] = true
			keys = append(keys, fk)
		}
	}

	byPK := map[int64]*Record{}
	var children []*Record
	if len(keys) > 0 {
		spec := batchSpec(rel.Target, schema.PrimaryKeyName, keys)
		rows, err := e.fetch(ctx, backend, spec)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			rec := e.hydrate(rel.Target, row, spec.Alias)
			byPK[rec.PK()] = rec
			children = append(children, rec)
		}
	}

	for _, parent := range parents {
		fk, ok := parent.values[rel.ForeignKey.Name].(int64)
		if !ok {
			parent.setRelated(rel.Name, (*Record)(nil))
			continue
		}
		parent.setRelated(rel.Name, byPK[fk])
	}
	return children, nil
}

// prefetchReverse batches has-many / has-one hops: one fetch of the owning
// model keyed by the parents' primary keys, grouped back by foreign key
func (e *Engine) prefetchReverse(ctx context.Context, backend driver.Backend, parents []*Record, rel *schema.Relationship) ([]*Record, error) {
	keys := make([]interface{}, 0, len(parents))
	for _, parent := range parents {
		keys = append(keys, parent.PK())
	}

	spec := batchSpec(rel.Target, rel.ForeignKey.DBName, keys)
	spec.Order = defaultOrder(rel.Target, spec.Alias)
	rows, err := e.fetch(ctx, backend, spec)
	if err != nil {
		return nil, err
	}

	groups := map[int64][]*Record{}
	children := make([]*Record, 0, len(rows))
	for _, row := range rows {
		rec := e.hydrate(rel.Target, row, spec.Alias)
		fk, ok := rec.values[rel.ForeignKey.Name].(int64)
		if !ok {
			continue
		}
		groups[fk] = append(groups[fk], rec)
		children = append(children, rec)
	}

	for _, parent := range parents {
		group := groups[parent.PK()]
		if rel.Kind == schema.HasOne {
			var one *Record
			if len(group) > 0 {
				one = group[0]
			}
			parent.setRelated(rel.Name, one)
			continue
		}
		parent.setRelated(rel.Name, group)
	}
	return children, nil
}

// prefetchManyToMany batches a many-to-many hop: one fetch of the join table
// keyed by the parents' identities, one fetch of the target model keyed by
// the collected far-side identities
func (e *Engine) prefetchManyToMany(ctx context.Context, backend driver.Backend, parents []*Record, rel *schema.Relationship) ([]*Record, error) {
	keys := make([]interface{}, 0, len(parents))
	for _, parent := range parents {
		keys = append(keys, parent.PK())
	}

	joinSpec := &driver.FetchSpec{
		Table: rel.JoinTable,
		Alias: "t0",
		Limit: -1,
		Where: driver.Cond{
			Column: driver.ColumnRef{Alias: "t0", Name: rel.JoinOwnerKey},
			Op:     query.OpIn,
			Value:  keys,
		},
	}
	joinRows, err := e.fetch(ctx, backend, joinSpec)
	if err != nil {
		return nil, err
	}

	pairs := map[int64][]int64{}
	var targetKeys []interface{}
	seen := map[int64]bool{}
	for _, row := range joinRows {
		owner, ok := row["t0."+rel.JoinOwnerKey].(int64)
		if !ok {
			continue
		}
		target, ok := row["t0."+rel.JoinTargetKey].(int64)
		if !ok {
			continue
		}
		pairs[owner] = append(pairs[owner], target)
		if !seen[target] {
			seen[target] = true
			targetKeys = append(targetKeys, target)
		}
	}

	byPK := map[int64]*Record{}
	var children []*Record
	if len(targetKeys) > 0 {
		spec := batchSpec(rel.Target, schema.PrimaryKeyName, targetKeys)
		spec.Order = defaultOrder(rel.Target, spec.Alias)
		rows, err := e.fetch(ctx, backend, spec)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			rec := e.hydrate(rel.Target, row, spec.Alias)
			byPK[rec.PK()] = rec
			children = append(children, rec)
		}
	}

	for _, parent := range parents {
		group := []*Record{}
		for _, targetPK := range pairs[parent.PK()] {
			if rec, ok := byPK[targetPK]; ok {
				group = append(group, rec)
			}
		}
		parent.setRelated(rel.Name, group)
	}
	return children, nil
}

// batchSpec one fetch of a model's table keyed by an IN condition
func batchSpec(model *schema.Model, column string, keys []interface{}) *driver.FetchSpec {
	spec := &driver.FetchSpec{
		Table: model.Table,
		Alias: "t0",
		Limit: -1,
		Where: driver.Cond{
			Column: driver.ColumnRef{Alias: "t0", Name: column},
			Op:     query.OpIn,
			Value:  keys,
		},
	}
	for _, field := range model.Fields {
		spec.Columns = append(spec.Columns, driver.ColumnRef{Alias: spec.Alias, Name: field.DBName})
	}
	return spec
}

// defaultOrder the model's declared default ordering, compiled for alias
func defaultOrder(model *schema.Model, alias string) []driver.Ordering {
	orders := make([]driver.Ordering, 0, len(model.Ordering))
	for _, path := range model.Ordering {
		desc := strings.HasPrefix(path, "-")
		name := strings.TrimPrefix(path, "-")
		field := model.LookUpField(name)
		if field == nil {
			continue
		}
		orders = append(orders, driver.Ordering{
			Column: driver.ColumnRef{Alias: alias, Name: field.DBName},
			Desc:   desc,
		})
	}
	return orders
}
