package relmap

import (
	"context"
	"fmt"
	"strings"

	"github.com/relmap/relmap/driver"
	"github.com/relmap/relmap/query"
	"github.com/relmap/relmap/schema"
)

// compiler assembles one FetchSpec, allocating join aliases and reusing them
// per relation path prefix
type compiler struct {
	model *schema.Model
	spec  *driver.FetchSpec

	aliases map[string]string
	next    int

	// expanded is set when any join crosses a many-valued relation, so
	// hydration must deduplicate records by primary key
	expanded bool
}

type valuesCol struct {
	path string
	col  driver.ColumnRef
}

type mergedPreload struct {
	chain   []*schema.Relationship
	aliases []string
}

type compiled struct {
	spec     *driver.FetchSpec
	expanded bool
	merged   []mergedPreload
	batched  []preloadSpec
	values   []valuesCol

	// limit/offset deferred to hydration when row expansion would make the
	// driver apply them to multiplied rows instead of records
	deferredLimit  int
	deferredOffset int
}

func newCompiler(model *schema.Model) *compiler {
	return &compiler{
		model: model,
		spec: &driver.FetchSpec{
			Table: model.Table,
			Alias: "t0",
			Limit: -1,
		},
		aliases: map[string]string{},
	}
}

// joinChain merges the joins for a relation chain into the spec and returns
// the alias holding the final model. Filter and order joins are LEFT joins:
// conditions evaluate false against missing rows, which keeps OR/NOT
// composition and null-relation semantics correct.
func (c *compiler) joinChain(chain []*schema.Relationship) string {
	alias := c.spec.Alias
	prefix := ""
	for _, rel := range chain {
		if rel.ManyValued() {
			c.expanded = true
		}
		prefix += rel.Name + query.PathSeparator
		alias = c.joinHop(alias, prefix, rel)
	}
	return alias
}

func (c *compiler) joinHop(parent, prefix string, rel *schema.Relationship) string {
	if alias, ok := c.aliases[prefix]; ok {
		return alias
	}

	var alias string
	switch {
	case rel.Kind == schema.ManyToMany:
		joinAlias := c.newAlias()
		c.spec.Joins = append(c.spec.Joins, driver.Join{
			Kind:    driver.LeftJoin,
			Table:   rel.JoinTable,
			Alias:   joinAlias,
			OnLeft:  driver.ColumnRef{Alias: parent, Name: schema.PrimaryKeyName},
			OnRight: rel.JoinOwnerKey,
		})
		alias = c.newAlias()
		c.spec.Joins = append(c.spec.Joins, driver.Join{
			Kind:    driver.LeftJoin,
			Table:   rel.Target.Table,
			Alias:   alias,
			OnLeft:  driver.ColumnRef{Alias: joinAlias, Name: rel.JoinTargetKey},
			OnRight: schema.PrimaryKeyName,
		})
	case rel.Forward():
		// many-to-one / one-to-one: key column on the near side
		alias = c.newAlias()
		c.spec.Joins = append(c.spec.Joins, driver.Join{
			Kind:    driver.LeftJoin,
			Table:   rel.Target.Table,
			Alias:   alias,
			OnLeft:  driver.ColumnRef{Alias: parent, Name: rel.ForeignKey.DBName},
			OnRight: schema.PrimaryKeyName,
		})
	default:
		// reverse has-many / has-one: key column on the far side
		alias = c.newAlias()
		c.spec.Joins = append(c.spec.Joins, driver.Join{
			Kind:    driver.LeftJoin,
			Table:   rel.Target.Table,
			Alias:   alias,
			OnLeft:  driver.ColumnRef{Alias: parent, Name: schema.PrimaryKeyName},
			OnRight: rel.ForeignKey.DBName,
		})
	}

	c.aliases[prefix] = alias
	return alias
}

func (c *compiler) newAlias() string {
	c.next++
	return fmt.Sprintf("t%d", c.next)
}

func (c *compiler) compileExpr(expr query.Expression) (driver.Predicate, error) {
	switch e := expr.(type) {
	case query.Cond:
		return c.compileCond(e)
	case query.AndExpr:
		preds := make([]driver.Predicate, 0, len(e.Exprs))
		for _, sub := range e.Exprs {
			p, err := c.compileExpr(sub)
			if err != nil {
				return nil, err
			}
			preds = append(preds, p)
		}
		return driver.And{Preds: preds}, nil
	case query.OrExpr:
		preds := make([]driver.Predicate, 0, len(e.Exprs))
		for _, sub := range e.Exprs {
			p, err := c.compileExpr(sub)
			if err != nil {
				return nil, err
			}
			preds = append(preds, p)
		}
		return driver.Or{Preds: preds}, nil
	case query.NotExpr:
		p, err := c.compileExpr(e.Expr)
		if err != nil {
			return nil, err
		}
		return driver.Not{Pred: p}, nil
	}
	return nil, fmt.Errorf("unknown expression %T", expr)
}

func (c *compiler) compileCond(cond query.Cond) (driver.Predicate, error) {
	lookup, err := query.Resolve(c.model, cond.Path)
	if err != nil {
		return nil, err
	}
	value := normalizeValue(cond.Value)
	if err := query.Check(lookup, cond.Op, value); err != nil {
		return nil, err
	}

	if lookup.Field == nil {
		// bare relation: existence/null check against the far side's key
		chain := append(append([]*schema.Relationship(nil), lookup.Hops...), lookup.Rel)
		alias := c.joinChain(chain)
		return driver.Cond{
			Column: driver.ColumnRef{Alias: alias, Name: schema.PrimaryKeyName},
			Op:     query.OpIsNull,
			Value:  value,
		}, nil
	}

	alias := c.joinChain(lookup.Hops)

	coerced, err := coerceCondValue(lookup.Field, cond.Op, value)
	if err != nil {
		return nil, &query.TypeMismatchError{Path: cond.Path, Op: cond.Op, Reason: err.Error()}
	}
	return driver.Cond{
		Column: driver.ColumnRef{Alias: alias, Name: lookup.Field.DBName},
		Op:     cond.Op,
		Value:  coerced,
	}, nil
}

// coerceCondValue lowers comparison values to the field's storage
// representation so backend equality is type-stable
func coerceCondValue(field *schema.Field, op query.Operator, value interface{}) (interface{}, error) {
	switch op {
	case query.OpEq, query.OpGt, query.OpGte, query.OpLt, query.OpLte:
		return field.CoerceValue(value)
	case query.OpIn:
		values := value.([]interface{})
		out := make([]interface{}, len(values))
		for i, v := range values {
			coerced, err := field.CoerceValue(v)
			if err != nil {
				return nil, err
			}
			out[i] = coerced
		}
		return out, nil
	case query.OpRange:
		bounds := value.([2]interface{})
		lo, err := field.CoerceValue(bounds[0])
		if err != nil {
			return nil, err
		}
		hi, err := field.CoerceValue(bounds[1])
		if err != nil {
			return nil, err
		}
		return [2]interface{}{lo, hi}, nil
	}
	return value, nil
}

func (qs *QuerySet) compile() (*compiled, error) {
	c := newCompiler(qs.model)
	out := &compiled{deferredLimit: -1}

	var preds []driver.Predicate
	for _, expr := range qs.where {
		p, err := c.compileExpr(expr)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	switch len(preds) {
	case 0:
	case 1:
		c.spec.Where = preds[0]
	default:
		c.spec.Where = driver.And{Preds: preds}
	}

	for _, ord := range qs.effectiveOrder() {
		lookup, err := query.ResolveField(qs.model, ord.path)
		if err != nil {
			return nil, err
		}
		alias := c.joinChain(lookup.Hops)
		c.spec.Order = append(c.spec.Order, driver.Ordering{
			Column: driver.ColumnRef{Alias: alias, Name: lookup.Field.DBName},
			Desc:   ord.desc,
		})
	}

	for _, preload := range qs.preloads {
		strategy := preload.strategy
		if strategy == Auto {
			if mergeable(preload.chain) {
				strategy = JoinMerge
			} else {
				strategy = BatchFetch
			}
		}
		if strategy == BatchFetch {
			out.batched = append(out.batched, preload)
			continue
		}
		merged := mergedPreload{chain: preload.chain}
		for i := range preload.chain {
			merged.aliases = append(merged.aliases, c.joinChain(preload.chain[:i+1]))
		}
		out.merged = append(out.merged, merged)
	}

	if qs.projection != nil {
		for _, path := range qs.projection {
			lookup, err := query.ResolveField(qs.model, path)
			if err != nil {
				return nil, err
			}
			alias := c.joinChain(lookup.Hops)
			col := driver.ColumnRef{Alias: alias, Name: lookup.Field.DBName}
			out.values = append(out.values, valuesCol{path: path, col: col})
			c.spec.Columns = append(c.spec.Columns, col)
		}
		c.spec.Distinct = qs.distinct
		c.spec.Limit = qs.limit
		c.spec.Offset = qs.offset
	} else {
		for _, field := range qs.model.Fields {
			c.spec.Columns = append(c.spec.Columns, driver.ColumnRef{Alias: c.spec.Alias, Name: field.DBName})
		}
		for _, merged := range out.merged {
			for i, rel := range merged.chain {
				for _, field := range rel.Target.Fields {
					c.spec.Columns = append(c.spec.Columns, driver.ColumnRef{Alias: merged.aliases[i], Name: field.DBName})
				}
			}
		}
		if c.expanded {
			// the driver would apply limit/offset to multiplied rows; defer
			// them until records are deduplicated
			out.deferredLimit = qs.limit
			out.deferredOffset = qs.offset
		} else {
			c.spec.Limit = qs.limit
			c.spec.Offset = qs.offset
		}
	}

	out.spec = c.spec
	out.expanded = c.expanded
	return out, nil
}

// effectiveOrder falls back to the model's declared default ordering
func (qs *QuerySet) effectiveOrder() []ordering {
	if len(qs.order) > 0 {
		return qs.order
	}
	orders := make([]ordering, 0, len(qs.model.Ordering))
	for _, path := range qs.model.Ordering {
		ord := ordering{path: path}
		if strings.HasPrefix(path, "-") {
			ord.path = path[1:]
			ord.desc = true
		}
		orders = append(orders, ord)
	}
	return orders
}

// evaluate drives the state machine: Unevaluated -> Evaluating ->
// Evaluated(cached) | Failed. Re-running an Evaluated QuerySet returns the
// cached result without I/O.
func (qs *QuerySet) evaluate(ctx context.Context) (*queryResult, error) {
	if qs.err != nil {
		return nil, qs.err
	}
	if qs.res != nil {
		switch qs.res.state {
		case stateEvaluated:
			return qs.res, nil
		case stateFailed:
			return nil, qs.res.err
		case stateEvaluating:
			return nil, ErrEvaluating
		}
	}

	qs.res = &queryResult{state: stateEvaluating}
	if err := qs.run(ctx, qs.res); err != nil {
		qs.res.state = stateFailed
		qs.res.err = err
		qs.res.records = nil
		qs.res.maps = nil
		return nil, err
	}
	qs.res.state = stateEvaluated
	return qs.res, nil
}

// run performs the primary fetch and the planned eager-load batches in
// dependency order. On any failure the partial result is discarded wholesale
// rather than partially stitched.
func (qs *QuerySet) run(ctx context.Context, res *queryResult) error {
	compiled, err := qs.compile()
	if err != nil {
		return err
	}

	rows, err := qs.engine.fetch(ctx, qs.engine.backend, compiled.spec)
	if err != nil {
		return err
	}

	if qs.projection != nil {
		res.maps = make([]map[string]interface{}, len(rows))
		for i, row := range rows {
			m := make(map[string]interface{}, len(compiled.values))
			for _, vc := range compiled.values {
				m[vc.path] = row[vc.col.String()]
			}
			res.maps[i] = m
		}
		return nil
	}

	records := qs.materialize(rows, compiled)

	if compiled.deferredOffset > 0 {
		if compiled.deferredOffset >= len(records) {
			records = nil
		} else {
			records = records[compiled.deferredOffset:]
		}
	}
	if compiled.deferredLimit >= 0 && compiled.deferredLimit < len(records) {
		records = records[:compiled.deferredLimit]
	}

	for _, preload := range compiled.batched {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := qs.engine.prefetchChain(ctx, qs.engine.backend, records, preload.chain); err != nil {
			return err
		}
	}

	res.records = records
	return nil
}

// materialize hydrates rows into records, deduplicating by primary key so
// row multiplication from many-valued joins never leaks into the result, and
// wires join-merged relation caches
func (qs *QuerySet) materialize(rows []driver.Row, compiled *compiled) []*Record {
	var records []*Record
	seen := map[int64]bool{}

	for _, row := range rows {
		pk, ok := rowPK(row, compiled.spec.Alias)
		if !ok || seen[pk] {
			continue
		}
		seen[pk] = true

		rec := qs.engine.hydrate(qs.model, row, compiled.spec.Alias)
		for _, merged := range compiled.merged {
			parent := rec
			for i, rel := range merged.chain {
				if parent == nil {
					break
				}
				child := qs.engine.hydrate(rel.Target, row, merged.aliases[i])
				parent.setRelated(rel.Name, child)
				parent = child
			}
		}
		records = append(records, rec)
	}
	return records
}

func driverPK(alias string) driver.ColumnRef {
	return driver.ColumnRef{Alias: alias, Name: schema.PrimaryKeyName}
}

func rowPK(row driver.Row, alias string) (int64, bool) {
	v, ok := row[alias+"."+schema.PrimaryKeyName].(int64)
	return v, ok
}

// hydrate builds a Record from the alias-qualified columns of one row;
// returns nil when the alias was not matched (left join miss)
func (e *Engine) hydrate(model *schema.Model, row driver.Row, alias string) *Record {
	if _, ok := rowPK(row, alias); !ok {
		return nil
	}
	values := make(map[string]interface{}, len(model.Fields))
	for _, field := range model.Fields {
		values[field.Name] = row[alias+"."+field.DBName]
	}
	return &Record{
		engine:  e,
		model:   model,
		values:  values,
		related: map[string]interface{}{},
	}
}
