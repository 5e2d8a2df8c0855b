package relmap

import (
	"context"
	"fmt"
	"strconv"

	"github.com/relmap/relmap/driver"
	"github.com/relmap/relmap/query"
	"github.com/relmap/relmap/schema"
)

// Create inserts a new record. Field values are keyed by field name; forward
// relations may be keyed by relation name with a *Record or primary key
// value. Missing fields take their declared defaults; auto-now-add time
// fields are stamped from Config.NowFunc.
func (e *Engine) Create(ctx context.Context, modelName string, fields map[string]interface{}) (*Record, error) {
	model, ok := e.registry.Model(modelName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, modelName)
	}

	values, err := e.buildValues(model, fields, true)
	if err != nil {
		return nil, err
	}

	result, err := e.exec(ctx, e.backend, &driver.Mutation{
		Kind:   driver.Insert,
		Table:  model.Table,
		Values: values,
		Unique: model.UniqueSets(),
	})
	if err != nil {
		return nil, err
	}

	recordValues := make(map[string]interface{}, len(model.Fields))
	for _, field := range model.Fields {
		recordValues[field.Name] = values[field.DBName]
	}
	recordValues[schema.PrimaryKeyName] = result.LastInsertID

	return &Record{
		engine:  e,
		model:   model,
		values:  recordValues,
		related: map[string]interface{}{},
	}, nil
}

// buildValues translates caller-facing field/relation keys into a column
// value map, applying defaults and nullability checks when creating
func (e *Engine) buildValues(model *schema.Model, fields map[string]interface{}, creating bool) (map[string]interface{}, error) {
	values := map[string]interface{}{}

	for key, value := range fields {
		if rel, ok := model.Relationships.Relations[key]; ok && rel.Forward() && !rel.ManyValued() {
			fk, err := relationKey(rel, value)
			if err != nil {
				return nil, err
			}
			values[rel.ForeignKey.DBName] = fk
			continue
		}

		field, ok := model.FieldsByName[key]
		if !ok || field.PrimaryKey {
			return nil, &query.UnknownFieldError{Model: model.Name, Segment: key, Path: key}
		}
		coerced, err := field.CoerceValue(value)
		if err != nil {
			return nil, err
		}
		values[field.DBName] = coerced
	}

	if !creating {
		return values, nil
	}

	for _, field := range model.Fields {
		if field.PrimaryKey {
			continue
		}
		if _, ok := values[field.DBName]; ok {
			continue
		}
		switch {
		case field.AutoNowAdd:
			values[field.DBName] = e.NowFunc()
		case field.HasDefaultValue:
			coerced, err := field.CoerceValue(field.DefaultValue)
			if err != nil {
				return nil, err
			}
			values[field.DBName] = coerced
		case field.Nullable:
			values[field.DBName] = nil
		default:
			return nil, fmt.Errorf("field %s is required", field)
		}
	}
	return values, nil
}

func relationKey(rel *schema.Relationship, value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case nil:
		if !rel.ForeignKey.Nullable {
			return nil, fmt.Errorf("relation %s is not nullable", rel)
		}
		return nil, nil
	case *Record:
		if v.model != rel.Target {
			return nil, fmt.Errorf("%w: %s expects %s, got %s", ErrUnsupportedRelation, rel, rel.Target.Name, v.model.Name)
		}
		if v.PK() == 0 {
			return nil, fmt.Errorf("relation %s target is unsaved", rel)
		}
		return v.PK(), nil
	default:
		return rel.ForeignKey.CoerceValue(value)
	}
}

// Save writes the record's current field values back to storage, inserting
// when it has no identity yet. The relation cache is invalidated.
func (r *Record) Save(ctx context.Context) error {
	e := r.engine
	if r.PK() == 0 {
		values := map[string]interface{}{}
		for _, field := range r.model.Fields {
			if field.PrimaryKey {
				continue
			}
			values[field.DBName] = r.values[field.Name]
		}
		result, err := e.exec(ctx, e.backend, &driver.Mutation{
			Kind:   driver.Insert,
			Table:  r.model.Table,
			Values: values,
			Unique: r.model.UniqueSets(),
		})
		if err != nil {
			return err
		}
		r.values[schema.PrimaryKeyName] = result.LastInsertID
		r.related = map[string]interface{}{}
		return nil
	}

	values := map[string]interface{}{}
	for _, field := range r.model.Fields {
		if field.PrimaryKey {
			continue
		}
		values[field.DBName] = r.values[field.Name]
	}
	_, err := e.exec(ctx, e.backend, &driver.Mutation{
		Kind:   driver.Update,
		Table:  r.model.Table,
		Values: values,
		Where:  pkCond(r.PK()),
		Unique: r.model.UniqueSets(),
	})
	if err != nil {
		return err
	}
	r.related = map[string]interface{}{}
	return nil
}

// Delete removes the record and applies each dependent relation's on-delete
// policy, all inside one transaction: a Protect violation anywhere aborts
// the whole operation with zero partial deletions.
func (r *Record) Delete(ctx context.Context) error {
	if r.PK() == 0 {
		return fmt.Errorf("cannot delete unsaved %s", r.model.Name)
	}
	e := r.engine

	tx, err := e.backend.Begin(ctx)
	if err != nil {
		return err
	}
	visited := map[string]bool{}
	if err := e.cascadeDelete(ctx, tx, r.model, r.PK(), visited); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// cascadeDelete recursively removes one record. The visited set guards
// against relation cycles.
func (e *Engine) cascadeDelete(ctx context.Context, tx driver.Tx, model *schema.Model, pk int64, visited map[string]bool) error {
	key := model.Name + ":" + strconv.FormatInt(pk, 10)
	if visited[key] {
		return nil
	}
	visited[key] = true

	if err := ctx.Err(); err != nil {
		return err
	}

	dependents := append(append([]*schema.Relationship(nil),
		model.Relationships.HasMany...), model.Relationships.HasOne...)

	for _, rel := range dependents {
		owner := rel.Target
		fk := rel.ForeignKey

		switch rel.OnDelete {
		case schema.Protect:
			spec := batchSpec(owner, fk.DBName, []interface{}{pk})
			spec.Limit = 1
			rows, err := e.fetch(ctx, tx, spec)
			if err != nil {
				return err
			}
			if len(rows) > 0 {
				return &DeleteProtectedError{Model: model.Name, PK: pk, ProtectedBy: rel.Inverse.String()}
			}

		case schema.Cascade:
			spec := batchSpec(owner, fk.DBName, []interface{}{pk})
			rows, err := e.fetch(ctx, tx, spec)
			if err != nil {
				return err
			}
			for _, row := range rows {
				depPK, ok := rowPK(row, spec.Alias)
				if !ok {
					continue
				}
				if err := e.cascadeDelete(ctx, tx, owner, depPK, visited); err != nil {
					return err
				}
			}

		case schema.SetNull:
			if _, err := e.exec(ctx, tx, &driver.Mutation{
				Kind:   driver.Update,
				Table:  owner.Table,
				Values: map[string]interface{}{fk.DBName: nil},
				Where:  colCond(fk.DBName, pk),
			}); err != nil {
				return err
			}

		case schema.SetDefault:
			def, err := fk.CoerceValue(rel.Default)
			if err != nil {
				return err
			}
			if _, err := e.exec(ctx, tx, &driver.Mutation{
				Kind:   driver.Update,
				Table:  owner.Table,
				Values: map[string]interface{}{fk.DBName: def},
				Where:  colCond(fk.DBName, pk),
			}); err != nil {
				return err
			}

		case schema.DoNothing:
			// dangling reference left behind, the caller's responsibility
		}
	}

	// drop join rows for implicit many-to-many tables; explicit through rows
	// are real dependents and were handled above
	for _, rel := range model.Relationships.ManyToMany {
		if rel.Through != nil {
			continue
		}
		if _, err := e.exec(ctx, tx, &driver.Mutation{
			Kind:  driver.Delete,
			Table: rel.JoinTable,
			Where: colCond(rel.JoinOwnerKey, pk),
		}); err != nil {
			return err
		}
	}

	_, err := e.exec(ctx, tx, &driver.Mutation{
		Kind:  driver.Delete,
		Table: model.Table,
		Where: pkCond(pk),
	})
	return err
}

func pkCond(pk int64) driver.Predicate {
	return colCond(schema.PrimaryKeyName, pk)
}

func colCond(column string, value interface{}) driver.Predicate {
	return driver.Cond{
		Column: driver.ColumnRef{Alias: "t0", Name: column},
		Op:     query.OpEq,
		Value:  value,
	}
}
