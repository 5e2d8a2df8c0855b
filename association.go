package relmap

import (
	"context"
	"errors"
	"fmt"

	"github.com/relmap/relmap/driver"
	"github.com/relmap/relmap/query"
	"github.com/relmap/relmap/schema"
)

// Association is the mutable handle on one record's many-valued relation.
// Reads go through a QuerySet rooted at the far model, so every filter and
// ordering capability composes with the membership condition. Link writes
// apply to many-to-many relations; relations routed through an explicit
// model keep their link rows as real records and reject implicit writes.
type Association struct {
	record *Record
	rel    *schema.Relationship
	err    error
}

// Association returns the handle for a many-valued relation of the record
func (r *Record) Association(name string) *Association {
	rel, ok := r.model.Relationships.Relations[name]
	if !ok {
		return &Association{record: r, err: &query.UnknownFieldError{Model: r.model.Name, Segment: name, Path: name}}
	}
	if !rel.ManyValued() {
		return &Association{record: r, rel: rel,
			err: fmt.Errorf("%w: %s is single-valued", ErrUnsupportedRelation, rel)}
	}
	if r.PK() == 0 {
		return &Association{record: r, rel: rel,
			err: fmt.Errorf("cannot associate through unsaved %s", r.model.Name)}
	}
	return &Association{record: r, rel: rel}
}

// Err returns the construction error, if any
func (a *Association) Err() error { return a.err }

// Query returns a QuerySet over the related records, narrowed to this
// record's membership. Further filtering, ordering and eager loading chain
// off it as usual.
func (a *Association) Query() *QuerySet {
	if a.err != nil {
		return &QuerySet{engine: a.record.engine, limit: -1, err: a.err}
	}
	qs := a.record.engine.Model(a.rel.Target.Name)
	if a.rel.Kind == schema.ManyToMany {
		// traverse the reverse relation back to the owner, which routes the
		// membership test through the join table
		path := a.rel.Inverse.Name + "__" + schema.PrimaryKeyName
		return qs.Filter(query.Eq(path, a.record.PK()))
	}
	return qs.Filter(query.Eq(a.rel.ForeignKey.Name, a.record.PK()))
}

// All returns the related records under the far model's default ordering
func (a *Association) All(ctx context.Context) ([]*Record, error) {
	if a.err != nil {
		return nil, a.err
	}
	return a.Query().All(ctx)
}

// Count returns the number of related records
func (a *Association) Count(ctx context.Context) (int64, error) {
	if a.err != nil {
		return 0, a.err
	}
	return a.Query().Count(ctx)
}

// Contains reports whether target is linked to the record
func (a *Association) Contains(ctx context.Context, target *Record) (bool, error) {
	if a.err != nil {
		return false, a.err
	}
	if err := a.checkTarget(target); err != nil {
		return false, err
	}
	return a.Query().Filter(query.Eq(schema.PrimaryKeyName, target.PK())).Exists(ctx)
}

// Add links the targets to the record. Existing links are kept, so Add is
// idempotent. Relations with an explicit through model must create their
// link records directly.
func (a *Association) Add(ctx context.Context, targets ...*Record) error {
	if err := a.linkable(); err != nil {
		return err
	}
	e := a.record.engine
	for _, target := range targets {
		if err := a.checkTarget(target); err != nil {
			return err
		}
		err := a.insertLink(ctx, e.backend, target.PK())
		if err != nil && !errors.Is(err, driver.ErrUniqueViolation) {
			return err
		}
	}
	a.invalidate()
	return nil
}

// Remove unlinks the targets from the record; targets not linked are ignored
func (a *Association) Remove(ctx context.Context, targets ...*Record) error {
	if err := a.linkable(); err != nil {
		return err
	}
	e := a.record.engine
	for _, target := range targets {
		if err := a.checkTarget(target); err != nil {
			return err
		}
		_, err := e.exec(ctx, e.backend, &driver.Mutation{
			Kind:  driver.Delete,
			Table: a.rel.JoinTable,
			Where: driver.And{Preds: []driver.Predicate{
				colCond(a.rel.JoinOwnerKey, a.record.PK()),
				colCond(a.rel.JoinTargetKey, target.PK()),
			}},
		})
		if err != nil {
			return err
		}
	}
	a.invalidate()
	return nil
}

// Clear unlinks every related record. Allowed on through relations too: the
// link rows disappear, the far records stay.
func (a *Association) Clear(ctx context.Context) error {
	if a.err != nil {
		return a.err
	}
	if a.rel.Kind != schema.ManyToMany {
		return fmt.Errorf("%w: %s links are owned by %s records", ErrUnsupportedRelation, a.rel, a.rel.Target.Name)
	}
	e := a.record.engine
	_, err := e.exec(ctx, e.backend, &driver.Mutation{
		Kind:  driver.Delete,
		Table: a.rel.JoinTable,
		Where: colCond(a.rel.JoinOwnerKey, a.record.PK()),
	})
	if err != nil {
		return err
	}
	a.invalidate()
	return nil
}

// Set replaces the record's links with exactly the given targets, diffing
// against the current links inside one transaction
func (a *Association) Set(ctx context.Context, targets ...*Record) error {
	if err := a.linkable(); err != nil {
		return err
	}
	desired := map[int64]bool{}
	for _, target := range targets {
		if err := a.checkTarget(target); err != nil {
			return err
		}
		desired[target.PK()] = true
	}

	e := a.record.engine
	tx, err := e.backend.Begin(ctx)
	if err != nil {
		return err
	}

	current, err := a.linkedKeys(ctx, tx)
	if err != nil {
		tx.Rollback()
		return err
	}
	for _, pk := range current {
		if desired[pk] {
			delete(desired, pk)
			continue
		}
		_, err := e.exec(ctx, tx, &driver.Mutation{
			Kind:  driver.Delete,
			Table: a.rel.JoinTable,
			Where: driver.And{Preds: []driver.Predicate{
				colCond(a.rel.JoinOwnerKey, a.record.PK()),
				colCond(a.rel.JoinTargetKey, pk),
			}},
		})
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	for pk := range desired {
		if err := a.insertLink(ctx, tx, pk); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	a.invalidate()
	return nil
}

func (a *Association) linkable() error {
	if a.err != nil {
		return a.err
	}
	if a.rel.Kind != schema.ManyToMany {
		return fmt.Errorf("%w: %s links are owned by %s records", ErrUnsupportedRelation, a.rel, a.rel.Target.Name)
	}
	if a.rel.Through != nil {
		return fmt.Errorf("%w: create %s records instead", ErrThroughRequired, a.rel.Through.Name)
	}
	return nil
}

func (a *Association) checkTarget(target *Record) error {
	if target == nil {
		return fmt.Errorf("%w: nil target for %s", ErrUnsupportedRelation, a.rel)
	}
	if target.model != a.rel.Target {
		return fmt.Errorf("%w: %s expects %s, got %s", ErrUnsupportedRelation, a.rel, a.rel.Target.Name, target.model.Name)
	}
	if target.PK() == 0 {
		return fmt.Errorf("cannot link unsaved %s", target.model.Name)
	}
	return nil
}

func (a *Association) insertLink(ctx context.Context, backend driver.Backend, targetPK int64) error {
	_, err := a.record.engine.exec(ctx, backend, &driver.Mutation{
		Kind:  driver.Insert,
		Table: a.rel.JoinTable,
		Values: map[string]interface{}{
			a.rel.JoinOwnerKey:  a.record.PK(),
			a.rel.JoinTargetKey: targetPK,
		},
		Unique: a.rel.JoinUniqueSets(),
	})
	return err
}

// linkedKeys the far-side identities currently linked, read from the join
// table inside the caller's transaction
func (a *Association) linkedKeys(ctx context.Context, backend driver.Backend) ([]int64, error) {
	spec := &driver.FetchSpec{
		Table: a.rel.JoinTable,
		Alias: "t0",
		Limit: -1,
		Where: colCond(a.rel.JoinOwnerKey, a.record.PK()),
		Columns: []driver.ColumnRef{
			{Alias: "t0", Name: a.rel.JoinTargetKey},
		},
	}
	rows, err := a.record.engine.fetch(ctx, backend, spec)
	if err != nil {
		return nil, err
	}
	keys := make([]int64, 0, len(rows))
	for _, row := range rows {
		if pk, ok := row["t0."+a.rel.JoinTargetKey].(int64); ok {
			keys = append(keys, pk)
		}
	}
	return keys, nil
}

func (a *Association) invalidate() {
	delete(a.record.related, a.rel.Name)
}
