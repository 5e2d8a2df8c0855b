package relmap

import (
	"context"
	"fmt"
	"time"

	"github.com/relmap/relmap/query"
	"github.com/relmap/relmap/schema"
)

// Record a hydrated instance of a model: identity, field values and a
// per-relation cache of related records. The cache is populated by eager
// loading or by the first lazy access, and invalidated on Save.
type Record struct {
	engine *Engine
	model  *schema.Model
	values map[string]interface{}
	// related relation name -> *Record (single-valued, possibly nil) or
	// []*Record (many-valued); presence of the key marks the cache as loaded
	related map[string]interface{}
}

func (r *Record) String() string {
	return fmt.Sprintf("%s(%d)", r.model.Name, r.PK())
}

// Model returns the record's model descriptor
func (r *Record) Model() *schema.Model { return r.model }

// PK returns the primary key, zero for unsaved records
func (r *Record) PK() int64 {
	pk, _ := r.values[schema.PrimaryKeyName].(int64)
	return pk
}

// Get returns a field value by name; nil for unknown fields
func (r *Record) Get(field string) interface{} {
	return r.values[field]
}

// GetString returns a string field value
func (r *Record) GetString(field string) string {
	v, _ := r.values[field].(string)
	return v
}

// GetInt returns an integer field value
func (r *Record) GetInt(field string) int64 {
	v, _ := r.values[field].(int64)
	return v
}

// GetBool returns a boolean field value
func (r *Record) GetBool(field string) bool {
	v, _ := r.values[field].(bool)
	return v
}

// GetTime returns a time field value
func (r *Record) GetTime(field string) time.Time {
	v, _ := r.values[field].(time.Time)
	return v
}

// Set assigns a field value, coercing it to the field's type. The primary
// key cannot be reassigned.
func (r *Record) Set(field string, value interface{}) error {
	f, ok := r.model.FieldsByName[field]
	if !ok {
		return &query.UnknownFieldError{Model: r.model.Name, Segment: field, Path: field}
	}
	if f.PrimaryKey {
		return fmt.Errorf("cannot reassign primary key of %s", r)
	}
	coerced, err := f.CoerceValue(value)
	if err != nil {
		return err
	}
	r.values[field] = coerced
	return nil
}

// SetRelation points a forward single-valued relation at target (nil clears
// a nullable relation). Takes effect in storage on the next Save.
func (r *Record) SetRelation(name string, target *Record) error {
	rel, ok := r.model.Relationships.Relations[name]
	if !ok {
		return &query.UnknownFieldError{Model: r.model.Name, Segment: name, Path: name}
	}
	if !rel.Forward() || rel.ManyValued() {
		return fmt.Errorf("%w: %s is not a forward single-valued relation", ErrUnsupportedRelation, rel)
	}
	if target == nil {
		if !rel.ForeignKey.Nullable {
			return fmt.Errorf("relation %s is not nullable", rel)
		}
		r.values[rel.ForeignKey.Name] = nil
		r.related[name] = (*Record)(nil)
		return nil
	}
	if target.model != rel.Target {
		return fmt.Errorf("%w: %s expects %s, got %s", ErrUnsupportedRelation, rel, rel.Target.Name, target.model.Name)
	}
	r.values[rel.ForeignKey.Name] = target.PK()
	r.related[name] = target
	return nil
}

func (r *Record) setRelated(name string, value interface{}) {
	switch v := value.(type) {
	case *Record:
		r.related[name] = v
	case []*Record:
		if v == nil {
			v = []*Record{}
		}
		r.related[name] = v
	default:
		r.related[name] = value
	}
}

// RelatedCached returns the cached value for a relation without fetching
func (r *Record) RelatedCached(name string) (interface{}, bool) {
	v, ok := r.related[name]
	return v, ok
}

// Related returns the record behind a single-valued relation, nil when the
// relation is unset. Served from the relation cache when eagerly loaded;
// otherwise triggers one lazy fetch.
func (r *Record) Related(ctx context.Context, name string) (*Record, error) {
	rel, ok := r.model.Relationships.Relations[name]
	if !ok {
		return nil, &query.UnknownFieldError{Model: r.model.Name, Segment: name, Path: name}
	}
	if rel.ManyValued() {
		return nil, fmt.Errorf("%w: %s is many-valued, use RelatedAll", ErrUnsupportedRelation, rel)
	}
	if cached, ok := r.related[name]; ok {
		rec, _ := cached.(*Record)
		return rec, nil
	}

	var rec *Record
	if rel.Forward() {
		fk := r.values[rel.ForeignKey.Name]
		if fk == nil {
			r.related[name] = (*Record)(nil)
			return nil, nil
		}
		found, err := r.engine.Model(rel.Target.Name).
			Filter(query.Eq(schema.PrimaryKeyName, fk)).
			Limit(1).All(ctx)
		if err != nil {
			return nil, err
		}
		if len(found) > 0 {
			rec = found[0]
		}
	} else {
		found, err := r.engine.Model(rel.Target.Name).
			Filter(query.Eq(rel.ForeignKey.Name, r.PK())).
			Limit(1).All(ctx)
		if err != nil {
			return nil, err
		}
		if len(found) > 0 {
			rec = found[0]
		}
	}

	r.related[name] = rec
	return rec, nil
}

// RelatedAll returns the records behind a many-valued relation. Served from
// the relation cache when eagerly loaded; otherwise triggers one lazy fetch
// (the condition eager loading exists to let callers avoid).
func (r *Record) RelatedAll(ctx context.Context, name string) ([]*Record, error) {
	rel, ok := r.model.Relationships.Relations[name]
	if !ok {
		return nil, &query.UnknownFieldError{Model: r.model.Name, Segment: name, Path: name}
	}
	if !rel.ManyValued() {
		return nil, fmt.Errorf("%w: %s is single-valued, use Related", ErrUnsupportedRelation, rel)
	}
	if cached, ok := r.related[name]; ok {
		recs, _ := cached.([]*Record)
		return recs, nil
	}

	recs, err := r.Association(name).All(ctx)
	if err != nil {
		return nil, err
	}
	r.setRelated(name, recs)
	return recs, nil
}

// Refresh re-fetches the record's fields by primary key and drops the
// relation cache
func (r *Record) Refresh(ctx context.Context) error {
	found, err := r.engine.Model(r.model.Name).
		Filter(query.Eq(schema.PrimaryKeyName, r.PK())).
		Limit(1).All(ctx)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		return ErrRecordNotFound
	}
	r.values = found[0].values
	r.related = map[string]interface{}{}
	return nil
}
