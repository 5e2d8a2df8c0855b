package schema

import (
	"reflect"
	"sort"
	"strings"
	"sync"
)

// PrimaryKeyName name of the implicit auto-increment primary key added to
// every model
const PrimaryKeyName = "id"

// ModelDef declares a model for registration. Definitions are value objects;
// the Registry compiles them into immutable Model descriptors.
type ModelDef struct {
	Name      string
	Table     string
	Fields    []FieldDef
	Relations []RelationDef
	// Ordering default ordering applied when a query specifies none,
	// "-" prefix for descending, local fields only
	Ordering []string
}

// Model compiled model descriptor, immutable after registration
type Model struct {
	Name           string
	Table          string
	PrimaryField   *Field
	Fields         []*Field
	FieldsByName   map[string]*Field
	FieldsByDBName map[string]*Field
	Relationships  Relationships
	Ordering       []string
}

func (model *Model) String() string { return model.Name }

// LookUpField finds a field by name or column name
func (model *Model) LookUpField(name string) *Field {
	if field, ok := model.FieldsByName[name]; ok {
		return field
	}
	if field, ok := model.FieldsByDBName[name]; ok {
		return field
	}
	return nil
}

// UniqueSets column sets the storage backend must keep unique
func (model *Model) UniqueSets() [][]string {
	var sets [][]string
	for _, field := range model.Fields {
		if field.Unique && !field.PrimaryKey {
			sets = append(sets, []string{field.DBName})
		}
	}
	return sets
}

// Registry holds compiled model descriptors. Populated at startup via
// Register, read-only afterwards; concurrent reads need no coordination
// beyond the internal lock taken during registration.
type Registry struct {
	namer  Namer
	mu     sync.RWMutex
	models map[string]*Model
	defs   map[string]ModelDef
}

// NewRegistry creates an empty registry, nil namer means the default
// NamingStrategy
func NewRegistry(namer Namer) *Registry {
	if namer == nil {
		namer = NamingStrategy{}
	}
	return &Registry{
		namer:  namer,
		models: map[string]*Model{},
		defs:   map[string]ModelDef{},
	}
}

// Namer returns the registry's naming strategy
func (r *Registry) Namer() Namer { return r.namer }

// Model returns a registered model by name
func (r *Registry) Model(name string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	model, ok := r.models[name]
	return model, ok
}

// Models returns all registered models, sorted by name
func (r *Registry) Models() []*Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	models := make([]*Model, 0, len(r.models))
	for _, model := range r.models {
		models = append(models, model)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })
	return models
}

// Register validates and compiles model definitions. All definitions in one
// call are resolved together, so mutually referencing models may be
// registered in any order. Registration is atomic: on error the registry is
// unchanged. Re-registering an identical definition is a no-op; a differing
// one fails with DuplicateModelError.
func (r *Registry) Register(defs ...*ModelDef) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	staged := map[string]*Model{}
	var order []*ModelDef

	for _, def := range defs {
		if def.Name == "" {
			return definitionErr("", "model name required")
		}
		if existing, ok := r.defs[def.Name]; ok {
			if reflect.DeepEqual(existing, *def) {
				continue
			}
			return &DuplicateModelError{Model: def.Name}
		}
		if _, ok := staged[def.Name]; ok {
			return &DuplicateModelError{Model: def.Name}
		}

		model, err := r.compileFields(def)
		if err != nil {
			return err
		}
		staged[def.Name] = model
		order = append(order, def)
	}

	lookup := func(name string) (*Model, bool) {
		if model, ok := staged[name]; ok {
			return model, true
		}
		model, ok := r.models[name]
		return model, ok
	}

	var forward []*Relationship
	for _, def := range order {
		model := staged[def.Name]
		for i := range def.Relations {
			rel, err := r.compileRelation(model, &def.Relations[i], lookup)
			if err != nil {
				return err
			}
			forward = append(forward, rel)
		}
	}

	for _, rel := range forward {
		if rel.Kind == ManyToMany {
			if err := r.resolveJoinTable(rel, lookup); err != nil {
				return err
			}
		}
	}

	// reverse closure: validate all derived accessors before attaching any,
	// so a collision leaves previously registered targets untouched
	reverses := make([]*Relationship, 0, len(forward))
	pending := map[*Model]map[string]*Relationship{}
	for _, rel := range forward {
		reverse, err := r.deriveReverse(rel)
		if err != nil {
			return err
		}
		if siblings := pending[reverse.Model]; siblings != nil {
			if other, ok := siblings[reverse.Name]; ok {
				return definitionErr(reverse.Model.Name,
					"reverse accessor %s derived for both %s and %s; set an explicit reverse name",
					reverse.Name, other.Inverse, rel)
			}
		} else {
			pending[reverse.Model] = map[string]*Relationship{}
		}
		pending[reverse.Model][reverse.Name] = reverse
		reverses = append(reverses, reverse)
	}
	for idx, reverse := range reverses {
		reverse.Model.Relationships.add(reverse)
		forward[idx].Inverse = reverse
	}

	for name, model := range staged {
		r.models[name] = model
	}
	for _, def := range order {
		r.defs[def.Name] = *def
	}
	return nil
}

func (r *Registry) compileFields(def *ModelDef) (*Model, error) {
	table := def.Table
	if table == "" {
		table = r.namer.TableName(def.Name)
	}

	model := &Model{
		Name:           def.Name,
		Table:          table,
		FieldsByName:   map[string]*Field{},
		FieldsByDBName: map[string]*Field{},
		Relationships:  Relationships{Relations: map[string]*Relationship{}},
		Ordering:       def.Ordering,
	}

	pk := &Field{
		Name:          PrimaryKeyName,
		DBName:        PrimaryKeyName,
		DataType:      Int,
		PrimaryKey:    true,
		AutoIncrement: true,
		Unique:        true,
		Model:         model,
	}
	model.PrimaryField = pk
	if err := model.addField(pk); err != nil {
		return nil, err
	}

	for i := range def.Fields {
		fd := &def.Fields[i]
		if fd.Name == "" {
			return nil, definitionErr(def.Name, "field name required")
		}
		switch fd.Type {
		case Bool, Int, Float, String, Time, Bytes:
		default:
			return nil, definitionErr(def.Name, "field %s has unknown type %q", fd.Name, fd.Type)
		}
		if fd.AutoNowAdd && fd.Type != Time {
			return nil, definitionErr(def.Name, "field %s: auto-now-add requires a time field", fd.Name)
		}
		field := &Field{
			Name:            fd.Name,
			DBName:          r.namer.ColumnName(fd.Name),
			DataType:        fd.Type,
			Nullable:        fd.Nullable,
			Unique:          fd.Unique,
			HasDefaultValue: fd.Default != nil,
			DefaultValue:    fd.Default,
			AutoNowAdd:      fd.AutoNowAdd,
			Model:           model,
		}
		if err := model.addField(field); err != nil {
			return nil, err
		}
	}

	for _, ord := range def.Ordering {
		name := strings.TrimPrefix(ord, "-")
		if model.LookUpField(name) == nil {
			return nil, definitionErr(def.Name, "ordering references unknown field %s", name)
		}
	}
	return model, nil
}

func (model *Model) addField(field *Field) error {
	if _, ok := model.FieldsByName[field.Name]; ok {
		return definitionErr(model.Name, "duplicate field %s", field.Name)
	}
	if _, ok := model.FieldsByDBName[field.DBName]; ok {
		return definitionErr(model.Name, "duplicate column %s", field.DBName)
	}
	model.Fields = append(model.Fields, field)
	model.FieldsByName[field.Name] = field
	model.FieldsByDBName[field.DBName] = field
	return nil
}

func (r *Registry) compileRelation(model *Model, rd *RelationDef, lookup func(string) (*Model, bool)) (*Relationship, error) {
	if rd.Name == "" {
		return nil, definitionErr(model.Name, "relation name required")
	}
	if _, ok := model.FieldsByName[rd.Name]; ok {
		return nil, definitionErr(model.Name, "relation %s collides with a field", rd.Name)
	}
	if _, ok := model.Relationships.Relations[rd.Name]; ok {
		return nil, definitionErr(model.Name, "duplicate relation %s", rd.Name)
	}

	target, ok := lookup(rd.Target)
	if !ok {
		return nil, definitionErr(model.Name, "relation %s targets unknown model %s", rd.Name, rd.Target)
	}

	rel := &Relationship{
		Name:            rd.Name,
		Kind:            rd.Kind,
		Model:           model,
		Target:          target,
		Owning:          true,
		OnDelete:        rd.OnDelete,
		Default:         rd.Default,
		explicitReverse: rd.ReverseName,
		throughName:     rd.Through,
	}
	if rel.OnDelete == "" {
		rel.OnDelete = Cascade
	}

	switch rd.Kind {
	case ManyToOne, OneToOne:
		if rd.Through != "" {
			return nil, definitionErr(model.Name, "relation %s: through model is only valid for many-to-many", rd.Name)
		}
		if rel.OnDelete == SetNull && !rd.Nullable {
			return nil, definitionErr(model.Name, "relation %s: set-null requires a nullable relation", rd.Name)
		}
		if rel.OnDelete == SetDefault && rd.Default == nil {
			return nil, definitionErr(model.Name, "relation %s: set-default requires a declared default", rd.Name)
		}
		fk := &Field{
			Name:     r.namer.ForeignKeyName(rd.Name),
			DataType: Int,
			Nullable: rd.Nullable,
			Unique:   rd.Kind == OneToOne,
			Model:    model,
			Relation: rel,
		}
		fk.DBName = fk.Name
		if err := model.addField(fk); err != nil {
			return nil, err
		}
		rel.ForeignKey = fk
	case ManyToMany:
		if rd.OnDelete != "" && rd.OnDelete != Cascade {
			return nil, definitionErr(model.Name, "relation %s: many-to-many supports only cascade deletion of join rows", rd.Name)
		}
		// join table resolved in a later pass, once the through model's own
		// relations are compiled
	default:
		return nil, definitionErr(model.Name, "relation %s has unknown kind %q", rd.Name, rd.Kind)
	}

	model.Relationships.add(rel)
	return rel, nil
}

func (r *Registry) resolveJoinTable(rel *Relationship, lookup func(string) (*Model, bool)) error {
	if rel.throughName == "" {
		rel.JoinTable = r.namer.JoinTableName(rel.Model.Name, rel.Name)
		rel.JoinOwnerKey = r.namer.ForeignKeyName(rel.Model.Name)
		rel.JoinTargetKey = r.namer.ForeignKeyName(rel.Target.Name)
		if rel.JoinOwnerKey == rel.JoinTargetKey {
			// self-referencing many-to-many
			rel.JoinOwnerKey = "from_" + rel.JoinOwnerKey
			rel.JoinTargetKey = "to_" + rel.JoinTargetKey
		}
		return nil
	}

	through, ok := lookup(rel.throughName)
	if !ok {
		return definitionErr(rel.Model.Name, "relation %s: through model %s not registered", rel.Name, rel.throughName)
	}

	var toOwner, toTarget *Relationship
	fks := through.Relationships.ManyToOne
	if len(fks) != 2 {
		return definitionErr(through.Name, "through model for %s must declare exactly two many-to-one relations, has %d", rel, len(fks))
	}
	for _, fk := range fks {
		switch {
		case fk.Target == rel.Model && toOwner == nil:
			toOwner = fk
		case fk.Target == rel.Target:
			toTarget = fk
		}
	}
	if toOwner == nil || toTarget == nil {
		return definitionErr(through.Name, "through model for %s must reference both %s and %s", rel, rel.Model.Name, rel.Target.Name)
	}

	rel.Through = through
	rel.JoinTable = through.Table
	rel.JoinOwnerKey = toOwner.ForeignKey.DBName
	rel.JoinTargetKey = toTarget.ForeignKey.DBName
	return nil
}

func (r *Registry) deriveReverse(rel *Relationship) (*Relationship, error) {
	name := rel.reverseName(r.namer)
	target := rel.Target

	if _, ok := target.FieldsByName[name]; ok {
		return nil, definitionErr(target.Name, "reverse accessor %s for %s collides with a field", name, rel)
	}
	if other, ok := target.Relationships.Relations[name]; ok {
		return nil, definitionErr(target.Name,
			"reverse accessor %s for %s collides with %s; set an explicit reverse name", name, rel, other)
	}

	reverse := &Relationship{
		Name:          name,
		Kind:          reverseKind(rel.Kind),
		Model:         target,
		Target:        rel.Model,
		Owning:        false,
		Inverse:       rel,
		ForeignKey:    rel.ForeignKey,
		OnDelete:      rel.OnDelete,
		Default:       rel.Default,
		JoinTable:     rel.JoinTable,
		JoinOwnerKey:  rel.JoinTargetKey,
		JoinTargetKey: rel.JoinOwnerKey,
		Through:       rel.Through,
	}
	return reverse, nil
}

func (rel *Relationship) reverseName(namer Namer) string {
	if rel.explicitReverse != "" {
		return rel.explicitReverse
	}
	return namer.ReverseName(rel.Model.Name, reverseKind(rel.Kind) != HasOne)
}

// JoinUniqueSets unique constraints for a many-to-many join table: the
// related pair must be unique
func (rel *Relationship) JoinUniqueSets() [][]string {
	return [][]string{{rel.JoinOwnerKey, rel.JoinTargetKey}}
}
