package schema

import "fmt"

// RelationKind relationship kind. ManyToOne, OneToOne and ManyToMany are
// declared on the owning side; HasMany and HasOne are synthesized reverses.
type RelationKind string

const (
	ManyToOne  RelationKind = "many_to_one"
	OneToOne   RelationKind = "one_to_one"
	ManyToMany RelationKind = "many_to_many"
	HasMany    RelationKind = "has_many"
	HasOne     RelationKind = "has_one"
)

// DeletePolicy behavior applied to dependents when the referenced record is
// deleted
type DeletePolicy string

const (
	Cascade    DeletePolicy = "cascade"
	Protect    DeletePolicy = "protect"
	SetNull    DeletePolicy = "set_null"
	SetDefault DeletePolicy = "set_default"
	DoNothing  DeletePolicy = "do_nothing"
)

// RelationDef declares a relation on the owning model
type RelationDef struct {
	Name        string
	Kind        RelationKind
	Target      string
	ReverseName string
	OnDelete    DeletePolicy
	Nullable    bool
	Default     interface{}
	// Through names an explicit join model for ManyToMany relations carrying
	// extra attributes
	Through string
}

type Relationships struct {
	Relations  map[string]*Relationship
	ManyToOne  []*Relationship
	OneToOne   []*Relationship
	ManyToMany []*Relationship
	HasMany    []*Relationship
	HasOne     []*Relationship
}

func (rels *Relationships) add(rel *Relationship) {
	rels.Relations[rel.Name] = rel
	switch rel.Kind {
	case ManyToOne:
		rels.ManyToOne = append(rels.ManyToOne, rel)
	case OneToOne:
		rels.OneToOne = append(rels.OneToOne, rel)
	case ManyToMany:
		rels.ManyToMany = append(rels.ManyToMany, rel)
	case HasMany:
		rels.HasMany = append(rels.HasMany, rel)
	case HasOne:
		rels.HasOne = append(rels.HasOne, rel)
	}
}

// Relationship compiled relation descriptor. Exactly one side is owning; the
// reverse descriptor is synthesized during registration and linked via
// Inverse.
type Relationship struct {
	Name    string
	Kind    RelationKind
	Model   *Model
	Target  *Model
	Owning  bool
	Inverse *Relationship

	// ForeignKey is the synthesized key column. For ManyToOne/OneToOne it
	// lives on the owning model; for their reverses it is the same column
	// seen from the target side. Nil for ManyToMany.
	ForeignKey *Field

	OnDelete DeletePolicy
	Default  interface{}

	// ManyToMany join table plumbing. When Through is set the join table is
	// the through model's table and the key columns are its foreign keys.
	JoinTable     string
	JoinOwnerKey  string
	JoinTargetKey string
	Through       *Model

	explicitReverse string
	throughName     string
}

func (rel *Relationship) String() string {
	return fmt.Sprintf("%s.%s", rel.Model.Name, rel.Name)
}

// ManyValued reports whether the accessor yields a collection
func (rel *Relationship) ManyValued() bool {
	return rel.Kind == ManyToMany || rel.Kind == HasMany
}

// Forward reports whether the relation is traversed from the owning side
func (rel *Relationship) Forward() bool {
	return rel.Owning
}

func reverseKind(kind RelationKind) RelationKind {
	switch kind {
	case ManyToOne:
		return HasMany
	case OneToOne:
		return HasOne
	case ManyToMany:
		return ManyToMany
	}
	return ""
}
