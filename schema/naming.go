package schema

import (
	"strings"
	"sync"

	"github.com/jinzhu/inflection"
)

// Namer naming strategy for tables, columns and derived reverse accessors
type Namer interface {
	TableName(model string) string
	ColumnName(field string) string
	JoinTableName(owner, relation string) string
	ForeignKeyName(relation string) string
	ReverseName(owner string, manyValued bool) string
}

// NamingStrategy default naming strategy: snake_case columns, pluralized
// tables and many-valued reverse accessors
type NamingStrategy struct {
	TablePrefix   string
	SingularTable bool
}

// TableName convert model name to table name
func (ns NamingStrategy) TableName(model string) string {
	if ns.SingularTable {
		return ns.TablePrefix + toDBName(model)
	}
	return ns.TablePrefix + inflection.Plural(toDBName(model))
}

// ColumnName convert field name to column name
func (ns NamingStrategy) ColumnName(field string) string {
	return toDBName(field)
}

// JoinTableName name for the implicit many-to-many join table
func (ns NamingStrategy) JoinTableName(owner, relation string) string {
	return ns.TablePrefix + toDBName(owner) + "_" + toDBName(relation)
}

// ForeignKeyName column holding a forward relation's key
func (ns NamingStrategy) ForeignKeyName(relation string) string {
	return toDBName(relation) + "_id"
}

// ReverseName derived accessor for the non-owning side: pluralized owner name
// for many-valued reverses, singular owner name otherwise
func (ns NamingStrategy) ReverseName(owner string, manyValued bool) string {
	name := toDBName(owner)
	if manyValued {
		return inflection.Plural(name)
	}
	return name
}

var smap sync.Map

func toDBName(name string) string {
	if name == "" {
		return ""
	} else if v, ok := smap.Load(name); ok {
		return v.(string)
	}

	var (
		buf               strings.Builder
		lastCase, curCase bool
	)

	for i, r := range name {
		curCase = r >= 'A' && r <= 'Z'
		if curCase {
			if i > 0 && !lastCase && name[i-1] != '_' {
				buf.WriteByte('_')
			}
			buf.WriteRune(r + 32)
		} else {
			buf.WriteRune(r)
		}
		lastCase = curCase
	}

	result := buf.String()
	smap.Store(name, result)
	return result
}
