package schema

import (
	"fmt"
	"time"

	"github.com/jinzhu/now"
)

// DataType scalar field type
type DataType string

const (
	Bool   DataType = "bool"
	Int    DataType = "int"
	Float  DataType = "float"
	String DataType = "string"
	Time   DataType = "time"
	Bytes  DataType = "bytes"
)

// FieldDef declares a scalar field on a ModelDef
type FieldDef struct {
	Name       string
	Type       DataType
	Nullable   bool
	Unique     bool
	Default    interface{}
	AutoNowAdd bool
}

// Field compiled field descriptor, immutable after registration
type Field struct {
	Name            string
	DBName          string
	DataType        DataType
	PrimaryKey      bool
	AutoIncrement   bool
	Nullable        bool
	Unique          bool
	HasDefaultValue bool
	DefaultValue    interface{}
	AutoNowAdd      bool
	Model           *Model
	// set for foreign key columns synthesized from a relation
	Relation *Relationship
}

func (field *Field) String() string {
	return fmt.Sprintf("%s.%s", field.Model.Name, field.Name)
}

// Orderable reports whether the field supports gt/gte/lt/lte/range lookups
func (field *Field) Orderable() bool {
	switch field.DataType {
	case Int, Float, String, Time:
		return true
	}
	return false
}

// CoerceValue converts value into the field's storage representation.
// Strings are accepted for Time fields and parsed with flexible formats.
func (field *Field) CoerceValue(value interface{}) (interface{}, error) {
	if value == nil {
		if !field.Nullable {
			return nil, fmt.Errorf("field %s is not nullable", field)
		}
		return nil, nil
	}

	switch field.DataType {
	case Bool:
		if v, ok := value.(bool); ok {
			return v, nil
		}
	case Int:
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case int64:
			return v, nil
		case uint:
			return int64(v), nil
		case float64:
			if v == float64(int64(v)) {
				return int64(v), nil
			}
		}
	case Float:
		switch v := value.(type) {
		case float32:
			return float64(v), nil
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		}
	case String:
		if v, ok := value.(string); ok {
			return v, nil
		}
	case Time:
		switch v := value.(type) {
		case time.Time:
			return v, nil
		case string:
			if t, err := now.Parse(v); err == nil {
				return t, nil
			}
		}
	case Bytes:
		switch v := value.(type) {
		case []byte:
			return v, nil
		case string:
			return []byte(v), nil
		}
	}

	return nil, fmt.Errorf("cannot use %T value as %s for field %s", value, field.DataType, field)
}
