// Package sqltype maps MySQL/TiDB column types to the primitive type names
// used by class properties and field descriptors.
package sqltype

import "strings"

// Type is the primitive category of a column.
type Type int

const (
	// TypeString covers text, binary, enum, set and unknown types.
	TypeString Type = iota
	// TypeInt covers integer and bit types.
	TypeInt
	// TypeDouble covers floating-point and fixed-point types.
	TypeDouble
	// TypeBoolean covers BOOL and tinyint(1).
	TypeBoolean
	// TypeDateTime covers date and time types.
	TypeDateTime
	// TypeJSON covers JSON columns.
	TypeJSON
)

// Map classifies a column. dataType is INFORMATION_SCHEMA.COLUMNS.DATA_TYPE;
// columnType is the full COLUMN_TYPE and may be empty. Matching is
// case-insensitive and size specifiers are ignored.
func Map(dataType, columnType string) Type {
	base := strings.ToLower(strings.TrimSpace(dataType))
	if idx := strings.Index(base, "("); idx != -1 {
		base = base[:idx]
	}
	switch base {
	case "tinyint":
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(columnType)), "tinyint(1)") {
			return TypeBoolean
		}
		return TypeInt
	case "smallint", "mediumint", "int", "integer", "bigint", "serial", "bit", "year":
		return TypeInt
	case "float", "double", "real", "decimal", "numeric":
		return TypeDouble
	case "bool", "boolean":
		return TypeBoolean
	case "date", "datetime", "timestamp", "time":
		return TypeDateTime
	case "json":
		return TypeJSON
	default:
		return TypeString
	}
}

// Parse converts a property type name back to a Type. Unknown names map to
// TypeString.
func Parse(name string) Type {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "int", "long", "integer":
		return TypeInt
	case "double", "float":
		return TypeDouble
	case "boolean", "bool":
		return TypeBoolean
	case "datetime":
		return TypeDateTime
	case "json":
		return TypeJSON
	default:
		return TypeString
	}
}

// String returns the property type name.
func (t Type) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeDouble:
		return "double"
	case TypeBoolean:
		return "boolean"
	case TypeDateTime:
		return "dateTime"
	case TypeJSON:
		return "json"
	default:
		return "string"
	}
}

// Numeric reports whether values of the type compare numerically.
func (t Type) Numeric() bool {
	return t == TypeInt || t == TypeDouble
}
