// Package schema models the class graph content queries are compiled against.
// Classes map to tables, relationships to foreign keys or link tables, and
// properties to columns. The Graph type answers the class, relationship and
// path lookups the compiler needs.
package schema

import (
	"errors"
	"strings"
)

// Default column names used when a class does not override them.
const (
	DefaultIDColumn     = "Id"
	DefaultSourceColumn = "SourceId"
	DefaultTargetColumn = "TargetId"
)

// ErrClassNotFound is returned when a class id or name cannot be resolved.
var ErrClassNotFound = errors.New("class not found")

// ErrInvalidSchema is returned when a class graph fails validation.
var ErrInvalidSchema = errors.New("invalid schema")

// ClassID identifies a class. Ids are stable for the lifetime of a Graph.
type ClassID uint64

// Modifier distinguishes concrete classes from ones that cannot have instances.
type Modifier int

const (
	ModifierConcrete Modifier = iota
	ModifierAbstract
	ModifierSealed
)

// String returns the modifier keyword used in schema files.
func (m Modifier) String() string {
	switch m {
	case ModifierAbstract:
		return "abstract"
	case ModifierSealed:
		return "sealed"
	default:
		return "concrete"
	}
}

// PropertyKind classifies how a property is stored and appended.
type PropertyKind int

const (
	PropertyPrimitive PropertyKind = iota
	PropertyEnum
	PropertyNavigation
	PropertyStruct
	PropertyArray
)

// String returns the kind keyword used in schema files.
func (k PropertyKind) String() string {
	switch k {
	case PropertyEnum:
		return "enum"
	case PropertyNavigation:
		return "navigation"
	case PropertyStruct:
		return "struct"
	case PropertyArray:
		return "array"
	default:
		return "primitive"
	}
}

// EnumValue is one enumerator of an enum property.
type EnumValue struct {
	Value any
	Label string
}

// Navigation describes the relationship a navigation property follows.
// Forward means the property's class is the relationship source.
type Navigation struct {
	Relationship string
	Forward      bool
}

// Property is a class member stored in a column.
type Property struct {
	Name       string
	Column     string
	Kind       PropertyKind
	Type       string
	Label      string
	Category   string
	EnumValues []EnumValue
	Navigation *Navigation
}

// DisplayLabel returns the property label, falling back to its name.
func (p Property) DisplayLabel() string {
	if p.Label != "" {
		return p.Label
	}
	return p.Name
}

// EnumLabel returns the label of an enum value.
func (p Property) EnumLabel(value any) (string, bool) {
	for _, ev := range p.EnumValues {
		if ev.Value == value {
			return ev.Label, true
		}
	}
	return "", false
}

// Storage is how a relationship is persisted.
type Storage int

const (
	// StorageForeignKey keeps the related id in a column on one end's table.
	StorageForeignKey Storage = iota
	// StorageLinkTable keeps source/target id pairs in the relationship's own table.
	StorageLinkTable
)

// End identifies a relationship end.
type End int

const (
	EndSource End = iota
	EndTarget
)

// RelationshipEnd is the constraint on one side of a relationship.
type RelationshipEnd struct {
	Class       string
	Many        bool
	Polymorphic bool
}

// RelationshipInfo is carried by classes that are relationships.
type RelationshipInfo struct {
	Source   RelationshipEnd
	Target   RelationshipEnd
	Strategy Storage
	// ForeignKeyEnd names the end whose table holds ForeignKeyColumn.
	ForeignKeyEnd    End
	ForeignKeyColumn string
	// Link-table columns; the table is the relationship class table.
	SourceColumn string
	TargetColumn string
}

// Class is an entity type or a relationship type.
type Class struct {
	ID            ClassID
	Schema        string
	Name          string
	Label         string
	Table         string
	IDColumn      string
	ClassIDColumn string
	Modifier      Modifier
	BaseIDs       []ClassID
	Properties    []Property
	LabelProperty string
	Relationship  *RelationshipInfo
}

// FullName returns "Schema:Name".
func (c *Class) FullName() string {
	if c.Schema == "" {
		return c.Name
	}
	return c.Schema + ":" + c.Name
}

// DisplayLabel returns the class label, falling back to its name.
func (c *Class) DisplayLabel() string {
	if c.Label != "" {
		return c.Label
	}
	return c.Name
}

// IsAbstract reports whether the class cannot have direct instances.
func (c *Class) IsAbstract() bool {
	return c.Modifier == ModifierAbstract
}

// IsRelationship reports whether the class is a relationship class.
func (c *Class) IsRelationship() bool {
	return c.Relationship != nil
}

// PrimaryKey returns the instance id column.
func (c *Class) PrimaryKey() string {
	if c.IDColumn == "" {
		return DefaultIDColumn
	}
	return c.IDColumn
}

// HasDiscriminator reports whether rows of several classes share the table.
func (c *Class) HasDiscriminator() bool {
	return c.ClassIDColumn != ""
}

// Property returns a declared property by name (case-insensitive).
func (c *Class) Property(name string) (Property, bool) {
	for _, p := range c.Properties {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Property{}, false
}

// ParseFullName splits "Schema:Name" or "Schema.Name". A bare name returns an
// empty schema.
func ParseFullName(name string) (schemaName, className string) {
	if i := strings.IndexAny(name, ":."); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}
