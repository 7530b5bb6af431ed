package schema

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type fileDocument struct {
	Schemas []fileSchema `yaml:"schemas"`
}

type fileSchema struct {
	Name          string             `yaml:"name"`
	Classes       []fileClass        `yaml:"classes"`
	Relationships []fileRelationship `yaml:"relationships"`
}

type fileClass struct {
	ID            uint64         `yaml:"id"`
	Name          string         `yaml:"name"`
	Label         string         `yaml:"label"`
	Table         string         `yaml:"table"`
	IDColumn      string         `yaml:"id_column"`
	ClassIDColumn string         `yaml:"class_id_column"`
	Modifier      string         `yaml:"modifier"`
	Bases         []string       `yaml:"bases"`
	LabelProperty string         `yaml:"label_property"`
	Properties    []fileProperty `yaml:"properties"`
}

type fileProperty struct {
	Name         string          `yaml:"name"`
	Column       string          `yaml:"column"`
	Kind         string          `yaml:"kind"`
	Type         string          `yaml:"type"`
	Label        string          `yaml:"label"`
	Category     string          `yaml:"category"`
	Enum         []fileEnumValue `yaml:"enum"`
	Relationship string          `yaml:"relationship"`
	Forward      bool            `yaml:"forward"`
}

type fileEnumValue struct {
	Value any    `yaml:"value"`
	Label string `yaml:"label"`
}

type fileEnd struct {
	Class       string `yaml:"class"`
	Many        bool   `yaml:"many"`
	Polymorphic *bool  `yaml:"polymorphic"`
}

type fileRelationship struct {
	ID               uint64         `yaml:"id"`
	Name             string         `yaml:"name"`
	Label            string         `yaml:"label"`
	Source           fileEnd        `yaml:"source"`
	Target           fileEnd        `yaml:"target"`
	Storage          string         `yaml:"storage"`
	ForeignKeyEnd    string         `yaml:"foreign_key_end"`
	ForeignKeyColumn string         `yaml:"foreign_key_column"`
	Table            string         `yaml:"table"`
	SourceColumn     string         `yaml:"source_column"`
	TargetColumn     string         `yaml:"target_column"`
	Properties       []fileProperty `yaml:"properties"`
}

// LoadFile reads a YAML schema file and builds a Graph.
func LoadFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file %s: %w", path, err)
	}
	g, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

// Parse builds a Graph from a YAML schema document. Classes and relationships
// without an explicit id are numbered after the highest explicit id, in file
// order. Base classes are referenced by name.
func Parse(data []byte) (*Graph, error) {
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	var maxID uint64
	for _, s := range doc.Schemas {
		for _, c := range s.Classes {
			maxID = max(maxID, c.ID)
		}
		for _, r := range s.Relationships {
			maxID = max(maxID, r.ID)
		}
	}
	next := func(id uint64) ClassID {
		if id != 0 {
			return ClassID(id)
		}
		maxID++
		return ClassID(maxID)
	}

	var classes []Class
	ids := map[string]ClassID{}
	type pendingBases struct {
		index  int
		schema string
		bases  []string
	}
	var pending []pendingBases

	for _, s := range doc.Schemas {
		for _, fc := range s.Classes {
			props, err := convertProperties(fc.Properties)
			if err != nil {
				return nil, fmt.Errorf("class %s: %w", fc.Name, err)
			}
			c := Class{
				ID:            next(fc.ID),
				Schema:        s.Name,
				Name:          fc.Name,
				Label:         fc.Label,
				Table:         fc.Table,
				IDColumn:      fc.IDColumn,
				ClassIDColumn: fc.ClassIDColumn,
				Modifier:      parseModifier(fc.Modifier),
				LabelProperty: fc.LabelProperty,
				Properties:    props,
			}
			ids[strings.ToLower(c.FullName())] = c.ID
			if len(fc.Bases) > 0 {
				pending = append(pending, pendingBases{index: len(classes), schema: s.Name, bases: fc.Bases})
			}
			classes = append(classes, c)
		}
		for _, fr := range s.Relationships {
			props, err := convertProperties(fr.Properties)
			if err != nil {
				return nil, fmt.Errorf("relationship %s: %w", fr.Name, err)
			}
			rel := &RelationshipInfo{
				Source:           convertEnd(s.Name, fr.Source),
				Target:           convertEnd(s.Name, fr.Target),
				ForeignKeyColumn: fr.ForeignKeyColumn,
				SourceColumn:     fr.SourceColumn,
				TargetColumn:     fr.TargetColumn,
			}
			switch strings.ToLower(fr.Storage) {
			case "link_table", "linktable":
				rel.Strategy = StorageLinkTable
			case "", "foreign_key", "foreignkey":
				rel.Strategy = StorageForeignKey
			default:
				return nil, fmt.Errorf("%w: relationship %s has unknown storage %q", ErrInvalidSchema, fr.Name, fr.Storage)
			}
			if strings.EqualFold(fr.ForeignKeyEnd, "source") {
				rel.ForeignKeyEnd = EndSource
			} else {
				rel.ForeignKeyEnd = EndTarget
			}
			c := Class{
				ID:           next(fr.ID),
				Schema:       s.Name,
				Name:         fr.Name,
				Label:        fr.Label,
				Table:        fr.Table,
				Modifier:     ModifierSealed,
				Properties:   props,
				Relationship: rel,
			}
			ids[strings.ToLower(c.FullName())] = c.ID
			classes = append(classes, c)
		}
	}

	for _, p := range pending {
		for _, base := range p.bases {
			name := base
			if !strings.ContainsAny(name, ":.") {
				name = p.schema + ":" + name
			}
			schemaName, className := ParseFullName(name)
			id, ok := ids[strings.ToLower(schemaName+":"+className)]
			if !ok {
				return nil, fmt.Errorf("%w: class %s references unknown base %s", ErrInvalidSchema, classes[p.index].FullName(), base)
			}
			classes[p.index].BaseIDs = append(classes[p.index].BaseIDs, id)
		}
	}

	return NewGraph(classes)
}

func convertEnd(schemaName string, end fileEnd) RelationshipEnd {
	name := end.Class
	if name != "" && !strings.ContainsAny(name, ":.") {
		name = schemaName + ":" + name
	}
	polymorphic := true
	if end.Polymorphic != nil {
		polymorphic = *end.Polymorphic
	}
	return RelationshipEnd{Class: name, Many: end.Many, Polymorphic: polymorphic}
}

func convertProperties(in []fileProperty) ([]Property, error) {
	out := make([]Property, 0, len(in))
	for _, fp := range in {
		if fp.Name == "" {
			return nil, fmt.Errorf("%w: property without a name", ErrInvalidSchema)
		}
		p := Property{
			Name:     fp.Name,
			Column:   fp.Column,
			Type:     fp.Type,
			Label:    fp.Label,
			Category: fp.Category,
		}
		if p.Column == "" {
			p.Column = fp.Name
		}
		if p.Type == "" {
			p.Type = "string"
		}
		switch strings.ToLower(fp.Kind) {
		case "", "primitive":
			p.Kind = PropertyPrimitive
		case "enum":
			p.Kind = PropertyEnum
			for _, ev := range fp.Enum {
				p.EnumValues = append(p.EnumValues, EnumValue{Value: ev.Value, Label: ev.Label})
			}
		case "navigation":
			p.Kind = PropertyNavigation
			p.Navigation = &Navigation{Relationship: fp.Relationship, Forward: fp.Forward}
		case "struct":
			p.Kind = PropertyStruct
		case "array":
			p.Kind = PropertyArray
		default:
			return nil, fmt.Errorf("%w: property %s has unknown kind %q", ErrInvalidSchema, fp.Name, fp.Kind)
		}
		out = append(out, p)
	}
	return out, nil
}

func parseModifier(s string) Modifier {
	switch strings.ToLower(s) {
	case "abstract":
		return ModifierAbstract
	case "sealed":
		return ModifierSealed
	default:
		return ModifierConcrete
	}
}
