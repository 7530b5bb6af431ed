package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Graph is an immutable, validated class graph. It is safe for concurrent
// readers once built.
type Graph struct {
	classes       []*Class
	byID          map[ClassID]*Class
	byName        map[string]*Class
	byShortName   map[string][]*Class
	derived       map[ClassID][]*Class
	relationships []*Class
	ends          map[ClassID][2]*Class
	properties    map[ClassID][]Property
}

// NewGraph validates classes and indexes them. Missing id columns get defaults
// and link-table relationships get default source/target columns.
func NewGraph(classes []Class) (*Graph, error) {
	g := &Graph{
		byID:        make(map[ClassID]*Class, len(classes)),
		byName:      make(map[string]*Class, len(classes)),
		byShortName: make(map[string][]*Class, len(classes)),
		derived:     make(map[ClassID][]*Class),
		ends:        make(map[ClassID][2]*Class),
		properties:  make(map[ClassID][]Property, len(classes)),
	}

	for i := range classes {
		c := classes[i]
		if c.ID == 0 {
			return nil, fmt.Errorf("%w: class %q has no id", ErrInvalidSchema, c.Name)
		}
		if c.Name == "" {
			return nil, fmt.Errorf("%w: class %d has no name", ErrInvalidSchema, c.ID)
		}
		if _, dup := g.byID[c.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate class id %d", ErrInvalidSchema, c.ID)
		}
		key := strings.ToLower(c.FullName())
		if _, dup := g.byName[key]; dup {
			return nil, fmt.Errorf("%w: duplicate class name %s", ErrInvalidSchema, c.FullName())
		}
		if c.IDColumn == "" {
			c.IDColumn = DefaultIDColumn
		}
		if rel := c.Relationship; rel != nil {
			relCopy := *rel
			if relCopy.Strategy == StorageLinkTable {
				if relCopy.SourceColumn == "" {
					relCopy.SourceColumn = DefaultSourceColumn
				}
				if relCopy.TargetColumn == "" {
					relCopy.TargetColumn = DefaultTargetColumn
				}
			}
			c.Relationship = &relCopy
		}
		cls := &c
		g.classes = append(g.classes, cls)
		g.byID[c.ID] = cls
		g.byName[key] = cls
		short := strings.ToLower(c.Name)
		g.byShortName[short] = append(g.byShortName[short], cls)
	}
	sort.Slice(g.classes, func(i, j int) bool { return g.classes[i].ID < g.classes[j].ID })

	for _, c := range g.classes {
		for _, baseID := range c.BaseIDs {
			if _, ok := g.byID[baseID]; !ok {
				return nil, fmt.Errorf("%w: class %s references unknown base %d", ErrInvalidSchema, c.FullName(), baseID)
			}
			g.derived[baseID] = append(g.derived[baseID], c)
		}
	}
	for _, c := range g.classes {
		if err := g.checkInheritanceCycle(c); err != nil {
			return nil, err
		}
	}

	for _, c := range g.classes {
		if err := g.validateClass(c); err != nil {
			return nil, err
		}
	}

	for _, c := range g.classes {
		g.properties[c.ID] = g.collectProperties(c)
	}
	return g, nil
}

func (g *Graph) validateClass(c *Class) error {
	if rel := c.Relationship; rel != nil {
		source, err := g.lookup(rel.Source.Class)
		if err != nil {
			return fmt.Errorf("%w: relationship %s source: %v", ErrInvalidSchema, c.FullName(), err)
		}
		target, err := g.lookup(rel.Target.Class)
		if err != nil {
			return fmt.Errorf("%w: relationship %s target: %v", ErrInvalidSchema, c.FullName(), err)
		}
		switch rel.Strategy {
		case StorageLinkTable:
			if c.Table == "" {
				return fmt.Errorf("%w: link-table relationship %s has no table", ErrInvalidSchema, c.FullName())
			}
		case StorageForeignKey:
			if rel.ForeignKeyColumn == "" {
				return fmt.Errorf("%w: foreign-key relationship %s has no column", ErrInvalidSchema, c.FullName())
			}
			if len(c.Properties) > 0 {
				return fmt.Errorf("%w: foreign-key relationship %s cannot carry properties", ErrInvalidSchema, c.FullName())
			}
		}
		g.relationships = append(g.relationships, c)
		g.ends[c.ID] = [2]*Class{source, target}
		return nil
	}
	if c.Table == "" {
		return fmt.Errorf("%w: class %s has no table", ErrInvalidSchema, c.FullName())
	}
	for _, p := range c.Properties {
		if p.Kind != PropertyNavigation {
			continue
		}
		if p.Navigation == nil {
			return fmt.Errorf("%w: navigation property %s.%s has no relationship", ErrInvalidSchema, c.Name, p.Name)
		}
		rel, err := g.lookup(p.Navigation.Relationship)
		if err != nil || !rel.IsRelationship() {
			return fmt.Errorf("%w: navigation property %s.%s references unknown relationship %q", ErrInvalidSchema, c.Name, p.Name, p.Navigation.Relationship)
		}
	}
	return nil
}

func (g *Graph) checkInheritanceCycle(c *Class) error {
	seen := map[ClassID]bool{}
	var visit func(id ClassID) error
	visit = func(id ClassID) error {
		if id == c.ID && len(seen) > 0 {
			return fmt.Errorf("%w: inheritance cycle at %s", ErrInvalidSchema, c.FullName())
		}
		if seen[id] {
			return nil
		}
		seen[id] = true
		for _, base := range g.byID[id].BaseIDs {
			if err := visit(base); err != nil {
				return err
			}
		}
		return nil
	}
	for _, base := range c.BaseIDs {
		seen[c.ID] = true
		if err := visit(base); err != nil {
			return err
		}
	}
	return nil
}

// collectProperties returns inherited properties followed by own ones. Own
// properties replace inherited ones of the same name in place.
func (g *Graph) collectProperties(c *Class) []Property {
	var out []Property
	index := map[string]int{}
	add := func(p Property) {
		key := strings.ToLower(p.Name)
		if i, ok := index[key]; ok {
			out[i] = p
			return
		}
		index[key] = len(out)
		out = append(out, p)
	}
	for _, baseID := range c.BaseIDs {
		for _, p := range g.collectProperties(g.byID[baseID]) {
			add(p)
		}
	}
	for _, p := range c.Properties {
		add(p)
	}
	return out
}

// Classes returns all classes ordered by id.
func (g *Graph) Classes() []*Class {
	return g.classes
}

// ClassByID resolves a class id.
func (g *Graph) ClassByID(id ClassID) (*Class, error) {
	if c, ok := g.byID[id]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: id %d", ErrClassNotFound, id)
}

// ClassByName resolves "Schema:Name", "Schema.Name" or a bare name that is
// unique across schemas. Matching is case-insensitive.
func (g *Graph) ClassByName(name string) (*Class, error) {
	return g.lookup(name)
}

func (g *Graph) lookup(name string) (*Class, error) {
	schemaName, className := ParseFullName(strings.TrimSpace(name))
	if schemaName != "" {
		if c, ok := g.byName[strings.ToLower(schemaName+":"+className)]; ok {
			return c, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrClassNotFound, name)
	}
	candidates := g.byShortName[strings.ToLower(className)]
	switch len(candidates) {
	case 1:
		return candidates[0], nil
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrClassNotFound, name)
	default:
		return nil, fmt.Errorf("%w: %s is ambiguous, qualify it with a schema", ErrClassNotFound, name)
	}
}

// IsA reports whether c is base or derives from it.
func (g *Graph) IsA(c *Class, base ClassID) bool {
	if c == nil {
		return false
	}
	if c.ID == base {
		return true
	}
	for _, id := range c.BaseIDs {
		if g.IsA(g.byID[id], base) {
			return true
		}
	}
	return false
}

// DerivedClasses returns classes deriving from id, ordered by id. With
// transitive set the whole sub-hierarchy is returned.
func (g *Graph) DerivedClasses(id ClassID, transitive bool) []*Class {
	if !transitive {
		out := append([]*Class(nil), g.derived[id]...)
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out
	}
	seen := map[ClassID]bool{}
	var out []*Class
	var walk func(ClassID)
	walk = func(parent ClassID) {
		for _, d := range g.derived[parent] {
			if seen[d.ID] {
				continue
			}
			seen[d.ID] = true
			out = append(out, d)
			walk(d.ID)
		}
	}
	walk(id)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AllProperties returns inherited and own properties of a class.
func (g *Graph) AllProperties(id ClassID) []Property {
	return g.properties[id]
}

// FindProperty looks a property up among inherited and own properties.
func (g *Graph) FindProperty(id ClassID, name string) (Property, bool) {
	for _, p := range g.properties[id] {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Property{}, false
}

// RelationshipEnds returns the resolved source and target classes of a relationship.
func (g *Graph) RelationshipEnds(rel *Class) (source, target *Class, ok bool) {
	ends, ok := g.ends[rel.ID]
	if !ok {
		return nil, nil, false
	}
	return ends[0], ends[1], true
}

// Relationships returns all relationship classes ordered by id.
func (g *Graph) Relationships() []*Class {
	return g.relationships
}

// HierarchyClassIDs returns the ids a discriminator condition must match for
// c: c itself, plus its derived classes when polymorphic, minus excluded
// classes and everything derived from them.
func (g *Graph) HierarchyClassIDs(c *Class, polymorphic bool, excluded []*Class) []ClassID {
	candidates := []*Class{c}
	if polymorphic {
		candidates = append(candidates, g.DerivedClasses(c.ID, true)...)
	}
	ids := make([]ClassID, 0, len(candidates))
	for _, cand := range candidates {
		skip := false
		for _, ex := range excluded {
			if g.IsA(cand, ex.ID) {
				skip = true
				break
			}
		}
		if !skip {
			ids = append(ids, cand.ID)
		}
	}
	return ids
}
