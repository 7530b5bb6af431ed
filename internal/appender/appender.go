// Package appender decides which class properties a content query projects.
//
// A PropertyAppender is scoped to one class occurrence (class, alias, path)
// and is asked, property by property, whether it supports the property and to
// append it. The Orchestrator drives appenders for select classes, caching the
// outcome per class for the session, and for related-property paths. Two
// appenders exist: ProjectionAppender collects query fields and navigation
// joins, DescriptorAppender collects field descriptions.
package appender

import (
	"strings"

	"contentsql/internal/rules"
	"contentsql/internal/schema"
)

// PropertyAppender appends properties of one class occurrence.
type PropertyAppender interface {
	Supports(prop schema.Property, override *rules.PropertySpecification) bool
	Append(prop schema.Property, override *rules.PropertySpecification) AppendResult
}

// AppendResult reports what one Append call did.
type AppendResult struct {
	Appended bool
	// NavigationPaths are extra join paths the appended property needs.
	NavigationPaths []schema.RelatedClassPath
	// ReplacedPath is set when the appender narrowed the scope path; it
	// replaces the old path wherever that was collected.
	ReplacedPath schema.RelatedClassPath
}

// Graph is the schema lookup appenders and the orchestrator need.
// *schema.Graph implements it.
type Graph interface {
	ClassByName(name string) (*schema.Class, error)
	RelationshipEnds(rel *schema.Class) (source, target *schema.Class, ok bool)
	AllProperties(id schema.ClassID) []schema.Property
	FindProperty(id schema.ClassID, name string) (schema.Property, bool)
	DerivedClasses(id schema.ClassID, transitive bool) []*schema.Class
}

// Scope is the class occurrence an appender works on.
type Scope struct {
	Class *schema.Class
	// Alias qualifies the class columns. Empty means the select alias of the
	// query a cached select-class result is applied to.
	Alias string
	// Path leads from the select class to Class; empty for the select class.
	Path schema.RelatedClassPath
	// Selection names the properties to append. SelectAll overrides it.
	Selection []rules.PropertySpecification
	SelectAll bool
	// Overrides change how individual properties are shown.
	Overrides []rules.PropertySpecification
	// FieldPrefix is prepended to field names.
	FieldPrefix string
	Category    string
	// Polymorphic lets selected properties of derived classes narrow the
	// last hop of Path.
	Polymorphic bool
}

// SelectClassScope returns the scope of a select class contract: every
// property, unqualified alias.
func SelectClassScope(class *schema.Class, overrides []rules.PropertySpecification) Scope {
	return Scope{Class: class, SelectAll: true, Overrides: overrides}
}

// override finds the display override of a property. Selection entries win
// over general overrides.
func (s Scope) override(name string) *rules.PropertySpecification {
	for i := range s.Selection {
		if strings.EqualFold(s.Selection[i].Name, name) && hasOverride(s.Selection[i]) {
			return &s.Selection[i]
		}
	}
	for i := range s.Overrides {
		if strings.EqualFold(s.Overrides[i].Name, name) {
			return &s.Overrides[i]
		}
	}
	return nil
}

// selects reports whether the scope selection includes name.
func (s Scope) selects(name string) bool {
	if s.SelectAll {
		return true
	}
	for _, sel := range s.Selection {
		if sel.Name == rules.AllProperties || strings.EqualFold(sel.Name, name) {
			return true
		}
	}
	return false
}

// explicitNames returns selected names that are not wildcards.
func (s Scope) explicitNames() []string {
	if s.SelectAll {
		return nil
	}
	var names []string
	for _, sel := range s.Selection {
		if sel.Name == rules.AllProperties {
			return nil
		}
		if sel.Name != rules.NoProperties && sel.Name != "" {
			names = append(names, sel.Name)
		}
	}
	return names
}

func hasOverride(p rules.PropertySpecification) bool {
	return p.IsDisplayed != nil || p.Label != "" || p.Category != ""
}

// supported is the Supports check both appenders share.
func supported(scope Scope, prop schema.Property, override *rules.PropertySpecification) bool {
	if prop.Kind == schema.PropertyStruct || prop.Kind == schema.PropertyArray {
		return false
	}
	if override != nil && override.Hidden() {
		return false
	}
	return scope.selects(prop.Name)
}

// owner resolves the class declaring prop within scope. When prop is only
// declared by a class derived from the scope class, the last hop of the
// scope path is narrowed to that class.
func owner(g Graph, scope Scope, prop schema.Property) (*schema.Class, schema.RelatedClassPath, bool) {
	if _, ok := g.FindProperty(scope.Class.ID, prop.Name); ok {
		return scope.Class, nil, true
	}
	if !scope.Polymorphic || len(scope.Path) == 0 {
		return nil, nil, false
	}
	for _, d := range g.DerivedClasses(scope.Class.ID, true) {
		if _, ok := g.FindProperty(d.ID, prop.Name); ok {
			narrowed := scope.Path.Clone()
			last := &narrowed[len(narrowed)-1]
			last.Target = d
			last.TargetPolymorphic = true
			return d, narrowed, true
		}
	}
	return nil, nil, false
}

// fieldLabel returns the override label or the property label.
func fieldLabel(prop schema.Property, override *rules.PropertySpecification) string {
	if override != nil && override.Label != "" {
		return override.Label
	}
	return prop.DisplayLabel()
}

// fieldCategory returns the override, property or scope category.
func fieldCategory(scope Scope, prop schema.Property, override *rules.PropertySpecification) string {
	switch {
	case override != nil && override.Category != "":
		return override.Category
	case prop.Category != "":
		return prop.Category
	default:
		return scope.Category
	}
}
