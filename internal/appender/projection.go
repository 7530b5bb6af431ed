package appender

import (
	"contentsql/internal/naming"
	"contentsql/internal/query"
	"contentsql/internal/rules"
	"contentsql/internal/schema"
)

// FieldSpec is a field to project, qualified by alias but not yet rendered.
type FieldSpec struct {
	Name   string
	Alias  string
	Column string
	Kind   query.FieldKind
	// Class declares the property.
	Class    *schema.Class
	Property schema.Property
	// Label overrides the property label. Set on navigation label fields to
	// the target class label column.
	Label string
}

// ProjectionAppender collects the fields and navigation joins a query needs
// for one class occurrence.
type ProjectionAppender struct {
	graph   Graph
	aliases *naming.AliasCounter
	scope   Scope
	fields  []FieldSpec
}

// ProjectionFactory creates ProjectionAppenders. Navigation target aliases
// come from the session alias counter.
type ProjectionFactory struct {
	Graph   Graph
	Aliases *naming.AliasCounter
}

// Create implements Factory.
func (f ProjectionFactory) Create(scope Scope) *ProjectionAppender {
	return &ProjectionAppender{graph: f.Graph, aliases: f.Aliases, scope: scope}
}

// Fields returns the collected fields in append order.
func (a *ProjectionAppender) Fields() []FieldSpec {
	return a.fields
}

// Supports implements PropertyAppender.
func (a *ProjectionAppender) Supports(prop schema.Property, override *rules.PropertySpecification) bool {
	return supported(a.scope, prop, override)
}

// Append implements PropertyAppender.
func (a *ProjectionAppender) Append(prop schema.Property, override *rules.PropertySpecification) AppendResult {
	class, narrowed, ok := owner(a.graph, a.scope, prop)
	if !ok {
		return AppendResult{}
	}
	var result AppendResult
	if narrowed != nil {
		a.scope.Path = narrowed
		a.scope.Class = class
		result.ReplacedPath = narrowed
	}

	field := FieldSpec{
		Name:     a.scope.FieldPrefix + prop.Name,
		Alias:    a.scope.Alias,
		Column:   prop.Column,
		Kind:     query.FieldProperty,
		Class:    class,
		Property: prop,
	}
	switch prop.Kind {
	case schema.PropertyEnum:
		field.Kind = query.FieldEnum
	case schema.PropertyNavigation:
		field.Kind = query.FieldNavigation
		if label, path, ok := a.navigation(class, prop); ok {
			a.fields = append(a.fields, field, label)
			result.Appended = true
			result.NavigationPaths = []schema.RelatedClassPath{path}
			return result
		}
	}
	a.fields = append(a.fields, field)
	result.Appended = true
	return result
}

// navigation builds the label field of a navigation property and the join
// path reaching its target.
func (a *ProjectionAppender) navigation(class *schema.Class, prop schema.Property) (FieldSpec, schema.RelatedClassPath, bool) {
	if prop.Navigation == nil {
		return FieldSpec{}, nil, false
	}
	rel, err := a.graph.ClassByName(prop.Navigation.Relationship)
	if err != nil {
		return FieldSpec{}, nil, false
	}
	source, target, ok := a.graph.RelationshipEnds(rel)
	if !ok {
		return FieldSpec{}, nil, false
	}
	if !prop.Navigation.Forward {
		target = source
	}
	hop := schema.RelatedClass{
		Source:            class,
		Relationship:      rel,
		Target:            target,
		TargetAlias:       a.aliases.Next("nav", target.Name),
		TargetPolymorphic: true,
		Forward:           prop.Navigation.Forward,
		TargetOptional:    true,
	}
	path := append(a.scope.Path.Clone(), hop)

	label := FieldSpec{
		Name:   a.scope.FieldPrefix + prop.Name + query.LabelSuffix,
		Alias:  hop.TargetAlias,
		Column: target.PrimaryKey(),
		Kind:   query.FieldNavigationLabel,
		Class:  target,
		Label:  target.DisplayLabel(),
	}
	if target.LabelProperty != "" {
		if lp, ok := a.graph.FindProperty(target.ID, target.LabelProperty); ok {
			label.Column = lp.Column
			label.Property = lp
		}
	}
	return label, path, true
}
