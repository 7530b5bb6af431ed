package appender

import (
	"contentsql/internal/rules"
	"contentsql/internal/schema"
)

// DescriptorField describes one field of the content result.
type DescriptorField struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Category string `json:"category,omitempty"`
	Type     string `json:"type"`
	Kind     string `json:"kind"`
	Class    string `json:"class"`
	Path     string `json:"path,omitempty"`
}

// DescriptorAppender collects field descriptions for one class occurrence.
type DescriptorAppender struct {
	graph  Graph
	scope  Scope
	fields []DescriptorField
}

// DescriptorFactory creates DescriptorAppenders.
type DescriptorFactory struct {
	Graph Graph
}

// Create implements Factory.
func (f DescriptorFactory) Create(scope Scope) *DescriptorAppender {
	return &DescriptorAppender{graph: f.Graph, scope: scope}
}

// Fields returns the collected descriptions in append order.
func (a *DescriptorAppender) Fields() []DescriptorField {
	return a.fields
}

// Supports implements PropertyAppender.
func (a *DescriptorAppender) Supports(prop schema.Property, override *rules.PropertySpecification) bool {
	return supported(a.scope, prop, override)
}

// Append implements PropertyAppender.
func (a *DescriptorAppender) Append(prop schema.Property, override *rules.PropertySpecification) AppendResult {
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
	typ := prop.Type
	if prop.Kind == schema.PropertyEnum {
		typ = "enum"
	}
	a.fields = append(a.fields, DescriptorField{
		Name:     a.scope.FieldPrefix + prop.Name,
		Label:    fieldLabel(prop, override),
		Category: fieldCategory(a.scope, prop, override),
		Type:     typ,
		Kind:     prop.Kind.String(),
		Class:    class.FullName(),
		Path:     a.scope.Path.Key(),
	})
	result.Appended = true
	return result
}
