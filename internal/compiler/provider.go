package compiler

import (
	"strings"

	sq "github.com/Masterminds/squirrel"

	"contentsql/internal/query"
	"contentsql/internal/schema"
	"contentsql/internal/sqlutil"
)

// thisQualifier names the select class in instance filters.
const thisQualifier = "this"

type binding struct {
	alias       string
	class       *schema.Class
	polymorphic bool
}

// fieldProvider resolves instance filter identifiers against the aliases
// of one query. Bare identifiers refer to "this".
type fieldProvider struct {
	graph    SchemaGraph
	bindings map[string]binding
}

func newFieldProvider(graph SchemaGraph) *fieldProvider {
	return &fieldProvider{graph: graph, bindings: map[string]binding{}}
}

func (p *fieldProvider) bind(qualifier string, b binding) {
	p.bindings[strings.ToLower(qualifier)] = b
}

func (p *fieldProvider) lookup(qualifier string) (binding, bool) {
	if qualifier == "" {
		qualifier = thisQualifier
	}
	b, ok := p.bindings[strings.ToLower(qualifier)]
	return b, ok
}

// Column implements expr.FieldProvider.
func (p *fieldProvider) Column(qualifier, name string) (string, bool) {
	b, ok := p.lookup(qualifier)
	if !ok {
		return "", false
	}
	if prop, ok := p.property(b, name); ok {
		if prop.Kind == schema.PropertyStruct || prop.Kind == schema.PropertyArray {
			return "", false
		}
		return sqlutil.Column(b.alias, prop.Column), true
	}
	switch strings.ToLower(name) {
	case "id", strings.ToLower(query.InstanceIDField):
		return sqlutil.Column(b.alias, b.class.PrimaryKey()), true
	case strings.ToLower(query.ClassIDField):
		if b.class.HasDiscriminator() {
			return sqlutil.Column(b.alias, b.class.ClassIDColumn), true
		}
	}
	return "", false
}

// property finds name on the bound class, or on a derived class when the
// binding is polymorphic.
func (p *fieldProvider) property(b binding, name string) (schema.Property, bool) {
	if prop, ok := p.graph.FindProperty(b.class.ID, name); ok {
		return prop, true
	}
	if !b.polymorphic {
		return schema.Property{}, false
	}
	for _, d := range p.graph.DerivedClasses(b.class.ID, true) {
		if prop, ok := p.graph.FindProperty(d.ID, name); ok {
			return prop, true
		}
	}
	return schema.Property{}, false
}

// ClassFilter implements expr.FieldProvider.
func (p *fieldProvider) ClassFilter(qualifier, className string) (sq.Sqlizer, bool) {
	b, ok := p.lookup(qualifier)
	if !ok {
		return nil, false
	}
	class, err := p.graph.ClassByName(className)
	if err != nil {
		return nil, false
	}
	if b.class.HasDiscriminator() {
		return query.Discriminator(b.alias, b.class, p.graph.HierarchyClassIDs(class, true, nil)), true
	}
	if p.graph.IsA(b.class, class.ID) {
		return sq.Expr("1 = 1"), true
	}
	return sq.Expr("1 = 0"), true
}
