// Package flatten turns nested related-properties rules into flat,
// single-path specifications and resolves their relationship paths in one
// batched schema call per content source.
package flatten

import (
	"contentsql/internal/rules"
	"contentsql/internal/schema"
)

// Scope says where a set of related-properties rules came from. Origin is
// part of the path cache key; Category groups the appended properties.
type Scope struct {
	Origin   string
	Category string
}

// FlattenedRelatedPropertiesSpecification is one node of a related-properties
// rule tree with the steps of all its ancestors prepended.
type FlattenedRelatedPropertiesSpecification struct {
	// Flattened is the leaf rule with the combined path and no nested rules.
	Flattened rules.RelatedPropertiesSpecification
	// Source is the chain of original rules, root first.
	Source []*rules.RelatedPropertiesSpecification
	// StepFilters holds one instance filter per combined step.
	StepFilters []string
	Scope       Scope
}

// Steps returns the combined relationship steps.
func (f FlattenedRelatedPropertiesSpecification) Steps() []rules.RelationshipStepSpecification {
	return f.Flattened.PropertiesSource.Steps
}

// Leaf returns the rule the flattened spec was produced for.
func (f FlattenedRelatedPropertiesSpecification) Leaf() *rules.RelatedPropertiesSpecification {
	if len(f.Source) == 0 {
		return nil
	}
	return f.Source[len(f.Source)-1]
}

// Flatten walks specs depth-first and returns one flattened spec per node,
// parents before their children. Each rule's instance filter is kept on the
// last step that rule introduced.
func Flatten(specs []rules.RelatedPropertiesSpecification, scope Scope) []FlattenedRelatedPropertiesSpecification {
	var out []FlattenedRelatedPropertiesSpecification
	for i := range specs {
		out = flattenNode(out, &specs[i], nil, nil, nil, scope)
	}
	return out
}

func flattenNode(out []FlattenedRelatedPropertiesSpecification, node *rules.RelatedPropertiesSpecification,
	parentSteps []rules.RelationshipStepSpecification, parentFilters []string,
	parents []*rules.RelatedPropertiesSpecification, scope Scope) []FlattenedRelatedPropertiesSpecification {

	own := node.PropertiesSource.Steps
	steps := make([]rules.RelationshipStepSpecification, 0, len(parentSteps)+len(own))
	steps = append(append(steps, parentSteps...), own...)

	filters := make([]string, 0, len(steps))
	filters = append(filters, parentFilters...)
	for i := range own {
		f := ""
		if i == len(own)-1 {
			f = node.InstanceFilter
		}
		filters = append(filters, f)
	}

	chain := make([]*rules.RelatedPropertiesSpecification, 0, len(parents)+1)
	chain = append(append(chain, parents...), node)

	flat := *node
	flat.PropertiesSource = rules.RelationshipPathSpecification{Steps: steps}
	flat.Nested = nil
	out = append(out, FlattenedRelatedPropertiesSpecification{
		Flattened:   flat,
		Source:      chain,
		StepFilters: filters,
		Scope:       scope,
	})

	for i := range node.Nested {
		out = flattenNode(out, &node.Nested[i], steps, filters, chain, scope)
	}
	return out
}

// PathWithSources is a resolved path and the classes it may start from.
type PathWithSources struct {
	Path                schema.RelatedClassPath
	ActualSourceClasses []*schema.Class
}

// RelatedPropertySpecificationPaths pairs a flattened spec with its paths.
type RelatedPropertySpecificationPaths struct {
	Spec  FlattenedRelatedPropertiesSpecification
	Paths []PathWithSources
}
