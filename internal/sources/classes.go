package sources

import (
	"context"
	"fmt"
	"log/slog"

	"contentsql/internal/logging"
	"contentsql/internal/rules"
	"contentsql/internal/schema"
)

// instancesOfClasses selects every included class, minus exclusions.
func (b *Builder) instancesOfClasses(ctx context.Context, spec *rules.InstancesOfClassesSpecification) ([]ContentSource, error) {
	includes, err := b.graph.ResolveClassList(spec.Classes, spec.ArePolymorphic)
	if err != nil {
		return nil, fmt.Errorf("classes: %w", err)
	}
	resolvedExcluded, err := b.graph.ResolveClassList(spec.ExcludedClasses, true)
	if err != nil {
		return nil, fmt.Errorf("excluded classes: %w", err)
	}
	excluded := make([]*schema.Class, 0, len(resolvedExcluded))
	for _, rc := range resolvedExcluded {
		excluded = append(excluded, rc.Class)
	}

	if spec.HandlePropertiesPolymorphically && b.checker != nil {
		includes, err = b.concreteClasses(ctx, includes, excluded)
		if err != nil {
			return nil, err
		}
	}

	var out []ContentSource
	for _, inc := range includes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if isExcluded(b.graph, excluded, inc.Class) || (inc.Class.IsAbstract() && !inc.Polymorphic) {
			continue
		}
		sel := SelectClass{Class: inc.Class, Polymorphic: inc.Polymorphic}
		if inc.Polymorphic {
			for _, ex := range excluded {
				if b.graph.IsA(ex, inc.Class.ID) {
					sel.DerivedExclusions = append(sel.DerivedExclusions, ex)
				}
			}
		}
		sel.Alias = b.aliases.Next(PrefixThis, inc.Class.Name)
		out = append(out, ContentSource{Select: sel})
	}
	return out, nil
}

// concreteClasses replaces polymorphic includes with their concrete classes
// and keeps those that have instances.
func (b *Builder) concreteClasses(ctx context.Context, includes []schema.ResolvedClass, excluded []*schema.Class) ([]schema.ResolvedClass, error) {
	var candidates []*schema.Class
	seen := map[schema.ClassID]bool{}
	add := func(c *schema.Class) {
		if seen[c.ID] || c.IsAbstract() || isExcluded(b.graph, excluded, c) {
			return
		}
		seen[c.ID] = true
		candidates = append(candidates, c)
	}
	for _, inc := range includes {
		add(inc.Class)
		if inc.Polymorphic {
			for _, d := range b.graph.DerivedClasses(inc.Class.ID, true) {
				add(d)
			}
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	withInstances, err := b.checker.ClassesWithInstances(ctx, candidates)
	if err != nil {
		return nil, fmt.Errorf("failed to check class instances: %w", err)
	}
	if len(withInstances) == 0 {
		logging.FromContext(ctx).Info("no class in the list has instances", slog.Int("candidates", len(candidates)))
	}
	out := make([]schema.ResolvedClass, 0, len(withInstances))
	for _, c := range withInstances {
		out = append(out, schema.ResolvedClass{Class: c})
	}
	return out, nil
}

func isExcluded(g Graph, excluded []*schema.Class, c *schema.Class) bool {
	for _, ex := range excluded {
		if g.IsA(c, ex.ID) {
			return true
		}
	}
	return false
}
