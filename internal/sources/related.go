package sources

import (
	"context"
	"fmt"
	"log/slog"

	"contentsql/internal/logging"
	"contentsql/internal/rules"
	"contentsql/internal/schema"
)

// visitKey is a recursion state: the input class, the class reached and the
// direction it was reached in.
type visitKey struct {
	input   schema.ClassID
	target  schema.ClassID
	forward bool
}

// relatedInstances selects the classes related to each input class.
func (b *Builder) relatedInstances(ctx context.Context, spec *rules.RelatedInstancesSpecification, input []Input) ([]ContentSource, error) {
	visited := map[visitKey]bool{}
	var out []ContentSource
	for _, in := range input {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(in.IDs) == 0 {
			logging.FromContext(ctx).Info("no input instances, skipping class", slog.String("class", in.Class.FullName()))
			continue
		}

		if spec.IsRecursive {
			sources, err := b.recursiveSources(ctx, spec, in.Class, visited)
			if err != nil {
				return nil, err
			}
			out = append(out, sources...)
			continue
		}

		var (
			paths []schema.RelatedClassPath
			err   error
		)
		if spec.UsesPaths() {
			paths, err = b.explicitPaths(ctx, spec, in.Class)
		} else {
			paths, err = b.searchPaths(ctx, spec, in.Class)
		}
		if err != nil {
			return nil, err
		}
		if len(paths) == 0 {
			logging.FromContext(ctx).Info("no matching relationship paths", slog.String("class", in.Class.FullName()), slog.String("specification", spec.ID))
			continue
		}
		for _, path := range paths {
			last := path.Last()
			if last.Target.IsAbstract() && !last.TargetPolymorphic {
				continue
			}
			alias := b.aliases.Next(PrefixRelated, last.Target.Name)
			out = append(out, ContentSource{
				Select: SelectClass{
					Class:       last.Target,
					Alias:       alias,
					Polymorphic: last.TargetPolymorphic,
				},
				InputClass:    in.Class,
				PathFromInput: b.aliasPath(path, alias),
			})
		}
	}
	return out, nil
}

// explicitPaths resolves the configured relationship paths in one call.
func (b *Builder) explicitPaths(ctx context.Context, spec *rules.RelatedInstancesSpecification, source *schema.Class) ([]schema.RelatedClassPath, error) {
	requests := make([]schema.PathRequest, 0, len(spec.RelationshipPaths))
	for i, p := range spec.RelationshipPaths {
		requests = append(requests, schema.PathRequest{Index: i, Steps: p.Steps})
	}
	results, err := b.graph.RelationshipPaths(ctx, source, requests)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve relationship paths: %w", err)
	}
	paths := make([]schema.RelatedClassPath, 0, len(results))
	for _, r := range results {
		paths = append(paths, r.Path)
	}
	return paths, nil
}

// searchPaths expands SkipRelatedLevel+1 hops from source. The related
// class filter applies to the last hop only.
func (b *Builder) searchPaths(ctx context.Context, spec *rules.RelatedInstancesSpecification, source *schema.Class) ([]schema.RelatedClassPath, error) {
	direction := schema.ParseDirection(spec.Direction)
	depth := max(spec.SkipRelatedLevel, 0) + 1
	frontier := []schema.RelatedClassPath{nil}
	for level := 1; level <= depth; level++ {
		var next []schema.RelatedClassPath
		for _, p := range frontier {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			from := source
			if len(p) > 0 {
				from = p.Target()
			}
			var targets []string
			if level == depth {
				targets = spec.RelatedClassNames
			}
			hops, err := b.graph.PossibleRelationships(from, direction, spec.RelationshipNames, targets)
			if err != nil {
				return nil, fmt.Errorf("failed to find relationships of %s: %w", from.FullName(), err)
			}
			for _, hop := range hops {
				next = append(next, append(p.Clone(), hop))
			}
		}
		frontier = next
	}
	return frontier, nil
}

// recursiveSources walks relationships from input at any depth. Each class
// reached becomes one source selecting what the walked relationships reach.
func (b *Builder) recursiveSources(ctx context.Context, spec *rules.RelatedInstancesSpecification, input *schema.Class, visited map[visitKey]bool) ([]ContentSource, error) {
	var (
		hops    []schema.RelatedClass
		reached []schema.RelatedClass
	)
	// Every hop found is walked; the visited key only stops expansion.
	visit := func(hop schema.RelatedClass) bool {
		hops = addHop(hops, hop)
		key := visitKey{input: input.ID, target: hop.Target.ID, forward: hop.Forward}
		if visited[key] {
			return false
		}
		visited[key] = true
		reached = append(reached, hop)
		return true
	}

	if spec.UsesPaths() {
		paths, err := b.explicitPaths(ctx, spec, input)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			for _, hop := range p[:len(p)-1] {
				hops = addHop(hops, hop)
			}
			visit(p.Last())
		}
	} else {
		direction := schema.ParseDirection(spec.Direction)
		frontier := []*schema.Class{input}
		for len(frontier) > 0 {
			var next []*schema.Class
			for _, from := range frontier {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				candidates, err := b.graph.PossibleRelationships(from, direction, spec.RelationshipNames, nil)
				if err != nil {
					return nil, fmt.Errorf("failed to find relationships of %s: %w", from.FullName(), err)
				}
				for _, hop := range candidates {
					if visit(hop) {
						next = append(next, hop.Target)
					}
				}
			}
			frontier = next
		}
	}

	filter, err := b.classFilter(spec.RelatedClassNames)
	if err != nil {
		return nil, err
	}
	var out []ContentSource
	selected := map[schema.ClassID]int{}
	for _, hop := range reached {
		target := hop.Target
		if len(filter) > 0 && !isExcluded(b.graph, filter, target) {
			continue
		}
		if i, ok := selected[target.ID]; ok {
			out[i].Select.Polymorphic = out[i].Select.Polymorphic || hop.TargetPolymorphic
			continue
		}
		if target.IsAbstract() && !hop.TargetPolymorphic {
			continue
		}
		selected[target.ID] = len(out)
		out = append(out, ContentSource{
			Select: SelectClass{
				Class:       target,
				Alias:       b.aliases.Next(PrefixRelated, target.Name),
				Polymorphic: hop.TargetPolymorphic,
			},
			InputClass:             input,
			Recursive:              true,
			RecursiveRelationships: hops,
		})
	}
	if len(out) == 0 {
		logging.FromContext(ctx).Info("no recursively related classes", slog.String("class", input.FullName()), slog.String("specification", spec.ID))
	}
	return out, nil
}

func (b *Builder) classFilter(names []string) ([]*schema.Class, error) {
	out := make([]*schema.Class, 0, len(names))
	for _, name := range names {
		c, err := b.graph.ClassByName(name)
		if err != nil {
			return nil, fmt.Errorf("related class: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}

// addHop appends hop unless the same relationship is already walked in the
// same direction from the same class.
func addHop(hops []schema.RelatedClass, hop schema.RelatedClass) []schema.RelatedClass {
	for _, h := range hops {
		if h.Relationship.ID == hop.Relationship.ID && h.Forward == hop.Forward && h.Source.ID == hop.Source.ID {
			return hops
		}
	}
	return append(hops, hop)
}
