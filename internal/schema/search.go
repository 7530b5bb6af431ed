package schema

import (
	"context"
	"fmt"
	"strings"

	"contentsql/internal/rules"
)

// PathRequest asks for the paths matching one relationship path specification.
// Polymorphic lets the first step start at a class derived from the source.
// StepFilters are copied onto the resolved hops by position.
type PathRequest struct {
	Index       int
	Steps       []rules.RelationshipStepSpecification
	Polymorphic bool
	StepFilters []string
	Optional    bool
}

// PathResult is a resolved path plus the source classes it is valid for.
type PathResult struct {
	Index               int
	Path                RelatedClassPath
	ActualSourceClasses []*Class
}

// ResolvedClass is one entry of an expanded class list.
type ResolvedClass struct {
	Class       *Class
	Polymorphic bool
}

// PossibleRelationships lists single hops leaving source. Relationship and
// target names filter the candidates when non-empty. A requested target that
// derives from the relationship end narrows the hop to it.
func (g *Graph) PossibleRelationships(source *Class, direction Direction, relationshipNames, targetClassNames []string) ([]RelatedClass, error) {
	relFilter, err := g.resolveAll(relationshipNames)
	if err != nil {
		return nil, err
	}
	targetFilter, err := g.resolveAll(targetClassNames)
	if err != nil {
		return nil, err
	}

	var hops []RelatedClass
	for _, rel := range g.relationships {
		if len(relFilter) > 0 && !containsClass(relFilter, rel) {
			continue
		}
		ends := g.ends[rel.ID]
		for _, forward := range []bool{true, false} {
			if !direction.Allows(forward) {
				continue
			}
			from, to := ends[0], ends[1]
			toEnd := rel.Relationship.Target
			if !forward {
				from, to = ends[1], ends[0]
				toEnd = rel.Relationship.Source
			}
			if !g.IsA(source, from.ID) {
				continue
			}
			targets := []*Class{to}
			if len(targetFilter) > 0 {
				targets = g.narrowTargets(to, targetFilter)
			}
			for _, target := range targets {
				hops = append(hops, RelatedClass{
					Source:            source,
					Relationship:      rel,
					Target:            target,
					TargetPolymorphic: toEnd.Polymorphic || target.ID != to.ID,
					Forward:           forward,
				})
			}
		}
	}
	return hops, nil
}

func (g *Graph) narrowTargets(end *Class, filter []*Class) []*Class {
	var out []*Class
	for _, want := range filter {
		switch {
		case g.IsA(want, end.ID):
			out = append(out, want)
		case g.IsA(end, want.ID):
			if !containsClass(out, end) {
				out = append(out, end)
			}
		}
	}
	return out
}

// RelationshipPaths resolves many path requests in one call. Requests that
// match no path produce no result; unknown classes are errors.
func (g *Graph) RelationshipPaths(ctx context.Context, source *Class, requests []PathRequest) ([]PathResult, error) {
	var results []PathResult
	for _, req := range requests {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, ok, err := g.resolvePath(source, req)
		if err != nil {
			return nil, fmt.Errorf("path request %d: %w", req.Index, err)
		}
		if ok {
			results = append(results, result)
		}
	}
	return results, nil
}

func (g *Graph) resolvePath(source *Class, req PathRequest) (PathResult, bool, error) {
	result := PathResult{Index: req.Index}
	if len(req.Steps) == 0 {
		return result, false, nil
	}
	current := source
	for i, step := range req.Steps {
		rel, err := g.lookup(step.Relationship)
		if err != nil {
			return result, false, err
		}
		if !rel.IsRelationship() {
			return result, false, fmt.Errorf("%w: %s is not a relationship", ErrClassNotFound, rel.FullName())
		}
		forward := !strings.EqualFold(strings.TrimSpace(step.Direction), "backward")
		ends := g.ends[rel.ID]
		from, to := ends[0], ends[1]
		toEnd := rel.Relationship.Target
		if !forward {
			from, to = ends[1], ends[0]
			toEnd = rel.Relationship.Source
		}

		switch {
		case g.IsA(current, from.ID):
			if i == 0 {
				result.ActualSourceClasses = []*Class{current}
			}
		case i == 0 && req.Polymorphic:
			result.ActualSourceClasses = g.topmostDerived(current, from)
			if len(result.ActualSourceClasses) == 0 {
				return result, false, nil
			}
		case i > 0 && g.IsA(from, current.ID):
			// the previous hop must end at the more specific class
			result.Path[i-1].Target = from
			result.Path[i-1].TargetPolymorphic = true
			current = from
		default:
			return result, false, nil
		}

		target := to
		if step.TargetClass != "" {
			want, err := g.lookup(step.TargetClass)
			if err != nil {
				return result, false, err
			}
			switch {
			case g.IsA(want, to.ID):
				target = want
			case g.IsA(to, want.ID):
			default:
				return result, false, nil
			}
		}

		hop := RelatedClass{
			Source:            current,
			Relationship:      rel,
			Target:            target,
			TargetPolymorphic: toEnd.Polymorphic || target.ID != to.ID,
			Forward:           forward,
			TargetOptional:    req.Optional,
		}
		if i < len(req.StepFilters) {
			hop.InstanceFilter = req.StepFilters[i]
		}
		result.Path = append(result.Path, hop)
		current = target
	}
	return result, true, nil
}

// topmostDerived returns the classes derived from base that satisfy end,
// leaving out those already covered by a returned ancestor.
func (g *Graph) topmostDerived(base, end *Class) []*Class {
	var out []*Class
	for _, d := range g.DerivedClasses(base.ID, true) {
		if !g.IsA(d, end.ID) {
			continue
		}
		covered := false
		for _, o := range out {
			if g.IsA(d, o.ID) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, d)
		}
	}
	return out
}

// RelatedInstancePaths resolves the join paths of related instance rules.
// The final hop of each path carries the rule alias; rules matching nothing
// are skipped.
func (g *Graph) RelatedInstancePaths(ctx context.Context, base *Class, specs []rules.RelatedInstanceSpecification) ([]RelatedClassPath, error) {
	requests := make([]PathRequest, 0, len(specs))
	for i, spec := range specs {
		requests = append(requests, PathRequest{
			Index:       i,
			Steps:       spec.RelationshipPath.Steps,
			Polymorphic: true,
			Optional:    !spec.IsRequired,
		})
	}
	results, err := g.RelationshipPaths(ctx, base, requests)
	if err != nil {
		return nil, err
	}
	paths := make([]RelatedClassPath, 0, len(results))
	for _, r := range results {
		path := r.Path.Clone()
		path[len(path)-1].TargetAlias = specs[r.Index].Alias
		paths = append(paths, path)
	}
	return paths, nil
}

// ResolveClassList expands class entries. An entry naming no classes covers
// every non-relationship class of its schema.
func (g *Graph) ResolveClassList(entries []rules.ClassEntry, defaultPolymorphic bool) ([]ResolvedClass, error) {
	var out []ResolvedClass
	seen := map[ClassID]bool{}
	add := func(c *Class, polymorphic bool) {
		if seen[c.ID] {
			return
		}
		seen[c.ID] = true
		out = append(out, ResolvedClass{Class: c, Polymorphic: polymorphic})
	}
	for _, entry := range entries {
		polymorphic := entry.IsPolymorphic(defaultPolymorphic)
		if len(entry.Classes) == 0 {
			for _, c := range g.classes {
				if c.IsRelationship() || !strings.EqualFold(c.Schema, entry.Schema) {
					continue
				}
				add(c, polymorphic)
			}
			continue
		}
		for _, name := range entry.Classes {
			full := name
			if entry.Schema != "" {
				full = entry.Schema + ":" + name
			}
			c, err := g.lookup(full)
			if err != nil {
				return nil, err
			}
			add(c, polymorphic)
		}
	}
	return out, nil
}

func (g *Graph) resolveAll(names []string) ([]*Class, error) {
	out := make([]*Class, 0, len(names))
	for _, name := range names {
		c, err := g.lookup(name)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func containsClass(list []*Class, c *Class) bool {
	for _, l := range list {
		if l.ID == c.ID {
			return true
		}
	}
	return false
}
