package sources

import (
	"context"
	"log/slog"
	"sort"

	"contentsql/internal/logging"
	"contentsql/internal/schema"
)

// split divides polymorphic sources so that every derived class with a
// content modifier gets its own segment using that class as property source.
func (b *Builder) split(ctx context.Context, sources []ContentSource, prefix string) []ContentSource {
	classes := b.modifierClasses(ctx)
	if len(classes) == 0 {
		return sources
	}
	out := make([]ContentSource, 0, len(sources))
	for _, src := range sources {
		out = append(out, b.splitSource(src, classes, prefix)...)
	}
	return out
}

func (b *Builder) modifierClasses(ctx context.Context) []*schema.Class {
	var out []*schema.Class
	seen := map[schema.ClassID]bool{}
	for _, m := range b.modifiers {
		c, err := b.graph.ClassByName(m.Class)
		if err != nil {
			logging.FromContext(ctx).Warn("unknown content modifier class, skipping", slog.String("class", m.Class), slog.String("error", err.Error()))
			continue
		}
		if !seen[c.ID] {
			seen[c.ID] = true
			out = append(out, c)
		}
	}
	return out
}

// splitSource splits one source, shallowest modified class first. Each
// modified class is carved out of the most specific segment covering it.
func (b *Builder) splitSource(src ContentSource, classes []*schema.Class, prefix string) []ContentSource {
	sel := src.Select
	if !sel.Polymorphic || src.PropertiesSource != nil {
		return []ContentSource{src}
	}
	var derived []*schema.Class
	for _, c := range classes {
		if c.ID != sel.Class.ID && b.graph.IsA(c, sel.Class.ID) && !sel.Excludes(b.graph, c) {
			derived = append(derived, c)
		}
	}
	if len(derived) == 0 {
		return []ContentSource{src}
	}
	sort.SliceStable(derived, func(i, j int) bool {
		return b.depth(derived[i]) < b.depth(derived[j])
	})

	segments := []ContentSource{src}
	for _, d := range derived {
		best, bestDepth := -1, -1
		for i, seg := range segments {
			base := seg.PropertyClass()
			if !b.graph.IsA(d, base.ID) || seg.Select.Excludes(b.graph, d) {
				continue
			}
			if depth := b.depth(base); depth > bestDepth {
				best, bestDepth = i, depth
			}
		}
		if best < 0 {
			continue
		}
		parent := segments[best]
		child := parent
		child.PropertiesSource = d
		child.Select.Alias = b.aliases.Next(prefix, sel.Class.Name)
		child.Select.DerivedExclusions = append([]*schema.Class(nil), parent.Select.DerivedExclusions...)
		if len(child.PathFromInput) > 0 {
			child.PathFromInput = child.PathFromInput.Clone()
			child.PathFromInput[len(child.PathFromInput)-1].TargetAlias = child.Select.Alias
		}
		segments[best].Select.DerivedExclusions = append(append([]*schema.Class(nil), parent.Select.DerivedExclusions...), d)
		segments = append(segments, child)
	}
	return segments
}

// depth is the length of the longest base chain above c.
func (b *Builder) depth(c *schema.Class) int {
	deepest := 0
	for _, id := range c.BaseIDs {
		base, err := b.graph.ClassByID(id)
		if err != nil {
			continue
		}
		deepest = max(deepest, b.depth(base)+1)
	}
	return deepest
}
