package flatten

import (
	"context"
	"fmt"
	"log/slog"

	"contentsql/internal/logging"
	"contentsql/internal/schema"
)

// PathFinder resolves relationship path requests. *schema.Graph implements it.
type PathFinder interface {
	RelationshipPaths(ctx context.Context, source *schema.Class, requests []schema.PathRequest) ([]schema.PathResult, error)
	IsA(c *schema.Class, base schema.ClassID) bool
}

// Resolver resolves flattened specs to paths, caching results per rule
// origin and base class.
type Resolver struct {
	graph PathFinder
	cache *Cache[[]RelatedPropertySpecificationPaths]
}

// NewResolver creates a resolver with an empty cache.
func NewResolver(graph PathFinder) *Resolver {
	return &Resolver{
		graph: graph,
		cache: NewCache[[]RelatedPropertySpecificationPaths](),
	}
}

// CacheHits returns how many lookups found an entry for the exact class.
func (r *Resolver) CacheHits() int {
	return r.cache.Hits()
}

// CacheMisses returns how many lookups did not. A miss may still be served
// from the entry of a base class.
func (r *Resolver) CacheMisses() int {
	return r.cache.Misses()
}

// Resolve returns the paths of specs starting at base. Specs without any
// path are left out. ancestors lists classes base derives from, nearest
// first; their cached resolutions are reused when present.
func (r *Resolver) Resolve(ctx context.Context, origin string, base *schema.Class, ancestors []*schema.Class,
	specs []FlattenedRelatedPropertiesSpecification) ([]RelatedPropertySpecificationPaths, error) {

	key := Key{Origin: origin, Class: base.ID}
	if cached, ok := r.cache.Get(key); ok {
		return cached, nil
	}
	if inherited, from, ok := r.cache.Find(origin, ancestors); ok {
		reused := r.compatible(base, inherited)
		logging.FromContext(ctx).Debug("reusing related property paths of base class",
			slog.String("origin", origin),
			slog.String("class", base.FullName()),
			slog.String("base", from.FullName()),
			slog.Int("paths", len(reused)),
		)
		r.cache.Put(key, reused)
		return reused, nil
	}

	if len(specs) == 0 {
		r.cache.Put(key, nil)
		return nil, nil
	}
	requests := make([]schema.PathRequest, 0, len(specs))
	for i, spec := range specs {
		requests = append(requests, schema.PathRequest{
			Index:       i,
			Steps:       spec.Steps(),
			Polymorphic: true,
			StepFilters: spec.StepFilters,
			Optional:    !spec.Flattened.Required,
		})
	}
	results, err := r.graph.RelationshipPaths(ctx, base, requests)
	if err != nil {
		return nil, fmt.Errorf("related properties of %s: %w", base.FullName(), err)
	}

	grouped := make([][]PathWithSources, len(specs))
	for _, res := range results {
		grouped[res.Index] = append(grouped[res.Index], PathWithSources{
			Path:                res.Path,
			ActualSourceClasses: res.ActualSourceClasses,
		})
	}
	var out []RelatedPropertySpecificationPaths
	for i, paths := range grouped {
		if len(paths) == 0 {
			logging.FromContext(ctx).Debug("related properties rule matches no path",
				slog.String("origin", origin),
				slog.String("class", base.FullName()),
				slog.Int("index", i),
			)
			continue
		}
		out = append(out, RelatedPropertySpecificationPaths{Spec: specs[i], Paths: paths})
	}
	r.cache.Put(key, out)
	return out, nil
}

// compatible keeps the paths whose actual source classes are related to
// class either way.
func (r *Resolver) compatible(class *schema.Class, in []RelatedPropertySpecificationPaths) []RelatedPropertySpecificationPaths {
	var out []RelatedPropertySpecificationPaths
	for _, entry := range in {
		var paths []PathWithSources
		for _, p := range entry.Paths {
			for _, src := range p.ActualSourceClasses {
				if r.graph.IsA(class, src.ID) || r.graph.IsA(src, class.ID) {
					paths = append(paths, p)
					break
				}
			}
		}
		if len(paths) > 0 {
			out = append(out, RelatedPropertySpecificationPaths{Spec: entry.Spec, Paths: paths})
		}
	}
	return out
}
