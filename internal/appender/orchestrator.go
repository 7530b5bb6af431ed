package appender

import (
	"strconv"
	"strings"

	"contentsql/internal/schema"
)

// Factory creates appenders of one kind.
type Factory[A PropertyAppender] interface {
	Create(scope Scope) A
}

// Result is the outcome of appending one class occurrence.
type Result[A PropertyAppender] struct {
	Appender A
	Appended bool
	// Path is the scope path after every replacement.
	Path            schema.RelatedClassPath
	NavigationPaths []schema.RelatedClassPath
	// Cached is set when the result was served from the handled set.
	Cached bool
}

// Orchestrator drives appenders created by one factory. It belongs to one
// build session.
type Orchestrator[A PropertyAppender] struct {
	graph     Graph
	factory   Factory[A]
	handled   map[schema.ClassID]bool
	contracts map[contractKey]Result[A]
}

// contractKey identifies a select class contract: the class and the
// property overrides it was appended with.
type contractKey struct {
	class     schema.ClassID
	overrides string
}

func keyOf(scope Scope) contractKey {
	var b strings.Builder
	for _, o := range scope.Overrides {
		b.WriteString(strings.ToLower(o.Name))
		b.WriteByte(0)
		if o.IsDisplayed != nil {
			b.WriteString(strconv.FormatBool(*o.IsDisplayed))
		}
		b.WriteByte(0)
		b.WriteString(o.Label)
		b.WriteByte(0)
		b.WriteString(o.Category)
		b.WriteByte(1)
	}
	return contractKey{class: scope.Class.ID, overrides: b.String()}
}

// NewOrchestrator creates an orchestrator with an empty handled set.
func NewOrchestrator[A PropertyAppender](graph Graph, factory Factory[A]) *Orchestrator[A] {
	return &Orchestrator[A]{
		graph:     graph,
		factory:   factory,
		handled:   map[schema.ClassID]bool{},
		contracts: map[contractKey]Result[A]{},
	}
}

// Handled reports whether the class was already appended as a select class.
func (o *Orchestrator[A]) Handled(id schema.ClassID) bool {
	return o.handled[id]
}

// AppendClass appends the properties of a select class once per session
// and set of property overrides. Later calls with the same class and
// overrides return the first result.
func (o *Orchestrator[A]) AppendClass(scope Scope) Result[A] {
	key := keyOf(scope)
	if r, ok := o.contracts[key]; ok {
		r.Cached = true
		return r
	}
	r := o.run(scope)
	o.handled[scope.Class.ID] = true
	o.contracts[key] = r
	return r
}

// AppendPath appends the properties of a class reached over scope.Path.
// Results are not cached: every content source joins its own aliases.
func (o *Orchestrator[A]) AppendPath(scope Scope) Result[A] {
	return o.run(scope)
}

func (o *Orchestrator[A]) run(scope Scope) Result[A] {
	appender := o.factory.Create(scope)
	result := Result[A]{Appender: appender, Path: scope.Path}

	apply := func(prop schema.Property) {
		override := scope.override(prop.Name)
		if !appender.Supports(prop, override) {
			return
		}
		r := appender.Append(prop, override)
		if !r.Appended {
			return
		}
		result.Appended = true
		for _, p := range r.NavigationPaths {
			result.NavigationPaths = AddPath(result.NavigationPaths, p)
		}
		if r.ReplacedPath != nil && !r.ReplacedPath.Equal(result.Path) {
			result.NavigationPaths = ReplacePath(result.NavigationPaths, result.Path, r.ReplacedPath)
			result.Path = r.ReplacedPath
		}
	}

	seen := map[string]bool{}
	for _, prop := range o.graph.AllProperties(scope.Class.ID) {
		seen[strings.ToLower(prop.Name)] = true
		apply(prop)
	}
	if scope.Polymorphic {
		for _, name := range scope.explicitNames() {
			if seen[strings.ToLower(name)] {
				continue
			}
			if prop, ok := o.derivedProperty(scope.Class, name); ok {
				seen[strings.ToLower(name)] = true
				apply(prop)
			}
		}
	}
	return result
}

func (o *Orchestrator[A]) derivedProperty(class *schema.Class, name string) (schema.Property, bool) {
	for _, d := range o.graph.DerivedClasses(class.ID, true) {
		if prop, ok := o.graph.FindProperty(d.ID, name); ok {
			return prop, true
		}
	}
	return schema.Property{}, false
}

// AddPath appends p unless an equal path is already listed.
func AddPath(paths []schema.RelatedClassPath, p schema.RelatedClassPath) []schema.RelatedClassPath {
	for _, existing := range paths {
		if existing.Equal(p) {
			return paths
		}
	}
	return append(paths, p)
}

// ReplacePath substitutes replacement for old in paths, including where old
// is a leading sub-path. Paths that become equal collapse into one.
func ReplacePath(paths []schema.RelatedClassPath, old, replacement schema.RelatedClassPath) []schema.RelatedClassPath {
	var out []schema.RelatedClassPath
	for _, p := range paths {
		if len(old) > 0 && p.StartsWith(old) {
			updated := make(schema.RelatedClassPath, 0, len(replacement)+len(p)-len(old))
			updated = append(updated, replacement...)
			updated = append(updated, p[len(old):]...)
			if len(p) > len(old) {
				// the hop after the replaced part now starts at the narrowed class
				updated[len(replacement)].Source = replacement.Target()
			}
			p = updated
		}
		out = AddPath(out, p)
	}
	return out
}
