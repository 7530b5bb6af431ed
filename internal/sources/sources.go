// Package sources turns content specifications into content sources: the
// classes to select, the paths leading to them from the caller's input and
// the property source each one uses.
package sources

import (
	"context"
	"fmt"

	"contentsql/internal/naming"
	"contentsql/internal/rules"
	"contentsql/internal/schema"
)

// Alias prefixes of select classes.
const (
	PrefixThis    = "this"
	PrefixRelated = "related"
	// PrefixRelationship names relationship aliases.
	PrefixRelationship = "r"
)

// Graph is the schema lookup the builder needs. *schema.Graph implements it.
type Graph interface {
	ClassByID(id schema.ClassID) (*schema.Class, error)
	ClassByName(name string) (*schema.Class, error)
	IsA(c *schema.Class, base schema.ClassID) bool
	DerivedClasses(id schema.ClassID, transitive bool) []*schema.Class
	PossibleRelationships(source *schema.Class, direction schema.Direction, relationshipNames, targetClassNames []string) ([]schema.RelatedClass, error)
	RelationshipPaths(ctx context.Context, source *schema.Class, requests []schema.PathRequest) ([]schema.PathResult, error)
	ResolveClassList(entries []rules.ClassEntry, defaultPolymorphic bool) ([]schema.ResolvedClass, error)
}

// ExistenceChecker narrows classes to those with at least one instance.
type ExistenceChecker interface {
	ClassesWithInstances(ctx context.Context, classes []*schema.Class) ([]*schema.Class, error)
}

// SelectClass is the class a content query reads, under its alias.
type SelectClass struct {
	Class       *schema.Class
	Alias       string
	Polymorphic bool
	// DerivedExclusions are left out of a polymorphic select together with
	// everything derived from them.
	DerivedExclusions []*schema.Class
}

// Excludes reports whether c is one of the exclusions or derives from one.
func (s SelectClass) Excludes(g Graph, c *schema.Class) bool {
	for _, ex := range s.DerivedExclusions {
		if g.IsA(c, ex.ID) {
			return true
		}
	}
	return false
}

// ContentSource is one query to build.
type ContentSource struct {
	Select SelectClass
	// PropertiesSource replaces the select class as the property source and
	// narrows the discriminator to itself.
	PropertiesSource *schema.Class
	InputClass       *schema.Class
	// PathFromInput leads from InputClass to the select class.
	PathFromInput        schema.RelatedClassPath
	RelatedInstancePaths []schema.RelatedClassPath
	// Recursive sources select everything reachable from the input over
	// RecursiveRelationships, at any depth.
	Recursive              bool
	RecursiveRelationships []schema.RelatedClass
}

// PropertyClass returns the class whose properties the source projects.
func (s ContentSource) PropertyClass() *schema.Class {
	if s.PropertiesSource != nil {
		return s.PropertiesSource
	}
	return s.Select.Class
}

// Input is the caller's instances of one class.
type Input struct {
	Class *schema.Class
	IDs   []uint64
}

// ResolveInput resolves input class names and merges entries of the same
// class, keeping first-seen order.
func ResolveInput(g Graph, in []rules.InputInstances) ([]Input, error) {
	var out []Input
	index := map[schema.ClassID]int{}
	for _, entry := range in {
		class, err := g.ClassByName(entry.Class)
		if err != nil {
			return nil, fmt.Errorf("input class: %w", err)
		}
		if i, ok := index[class.ID]; ok {
			out[i].IDs = append(out[i].IDs, entry.IDs...)
			continue
		}
		index[class.ID] = len(out)
		out = append(out, Input{Class: class, IDs: append([]uint64(nil), entry.IDs...)})
	}
	return out, nil
}

// Builder creates content sources for specifications of one session.
type Builder struct {
	graph     Graph
	aliases   *naming.AliasCounter
	relUses   *naming.AliasCounter
	checker   ExistenceChecker
	modifiers []rules.ContentModifier
}

// Option configures a Builder.
type Option func(*Builder)

// WithExistenceChecker narrows polymorphic class lists to classes with instances.
func WithExistenceChecker(c ExistenceChecker) Option {
	return func(b *Builder) {
		b.checker = c
	}
}

// WithModifiers sets the content modifiers sources are split by.
func WithModifiers(m []rules.ContentModifier) Option {
	return func(b *Builder) {
		b.modifiers = m
	}
}

// WithRelationshipCounter shares the relationship-use counter of a session.
func WithRelationshipCounter(c *naming.AliasCounter) Option {
	return func(b *Builder) {
		if c != nil {
			b.relUses = c
		}
	}
}

// NewBuilder creates a builder drawing select aliases from aliases.
func NewBuilder(graph Graph, aliases *naming.AliasCounter, opts ...Option) *Builder {
	b := &Builder{
		graph:   graph,
		aliases: aliases,
		relUses: naming.NewAliasCounter(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build returns the sources of one specification.
func (b *Builder) Build(ctx context.Context, spec rules.ContentSpecification, input []Input) ([]ContentSource, error) {
	var (
		out    []ContentSource
		prefix string
		err    error
	)
	switch s := spec.(type) {
	case *rules.SelectedInstancesSpecification:
		prefix = PrefixThis
		out, err = b.selectedInstances(ctx, s, input)
	case *rules.RelatedInstancesSpecification:
		prefix = PrefixRelated
		out, err = b.relatedInstances(ctx, s, input)
	case *rules.InstancesOfClassesSpecification:
		prefix = PrefixThis
		out, err = b.instancesOfClasses(ctx, s)
	default:
		return nil, fmt.Errorf("unsupported specification %T", spec)
	}
	if err != nil {
		return nil, err
	}
	if len(b.modifiers) == 0 || len(out) == 0 {
		return out, nil
	}
	return b.split(ctx, out, prefix), nil
}

// aliasPath assigns hop aliases: relationship aliases from the use counter,
// intermediate targets with the related prefix and the final target with
// selectAlias.
func (b *Builder) aliasPath(path schema.RelatedClassPath, selectAlias string) schema.RelatedClassPath {
	out := path.Clone()
	for i := range out {
		out[i].RelationshipAlias = b.relUses.Next(PrefixRelationship, out[i].Relationship.Name)
		if i == len(out)-1 {
			out[i].TargetAlias = selectAlias
		} else {
			out[i].TargetAlias = b.aliases.Next(PrefixRelated, out[i].Target.Name)
		}
	}
	return out
}
