package compiler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"contentsql/internal/appender"
	"contentsql/internal/existence"
	"contentsql/internal/flatten"
	"contentsql/internal/logging"
	"contentsql/internal/naming"
	"contentsql/internal/query"
	"contentsql/internal/rules"
	"contentsql/internal/schema"
	"contentsql/internal/sources"
)

// Session holds the state of one Build call: alias counters, the handled
// select classes, and the related path caches. It is not safe for
// concurrent use.
type Session struct {
	id       string
	compiler *Compiler
	graph    SchemaGraph
	req      *rules.Request
	logger   *logging.Logger

	aliases  *naming.AliasCounter
	relUses  *naming.AliasCounter
	inputIDs map[schema.ClassID][]uint64

	projections *appender.Orchestrator[*appender.ProjectionAppender]
	descriptors *appender.Orchestrator[*appender.DescriptorAppender]
	described   []appender.DescriptorField
	describedAt map[string]bool

	related          *flatten.Resolver
	relatedInstances *flatten.Cache[[]schema.RelatedClassPath]

	modifiers []resolvedModifier
	sorting   []resolvedSortingRule
	// handledSelect lists select classes produced by earlier specifications.
	handledSelect map[schema.ClassID]bool
}

type resolvedModifier struct {
	class    *schema.Class
	modifier *rules.ContentModifier
}

type resolvedSortingRule struct {
	class *schema.Class
	rule  rules.SortingRule
}

func newSession(c *Compiler, req *rules.Request) *Session {
	id := logging.NewSessionID()
	s := &Session{
		id:               id,
		compiler:         c,
		graph:            c.graph,
		req:              req,
		logger:           (&logging.Logger{Logger: c.logger}).WithSessionID(id),
		aliases:          naming.NewAliasCounter(),
		relUses:          naming.NewAliasCounter(),
		inputIDs:         map[schema.ClassID][]uint64{},
		describedAt:      map[string]bool{},
		relatedInstances: flatten.NewCache[[]schema.RelatedClassPath](),
		handledSelect:    map[schema.ClassID]bool{},
	}
	s.projections = appender.NewOrchestrator[*appender.ProjectionAppender](c.graph,
		appender.ProjectionFactory{Graph: c.graph, Aliases: s.aliases})
	if c.descriptor {
		s.descriptors = appender.NewOrchestrator[*appender.DescriptorAppender](c.graph,
			appender.DescriptorFactory{Graph: c.graph})
	}
	s.related = flatten.NewResolver(c.graph)

	for i := range req.Modifiers {
		m := &req.Modifiers[i]
		class, err := c.graph.ClassByName(m.Class)
		if err != nil {
			// the source builder reports unknown modifier classes
			continue
		}
		s.modifiers = append(s.modifiers, resolvedModifier{class: class, modifier: m})
	}
	for _, rule := range req.SortingRules {
		class, err := c.graph.ClassByName(rule.Class)
		if err != nil {
			s.logger.Warn("sorting rule references unknown class", slog.String("class", rule.Class))
			continue
		}
		s.sorting = append(s.sorting, resolvedSortingRule{class: class, rule: rule})
	}
	return s
}

func (s *Session) build(ctx context.Context) (*Result, error) {
	input, err := sources.ResolveInput(s.graph, s.req.Input)
	if err != nil {
		return nil, err
	}
	for _, in := range input {
		s.inputIDs[in.Class.ID] = in.IDs
	}

	agg := NewAggregator(s.compiler.exprs, s.compiler.maxCompound, s.compiler.maxPageSize)
	for i, spec := range byPriority(s.req.Specifications) {
		if err := ctx.Err(); err != nil {
			return nil, cancelled(ctx)
		}
		queries, err := s.buildSpecification(ctx, i, spec, input)
		if err != nil {
			return nil, err
		}
		for _, q := range queries {
			if err := agg.Add(q); err != nil {
				return nil, err
			}
		}
	}

	result := &Result{Sources: agg.Sources(), Descriptor: s.described}
	if agg.Sources() == 0 {
		s.logger.Info("request produced no content queries",
			slog.Int("specifications", len(s.req.Specifications)))
		return result, nil
	}
	final, err := agg.Finalize(s.req.Overrides)
	if err != nil {
		return nil, err
	}
	result.Query = agg.Set()
	result.SQL = final.SQL
	result.Args = final.Args
	result.Fields = agg.Set().Fields()
	return result, nil
}

// origin names a specification in path cache keys.
func origin(index int, header *rules.Header) string {
	if header.ID != "" {
		return "spec:" + header.ID
	}
	return "spec#" + strconv.Itoa(index)
}

func (s *Session) buildSpecification(ctx context.Context, index int, spec rules.ContentSpecification, input []sources.Input) ([]*query.Query, error) {
	header := spec.Common()
	specOrigin := origin(index, header)
	logger := s.logger.WithFields(slog.String("specification", specOrigin), slog.String("kind", string(spec.Kind())))
	ctx = logging.WithLogger(ctx, logger)

	opts := []sources.Option{
		sources.WithModifiers(s.req.Modifiers),
		sources.WithRelationshipCounter(s.relUses),
	}
	if s.compiler.probe != nil {
		opts = append(opts, sources.WithExistenceChecker(s.compiler.probe))
	}
	srcs, err := sources.NewBuilder(s.graph, s.aliases, opts...).Build(ctx, spec, input)
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(ctx)
		}
		return nil, fmt.Errorf("specification %s: %w", specOrigin, err)
	}

	var candidates []existence.Candidate
	for _, src := range srcs {
		if err := ctx.Err(); err != nil {
			return nil, cancelled(ctx)
		}
		if header.OnlyIfNotHandled && s.handledSelect[src.Select.Class.ID] {
			logger.Debug("select class already handled", slog.String("class", src.Select.Class.FullName()))
			continue
		}
		candidate, ok, err := s.buildQuery(ctx, specOrigin, header, src)
		if err != nil {
			if ctx.Err() != nil {
				return nil, cancelled(ctx)
			}
			return nil, fmt.Errorf("specification %s: %w", specOrigin, err)
		}
		if !ok {
			continue
		}
		candidates = append(candidates, candidate)
	}

	kept := make([]int, 0, len(candidates))
	if s.compiler.probe != nil && len(candidates) > 0 {
		kept, err = s.compiler.probe.Sources(ctx, candidates)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil, cancelled(ctx)
			}
			return nil, err
		}
	} else {
		for i := range candidates {
			kept = append(kept, i)
		}
	}

	queries := make([]*query.Query, 0, len(kept))
	for _, i := range kept {
		queries = append(queries, candidates[i].Query)
		s.handledSelect[candidates[i].Source.Select.Class.ID] = true
	}
	logger.Debug("specification compiled",
		slog.Int("sources", len(srcs)),
		slog.Int("queries", len(queries)),
	)
	return queries, nil
}

// ancestors returns the classes c derives from, nearest first.
func (s *Session) ancestors(c *schema.Class) []*schema.Class {
	var out []*schema.Class
	seen := map[schema.ClassID]bool{c.ID: true}
	queue := append([]schema.ClassID(nil), c.BaseIDs...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		base, err := s.graph.ClassByID(id)
		if err != nil {
			continue
		}
		out = append(out, base)
		queue = append(queue, base.BaseIDs...)
	}
	return out
}

// modifiersFor returns the modifiers that apply to c, in request order.
func (s *Session) modifiersFor(c *schema.Class) []resolvedModifier {
	var out []resolvedModifier
	for _, m := range s.modifiers {
		if s.graph.IsA(c, m.class.ID) {
			out = append(out, m)
		}
	}
	return out
}

func (s *Session) describe(fields []appender.DescriptorField) {
	for _, f := range fields {
		if s.describedAt[f.Name] {
			continue
		}
		s.describedAt[f.Name] = true
		s.described = append(s.described, f)
	}
}
