package compiler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"contentsql/internal/appender"
	"contentsql/internal/existence"
	"contentsql/internal/flatten"
	"contentsql/internal/logging"
	"contentsql/internal/query"
	"contentsql/internal/rules"
	"contentsql/internal/schema"
	"contentsql/internal/sources"
	"contentsql/internal/sqlutil"
)

// Alias prefixes of related-property joins.
const (
	prefixRelatedProperty = "rel"
	modifierOrigin        = "modifier:"
)

// buildQuery turns one content source into an existence candidate holding
// its query. It reports false when the source has nothing to read, such as an
// input class without ids.
func (s *Session) buildQuery(ctx context.Context, specOrigin string, header *rules.Header, src sources.ContentSource) (existence.Candidate, bool, error) {
	sel := src.Select
	propClass := src.PropertyClass()
	logger := logging.FromContext(ctx).With(slog.String("alias", sel.Alias), slog.String("class", propClass.FullName()))

	var inputIDs []uint64
	if src.InputClass != nil {
		inputIDs = s.inputIDs[src.InputClass.ID]
		if len(inputIDs) == 0 {
			logger.Debug("source input has no ids", slog.String("input", src.InputClass.FullName()))
			return existence.Candidate{}, false, nil
		}
	}

	q := query.New(sel.Class.Table, sel.Alias)
	q.AndWhere(s.discriminator(src))
	s.systemFields(q, src)

	overrides := append([]rules.PropertySpecification(nil), header.PropertyOverrides...)
	for _, m := range s.modifiersFor(propClass) {
		overrides = append(overrides, m.modifier.PropertyOverrides...)
	}
	scope := appender.SelectClassScope(propClass, overrides)
	contract := s.projections.AppendClass(scope)
	for _, f := range contract.Appender.Fields() {
		s.addField(q, f, sel.Alias)
	}
	for _, nav := range contract.NavigationPaths {
		for _, j := range query.JoinPath(nav, sel.Alias, query.LeftJoin) {
			q.AddJoin(j)
		}
	}
	if s.descriptors != nil {
		s.describe(s.descriptors.AppendClass(scope).Appender.Fields())
	}

	provider := newFieldProvider(s.graph)
	provider.bind(thisQualifier, binding{alias: sel.Alias, class: propClass, polymorphic: sel.Polymorphic})

	if err := s.appendRelatedProperties(ctx, q, specOrigin, header, src); err != nil {
		return existence.Candidate{}, false, err
	}
	if err := s.joinRelatedInstances(ctx, q, specOrigin, header, src, provider); err != nil {
		return existence.Candidate{}, false, err
	}
	narrowed := src.PropertiesSource != nil || hasInnerJoin(q)

	if src.InputClass != nil {
		if src.Recursive {
			q.AndWhere(s.reachFilter(sel.Alias, sel.Class, src.InputClass, src.RecursiveRelationships, inputIDs))
		} else {
			var back schema.RelatedClassPath
			if len(src.PathFromInput) > 0 {
				back = src.PathFromInput.Reverse(s.aliases.Next(sources.PrefixThis, src.InputClass.Name), false)
			}
			joins, cond := query.InputFilter(sel.Class, sel.Alias, back, inputIDs)
			for _, j := range joins {
				q.AddJoin(j)
			}
			q.AndWhere(cond)
		}
	}

	if strings.TrimSpace(header.InstanceFilter) != "" {
		clause, err := s.compiler.exprs.Compile(header.InstanceFilter, provider)
		if err != nil {
			return existence.Candidate{}, false, fmt.Errorf("instance filter of %s: %w", propClass.FullName(), err)
		}
		if !clause.IsEmpty() {
			q.AndWhere(clause.Condition)
			narrowed = true
		}
	}

	q.Distinct = header.DistinctValues
	if key, ok := s.sortKey(sel.Alias, propClass); ok {
		q.SortKeys = append(q.SortKeys, key)
	}
	return existence.Candidate{Source: src, Query: q, InputIDs: inputIDs, Narrowed: narrowed}, true, nil
}

// hasInnerJoin reports whether a join of q can drop select rows.
func hasInnerJoin(q *query.Query) bool {
	for _, j := range q.Joins {
		if j.Kind == query.InnerJoin {
			return true
		}
	}
	return false
}

// discriminator narrows the select table to the classes the source covers.
func (s *Session) discriminator(src sources.ContentSource) sq.Sqlizer {
	sel := src.Select
	if src.PropertiesSource != nil {
		ids := s.graph.HierarchyClassIDs(src.PropertiesSource, true, sel.DerivedExclusions)
		return query.Discriminator(sel.Alias, sel.Class, ids)
	}
	if sel.Polymorphic {
		if len(sel.Class.BaseIDs) == 0 && len(sel.DerivedExclusions) == 0 {
			return nil
		}
		return query.Discriminator(sel.Alias, sel.Class, s.graph.HierarchyClassIDs(sel.Class, true, sel.DerivedExclusions))
	}
	return query.Discriminator(sel.Alias, sel.Class, []schema.ClassID{sel.Class.ID})
}

// systemFields projects the instance id, class id and display label.
func (s *Session) systemFields(q *query.Query, src sources.ContentSource) {
	sel := src.Select
	propClass := src.PropertyClass()
	q.AddField(query.Field{
		Name:  query.InstanceIDField,
		Expr:  sqlutil.Column(sel.Alias, sel.Class.PrimaryKey()),
		Kind:  query.FieldSystem,
		Alias: sel.Alias,
		Type:  "long",
	})
	classID := query.Field{Name: query.ClassIDField, Kind: query.FieldSystem, Type: "long"}
	if sel.Class.HasDiscriminator() {
		classID.Expr = sqlutil.Column(sel.Alias, sel.Class.ClassIDColumn)
		classID.Alias = sel.Alias
	} else {
		classID.Expr = "?"
		classID.Args = []any{uint64(propClass.ID)}
	}
	q.AddField(classID)

	label := query.Field{Name: query.DisplayLabelField, Kind: query.FieldDisplayLabel, Type: "string"}
	if prop, ok := s.labelProperty(propClass); ok {
		label.Expr = sqlutil.Column(sel.Alias, prop.Column)
		label.Alias = sel.Alias
	} else {
		label.Expr = "?"
		label.Args = []any{propClass.DisplayLabel()}
	}
	q.AddField(label)
}

func (s *Session) labelProperty(c *schema.Class) (schema.Property, bool) {
	if c.LabelProperty == "" {
		return schema.Property{}, false
	}
	return s.graph.FindProperty(c.ID, c.LabelProperty)
}

// addField projects spec, qualifying unaliased specs with alias. A name
// already taken by a different expression gets a numeric suffix.
func (s *Session) addField(q *query.Query, spec appender.FieldSpec, alias string) {
	if spec.Alias != "" {
		alias = spec.Alias
	}
	f := query.Field{
		Name:       spec.Name,
		Expr:       sqlutil.Column(alias, spec.Column),
		Kind:       spec.Kind,
		Alias:      alias,
		Type:       spec.Property.Type,
		EnumValues: spec.Property.EnumValues,
	}
	if existing, ok := q.Field(f.Name); ok {
		if existing.Expr == f.Expr {
			return
		}
		for n := 1; ; n++ {
			name := fmt.Sprintf("%s_%d", spec.Name, n)
			if _, taken := q.Field(name); !taken {
				f.Name = name
				break
			}
		}
	}
	q.AddField(f)
}

type relatedGroup struct {
	origin string
	specs  []rules.RelatedPropertiesSpecification
}

// appendRelatedProperties joins and projects the related properties of the
// specification header and of the modifiers of the property class.
func (s *Session) appendRelatedProperties(ctx context.Context, q *query.Query, specOrigin string, header *rules.Header, src sources.ContentSource) error {
	propClass := src.PropertyClass()
	groups := []relatedGroup{{origin: specOrigin, specs: header.RelatedProperties}}
	for _, m := range s.modifiersFor(propClass) {
		groups = append(groups, relatedGroup{origin: modifierOrigin + m.class.FullName(), specs: m.modifier.RelatedProperties})
	}

	appended := map[string]bool{}
	for _, g := range groups {
		if len(g.specs) == 0 {
			continue
		}
		flat := flatten.Flatten(g.specs, flatten.Scope{Origin: g.origin})
		resolved, err := s.related.Resolve(ctx, g.origin, propClass, s.ancestors(propClass), flat)
		if err != nil {
			return err
		}
		for _, entry := range resolved {
			for _, p := range entry.Paths {
				s.appendRelatedPath(q, src, entry.Spec.Flattened, p, appended)
			}
		}
	}
	return nil
}

// appendRelatedPath projects the properties one resolved path reaches and
// joins the path when anything was projected.
func (s *Session) appendRelatedPath(q *query.Query, src sources.ContentSource, spec rules.RelatedPropertiesSpecification,
	p flatten.PathWithSources, appended map[string]bool) {

	propClass := src.PropertyClass()
	key := p.Path.Key()
	if spec.SkipIfDuplicate && appended[key] {
		return
	}
	derived := false
	for _, c := range p.ActualSourceClasses {
		if c.ID != propClass.ID && s.graph.IsA(c, propClass.ID) {
			derived = true
		}
	}
	path := s.aliasRelatedPath(p.Path, derived)
	last := path.Last()
	target := path.Target()

	var (
		projected bool
		navs      []schema.RelatedClassPath
	)
	if len(spec.RelationshipProperties) > 0 && last.Relationship.Relationship.Strategy == schema.StorageLinkTable {
		scope := appender.Scope{
			Class:       last.Relationship,
			Alias:       last.RelationshipAlias,
			Path:        path,
			Selection:   spec.RelationshipProperties,
			FieldPrefix: prefixRelatedProperty + "_" + last.Relationship.Name + "_",
			Category:    last.Relationship.DisplayLabel(),
		}
		if r := s.projections.AppendPath(scope); r.Appended {
			projected = true
			for _, f := range r.Appender.Fields() {
				s.addField(q, f, last.RelationshipAlias)
			}
			s.describePath(scope)
		}
	}
	if !spec.SelectsNone() {
		scope := appender.Scope{
			Class:       target,
			Alias:       last.TargetAlias,
			Path:        path,
			Selection:   spec.Properties,
			SelectAll:   spec.SelectsAll(),
			FieldPrefix: prefixRelatedProperty + "_" + target.Name + "_",
			Category:    target.DisplayLabel(),
			Polymorphic: spec.Polymorphic,
		}
		if r := s.projections.AppendPath(scope); r.Appended {
			projected = true
			path = r.Path
			navs = r.NavigationPaths
			for _, f := range r.Appender.Fields() {
				s.addField(q, f, last.TargetAlias)
			}
			s.describePath(scope)
		}
	}
	if !projected {
		s.logger.Debug("related path projects nothing", slog.String("path", key))
		return
	}
	appended[key] = true

	from := src.Select.Alias
	for _, hop := range path {
		kind := query.InnerJoin
		if hop.TargetOptional {
			kind = query.LeftJoin
		}
		hj := query.HopJoin{Hop: hop, FromAlias: from, Kind: kind, Restrict: s.hopRestrictions(hop)}
		for _, j := range hj.Joins() {
			q.AddJoin(j)
		}
		from = hop.TargetAlias
	}
	for _, nav := range navs {
		for _, j := range query.JoinPath(nav, src.Select.Alias, query.LeftJoin) {
			q.AddJoin(j)
		}
	}
}

func (s *Session) describePath(scope appender.Scope) {
	if s.descriptors == nil {
		return
	}
	s.describe(s.descriptors.AppendPath(scope).Appender.Fields())
}

// aliasRelatedPath gives every hop of a resolved path fresh aliases. The
// target of the last hop is the related-property class, intermediate
// targets are plain related instances. Paths read from a class derived from
// the select class must not drop rows of its siblings, so they become optional.
func (s *Session) aliasRelatedPath(path schema.RelatedClassPath, optional bool) schema.RelatedClassPath {
	out := path.Clone()
	for i := range out {
		hop := &out[i]
		hop.RelationshipAlias = s.relUses.Next(sources.PrefixRelationship, hop.Relationship.Name)
		prefix := sources.PrefixRelated
		if i == len(out)-1 {
			prefix = prefixRelatedProperty
		}
		hop.TargetAlias = s.aliases.Next(prefix, hop.Target.Name)
		if optional {
			hop.TargetOptional = true
		}
	}
	return out
}

// hopRestrictions returns the target discriminator and the compiled step
// filter of a related-property hop.
func (s *Session) hopRestrictions(hop schema.RelatedClass) []sq.Sqlizer {
	var out []sq.Sqlizer
	target := hop.Target
	if target.HasDiscriminator() && !(hop.TargetPolymorphic && len(target.BaseIDs) == 0) {
		out = append(out, query.Discriminator(hop.TargetAlias, target, s.graph.HierarchyClassIDs(target, hop.TargetPolymorphic, nil)))
	}
	if strings.TrimSpace(hop.InstanceFilter) != "" {
		provider := newFieldProvider(s.graph)
		provider.bind(thisQualifier, binding{alias: hop.TargetAlias, class: target, polymorphic: hop.TargetPolymorphic})
		clause, err := s.compiler.exprs.Compile(hop.InstanceFilter, provider)
		if err != nil {
			s.logger.Warn("related properties filter ignored",
				slog.String("filter", hop.InstanceFilter),
				slog.String("error", err.Error()),
			)
		} else if !clause.IsEmpty() {
			out = append(out, clause.Condition)
		}
	}
	return out
}

// joinRelatedInstances joins the related instance rules of the header so
// that the instance filter can reference their aliases.
func (s *Session) joinRelatedInstances(ctx context.Context, q *query.Query, specOrigin string, header *rules.Header,
	src sources.ContentSource, provider *fieldProvider) error {

	if len(header.RelatedInstances) == 0 {
		return nil
	}
	propClass := src.PropertyClass()
	key := flatten.Key{Origin: specOrigin, Class: propClass.ID}
	paths, ok := s.relatedInstances.Get(key)
	if !ok {
		var err error
		paths, err = s.graph.RelatedInstancePaths(ctx, propClass, header.RelatedInstances)
		if err != nil {
			return fmt.Errorf("related instances of %s: %w", propClass.FullName(), err)
		}
		s.relatedInstances.Put(key, paths)
	}

	for _, p := range paths {
		path := p.Clone()
		for i := range path {
			hop := &path[i]
			hop.RelationshipAlias = s.relUses.Next(sources.PrefixRelationship, hop.Relationship.Name)
			if i < len(path)-1 {
				hop.TargetAlias = s.aliases.Next(sources.PrefixRelated, hop.Target.Name)
			}
		}
		from := src.Select.Alias
		for _, hop := range path {
			kind := query.InnerJoin
			if hop.TargetOptional {
				kind = query.LeftJoin
			}
			for _, j := range (query.HopJoin{Hop: hop, FromAlias: from, Kind: kind}).Joins() {
				q.AddJoin(j)
			}
			from = hop.TargetAlias
		}
		last := path.Last()
		provider.bind(last.TargetAlias, binding{alias: last.TargetAlias, class: last.Target, polymorphic: last.TargetPolymorphic})
	}
	return nil
}

// sortKey returns the key of the first sorting rule matching class.
func (s *Session) sortKey(alias string, class *schema.Class) (query.SortKey, bool) {
	for _, r := range s.sorting {
		if r.class.ID != class.ID && !(r.rule.Polymorphic && s.graph.IsA(class, r.class.ID)) {
			continue
		}
		if r.rule.DoNotSort {
			return query.SortKey{}, false
		}
		prop, ok := s.graph.FindProperty(class.ID, r.rule.Property)
		if !ok {
			s.logger.Debug("sorting rule property not found",
				slog.String("class", class.FullName()),
				slog.String("property", r.rule.Property),
			)
			continue
		}
		return query.SortKey{Expr: sqlutil.Column(alias, prop.Column), Descending: r.rule.Descending}, true
	}
	return query.SortKey{}, false
}

// reachFilter restricts alias to instances reachable from ids over hops at
// any depth. Reached ids are tagged with the class they were reached as:
// a hop is seeded from the input only when its source accepts the input
// class, and steps only from rows of a class its source accepts. UNION
// deduplicates the reached rows, so cycles terminate.
func (s *Session) reachFilter(alias string, class, input *schema.Class, hops []schema.RelatedClass, ids []uint64) sq.Sqlizer {
	const edgeAlias = "e"
	reach := sqlutil.QuoteIdentifier("reach")
	reachID := sqlutil.Column("reach", "id")
	reachClass := sqlutil.Column("reach", "class_id")
	placeholders := sq.Placeholders(len(ids))

	var (
		seeds []string
		steps []string
		args  []any
		tags  []*schema.Class
	)
	for _, hop := range hops {
		tags = appendClass(tags, hop.Target)
	}
	for _, hop := range hops {
		e := hop.Edge()
		from := sqlutil.Column(edgeAlias, e.FromColumn)
		to := sqlutil.Column(edgeAlias, e.ToColumn)
		table := sqlutil.TableAs(e.Table, edgeAlias)
		tag := strconv.FormatUint(uint64(hop.Target.ID), 10)
		if s.sameRows(input, hop.Source) {
			seeds = append(seeds, "SELECT "+to+", "+tag+" FROM "+table+" WHERE "+from+" IN ("+placeholders+")")
			for _, id := range ids {
				args = append(args, id)
			}
		}
		if accepted := s.acceptedTags(tags, hop.Source); accepted != "" {
			steps = append(steps, "SELECT "+to+", "+tag+" FROM "+table+" JOIN "+reach+" ON "+from+" = "+reachID+
				" AND "+reachClass+" IN ("+accepted+")")
		}
	}
	selected := s.acceptedTags(tags, class)
	if len(seeds) == 0 || selected == "" {
		return sq.Expr("1 = 0")
	}
	body := strings.Join(seeds, " UNION ")
	if len(steps) > 0 {
		body += " UNION " + strings.Join(steps, " UNION ")
	}
	sql := sqlutil.Column(alias, class.PrimaryKey()) + " IN (WITH RECURSIVE " + reach +
		" (" + sqlutil.QuoteIdentifier("id") + ", " + sqlutil.QuoteIdentifier("class_id") + ") AS (" + body +
		") SELECT " + sqlutil.QuoteIdentifier("id") + " FROM " + reach +
		" WHERE " + sqlutil.QuoteIdentifier("class_id") + " IN (" + selected + "))"
	return sq.Expr(sql, args...)
}

// sameRows reports whether instances of c can be read as instances of want:
// c derives from want, or want derives from c within the same table.
func (s *Session) sameRows(c, want *schema.Class) bool {
	if s.graph.IsA(c, want.ID) {
		return true
	}
	return s.graph.IsA(want, c.ID) && c.Table == want.Table
}

// acceptedTags lists the reach tags whose rows can be read as want.
func (s *Session) acceptedTags(tags []*schema.Class, want *schema.Class) string {
	var out []string
	for _, t := range tags {
		if s.sameRows(t, want) {
			out = append(out, strconv.FormatUint(uint64(t.ID), 10))
		}
	}
	return strings.Join(out, ", ")
}

func appendClass(list []*schema.Class, c *schema.Class) []*schema.Class {
	for _, l := range list {
		if l.ID == c.ID {
			return list
		}
	}
	return append(list, c)
}
