// Package existence probes the database for content sources and classes that
// have at least one matching row, so that empty union branches can be left
// out of a content query.
package existence

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"contentsql/internal/dbexec"
	"contentsql/internal/logging"
	"contentsql/internal/query"
	"contentsql/internal/schema"
	"contentsql/internal/sources"
	"contentsql/internal/sqlutil"
)

const inputAlias = "input"

// Candidate is a content source to probe. Query holds the source's FROM,
// joins and filters; its projection is ignored.
type Candidate struct {
	Source   sources.ContentSource
	Query    *query.Query
	InputIDs []uint64
	// Narrowed marks a query with conditions beyond the input filter and the
	// select class discriminator, such as an instance filter or inner joins.
	// Narrowed candidates are always probed on their own.
	Narrowed bool
}

// Filter runs existence probes through an executor.
type Filter struct {
	exec        dbexec.QueryExecutor
	maxCompound int
}

// NewFilter creates a filter. maxCompound bounds the branches of one probe
// union; values below 1 use query.DefaultMaxCompoundSelect.
func NewFilter(exec dbexec.QueryExecutor, maxCompound int) *Filter {
	if maxCompound < 1 {
		maxCompound = query.DefaultMaxCompoundSelect
	}
	return &Filter{exec: exec, maxCompound: maxCompound}
}

// Sources returns the indexes of candidates with at least one row, in
// ascending order.
func (f *Filter) Sources(ctx context.Context, candidates []Candidate) ([]int, error) {
	ctx, span := startSpan(ctx, "existence.sources", attribute.Int("candidates", len(candidates)))
	defer span.End()

	simple, others := partition(candidates)
	var kept []int
	for _, group := range simple {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found, err := f.probeSimple(ctx, candidates, group)
		if err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		kept = append(kept, found...)
	}
	found, err := f.probeComplex(ctx, candidates, others)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	kept = append(kept, found...)
	sort.Ints(kept)
	span.SetAttributes(attribute.Int("kept", len(kept)))
	if len(kept) == 0 && len(candidates) > 0 {
		logging.FromContext(ctx).Info("no content source has matching rows", slog.Int("candidates", len(candidates)))
	}
	return kept, nil
}

// ClassesWithInstances keeps the classes that have at least one row of their
// own. It implements sources.ExistenceChecker.
func (f *Filter) ClassesWithInstances(ctx context.Context, classes []*schema.Class) ([]*schema.Class, error) {
	ctx, span := startSpan(ctx, "existence.classes", attribute.Int("classes", len(classes)))
	defer span.End()

	candidates := make([]Candidate, 0, len(classes))
	indexes := make([]int, 0, len(classes))
	for i, c := range classes {
		q := query.New(c.Table, "c")
		q.AndWhere(query.Discriminator("c", c, []schema.ClassID{c.ID}))
		candidates = append(candidates, Candidate{Query: q})
		indexes = append(indexes, i)
	}
	found, err := f.probeComplex(ctx, candidates, indexes)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	sort.Ints(found)
	out := make([]*schema.Class, 0, len(found))
	for _, i := range found {
		out = append(out, classes[i])
	}
	return out, nil
}

// partition groups simple candidates: plain, non-polymorphic selects without
// related-instance joins reached over the same path prefix, final
// relationship and direction, target table and input. Groups of fewer than
// two candidates fall back to the complex probes.
func partition(candidates []Candidate) (simple [][]int, others []int) {
	groups := map[string][]int{}
	var order []string
	for i, c := range candidates {
		key, ok := simpleKey(c)
		if !ok {
			others = append(others, i)
			continue
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}
	for _, key := range order {
		group := groups[key]
		if len(group) < 2 {
			others = append(others, group...)
			continue
		}
		simple = append(simple, group)
	}
	sort.Ints(others)
	return simple, others
}

func simpleKey(c Candidate) (string, bool) {
	src := c.Source
	path := src.PathFromInput
	if c.Narrowed || src.PropertiesSource != nil {
		return "", false
	}
	if src.Select.Polymorphic || src.Recursive || len(src.RelatedInstancePaths) > 0 || len(path) == 0 || src.InputClass == nil {
		return "", false
	}
	if !src.Select.Class.HasDiscriminator() {
		return "", false
	}
	for _, hop := range path {
		if hop.Relationship == nil || hop.Relationship.Relationship == nil {
			return "", false
		}
	}
	last := path.Last()
	ids := make([]string, 0, len(c.InputIDs))
	for _, id := range c.InputIDs {
		ids = append(ids, strconv.FormatUint(id, 10))
	}
	return fmt.Sprintf("%d|%s|%d|%t|%s|%s",
		src.InputClass.ID, path[:len(path)-1].Key(), last.Relationship.ID, last.Forward,
		src.Select.Class.Table, strings.Join(ids, ",")), true
}

// probeSimple reads the distinct class ids reached over the shared path once.
func (f *Filter) probeSimple(ctx context.Context, candidates []Candidate, group []int) ([]int, error) {
	first := candidates[group[0]].Source
	alias := first.Select.Alias
	class := first.Select.Class
	reversed := first.PathFromInput.Reverse(inputAlias, false)
	joins, cond := query.InputFilter(class, alias, reversed, candidates[group[0]].InputIDs)

	b := sq.Select(sqlutil.Column(alias, class.ClassIDColumn)).
		Distinct().
		From(sqlutil.TableAs(class.Table, alias)).
		PlaceholderFormat(sq.Question)
	for _, j := range joins {
		b = b.JoinClause(j)
	}
	sql, args, err := b.Where(cond).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to render existence query: %w", err)
	}

	present := map[uint64]bool{}
	err = f.collect(ctx, sql, args, func(rows dbexec.Rows) error {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return err
		}
		present[id] = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	var kept []int
	for _, i := range group {
		if present[uint64(candidates[i].Source.Select.Class.ID)] {
			kept = append(kept, i)
		}
	}
	return kept, nil
}

// probeComplex runs one LIMIT 1 probe per candidate, unioned in batches.
func (f *Filter) probeComplex(ctx context.Context, candidates []Candidate, indexes []int) ([]int, error) {
	var kept []int
	for start := 0; start < len(indexes); start += f.maxCompound {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+f.maxCompound, len(indexes))
		parts := make([]string, 0, end-start)
		var args []any
		for _, i := range indexes[start:end] {
			sql, probeArgs, err := candidates[i].Query.ProbeSQL(i)
			if err != nil {
				return nil, fmt.Errorf("failed to render existence probe %d: %w", i, err)
			}
			parts = append(parts, "("+sql+")")
			args = append(args, probeArgs...)
		}
		err := f.collect(ctx, strings.Join(parts, " UNION ALL "), args, func(rows dbexec.Rows) error {
			var i int
			if err := rows.Scan(&i); err != nil {
				return err
			}
			kept = append(kept, i)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return kept, nil
}

func (f *Filter) collect(ctx context.Context, sql string, args []any, scan func(dbexec.Rows) error) error {
	rows, err := f.exec.QueryContext(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("existence query failed: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return fmt.Errorf("failed to scan existence row: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("existence query failed: %w", err)
	}
	return nil
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if id := logging.GetSessionID(ctx); id != "" {
		attrs = append(attrs, attribute.String("session_id", id))
	}
	return otel.Tracer("contentsql/existence").Start(ctx, name, trace.WithAttributes(attrs...))
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
