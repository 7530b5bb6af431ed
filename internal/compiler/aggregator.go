package compiler

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"contentsql/internal/expr"
	"contentsql/internal/query"
	"contentsql/internal/rules"
	"contentsql/internal/sqlutil"
)

// contentAlias names the union when descriptor overrides wrap it.
const contentAlias = "content"

// Aggregator unions the per-source queries of a request and applies the
// descriptor overrides once, on top of the union.
type Aggregator struct {
	set         *query.QuerySet
	exprs       ExpressionCompiler
	maxPageSize int
}

// NewAggregator creates an empty aggregator.
func NewAggregator(exprs ExpressionCompiler, maxCompound, maxPageSize int) *Aggregator {
	if maxPageSize <= 0 {
		maxPageSize = DefaultMaxPageSize
	}
	return &Aggregator{set: query.NewQuerySet(maxCompound), exprs: exprs, maxPageSize: maxPageSize}
}

// Add appends a source query to the union.
func (a *Aggregator) Add(q *query.Query) error {
	_, err := a.set.AddToUnionSet(q)
	return err
}

// Sources returns the number of union branches. Merged queries count once.
func (a *Aggregator) Sources() int {
	return a.set.Len()
}

// Set returns the union.
func (a *Aggregator) Set() *query.QuerySet {
	return a.set
}

// Finalize renders the union with the overrides applied. Sorting, filtering
// and paging share one nesting level; without overrides the union is
// rendered as is.
func (a *Aggregator) Finalize(o rules.DescriptorOverrides) (query.SQLQuery, error) {
	if a.set.Len() == 0 {
		return query.SQLQuery{}, query.ErrEmptyQuerySet
	}
	order, orderArgs, err := a.sortExpr(o.SortField, o.SortDescending)
	if err != nil {
		return query.SQLQuery{}, err
	}
	where, err := a.filter(o.Filter)
	if err != nil {
		return query.SQLQuery{}, err
	}
	limit, offset, paged := a.page(o.Paging)

	if order == "" && where == nil && !paged {
		sql, args, err := a.set.ToSQL()
		if err != nil {
			return query.SQLQuery{}, err
		}
		return query.SQLQuery{SQL: sql, Args: args}, nil
	}

	union, err := a.set.UnionSQL()
	if err != nil {
		return query.SQLQuery{}, err
	}
	return query.Nest(union, contentAlias, func(b sq.SelectBuilder) sq.SelectBuilder {
		if where != nil {
			b = b.Where(where)
		}
		if order != "" {
			b = b.OrderByClause(order, orderArgs...)
		} else {
			for _, k := range a.set.SortKeys() {
				if k.Descending {
					b = b.OrderBy(k.Expr + " DESC")
				} else {
					b = b.OrderBy(k.Expr)
				}
			}
		}
		if paged {
			b = b.Limit(limit)
			if offset > 0 {
				b = b.Offset(offset)
			}
		}
		return b
	})
}

// sortExpr returns the ORDER BY expression of the sort override. Enum
// fields sort by label, navigation fields by the target label.
func (a *Aggregator) sortExpr(name string, descending bool) (string, []any, error) {
	if name == "" {
		return "", nil, nil
	}
	field, ok := a.field(name)
	if !ok {
		return "", nil, fmt.Errorf("unknown sort field %q", name)
	}
	col := sqlutil.Column(contentAlias, field.Name)
	var args []any
	switch field.Kind {
	case query.FieldEnum:
		if len(field.EnumValues) > 0 {
			var sb strings.Builder
			sb.WriteString("CASE " + col)
			for _, v := range field.EnumValues {
				sb.WriteString(" WHEN ? THEN ?")
				args = append(args, v.Value, v.Label)
			}
			sb.WriteString(" ELSE " + col + " END")
			col = sb.String()
		}
	case query.FieldNavigation:
		if _, ok := a.set.Field(field.Name + query.LabelSuffix); ok {
			col = sqlutil.Column(contentAlias, field.Name+query.LabelSuffix)
		}
	}
	if descending {
		col += " DESC"
	}
	return col, args, nil
}

func (a *Aggregator) field(name string) (query.Field, bool) {
	if f, ok := a.set.Field(name); ok {
		return f, true
	}
	for _, f := range a.set.Fields() {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return query.Field{}, false
}

// filter compiles the descriptor filter over the union's columns.
func (a *Aggregator) filter(text string) (sq.Sqlizer, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	columns := expr.Columns{}
	for _, f := range a.set.Fields() {
		columns[f.Name] = sqlutil.Column(contentAlias, f.Name)
	}
	clause, err := a.exprs.Compile(text, columns)
	if err != nil {
		return nil, fmt.Errorf("descriptor filter: %w", err)
	}
	return clause.Condition, nil
}

// page returns the window to select. A start without a size reads at most
// maxPageSize rows; larger sizes are clamped to it.
func (a *Aggregator) page(p rules.PageOptions) (limit, offset uint64, ok bool) {
	if p.IsEmpty() {
		return 0, 0, false
	}
	size := p.Size
	if size <= 0 || size > a.maxPageSize {
		size = a.maxPageSize
	}
	start := max(p.Start, 0)
	return uint64(size), uint64(start), true
}
