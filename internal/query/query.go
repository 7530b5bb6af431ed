// Package query holds the relational query model the compiler emits: one
// Query per content source, unioned into a QuerySet and optionally nested
// under descriptor-level sort, filter and paging clauses.
package query

import (
	"fmt"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"contentsql/internal/schema"
	"contentsql/internal/sqlutil"
)

// Names of the columns every query projects first.
const (
	InstanceIDField   = "ECInstanceId"
	ClassIDField      = "ECClassId"
	DisplayLabelField = "DisplayLabel"
)

// SortKeyPrefix names projected sort-rule columns: __SortKey0, __SortKey1, ...
const SortKeyPrefix = "__SortKey"

// LabelSuffix names the label column projected next to a navigation property.
const LabelSuffix = "__Label"

// FieldKind tells consumers how a projected field can be sorted and labeled.
type FieldKind int

const (
	FieldSystem FieldKind = iota
	FieldProperty
	FieldEnum
	FieldDisplayLabel
	FieldNavigation
	FieldNavigationLabel
)

func (k FieldKind) String() string {
	switch k {
	case FieldSystem:
		return "system"
	case FieldProperty:
		return "property"
	case FieldEnum:
		return "enum"
	case FieldDisplayLabel:
		return "displayLabel"
	case FieldNavigation:
		return "navigation"
	case FieldNavigationLabel:
		return "navigationLabel"
	default:
		return "unknown"
	}
}

// Field is one projected column.
type Field struct {
	Name string
	// Expr is a SQL expression, usually an alias-qualified column.
	Expr string
	Args []any
	Kind FieldKind
	// Alias is the table alias Expr reads from, empty for constants.
	Alias      string
	Type       string
	EnumValues []schema.EnumValue
}

func (f Field) column() (string, []any) {
	return f.Expr + " AS " + sqlutil.QuoteIdentifier(f.Name), f.Args
}

// SortKey orders the union by a per-query expression.
type SortKey struct {
	Expr       string
	Descending bool
}

// SortKeyName returns the projected name of the i-th sort key.
func SortKeyName(i int) string {
	return fmt.Sprintf("%s%d", SortKeyPrefix, i)
}

// JoinKind selects inner or left join.
type JoinKind int

const (
	InnerJoin JoinKind = iota
	LeftJoin
)

// Join adds a table under an alias.
type Join struct {
	Kind  JoinKind
	Table string
	Alias string
	On    sq.Sqlizer
}

// ToSql renders the join clause.
func (j Join) ToSql() (string, []any, error) {
	keyword := "JOIN "
	if j.Kind == LeftJoin {
		keyword = "LEFT JOIN "
	}
	if j.On == nil {
		return "", nil, fmt.Errorf("join %s has no condition", j.Alias)
	}
	on, args, err := j.On.ToSql()
	if err != nil {
		return "", nil, err
	}
	return keyword + sqlutil.TableAs(j.Table, j.Alias) + " ON " + on, args, nil
}

// Query reads one class table, joins related tables and projects fields.
type Query struct {
	Table    string
	Alias    string
	Joins    []Join
	Where    []sq.Sqlizer
	Fields   []Field
	SortKeys []SortKey
	// Distinct groups rows by every projected column.
	Distinct bool
}

// New starts a query over table aliased alias.
func New(table, alias string) *Query {
	return &Query{Table: table, Alias: alias}
}

// Field returns the projected field named name.
func (q *Query) Field(name string) (Field, bool) {
	for _, f := range q.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// AddField projects f unless a field with the same name exists.
func (q *Query) AddField(f Field) bool {
	if _, ok := q.Field(f.Name); ok {
		return false
	}
	q.Fields = append(q.Fields, f)
	return true
}

// HasJoin reports whether alias is already joined.
func (q *Query) HasJoin(alias string) bool {
	for _, j := range q.Joins {
		if j.Alias == alias {
			return true
		}
	}
	return false
}

// AddJoin appends j unless its alias is already joined.
func (q *Query) AddJoin(j Join) bool {
	if q.HasJoin(j.Alias) {
		return false
	}
	q.Joins = append(q.Joins, j)
	return true
}

// AndWhere adds a condition; nil conditions are ignored.
func (q *Query) AndWhere(cond sq.Sqlizer) {
	if cond != nil {
		q.Where = append(q.Where, cond)
	}
}

// ToSQL renders the query with its own fields and sort keys.
func (q *Query) ToSQL() (string, []any, error) {
	names := make([]string, 0, len(q.Fields))
	for _, f := range q.Fields {
		names = append(names, f.Name)
	}
	return q.builder(names, len(q.SortKeys)).ToSql()
}

// ProbeSQL renders a single-row existence probe of the query rows that
// projects index.
func (q *Query) ProbeSQL(index int) (string, []any, error) {
	b := sq.Select(strconv.Itoa(index)).From(sqlutil.TableAs(q.Table, q.Alias)).PlaceholderFormat(sq.Question)
	for _, j := range q.Joins {
		b = b.JoinClause(j)
	}
	for _, w := range q.Where {
		b = b.Where(w)
	}
	return b.Limit(1).ToSql()
}

// builder projects names in order, NULL for fields this query lacks, then
// sortKeys sort-key columns.
func (q *Query) builder(names []string, sortKeys int) sq.SelectBuilder {
	b := sq.Select().From(sqlutil.TableAs(q.Table, q.Alias)).PlaceholderFormat(sq.Question)
	for _, name := range names {
		if f, ok := q.Field(name); ok {
			col, args := f.column()
			b = b.Column(col, args...)
			continue
		}
		b = b.Column("NULL AS " + sqlutil.QuoteIdentifier(name))
	}
	for i := 0; i < sortKeys; i++ {
		expr := "NULL"
		if i < len(q.SortKeys) {
			expr = q.SortKeys[i].Expr
		}
		b = b.Column(expr + " AS " + sqlutil.QuoteIdentifier(SortKeyName(i)))
	}
	for _, j := range q.Joins {
		b = b.JoinClause(j)
	}
	for _, w := range q.Where {
		b = b.Where(w)
	}
	if q.Distinct {
		b = b.GroupBy(q.groupBy()...)
	}
	return b
}

func (q *Query) groupBy() []string {
	var cols []string
	for _, f := range q.Fields {
		if f.Alias != "" {
			cols = append(cols, f.Expr)
		}
	}
	for _, k := range q.SortKeys {
		cols = append(cols, k.Expr)
	}
	return cols
}

// shapeKey identifies the FROM/JOIN/WHERE shape. Queries with equal keys read
// the same rows.
func (q *Query) shapeKey() (string, error) {
	b := sq.Select("1").From(sqlutil.TableAs(q.Table, q.Alias))
	for _, j := range q.Joins {
		b = b.JoinClause(j)
	}
	for _, w := range q.Where {
		b = b.Where(w)
	}
	sql, args, err := b.ToSql()
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString(sql)
	fmt.Fprintf(&sb, "|%v|%t", args, q.Distinct)
	for _, k := range q.SortKeys {
		fmt.Fprintf(&sb, "|%s %t", k.Expr, k.Descending)
	}
	return sb.String(), nil
}

// mergeFields adds other's fields to q. It fails without changing q when a
// field of the same name reads something else.
func (q *Query) mergeFields(other *Query) bool {
	for _, f := range other.Fields {
		if existing, ok := q.Field(f.Name); ok && (existing.Expr != f.Expr || fmt.Sprint(existing.Args) != fmt.Sprint(f.Args)) {
			return false
		}
	}
	for _, f := range other.Fields {
		q.AddField(f)
	}
	return true
}
