package query

import (
	"errors"
	"fmt"
	"strings"

	"contentsql/internal/sqlutil"
)

// DefaultMaxCompoundSelect bounds the branches of one compound select.
const DefaultMaxCompoundSelect = 500

// ErrEmptyQuerySet is returned when rendering a set without queries.
var ErrEmptyQuerySet = errors.New("query set is empty")

// SQLQuery represents a planned SQL statement with bound args.
type SQLQuery struct {
	SQL  string
	Args []any
}

// QuerySet is an ordered collection of queries rendered as one UNION ALL.
type QuerySet struct {
	queries     []*Query
	keys        []string
	maxCompound int
}

// NewQuerySet creates an empty set. maxCompound bounds the number of branches
// of any single compound select; values below 2 use DefaultMaxCompoundSelect.
func NewQuerySet(maxCompound int) *QuerySet {
	if maxCompound < 2 {
		maxCompound = DefaultMaxCompoundSelect
	}
	return &QuerySet{maxCompound: maxCompound}
}

// Len returns the number of union branches.
func (s *QuerySet) Len() int {
	return len(s.queries)
}

// Queries returns the branches in insertion order.
func (s *QuerySet) Queries() []*Query {
	return s.queries
}

// AddToUnionSet adds q as a new branch, or merges its fields into an existing
// branch that reads the same rows. It reports whether q was merged.
func (s *QuerySet) AddToUnionSet(q *Query) (bool, error) {
	key, err := q.shapeKey()
	if err != nil {
		return false, fmt.Errorf("failed to render query shape: %w", err)
	}
	for i, existing := range s.queries {
		if s.keys[i] == key && existing.mergeFields(q) {
			return true, nil
		}
	}
	s.queries = append(s.queries, q)
	s.keys = append(s.keys, key)
	return false, nil
}

// Merge adds every branch of other.
func (s *QuerySet) Merge(other *QuerySet) error {
	if other == nil {
		return nil
	}
	for _, q := range other.queries {
		if _, err := s.AddToUnionSet(q); err != nil {
			return err
		}
	}
	return nil
}

// Fields returns the union of projected fields by name, first seen first.
func (s *QuerySet) Fields() []Field {
	var fields []Field
	seen := map[string]bool{}
	for _, q := range s.queries {
		for _, f := range q.Fields {
			if seen[f.Name] {
				continue
			}
			seen[f.Name] = true
			fields = append(fields, f)
		}
	}
	return fields
}

// Field returns the first projected field named name.
func (s *QuerySet) Field(name string) (Field, bool) {
	for _, q := range s.queries {
		if f, ok := q.Field(name); ok {
			return f, true
		}
	}
	return Field{}, false
}

// SortKeys returns the sort key columns of the union. The direction of each
// position is taken from the first branch that sorts by it.
func (s *QuerySet) SortKeys() []SortKey {
	var keys []SortKey
	for _, q := range s.queries {
		for i, k := range q.SortKeys {
			if i >= len(keys) {
				keys = append(keys, SortKey{Expr: sqlutil.QuoteIdentifier(SortKeyName(i)), Descending: k.Descending})
			}
		}
	}
	return keys
}

// UnionSQL renders the branches as UNION ALL without ordering. Sets larger
// than the compound limit are split into nested derived tables.
func (s *QuerySet) UnionSQL() (SQLQuery, error) {
	if len(s.queries) == 0 {
		return SQLQuery{}, ErrEmptyQuerySet
	}
	names := make([]string, 0)
	for _, f := range s.Fields() {
		names = append(names, f.Name)
	}
	sortKeys := len(s.SortKeys())

	branches := make([]SQLQuery, 0, len(s.queries))
	for _, q := range s.queries {
		sql, args, err := q.builder(names, sortKeys).ToSql()
		if err != nil {
			return SQLQuery{}, fmt.Errorf("failed to render %s: %w", q.Alias, err)
		}
		branches = append(branches, SQLQuery{SQL: sql, Args: args})
	}
	counter := 0
	return unionAll(branches, s.maxCompound, &counter), nil
}

// ToSQL renders the union ordered by its sort keys.
func (s *QuerySet) ToSQL() (string, []any, error) {
	union, err := s.UnionSQL()
	if err != nil {
		return "", nil, err
	}
	keys := s.SortKeys()
	if len(keys) == 0 {
		return union.SQL, union.Args, nil
	}
	return union.SQL + " ORDER BY " + orderList(keys), union.Args, nil
}

func unionAll(branches []SQLQuery, limit int, counter *int) SQLQuery {
	if len(branches) <= limit {
		return joinUnion(branches)
	}
	var chunks []SQLQuery
	for start := 0; start < len(branches); start += limit {
		end := min(start+limit, len(branches))
		inner := joinUnion(branches[start:end])
		alias := sqlutil.QuoteIdentifier(fmt.Sprintf("u%d", *counter))
		*counter++
		chunks = append(chunks, SQLQuery{
			SQL:  "SELECT * FROM (" + inner.SQL + ") AS " + alias,
			Args: inner.Args,
		})
	}
	return unionAll(chunks, limit, counter)
}

func joinUnion(branches []SQLQuery) SQLQuery {
	parts := make([]string, 0, len(branches))
	var args []any
	for _, b := range branches {
		parts = append(parts, b.SQL)
		args = append(args, b.Args...)
	}
	return SQLQuery{SQL: strings.Join(parts, " UNION ALL "), Args: args}
}

func orderList(keys []SortKey) string {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if k.Descending {
			parts = append(parts, k.Expr+" DESC")
		} else {
			parts = append(parts, k.Expr)
		}
	}
	return strings.Join(parts, ", ")
}
