package query

import (
	sq "github.com/Masterminds/squirrel"

	"contentsql/internal/sqlutil"
)

// Nest selects everything from inner as a derived table named alias. The
// build callback adds outer clauses; their arguments follow inner's.
func Nest(inner SQLQuery, alias string, build func(sq.SelectBuilder) sq.SelectBuilder) (SQLQuery, error) {
	b := sq.Select("*").
		From("(" + inner.SQL + ") AS " + sqlutil.QuoteIdentifier(alias)).
		PlaceholderFormat(sq.Question)
	if build != nil {
		b = build(b)
	}
	sql, args, err := b.ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	all := make([]any, 0, len(inner.Args)+len(args))
	all = append(all, inner.Args...)
	all = append(all, args...)
	return SQLQuery{SQL: sql, Args: all}, nil
}
