package query

import (
	sq "github.com/Masterminds/squirrel"

	"contentsql/internal/schema"
	"contentsql/internal/sqlutil"
)

// Discriminator restricts the rows of alias to the given class ids. It is nil
// when the class table holds a single class or ids is empty.
func Discriminator(alias string, class *schema.Class, ids []schema.ClassID) sq.Sqlizer {
	if !class.HasDiscriminator() || len(ids) == 0 {
		return nil
	}
	col := sqlutil.Column(alias, class.ClassIDColumn)
	if len(ids) == 1 {
		return sq.Eq{col: uint64(ids[0])}
	}
	values := make([]uint64, 0, len(ids))
	for _, id := range ids {
		values = append(values, uint64(id))
	}
	return sq.Eq{col: values}
}

// HopJoin joins the target of one hop, walking from FromAlias.
type HopJoin struct {
	Hop       schema.RelatedClass
	FromAlias string
	Kind      JoinKind
	// Restrict conditions are added to the target join condition.
	Restrict []sq.Sqlizer
}

// Joins returns the join clauses of the hop. Link-table hops join the
// relationship table under its alias before the target.
func (h HopJoin) Joins() []Join {
	hop := h.Hop
	edge := hop.Edge()
	target := hop.TargetAlias
	var (
		joins []Join
		on    sq.Sqlizer
	)
	switch edge.Holder {
	case schema.EdgeOnLinkTable:
		link := linkAlias(hop)
		joins = append(joins, Join{
			Kind:  h.Kind,
			Table: edge.Table,
			Alias: link,
			On:    equal(sqlutil.Column(link, edge.FromColumn), sqlutil.Column(h.FromAlias, hop.Source.PrimaryKey())),
		})
		on = equal(sqlutil.Column(target, hop.Target.PrimaryKey()), sqlutil.Column(link, edge.ToColumn))
	case schema.EdgeOnTarget:
		on = equal(sqlutil.Column(target, edge.FromColumn), sqlutil.Column(h.FromAlias, hop.Source.PrimaryKey()))
	default:
		on = equal(sqlutil.Column(target, hop.Target.PrimaryKey()), sqlutil.Column(h.FromAlias, edge.ToColumn))
	}
	conds := []sq.Sqlizer{on}
	for _, r := range h.Restrict {
		if r != nil {
			conds = append(conds, r)
		}
	}
	if len(conds) > 1 {
		on = sq.And(conds)
	}
	return append(joins, Join{Kind: h.Kind, Table: hop.Target.Table, Alias: target, On: on})
}

// JoinPath joins every hop of path starting at alias.
func JoinPath(path schema.RelatedClassPath, alias string, kind JoinKind) []Join {
	var joins []Join
	from := alias
	for _, hop := range path {
		joins = append(joins, HopJoin{Hop: hop, FromAlias: from, Kind: kind}.Joins()...)
		from = hop.TargetAlias
	}
	return joins
}

// InputFilter restricts class rows under alias to those reached from the
// input ids. path leads from alias back to the input class. Hops before the
// last are joined; the last hop compares the cheapest column holding input
// ids: the foreign key on the previous table, the link-table column, or the
// input table id.
func InputFilter(class *schema.Class, alias string, path schema.RelatedClassPath, ids []uint64) ([]Join, sq.Sqlizer) {
	if len(path) == 0 {
		return nil, sq.Eq{sqlutil.Column(alias, class.PrimaryKey()): ids}
	}
	joins := JoinPath(path[:len(path)-1], alias, InnerJoin)
	from := alias
	if len(path) > 1 {
		from = path[len(path)-2].TargetAlias
	}
	last := path.Last()
	edge := last.Edge()
	switch edge.Holder {
	case schema.EdgeOnSource:
		return joins, sq.Eq{sqlutil.Column(from, edge.ToColumn): ids}
	case schema.EdgeOnLinkTable:
		link := linkAlias(last)
		joins = append(joins, Join{
			Kind:  InnerJoin,
			Table: edge.Table,
			Alias: link,
			On:    equal(sqlutil.Column(link, edge.FromColumn), sqlutil.Column(from, last.Source.PrimaryKey())),
		})
		return joins, sq.Eq{sqlutil.Column(link, edge.ToColumn): ids}
	default:
		joins = append(joins, HopJoin{Hop: last, FromAlias: from, Kind: InnerJoin}.Joins()...)
		return joins, sq.Eq{sqlutil.Column(last.TargetAlias, last.Target.PrimaryKey()): ids}
	}
}

func linkAlias(hop schema.RelatedClass) string {
	if hop.RelationshipAlias != "" {
		return hop.RelationshipAlias
	}
	return "r_" + hop.TargetAlias
}

func equal(left, right string) sq.Sqlizer {
	return sq.Expr(left + " = " + right)
}
