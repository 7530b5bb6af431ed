package query

import (
	"fmt"
	"strings"
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func orderQuery() *Query {
	q := New("orders", "related_Order_0")
	q.AddField(Field{Name: InstanceIDField, Expr: "`related_Order_0`.`Id`", Alias: "related_Order_0"})
	q.AddField(Field{Name: DisplayLabelField, Expr: "?", Args: []any{"Order"}, Kind: FieldDisplayLabel})
	q.AddField(Field{Name: "Number", Expr: "`related_Order_0`.`number`", Alias: "related_Order_0", Kind: FieldProperty})
	q.AddJoin(Join{
		Kind:  InnerJoin,
		Table: "people",
		Alias: "this_Person_0",
		On:    sq.Expr("`this_Person_0`.`Id` = `related_Order_0`.`person_id`"),
	})
	q.AndWhere(sq.Eq{"`this_Person_0`.`Id`": []uint64{7}})
	return q
}

func TestQuery_ToSQL(t *testing.T) {
	sql, args, err := orderQuery().ToSQL()
	require.NoError(t, err)
	assert.Equal(t, "SELECT `related_Order_0`.`Id` AS `ECInstanceId`, ? AS `DisplayLabel`, `related_Order_0`.`number` AS `Number` "+
		"FROM `orders` AS `related_Order_0` "+
		"JOIN `people` AS `this_Person_0` ON `this_Person_0`.`Id` = `related_Order_0`.`person_id` "+
		"WHERE `this_Person_0`.`Id` IN (?)", sql)
	assert.Equal(t, []any{"Order", uint64(7)}, args)
}

func TestQuery_DistinctGroupsByColumns(t *testing.T) {
	q := orderQuery()
	q.Distinct = true
	sql, _, err := q.ToSQL()
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(sql, " GROUP BY `related_Order_0`.`Id`, `related_Order_0`.`number`"), sql)
}

func TestQuery_AddFieldAndJoinAreIdempotent(t *testing.T) {
	q := orderQuery()
	assert.False(t, q.AddField(Field{Name: "Number", Expr: "x"}))
	assert.False(t, q.AddJoin(Join{Table: "people", Alias: "this_Person_0", On: sq.Expr("1 = 1")}))
	assert.Len(t, q.Fields, 3)
	assert.Len(t, q.Joins, 1)
	q.AndWhere(nil)
	assert.Len(t, q.Where, 1)
}

func TestJoin_ToSql(t *testing.T) {
	sql, args, err := Join{Kind: LeftJoin, Table: "suppliers", Alias: "nav_Supplier_0", On: sq.Expr("`nav_Supplier_0`.`Id` = ?", 3)}.ToSql()
	require.NoError(t, err)
	assert.Equal(t, "LEFT JOIN `suppliers` AS `nav_Supplier_0` ON `nav_Supplier_0`.`Id` = ?", sql)
	assert.Equal(t, []any{3}, args)

	_, _, err = Join{Table: "t", Alias: "a"}.ToSql()
	assert.Error(t, err)
}

func TestQuerySet_MergesSameShape(t *testing.T) {
	set := NewQuerySet(0)
	merged, err := set.AddToUnionSet(orderQuery())
	require.NoError(t, err)
	assert.False(t, merged)

	other := orderQuery()
	other.AddField(Field{Name: "Total", Expr: "`related_Order_0`.`total`", Alias: "related_Order_0"})
	merged, err = set.AddToUnionSet(other)
	require.NoError(t, err)
	assert.True(t, merged)
	require.Equal(t, 1, set.Len())

	names := []string{}
	for _, f := range set.Fields() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{InstanceIDField, DisplayLabelField, "Number", "Total"}, names)
}

func TestQuerySet_ConflictingFieldIsNotMerged(t *testing.T) {
	set := NewQuerySet(0)
	_, err := set.AddToUnionSet(orderQuery())
	require.NoError(t, err)

	other := orderQuery()
	other.Fields[2].Expr = "`related_Order_0`.`code`"
	merged, err := set.AddToUnionSet(other)
	require.NoError(t, err)
	assert.False(t, merged)
	assert.Equal(t, 2, set.Len())
}

func TestQuerySet_UnionFillsMissingFieldsWithNull(t *testing.T) {
	set := NewQuerySet(0)
	a := New("people", "this_Person_0")
	a.AddField(Field{Name: InstanceIDField, Expr: "`this_Person_0`.`Id`", Alias: "this_Person_0"})
	a.AddField(Field{Name: "Name", Expr: "`this_Person_0`.`name`", Alias: "this_Person_0"})
	b := New("suppliers", "this_Supplier_0")
	b.AddField(Field{Name: InstanceIDField, Expr: "`this_Supplier_0`.`Id`", Alias: "this_Supplier_0"})
	b.AddField(Field{Name: "Active", Expr: "`this_Supplier_0`.`active`", Alias: "this_Supplier_0"})
	b.AndWhere(sq.Eq{"`this_Supplier_0`.`active`": true})
	_, err := set.AddToUnionSet(a)
	require.NoError(t, err)
	_, err = set.AddToUnionSet(b)
	require.NoError(t, err)

	sql, args, err := set.ToSQL()
	require.NoError(t, err)
	assert.Equal(t, "SELECT `this_Person_0`.`Id` AS `ECInstanceId`, `this_Person_0`.`name` AS `Name`, NULL AS `Active` FROM `people` AS `this_Person_0`"+
		" UNION ALL "+
		"SELECT `this_Supplier_0`.`Id` AS `ECInstanceId`, NULL AS `Name`, `this_Supplier_0`.`active` AS `Active` FROM `suppliers` AS `this_Supplier_0` WHERE `this_Supplier_0`.`active` = ?", sql)
	assert.Equal(t, []any{true}, args)
}

func TestQuerySet_SortKeysOrderTheUnion(t *testing.T) {
	set := NewQuerySet(0)
	a := New("people", "p")
	a.AddField(Field{Name: InstanceIDField, Expr: "`p`.`Id`", Alias: "p"})
	a.SortKeys = []SortKey{{Expr: "`p`.`name`", Descending: true}}
	b := New("orders", "o")
	b.AddField(Field{Name: InstanceIDField, Expr: "`o`.`Id`", Alias: "o"})
	_, err := set.AddToUnionSet(a)
	require.NoError(t, err)
	_, err = set.AddToUnionSet(b)
	require.NoError(t, err)

	sql, _, err := set.ToSQL()
	require.NoError(t, err)
	assert.Equal(t, "SELECT `p`.`Id` AS `ECInstanceId`, `p`.`name` AS `__SortKey0` FROM `people` AS `p`"+
		" UNION ALL "+
		"SELECT `o`.`Id` AS `ECInstanceId`, NULL AS `__SortKey0` FROM `orders` AS `o`"+
		" ORDER BY `__SortKey0` DESC", sql)
}

func TestQuerySet_ChunksLargeUnions(t *testing.T) {
	set := NewQuerySet(2)
	branch := func(i int) string {
		return fmt.Sprintf("SELECT `a%d`.`Id` AS `ECInstanceId` FROM `t` AS `a%d`", i, i)
	}
	for i := 0; i < 5; i++ {
		q := New("t", fmt.Sprintf("a%d", i))
		q.AddField(Field{Name: InstanceIDField, Expr: fmt.Sprintf("`a%d`.`Id`", i), Alias: q.Alias})
		_, err := set.AddToUnionSet(q)
		require.NoError(t, err)
	}

	union, err := set.UnionSQL()
	require.NoError(t, err)
	u0 := "SELECT * FROM (" + branch(0) + " UNION ALL " + branch(1) + ") AS `u0`"
	u1 := "SELECT * FROM (" + branch(2) + " UNION ALL " + branch(3) + ") AS `u1`"
	u2 := "SELECT * FROM (" + branch(4) + ") AS `u2`"
	want := "SELECT * FROM (" + u0 + " UNION ALL " + u1 + ") AS `u3`" +
		" UNION ALL " +
		"SELECT * FROM (" + u2 + ") AS `u4`"
	assert.Equal(t, want, union.SQL)
	assert.Equal(t, 4, strings.Count(union.SQL, "UNION ALL"))
}

func TestQuerySet_Empty(t *testing.T) {
	_, _, err := NewQuerySet(0).ToSQL()
	assert.ErrorIs(t, err, ErrEmptyQuerySet)
}

func TestQuerySet_Merge(t *testing.T) {
	a := NewQuerySet(0)
	b := NewQuerySet(0)
	_, err := b.AddToUnionSet(orderQuery())
	require.NoError(t, err)
	require.NoError(t, a.Merge(b))
	require.NoError(t, a.Merge(nil))
	assert.Equal(t, 1, a.Len())
	f, ok := a.Field("Number")
	require.True(t, ok)
	assert.Equal(t, FieldProperty, f.Kind)
}

func TestNest(t *testing.T) {
	inner := SQLQuery{SQL: "SELECT `p`.`name` AS `Name` FROM `people` AS `p` WHERE `p`.`Id` = ?", Args: []any{1}}
	nested, err := Nest(inner, "content", func(b sq.SelectBuilder) sq.SelectBuilder {
		return b.Where(sq.Eq{"`content`.`Name`": "a"}).OrderBy("`content`.`Name` DESC").Limit(20).Offset(40)
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM (SELECT `p`.`name` AS `Name` FROM `people` AS `p` WHERE `p`.`Id` = ?) AS `content` "+
		"WHERE `content`.`Name` = ? ORDER BY `content`.`Name` DESC LIMIT 20 OFFSET 40", nested.SQL)
	assert.Equal(t, []any{1, "a"}, nested.Args)
}
