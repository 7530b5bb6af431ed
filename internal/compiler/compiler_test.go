package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentsql/internal/dbexec"
	"contentsql/internal/expr"
	"contentsql/internal/query"
	"contentsql/internal/rules"
	"contentsql/internal/schema"
	"contentsql/internal/testutil/fixtures"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newCompiler(t *testing.T, opts ...Option) (*Compiler, *schema.Graph) {
	t.Helper()
	g := fixtures.ShopGraph(t)
	exprs, err := expr.NewCompiler(discardLogger())
	require.NoError(t, err)
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	return New(g, exprs, opts...), g
}

func assertGolden(t *testing.T, name, sql string) {
	t.Helper()
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, []byte(sql))
}

func shopClasses(names ...string) []rules.ClassEntry {
	return []rules.ClassEntry{{Schema: "Shop", Classes: names}}
}

func instancesOf(names ...string) *rules.InstancesOfClassesSpecification {
	return &rules.InstancesOfClassesSpecification{Classes: shopClasses(names...)}
}

func ordersOfPerson() *rules.Request {
	return &rules.Request{
		Specifications: []rules.ContentSpecification{
			&rules.RelatedInstancesSpecification{
				RelationshipPaths: []rules.RelationshipPathSpecification{{
					Steps: []rules.RelationshipStepSpecification{{Relationship: "Placed", Direction: "forward"}},
				}},
			},
		},
		Input: []rules.InputInstances{{Class: "Shop:Person", IDs: []uint64{1}}},
	}
}

func joinsTo(q *query.Query, table string) []query.Join {
	var out []query.Join
	for _, j := range q.Joins {
		if j.Table == table {
			out = append(out, j)
		}
	}
	return out
}

func TestBuild_InstancesOfClassesWithoutJoins(t *testing.T) {
	c, _ := newCompiler(t)
	res, err := c.Build(context.Background(), &rules.Request{
		Specifications: []rules.ContentSpecification{instancesOf("Supplier", "Category")},
	})
	require.NoError(t, err)

	require.Equal(t, 2, res.Sources)
	require.Len(t, res.Query.Queries(), 2)
	for _, q := range res.Query.Queries() {
		assert.Empty(t, q.Joins)
		assert.Empty(t, q.Where)
	}
	assert.Equal(t, []any{uint64(7), uint64(8), "Category"}, res.Args)
	assertGolden(t, "instances_of_classes", res.SQL)
}

func TestBuild_RelatedInstancesOverForeignKey(t *testing.T) {
	c, _ := newCompiler(t)
	res, err := c.Build(context.Background(), ordersOfPerson())
	require.NoError(t, err)

	require.Len(t, res.Query.Queries(), 1)
	q := res.Query.Queries()[0]
	assert.Equal(t, "related_Order_0", q.Alias)
	assert.Equal(t, "orders", q.Table)
	assert.Equal(t, []any{uint64(3), uint64(1)}, res.Args)
	assertGolden(t, "related_orders", res.SQL)

	names := make([]string, 0, len(res.Fields))
	for _, f := range res.Fields {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"ECInstanceId", "ECClassId", "DisplayLabel", "Number", "Total", "Status", "Customer", "Customer__Label"}, names)
}

func TestBuild_RelatedInstancesOverLinkTable(t *testing.T) {
	c, _ := newCompiler(t)
	res, err := c.Build(context.Background(), &rules.Request{
		Specifications: []rules.ContentSpecification{
			&rules.RelatedInstancesSpecification{
				RelationshipPaths: []rules.RelationshipPathSpecification{{
					Steps: []rules.RelationshipStepSpecification{{Relationship: "Contains", Direction: "forward"}},
				}},
			},
		},
		Input: []rules.InputInstances{{Class: "Shop:Order", IDs: []uint64{4, 5}}},
	})
	require.NoError(t, err)

	q := res.Query.Queries()[0]
	require.Len(t, joinsTo(q, "order_lines"), 1)
	assert.Contains(t, res.SQL, "`r_Contains_0`.`order_id` IN (?,?)")
	assert.Contains(t, res.SQL, "JOIN `order_lines` AS `r_Contains_0` ON `r_Contains_0`.`product_id` = `related_Product_0`.`Id`")
}

func TestBuild_PagingAppliedOnce(t *testing.T) {
	c, _ := newCompiler(t)
	res, err := c.Build(context.Background(), &rules.Request{
		Specifications: []rules.ContentSpecification{instancesOf("Supplier", "Category", "Person")},
		Overrides:      rules.DescriptorOverrides{Paging: rules.PageOptions{Start: 40, Size: 20}},
	})
	require.NoError(t, err)
	require.Equal(t, 3, res.Query.Len())

	assert.Equal(t, 2, strings.Count(res.SQL, "UNION ALL"))
	assert.True(t, strings.HasPrefix(res.SQL, "SELECT * FROM ("))
	assert.True(t, strings.HasSuffix(res.SQL, ") AS `content` LIMIT 20 OFFSET 40"))
	assert.Equal(t, 1, strings.Count(res.SQL, "LIMIT"))
}

func TestBuild_PagingClampsToMaxPageSize(t *testing.T) {
	c, _ := newCompiler(t, WithMaxPageSize(50))
	for _, page := range []rules.PageOptions{{Start: 10}, {Size: 500}} {
		res, err := c.Build(context.Background(), &rules.Request{
			Specifications: []rules.ContentSpecification{instancesOf("Supplier")},
			Overrides:      rules.DescriptorOverrides{Paging: page},
		})
		require.NoError(t, err)
		assert.Contains(t, res.SQL, "LIMIT 50")
	}
}

func TestBuild_EmptyFilterLeavesQueryUnchanged(t *testing.T) {
	c, _ := newCompiler(t)
	req := func(filter string) *rules.Request {
		return &rules.Request{
			Specifications: []rules.ContentSpecification{instancesOf("Supplier", "Category")},
			Overrides:      rules.DescriptorOverrides{Filter: filter},
		}
	}
	plain, err := c.Build(context.Background(), req(""))
	require.NoError(t, err)
	blank, err := c.Build(context.Background(), req("   "))
	require.NoError(t, err)

	assert.Equal(t, plain.SQL, blank.SQL)
	assert.Equal(t, plain.Args, blank.Args)
}

func TestBuild_UnsetInstanceFilterLeavesQueryUnchanged(t *testing.T) {
	c, _ := newCompiler(t)
	build := func(filter *string) *Result {
		specs := make([]rules.ContentSpecification, 0, 2)
		for _, name := range []string{"Supplier", "Category"} {
			spec := instancesOf(name)
			if filter != nil {
				spec.InstanceFilter = *filter
			}
			specs = append(specs, spec)
		}
		res, err := c.Build(context.Background(), &rules.Request{Specifications: specs})
		require.NoError(t, err)
		return res
	}
	aliases := func(res *Result) []string {
		var out []string
		for _, q := range res.Query.Queries() {
			out = append(out, q.Alias)
			for _, j := range q.Joins {
				out = append(out, j.Alias)
			}
		}
		return out
	}

	unset := build(nil)
	assert.NotContains(t, unset.SQL, "WHERE")
	for _, filter := range []string{"", "   "} {
		got := build(&filter)
		assert.Equal(t, unset.SQL, got.SQL, "filter %q", filter)
		assert.Equal(t, unset.Args, got.Args, "filter %q", filter)
		assert.Equal(t, aliases(unset), aliases(got), "filter %q", filter)
	}
}

func TestBuild_DescriptorFilter(t *testing.T) {
	c, _ := newCompiler(t)
	res, err := c.Build(context.Background(), &rules.Request{
		Specifications: []rules.ContentSpecification{instancesOf("Supplier")},
		Overrides:      rules.DescriptorOverrides{Filter: `Name == "Acme"`},
	})
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(res.SQL, ") AS `content` WHERE `content`.`Name` = ?"))
	assert.Equal(t, "Acme", res.Args[len(res.Args)-1])
}

func TestBuild_Cancelled(t *testing.T) {
	c, _ := newCompiler(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := c.Build(ctx, ordersOfPerson())
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, ErrCancelled))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestBuild_OnlyIfNotHandled(t *testing.T) {
	c, _ := newCompiler(t)
	second := instancesOf("Supplier", "Category")
	second.OnlyIfNotHandled = true
	res, err := c.Build(context.Background(), &rules.Request{
		Specifications: []rules.ContentSpecification{instancesOf("Supplier"), second},
	})
	require.NoError(t, err)

	require.Equal(t, 2, res.Sources)
	tables := []string{res.Query.Queries()[0].Table, res.Query.Queries()[1].Table}
	assert.Equal(t, []string{"suppliers", "categories"}, tables)

	second.OnlyIfNotHandled = false
	res, err = c.Build(context.Background(), &rules.Request{
		Specifications: []rules.ContentSpecification{instancesOf("Supplier"), second},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Sources)
}

func TestBuild_PriorityOrdersSpecifications(t *testing.T) {
	c, _ := newCompiler(t)
	low := instancesOf("Category")
	high := instancesOf("Supplier")
	high.Priority = 10
	res, err := c.Build(context.Background(), &rules.Request{
		Specifications: []rules.ContentSpecification{low, high},
	})
	require.NoError(t, err)

	require.Len(t, res.Query.Queries(), 2)
	assert.Equal(t, "suppliers", res.Query.Queries()[0].Table)
	assert.Equal(t, "categories", res.Query.Queries()[1].Table)
}

func customerName(skip bool) rules.RelatedPropertiesSpecification {
	return rules.RelatedPropertiesSpecification{
		PropertiesSource: rules.RelationshipPathSpecification{
			Steps: []rules.RelationshipStepSpecification{{Relationship: "Placed", Direction: "backward"}},
		},
		Properties:      []rules.PropertySpecification{{Name: "Name"}},
		SkipIfDuplicate: skip,
	}
}

func selectedOrder(related ...rules.RelatedPropertiesSpecification) *rules.Request {
	spec := &rules.SelectedInstancesSpecification{}
	spec.RelatedProperties = related
	return &rules.Request{
		Specifications: []rules.ContentSpecification{spec},
		Input:          []rules.InputInstances{{Class: "Shop:Order", IDs: []uint64{5}}},
	}
}

func TestBuild_RelatedProperties(t *testing.T) {
	c, _ := newCompiler(t)
	res, err := c.Build(context.Background(), selectedOrder(customerName(false)))
	require.NoError(t, err)

	q := res.Query.Queries()[0]
	f, ok := q.Field("rel_Person_Name")
	require.True(t, ok)
	assert.Equal(t, "`rel_Person_1`.`name`", f.Expr)
	assert.Contains(t, res.SQL, "LEFT JOIN `people` AS `rel_Person_1` ON `rel_Person_1`.`Id` = `this_Order_0`.`person_id`")
	assert.Contains(t, res.SQL, "WHERE `this_Order_0`.`Id` IN (?)")
}

func TestBuild_SkipIfDuplicate(t *testing.T) {
	c, _ := newCompiler(t)

	res, err := c.Build(context.Background(), selectedOrder(customerName(false), customerName(false)))
	require.NoError(t, err)
	q := res.Query.Queries()[0]
	assert.Len(t, joinsTo(q, "people"), 3)
	_, ok := q.Field("rel_Person_Name_1")
	assert.True(t, ok)

	res, err = c.Build(context.Background(), selectedOrder(customerName(false), customerName(true)))
	require.NoError(t, err)
	q = res.Query.Queries()[0]
	assert.Len(t, joinsTo(q, "people"), 2)
	_, ok = q.Field("rel_Person_Name_1")
	assert.False(t, ok)
}

func TestBuild_RelationshipProperties(t *testing.T) {
	c, _ := newCompiler(t)
	res, err := c.Build(context.Background(), selectedOrder(rules.RelatedPropertiesSpecification{
		PropertiesSource: rules.RelationshipPathSpecification{
			Steps: []rules.RelationshipStepSpecification{{Relationship: "Contains", Direction: "forward"}},
		},
		Properties:             []rules.PropertySpecification{{Name: "Sku"}},
		RelationshipProperties: []rules.PropertySpecification{{Name: "Quantity"}},
	}))
	require.NoError(t, err)

	q := res.Query.Queries()[0]
	qty, ok := q.Field("rel_Contains_Quantity")
	require.True(t, ok)
	assert.Equal(t, "`r_Contains_0`.`quantity`", qty.Expr)
	_, ok = q.Field("rel_Product_Sku")
	assert.True(t, ok)
	require.Len(t, joinsTo(q, "order_lines"), 1)
	assert.Equal(t, query.LeftJoin, joinsTo(q, "order_lines")[0].Kind)
}

func TestBuild_RecursiveRelatedInstances(t *testing.T) {
	c, _ := newCompiler(t)
	res, err := c.Build(context.Background(), &rules.Request{
		Specifications: []rules.ContentSpecification{
			&rules.RelatedInstancesSpecification{
				RelationshipNames: []string{"ParentOf"},
				Direction:         "forward",
				IsRecursive:       true,
			},
		},
		Input: []rules.InputInstances{{Class: "Shop:Category", IDs: []uint64{1}}},
	})
	require.NoError(t, err)

	require.Equal(t, 1, res.Sources)
	assert.Contains(t, res.SQL, "IN (WITH RECURSIVE `reach` (`id`, `class_id`) AS (SELECT `e`.`Id`, 8 FROM `categories` AS `e` WHERE `e`.`parent_id` IN (?)")
	assert.Contains(t, res.SQL, " UNION SELECT `e`.`Id`, 8 FROM `categories` AS `e` JOIN `reach` ON `e`.`parent_id` = `reach`.`id` AND `reach`.`class_id` IN (8)) SELECT `id` FROM `reach` WHERE `class_id` IN (8))")
}

func TestBuild_RecursiveReachKeepsClassesApart(t *testing.T) {
	c, _ := newCompiler(t)
	res, err := c.Build(context.Background(), &rules.Request{
		Specifications: []rules.ContentSpecification{
			&rules.RelatedInstancesSpecification{
				RelationshipNames: []string{"Placed", "Contains"},
				Direction:         "forward",
				IsRecursive:       true,
			},
		},
		Input: []rules.InputInstances{{Class: "Shop:Person", IDs: []uint64{1}}},
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.Sources)

	reach := "WITH RECURSIVE `reach` (`id`, `class_id`) AS (" +
		"SELECT `e`.`Id`, 3 FROM `orders` AS `e` WHERE `e`.`person_id` IN (?)" +
		" UNION SELECT `e`.`product_id`, 4 FROM `order_lines` AS `e` JOIN `reach` ON `e`.`order_id` = `reach`.`id` AND `reach`.`class_id` IN (3))"
	assert.Contains(t, res.SQL, "`related_Order_0`.`Id` IN ("+reach+" SELECT `id` FROM `reach` WHERE `class_id` IN (3))")
	assert.Contains(t, res.SQL, "`related_Product_0`.`Id` IN ("+reach+" SELECT `id` FROM `reach` WHERE `class_id` IN (4))")

	// person ids only seed the relationship leaving Person
	assert.NotContains(t, res.SQL, "`e`.`order_id` IN (?)")
	assert.NotContains(t, res.SQL, "ON `e`.`person_id` = `reach`.`id`")
}

func TestBuild_InstanceFilter(t *testing.T) {
	c, _ := newCompiler(t)
	spec := instancesOf("Supplier")
	spec.InstanceFilter = "this.Active == true"
	res, err := c.Build(context.Background(), &rules.Request{Specifications: []rules.ContentSpecification{spec}})
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(res.SQL, "WHERE `this_Supplier_0`.`active` = ?"))
	assert.Equal(t, true, res.Args[len(res.Args)-1])
}

func TestBuild_MalformedInstanceFilter(t *testing.T) {
	c, _ := newCompiler(t)
	spec := instancesOf("Supplier")
	spec.InstanceFilter = "this.Active == "
	_, err := c.Build(context.Background(), &rules.Request{Specifications: []rules.ContentSpecification{spec}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, expr.ErrMalformed))
}

func TestBuild_InstanceFilterClassTest(t *testing.T) {
	c, _ := newCompiler(t)
	spec := instancesOf("Product")
	spec.ArePolymorphic = true
	spec.InstanceFilter = `this.IsOfClass("PhysicalProduct")`
	res, err := c.Build(context.Background(), &rules.Request{Specifications: []rules.ContentSpecification{spec}})
	require.NoError(t, err)

	assert.Contains(t, res.SQL, "WHERE `this_Product_0`.`ClassId` = ?")
}

func TestBuild_SortingRule(t *testing.T) {
	c, _ := newCompiler(t)
	res, err := c.Build(context.Background(), &rules.Request{
		Specifications: []rules.ContentSpecification{instancesOf("Supplier", "Category")},
		SortingRules:   []rules.SortingRule{{Class: "Shop:Supplier", Property: "Name", Descending: true}},
	})
	require.NoError(t, err)

	assert.Contains(t, res.SQL, "`this_Supplier_0`.`name` AS `__SortKey0`")
	assert.Contains(t, res.SQL, "NULL AS `__SortKey0`")
	assert.True(t, strings.HasSuffix(res.SQL, " ORDER BY `__SortKey0` DESC"))
}

func TestBuild_SortOverrideOnEnum(t *testing.T) {
	c, _ := newCompiler(t)
	res, err := c.Build(context.Background(), &rules.Request{
		Specifications: []rules.ContentSpecification{instancesOf("Order")},
		Overrides:      rules.DescriptorOverrides{SortField: "Status"},
	})
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(res.SQL, "ORDER BY CASE `content`.`Status` WHEN ? THEN ? WHEN ? THEN ? ELSE `content`.`Status` END"))
	assert.Equal(t, []any{1, "Open", 2, "Shipped"}, res.Args[len(res.Args)-4:])
}

func TestBuild_SortOverrideOnNavigation(t *testing.T) {
	c, _ := newCompiler(t)
	res, err := c.Build(context.Background(), &rules.Request{
		Specifications: []rules.ContentSpecification{instancesOf("Order")},
		Overrides:      rules.DescriptorOverrides{SortField: "customer", SortDescending: true},
	})
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(res.SQL, "ORDER BY `content`.`Customer__Label` DESC"))
}

func TestBuild_UnknownSortField(t *testing.T) {
	c, _ := newCompiler(t)
	_, err := c.Build(context.Background(), &rules.Request{
		Specifications: []rules.ContentSpecification{instancesOf("Supplier")},
		Overrides:      rules.DescriptorOverrides{SortField: "Weight"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown sort field")
}

func TestBuild_NoContent(t *testing.T) {
	c, _ := newCompiler(t)
	res, err := c.Build(context.Background(), &rules.Request{
		Specifications: []rules.ContentSpecification{&rules.SelectedInstancesSpecification{}},
	})
	require.NoError(t, err)

	assert.Nil(t, res.Query)
	assert.Empty(t, res.SQL)
	assert.Zero(t, res.Sources)
}

func TestBuild_LogsCarrySessionID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c, _ := newCompiler(t, WithLogger(logger))
	_, err := c.Build(context.Background(), &rules.Request{
		Input:          []rules.InputInstances{{Class: "Shop:Order"}},
		Specifications: []rules.ContentSpecification{&rules.SelectedInstancesSpecification{}},
	})
	require.NoError(t, err)

	var records []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(line, &rec))
		records = append(records, rec)
	}
	require.NotEmpty(t, records)

	ids := map[any]bool{}
	byMsg := map[any]map[string]any{}
	for _, rec := range records {
		ids[rec["session_id"]] = true
		byMsg[rec["msg"]] = rec
	}
	assert.Len(t, ids, 1)
	assert.NotContains(t, ids, nil)

	skipped := byMsg["no input instances, skipping class"]
	require.NotNil(t, skipped)
	assert.Equal(t, "spec#0", skipped["specification"])
	assert.Equal(t, "Shop:Order", skipped["class"])
	assert.Contains(t, byMsg, "request produced no content queries")
}

func TestBuild_Descriptor(t *testing.T) {
	c, _ := newCompiler(t, WithDescriptor())
	res, err := c.Build(context.Background(), &rules.Request{
		Specifications: []rules.ContentSpecification{instancesOf("Supplier")},
	})
	require.NoError(t, err)

	names := make([]string, 0, len(res.Descriptor))
	for _, f := range res.Descriptor {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"Name", "Active"}, names)
}

func TestBuild_ExistenceCheckDropsEmptySources(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	mock.ExpectQuery("UNION ALL").WillReturnRows(sqlmock.NewRows([]string{"idx"}).AddRow(1))

	c, _ := newCompiler(t, WithExistenceCheck(dbexec.NewStandardExecutor(db, nil)))
	res, err := c.Build(context.Background(), &rules.Request{
		Specifications: []rules.ContentSpecification{instancesOf("Supplier", "Category")},
	})
	require.NoError(t, err)

	require.Equal(t, 1, res.Sources)
	assert.Equal(t, "categories", res.Query.Queries()[0].Table)
	require.NoError(t, mock.ExpectationsWereMet())
}

type recordingMetrics struct {
	builds  int
	queries int
	err     error
}

func (m *recordingMetrics) RecordBuild(_ context.Context, _ time.Duration, queries int, err error) {
	m.builds++
	m.queries = queries
	m.err = err
}

func (m *recordingMetrics) RecordPathCache(context.Context, int, int) {}

func TestBuild_RecordsMetrics(t *testing.T) {
	m := &recordingMetrics{}
	c, _ := newCompiler(t, WithMetrics(m))
	_, err := c.Build(context.Background(), &rules.Request{
		Specifications: []rules.ContentSpecification{instancesOf("Supplier", "Category")},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, m.builds)
	assert.Equal(t, 2, m.queries)
	assert.NoError(t, m.err)
}
