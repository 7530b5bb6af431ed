package introspection

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentsql/internal/schema"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func shopDatabase(t *testing.T) *Database {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	expectShop(mock)
	got, err := Introspect(context.Background(), db, "shop")
	require.NoError(t, err)
	return got
}

func TestBuildGraph(t *testing.T) {
	g, err := BuildGraph(shopDatabase(t), Options{Schema: "Shop", Logger: quietLogger()})
	require.NoError(t, err)

	var names []string
	for _, c := range g.Classes() {
		names = append(names, c.FullName())
	}
	assert.Equal(t, []string{"Shop:Order", "Shop:Person", "Shop:Product", "Shop:PersonHasOrders", "Shop:OrderLine"}, names)

	order, err := g.ClassByName("Order")
	require.NoError(t, err)
	assert.Equal(t, "orders", order.Table)
	assert.Equal(t, "id", order.PrimaryKey())
	assert.Equal(t, "Customer orders", order.Label)

	props := g.AllProperties(order.ID)
	require.Len(t, props, 4)
	assert.Equal(t, "Number", props[0].Name)
	assert.Equal(t, "Status", props[1].Name)
	assert.Equal(t, schema.PropertyEnum, props[1].Kind)
	label, ok := props[1].EnumLabel("shipped")
	assert.True(t, ok)
	assert.Equal(t, "shipped", label)
	assert.Equal(t, "double", props[2].Type)
	assert.Equal(t, "Person", props[3].Name)
	assert.Equal(t, schema.PropertyNavigation, props[3].Kind)
	assert.Equal(t, "person_id", props[3].Column)
	assert.Equal(t, "Shop:PersonHasOrders", props[3].Navigation.Relationship)
	assert.False(t, props[3].Navigation.Forward)

	person, err := g.ClassByName("Shop:Person")
	require.NoError(t, err)
	assert.Equal(t, "Name", person.LabelProperty)

	product, err := g.ClassByName("Product")
	require.NoError(t, err)
	inStock, ok := g.FindProperty(product.ID, "InStock")
	require.True(t, ok)
	assert.Equal(t, "boolean", inStock.Type)
}

func TestBuildGraphRelationships(t *testing.T) {
	g, err := BuildGraph(shopDatabase(t), Options{Schema: "Shop", Logger: quietLogger()})
	require.NoError(t, err)

	placed, err := g.ClassByName("PersonHasOrders")
	require.NoError(t, err)
	rel := placed.Relationship
	require.NotNil(t, rel)
	assert.Equal(t, schema.StorageForeignKey, rel.Strategy)
	assert.Equal(t, schema.EndTarget, rel.ForeignKeyEnd)
	assert.Equal(t, "person_id", rel.ForeignKeyColumn)
	assert.True(t, rel.Target.Many)
	source, target, ok := g.RelationshipEnds(placed)
	require.True(t, ok)
	assert.Equal(t, "Person", source.Name)
	assert.Equal(t, "Order", target.Name)

	lines, err := g.ClassByName("OrderLine")
	require.NoError(t, err)
	assert.Equal(t, schema.StorageLinkTable, lines.Relationship.Strategy)
	assert.Equal(t, "order_lines", lines.Table)
	assert.Equal(t, "order_id", lines.Relationship.SourceColumn)
	assert.Equal(t, "product_id", lines.Relationship.TargetColumn)
	require.Len(t, lines.Properties, 1)
	assert.Equal(t, "Quantity", lines.Properties[0].Name)
	assert.Equal(t, "Ordered units", lines.Properties[0].Label)

	person, _ := g.ClassByName("Person")
	hops, err := g.PossibleRelationships(person, schema.DirectionForward, nil, nil)
	require.NoError(t, err)
	require.Len(t, hops, 1)
	assert.Equal(t, "Order", hops[0].Target.Name)
	edge := hops[0].Edge()
	assert.Equal(t, schema.EdgeOnTarget, edge.Holder)
	assert.Equal(t, "orders", edge.Table)
	assert.Equal(t, "person_id", edge.FromColumn)
}

func TestBuildGraphSkipsUnmappableTables(t *testing.T) {
	db := &Database{Name: "app", Tables: []Table{
		{Name: "settings", Columns: []Column{{Name: "k", IsPrimaryKey: true}, {Name: "scope", IsPrimaryKey: true}, {Name: "v"}}},
		{Name: "users", Columns: []Column{{Name: "id", IsPrimaryKey: true}, {Name: "title"}}},
		{Name: "posts", Columns: []Column{
			{Name: "id", IsPrimaryKey: true},
			{Name: "author_id"},
			{Name: "editor_id", IsNullable: true},
			{Name: "setting_k"},
		}, ForeignKeys: []ForeignKey{
			{ColumnName: "author_id", ReferencedTable: "users", ReferencedColumn: "id", ConstraintName: "fk_author"},
			{ColumnName: "editor_id", ReferencedTable: "users", ReferencedColumn: "id", ConstraintName: "fk_editor"},
			{ColumnName: "setting_k", ReferencedTable: "settings", ReferencedColumn: "k", ConstraintName: "fk_setting"},
		}},
	}}

	g, err := BuildGraph(db, Options{Logger: quietLogger()})
	require.NoError(t, err)

	_, err = g.ClassByName("Setting")
	assert.ErrorIs(t, err, schema.ErrClassNotFound)

	user, err := g.ClassByName("app:User")
	require.NoError(t, err)
	assert.Equal(t, "Title", user.LabelProperty)

	for _, name := range []string{"UserHasPostsByAuthor", "UserHasPostsByEditor"} {
		_, err := g.ClassByName(name)
		assert.NoError(t, err, name)
	}

	post, _ := g.ClassByName("Post")
	settingK, ok := g.FindProperty(post.ID, "SettingK")
	require.True(t, ok)
	assert.Equal(t, schema.PropertyPrimitive, settingK.Kind)
}

func TestBuildGraphNilDatabase(t *testing.T) {
	_, err := BuildGraph(nil, Options{})
	assert.ErrorIs(t, err, schema.ErrInvalidSchema)
}
