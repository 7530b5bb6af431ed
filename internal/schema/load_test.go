package schema_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentsql/internal/schema"
	"contentsql/internal/testutil/fixtures"
)

func TestParse_Shop(t *testing.T) {
	g := fixtures.ShopGraph(t)

	order := fixtures.Class(t, g, fixtures.OrderID)
	assert.Equal(t, "Shop:Order", order.FullName())
	assert.Equal(t, "orders", order.Table)
	assert.Equal(t, "Number", order.LabelProperty)

	status, ok := order.Property("status")
	require.True(t, ok)
	assert.Equal(t, schema.PropertyEnum, status.Kind)
	label, ok := status.EnumLabel(2)
	require.True(t, ok)
	assert.Equal(t, "Shipped", label)

	customer, ok := order.Property("Customer")
	require.True(t, ok)
	assert.Equal(t, schema.PropertyNavigation, customer.Kind)
	assert.Equal(t, "Placed", customer.Navigation.Relationship)
	assert.False(t, customer.Navigation.Forward)

	contains := fixtures.Class(t, g, fixtures.ContainsID)
	require.True(t, contains.IsRelationship())
	assert.Equal(t, schema.StorageLinkTable, contains.Relationship.Strategy)
	assert.Equal(t, "order_lines", contains.Table)
	assert.Equal(t, "Shop:Order", contains.Relationship.Source.Class)
	assert.Equal(t, schema.ModifierSealed, contains.Modifier)

	suppliedBy := fixtures.Class(t, g, fixtures.SuppliedByID)
	assert.Equal(t, schema.EndSource, suppliedBy.Relationship.ForeignKeyEnd)

	owns := fixtures.Class(t, g, fixtures.OwnsID)
	assert.False(t, owns.Relationship.Target.Polymorphic)
	assert.True(t, owns.Relationship.Source.Polymorphic)

	assert.True(t, fixtures.Class(t, g, fixtures.AssetID).IsAbstract())
	vehicle := fixtures.Class(t, g, fixtures.VehicleID)
	assert.Equal(t, []schema.ClassID{fixtures.AssetID}, vehicle.BaseIDs)

	name, ok := fixtures.Class(t, g, fixtures.CategoryID).Property("Name")
	require.True(t, ok)
	assert.Equal(t, "string", name.Type)
}

func TestParse_AssignsMissingIDs(t *testing.T) {
	g, err := schema.Parse([]byte(`
schemas:
  - name: S
    classes:
      - {id: 5, name: A, table: a}
      - {name: B, table: b}
    relationships:
      - name: AHasB
        source: {class: A}
        target: {class: B, many: true}
        foreign_key_column: a_id
`))
	require.NoError(t, err)

	b, err := g.ClassByName("S:B")
	require.NoError(t, err)
	assert.Equal(t, schema.ClassID(6), b.ID)
	rel, err := g.ClassByName("S:AHasB")
	require.NoError(t, err)
	assert.Equal(t, schema.ClassID(7), rel.ID)
	assert.Equal(t, schema.StorageForeignKey, rel.Relationship.Strategy)
	assert.Equal(t, schema.EndTarget, rel.Relationship.ForeignKeyEnd)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"malformed yaml", "schemas: [\n"},
		{"unknown storage", `
schemas:
  - name: S
    classes: [{id: 1, name: A, table: a}]
    relationships:
      - {id: 2, name: R, source: {class: A}, target: {class: A}, storage: graph}
`},
		{"unknown property kind", `
schemas:
  - name: S
    classes:
      - id: 1
        name: A
        table: a
        properties: [{name: X, kind: blob}]
`},
		{"unnamed property", `
schemas:
  - name: S
    classes:
      - id: 1
        name: A
        table: a
        properties: [{column: x}]
`},
		{"unknown base", `
schemas:
  - name: S
    classes: [{id: 1, name: A, table: a, bases: [Missing]}]
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := schema.Parse([]byte(tt.doc))
			assert.ErrorIs(t, err, schema.ErrInvalidSchema)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixtures.ShopSchemaYAML), 0o600))

	g, err := schema.LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, g.Classes(), 14)

	_, err = schema.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
