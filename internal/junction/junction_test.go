package junction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entity(name, pk string) Table {
	return Table{Name: name, Columns: []Column{{Name: pk, PrimaryKey: true}}}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		table Table
		want  Type
		attrs []string
	}{
		{
			name: "pure junction with composite key",
			table: Table{
				Name: "order_lines",
				Columns: []Column{
					{Name: "order_id", PrimaryKey: true},
					{Name: "product_id", PrimaryKey: true},
				},
				ForeignKeys: []ForeignKey{
					{Column: "order_id", ReferencedTable: "orders", ReferencedColumn: "id"},
					{Column: "product_id", ReferencedTable: "products", ReferencedColumn: "id"},
				},
			},
			want: PureJunction,
		},
		{
			name: "attribute junction with surrogate key and unique index",
			table: Table{
				Name: "order_lines",
				Columns: []Column{
					{Name: "id", PrimaryKey: true},
					{Name: "order_id"},
					{Name: "product_id"},
					{Name: "quantity"},
				},
				ForeignKeys: []ForeignKey{
					{Column: "order_id", ReferencedTable: "orders", ReferencedColumn: "id"},
					{Column: "product_id", ReferencedTable: "products", ReferencedColumn: "id"},
				},
				UniqueKeys: [][]string{{"order_id", "product_id"}},
			},
			want:  AttributeJunction,
			attrs: []string{"quantity"},
		},
		{
			name: "nullable foreign key",
			table: Table{
				Name: "order_lines",
				Columns: []Column{
					{Name: "order_id", PrimaryKey: true},
					{Name: "product_id", PrimaryKey: true, Nullable: true},
				},
				ForeignKeys: []ForeignKey{
					{Column: "order_id", ReferencedTable: "orders", ReferencedColumn: "id"},
					{Column: "product_id", ReferencedTable: "products", ReferencedColumn: "id"},
				},
			},
			want: NotJunction,
		},
		{
			name: "no covering key",
			table: Table{
				Name: "order_lines",
				Columns: []Column{
					{Name: "id", PrimaryKey: true},
					{Name: "order_id"},
					{Name: "product_id"},
				},
				ForeignKeys: []ForeignKey{
					{Column: "order_id", ReferencedTable: "orders", ReferencedColumn: "id"},
					{Column: "product_id", ReferencedTable: "products", ReferencedColumn: "id"},
				},
			},
			want: NotJunction,
		},
		{
			name: "single foreign key",
			table: Table{
				Name:        "orders",
				Columns:     []Column{{Name: "id", PrimaryKey: true}, {Name: "person_id"}},
				ForeignKeys: []ForeignKey{{Column: "person_id", ReferencedTable: "people", ReferencedColumn: "id"}},
			},
			want: NotJunction,
		},
		{
			name: "unknown referenced table",
			table: Table{
				Name: "order_tags",
				Columns: []Column{
					{Name: "order_id", PrimaryKey: true},
					{Name: "tag_id", PrimaryKey: true},
				},
				ForeignKeys: []ForeignKey{
					{Column: "order_id", ReferencedTable: "orders", ReferencedColumn: "id"},
					{Column: "tag_id", ReferencedTable: "tags", ReferencedColumn: "id"},
				},
			},
			want: NotJunction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tables := []Table{entity("orders", "id"), entity("products", "id"), entity("people", "id"), tt.table}
			got := Classify(tables)
			info, ok := got.Lookup(tt.table.Name)
			if tt.want == NotJunction {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.want, info.Type)
			assert.Equal(t, tt.attrs, info.AttributeColumns)
			assert.Equal(t, "orders", info.Source.ReferencedTable)
			assert.Equal(t, "products", info.Target.ReferencedTable)
		})
	}
}

func TestClassifySelfReferencing(t *testing.T) {
	tables := []Table{
		entity("categories", "id"),
		{
			Name: "category_links",
			Columns: []Column{
				{Name: "parent_id", PrimaryKey: true},
				{Name: "child_id", PrimaryKey: true},
			},
			ForeignKeys: []ForeignKey{
				{Column: "parent_id", ReferencedTable: "categories", ReferencedColumn: "id"},
				{Column: "child_id", ReferencedTable: "categories", ReferencedColumn: "id"},
			},
		},
	}
	info, ok := Classify(tables).Lookup("category_links")
	require.True(t, ok)
	assert.Equal(t, PureJunction, info.Type)
	assert.Equal(t, "child_id", info.Source.Column)
	assert.Equal(t, "parent_id", info.Target.Column)
}

func TestTypeString(t *testing.T) {
	assert.Equal(t, "NotJunction", NotJunction.String())
	assert.Equal(t, "PureJunction", PureJunction.String())
	assert.Equal(t, "AttributeJunction", AttributeJunction.String())
	assert.Equal(t, "Unknown", Type(42).String())
}

func TestCovers(t *testing.T) {
	required := map[string]bool{"a": true, "b": true}
	assert.True(t, covers([]string{"b", "a"}, required))
	assert.True(t, covers([]string{"a", "b", "c"}, required))
	assert.False(t, covers([]string{"a"}, required))
	assert.False(t, covers(nil, required))
}
