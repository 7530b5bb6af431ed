// Package fixtures provides a small shop schema shared by package tests.
package fixtures

import (
	"testing"

	"github.com/stretchr/testify/require"

	"contentsql/internal/schema"
)

// Class ids of the shop schema.
const (
	PersonID          schema.ClassID = 2
	OrderID           schema.ClassID = 3
	ProductID         schema.ClassID = 4
	DigitalProductID  schema.ClassID = 5
	PhysicalProductID schema.ClassID = 6
	SupplierID        schema.ClassID = 7
	CategoryID        schema.ClassID = 8
	AssetID           schema.ClassID = 9
	VehicleID         schema.ClassID = 15
	PlacedID          schema.ClassID = 10
	ContainsID        schema.ClassID = 11
	SuppliedByID      schema.ClassID = 12
	ParentOfID        schema.ClassID = 13
	OwnsID            schema.ClassID = 14
)

// ShopSchemaYAML describes people placing orders of products that suppliers
// deliver, self-nesting categories and abstract assets.
const ShopSchemaYAML = `
schemas:
  - name: Shop
    classes:
      - id: 2
        name: Person
        table: people
        label_property: Name
        properties:
          - name: Name
            column: name
          - name: Email
            column: email
      - id: 3
        name: Order
        table: orders
        label_property: Number
        properties:
          - name: Number
            column: number
          - name: Total
            column: total
            type: double
          - name: Status
            column: status
            kind: enum
            type: int
            enum:
              - value: 1
                label: Open
              - value: 2
                label: Shipped
          - name: Customer
            column: person_id
            kind: navigation
            type: int
            relationship: Placed
            forward: false
      - id: 4
        name: Product
        table: products
        class_id_column: ClassId
        label_property: Name
        properties:
          - name: Sku
            column: sku
          - name: Name
            column: name
          - name: Supplier
            column: supplier_id
            kind: navigation
            type: int
            relationship: SuppliedBy
            forward: true
      - id: 5
        name: DigitalProduct
        table: products
        class_id_column: ClassId
        bases: [Product]
        properties:
          - name: DownloadUrl
            column: download_url
      - id: 6
        name: PhysicalProduct
        table: products
        class_id_column: ClassId
        bases: [Product]
        properties:
          - name: Weight
            column: weight
            type: double
      - id: 7
        name: Supplier
        table: suppliers
        label_property: Name
        properties:
          - name: Name
            column: name
          - name: Active
            column: active
            type: bool
      - id: 8
        name: Category
        table: categories
        properties:
          - name: Name
            column: name
      - id: 9
        name: Asset
        table: assets
        class_id_column: ClassId
        modifier: abstract
        properties:
          - name: Tag
            column: tag
      - id: 15
        name: Vehicle
        table: assets
        class_id_column: ClassId
        bases: [Asset]
        properties:
          - name: Plate
            column: plate
    relationships:
      - id: 10
        name: Placed
        source:
          class: Person
        target:
          class: Order
          many: true
        storage: foreign_key
        foreign_key_end: target
        foreign_key_column: person_id
      - id: 11
        name: Contains
        source:
          class: Order
        target:
          class: Product
          many: true
        storage: link_table
        table: order_lines
        source_column: order_id
        target_column: product_id
        properties:
          - name: Quantity
            column: quantity
            type: int
      - id: 12
        name: SuppliedBy
        source:
          class: Product
          many: true
        target:
          class: Supplier
        storage: foreign_key
        foreign_key_end: source
        foreign_key_column: supplier_id
      - id: 13
        name: ParentOf
        source:
          class: Category
        target:
          class: Category
          many: true
        storage: foreign_key
        foreign_key_end: target
        foreign_key_column: parent_id
      - id: 14
        name: Owns
        source:
          class: Person
        target:
          class: Asset
          many: true
          polymorphic: false
        storage: foreign_key
        foreign_key_end: target
        foreign_key_column: owner_id
`

// ShopGraph parses the shop schema.
func ShopGraph(t testing.TB) *schema.Graph {
	t.Helper()
	g, err := schema.Parse([]byte(ShopSchemaYAML))
	require.NoError(t, err)
	return g
}

// Class resolves a shop class by id.
func Class(t testing.TB, g *schema.Graph, id schema.ClassID) *schema.Class {
	t.Helper()
	c, err := g.ClassByID(id)
	require.NoError(t, err)
	return c
}
