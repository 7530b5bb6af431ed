package sources

import (
	"context"
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentsql/internal/logging"
	"contentsql/internal/naming"
	"contentsql/internal/rules"
	"contentsql/internal/schema"
	"contentsql/internal/testutil/fixtures"
)

func newBuilder(g Graph, opts ...Option) *Builder {
	return NewBuilder(g, naming.NewAliasCounter(), opts...)
}

func inputOf(t *testing.T, g *schema.Graph, id schema.ClassID, ids ...uint64) Input {
	return Input{Class: fixtures.Class(t, g, id), IDs: ids}
}

type fakeChecker struct {
	keep  map[schema.ClassID]bool
	asked []schema.ClassID
	err   error
}

func (f *fakeChecker) ClassesWithInstances(_ context.Context, classes []*schema.Class) ([]*schema.Class, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*schema.Class
	for _, c := range classes {
		f.asked = append(f.asked, c.ID)
		if f.keep[c.ID] {
			out = append(out, c)
		}
	}
	return out, nil
}

func TestResolveInputMergesClasses(t *testing.T) {
	g := fixtures.ShopGraph(t)
	got, err := ResolveInput(g, []rules.InputInstances{
		{Class: "Shop:Person", IDs: []uint64{1}},
		{Class: "Order", IDs: []uint64{5}},
		{Class: "shop.person", IDs: []uint64{2}},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, fixtures.PersonID, got[0].Class.ID)
	assert.Equal(t, []uint64{1, 2}, got[0].IDs)

	_, err = ResolveInput(g, []rules.InputInstances{{Class: "Shop:Nope"}})
	assert.ErrorIs(t, err, schema.ErrClassNotFound)
}

func TestSelectedInstances(t *testing.T) {
	g := fixtures.ShopGraph(t)
	b := newBuilder(g)

	got, err := b.Build(context.Background(), &rules.SelectedInstancesSpecification{}, []Input{
		inputOf(t, g, fixtures.PersonID, 1),
		inputOf(t, g, fixtures.OrderID),
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "this_Person_0", got[0].Select.Alias)
	assert.True(t, got[0].Select.Polymorphic)
	assert.Equal(t, fixtures.PersonID, got[0].InputClass.ID)
	assert.Empty(t, got[0].PathFromInput)
}

func TestSelectedInstancesLogsThroughContextLogger(t *testing.T) {
	g := fixtures.ShopGraph(t)
	var buf bytes.Buffer
	logger := logging.NewLogger(logging.Config{Level: "debug", Format: "json", Output: &buf}).WithSessionID("s-1")
	ctx := logging.WithLogger(context.Background(), logger)

	got, err := newBuilder(g).Build(ctx, &rules.SelectedInstancesSpecification{}, []Input{inputOf(t, g, fixtures.OrderID)})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Contains(t, buf.String(), "no input instances, skipping class")
	assert.Contains(t, buf.String(), `"session_id":"s-1"`)
}

func TestSelectedInstancesAcceptableClasses(t *testing.T) {
	g := fixtures.ShopGraph(t)
	input := []Input{
		inputOf(t, g, fixtures.PersonID, 1),
		inputOf(t, g, fixtures.PhysicalProductID, 2),
	}

	spec := &rules.SelectedInstancesSpecification{
		AcceptableSchemaName:      "Shop",
		AcceptableClassNames:      []string{"Product"},
		AcceptablePolymorphically: true,
	}
	got, err := newBuilder(g).Build(context.Background(), spec, input)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, fixtures.PhysicalProductID, got[0].Select.Class.ID)

	spec.AcceptablePolymorphically = false
	got, err = newBuilder(g).Build(context.Background(), spec, input)
	require.NoError(t, err)
	assert.Empty(t, got)

	spec.AcceptableClassNames = []string{"Nope"}
	_, err = newBuilder(g).Build(context.Background(), spec, input)
	assert.ErrorIs(t, err, schema.ErrClassNotFound)
}

func TestRelatedInstancesPersonPlacedOrder(t *testing.T) {
	g := fixtures.ShopGraph(t)
	specs := map[string]*rules.RelatedInstancesSpecification{
		"paths": {RelationshipPaths: []rules.RelationshipPathSpecification{{
			Steps: []rules.RelationshipStepSpecification{{Relationship: "Shop:Placed", Direction: "forward"}},
		}}},
		"search": {Direction: "forward", RelationshipNames: []string{"Shop:Placed"}},
	}
	for name, spec := range specs {
		t.Run(name, func(t *testing.T) {
			got, err := newBuilder(g).Build(context.Background(), spec, []Input{inputOf(t, g, fixtures.PersonID, 7)})
			require.NoError(t, err)
			require.Len(t, got, 1)
			src := got[0]
			assert.Equal(t, "related_Order_0", src.Select.Alias)
			assert.Equal(t, fixtures.OrderID, src.Select.Class.ID)
			assert.Equal(t, fixtures.PersonID, src.InputClass.ID)
			require.Len(t, src.PathFromInput, 1)
			assert.Equal(t, "related_Order_0", src.PathFromInput[0].TargetAlias)
			assert.Equal(t, "r_Placed_0", src.PathFromInput[0].RelationshipAlias)
			assert.True(t, src.PathFromInput[0].Forward)
			assert.False(t, src.Recursive)
		})
	}
}

func TestRelatedInstancesSkipLevel(t *testing.T) {
	g := fixtures.ShopGraph(t)
	spec := &rules.RelatedInstancesSpecification{Direction: "forward", SkipRelatedLevel: 1}

	got, err := newBuilder(g).Build(context.Background(), spec, []Input{inputOf(t, g, fixtures.PersonID, 7)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	path := got[0].PathFromInput
	require.Len(t, path, 2)
	assert.Equal(t, "related_Product_0", got[0].Select.Alias)
	assert.Equal(t, "related_Order_0", path[0].TargetAlias)
	assert.Equal(t, "related_Product_0", path[1].TargetAlias)
	assert.Equal(t, fixtures.ContainsID, path[1].Relationship.ID)
}

func TestRelatedInstancesDropsAbstractNonPolymorphicTargets(t *testing.T) {
	g := fixtures.ShopGraph(t)
	spec := &rules.RelatedInstancesSpecification{Direction: "forward", RelationshipNames: []string{"Owns"}}

	got, err := newBuilder(g).Build(context.Background(), spec, []Input{inputOf(t, g, fixtures.PersonID, 7)})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRelatedInstancesRecursionTerminates(t *testing.T) {
	g := fixtures.ShopGraph(t)
	b := newBuilder(g)
	category := fixtures.Class(t, g, fixtures.CategoryID)

	visited := map[visitKey]bool{}
	spec := &rules.RelatedInstancesSpecification{Direction: "forward", RelationshipNames: []string{"ParentOf"}, IsRecursive: true}
	got, err := b.recursiveSources(context.Background(), spec, category, visited)
	require.NoError(t, err)
	assert.Len(t, visited, 1)
	assert.True(t, visited[visitKey{input: fixtures.CategoryID, target: fixtures.CategoryID, forward: true}])
	require.Len(t, got, 1)
	assert.True(t, got[0].Recursive)
	assert.Equal(t, "related_Category_0", got[0].Select.Alias)
	require.Len(t, got[0].RecursiveRelationships, 1)

	// a second walk from the same class finds every key visited
	again, err := b.recursiveSources(context.Background(), spec, category, visited)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestRelatedInstancesRecursionBothDirections(t *testing.T) {
	g := fixtures.ShopGraph(t)
	spec := &rules.RelatedInstancesSpecification{RelationshipNames: []string{"ParentOf"}, IsRecursive: true}

	got, err := newBuilder(g).Build(context.Background(), spec, []Input{inputOf(t, g, fixtures.CategoryID, 1)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Len(t, got[0].RecursiveRelationships, 2)
	assert.NotEqual(t, got[0].RecursiveRelationships[0].Forward, got[0].RecursiveRelationships[1].Forward)
}

const diamondSchema = `
schemas:
  - name: D
    classes:
      - {id: 1, name: A, table: a}
      - {id: 2, name: B, table: b}
      - {id: 3, name: C, table: c}
    relationships:
      - id: 4
        name: AB
        source: {class: A}
        target: {class: B, many: true}
        foreign_key_column: a_id
      - id: 5
        name: AC
        source: {class: A}
        target: {class: C, many: true}
        foreign_key_column: a_id
      - id: 6
        name: CB
        source: {class: C}
        target: {class: B, many: true}
        foreign_key_column: c_id
`

func TestRelatedInstancesRecursionWalksEveryHop(t *testing.T) {
	g, err := schema.Parse([]byte(diamondSchema))
	require.NoError(t, err)
	a, err := g.ClassByName("D:A")
	require.NoError(t, err)

	spec := &rules.RelatedInstancesSpecification{Direction: "forward", IsRecursive: true}
	got, err := newBuilder(g).Build(context.Background(), spec, []Input{{Class: a, IDs: []uint64{1}}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "related_B_0", got[0].Select.Alias)
	assert.Equal(t, "related_C_0", got[1].Select.Alias)

	// B rows reached only through C need the C to B relationship
	var names []string
	for _, hop := range got[0].RecursiveRelationships {
		names = append(names, hop.Relationship.Name)
	}
	assert.Equal(t, []string{"AB", "AC", "CB"}, names)
}

func TestRelatedInstancesCancelled(t *testing.T) {
	g := fixtures.ShopGraph(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	spec := &rules.RelatedInstancesSpecification{Direction: "forward"}

	_, err := newBuilder(g).Build(ctx, spec, []Input{inputOf(t, g, fixtures.PersonID, 7)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInstancesOfClasses(t *testing.T) {
	g := fixtures.ShopGraph(t)
	spec := &rules.InstancesOfClassesSpecification{
		Classes:         []rules.ClassEntry{{Schema: "Shop", Classes: []string{"Product", "Supplier"}}},
		ExcludedClasses: []rules.ClassEntry{{Schema: "Shop", Classes: []string{"DigitalProduct"}}},
		ArePolymorphic:  true,
	}

	got, err := newBuilder(g).Build(context.Background(), spec, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "this_Product_0", got[0].Select.Alias)
	assert.True(t, got[0].Select.Polymorphic)
	require.Len(t, got[0].Select.DerivedExclusions, 1)
	assert.Equal(t, fixtures.DigitalProductID, got[0].Select.DerivedExclusions[0].ID)
	assert.Equal(t, "this_Supplier_0", got[1].Select.Alias)
	assert.Empty(t, got[1].Select.DerivedExclusions)
}

func TestInstancesOfClassesSkipsAbstractNonPolymorphic(t *testing.T) {
	g := fixtures.ShopGraph(t)
	no := false
	spec := &rules.InstancesOfClassesSpecification{
		Classes: []rules.ClassEntry{{Schema: "Shop", Classes: []string{"Asset"}, Polymorphic: &no}},
	}

	got, err := newBuilder(g).Build(context.Background(), spec, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestInstancesOfClassesNarrowsByExistence(t *testing.T) {
	g := fixtures.ShopGraph(t)
	checker := &fakeChecker{keep: map[schema.ClassID]bool{fixtures.PhysicalProductID: true}}
	spec := &rules.InstancesOfClassesSpecification{
		Classes:                         []rules.ClassEntry{{Schema: "Shop", Classes: []string{"Product"}}},
		ExcludedClasses:                 []rules.ClassEntry{{Schema: "Shop", Classes: []string{"DigitalProduct"}}},
		ArePolymorphic:                  true,
		HandlePropertiesPolymorphically: true,
	}

	got, err := newBuilder(g, WithExistenceChecker(checker)).Build(context.Background(), spec, nil)
	require.NoError(t, err)
	assert.Equal(t, []schema.ClassID{fixtures.ProductID, fixtures.PhysicalProductID}, checker.asked)
	require.Len(t, got, 1)
	assert.Equal(t, fixtures.PhysicalProductID, got[0].Select.Class.ID)
	assert.False(t, got[0].Select.Polymorphic)

	checker.err = errors.New("boom")
	_, err = newBuilder(g, WithExistenceChecker(checker)).Build(context.Background(), spec, nil)
	assert.ErrorContains(t, err, "boom")
}

func TestSplitterCarvesModifiedClasses(t *testing.T) {
	g := fixtures.ShopGraph(t)
	spec := &rules.InstancesOfClassesSpecification{
		Classes:        []rules.ClassEntry{{Schema: "Shop", Classes: []string{"Product"}}},
		ArePolymorphic: true,
	}
	modifiers := []rules.ContentModifier{{Class: "Shop:PhysicalProduct"}, {Class: "Shop:Nope"}}

	got, err := newBuilder(g, WithModifiers(modifiers)).Build(context.Background(), spec, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "this_Product_0", got[0].Select.Alias)
	assert.Nil(t, got[0].PropertiesSource)
	require.Len(t, got[0].Select.DerivedExclusions, 1)
	assert.Equal(t, fixtures.PhysicalProductID, got[0].Select.DerivedExclusions[0].ID)

	assert.Equal(t, "this_Product_1", got[1].Select.Alias)
	assert.Equal(t, fixtures.ProductID, got[1].Select.Class.ID)
	require.NotNil(t, got[1].PropertiesSource)
	assert.Equal(t, fixtures.PhysicalProductID, got[1].PropertyClass().ID)
	assert.Empty(t, got[1].Select.DerivedExclusions)
}

const layeredSchema = `
schemas:
  - name: Doc
    classes:
      - id: 1
        name: Element
        table: elements
        class_id_column: ClassId
      - id: 2
        name: Drawing
        table: elements
        class_id_column: ClassId
        bases: [Element]
      - id: 3
        name: Sheet
        table: elements
        class_id_column: ClassId
        bases: [Drawing]
`

func TestSplitterShallowestFirst(t *testing.T) {
	g, err := schema.Parse([]byte(layeredSchema))
	require.NoError(t, err)
	spec := &rules.InstancesOfClassesSpecification{
		Classes:        []rules.ClassEntry{{Schema: "Doc", Classes: []string{"Element"}}},
		ArePolymorphic: true,
	}
	modifiers := []rules.ContentModifier{{Class: "Doc:Sheet"}, {Class: "Doc:Drawing"}}

	got, err := newBuilder(g, WithModifiers(modifiers)).Build(context.Background(), spec, nil)
	require.NoError(t, err)
	require.Len(t, got, 3)

	ids := func(classes []*schema.Class) []schema.ClassID {
		out := []schema.ClassID{}
		for _, c := range classes {
			out = append(out, c.ID)
		}
		return out
	}
	assert.Nil(t, got[0].PropertiesSource)
	assert.Equal(t, []schema.ClassID{2}, ids(got[0].Select.DerivedExclusions))
	assert.Equal(t, schema.ClassID(2), got[1].PropertyClass().ID)
	assert.Equal(t, []schema.ClassID{3}, ids(got[1].Select.DerivedExclusions))
	assert.Equal(t, schema.ClassID(3), got[2].PropertyClass().ID)
	assert.Empty(t, got[2].Select.DerivedExclusions)
}

func TestSplitterRealiasesPathFromInput(t *testing.T) {
	g := fixtures.ShopGraph(t)
	spec := &rules.RelatedInstancesSpecification{Direction: "forward", RelationshipNames: []string{"Contains"}}
	modifiers := []rules.ContentModifier{{Class: "Shop:DigitalProduct"}}

	got, err := newBuilder(g, WithModifiers(modifiers)).Build(context.Background(), spec, []Input{inputOf(t, g, fixtures.OrderID, 3)})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "related_Product_0", got[0].PathFromInput.Last().TargetAlias)
	assert.Equal(t, "related_Product_1", got[1].Select.Alias)
	assert.Equal(t, "related_Product_1", got[1].PathFromInput.Last().TargetAlias)
}
