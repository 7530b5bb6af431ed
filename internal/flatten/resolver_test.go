package flatten

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentsql/internal/rules"
	"contentsql/internal/schema"
	"contentsql/internal/testutil/fixtures"
)

type countingFinder struct {
	*schema.Graph
	calls int
	err   error
}

func (f *countingFinder) RelationshipPaths(ctx context.Context, source *schema.Class, requests []schema.PathRequest) ([]schema.PathResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.Graph.RelationshipPaths(ctx, source, requests)
}

func orderSpecs() []FlattenedRelatedPropertiesSpecification {
	return Flatten([]rules.RelatedPropertiesSpecification{
		{
			PropertiesSource: rules.RelationshipPathSpecification{Steps: []rules.RelationshipStepSpecification{
				step("Shop:Contains", "forward"),
			}},
			Nested: []rules.RelatedPropertiesSpecification{{
				PropertiesSource: rules.RelationshipPathSpecification{Steps: []rules.RelationshipStepSpecification{
					step("Shop:SuppliedBy", "forward"),
				}},
				InstanceFilter: "this.Active",
			}},
		},
		{
			// Orders do not own assets
			PropertiesSource: rules.RelationshipPathSpecification{Steps: []rules.RelationshipStepSpecification{
				step("Shop:Owns", "forward"),
			}},
		},
	}, Scope{Origin: "spec:orders"})
}

func TestResolveBatchesAndGroups(t *testing.T) {
	g := fixtures.ShopGraph(t)
	finder := &countingFinder{Graph: g}
	r := NewResolver(finder)
	order := fixtures.Class(t, g, fixtures.OrderID)

	got, err := r.Resolve(context.Background(), "spec:orders", order, nil, orderSpecs())
	require.NoError(t, err)
	assert.Equal(t, 1, finder.calls)
	require.Len(t, got, 2)

	first := got[0].Paths[0].Path
	require.Len(t, first, 1)
	assert.Equal(t, fixtures.ProductID, first[0].Target.ID)
	assert.True(t, first[0].TargetOptional)

	second := got[1].Paths[0].Path
	require.Len(t, second, 2)
	assert.Equal(t, fixtures.SupplierID, second.Target().ID)
	assert.Equal(t, "this.Active", second[1].InstanceFilter)
	assert.Empty(t, second[0].InstanceFilter)

	_, err = r.Resolve(context.Background(), "spec:orders", order, nil, orderSpecs())
	require.NoError(t, err)
	assert.Equal(t, 1, finder.calls)
	assert.Equal(t, 1, r.CacheHits())
	assert.Equal(t, 1, r.CacheMisses())
}

func TestResolveReusesBaseClassEntry(t *testing.T) {
	g := fixtures.ShopGraph(t)
	finder := &countingFinder{Graph: g}
	r := NewResolver(finder)
	product := fixtures.Class(t, g, fixtures.ProductID)
	digital := fixtures.Class(t, g, fixtures.DigitalProductID)

	specs := Flatten([]rules.RelatedPropertiesSpecification{{
		PropertiesSource: rules.RelationshipPathSpecification{Steps: []rules.RelationshipStepSpecification{
			step("Shop:SuppliedBy", "forward"),
		}},
	}}, Scope{Origin: "modifier:Shop:Product"})

	base, err := r.Resolve(context.Background(), "modifier:Shop:Product", product, nil, specs)
	require.NoError(t, err)
	require.Len(t, base, 1)

	derived, err := r.Resolve(context.Background(), "modifier:Shop:Product", digital, []*schema.Class{product}, specs)
	require.NoError(t, err)
	assert.Equal(t, 1, finder.calls)
	require.Len(t, derived, 1)
	assert.Equal(t, base[0].Paths[0].Path.Key(), derived[0].Paths[0].Path.Key())
	assert.Equal(t, 2, r.CacheMisses())

	// other origins do not share entries
	_, err = r.Resolve(context.Background(), "spec:other", digital, []*schema.Class{product}, specs)
	require.NoError(t, err)
	assert.Equal(t, 2, finder.calls)
}

func TestResolveDropsIncompatibleSources(t *testing.T) {
	g := fixtures.ShopGraph(t)
	r := NewResolver(g)
	product := fixtures.Class(t, g, fixtures.ProductID)
	supplier := fixtures.Class(t, g, fixtures.SupplierID)

	in := []RelatedPropertySpecificationPaths{{
		Paths: []PathWithSources{
			{ActualSourceClasses: []*schema.Class{fixtures.Class(t, g, fixtures.PhysicalProductID)}},
			{ActualSourceClasses: []*schema.Class{supplier}},
		},
	}}
	got := r.compatible(product, in)
	require.Len(t, got, 1)
	assert.Len(t, got[0].Paths, 1)
	assert.Empty(t, r.compatible(supplier, in[:0]))
}

func TestResolveErrors(t *testing.T) {
	g := fixtures.ShopGraph(t)
	boom := errors.New("graph unavailable")
	r := NewResolver(&countingFinder{Graph: g, err: boom})
	order := fixtures.Class(t, g, fixtures.OrderID)

	_, err := r.Resolve(context.Background(), "spec:orders", order, nil, orderSpecs())
	require.ErrorIs(t, err, boom)

	r = NewResolver(g)
	bad := Flatten([]rules.RelatedPropertiesSpecification{{
		PropertiesSource: rules.RelationshipPathSpecification{Steps: []rules.RelationshipStepSpecification{
			step("Shop:Missing", "forward"),
		}},
	}}, Scope{})
	_, err = r.Resolve(context.Background(), "spec:orders", order, nil, bad)
	require.ErrorIs(t, err, schema.ErrClassNotFound)
}

func TestResolveNoSpecs(t *testing.T) {
	g := fixtures.ShopGraph(t)
	finder := &countingFinder{Graph: g}
	r := NewResolver(finder)
	got, err := r.Resolve(context.Background(), "spec:none", fixtures.Class(t, g, fixtures.OrderID), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, finder.calls)
}
