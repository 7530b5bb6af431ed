// Package rules defines the declarative content specifications the compiler
// consumes, and loads them from request files.
package rules

// Special property names accepted in property lists.
const (
	AllProperties = "*"
	NoProperties  = "_none_"
)

// Kind names a content specification variant.
type Kind string

const (
	KindSelectedInstances  Kind = "selectedInstances"
	KindRelatedInstances   Kind = "relatedInstances"
	KindInstancesOfClasses Kind = "instancesOfClasses"
)

// RelationshipStepSpecification is one hop of a relationship path rule.
type RelationshipStepSpecification struct {
	Relationship string `mapstructure:"relationship"`
	Direction    string `mapstructure:"direction"`
	TargetClass  string `mapstructure:"target_class"`
}

// RelationshipPathSpecification is an ordered list of steps.
type RelationshipPathSpecification struct {
	Steps []RelationshipStepSpecification `mapstructure:"steps"`
}

// PropertySpecification names a property and optionally overrides how it is shown.
type PropertySpecification struct {
	Name        string `mapstructure:"name"`
	IsDisplayed *bool  `mapstructure:"is_displayed"`
	Label       string `mapstructure:"label"`
	Category    string `mapstructure:"category"`
}

// Hidden reports whether the override hides the property.
func (p PropertySpecification) Hidden() bool {
	return p.IsDisplayed != nil && !*p.IsDisplayed
}

// RelatedPropertiesSpecification pulls properties of classes reached over a
// relationship path. Specifications nest: a nested spec continues from the
// target of its parent.
type RelatedPropertiesSpecification struct {
	PropertiesSource       RelationshipPathSpecification    `mapstructure:"properties_source"`
	Properties             []PropertySpecification          `mapstructure:"properties"`
	RelationshipProperties []PropertySpecification          `mapstructure:"relationship_properties"`
	InstanceFilter         string                           `mapstructure:"instance_filter"`
	Polymorphic            bool                             `mapstructure:"handle_target_class_polymorphically"`
	SkipIfDuplicate        bool                             `mapstructure:"skip_if_duplicate"`
	Required               bool                             `mapstructure:"required"`
	Nested                 []RelatedPropertiesSpecification `mapstructure:"nested_related_properties"`
}

// SelectsNone reports whether the property list is the "_none_" keyword.
func (r RelatedPropertiesSpecification) SelectsNone() bool {
	return len(r.Properties) == 1 && r.Properties[0].Name == NoProperties
}

// SelectsAll reports whether all target properties are requested.
func (r RelatedPropertiesSpecification) SelectsAll() bool {
	if len(r.Properties) == 0 {
		return true
	}
	for _, p := range r.Properties {
		if p.Name == AllProperties {
			return true
		}
	}
	return false
}

// RelatedInstanceSpecification joins a related class under an alias so that
// instance filters can reference it.
type RelatedInstanceSpecification struct {
	RelationshipPath RelationshipPathSpecification `mapstructure:"relationship_path"`
	Alias            string                        `mapstructure:"alias"`
	IsRequired       bool                          `mapstructure:"is_required"`
}

// ClassEntry lists classes of one schema. An entry without class names
// covers the whole schema.
type ClassEntry struct {
	Schema      string   `mapstructure:"schema"`
	Classes     []string `mapstructure:"classes"`
	Polymorphic *bool    `mapstructure:"polymorphic"`
}

// IsPolymorphic returns the entry flag or the given default.
func (e ClassEntry) IsPolymorphic(def bool) bool {
	if e.Polymorphic == nil {
		return def
	}
	return *e.Polymorphic
}

// Header carries the settings every specification variant shares.
type Header struct {
	ID                string                           `mapstructure:"id"`
	Priority          int                              `mapstructure:"priority"`
	InstanceFilter    string                           `mapstructure:"instance_filter"`
	OnlyIfNotHandled  bool                             `mapstructure:"only_if_not_handled"`
	DistinctValues    bool                             `mapstructure:"distinct_values"`
	RelatedProperties []RelatedPropertiesSpecification `mapstructure:"related_properties"`
	PropertyOverrides []PropertySpecification          `mapstructure:"property_overrides"`
	RelatedInstances  []RelatedInstanceSpecification   `mapstructure:"related_instances"`
}

// ContentSpecification is one of the three specification variants.
type ContentSpecification interface {
	Kind() Kind
	Common() *Header
}

// SelectedInstancesSpecification returns content for the input instances themselves.
type SelectedInstancesSpecification struct {
	Header                    `mapstructure:",squash"`
	AcceptableSchemaName      string   `mapstructure:"acceptable_schema_name"`
	AcceptableClassNames      []string `mapstructure:"acceptable_class_names"`
	AcceptablePolymorphically bool     `mapstructure:"acceptable_polymorphically"`
}

func (s *SelectedInstancesSpecification) Kind() Kind      { return KindSelectedInstances }
func (s *SelectedInstancesSpecification) Common() *Header { return &s.Header }

// RelatedInstancesSpecification returns content for instances related to the input.
// Either RelationshipPaths or the legacy Direction/SkipRelatedLevel/name
// filters select the relationships to follow.
type RelatedInstancesSpecification struct {
	Header            `mapstructure:",squash"`
	RelationshipPaths []RelationshipPathSpecification `mapstructure:"relationship_paths"`
	Direction         string                          `mapstructure:"direction"`
	SkipRelatedLevel  int                             `mapstructure:"skip_related_level"`
	RelationshipNames []string                        `mapstructure:"relationship_names"`
	RelatedClassNames []string                        `mapstructure:"related_class_names"`
	IsRecursive       bool                            `mapstructure:"is_recursive"`
}

func (s *RelatedInstancesSpecification) Kind() Kind      { return KindRelatedInstances }
func (s *RelatedInstancesSpecification) Common() *Header { return &s.Header }

// UsesPaths reports whether explicit relationship paths are configured.
func (s *RelatedInstancesSpecification) UsesPaths() bool {
	return len(s.RelationshipPaths) > 0
}

// InstancesOfClassesSpecification returns content for all instances of listed classes.
type InstancesOfClassesSpecification struct {
	Header                          `mapstructure:",squash"`
	Classes                         []ClassEntry `mapstructure:"classes"`
	ExcludedClasses                 []ClassEntry `mapstructure:"excluded_classes"`
	ArePolymorphic                  bool         `mapstructure:"are_polymorphic"`
	HandlePropertiesPolymorphically bool         `mapstructure:"handle_properties_polymorphically"`
}

func (s *InstancesOfClassesSpecification) Kind() Kind      { return KindInstancesOfClasses }
func (s *InstancesOfClassesSpecification) Common() *Header { return &s.Header }

// ContentModifier customizes the content of one class wherever it appears.
type ContentModifier struct {
	Class             string                           `mapstructure:"class"`
	RelatedProperties []RelatedPropertiesSpecification `mapstructure:"related_properties"`
	PropertyOverrides []PropertySpecification          `mapstructure:"property_overrides"`
}

// SortingRule orders content of a class by one of its properties.
type SortingRule struct {
	Class       string `mapstructure:"class"`
	Property    string `mapstructure:"property"`
	Descending  bool   `mapstructure:"descending"`
	Polymorphic bool   `mapstructure:"polymorphic"`
	DoNotSort   bool   `mapstructure:"do_not_sort"`
}

// InputInstances are the caller's selected instances of one class.
type InputInstances struct {
	Class string   `mapstructure:"class"`
	IDs   []uint64 `mapstructure:"ids"`
}

// PageOptions selects a window of the final result.
type PageOptions struct {
	Start int `mapstructure:"start"`
	Size  int `mapstructure:"size"`
}

// IsEmpty reports whether paging leaves the result untouched.
func (p PageOptions) IsEmpty() bool {
	return p.Start <= 0 && p.Size <= 0
}

// DescriptorOverrides are applied once to the aggregated result.
type DescriptorOverrides struct {
	SortField      string      `mapstructure:"sort_field"`
	SortDescending bool        `mapstructure:"sort_descending"`
	Filter         string      `mapstructure:"filter"`
	Paging         PageOptions `mapstructure:"paging"`
}

// Request is one content request: specifications plus everything they share.
type Request struct {
	Specifications []ContentSpecification
	Modifiers      []ContentModifier
	SortingRules   []SortingRule
	Input          []InputInstances
	Overrides      DescriptorOverrides
}
