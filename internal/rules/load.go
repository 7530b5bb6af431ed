package rules

import (
	"errors"
	"fmt"
	"os"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// ErrInvalidRequest is returned when a request document cannot be decoded.
var ErrInvalidRequest = errors.New("invalid content request")

type requestDocument struct {
	Specifications []map[string]any    `mapstructure:"specifications"`
	Modifiers      []ContentModifier   `mapstructure:"modifiers"`
	SortingRules   []SortingRule       `mapstructure:"sorting_rules"`
	Input          []InputInstances    `mapstructure:"input"`
	Overrides      DescriptorOverrides `mapstructure:"overrides"`
}

// LoadRequestFile reads and decodes a YAML request file.
func LoadRequestFile(path string) (*Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read request file %s: %w", path, err)
	}
	req, err := ParseRequest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return req, nil
}

// ParseRequest decodes a YAML request document. Each specification carries a
// "type" key naming its variant.
func ParseRequest(data []byte) (*Request, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	var doc requestDocument
	if err := decode(raw, &doc); err != nil {
		return nil, err
	}

	req := &Request{
		Modifiers:    doc.Modifiers,
		SortingRules: doc.SortingRules,
		Input:        doc.Input,
		Overrides:    doc.Overrides,
	}
	for i, rawSpec := range doc.Specifications {
		spec, err := decodeSpecification(rawSpec)
		if err != nil {
			return nil, fmt.Errorf("specification %d: %w", i, err)
		}
		if spec.Common().ID == "" {
			spec.Common().ID = fmt.Sprintf("%s#%d", spec.Kind(), i)
		}
		req.Specifications = append(req.Specifications, spec)
	}
	return req, nil
}

func decodeSpecification(raw map[string]any) (ContentSpecification, error) {
	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		fields[k] = v
	}
	kind, _ := fields["type"].(string)
	delete(fields, "type")

	var spec ContentSpecification
	switch Kind(kind) {
	case KindSelectedInstances:
		spec = &SelectedInstancesSpecification{}
	case KindRelatedInstances:
		spec = &RelatedInstancesSpecification{}
	case KindInstancesOfClasses:
		spec = &InstancesOfClassesSpecification{}
	default:
		return nil, fmt.Errorf("%w: unknown specification type %q", ErrInvalidRequest, kind)
	}
	if err := decode(fields, spec); err != nil {
		return nil, err
	}
	return spec, nil
}

func decode(input any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      out,
		ErrorUnused: true,
		DecodeHook:  mapstructure.StringToSliceHookFunc(","),
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}
