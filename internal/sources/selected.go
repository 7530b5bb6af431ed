package sources

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"contentsql/internal/logging"
	"contentsql/internal/rules"
	"contentsql/internal/schema"
)

// selectedInstances selects each accepted input class, polymorphically.
func (b *Builder) selectedInstances(ctx context.Context, spec *rules.SelectedInstancesSpecification, input []Input) ([]ContentSource, error) {
	accepted, err := b.acceptableClasses(spec)
	if err != nil {
		return nil, err
	}
	var out []ContentSource
	for _, in := range input {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(in.IDs) == 0 {
			logging.FromContext(ctx).Info("no input instances, skipping class", slog.String("class", in.Class.FullName()))
			continue
		}
		if !b.accepts(spec, accepted, in.Class) {
			logging.FromContext(ctx).Debug("input class not acceptable", slog.String("class", in.Class.FullName()), slog.String("specification", spec.ID))
			continue
		}
		out = append(out, ContentSource{
			Select: SelectClass{
				Class:       in.Class,
				Alias:       b.aliases.Next(PrefixThis, in.Class.Name),
				Polymorphic: true,
			},
			InputClass: in.Class,
		})
	}
	return out, nil
}

func (b *Builder) acceptableClasses(spec *rules.SelectedInstancesSpecification) ([]*schema.Class, error) {
	out := make([]*schema.Class, 0, len(spec.AcceptableClassNames))
	for _, name := range spec.AcceptableClassNames {
		full := strings.TrimSpace(name)
		if spec.AcceptableSchemaName != "" && !strings.ContainsAny(full, ":.") {
			full = spec.AcceptableSchemaName + ":" + full
		}
		c, err := b.graph.ClassByName(full)
		if err != nil {
			return nil, fmt.Errorf("acceptable class: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}

func (b *Builder) accepts(spec *rules.SelectedInstancesSpecification, accepted []*schema.Class, c *schema.Class) bool {
	if spec.AcceptableSchemaName != "" && !strings.EqualFold(spec.AcceptableSchemaName, c.Schema) {
		return false
	}
	if len(accepted) == 0 {
		return true
	}
	for _, a := range accepted {
		if a.ID == c.ID || (spec.AcceptablePolymorphically && b.graph.IsA(c, a.ID)) {
			return true
		}
	}
	return false
}
