package naming

import (
	"fmt"
	"log/slog"
)

// CollisionResolver tracks registered names and resolves collisions
// by applying numeric suffixes when duplicates are detected.
type CollisionResolver struct {
	seenClasses       map[string]string            // class name → source table
	seenProperties    map[string]map[string]string // class name → property name → source
	seenRelationships map[string]string            // relationship name → source
	logger            *slog.Logger
}

// NewCollisionResolver creates a new collision resolver.
func NewCollisionResolver(logger *slog.Logger) *CollisionResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &CollisionResolver{
		seenClasses:       make(map[string]string),
		seenProperties:    make(map[string]map[string]string),
		seenRelationships: make(map[string]string),
		logger:            logger,
	}
}

// RegisterClass registers a class name and returns the resolved name.
func (c *CollisionResolver) RegisterClass(className, tableName string) string {
	return c.resolveCollision(className, c.seenClasses, "table:"+tableName)
}

// RegisterProperty registers a property name within a class and returns the resolved name.
func (c *CollisionResolver) RegisterProperty(className, propertyName, source string) string {
	if c.seenProperties[className] == nil {
		c.seenProperties[className] = make(map[string]string)
	}
	return c.resolveCollision(propertyName, c.seenProperties[className], source)
}

// PropertyExists checks if a property name already exists for a class.
func (c *CollisionResolver) PropertyExists(className, propertyName string) bool {
	if props, ok := c.seenProperties[className]; ok {
		_, exists := props[propertyName]
		return exists
	}
	return false
}

// RegisterRelationship registers a relationship class name. Relationship
// classes share the class namespace.
func (c *CollisionResolver) RegisterRelationship(name, source string) string {
	if _, taken := c.seenClasses[name]; taken {
		name = name + "Rel"
	}
	resolved := c.resolveCollision(name, c.seenRelationships, source)
	c.seenClasses[resolved] = source
	return resolved
}

// resolveCollision attempts to register a name in the given map.
// If the name already exists, finds the next available numeric suffix.
func (c *CollisionResolver) resolveCollision(name string, seen map[string]string, source string) string {
	if _, exists := seen[name]; !exists {
		seen[name] = source
		return name
	}

	existingSource := seen[name]
	c.logger.Warn("naming collision detected, applying suffix",
		slog.String("name", name),
		slog.String("existing_source", existingSource),
		slog.String("new_source", source),
	)

	for i := 2; ; i++ {
		suffixed := fmt.Sprintf("%s%d", name, i)
		if _, exists := seen[suffixed]; !exists {
			seen[suffixed] = source
			return suffixed
		}
	}
}
