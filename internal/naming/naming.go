package naming

import (
	"log/slog"
	"strings"
)

// Namer converts SQL table and column names into class, property and
// relationship names. It handles singularization, reserved names, and collisions.
type Namer struct {
	config   Config
	logger   *slog.Logger
	resolver *CollisionResolver
}

// New creates a Namer with the given configuration
func New(cfg Config, logger *slog.Logger) *Namer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Namer{
		config:   cfg,
		logger:   logger,
		resolver: NewCollisionResolver(logger),
	}
}

// Default returns a Namer with default configuration
func Default() *Namer {
	return New(DefaultConfig(), nil)
}

// Reset clears the collision resolver state, allowing the namer to be reused
// for a new schema build.
func (n *Namer) Reset() {
	n.resolver = NewCollisionResolver(n.logger)
}

// ClassName converts a table name to a singular PascalCase class name.
// Example: "order_items" -> "OrderItem"
func (n *Namer) ClassName(tableName string) string {
	return toPascalCase(n.Singularize(tableName))
}

// PropertyName converts a column name to a PascalCase property name.
// Example: "created_at" -> "CreatedAt"
func (n *Namer) PropertyName(columnName string) string {
	return n.validatePropertyAndSuffix(toPascalCase(columnName))
}

// NavigationPropertyName derives the navigation property name for a FK column
// with common suffixes stripped.
// Example: "author_id" -> "Author", "created_by_user_id" -> "CreatedByUser"
func (n *Namer) NavigationPropertyName(fkColumn string) string {
	name := fkColumn
	for _, suffix := range []string{"_id", "_fk"} {
		if strings.HasSuffix(strings.ToLower(name), suffix) {
			name = name[:len(name)-len(suffix)]
			break
		}
	}
	return n.validatePropertyAndSuffix(toPascalCase(name))
}

// ForeignKeyRelationshipName names the relationship from a referenced class to
// the classes referencing it. When the referencing table has several FKs to the
// same class, the navigation name disambiguates.
// Example: ("Person", "Order", "", true) -> "PersonHasOrders"
// Example: ("User", "Post", "Author", false) -> "UserHasPostsByAuthor"
func (n *Namer) ForeignKeyRelationshipName(parentClass, childClass, navigation string, isOnlyFK bool) string {
	name := parentClass + "Has" + n.Pluralize(childClass)
	if isOnlyFK || navigation == "" {
		return name
	}
	return name + "By" + navigation
}

// JunctionRelationshipName names a link-table relationship. It combines the
// two class names when the junction table is a simple combination of the two
// table names and falls back to the junction table otherwise.
// Example: ("employee_departments", "employees", "departments") -> "EmployeeDepartment"
func (n *Namer) JunctionRelationshipName(junctionTable, leftTable, rightTable string) string {
	if !n.isSimpleJunctionName(junctionTable, leftTable, rightTable) {
		return n.ClassName(junctionTable)
	}
	return n.ClassName(leftTable) + n.ClassName(rightTable)
}

// RegisterClass registers a table and returns the resolved class name.
func (n *Namer) RegisterClass(tableName string) string {
	return n.resolver.RegisterClass(n.ClassName(tableName), tableName)
}

// RegisterProperty registers a column property and returns the resolved name.
func (n *Namer) RegisterProperty(className, columnName string) string {
	return n.resolver.RegisterProperty(className, n.PropertyName(columnName), "column:"+columnName)
}

// RegisterNavigationProperty registers a navigation property for a FK column.
// When the name collides with a column property it is suffixed with "Ref".
func (n *Namer) RegisterNavigationProperty(className, fkColumn string) string {
	name := n.NavigationPropertyName(fkColumn)
	if n.resolver.PropertyExists(className, name) {
		name = name + "Ref"
	}
	return n.resolver.RegisterProperty(className, name, "navigation:"+fkColumn)
}

// RegisterRelationship registers a relationship class name.
func (n *Namer) RegisterRelationship(name, source string) string {
	return n.resolver.RegisterRelationship(name, source)
}

func (n *Namer) isSimpleJunctionName(junctionTable, leftTable, rightTable string) bool {
	junctionTokens := splitTokens(junctionTable)
	if len(junctionTokens) == 0 {
		return false
	}

	allowed := make(map[string]struct{})
	n.addNameTokens(allowed, leftTable)
	n.addNameTokens(allowed, rightTable)

	for _, token := range junctionTokens {
		if _, ok := allowed[token]; !ok {
			return false
		}
	}
	return true
}

func (n *Namer) addNameTokens(set map[string]struct{}, name string) {
	for _, token := range splitTokens(name) {
		set[token] = struct{}{}
		set[n.Singularize(token)] = struct{}{}
		set[n.Pluralize(token)] = struct{}{}
	}
}

func splitTokens(name string) []string {
	tokens := strings.Split(strings.ToLower(name), "_")
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if token == "" {
			continue
		}
		out = append(out, token)
	}
	return out
}

func (n *Namer) validatePropertyAndSuffix(name string) string {
	if isReservedPropertyName(name) {
		safeName := name + "_"
		n.logger.Warn("property name conflicts with a projected column, auto-suffixed",
			slog.String("original", name),
			slog.String("renamed", safeName),
		)
		return safeName
	}
	return name
}

// toPascalCase converts snake_case to PascalCase
func toPascalCase(s string) string {
	parts := strings.Split(s, "_")
	for i, part := range parts {
		if len(part) > 0 {
			parts[i] = strings.ToUpper(part[:1]) + part[1:]
		}
	}
	return strings.Join(parts, "")
}
