package naming

import "strings"

// projectedColumnNames are the system columns every content query projects.
// Properties may not shadow them.
var projectedColumnNames = map[string]bool{
	"ecinstanceid": true,
	"ecclassid":    true,
	"displaylabel": true,
}

// isReservedPropertyName checks if a property name would collide with a
// projected system column or an internal sort/label column.
func isReservedPropertyName(name string) bool {
	lowerName := strings.ToLower(name)
	if strings.HasPrefix(lowerName, "__") {
		return true
	}
	if projectedColumnNames[lowerName] {
		return true
	}
	return isReservedPattern(lowerName)
}

// isReservedPattern checks if a name matches suffixes used for generated fields.
func isReservedPattern(name string) bool {
	// "__label" columns carry navigation target labels
	return strings.HasSuffix(name, "__label")
}
