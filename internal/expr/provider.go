package expr

import (
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Columns is a FieldProvider backed by a map from "qualifier.Name" (or a bare
// "Name") to a SQL expression. Lookups fall back to a case-insensitive match.
// It knows no classes, so IsOfClass tests are unsupported.
type Columns map[string]string

// Column implements FieldProvider.
func (c Columns) Column(qualifier, name string) (string, bool) {
	key := joinPath(qualifier, name)
	if col, ok := c[key]; ok {
		return col, true
	}
	for k, col := range c {
		if strings.EqualFold(k, key) {
			return col, true
		}
	}
	return "", false
}

// ClassFilter implements FieldProvider.
func (c Columns) ClassFilter(string, string) (sq.Sqlizer, bool) {
	return nil, false
}
