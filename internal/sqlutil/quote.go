// Package sqlutil provides SQL utility functions.
package sqlutil

import "strings"

// QuoteIdentifier quotes a SQL identifier (table name, column name, alias)
// with backticks and escapes any backticks within the identifier.
func QuoteIdentifier(name string) string {
	escaped := strings.ReplaceAll(name, "`", "``")
	return "`" + escaped + "`"
}

// Column returns a quoted, alias-qualified column reference such as `p`.`Name`.
// An empty alias yields the bare quoted column.
func Column(alias, column string) string {
	if alias == "" {
		return QuoteIdentifier(column)
	}
	return QuoteIdentifier(alias) + "." + QuoteIdentifier(column)
}

// TableAs renders "`table` AS `alias`".
func TableAs(table, alias string) string {
	return QuoteIdentifier(table) + " AS " + QuoteIdentifier(alias)
}

// EscapeLike escapes LIKE wildcards so the value matches literally.
// The escape character is the MySQL default backslash.
func EscapeLike(value string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(value)
}
