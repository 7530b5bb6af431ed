// Package schemafilter applies allow/deny filters to introspected tables
// before they are mapped to classes.
package schemafilter

import (
	"path"
	"slices"
	"strings"

	"contentsql/internal/introspection"
)

// Config controls allow/deny filters for tables and columns. Patterns are
// path.Match globs compared case-insensitively. Column pattern maps are keyed
// by table name; the "*" key applies to every table.
type Config struct {
	AllowTables      []string            `mapstructure:"allow_tables"`
	DenyTables       []string            `mapstructure:"deny_tables"`
	ScanViewsEnabled bool                `mapstructure:"scan_views_enabled"`
	AllowColumns     map[string][]string `mapstructure:"allow_columns"`
	DenyColumns      map[string][]string `mapstructure:"deny_columns"`
}

// IsEmpty reports whether the filter keeps everything except views.
func (c Config) IsEmpty() bool {
	return len(c.AllowTables) == 0 && len(c.DenyTables) == 0 &&
		len(c.AllowColumns) == 0 && len(c.DenyColumns) == 0
}

// Apply filters tables, columns, unique indexes and foreign keys in place.
// Missing allow lists default to allow-all; deny rules always win. Foreign
// keys pointing at removed tables or columns are dropped, so no relationship
// is built for them. Primary key columns cannot be filtered out.
func Apply(db *introspection.Database, cfg Config) {
	if db == nil {
		return
	}

	kept := make([]introspection.Table, 0, len(db.Tables))
	for _, table := range db.Tables {
		if table.IsView && !cfg.ScanViewsEnabled {
			continue
		}
		if !tableAllowed(table.Name, cfg.AllowTables, cfg.DenyTables) {
			continue
		}
		columns := make([]introspection.Column, 0, len(table.Columns))
		for _, column := range table.Columns {
			if column.IsPrimaryKey || columnAllowed(table.Name, column.Name, cfg.AllowColumns, cfg.DenyColumns) {
				columns = append(columns, column)
			}
		}
		if len(columns) == 0 {
			continue
		}
		table.Columns = columns
		kept = append(kept, table)
	}

	available := make(map[string]map[string]bool, len(kept))
	for _, table := range kept {
		cols := make(map[string]bool, len(table.Columns))
		for _, c := range table.Columns {
			cols[c.Name] = true
		}
		available[table.Name] = cols
	}

	for i := range kept {
		table := &kept[i]
		local := available[table.Name]
		table.UniqueIndexes = slices.DeleteFunc(slices.Clone(table.UniqueIndexes), func(idx introspection.Index) bool {
			for _, col := range idx.Columns {
				if !local[col] {
					return true
				}
			}
			return false
		})
		table.ForeignKeys = slices.DeleteFunc(slices.Clone(table.ForeignKeys), func(fk introspection.ForeignKey) bool {
			remote := available[fk.ReferencedTable]
			return !local[fk.ColumnName] || remote == nil || !remote[fk.ReferencedColumn]
		})
	}
	db.Tables = kept
}

func tableAllowed(table string, allow, deny []string) bool {
	if matchesAny(table, deny) {
		return false
	}
	if len(allow) == 0 {
		return true
	}
	return matchesAny(table, allow)
}

func columnAllowed(table, column string, allow, deny map[string][]string) bool {
	if matchesAny(column, mergePatterns(deny, table)) {
		return false
	}
	allowPatterns := mergePatterns(allow, table)
	if len(allowPatterns) == 0 {
		return true
	}
	return matchesAny(column, allowPatterns)
}

func mergePatterns(patterns map[string][]string, table string) []string {
	if patterns == nil {
		return nil
	}
	combined := append([]string{}, patterns["*"]...)
	for key, values := range patterns {
		if key != "*" && strings.EqualFold(key, table) {
			combined = append(combined, values...)
		}
	}
	return slices.Compact(combined)
}

func matchesAny(value string, patterns []string) bool {
	value = strings.ToLower(value)
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		if ok, err := path.Match(strings.ToLower(pattern), value); err == nil && ok {
			return true
		}
	}
	return false
}
