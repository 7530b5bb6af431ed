// Package junction recognizes link tables: tables whose rows only pair the
// ids of two other tables. Link tables become link-table relationships
// instead of classes.
package junction

// Type classifies a table.
type Type int

const (
	// NotJunction is an ordinary entity table.
	NotJunction Type = iota
	// PureJunction holds only the two foreign key columns.
	PureJunction
	// AttributeJunction carries extra columns that become relationship properties.
	AttributeJunction
)

// String returns a human-readable representation of the junction type.
func (t Type) String() string {
	switch t {
	case NotJunction:
		return "NotJunction"
	case PureJunction:
		return "PureJunction"
	case AttributeJunction:
		return "AttributeJunction"
	default:
		return "Unknown"
	}
}

// Column is the part of a column definition classification looks at.
type Column struct {
	Name       string
	Nullable   bool
	PrimaryKey bool
}

// ForeignKey is a single-column foreign key.
type ForeignKey struct {
	Column           string
	ReferencedTable  string
	ReferencedColumn string
}

// Table is the classification input for one table.
type Table struct {
	Name        string
	Columns     []Column
	ForeignKeys []ForeignKey
	// UniqueKeys lists the column sets of unique indexes.
	UniqueKeys [][]string
}

// Info describes a table classified as a junction. Source and Target are
// ordered by referenced table name, then by column name, so the relationship
// direction is stable across runs.
type Info struct {
	Table            string
	Type             Type
	Source           ForeignKey
	Target           ForeignKey
	AttributeColumns []string
}

// Map maps junction table names to their classification.
type Map map[string]Info

// Lookup returns the classification of a table.
func (m Map) Lookup(table string) (Info, bool) {
	info, ok := m[table]
	return info, ok
}

// Classify returns the junction tables among tables. A table qualifies when:
//   - it has exactly two foreign keys and both referenced tables are known
//   - both foreign key columns are NOT NULL
//   - its primary key or a unique index covers both foreign key columns
//
// Both keys may reference the same table.
func Classify(tables []Table) Map {
	known := make(map[string]bool, len(tables))
	for _, t := range tables {
		known[t.Name] = true
	}
	result := make(Map)
	for _, t := range tables {
		if info, ok := classify(t, known); ok {
			result[t.Name] = info
		}
	}
	return result
}

func classify(t Table, known map[string]bool) (Info, bool) {
	if len(t.ForeignKeys) != 2 {
		return Info{}, false
	}
	a, b := t.ForeignKeys[0], t.ForeignKeys[1]
	if a.Column == b.Column || !known[a.ReferencedTable] || !known[b.ReferencedTable] {
		return Info{}, false
	}
	fkCols := map[string]bool{a.Column: true, b.Column: true}

	var pk []string
	for _, col := range t.Columns {
		if fkCols[col.Name] && col.Nullable {
			return Info{}, false
		}
		if col.PrimaryKey {
			pk = append(pk, col.Name)
		}
	}
	if !covers(pk, fkCols) && !anyCovers(t.UniqueKeys, fkCols) {
		return Info{}, false
	}

	attrs := attributeColumns(t, fkCols, pk)
	kind := PureJunction
	if len(attrs) > 0 {
		kind = AttributeJunction
	}
	source, target := order(a, b)
	return Info{
		Table:            t.Name,
		Type:             kind,
		Source:           source,
		Target:           target,
		AttributeColumns: attrs,
	}, true
}

func anyCovers(keys [][]string, required map[string]bool) bool {
	for _, key := range keys {
		if covers(key, required) {
			return true
		}
	}
	return false
}

// covers reports whether key contains every required column.
func covers(key []string, required map[string]bool) bool {
	if len(key) < len(required) {
		return false
	}
	have := make(map[string]bool, len(key))
	for _, col := range key {
		have[col] = true
	}
	for col := range required {
		if !have[col] {
			return false
		}
	}
	return true
}

// attributeColumns returns the columns outside the foreign keys. A surrogate
// single-column primary key is not an attribute.
func attributeColumns(t Table, fkCols map[string]bool, pk []string) []string {
	surrogate := ""
	if len(pk) == 1 && !fkCols[pk[0]] {
		surrogate = pk[0]
	}
	var attrs []string
	for _, col := range t.Columns {
		if fkCols[col.Name] || col.Name == surrogate {
			continue
		}
		attrs = append(attrs, col.Name)
	}
	return attrs
}

func order(a, b ForeignKey) (ForeignKey, ForeignKey) {
	if a.ReferencedTable > b.ReferencedTable ||
		(a.ReferencedTable == b.ReferencedTable && a.Column > b.Column) {
		return b, a
	}
	return a, b
}
