package introspection

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"contentsql/internal/junction"
	"contentsql/internal/naming"
	"contentsql/internal/schema"
	"contentsql/internal/sqltype"
)

// labelColumns are the column names picked as class label property, in
// order of preference.
var labelColumns = []string{"name", "title", "label", "code"}

// Options control how tables are mapped to classes.
type Options struct {
	// Schema names the class schema; it defaults to the database name.
	Schema string
	Namer  *naming.Namer
	Logger *slog.Logger
}

type entity struct {
	table *Table
	class *schema.Class
}

// BuildGraph maps introspected tables to a class graph:
//   - tables with a single-column primary key become classes
//   - single-column foreign keys become foreign-key relationships from the
//     referenced class to the referencing one, and navigation properties on
//     the referencing class
//   - junction tables become link-table relationships; their extra columns
//     become relationship properties
//
// Class ids are assigned from 1 in table name order, relationships follow.
func BuildGraph(db *Database, opts Options) (*schema.Graph, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: no database", schema.ErrInvalidSchema)
	}
	namer := opts.Namer
	if namer == nil {
		namer = naming.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	schemaName := opts.Schema
	if schemaName == "" {
		schemaName = db.Name
	}

	tables := append([]Table(nil), db.Tables...)
	sort.SliceStable(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })
	junctions := junction.Classify(junctionTables(tables))

	var nextID schema.ClassID
	newID := func() schema.ClassID {
		nextID++
		return nextID
	}

	entities := map[string]*entity{}
	var order []string
	for i := range tables {
		t := &tables[i]
		if _, ok := junctions.Lookup(t.Name); ok {
			continue
		}
		pk := t.PrimaryKey()
		if len(pk) != 1 {
			logger.Warn("skipping table without a single-column primary key",
				slog.String("table", t.Name),
				slog.Int("primary_key_columns", len(pk)),
				slog.Bool("view", t.IsView),
			)
			continue
		}
		entities[t.Name] = &entity{
			table: t,
			class: &schema.Class{
				ID:       newID(),
				Schema:   schemaName,
				Name:     namer.RegisterClass(t.Name),
				Label:    t.Comment,
				Table:    t.Name,
				IDColumn: pk[0],
			},
		}
		order = append(order, t.Name)
	}

	var relationships []schema.Class
	for _, name := range order {
		e := entities[name]
		navs := navigations(e.table, entities)
		e.class.Properties = columnProperties(namer, e, navs)

		for _, nav := range navs {
			parent := entities[nav.fk.ReferencedTable].class
			navName := namer.RegisterNavigationProperty(e.class.Name, nav.fk.ColumnName)
			relName := namer.RegisterRelationship(
				namer.ForeignKeyRelationshipName(parent.Name, e.class.Name, navName, nav.only),
				"fk:"+name+"."+nav.fk.ColumnName,
			)
			relationships = append(relationships, schema.Class{
				ID:       newID(),
				Schema:   schemaName,
				Name:     relName,
				Modifier: schema.ModifierSealed,
				Relationship: &schema.RelationshipInfo{
					Source:           schema.RelationshipEnd{Class: parent.FullName(), Polymorphic: true},
					Target:           schema.RelationshipEnd{Class: e.class.FullName(), Many: true, Polymorphic: true},
					Strategy:         schema.StorageForeignKey,
					ForeignKeyEnd:    schema.EndTarget,
					ForeignKeyColumn: nav.fk.ColumnName,
				},
			})
			e.class.Properties = insertNavigation(e.class.Properties, e.table, schema.Property{
				Name:       navName,
				Column:     nav.fk.ColumnName,
				Kind:       schema.PropertyNavigation,
				Type:       columnType(e.table, nav.fk.ColumnName),
				Navigation: &schema.Navigation{Relationship: (&schema.Class{Schema: schemaName, Name: relName}).FullName()},
			})
		}
	}

	for i := range tables {
		info, ok := junctions.Lookup(tables[i].Name)
		if !ok {
			continue
		}
		rel, ok := linkRelationship(namer, &tables[i], info, entities)
		if !ok {
			logger.Warn("skipping junction table with unmapped ends", slog.String("table", info.Table))
			continue
		}
		rel.ID = newID()
		rel.Schema = schemaName
		relationships = append(relationships, rel)
	}

	classes := make([]schema.Class, 0, len(order)+len(relationships))
	for _, name := range order {
		classes = append(classes, *entities[name].class)
	}
	classes = append(classes, relationships...)
	logger.Debug("built class graph from database",
		slog.String("schema", schemaName),
		slog.Int("classes", len(order)),
		slog.Int("relationships", len(relationships)),
	)
	return schema.NewGraph(classes)
}

type navigation struct {
	fk   ForeignKey
	only bool
}

// navigations returns the single-column foreign keys of t that reference the
// primary key of a mapped table.
func navigations(t *Table, entities map[string]*entity) []navigation {
	var out []navigation
	perParent := map[string]int{}
	for _, c := range singleColumnForeignKeys(*t) {
		parent, ok := entities[c.ReferencedTable]
		if !ok || parent.class.IDColumn != c.ReferencedColumn {
			continue
		}
		if c.ColumnName == t.PrimaryKey()[0] {
			continue
		}
		perParent[c.ReferencedTable]++
		out = append(out, navigation{fk: c})
	}
	for i := range out {
		out[i].only = perParent[out[i].fk.ReferencedTable] == 1
	}
	return out
}

// singleColumnForeignKeys drops constraints spanning several columns.
func singleColumnForeignKeys(t Table) []ForeignKey {
	byConstraint := map[string][]ForeignKey{}
	var names []string
	for i, fk := range t.ForeignKeys {
		key := fk.ConstraintName
		if key == "" {
			key = fmt.Sprintf("#%d", i)
		}
		if _, seen := byConstraint[key]; !seen {
			names = append(names, key)
		}
		byConstraint[key] = append(byConstraint[key], fk)
	}
	var out []ForeignKey
	for _, name := range names {
		if fks := byConstraint[name]; len(fks) == 1 {
			out = append(out, fks[0])
		}
	}
	return out
}

// columnProperties maps every column except the primary key and navigation
// columns to a primitive or enum property.
func columnProperties(namer *naming.Namer, e *entity, navs []navigation) []schema.Property {
	skip := map[string]bool{e.class.IDColumn: true}
	for _, n := range navs {
		skip[n.fk.ColumnName] = true
	}
	var props []schema.Property
	for _, col := range e.table.Columns {
		if skip[col.Name] {
			continue
		}
		p := schema.Property{
			Name:   namer.RegisterProperty(e.class.Name, col.Name),
			Column: col.Name,
			Type:   sqltype.Map(col.DataType, col.ColumnType).String(),
			Label:  col.Comment,
		}
		if len(col.EnumValues) > 0 {
			p.Kind = schema.PropertyEnum
			for _, v := range col.EnumValues {
				p.EnumValues = append(p.EnumValues, schema.EnumValue{Value: v, Label: v})
			}
		}
		props = append(props, p)
	}
	for _, preferred := range labelColumns {
		for _, p := range props {
			if strings.EqualFold(p.Column, preferred) && p.Kind == schema.PropertyPrimitive {
				e.class.LabelProperty = p.Name
				return props
			}
		}
	}
	return props
}

// insertNavigation places a navigation property at its column position.
func insertNavigation(props []schema.Property, t *Table, nav schema.Property) []schema.Property {
	position := map[string]int{}
	for i, c := range t.Columns {
		position[c.Name] = i
	}
	at := len(props)
	for i, p := range props {
		if position[p.Column] > position[nav.Column] {
			at = i
			break
		}
	}
	props = append(props, schema.Property{})
	copy(props[at+1:], props[at:])
	props[at] = nav
	return props
}

func columnType(t *Table, column string) string {
	col, _ := t.Column(column)
	return sqltype.Map(col.DataType, col.ColumnType).String()
}

func linkRelationship(namer *naming.Namer, t *Table, info junction.Info, entities map[string]*entity) (schema.Class, bool) {
	source, ok := entities[info.Source.ReferencedTable]
	if !ok || source.class.IDColumn != info.Source.ReferencedColumn {
		return schema.Class{}, false
	}
	target, ok := entities[info.Target.ReferencedTable]
	if !ok || target.class.IDColumn != info.Target.ReferencedColumn {
		return schema.Class{}, false
	}
	name := namer.RegisterRelationship(
		namer.JunctionRelationshipName(t.Name, info.Source.ReferencedTable, info.Target.ReferencedTable),
		"junction:"+t.Name,
	)
	idColumn := info.Source.Column
	if pk := t.PrimaryKey(); len(pk) == 1 {
		idColumn = pk[0]
	}
	rel := schema.Class{
		Name:     name,
		Label:    t.Comment,
		Table:    t.Name,
		IDColumn: idColumn,
		Modifier: schema.ModifierSealed,
		Relationship: &schema.RelationshipInfo{
			Source:       schema.RelationshipEnd{Class: source.class.FullName(), Many: true, Polymorphic: true},
			Target:       schema.RelationshipEnd{Class: target.class.FullName(), Many: true, Polymorphic: true},
			Strategy:     schema.StorageLinkTable,
			SourceColumn: info.Source.Column,
			TargetColumn: info.Target.Column,
		},
	}
	for _, colName := range info.AttributeColumns {
		col, _ := t.Column(colName)
		rel.Properties = append(rel.Properties, schema.Property{
			Name:   namer.RegisterProperty(name, colName),
			Column: colName,
			Type:   sqltype.Map(col.DataType, col.ColumnType).String(),
			Label:  col.Comment,
		})
	}
	return rel, true
}

func junctionTables(tables []Table) []junction.Table {
	out := make([]junction.Table, 0, len(tables))
	for _, t := range tables {
		if t.IsView {
			continue
		}
		jt := junction.Table{Name: t.Name}
		for _, c := range t.Columns {
			jt.Columns = append(jt.Columns, junction.Column{Name: c.Name, Nullable: c.IsNullable, PrimaryKey: c.IsPrimaryKey})
		}
		for _, fk := range singleColumnForeignKeys(t) {
			jt.ForeignKeys = append(jt.ForeignKeys, junction.ForeignKey{
				Column:           fk.ColumnName,
				ReferencedTable:  fk.ReferencedTable,
				ReferencedColumn: fk.ReferencedColumn,
			})
		}
		for _, idx := range t.UniqueIndexes {
			jt.UniqueKeys = append(jt.UniqueKeys, idx.Columns)
		}
		out = append(out, jt)
	}
	return out
}
