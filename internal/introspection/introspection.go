// Package introspection reads table metadata from MySQL/TiDB
// information_schema and turns it into a class graph.
package introspection

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Queryer is the subset of *sql.DB introspection needs.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Column is one column of a table.
type Column struct {
	Name         string
	DataType     string
	ColumnType   string
	Comment      string
	IsNullable   bool
	IsPrimaryKey bool
	EnumValues   []string
}

// ForeignKey is one column of a foreign key constraint.
type ForeignKey struct {
	ColumnName       string
	ReferencedTable  string
	ReferencedColumn string
	ConstraintName   string
	OrdinalPosition  int
}

// Index is a unique index.
type Index struct {
	Name    string
	Columns []string
}

// Table is a table or view with its keys.
type Table struct {
	Name          string
	IsView        bool
	Comment       string
	Columns       []Column
	ForeignKeys   []ForeignKey
	UniqueIndexes []Index
}

// PrimaryKey returns the primary key columns in column order.
func (t Table) PrimaryKey() []string {
	var pk []string
	for _, c := range t.Columns {
		if c.IsPrimaryKey {
			pk = append(pk, c.Name)
		}
	}
	return pk
}

// Column looks a column up by name.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Database is the introspected content of one schema.
type Database struct {
	Name   string
	Tables []Table
}

// Introspect reads every table and view of databaseName. Views get columns
// only.
func Introspect(ctx context.Context, db Queryer, databaseName string) (*Database, error) {
	ctx, span := startSpan(ctx, "introspection.database", attribute.String("db.name", databaseName))
	defer span.End()

	tables, err := loadTables(ctx, db, databaseName)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to get tables: %w", err)
	}

	for i := range tables {
		t := &tables[i]
		if t.Columns, err = loadColumns(ctx, db, databaseName, t.Name); err != nil {
			recordSpanError(span, err)
			return nil, fmt.Errorf("failed to get columns for %s: %w", t.Name, err)
		}
		if t.IsView {
			continue
		}
		pk, err := loadPrimaryKey(ctx, db, databaseName, t.Name)
		if err != nil {
			recordSpanError(span, err)
			return nil, fmt.Errorf("failed to get primary key for %s: %w", t.Name, err)
		}
		for ci := range t.Columns {
			t.Columns[ci].IsPrimaryKey = pk[t.Columns[ci].Name]
		}
		if t.ForeignKeys, err = loadForeignKeys(ctx, db, databaseName, t.Name); err != nil {
			recordSpanError(span, err)
			return nil, fmt.Errorf("failed to get foreign keys for %s: %w", t.Name, err)
		}
		if t.UniqueIndexes, err = loadUniqueIndexes(ctx, db, databaseName, t.Name); err != nil {
			recordSpanError(span, err)
			return nil, fmt.Errorf("failed to get indexes for %s: %w", t.Name, err)
		}
	}
	span.SetAttributes(attribute.Int("db.tables", len(tables)))
	return &Database{Name: databaseName, Tables: tables}, nil
}

func loadTables(ctx context.Context, db Queryer, databaseName string) ([]Table, error) {
	q := sq.Select("TABLE_NAME", "TABLE_TYPE", "TABLE_COMMENT").
		From("INFORMATION_SCHEMA.TABLES").
		Where(sq.Eq{"TABLE_SCHEMA": databaseName}).
		Where(sq.Eq{"TABLE_TYPE": []string{"BASE TABLE", "VIEW"}}).
		OrderBy("TABLE_NAME")

	var tables []Table
	err := collect(ctx, db, "introspection.tables", q, func(rows *sql.Rows) error {
		var name, kind string
		var comment sql.NullString
		if err := rows.Scan(&name, &kind, &comment); err != nil {
			return err
		}
		tables = append(tables, Table{
			Name:    name,
			IsView:  strings.EqualFold(kind, "VIEW"),
			Comment: strings.TrimSpace(comment.String),
		})
		return nil
	}, attribute.String("db.name", databaseName))
	return tables, err
}

func loadColumns(ctx context.Context, db Queryer, databaseName, tableName string) ([]Column, error) {
	q := sq.Select("COLUMN_NAME", "DATA_TYPE", "COLUMN_TYPE", "COLUMN_COMMENT", "IS_NULLABLE").
		From("INFORMATION_SCHEMA.COLUMNS").
		Where(sq.Eq{"TABLE_SCHEMA": databaseName, "TABLE_NAME": tableName}).
		OrderBy("ORDINAL_POSITION")

	var columns []Column
	err := collect(ctx, db, "introspection.columns", q, func(rows *sql.Rows) error {
		var col Column
		var comment sql.NullString
		var nullable string
		if err := rows.Scan(&col.Name, &col.DataType, &col.ColumnType, &comment, &nullable); err != nil {
			return err
		}
		col.Comment = strings.TrimSpace(comment.String)
		col.IsNullable = strings.EqualFold(nullable, "YES")
		if strings.EqualFold(col.DataType, "enum") {
			values, err := parseEnumValues(col.ColumnType)
			if err != nil {
				slog.Default().Warn("failed to parse enum values",
					slog.String("table", tableName),
					slog.String("column", col.Name),
					slog.String("error", err.Error()),
				)
			} else {
				col.EnumValues = values
			}
		}
		columns = append(columns, col)
		return nil
	}, attribute.String("db.name", databaseName), attribute.String("db.table", tableName))
	return columns, err
}

func loadPrimaryKey(ctx context.Context, db Queryer, databaseName, tableName string) (map[string]bool, error) {
	q := sq.Select("COLUMN_NAME").
		From("INFORMATION_SCHEMA.KEY_COLUMN_USAGE").
		Where(sq.Eq{"TABLE_SCHEMA": databaseName, "TABLE_NAME": tableName, "CONSTRAINT_NAME": "PRIMARY"}).
		OrderBy("ORDINAL_POSITION")

	pk := map[string]bool{}
	err := collect(ctx, db, "introspection.primary_key", q, func(rows *sql.Rows) error {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		pk[name] = true
		return nil
	}, attribute.String("db.name", databaseName), attribute.String("db.table", tableName))
	return pk, err
}

func loadForeignKeys(ctx context.Context, db Queryer, databaseName, tableName string) ([]ForeignKey, error) {
	q := sq.Select("COLUMN_NAME", "REFERENCED_TABLE_NAME", "REFERENCED_COLUMN_NAME", "CONSTRAINT_NAME", "ORDINAL_POSITION").
		From("INFORMATION_SCHEMA.KEY_COLUMN_USAGE").
		Where(sq.Eq{"TABLE_SCHEMA": databaseName, "TABLE_NAME": tableName}).
		Where(sq.NotEq{"REFERENCED_TABLE_NAME": nil}).
		OrderBy("CONSTRAINT_NAME", "ORDINAL_POSITION")

	var fks []ForeignKey
	err := collect(ctx, db, "introspection.foreign_keys", q, func(rows *sql.Rows) error {
		var fk ForeignKey
		if err := rows.Scan(&fk.ColumnName, &fk.ReferencedTable, &fk.ReferencedColumn, &fk.ConstraintName, &fk.OrdinalPosition); err != nil {
			return err
		}
		fks = append(fks, fk)
		return nil
	}, attribute.String("db.name", databaseName), attribute.String("db.table", tableName))
	return fks, err
}

func loadUniqueIndexes(ctx context.Context, db Queryer, databaseName, tableName string) ([]Index, error) {
	q := sq.Select("INDEX_NAME", "COLUMN_NAME").
		From("INFORMATION_SCHEMA.STATISTICS").
		Where(sq.Eq{"TABLE_SCHEMA": databaseName, "TABLE_NAME": tableName, "NON_UNIQUE": 0}).
		Where(sq.NotEq{"INDEX_NAME": "PRIMARY"}).
		OrderBy("INDEX_NAME", "SEQ_IN_INDEX")

	var indexes []Index
	err := collect(ctx, db, "introspection.unique_indexes", q, func(rows *sql.Rows) error {
		var name, column string
		if err := rows.Scan(&name, &column); err != nil {
			return err
		}
		if n := len(indexes); n > 0 && indexes[n-1].Name == name {
			indexes[n-1].Columns = append(indexes[n-1].Columns, column)
			return nil
		}
		indexes = append(indexes, Index{Name: name, Columns: []string{column}})
		return nil
	}, attribute.String("db.name", databaseName), attribute.String("db.table", tableName))
	return indexes, err
}

// collect runs q in its own span and hands every row to scan.
func collect(ctx context.Context, db Queryer, spanName string, q sq.SelectBuilder, scan func(*sql.Rows) error, attrs ...attribute.KeyValue) error {
	ctx, span := startSpan(ctx, spanName, attrs...)
	defer span.End()

	query, args, err := q.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		recordSpanError(span, err)
		return err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		recordSpanError(span, err)
		return err
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		if err := scan(rows); err != nil {
			recordSpanError(span, err)
			return err
		}
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return err
	}
	return nil
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer("contentsql/introspection").Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
