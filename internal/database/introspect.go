package database

import (
	"context"
	"fmt"
)

// ColumnInfo describes a single column in a table
type ColumnInfo struct {
	Name      string
	DataType  string // declared type as reported by the engine
	Nullable  bool
	Default   *string // nil if no default
	IsPrimary bool
	IsUnique  bool
	// AutoIncrement marks columns the engine fills on insert
	// (SQLite rowid alias, serial / identity, AUTO_INCREMENT).
	AutoIncrement bool
}

// ForeignKey describes a single-column reference to another table.
type ForeignKey struct {
	Column    string
	RefTable  string
	RefColumn string
}

// TableInfo describes a table, its columns and keys.
type TableInfo struct {
	Name        string
	Columns     []*ColumnInfo
	PrimaryKey  []string
	ForeignKeys []*ForeignKey
}

// Column returns the named column, or nil.
func (t *TableInfo) Column(name string) *ColumnInfo {
	for _, c := range t.Columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Schema is the full introspected database schema, keyed by table name.
type Schema struct {
	Tables map[string]*TableInfo
}

// InspectSchema builds the full Schema by orchestrating the Introspector.
// This is an expensive operation; callers should cache the result.
func InspectSchema(ctx context.Context, i Introspector) (*Schema, error) {
	tables, err := i.ListTables(ctx)
	if err != nil {
		return nil, err
	}

	schema := &Schema{Tables: make(map[string]*TableInfo, len(tables))}
	for _, name := range tables {
		info, err := i.InspectTable(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("inspecting table %q: %w", name, err)
		}
		schema.Tables[name] = info
	}
	return schema, nil
}

// ToSet is a small helper shared by drivers when marking key columns.
func ToSet(ss []string) map[string]bool {
	m := make(map[string]bool, len(ss))
	for _, s := range ss {
		m[s] = true
	}
	return m
}
