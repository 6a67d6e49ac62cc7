package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/koustreak/recordbase/internal/database"
	"github.com/koustreak/recordbase/internal/errs"
)

// ListTables returns all user tables, skipping SQLite's internal ones.
func (d *Driver) ListTables(ctx context.Context) ([]string, error) {
	const q = `
		SELECT name
		FROM sqlite_master
		WHERE type = 'table'
		  AND name NOT LIKE 'sqlite\_%' ESCAPE '\'
		ORDER BY name`

	return d.fetchStringList(ctx, q, "failed to list tables")
}

// InspectTable reads column, key and foreign key info through the
// table-valued pragma functions.
func (d *Driver) InspectTable(ctx context.Context, table string) (*database.TableInfo, error) {
	columns, pks, err := d.fetchColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, errs.Newf(errs.ErrKindNotFound, "table %q not found", table)
	}

	uniq, err := d.fetchUniqueColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	uqSet := database.ToSet(uniq)
	for _, c := range columns {
		c.IsUnique = c.IsUnique || uqSet[c.Name]
	}

	fks, err := d.fetchForeignKeys(ctx, table)
	if err != nil {
		return nil, err
	}

	return &database.TableInfo{
		Name:        table,
		Columns:     columns,
		PrimaryKey:  pks,
		ForeignKeys: fks,
	}, nil
}

func (d *Driver) fetchColumns(ctx context.Context, table string) ([]*database.ColumnInfo, []string, error) {
	const q = `SELECT name, type, "notnull", dflt_value, pk FROM pragma_table_info(?) ORDER BY cid`

	rows, err := d.readDB.QueryContext(ctx, q, table)
	if err != nil {
		return nil, nil, mapError(err, "failed to fetch columns")
	}
	defer rows.Close()

	type pkCol struct {
		name string
		pos  int
	}
	var (
		cols  []*database.ColumnInfo
		pkPos []pkCol
	)
	for rows.Next() {
		var (
			c       database.ColumnInfo
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&c.Name, &c.DataType, &notNull, &dflt, &pk); err != nil {
			return nil, nil, mapError(err, "failed to scan column info")
		}
		c.Nullable = notNull == 0
		if dflt.Valid {
			v := dflt.String
			c.Default = &v
		}
		if pk > 0 {
			c.IsPrimary = true
			c.IsUnique = true
			pkPos = append(pkPos, pkCol{name: c.Name, pos: pk})
		}
		cols = append(cols, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, mapError(err, "error iterating columns")
	}

	pks := make([]string, len(pkPos))
	for _, p := range pkPos {
		pks[p.pos-1] = p.name
	}

	// A lone INTEGER PRIMARY KEY is an alias for the rowid: never NULL and
	// assigned by the engine when omitted.
	if len(pks) == 1 {
		for _, c := range cols {
			if c.Name == pks[0] && strings.EqualFold(strings.TrimSpace(c.DataType), "INTEGER") {
				c.AutoIncrement = true
				c.Nullable = false
			}
		}
	}
	return cols, pks, nil
}

func (d *Driver) fetchUniqueColumns(ctx context.Context, table string) ([]string, error) {
	const q = `
		SELECT ii.name
		FROM pragma_index_list(?) AS il
		JOIN pragma_index_info(il.name) AS ii
		WHERE il."unique" = 1
		GROUP BY il.name
		HAVING COUNT(*) = 1`

	rows, err := d.readDB.QueryContext(ctx, q, table)
	if err != nil {
		return nil, mapError(err, "failed to fetch unique columns")
	}
	defer rows.Close()

	var list []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, mapError(err, "failed to scan unique column")
		}
		list = append(list, s)
	}
	return list, mapError(rows.Err(), "error iterating unique columns")
}

// fetchForeignKeys returns single-column foreign keys. A reference without
// an explicit target column points at the target's primary key, which is
// resolved here.
func (d *Driver) fetchForeignKeys(ctx context.Context, table string) ([]*database.ForeignKey, error) {
	const q = `
		SELECT "from", "table", "to"
		FROM pragma_foreign_key_list(?)
		WHERE id IN (
			SELECT id FROM pragma_foreign_key_list(?) GROUP BY id HAVING COUNT(*) = 1
		)
		ORDER BY id`

	rows, err := d.readDB.QueryContext(ctx, q, table, table)
	if err != nil {
		return nil, mapError(err, "failed to fetch foreign keys")
	}

	var fks []*database.ForeignKey
	for rows.Next() {
		var (
			fk database.ForeignKey
			to sql.NullString
		)
		if err := rows.Scan(&fk.Column, &fk.RefTable, &to); err != nil {
			rows.Close()
			return nil, mapError(err, "failed to scan foreign key")
		}
		fk.RefColumn = to.String
		fks = append(fks, &fk)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, mapError(err, "error iterating foreign keys")
	}

	for _, fk := range fks {
		if fk.RefColumn != "" {
			continue
		}
		_, refPKs, err := d.fetchColumns(ctx, fk.RefTable)
		if err != nil {
			return nil, err
		}
		if len(refPKs) == 1 {
			fk.RefColumn = refPKs[0]
		}
	}
	return fks, nil
}

// fetchStringList is a helper for queries that return a single text column.
func (d *Driver) fetchStringList(ctx context.Context, q, errMsg string, args ...any) ([]string, error) {
	rows, err := d.readDB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapError(err, errMsg)
	}
	defer rows.Close()

	var list []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, mapError(err, errMsg)
		}
		list = append(list, s)
	}
	return list, mapError(rows.Err(), errMsg)
}
