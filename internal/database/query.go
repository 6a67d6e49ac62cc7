package database

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/koustreak/recordbase/internal/errs"
)

// Dialect controls placeholder style and identifier quoting.
type Dialect int

const (
	// DialectSQLite uses ? placeholders and "double quoted" identifiers.
	DialectSQLite Dialect = iota

	// DialectPostgres uses $1, $2, … placeholders.
	DialectPostgres

	// DialectMySQL uses ? placeholders and `backtick` identifiers.
	DialectMySQL
)

func (d Dialect) String() string {
	switch d {
	case DialectPostgres:
		return "postgres"
	case DialectMySQL:
		return "mysql"
	default:
		return "sqlite"
	}
}

// Placeholder returns the parameter placeholder for the 1-based index idx.
func (d Dialect) Placeholder(idx int) string {
	if d == DialectPostgres {
		return "$" + strconv.Itoa(idx)
	}
	return "?"
}

// QuoteIdent quotes a SQL identifier, doubling any embedded quote character.
func (d Dialect) QuoteIdent(name string) string {
	if d == DialectMySQL {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// SupportsReturning reports whether INSERT … RETURNING * is available.
func (d Dialect) SupportsReturning() bool {
	return d != DialectMySQL
}

// validOps is the allowlist of comparison operators for WHERE clauses.
// Any operator not in this list is rejected; the operator position cannot be
// parameterized.
var validOps = map[string]bool{
	"=":    true,
	"!=":   true,
	"<>":   true,
	"<":    true,
	">":    true,
	"<=":   true,
	">=":   true,
	"LIKE": true,
}

// SortDirection controls the ORDER BY direction.
type SortDirection bool

const (
	Asc  SortDirection = false
	Desc SortDirection = true
)

func (s SortDirection) String() string {
	if s == Desc {
		return "DESC"
	}
	return "ASC"
}

type whereKind int

const (
	whereCompare whereKind = iota
	whereIn
	whereNull
	whereNotNull
)

type whereClause struct {
	kind   whereKind
	column string
	op     string
	value  any
	values []any
}

type orderClause struct {
	column string
	dir    SortDirection
}

// SelectBuilder constructs a parameterized SELECT query using a fluent API.
// Values are never interpolated into the SQL string, always passed as args.
//
// Usage:
//
//	sql, args, err := Select("post", DialectSQLite).
//	    Where("title", "LIKE", "%go%").
//	    WhereIn("author", a, b).
//	    OrderBy("id", Desc).
//	    Limit(20).
//	    Build()
type SelectBuilder struct {
	table   string
	dialect Dialect
	columns []string
	count   bool
	where   []whereClause
	orderBy []orderClause
	limit   *int
	offset  *int
}

// Select starts a new SelectBuilder for the given table and dialect.
func Select(table string, d Dialect) *SelectBuilder {
	return &SelectBuilder{table: table, dialect: d}
}

// Columns restricts the SELECT to the specified columns.
// If not called, SELECT * is used.
func (b *SelectBuilder) Columns(cols ...string) *SelectBuilder {
	b.columns = cols
	return b
}

// Count turns the query into SELECT COUNT(*); ORDER BY, LIMIT and OFFSET
// are dropped at build time.
func (b *SelectBuilder) Count() *SelectBuilder {
	b.count = true
	return b
}

// Where adds a comparison. op must be one of the allowed comparison
// operators (=, !=, <>, <, >, <=, >=, LIKE). Multiple calls are combined
// with AND.
func (b *SelectBuilder) Where(column, op string, value any) *SelectBuilder {
	b.where = append(b.where, whereClause{kind: whereCompare, column: column, op: op, value: value})
	return b
}

// WhereIn adds a set-membership condition. An empty set matches nothing.
func (b *SelectBuilder) WhereIn(column string, values ...any) *SelectBuilder {
	b.where = append(b.where, whereClause{kind: whereIn, column: column, values: values})
	return b
}

// WhereNull adds "column IS NULL", or "IS NOT NULL" when not is true.
func (b *SelectBuilder) WhereNull(column string, not bool) *SelectBuilder {
	kind := whereNull
	if not {
		kind = whereNotNull
	}
	b.where = append(b.where, whereClause{kind: kind, column: column})
	return b
}

// OrderBy appends an ORDER BY clause for the given column and direction.
func (b *SelectBuilder) OrderBy(column string, dir SortDirection) *SelectBuilder {
	b.orderBy = append(b.orderBy, orderClause{column, dir})
	return b
}

// Limit sets the maximum number of rows to return.
func (b *SelectBuilder) Limit(n int) *SelectBuilder {
	b.limit = &n
	return b
}

// Offset sets the number of rows to skip.
func (b *SelectBuilder) Offset(n int) *SelectBuilder {
	b.offset = &n
	return b
}

// Build produces the final SQL string and argument slice.
// Returns an ErrKindInvalidFilter error if any WHERE operator is not in the
// allowlist.
func (b *SelectBuilder) Build() (string, []any, error) {
	q := b.dialect.QuoteIdent

	cols := "*"
	switch {
	case b.count:
		cols = "COUNT(*)"
	case len(b.columns) > 0:
		quoted := make([]string, len(b.columns))
		for i, c := range b.columns {
			quoted[i] = q(c)
		}
		cols = strings.Join(quoted, ", ")
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(cols)
	sb.WriteString(" FROM ")
	sb.WriteString(q(b.table))

	var args []any
	argIdx := 1
	next := func(v any) string {
		args = append(args, v)
		p := b.dialect.Placeholder(argIdx)
		argIdx++
		return p
	}

	// --- WHERE ---
	if len(b.where) > 0 {
		parts := make([]string, 0, len(b.where))
		for _, w := range b.where {
			switch w.kind {
			case whereCompare:
				op := strings.ToUpper(w.op)
				if !validOps[op] {
					return "", nil, errs.Newf(errs.ErrKindInvalidFilter, "unsupported WHERE operator: %q", w.op)
				}
				parts = append(parts, fmt.Sprintf("%s %s %s", q(w.column), op, next(w.value)))
			case whereIn:
				if len(w.values) == 0 {
					parts = append(parts, "1 = 0")
					continue
				}
				ph := make([]string, len(w.values))
				for i, v := range w.values {
					ph[i] = next(v)
				}
				parts = append(parts, fmt.Sprintf("%s IN (%s)", q(w.column), strings.Join(ph, ", ")))
			case whereNull:
				parts = append(parts, q(w.column)+" IS NULL")
			case whereNotNull:
				parts = append(parts, q(w.column)+" IS NOT NULL")
			}
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(parts, " AND "))
	}

	if b.count {
		return sb.String(), args, nil
	}

	// --- ORDER BY ---
	if len(b.orderBy) > 0 {
		parts := make([]string, len(b.orderBy))
		for i, o := range b.orderBy {
			parts[i] = q(o.column) + " " + o.dir.String()
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(parts, ", "))
	}

	// --- LIMIT ---
	if b.limit != nil {
		sb.WriteString(" LIMIT ")
		sb.WriteString(next(*b.limit))
	}

	// --- OFFSET ---
	if b.offset != nil {
		// SQLite and MySQL only accept OFFSET after a LIMIT.
		if b.limit == nil && b.dialect != DialectPostgres {
			return "", nil, errs.New(errs.ErrKindInvalidFilter, "offset requires a limit")
		}
		sb.WriteString(" OFFSET ")
		sb.WriteString(next(*b.offset))
	}

	return sb.String(), args, nil
}

// BuildInsert returns an INSERT for the given columns. With returning set the
// statement ends in RETURNING *; callers must check Dialect.SupportsReturning.
// With no columns the row is inserted with all defaults.
func BuildInsert(d Dialect, table string, columns []string, returning bool) string {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(d.QuoteIdent(table))

	if len(columns) == 0 {
		if d == DialectMySQL {
			sb.WriteString(" () VALUES ()")
		} else {
			sb.WriteString(" DEFAULT VALUES")
		}
	} else {
		quoted := make([]string, len(columns))
		ph := make([]string, len(columns))
		for i, c := range columns {
			quoted[i] = d.QuoteIdent(c)
			ph[i] = d.Placeholder(i + 1)
		}
		sb.WriteString(" (")
		sb.WriteString(strings.Join(quoted, ", "))
		sb.WriteString(") VALUES (")
		sb.WriteString(strings.Join(ph, ", "))
		sb.WriteString(")")
	}

	if returning {
		sb.WriteString(" RETURNING *")
	}
	return sb.String()
}

// BuildUpdate returns "UPDATE t SET a = ?, b = ? WHERE pk = ?". The key is
// the last argument.
func BuildUpdate(d Dialect, table string, columns []string, pk string) string {
	sets := make([]string, len(columns))
	for i, c := range columns {
		sets[i] = d.QuoteIdent(c) + " = " + d.Placeholder(i+1)
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		d.QuoteIdent(table), strings.Join(sets, ", "), d.QuoteIdent(pk), d.Placeholder(len(columns)+1))
}

// BuildDelete returns "DELETE FROM t WHERE pk = ?".
func BuildDelete(d Dialect, table, pk string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = %s", d.QuoteIdent(table), d.QuoteIdent(pk), d.Placeholder(1))
}
