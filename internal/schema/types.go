package schema

import (
	"strings"

	"github.com/koustreak/recordbase/internal/database"
	"github.com/koustreak/recordbase/internal/record"
)

// ColumnDescriptor describes one exposed column.
type ColumnDescriptor struct {
	Name         string
	Type         record.Kind
	Nullable     bool
	HasDefault   bool // includes engine-assigned keys
	IsPrimaryKey bool
	DeclaredType string // as reported by the engine
}

// GeneratedKey reports whether inserts that omit this column get a UUIDv7
// assigned by the record API: blob and text keys without a store default.
func (c *ColumnDescriptor) GeneratedKey() bool {
	return c.IsPrimaryKey && !c.HasDefault && (c.Type == record.KindBlob || c.Type == record.KindText)
}

// Relation is a single-column foreign key usable for expansion. Its name is
// the local column name.
type Relation struct {
	Name         string
	LocalColumn  string
	TargetTable  string
	TargetColumn string
}

// TableDescriptor is the typed contract of an exposed table. Descriptors are
// immutable once published by the Registry.
type TableDescriptor struct {
	Name       string
	Columns    []ColumnDescriptor
	PrimaryKey int // index into Columns, -1 when the table has no usable key
	Relations  []Relation
}

// Column returns the named column.
func (t *TableDescriptor) Column(name string) (*ColumnDescriptor, bool) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// PK returns the primary key column, or nil.
func (t *TableDescriptor) PK() *ColumnDescriptor {
	if t.PrimaryKey < 0 || t.PrimaryKey >= len(t.Columns) {
		return nil
	}
	return &t.Columns[t.PrimaryKey]
}

// Relation returns the relation with the given name.
func (t *TableDescriptor) Relation(name string) (*Relation, bool) {
	for i := range t.Relations {
		if t.Relations[i].Name == name {
			return &t.Relations[i], true
		}
	}
	return nil, false
}

// ColumnNames returns the column names in declaration order.
func (t *TableDescriptor) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Kinds returns the column kinds in declaration order.
func (t *TableDescriptor) Kinds() []record.Kind {
	kinds := make([]record.Kind, len(t.Columns))
	for i, c := range t.Columns {
		kinds[i] = c.Type
	}
	return kinds
}

// exactTypes covers postgres and mysql names that the SQLite affinity rules
// would misclassify or leave untyped.
var exactTypes = map[string]record.Kind{
	"boolean":                     record.KindInteger,
	"bool":                        record.KindInteger,
	"bit":                         record.KindInteger,
	"serial":                      record.KindInteger,
	"bigserial":                   record.KindInteger,
	"smallserial":                 record.KindInteger,
	"year":                        record.KindInteger,
	"numeric":                     record.KindReal,
	"decimal":                     record.KindReal,
	"float":                       record.KindReal,
	"money":                       record.KindReal,
	"uuid":                        record.KindText,
	"json":                        record.KindText,
	"jsonb":                       record.KindText,
	"date":                        record.KindText,
	"time":                        record.KindText,
	"datetime":                    record.KindText,
	"timestamp":                   record.KindText,
	"timestamp with time zone":    record.KindText,
	"timestamp without time zone": record.KindText,
	"time with time zone":         record.KindText,
	"time without time zone":      record.KindText,
	"interval":                    record.KindText,
	"point":                       record.KindText,
	"enum":                        record.KindText,
	"set":                         record.KindText,
	"inet":                        record.KindText,
	"cidr":                        record.KindText,
	"bytea":                       record.KindBlob,
	"binary":                      record.KindBlob,
	"varbinary":                   record.KindBlob,
}

// LogicalType maps a declared column type to a logical kind. Exact engine
// names are checked first, then SQLite's column affinity rules. ANY, an
// empty declaration or anything unrecognised is untyped (KindNull).
func LogicalType(declared string) record.Kind {
	t := strings.ToLower(strings.TrimSpace(declared))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	if k, ok := exactTypes[t]; ok {
		return k
	}

	switch {
	case t == "" || t == "any":
		return record.KindNull
	case strings.Contains(t, "int"):
		return record.KindInteger
	case strings.Contains(t, "char"), strings.Contains(t, "clob"), strings.Contains(t, "text"):
		return record.KindText
	case strings.Contains(t, "blob"):
		return record.KindBlob
	case strings.Contains(t, "real"), strings.Contains(t, "floa"), strings.Contains(t, "doub"):
		return record.KindReal
	default:
		return record.KindNull
	}
}

// describe converts store metadata into a descriptor. Relations are filled
// in by the registry once the exposed set is known.
func describe(info *database.TableInfo) *TableDescriptor {
	d := &TableDescriptor{Name: info.Name, PrimaryKey: -1}
	singlePK := len(info.PrimaryKey) == 1

	for _, c := range info.Columns {
		isPK := singlePK && c.Name == info.PrimaryKey[0]
		if isPK {
			d.PrimaryKey = len(d.Columns)
		}
		d.Columns = append(d.Columns, ColumnDescriptor{
			Name:         c.Name,
			Type:         LogicalType(c.DataType),
			Nullable:     c.Nullable && !isPK,
			HasDefault:   c.Default != nil || c.AutoIncrement,
			IsPrimaryKey: isPK,
			DeclaredType: c.DataType,
		})
	}
	return d
}

// Record converts one scanned row into a record. Columns the descriptor
// does not know keep the driver's representation, untyped.
func (t *TableDescriptor) Record(cols []string, raw []any) *record.Record {
	vals := make([]record.Value, len(cols))
	for i, name := range cols {
		kind := record.KindNull
		if c, ok := t.Column(name); ok {
			kind = c.Type
		}
		vals[i] = record.FromDriver(raw[i], kind)
	}
	return record.New(append([]string(nil), cols...), vals)
}

// Records converts a materialised result set.
func (t *TableDescriptor) Records(rs *database.ResultSet) []*record.Record {
	out := make([]*record.Record, len(rs.Rows))
	for i, row := range rs.Rows {
		out[i] = t.Record(rs.Columns, row)
	}
	return out
}
