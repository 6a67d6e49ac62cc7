package query

import (
	"strings"

	"github.com/koustreak/recordbase/internal/database"
	"github.com/koustreak/recordbase/internal/errs"
	"github.com/koustreak/recordbase/internal/record"
	"github.com/koustreak/recordbase/internal/schema"
)

// Op is a filter operator.
type Op string

const (
	OpEq   Op = "eq"
	OpNe   Op = "ne"
	OpLt   Op = "lt"
	OpLte  Op = "lte"
	OpGt   Op = "gt"
	OpGte  Op = "gte"
	OpLike Op = "like"
	OpIn   Op = "in"
	OpIs   Op = "is"
)

// sqlOps maps comparison operators onto the builder's allowlist.
var sqlOps = map[Op]string{
	OpEq:   "=",
	OpNe:   "<>",
	OpLt:   "<",
	OpLte:  "<=",
	OpGt:   ">",
	OpGte:  ">=",
	OpLike: "LIKE",
}

// Default page sizes.
const (
	DefaultLimit = 20
	MaxLimit     = 256
)

// Limits bounds page sizes.
type Limits struct {
	Default int
	Max     int
}

func (l Limits) resolve(requested *int) (int, error) {
	def, ceiling := l.Default, l.Max
	if def <= 0 {
		def = DefaultLimit
	}
	if ceiling <= 0 {
		ceiling = MaxLimit
	}
	if requested == nil {
		return min(def, ceiling), nil
	}
	if *requested <= 0 {
		return 0, errs.Newf(errs.ErrKindInvalidFilter, "limit must be positive, got %d", *requested)
	}
	return min(*requested, ceiling), nil
}

// Filter is one validated predicate. Values are already converted to the
// column's logical type.
type Filter struct {
	Column string
	Op     Op
	Value  record.Value   // comparison operand
	Values []record.Value // OpIn members
	Not    bool           // OpIs: IS NOT NULL
}

// Sort is one ordering term.
type Sort struct {
	Column string
	Desc   bool
}

// Plan is a compiled list request. It is immutable once returned.
type Plan struct {
	Table   *schema.TableDescriptor
	Filters []Filter
	Sort    []Sort // explicit terms only; paging appends the key
	Limit   int
	Cursor  string
	Offset  int
	// UseOffset marks the explicit LIMIT/OFFSET fallback, taken only when
	// the client sent an offset and no cursor.
	UseOffset bool
	Expand    []string
	Count     bool
}

// Compile validates raw against the table descriptor.
func Compile(desc *schema.TableDescriptor, raw *RawParams, limits Limits) (*Plan, error) {
	plan := &Plan{
		Table:  desc,
		Cursor: raw.Cursor,
		Expand: raw.Expand,
		Count:  raw.Count,
	}

	for _, rf := range raw.Filters {
		f, err := compileFilter(desc, rf)
		if err != nil {
			return nil, err
		}
		plan.Filters = append(plan.Filters, f)
	}

	seen := map[string]bool{}
	for _, term := range raw.Sort {
		s, err := compileSort(desc, term)
		if err != nil {
			return nil, err
		}
		if seen[s.Column] {
			return nil, errs.Newf(errs.ErrKindInvalidSort, "column %q sorted twice", s.Column)
		}
		seen[s.Column] = true
		plan.Sort = append(plan.Sort, s)
	}

	limit, err := limits.resolve(raw.Limit)
	if err != nil {
		return nil, err
	}
	plan.Limit = limit

	if raw.Offset != nil {
		if raw.Cursor != "" {
			return nil, errs.New(errs.ErrKindInvalidFilter, "cursor and offset are mutually exclusive")
		}
		if *raw.Offset < 0 {
			return nil, errs.Newf(errs.ErrKindInvalidFilter, "offset must not be negative, got %d", *raw.Offset)
		}
		plan.Offset = *raw.Offset
		plan.UseOffset = true
	}

	return plan, nil
}

func compileFilter(desc *schema.TableDescriptor, rf RawFilter) (Filter, error) {
	col, ok := desc.Column(rf.Column)
	if !ok {
		return Filter{}, errs.Newf(errs.ErrKindInvalidFilter, "unknown filter column %q", rf.Column)
	}

	op := Op(strings.ToLower(strings.TrimPrefix(rf.Op, "$")))
	f := Filter{Column: col.Name, Op: op}

	switch op {
	case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte:
		v, err := parseValue(col, rf.Value)
		if err != nil {
			return Filter{}, err
		}
		f.Value = v
	case OpLike:
		if col.Type != record.KindText && col.Type != record.KindNull {
			return Filter{}, errs.Newf(errs.ErrKindInvalidFilter, "like is not supported on %s column %q", col.Type, col.Name)
		}
		f.Value = record.Text(rf.Value)
	case OpIn:
		for _, part := range strings.Split(rf.Value, ",") {
			v, err := parseValue(col, part)
			if err != nil {
				return Filter{}, err
			}
			f.Values = append(f.Values, v)
		}
	case OpIs:
		switch strings.ToLower(rf.Value) {
		case "null":
		case "!null", "not null":
			f.Not = true
		default:
			return Filter{}, errs.Newf(errs.ErrKindInvalidFilter, "is accepts null or !null, got %q", rf.Value)
		}
	default:
		return Filter{}, errs.Newf(errs.ErrKindInvalidFilter, "unsupported operator %q", rf.Op)
	}
	return f, nil
}

func parseValue(col *schema.ColumnDescriptor, s string) (record.Value, error) {
	v, err := record.Parse(s, col.Type)
	if err != nil {
		return record.Value{}, errs.Wrap(errs.ErrKindInvalidFilter,
			"invalid value for column "+col.Name+": "+errs.AsError(err).Message, err)
	}
	return v, nil
}

func compileSort(desc *schema.TableDescriptor, term string) (Sort, error) {
	term = strings.TrimSpace(term)
	s := Sort{}
	switch {
	case strings.HasPrefix(term, "-"):
		s.Desc = true
		term = term[1:]
	case strings.HasPrefix(term, "+"):
		term = term[1:]
	}
	if term == "" {
		return Sort{}, errs.New(errs.ErrKindInvalidSort, "empty sort term")
	}
	col, ok := desc.Column(term)
	if !ok {
		return Sort{}, errs.Newf(errs.ErrKindInvalidSort, "unknown sort column %q", term)
	}
	s.Column = col.Name
	return s, nil
}

// Apply adds the plan's filters to b. Every operand is bound as an
// argument, including like patterns and set members.
func (p *Plan) Apply(b *database.SelectBuilder) *database.SelectBuilder {
	for _, f := range p.Filters {
		switch f.Op {
		case OpIn:
			args := make([]any, len(f.Values))
			for i, v := range f.Values {
				args[i] = v.Arg()
			}
			b.WhereIn(f.Column, args...)
		case OpIs:
			b.WhereNull(f.Column, f.Not)
		default:
			b.Where(f.Column, sqlOps[f.Op], f.Value.Arg())
		}
	}
	return b
}
