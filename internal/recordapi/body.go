package recordapi

import (
	"bytes"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/koustreak/recordbase/internal/errs"
	"github.com/koustreak/recordbase/internal/record"
	"github.com/koustreak/recordbase/internal/schema"
)

// row is a decoded request body: columns in table order with their values.
type row struct {
	cols []string
	vals []record.Value
}

func (r *row) get(name string) (record.Value, bool) {
	for i, c := range r.cols {
		if c == name {
			return r.vals[i], true
		}
	}
	return record.Value{}, false
}

func (r *row) args() []any {
	out := make([]any, len(r.vals))
	for i, v := range r.vals {
		out[i] = v.Arg()
	}
	return out
}

// decodeRow parses a JSON object against desc. Unknown columns are rejected.
// A relation column may be sent as its plain value or as {"id": value}.
func decodeRow(desc *schema.TableDescriptor, raw json.RawMessage) (*row, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "%q record must be a JSON object", desc.Name)
	}

	for name := range fields {
		if _, ok := desc.Column(name); !ok {
			return nil, errs.Newf(errs.ErrKindInvalidInput, "unknown column %q on table %q", name, desc.Name)
		}
	}

	r := &row{}
	for _, c := range desc.Columns {
		f, ok := fields[c.Name]
		if !ok {
			continue
		}
		if _, isRel := desc.Relation(c.Name); isRel {
			f = unwrapRef(f)
		}
		v, err := record.FromJSON(f, c.Type)
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "column "+c.Name+": "+errs.AsError(err).Message, err)
		}
		if v.IsNull() && !c.Nullable && !c.IsPrimaryKey {
			return nil, errs.Newf(errs.ErrKindInvalidInput, "column %q must not be null", c.Name)
		}
		r.cols = append(r.cols, c.Name)
		r.vals = append(r.vals, v)
	}
	return r, nil
}

// unwrapRef turns {"id": v, ...} into v.
func unwrapRef(raw json.RawMessage) json.RawMessage {
	if t := bytes.TrimSpace(raw); len(t) == 0 || t[0] != '{' {
		return raw
	}
	var ref struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(raw, &ref); err != nil || ref.ID == nil {
		return raw
	}
	return ref.ID
}

// decodeRows accepts a single object or an array of objects.
func decodeRows(desc *schema.TableDescriptor, raw json.RawMessage) ([]*row, error) {
	t := bytes.TrimSpace(raw)
	if len(t) == 0 || t[0] != '[' {
		r, err := decodeRow(desc, raw)
		if err != nil {
			return nil, err
		}
		return []*row{r}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(t, &items); err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "malformed record list", err)
	}
	if len(items) == 0 {
		return nil, errs.New(errs.ErrKindInvalidInput, "empty record list")
	}
	rows := make([]*row, len(items))
	for i, item := range items {
		r, err := decodeRow(desc, item)
		if err != nil {
			return nil, err
		}
		rows[i] = r
	}
	return rows, nil
}

// assignKey fills a generated UUIDv7 primary key when the row has none.
func assignKey(desc *schema.TableDescriptor, r *row) error {
	pk := desc.PK()
	if !pk.GeneratedKey() {
		return nil
	}
	if v, ok := r.get(pk.Name); ok && !v.IsNull() {
		return nil
	}

	id, err := uuid.NewV7()
	if err != nil {
		return errs.Wrap(errs.ErrKindUnknown, "failed to generate record id", err)
	}
	v := record.Text(id.String())
	if pk.Type == record.KindBlob {
		v = record.Blob(id[:])
	}

	for i, c := range r.cols {
		if c == pk.Name {
			r.vals[i] = v
			return nil
		}
	}
	// Keep table order: the key goes where its column sits.
	cols := make([]string, 0, len(r.cols)+1)
	vals := make([]record.Value, 0, len(r.vals)+1)
	for _, c := range desc.Columns {
		if c.Name == pk.Name {
			cols, vals = append(cols, pk.Name), append(vals, v)
		} else if existing, ok := r.get(c.Name); ok {
			cols, vals = append(cols, c.Name), append(vals, existing)
		}
	}
	r.cols, r.vals = cols, vals
	return nil
}
