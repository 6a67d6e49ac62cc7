package record

import (
	"bytes"
	"encoding/json"
)

// Record is an ordered mapping from column name to value.
type Record struct {
	cols []string
	vals []Value
	refs map[string]*Ref
}

// Ref is the rendering of a relation column: the referenced id and, when
// expanded and readable, the referenced row.
type Ref struct {
	ID   Value
	Data *Record
}

// New builds a record from parallel column and value slices.
func New(cols []string, vals []Value) *Record {
	return &Record{cols: cols, vals: vals}
}

// Len returns the number of columns.
func (r *Record) Len() int { return len(r.cols) }

// Columns returns the column names in order.
func (r *Record) Columns() []string { return r.cols }

// Values returns the values in column order.
func (r *Record) Values() []Value { return r.vals }

// Get returns the value stored under name.
func (r *Record) Get(name string) (Value, bool) {
	for i, c := range r.cols {
		if c == name {
			return r.vals[i], true
		}
	}
	return Value{}, false
}

// Set replaces the value for name, appending the column if absent.
func (r *Record) Set(name string, v Value) {
	for i, c := range r.cols {
		if c == name {
			r.vals[i] = v
			return
		}
	}
	r.cols = append(r.cols, name)
	r.vals = append(r.vals, v)
}

// Link marks name as a relation column. It renders as {"id", "data"};
// data stays null until SetRef attaches a row. Null ids are left as null.
func (r *Record) Link(name string) {
	v, ok := r.Get(name)
	if !ok || v.IsNull() {
		return
	}
	if r.refs == nil {
		r.refs = make(map[string]*Ref)
	}
	if _, exists := r.refs[name]; !exists {
		r.refs[name] = &Ref{ID: v}
	}
}

// SetRef attaches the expanded row for a linked relation column.
func (r *Record) SetRef(name string, data *Record) {
	r.Link(name)
	if ref, ok := r.refs[name]; ok {
		ref.Data = data
	}
}

// Ref returns the relation rendering for name, if linked.
func (r *Record) Ref(name string) (*Ref, bool) {
	ref, ok := r.refs[name]
	return ref, ok
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := &Record{
		cols: append([]string(nil), r.cols...),
		vals: make([]Value, len(r.vals)),
	}
	for i, v := range r.vals {
		if v.kind == KindBlob {
			v.b = append([]byte(nil), v.b...)
		}
		out.vals[i] = v
	}
	if len(r.refs) > 0 {
		out.refs = make(map[string]*Ref, len(r.refs))
		for k, ref := range r.refs {
			out.refs[k] = &Ref{ID: ref.ID, Data: ref.Data.Clone()}
		}
	}
	return out
}

// MarshalJSON encodes the record as a JSON object with columns in order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r.cols {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		var val []byte
		if ref, ok := r.refs[c]; ok {
			val, err = json.Marshal(ref)
		} else {
			val, err = r.vals[i].MarshalJSON()
		}
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON renders {"id": ..., "data": ...}.
func (f *Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID   Value   `json:"id"`
		Data *Record `json:"data"`
	}{f.ID, f.Data})
}
