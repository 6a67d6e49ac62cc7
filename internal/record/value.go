// Package record holds the typed values and ordered records that flow
// between the store, the query layer and the wire.
package record

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/koustreak/recordbase/internal/errs"
)

// Kind is the logical type of a value or column.
type Kind int

const (
	// KindNull is the null value, and the type of untyped (ANY) columns.
	KindNull Kind = iota
	KindInteger
	KindReal
	KindText
	KindBlob
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "Integer"
	case KindReal:
		return "Real"
	case KindText:
		return "Text"
	case KindBlob:
		return "Blob"
	default:
		return "Null"
	}
}

// Value is one typed column value. The zero Value is Null.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    []byte
}

func Null() Value              { return Value{} }
func Integer(i int64) Value    { return Value{kind: KindInteger, i: i} }
func Real(f float64) Value     { return Value{kind: KindReal, f: f} }
func Text(s string) Value      { return Value{kind: KindText, s: s} }
func Blob(b []byte) Value      { return Value{kind: KindBlob, b: b} }
func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsNull() bool   { return v.kind == KindNull }
func (v Value) Int() int64     { return v.i }
func (v Value) Float() float64 { return v.f }
func (v Value) Str() string    { return v.s }
func (v Value) Bytes() []byte  { return v.b }

// Arg returns the value in the form database drivers accept as a bound
// parameter.
func (v Value) Arg() any {
	switch v.kind {
	case KindInteger:
		return v.i
	case KindReal:
		return v.f
	case KindText:
		return v.s
	case KindBlob:
		return v.b
	default:
		return nil
	}
}

// Equal reports whether v and o have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindInteger:
		return v.i == o.i
	case KindReal:
		return v.f == o.f
	case KindText:
		return v.s == o.s
	case KindBlob:
		return bytes.Equal(v.b, o.b)
	default:
		return true
	}
}

// Key returns a string usable as a map key; equal values have equal keys.
func (v Value) Key() string {
	switch v.kind {
	case KindInteger:
		return "i:" + strconv.FormatInt(v.i, 10)
	case KindReal:
		return "r:" + strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindText:
		return "t:" + v.s
	case KindBlob:
		return "b:" + string(v.b)
	default:
		return "n:"
	}
}

// String renders the value the way it appears in URLs: integers in
// decimal, blobs as UUID text when they hold one, base64url otherwise.
func (v Value) String() string {
	switch v.kind {
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindReal:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindText:
		return v.s
	case KindBlob:
		if len(v.b) == 16 {
			if id, err := uuid.FromBytes(v.b); err == nil {
				return id.String()
			}
		}
		return base64.RawURLEncoding.EncodeToString(v.b)
	default:
		return "null"
	}
}

// MarshalJSON encodes blobs as unpadded base64url strings; non-finite
// reals become null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindInteger:
		return strconv.AppendInt(nil, v.i, 10), nil
	case KindReal:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(v.f)
	case KindText:
		return json.Marshal(v.s)
	case KindBlob:
		return json.Marshal(base64.RawURLEncoding.EncodeToString(v.b))
	default:
		return []byte("null"), nil
	}
}

// Parse converts URL or query-string text into a value of kind k.
// Untyped columns infer integer, then real, then text.
func Parse(s string, k Kind) (Value, error) {
	switch k {
	case KindInteger:
		i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return Value{}, errs.Newf(errs.ErrKindInvalidInput, "%q is not an integer", s)
		}
		return Integer(i), nil
	case KindReal:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return Value{}, errs.Newf(errs.ErrKindInvalidInput, "%q is not a number", s)
		}
		return Real(f), nil
	case KindText:
		return Text(s), nil
	case KindBlob:
		b, err := decodeBlob(s)
		if err != nil {
			return Value{}, err
		}
		return Blob(b), nil
	default:
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Integer(i), nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return Real(f), nil
		}
		return Text(s), nil
	}
}

// decodeBlob accepts canonical UUID text or base64url, padded or not.
func decodeBlob(s string) ([]byte, error) {
	if len(s) == 36 {
		if id, err := uuid.Parse(s); err == nil {
			return id[:], nil
		}
	}
	if b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "=")); err == nil {
		return b, nil
	}
	return nil, errs.Newf(errs.ErrKindInvalidInput, "%q is neither a UUID nor base64url", s)
}

// FromJSON decodes a JSON literal into a value of kind k.
func FromJSON(raw json.RawMessage, k Kind) (Value, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Null(), nil
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, errs.Wrap(errs.ErrKindInvalidInput, "malformed string", err)
		}
		if k == KindNull {
			return Text(s), nil
		}
		if k == KindReal || k == KindInteger {
			return Value{}, errs.Newf(errs.ErrKindInvalidInput, "expected %s, got string", k)
		}
		return Parse(s, k)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return Value{}, errs.Wrap(errs.ErrKindInvalidInput, "malformed boolean", err)
		}
		if k != KindInteger && k != KindNull {
			return Value{}, errs.Newf(errs.ErrKindInvalidInput, "expected %s, got boolean", k)
		}
		if b {
			return Integer(1), nil
		}
		return Integer(0), nil
	case '{', '[':
		return Value{}, errs.Newf(errs.ErrKindInvalidInput, "expected %s, got %s", k, jsonShape(raw[0]))
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return Value{}, errs.Wrap(errs.ErrKindInvalidInput, "malformed number", err)
		}
		switch k {
		case KindInteger:
			i, err := n.Int64()
			if err != nil {
				return Value{}, errs.Newf(errs.ErrKindInvalidInput, "%s is not an integer", n)
			}
			return Integer(i), nil
		case KindReal:
			f, err := n.Float64()
			if err != nil {
				return Value{}, errs.Newf(errs.ErrKindInvalidInput, "%s is not a number", n)
			}
			return Real(f), nil
		case KindNull:
			return Parse(n.String(), KindNull)
		default:
			return Value{}, errs.Newf(errs.ErrKindInvalidInput, "expected %s, got number", k)
		}
	}
}

func jsonShape(c byte) string {
	if c == '{' {
		return "object"
	}
	return "array"
}

// Coerce converts v into kind k where the conversion is lossless, e.g. an
// integer literal for a real column.
func Coerce(v Value, k Kind) (Value, error) {
	if v.kind == k || v.kind == KindNull || k == KindNull {
		return v, nil
	}
	switch {
	case v.kind == KindInteger && k == KindReal:
		return Real(float64(v.i)), nil
	case v.kind == KindText:
		return Parse(v.s, k)
	}
	return Value{}, errs.New(errs.ErrKindInvalidInput, fmt.Sprintf("cannot use %s as %s", v.kind, k))
}
