// Package paging executes compiled list plans as bounded pages, resuming
// from opaque primary-key cursors.
package paging

import (
	"encoding/base64"
	"encoding/binary"
	"math"

	"github.com/koustreak/recordbase/internal/errs"
	"github.com/koustreak/recordbase/internal/record"
)

// Cursor tags identify the encoded key type.
const (
	tagInteger byte = 'i'
	tagBlob    byte = 'b'
	tagText    byte = 't'
	tagReal    byte = 'r'
)

// EncodeCursor wraps a primary-key value into an opaque token.
func EncodeCursor(v record.Value) string {
	var buf []byte
	switch v.Kind() {
	case record.KindInteger:
		buf = binary.BigEndian.AppendUint64([]byte{tagInteger}, uint64(v.Int()))
	case record.KindReal:
		buf = binary.BigEndian.AppendUint64([]byte{tagReal}, math.Float64bits(v.Float()))
	case record.KindText:
		buf = append([]byte{tagText}, v.Str()...)
	case record.KindBlob:
		buf = append([]byte{tagBlob}, v.Bytes()...)
	default:
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// DecodeCursor unwraps a token minted by EncodeCursor. The key kind must
// match pkKind unless the key column is untyped.
func DecodeCursor(token string, pkKind record.Kind) (record.Value, error) {
	buf, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(buf) == 0 {
		return record.Value{}, errs.New(errs.ErrKindInvalidFilter, "malformed cursor")
	}

	var v record.Value
	payload := buf[1:]
	switch buf[0] {
	case tagInteger:
		if len(payload) != 8 {
			return record.Value{}, errs.New(errs.ErrKindInvalidFilter, "malformed cursor")
		}
		v = record.Integer(int64(binary.BigEndian.Uint64(payload)))
	case tagReal:
		if len(payload) != 8 {
			return record.Value{}, errs.New(errs.ErrKindInvalidFilter, "malformed cursor")
		}
		v = record.Real(math.Float64frombits(binary.BigEndian.Uint64(payload)))
	case tagText:
		v = record.Text(string(payload))
	case tagBlob:
		v = record.Blob(append([]byte(nil), payload...))
	default:
		return record.Value{}, errs.New(errs.ErrKindInvalidFilter, "malformed cursor")
	}

	if pkKind != record.KindNull && v.Kind() != pkKind {
		return record.Value{}, errs.Newf(errs.ErrKindInvalidFilter, "cursor holds a %s key, table key is %s", v.Kind(), pkKind)
	}
	return v, nil
}
