package record

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// FromDriver converts a value scanned into *any by one of the store drivers
// into a Value, using the column kind to settle ambiguous representations
// (mysql returns text and decimals as []byte, pgx returns uuids as [16]byte).
// Driver specific types such as pgtype.Numeric are reduced through their
// driver.Valuer, and decoded json documents are re-encoded as json text.
func FromDriver(v any, k Kind) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case int64:
		return fromInt(x, k)
	case int32:
		return fromInt(int64(x), k)
	case int16:
		return fromInt(int64(x), k)
	case int8:
		return fromInt(int64(x), k)
	case int:
		return fromInt(int64(x), k)
	case uint64:
		return fromInt(int64(x), k)
	case uint32:
		return fromInt(int64(x), k)
	case uint16:
		return fromInt(int64(x), k)
	case uint8:
		return fromInt(int64(x), k)
	case float64:
		return Real(x)
	case float32:
		return Real(float64(x))
	case bool:
		if x {
			return Integer(1)
		}
		return Integer(0)
	case string:
		return fromText(x, k)
	case []byte:
		if k == KindBlob || k == KindNull {
			return Blob(append([]byte(nil), x...))
		}
		return fromText(string(x), k)
	case [16]byte:
		if k == KindText {
			return Text(uuid.UUID(x).String())
		}
		return Blob(x[:])
	case time.Time:
		return Text(x.UTC().Format(time.RFC3339Nano))
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return Text(fmt.Sprint(x))
		}
		return Text(string(b))
	case driver.Valuer:
		dv, err := x.Value()
		if err != nil {
			return fromText(fmt.Sprint(x), k)
		}
		if _, again := dv.(driver.Valuer); again {
			return fromText(fmt.Sprint(dv), k)
		}
		return FromDriver(dv, k)
	case fmt.Stringer:
		return fromText(x.String(), k)
	default:
		return fromText(fmt.Sprint(x), k)
	}
}

func fromInt(i int64, k Kind) Value {
	if k == KindReal {
		return Real(float64(i))
	}
	return Integer(i)
}

func fromText(s string, k Kind) Value {
	switch k {
	case KindInteger:
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Integer(i)
		}
	case KindReal:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return Real(f)
		}
	}
	return Text(s)
}
