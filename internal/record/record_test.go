package record

import (
	"encoding/json"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/recordbase/internal/errs"
)

func TestRecord_MarshalKeepsColumnOrder(t *testing.T) {
	r := New([]string{"zeta", "alpha", "mid"}, []Value{Text("z"), Integer(1), Null()})

	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":"z","alpha":1,"mid":null}`, string(b))
}

func TestRecord_RelationRendering(t *testing.T) {
	r := New([]string{"id", "author"}, []Value{Integer(7), Integer(3)})
	r.Link("author")

	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Equal(t, `{"id":7,"author":{"id":3,"data":null}}`, string(b))

	r.SetRef("author", New([]string{"id", "name"}, []Value{Integer(3), Text("Ann")}))
	b, err = json.Marshal(r)
	require.NoError(t, err)
	assert.Equal(t, `{"id":7,"author":{"id":3,"data":{"id":3,"name":"Ann"}}}`, string(b))
}

func TestRecord_LinkSkipsNullReference(t *testing.T) {
	r := New([]string{"author"}, []Value{Null()})
	r.Link("author")

	_, ok := r.Ref("author")
	assert.False(t, ok)
}

func TestRecord_SetAndClone(t *testing.T) {
	r := New([]string{"a"}, []Value{Blob([]byte{1, 2})})
	c := r.Clone()
	c.Set("a", Integer(5))
	c.Set("b", Text("x"))

	v, _ := r.Get("a")
	assert.Equal(t, KindBlob, v.Kind())
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, []string{"a", "b"}, c.Columns())
}

func TestValue_MarshalJSON(t *testing.T) {
	id := uuid.Must(uuid.NewV7())

	tests := []struct {
		v    Value
		want string
	}{
		{Null(), `null`},
		{Integer(-4), `-4`},
		{Real(1.5), `1.5`},
		{Real(math.Inf(1)), `null`},
		{Text(`a"b`), `"a\"b"`},
		{Blob([]byte{0xfb, 0xff}), `"-_8"`},
		{Blob(id[:]), `"` + encodeRaw(id[:]) + `"`},
	}
	for _, tt := range tests {
		b, err := tt.v.MarshalJSON()
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(b))
	}
}

func TestParse(t *testing.T) {
	id := uuid.Must(uuid.NewV7())

	v, err := Parse(id.String(), KindBlob)
	require.NoError(t, err)
	assert.Equal(t, id[:], v.Bytes())

	v, err = Parse(encodeRaw(id[:]), KindBlob)
	require.NoError(t, err)
	assert.Equal(t, id[:], v.Bytes())
	assert.Equal(t, id.String(), v.String())

	v, err = Parse("42", KindInteger)
	require.NoError(t, err)
	assert.Equal(t, Integer(42), v)

	_, err = Parse("4x", KindInteger)
	assert.True(t, errs.IsInvalidInput(err))

	_, err = Parse("%%%", KindBlob)
	assert.True(t, errs.IsInvalidInput(err))

	v, err = Parse("2.5", KindNull)
	require.NoError(t, err)
	assert.Equal(t, Real(2.5), v)
}

func TestFromJSON(t *testing.T) {
	tests := []struct {
		raw     string
		kind    Kind
		want    Value
		wantErr bool
	}{
		{`12`, KindInteger, Integer(12), false},
		{`12`, KindReal, Real(12), false},
		{`1.5`, KindInteger, Value{}, true},
		{`"hi"`, KindText, Text("hi"), false},
		{`"hi"`, KindInteger, Value{}, true},
		{`true`, KindInteger, Integer(1), false},
		{`null`, KindText, Null(), false},
		{`{"a":1}`, KindText, Value{}, true},
		{`"AQI"`, KindBlob, Blob([]byte{1, 2}), false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := FromJSON(json.RawMessage(tt.raw), tt.kind)
			if tt.wantErr {
				assert.True(t, errs.IsInvalidInput(err))
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v", got)
		})
	}
}

func TestFromDriver(t *testing.T) {
	id := uuid.Must(uuid.NewV7())
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, Integer(3), FromDriver(int32(3), KindInteger))
	assert.Equal(t, Real(3), FromDriver(int64(3), KindReal))
	assert.Equal(t, Text("abc"), FromDriver([]byte("abc"), KindText))
	assert.Equal(t, Integer(17), FromDriver([]byte("17"), KindInteger))
	assert.Equal(t, Text(id.String()), FromDriver([16]byte(id), KindText))
	assert.Equal(t, KindBlob, FromDriver([16]byte(id), KindBlob).Kind())
	assert.Equal(t, Text("2024-05-01T10:00:00Z"), FromDriver(ts, KindText))
	assert.Equal(t, Integer(1), FromDriver(true, KindInteger))
	assert.True(t, FromDriver(nil, KindText).IsNull())
}

func TestFromDriver_PostgresTypes(t *testing.T) {
	tests := []struct {
		name string
		in   any
		kind Kind
		want Value
	}{
		{"numeric as real", pgtype.Numeric{Int: big.NewInt(1250), Exp: -2, Valid: true}, KindReal, Real(12.5)},
		{"numeric as integer", pgtype.Numeric{Int: big.NewInt(42), Valid: true}, KindInteger, Integer(42)},
		{"null numeric", pgtype.Numeric{}, KindReal, Null()},
		{"jsonb object", map[string]any{"a": 1.0}, KindText, Text(`{"a":1}`)},
		{"jsonb array", []any{"x", 2.0}, KindText, Text(`["x",2]`)},
		{"interval", pgtype.Interval{Microseconds: 1_000_000, Valid: true}, KindText, Text("00:00:01")},
		{"uuid", uuid.MustParse("0190c6a2-7b3e-7cc1-8f00-000000000001"), KindText, Text("0190c6a2-7b3e-7cc1-8f00-000000000001")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FromDriver(tt.in, tt.kind))
		})
	}
}

func TestValue_EqualAndKey(t *testing.T) {
	assert.True(t, Blob([]byte{1}).Equal(Blob([]byte{1})))
	assert.False(t, Integer(1).Equal(Real(1)))
	assert.NotEqual(t, Integer(1).Key(), Text("1").Key())
	assert.Equal(t, Text("x").Key(), Text("x").Key())
}

func TestCoerce(t *testing.T) {
	v, err := Coerce(Integer(2), KindReal)
	require.NoError(t, err)
	assert.Equal(t, Real(2), v)

	_, err = Coerce(Real(2.5), KindInteger)
	assert.True(t, errs.IsInvalidInput(err))
}

func encodeRaw(b []byte) string {
	s, _ := Blob(b).MarshalJSON()
	return string(s[1 : len(s)-1])
}
