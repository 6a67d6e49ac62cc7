package query

import (
	"net/url"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/recordbase/internal/database"
	"github.com/koustreak/recordbase/internal/errs"
	"github.com/koustreak/recordbase/internal/record"
	"github.com/koustreak/recordbase/internal/schema"
)

func postTable() *schema.TableDescriptor {
	return &schema.TableDescriptor{
		Name: "post",
		Columns: []schema.ColumnDescriptor{
			{Name: "id", Type: record.KindBlob, IsPrimaryKey: true, HasDefault: true},
			{Name: "title", Type: record.KindText, Nullable: true},
			{Name: "views", Type: record.KindInteger},
			{Name: "score", Type: record.KindReal},
			{Name: "author", Type: record.KindInteger, Nullable: true},
		},
		PrimaryKey: 0,
	}
}

func compile(t *testing.T, qs string) (*Plan, error) {
	t.Helper()
	v, err := url.ParseQuery(qs)
	require.NoError(t, err)
	raw, err := ParseParams(v)
	if err != nil {
		return nil, err
	}
	return Compile(postTable(), raw, Limits{})
}

func TestParseParams(t *testing.T) {
	v, err := url.ParseQuery("filter[title][like]=%25go%25&filter[views]=3&sort=-views,%2Btitle&limit=5&expand=author&count=true&ignored=1")
	require.NoError(t, err)

	raw, err := ParseParams(v)
	require.NoError(t, err)
	assert.ElementsMatch(t, []RawFilter{
		{Column: "title", Op: "like", Value: "%go%"},
		{Column: "views", Op: "eq", Value: "3"},
	}, raw.Filters)
	assert.Equal(t, []string{"-views", "+title"}, raw.Sort)
	require.NotNil(t, raw.Limit)
	assert.Equal(t, 5, *raw.Limit)
	assert.Equal(t, []string{"author"}, raw.Expand)
	assert.True(t, raw.Count)
	assert.Nil(t, raw.Offset)
}

func TestParseParams_Malformed(t *testing.T) {
	for _, qs := range []string{"filter[]=1", "filter[a]x=1", "filter[a][]=1", "limit=ten", "count=maybe", "offset=x"} {
		v, err := url.ParseQuery(qs)
		require.NoError(t, err)
		_, err = ParseParams(v)
		assert.True(t, errs.IsInvalidFilter(err), qs)
	}
}

func TestCompile_Filters(t *testing.T) {
	id := uuid.Must(uuid.NewV7())
	plan, err := compile(t, "filter[id][$eq]="+id.String()+"&filter[views][gte]=10&filter[author][in]=1,2,3&filter[title][is]=!null")
	require.NoError(t, err)

	byCol := map[string]Filter{}
	for _, f := range plan.Filters {
		byCol[f.Column] = f
	}
	assert.Equal(t, id[:], byCol["id"].Value.Bytes())
	assert.Equal(t, record.Integer(10), byCol["views"].Value)
	assert.Len(t, byCol["author"].Values, 3)
	assert.True(t, byCol["title"].Not)
	assert.Equal(t, DefaultLimit, plan.Limit)
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		qs   string
		kind errs.ErrKind
	}{
		{"filter[nope]=1", errs.ErrKindInvalidFilter},
		{"filter[views][regex]=1", errs.ErrKindInvalidFilter},
		{"filter[views]=abc", errs.ErrKindInvalidFilter},
		{"filter[author][in]=1,x", errs.ErrKindInvalidFilter},
		{"filter[views][like]=1", errs.ErrKindInvalidFilter},
		{"filter[title][is]=maybe", errs.ErrKindInvalidFilter},
		{"filter[id]=not-a-uuid!", errs.ErrKindInvalidFilter},
		{"sort=nope", errs.ErrKindInvalidSort},
		{"sort=-", errs.ErrKindInvalidSort},
		{"sort=title,-title", errs.ErrKindInvalidSort},
		{"limit=0", errs.ErrKindInvalidFilter},
		{"offset=-1", errs.ErrKindInvalidFilter},
		{"offset=10&cursor=abc", errs.ErrKindInvalidFilter},
	}
	for _, tt := range tests {
		t.Run(tt.qs, func(t *testing.T) {
			_, err := compile(t, tt.qs)
			require.Error(t, err)
			assert.Equal(t, tt.kind, errs.KindOf(err))
		})
	}
}

func TestCompile_SortAndLimits(t *testing.T) {
	plan, err := compile(t, "order=-views,title&limit=1000")
	require.NoError(t, err)
	assert.Equal(t, []Sort{{Column: "views", Desc: true}, {Column: "title"}}, plan.Sort)
	assert.Equal(t, MaxLimit, plan.Limit)

	raw := &RawParams{}
	plan, err = Compile(postTable(), raw, Limits{Default: 5, Max: 50})
	require.NoError(t, err)
	assert.Equal(t, 5, plan.Limit)
}

func TestCompile_PlusSortIsAscending(t *testing.T) {
	// An unescaped '+' arrives as a space after query decoding.
	for _, qs := range []string{"sort=+title", "sort=%2Btitle", "sort=title"} {
		plan, err := compile(t, qs)
		require.NoError(t, err, qs)
		assert.Equal(t, []Sort{{Column: "title"}}, plan.Sort, qs)
	}
}

func TestCompile_OffsetFallbackIsExplicit(t *testing.T) {
	plan, err := compile(t, "offset=40")
	require.NoError(t, err)
	assert.True(t, plan.UseOffset)
	assert.Equal(t, 40, plan.Offset)

	plan, err = compile(t, "cursor=abc")
	require.NoError(t, err)
	assert.False(t, plan.UseOffset)
}

// User-supplied values must only ever reach the store as bound arguments.
func TestApply_ValuesNeverAppearInSQL(t *testing.T) {
	hostile := []string{
		"'; DROP TABLE post; --",
		"%' OR '1'='1",
		"x\" OR \"\"=\"",
		"_%\\",
	}

	for _, h := range hostile {
		for _, d := range []database.Dialect{database.DialectSQLite, database.DialectPostgres, database.DialectMySQL} {
			qs := url.Values{}
			qs.Set("filter[title][like]", h)
			qs.Add("filter[title][ne]", h)
			qs.Set("filter[title][in]", h+","+h)

			raw, err := ParseParams(qs)
			require.NoError(t, err)
			plan, err := Compile(postTable(), raw, Limits{})
			require.NoError(t, err)

			sql, args, err := plan.Apply(database.Select("post", d)).Build()
			require.NoError(t, err)
			assert.NotContains(t, sql, h)
			assert.Contains(t, args, h)
			assert.Len(t, args, 4)
		}
	}
}
