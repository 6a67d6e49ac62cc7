package paging

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/recordbase/internal/database"
	"github.com/koustreak/recordbase/internal/database/sqlite"
	"github.com/koustreak/recordbase/internal/errs"
	"github.com/koustreak/recordbase/internal/query"
	"github.com/koustreak/recordbase/internal/record"
	"github.com/koustreak/recordbase/internal/schema"
)

type fixture struct {
	db     *sqlite.Driver
	engine *Engine
	desc   *schema.TableDescriptor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.New(ctx, database.DefaultConfig(database.DriverSQLite, filepath.Join(t.TempDir(), "paging.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(ctx, `CREATE TABLE item (
		id   BLOB PRIMARY KEY NOT NULL CHECK(is_uuid_v7(id)) DEFAULT (uuid_v7()),
		text TEXT,
		n    INTEGER NOT NULL
	) STRICT`)
	require.NoError(t, err)

	reg := schema.NewRegistry(db, schema.Options{})
	require.NoError(t, reg.Reload(ctx))
	desc, err := reg.Describe("item")
	require.NoError(t, err)

	return &fixture{db: db, engine: NewEngine(db, Options{}), desc: desc}
}

func (f *fixture) insert(t *testing.T, text string, n int) {
	t.Helper()
	_, err := f.db.Exec(context.Background(), `INSERT INTO item (text, n) VALUES (?, ?)`, text, n)
	require.NoError(t, err)
}

func (f *fixture) page(t *testing.T, qs string) (*Page, error) {
	t.Helper()
	v, err := url.ParseQuery(qs)
	require.NoError(t, err)
	raw, err := query.ParseParams(v)
	require.NoError(t, err)
	plan, err := query.Compile(f.desc, raw, query.Limits{})
	if err != nil {
		return nil, err
	}
	return f.engine.Page(context.Background(), plan)
}

func ns(rows []*record.Record) []int64 {
	out := make([]int64, len(rows))
	for i, r := range rows {
		v, _ := r.Get("n")
		out[i] = v.Int()
	}
	return out
}

func TestPage_SortedSmallPageHasNoCursor(t *testing.T) {
	f := newFixture(t)
	f.insert(t, "b", 1)
	f.insert(t, "a", 2)

	page, err := f.page(t, "sort=%2Btext")
	require.NoError(t, err)
	require.Len(t, page.Rows, 2)

	first, _ := page.Rows[0].Get("text")
	second, _ := page.Rows[1].Get("text")
	assert.Equal(t, "a", first.Str())
	assert.Equal(t, "b", second.Str())
	assert.Nil(t, page.NextCursor)
	assert.Nil(t, page.TotalCount)
}

func TestPage_CursorWalk(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 25; i++ {
		f.insert(t, fmt.Sprintf("row %d", i), i)
	}

	first, err := f.page(t, "limit=20")
	require.NoError(t, err)
	require.Len(t, first.Rows, 20)
	require.NotNil(t, first.NextCursor)

	second, err := f.page(t, "limit=20&cursor="+*first.NextCursor)
	require.NoError(t, err)
	assert.Len(t, second.Rows, 5)
	assert.Nil(t, second.NextCursor)

	// Newest first, every row exactly once.
	var want []int64
	for i := 24; i >= 0; i-- {
		want = append(want, int64(i))
	}
	assert.Equal(t, want, append(ns(first.Rows), ns(second.Rows)...))
}

func TestPage_CursorStableUnderInsertsAndDeletes(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 10; i++ {
		f.insert(t, "x", i)
	}

	first, err := f.page(t, "limit=4")
	require.NoError(t, err)
	require.NotNil(t, first.NextCursor)
	cursor := *first.NextCursor

	before, err := f.page(t, "limit=4&cursor="+cursor)
	require.NoError(t, err)

	// A newer row sorts ahead of the cursor and must not shift the page.
	f.insert(t, "new", 100)
	after, err := f.page(t, "limit=4&cursor="+cursor)
	require.NoError(t, err)
	assert.Equal(t, ns(before.Rows), ns(after.Rows))

	// Deleting the anchor row leaves the cursor usable.
	last, _ := first.Rows[3].Get("id")
	_, err = f.db.Exec(context.Background(), `DELETE FROM item WHERE id = ?`, last.Arg())
	require.NoError(t, err)
	afterDelete, err := f.page(t, "limit=4&cursor="+cursor)
	require.NoError(t, err)
	assert.Equal(t, ns(before.Rows), ns(afterDelete.Rows))
}

func TestPage_EmptyResult(t *testing.T) {
	f := newFixture(t)

	page, err := f.page(t, "filter[n][gt]=5")
	require.NoError(t, err)
	assert.Empty(t, page.Rows)
	assert.Nil(t, page.NextCursor)
}

func TestPage_CountAndFilters(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 6; i++ {
		f.insert(t, "x", i)
	}

	page, err := f.page(t, "filter[n][gte]=2&limit=2&count=true")
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 4}, ns(page.Rows))
	require.NotNil(t, page.TotalCount)
	assert.Equal(t, int64(4), *page.TotalCount)

	next, err := f.page(t, "filter[n][gte]=2&limit=2&count=true&cursor="+*page.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2}, ns(next.Rows))
	assert.Equal(t, int64(4), *next.TotalCount, "count ignores the cursor")
}

func TestPage_OffsetFallback(t *testing.T) {
	f := newFixture(t)
	f.insert(t, "a", 0)
	f.insert(t, "b", 1)
	f.insert(t, "c", 2)

	page, err := f.page(t, "sort=text&offset=1&limit=1")
	require.NoError(t, err)
	require.Len(t, page.Rows, 1)
	v, _ := page.Rows[0].Get("text")
	assert.Equal(t, "b", v.Str())
	assert.Nil(t, page.NextCursor, "non-key sorts never mint cursors")
}

func TestPage_CursorRequiresKeyOrdering(t *testing.T) {
	f := newFixture(t)
	f.insert(t, "a", 0)

	cursor := EncodeCursor(record.Blob(make([]byte, 16)))
	_, err := f.page(t, "sort=text&cursor="+cursor)
	assert.True(t, errs.IsInvalidSort(err))

	_, err = f.page(t, "sort=-id&cursor="+cursor)
	assert.NoError(t, err)
}

func TestDecodeCursor(t *testing.T) {
	c := EncodeCursor(record.Integer(42))
	v, err := DecodeCursor(c, record.KindInteger)
	require.NoError(t, err)
	assert.Equal(t, record.Integer(42), v)

	_, err = DecodeCursor(c, record.KindBlob)
	assert.True(t, errs.IsInvalidFilter(err))

	_, err = DecodeCursor("!!", record.KindBlob)
	assert.True(t, errs.IsInvalidFilter(err))

	_, err = DecodeCursor(EncodeCursor(record.Text("abc"))[:1], record.KindText)
	assert.True(t, errs.IsInvalidFilter(err))
}
