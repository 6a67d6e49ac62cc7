package recordapi

import (
	"context"
	"encoding/json"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/recordbase/internal/access"
	"github.com/koustreak/recordbase/internal/changes"
	"github.com/koustreak/recordbase/internal/database"
	"github.com/koustreak/recordbase/internal/database/sqlite"
	"github.com/koustreak/recordbase/internal/errs"
	"github.com/koustreak/recordbase/internal/record"
	"github.com/koustreak/recordbase/internal/schema"
	"github.com/koustreak/recordbase/internal/subscription"
)

const fixtureSchema = `
CREATE TABLE author (
  id   INTEGER PRIMARY KEY,
  name TEXT NOT NULL
) STRICT;

CREATE TABLE post (
  id     BLOB PRIMARY KEY NOT NULL CHECK(is_uuid_v7(id)) DEFAULT (uuid_v7()),
  title  TEXT,
  author INTEGER REFERENCES author,
  owner  TEXT
) STRICT;

CREATE TABLE tag (
  id    TEXT PRIMARY KEY NOT NULL,
  label TEXT NOT NULL
) STRICT;
`

type env struct {
	svc *Service
	db  database.DB
}

var anon = access.AnonymousPrincipal

func newEnv(t *testing.T, auth access.Authorizer) *env {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.New(ctx, database.DefaultConfig(database.DriverSQLite, filepath.Join(t.TempDir(), "records.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(ctx, fixtureSchema)
	require.NoError(t, err)

	reg := schema.NewRegistry(db, schema.Options{})
	require.NoError(t, reg.Reload(ctx))

	capture := changes.NewCapture(db, nil)
	hub := subscription.NewHub(subscription.HubOptions{})
	capture.AddSink(hub)
	t.Cleanup(hub.Close)

	return &env{svc: New(db, reg, capture, hub, Options{Authorizer: auth}), db: db}
}

func (e *env) create(t *testing.T, table, body string) record.Value {
	t.Helper()
	id, err := e.svc.Create(context.Background(), anon, table, json.RawMessage(body))
	require.NoError(t, err)
	return id
}

func next(t *testing.T, s *subscription.Subscription) changes.Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		require.True(t, ok, "stream closed: %v", s.Err())
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event")
		return changes.Event{}
	}
}

func TestCreateReadExpand(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	author := e.create(t, "author", `{"name":"Ann"}`)
	assert.Equal(t, record.Integer(1), author)

	post := e.create(t, "post", `{"title":"hello","author":1}`)
	require.Equal(t, record.KindBlob, post.Kind())
	u, err := uuid.FromBytes(post.Bytes())
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), u.Version())

	rec, err := e.svc.Read(ctx, anon, "post", post.String(), []string{"author"})
	require.NoError(t, err)
	b, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"id":"`+encodeBlob(post)+`","title":"hello","author":{"id":1,"data":{"id":1,"name":"Ann"}},"owner":null}`,
		string(b))

	rec, err = e.svc.Read(ctx, anon, "post", post.String(), nil)
	require.NoError(t, err)
	b, _ = json.Marshal(rec)
	assert.Contains(t, string(b), `"author":{"id":1,"data":null}`)

	_, err = e.svc.Read(ctx, anon, "post", uuid.Must(uuid.NewV7()).String(), nil)
	assert.True(t, errs.IsNotFound(err))
	_, err = e.svc.Read(ctx, anon, "author", "abc", nil)
	assert.True(t, errs.IsInvalidInput(err))
	_, err = e.svc.Read(ctx, anon, "post", post.String(), []string{"title"})
	assert.True(t, errs.IsNotFound(err))
	_, err = e.svc.Read(ctx, anon, "missing", "1", nil)
	assert.True(t, errs.IsNotFound(err))
}

func encodeBlob(v record.Value) string {
	b, _ := json.Marshal(v)
	var s string
	_ = json.Unmarshal(b, &s)
	return s
}

func TestCreate_GeneratesTextKeys(t *testing.T) {
	e := newEnv(t, nil)
	id := e.create(t, "tag", `{"label":"go"}`)
	require.Equal(t, record.KindText, id.Kind())
	u, err := uuid.Parse(id.Str())
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), u.Version())

	explicit := e.create(t, "tag", `{"id":"fixed","label":"db"}`)
	assert.Equal(t, record.Text("fixed"), explicit)
}

func TestCreate_RejectsBadPayloads(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	for _, body := range []string{
		`[]`,
		`"text"`,
		`{"nope":1}`,
		`{"name":null}`,
		`{"name":{"x":1}}`,
	} {
		_, err := e.svc.Create(ctx, anon, "author", json.RawMessage(body))
		assert.True(t, errs.IsInvalidInput(err), body)
	}

	// A store constraint surfaces with its kind and table context.
	_, err := e.svc.Create(ctx, anon, "tag", json.RawMessage(`{"id":"x"}`))
	assert.True(t, errs.IsInvalidInput(err))
	e.create(t, "tag", `{"id":"x","label":"a"}`)
	_, err = e.svc.Create(ctx, anon, "tag", json.RawMessage(`{"id":"x","label":"b"}`))
	require.True(t, errs.IsConflict(err))
	assert.Contains(t, errs.AsError(err).Message, "create tag")
}

func TestCreateBulk_IsAtomic(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	sub, err := e.svc.Subscribe(ctx, anon, "author", TableWildcard)
	require.NoError(t, err)
	defer sub.Close()

	ids, err := e.svc.CreateBulk(ctx, anon, "author", json.RawMessage(`[{"name":"a"},{"name":"b"},{"name":"c"}]`))
	require.NoError(t, err)
	assert.Equal(t, []record.Value{record.Integer(1), record.Integer(2), record.Integer(3)}, ids)
	for i := uint64(1); i <= 3; i++ {
		ev := next(t, sub)
		assert.Equal(t, changes.KindInsert, ev.Kind)
		assert.Equal(t, i, ev.Seq)
	}

	_, err = e.svc.CreateBulk(ctx, anon, "author", json.RawMessage(`[{"name":"d"},{"id":1,"name":"dup"}]`))
	assert.True(t, errs.IsConflict(err))

	page, err := e.svc.List(ctx, anon, "author", url.Values{"count": {"true"}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), *page.TotalCount)
}

// Subscribe to a record, then update and delete it: exactly two events,
// both carrying the updated value.
func TestSubscribe_RecordUpdateThenDelete(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	id := e.create(t, "post", `{"title":"draft"}`)
	sub, err := e.svc.Subscribe(ctx, anon, "post", id.String())
	require.NoError(t, err)
	defer sub.Close()

	e.create(t, "post", `{"title":"unrelated"}`)
	updated, err := e.svc.Update(ctx, anon, "post", id.String(), json.RawMessage(`{"title":"final"}`))
	require.NoError(t, err)
	title, _ := updated.Get("title")
	assert.Equal(t, "final", title.Str())
	require.NoError(t, e.svc.Delete(ctx, anon, "post", id.String()))

	got := []changes.Event{next(t, sub), next(t, sub)}
	assert.Equal(t, changes.KindUpdate, got[0].Kind)
	assert.Equal(t, changes.KindDelete, got[1].Kind)
	assert.Less(t, got[0].Seq, got[1].Seq)
	for _, ev := range got {
		v, _ := ev.Row.Get("title")
		assert.Equal(t, "final", v.Str())
	}
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event %v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	_, err = e.svc.Read(ctx, anon, "post", id.String(), nil)
	assert.True(t, errs.IsNotFound(err))
	_, err = e.svc.Subscribe(ctx, anon, "post", id.String())
	assert.True(t, errs.IsNotFound(err))
}

func TestUpdateAndDeleteErrors(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	e.create(t, "author", `{"name":"Ann"}`)

	_, err := e.svc.Update(ctx, anon, "author", "1", json.RawMessage(`{"id":2}`))
	assert.True(t, errs.IsInvalidInput(err))
	_, err = e.svc.Update(ctx, anon, "author", "1", json.RawMessage(`{}`))
	assert.True(t, errs.IsInvalidInput(err))
	_, err = e.svc.Update(ctx, anon, "author", "9", json.RawMessage(`{"name":"x"}`))
	assert.True(t, errs.IsNotFound(err))
	assert.True(t, errs.IsNotFound(e.svc.Delete(ctx, anon, "author", "9")))

	rec, err := e.svc.Update(ctx, anon, "author", "1", json.RawMessage(`{"id":1,"name":"Bo"}`))
	require.NoError(t, err)
	name, _ := rec.Get("name")
	assert.Equal(t, "Bo", name.Str())
}

func TestList_PagesWithCursor(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		e.create(t, "author", `{"name":"n"}`)
	}

	page, err := e.svc.List(ctx, anon, "author", url.Values{"limit": {"2"}})
	require.NoError(t, err)
	require.Len(t, page.Rows, 2)
	require.NotNil(t, page.NextCursor)

	page, err = e.svc.List(ctx, anon, "author", url.Values{"limit": {"2"}, "cursor": {*page.NextCursor}})
	require.NoError(t, err)
	id, _ := page.Rows[0].Get("id")
	assert.Equal(t, int64(3), id.Int())

	_, err = e.svc.List(ctx, anon, "author", url.Values{"filter[nope]": {"1"}})
	assert.True(t, errs.IsInvalidFilter(err))
	_, err = e.svc.List(ctx, anon, "author", url.Values{"expand": {"missing"}})
	assert.True(t, errs.IsNotFound(err))
}

func TestAccessPolicy(t *testing.T) {
	policy := access.NewPolicy([]access.Rule{
		{Table: "author", Read: []string{access.Everyone}},
		{Table: "post", Read: []string{access.Authenticated}, Write: []string{access.Authenticated}, OwnerColumn: "owner"},
	})
	e := newEnv(t, policy)
	ctx := context.Background()
	alice := access.Principal{ID: "alice"}
	bob := access.Principal{ID: "bob"}
	admin := access.Principal{ID: "root", Admin: true}

	_, err := e.svc.Create(ctx, anon, "author", json.RawMessage(`{"name":"Ann"}`))
	assert.True(t, errs.IsAccessDenied(err))
	_, err = e.svc.Create(ctx, admin, "author", json.RawMessage(`{"name":"Ann"}`))
	require.NoError(t, err)

	mine, err := e.svc.Create(ctx, alice, "post", json.RawMessage(`{"title":"a","owner":"alice","author":1}`))
	require.NoError(t, err)
	_, err = e.svc.Create(ctx, bob, "post", json.RawMessage(`{"title":"b","owner":"bob"}`))
	require.NoError(t, err)

	page, err := e.svc.List(ctx, alice, "post", url.Values{"count": {"true"}, "expand": {"author"}})
	require.NoError(t, err)
	require.Len(t, page.Rows, 1)
	assert.Equal(t, int64(1), *page.TotalCount)
	ref, ok := page.Rows[0].Ref("author")
	require.True(t, ok)
	assert.NotNil(t, ref.Data)

	_, err = e.svc.Read(ctx, bob, "post", mine.String(), nil)
	assert.True(t, errs.IsAccessDenied(err))
	_, err = e.svc.List(ctx, anon, "post", nil)
	assert.True(t, errs.IsAccessDenied(err))
	_, err = e.svc.Read(ctx, alice, "tag", "x", nil)
	assert.True(t, errs.IsAccessDenied(err))

	page, err = e.svc.List(ctx, admin, "post", nil)
	require.NoError(t, err)
	assert.Len(t, page.Rows, 2)
}

func TestSchema(t *testing.T) {
	e := newEnv(t, nil)
	doc, err := e.svc.Schema(context.Background(), anon, "author", schema.ModeInsert)
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, doc.Required)
}
