package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/recordbase/internal/database"
	"github.com/koustreak/recordbase/internal/errs"
)

const testSchema = `
CREATE TABLE author (
  id   INTEGER PRIMARY KEY,
  name TEXT NOT NULL UNIQUE
) STRICT;

CREATE TABLE post (
  id     BLOB PRIMARY KEY NOT NULL CHECK(is_uuid_v7(id)) DEFAULT (uuid_v7()),
  title  TEXT,
  author INTEGER REFERENCES author
) STRICT;
`

func openTest(t *testing.T) *Driver {
	t.Helper()
	ctx := context.Background()

	cfg := database.DefaultConfig(database.DriverSQLite, filepath.Join(t.TempDir(), "test.db"))
	d, err := New(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	_, err = d.Exec(ctx, testSchema)
	require.NoError(t, err)
	return d
}

func TestDriver_Introspection(t *testing.T) {
	d := openTest(t)
	ctx := context.Background()

	tables, err := d.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"author", "post"}, tables)

	author, err := d.InspectTable(ctx, "author")
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, author.PrimaryKey)
	assert.True(t, author.Column("id").AutoIncrement)
	assert.False(t, author.Column("id").Nullable)
	assert.True(t, author.Column("name").IsUnique)
	assert.False(t, author.Column("name").Nullable)

	post, err := d.InspectTable(ctx, "post")
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, post.PrimaryKey)
	assert.False(t, post.Column("id").AutoIncrement)
	require.NotNil(t, post.Column("id").Default)
	require.Len(t, post.ForeignKeys, 1)
	assert.Equal(t, database.ForeignKey{Column: "author", RefTable: "author", RefColumn: "id"}, *post.ForeignKeys[0])

	_, err = d.InspectTable(ctx, "missing")
	assert.True(t, errs.IsNotFound(err))
}

func TestDriver_UUIDv7Default(t *testing.T) {
	d := openTest(t)
	ctx := context.Background()

	_, err := d.Exec(ctx, `INSERT INTO post (title) VALUES (?)`, "hello")
	require.NoError(t, err)

	var id []byte
	require.NoError(t, d.QueryRow(ctx, `SELECT id FROM post`).Scan(&id))
	u, err := uuid.FromBytes(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), u.Version())

	// Non-v7 keys are rejected by the CHECK constraint.
	v4 := uuid.New()
	_, err = d.Exec(ctx, `INSERT INTO post (id, title) VALUES (?, ?)`, v4[:], "bad")
	require.Error(t, err)
	assert.True(t, errs.IsInvalidInput(err))
}

func TestDriver_TransactionsAndErrors(t *testing.T) {
	d := openTest(t)
	ctx := context.Background()

	tx, err := d.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Exec(ctx, `INSERT INTO author (name) VALUES (?)`, "Ann")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	var n int
	require.NoError(t, d.QueryRow(ctx, `SELECT COUNT(*) FROM author`).Scan(&n))
	assert.Equal(t, 0, n)

	res, err := d.Exec(ctx, `INSERT INTO author (name) VALUES (?)`, "Ann")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.LastInsertID)

	_, err = d.Exec(ctx, `INSERT INTO author (name) VALUES (?)`, "Ann")
	assert.True(t, errs.IsConflict(err))

	var name string
	err = d.QueryRow(ctx, `SELECT name FROM author WHERE id = ?`, 42).Scan(&name)
	assert.True(t, errs.IsNotFound(err))
}

func TestDriver_SchemaVersionBumps(t *testing.T) {
	d := openTest(t)
	ctx := context.Background()

	before, err := d.SchemaVersion(ctx)
	require.NoError(t, err)

	_, err = d.Exec(ctx, `CREATE TABLE tag (id INTEGER PRIMARY KEY)`)
	require.NoError(t, err)

	after, err := d.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Greater(t, after, before)
}

func TestClassifyCode(t *testing.T) {
	tests := []struct {
		code sqlite3.ErrNo
		ext  sqlite3.ErrNoExtended
		want errs.ErrKind
	}{
		{sqlite3.ErrBusy, 0, errs.ErrKindStoreUnavailable},
		{sqlite3.ErrConstraint, sqlite3.ErrConstraintUnique, errs.ErrKindConflict},
		{sqlite3.ErrConstraint, sqlite3.ErrConstraintNotNull, errs.ErrKindInvalidInput},
		{sqlite3.ErrError, 0, errs.ErrKindQueryFailed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyCode(tt.code, tt.ext), tt.code.Error())
	}
}

func TestMapError_Nil(t *testing.T) {
	assert.NoError(t, mapError(nil, "x"))
}
