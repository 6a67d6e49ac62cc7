// Package sqlite is the embedded SQLite implementation of database.DB,
// backed by mattn/go-sqlite3.
//
// The driver opens two pools on the same file: a single-connection write
// pool (transactions start with BEGIN IMMEDIATE) and a multi-connection read
// pool. With WAL journaling, readers never block the writer and vice versa.
//
// Every connection gets the uuid_v7() and is_uuid_v7(blob) SQL functions so
// tables can declare time-ordered BLOB primary keys:
//
//	CREATE TABLE post (
//	  id    BLOB PRIMARY KEY NOT NULL CHECK(is_uuid_v7(id)) DEFAULT (uuid_v7()),
//	  title TEXT
//	) STRICT;
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/koustreak/recordbase/internal/database"
	"github.com/koustreak/recordbase/internal/database/stdsql"
)

// DriverName is the database/sql driver name registered by this package.
const DriverName = "sqlite3_recordbase"

// SQLite DSN parameters for production hardening.
const (
	defaultBusyTimeout = "5000" // 5 seconds
	defaultSynchronous = "NORMAL"
	defaultJournalMode = "WAL"
	defaultReadConns   = 4
)

var registerOnce sync.Once

func register() {
	registerOnce.Do(func() {
		sql.Register(DriverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				if err := conn.RegisterFunc("uuid_v7", newUUIDv7, false); err != nil {
					return err
				}
				return conn.RegisterFunc("is_uuid_v7", isUUIDv7, true)
			},
		})
	})
}

func newUUIDv7() ([]byte, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	return id[:], nil
}

func isUUIDv7(b []byte) bool {
	if len(b) != 16 {
		return false
	}
	id, err := uuid.FromBytes(b)
	return err == nil && id.Version() == 7
}

// Driver is a SQLite implementation of database.DB.
// It is safe for concurrent use by multiple goroutines.
type Driver struct {
	writeDB *sql.DB
	readDB  *sql.DB
	reader  *stdsql.Querier
	writer  *stdsql.Querier
}

// New opens the write and read pools for cfg.DSN (a file path) and pings
// both before returning.
func New(ctx context.Context, cfg *database.Config) (*Driver, error) {
	register()

	writeDB, err := open(ctx, cfg, "write")
	if err != nil {
		return nil, err
	}
	readDB, err := open(ctx, cfg, "read")
	if err != nil {
		_ = writeDB.Close()
		return nil, err
	}

	return &Driver{
		writeDB: writeDB,
		readDB:  readDB,
		reader:  stdsql.NewQuerier(readDB, mapError),
		writer:  stdsql.NewQuerier(writeDB, mapError),
	}, nil
}

func open(ctx context.Context, cfg *database.Config, mode string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, buildDSN(cfg.DSN, mode))
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("open sqlite (%s)", mode))
	}

	switch mode {
	case "write":
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	case "read":
		n := int(cfg.MaxConns)
		if n <= 0 {
			n = defaultReadConns
		}
		db.SetMaxOpenConns(n)
		db.SetMaxIdleConns(n)
	}
	if cfg.MaxConnLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	} else {
		db.SetConnMaxLifetime(time.Hour)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, mapError(err, fmt.Sprintf("ping sqlite (%s)", mode))
	}
	return db, nil
}

// buildDSN constructs a SQLite DSN with hardened parameters.
func buildDSN(path, mode string) string {
	params := url.Values{}
	params.Set("_journal_mode", defaultJournalMode)
	params.Set("_busy_timeout", defaultBusyTimeout)
	params.Set("_synchronous", defaultSynchronous)
	params.Set("_foreign_keys", "on")

	if mode == "write" {
		params.Set("_txlock", "immediate")
	}

	return path + "?" + params.Encode()
}

// --- database.DB implementation ---

func (d *Driver) Dialect() database.Dialect { return database.DialectSQLite }

// Ping verifies both pools are usable.
func (d *Driver) Ping(ctx context.Context) error {
	if err := d.writeDB.PingContext(ctx); err != nil {
		return mapError(err, "ping failed")
	}
	if err := d.readDB.PingContext(ctx); err != nil {
		return mapError(err, "ping failed")
	}
	return nil
}

// Close closes both pools.
func (d *Driver) Close() error {
	rerr := d.readDB.Close()
	werr := d.writeDB.Close()
	if werr != nil {
		return mapError(werr, "close failed")
	}
	return mapError(rerr, "close failed")
}

// Query runs on the read pool.
func (d *Driver) Query(ctx context.Context, query string, args ...any) (database.Rows, error) {
	return d.reader.Query(ctx, query, args...)
}

// QueryRow runs on the read pool.
func (d *Driver) QueryRow(ctx context.Context, query string, args ...any) database.Row {
	return d.reader.QueryRow(ctx, query, args...)
}

// Exec runs on the write pool, outside any transaction.
func (d *Driver) Exec(ctx context.Context, query string, args ...any) (database.Result, error) {
	return d.writer.Exec(ctx, query, args...)
}

// Begin starts an IMMEDIATE transaction on the single writer connection.
func (d *Driver) Begin(ctx context.Context) (database.Tx, error) {
	return stdsql.Begin(ctx, d.writeDB, mapError)
}

// SchemaVersion returns PRAGMA schema_version, which SQLite bumps on every
// schema change.
func (d *Driver) SchemaVersion(ctx context.Context) (int64, error) {
	var v int64
	if err := d.readDB.QueryRowContext(ctx, "PRAGMA schema_version").Scan(&v); err != nil {
		return 0, mapError(err, "read schema version")
	}
	return v, nil
}
