package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schema string

// DB wraps a database/sql handle on an SQLite file
type DB struct {
	*sql.DB

	// keeper holds one connection to an in-memory database for the DB's
	// lifetime. The pool discards a connection when a transaction's context
	// is cancelled, and an in-memory database lives only while a connection
	// to it is open.
	keeper *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// path ":memory:" gives a private in-memory database shared by the pool's
// connections.
func Open(ctx context.Context, path string) (*DB, error) {
	dsn, memory := dataSource(path)

	out := &DB{}
	if memory {
		keeper, err := sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		keeper.SetMaxOpenConns(1)
		keeper.SetConnMaxLifetime(0)
		keeper.SetConnMaxIdleTime(0)
		if err := keeper.PingContext(ctx); err != nil {
			keeper.Close()
			return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
		}
		out.keeper = keeper
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		out.closeKeeper()
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	out.DB = db

	// One writer at a time
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		out.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		out.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return out, nil
}

// dataSource builds the driver DSN. Each in-memory database gets a unique
// shared-cache name so separate Opens never see each other's data.
func dataSource(path string) (string, bool) {
	memory := path == ":memory:"

	dsn := "file:" + path
	if memory {
		dsn = "file:pocketflow-" + uuid.NewString() + "?mode=memory&cache=shared"
	}

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on&_busy_timeout=5000&_txlock=immediate&_journal_mode=WAL", memory
}

// Close closes the pool, then releases an in-memory database
func (db *DB) Close() error {
	err := db.DB.Close()
	db.closeKeeper()
	return err
}

func (db *DB) closeKeeper() {
	if db.keeper != nil {
		_ = db.keeper.Close()
	}
}

// Health checks the database connection health
func (db *DB) Health(ctx context.Context) error {
	return db.PingContext(ctx)
}
