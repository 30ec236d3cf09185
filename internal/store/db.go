package store

import (
	"database/sql"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection backing the chat cache.
type DB struct {
	*sql.DB
	journalMode string
}

func init() {
	// cache_size has no DSN parameter, and database/sql pools connections;
	// the hook applies it to each one as it opens.
	sql.Register("sqlite3_chatcache", &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			_, err := conn.Exec("PRAGMA cache_size = -2048", nil)
			return err
		},
	})
}

// Open creates a SQLite connection for the cache at path. Write-ahead
// journaling is requested so readers can run under snapshot isolation while a
// writer is active; if the filesystem rejects WAL, SQLite falls back to a
// rollback journal and the granted mode is kept as-is. Foreign keys are
// enforced and the page cache is capped at 2 MiB.
func Open(path string) (*DB, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_auto_vacuum=incremental"
	db, err := sql.Open("sqlite3_chatcache", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal mode: %w", err)
	}
	return &DB{DB: db, journalMode: mode}, nil
}

// JournalMode reports the journal mode the engine actually granted
// ("wal", or "delete" on filesystems that refuse WAL).
func (db *DB) JournalMode() string { return db.journalMode }

// txRetries bounds transparent retries of contended local writes.
const txRetries = 3

// withTx runs fn inside a transaction, retrying on SQLITE_BUSY a fixed number
// of times before surfacing a TransactionError. fn must not block on anything
// but the database; network calls happen strictly outside transactions.
func (db *DB) withTx(fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = db.runTx(fn)
		if err == nil || !isContention(err) || attempt >= txRetries {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
}

func (db *DB) runTx(fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return classify(err)
	}
	if err := tx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

func nowMillis() int64 { return time.Now().UnixMilli() }
