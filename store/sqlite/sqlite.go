/*
Package sqlite provides a SQLite-backed implementation of the ledger KV store.

PURPOSE:
  Implements ledger.KV and ledger.TxKV on a single table keyed by
  (collection, key). The ledger stores one blob, but the adapter is a
  general collection store like the in-memory one.

KEY TABLES:
  kv_entries: one row per (collection, key), value is an opaque BLOB

CONCURRENCY:
  Uses sync.RWMutex for thread-safety within the process. Across
  processes, transactions begin IMMEDIATE so the read-compare-write done
  inside WithTx holds the write lock from the first read. A busy timeout
  makes a second writer wait instead of failing at once.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  m := ledger.NewManager(store)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/expense-ledger/ledger"
)

// Store implements ledger.TxKV using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if strings.Contains(dbPath, ":memory:") {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv_entries (
		collection TEXT NOT NULL,
		key TEXT NOT NULL,
		value BLOB NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (collection, key)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// executor is satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// KV OPERATIONS
// =============================================================================

func (s *Store) Get(ctx context.Context, collection, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return get(ctx, s.db, collection, key)
}

func (s *Store) Set(ctx context.Context, collection, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return set(ctx, s.db, collection, key, value)
}

func (s *Store) Delete(ctx context.Context, collection, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return del(ctx, s.db, collection, key)
}

func (s *Store) Clear(ctx context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clearCollection(ctx, s.db, collection)
}

func (s *Store) GetAll(ctx context.Context, collection string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAll(ctx, s.db, collection)
}

func get(ctx context.Context, db executor, collection, key string) ([]byte, bool, error) {
	var value []byte
	err := db.QueryRowContext(ctx,
		`SELECT value FROM kv_entries WHERE collection = ? AND key = ?`,
		collection, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s/%s: %w", collection, key, err)
	}
	return value, true, nil
}

func set(ctx context.Context, db executor, collection, key string, value []byte) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO kv_entries (collection, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(collection, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, collection, key, value, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to set %s/%s: %w", collection, key, err)
	}
	return nil
}

func del(ctx context.Context, db executor, collection, key string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM kv_entries WHERE collection = ? AND key = ?`, collection, key)
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, key, err)
	}
	return nil
}

func clearCollection(ctx context.Context, db executor, collection string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM kv_entries WHERE collection = ?`, collection)
	if err != nil {
		return fmt.Errorf("failed to clear %s: %w", collection, err)
	}
	return nil
}

func getAll(ctx context.Context, db executor, collection string) ([][]byte, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT value FROM kv_entries WHERE collection = ? ORDER BY key`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	defer rows.Close()

	result := [][]byte{}
	for rows.Next() {
		var value []byte
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		result = append(result, value)
	}
	return result, rows.Err()
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(kv ledger.KV) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) Get(ctx context.Context, collection, key string) ([]byte, bool, error) {
	return get(ctx, ts.tx, collection, key)
}

func (ts *txStore) Set(ctx context.Context, collection, key string, value []byte) error {
	return set(ctx, ts.tx, collection, key, value)
}

func (ts *txStore) Delete(ctx context.Context, collection, key string) error {
	return del(ctx, ts.tx, collection, key)
}

func (ts *txStore) Clear(ctx context.Context, collection string) error {
	return clearCollection(ctx, ts.tx, collection)
}

func (ts *txStore) GetAll(ctx context.Context, collection string) ([][]byte, error) {
	return getAll(ctx, ts.tx, collection)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM kv_entries")
	return err
}
