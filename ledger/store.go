/*
store.go - Persistence interface for the ledger aggregate

PURPOSE:
  Defines the boundary between the ledger and whatever key-value substrate
  holds it. The ledger only ever reads and writes one blob, but the
  interface is the general collection/key store the adapters provide.

KEY INTERFACES:
  KV:   Get / Set / Delete / Clear / GetAll over named collections
  TxKV: KV plus WithTx, making a read-compare-write atomic
  Pinger: optional health check for stores with a connection

WHOLE-AGGREGATE WRITES:
  The Manager writes the entire State under (Collection, StateKey) on every
  mutation. There are no partial writes. With a TxKV the revision check and
  the write happen inside one transaction, so two writers cannot both win.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory for tests and the demo server
  - store/sqlite/sqlite.go: SQLite, one row per (collection, key)

SEE ALSO:
  - manager.go: the only caller
*/
package ledger

import "context"

// =============================================================================
// KV - Interface for the persistent store adapter
// =============================================================================

// KV is a collection-scoped key-value store. Values are opaque bytes.
type KV interface {
	// Get returns the value and true, or nil and false if the key is absent.
	Get(ctx context.Context, collection, key string) ([]byte, bool, error)

	// Set overwrites any existing value.
	Set(ctx context.Context, collection, key string, value []byte) error

	// Delete is a no-op when the key is absent.
	Delete(ctx context.Context, collection, key string) error

	// Clear removes every key in the collection.
	Clear(ctx context.Context, collection string) error

	// GetAll returns every value in the collection, ordered by key.
	GetAll(ctx context.Context, collection string) ([][]byte, error)
}

// TxKV extends KV with transactions.
// If fn returns an error nothing it wrote is kept.
type TxKV interface {
	KV
	WithTx(ctx context.Context, fn func(kv KV) error) error
}

// Pinger is implemented by stores that can check their backing connection.
type Pinger interface {
	Ping(ctx context.Context) error
}
