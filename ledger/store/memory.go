// Package store provides in-memory KV implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/expense-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{collections: make(map[string]map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, collection, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.getLocked(collection, key)
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, collection, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(collection, key, value)
	return nil
}

func (m *Memory) Delete(_ context.Context, collection, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections[collection], key)
	return nil
}

func (m *Memory) Clear(_ context.Context, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, collection)
	return nil
}

func (m *Memory) GetAll(_ context.Context, collection string) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAllLocked(collection), nil
}

// Values are copied in and out so callers can't alias stored bytes.
func (m *Memory) getLocked(collection, key string) ([]byte, bool) {
	v, ok := m.collections[collection][key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

func (m *Memory) setLocked(collection, key string, value []byte) {
	c, ok := m.collections[collection]
	if !ok {
		c = make(map[string][]byte)
		m.collections[collection] = c
	}
	c[key] = append([]byte(nil), value...)
}

func (m *Memory) getAllLocked(collection string) [][]byte {
	c := m.collections[collection]
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := make([][]byte, 0, len(keys))
	for _, k := range keys {
		result = append(result, append([]byte(nil), c[k]...))
	}
	return result
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(_ context.Context, fn func(ledger.KV) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm}); err != nil {
		tm.collections = snapshot
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() map[string]map[string][]byte {
	out := make(map[string]map[string][]byte, len(tm.collections))
	for name, c := range tm.collections {
		cp := make(map[string][]byte, len(c))
		for k, v := range c {
			cp[k] = v
		}
		out[name] = cp
	}
	return out
}

// txMemoryView runs against the parent while WithTx holds its lock.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) Get(_ context.Context, collection, key string) ([]byte, bool, error) {
	v, ok := tv.parent.getLocked(collection, key)
	return v, ok, nil
}

func (tv *txMemoryView) Set(_ context.Context, collection, key string, value []byte) error {
	tv.parent.setLocked(collection, key, value)
	return nil
}

func (tv *txMemoryView) Delete(_ context.Context, collection, key string) error {
	delete(tv.parent.collections[collection], key)
	return nil
}

func (tv *txMemoryView) Clear(_ context.Context, collection string) error {
	delete(tv.parent.collections, collection)
	return nil
}

func (tv *txMemoryView) GetAll(_ context.Context, collection string) ([][]byte, error) {
	return tv.parent.getAllLocked(collection), nil
}
