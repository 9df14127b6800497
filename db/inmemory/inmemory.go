// Package inmemory implements an ephemeral db.Database for tests.
package inmemory

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/zkgroups/deployer/db"
)

// InMemoryDB implements db.Database over a mutex-guarded map.
type InMemoryDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ db.Database = (*InMemoryDB)(nil)

// New returns a new in-memory database. Options are ignored.
func New(_ db.Options) (*InMemoryDB, error) {
	return &InMemoryDB{data: make(map[string][]byte)}, nil
}

func (d *InMemoryDB) Close() error {
	return nil
}

func (d *InMemoryDB) Get(key []byte) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	value, ok := d.data[string(key)]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return bytes.Clone(value), nil
}

func (d *InMemoryDB) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	d.mu.RLock()
	snapshot := make(map[string][]byte, len(d.data))
	for k, v := range d.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			snapshot[k] = bytes.Clone(v)
		}
	}
	d.mu.RUnlock()
	return iterateSorted(snapshot, callback)
}

func (d *InMemoryDB) WriteTx() db.WriteTx {
	return &WriteTx{
		db:     d,
		writes: make(map[string]*[]byte),
	}
}

// WriteTx buffers writes until Commit. A nil pending value marks a delete.
type WriteTx struct {
	db     *InMemoryDB
	writes map[string]*[]byte
	done   bool
}

var _ db.WriteTx = (*WriteTx)(nil)

func (tx *WriteTx) Get(key []byte) ([]byte, error) {
	if pending, ok := tx.writes[string(key)]; ok {
		if pending == nil {
			return nil, db.ErrKeyNotFound
		}
		return bytes.Clone(*pending), nil
	}
	return tx.db.Get(key)
}

func (tx *WriteTx) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	tx.db.mu.RLock()
	merged := make(map[string][]byte, len(tx.db.data))
	for k, v := range tx.db.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			merged[k] = bytes.Clone(v)
		}
	}
	tx.db.mu.RUnlock()

	for k, v := range tx.writes {
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = bytes.Clone(*v)
	}
	return iterateSorted(merged, callback)
}

func (tx *WriteTx) Set(key, value []byte) error {
	valCopy := bytes.Clone(value)
	tx.writes[string(key)] = &valCopy
	return nil
}

func (tx *WriteTx) Delete(key []byte) error {
	tx.writes[string(key)] = nil
	return nil
}

func (tx *WriteTx) Commit() error {
	if tx.done {
		return fmt.Errorf("cannot commit inmemory tx: already committed or discarded")
	}
	tx.done = true

	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	for key, value := range tx.writes {
		if value == nil {
			delete(tx.db.data, key)
			continue
		}
		tx.db.data[key] = bytes.Clone(*value)
	}
	return nil
}

func (tx *WriteTx) Discard() {
	tx.done = true
	tx.writes = nil
}

func iterateSorted(entries map[string][]byte, callback func(key, value []byte) bool) error {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !callback([]byte(k), entries[k]) {
			break
		}
	}
	return nil
}
