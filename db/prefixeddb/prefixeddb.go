// Package prefixeddb wraps a db.Database so that all keys live under a
// fixed prefix. It lets several stores share one underlying database
// without key collisions.
package prefixeddb

import (
	"bytes"

	"github.com/zkgroups/deployer/db"
)

// PrefixedDatabase implements db.Database over a parent database, scoping
// every key under the given prefix.
type PrefixedDatabase struct {
	parent db.Database
	prefix []byte
}

var _ db.Database = (*PrefixedDatabase)(nil)

// NewPrefixedDatabase returns a view of parent where all keys are prefixed.
func NewPrefixedDatabase(parent db.Database, prefix []byte) *PrefixedDatabase {
	return &PrefixedDatabase{
		parent: parent,
		prefix: bytes.Clone(prefix),
	}
}

// Close is a no-op: the parent owns the underlying resources.
func (d *PrefixedDatabase) Close() error {
	return nil
}

func (d *PrefixedDatabase) Get(key []byte) ([]byte, error) {
	return d.parent.Get(append(bytes.Clone(d.prefix), key...))
}

func (d *PrefixedDatabase) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	full := append(bytes.Clone(d.prefix), prefix...)
	return d.parent.Iterate(full, func(key, value []byte) bool {
		return callback(key[len(d.prefix):], value)
	})
}

func (d *PrefixedDatabase) WriteTx() db.WriteTx {
	return &WriteTx{parent: d.parent.WriteTx(), prefix: d.prefix}
}

// WriteTx implements db.WriteTx scoped under the database prefix.
type WriteTx struct {
	parent db.WriteTx
	prefix []byte
}

var _ db.WriteTx = (*WriteTx)(nil)

func (tx *WriteTx) Get(key []byte) ([]byte, error) {
	return tx.parent.Get(append(bytes.Clone(tx.prefix), key...))
}

func (tx *WriteTx) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	full := append(bytes.Clone(tx.prefix), prefix...)
	return tx.parent.Iterate(full, func(key, value []byte) bool {
		return callback(key[len(tx.prefix):], value)
	})
}

func (tx *WriteTx) Set(key, value []byte) error {
	return tx.parent.Set(append(bytes.Clone(tx.prefix), key...), value)
}

func (tx *WriteTx) Delete(key []byte) error {
	return tx.parent.Delete(append(bytes.Clone(tx.prefix), key...))
}

func (tx *WriteTx) Commit() error {
	return tx.parent.Commit()
}

func (tx *WriteTx) Discard() {
	tx.parent.Discard()
}
