// Package pebbledb implements db.Database on top of cockroachdb/pebble.
// Commits are synced to the WAL, so a committed transaction survives a
// process crash. Pebble also holds a lock on the database directory, which
// the state store uses to detect a second concurrent opener.
package pebbledb

import (
	"errors"
	"fmt"
	"strings"
	"syscall"

	"github.com/cockroachdb/pebble"
	"github.com/zkgroups/deployer/db"
)

// ErrDatabaseLocked reports that the database directory lock is already held,
// by this process or another one.
var ErrDatabaseLocked = errors.New("database directory is locked")

// PebbleDB implements db.Database.
type PebbleDB struct {
	pdb *pebble.DB
}

var _ db.Database = (*PebbleDB)(nil)

// New opens (or creates) a pebble database at opts.Path. If another process
// or database handle already holds the directory lock, the returned error
// matches ErrDatabaseLocked.
func New(opts db.Options) (*PebbleDB, error) {
	pdb, err := pebble.Open(opts.Path, &pebble.Options{})
	if err != nil {
		if isLockHeld(err) {
			return nil, fmt.Errorf("%w: %s: %w", ErrDatabaseLocked, opts.Path, err)
		}
		return nil, fmt.Errorf("open pebble database at %s: %w", opts.Path, err)
	}
	return &PebbleDB{pdb: pdb}, nil
}

// isLockHeld matches the two errors pebble's vfs can return, unwrapped, when
// the LOCK file cannot be acquired: the flock errno when another process
// holds it, and an opaque error when this process already does.
func isLockHeld(err error) bool {
	if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EACCES) {
		return true
	}
	return strings.Contains(err.Error(), "lock held by")
}

func (d *PebbleDB) Close() error {
	return d.pdb.Close()
}

func (d *PebbleDB) Get(key []byte) ([]byte, error) {
	value, closer, err := d.pdb.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, db.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(value))
	copy(out, value)
	if err := closer.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *PebbleDB) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	iter, err := d.pdb.NewIter(iterOptions(prefix))
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, iter.Close())
	}()
	for iter.First(); iter.Valid(); iter.Next() {
		key := append([]byte{}, iter.Key()...)
		value := append([]byte{}, iter.Value()...)
		if !callback(key, value) {
			break
		}
	}
	return err
}

func (d *PebbleDB) WriteTx() db.WriteTx {
	return &WriteTx{batch: d.pdb.NewIndexedBatch()}
}

// WriteTx implements db.WriteTx over an indexed pebble batch, so reads
// within the transaction observe its own pending writes.
type WriteTx struct {
	batch *pebble.Batch
	done  bool
}

var _ db.WriteTx = (*WriteTx)(nil)

func (tx *WriteTx) Get(key []byte) ([]byte, error) {
	value, closer, err := tx.batch.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, db.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(value))
	copy(out, value)
	if err := closer.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func (tx *WriteTx) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	iter, err := tx.batch.NewIter(iterOptions(prefix))
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, iter.Close())
	}()
	for iter.First(); iter.Valid(); iter.Next() {
		key := append([]byte{}, iter.Key()...)
		value := append([]byte{}, iter.Value()...)
		if !callback(key, value) {
			break
		}
	}
	return err
}

func (tx *WriteTx) Set(key, value []byte) error {
	return tx.batch.Set(key, value, nil)
}

func (tx *WriteTx) Delete(key []byte) error {
	return tx.batch.Delete(key, nil)
}

func (tx *WriteTx) Commit() error {
	if tx.done {
		return fmt.Errorf("cannot commit pebble tx: already committed or discarded")
	}
	tx.done = true
	// Sync: a committed record must survive a crash.
	return tx.batch.Commit(pebble.Sync)
}

func (tx *WriteTx) Discard() {
	if tx.done {
		return
	}
	tx.done = true
	_ = tx.batch.Close()
}

// iterOptions bounds an iterator to keys with the given prefix.
func iterOptions(prefix []byte) *pebble.IterOptions {
	if len(prefix) == 0 {
		return &pebble.IterOptions{}
	}
	return &pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	}
}

// prefixUpperBound returns the smallest key greater than every key with the
// given prefix, or nil if no such key exists (all 0xff).
func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte{}, prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}
