// Package db abstracts the key-value storage used by the deployer, so the
// state store can run on pebble in production and on an in-memory map in
// tests.
package db

import "errors"

// ErrKeyNotFound is returned by Get when the key does not exist.
var ErrKeyNotFound = errors.New("key not found")

// ErrConflict is returned by Commit when the transaction lost a write race.
var ErrConflict = errors.New("transaction conflict")

// Options are the options passed to a backend constructor.
type Options struct {
	Path string
}

// Database is a minimal transactional key-value store.
type Database interface {
	Reader
	// WriteTx starts a new write transaction.
	WriteTx() WriteTx
	// Close closes the database, releasing any held resources. For
	// file-backed databases this also releases the directory lock.
	Close() error
}

// Reader provides read-only access.
type Reader interface {
	// Get retrieves the value for the given key, or ErrKeyNotFound.
	Get(key []byte) ([]byte, error)
	// Iterate calls callback for each key-value pair with the given prefix,
	// in lexicographic key order, until callback returns false.
	Iterate(prefix []byte, callback func(key, value []byte) bool) error
}

// WriteTx is a set of writes applied atomically and durably on Commit.
type WriteTx interface {
	Reader
	// Set adds or updates a key-value pair.
	Set(key, value []byte) error
	// Delete removes a key. Deleting a missing key is not an error.
	Delete(key []byte) error
	// Commit applies the pending writes. The transaction cannot be used
	// afterwards.
	Commit() error
	// Discard drops the pending writes. Safe to call after Commit.
	Discard()
}
