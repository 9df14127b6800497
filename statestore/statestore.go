// Package statestore persists deployment progress. Each deployment name maps
// to one DeploymentRecord; writes are committed synchronously so a crash
// between steps never leaves a record claiming work that did not happen.
package statestore

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/zkgroups/deployer/db"
	"github.com/zkgroups/deployer/db/pebbledb"
	"github.com/zkgroups/deployer/db/prefixeddb"
	"github.com/zkgroups/deployer/types"
)

var recordPrefix = []byte("record/")

// ConcurrentDeploymentError reports that another process already holds the
// state store for this deployment. Concurrent runs under one deployment
// name are not supported.
type ConcurrentDeploymentError struct {
	Path  string
	Cause error
}

func (e *ConcurrentDeploymentError) Error() string {
	return fmt.Sprintf("deployment state at %s is in use by another process: %v", e.Path, e.Cause)
}

func (e *ConcurrentDeploymentError) Unwrap() error {
	return e.Cause
}

// Store persists deployment records in a key-value database.
type Store struct {
	db    db.Database
	owned db.Database // set by Open, closed by Close
}

// New wraps an already-open database. The caller keeps ownership of the
// database handle, so Close leaves it open.
func New(database db.Database) *Store {
	return &Store{db: prefixeddb.NewPrefixedDatabase(database, recordPrefix)}
}

// Open opens (or creates) the on-disk store at path. The underlying
// database holds an exclusive directory lock, so a second concurrent open
// fails with ConcurrentDeploymentError.
func Open(path string) (*Store, error) {
	database, err := pebbledb.New(db.Options{Path: path})
	if err != nil {
		if errors.Is(err, pebbledb.ErrDatabaseLocked) {
			return nil, &ConcurrentDeploymentError{Path: path, Cause: err}
		}
		return nil, fmt.Errorf("could not open state store at %s: %w", path, err)
	}
	return &Store{
		db:    prefixeddb.NewPrefixedDatabase(database, recordPrefix),
		owned: database,
	}, nil
}

// Close releases the underlying database and its directory lock. It is a
// no-op for stores built with New over a caller-owned database.
func (s *Store) Close() error {
	if s.owned == nil {
		return nil
	}
	return s.owned.Close()
}

// Load returns the record for a deployment name, or a fresh empty record if
// none has been persisted yet.
func (s *Store) Load(name string) (*types.DeploymentRecord, error) {
	data, err := s.db.Get([]byte(name))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return types.NewDeploymentRecord(name), nil
		}
		return nil, fmt.Errorf("could not load deployment record %q: %w", name, err)
	}
	record := new(types.DeploymentRecord)
	if err := cbor.Unmarshal(data, record); err != nil {
		return nil, fmt.Errorf("corrupt deployment record %q: %w", name, err)
	}
	if record.Steps == nil {
		record.Steps = map[types.StepID]types.StepRecord{}
	}
	return record, nil
}

// RecordInProgress marks a step as submitted but not yet confirmed. If the
// process dies here, the next run finds the step neither pending nor
// completed and can surface it for operator review.
func (s *Store) RecordInProgress(name string, stepID types.StepID) error {
	return s.update(name, stepID, types.StepRecord{
		Status:    types.StepStatusInProgress,
		UpdatedAt: time.Now().UTC(),
	})
}

// RecordCompletion durably marks a step completed with its deployed
// address.
func (s *Store) RecordCompletion(name string, stepID types.StepID, address ethcommon.Address) error {
	return s.update(name, stepID, types.StepRecord{
		Status:    types.StepStatusCompleted,
		Address:   address,
		UpdatedAt: time.Now().UTC(),
	})
}

// RecordFailure durably marks a step failed with its cause.
func (s *Store) RecordFailure(name string, stepID types.StepID, cause error) error {
	return s.update(name, stepID, types.StepRecord{
		Status:    types.StepStatusFailed,
		Error:     cause.Error(),
		UpdatedAt: time.Now().UTC(),
	})
}

func (s *Store) update(name string, stepID types.StepID, rec types.StepRecord) error {
	record, err := s.Load(name)
	if err != nil {
		return err
	}
	record.Steps[stepID] = rec

	data, err := cbor.Marshal(record)
	if err != nil {
		return fmt.Errorf("could not encode deployment record %q: %w", name, err)
	}
	tx := s.db.WriteTx()
	defer tx.Discard()
	if err := tx.Set([]byte(name), data); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not persist deployment record %q: %w", name, err)
	}
	return nil
}
