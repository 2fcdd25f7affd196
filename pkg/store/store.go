// Package store is the embedded persistent store (C1): a single bbolt file
// holding identity, target state, sensor configuration, and anomaly
// history, with one bucket per concern and JSON-encoded values.
package store

import (
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketIdentity     = []byte("identity")
	bucketTargetState  = []byte("target_state")
	bucketSensorConfig = []byte("sensor_configs")
	bucketSensorOutput = []byte("sensor_outputs")
	bucketAnomalies    = []byte("anomalies")
	bucketMigrations   = []byte("migrations")
)

var allBuckets = [][]byte{
	bucketIdentity, bucketTargetState, bucketSensorConfig,
	bucketSensorOutput, bucketAnomalies, bucketMigrations,
}

// Store wraps a single bbolt.DB file, one bucket per table. bbolt already
// gives single-writer/multi-reader semantics and guarantees a transaction's
// resources are released on every exit path (commit, rollback, or panic),
// which is exactly the handle-acquisition discipline spec.md §4.1 asks for.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the device database at path, creates any
// missing buckets, and runs pending migrations. A corrupt file is a fatal
// error — callers must not silently wipe and recreate it.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	s := &Store{db: db}

	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("store: create bucket %s: %w", b, err)
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}

	if err := s.RunMigrations(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrations: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Writer is a scoped handle for one write transaction. It carries no
// methods of its own, and the component-specific write helpers
// (SaveIdentity, SaveTargetState, ...) do not take one: each of them opens
// its own transaction, so their writes cannot be composed into one.
type Writer struct {
	tx *bbolt.Tx
}

// WithWriter runs fn inside one write transaction. The transaction commits
// if fn returns nil and rolls back otherwise; bbolt guarantees release of
// the writer lock on every exit path, including a panic inside fn.
func (s *Store) WithWriter(ctx context.Context, fn func(w *Writer) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return fn(&Writer{tx: tx})
	})
}

func (s *Store) withRead(fn func(tx *bbolt.Tx) error) error {
	return s.db.View(fn)
}
