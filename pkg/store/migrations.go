package store

import (
	"context"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"
)

// migration is a one-shot, idempotent schema step. Version must sort
// lexically in application order (e.g. "0001_init").
type migration struct {
	version string
	apply   func(tx *bbolt.Tx) error
}

// registeredMigrations lists every migration this build knows about, in the
// order new ones are appended — RunMigrations re-sorts by version so the
// declaration order here is cosmetic, not load-bearing.
var registeredMigrations = []migration{
	{version: "0001_init", apply: func(tx *bbolt.Tx) error {
		// Buckets are already created by Open; nothing further to do for
		// the initial schema.
		return nil
	}},
}

// RunMigrations applies every migration not yet recorded in the migrations
// bucket, in lexical version order. A failure aborts immediately — the
// store is left with whichever migrations already committed and Open
// returns an error.
func (s *Store) RunMigrations(ctx context.Context) error {
	sorted := append([]migration(nil), registeredMigrations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].version < sorted[j].version })

	for _, m := range sorted {
		var applied bool
		if err := s.withRead(func(tx *bbolt.Tx) error {
			b := tx.Bucket(bucketMigrations)
			applied = b.Get([]byte(m.version)) != nil
			return nil
		}); err != nil {
			return err
		}
		if applied {
			continue
		}

		if err := s.db.Update(func(tx *bbolt.Tx) error {
			if err := m.apply(tx); err != nil {
				return fmt.Errorf("migration %s: %w", m.version, err)
			}
			return tx.Bucket(bucketMigrations).Put([]byte(m.version), []byte("1"))
		}); err != nil {
			return err
		}
	}
	return nil
}
