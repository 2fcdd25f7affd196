package store

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/edged/edged/pkg/identity"
	"github.com/edged/edged/pkg/util"
)

var identityKey = []byte("singleton")

// LoadIdentity returns the device's Identity row, or ok=false if none has
// ever been saved (first boot).
func (s *Store) LoadIdentity(ctx context.Context) (identity.Identity, bool, error) {
	var id identity.Identity
	var found bool
	err := s.withRead(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketIdentity).Get(identityKey)
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &id)
	})
	if err != nil {
		return identity.Identity{}, false, util.NewStorageError("load_identity", err)
	}
	return id, found, nil
}

// SaveIdentity upserts the singleton Identity row atomically.
func (s *Store) SaveIdentity(ctx context.Context, id identity.Identity) error {
	raw, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("store: marshal identity: %w", err)
	}
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketIdentity).Put(identityKey, raw)
	}); err != nil {
		return util.NewStorageError("save_identity", err)
	}
	return nil
}
