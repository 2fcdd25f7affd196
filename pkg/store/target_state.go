package store

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/edged/edged/pkg/reconciler"
	"github.com/edged/edged/pkg/util"
)

var targetStateKey = []byte("current")

// SaveTargetState persists t as the device's TargetState row. Store
// satisfies reconciler.TargetStore structurally so the Reconciler can be
// wired against a *Store without this package importing the reconciler's
// engine (only its types).
func (s *Store) SaveTargetState(ctx context.Context, t reconciler.TargetState) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("store: marshal target state: %w", err)
	}
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTargetState).Put(targetStateKey, raw)
	}); err != nil {
		return util.NewStorageError("save_target_state", err)
	}
	return nil
}

// LoadTargetState returns the last-persisted TargetState, or ok=false if the
// device has never received one (first boot, nothing deployed yet).
func (s *Store) LoadTargetState(ctx context.Context) (reconciler.TargetState, bool, error) {
	var t reconciler.TargetState
	var found bool
	err := s.withRead(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketTargetState).Get(targetStateKey)
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &t)
	})
	if err != nil {
		return reconciler.TargetState{}, false, util.NewStorageError("load_target_state", err)
	}
	return t, found, nil
}

// TruncateTargetState deletes the persisted TargetState row, as part of a
// factory reset (spec.md §4.4): the next boot has no target until the
// cloud delivers one again.
func (s *Store) TruncateTargetState(ctx context.Context) error {
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTargetState).Delete(targetStateKey)
	}); err != nil {
		return util.NewStorageError("truncate_target_state", err)
	}
	return nil
}
