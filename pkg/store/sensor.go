package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"

	"github.com/edged/edged/pkg/adapter"
	"github.com/edged/edged/pkg/util"
)

// UpsertSensorConfig inserts or replaces one sensor's configuration.
func (s *Store) UpsertSensorConfig(ctx context.Context, cfg adapter.SensorConfig) error {
	if cfg.SensorID == "" {
		return util.NewValidationError("sensor_id is required")
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("store: marshal sensor config: %w", err)
	}
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSensorConfig).Put([]byte(cfg.SensorID), raw)
	}); err != nil {
		return util.NewStorageError("upsert_sensor_config", err)
	}
	return nil
}

// DeleteSensorConfig removes a sensor's configuration. Deleting an absent
// key is a no-op, not an error.
func (s *Store) DeleteSensorConfig(ctx context.Context, sensorID string) error {
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSensorConfig).Delete([]byte(sensorID))
	}); err != nil {
		return util.NewStorageError("delete_sensor_config", err)
	}
	return nil
}

// ListSensorConfigs returns every configured sensor, sorted by SensorID.
func (s *Store) ListSensorConfigs(ctx context.Context) ([]adapter.SensorConfig, error) {
	var out []adapter.SensorConfig
	err := s.withRead(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSensorConfig).ForEach(func(k, v []byte) error {
			var cfg adapter.SensorConfig
			if err := json.Unmarshal(v, &cfg); err != nil {
				return err
			}
			out = append(out, cfg)
			return nil
		})
	})
	if err != nil {
		return nil, util.NewStorageError("list_sensor_configs", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SensorID < out[j].SensorID })
	return out, nil
}

// UpsertSensorOutput inserts or replaces where a sensor's samples are
// written locally.
func (s *Store) UpsertSensorOutput(ctx context.Context, out adapter.SensorOutput) error {
	if out.SensorID == "" {
		return util.NewValidationError("sensor_id is required")
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("store: marshal sensor output: %w", err)
	}
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSensorOutput).Put([]byte(out.SensorID), raw)
	}); err != nil {
		return util.NewStorageError("upsert_sensor_output", err)
	}
	return nil
}

// LoadSensorOutput returns a sensor's output configuration, or ok=false if
// none has been set.
func (s *Store) LoadSensorOutput(ctx context.Context, sensorID string) (adapter.SensorOutput, bool, error) {
	var out adapter.SensorOutput
	var found bool
	err := s.withRead(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketSensorOutput).Get([]byte(sensorID))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &out)
	})
	if err != nil {
		return adapter.SensorOutput{}, false, util.NewStorageError("load_sensor_output", err)
	}
	return out, found, nil
}
