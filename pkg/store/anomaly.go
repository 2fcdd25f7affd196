package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/edged/edged/pkg/util"
)

// AnomalyRecord is one entry in the append-only anomaly history C6 emits
// lifecycle events into (spec.md §4.1, §4.6 responsibility 4). Out of
// core-core: no detection logic lives here, only the append-only ledger.
// The reconciler's event bus does not feed it; AppendAnomaly has no caller
// outside this package's tests.
type AnomalyRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Component string    `json:"component"`
	Kind      string    `json:"kind"`
	AppID     string    `json:"app_id,omitempty"`
	ServiceID string    `json:"service_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// AppendAnomaly records one anomaly. Keys are UnixNano timestamp followed by
// the bucket's auto-increment sequence, so ForEach/range-scans return
// records in chronological order even when two land in the same
// nanosecond.
func (s *Store) AppendAnomaly(ctx context.Context, rec AnomalyRecord) error {
	if rec.Timestamp.IsZero() {
		return util.NewValidationError("anomaly record requires a timestamp")
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal anomaly record: %w", err)
	}
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketAnomalies)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(anomalyKey(rec.Timestamp, seq), raw)
	}); err != nil {
		return util.NewStorageError("append_anomaly", err)
	}
	return nil
}

// RecentAnomalies returns every record with Timestamp >= since, oldest
// first.
func (s *Store) RecentAnomalies(ctx context.Context, since time.Time) ([]AnomalyRecord, error) {
	var out []AnomalyRecord
	err := s.withRead(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketAnomalies).Cursor()
		seek := anomalyKey(since, 0)
		for k, v := c.Seek(seek); k != nil; k, v = c.Next() {
			var rec AnomalyRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, util.NewStorageError("recent_anomalies", err)
	}
	return out, nil
}

// TruncateAnomalies deletes and recreates the anomalies bucket, as part of
// a factory reset.
func (s *Store) TruncateAnomalies(ctx context.Context) error {
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketAnomalies); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket(bucketAnomalies)
		return err
	}); err != nil {
		return util.NewStorageError("truncate_anomalies", err)
	}
	return nil
}

func anomalyKey(ts time.Time, seq uint64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[:8], uint64(ts.UnixNano()))
	binary.BigEndian.PutUint64(key[8:], seq)
	return key
}
