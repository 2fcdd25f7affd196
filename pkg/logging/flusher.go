package logging

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"time"
)

// Uploader delivers a batch of log records to the cloud. pkg/httpclient
// supplies the concrete implementation used in production; tests can stub
// it trivially. Kept as an interface here so pkg/logging has no dependency
// on pkg/httpclient (avoids a cycle: httpclient itself logs through this
// package).
type Uploader interface {
	UploadLogs(ctx context.Context, ndjson []byte, gzipped bool) error
}

// Flusher periodically drains a Ring and uploads its contents as NDJSON,
// per spec.md §4.2 ("Upload is NDJSON, optionally gzipped"). It also
// flushes early once the ring crosses a watermark, without waiting for the
// next tick.
type Flusher struct {
	ring     *Ring
	uploader Uploader
	logger   *Logger

	interval  time.Duration
	watermark int
	gzip      bool
}

// NewFlusher constructs a Flusher. watermark is a record count; once the
// ring holds at least that many records, Run flushes immediately on its
// next tick without waiting the full interval (checked at a short internal
// poll cadence capped at interval).
func NewFlusher(ring *Ring, uploader Uploader, logger *Logger, interval time.Duration, watermark int, gzipUpload bool) *Flusher {
	return &Flusher{
		ring:      ring,
		uploader:  uploader,
		logger:    logger,
		interval:  interval,
		watermark: watermark,
		gzip:      gzipUpload,
	}
}

// Run blocks, flushing on a schedule until ctx is cancelled. It is intended
// to be one actor in the orchestrator's run.Group.
func (f *Flusher) Run(ctx context.Context) error {
	pollEvery := f.interval
	if f.watermark > 0 && pollEvery > time.Second {
		pollEvery = time.Second
	}
	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()

	lastFlush := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			due := time.Since(lastFlush) >= f.interval
			over := f.watermark > 0 && f.ring.Len() >= f.watermark
			if !due && !over {
				continue
			}
			f.flushOnce(ctx)
			lastFlush = time.Now()
		}
	}
}

func (f *Flusher) flushOnce(ctx context.Context) {
	records := f.ring.Drain()
	if len(records) == 0 {
		return
	}

	payload, err := encodeNDJSON(records)
	if err != nil {
		f.logger.WithComponent(ComponentAgent).WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Error("encoding log batch failed")
		return
	}

	body := payload
	if f.gzip {
		body, err = gzipBytes(payload)
		if err != nil {
			f.logger.WithComponent(ComponentAgent).WithFields(map[string]interface{}{
				"error": err.Error(),
			}).Error("gzipping log batch failed")
			body = payload
		}
	}

	if err := f.uploader.UploadLogs(ctx, body, f.gzip); err != nil {
		// Upload failures are deliberately not retried here: the records are
		// already gone from the ring, and re-queuing them risks an unbounded
		// retry storm competing with fresh records for ring space. The next
		// tick uploads whatever accumulated in the meantime.
		f.logger.WithComponent(ComponentAgent).WithFields(map[string]interface{}{
			"error": err.Error(),
			"count": len(records),
		}).Warn("log upload failed, batch discarded")
	}
}

func encodeNDJSON(records []Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func gzipBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(b); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
