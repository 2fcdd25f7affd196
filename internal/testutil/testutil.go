// Package testutil provides shared test fixtures, starting with a
// temp-dir-backed store, with t.Cleanup registering teardown.
//
// A fake container driver and fake protocol transport already live next to
// the code they stand in for (pkg/container/fakedriver,
// pkg/adapter/faketransport) rather than here, so package reconciler/adapter
// tests import them directly. There is no timing-injection Clock
// abstraction in this package; timing-sensitive tests use small real
// durations and context cancellation instead.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/edged/edged/pkg/store"
)

// NewStore opens a *store.Store in a t.TempDir()-scoped file and registers
// its Close on cleanup.
func NewStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "device.db"))
	if err != nil {
		t.Fatalf("testutil: opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
