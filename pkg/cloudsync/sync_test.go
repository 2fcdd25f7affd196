package cloudsync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/edged/edged/pkg/httpclient"
	"github.com/edged/edged/pkg/identity"
	"github.com/edged/edged/pkg/logging"
	"github.com/edged/edged/pkg/reconciler"
)

type fakeReconciler struct {
	mu     sync.Mutex
	target reconciler.TargetState
	setN   int
}

func (f *fakeReconciler) SetTarget(ctx context.Context, t reconciler.TargetState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.target = t
	f.setN++
	return nil
}

func (f *fakeReconciler) GetCurrent() (reconciler.TargetState, reconciler.ObservedState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.target, reconciler.ObservedState{}
}

func newTestClient(t *testing.T, url string) *httpclient.Client {
	t.Helper()
	c, err := httpclient.New(identity.Identity{APIEndpoint: url}, logging.New())
	if err != nil {
		t.Fatalf("httpclient.New: %v", err)
	}
	return c
}

func TestPollOnceAppliesNewTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		target := reconciler.TargetState{Version: "v2"}
		raw, _ := json.Marshal(target)
		w.Header().Set("ETag", `"v2"`)
		w.Write(raw)
	}))
	defer srv.Close()

	rec := &fakeReconciler{}
	s := New(Config{DeviceUUID: "dev-1"}, newTestClient(t, srv.URL), rec, logging.New())

	if err := s.pollOnce(context.Background()); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.setN != 1 || rec.target.Version != "v2" {
		t.Errorf("expected target applied once with version v2, got setN=%d target=%+v", rec.setN, rec.target)
	}
}

func TestPollOnceSkipsOnNotModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"etag-1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"etag-1"`)
		raw, _ := json.Marshal(reconciler.TargetState{Version: "v1"})
		w.Write(raw)
	}))
	defer srv.Close()

	rec := &fakeReconciler{}
	s := New(Config{DeviceUUID: "dev-1"}, newTestClient(t, srv.URL), rec, logging.New())

	if err := s.pollOnce(context.Background()); err != nil {
		t.Fatalf("first pollOnce: %v", err)
	}
	if err := s.pollOnce(context.Background()); err != nil {
		t.Fatalf("second pollOnce: %v", err)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.setN != 1 {
		t.Errorf("expected exactly one SetTarget call (second poll was 304), got %d", rec.setN)
	}
}

func TestHealthDegradesAndRecovers(t *testing.T) {
	fail := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	rec := &fakeReconciler{}
	c, err := httpclient.New(identity.Identity{APIEndpoint: srv.URL}, logging.New(), httpclient.WithMaxAttempts(1))
	if err != nil {
		t.Fatalf("httpclient.New: %v", err)
	}
	s := New(Config{DeviceUUID: "dev-1"}, c, rec, logging.New())

	if s.Health() != HealthOnline {
		t.Fatalf("expected initial health online, got %v", s.Health())
	}

	for i := 0; i < 3; i++ {
		_ = s.pollOnce(context.Background())
	}
	if s.Health() != HealthOffline {
		t.Errorf("expected offline after 3 consecutive failures, got %v", s.Health())
	}

	fail = false
	if err := s.pollOnce(context.Background()); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	if s.Health() != HealthOnline {
		t.Errorf("expected health recovered to online, got %v", s.Health())
	}
}

func TestReportOnceKeysBodyByDeviceUUID(t *testing.T) {
	var captured map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rec := &fakeReconciler{target: reconciler.TargetState{Version: "v1"}}
	s := New(Config{DeviceUUID: "dev-1"}, newTestClient(t, srv.URL), rec, logging.New())
	s.reportOnce(context.Background())

	if _, ok := captured["dev-1"]; !ok {
		t.Fatalf("expected report body keyed by device uuid %q, got %v", "dev-1", captured)
	}
	var inner CurrentState
	if err := json.Unmarshal(captured["dev-1"], &inner); err != nil {
		t.Fatalf("decoding inner CurrentState: %v", err)
	}
	if inner.Version != "v1" {
		t.Errorf("inner.Version = %q, want %q", inner.Version, "v1")
	}
}

func TestReportOnceSkipsUnchangedPayload(t *testing.T) {
	var reportCount int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reportCount++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rec := &fakeReconciler{target: reconciler.TargetState{Version: "v1"}}
	s := New(Config{DeviceUUID: "dev-1", ForceReportInterval: time.Hour}, newTestClient(t, srv.URL), rec, logging.New())

	s.reportOnce(context.Background())
	s.reportOnce(context.Background())
	if reportCount != 1 {
		t.Errorf("expected one report sent (second was unchanged), got %d", reportCount)
	}
}
