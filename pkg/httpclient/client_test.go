package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/edged/edged/pkg/identity"
	"github.com/edged/edged/pkg/logging"
)

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	id := identity.Identity{APIEndpoint: url}
	c, err := New(id, logging.New(), WithMaxAttempts(2))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestDoRetriesIdempotentMethodOn500(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	resp, err := c.Do(context.Background(), http.MethodGet, "/v1/target_state", nil, nil)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.Status)
	}
	if atomic.LoadInt32(&attempts) != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestDoDoesNotRetryPost(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	resp, _ := c.Do(context.Background(), http.MethodPost, "/v1/current_state", nil, []byte(`{}`))
	if resp.Status != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.Status)
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Errorf("attempts = %d, want 1 (POST must not be retried)", attempts)
	}
}

func TestDoSurfacesETagAndNotModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	resp, err := c.Do(context.Background(), http.MethodGet, "/v1/target_state", nil, nil)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.Headers.Get("ETag") != `"v1"` {
		t.Fatalf("expected ETag header, got %+v", resp.Headers)
	}

	conditional := http.Header{"If-None-Match": {`"v1"`}}
	resp2, err := c.Do(context.Background(), http.MethodGet, "/v1/target_state", conditional, nil)
	if err != nil {
		t.Fatalf("Do (conditional): %v", err)
	}
	if !resp2.NotModified() {
		t.Errorf("expected 304, got %d", resp2.Status)
	}
}

func TestDoOnceNeverRetries(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if err := c.UploadLogs(context.Background(), []byte(`{"msg":"hi"}`+"\n"), false); err == nil {
		t.Fatal("expected error on non-2xx upload response")
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}
