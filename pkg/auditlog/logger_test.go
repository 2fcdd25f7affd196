package auditlog

import (
	"path/filepath"
	"testing"
	"time"
)

func TestFileLoggerLogAndQuery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := NewFileLogger(path, RotationConfig{})
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	defer l.Close()

	if err := l.Log(NewEvent("agent", "set_target").WithService("app-1", "svc-1")); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := l.Log(NewEvent("admin", "factory_reset").WithError(nil)); err != nil {
		t.Fatalf("Log: %v", err)
	}

	events, err := l.Query(Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	byApp, err := l.Query(Filter{AppID: "app-1"})
	if err != nil {
		t.Fatalf("Query by app: %v", err)
	}
	if len(byApp) != 1 || byApp[0].Operation != "set_target" {
		t.Errorf("expected one set_target event for app-1, got %+v", byApp)
	}
}

func TestFileLoggerQueryMissingFileReturnsEmpty(t *testing.T) {
	l := &FileLogger{path: filepath.Join(t.TempDir(), "missing.log")}
	events, err := l.Query(Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events, got %d", len(events))
	}
}

func TestFileLoggerRotatesOnSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := NewFileLogger(path, RotationConfig{MaxSize: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	defer l.Close()

	for i := 0; i < 3; i++ {
		if err := l.Log(NewEvent("agent", "set_target")); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	matches, err := filepath.Glob(path + ".*")
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if len(matches) == 0 {
		t.Errorf("expected at least one rotated backup file")
	}
}

func TestEventMatchesFilterSuccessOnly(t *testing.T) {
	ok := NewEvent("agent", "poll")
	failed := NewEvent("agent", "poll").WithError(errBoom)

	if !ok.matchesFilter(Filter{SuccessOnly: true}) {
		t.Errorf("expected success event to match SuccessOnly filter")
	}
	if failed.matchesFilter(Filter{SuccessOnly: true}) {
		t.Errorf("expected failed event not to match SuccessOnly filter")
	}
	if !failed.matchesFilter(Filter{FailureOnly: true}) {
		t.Errorf("expected failed event to match FailureOnly filter")
	}
}

func TestEventMatchesFilterTimeRange(t *testing.T) {
	e := Event{Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Success: true}
	if !e.matchesFilter(Filter{StartTime: time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)}) {
		t.Errorf("expected event after StartTime to match")
	}
	if e.matchesFilter(Filter{EndTime: time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)}) {
		t.Errorf("expected event after EndTime not to match")
	}
}

var errBoom = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
