package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/edged/edged/pkg/adapter"
	"github.com/edged/edged/pkg/identity"
	"github.com/edged/edged/pkg/reconciler"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "device.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIdentityRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, found, err := s.LoadIdentity(ctx); err != nil || found {
		t.Fatalf("expected no identity on first boot, found=%v err=%v", found, err)
	}

	id := identity.Identity{DeviceID: "dev-1", DeviceName: "tank-1"}
	if err := s.SaveIdentity(ctx, id); err != nil {
		t.Fatalf("SaveIdentity: %v", err)
	}

	got, found, err := s.LoadIdentity(ctx)
	if err != nil || !found {
		t.Fatalf("LoadIdentity: found=%v err=%v", found, err)
	}
	if got.DeviceID != "dev-1" || got.DeviceName != "tank-1" {
		t.Errorf("unexpected identity: %+v", got)
	}
}

func TestTargetStateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, found, err := s.LoadTargetState(ctx); err != nil || found {
		t.Fatalf("expected no target state on first boot, found=%v err=%v", found, err)
	}

	target := reconciler.TargetState{
		Version: "v1",
		Apps: []reconciler.App{
			{AppID: "1", AppName: "sensors", Services: []reconciler.Service{
				{ServiceID: "1", ServiceName: "collector", Image: "collector:1", DesiredState: reconciler.DesiredRunning},
			}},
		},
	}
	if err := s.SaveTargetState(ctx, target); err != nil {
		t.Fatalf("SaveTargetState: %v", err)
	}

	got, found, err := s.LoadTargetState(ctx)
	if err != nil || !found {
		t.Fatalf("LoadTargetState: found=%v err=%v", found, err)
	}
	if got.Version != "v1" || len(got.Apps) != 1 || got.Apps[0].Services[0].Image != "collector:1" {
		t.Errorf("unexpected target state: %+v", got)
	}
}

func TestSensorConfigCRUD(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cfg := adapter.SensorConfig{SensorID: "s1", DeviceName: "tank-1", Protocol: adapter.ProtocolModbusTCP, Enabled: true}
	if err := s.UpsertSensorConfig(ctx, cfg); err != nil {
		t.Fatalf("UpsertSensorConfig: %v", err)
	}

	list, err := s.ListSensorConfigs(ctx)
	if err != nil || len(list) != 1 || list[0].SensorID != "s1" {
		t.Fatalf("ListSensorConfigs = %+v, err=%v", list, err)
	}

	if err := s.DeleteSensorConfig(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSensorConfig: %v", err)
	}
	list, err = s.ListSensorConfigs(ctx)
	if err != nil || len(list) != 0 {
		t.Fatalf("expected empty list after delete, got %+v, err=%v", list, err)
	}
}

func TestSensorOutputRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, found, err := s.LoadSensorOutput(ctx, "s1"); err != nil || found {
		t.Fatalf("expected no output before upsert, found=%v err=%v", found, err)
	}

	out := adapter.SensorOutput{SensorID: "s1", SocketPath: "/tmp/s1.sock", Format: "ndjson"}
	if err := s.UpsertSensorOutput(ctx, out); err != nil {
		t.Fatalf("UpsertSensorOutput: %v", err)
	}

	got, found, err := s.LoadSensorOutput(ctx, "s1")
	if err != nil || !found || got.SocketPath != "/tmp/s1.sock" {
		t.Fatalf("LoadSensorOutput = %+v, found=%v, err=%v", got, found, err)
	}
}

func TestAnomalyAppendAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	old := AnomalyRecord{Timestamp: base, Component: "state-reconciler", Kind: "service_failed", ServiceID: "1"}
	recent := AnomalyRecord{Timestamp: base.Add(time.Hour), Component: "state-reconciler", Kind: "service_failed", ServiceID: "2"}

	if err := s.AppendAnomaly(ctx, old); err != nil {
		t.Fatalf("AppendAnomaly: %v", err)
	}
	if err := s.AppendAnomaly(ctx, recent); err != nil {
		t.Fatalf("AppendAnomaly: %v", err)
	}

	all, err := s.RecentAnomalies(ctx, base)
	if err != nil || len(all) != 2 {
		t.Fatalf("RecentAnomalies(base) = %+v, err=%v", all, err)
	}

	onlyRecent, err := s.RecentAnomalies(ctx, base.Add(time.Minute))
	if err != nil || len(onlyRecent) != 1 || onlyRecent[0].ServiceID != "2" {
		t.Fatalf("RecentAnomalies(base+1m) = %+v, err=%v", onlyRecent, err)
	}
}

func TestRunMigrationsIsIdempotentAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.db")
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s1.SaveIdentity(context.Background(), identity.Identity{DeviceID: "dev-1"}); err != nil {
		t.Fatalf("SaveIdentity: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	id, found, err := s2.LoadIdentity(context.Background())
	if err != nil || !found || id.DeviceID != "dev-1" {
		t.Fatalf("identity did not survive reopen: id=%+v found=%v err=%v", id, found, err)
	}
}
