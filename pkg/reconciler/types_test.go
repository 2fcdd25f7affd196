package reconciler

import (
	"encoding/json"
	"testing"
)

func TestTargetStatePreservesUnknownFields(t *testing.T) {
	raw := []byte(`{
		"apps": [{"app_id": "1", "app_name": "demo", "services": [
			{"service_id": "a", "service_name": "a", "image": "img:1", "desired_state": "running", "future_field": 42}
		], "future_app_field": "x"}],
		"version": "v1",
		"received_at": "2026-01-01T00:00:00Z",
		"future_top_field": true
	}`)

	var ts TargetState
	if err := json.Unmarshal(raw, &ts); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	out, err := json.Marshal(ts)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var roundTripped map[string]interface{}
	if err := json.Unmarshal(out, &roundTripped); err != nil {
		t.Fatalf("unmarshal round-trip: %v", err)
	}
	if roundTripped["future_top_field"] != true {
		t.Errorf("future_top_field lost in round trip: %v", roundTripped)
	}

	apps := roundTripped["apps"].([]interface{})
	app := apps[0].(map[string]interface{})
	if app["future_app_field"] != "x" {
		t.Errorf("future_app_field lost in round trip: %v", app)
	}
	services := app["services"].([]interface{})
	service := services[0].(map[string]interface{})
	if service["future_field"].(float64) != 42 {
		t.Errorf("future_field lost in round trip: %v", service)
	}
}

func TestServiceDesiredStateDefaultsToRunningWhenAbsent(t *testing.T) {
	raw := []byte(`{"service_id": "a", "service_name": "a", "image": "img:1"}`)

	var svc Service
	if err := json.Unmarshal(raw, &svc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if svc.DesiredState != DesiredRunning {
		t.Errorf("DesiredState = %q, want %q", svc.DesiredState, DesiredRunning)
	}
}

func TestFingerprintStableUnderAppOrdering(t *testing.T) {
	s1 := Service{ServiceID: "a", Image: "img:1", DesiredState: DesiredRunning}
	s2 := Service{ServiceID: "b", Image: "img:2", DesiredState: DesiredRunning}

	t1 := TargetState{Apps: []App{
		{AppID: "1", Services: []Service{s1}},
		{AppID: "2", Services: []Service{s2}},
	}}
	t2 := TargetState{Apps: []App{
		{AppID: "2", Services: []Service{s2}},
		{AppID: "1", Services: []Service{s1}},
	}}

	f1, err := Fingerprint(t1)
	if err != nil {
		t.Fatal(err)
	}
	f2, err := Fingerprint(t2)
	if err != nil {
		t.Fatal(err)
	}
	if f1 != f2 {
		t.Errorf("fingerprint should be order-independent across apps: %q != %q", f1, f2)
	}
}

func TestFingerprintChangesWithConfig(t *testing.T) {
	base := TargetState{Apps: []App{{AppID: "1", Services: []Service{
		{ServiceID: "a", Image: "img:1", DesiredState: DesiredRunning},
	}}}}
	changed := TargetState{Apps: []App{{AppID: "1", Services: []Service{
		{ServiceID: "a", Image: "img:2", DesiredState: DesiredRunning},
	}}}}

	f1, _ := Fingerprint(base)
	f2, _ := Fingerprint(changed)
	if f1 == f2 {
		t.Error("fingerprint should change when image changes")
	}
}

func TestServiceFingerprintIgnoresDesiredState(t *testing.T) {
	running := Service{ServiceID: "a", Image: "img:1", DesiredState: DesiredRunning}
	stopped := Service{ServiceID: "a", Image: "img:1", DesiredState: DesiredStopped}
	if ServiceFingerprint(running) != ServiceFingerprint(stopped) {
		t.Error("ServiceFingerprint should not change with desired_state alone")
	}
}
