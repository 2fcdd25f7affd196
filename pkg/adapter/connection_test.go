package adapter

import (
	"context"
	"testing"

	"github.com/edged/edged/pkg/adapter/faketransport"
)

func TestSessionActivateValidatesNodes(t *testing.T) {
	ft := faketransport.New()
	ft.SetInvalid("bad")
	ft.SetValue("good", 42.0)

	cfg := SensorConfig{
		SensorID:   "s1",
		DeviceName: "tank-1",
		DataPoints: []DataPoint{{Name: "good"}, {Name: "bad"}},
	}
	s := NewSession(cfg, ft)

	delay, err := s.Activate(context.Background())
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if delay != 0 {
		t.Errorf("expected zero delay on success, got %v", delay)
	}
	if s.State() != StateActive {
		t.Errorf("state = %v, want active", s.State())
	}

	sample := s.ReadPoint(context.Background(), DataPoint{Name: "bad"})
	if sample.Quality != QualityBad || sample.QualityCode != "invalid_node" {
		t.Errorf("invalid node should read BAD/invalid_node, got %+v", sample)
	}

	good := s.ReadPoint(context.Background(), DataPoint{Name: "good"})
	if good.Quality != QualityGood || good.Value != 42.0 {
		t.Errorf("valid node should read GOOD/42.0, got %+v", good)
	}
}

func TestSessionActivateFailureBacksOff(t *testing.T) {
	ft := faketransport.New()
	ft.FailConnect(context.DeadlineExceeded)
	s := NewSession(SensorConfig{SensorID: "s1"}, ft)

	delay, err := s.Activate(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if delay <= 0 {
		t.Error("expected a positive backoff delay after failed activation")
	}
	if s.State() != StateError {
		t.Errorf("state = %v, want error", s.State())
	}
}

func TestSessionReadRetriesTransientBeforeBad(t *testing.T) {
	ft := faketransport.New()
	ft.SetValue("temp", 10.0)
	s := NewSession(SensorConfig{DataPoints: []DataPoint{{Name: "temp"}}}, ft)
	if _, err := s.Activate(context.Background()); err != nil {
		t.Fatal(err)
	}

	ft.FailNextRead("temp")
	sample := s.ReadPoint(context.Background(), DataPoint{Name: "temp"})
	if sample.Quality != QualityGood {
		t.Errorf("expected retry to recover to GOOD, got %+v", sample)
	}
}

func TestSessionCloseClosesTransport(t *testing.T) {
	ft := faketransport.New()
	s := NewSession(SensorConfig{}, ft)
	s.Close()
	if !ft.Closed() {
		t.Error("expected transport to be closed")
	}
	if s.State() != StateDisconnected {
		t.Errorf("state after close = %v, want disconnected", s.State())
	}
}
