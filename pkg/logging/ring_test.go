package logging

import "testing"

func TestRingDropsOldestWhenFull(t *testing.T) {
	r := NewRing(2)
	r.Push(Record{Message: "one"})
	r.Push(Record{Message: "two"})
	r.Push(Record{Message: "three"})

	if got := r.Dropped(); got != 1 {
		t.Fatalf("Dropped() = %d, want 1", got)
	}

	records := r.Drain()
	if len(records) != 2 {
		t.Fatalf("Drain() returned %d records, want 2", len(records))
	}
	if records[0].Message != "two" || records[1].Message != "three" {
		t.Errorf("Drain() = %+v, want [two three]", records)
	}
}

func TestRingDrainEmptiesBuffer(t *testing.T) {
	r := NewRing(4)
	r.Push(Record{Message: "a"})
	_ = r.Drain()
	if r.Len() != 0 {
		t.Errorf("Len() after Drain() = %d, want 0", r.Len())
	}
	if len(r.Drain()) != 0 {
		t.Error("second Drain() should be empty")
	}
}

func TestRateSamplerBoundaryRates(t *testing.T) {
	s := NewRateSampler(map[Level]float64{LevelDebug: 0, LevelError: 1})
	s.rand = func() float64 { return 0.999 }

	if s.Admit(LevelDebug) {
		t.Error("rate 0 should never admit")
	}
	if !s.Admit(LevelError) {
		t.Error("rate 1 should always admit")
	}
}

func TestRateSamplerDefaults(t *testing.T) {
	s := NewRateSampler(nil)
	if s.Rates[LevelInfo] != 0.5 {
		t.Errorf("default info rate = %v, want 0.5", s.Rates[LevelInfo])
	}
	if s.Rates[LevelDebug] != 0.1 {
		t.Errorf("default debug rate = %v, want 0.1", s.Rates[LevelDebug])
	}
	if s.Rates[LevelWarn] != 1.0 || s.Rates[LevelError] != 1.0 {
		t.Error("warn/error should default to always-admit")
	}
}
