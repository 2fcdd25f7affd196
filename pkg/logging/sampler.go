package logging

import "math/rand"

// Sampler decides whether a record at the given level is admitted into the
// remote ring buffer. A record that is not admitted is still written to the
// local sink — sampling only throttles the cloud upload volume.
type Sampler interface {
	Admit(level Level) bool
}

// RateSampler admits a record with probability Rates[level], defaulting to
// 1.0 (always admit) for any level without an explicit entry.
type RateSampler struct {
	Rates map[Level]float64
	rand  func() float64
}

// DefaultRates matches spec.md §4.2: error and warn always uploaded, info
// at half rate, debug at a tenth.
func DefaultRates() map[Level]float64 {
	return map[Level]float64{
		LevelError: 1.0,
		LevelWarn:  1.0,
		LevelInfo:  0.5,
		LevelDebug: 0.1,
	}
}

// NewRateSampler creates a sampler with the given per-level rates, falling
// back to DefaultRates for any level not present.
func NewRateSampler(rates map[Level]float64) *RateSampler {
	merged := DefaultRates()
	for lvl, rate := range rates {
		merged[lvl] = rate
	}
	return &RateSampler{Rates: merged, rand: rand.Float64}
}

// Admit draws a uniform[0,1) sample and admits iff it is below the level's
// configured rate, per spec.md §4.2.
func (s *RateSampler) Admit(level Level) bool {
	rate, ok := s.Rates[level]
	if !ok {
		rate = 1.0
	}
	if rate >= 1.0 {
		return true
	}
	if rate <= 0 {
		return false
	}
	return s.rand() < rate
}
