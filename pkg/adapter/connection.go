package adapter

import (
	"context"
	"sync"
	"time"

	"github.com/jpillora/backoff"
)

// ConnState is the per-endpoint connection lifecycle described in spec.md
// §4.8.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateValidated    ConnState = "validated"
	StateActive       ConnState = "active"
	StateError        ConnState = "error"
)

const maxConsecutiveFailures = 10

// Session owns one SensorConfig's connection for its lifetime: state,
// backoff, validated nodes, and the mutex that serializes every protocol
// request sent over it (spec.md §4.8 "per-session serialization").
type Session struct {
	cfg       SensorConfig
	transport Transport

	mu    sync.Mutex // serializes all I/O on this session
	state ConnState

	backoff           *backoff.Backoff
	consecutiveErrors int
	validNodes        map[string]bool

	health Health
}

func NewSession(cfg SensorConfig, transport Transport) *Session {
	return &Session{
		cfg:       cfg,
		transport: transport,
		state:     StateDisconnected,
		backoff:   &backoff.Backoff{Min: 5 * time.Second, Max: 60 * time.Second, Factor: 2, Jitter: true},
		health:    Health{SensorID: cfg.SensorID, CommunicationQuality: CommDisabled},
	}
}

func (s *Session) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Health() Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.health
}

// Activate drives disconnected -> connecting -> validated -> active,
// validating every configured node exactly once along the way. It returns
// the backoff delay to wait before retrying on failure, or zero on success.
func (s *Session) Activate(ctx context.Context) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateConnecting
	if err := s.transport.Connect(ctx); err != nil {
		return s.failLocked(err), err
	}

	s.state = StateValidated
	s.validNodes = make(map[string]bool, len(s.cfg.DataPoints))
	for _, dp := range s.cfg.DataPoints {
		if err := s.transport.ValidateNode(ctx, dp); err != nil {
			s.validNodes[dp.Name] = false
			continue
		}
		s.validNodes[dp.Name] = true
	}

	s.state = StateActive
	s.consecutiveErrors = 0
	s.backoff.Reset()
	s.health.Connected = true
	s.health.CommunicationQuality = CommGood
	return 0, nil
}

func (s *Session) failLocked(err error) time.Duration {
	s.state = StateError
	s.consecutiveErrors++
	s.health.Connected = false
	s.health.ErrorCount++
	s.health.LastError = err.Error()
	if s.consecutiveErrors >= maxConsecutiveFailures {
		s.health.CommunicationQuality = CommOffline
	} else {
		s.health.CommunicationQuality = CommPoor
	}
	return s.backoff.Duration()
}

const maxReadRetries = 3

// ReadPoint reads one data point, retrying transient failures up to
// maxReadRetries times within this tick before reporting quality BAD. All
// I/O for this session runs under the same mutex, so reads, writes, and
// keep-alives never interleave.
func (s *Session) ReadPoint(ctx context.Context, dp DataPoint) Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	sample := Sample{DeviceName: s.cfg.DeviceName, RegisterName: dp.Name, Unit: dp.Unit, Timestamp: time.Now()}

	if !s.validNodes[dp.Name] {
		sample.Quality = QualityBad
		sample.QualityCode = "invalid_node"
		return sample
	}

	var lastErr error
	for attempt := 0; attempt < maxReadRetries; attempt++ {
		value, err := s.transport.Read(ctx, dp)
		if err == nil {
			sample.Value = value
			sample.Quality = QualityGood
			s.health.LastSeen = sample.Timestamp
			s.health.RegistersUpdated++
			return sample
		}
		lastErr = err
		time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
	}

	s.health.ErrorCount++
	s.health.LastError = lastErr.Error()
	sample.Quality = QualityBad
	sample.QualityCode = "read_failed"
	return sample
}

func (s *Session) MarkPoll(successRateNumerator, successRateDenominator int, responseTime time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health.LastPoll = time.Now()
	s.health.ResponseTimeMS = responseTime.Milliseconds()
	if successRateDenominator > 0 {
		s.health.PollSuccessRate = float64(successRateNumerator) / float64(successRateDenominator)
	}
}

func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.transport.Close()
	s.state = StateDisconnected
	s.health.Connected = false
	s.health.CommunicationQuality = CommOffline
}
