package adapter

import (
	"context"
	"sync"
	"time"

	"github.com/edged/edged/pkg/logging"
	"github.com/edged/edged/pkg/util"
)

// TransportFactory builds the protocol client for one sensor. Supervisor is
// protocol-agnostic; callers register a factory per Protocol value.
type TransportFactory func(cfg SensorConfig) (Transport, error)

// Subscriber is an optional capability a Transport may implement for
// server-push acquisition; Supervisor falls back to polling when a
// transport does not implement it.
type Subscriber interface {
	Subscribe(ctx context.Context, onSample func(DataPoint, interface{}, error)) error
}

type adapterInstance struct {
	cfg     SensorConfig
	session *Session
	sink    Sink
	cancel  context.CancelFunc
}

// Supervisor instantiates and runs one adapter per enabled SensorConfig,
// per spec.md §4.8.
type Supervisor struct {
	factories map[Protocol]TransportFactory
	logger    *logging.Logger

	mu       sync.RWMutex
	adapters map[string]*adapterInstance

	newSink func(socketPath string) (Sink, error)
}

func NewSupervisor(logger *logging.Logger) *Supervisor {
	s := &Supervisor{
		factories: make(map[Protocol]TransportFactory),
		logger:    logger,
		adapters:  make(map[string]*adapterInstance),
	}
	s.newSink = func(socketPath string) (Sink, error) {
		return NewSocketSink(socketPath, logger)
	}
	return s
}

func (s *Supervisor) RegisterTransport(proto Protocol, factory TransportFactory) {
	s.factories[proto] = factory
}

// Start instantiates and runs an adapter for cfg, writing samples to
// output. Calling Start again for the same SensorID replaces the existing
// adapter.
func (s *Supervisor) Start(ctx context.Context, cfg SensorConfig, output SensorOutput) error {
	if !cfg.Enabled {
		return nil
	}
	factory, ok := s.factories[cfg.Protocol]
	if !ok {
		return util.NewConfigError("adapter", "no transport registered for protocol "+string(cfg.Protocol))
	}
	transport, err := factory(cfg)
	if err != nil {
		return err
	}
	sink, err := s.newSink(output.SocketPath)
	if err != nil {
		return err
	}

	session := NewSession(cfg, transport)
	runCtx, cancel := context.WithCancel(ctx)
	inst := &adapterInstance{cfg: cfg, session: session, sink: sink, cancel: cancel}

	s.mu.Lock()
	if old, exists := s.adapters[cfg.SensorID]; exists {
		old.cancel()
		old.session.Close()
		old.sink.Close()
	}
	s.adapters[cfg.SensorID] = inst
	s.mu.Unlock()

	go s.run(runCtx, inst)
	return nil
}

func (s *Supervisor) Stop(sensorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.adapters[sensorID]
	if !ok {
		return
	}
	inst.cancel()
	inst.session.Close()
	inst.sink.Close()
	delete(s.adapters, sensorID)
}

func (s *Supervisor) StopAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.adapters))
	for id := range s.adapters {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.Stop(id)
	}
}

func (s *Supervisor) Health() []Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Health, 0, len(s.adapters))
	for _, inst := range s.adapters {
		out = append(out, inst.session.Health())
	}
	return out
}

func (s *Supervisor) run(ctx context.Context, inst *adapterInstance) {
	defer util.RecoverTask(logging.ComponentAdapter, "adapter."+inst.cfg.SensorID)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		delay, err := inst.session.Activate(ctx)
		if err != nil {
			s.logger.WithComponent(logging.ComponentAdapter).WithFields(map[string]interface{}{
				"sensor_id": inst.cfg.SensorID,
				"error":     err.Error(),
			}).Warn("adapter activation failed, backing off")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		if inst.cfg.Mode == ModeSubscription {
			if sub, ok := inst.session.transport.(Subscriber); ok {
				s.runSubscription(ctx, inst, sub)
				continue
			}
		}
		s.runPoll(ctx, inst)
	}
}

func (s *Supervisor) runSubscription(ctx context.Context, inst *adapterInstance, sub Subscriber) {
	err := sub.Subscribe(ctx, func(dp DataPoint, value interface{}, readErr error) {
		sample := Sample{
			DeviceName:   inst.cfg.DeviceName,
			RegisterName: dp.Name,
			Unit:         dp.Unit,
			Timestamp:    time.Now(),
			Value:        value,
			Quality:      QualityGood,
		}
		if readErr != nil {
			sample.Quality = QualityBad
			sample.QualityCode = "subscription_error"
		}
		_ = inst.sink.Write(sample)
	})
	if err != nil {
		s.logger.WithComponent(logging.ComponentAdapter).WithFields(map[string]interface{}{
			"sensor_id": inst.cfg.SensorID,
			"error":     err.Error(),
		}).Warn("subscription ended")
	}
}

func (s *Supervisor) runPoll(ctx context.Context, inst *adapterInstance) {
	interval := inst.cfg.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			var ok, total int
			for _, dp := range inst.cfg.DataPoints {
				total++
				sample := inst.session.ReadPoint(ctx, dp)
				if sample.Quality == QualityGood {
					ok++
				}
				if err := inst.sink.Write(sample); err != nil {
					s.logger.WithComponent(logging.ComponentAdapter).WithFields(map[string]interface{}{
						"sensor_id": inst.cfg.SensorID,
						"error":     err.Error(),
					}).Warn("writing sample to sink failed")
				}
			}
			inst.session.MarkPoll(ok, total, time.Since(start))
			if inst.session.State() == StateError {
				return
			}
		}
	}
}
