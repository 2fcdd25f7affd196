package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/oklog/run"

	"github.com/edged/edged/pkg/adapter"
	"github.com/edged/edged/pkg/auditlog"
	"github.com/edged/edged/pkg/cloudsync"
	"github.com/edged/edged/pkg/container"
	"github.com/edged/edged/pkg/container/dockerdriver"
	"github.com/edged/edged/pkg/httpclient"
	"github.com/edged/edged/pkg/identity"
	"github.com/edged/edged/pkg/logging"
	"github.com/edged/edged/pkg/metrics"
	"github.com/edged/edged/pkg/reconciler"
	"github.com/edged/edged/pkg/store"
)

// Orchestrator wires C1-C8 together and runs them under one oklog/run.Group,
// implementing the eight-step startup sequence of spec.md §4.9: one actor
// per independent loop (reconciler, cloud sync, audit recorders, MQTT
// wake-up, control API server, signal handling), stopping all of them on the
// first actor's return or an OS signal. Shutdown interrupts the actors in
// the order they were added, not in reverse; the reconciler, cloud-sync and
// recorder actors share one context cancel, and adapters are stopped after
// the group returns.
type Orchestrator struct {
	cfg    Config
	logger *logging.Logger

	store       *store.Store
	reconciler  *reconciler.Reconciler
	syncer      *cloudsync.Syncer
	supervisor  *adapter.Supervisor
	driver      container.Driver
	provisioner *identity.Provisioner
	auditLogger auditlog.Logger
	recorder    *auditlog.Recorder
	metrics     *metrics.Registry
	wakeup      *cloudsync.WakeupSubscriber
}

// New performs steps 1-2 of the startup sequence: a local-only logger and
// an opened store with migrations run. Everything that depends on an
// identity (steps 3 onward) happens in Run, since provisioning may need to
// retry before those components can be constructed.
func New(cfg Config) (*Orchestrator, error) {
	logger := logging.New()
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		logger.WithComponent(logging.ComponentAgent).WithFields(map[string]interface{}{
			"level": cfg.LogLevel, "error": err.Error(),
		}).Warn("invalid LOG_LEVEL, keeping default")
	}

	db, err := store.Open(filepath.Join(cfg.DataDir, "device.db"))
	if err != nil {
		return nil, fmt.Errorf("agent: opening store: %w", err)
	}

	auditPath := filepath.Join(cfg.DataDir, "audit.log")
	var auditLogger auditlog.Logger
	fileLogger, err := auditlog.NewFileLogger(auditPath, auditlog.RotationConfig{
		MaxSize:    50 * 1024 * 1024,
		MaxBackups: 5,
	})
	if err != nil {
		logger.WithComponent(logging.ComponentAgent).WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Warn("could not initialize audit log, auditing disabled")
		auditLogger = auditlog.NopLogger{}
	} else {
		auditLogger = fileLogger
	}

	return &Orchestrator{
		cfg:         cfg,
		logger:      logger,
		store:       db,
		driver:      dockerdriver.New("/var/run/docker.sock"),
		auditLogger: auditLogger,
		recorder:    auditlog.NewRecorder(auditLogger),
		metrics:     metrics.New(),
	}, nil
}

// Run executes steps 3-7, then blocks serving every actor until an OS signal
// arrives or an actor returns, then runs step 8 (shutdown, as described on
// Orchestrator).
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.store.Close()
	defer o.auditLogger.Close()

	id, found, err := o.store.LoadIdentity(ctx)
	if err != nil {
		return fmt.Errorf("agent: loading identity: %w", err)
	}
	if !found {
		id = identity.Identity{}
	}

	transport, err := httpclient.New(id, o.logger)
	if err != nil {
		return fmt.Errorf("agent: building http client: %w", err)
	}
	o.provisioner = identity.NewProvisioner(o.store, transport, o.logger, o.cfg.ProvisioningSecret)

	if !id.Provisioned && o.cfg.RequireProvisioning {
		id, err = o.provisionWithRetry(ctx)
		if err != nil {
			return fmt.Errorf("agent: provisioning: %w", err)
		}
		transport, err = httpclient.New(id, o.logger)
		if err != nil {
			return fmt.Errorf("agent: rebuilding http client after provisioning: %w", err)
		}
	}
	if id.Provisioned {
		ring := logging.NewRing(1024)
		o.logger.EnableRemote(ring, logging.NewRateSampler(nil))
		flusher := logging.NewFlusher(ring, transport, o.logger, 30*time.Second, 512, o.cfg.LogCompression)
		go func() { _ = flusher.Run(ctx) }()
	}

	bus := reconciler.NewEventBus()
	o.reconciler = reconciler.New(o.store, o.driver, bus, o.logger)
	if target, found, err := o.store.LoadTargetState(ctx); err == nil && found {
		_ = o.reconciler.SetTarget(ctx, target)
	}

	o.syncer = cloudsync.New(cloudsync.Config{
		DeviceUUID:     id.UUID,
		APIKey:         id.DeviceAPIKey,
		PollInterval:   o.cfg.PollInterval(),
		ReportInterval: o.cfg.ReportInterval(),
	}, transport, o.reconciler, o.logger)

	o.wakeup = cloudsync.NewWakeupSubscriber(id, o.syncer, o.logger)

	o.supervisor = adapter.NewSupervisor(o.logger)
	if cfgs, err := o.store.ListSensorConfigs(ctx); err == nil {
		for _, sc := range cfgs {
			output, _, err := o.store.LoadSensorOutput(ctx, sc.SensorID)
			if err != nil {
				continue
			}
			if err := o.supervisor.Start(ctx, sc, output); err != nil {
				o.logger.WithComponent(logging.ComponentAdapter).WithFields(map[string]interface{}{
					"sensor_id": sc.SensorID, "error": err.Error(),
				}).Warn("failed to start sensor adapter")
			}
		}
	}

	api := NewControlAPI(o.reconciler, o.syncer, o.driver, o.store, o.provisioner, o.recorder, o.metrics, o.logger, o.cfg.DeviceName, o.cfg.DeviceType)
	server := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", o.cfg.DeviceAPIPort),
		Handler: api.Handler(),
	}

	var g run.Group

	runCtx, cancel := context.WithCancel(ctx)
	g.Add(func() error { return o.reconciler.Run(runCtx) }, func(error) { cancel() })
	g.Add(func() error { return o.syncer.Run(runCtx) }, func(error) { cancel() })
	g.Add(func() error { return o.recorder.RunReconciler(runCtx, bus) }, func(error) { cancel() })
	g.Add(func() error { return o.recorder.RunCloudSync(runCtx, o.syncer.Events()) }, func(error) { cancel() })

	if o.wakeup != nil {
		g.Add(func() error {
			if err := o.wakeup.Connect(); err != nil {
				return err
			}
			<-runCtx.Done()
			return nil
		}, func(error) { o.wakeup.Close() })
	}

	g.Add(func() error {
		ln, err := net.Listen("tcp", server.Addr)
		if err != nil {
			return fmt.Errorf("agent: listening on control API: %w", err)
		}
		o.logger.WithComponent(logging.ComponentControlAPI).WithFields(map[string]interface{}{
			"addr": server.Addr,
		}).Info("control API listening")
		return server.Serve(ln)
	}, func(error) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	})

	{
		term := make(chan os.Signal, 1)
		signal.Notify(term, os.Interrupt, syscall.SIGTERM)
		done := make(chan struct{})
		g.Add(func() error {
			select {
			case <-term:
				o.logger.WithComponent(logging.ComponentAgent).Info("received shutdown signal")
			case <-done:
			case <-runCtx.Done():
			}
			return nil
		}, func(error) { close(done) })
	}

	err = g.Run()

	o.supervisor.StopAll()
	o.logger.WithComponent(logging.ComponentAgent).Info("shutdown complete")
	if err != nil {
		return &RuntimeError{Err: err}
	}
	return nil
}

// RuntimeError wraps a failure that happened after startup completed (an
// actor in the run.Group exited with an error), as opposed to a startup
// failure (bad config, corrupt store, provisioning impossible). main.go
// uses this distinction to choose between exit codes 1 and 2 per spec.md
// §6.
type RuntimeError struct{ Err error }

func (e *RuntimeError) Error() string { return e.Err.Error() }
func (e *RuntimeError) Unwrap() error  { return e.Err }

func (o *Orchestrator) provisionWithRetry(ctx context.Context) (identity.Identity, error) {
	delay := time.Second
	const maxDelay = 60 * time.Second
	for {
		id, err := o.provisioner.Provision(ctx, o.cfg.DeviceName, o.cfg.DeviceType, identity.HostInfo{
			AgentVersion: "edged",
		})
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, identity.ErrTransientNetwork) {
			return identity.Identity{}, err
		}
		o.logger.WithComponent(logging.ComponentProvisioning).WithFields(map[string]interface{}{
			"error": err.Error(), "retry_in": delay.String(),
		}).Warn("provisioning failed, retrying")

		select {
		case <-ctx.Done():
			return identity.Identity{}, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
