// Package logging is edged's structured logging pipeline (C2): a local
// line-delimited sink plus an optional sampled, redacted, buffered remote
// sink, with every record tagged by a closed Component enumeration rather
// than a free-form string field.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Component is a closed enumeration of subsystems that may emit log
// records. Keeping it closed (rather than a free-form string) means every
// call site is grep-able and the redaction/sampling hooks can assume a
// known, small set of tags.
type Component string

const (
	ComponentAgent        Component = "agent"
	ComponentContainer    Component = "container"
	ComponentReconciler   Component = "reconciler"
	ComponentCloudSync    Component = "cloud-sync"
	ComponentMQTT         Component = "mqtt"
	ComponentProvisioning Component = "provisioning"
	ComponentStore        Component = "database"
	ComponentAdapter      Component = "adapter"
	ComponentMetrics      Component = "metrics"
	ComponentControlAPI   Component = "control-api"
	ComponentHTTPClient   Component = "http-client"
	ComponentAnomaly      Component = "anomaly"
)

// Logger is the component-tagging front end to the global logrus logger.
// A single instance is constructed by the Orchestrator and handed to every
// other component as an explicit dependency — no package-level singleton
// state is read by application code (only Default() exists, and only for
// packages, like pkg/util, that have no natural way to receive one).
type Logger struct {
	base *logrus.Logger
	hook *RemoteHook // nil until EnableRemote is called
}

var defaultLogger = New()

// Default returns the process-wide fallback logger used by packages that
// cannot otherwise be handed one explicitly (pkg/util.RecoverTask). The
// Orchestrator still constructs and configures its own Logger and passes it
// down explicitly everywhere else.
func Default() *Logger { return defaultLogger }

// New creates a Logger with local-sink defaults: text format to stdout,
// info level.
func New() *Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	l.AddHook(redactHook{})
	return &Logger{base: l}
}

// SetLevel parses and applies a level name (debug|info|warn|error). Callers
// may change this at runtime in response to LOG_LEVEL or a control-API call.
func (lg *Logger) SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	lg.base.SetLevel(lvl)
	return nil
}

// SetJSONFormat switches the local sink to line-delimited JSON, per §4.2.
func (lg *Logger) SetJSONFormat() {
	lg.base.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
}

// SetOutput redirects the local sink, e.g. to a lumberjack-rotated file
// under DATA_DIR instead of bare stdout.
func (lg *Logger) SetOutput(w io.Writer) {
	lg.base.SetOutput(w)
}

// RotatingFile returns an io.Writer that rotates the given path using
// lumberjack, for callers that want file-based local logging instead of
// stdout (e.g. when stdout is not captured by the host's process
// supervisor).
func RotatingFile(path string, maxSizeMB, maxBackups, maxAgeDays int) io.Writer {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
}

// EnableRemote installs the remote sink: every record passing through the
// local sink is also offered to the ring buffer, subject to redaction and
// per-level sampling, for later upload by the caller's flusher.
func (lg *Logger) EnableRemote(ring *Ring, sampler Sampler) {
	hook := &RemoteHook{ring: ring, sampler: sampler}
	lg.hook = hook
	lg.base.AddHook(hook)
}

// DisableRemote removes the remote sink, e.g. when a SecurityError disables
// cloud connectivity entirely. Local logging is unaffected.
func (lg *Logger) DisableRemote() {
	if lg.hook == nil {
		return
	}
	hooks := lg.base.Hooks
	for lvl, hs := range hooks {
		kept := hs[:0]
		for _, h := range hs {
			if h != lg.hook {
				kept = append(kept, h)
			}
		}
		hooks[lvl] = kept
	}
	lg.hook = nil
}

// WithComponent returns an entry tagged with the given component.
func (lg *Logger) WithComponent(c Component) *logrus.Entry {
	return lg.base.WithField("component", string(c))
}

// WithFields returns an entry with the given structured fields, unattached
// to any component (rare — most call sites use WithComponent first).
func (lg *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return lg.base.WithFields(fields)
}
