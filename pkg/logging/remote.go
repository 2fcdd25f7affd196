package logging

import (
	"time"

	"github.com/sirupsen/logrus"
)

// RemoteHook is a logrus hook that offers every fired entry to the remote
// ring buffer, subject to per-level sampling. It runs after redactHook (see
// New/EnableRemote ordering) so fields are already scrubbed by the time
// they reach the ring.
type RemoteHook struct {
	ring    *Ring
	sampler Sampler
}

func (h *RemoteHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *RemoteHook) Fire(e *logrus.Entry) error {
	level := fromLogrusLevel(e.Level)
	admitted := h.sampler.Admit(level)
	if !admitted {
		return nil
	}

	component, _ := e.Data["component"].(string)
	fields := make(map[string]interface{}, len(e.Data))
	for k, v := range e.Data {
		if k == "component" {
			continue
		}
		fields[k] = v
	}

	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	h.ring.Push(Record{
		Timestamp: ts,
		Level:     level,
		Component: component,
		Message:   e.Message,
		Fields:    fields,
		Sampled:   true,
	})
	return nil
}

func fromLogrusLevel(l logrus.Level) Level {
	switch l {
	case logrus.DebugLevel, logrus.TraceLevel:
		return LevelDebug
	case logrus.WarnLevel:
		return LevelWarn
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return LevelError
	default:
		return LevelInfo
	}
}
