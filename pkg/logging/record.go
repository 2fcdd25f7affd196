package logging

import "time"

// Level mirrors the four levels named in spec.md §4.2. It exists alongside
// logrus.Level so the remote-upload wire format (Record) doesn't couple
// callers to the logging library's own type.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Record is one buffered entry bound for the remote log-upload endpoint
// (POST /device/{uuid}/logs). It is the wire shape of LogRecord from the
// data model: timestamp, level, component, message, structured fields, and
// whether it was admitted by sampling (always true for records that make it
// into the ring — the field documents the decision for downstream
// diagnostics, not a runtime filter).
type Record struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     Level                  `json:"level"`
	Component string                 `json:"component"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Sampled   bool                   `json:"sampled"`
}
