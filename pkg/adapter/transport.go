package adapter

import "context"

// Transport is implemented once per wire protocol (Modbus-TCP, OPC-UA, ...).
// Supervisor drives it through the connection state machine in
// connection.go; Transport implementations only need to know how to talk to
// one endpoint.
type Transport interface {
	Connect(ctx context.Context) error
	// ValidateNode probes one data point once at session activation.
	// Nodes that fail validation are marked invalid and skipped for the
	// rest of the session.
	ValidateNode(ctx context.Context, dp DataPoint) error
	Read(ctx context.Context, dp DataPoint) (value interface{}, err error)
	Close() error
}
