// Package faketransport is a scriptable, in-memory adapter.Transport used
// by supervisor and session tests in place of a live protocol endpoint.
package faketransport

import (
	"context"
	"sync"

	"github.com/edged/edged/pkg/adapter"
	"github.com/edged/edged/pkg/util"
)

type Transport struct {
	mu          sync.Mutex
	values      map[string]interface{}
	invalid     map[string]bool
	connectErr  error
	readErrOnce map[string]bool
	closed      bool
}

func New() *Transport {
	return &Transport{
		values:      make(map[string]interface{}),
		invalid:     make(map[string]bool),
		readErrOnce: make(map[string]bool),
	}
}

func (t *Transport) SetValue(name string, value interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.values[name] = value
}

func (t *Transport) SetInvalid(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.invalid[name] = true
}

func (t *Transport) FailConnect(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectErr = err
}

func (t *Transport) FailNextRead(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readErrOnce[name] = true
}

func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connectErr
}

func (t *Transport) ValidateNode(ctx context.Context, dp adapter.DataPoint) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.invalid[dp.Name] {
		return util.NewProtocolError("validate", "node "+dp.Name+" rejected")
	}
	return nil
}

func (t *Transport) Read(ctx context.Context, dp adapter.DataPoint) (interface{}, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.readErrOnce[dp.Name] {
		delete(t.readErrOnce, dp.Name)
		return nil, util.NewNetworkError("read", context.DeadlineExceeded)
	}
	return t.values[dp.Name], nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
