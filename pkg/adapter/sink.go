package adapter

import (
	"bufio"
	"encoding/json"
	"net"
	"os"
	"sync"

	"github.com/edged/edged/pkg/logging"
)

// Sink accepts samples for one sensor and fans them out to whatever local
// consumer is listening.
type Sink interface {
	Write(sample Sample) error
	Close() error
}

// SocketSink serves samples over a UNIX-domain socket, one JSON object per
// line, to every currently-connected reader — the "local domain socket"
// destination spec.md §4.8 describes output pipelines consuming from.
type SocketSink struct {
	path     string
	listener net.Listener
	logger   *logging.Logger

	mu      sync.Mutex
	clients map[net.Conn]*bufio.Writer
}

// NewSocketSink removes any stale socket file at path and starts listening.
func NewSocketSink(path string, logger *logging.Logger) (*SocketSink, error) {
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	s := &SocketSink{path: path, listener: ln, logger: logger, clients: make(map[net.Conn]*bufio.Writer)}
	go s.acceptLoop()
	return s, nil
}

func (s *SocketSink) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.logger.WithComponent(logging.ComponentAdapter).WithFields(map[string]interface{}{
				"socket": s.path,
				"error":  err.Error(),
			}).Debug("socket sink listener stopped")
			return
		}
		s.mu.Lock()
		s.clients[conn] = bufio.NewWriter(conn)
		s.mu.Unlock()
	}
}

func (s *SocketSink) Write(sample Sample) error {
	line, err := json.Marshal(sample)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	for conn, w := range s.clients {
		if _, err := w.Write(line); err != nil {
			delete(s.clients, conn)
			conn.Close()
			continue
		}
		if err := w.Flush(); err != nil {
			delete(s.clients, conn)
			conn.Close()
		}
	}
	return nil
}

func (s *SocketSink) Close() error {
	s.mu.Lock()
	for conn := range s.clients {
		conn.Close()
	}
	s.mu.Unlock()
	err := s.listener.Close()
	_ = os.Remove(s.path)
	return err
}
