package adapter

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/edged/edged/pkg/adapter/faketransport"
	"github.com/edged/edged/pkg/logging"
)

func TestSupervisorPollsAndWritesSamples(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "sensor.sock")

	ft := faketransport.New()
	ft.SetValue("temp", 21.5)

	sup := NewSupervisor(logging.New())
	sup.RegisterTransport(ProtocolModbusTCP, func(cfg SensorConfig) (Transport, error) {
		return ft, nil
	})

	cfg := SensorConfig{
		SensorID:     "s1",
		DeviceName:   "tank-1",
		Protocol:     ProtocolModbusTCP,
		Mode:         ModePoll,
		PollInterval: 20 * time.Millisecond,
		DataPoints:   []DataPoint{{Name: "temp", Unit: "C"}},
		Enabled:      true,
	}
	output := SensorOutput{SensorID: "s1", SocketPath: sockPath, Format: "ndjson"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sup.Start(ctx, cfg, output); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitForSocket(t, sockPath)

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial sink: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var sample Sample
	if err := json.Unmarshal(line, &sample); err != nil {
		t.Fatalf("decode sample: %v", err)
	}
	if sample.DeviceName != "tank-1" || sample.RegisterName != "temp" || sample.Quality != QualityGood {
		t.Errorf("unexpected sample: %+v", sample)
	}

	healths := sup.Health()
	if len(healths) != 1 || !healths[0].Connected {
		t.Errorf("expected one connected adapter, got %+v", healths)
	}
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("socket %s never appeared", path)
}
