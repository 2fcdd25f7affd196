package cloudsync

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"
)

// Sampler collects host metrics for the report loop by reading Linux's
// /proc directly. Any field that can't be read (non-Linux host, missing
// /proc entry) is left zero rather than erroring — a metrics gap should
// never block the report loop.
type Sampler struct {
	bootTime time.Time
}

func NewSampler() *Sampler {
	return &Sampler{bootTime: time.Now()}
}

func (s *Sampler) Sample() SystemMetrics {
	m := SystemMetrics{}
	m.LoadAverage1M = readLoadAverage()
	m.UptimeSeconds = readUptime()
	used, total := readMemory()
	m.MemoryUsedBytes = used
	m.MemoryTotalBytes = total
	m.TemperatureC = readTemperature()
	m.CPUUsagePercent = 0 // requires two samples over an interval; left to a future report cycle's delta if needed
	return m
}

func readLoadAverage() float64 {
	raw, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return 0
	}
	v, _ := strconv.ParseFloat(fields[0], 64)
	return v
}

func readUptime() float64 {
	raw, err := os.ReadFile("/proc/uptime")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return 0
	}
	v, _ := strconv.ParseFloat(fields[0], 64)
	return v
}

func readMemory() (used, total uint64) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, 0
	}
	defer f.Close()

	var totalKB, availKB uint64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			totalKB = parseMeminfoKB(line)
		case strings.HasPrefix(line, "MemAvailable:"):
			availKB = parseMeminfoKB(line)
		}
	}
	if totalKB == 0 {
		return 0, 0
	}
	return (totalKB - availKB) * 1024, totalKB * 1024
}

func parseMeminfoKB(line string) uint64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	v, _ := strconv.ParseUint(fields[1], 10, 64)
	return v
}

// readTemperature checks the first available thermal zone; most single-
// board edge devices (the class of hardware this agent targets) expose
// exactly one.
func readTemperature() float64 {
	raw, err := os.ReadFile("/sys/class/thermal/thermal_zone0/temp")
	if err != nil {
		return 0
	}
	milliC, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		return 0
	}
	return milliC / 1000.0
}
