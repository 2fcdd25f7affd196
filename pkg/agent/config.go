package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the agent's full set of startup tunables, bound from the
// environment variables named in spec.md §6, with defaults applied before
// env overrides via viper.
type Config struct {
	DataDir              string        `mapstructure:"data_dir"`
	CloudAPIEndpoint     string        `mapstructure:"cloud_api_endpoint"`
	RequireProvisioning  bool          `mapstructure:"require_provisioning"`
	ProvisioningSecret   string        `mapstructure:"provisioning_secret"`
	DeviceName           string        `mapstructure:"device_name"`
	DeviceType           string        `mapstructure:"device_type"`
	PollIntervalMS       int           `mapstructure:"poll_interval_ms"`
	ReportIntervalMS     int           `mapstructure:"report_interval_ms"`
	LogLevel             string        `mapstructure:"log_level"`
	LogCompression       bool          `mapstructure:"log_compression"`
	DeviceAPIPort        int           `mapstructure:"device_api_port"`
	ReconciliationMS     int           `mapstructure:"reconciliation_interval_ms"`
}

// PollInterval, ReportInterval, and ReconciliationInterval convert the
// millisecond env vars spec.md §6 defines into time.Duration for the
// components that consume them.
func (c Config) PollInterval() time.Duration          { return time.Duration(c.PollIntervalMS) * time.Millisecond }
func (c Config) ReportInterval() time.Duration         { return time.Duration(c.ReportIntervalMS) * time.Millisecond }
func (c Config) ReconciliationInterval() time.Duration { return time.Duration(c.ReconciliationMS) * time.Millisecond }

// LoadConfig reads Config from the process environment, applying the
// defaults spec.md states explicitly (poll 60s, report 10s, reconcile 30s,
// control API port 48484).
func LoadConfig() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for env, key := range map[string]string{
		"DATA_DIR":                   "data_dir",
		"CLOUD_API_ENDPOINT":         "cloud_api_endpoint",
		"REQUIRE_PROVISIONING":       "require_provisioning",
		"PROVISIONING_SECRET":        "provisioning_secret",
		"DEVICE_NAME":                "device_name",
		"DEVICE_TYPE":                "device_type",
		"POLL_INTERVAL_MS":           "poll_interval_ms",
		"REPORT_INTERVAL_MS":         "report_interval_ms",
		"LOG_LEVEL":                  "log_level",
		"LOG_COMPRESSION":            "log_compression",
		"DEVICE_API_PORT":            "device_api_port",
		"RECONCILIATION_INTERVAL_MS": "reconciliation_interval_ms",
	} {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("agent: binding %s: %w", env, err)
		}
	}

	v.SetDefault("data_dir", "/var/lib/edged")
	v.SetDefault("require_provisioning", true)
	v.SetDefault("device_type", "generic")
	v.SetDefault("poll_interval_ms", 60_000)
	v.SetDefault("report_interval_ms", 10_000)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_compression", true)
	v.SetDefault("device_api_port", 48484)
	v.SetDefault("reconciliation_interval_ms", 30_000)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("agent: unmarshaling config: %w", err)
	}

	if cfg.RequireProvisioning && cfg.ProvisioningSecret == "" {
		return Config{}, fmt.Errorf("agent: PROVISIONING_SECRET is required when REQUIRE_PROVISIONING is set")
	}
	return cfg, nil
}
