package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestRedactFields(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]interface{}
		key    string
		want   interface{}
	}{
		{"password", map[string]interface{}{"password": "hunter2"}, "password", RedactionSentinel},
		{"device api key", map[string]interface{}{"device_api_key": "abc123"}, "device_api_key", RedactionSentinel},
		{"mqtt password mixed case", map[string]interface{}{"MQTT_Password": "x"}, "MQTT_Password", RedactionSentinel},
		{"preshared key", map[string]interface{}{"preshared_key": "sk_live_abc"}, "preshared_key", RedactionSentinel},
		{"private key", map[string]interface{}{"private_key": "-----BEGIN"}, "private_key", RedactionSentinel},
		{"unrelated field untouched", map[string]interface{}{"device": "edge-01"}, "device", "edge-01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RedactFields(tt.fields)
			if got[tt.key] != tt.want {
				t.Errorf("RedactFields()[%q] = %v, want %v", tt.key, got[tt.key], tt.want)
			}
		})
	}
}

func TestRedactHookScrubsMessageToken(t *testing.T) {
	h := redactHook{}
	e := &logrus.Entry{Message: "provisioning failed with secret sk_live_abcdef123456", Data: logrus.Fields{}}
	if err := h.Fire(e); err != nil {
		t.Fatalf("Fire() error: %v", err)
	}
	if strings.Contains(e.Message, "sk_live_abcdef123456") {
		t.Errorf("message still contains secret: %q", e.Message)
	}
	if !strings.Contains(e.Message, RedactionSentinel) {
		t.Errorf("message should contain redaction sentinel: %q", e.Message)
	}
}

func TestLoggerNeverEmitsSecretSubstring(t *testing.T) {
	var buf bytes.Buffer
	lg := New()
	lg.SetJSONFormat()
	lg.SetOutput(&buf)

	secret := "sk_live_supersecretvalue"
	lg.WithComponent(ComponentProvisioning).WithFields(map[string]interface{}{
		"provisioning_secret": secret,
		"device":              "edge-01",
	}).Info("starting phase 1 exchange")

	if strings.Contains(buf.String(), secret) {
		t.Errorf("log output contains secret verbatim: %s", buf.String())
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v (%s)", err, buf.String())
	}
	if decoded["provisioning_secret"] != RedactionSentinel {
		t.Errorf("provisioning_secret = %v, want %v", decoded["provisioning_secret"], RedactionSentinel)
	}
	if decoded["device"] != "edge-01" {
		t.Errorf("unrelated field device was mangled: %v", decoded["device"])
	}
}
