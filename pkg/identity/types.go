// Package identity holds the device Identity record and the two-phase
// provisioning protocol that produces it (C4).
package identity

import "time"

// MQTTProtocol is the transport tag for the device's MQTT broker
// connection.
type MQTTProtocol string

const (
	MQTTPlain MQTTProtocol = "plain"
	MQTTTLS   MQTTProtocol = "tls"
)

// MQTTConfig holds the broker connection details returned by registration.
type MQTTConfig struct {
	BrokerHost    string       `json:"broker_host"`
	BrokerPort    int          `json:"broker_port"`
	Protocol      MQTTProtocol `json:"protocol"`
	Username      string       `json:"username"`
	Password      string       `json:"password"`
	CACertificate string       `json:"ca_certificate,omitempty"`
	Verify        bool         `json:"verify"`
}

// APITLSConfig holds the optional trust configuration for cloud HTTP calls.
type APITLSConfig struct {
	CACertificates string `json:"ca_certificates,omitempty"`
	Verify         bool   `json:"verify"`
}

// Identity is the singleton record described in spec.md §3. Exactly one
// exists for the lifetime of the device; it is created at first boot (UUID
// only) and completed by provisioning.
type Identity struct {
	UUID       string `json:"uuid"`
	DeviceID   string `json:"device_id,omitempty"`
	DeviceName string `json:"device_name,omitempty"`
	DeviceType string `json:"device_type,omitempty"`

	APIEndpoint  string `json:"api_endpoint,omitempty"`
	DeviceAPIKey string `json:"device_api_key,omitempty"`

	MQTT   MQTTConfig   `json:"mqtt"`
	APITLS APITLSConfig `json:"api_tls"`

	Provisioned  bool      `json:"provisioned"`
	RegisteredAt time.Time `json:"registered_at,omitempty"`

	// AgentVersion/OSVersion/MAC are sent as part of the Phase-2
	// registration payload and retained so they can be reported again
	// without re-probing the host.
	AgentVersion string `json:"agent_version,omitempty"`
	OSVersion    string `json:"os_version,omitempty"`
	MAC          string `json:"mac,omitempty"`
}

// HasIdentity reports whether a UUID has been assigned — true from first
// boot onward, even before provisioning completes.
func (i *Identity) HasIdentity() bool {
	return i != nil && i.UUID != ""
}
