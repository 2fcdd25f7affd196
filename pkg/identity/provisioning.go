package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/edged/edged/pkg/logging"
	"github.com/edged/edged/pkg/util"
	"github.com/google/uuid"
)

// Transport is the minimal cloud-call capability Provisioner needs. It is
// expressed entirely in stdlib types so this package never imports
// pkg/httpclient — pkg/httpclient imports pkg/identity (for TLS
// configuration), so the reverse import would cycle. *httpclient.Client
// satisfies this structurally via its own Post method.
type Transport interface {
	Post(ctx context.Context, path string, headers http.Header, body []byte) (status int, respBody []byte, err error)
}

// Store is the persistence dependency Provisioner needs, defined locally
// for the same reason pkg/reconciler defines its own TargetStore: avoids a
// cycle back through pkg/store, which imports this package for Identity.
type Store interface {
	SaveIdentity(ctx context.Context, id Identity) error
	LoadIdentity(ctx context.Context) (Identity, bool, error)
}

// HostInfo supplies the host facts Phase 2 reports (mac, os_version,
// agent_version). Collected once by the Orchestrator at startup rather than
// probed here, so this package stays free of OS-specific code.
type HostInfo struct {
	MAC          string
	OSVersion    string
	AgentVersion string
}

// Provisioner drives the two-phase key-exchange-and-registration protocol
// (spec.md §4.4).
type Provisioner struct {
	store     Store
	transport Transport
	logger    *logging.Logger
	secret    string // provisioning_secret; never persisted, never logged
}

func NewProvisioner(store Store, transport Transport, logger *logging.Logger, provisioningSecret string) *Provisioner {
	return &Provisioner{store: store, transport: transport, logger: logger, secret: provisioningSecret}
}

type phase1Request struct {
	DeviceUUID         string `json:"device_uuid"`
	ProvisioningSecret string `json:"provisioning_secret"`
}

type phase1Response struct {
	CloudPublicKeyPEM string `json:"cloud_public_key"`
	KeyID             string `json:"key_id"`
}

type phase1ConfirmRequest struct {
	DeviceUUID         string `json:"device_uuid"`
	ProvisioningSecret string `json:"provisioning_secret"`
	DevicePublicKeyPEM string `json:"device_public_key"`
	KeyID              string `json:"key_id"`
}

type phase2Request struct {
	EncryptedPayload string `json:"encrypted_payload"`
	KeyID            string `json:"key_id"`
}

type registrationPayload struct {
	DeviceUUID         string `json:"device_uuid"`
	ProvisioningSecret string `json:"provisioning_secret"`
	DeviceName         string `json:"device_name"`
	DeviceType         string `json:"device_type"`
	MAC                string `json:"mac"`
	OSVersion          string `json:"os_version"`
	AgentVersion       string `json:"agent_version"`
}

type phase2Response struct {
	DeviceID string `json:"device_id"`
	MQTT     struct {
		BrokerURL     string `json:"broker_url"`
		Username      string `json:"username"`
		Password      string `json:"password"`
		CACertificate string `json:"ca_certificate,omitempty"`
		Verify        bool   `json:"verify"`
	} `json:"mqtt"`
	API struct {
		Endpoint       string `json:"endpoint"`
		DeviceAPIKey   string `json:"device_api_key"`
		CACertificates string `json:"ca_certificates,omitempty"`
		Verify         bool   `json:"verify"`
	} `json:"api"`
}

// Provision runs the full protocol against name/typ and returns the
// completed Identity, already persisted. A failed cloud exchange returns one
// of ProvisioningDenied, TransientNetwork, or ProtocolError; store, key
// generation and encoding failures are returned as plain wrapped errors.
func (p *Provisioner) Provision(ctx context.Context, name, typ string, host HostInfo) (Identity, error) {
	id, _, err := p.store.LoadIdentity(ctx)
	if err != nil {
		return Identity{}, fmt.Errorf("identity: load existing identity: %w", err)
	}
	if id.UUID == "" {
		id.UUID = uuid.NewString()
		if err := p.store.SaveIdentity(ctx, id); err != nil {
			return Identity{}, fmt.Errorf("identity: persist uuid: %w", err)
		}
	}

	cloudPub, keyID, err := p.phase1KeyExchange(ctx, id.UUID)
	if err != nil {
		return Identity{}, err
	}

	_, devicePub, err := generateKeypair()
	if err != nil {
		return Identity{}, fmt.Errorf("identity: generate device keypair: %w", err)
	}

	if err := p.phase1Confirm(ctx, id.UUID, keyID, devicePub); err != nil {
		return Identity{}, err
	}

	reg := registrationPayload{
		DeviceUUID:         id.UUID,
		ProvisioningSecret: p.secret,
		DeviceName:         name,
		DeviceType:         typ,
		MAC:                host.MAC,
		OSVersion:          host.OSVersion,
		AgentVersion:       host.AgentVersion,
	}
	resp, err := p.phase2Register(ctx, cloudPub, keyID, reg)
	if err != nil {
		return Identity{}, err
	}

	completed, err := mergeRegistration(id, name, typ, resp)
	if err != nil {
		return Identity{}, err
	}
	completed.AgentVersion = host.AgentVersion
	completed.OSVersion = host.OSVersion
	completed.MAC = host.MAC
	if err := p.store.SaveIdentity(ctx, completed); err != nil {
		return Identity{}, fmt.Errorf("identity: persist completed identity: %w", err)
	}

	p.logger.WithComponent(logging.ComponentProvisioning).WithFields(map[string]interface{}{
		"device_id": completed.DeviceID,
	}).Info("provisioning completed")
	return completed, nil
}

func (p *Provisioner) phase1KeyExchange(ctx context.Context, deviceUUID string) (pubPEM, keyID string, err error) {
	body, err := json.Marshal(phase1Request{DeviceUUID: deviceUUID, ProvisioningSecret: p.secret})
	if err != nil {
		return "", "", fmt.Errorf("identity: marshal phase1 request: %w", err)
	}
	status, raw, err := p.transport.Post(ctx, "/v1/provisioning/phase1", jsonHeaders(), body)
	if err != nil {
		return "", "", NewTransientNetwork("phase1", err)
	}
	if status == http.StatusForbidden || status == http.StatusUnauthorized {
		return "", "", NewProvisioningDenied("phase1", "provisioning secret rejected")
	}
	if status != http.StatusOK {
		return "", "", NewProtocolError("phase1", fmt.Sprintf("unexpected status %d", status))
	}
	var resp phase1Response
	if err := json.Unmarshal(raw, &resp); err != nil || resp.CloudPublicKeyPEM == "" || resp.KeyID == "" {
		return "", "", NewProtocolError("phase1", "missing cloud_public_key or key_id")
	}
	return resp.CloudPublicKeyPEM, resp.KeyID, nil
}

func (p *Provisioner) phase1Confirm(ctx context.Context, deviceUUID, keyID, devicePubPEM string) error {
	body, err := json.Marshal(phase1ConfirmRequest{
		DeviceUUID: deviceUUID, ProvisioningSecret: p.secret,
		DevicePublicKeyPEM: devicePubPEM, KeyID: keyID,
	})
	if err != nil {
		return fmt.Errorf("identity: marshal phase1 confirm: %w", err)
	}
	status, _, err := p.transport.Post(ctx, "/v1/provisioning/phase1/confirm", jsonHeaders(), body)
	if err != nil {
		return NewTransientNetwork("phase1-confirm", err)
	}
	if status == http.StatusForbidden || status == http.StatusUnauthorized {
		return NewProvisioningDenied("phase1-confirm", "provisioning secret rejected")
	}
	if status != http.StatusOK {
		return NewProtocolError("phase1-confirm", fmt.Sprintf("unexpected status %d", status))
	}
	return nil
}

func (p *Provisioner) phase2Register(ctx context.Context, cloudPubPEM, keyID string, reg registrationPayload) (phase2Response, error) {
	plain, err := json.Marshal(reg)
	if err != nil {
		return phase2Response{}, fmt.Errorf("identity: marshal registration payload: %w", err)
	}
	cloudPub, err := parsePublicKey(cloudPubPEM)
	if err != nil {
		return phase2Response{}, NewProtocolError("phase2", "cloud public key is not a valid RSA key: "+err.Error())
	}
	encrypted, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, cloudPub, plain, nil)
	if err != nil {
		return phase2Response{}, fmt.Errorf("identity: OAEP encrypt registration payload: %w", err)
	}

	body, err := json.Marshal(phase2Request{
		EncryptedPayload: base64.StdEncoding.EncodeToString(encrypted),
		KeyID:            keyID,
	})
	if err != nil {
		return phase2Response{}, fmt.Errorf("identity: marshal phase2 request: %w", err)
	}

	status, raw, err := p.transport.Post(ctx, "/v1/provisioning/phase2", jsonHeaders(), body)
	if err != nil {
		return phase2Response{}, NewTransientNetwork("phase2", err)
	}
	if status == http.StatusForbidden || status == http.StatusUnauthorized {
		return phase2Response{}, NewProvisioningDenied("phase2", "registration rejected")
	}
	if status != http.StatusOK {
		return phase2Response{}, NewProtocolError("phase2", fmt.Sprintf("unexpected status %d", status))
	}

	var resp phase2Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return phase2Response{}, NewProtocolError("phase2", "malformed registration response: "+err.Error())
	}
	if resp.DeviceID == "" || resp.API.Endpoint == "" || resp.API.DeviceAPIKey == "" {
		return phase2Response{}, NewProtocolError("phase2", "registration response missing required fields")
	}
	return resp, nil
}

func mergeRegistration(id Identity, name, typ string, resp phase2Response) (Identity, error) {
	host, portStr, err := splitBrokerURL(resp.MQTT.BrokerURL)
	if err != nil {
		return Identity{}, NewProtocolError("phase2", "malformed broker_url: "+err.Error())
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Identity{}, NewProtocolError("phase2", "malformed broker_url port: "+err.Error())
	}

	proto := MQTTPlain
	if resp.MQTT.Verify || resp.MQTT.CACertificate != "" {
		proto = MQTTTLS
	}

	id.DeviceID = resp.DeviceID
	id.DeviceName = name
	id.DeviceType = typ
	id.APIEndpoint = resp.API.Endpoint
	id.DeviceAPIKey = resp.API.DeviceAPIKey
	id.MQTT = MQTTConfig{
		BrokerHost:    host,
		BrokerPort:    port,
		Protocol:      proto,
		Username:      resp.MQTT.Username,
		Password:      resp.MQTT.Password,
		CACertificate: resp.MQTT.CACertificate,
		Verify:        resp.MQTT.Verify,
	}
	id.APITLS = APITLSConfig{CACertificates: resp.API.CACertificates, Verify: resp.API.Verify}
	id.Provisioned = true
	return id, nil
}

func splitBrokerURL(raw string) (host, port string, err error) {
	s := raw
	if idx := strings.Index(s, "://"); idx >= 0 {
		s = s[idx+3:]
	}
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("expected host:port, got %q", raw)
	}
	return parts[0], parts[1], nil
}

func generateKeypair() (*rsa.PrivateKey, string, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, "", err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, "", err
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return priv, string(pubPEM), nil
}

func parsePublicKey(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("not a PEM block")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}
	return rsaKey, nil
}

func jsonHeaders() http.Header {
	return http.Header{"Content-Type": {"application/json"}}
}

// Deprovision informs the cloud the device is leaving service and clears
// every Identity field except uuid and device_api_key (spec.md §4.4): a
// subsequent re-provision reuses the same device identity.
func (p *Provisioner) Deprovision(ctx context.Context) error {
	id, found, err := p.store.LoadIdentity(ctx)
	if err != nil {
		return fmt.Errorf("identity: load identity: %w", err)
	}
	if !found {
		return nil
	}
	body, _ := json.Marshal(map[string]string{"device_uuid": id.UUID, "device_id": id.DeviceID})
	if status, _, err := p.transport.Post(ctx, "/v1/provisioning/deprovision", jsonHeaders(), body); err != nil {
		return NewTransientNetwork("deprovision", err)
	} else if status >= 300 && status != http.StatusNotFound {
		return NewProtocolError("deprovision", fmt.Sprintf("unexpected status %d", status))
	}

	cleared := Identity{UUID: id.UUID, DeviceAPIKey: id.DeviceAPIKey}
	return p.store.SaveIdentity(ctx, cleared)
}

// FactoryResetStore is the subset of store state a factory reset wipes,
// defined locally so this package does not need to import pkg/store just
// to call Truncate.
type FactoryResetStore interface {
	Store
	TruncateTargetState(ctx context.Context) error
	TruncateAnomalies(ctx context.Context) error
}

// FactoryReset destroys Identity and TargetState; the next boot behaves as
// a first boot.
func FactoryReset(ctx context.Context, store FactoryResetStore) error {
	if err := store.SaveIdentity(ctx, Identity{}); err != nil {
		return util.NewStorageError("factory_reset_identity", err)
	}
	if err := store.TruncateTargetState(ctx); err != nil {
		return util.NewStorageError("factory_reset_target_state", err)
	}
	if err := store.TruncateAnomalies(ctx); err != nil {
		return util.NewStorageError("factory_reset_anomalies", err)
	}
	return nil
}
