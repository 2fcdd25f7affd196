package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/edged/edged/pkg/logging"
)

type memStore struct {
	mu  sync.Mutex
	id  Identity
	has bool
}

func (m *memStore) SaveIdentity(ctx context.Context, id Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id, m.has = id, true
	return nil
}

func (m *memStore) LoadIdentity(ctx context.Context) (Identity, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id, m.has, nil
}

func (m *memStore) TruncateTargetState(ctx context.Context) error { return nil }
func (m *memStore) TruncateAnomalies(ctx context.Context) error   { return nil }

// fakeCloud plays the role of a cloud registrar for the handshake.
type fakeCloud struct {
	priv      *rsa.PrivateKey
	denyPhase string
	badStatus map[string]int
}

func newFakeCloud(t *testing.T) *fakeCloud {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate cloud key: %v", err)
	}
	return &fakeCloud{priv: priv, badStatus: map[string]int{}}
}

func (f *fakeCloud) Post(ctx context.Context, path string, headers http.Header, body []byte) (int, []byte, error) {
	if status, ok := f.badStatus[path]; ok {
		return status, nil, nil
	}
	switch path {
	case "/v1/provisioning/phase1":
		if f.denyPhase == "phase1" {
			return http.StatusForbidden, nil, nil
		}
		pub, err := pemEncodePublicKey(&f.priv.PublicKey)
		if err != nil {
			return 0, nil, err
		}
		resp, _ := json.Marshal(phase1Response{CloudPublicKeyPEM: pub, KeyID: "key-1"})
		return http.StatusOK, resp, nil
	case "/v1/provisioning/phase1/confirm":
		if f.denyPhase == "phase1-confirm" {
			return http.StatusForbidden, nil, nil
		}
		return http.StatusOK, nil, nil
	case "/v1/provisioning/phase2":
		if f.denyPhase == "phase2" {
			return http.StatusForbidden, nil, nil
		}
		resp := phase2Response{DeviceID: "dev-123"}
		resp.MQTT.BrokerURL = "tcp://broker.example.com:1883"
		resp.MQTT.Username = "u"
		resp.MQTT.Password = "p"
		resp.API.Endpoint = "https://api.example.com"
		resp.API.DeviceAPIKey = "api-key-xyz"
		raw, _ := json.Marshal(resp)
		return http.StatusOK, raw, nil
	case "/v1/provisioning/deprovision":
		return http.StatusOK, nil, nil
	}
	return http.StatusNotFound, nil, nil
}

func pemEncodePublicKey(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

func TestProvisionSucceeds(t *testing.T) {
	store := &memStore{}
	cloud := newFakeCloud(t)
	p := NewProvisioner(store, cloud, logging.New(), "secret-1")

	id, err := p.Provision(context.Background(), "tank-1", "sensor-gateway", HostInfo{MAC: "aa:bb", OSVersion: "linux", AgentVersion: "1.0"})
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if id.DeviceID != "dev-123" || !id.Provisioned {
		t.Fatalf("unexpected identity: %+v", id)
	}
	if id.MQTT.BrokerHost != "broker.example.com" || id.MQTT.BrokerPort != 1883 {
		t.Errorf("unexpected mqtt config: %+v", id.MQTT)
	}
	if id.APIEndpoint != "https://api.example.com" || id.DeviceAPIKey != "api-key-xyz" {
		t.Errorf("unexpected api config: %+v", id)
	}

	stored, found, err := store.LoadIdentity(context.Background())
	if err != nil || !found || stored.DeviceID != "dev-123" {
		t.Fatalf("identity was not persisted: %+v found=%v err=%v", stored, found, err)
	}
}

func TestProvisionDeniedSecretReturnsProvisioningDenied(t *testing.T) {
	store := &memStore{}
	cloud := newFakeCloud(t)
	cloud.denyPhase = "phase1"
	p := NewProvisioner(store, cloud, logging.New(), "bad-secret")

	_, err := p.Provision(context.Background(), "tank-1", "sensor-gateway", HostInfo{})
	var denied *ProvisioningDenied
	if !errors.As(err, &denied) {
		t.Fatalf("expected ProvisioningDenied, got %v (%T)", err, err)
	}
}

func TestProvisionMalformedResponseReturnsProtocolError(t *testing.T) {
	store := &memStore{}
	cloud := newFakeCloud(t)
	cloud.badStatus["/v1/provisioning/phase2"] = http.StatusOK // status 200 but no body -> malformed
	p := NewProvisioner(store, cloud, logging.New(), "secret-1")

	_, err := p.Provision(context.Background(), "tank-1", "sensor-gateway", HostInfo{})
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProtocolError, got %v (%T)", err, err)
	}
}

func TestDeprovisionClearsAllButUUIDAndAPIKey(t *testing.T) {
	store := &memStore{id: Identity{UUID: "u1", DeviceID: "d1", DeviceAPIKey: "key1", DeviceName: "tank-1", Provisioned: true}, has: true}
	cloud := newFakeCloud(t)
	p := NewProvisioner(store, cloud, logging.New(), "secret-1")

	if err := p.Deprovision(context.Background()); err != nil {
		t.Fatalf("Deprovision: %v", err)
	}

	got, found, _ := store.LoadIdentity(context.Background())
	if !found || got.UUID != "u1" || got.DeviceAPIKey != "key1" {
		t.Fatalf("expected uuid/api key retained, got %+v", got)
	}
	if got.DeviceID != "" || got.DeviceName != "" || got.Provisioned {
		t.Fatalf("expected everything else cleared, got %+v", got)
	}
}

func TestFactoryResetClearsIdentity(t *testing.T) {
	store := &memStore{id: Identity{UUID: "u1", DeviceID: "d1"}, has: true}
	if err := FactoryReset(context.Background(), store); err != nil {
		t.Fatalf("FactoryReset: %v", err)
	}
	got, found, _ := store.LoadIdentity(context.Background())
	if !found || got.UUID != "" || got.DeviceID != "" {
		t.Fatalf("expected empty identity after factory reset, got %+v", got)
	}
}
