// Package dockerdriver implements container.Driver against the Docker
// Engine API over its UNIX socket via a thin hand-rolled HTTP client,
// rather than a vendored Docker SDK.
package dockerdriver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/edged/edged/pkg/container"
	"github.com/edged/edged/pkg/util"
)

const apiVersion = "v1.43"

// Driver talks to dockerd over a UNIX socket (default
// /var/run/docker.sock).
type Driver struct {
	client *http.Client
	base   string
}

// New dials no connection up front; sockPath is typically
// "/var/run/docker.sock".
func New(sockPath string) *Driver {
	return &Driver{
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					d := net.Dialer{}
					return d.DialContext(ctx, "unix", sockPath)
				},
			},
			Timeout: 30 * time.Second,
		},
		base: "http://docker",
	}
}

type containerSummary struct {
	ID     string            `json:"Id"`
	Image  string            `json:"Image"`
	State  string            `json:"State"`
	Labels map[string]string `json:"Labels"`
}

type containerDetail struct {
	Image  string            `json:"Image"`
	Config struct {
		Labels map[string]string `json:"Labels"`
	} `json:"Config"`
	State struct {
		Status   string `json:"Status"`
		ExitCode int    `json:"ExitCode"`
		Error    string `json:"Error"`
	} `json:"State"`
}

const (
	serviceLabel     = "edged.service_id"
	appLabel         = "edged.app_id"
	managedByLabel   = "edged.managed-by"
	fingerprintLabel = "edged.config_fingerprint"
)

func (d *Driver) do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("dockerdriver: marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, d.base+"/"+apiVersion+path, reader)
	if err != nil {
		return nil, fmt.Errorf("dockerdriver: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, util.NewDriverError(util.DriverRuntimeDown, method+" "+path, err)
	}
	return resp, nil
}

func classify(op string, statusCode int, body []byte) error {
	msg := fmt.Errorf("%s", string(body))
	switch {
	case statusCode == http.StatusNotFound:
		return util.NewDriverError(util.DriverNotFound, op, msg)
	case statusCode == http.StatusConflict:
		return util.NewDriverError(util.DriverConflict, op, msg)
	case statusCode >= 500:
		return util.NewDriverError(util.DriverRuntimeDown, op, msg)
	default:
		return util.NewDriverError(util.DriverFatal, op, msg)
	}
}

func (d *Driver) List(ctx context.Context) ([]container.Info, error) {
	resp, err := d.do(ctx, http.MethodGet, "/containers/json?all=true", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, classify("list", resp.StatusCode, body)
	}
	var summaries []containerSummary
	if err := json.Unmarshal(body, &summaries); err != nil {
		return nil, fmt.Errorf("dockerdriver: decode list response: %w", err)
	}
	out := make([]container.Info, 0, len(summaries))
	for _, s := range summaries {
		svc := s.Labels[serviceLabel]
		if svc == "" {
			continue
		}
		out = append(out, container.Info{
			AppID:             s.Labels[appLabel],
			ServiceID:         svc,
			ContainerID:       s.ID,
			Image:             s.Image,
			State:             mapState(s.State),
			ConfigFingerprint: s.Labels[fingerprintLabel],
		})
	}
	return out, nil
}

func mapState(dockerState string) container.State {
	switch dockerState {
	case "running":
		return container.StateRunning
	case "paused":
		return container.StatePaused
	case "exited", "created", "dead":
		return container.StateStopped
	default:
		return container.StateMissing
	}
}

func (d *Driver) findContainerID(ctx context.Context, serviceID string) (string, error) {
	infos, err := d.List(ctx)
	if err != nil {
		return "", err
	}
	for _, i := range infos {
		if i.ServiceID == serviceID {
			return i.ContainerID, nil
		}
	}
	return "", util.NewDriverError(util.DriverNotFound, "find", fmt.Errorf("no container for service %s", serviceID))
}

func (d *Driver) Inspect(ctx context.Context, serviceID string) (container.Info, error) {
	id, err := d.findContainerID(ctx, serviceID)
	if err != nil {
		return container.Info{}, err
	}
	resp, err := d.do(ctx, http.MethodGet, "/containers/"+id+"/json", nil)
	if err != nil {
		return container.Info{}, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return container.Info{}, classify("inspect", resp.StatusCode, body)
	}
	var detail containerDetail
	if err := json.Unmarshal(body, &detail); err != nil {
		return container.Info{}, fmt.Errorf("dockerdriver: decode inspect response: %w", err)
	}
	return container.Info{
		AppID:             detail.Config.Labels[appLabel],
		ServiceID:         serviceID,
		ContainerID:       id,
		Image:             detail.Image,
		State:             mapState(detail.State.Status),
		ExitCode:          detail.State.ExitCode,
		Error:             detail.State.Error,
		ConfigFingerprint: detail.Config.Labels[fingerprintLabel],
	}, nil
}

func (d *Driver) Pull(ctx context.Context, image string) error {
	resp, err := d.do(ctx, http.MethodPost, "/images/create?fromImage="+image, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return classify("pull", resp.StatusCode, body)
	}
	return nil
}

func (d *Driver) Create(ctx context.Context, spec container.Spec) (container.Info, error) {
	portBindings := map[string][]map[string]string{}
	exposedPorts := map[string]struct{}{}
	for _, p := range spec.Ports {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		key := fmt.Sprintf("%d/%s", p.ContainerPort, proto)
		portBindings[key] = []map[string]string{{"HostPort": fmt.Sprintf("%d", p.HostPort)}}
		exposedPorts[key] = struct{}{}
	}
	var binds []string
	for _, v := range spec.Volumes {
		mode := "rw"
		if v.ReadOnly {
			mode = "ro"
		}
		binds = append(binds, fmt.Sprintf("%s:%s:%s", v.HostPath, v.ContainerPath, mode))
	}
	var env []string
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	restartPolicy := map[string]string{"Name": spec.RestartPolicy}
	if spec.RestartPolicy == "" {
		restartPolicy["Name"] = "no"
	}

	payload := map[string]interface{}{
		"Image":        spec.Image,
		"Env":          env,
		"Cmd":          spec.Command,
		"ExposedPorts": exposedPorts,
		"Labels": map[string]string{
			serviceLabel:     spec.ServiceID,
			appLabel:         spec.AppID,
			managedByLabel:   "agent",
			fingerprintLabel: spec.ConfigFingerprint,
		},
		"HostConfig": map[string]interface{}{
			"PortBindings":  portBindings,
			"Binds":         binds,
			"RestartPolicy": restartPolicy,
		},
	}

	resp, err := d.do(ctx, http.MethodPost, "/containers/create?name="+spec.Name, payload)
	if err != nil {
		return container.Info{}, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated {
		return container.Info{}, classify("create", resp.StatusCode, body)
	}
	var created struct {
		ID string `json:"Id"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return container.Info{}, fmt.Errorf("dockerdriver: decode create response: %w", err)
	}
	return container.Info{
		AppID:       spec.AppID,
		ServiceID:   spec.ServiceID,
		ContainerID: created.ID,
		Image:       spec.Image,
		State:       container.StateStopped,
	}, nil
}

func (d *Driver) simpleAction(ctx context.Context, op, serviceID string) error {
	id, err := d.findContainerID(ctx, serviceID)
	if err != nil {
		return err
	}
	resp, err := d.do(ctx, http.MethodPost, "/containers/"+id+"/"+op, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotModified || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	return classify(op, resp.StatusCode, body)
}

func (d *Driver) Start(ctx context.Context, serviceID string) error   { return d.simpleAction(ctx, "start", serviceID) }
func (d *Driver) Stop(ctx context.Context, serviceID string) error    { return d.simpleAction(ctx, "stop", serviceID) }
func (d *Driver) Pause(ctx context.Context, serviceID string) error   { return d.simpleAction(ctx, "pause", serviceID) }
func (d *Driver) Unpause(ctx context.Context, serviceID string) error { return d.simpleAction(ctx, "unpause", serviceID) }

func (d *Driver) Remove(ctx context.Context, serviceID string) error {
	id, err := d.findContainerID(ctx, serviceID)
	if err != nil {
		var de *util.DriverError
		if errors.As(err, &de) && de.Class == util.DriverNotFound {
			return nil
		}
		return err
	}
	resp, err := d.do(ctx, http.MethodDelete, "/containers/"+id+"?force=true", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	return classify("remove", resp.StatusCode, body)
}
