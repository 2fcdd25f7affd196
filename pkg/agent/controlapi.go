package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/edged/edged/pkg/auditlog"
	"github.com/edged/edged/pkg/cloudsync"
	"github.com/edged/edged/pkg/container"
	"github.com/edged/edged/pkg/identity"
	"github.com/edged/edged/pkg/logging"
	"github.com/edged/edged/pkg/metrics"
	"github.com/edged/edged/pkg/reconciler"
)

// ControlAPI is the loopback HTTP surface described in spec.md §6. Each
// handler builds a small, serializable struct and marshals it to JSON.
// Routing is a plain net/http.ServeMux with method+path matched by hand,
// since the whole surface is a handful of fixed-shape admin routes.
type ControlAPI struct {
	reconciler  *reconciler.Reconciler
	syncer      *cloudsync.Syncer
	driver      container.Driver
	identity    identity.Store
	provisioner *identity.Provisioner
	audit       *auditlog.Recorder
	metrics     *metrics.Registry
	logger      *logging.Logger
	deviceName  string
	deviceType  string
}

func NewControlAPI(
	rec *reconciler.Reconciler,
	syncer *cloudsync.Syncer,
	driver container.Driver,
	idStore identity.Store,
	provisioner *identity.Provisioner,
	audit *auditlog.Recorder,
	reg *metrics.Registry,
	logger *logging.Logger,
	deviceName, deviceType string,
) *ControlAPI {
	return &ControlAPI{
		reconciler:  rec,
		syncer:      syncer,
		driver:      driver,
		identity:    idStore,
		provisioner: provisioner,
		audit:       audit,
		deviceName:  deviceName,
		deviceType:  deviceType,
		metrics:     reg,
		logger:      logger,
	}
}

// Handler builds the ServeMux. spec.md's path parameters (:app_id, :id) are
// matched by hand: routes are registered as plain prefix patterns, without
// ServeMux's method or wildcard-segment syntax.
func (a *ControlAPI) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", a.handleStatus)
	mux.HandleFunc("/diagnostics", a.handleDiagnostics)
	mux.HandleFunc("/services", a.handleListServices)
	mux.HandleFunc("/services/", a.handleServiceAction)
	mux.HandleFunc("/apps/", a.handleAppAction)
	mux.HandleFunc("/provision", a.handleProvision)
	mux.HandleFunc("/deprovision", a.handleDeprovision)
	mux.HandleFunc("/factory-reset", a.handleFactoryReset)
	mux.HandleFunc("/config", a.handleConfig)
	mux.Handle("/metrics", a.metrics.Handler())
	return mux
}

type statusResponse struct {
	UUID             string `json:"uuid"`
	DeviceID         string `json:"device_id,omitempty"`
	Provisioned      bool   `json:"provisioned"`
	TargetVersion    string `json:"target_version"`
	ConnectionHealth string `json:"connection_health"`
	AppCount         int    `json:"app_count"`
	ServiceCount     int    `json:"service_count"`
}

func (a *ControlAPI) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, _, err := a.identity.LoadIdentity(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	target, _ := a.reconciler.GetCurrent()

	svcCount := 0
	for _, app := range target.Apps {
		svcCount += len(app.Services)
	}

	writeJSON(w, http.StatusOK, statusResponse{
		UUID:             id.UUID,
		DeviceID:         id.DeviceID,
		Provisioned:      id.Provisioned,
		TargetVersion:    target.Version,
		ConnectionHealth: string(a.syncer.Health()),
		AppCount:         len(target.Apps),
		ServiceCount:     svcCount,
	})
}

type diagnosticCheck struct {
	Name   string `json:"name"`
	Ok     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

type diagnosticsResponse struct {
	Checks []diagnosticCheck `json:"checks"`
}

func (a *ControlAPI) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var checks []diagnosticCheck

	if _, _, err := a.identity.LoadIdentity(ctx); err != nil {
		checks = append(checks, diagnosticCheck{Name: "store", Ok: false, Detail: err.Error()})
	} else {
		checks = append(checks, diagnosticCheck{Name: "store", Ok: true})
	}

	if _, err := a.driver.List(ctx); err != nil {
		checks = append(checks, diagnosticCheck{Name: "container_runtime", Ok: false, Detail: err.Error()})
	} else {
		checks = append(checks, diagnosticCheck{Name: "container_runtime", Ok: true})
	}

	health := a.syncer.Health()
	checks = append(checks, diagnosticCheck{
		Name: "cloud_connection", Ok: health == cloudsync.HealthOnline, Detail: string(health),
	})

	writeJSON(w, http.StatusOK, diagnosticsResponse{Checks: checks})
}

func (a *ControlAPI) handleListServices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	infos, err := a.driver.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

// handleServiceAction dispatches POST /services/:id/{start,stop,restart,pause,unpause}
// and GET /services/:id/logs.
func (a *ControlAPI) handleServiceAction(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/services/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	serviceID, action := parts[0], parts[1]

	if action == "logs" {
		a.handleServiceLogs(w, r, serviceID)
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var err error
	switch action {
	case "start":
		err = a.driver.Start(r.Context(), serviceID)
	case "stop":
		err = a.driver.Stop(r.Context(), serviceID)
	case "restart":
		if err = a.driver.Stop(r.Context(), serviceID); err == nil {
			err = a.driver.Start(r.Context(), serviceID)
		}
	case "pause":
		err = a.driver.Pause(r.Context(), serviceID)
	case "unpause":
		err = a.driver.Unpause(r.Context(), serviceID)
	default:
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}

	a.audit.RecordAdmin(fmt.Sprintf("service_%s", action), r.RemoteAddr, err)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	a.reconciler.TriggerReconcile()
	w.WriteHeader(http.StatusNoContent)
}

func (a *ControlAPI) handleServiceLogs(w http.ResponseWriter, r *http.Request, serviceID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	info, err := a.driver.Inspect(r.Context(), serviceID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleAppAction dispatches POST /apps/:app_id/{start,stop,restart} by
// applying the action to every service in the app the reconciler currently
// knows about.
func (a *ControlAPI) handleAppAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/apps/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	appID, action := parts[0], parts[1]

	target, _ := a.reconciler.GetCurrent()
	var services []reconciler.Service
	for _, app := range target.Apps {
		if app.AppID == appID {
			services = app.Services
			break
		}
	}
	if services == nil {
		writeError(w, http.StatusNotFound, "unknown app")
		return
	}

	var firstErr error
	for _, svc := range services {
		var err error
		switch action {
		case "start":
			err = a.driver.Start(r.Context(), svc.ServiceID)
		case "stop":
			err = a.driver.Stop(r.Context(), svc.ServiceID)
		case "restart":
			if err = a.driver.Stop(r.Context(), svc.ServiceID); err == nil {
				err = a.driver.Start(r.Context(), svc.ServiceID)
			}
		default:
			writeError(w, http.StatusNotFound, "unknown action")
			return
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	a.audit.RecordAdmin(fmt.Sprintf("app_%s", action), r.RemoteAddr, firstErr)
	if firstErr != nil {
		writeError(w, http.StatusInternalServerError, firstErr.Error())
		return
	}
	a.reconciler.TriggerReconcile()
	w.WriteHeader(http.StatusNoContent)
}

func (a *ControlAPI) handleProvision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	_, err := a.provisioner.Provision(r.Context(), a.deviceName, a.deviceType, identity.HostInfo{})
	a.audit.RecordAdmin("provision", r.RemoteAddr, err)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *ControlAPI) handleDeprovision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	err := a.provisioner.Deprovision(r.Context())
	a.audit.RecordAdmin("deprovision", r.RemoteAddr, err)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *ControlAPI) handleFactoryReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	resetStore, ok := a.identity.(identity.FactoryResetStore)
	if !ok {
		writeError(w, http.StatusInternalServerError, "store does not support factory reset")
		return
	}
	err := identity.FactoryReset(r.Context(), resetStore)
	a.audit.RecordAdmin("factory_reset", r.RemoteAddr, err)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// configWhitelist names the keys POST /config is allowed to change, per
// spec.md §6 ("whitelisted keys only").
var configWhitelist = map[string]bool{
	"log_level": true,
}

func (a *ControlAPI) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]bool{"log_level": true})
	case http.MethodPost:
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		for k, v := range body {
			if !configWhitelist[k] {
				writeError(w, http.StatusForbidden, fmt.Sprintf("key %q is not configurable via this API", k))
				return
			}
			if k == "log_level" {
				if err := a.logger.SetLevel(v); err != nil {
					writeError(w, http.StatusBadRequest, err.Error())
					return
				}
			}
		}
		a.audit.RecordAdmin("config_update", r.RemoteAddr, nil)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
