package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/tasksync/internal/services"
)

// ServiceManager is the slice of the service manager the API layer needs.
type ServiceManager interface {
	Schedule(service services.ServiceType, opType, targetID string, payload services.Payload, priority services.Priority) (string, error)
	ValidateDependency(ctx context.Context, fromID, toID string) (services.CycleResult, error)
	OverallStatus() services.OverallSnapshot
	ServiceStatus(service services.ServiceType) (services.ServiceSnapshot, error)
	SetServiceEnabled(service services.ServiceType, enabled bool) error
}

// NewStatusHandler returns the HTTP surface for service observability:
// health, aggregate status, per-service status, and the enable toggle.
func NewStatusHandler(m ServiceManager) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Get("/status", handleStatus(m))
	r.Get("/services/{service}", handleServiceStatus(m))
	r.Put("/services/{service}/enabled", handleServiceEnabled(m))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleStatus(m ServiceManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, m.OverallStatus())
	}
}

func handleServiceStatus(m ServiceManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		service, err := services.ParseServiceType(chi.URLParam(r, "service"))
		if err != nil {
			httpError(w, http.StatusNotFound, "not_found", "%v", err)
			return
		}
		snap, err := m.ServiceStatus(service)
		if err != nil {
			httpError(w, http.StatusServiceUnavailable, "service_unavailable", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func handleServiceEnabled(m ServiceManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		service, err := services.ParseServiceType(chi.URLParam(r, "service"))
		if err != nil {
			httpError(w, http.StatusNotFound, "not_found", "%v", err)
			return
		}

		var body struct {
			Enabled bool `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if err := m.SetServiceEnabled(service, body.Enabled); err != nil {
			httpError(w, http.StatusServiceUnavailable, "service_unavailable", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"service": service, "enabled": body.Enabled})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, errType, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"type":    errType,
			"message": fmt.Sprintf(format, args...),
		},
	})
}
