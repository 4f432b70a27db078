package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/retasync-go/internal/config"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	deps   Deps
	config Config
	logger *zap.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(deps Deps, cfg Config) *Handlers {
	cfg.setDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{deps: deps, config: cfg, logger: logger}
}

// Health endpoints

// Live handles GET /health/live
func (h *Handlers) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// Ready handles GET /health/ready. It answers 503 until the node is
// running and the mesh bridge is reachable.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	health, err := h.deps.Node.GetHealth(r.Context())
	if err != nil {
		writeFailure(w, r, h.logger, err, "")
		return
	}

	resp := HealthResponse{
		Status:       "ready",
		Ready:        health.Ready && health.Healthy,
		StoreHealthy: health.StoreHealthy,
		LinkState:    health.LinkState.String(),
		Message:      health.Message,
	}
	statusCode := http.StatusOK
	if !resp.Ready {
		resp.Status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, resp, statusCode)
}

// Node endpoints

// NodeStatus handles GET /v1/node/status
func (h *Handlers) NodeStatus(w http.ResponseWriter, r *http.Request) {
	health, err := h.deps.Node.GetHealth(r.Context())
	if err != nil {
		writeFailure(w, r, h.logger, err, "")
		return
	}

	resp := NodeStatusResponse{
		Identity:     h.deps.Node.GetNodeID(),
		Version:      h.config.Version,
		Healthy:      health.Healthy,
		Ready:        health.Ready,
		StoreHealthy: health.StoreHealthy,
		LinkState:    health.LinkState.String(),
		InFlight:     health.InFlight,
		StartedAt:    health.StartedAt,
		ACLMode:      h.deps.Node.Settings().ACLMode.String(),
		Message:      health.Message,
	}
	if !health.StartedAt.IsZero() {
		resp.UptimeSeconds = int64(time.Since(health.StartedAt).Seconds())
	}
	writeJSON(w, resp, http.StatusOK)
}

// GetConfig handles GET /v1/node/config
func (h *Handlers) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.deps.Node.Settings(), http.StatusOK)
}

// UpdateConfig handles PUT /v1/node/config
func (h *Handlers) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var patch config.DynamicPatch
	if !h.decodeJSON(w, r, &patch) {
		return
	}
	if patch.Empty() {
		writeValidation(w, "config", "patch changes nothing (acl_mode, prefer_link, retention)")
		return
	}

	updated, rev, err := h.deps.Node.UpdateSettings(r.Context(), patch)
	if err != nil {
		writeFailure(w, r, h.logger, err, "")
		return
	}
	writeJSON(w, ConfigUpdateResponse{RevisionID: rev.RevisionID, CreatedAt: rev.CreatedAt, Config: updated}, http.StatusOK)
}

// Contract handles GET /v1/contracts/asyncapi. YAML unless the caller
// asks for JSON.
func (h *Handlers) Contract(w http.ResponseWriter, r *http.Request) {
	doc := h.deps.Contract
	if doc == nil {
		writeError(w, http.StatusNotFound, ReasonNotFound, "no contract document loaded", "")
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		data, err := doc.JSON()
		if err != nil {
			writeFailure(w, r, h.logger, err, "")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}

	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.YAML())
}

// Helper methods

// readBody reads the request body, enforcing MaxBodyBytes.
func (h *Handlers) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.config.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ReasonValidation,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), "body")
			return nil, false
		}
		writeValidation(w, "body", "failed to read request body: "+err.Error())
		return nil, false
	}
	return body, true
}

// decodeJSON decodes a JSON object body into v.
func (h *Handlers) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body, ok := h.readBody(w, r)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeValidation(w, "body", "Invalid request body: "+err.Error())
		return false
	}
	return true
}
