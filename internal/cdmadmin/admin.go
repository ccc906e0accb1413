// Package cdmadmin exposes the CDM Service's liveness and session
// inventory over HTTP, for the admin CLI's `status` and `sessions`
// commands (SPEC_FULL §10).
package cdmadmin

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rialto-project/cdm-server/internal/cdm/service"
	"github.com/rialto-project/cdm-server/internal/cdm/types"
	"github.com/rialto-project/cdm-server/internal/cli/timeutil"
	"github.com/rialto-project/cdm-server/internal/logger"
)

// Response is the standard JSON envelope for every admin endpoint.
type Response struct {
	Status    string      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// StatusData is the payload of GET /admin/status.
type StatusData struct {
	Active        bool   `json:"active"`
	LiveSessions  int    `json:"live_sessions"`
	HeartbeatUnix int64  `json:"heartbeat_unix"`
	Uptime        string `json:"uptime"`
}

// SessionData is one entry of GET /admin/sessions.
type SessionData struct {
	KeySessionId     int32  `json:"key_session_id"`
	MediaKeysHandle  int32  `json:"media_keys_handle"`
	KeySystem        string `json:"key_system"`
	RefCounter       uint   `json:"ref_counter"`
	ShouldBeClosed   bool   `json:"should_be_closed"`
	ShouldBeReleased bool   `json:"should_be_released"`
}

// Handler serves the admin endpoints backed by svc.
type Handler struct {
	svc       *service.Service
	startedAt time.Time
}

// NewHandler builds an admin Handler. startedAt is the server's process
// start time, reported as part of the status payload's uptime.
func NewHandler(svc *service.Service, startedAt time.Time) *Handler {
	return &Handler{svc: svc, startedAt: startedAt}
}

// Mux returns an http.Handler routing:
//
//	GET    /admin/status
//	GET    /admin/sessions
//	DELETE /admin/sessions/{id}
func (h *Handler) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/status", h.status)
	mux.HandleFunc("/admin/sessions", h.sessions)
	mux.HandleFunc("/admin/sessions/", h.closeSession)
	return mux
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := h.svc.Ping()
	data := StatusData{
		Active:        status.Ok(),
		LiveSessions:  len(h.svc.ListSessions()),
		HeartbeatUnix: time.Now().Unix(),
		Uptime:        timeutil.FormatUptime(time.Since(h.startedAt).String()),
	}

	if status.Ok() {
		writeJSON(w, http.StatusOK, healthyResponse(data))
	} else {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponseWithData(data))
	}
}

func (h *Handler) sessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	summaries := h.svc.ListSessions()
	data := make([]SessionData, 0, len(summaries))
	for _, s := range summaries {
		data = append(data, SessionData{
			KeySessionId:     int32(s.KeySessionId),
			MediaKeysHandle:  int32(s.MediaKeysHandle),
			KeySystem:        string(s.KeySystem),
			RefCounter:       s.RefCounter,
			ShouldBeClosed:   s.ShouldBeClosed,
			ShouldBeReleased: s.ShouldBeReleased,
		})
	}
	writeJSON(w, http.StatusOK, healthyResponse(data))
}

func (h *Handler) closeSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	idStr := strings.TrimPrefix(r.URL.Path, "/admin/sessions/")
	if idStr == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}
	idNum, err := strconv.Atoi(idStr)
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	status, err := h.svc.CloseKeySession(r.Context(), types.KeySessionId(idNum))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, unhealthyResponse(err.Error()))
		return
	}
	if !status.Ok() {
		writeJSON(w, http.StatusNotFound, unhealthyResponse("close failed: status "+strconv.Itoa(int(status))))
		return
	}
	writeJSON(w, http.StatusOK, healthyResponse(nil))
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		logger.Error("failed to encode admin JSON response", "error", err)
		http.Error(w, `{"status":"error","error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func healthyResponse(data interface{}) Response {
	return Response{Status: "healthy", Timestamp: time.Now().UTC(), Data: data}
}

func unhealthyResponse(errMsg string) Response {
	return Response{Status: "unhealthy", Timestamp: time.Now().UTC(), Error: errMsg}
}

func unhealthyResponseWithData(data interface{}) Response {
	return Response{Status: "unhealthy", Timestamp: time.Now().UTC(), Data: data}
}
