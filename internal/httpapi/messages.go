// Package httpapi exposes the orchestrator over HTTP: message submission,
// status lookups, and the aggregate status report. Failures are always
// structured JSON with an error kind, never a bare 500 body.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/models"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/orchestrator"
)

// MessagesHandler serves the message and status endpoints.
type MessagesHandler struct {
	manager *orchestrator.Manager
	logger  *zap.Logger
}

// NewMessagesHandler creates the handler.
func NewMessagesHandler(manager *orchestrator.Manager, logger *zap.Logger) *MessagesHandler {
	return &MessagesHandler{manager: manager, logger: logger}
}

// RegisterRoutes registers the endpoints on the provided mux.
func (h *MessagesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/messages", h.handleSubmit)
	mux.HandleFunc("/api/v1/messages/", h.handleMessage)
	mux.HandleFunc("/api/v1/status", h.handleStatus)
}

type submitRequest struct {
	UserID   string                `json:"user_id"`
	UserName string                `json:"user_name"`
	Content  string                `json:"content"`
	Context  models.MessageContext `json:"context"`
}

type errorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (h *MessagesHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_request", err.Error())
		return
	}

	msg := &models.UserMessage{
		UserID:   req.UserID,
		UserName: req.UserName,
		Content:  req.Content,
		Context:  req.Context,
	}

	if err := h.manager.SubmitMessage(r.Context(), msg); err != nil {
		h.logger.Warn("Message submission rejected", zap.String("user_id", req.UserID), zap.Error(err))
		status := http.StatusUnprocessableEntity
		kind := "submission_failed"
		if strings.Contains(err.Error(), "rate limit") {
			status = http.StatusTooManyRequests
			kind = "rate_limited"
		}
		writeJSON(w, status, map[string]any{
			"message_id": msg.ID,
			"status":     msg.Status,
			"error":      errorResponse{Kind: kind, Message: err.Error()},
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"message_id": msg.ID,
		"status":     msg.Status,
	})
}

// handleMessage serves GET /api/v1/messages/{id}: current status plus the
// processed result once the message is terminal.
func (h *MessagesHandler) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/messages/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "malformed_request", "message id required")
		return
	}

	status, ok := h.manager.GetMessageStatus(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown message id")
		return
	}

	body := map[string]any{"message_id": id, "status": status}
	if result, ok := h.manager.GetResult(id); ok {
		body["result"] = result
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *MessagesHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
		return
	}
	writeJSON(w, http.StatusOK, h.manager.GetStatus())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]any{"error": errorResponse{Kind: kind, Message: message}})
}
