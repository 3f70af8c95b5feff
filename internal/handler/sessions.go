package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/doutor-motors/expert-chat/internal/chat"
	"github.com/doutor-motors/expert-chat/internal/middleware"
	"github.com/doutor-motors/expert-chat/internal/model"
	"github.com/doutor-motors/expert-chat/internal/service"
	"github.com/doutor-motors/expert-chat/pkg/logger"
)

// SessionHandler handles chat session endpoints.
type SessionHandler struct {
	sessions *service.SessionService
	logger   *logger.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(sessions *service.SessionService, log *logger.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		logger:   log,
	}
}

// CreateSessionResponse is returned by POST /sessions.
type CreateSessionResponse struct {
	ID       string         `json:"id"`
	Snapshot model.Snapshot `json:"snapshot"`
}

// SelectCodesRequest is the body of PUT /sessions/{id}/codes.
type SelectCodesRequest struct {
	Codes []model.DiagnosticCode `json:"codes"`
}

// LoadConversationRequest is the body of POST /sessions/{id}/load.
type LoadConversationRequest struct {
	ConversationID string `json:"conversationId"`
}

// Create handles POST /api/v1/sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	session, err := h.sessions.Create(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to create session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	writeJSON(w, http.StatusCreated, CreateSessionResponse{
		ID:       session.ID(),
		Snapshot: session.Snapshot(),
	})
}

// Get handles GET /api/v1/sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}

	session, err := h.sessions.Get(r.Context(), middleware.GetUserID(r.Context()), sessionID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session.Snapshot())
}

// Delete handles DELETE /api/v1/sessions/{id}
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}

	if err := h.sessions.Delete(r.Context(), middleware.GetUserID(r.Context()), sessionID); err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Clear handles POST /api/v1/sessions/{id}/clear
func (h *SessionHandler) Clear(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}
	userID := middleware.GetUserID(r.Context())

	if err := h.sessions.Clear(r.Context(), userID, sessionID); err != nil {
		h.writeServiceError(w, err)
		return
	}

	session, err := h.sessions.Get(r.Context(), userID, sessionID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session.Snapshot())
}

// SelectCodes handles PUT /api/v1/sessions/{id}/codes
func (h *SessionHandler) SelectCodes(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}

	var req SelectCodesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateDiagnosticCodes(req.Codes); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := h.sessions.SelectCodes(r.Context(), middleware.GetUserID(r.Context()), sessionID, req.Codes)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// Load handles POST /api/v1/sessions/{id}/load
func (h *SessionHandler) Load(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}

	var req LoadConversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateConversationID(req.ConversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := h.sessions.Load(r.Context(), middleware.GetUserID(r.Context()), sessionID, req.ConversationID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

func (h *SessionHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, chat.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, chat.ErrNoLoader):
		writeError(w, http.StatusServiceUnavailable, "conversation history unavailable")
	case errors.Is(err, chat.ErrTurnInProgress):
		writeError(w, http.StatusConflict, "a turn is already in progress")
	default:
		h.logger.Error("conversation store failure", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to load conversation")
	}
}

func sessionParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return id, true
}
