package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/doutor-motors/expert-chat/internal/chat"
	"github.com/doutor-motors/expert-chat/internal/middleware"
	"github.com/doutor-motors/expert-chat/internal/model"
	"github.com/doutor-motors/expert-chat/internal/service"
	"github.com/doutor-motors/expert-chat/pkg/logger"
	"github.com/doutor-motors/expert-chat/pkg/metrics"
)

// SSE event names relayed to gateway clients.
const (
	EventSnapshot = "snapshot"
	EventNotice   = "notice"
	EventError    = "error"
	EventDone     = "done"
)

// TurnRequest is the body of POST /sessions/{id}/turns.
type TurnRequest struct {
	Content        string                `json:"content"`
	ImageBase64    string                `json:"imageBase64,omitempty"`
	DocumentName   string                `json:"documentName,omitempty"`
	DocumentURL    string                `json:"documentUrl,omitempty"`
	VehicleContext *model.VehicleContext `json:"vehicleContext,omitempty"`
}

// ErrorEvent reports a failed turn. The failure text is also in the last
// snapshot's transcript.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DoneEvent closes a turn stream.
type DoneEvent struct {
	Success        bool   `json:"success"`
	ConversationID string `json:"conversationId,omitempty"`
}

// StreamHandler relays chat turns to gateway clients as server-sent events.
type StreamHandler struct {
	sessions *service.SessionService
	logger   *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(sessions *service.SessionService, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		sessions: sessions,
		logger:   log,
	}
}

// sseWriter writes headers lazily so a turn rejected before it starts can
// still get a plain JSON error.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func (s *sseWriter) start() {
	if s.started {
		return
	}
	s.started = true

	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
}

func (s *sseWriter) send(event string, data interface{}) error {
	s.start()
	return sendSSEEvent(s.w, s.flusher, event, data)
}

// Turn handles POST /api/v1/sessions/{id}/turns
func (h *StreamHandler) Turn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}

	var req TurnRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content, req.ImageBase64 != ""); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateImage(req.ImageBase64); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	out := &sseWriter{w: w, flusher: flusher}
	var last model.Snapshot

	err := h.sessions.Send(ctx, middleware.GetUserID(ctx), sessionID, chat.TurnInput{
		Content:      req.Content,
		ImageBase64:  req.ImageBase64,
		DocumentName: req.DocumentName,
		DocumentURL:  req.DocumentURL,
		Vehicle:      req.VehicleContext,
		AccessToken:  middleware.GetAccessToken(ctx),
	}, chat.Hooks{
		OnSnapshot: func(snap model.Snapshot) {
			last = snap
			if err := out.send(EventSnapshot, snap); err != nil {
				h.logger.Warn("failed to relay snapshot", zap.Error(err))
			}
		},
		OnNotice: func(n model.Notice) {
			if err := out.send(EventNotice, n); err != nil {
				h.logger.Warn("failed to relay notice", zap.Error(err))
			}
		},
	})

	if !out.started {
		switch {
		case errors.Is(err, service.ErrSessionNotFound):
			writeError(w, http.StatusNotFound, "session not found")
		case errors.Is(err, chat.ErrTurnInProgress):
			writeError(w, http.StatusConflict, "a turn is already in progress")
		case err != nil:
			h.logger.Error("turn rejected", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to start turn")
		default:
			writeError(w, http.StatusInternalServerError, "turn produced no output")
		}
		return
	}

	if err != nil {
		msg := "Erro ao processar sua mensagem."
		if a, ok := last.LastAssistant(); ok {
			msg = a.Content
		}
		out.send(EventError, &ErrorEvent{Code: "turn_failed", Message: msg})
	}

	out.send(EventDone, &DoneEvent{
		Success:        err == nil,
		ConversationID: last.ConversationID,
	})
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}
