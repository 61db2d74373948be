package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/waterwatch-assistant/internal/chat"
)

// HandleChats sends the "message" form field to the current session, creating one when there is none,
// and starts streaming the assistant reply. The reply, like the user message itself, reaches the page
// through the SSE stream, so a successful request has no body.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	msg := r.FormValue("message")
	if msg == "" {
		m.logger.Error("Message is required")
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	sent, err := m.store.Send(r.Context(), msg)
	if err != nil {
		m.storeError(w, err, "Failed to send message")
		return
	}

	m.logger.Debug("Message sent", slog.String("messageID", sent.ID))
	w.WriteHeader(http.StatusAccepted)
}

// HandleRegenerate drops the last assistant reply of the current session and streams a new one.
func (m Main) HandleRegenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := m.store.Regenerate(r.Context()); err != nil {
		m.storeError(w, err, "Failed to regenerate response")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleClear cancels any stream and empties the current session.
func (m Main) HandleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := m.store.Clear(r.Context()); err != nil {
		m.storeError(w, err, "Failed to clear chat")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m Main) storeError(w http.ResponseWriter, err error, msg string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		status = http.StatusBadRequest
	case errors.Is(err, chat.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, chat.ErrNothingToRegenerate):
		status = http.StatusConflict
	case errors.Is(err, chat.ErrClosed):
		status = http.StatusServiceUnavailable
	}

	m.logger.Error(msg, slog.Int("status", status), slog.String(errLoggerKey, err.Error()))
	http.Error(w, err.Error(), status)
}
