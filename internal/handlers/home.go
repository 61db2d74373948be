package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/waterwatch-assistant/internal/models"
)

type homePageData struct {
	Sessions         []sessionView
	CurrentSessionID string
	Messages         []messageView
	Streaming        *streamView
	Error            string
}

type stateResponse struct {
	Sessions         []models.Session `json:"sessions"`
	CurrentSessionID string           `json:"currentSessionId"`
	Messages         []models.Message `json:"messages"`
	StreamingText    *string          `json:"streamingText,omitempty"`
	IsLoading        bool             `json:"isLoading"`
	IsTyping         bool             `json:"isTyping"`
	Error            string           `json:"error,omitempty"`
}

// HandleHome renders the chat page for the current session. A "session_id" query parameter switches to
// that session first.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if id := r.URL.Query().Get("session_id"); id != "" {
		if err := m.store.SwitchSession(id); err != nil {
			m.storeError(w, err, "Failed to switch session")
			return
		}
	}

	snap := m.store.Snapshot()
	data := homePageData{
		Sessions:         sessionViews(snap),
		CurrentSessionID: snap.CurrentSessionID,
		Messages:         m.messageViews(snap.Messages),
		Error:            snap.Error,
	}
	if snap.Streaming {
		data.Streaming = &streamView{
			HTML:   m.renderHTML(snap.StreamingText),
			Typing: snap.Typing,
		}
	}

	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		m.logger.Error("Failed to execute home template", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleState returns the current state of the store as JSON.
func (m Main) HandleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := m.store.Snapshot()
	res := stateResponse{
		Sessions:         snap.Sessions,
		CurrentSessionID: snap.CurrentSessionID,
		Messages:         snap.Messages,
		IsLoading:        snap.Loading,
		IsTyping:         snap.Typing,
		Error:            snap.Error,
	}
	if res.Sessions == nil {
		res.Sessions = []models.Session{}
	}
	if res.Messages == nil {
		res.Messages = []models.Message{}
	}
	if snap.Streaming {
		res.StreamingText = &snap.StreamingText
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		m.logger.Error("Failed to encode state", slog.String(errLoggerKey, err.Error()))
	}
}
