package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// HandleSessions creates a fresh empty session, makes it current and returns it as JSON.
func (m Main) HandleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess, err := m.store.CreateSession()
	if err != nil {
		m.storeError(w, err, "Failed to create session")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(sess); err != nil {
		m.logger.Error("Failed to encode session", slog.String(errLoggerKey, err.Error()))
	}
}

// HandleSwitchSession makes the session named by the "session_id" form field current.
func (m Main) HandleSwitchSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.FormValue("session_id")
	if id == "" {
		http.Error(w, "Session ID is required", http.StatusBadRequest)
		return
	}

	if err := m.store.SwitchSession(id); err != nil {
		m.storeError(w, err, "Failed to switch session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDeleteSession deletes the session named by the "session_id" form field.
func (m Main) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.FormValue("session_id")
	if id == "" {
		http.Error(w, "Session ID is required", http.StatusBadRequest)
		return
	}

	if err := m.store.DeleteSession(r.Context(), id); err != nil {
		m.storeError(w, err, "Failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
