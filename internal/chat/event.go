package chat

import "github.com/MegaGrindStone/waterwatch-assistant/internal/models"

// EventType identifies a change of the Store.
type EventType string

const (
	// EventSessionsChanged is emitted when the session list or the current session changes.
	EventSessionsChanged EventType = "sessions"
	// EventHistoryChanged is emitted when the history of a session is replaced rather than appended to
	// (switch, clear, regenerate, new session).
	EventHistoryChanged EventType = "history"
	// EventMessageAppended carries a message committed to a session.
	EventMessageAppended EventType = "message"
	// EventStreamStarted is emitted when a reply starts streaming.
	EventStreamStarted EventType = "stream_started"
	// EventStreamUpdated carries the whole streaming buffer after a batched update.
	EventStreamUpdated EventType = "stream_updated"
	// EventTypingChanged carries the verdict of the completion detector and the current buffer.
	EventTypingChanged EventType = "typing"
	// EventStreamEnded is emitted when the streaming slot is cleared, whatever the reason.
	EventStreamEnded EventType = "stream_ended"
	// EventError carries an error to show to the user.
	EventError EventType = "error"
)

// Event describes one change of the Store.
type Event struct {
	Type      EventType
	SessionID string

	Text    string
	Typing  bool
	Message models.Message
	Err     string
}

func (s *Store) emitLocked(ev Event) {
	for _, l := range s.listeners {
		l.fn(ev)
	}
}
