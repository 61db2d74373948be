package models

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Session represents a conversation container in the chat system. It keeps the ordered history of
// committed messages together with the metadata used for listing sessions.
type Session struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	LastMessageExcerpt string    `json:"lastMessageExcerpt"`
	Timestamp          time.Time `json:"timestamp"`
	Messages           []Message `json:"messages,omitempty"`
}

// Message represents an individual committed entry within a session. A message is immutable once it
// has been appended to a session's history; the in-flight assistant reply is never a Message until the
// stream that produces it completes.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a message authored by the user.
	RoleUser Role = "user"
	// RoleAssistant represents a committed reply of the language model.
	RoleAssistant Role = "assistant"
	// RoleSystem represents an instruction message. Backends derive their own system prompt, so
	// messages with this role are never re-sent from history.
	RoleSystem Role = "system"
)

const (
	titleMaxRunes   = 30
	excerptMaxRunes = 50
)

// Clone returns a deep copy of the session, so callers can't mutate the history owned by the store.
func (s Session) Clone() Session {
	c := s
	c.Messages = append([]Message(nil), s.Messages...)
	return c
}

// LastUserIndex returns the index of the most recent user message, or -1 if there is none.
func (s Session) LastUserIndex() int {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return i
		}
	}
	return -1
}

// DeriveTitle builds a session title from the first user message: the first sentence when it is short
// enough, otherwise the first 30 characters followed by an ellipsis.
func DeriveTitle(text string) string {
	text = strings.TrimSpace(strings.Join(strings.Fields(text), " "))
	if text == "" {
		return ""
	}

	if idx := strings.IndexAny(text, ".?!。？！"); idx >= 0 {
		_, size := utf8.DecodeRuneInString(text[idx:])
		sentence := text[:idx+size]
		if utf8.RuneCountInString(sentence) <= titleMaxRunes {
			return sentence
		}
	}

	return truncateRunes(text, titleMaxRunes)
}

// Excerpt returns a single-line preview of a message content for session listings.
func Excerpt(text string) string {
	return truncateRunes(strings.Join(strings.Fields(text), " "), excerptMaxRunes)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n])) + "..."
}
