package handlers

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"time"

	"github.com/MegaGrindStone/waterwatch-assistant/internal/chat"
	"github.com/MegaGrindStone/waterwatch-assistant/internal/models"
	"github.com/tmaxmax/go-sse"
)

// SSE event types for real-time updates.
var (
	sessionsSSEType  = sse.Type("sessions")
	historySSEType   = sse.Type("history")
	messageSSEType   = sse.Type("message")
	streamSSEType    = sse.Type("stream")
	streamEndSSEType = sse.Type("stream_end")
	errorSSEType     = sse.Type("chat_error")
)

type sessionView struct {
	ID        string
	Title     string
	Excerpt   string
	Timestamp time.Time
	Active    bool
}

type messageView struct {
	ID        string
	Role      string
	HTML      template.HTML
	Timestamp time.Time
}

type streamView struct {
	HTML   template.HTML
	Typing bool
}

// streamState is the last streaming buffer sent to clients. It is only touched by the publish loop.
type streamState struct {
	published string
	typing    bool
}

func (m Main) publishLoop(ctx context.Context) {
	defer close(m.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.events.signal:
		}

		events := m.events.drain()
		for i, ev := range events {
			// A buffer update superseded by the next one in the same batch is never visible.
			if ev.Type == chat.EventStreamUpdated && i+1 < len(events) && events[i+1].Type == chat.EventStreamUpdated {
				continue
			}
			m.publishEvent(ev)
		}
	}
}

func (m Main) publishEvent(ev chat.Event) {
	switch ev.Type {
	case chat.EventSessionsChanged:
		m.publishSessions()
	case chat.EventHistoryChanged:
		m.publishHistory()
	case chat.EventMessageAppended:
		m.publishTemplate(messageSSEType, "chat_message", m.messageView(ev.Message))
	case chat.EventStreamStarted:
		m.stream.published = ""
		m.stream.typing = true
		m.publishStream("")
	case chat.EventStreamUpdated:
		if !m.gate.ShouldRender(m.stream.published, ev.Text) {
			return
		}
		m.publishStream(ev.Text)
	case chat.EventTypingChanged:
		// A verdict change is always shown with the whole buffer, so a deferred tail is never held back.
		m.stream.typing = ev.Typing
		m.publishStream(ev.Text)
	case chat.EventStreamEnded:
		m.stream.published = ""
		m.stream.typing = false
		m.publish(streamEndSSEType, ev.SessionID)
	case chat.EventError:
		m.publishTemplate(errorSSEType, "error_banner", ev.Err)
	}
}

func (m Main) publishStream(text string) {
	m.stream.published = text
	m.publishTemplate(streamSSEType, "streaming_message", streamView{
		HTML:   m.renderHTML(text),
		Typing: m.stream.typing,
	})
}

func (m Main) publishSessions() {
	snap := m.store.Snapshot()
	m.publishTemplate(sessionsSSEType, "session_list", sessionViews(snap))
}

func (m Main) publishHistory() {
	snap := m.store.Snapshot()
	m.publishTemplate(historySSEType, "message_list", m.messageViews(snap.Messages))
}

func (m Main) publishTemplate(typ sse.EventType, name string, data any) {
	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, name, data); err != nil {
		m.logger.Error("Failed to execute template",
			slog.String("template", name),
			slog.String(errLoggerKey, err.Error()))
		return
	}
	m.publish(typ, sb.String())
}

func (m Main) publish(typ sse.EventType, data string) {
	msg := sse.Message{
		Type: typ,
	}
	msg.AppendData(data)

	if err := m.sseSrv.Publish(&msg); err != nil {
		m.logger.Error("Failed to publish event", slog.String(errLoggerKey, err.Error()))
	}
}

// renderHTML renders text through the Renderer. On failure the text is shown escaped, never dropped.
func (m Main) renderHTML(text string) template.HTML {
	if text == "" {
		return ""
	}
	html, err := m.renderer.Render(text)
	if err != nil {
		m.logger.Warn("Failed to render content",
			slog.Int("length", len(text)),
			slog.String(errLoggerKey, err.Error()))
		return template.HTML(fmt.Sprintf("<pre>%s</pre>", template.HTMLEscapeString(text)))
	}
	// Raw HTML in the model output is omitted by the renderer.
	return template.HTML(html)
}

func (m Main) messageView(msg models.Message) messageView {
	view := messageView{
		ID:        msg.ID,
		Role:      string(msg.Role),
		Timestamp: msg.Timestamp,
	}
	if msg.Role == models.RoleAssistant {
		view.HTML = m.renderHTML(msg.Content)
	} else {
		view.HTML = template.HTML(template.HTMLEscapeString(msg.Content))
	}
	return view
}

func (m Main) messageViews(msgs []models.Message) []messageView {
	views := make([]messageView, len(msgs))
	for i, msg := range msgs {
		views[i] = m.messageView(msg)
	}
	return views
}

func sessionViews(snap chat.Snapshot) []sessionView {
	views := make([]sessionView, len(snap.Sessions))
	for i, s := range snap.Sessions {
		title := s.Title
		if title == "" {
			title = "New chat"
		}
		views[i] = sessionView{
			ID:        s.ID,
			Title:     title,
			Excerpt:   s.LastMessageExcerpt,
			Timestamp: s.Timestamp,
			Active:    s.ID == snap.CurrentSessionID,
		}
	}
	return views
}
