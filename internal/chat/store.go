// Package chat owns the conversation state of the assistant: the sessions and their committed messages,
// the single in-flight streaming reply, and the loading and error flags exposed to the presentation
// layer. All mutation goes through the Store's operations.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/waterwatch-assistant/internal/models"
	"github.com/MegaGrindStone/waterwatch-assistant/internal/stream"
	"github.com/google/uuid"
)

// Persister stores sessions with their committed messages. The streaming buffer is never persisted.
type Persister interface {
	Sessions(ctx context.Context) ([]models.Session, error)
	SaveSession(ctx context.Context, session models.Session) error
	DeleteSession(ctx context.Context, id string) error
}

// Snapshot is a copy of the state exposed to presentation collaborators.
type Snapshot struct {
	// Sessions are ordered most recent first and carry no messages.
	Sessions         []models.Session
	CurrentSessionID string
	Messages         []models.Message

	// StreamingText is the in-flight reply, valid while Streaming is true.
	StreamingText string
	Streaming     bool
	Typing        bool
	Loading       bool
	Error         string
}

// Options configures a Store.
type Options struct {
	// Stream configures every stream session started by the store.
	Stream stream.Config
	// Persister is optional; without it sessions only live in memory.
	Persister Persister
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Errors returned by Store operations.
var (
	ErrEmptyMessage        = errors.New("message is empty")
	ErrSessionNotFound     = errors.New("session not found")
	ErrNothingToRegenerate = errors.New("no user message to regenerate from")
	ErrClosed              = errors.New("chat store is closed")
)

const (
	errLoggerKey = "err"

	emptyResponseError = "no response received from model"
	saveFailedError    = "failed to save session"
)

// Store aggregates sessions, the active stream and the action surface. At most one stream is active
// at a time: starting a new one, switching or deleting the bound session, clearing, or closing the
// store cancels the previous one and discards its buffer.
type Store struct {
	backend   stream.Backend
	persister Persister
	streamCfg stream.Config
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	logger     *slog.Logger
	baseLogger *slog.Logger

	mu            sync.Mutex
	sessions      []*models.Session
	current       string
	active        *stream.Session
	activeSession string
	streamingText string
	typing        bool
	loading       bool
	errMsg        string
	listeners     []listener
	nextListener  int
	closed        bool
}

type listener struct {
	id int
	fn func(Event)
}

// New creates a Store bound to backend and loads persisted sessions, selecting the most recent one.
func New(ctx context.Context, backend stream.Backend, opts Options, logger *slog.Logger) (*Store, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Stream.Now == nil {
		opts.Stream.Now = opts.Now
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Store{
		backend:    backend,
		persister:  opts.Persister,
		streamCfg:  opts.Stream,
		now:        opts.Now,
		ctx:        baseCtx,
		cancel:     cancel,
		logger:     logger.With(slog.String("module", "chat")),
		baseLogger: logger,
	}

	if s.persister != nil {
		sessions, err := s.persister.Sessions(ctx)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to load sessions: %w", err)
		}
		for i := range sessions {
			sess := sessions[i]
			s.sessions = append(s.sessions, &sess)
		}
		if recent := s.mostRecentLocked(); recent != nil {
			s.current = recent.ID
		}
	}

	return s, nil
}

// Subscribe registers fn to receive every change event. Events are delivered synchronously, in order,
// while the store is locked: fn must not call back into the Store. The returned function removes the
// subscription.
func (s *Store) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextListener
	s.nextListener++
	s.listeners = append(s.listeners, listener{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.listeners = slices.DeleteFunc(s.listeners, func(l listener) bool { return l.id == id })
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Sessions:         s.summariesLocked(),
		CurrentSessionID: s.current,
		StreamingText:    s.streamingText,
		Streaming:        s.active != nil,
		Typing:           s.typing,
		Loading:          s.loading,
		Error:            s.errMsg,
	}
	if sess := s.findLocked(s.current); sess != nil {
		snap.Messages = slices.Clone(sess.Messages)
	}
	return snap
}

// Send appends a user message to the current session, creating one if none is active, and starts
// streaming the assistant reply. A stream still in flight is cancelled first.
func (s *Store) Send(ctx context.Context, text string) (models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return models.Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return models.Message{}, ErrClosed
	}

	s.cancelActiveLocked()

	sess := s.findLocked(s.current)
	if sess == nil {
		sess = s.newSessionLocked()
	}
	if sess.Title == "" {
		sess.Title = models.DeriveTitle(text)
	}

	msg := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleUser,
		Content:   text,
		Timestamp: s.now(),
	}
	s.errMsg = ""
	s.appendLocked(ctx, sess, msg)

	if err := s.startStreamLocked(sess); err != nil {
		return msg, err
	}
	return msg, nil
}

// Regenerate truncates the current session right after its most recent user message, dropping the
// assistant reply that followed, and streams a new reply.
func (s *Store) Regenerate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	sess := s.findLocked(s.current)
	if sess == nil {
		return ErrNothingToRegenerate
	}
	idx := sess.LastUserIndex()
	if idx < 0 {
		return ErrNothingToRegenerate
	}

	s.cancelActiveLocked()

	sess.Messages = sess.Messages[:idx+1]
	last := sess.Messages[idx]
	sess.LastMessageExcerpt = models.Excerpt(last.Content)
	sess.Timestamp = last.Timestamp
	s.errMsg = ""
	s.saveLocked(ctx, sess)
	s.emitLocked(Event{Type: EventHistoryChanged, SessionID: sess.ID})

	return s.startStreamLocked(sess)
}

// CreateSession starts a fresh empty session and makes it current.
func (s *Store) CreateSession() (models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return models.Session{}, ErrClosed
	}

	s.cancelActiveLocked()
	sess := s.newSessionLocked()
	s.errMsg = ""
	s.emitLocked(Event{Type: EventHistoryChanged, SessionID: sess.ID})

	return sess.Clone(), nil
}

// SwitchSession makes the session with the given id current, cancelling the stream of the session
// being left.
func (s *Store) SwitchSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.findLocked(id) == nil {
		return ErrSessionNotFound
	}
	if id == s.current {
		return nil
	}

	s.cancelActiveLocked()
	s.current = id
	s.errMsg = ""
	s.emitLocked(Event{Type: EventSessionsChanged, SessionID: id})
	s.emitLocked(Event{Type: EventHistoryChanged, SessionID: id})

	return nil
}

// DeleteSession removes a session. A stream bound to it is cancelled first. When the current session
// is deleted, the most recent remaining one becomes current, or a fresh empty session when none is
// left.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.findLocked(id) == nil {
		return ErrSessionNotFound
	}

	if s.activeSession == id {
		s.cancelActiveLocked()
	}

	s.sessions = slices.DeleteFunc(s.sessions, func(sess *models.Session) bool { return sess.ID == id })
	if s.persister != nil {
		if err := s.persister.DeleteSession(ctx, id); err != nil {
			s.logger.Error("Failed to delete session",
				slog.String("sessionID", id),
				slog.String(errLoggerKey, err.Error()))
		}
	}

	if s.current == id {
		s.errMsg = ""
		if recent := s.mostRecentLocked(); recent != nil {
			s.current = recent.ID
		} else {
			s.newSessionLocked()
		}
		s.emitLocked(Event{Type: EventHistoryChanged, SessionID: s.current})
	}
	s.emitLocked(Event{Type: EventSessionsChanged, SessionID: s.current})

	return nil
}

// Clear cancels any stream and empties the history of the current session.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	s.cancelActiveLocked()
	s.errMsg = ""

	sess := s.findLocked(s.current)
	if sess == nil {
		return nil
	}
	sess.Messages = nil
	sess.Title = ""
	sess.LastMessageExcerpt = ""
	s.saveLocked(ctx, sess)
	s.emitLocked(Event{Type: EventHistoryChanged, SessionID: sess.ID})
	s.emitLocked(Event{Type: EventSessionsChanged, SessionID: sess.ID})

	return nil
}

// Close cancels the active stream and rejects further operations. It is safe to call more than once.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.cancelActiveLocked()
	s.cancel()
}

func (s *Store) startStreamLocked(sess *models.Session) error {
	ss := stream.NewSession(s.backend, stream.Hooks{
		OnUpdate:   s.onUpdate,
		OnTyping:   s.onTyping,
		OnComplete: s.onComplete,
		OnError:    s.onError,
	}, s.streamCfg, s.baseLogger)

	s.active = ss
	s.activeSession = sess.ID
	s.streamingText = ""
	s.loading = true
	s.typing = true

	if err := ss.Start(s.ctx, slices.Clone(sess.Messages)); err != nil {
		s.clearStreamLocked()
		return fmt.Errorf("failed to start stream: %w", err)
	}

	s.logger.Debug("Stream session started",
		slog.String("sessionID", sess.ID),
		slog.String("streamID", ss.ID()))
	s.emitLocked(Event{Type: EventStreamStarted, SessionID: sess.ID})
	return nil
}

func (s *Store) cancelActiveLocked() {
	if s.active == nil {
		return
	}
	s.logger.Debug("Cancelling stream session",
		slog.String("sessionID", s.activeSession),
		slog.String("streamID", s.active.ID()))
	s.active.Cancel()
	sessionID := s.activeSession
	s.clearStreamLocked()
	s.emitLocked(Event{Type: EventStreamEnded, SessionID: sessionID})
}

func (s *Store) clearStreamLocked() {
	s.active = nil
	s.activeSession = ""
	s.streamingText = ""
	s.loading = false
	s.typing = false
}

func (s *Store) onUpdate(ss *stream.Session, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != ss {
		return
	}
	s.streamingText = text
	s.emitLocked(Event{Type: EventStreamUpdated, SessionID: s.activeSession, Text: text})
}

func (s *Store) onTyping(ss *stream.Session, typing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != ss {
		return
	}
	s.typing = typing
	s.emitLocked(Event{
		Type:      EventTypingChanged,
		SessionID: s.activeSession,
		Text:      s.streamingText,
		Typing:    typing,
	})
}

func (s *Store) onComplete(ss *stream.Session, fullText string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != ss {
		return
	}
	sessionID := s.activeSession
	s.clearStreamLocked()

	sess := s.findLocked(sessionID)
	switch {
	case sess == nil:
		s.logger.Warn("Completed stream has no session", slog.String("sessionID", sessionID))
	case fullText == "":
		s.errMsg = emptyResponseError
	default:
		s.appendLocked(s.ctx, sess, models.Message{
			ID:        uuid.New().String(),
			Role:      models.RoleAssistant,
			Content:   fullText,
			Timestamp: s.now(),
		})
	}

	s.emitLocked(Event{Type: EventStreamEnded, SessionID: sessionID})
	if s.errMsg != "" {
		s.emitLocked(Event{Type: EventError, SessionID: sessionID, Err: s.errMsg})
	}
}

func (s *Store) onError(ss *stream.Session, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != ss {
		return
	}
	sessionID := s.activeSession
	s.clearStreamLocked()
	s.errMsg = err.Error()

	s.logger.Error("Stream session failed",
		slog.String("sessionID", sessionID),
		slog.String(errLoggerKey, err.Error()))
	s.emitLocked(Event{Type: EventStreamEnded, SessionID: sessionID})
	s.emitLocked(Event{Type: EventError, SessionID: sessionID, Err: s.errMsg})
}

func (s *Store) newSessionLocked() *models.Session {
	sess := &models.Session{
		ID:        uuid.New().String(),
		Timestamp: s.now(),
	}
	s.sessions = append(s.sessions, sess)
	s.current = sess.ID
	s.emitLocked(Event{Type: EventSessionsChanged, SessionID: sess.ID})
	return sess
}

func (s *Store) appendLocked(ctx context.Context, sess *models.Session, msg models.Message) {
	sess.Messages = append(sess.Messages, msg)
	sess.LastMessageExcerpt = models.Excerpt(msg.Content)
	sess.Timestamp = msg.Timestamp
	s.saveLocked(ctx, sess)

	s.emitLocked(Event{Type: EventMessageAppended, SessionID: sess.ID, Message: msg})
	s.emitLocked(Event{Type: EventSessionsChanged, SessionID: sess.ID})
}

func (s *Store) saveLocked(ctx context.Context, sess *models.Session) {
	if s.persister == nil {
		return
	}
	if err := s.persister.SaveSession(ctx, sess.Clone()); err != nil {
		s.logger.Error("Failed to save session",
			slog.String("sessionID", sess.ID),
			slog.String(errLoggerKey, err.Error()))
		s.errMsg = saveFailedError
		s.emitLocked(Event{Type: EventError, SessionID: sess.ID, Err: s.errMsg})
	}
}

func (s *Store) findLocked(id string) *models.Session {
	if id == "" {
		return nil
	}
	for _, sess := range s.sessions {
		if sess.ID == id {
			return sess
		}
	}
	return nil
}

func (s *Store) mostRecentLocked() *models.Session {
	var recent *models.Session
	for _, sess := range s.sessions {
		if recent == nil || sess.Timestamp.After(recent.Timestamp) {
			recent = sess
		}
	}
	return recent
}

func (s *Store) summariesLocked() []models.Session {
	summaries := make([]models.Session, len(s.sessions))
	for i, sess := range s.sessions {
		summaries[i] = *sess
		summaries[i].Messages = nil
	}
	// Most recent first; ties keep the later-created session first.
	slices.Reverse(summaries)
	slices.SortStableFunc(summaries, func(a, b models.Session) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	return summaries
}
