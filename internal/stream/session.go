package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MegaGrindStone/waterwatch-assistant/internal/models"
	"github.com/google/uuid"
)

// State is the lifecycle state of a Session.
type State int

const (
	// StateIdle is a session that has not been started.
	StateIdle State = iota
	// StateSending is a started session waiting for its first fragment.
	StateSending
	// StateStreaming is a session that has received at least one fragment.
	StateStreaming
	// StateCompleted is a session whose backend reported completion.
	StateCompleted
	// StateErrored is a session whose backend reported a failure.
	StateErrored
	// StateCancelled is a session that was cancelled before reaching another terminal state.
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateErrored:
		return "errored"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen from s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateErrored || s == StateCancelled
}

// ErrAlreadyStarted is returned when Start is called on a session that isn't idle.
var ErrAlreadyStarted = errors.New("stream session already started")

// Hooks are the callbacks through which a Session reports to its owner. They are called without any
// Session lock held, possibly after the session has been cancelled; owners must check that the
// session is still the one they track.
type Hooks struct {
	// OnUpdate receives the whole buffer after each batched flush.
	OnUpdate func(s *Session, text string)
	// OnTyping is called when the completion detector changes its verdict.
	OnTyping func(s *Session, typing bool)
	// OnComplete receives the full text reported by the backend.
	OnComplete func(s *Session, fullText string)
	// OnError receives the backend failure.
	OnError func(s *Session, err error)
}

// Config configures a Session.
type Config struct {
	// Scheduler aligns buffer updates to refresh opportunities. Defaults to a FrameScheduler.
	Scheduler Scheduler
	Detector  DetectorConfig
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Session drives one exchange with a Backend: Idle, Sending, Streaming, then Completed, Errored or
// Cancelled. Fragments go through a Batcher before reaching the buffer, and the completion detector is
// re-evaluated on every buffer change and on a fixed interval.
type Session struct {
	id      string
	backend Backend
	hooks   Hooks
	cfg     Config

	logger *slog.Logger

	mu       sync.Mutex
	state    State
	text     string
	detector *Detector
	batcher  *Batcher
	cancel   context.CancelFunc
	stopTick chan struct{}
	done     chan struct{}
}

const errLoggerKey = "err"

// NewSession creates an idle Session.
func NewSession(backend Backend, hooks Hooks, cfg Config, logger *slog.Logger) *Session {
	if cfg.Scheduler == nil {
		cfg.Scheduler = FrameScheduler{Interval: DefaultFrameInterval}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.Detector = cfg.Detector.withDefaults()

	id := uuid.New().String()
	return &Session{
		id:       id,
		backend:  backend,
		hooks:    hooks,
		cfg:      cfg,
		logger:   logger.With(slog.String("module", "stream"), slog.String("stream", id)),
		detector: NewDetector(cfg.Detector),
		done:     make(chan struct{}),
	}
}

// ID returns the unique identifier of the session.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Text returns the buffer accumulated so far.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

// Typing returns the completion detector's current verdict.
func (s *Session) Typing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detector.Typing()
}

// Done is closed once the backend submission has returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Start submits history to the backend and moves the session to Sending. The submission runs in its
// own goroutine and is bound to ctx as well as to Cancel.
func (s *Session) Start(ctx context.Context, history []models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = StateSending
	s.batcher = NewBatcher(s.cfg.Scheduler, s.applyFlush)
	s.detector.Reset(s.cfg.Now())
	s.stopTick = make(chan struct{})

	msgs := append([]models.Message(nil), history...)
	go s.run(ctx, msgs)
	go s.tick(ctx, s.stopTick)

	s.logger.Debug("Stream started", slog.Int("history", len(msgs)))
	return nil
}

// Cancel aborts the backend submission and discards the buffer. It is a no-op on a session that
// already reached a terminal state, so calling it more than once has no further effect.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = StateCancelled
	s.text = ""
	s.teardownLocked()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if prev == StateIdle {
		close(s.done)
	}
	s.logger.Debug("Stream cancelled", slog.String("from", prev.String()))
}

// Evaluate re-runs the completion detector against the unchanged buffer. It is called periodically
// while streaming.
func (s *Session) Evaluate() {
	s.mu.Lock()
	if s.state != StateStreaming {
		s.mu.Unlock()
		return
	}
	was := s.detector.Typing()
	typing := s.detector.Observe(s.text, s.cfg.Now())
	s.mu.Unlock()

	if typing != was && s.hooks.OnTyping != nil {
		s.hooks.OnTyping(s, typing)
	}
}

func (s *Session) run(ctx context.Context, history []models.Message) {
	defer close(s.done)
	s.backend.Submit(ctx, history, handler{s: s})
}

func (s *Session) tick(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.Detector.EvaluateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			s.Evaluate()
		}
	}
}

// teardownLocked stops the batcher and the evaluation ticker. The caller must hold s.mu.
func (s *Session) teardownLocked() {
	if s.batcher != nil {
		s.batcher.Discard()
	}
	if s.stopTick != nil {
		close(s.stopTick)
		s.stopTick = nil
	}
}

func (s *Session) applyFlush(value string) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.text += value
	text := s.text
	was := s.detector.Typing()
	typing := s.detector.Observe(text, s.cfg.Now())
	s.mu.Unlock()

	if s.hooks.OnUpdate != nil {
		s.hooks.OnUpdate(s, text)
	}
	if typing != was && s.hooks.OnTyping != nil {
		s.hooks.OnTyping(s, typing)
	}
}

type handler struct {
	s *Session
}

func (h handler) OnToken(fragment string) {
	s := h.s

	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	if s.state == StateSending {
		s.state = StateStreaming
		s.logger.Debug("First fragment received")
	}
	batcher := s.batcher
	s.mu.Unlock()

	batcher.Accumulate(fragment)
}

func (h handler) OnComplete(fullText string) {
	s := h.s

	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	batcher := s.batcher
	s.mu.Unlock()

	// Deliver whatever is still pending before the buffer is frozen.
	batcher.Close()

	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = StateCompleted
	if s.text != fullText {
		s.logger.Debug("Buffer differs from completed text",
			slog.Int("buffer", len(s.text)),
			slog.Int("full", len(fullText)))
	}
	s.text = fullText
	s.teardownLocked()
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.logger.Debug("Stream completed", slog.Int("length", len(fullText)))
	if s.hooks.OnComplete != nil {
		s.hooks.OnComplete(s, fullText)
	}
}

func (h handler) OnError(err error) {
	s := h.s

	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = StateErrored
	s.text = ""
	s.teardownLocked()
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.logger.Error("Stream failed", slog.String(errLoggerKey, err.Error()))
	if s.hooks.OnError != nil {
		s.hooks.OnError(s, err)
	}
}
