package handlers

import (
	"context"
	"html/template"
	"log/slog"
	"net/http"
	"sync"
	"time"

	waterwatch "github.com/MegaGrindStone/waterwatch-assistant"
	"github.com/MegaGrindStone/waterwatch-assistant/internal/chat"
	"github.com/MegaGrindStone/waterwatch-assistant/internal/content"
	"github.com/MegaGrindStone/waterwatch-assistant/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Store is the conversation state the handlers act on and observe. It is implemented by *chat.Store.
type Store interface {
	Subscribe(fn func(chat.Event)) func()
	Snapshot() chat.Snapshot

	Send(ctx context.Context, text string) (models.Message, error)
	Regenerate(ctx context.Context) error
	CreateSession() (models.Session, error)
	SwitchSession(id string) error
	DeleteSession(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

// Renderer turns the markdown and math of a message into HTML.
type Renderer interface {
	Render(text string) (string, error)
}

// Main handles the core functionality of the assistant, managing server-sent events, HTML templates,
// and the interactions between the browser and the chat Store. Store events are queued and published
// to SSE clients from a single goroutine, in order.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	store    Store
	renderer Renderer
	gate     content.RenderGate

	events      *eventQueue
	stream      *streamState
	unsubscribe func()
	cancel      context.CancelFunc
	done        chan struct{}

	logger *slog.Logger
}

const errLoggerKey = "err"

// NewMain creates a new Main instance bound to store. It parses the HTML templates from the embedded
// filesystem, subscribes to the store and starts publishing its events to SSE clients. Shutdown must
// be called to release the subscription.
func NewMain(store Store, renderer Renderer, gate content.RenderGate, logger *slog.Logger) (Main, error) {
	// Templates are split in three directories: layout, pages, and partial views.
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"formatTime": formatTime,
	}).ParseFS(
		waterwatch.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      []string{sse.DefaultTopic},
				}, true
			},
		},
		templates: tmpl,
		store:     store,
		renderer:  renderer,
		gate:      gate,
		events:    newEventQueue(),
		stream:    &streamState{},
		cancel:    cancel,
		done:      make(chan struct{}),
		logger:    logger.With(slog.String("module", "handlers")),
	}
	m.unsubscribe = store.Subscribe(m.events.push)

	go m.publishLoop(ctx)

	return m, nil
}

// HandleSSE streams the published events to a browser.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

// Shutdown gracefully terminates the Main instance. It stops observing the store, broadcasts a close
// message to all connected clients and waits up to 5 seconds for connections to terminate. After the
// timeout, any remaining connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	m.unsubscribe()
	m.cancel()
	<-m.done

	e := &sse.Message{Type: sse.Type("close")}
	// SSE requires data on every event.
	e.AppendData("bye")

	// Shutting down anyway.
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}

// eventQueue buffers store events without ever blocking the store, which delivers them while locked.
type eventQueue struct {
	mu     sync.Mutex
	events []chat.Event
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{signal: make(chan struct{}, 1)}
}

func (q *eventQueue) push(ev chat.Event) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *eventQueue) drain() []chat.Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	events := q.events
	q.events = nil
	return events
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("Jan 2, 15:04")
}
