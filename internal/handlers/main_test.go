package handlers_test

import (
	"context"
	"encoding/json"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/MegaGrindStone/waterwatch-assistant/internal/chat"
	"github.com/MegaGrindStone/waterwatch-assistant/internal/content"
	"github.com/MegaGrindStone/waterwatch-assistant/internal/handlers"
	"github.com/MegaGrindStone/waterwatch-assistant/internal/models"
	"github.com/MegaGrindStone/waterwatch-assistant/internal/stream"
	"github.com/tmaxmax/go-sse"
)

type mockLLM struct {
	responses []string
	err       error
}

func (m mockLLM) Chat(_ context.Context, _ []models.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if m.err != nil {
			yield("", m.err)
			return
		}
		for _, resp := range m.responses {
			if !yield(resp, nil) {
				return
			}
		}
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMain(t *testing.T, llm mockLLM) (handlers.Main, *chat.Store) {
	t.Helper()

	logger := testLogger()
	store, err := chat.New(context.Background(), stream.FromLLM(llm), chat.Options{
		Stream: stream.Config{Scheduler: stream.FrameScheduler{Interval: time.Millisecond}},
	}, logger)
	if err != nil {
		t.Fatalf("chat.New() error = %v", err)
	}

	main, err := handlers.NewMain(
		store,
		content.NewRenderer(content.KaTeXMarkup{}, logger),
		content.NewRenderGate(content.DefaultGateConfig()),
		logger,
	)
	if err != nil {
		t.Fatalf("NewMain() error = %v", err)
	}

	t.Cleanup(func() {
		_ = main.Shutdown(context.Background())
		store.Close()
	})
	return main, store
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func postForm(target string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestNewMain(t *testing.T) {
	store, err := chat.New(context.Background(), stream.FromLLM(mockLLM{}), chat.Options{}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	main, err := handlers.NewMain(store, content.NewRenderer(nil, testLogger()), content.RenderGate{}, testLogger())
	if err != nil {
		t.Fatalf("NewMain() error = %v", err)
	}

	if main.Shutdown(context.Background()) != nil {
		t.Error("Shutdown() should not return error")
	}
}

func TestHandleHome(t *testing.T) {
	main, store := newMain(t, mockLLM{responses: []string{"The famous equation is ", "$$E=mc^2$$"}})

	if _, err := store.Send(context.Background(), "What is $E=mc^2$?"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(store.Snapshot().Messages) == 2 })

	tests := []struct {
		name       string
		method     string
		url        string
		wantStatus int
		wantBody   []string
	}{
		{
			name:       "Invalid method",
			method:     http.MethodPost,
			url:        "/",
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "Current session",
			method:     http.MethodGet,
			url:        "/",
			wantStatus: http.StatusOK,
			wantBody: []string{
				"What is $E=mc^2$?", // session title and user message
				`<span class="math math-block">\[E=mc^2\]</span>`,
			},
		},
		{
			name:       "Unknown session",
			method:     http.MethodGet,
			url:        "/?session_id=missing",
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.url, nil)
			w := httptest.NewRecorder()

			main.HandleHome(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleHome() status = %v, want %v", w.Code, tt.wantStatus)
			}
			for _, want := range tt.wantBody {
				if !strings.Contains(w.Body.String(), want) {
					t.Errorf("HandleHome() body = %v, want to contain %v", w.Body.String(), want)
				}
			}
		})
	}
}

func TestHandleChats(t *testing.T) {
	main, store := newMain(t, mockLLM{responses: []string{"pH 7 is neutral."}})

	tests := []struct {
		name       string
		method     string
		message    string
		wantStatus int
	}{
		{
			name:       "Invalid method",
			method:     http.MethodGet,
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "Empty message",
			method:     http.MethodPost,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Blank message",
			method:     http.MethodPost,
			message:    "   ",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Valid message",
			method:     http.MethodPost,
			message:    "Is pH 7 safe?",
			wantStatus: http.StatusAccepted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := postForm("/chats", url.Values{"message": {tt.message}})
			req.Method = tt.method
			w := httptest.NewRecorder()

			main.HandleChats(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleChats() status = %v, want %v", w.Code, tt.wantStatus)
			}
		})
	}

	waitFor(t, func() bool { return len(store.Snapshot().Messages) == 2 })
	if got := store.Snapshot().Messages[1].Content; got != "pH 7 is neutral." {
		t.Errorf("assistant message = %q, want %q", got, "pH 7 is neutral.")
	}
}

func TestHandleRegenerate(t *testing.T) {
	main, store := newMain(t, mockLLM{responses: []string{"Turbidity is measured in NTU."}})

	w := httptest.NewRecorder()
	main.HandleRegenerate(w, httptest.NewRequest(http.MethodPost, "/chats/regenerate", nil))
	if w.Code != http.StatusConflict {
		t.Errorf("HandleRegenerate() status = %v, want %v", w.Code, http.StatusConflict)
	}

	if _, err := store.Send(context.Background(), "What is turbidity?"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(store.Snapshot().Messages) == 2 })

	w = httptest.NewRecorder()
	main.HandleRegenerate(w, httptest.NewRequest(http.MethodPost, "/chats/regenerate", nil))
	if w.Code != http.StatusAccepted {
		t.Errorf("HandleRegenerate() status = %v, want %v", w.Code, http.StatusAccepted)
	}
	waitFor(t, func() bool {
		snap := store.Snapshot()
		return !snap.Loading && len(snap.Messages) == 2
	})
}

func TestHandleClear(t *testing.T) {
	main, store := newMain(t, mockLLM{responses: []string{"ok"}})

	if _, err := store.Send(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(store.Snapshot().Messages) == 2 })

	w := httptest.NewRecorder()
	main.HandleClear(w, httptest.NewRequest(http.MethodPost, "/chats/clear", nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("HandleClear() status = %v, want %v", w.Code, http.StatusNoContent)
	}
	if n := len(store.Snapshot().Messages); n != 0 {
		t.Errorf("expected no messages after clear, got %d", n)
	}
}

func TestHandleSessions(t *testing.T) {
	main, store := newMain(t, mockLLM{})

	w := httptest.NewRecorder()
	main.HandleSessions(w, httptest.NewRequest(http.MethodPost, "/sessions", nil))
	if w.Code != http.StatusCreated {
		t.Fatalf("HandleSessions() status = %v, want %v", w.Code, http.StatusCreated)
	}
	var first models.Session
	if err := json.NewDecoder(w.Body).Decode(&first); err != nil {
		t.Fatal(err)
	}
	if first.ID == "" {
		t.Fatal("expected a session id")
	}

	w = httptest.NewRecorder()
	main.HandleSessions(w, httptest.NewRequest(http.MethodPost, "/sessions", nil))
	if w.Code != http.StatusCreated {
		t.Fatalf("HandleSessions() status = %v, want %v", w.Code, http.StatusCreated)
	}

	tests := []struct {
		name       string
		handler    http.HandlerFunc
		sessionID  string
		wantStatus int
	}{
		{name: "Switch without id", handler: main.HandleSwitchSession, wantStatus: http.StatusBadRequest},
		{name: "Switch unknown", handler: main.HandleSwitchSession, sessionID: "missing", wantStatus: http.StatusNotFound},
		{name: "Switch", handler: main.HandleSwitchSession, sessionID: first.ID, wantStatus: http.StatusNoContent},
		{name: "Delete unknown", handler: main.HandleDeleteSession, sessionID: "missing", wantStatus: http.StatusNotFound},
		{name: "Delete", handler: main.HandleDeleteSession, sessionID: first.ID, wantStatus: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.handler(w, postForm("/sessions", url.Values{"session_id": {tt.sessionID}}))
			if w.Code != tt.wantStatus {
				t.Errorf("status = %v, want %v", w.Code, tt.wantStatus)
			}
		})
	}

	snap := store.Snapshot()
	if len(snap.Sessions) != 1 || snap.Sessions[0].ID == first.ID {
		t.Errorf("expected only the second session to remain, got %+v", snap.Sessions)
	}
}

func TestHandleState(t *testing.T) {
	main, store := newMain(t, mockLLM{responses: []string{"Dissolved oxygen above ", "$5\\,mg/L$ is healthy."}})

	if _, err := store.Send(context.Background(), "Healthy DO level?"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(store.Snapshot().Messages) == 2 })

	w := httptest.NewRecorder()
	main.HandleState(w, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("HandleState() status = %v, want %v", w.Code, http.StatusOK)
	}

	var res struct {
		Sessions         []models.Session `json:"sessions"`
		CurrentSessionID string           `json:"currentSessionId"`
		Messages         []models.Message `json:"messages"`
		StreamingText    *string          `json:"streamingText"`
		IsLoading        bool             `json:"isLoading"`
	}
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if len(res.Sessions) != 1 || res.Sessions[0].ID != res.CurrentSessionID {
		t.Errorf("unexpected sessions %+v", res.Sessions)
	}
	if len(res.Messages) != 2 || res.Messages[1].Content != `Dissolved oxygen above $5\,mg/L$ is healthy.` {
		t.Errorf("unexpected messages %+v", res.Messages)
	}
	if res.StreamingText != nil || res.IsLoading {
		t.Error("expected no stream in flight")
	}
}

func TestPublishesOverSSE(t *testing.T) {
	main, _ := newMain(t, mockLLM{responses: []string{"The famous equation is ", "$$E=mc^2$$"}})

	mux := http.NewServeMux()
	mux.HandleFunc("/sse", main.HandleSSE)
	mux.HandleFunc("/chats", main.HandleChats)
	mux.HandleFunc("/sessions", main.HandleSessions)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type event struct{ typ, data string }
	events := make(chan event, 256)
	go func() {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sse", nil)
		if err != nil {
			return
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return
		}
		defer resp.Body.Close()
		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				return
			}
			select {
			case events <- event{typ: ev.Type, data: ev.Data}:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Create sessions until the subscription is live.
	subscribed := false
	for i := 0; i < 100 && !subscribed; i++ {
		resp, err := http.Post(srv.URL+"/sessions", "application/x-www-form-urlencoded", nil)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		select {
		case <-events:
			subscribed = true
		case <-time.After(50 * time.Millisecond):
		}
	}
	if !subscribed {
		t.Fatal("SSE subscription never received an event")
	}

	resp, err := http.PostForm(srv.URL+"/chats", url.Values{"message": {"What is $E=mc^2$?"}})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST /chats status = %v, want %v", resp.StatusCode, http.StatusAccepted)
	}

	committed := false
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.typ == "message" && strings.Contains(ev.data, "math-block") {
				committed = true
			}
			if ev.typ == "stream_end" && committed {
				return
			}
		case <-timeout:
			t.Fatalf("did not receive the committed reply (committed=%v)", committed)
		}
	}
}
