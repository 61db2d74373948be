package services

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/MegaGrindStone/waterwatch-assistant/internal/models"
)

func newTestBolt(t *testing.T) BoltDB {
	t.Helper()
	db, err := NewBoltDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBoltDBRoundTrip(t *testing.T) {
	db := newTestBolt(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var msgs []models.Message
	for i := 0; i < 12; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		msgs = append(msgs, models.Message{
			ID:        string(rune('a' + i)),
			Role:      role,
			Content:   "message",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}

	older := models.Session{ID: "older", Title: "Older", Timestamp: base}
	newer := models.Session{
		ID:                 "newer",
		Title:              "Dissolved oxygen",
		LastMessageExcerpt: "message",
		Timestamp:          base.Add(time.Hour),
		Messages:           msgs,
	}
	for _, s := range []models.Session{older, newer} {
		if err := db.SaveSession(ctx, s); err != nil {
			t.Fatalf("failed to save session: %v", err)
		}
	}

	sessions, err := db.Sessions(ctx)
	if err != nil {
		t.Fatalf("failed to load sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != "newer" || sessions[1].ID != "older" {
		t.Errorf("expected most recent first, got %s, %s", sessions[0].ID, sessions[1].ID)
	}
	if len(sessions[0].Messages) != len(msgs) {
		t.Fatalf("expected %d messages, got %d", len(msgs), len(sessions[0].Messages))
	}
	for i, m := range sessions[0].Messages {
		if m.ID != msgs[i].ID {
			t.Errorf("message %d: expected id %s, got %s", i, msgs[i].ID, m.ID)
		}
	}
	if sessions[1].Messages != nil {
		t.Errorf("expected no messages for the older session")
	}
}

func TestBoltDBSaveReplacesHistory(t *testing.T) {
	db := newTestBolt(t)
	ctx := context.Background()

	s := models.Session{
		ID: "s",
		Messages: []models.Message{
			{ID: "1", Role: models.RoleUser, Content: "q"},
			{ID: "2", Role: models.RoleAssistant, Content: "a"},
		},
	}
	if err := db.SaveSession(ctx, s); err != nil {
		t.Fatalf("failed to save session: %v", err)
	}

	s.Messages = s.Messages[:1]
	if err := db.SaveSession(ctx, s); err != nil {
		t.Fatalf("failed to save session: %v", err)
	}

	sessions, err := db.Sessions(ctx)
	if err != nil {
		t.Fatalf("failed to load sessions: %v", err)
	}
	if len(sessions) != 1 || len(sessions[0].Messages) != 1 {
		t.Fatalf("expected the truncated history, got %+v", sessions)
	}
}

func TestBoltDBDeleteSession(t *testing.T) {
	db := newTestBolt(t)
	ctx := context.Background()

	s := models.Session{ID: "s", Messages: []models.Message{{ID: "1", Role: models.RoleUser, Content: "q"}}}
	if err := db.SaveSession(ctx, s); err != nil {
		t.Fatalf("failed to save session: %v", err)
	}
	if err := db.DeleteSession(ctx, "s"); err != nil {
		t.Fatalf("failed to delete session: %v", err)
	}
	if err := db.DeleteSession(ctx, "unknown"); err != nil {
		t.Fatalf("deleting an unknown session should not fail: %v", err)
	}

	sessions, err := db.Sessions(ctx)
	if err != nil {
		t.Fatalf("failed to load sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("expected no sessions, got %d", len(sessions))
	}
}
