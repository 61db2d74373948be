package models_test

import (
	"testing"

	"github.com/MegaGrindStone/waterwatch-assistant/internal/models"
)

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "Short first sentence",
			text: "What is pH? Explain the scale in detail please.",
			want: "What is pH?",
		},
		{
			name: "Long sentence is truncated",
			text: "Please summarize the dissolved oxygen readings from last week",
			want: "Please summarize the dissolved...",
		},
		{
			name: "Whitespace is collapsed",
			text: "  turbidity\n\nlevels  ",
			want: "turbidity levels",
		},
		{
			name: "Empty",
			text: "   ",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := models.DeriveTitle(tt.text); got != tt.want {
				t.Errorf("DeriveTitle() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSessionLastUserIndex(t *testing.T) {
	s := models.Session{Messages: []models.Message{
		{Role: models.RoleUser},
		{Role: models.RoleAssistant},
		{Role: models.RoleUser},
		{Role: models.RoleAssistant},
	}}

	if got := s.LastUserIndex(); got != 2 {
		t.Errorf("LastUserIndex() = %d, want 2", got)
	}
	if got := (models.Session{}).LastUserIndex(); got != -1 {
		t.Errorf("LastUserIndex() on empty session = %d, want -1", got)
	}
}

func TestSessionClone(t *testing.T) {
	s := models.Session{ID: "1", Messages: []models.Message{{ID: "m1", Content: "hi"}}}
	c := s.Clone()
	c.Messages[0].Content = "changed"

	if s.Messages[0].Content != "hi" {
		t.Error("Clone() should not share the message slice")
	}
}
