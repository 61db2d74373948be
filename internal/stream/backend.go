package stream

import (
	"context"
	"errors"
	"iter"
	"strings"

	"github.com/MegaGrindStone/waterwatch-assistant/internal/models"
)

// Handler receives the events of one submission. Fragments arrive in order, and exactly one of
// OnComplete or OnError is called unless the submission's context is cancelled first.
type Handler interface {
	OnToken(fragment string)
	OnComplete(fullText string)
	OnError(err error)
}

// Backend submits a conversation to a language model and streams the reply to a Handler. Submit blocks
// until a terminal callback has been made or ctx is cancelled, and must stop calling the Handler once
// ctx is done.
type Backend interface {
	Submit(ctx context.Context, messages []models.Message, h Handler)
}

// LLM represents a large language model that streams a reply for a conversation. It accepts a context
// and the conversation history, returning an iterator that yields response chunks and potential errors.
type LLM interface {
	Chat(ctx context.Context, messages []models.Message) iter.Seq2[string, error]
}

// FromLLM adapts an LLM to the Backend contract. System messages are dropped from the history, since
// every LLM implementation derives its own system prompt.
func FromLLM(llm LLM) Backend {
	return llmBackend{llm: llm}
}

type llmBackend struct {
	llm LLM
}

func (b llmBackend) Submit(ctx context.Context, messages []models.Message, h Handler) {
	conversation := make([]models.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}
		conversation = append(conversation, msg)
	}

	var sb strings.Builder
	for chunk, err := range b.llm.Chat(ctx, conversation) {
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			h.OnError(err)
			return
		}
		sb.WriteString(chunk)
		h.OnToken(chunk)
	}

	if ctx.Err() != nil {
		return
	}
	h.OnComplete(sb.String())
}
