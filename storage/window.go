package storage

import (
	"github.com/richinex/agentpatterns/llm"
)

// DefaultWindowTokens is the history budget used when none is configured.
const DefaultWindowTokens = 8000

// Window trims a conversation history to a token budget. System messages are
// always kept; the oldest other messages are dropped first, and the newest
// message is never dropped.
type Window struct {
	MaxTokens int
	Counter   *llm.TokenCounter
}

// NewWindow creates a window with the given budget using the shared counter.
func NewWindow(maxTokens int) *Window {
	if maxTokens <= 0 {
		maxTokens = DefaultWindowTokens
	}
	return &Window{MaxTokens: maxTokens, Counter: llm.DefaultTokenCounter()}
}

// Apply returns the trimmed history. The input slice is not modified.
func (w *Window) Apply(history []llm.ChatMessage) []llm.ChatMessage {
	if w == nil || len(history) == 0 {
		return history
	}

	var system, rest []llm.ChatMessage
	for _, msg := range history {
		if msg.Role == llm.RoleSystem {
			system = append(system, msg)
		} else {
			rest = append(rest, msg)
		}
	}

	budget := w.MaxTokens - w.Counter.CountMessages(system)
	total := w.Counter.CountMessages(rest)

	start := 0
	for start < len(rest)-1 && total > budget {
		total -= w.Counter.CountMessage(rest[start])
		start++
	}
	// A tool result without the assistant turn that requested it is
	// rejected by every provider.
	for start < len(rest)-1 && rest[start].Role == llm.RoleTool {
		start++
	}

	out := make([]llm.ChatMessage, 0, len(system)+len(rest)-start)
	out = append(out, system...)
	out = append(out, rest[start:]...)
	return out
}
