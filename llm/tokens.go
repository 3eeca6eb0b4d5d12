package llm

import (
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// perMessageOverhead approximates the role and separator tokens every chat
// message costs on top of its content.
const perMessageOverhead = 4

// TokenCounter counts tokens with the GPT-4 encoding. Other vendors tokenize
// differently, but the counts are close enough for budgeting.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a token counter.
func NewTokenCounter() (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec: %w", err)
	}
	return &TokenCounter{codec: codec}, nil
}

var (
	defaultCounter     *TokenCounter
	defaultCounterOnce sync.Once
)

// DefaultTokenCounter returns a shared counter. It never returns nil; when the
// codec cannot be loaded the counter falls back to a character estimate.
func DefaultTokenCounter() *TokenCounter {
	defaultCounterOnce.Do(func() {
		counter, err := NewTokenCounter()
		if err != nil {
			counter = &TokenCounter{}
		}
		defaultCounter = counter
	})
	return defaultCounter
}

// Count returns the number of tokens in text.
func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.codec == nil {
		return len(text) / 4
	}
	n, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}

// CountMessage returns the token cost of a single chat message.
func (tc *TokenCounter) CountMessage(msg ChatMessage) int {
	n := perMessageOverhead + tc.Count(msg.Content)
	for _, call := range msg.ToolCalls {
		n += tc.Count(call.Name) + tc.Count(string(call.Arguments))
	}
	return n
}

// CountMessages returns the token cost of a conversation.
func (tc *TokenCounter) CountMessages(messages []ChatMessage) int {
	total := 0
	for _, msg := range messages {
		total += tc.CountMessage(msg)
	}
	return total
}
