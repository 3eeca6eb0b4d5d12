// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/richinex/agentpatterns/llm"
)

// ErrExhausted is returned when a queue-driven provider runs out of replies.
var ErrExhausted = errors.New("llmtest: no scripted response left")

// Call is one recorded request.
type Call struct {
	Method   string
	Messages []llm.ChatMessage
	Format   *llm.ResponseFormat
	Tools    []llm.ToolDefinition
}

// LastUser returns the content of the last user message of the call.
func (c Call) LastUser() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == llm.RoleUser {
			return c.Messages[i].Content
		}
	}
	return ""
}

// Responder computes a reply from the request. It lets tests answer
// concurrent calls by content instead of arrival order.
type Responder func(call Call) (llm.LLMResponse, error)

// Provider replays queued responses, or delegates to a Responder once the
// queue is empty.
type Provider struct {
	mu        sync.Mutex
	queue     []llm.LLMResponse
	responder Responder
	calls     []Call
}

// New creates a provider that replies with the given responses in order.
func New(responses ...llm.LLMResponse) *Provider {
	return &Provider{queue: responses}
}

// Text creates a provider replying with plain text messages in order.
func Text(replies ...string) *Provider {
	p := &Provider{}
	for _, r := range replies {
		p.queue = append(p.queue, llm.LLMResponse{Content: r})
	}
	return p
}

// Func creates a provider that computes every reply with fn.
func Func(fn Responder) *Provider {
	return &Provider{responder: fn}
}

// Match creates a provider that answers with the reply whose key is a
// substring of the last user message. Unmatched calls get fallback.
func Match(replies map[string]string, fallback string) *Provider {
	return Func(func(call Call) (llm.LLMResponse, error) {
		prompt := call.LastUser()
		for key, reply := range replies {
			if strings.Contains(prompt, key) {
				return llm.LLMResponse{Content: reply}, nil
			}
		}
		return llm.LLMResponse{Content: fallback}, nil
	})
}

// Push appends responses to the queue.
func (p *Provider) Push(responses ...llm.LLMResponse) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, responses...)
}

// Calls returns a copy of every recorded request.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallCount returns the number of recorded requests.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// Name returns "scripted".
func (p *Provider) Name() string { return "scripted" }

// Model returns "scripted-model".
func (p *Provider) Model() string { return "scripted-model" }

// Chat implements llm.Provider.
func (p *Provider) Chat(ctx context.Context, messages []llm.ChatMessage) (llm.LLMResponse, error) {
	return p.next(ctx, Call{Method: "Chat", Messages: messages})
}

// ChatWithFormat implements llm.Provider.
func (p *Provider) ChatWithFormat(ctx context.Context, messages []llm.ChatMessage, format *llm.ResponseFormat) (llm.LLMResponse, error) {
	return p.next(ctx, Call{Method: "ChatWithFormat", Messages: messages, Format: format})
}

// ChatWithTools implements llm.Provider.
func (p *Provider) ChatWithTools(ctx context.Context, messages []llm.ChatMessage, tools []llm.ToolDefinition) (llm.LLMResponse, error) {
	return p.next(ctx, Call{Method: "ChatWithTools", Messages: messages, Tools: tools})
}

// StreamChat sends the whole reply as a single chunk.
func (p *Provider) StreamChat(ctx context.Context, messages []llm.ChatMessage, chunks chan<- string) (*llm.TokenUsage, error) {
	resp, err := p.next(ctx, Call{Method: "StreamChat", Messages: messages})
	if err != nil {
		return nil, err
	}
	select {
	case chunks <- resp.Content:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return resp.Usage, nil
}

func (p *Provider) next(ctx context.Context, call Call) (llm.LLMResponse, error) {
	if err := ctx.Err(); err != nil {
		return llm.LLMResponse{}, err
	}

	call.Messages = append([]llm.ChatMessage(nil), call.Messages...)

	p.mu.Lock()
	p.calls = append(p.calls, call)
	if len(p.queue) > 0 {
		resp := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()
		return resp, nil
	}
	responder := p.responder
	p.mu.Unlock()

	if responder == nil {
		return llm.LLMResponse{}, ErrExhausted
	}
	return responder(call)
}

var _ llm.Provider = (*Provider)(nil)
