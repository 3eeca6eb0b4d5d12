package llm

import (
	"context"
	"time"
)

// Recorder receives one observation per completed provider call.
type Recorder interface {
	ObserveRequest(provider, model, operation string, promptTokens, completionTokens int, success bool, duration time.Duration)
}

// NopRecorder discards all observations.
type NopRecorder struct{}

// ObserveRequest does nothing.
func (NopRecorder) ObserveRequest(_, _, _ string, _, _ int, _ bool, _ time.Duration) {}

// Instrument wraps a provider so every call is reported to rec. When the
// provider omits usage, token counts are estimated locally.
func Instrument(p Provider, rec Recorder) Provider {
	if rec == nil {
		return p
	}
	return &instrumented{next: p, rec: rec, counter: DefaultTokenCounter()}
}

type instrumented struct {
	next    Provider
	rec     Recorder
	counter *TokenCounter
}

func (i *instrumented) Name() string  { return i.next.Name() }
func (i *instrumented) Model() string { return i.next.Model() }

func (i *instrumented) Chat(ctx context.Context, messages []ChatMessage) (LLMResponse, error) {
	start := time.Now()
	resp, err := i.next.Chat(ctx, messages)
	i.observe("chat", messages, resp.Content, resp.Usage, err, start)
	return resp, err
}

func (i *instrumented) ChatWithFormat(ctx context.Context, messages []ChatMessage, format *ResponseFormat) (LLMResponse, error) {
	start := time.Now()
	resp, err := i.next.ChatWithFormat(ctx, messages, format)
	i.observe("chat_format", messages, resp.Content, resp.Usage, err, start)
	return resp, err
}

func (i *instrumented) ChatWithTools(ctx context.Context, messages []ChatMessage, tools []ToolDefinition) (LLMResponse, error) {
	start := time.Now()
	resp, err := i.next.ChatWithTools(ctx, messages, tools)
	i.observe("chat_tools", messages, resp.Content, resp.Usage, err, start)
	return resp, err
}

func (i *instrumented) StreamChat(ctx context.Context, messages []ChatMessage, chunks chan<- string) (*TokenUsage, error) {
	start := time.Now()
	usage, err := i.next.StreamChat(ctx, messages, chunks)
	i.observe("stream", messages, "", usage, err, start)
	return usage, err
}

func (i *instrumented) observe(op string, messages []ChatMessage, content string, usage *TokenUsage, err error, start time.Time) {
	var prompt, completion int
	switch {
	case err != nil:
	case usage != nil:
		prompt, completion = int(usage.PromptTokens), int(usage.CompletionTokens)
	default:
		prompt = i.counter.CountMessages(messages)
		completion = i.counter.Count(content)
	}
	i.rec.ObserveRequest(i.next.Name(), i.next.Model(), op, prompt, completion, err == nil, time.Since(start))
}
