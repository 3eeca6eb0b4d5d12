// Ollama provider for locally hosted open models.
//
// Ollama needs no API key; the server address comes from OLLAMA_HOST.

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"slices"

	"github.com/ollama/ollama/api"
)

// DefaultOllamaHost is used when OLLAMA_HOST is unset or invalid.
const DefaultOllamaHost = "http://localhost:11434"

// OllamaProvider implements the Provider interface for an Ollama server.
type OllamaProvider struct {
	client      *api.Client
	host        string
	model       string
	maxTokens   int
	temperature float32
}

// NewOllamaProvider creates a provider talking to the Ollama server at hostURL.
func NewOllamaProvider(hostURL, model string, maxTokens uint32, temperature float32) *OllamaProvider {
	parsed, err := url.Parse(hostURL)
	if err != nil || parsed.Host == "" {
		parsed, _ = url.Parse(DefaultOllamaHost)
	}

	return &OllamaProvider{
		client:      api.NewClient(parsed, http.DefaultClient),
		host:        parsed.String(),
		model:       model,
		maxTokens:   int(maxTokens),
		temperature: temperature,
	}
}

// Name returns the provider name.
func (p *OllamaProvider) Name() string {
	return "ollama"
}

// Model returns the current model.
func (p *OllamaProvider) Model() string {
	return p.model
}

// Chat sends a chat completion request.
func (p *OllamaProvider) Chat(ctx context.Context, messages []ChatMessage) (LLMResponse, error) {
	return p.ChatWithFormat(ctx, messages, nil)
}

// ChatWithFormat sends a chat completion request with optional response format.
// Ollama accepts either "json" or a full JSON schema as the format.
func (p *OllamaProvider) ChatWithFormat(ctx context.Context, messages []ChatMessage, format *ResponseFormat) (LLMResponse, error) {
	req := p.request(messages, false)
	if format != nil {
		switch {
		case format.Type == ResponseFormatJSONSchema && format.JSONSchema != nil:
			req.Format = format.JSONSchema.Schema
		case format.Type != ResponseFormatText:
			req.Format = json.RawMessage(`"json"`)
		}
	}
	return p.complete(ctx, req)
}

// ChatWithTools sends a chat completion request with tool definitions.
func (p *OllamaProvider) ChatWithTools(ctx context.Context, messages []ChatMessage, tools []ToolDefinition) (LLMResponse, error) {
	req := p.request(messages, false)
	if len(tools) > 0 {
		req.Tools = toOllamaTools(tools)
	}
	return p.complete(ctx, req)
}

// StreamChat streams a chat completion.
func (p *OllamaProvider) StreamChat(ctx context.Context, messages []ChatMessage, chunks chan<- string) (*TokenUsage, error) {
	req := p.request(messages, true)

	var usage *TokenUsage
	err := p.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		if resp.Done {
			usage = fromOllamaMetrics(resp)
		}
		if resp.Message.Content == "" {
			return nil
		}
		select {
		case chunks <- resp.Message.Content:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		return usage, fmt.Errorf("stream error (%s): %w", p.host, err)
	}
	return usage, nil
}

func (p *OllamaProvider) request(messages []ChatMessage, stream bool) *api.ChatRequest {
	return &api.ChatRequest{
		Model:    p.model,
		Messages: toOllamaMessages(messages),
		Stream:   &stream,
		Options: map[string]any{
			"temperature": p.temperature,
			"num_predict": p.maxTokens,
		},
	}
}

func (p *OllamaProvider) complete(ctx context.Context, req *api.ChatRequest) (LLMResponse, error) {
	var response api.ChatResponse
	err := p.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return LLMResponse{}, fmt.Errorf("chat completion failed (%s): %w", p.host, err)
	}

	out := LLMResponse{
		Content: response.Message.Content,
		Usage:   fromOllamaMetrics(response),
	}
	for i, call := range response.Message.ToolCalls {
		id := call.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		args, _ := json.Marshal(call.Function.Arguments.ToMap())
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        id,
			Name:      call.Function.Name,
			Arguments: args,
		})
	}
	return out, nil
}

func fromOllamaMetrics(resp api.ChatResponse) *TokenUsage {
	if resp.PromptEvalCount == 0 && resp.EvalCount == 0 {
		return nil
	}
	return &TokenUsage{
		PromptTokens:     uint32(resp.PromptEvalCount),
		CompletionTokens: uint32(resp.EvalCount),
		TotalTokens:      uint32(resp.PromptEvalCount + resp.EvalCount),
	}
}

func toOllamaMessages(messages []ChatMessage) []api.Message {
	result := make([]api.Message, 0, len(messages))
	for _, msg := range messages {
		out := api.Message{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			var decoded map[string]any
			_ = json.Unmarshal(tc.Arguments, &decoded)
			args := api.NewToolCallFunctionArguments()
			for k, v := range decoded {
				args.Set(k, v)
			}
			out.ToolCalls = append(out.ToolCalls, api.ToolCall{
				ID: tc.ID,
				Function: api.ToolCallFunction{
					Name:      tc.Name,
					Arguments: args,
				},
			})
		}
		result = append(result, out)
	}
	return result
}

func toOllamaTools(tools []ToolDefinition) api.Tools {
	result := make(api.Tools, len(tools))
	for i, t := range tools {
		properties := api.NewToolPropertiesMap()
		if props, ok := t.Parameters["properties"].(map[string]any); ok {
			for _, name := range slices.Sorted(maps.Keys(props)) {
				if m, ok := props[name].(map[string]any); ok {
					properties.Set(name, toOllamaProperty(m))
				}
			}
		}

		result[i] = api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters: api.ToolFunctionParameters{
					Type:       "object",
					Properties: properties,
					Required:   requiredList(t.Parameters),
				},
			},
		}
	}
	return result
}

func toOllamaProperty(prop map[string]any) api.ToolProperty {
	out := api.ToolProperty{}
	if t, ok := prop["type"].(string); ok {
		out.Type = api.PropertyType{t}
	}
	if d, ok := prop["description"].(string); ok {
		out.Description = d
	}
	if enum, ok := prop["enum"].([]any); ok {
		out.Enum = enum
	}
	if items, ok := prop["items"].(map[string]any); ok {
		out.Items = toOllamaProperty(items)
	}
	return out
}

var _ Provider = (*OllamaProvider)(nil)
