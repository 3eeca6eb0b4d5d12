package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func travelTool() ToolDefinition {
	return ToolDefinition{
		Name:        "search_flights",
		Description: "Search for flights",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"destination": map[string]any{"type": "string", "description": "Destination city"},
				"stops":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
			"required": []string{"destination"},
		},
	}
}

func TestToOpenAIMessagesCarriesToolTraffic(t *testing.T) {
	msgs := toOpenAIMessages([]ChatMessage{
		UserMessage("flights?"),
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "search_flights", Arguments: json.RawMessage(`{"destination":"Paris"}`)}}},
		ToolMessage("c1", "[]"),
	})

	require.Len(t, msgs, 3)
	require.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, "search_flights", msgs[1].ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"destination":"Paris"}`, msgs[1].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "c1", msgs[2].ToolCallID)
	assert.Equal(t, RoleTool, msgs[2].Role)
}

func TestToOpenAIFormat(t *testing.T) {
	assert.Nil(t, toOpenAIFormat(nil))

	format := toOpenAIFormat(NewJSONSchemaFormat("plan", json.RawMessage(`{"type":"object"}`)))
	require.NotNil(t, format.JSONSchema)
	assert.Equal(t, "plan", format.JSONSchema.Name)
	assert.True(t, format.JSONSchema.Strict)
}

func TestToAnthropicMessagesExtractsSystem(t *testing.T) {
	msgs, system := toAnthropicMessages([]ChatMessage{
		SystemMessage("be brief"),
		UserMessage("hi"),
		{Role: RoleAssistant, Content: "checking", ToolCalls: []ToolCall{{ID: "t1", Name: "search_flights", Arguments: json.RawMessage(`{}`)}}},
		ToolMessage("t1", "ok"),
	})

	assert.Equal(t, "be brief", system)
	require.Len(t, msgs, 3)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, msgs[1].Role)
	assert.Len(t, msgs[1].Content, 2)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[2].Role)
}

func TestToAnthropicToolsKeepsSchema(t *testing.T) {
	tools := toAnthropicTools([]ToolDefinition{travelTool()})
	require.Len(t, tools, 1)
	require.NotNil(t, tools[0].OfTool)
	assert.Equal(t, "search_flights", tools[0].OfTool.Name)
	assert.Equal(t, []string{"destination"}, tools[0].OfTool.InputSchema.Required)
}

func TestFormatInstruction(t *testing.T) {
	assert.Empty(t, formatInstruction(nil))
	assert.Empty(t, formatInstruction(NewTextFormat()))
	assert.Contains(t, formatInstruction(NewJSONObjectFormat()), "JSON object")
	assert.Contains(t, formatInstruction(NewJSONSchemaFormat("x", json.RawMessage(`{"type":"object"}`))), `{"type":"object"}`)
}

func TestToGeminiContentsPairsToolResultsByName(t *testing.T) {
	contents, system := toGeminiContents([]ChatMessage{
		SystemMessage("sys"),
		UserMessage("hi"),
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "g1", Name: "search_weather", Arguments: json.RawMessage(`{"city":"Paris"}`)}}},
		ToolMessage("g1", "sunny"),
	})

	assert.Equal(t, "sys", system)
	require.Len(t, contents, 3)
	assert.Equal(t, genai.RoleModel, contents[1].Role)
	resp := contents[2].Parts[0].FunctionResponse
	require.NotNil(t, resp)
	assert.Equal(t, "search_weather", resp.Name)
	assert.Equal(t, "sunny", resp.Response["result"])
}

func TestToGeminiSchemaArraysGetItems(t *testing.T) {
	schema := toGeminiSchema(travelTool().Parameters)
	assert.Equal(t, genai.TypeObject, schema.Type)
	assert.Equal(t, []string{"destination"}, schema.Required)
	require.Contains(t, schema.Properties, "stops")
	assert.Equal(t, genai.TypeArray, schema.Properties["stops"].Type)
	require.NotNil(t, schema.Properties["stops"].Items)
}

func TestToOllamaTools(t *testing.T) {
	tools := toOllamaTools([]ToolDefinition{travelTool()})
	require.Len(t, tools, 1)
	assert.Equal(t, "search_flights", tools[0].Function.Name)
	assert.Equal(t, []string{"destination"}, tools[0].Function.Parameters.Required)
	props := tools[0].Function.Parameters.Properties
	require.NotNil(t, props)
	dest, ok := props.Get("destination")
	require.True(t, ok)
	assert.Equal(t, api.PropertyType{"string"}, dest.Type)
}

func TestToOllamaMessagesCarriesToolArguments(t *testing.T) {
	msgs := toOllamaMessages([]ChatMessage{
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "o1", Name: "search_flights", Arguments: json.RawMessage(`{"destination":"Paris","max":2}`)}}},
	})
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].ToolCalls, 1)
	args := msgs[0].ToolCalls[0].Function.Arguments
	got, ok := args.Get("destination")
	require.True(t, ok)
	assert.Equal(t, "Paris", got)
	assert.Equal(t, 2, args.Len())
}

func TestOllamaProviderAgainstServer(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel, _ = body["model"].(string)

		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = w.Write([]byte(`{"model":"llama3.2","message":{"role":"assistant","content":"Bonjour",` +
			`"tool_calls":[{"function":{"name":"search_flights","arguments":{"destination":"Paris"}}}]},` +
			`"done":true,"prompt_eval_count":7,"eval_count":3}` + "\n"))
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, ModelOllamaLlama32, 128, 0.1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := p.ChatWithTools(ctx, []ChatMessage{UserMessage("hello")}, []ToolDefinition{travelTool()})
	require.NoError(t, err)

	assert.Equal(t, ModelOllamaLlama32, gotModel)
	assert.Equal(t, "Bonjour", resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_0", resp.ToolCalls[0].ID)
	assert.JSONEq(t, `{"destination":"Paris"}`, string(resp.ToolCalls[0].Arguments))
	require.NotNil(t, resp.Usage)
	assert.EqualValues(t, 10, resp.Usage.TotalTokens)
}

func TestOllamaProviderWrapsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "missing", 128, 0.1)
	_, err := p.Chat(context.Background(), []ChatMessage{UserMessage("hello")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat completion failed")
}

// Error messages from remote providers must never echo the API key.
func TestOpenAIErrorNoAPIKeyLeak(t *testing.T) {
	testKey := "sk-test-invalid-key-12345xyz"
	provider := NewOpenAIProvider(testKey, "gpt-4o", 100, 0.7)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := provider.Chat(ctx, []ChatMessage{UserMessage("test")})
	if err == nil {
		t.Skip("expected an error with an invalid API key")
	}
	assert.NotContains(t, err.Error(), testKey)
	assert.NotContains(t, err.Error(), "Authorization:")
}

func TestAnthropicErrorNoAPIKeyLeak(t *testing.T) {
	testKey := "sk-ant-REDACTED"
	provider := NewAnthropicProvider(testKey, ModelAnthropicClaudeSonnet4, 100, 0.7)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := provider.Chat(ctx, []ChatMessage{UserMessage("test")})
	if err == nil {
		t.Skip("expected an error with an invalid API key")
	}
	assert.NotContains(t, err.Error(), testKey)
}
