package agent

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/richinex/agentpatterns/llm"
	"github.com/richinex/agentpatterns/llm/llmtest"
	"github.com/richinex/agentpatterns/storage"
	"github.com/richinex/agentpatterns/tools"
	"github.com/richinex/agentpatterns/travel"
)

func travelBuddy() Config {
	return NewBuilder("TravelBuddy").
		Role("Travel Planner Assistant").
		Instructions("Remember destinations and help find flights").
		Tool(travel.FlightsTool()).
		Build()
}

func flightCall(id string) llm.LLMResponse {
	return llm.LLMResponse{ToolCalls: []llm.ToolCall{{
		ID: id, Name: "search_flights", Arguments: json.RawMessage(`{"destination":"Paris"}`),
	}}}
}

func TestToolCallAgentAnswersToolCalls(t *testing.T) {
	provider := llmtest.New(
		flightCall("call_1"),
		llm.LLMResponse{Content: "GlobalWings is cheapest at $375.50.", Usage: &llm.TokenUsage{TotalTokens: 12}},
	)

	resp := NewToolCallAgent(travelBuddy(), provider).Run(context.Background(), "Show me flights to Paris")

	if !resp.IsSuccess() {
		t.Fatalf("expected success, got %s", resp.ResultText())
	}
	if resp.Result != "GlobalWings is cheapest at $375.50." {
		t.Errorf("unexpected result %q", resp.Result)
	}
	if len(resp.Metadata.ToolCalls) != 1 {
		t.Errorf("expected 1 tool call, got %d", len(resp.Metadata.ToolCalls))
	}
	if usage := resp.Metadata.TokenUsage; usage == nil || usage.TotalTokens != 12 {
		t.Errorf("expected 12 total tokens, got %+v", usage)
	}

	calls := provider.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 provider calls, got %d", len(calls))
	}
	if len(calls[0].Tools) != 1 || calls[0].Tools[0].Name != "search_flights" {
		t.Errorf("unexpected tool definitions: %+v", calls[0].Tools)
	}
	if calls[0].Messages[0].Role != llm.RoleSystem {
		t.Errorf("expected system message first, got %s", calls[0].Messages[0].Role)
	}

	second := calls[1].Messages
	last := second[len(second)-1]
	if last.Role != llm.RoleTool || last.ToolCallID != "call_1" {
		t.Errorf("expected tool answer for call_1, got %+v", last)
	}
	if !strings.Contains(last.Content, "SkyHighAir") {
		t.Errorf("expected flight results, got %q", last.Content)
	}
}

func TestToolCallAgentReportsUnknownToolToModel(t *testing.T) {
	provider := llmtest.New(
		llm.LLMResponse{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "book_hotel", Arguments: json.RawMessage(`{}`)}}},
		llm.LLMResponse{Content: "I cannot book hotels."},
	)
	resp := NewToolCallAgent(travelBuddy(), provider).Run(context.Background(), "Book a hotel")

	if !resp.IsSuccess() {
		t.Fatalf("expected success, got %s", resp.ResultText())
	}
	msgs := provider.Calls()[1].Messages
	if got := msgs[len(msgs)-1].Content; !strings.Contains(got, "Error: tool 'book_hotel' not found") {
		t.Errorf("unexpected tool message %q", got)
	}
}

func TestToolCallAgentStopsAtMaxIterations(t *testing.T) {
	provider := llmtest.Func(func(llmtest.Call) (llm.LLMResponse, error) {
		return flightCall("again"), nil
	})
	resp := NewToolCallAgent(travelBuddy(), provider).WithMaxIterations(3).Run(context.Background(), "loop")

	if resp.Type != ResponseTimeout {
		t.Errorf("expected timeout, got %v", resp.Type)
	}
	if n := provider.CallCount(); n != 3 {
		t.Errorf("expected 3 calls, got %d", n)
	}
}

func TestToolCallAgentRemembersAcrossRuns(t *testing.T) {
	store := storage.NewInMemoryStorage()
	ctx := context.Background()
	provider := llmtest.New(
		llm.LLMResponse{Content: "Paris is lovely in spring."},
		flightCall("call_1"),
		llm.LLMResponse{Content: "Here are flights to Paris."},
	)
	buddy := NewToolCallAgent(travelBuddy(), provider).WithMemory(store, "travel-session")

	if !buddy.Run(ctx, "I want to visit Paris").IsSuccess() {
		t.Fatal("first run failed")
	}
	if !buddy.Run(ctx, "Show me flights").IsSuccess() {
		t.Fatal("second run failed")
	}

	// system, first user turn, first answer, new question
	second := provider.Calls()[1].Messages
	if len(second) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(second))
	}
	if second[1].Content != "I want to visit Paris" || second[3].Content != "Show me flights" {
		t.Errorf("unexpected conversation: %+v", second)
	}

	history, err := buddy.History(ctx)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 6 {
		t.Fatalf("expected 6 stored messages, got %d", len(history))
	}
	for _, msg := range history {
		if msg.Role == llm.RoleSystem {
			t.Error("system prompt was persisted")
		}
	}
}

func TestToolCallAgentMemorySurvivesNewInstance(t *testing.T) {
	store, err := storage.NewSqliteInMemory()
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	first := NewToolCallAgent(travelBuddy(), llmtest.Text("Noted: window seats.")).WithMemory(store, "prefs")
	if !first.Run(ctx, "I prefer window seats").IsSuccess() {
		t.Fatal("first run failed")
	}

	provider := llmtest.Text("You prefer window seats.")
	second := NewToolCallAgent(travelBuddy(), provider).WithMemory(store, "prefs")
	if !second.Run(ctx, "What do I prefer?").IsSuccess() {
		t.Fatal("second run failed")
	}
	if got := provider.Calls()[0].Messages[1].Content; got != "I prefer window seats" {
		t.Errorf("expected stored turn to be replayed, got %q", got)
	}
}

func TestToolCallAgentWindowTrimsRequests(t *testing.T) {
	store := storage.NewInMemoryStorage()
	ctx := context.Background()
	long := strings.Repeat("croissant ", 300)
	if err := store.Save(ctx, "s", []llm.ChatMessage{
		llm.UserMessage(long),
		llm.AssistantMessage(long),
	}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	provider := llmtest.Text("ok")
	NewToolCallAgent(travelBuddy(), provider).
		WithMemory(store, "s").
		WithWindow(storage.NewWindow(200)).
		Run(ctx, "short question")

	sent := provider.Calls()[0].Messages
	if len(sent) != 2 {
		t.Fatalf("expected 2 messages sent, got %d", len(sent))
	}
	if sent[1].Content != "short question" {
		t.Errorf("expected newest question kept, got %q", sent[1].Content)
	}

	history, err := store.Load(ctx, "s")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(history) != 4 {
		t.Errorf("stored history was trimmed: %d messages", len(history))
	}
}

func TestToolCallAgentSerializesRuns(t *testing.T) {
	store := storage.NewInMemoryStorage()
	provider := llmtest.Func(func(c llmtest.Call) (llm.LLMResponse, error) {
		return llm.LLMResponse{Content: "re: " + c.LastUser()}, nil
	})
	buddy := NewToolCallAgent(travelBuddy(), provider).WithMemory(store, "shared")

	var wg sync.WaitGroup
	for _, q := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(q string) {
			defer wg.Done()
			buddy.Run(context.Background(), q)
		}(q)
	}
	wg.Wait()

	history, err := buddy.History(context.Background())
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 8 {
		t.Errorf("expected 8 messages, got %d", len(history))
	}
}

func TestToolCallAgentToolConfig(t *testing.T) {
	buddy := NewToolCallAgent(travelBuddy(), llmtest.Text("ok"))
	if got := buddy.ToolConfig(); got != tools.DefaultToolConfig() {
		t.Errorf("expected default tool config, got %+v", got)
	}

	want := tools.ToolConfig{TimeoutSecs: 5, MaxRetries: 1}
	if got := buddy.WithToolConfig(want).ToolConfig(); got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}
