package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"slices"
	"testing"

	"github.com/richinex/agentpatterns/llm"
)

func newTestSqlite(t *testing.T) *SqliteStorage {
	t.Helper()
	storage, err := NewSqliteInMemory()
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func TestSqliteStorageSaveAndLoad(t *testing.T) {
	storage := newTestSqlite(t)
	ctx := context.Background()

	messages := []llm.ChatMessage{
		llm.UserMessage("Hello"),
		llm.AssistantMessage("Hi there"),
	}
	if err := storage.Save(ctx, "test-session", messages); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := storage.Load(ctx, "test-session")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(loaded))
	}
	if loaded[0].Role != llm.RoleUser || loaded[0].Content != "Hello" {
		t.Errorf("unexpected first message: %+v", loaded[0])
	}
	if loaded[1].Role != llm.RoleAssistant || loaded[1].Content != "Hi there" {
		t.Errorf("unexpected second message: %+v", loaded[1])
	}
}

func TestSqliteStorageRoundTripsToolTraffic(t *testing.T) {
	storage := newTestSqlite(t)
	ctx := context.Background()

	messages := []llm.ChatMessage{
		llm.UserMessage("Show me flights"),
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{
			ID: "call_1", Name: "search_flights", Arguments: json.RawMessage(`{"destination":"Paris"}`),
		}}},
		llm.ToolMessage("call_1", `[{"airline":"SkyHighAir","price":450}]`),
	}
	if err := storage.Save(ctx, "s", messages); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := storage.Load(ctx, "s")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded) != 3 || len(loaded[1].ToolCalls) != 1 {
		t.Fatalf("unexpected history: %+v", loaded)
	}

	call := loaded[1].ToolCalls[0]
	if call.Name != "search_flights" {
		t.Errorf("expected search_flights, got %s", call.Name)
	}
	var args map[string]string
	if err := json.Unmarshal(call.Arguments, &args); err != nil || args["destination"] != "Paris" {
		t.Errorf("unexpected arguments %s (%v)", call.Arguments, err)
	}
	if loaded[2].ToolCallID != "call_1" {
		t.Errorf("expected tool call id call_1, got %q", loaded[2].ToolCallID)
	}
}

func TestSqliteStorageLoadNonexistentSession(t *testing.T) {
	storage := newTestSqlite(t)

	loaded, err := storage.Load(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded == nil || len(loaded) != 0 {
		t.Errorf("expected non-nil empty slice, got %v", loaded)
	}
}

func TestSqliteStorageDeleteSession(t *testing.T) {
	storage := newTestSqlite(t)
	ctx := context.Background()

	if err := storage.Save(ctx, "test-session", []llm.ChatMessage{llm.UserMessage("Test")}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := storage.Delete(ctx, "test-session"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	exists, err := storage.Exists(ctx, "test-session")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("expected session to be deleted")
	}

	// Messages cascade with the session.
	loaded, err := storage.Load(ctx, "test-session")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("expected no messages, got %d", len(loaded))
	}
}

func TestSqliteStorageListSessions(t *testing.T) {
	storage := newTestSqlite(t)
	ctx := context.Background()

	msg := []llm.ChatMessage{llm.UserMessage("Test")}
	for _, id := range []string{"session-1", "session-2"} {
		if err := storage.Save(ctx, id, msg); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	sessions, err := storage.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	slices.Sort(sessions)
	if !slices.Equal(sessions, []string{"session-1", "session-2"}) {
		t.Errorf("unexpected sessions %v", sessions)
	}
}

func TestSqliteStorageOverwriteSession(t *testing.T) {
	storage := newTestSqlite(t)
	ctx := context.Background()

	if err := storage.Save(ctx, "test-session", []llm.ChatMessage{llm.UserMessage("First")}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := storage.Save(ctx, "test-session", []llm.ChatMessage{
		llm.UserMessage("Second"),
		llm.AssistantMessage("Response"),
	}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := storage.Load(ctx, "test-session")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(loaded))
	}
	if loaded[0].Content != "Second" {
		t.Errorf("expected 'Second', got '%s'", loaded[0].Content)
	}
}

func TestSqliteStorageSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "agent.db")
	ctx := context.Background()

	first, err := OpenSqlite(path)
	if err != nil {
		t.Fatalf("OpenSqlite failed: %v", err)
	}
	if err := first.Save(ctx, "travel", []llm.ChatMessage{llm.UserMessage("I prefer window seats")}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	second, err := OpenSqlite(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer second.Close()

	loaded, err := second.Load(ctx, "travel")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded) != 1 || loaded[0].Content != "I prefer window seats" {
		t.Errorf("unexpected history after reopen: %+v", loaded)
	}
}

func TestSqliteStorageStoreAndQueryMemory(t *testing.T) {
	storage := newTestSqlite(t)
	ctx := context.Background()

	entry := NewMemoryEntry("test-session", MemoryEpisodic, "Test memory content").WithAgent("test-agent")
	if err := storage.StoreMemory(ctx, entry); err != nil {
		t.Fatalf("StoreMemory failed: %v", err)
	}

	memType := MemoryEpisodic
	memories, err := storage.QueryMemories(ctx, "test-session", &memType, 10)
	if err != nil {
		t.Fatalf("QueryMemories failed: %v", err)
	}
	if len(memories) != 1 {
		t.Fatalf("expected 1 memory, got %d", len(memories))
	}
	if memories[0].Content != "Test memory content" {
		t.Errorf("expected 'Test memory content', got '%s'", memories[0].Content)
	}
	if memories[0].AgentID != "test-agent" {
		t.Errorf("expected agent 'test-agent', got '%s'", memories[0].AgentID)
	}
}

func TestSqliteStorageQueryMemoriesByType(t *testing.T) {
	storage := newTestSqlite(t)
	ctx := context.Background()

	for _, e := range []MemoryEntry{
		NewMemoryEntry("test-session", MemoryEpisodic, "Episodic memory"),
		NewMemoryEntry("test-session", MemoryOrchestration, "Orchestration memory"),
		NewMemoryEntry("test-session", MemoryConversation, "Conversation memory"),
	} {
		if err := storage.StoreMemory(ctx, e); err != nil {
			t.Fatalf("StoreMemory failed: %v", err)
		}
	}

	memType := MemoryEpisodic
	episodic, err := storage.QueryMemories(ctx, "test-session", &memType, 10)
	if err != nil {
		t.Fatalf("QueryMemories failed: %v", err)
	}
	if len(episodic) != 1 || episodic[0].Content != "Episodic memory" {
		t.Errorf("unexpected episodic memories: %+v", episodic)
	}

	all, err := storage.GetRecentMemories(ctx, "test-session", 10)
	if err != nil {
		t.Fatalf("GetRecentMemories failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 memories, got %d", len(all))
	}
}

func TestSqliteStorageGetMemoryUpdatesAccess(t *testing.T) {
	storage := newTestSqlite(t)
	ctx := context.Background()

	entry := NewMemoryEntry("test-session", MemoryEpisodic, "Test content")
	if err := storage.StoreMemory(ctx, entry); err != nil {
		t.Fatalf("StoreMemory failed: %v", err)
	}

	for want := uint32(1); want <= 2; want++ {
		memory, err := storage.GetMemory(ctx, entry.ID)
		if err != nil {
			t.Fatalf("GetMemory failed: %v", err)
		}
		if memory == nil {
			t.Fatal("expected memory to exist")
		}
		if memory.AccessCount != want {
			t.Errorf("expected access count %d, got %d", want, memory.AccessCount)
		}
	}
}

func TestSqliteStorageDeleteMemory(t *testing.T) {
	storage := newTestSqlite(t)
	ctx := context.Background()

	entry := NewMemoryEntry("test-session", MemoryEpisodic, "Test content")
	if err := storage.StoreMemory(ctx, entry); err != nil {
		t.Fatalf("StoreMemory failed: %v", err)
	}
	if err := storage.DeleteMemory(ctx, entry.ID); err != nil {
		t.Fatalf("DeleteMemory failed: %v", err)
	}

	memory, err := storage.GetMemory(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetMemory failed: %v", err)
	}
	if memory != nil {
		t.Error("expected memory to be deleted")
	}
}

func TestSqliteStorageDeleteSessionMemories(t *testing.T) {
	storage := newTestSqlite(t)
	ctx := context.Background()

	for _, e := range []MemoryEntry{
		NewMemoryEntry("session-1", MemoryEpisodic, "Memory 1"),
		NewMemoryEntry("session-1", MemoryOrchestration, "Memory 2"),
		NewMemoryEntry("session-2", MemoryEpisodic, "Memory 3"),
	} {
		if err := storage.StoreMemory(ctx, e); err != nil {
			t.Fatalf("StoreMemory failed: %v", err)
		}
	}

	if err := storage.DeleteSessionMemories(ctx, "session-1"); err != nil {
		t.Fatalf("DeleteSessionMemories failed: %v", err)
	}

	session1, err := storage.GetRecentMemories(ctx, "session-1", 10)
	if err != nil {
		t.Fatalf("GetRecentMemories failed: %v", err)
	}
	session2, err := storage.GetRecentMemories(ctx, "session-2", 10)
	if err != nil {
		t.Fatalf("GetRecentMemories failed: %v", err)
	}

	if len(session1) != 0 {
		t.Errorf("expected 0 memories for session-1, got %d", len(session1))
	}
	if len(session2) != 1 {
		t.Errorf("expected 1 memory for session-2, got %d", len(session2))
	}
}
