package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/richinex/agentpatterns/llm"
)

// ConversationStorage persists the message history of agent sessions.
// Implementations: InMemoryStorage for single-process runs and SqliteStorage
// for history that must survive a restart.
type ConversationStorage interface {
	// Save replaces the history of a session.
	Save(ctx context.Context, sessionID string, history []llm.ChatMessage) error

	// Load returns the history of a session. A missing session yields an
	// empty, non-nil slice and no error.
	Load(ctx context.Context, sessionID string) ([]llm.ChatMessage, error)

	// Delete removes a session.
	Delete(ctx context.Context, sessionID string) error

	// ListSessions lists all session IDs.
	ListSessions(ctx context.Context) ([]string, error)

	// Exists checks if a session exists.
	Exists(ctx context.Context, sessionID string) (bool, error)
}

// InMemoryStorage implements ConversationStorage with a map.
// Data is lost when the process exits.
type InMemoryStorage struct {
	mu       sync.RWMutex
	sessions map[string][]llm.ChatMessage
}

// NewInMemoryStorage creates an empty in-memory store.
func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{
		sessions: make(map[string][]llm.ChatMessage),
	}
}

// Save stores a copy of history.
func (s *InMemoryStorage) Save(_ context.Context, sessionID string, history []llm.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sessionID] = cloneHistory(history)
	return nil
}

// Load returns a copy of the stored history.
func (s *InMemoryStorage) Load(_ context.Context, sessionID string) ([]llm.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return cloneHistory(s.sessions[sessionID]), nil
}

// Delete removes a session.
func (s *InMemoryStorage) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	return nil
}

// ListSessions returns the session IDs in lexical order.
func (s *InMemoryStorage) ListSessions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]string, 0, len(s.sessions))
	for sessionID := range s.sessions {
		sessions = append(sessions, sessionID)
	}
	sort.Strings(sessions)
	return sessions, nil
}

// Exists checks if a session exists.
func (s *InMemoryStorage) Exists(_ context.Context, sessionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.sessions[sessionID]
	return ok, nil
}

// cloneHistory copies messages and their tool calls so callers cannot
// mutate stored state.
func cloneHistory(history []llm.ChatMessage) []llm.ChatMessage {
	out := make([]llm.ChatMessage, len(history))
	copy(out, history)
	for i := range out {
		if len(out[i].ToolCalls) > 0 {
			out[i].ToolCalls = append([]llm.ToolCall(nil), out[i].ToolCalls...)
		}
	}
	return out
}

var _ ConversationStorage = (*InMemoryStorage)(nil)
