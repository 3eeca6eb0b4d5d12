package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MemoryType classifies a memory entry.
type MemoryType string

const (
	// MemoryEpisodic records what an agent was asked and what it answered.
	MemoryEpisodic MemoryType = "episodic"
	// MemoryOrchestration records planning decisions of orchestrating workflows.
	MemoryOrchestration MemoryType = "orchestration"
	// MemoryConversation records notable chat turns.
	MemoryConversation MemoryType = "conversation"
)

func (m MemoryType) String() string {
	return string(m)
}

// ParseMemoryType parses a memory type name, ignoring case.
func ParseMemoryType(s string) (MemoryType, error) {
	switch t := MemoryType(strings.ToLower(strings.TrimSpace(s))); t {
	case MemoryEpisodic, MemoryOrchestration, MemoryConversation:
		return t, nil
	default:
		return "", fmt.Errorf("unknown memory type: %s", s)
	}
}

// MemoryEntry is one stored memory. Timestamps are Unix seconds.
type MemoryEntry struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	AgentID     string     `json:"agent_id,omitempty"`
	Type        MemoryType `json:"memory_type"`
	Content     string     `json:"content"`
	CreatedAt   int64      `json:"created_at"`
	AccessedAt  int64      `json:"accessed_at"`
	AccessCount uint32     `json:"access_count"`
	Metadata    string     `json:"metadata,omitempty"` // JSON
}

// NewMemoryEntry creates an entry with a fresh ID that has not been accessed.
func NewMemoryEntry(sessionID string, memoryType MemoryType, content string) MemoryEntry {
	now := time.Now().Unix()
	return MemoryEntry{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Type:       memoryType,
		Content:    content,
		CreatedAt:  now,
		AccessedAt: now,
	}
}

// WithAgent sets the agent that produced the memory.
func (m MemoryEntry) WithAgent(agentID string) MemoryEntry {
	m.AgentID = agentID
	return m
}

// WithMetadata attaches a JSON metadata document.
func (m MemoryEntry) WithMetadata(metadata string) MemoryEntry {
	m.Metadata = metadata
	return m
}

// MemoryStorage stores typed memory entries per session. Query results are
// newest first.
type MemoryStorage interface {
	StoreMemory(ctx context.Context, entry MemoryEntry) error

	// QueryMemories filters by type when memoryType is non-nil.
	QueryMemories(ctx context.Context, sessionID string, memoryType *MemoryType, limit int) ([]MemoryEntry, error)

	GetRecentMemories(ctx context.Context, sessionID string, limit int) ([]MemoryEntry, error)

	// GetMemory returns nil without error for an unknown ID. A hit counts
	// as an access.
	GetMemory(ctx context.Context, id string) (*MemoryEntry, error)

	DeleteMemory(ctx context.Context, id string) error

	DeleteSessionMemories(ctx context.Context, sessionID string) error
}
