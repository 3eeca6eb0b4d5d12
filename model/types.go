// Package model provides domain types shared across packages.
package model

import (
	"encoding/json"
	"time"
)

// Step represents a single step in a reasoning process.
// Used by agents and by pattern transcripts for tracking progress.
type Step struct {
	Iteration   int
	Thought     string
	Action      *string
	Observation *string
}

// ToolCall contains metrics about a tool invocation.
type ToolCall struct {
	Name       string `json:"name"`
	InputSize  int    `json:"input_size"`
	OutputSize int    `json:"output_size"`
	DurationMs uint64 `json:"duration_ms"`
	Success    bool   `json:"success"`
}

// WorkflowStatus is the lifecycle state of a workflow instance.
type WorkflowStatus string

const (
	WorkflowPending    WorkflowStatus = "PENDING"
	WorkflowRunning    WorkflowStatus = "RUNNING"
	WorkflowCompleted  WorkflowStatus = "COMPLETED"
	WorkflowFailed     WorkflowStatus = "FAILED"
	WorkflowTerminated WorkflowStatus = "TERMINATED"
)

// Terminal reports whether no further transitions are possible.
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case WorkflowCompleted, WorkflowFailed, WorkflowTerminated:
		return true
	default:
		return false
	}
}

// WorkflowInstance is the persisted record of one workflow execution.
type WorkflowInstance struct {
	ID        string          `json:"instance_id"`
	Name      string          `json:"workflow_name"`
	Status    WorkflowStatus  `json:"runtime_status"`
	Input     json.RawMessage `json:"input,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"last_updated_at"`
}

// ActivityRecord is one entry of a workflow instance's activity history.
// Sequence numbers are assigned in call order and are stable across replays.
type ActivityRecord struct {
	InstanceID string          `json:"instance_id"`
	Sequence   int             `json:"sequence"`
	Name       string          `json:"name"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	Attempts   int             `json:"attempts"`
	Completed  bool            `json:"completed"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
