// Package agent provides the ReAct agent and the native tool-calling agent.
//
// Contains all types used by agents for decisions, actions, and responses.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/richinex/agentpatterns/llm"
	"github.com/richinex/agentpatterns/model"
)

// ErrMaxIterations is reported by Response.Err for a timeout response.
var ErrMaxIterations = errors.New("max iterations reached")

// Runner is implemented by both agent kinds. Workflow tasks run agents
// through it.
type Runner interface {
	Name() string
	Run(ctx context.Context, input string) Response
}

// Decision represents a decision made by the ReAct agent's LLM.
type Decision struct {
	Thought     string  `json:"thought"`
	Action      *Action `json:"action,omitempty"`
	IsFinal     bool    `json:"is_final"`
	FinalAnswer *string `json:"final_answer,omitempty"`
}

// UnmarshalJSON accepts either a string or any JSON value for final_answer.
// Non-string answers are kept as indented JSON text.
func (d *Decision) UnmarshalJSON(data []byte) error {
	type decisionAlias Decision
	aux := &struct {
		FinalAnswer json.RawMessage `json:"final_answer,omitempty"`
		*decisionAlias
	}{
		decisionAlias: (*decisionAlias)(d),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	if len(aux.FinalAnswer) == 0 || string(aux.FinalAnswer) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(aux.FinalAnswer, &s); err == nil {
		d.FinalAnswer = &s
		return nil
	}
	var v any
	if err := json.Unmarshal(aux.FinalAnswer, &v); err != nil {
		return nil
	}
	if pretty, err := json.MarshalIndent(v, "", "  "); err == nil {
		s := string(pretty)
		d.FinalAnswer = &s
	}
	return nil
}

// Action represents an action to execute a tool.
type Action struct {
	Tool  string          `json:"tool"`
	Input json.RawMessage `json:"input"`
}

// Step is an alias for model.Step for agent reasoning steps.
type Step = model.Step

// ToolCall is an alias for model.ToolCall for tool call metadata.
type ToolCall = model.ToolCall

// Metadata contains metadata about agent execution.
type Metadata struct {
	ExecutionTimeMs uint64
	AgentName       string
	ToolCalls       []ToolCall
	TokenUsage      *llm.TokenUsage
	LLMCalls        int
}

// ResponseType indicates the type of agent response.
type ResponseType int

const (
	ResponseSuccess ResponseType = iota
	ResponseFailure
	ResponseTimeout
)

func (t ResponseType) String() string {
	switch t {
	case ResponseSuccess:
		return "success"
	case ResponseFailure:
		return "failure"
	case ResponseTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Response represents a response from an agent execution.
type Response struct {
	Type          ResponseType
	Result        string // For Success
	Error         string // For Failure
	PartialResult string // For Timeout
	Steps         []Step
	Metadata      Metadata
}

// ResultText returns the result string (for success) or error (for failure).
func (r Response) ResultText() string {
	switch r.Type {
	case ResponseSuccess:
		return r.Result
	case ResponseFailure:
		return r.Error
	case ResponseTimeout:
		return r.PartialResult
	default:
		return ""
	}
}

// IsSuccess checks if the response was successful.
func (r Response) IsSuccess() bool {
	return r.Type == ResponseSuccess
}

// Err converts a non-successful response into an error.
func (r Response) Err() error {
	switch r.Type {
	case ResponseSuccess:
		return nil
	case ResponseTimeout:
		return ErrMaxIterations
	default:
		return errors.New(r.Error)
	}
}

// tracker accumulates what one run did and builds its Response.
type tracker struct {
	agent     string
	start     time.Time
	steps     []Step
	toolCalls []ToolCall
	usage     llm.TokenUsage
	llmCalls  int
}

func newTracker(agent string) *tracker {
	return &tracker{agent: agent, start: time.Now()}
}

func (t *tracker) llmCall(usage *llm.TokenUsage) {
	t.llmCalls++
	t.usage.Add(usage)
}

func (t *tracker) metadata() Metadata {
	usage := t.usage
	return Metadata{
		ExecutionTimeMs: uint64(time.Since(t.start).Milliseconds()),
		AgentName:       t.agent,
		ToolCalls:       t.toolCalls,
		TokenUsage:      &usage,
		LLMCalls:        t.llmCalls,
	}
}

func (t *tracker) success(result string) Response {
	return Response{Type: ResponseSuccess, Result: result, Steps: t.steps, Metadata: t.metadata()}
}

func (t *tracker) failure(msg string) Response {
	return Response{Type: ResponseFailure, Error: msg, Steps: t.steps, Metadata: t.metadata()}
}

func (t *tracker) timeout(partial string) Response {
	if partial == "" {
		partial = "Max iterations reached"
	}
	return Response{Type: ResponseTimeout, PartialResult: partial, Steps: t.steps, Metadata: t.metadata()}
}
