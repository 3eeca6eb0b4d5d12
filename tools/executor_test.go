package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	// The genai SDK, linked in through llm, starts an opencensus view
	// worker from init that never exits.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

// flakyTool fails with failErr for the first failures calls.
type flakyTool struct {
	BaseTool
	name     string
	failures int32
	failErr  error
	calls    atomic.Int32
}

func (f *flakyTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        f.name,
		Description: "fails a few times",
		Parameters:  []ToolParameter{{Name: "input", ParamType: "string", Required: true}},
	}
}

func (f *flakyTool) Execute(_ context.Context, _ json.RawMessage) (ToolResult, error) {
	n := f.calls.Add(1)
	if n <= f.failures {
		return FailureResult(f.failErr), nil
	}
	return SuccessResult("done"), nil
}

func TestExecutorRetriesTransientFailures(t *testing.T) {
	tool := &flakyTool{name: "flaky", failures: 1, failErr: errors.New("connection reset")}
	exec := NewExecutor(ToolConfig{MaxRetries: 3})

	result, err := exec.Execute(context.Background(), tool, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Success() {
		t.Errorf("expected success, got %v", result.Error)
	}
	if n := tool.calls.Load(); n != 2 {
		t.Errorf("expected 2 calls, got %d", n)
	}
}

func TestExecutorDoesNotRetryPermissionErrors(t *testing.T) {
	tool := &flakyTool{name: "locked", failures: 5, failErr: errors.New("permission denied")}
	exec := NewDefaultExecutor()

	result, err := exec.Execute(context.Background(), tool, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Success() {
		t.Error("expected failure")
	}
	if n := tool.calls.Load(); n != 1 {
		t.Errorf("expected 1 call, got %d", n)
	}
}

func TestExecutorGivesUpAfterMaxRetries(t *testing.T) {
	tool := &flakyTool{name: "broken", failures: 10, failErr: errors.New("timeout talking to backend")}
	exec := NewExecutor(ToolConfig{MaxRetries: 2})

	result, err := exec.Execute(context.Background(), tool, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Success() {
		t.Fatal("expected failure")
	}
	if !strings.Contains(result.Error.Error(), "failed after 2 attempts") {
		t.Errorf("unexpected error %q", result.Error)
	}
	if n := tool.calls.Load(); n != 2 {
		t.Errorf("expected 2 calls, got %d", n)
	}
}

func TestExecutorSkipsInvalidArguments(t *testing.T) {
	tool := newLookupTool(t)
	exec := NewDefaultExecutor()

	result, err := exec.Execute(context.Background(), tool, json.RawMessage(`{"kind":"x"}`))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Success() {
		t.Fatal("expected validation failure")
	}
	if !strings.Contains(result.Error.Error(), "validation failed") {
		t.Errorf("unexpected error %q", result.Error)
	}
}

func TestExecutorHonorsCancellation(t *testing.T) {
	tool := &flakyTool{name: "slow", failures: 10, failErr: errors.New("network down")}
	exec := NewExecutor(ToolConfig{MaxRetries: 5})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := exec.Execute(ctx, tool, json.RawMessage(`{}`)); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
