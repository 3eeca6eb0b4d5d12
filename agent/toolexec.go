package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/richinex/agentpatterns/tools"
)

// runTool looks up and executes a tool. The returned ToolCall is nil when
// the tool does not exist.
func runTool(ctx context.Context, registry *tools.Registry, executor *tools.Executor, name string, args json.RawMessage) (string, *ToolCall, error) {
	tool, exists := registry.Get(name)
	if !exists {
		return "", nil, fmt.Errorf("tool '%s' not found", name)
	}
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	start := time.Now()
	result, err := executor.Execute(ctx, tool, args)
	if err != nil {
		return "", nil, fmt.Errorf("tool %q failed: %w", name, err)
	}

	call := &ToolCall{
		Name:       name,
		InputSize:  len(args),
		OutputSize: len(result.Output),
		DurationMs: uint64(time.Since(start).Milliseconds()),
		Success:    result.Success(),
	}
	if result.Success() {
		return result.Output, call, nil
	}
	return "", call, result.Error
}
