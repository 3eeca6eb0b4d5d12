// Package patterns holds the eight example programs, one per agent design
// pattern. Agent patterns drive agents directly; workflow patterns register
// a durable workflow and run it through the runtime.
package patterns

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/richinex/agentpatterns/llm"
	"github.com/richinex/agentpatterns/model"
	"github.com/richinex/agentpatterns/storage"
	"github.com/richinex/agentpatterns/tools"
	"github.com/richinex/agentpatterns/workflow"
)

// ErrUnknownPattern is returned by Lookup.
var ErrUnknownPattern = errors.New("unknown pattern")

// Formatter styles output. Plain leaves text unchanged.
type Formatter interface {
	Heading(text string) string
	Markdown(text string) string
}

// Plain is the Formatter for non-terminal output.
type Plain struct{}

func (Plain) Heading(text string) string  { return text }
func (Plain) Markdown(text string) string { return text }

// Deps are the shared services a pattern runs against.
type Deps struct {
	Provider llm.Provider

	// Runtime runs workflow patterns. When nil a private in-memory runtime
	// is created for the run.
	Runtime *workflow.Runtime

	// Store backs the stateful pattern. When nil an in-memory database is
	// used.
	Store *storage.SqliteStorage

	// Tools are added to the autonomous agent, e.g. tools loaded over MCP.
	Tools []tools.Tool

	MaxIterations int

	// ToolConfig sets tool timeouts and retries. The zero value uses the
	// executor defaults.
	ToolConfig tools.ToolConfig

	Format Formatter
	Logger *slog.Logger
}

func (d Deps) format() Formatter {
	if d.Format == nil {
		return Plain{}
	}
	return d.Format
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// Pattern is one runnable example.
type Pattern struct {
	Name        string
	Title       string
	Description string

	// Workflow is the registered workflow name, empty for agent patterns.
	Workflow string

	register func(rt *workflow.Runtime, d Deps) error
	run      func(ctx context.Context, d Deps, w io.Writer) error
}

// Run executes the pattern and writes its transcript to w.
func (p Pattern) Run(ctx context.Context, d Deps, w io.Writer) error {
	if d.Provider == nil {
		return errors.New("no LLM provider configured")
	}
	if p.register == nil {
		return p.run(ctx, d, w)
	}

	if d.Runtime == nil {
		rt := workflow.NewRuntime(workflow.Options{Logger: d.Logger})
		defer rt.Close()
		d.Runtime = rt
	}
	if err := p.Register(d.Runtime, d); err != nil {
		return err
	}
	return p.run(ctx, d, w)
}

// Register adds the pattern's workflow and activities to rt. It does
// nothing for agent patterns or when the workflow is already registered.
func (p Pattern) Register(rt *workflow.Runtime, d Deps) error {
	if p.register == nil || slices.Contains(rt.Workflows(), p.Workflow) {
		return nil
	}
	if err := p.register(rt, d); err != nil {
		return fmt.Errorf("failed to register %s: %w", p.Name, err)
	}
	return nil
}

// All returns the patterns in presentation order.
func All() []Pattern {
	return []Pattern{
		augmented(),
		stateful(),
		chaining(),
		routing(),
		parallelization(),
		orchestrator(),
		evaluator(),
		autonomous(),
	}
}

// Lookup finds a pattern by name.
func Lookup(name string) (Pattern, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, p := range All() {
		if p.Name == name {
			return p, nil
		}
	}
	return Pattern{}, fmt.Errorf("%w: %s", ErrUnknownPattern, name)
}

// RegisterAll registers every workflow pattern on rt.
func RegisterAll(rt *workflow.Runtime, d Deps) error {
	for _, p := range All() {
		if err := p.Register(rt, d); err != nil {
			return err
		}
	}
	return nil
}

// activitySet registers activities and then the workflow itself.
type activitySet struct {
	workflow   string
	fn         workflow.WorkflowFunc
	activities map[string]workflow.ActivityFunc
}

func (s activitySet) register(rt *workflow.Runtime) error {
	for name, fn := range s.activities {
		if err := rt.RegisterActivity(name, fn); err != nil {
			return err
		}
	}
	return rt.RegisterWorkflow(s.workflow, s.fn)
}

// runWorkflow runs name to completion and returns the finished instance.
func runWorkflow(ctx context.Context, rt *workflow.Runtime, name string, input any) (model.WorkflowInstance, error) {
	inst, err := rt.Run(ctx, name, input)
	if err != nil {
		return inst, err
	}
	if inst.Status != model.WorkflowCompleted {
		return inst, fmt.Errorf("workflow %s %s: %s", name, strings.ToLower(string(inst.Status)), inst.Error)
	}
	return inst, nil
}

// preview shortens text to n runes, marking the cut with "...".
func preview(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n]) + "..."
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
