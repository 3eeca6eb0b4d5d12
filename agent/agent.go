// ReAct (Reason + Act) loop implementation.
//
// The model answers every turn with a JSON decision: a thought, an optional
// tool action and, when done, a final answer. Tool observations are fed
// back as user messages.
//
// Information Hiding:
// - ReAct loop internals hidden
// - LLM communication hidden
// - Tool execution coordination hidden
// - Memory management hidden

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	jsonutil "github.com/richinex/agentpatterns/internal/json"
	"github.com/richinex/agentpatterns/llm"
	"github.com/richinex/agentpatterns/storage"
	"github.com/richinex/agentpatterns/tools"
)

// Agent executes tasks using the ReAct pattern.
type Agent struct {
	config        Config
	llmClient     *llm.Client
	toolRegistry  *tools.Registry
	toolExecutor  *tools.Executor
	storage       storage.MemoryStorage
	sessionID     string
	maxIterations int
	stream        io.Writer
	log           *slog.Logger
}

// New creates a new agent with the given configuration and provider.
func New(config Config, provider llm.Provider) *Agent {
	return &Agent{
		config:        config,
		llmClient:     llm.NewClient(provider),
		toolRegistry:  newToolRegistry(config.Tools),
		toolExecutor:  tools.NewDefaultExecutor(),
		maxIterations: DefaultMaxIterations,
		log:           slog.Default(),
	}
}

// WithToolConfig overrides the tool execution configuration.
func (a *Agent) WithToolConfig(config tools.ToolConfig) *Agent {
	a.toolExecutor = tools.NewExecutor(config).WithLogger(a.log)
	return a
}

// WithStorage enables episodic memory persistence.
func (a *Agent) WithStorage(store storage.MemoryStorage, sessionID string) *Agent {
	a.storage = store
	a.sessionID = sessionID
	return a
}

// WithMaxIterations sets the iteration limit used by Run.
func (a *Agent) WithMaxIterations(n int) *Agent {
	if n > 0 {
		a.maxIterations = n
	}
	return a
}

// WithLogger sets the logger.
func (a *Agent) WithLogger(log *slog.Logger) *Agent {
	a.log = log.With("agent", a.config.Name)
	a.toolExecutor.WithLogger(a.log)
	return a
}

// Stream writes the model's tokens to w as they arrive.
func (a *Agent) Stream(w io.Writer) *Agent {
	a.stream = w
	return a
}

// Name returns the agent's name.
func (a *Agent) Name() string {
	return a.config.Name
}

// Description returns the agent's description.
func (a *Agent) Description() string {
	return a.config.Description
}

// Run executes a task with the configured iteration limit.
func (a *Agent) Run(ctx context.Context, task string) Response {
	return a.Execute(ctx, task, a.maxIterations)
}

// Execute runs a task with the given maximum iterations.
func (a *Agent) Execute(ctx context.Context, task string, maxIterations int) Response {
	return a.ExecuteWithHistory(ctx, task, nil, maxIterations)
}

// ExecuteWithHistory runs a task with conversation history. A history that
// already carries a system prompt is continued as is.
func (a *Agent) ExecuteWithHistory(ctx context.Context, task string, history []llm.ChatMessage, maxIterations int) Response {
	run := newTracker(a.config.Name)
	conversation := append([]llm.ChatMessage(nil), history...)
	var lastToolOutput string

	if len(conversation) == 0 {
		conversation = append(conversation, llm.SystemMessage(a.systemPrompt(ctx, maxIterations)))
	}
	conversation = append(conversation, llm.UserMessage("Task: "+task))

	a.log.DebugContext(ctx, "react run started", "task", task, "max_iterations", maxIterations)

	for iteration := 0; iteration < maxIterations; iteration++ {
		if ctx.Err() != nil {
			return run.failure(fmt.Sprintf("execution cancelled: %v", ctx.Err()))
		}
		remaining := maxIterations - iteration

		decision, usage, err := a.think(ctx, conversation)
		if err != nil {
			a.log.WarnContext(ctx, "reasoning failed", "iteration", iteration, "error", err)
			return run.failure(fmt.Sprintf("Failed to reason: %v", err))
		}
		run.llmCall(usage)

		if decision.IsFinal {
			result := a.finalResult(decision, lastToolOutput)
			a.storeEpisodicMemory(ctx, task, result)
			run.steps = append(run.steps, Step{Iteration: iteration, Thought: decision.Thought, Observation: &result})
			return run.success(result)
		}

		if decision.Action == nil {
			if hasPriorProgress(run.steps) {
				result := a.implicitResult(decision, lastToolOutput, run.steps)
				a.storeEpisodicMemory(ctx, task, result)
				return run.success(result)
			}
			observation := "No action specified"
			run.steps = append(run.steps, Step{Iteration: iteration, Thought: decision.Thought, Observation: &observation})
			continue
		}

		observation, call, err := runTool(ctx, a.toolRegistry, a.toolExecutor, decision.Action.Tool, decision.Action.Input)
		if call != nil {
			run.toolCalls = append(run.toolCalls, *call)
		}
		if err != nil {
			observation = fmt.Sprintf("Tool failed: %v", err)
		} else {
			lastToolOutput = observation
		}
		a.log.DebugContext(ctx, "tool observed", "tool", decision.Action.Tool, "ok", err == nil)

		conversation = append(conversation,
			llm.AssistantMessage(actionJSON(decision)),
			llm.UserMessage(observationPrompt(observation, remaining)),
		)

		actionName := decision.Action.Tool
		run.steps = append(run.steps, Step{
			Iteration:   iteration,
			Thought:     decision.Thought,
			Action:      &actionName,
			Observation: &observation,
		})
	}

	a.storeEpisodicMemory(ctx, task, fmt.Sprintf("Timeout after %d iterations", maxIterations))
	return run.timeout("")
}

func (a *Agent) systemPrompt(ctx context.Context, maxIterations int) string {
	var b strings.Builder
	b.WriteString(a.config.Prompt())
	b.WriteString("\n\nAvailable Tools:\n")
	b.WriteString(a.toolRegistry.Description())
	if memories := a.loadRelevantMemories(ctx, 3); memories != "" {
		b.WriteString("\n\n")
		b.WriteString(memories)
	}
	fmt.Fprintf(&b, `

You have a maximum of %d iterations.
Respond in this JSON format:
{
  "thought": "your reasoning",
  "action": {"tool": "name", "input": {...}},
  "is_final": false,
  "final_answer": null
}

When complete: is_final=true, action=null, provide final_answer.`, maxIterations)
	return b.String()
}

func actionJSON(decision Decision) string {
	msg, err := json.Marshal(map[string]any{
		"thought":  decision.Thought,
		"action":   decision.Action,
		"is_final": false,
	})
	if err != nil {
		return fmt.Sprintf(`{"thought": %q}`, decision.Thought)
	}
	return string(msg)
}

func observationPrompt(observation string, remaining int) string {
	urgency := ""
	if remaining <= 2 {
		urgency = fmt.Sprintf("\n\nWARNING: Only %d iterations remaining!", remaining-1)
	}
	return fmt.Sprintf("Observation: %s%s\n\nIs the task complete? If yes, set is_final=true.", observation, urgency)
}

// think asks the LLM for the next decision. A reply without decodable JSON
// becomes a thought without action.
func (a *Agent) think(ctx context.Context, conversation []llm.ChatMessage) (Decision, *llm.TokenUsage, error) {
	var response string
	var usage *llm.TokenUsage
	var err error

	if a.stream != nil {
		response, usage, err = a.thinkStreaming(ctx, conversation)
	} else {
		response, usage, err = a.llmClient.ChatWithUsage(ctx, conversation)
	}
	if err != nil {
		return Decision{}, nil, fmt.Errorf("LLM chat failed: %w", err)
	}

	decision, err := jsonutil.Decode[Decision](response)
	if err != nil {
		return Decision{Thought: response}, usage, nil
	}
	return decision, usage, nil
}

type streamResult struct {
	usage *llm.TokenUsage
	err   error
}

func (a *Agent) thinkStreaming(ctx context.Context, conversation []llm.ChatMessage) (string, *llm.TokenUsage, error) {
	chunks := make(chan string, 100)
	resultCh := make(chan streamResult, 1)
	go func() {
		defer close(chunks)
		usage, err := a.llmClient.StreamChat(ctx, conversation, chunks)
		resultCh <- streamResult{usage: usage, err: err}
	}()

	var response strings.Builder
	printedHeader := false
	for chunk := range chunks {
		if !printedHeader {
			fmt.Fprintf(a.stream, "\n[%s] ", a.config.Name)
			printedHeader = true
		}
		fmt.Fprint(a.stream, chunk)
		response.WriteString(chunk)
	}
	if printedHeader {
		fmt.Fprint(a.stream, "\n\n")
	}

	result := <-resultCh
	if result.err != nil {
		return "", nil, result.err
	}
	return response.String(), result.usage, nil
}

// Memory helpers

func (a *Agent) storeEpisodicMemory(ctx context.Context, task, result string) {
	if a.storage == nil || a.sessionID == "" {
		return
	}
	preview := result
	if len(preview) > 150 {
		preview = preview[:150] + "..."
	}
	entry := storage.NewMemoryEntry(a.sessionID, storage.MemoryEpisodic,
		fmt.Sprintf("Task: %s | Result: %s", task, preview)).WithAgent(a.config.Name)

	if err := a.storage.StoreMemory(ctx, entry); err != nil {
		a.log.WarnContext(ctx, "failed to store episodic memory", "error", err)
	}
}

func (a *Agent) loadRelevantMemories(ctx context.Context, limit int) string {
	if a.storage == nil || a.sessionID == "" {
		return ""
	}
	memType := storage.MemoryEpisodic
	memories, err := a.storage.QueryMemories(ctx, a.sessionID, &memType, limit)
	if err != nil || len(memories) == 0 {
		return ""
	}
	lines := make([]string, 0, len(memories))
	for _, m := range memories {
		lines = append(lines, "- "+m.Content)
	}
	return "Relevant past experiences:\n" + strings.Join(lines, "\n")
}

// Result helpers

func (a *Agent) finalResult(decision Decision, lastToolOutput string) string {
	if a.config.ReturnToolOutput && lastToolOutput != "" {
		return lastToolOutput
	}
	if decision.FinalAnswer != nil {
		return *decision.FinalAnswer
	}
	return "Task completed"
}

func (a *Agent) implicitResult(decision Decision, lastToolOutput string, steps []Step) string {
	if a.config.ReturnToolOutput && lastToolOutput != "" {
		return lastToolOutput
	}
	if decision.Thought != "" {
		return decision.Thought
	}
	if len(steps) > 0 && steps[len(steps)-1].Observation != nil {
		return *steps[len(steps)-1].Observation
	}
	return "Task completed"
}

func hasPriorProgress(steps []Step) bool {
	for _, s := range steps {
		if s.Action != nil {
			return true
		}
	}
	return false
}

var _ Runner = (*Agent)(nil)
