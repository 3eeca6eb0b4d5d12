// Native function-calling loop.
//
// Information Hiding:
// - Tool call dispatch and result threading hidden
// - Conversation loading, windowing and persistence hidden

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/richinex/agentpatterns/llm"
	"github.com/richinex/agentpatterns/storage"
	"github.com/richinex/agentpatterns/tools"
)

// ToolCallAgent runs the provider's native tool calling. Every tool call of
// a turn is executed and answered with a tool message; the run ends on the
// first turn without tool calls.
type ToolCallAgent struct {
	config        Config
	llmClient     *llm.Client
	toolRegistry  *tools.Registry
	toolExecutor  *tools.Executor
	memory        storage.ConversationStorage
	sessionID     string
	window        *storage.Window
	maxIterations int
	log           *slog.Logger

	// Serializes runs so concurrent callers cannot interleave one session.
	mu sync.Mutex
}

// NewToolCallAgent creates an agent without memory.
func NewToolCallAgent(config Config, provider llm.Provider) *ToolCallAgent {
	return &ToolCallAgent{
		config:        config,
		llmClient:     llm.NewClient(provider),
		toolRegistry:  newToolRegistry(config.Tools),
		toolExecutor:  tools.NewDefaultExecutor(),
		maxIterations: DefaultMaxIterations,
		log:           slog.Default(),
	}
}

// WithMemory loads the session history before each run and saves it after.
// The history sent to the model is trimmed by the default Window unless
// WithWindow sets another.
func (a *ToolCallAgent) WithMemory(store storage.ConversationStorage, sessionID string) *ToolCallAgent {
	a.memory = store
	a.sessionID = sessionID
	if a.window == nil {
		a.window = storage.NewWindow(storage.DefaultWindowTokens)
	}
	return a
}

// WithWindow sets the token window applied to every request.
func (a *ToolCallAgent) WithWindow(w *storage.Window) *ToolCallAgent {
	a.window = w
	return a
}

// WithMaxIterations sets the maximum number of model turns per run.
func (a *ToolCallAgent) WithMaxIterations(n int) *ToolCallAgent {
	if n > 0 {
		a.maxIterations = n
	}
	return a
}

// WithToolConfig overrides the tool execution configuration.
func (a *ToolCallAgent) WithToolConfig(config tools.ToolConfig) *ToolCallAgent {
	a.toolExecutor = tools.NewExecutor(config).WithLogger(a.log)
	return a
}

// ToolConfig returns the tool execution configuration in effect.
func (a *ToolCallAgent) ToolConfig() tools.ToolConfig {
	return a.toolExecutor.Config()
}

// WithLogger sets the logger.
func (a *ToolCallAgent) WithLogger(log *slog.Logger) *ToolCallAgent {
	a.log = log.With("agent", a.config.Name)
	a.toolExecutor.WithLogger(a.log)
	return a
}

// Name returns the agent's name.
func (a *ToolCallAgent) Name() string {
	return a.config.Name
}

// SessionID returns the memory session, or "" without memory.
func (a *ToolCallAgent) SessionID() string {
	return a.sessionID
}

// History returns the stored conversation of the session.
func (a *ToolCallAgent) History(ctx context.Context) ([]llm.ChatMessage, error) {
	if a.memory == nil {
		return []llm.ChatMessage{}, nil
	}
	return a.memory.Load(ctx, a.sessionID)
}

// Run sends input as a user message and loops until the model answers
// without tool calls.
func (a *ToolCallAgent) Run(ctx context.Context, input string) Response {
	a.mu.Lock()
	defer a.mu.Unlock()

	run := newTracker(a.config.Name)

	history, err := a.History(ctx)
	if err != nil {
		return run.failure(fmt.Sprintf("failed to load memory: %v", err))
	}
	history = append(withoutSystem(history), llm.UserMessage(input))
	definitions := a.toolRegistry.Definitions()
	system := llm.SystemMessage(a.config.Prompt())

	a.log.DebugContext(ctx, "tool-call run started",
		"session", a.sessionID,
		"history", len(history)-1,
		"tools", len(definitions),
	)

	var lastContent string
	for iteration := 0; iteration < a.maxIterations; iteration++ {
		if ctx.Err() != nil {
			return run.failure(fmt.Sprintf("execution cancelled: %v", ctx.Err()))
		}

		request := append([]llm.ChatMessage{system}, a.window.Apply(history)...)
		resp, err := a.llmClient.ChatWithTools(ctx, request, definitions)
		if err != nil {
			a.log.WarnContext(ctx, "chat failed", "iteration", iteration, "error", err)
			return run.failure(fmt.Sprintf("LLM chat failed: %v", err))
		}
		run.llmCall(resp.Usage)
		lastContent = resp.Content

		history = append(history, llm.ChatMessage{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) == 0 {
			if err := a.save(ctx, history); err != nil {
				return run.failure(err.Error())
			}
			observation := resp.Content
			run.steps = append(run.steps, Step{Iteration: iteration, Thought: resp.Content, Observation: &observation})
			return run.success(resp.Content)
		}

		for _, tc := range resp.ToolCalls {
			output, call, err := runTool(ctx, a.toolRegistry, a.toolExecutor, tc.Name, tc.Arguments)
			if call != nil {
				run.toolCalls = append(run.toolCalls, *call)
			}
			if err != nil {
				output = "Error: " + err.Error()
			}
			a.log.DebugContext(ctx, "tool call answered", "tool", tc.Name, "id", tc.ID, "ok", err == nil)

			history = append(history, llm.ToolMessage(tc.ID, output))
			name := tc.Name
			run.steps = append(run.steps, Step{
				Iteration:   iteration,
				Thought:     resp.Content,
				Action:      &name,
				Observation: &output,
			})
		}
	}

	if err := a.save(ctx, history); err != nil {
		return run.failure(err.Error())
	}
	return run.timeout(lastContent)
}

func (a *ToolCallAgent) save(ctx context.Context, history []llm.ChatMessage) error {
	if a.memory == nil {
		return nil
	}
	if err := a.memory.Save(ctx, a.sessionID, history); err != nil {
		return fmt.Errorf("failed to save memory: %w", err)
	}
	return nil
}

func withoutSystem(history []llm.ChatMessage) []llm.ChatMessage {
	out := make([]llm.ChatMessage, 0, len(history)+1)
	for _, msg := range history {
		if msg.Role != llm.RoleSystem {
			out = append(out, msg)
		}
	}
	return out
}

var _ Runner = (*ToolCallAgent)(nil)
