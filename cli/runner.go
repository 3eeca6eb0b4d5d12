// Command execution for CLI commands.
//
// Information Hiding:
// - Settings resolution and logger setup hidden
// - Provider, store and runtime wiring hidden
// - Output formatting hidden

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/gops/agent"

	"github.com/richinex/agentpatterns/config"
	"github.com/richinex/agentpatterns/llm"
	"github.com/richinex/agentpatterns/mcp"
	"github.com/richinex/agentpatterns/metrics"
	"github.com/richinex/agentpatterns/model"
	"github.com/richinex/agentpatterns/patterns"
	"github.com/richinex/agentpatterns/pubsub"
	"github.com/richinex/agentpatterns/server"
	"github.com/richinex/agentpatterns/storage"
	"github.com/richinex/agentpatterns/tools"
	"github.com/richinex/agentpatterns/workflow"
)

// Options holds CLI execution options. Zero values defer to settings.
type Options struct {
	Provider  string
	MaxIter   int
	DB        string
	Config    string
	LogLevel  string
	Verbose   bool
	MCP       []string
	MCPConfig string

	Out io.Writer
	Err io.Writer

	// provider replaces the configured LLM in tests.
	provider llm.Provider
}

// DefaultOptions returns default CLI options.
func DefaultOptions() Options {
	return Options{Out: os.Stdout, Err: os.Stderr}
}

// env is the resolved state shared by the commands.
type env struct {
	opts     Options
	settings config.Settings
	log      *slog.Logger
	out      io.Writer
	format   patterns.Formatter
}

func setup(opts Options) (*env, error) {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Err == nil {
		opts.Err = os.Stderr
	}

	settings, err := config.Load(opts.Config, opts.Provider)
	if err != nil {
		return nil, err
	}
	if opts.MaxIter > 0 {
		settings.Agent.MaxIterations = opts.MaxIter
	}
	if opts.DB != "" {
		settings.Workflow.DB = opts.DB
	}
	if opts.LogLevel != "" {
		settings.Log.Level = opts.LogLevel
	}
	if opts.Verbose {
		settings.Log.Level = "debug"
	}

	log, err := newLogger(opts.Err, settings.Log.Level)
	if err != nil {
		return nil, err
	}

	var format patterns.Formatter = patterns.Plain{}
	if f, ok := opts.Out.(*os.File); ok {
		format = NewFormatter(f)
	}

	return &env{opts: opts, settings: settings, log: log, out: opts.Out, format: format}, nil
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

// llmProvider builds the configured provider, instrumented when rec is set.
func (e *env) llmProvider(rec llm.Recorder) (llm.Provider, error) {
	provider := e.opts.provider
	if provider == nil {
		var err error
		if provider, err = createProvider(e.settings.LLM); err != nil {
			return nil, err
		}
	}
	if rec != nil {
		provider = llm.Instrument(provider, rec)
	}
	return provider, nil
}

func createProvider(cfg config.LLMConfig) (llm.Provider, error) {
	providerType, err := llm.ParseProviderType(cfg.Provider)
	if err != nil {
		return nil, err
	}

	apiKey, err := config.APIKeyFor(cfg.Provider)
	if err != nil {
		return nil, err
	}

	return providerType.
		Model(cfg.Model).
		MaxTokens(cfg.MaxTokens).
		Temperature(float32(cfg.Temperature)).
		APIKey(apiKey)
}

func (e *env) runtimeOptions(store storage.WorkflowStore) workflow.Options {
	wf := e.settings.Workflow
	return workflow.Options{
		Store: store,
		Retry: workflow.RetryPolicy{
			MaxAttempts:     wf.MaxAttempts,
			InitialInterval: wf.InitialInterval,
			MaxInterval:     wf.MaxInterval,
		},
		MaxConcurrency: wf.MaxConcurrency,
		Logger:         e.log,
	}
}

// mcpSpecs merges --mcp commands with the servers of --mcp-config.
func (e *env) mcpSpecs() ([]mcp.Spec, error) {
	var specs []mcp.Spec
	for _, line := range e.opts.MCP {
		spec, err := mcp.ParseCommand(line)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	if e.opts.MCPConfig == "" {
		return specs, nil
	}

	cfg, err := mcp.LoadConfig(e.opts.MCPConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to load MCP config: %w", err)
	}
	e.log.Debug("loaded mcp config", "path", e.opts.MCPConfig, "servers", len(cfg.MCPServers))
	return append(specs, cfg.Specs()...), nil
}

func (e *env) openMCP(ctx context.Context) (*mcp.Set, error) {
	specs, err := e.mcpSpecs()
	if err != nil || len(specs) == 0 {
		return nil, err
	}
	return mcp.Open(ctx, specs, e.log.With("component", "mcp"))
}

func (e *env) deps(provider llm.Provider, rt *workflow.Runtime, store *storage.SqliteStorage, set *mcp.Set) patterns.Deps {
	return patterns.Deps{
		Provider:      provider,
		Runtime:       rt,
		Store:         store,
		Tools:         set.Tools(),
		MaxIterations: e.settings.Agent.MaxIterations,
		ToolConfig: tools.ToolConfig{
			TimeoutSecs: e.settings.Agent.ToolTimeoutSecs,
			MaxRetries:  e.settings.Agent.ToolRetries,
		},
		Format: e.format,
		Logger: e.log,
	}
}

// RunPattern runs one pattern against the configured provider. Workflow
// patterns record their instances in the workflow database.
func RunPattern(ctx context.Context, name string, opts Options) error {
	pattern, err := patterns.Lookup(name)
	if err != nil {
		return err
	}
	e, err := setup(opts)
	if err != nil {
		return err
	}
	provider, err := e.llmProvider(nil)
	if err != nil {
		return err
	}

	store, err := storage.OpenSqlite(e.settings.Workflow.DB)
	if err != nil {
		return err
	}
	defer store.Close()

	set, err := e.openMCP(ctx)
	if err != nil {
		return err
	}
	defer set.Close()

	rt := workflow.NewRuntime(e.runtimeOptions(store))
	defer rt.Close()

	e.log.Info("running pattern", "pattern", pattern.Name, "provider", provider.Name(), "model", provider.Model())
	return pattern.Run(ctx, e.deps(provider, rt, store, set), e.out)
}

// ListPatterns prints the available patterns.
func ListPatterns(w io.Writer) {
	fmt.Fprintln(w, "Available patterns:")
	fmt.Fprintln(w)
	for _, p := range patterns.All() {
		fmt.Fprintf(w, "  %-14s %s\n", p.Name, p.Description)
		if p.Workflow != "" {
			fmt.Fprintf(w, "  %-14s workflow: %s\n", "", p.Workflow)
		}
	}
}

// Serve runs the workflow REST server until ctx is cancelled. Instances
// left RUNNING by a previous process are resumed first.
func Serve(ctx context.Context, opts Options, gops bool) error {
	e, err := setup(opts)
	if err != nil {
		return err
	}

	if gops {
		if err := agent.Listen(agent.Options{}); err != nil {
			return fmt.Errorf("failed to start gops agent: %w", err)
		}
		defer agent.Close()
	}

	rec := metrics.New()
	provider, err := e.llmProvider(rec)
	if err != nil {
		return err
	}

	store, err := storage.OpenSqlite(e.settings.Workflow.DB)
	if err != nil {
		return err
	}
	defer store.Close()

	set, err := e.openMCP(ctx)
	if err != nil {
		return err
	}
	defer set.Close()

	broker := pubsub.New(pubsub.WithDropHook(rec.EventDropped))
	defer broker.Close()

	rtOpts := e.runtimeOptions(store)
	rtOpts.Broker = broker
	rtOpts.Recorder = rec
	rt := workflow.NewRuntime(rtOpts)
	defer rt.Close()

	if err := patterns.RegisterAll(rt, e.deps(provider, rt, store, set)); err != nil {
		return err
	}
	resumed, err := rt.Resume(ctx)
	if err != nil {
		return err
	}
	if len(resumed) > 0 {
		e.log.Info("resumed workflows", "count", len(resumed))
	}

	srv := server.New(rt, server.WithMetrics(rec.Handler()), server.WithLogger(e.log))
	e.log.Info("serving", "addr", e.settings.Server.Addr, "workflows", strings.Join(rt.Workflows(), ","))
	return srv.ListenAndServe(ctx, e.settings.Server.Addr)
}

// Status prints one instance with its activity history, or every
// instance when id is empty.
func Status(ctx context.Context, id string, opts Options) error {
	e, err := setup(opts)
	if err != nil {
		return err
	}
	if _, err := os.Stat(e.settings.Workflow.DB); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("no workflow database at %s", e.settings.Workflow.DB)
	}

	store, err := storage.OpenSqlite(e.settings.Workflow.DB)
	if err != nil {
		return err
	}
	defer store.Close()

	if id == "" {
		list, err := store.ListInstances(ctx, "")
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintln(e.out, "No workflow instances.")
			return nil
		}
		for _, inst := range list {
			fmt.Fprintf(e.out, "%s  %-10s  %-36s  %s\n",
				inst.ID, inst.Status, inst.Name, inst.UpdatedAt.Format(time.DateTime))
		}
		return nil
	}

	inst, err := store.GetInstance(ctx, id)
	if err != nil {
		return fmt.Errorf("instance %s: %w", id, err)
	}
	history, err := store.LoadActivities(ctx, id)
	if err != nil {
		return err
	}
	printInstance(e.out, inst, history, e.opts.Verbose)
	return nil
}

const maxOutputPreview = 400

func printInstance(w io.Writer, inst model.WorkflowInstance, history []model.ActivityRecord, verbose bool) {
	fmt.Fprintf(w, "Instance: %s\n", inst.ID)
	fmt.Fprintf(w, "Workflow: %s\n", inst.Name)
	fmt.Fprintf(w, "Status:   %s\n", inst.Status)
	fmt.Fprintf(w, "Created:  %s\n", inst.CreatedAt.Format(time.DateTime))
	fmt.Fprintf(w, "Updated:  %s\n", inst.UpdatedAt.Format(time.DateTime))
	if inst.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", inst.Error)
	}

	if len(history) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "--- Activities ---")
		for _, rec := range history {
			state := "done"
			if !rec.Completed {
				state = "pending"
			}
			if rec.Error != "" {
				state = "failed"
			}
			fmt.Fprintf(w, "[%d] %s (%s, %d attempts)\n", rec.Sequence, rec.Name, state, rec.Attempts)
			if rec.Error != "" {
				fmt.Fprintf(w, "    Error: %s\n", rec.Error)
			}
			if verbose && len(rec.Output) > 0 {
				fmt.Fprintf(w, "    Output: %s\n", truncateString(string(rec.Output), maxOutputPreview))
			}
		}
		fmt.Fprintln(w, "------------------")
	}

	if len(inst.Output) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Output: %s\n", truncateString(string(inst.Output), maxOutputPreview))
	}
}

// truncateString truncates a string to maxLen runes, preserving UTF-8 boundaries.
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
