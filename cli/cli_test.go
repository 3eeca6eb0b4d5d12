package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinex/agentpatterns/llm/llmtest"
	"github.com/richinex/agentpatterns/model"
	"github.com/richinex/agentpatterns/patterns"
	"github.com/richinex/agentpatterns/storage"
	"github.com/richinex/agentpatterns/tools"
	"github.com/richinex/agentpatterns/travel"
	"github.com/richinex/agentpatterns/workflow"
)

func testOptions(t *testing.T) (Options, *bytes.Buffer) {
	t.Helper()
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("WORKFLOW_DB", "")
	out := &bytes.Buffer{}
	return Options{
		Provider: "openai",
		DB:       filepath.Join(t.TempDir(), "wf.db"),
		Out:      out,
		Err:      &bytes.Buffer{},
	}, out
}

func TestSetupAppliesFlags(t *testing.T) {
	opts, _ := testOptions(t)
	opts.MaxIter = 3
	opts.LogLevel = "warn"

	e, err := setup(opts)
	require.NoError(t, err)
	assert.Equal(t, 3, e.settings.Agent.MaxIterations)
	assert.Equal(t, opts.DB, e.settings.Workflow.DB)
	assert.Equal(t, "warn", e.settings.Log.Level)
	assert.IsType(t, patterns.Plain{}, e.format)

	opts.Verbose = true
	e, err = setup(opts)
	require.NoError(t, err)
	assert.Equal(t, "debug", e.settings.Log.Level)
}

func TestSetupRejectsBadLogLevel(t *testing.T) {
	opts, _ := testOptions(t)
	opts.LogLevel = "loud"
	_, err := setup(opts)
	assert.ErrorContains(t, err, "invalid log level")
}

func TestListPatterns(t *testing.T) {
	var buf bytes.Buffer
	ListPatterns(&buf)
	for _, p := range patterns.All() {
		assert.Contains(t, buf.String(), p.Name)
	}
	assert.Contains(t, buf.String(), "workflow: travel_planning_workflow")
}

func TestRunPatternUnknown(t *testing.T) {
	opts, _ := testOptions(t)
	err := RunPattern(context.Background(), "telepathy", opts)
	assert.ErrorIs(t, err, patterns.ErrUnknownPattern)
}

func TestRunPatternAugmented(t *testing.T) {
	opts, out := testOptions(t)
	opts.provider = llmtest.Text("Paris is lovely in spring.", "Flight AF123 leaves at 08:00.")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, RunPattern(ctx, "augmented", opts))

	assert.Contains(t, out.String(), "Paris is lovely in spring.")
	assert.Contains(t, out.String(), "Flight AF123 leaves at 08:00.")
	_, err := os.Stat(opts.DB)
	assert.NoError(t, err, "workflow database created")
}

func TestStatusMissingDatabase(t *testing.T) {
	opts, _ := testOptions(t)
	err := Status(context.Background(), "", opts)
	assert.ErrorContains(t, err, "no workflow database")
}

func seedInstance(t *testing.T, path string) string {
	t.Helper()
	store, err := storage.OpenSqlite(path)
	require.NoError(t, err)
	defer store.Close()

	rt := workflow.NewRuntime(workflow.Options{Store: store})
	defer rt.Close()
	require.NoError(t, rt.RegisterActivity("shout", func(_ context.Context, in json.RawMessage) (any, error) {
		var s string
		if err := json.Unmarshal(in, &s); err != nil {
			return nil, err
		}
		return strings.ToUpper(s), nil
	}))
	require.NoError(t, rt.RegisterWorkflow("greeting", func(ctx *workflow.Context, in json.RawMessage) (any, error) {
		var name string
		if err := json.Unmarshal(in, &name); err != nil {
			return nil, err
		}
		var out string
		err := ctx.CallActivity("shout", "hello "+name, &out)
		return out, err
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	inst, err := rt.Run(ctx, "greeting", "ada")
	require.NoError(t, err)
	require.Equal(t, model.WorkflowCompleted, inst.Status)
	return inst.ID
}

func TestStatusShowsInstance(t *testing.T) {
	opts, out := testOptions(t)
	opts.Verbose = true
	id := seedInstance(t, opts.DB)

	require.NoError(t, Status(context.Background(), id, opts))
	text := out.String()
	assert.Contains(t, text, "Instance: "+id)
	assert.Contains(t, text, "Workflow: greeting")
	assert.Contains(t, text, "Status:   COMPLETED")
	assert.Contains(t, text, "[0] shout (done, 1 attempts)")
	assert.Contains(t, text, `Output: "HELLO ADA"`)
}

func TestStatusListsInstances(t *testing.T) {
	opts, out := testOptions(t)
	id := seedInstance(t, opts.DB)

	require.NoError(t, Status(context.Background(), "", opts))
	assert.Contains(t, out.String(), id)
	assert.Contains(t, out.String(), "COMPLETED")

	err := Status(context.Background(), "missing", opts)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListToolsBuiltins(t *testing.T) {
	opts, out := testOptions(t)
	opts.Verbose = true
	require.NoError(t, ListTools(context.Background(), opts))

	for _, tool := range travel.All() {
		assert.Contains(t, out.String(), tool.Metadata().Name)
	}
	assert.Contains(t, out.String(), "Parameters:")
}

func TestToolRegistrySkipsShadowedTools(t *testing.T) {
	remote := []tools.Tool{
		tools.MustFunc("search_weather", "remote weather", func(context.Context, travel.CityArgs) (string, error) {
			return "remote", nil
		}),
		tools.MustFunc("convert_currency", "convert money", func(context.Context, travel.CityArgs) (string, error) {
			return "1.08", nil
		}),
	}

	registry, skipped, err := toolRegistry(travel.All(), remote)
	require.NoError(t, err)
	assert.Equal(t, []string{"search_weather"}, skipped)
	assert.True(t, registry.Has("convert_currency"))

	weather, ok := registry.Get("search_weather")
	require.True(t, ok)
	assert.NotEqual(t, "remote weather", weather.Metadata().Description)
}

func TestMCPSpecsMergeFlagsAndConfig(t *testing.T) {
	opts, _ := testOptions(t)
	path := filepath.Join(t.TempDir(), "mcp.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers":{"weather":{"command":"weather-mcp"}}}`), 0o600))
	opts.MCP = []string{"npx -y @modelcontextprotocol/server-memory"}
	opts.MCPConfig = path

	e, err := setup(opts)
	require.NoError(t, err)
	specs, err := e.mcpSpecs()
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "npx", specs[0].Command)
	assert.Equal(t, "weather", specs[1].Name)

	opts.MCPConfig = filepath.Join(t.TempDir(), "missing.json")
	e, err = setup(opts)
	require.NoError(t, err)
	_, err = e.mcpSpecs()
	assert.Error(t, err)
}

func TestFormatters(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer f.Close()
	assert.IsType(t, patterns.Plain{}, NewFormatter(f))
	assert.IsType(t, patterns.Plain{}, NewFormatter(nil))

	styled := newTerminalFormatter(60)
	assert.Contains(t, styled.Heading("Final Travel Plan:"), "Final Travel Plan:")
	assert.Contains(t, styled.Markdown("**Day 1**: Louvre"), "Louvre")
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", truncateString("short", 10))
	assert.Equal(t, "héll...", truncateString("héllo world", 4))
}
