package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testTool struct {
	name    string
	schema  string
	handler func(args json.RawMessage) (string, bool)
}

// startServer serves tools over in-memory transports and returns a
// connected client. Everything is torn down by t.Cleanup.
func startServer(t *testing.T, name string, tools ...testTool) *Client {
	t.Helper()

	server := sdk.NewServer(&sdk.Implementation{Name: name, Version: "1.0.0"}, nil)
	for _, tool := range tools {
		handler := tool.handler
		server.AddTool(&sdk.Tool{
			Name:        tool.name,
			Description: "test tool " + tool.name,
			InputSchema: json.RawMessage(tool.schema),
		}, func(_ context.Context, req *sdk.CallToolRequest) (*sdk.CallToolResult, error) {
			text, isErr := handler(req.Params.Arguments)
			return &sdk.CallToolResult{
				Content: []sdk.Content{&sdk.TextContent{Text: text}},
				IsError: isErr,
			}, nil
		})
	}

	serverTransport, clientTransport := sdk.NewInMemoryTransports()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Run(ctx, serverTransport) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	client, err := connect(ctx, name, clientTransport)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

const weatherSchema = `{
	"type": "object",
	"properties": {
		"city": {"type": "string", "description": "City name"},
		"days": {"type": "integer"}
	},
	"required": ["city"]
}`

func echo(args json.RawMessage) (string, bool) { return string(args), false }

func TestDiscoverWrapsTools(t *testing.T) {
	client := startServer(t, "weather",
		testTool{name: "forecast", schema: weatherSchema, handler: echo},
	)

	manager, err := discover(context.Background(), client)
	require.NoError(t, err)
	require.Len(t, manager.Tools(), 1)

	meta := manager.Tools()[0].Metadata()
	assert.Equal(t, "forecast", meta.Name)
	assert.Equal(t, "test tool forecast", meta.Description)
	require.Len(t, meta.Parameters, 2)
	assert.Equal(t, "city", meta.Parameters[0].Name)
	assert.Equal(t, "City name", meta.Parameters[0].Description)
	assert.True(t, meta.Parameters[0].Required)
	assert.Equal(t, "integer", meta.Parameters[1].ParamType)
	assert.False(t, meta.Parameters[1].Required)
	assert.Equal(t, "object", meta.Schema["type"])
}

func TestRemoteToolExecute(t *testing.T) {
	client := startServer(t, "weather",
		testTool{name: "forecast", schema: weatherSchema, handler: echo},
	)
	manager, err := discover(context.Background(), client)
	require.NoError(t, err)

	result, err := manager.Tools()[0].Execute(context.Background(), json.RawMessage(`{"city":"Paris"}`))
	require.NoError(t, err)
	assert.True(t, result.Success())
	assert.JSONEq(t, `{"city":"Paris"}`, result.Output)
	assert.Contains(t, result.Output, "\n  ", "JSON output is indented")
}

func TestRemoteToolFailureIsResult(t *testing.T) {
	client := startServer(t, "weather",
		testTool{name: "forecast", schema: weatherSchema, handler: func(json.RawMessage) (string, bool) {
			return "city not found", true
		}},
	)
	manager, err := discover(context.Background(), client)
	require.NoError(t, err)

	result, err := manager.Tools()[0].Execute(context.Background(), json.RawMessage(`{"city":"Atlantis"}`))
	require.NoError(t, err)
	require.False(t, result.Success())
	assert.Contains(t, result.Error.Error(), "city not found")

	_, err = client.CallTool(context.Background(), "forecast", nil)
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "forecast", toolErr.Tool)
}

func TestCallToolRejectsBadArguments(t *testing.T) {
	client := startServer(t, "weather",
		testTool{name: "forecast", schema: weatherSchema, handler: echo},
	)
	_, err := client.CallTool(context.Background(), "forecast", json.RawMessage(`[1,2]`))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tool := &remoteTool{name: "x"}
	assert.NoError(t, tool.Validate(nil))
	assert.NoError(t, tool.Validate(json.RawMessage(`{"a":1}`)))
	assert.Error(t, tool.Validate(json.RawMessage(`{`)))
}

func TestSetSkipsDuplicateNames(t *testing.T) {
	first := startServer(t, "first",
		testTool{name: "forecast", schema: weatherSchema, handler: echo},
		testTool{name: "alerts", schema: `{"type":"object"}`, handler: echo},
	)
	second := startServer(t, "second",
		testTool{name: "forecast", schema: weatherSchema, handler: func(json.RawMessage) (string, bool) {
			return "second", false
		}},
		testTool{name: "tides", schema: `{"type":"object"}`, handler: echo},
	)

	set := &Set{}
	seen := make(map[string]string)
	for _, client := range []*Client{first, second} {
		manager, err := discover(context.Background(), client)
		require.NoError(t, err)
		set.add(manager, seen, nil)
	}

	var names []string
	for _, tool := range set.Tools() {
		names = append(names, tool.Metadata().Name)
	}
	assert.ElementsMatch(t, []string{"forecast", "alerts", "tides"}, names)
	assert.Equal(t, "first", seen["forecast"])
}

func TestNilSet(t *testing.T) {
	var set *Set
	assert.Nil(t, set.Tools())
	assert.NoError(t, set.Close())
}

func TestConnectRequiresCommand(t *testing.T) {
	_, err := Connect(context.Background(), Spec{Name: "empty"})
	assert.Error(t, err)
}

func TestParseCommand(t *testing.T) {
	spec, err := ParseCommand("  npx -y @modelcontextprotocol/server-memory ")
	require.NoError(t, err)
	assert.Equal(t, "npx", spec.Command)
	assert.Equal(t, []string{"-y", "@modelcontextprotocol/server-memory"}, spec.Args)
	assert.Equal(t, "npx -y @modelcontextprotocol/server-memory", spec.displayName())

	_, err = ParseCommand("   ")
	assert.Error(t, err)
}

func TestLoadConfigSpecs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"mcpServers": {
			"weather": {"command": "weather-mcp", "args": ["--units", "metric"], "env": {"UNITS": "c"}},
			"attractions": {"command": "attractions-mcp"}
		}
	}`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	specs := cfg.Specs()
	require.Len(t, specs, 2)
	assert.Equal(t, "attractions", specs[0].Name)
	assert.Equal(t, "weather", specs[1].Name)
	assert.Equal(t, []string{"--units", "metric"}, specs[1].Args)
	assert.Equal(t, "c", specs[1].Env["UNITS"])

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestParseParametersDefaults(t *testing.T) {
	params := parseParameters(map[string]any{
		"properties": map[string]any{"q": map[string]any{}},
		"required":   []string{"q"},
	})
	require.Len(t, params, 1)
	assert.Equal(t, "string", params[0].ParamType)
	assert.True(t, params[0].Required)

	assert.Empty(t, parseParameters(nil))
}
