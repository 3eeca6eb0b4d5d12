// MCP Tool Wrapper - Makes MCP tools usable in the agent system.
//
// Information Hiding:
// - MCP client lifecycle hidden
// - Schema parsing hidden
// - Tool execution coordination hidden

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/richinex/agentpatterns/tools"
)

// ToolManager manages a set of MCP tools sharing a single client.
// The caller must call Close() when done to release resources.
type ToolManager struct {
	client *Client
	tools  []tools.Tool
}

// Tools returns the discovered tools.
func (m *ToolManager) Tools() []tools.Tool {
	return m.tools
}

// Close closes the MCP client and releases resources.
func (m *ToolManager) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// DiscoverTools starts the server described by spec and wraps every tool
// it lists. The returned manager owns the server process.
//
// Example:
//
//	spec, _ := mcp.ParseCommand("npx -y @modelcontextprotocol/server-brave-search")
//	manager, err := mcp.DiscoverTools(ctx, spec)
//	if err != nil {
//	    return err
//	}
//	defer manager.Close()
func DiscoverTools(ctx context.Context, spec Spec) (*ToolManager, error) {
	client, err := Connect(ctx, spec)
	if err != nil {
		return nil, err
	}
	return discover(ctx, client)
}

func discover(ctx context.Context, client *Client) (*ToolManager, error) {
	infos, err := client.ListTools(ctx)
	if err != nil {
		client.Close()
		return nil, err
	}

	result := make([]tools.Tool, 0, len(infos))
	for _, info := range infos {
		result = append(result, newRemoteTool(client, info))
	}
	return &ToolManager{client: client, tools: result}, nil
}

// Set is the merged tool list of several servers.
type Set struct {
	managers []*ToolManager
	tools    []tools.Tool
}

// Open connects to every server in specs. A tool whose name was already
// taken by an earlier server is skipped. On error the servers opened so
// far are closed.
func Open(ctx context.Context, specs []Spec, log *slog.Logger) (*Set, error) {
	set := &Set{}
	seen := make(map[string]string)
	for _, spec := range specs {
		manager, err := DiscoverTools(ctx, spec)
		if err != nil {
			set.Close()
			return nil, err
		}
		set.add(manager, seen, log)
	}
	return set, nil
}

func (s *Set) add(manager *ToolManager, seen map[string]string, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	s.managers = append(s.managers, manager)
	server := manager.client.Name()
	for _, tool := range manager.Tools() {
		name := tool.Metadata().Name
		if owner, dup := seen[name]; dup {
			log.Warn("skipping duplicate mcp tool", "tool", name, "server", server, "kept_from", owner)
			continue
		}
		seen[name] = server
		s.tools = append(s.tools, tool)
	}
	log.Info("connected mcp server", "server", server, "tools", len(manager.Tools()))
}

// Tools returns the merged tools in server order.
func (s *Set) Tools() []tools.Tool {
	if s == nil {
		return nil
	}
	return s.tools
}

// Close stops every server.
func (s *Set) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	for _, m := range s.managers {
		if err := m.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.managers = nil
	return errors.Join(errs...)
}

// remoteTool is one server tool bound to the shared client.
type remoteTool struct {
	client      *Client
	name        string
	description string
	schema      map[string]any
}

func newRemoteTool(client *Client, info *sdk.Tool) *remoteTool {
	return &remoteTool{
		client:      client,
		name:        info.Name,
		description: info.Description,
		schema:      schemaMap(info.InputSchema),
	}
}

// schemaMap normalizes the SDK's input schema, which may arrive as a map,
// raw JSON, or a typed schema value.
func schemaMap(v any) map[string]any {
	if v == nil {
		return nil
	}
	if m, ok := v.(map[string]any); ok {
		return m
	}
	var data []byte
	switch s := v.(type) {
	case json.RawMessage:
		data = s
	default:
		var err error
		if data, err = json.Marshal(v); err != nil {
			return nil
		}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

// Metadata returns the tool metadata extracted from the MCP schema.
func (w *remoteTool) Metadata() tools.ToolMetadata {
	return tools.ToolMetadata{
		Name:        w.name,
		Description: w.description,
		Parameters:  parseParameters(w.schema),
		Schema:      w.schema,
	}
}

// Execute calls the MCP tool using the shared client. Failures reported by
// the server become failed results; transport failures are errors.
func (w *remoteTool) Execute(ctx context.Context, args json.RawMessage) (tools.ToolResult, error) {
	text, err := w.client.CallTool(ctx, w.name, args)
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return tools.FailureResult(toolErr), nil
	}
	if err != nil {
		return tools.ToolResult{}, fmt.Errorf("tool call failed: %w", err)
	}
	return formatResult(text), nil
}

// Validate validates that arguments are valid JSON.
// Note: Schema validation is performed by the MCP server.
func (w *remoteTool) Validate(args json.RawMessage) error {
	if len(args) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(args, &v); err != nil {
		return fmt.Errorf("invalid JSON arguments: %w", err)
	}
	return nil
}

// parseParameters extracts tool parameters from the JSON schema.
// Returns parameters in sorted order for deterministic output.
func parseParameters(schema map[string]any) []tools.ToolParameter {
	props, _ := schema["properties"].(map[string]any)
	required := make(map[string]bool)
	switch list := schema["required"].(type) {
	case []any:
		for _, r := range list {
			if name, ok := r.(string); ok {
				required[name] = true
			}
		}
	case []string:
		for _, name := range list {
			required[name] = true
		}
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]tools.ToolParameter, 0, len(names))
	for _, name := range names {
		prop, _ := props[name].(map[string]any)
		paramType, _ := prop["type"].(string)
		if paramType == "" {
			paramType = "string"
		}
		description, _ := prop["description"].(string)
		params = append(params, tools.ToolParameter{
			Name:        name,
			Description: description,
			ParamType:   paramType,
			Required:    required[name],
		})
	}
	return params
}

// formatResult pretty-prints JSON output and passes anything else through.
func formatResult(text string) tools.ToolResult {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return tools.SuccessResult(text)
	}
	pretty, _ := json.MarshalIndent(v, "", "  ")
	return tools.SuccessResult(string(pretty))
}
