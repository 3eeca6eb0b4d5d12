// Package mcp connects to Model Context Protocol servers and exposes their
// tools as tools.Tool values.
//
// Information Hiding:
// - Process management and the MCP session handshake hidden
// - Content block decoding hidden
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

const clientName = "agentpatterns"

// Client is a connected MCP session.
type Client struct {
	name    string
	session *sdk.ClientSession
}

// Connect starts the server described by spec and completes the MCP
// handshake. The process is stopped by Close.
func Connect(ctx context.Context, spec Spec) (*Client, error) {
	if spec.Command == "" {
		return nil, fmt.Errorf("mcp server %q has no command", spec.Name)
	}
	cmd := exec.Command(spec.Command, spec.Args...)
	if len(spec.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range spec.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	return connect(ctx, spec.displayName(), &sdk.CommandTransport{Command: cmd})
}

func connect(ctx context.Context, name string, transport sdk.Transport) (*Client, error) {
	client := sdk.NewClient(&sdk.Implementation{Name: clientName, Version: "0.1.0"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mcp server %s: %w", name, err)
	}
	return &Client{name: name, session: session}, nil
}

// Name returns the server's display name.
func (c *Client) Name() string { return c.name }

// ListTools returns the tools the server offers.
func (c *Client) ListTools(ctx context.Context) ([]*sdk.Tool, error) {
	result, err := c.session.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools of %s: %w", c.name, err)
	}
	return result.Tools, nil
}

// CallTool invokes a tool and returns its text content. A result flagged
// as an error is returned as a *ToolError.
func (c *Client) CallTool(ctx context.Context, name string, arguments json.RawMessage) (string, error) {
	var args map[string]any
	if len(arguments) > 0 && string(arguments) != "null" {
		if err := json.Unmarshal(arguments, &args); err != nil {
			return "", fmt.Errorf("invalid arguments for %s: %w", name, err)
		}
	}

	result, err := c.session.CallTool(ctx, &sdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("call %s on %s: %w", name, c.name, err)
	}

	text := textOf(result)
	if result.IsError {
		return "", &ToolError{Tool: name, Message: text}
	}
	return text, nil
}

// ToolError is a failure reported by the server inside a tool result.
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Tool, e.Message)
}

// Close ends the session and stops the server process.
func (c *Client) Close() error {
	return c.session.Close()
}

func textOf(result *sdk.CallToolResult) string {
	var parts []string
	for _, item := range result.Content {
		if tc, ok := item.(*sdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
