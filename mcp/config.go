// MCP server configuration file support.
//
// Supports Anthropic-style MCP configuration format:
//
//	{
//	  "mcpServers": {
//	    "weather": {
//	      "command": "weather-mcp",
//	      "args": ["--units", "metric"],
//	      "env": {"WEATHER_API_KEY": "..."}
//	    }
//	  }
//	}
package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Config represents the MCP configuration file format.
type Config struct {
	MCPServers map[string]ServerConfig `json:"mcpServers"`
}

// ServerConfig represents a single MCP server configuration.
type ServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env,omitempty"`
}

// Spec describes how to start one server.
type Spec struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
}

func (s Spec) displayName() string {
	if s.Name != "" {
		return s.Name
	}
	return strings.TrimSpace(s.Command + " " + strings.Join(s.Args, " "))
}

// ParseCommand turns a command line such as "npx -y server" into a Spec.
// Arguments are split on whitespace; quoting is not supported.
func ParseCommand(line string) (Spec, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Spec{}, fmt.Errorf("empty mcp server command")
	}
	return Spec{Command: fields[0], Args: fields[1:]}, nil
}

// LoadConfig loads MCP configuration from a JSON file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// Specs returns the configured servers ordered by name.
func (c *Config) Specs() []Spec {
	names := make([]string, 0, len(c.MCPServers))
	for name := range c.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)

	specs := make([]Spec, 0, len(names))
	for _, name := range names {
		server := c.MCPServers[name]
		specs = append(specs, Spec{Name: name, Command: server.Command, Args: server.Args, Env: server.Env})
	}
	return specs
}
