// Agent configuration types.
//
// Information Hiding:
// - Prompt rendering hidden behind Config.Prompt
// - Default values hidden

package agent

import (
	"fmt"
	"strings"

	"github.com/richinex/agentpatterns/tools"
)

// DefaultMaxIterations bounds an agent run when no limit is configured.
const DefaultMaxIterations = 10

// Config holds agent configuration.
type Config struct {
	// Name is a unique identifier for the agent.
	Name string

	// Role is the persona, e.g. "Travel Planner Assistant".
	Role string

	// Goal states what the agent is trying to achieve.
	Goal string

	// Instructions are appended to the prompt as a bullet list.
	Instructions []string

	// Description explains what this agent does (used in listings).
	Description string

	// SystemPrompt replaces the rendered prompt when set.
	SystemPrompt string

	// Tools available to this agent.
	Tools []tools.Tool

	// ReturnToolOutput returns the last tool output instead of final_answer.
	ReturnToolOutput bool
}

// DefaultConfig returns a basic agent configuration.
func DefaultConfig() Config {
	return Config{
		Name:        "agent",
		Description: "A general-purpose agent",
		Role:        "helpful assistant",
	}
}

// Prompt renders the system prompt from name, role, goal and instructions.
func (c Config) Prompt() string {
	if c.SystemPrompt != "" {
		return c.SystemPrompt
	}

	var b strings.Builder
	name := c.Name
	if name == "" {
		name = "an assistant"
	}
	if c.Role != "" {
		fmt.Fprintf(&b, "You are %s, a %s.", name, c.Role)
	} else {
		fmt.Fprintf(&b, "You are %s.", name)
	}
	if c.Goal != "" {
		fmt.Fprintf(&b, "\nGoal: %s", c.Goal)
	}
	if len(c.Instructions) > 0 {
		b.WriteString("\nInstructions:")
		for _, instr := range c.Instructions {
			fmt.Fprintf(&b, "\n- %s", instr)
		}
	}
	return b.String()
}

// HasTools returns true if the agent has tools configured.
func (c Config) HasTools() bool {
	return len(c.Tools) > 0
}

func newToolRegistry(list []tools.Tool) *tools.Registry {
	registry := tools.NewRegistry()
	for _, tool := range list {
		_ = registry.Register(tool) // Duplicates keep the first registration
	}
	return registry
}
