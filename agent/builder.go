// Agent builder for fluent configuration.
//
// Information Hiding:
// - Builder state management hidden
// - Default value application hidden

package agent

import (
	"fmt"

	"github.com/richinex/agentpatterns/tools"
)

// Builder provides fluent configuration for creating agents.
// Usage: agent.NewBuilder("TravelBuddy").Role("...").Tool(t).Build()
type Builder struct {
	cfg Config
}

// NewBuilder creates a new agent builder with the given name.
func NewBuilder(name string) *Builder {
	return &Builder{cfg: Config{Name: name}}
}

// Role sets the agent's persona.
func (b *Builder) Role(role string) *Builder {
	b.cfg.Role = role
	return b
}

// Goal sets what the agent is trying to achieve.
func (b *Builder) Goal(goal string) *Builder {
	b.cfg.Goal = goal
	return b
}

// Instructions appends prompt instructions.
func (b *Builder) Instructions(instructions ...string) *Builder {
	b.cfg.Instructions = append(b.cfg.Instructions, instructions...)
	return b
}

// Description sets the agent's description.
func (b *Builder) Description(description string) *Builder {
	b.cfg.Description = description
	return b
}

// SystemPrompt overrides the rendered prompt.
func (b *Builder) SystemPrompt(prompt string) *Builder {
	b.cfg.SystemPrompt = prompt
	return b
}

// Tool adds a tool to the agent.
func (b *Builder) Tool(tool tools.Tool) *Builder {
	b.cfg.Tools = append(b.cfg.Tools, tool)
	return b
}

// Tools adds multiple tools at once.
func (b *Builder) Tools(toolList ...tools.Tool) *Builder {
	b.cfg.Tools = append(b.cfg.Tools, toolList...)
	return b
}

// ReturnToolOutput configures the agent to return tool output directly.
func (b *Builder) ReturnToolOutput(enabled bool) *Builder {
	b.cfg.ReturnToolOutput = enabled
	return b
}

// Build creates the agent configuration.
func (b *Builder) Build() Config {
	cfg := b.cfg
	if cfg.Description == "" {
		if cfg.Role != "" {
			cfg.Description = fmt.Sprintf("%s (%s)", cfg.Name, cfg.Role)
		} else {
			cfg.Description = fmt.Sprintf("Agent: %s", cfg.Name)
		}
	}
	cfg.Instructions = append([]string(nil), cfg.Instructions...)
	cfg.Tools = append([]tools.Tool(nil), cfg.Tools...)
	return cfg
}

// Name returns the builder's agent name.
func (b *Builder) Name() string {
	return b.cfg.Name
}

// ToolCount returns the number of tools registered.
func (b *Builder) ToolCount() int {
	return len(b.cfg.Tools)
}
