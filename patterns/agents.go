package patterns

import (
	"context"
	"io"

	"github.com/richinex/agentpatterns/agent"
	"github.com/richinex/agentpatterns/storage"
	"github.com/richinex/agentpatterns/tools"
	"github.com/richinex/agentpatterns/travel"
)

const (
	augmentedSession  = "travel-buddy"
	statefulSession   = "travel-preferences"
	autonomousSession = "travel-helper"
)

func augmented() Pattern {
	return Pattern{
		Name:        "augmented",
		Title:       "Augmented LLM",
		Description: "One agent with conversation memory and a flight search tool",
		run:         runAugmented,
	}
}

func runAugmented(ctx context.Context, d Deps, w io.Writer) error {
	cfg := agent.NewBuilder("TravelBuddy").
		Role("Travel Planner Assistant").
		Instructions("Remember destinations and help find flights").
		Tool(travel.FlightsTool()).
		Build()

	buddy := agent.NewToolCallAgent(cfg, d.Provider).
		WithMemory(storage.NewInMemoryStorage(), augmentedSession).
		WithToolConfig(d.ToolConfig).
		WithLogger(d.logger())
	if d.MaxIterations > 0 {
		buddy.WithMaxIterations(d.MaxIterations)
	}

	turns := []struct{ heading, input string }{
		{"--- First interaction ---", "I want to visit Paris"},
		{"--- Second interaction (uses memory and tool) ---", "Show me flights"},
	}
	return converse(ctx, d, w, buddy, turns)
}

func stateful() Pattern {
	return Pattern{
		Name:        "stateful",
		Title:       "Stateful LLM",
		Description: "Conversation state persisted in SQLite and reloaded by a fresh agent",
		run:         runStateful,
	}
}

func runStateful(ctx context.Context, d Deps, w io.Writer) error {
	store := d.Store
	if store == nil {
		mem, err := storage.NewSqliteInMemory()
		if err != nil {
			return err
		}
		defer mem.Close()
		store = mem
	}

	cfg := agent.NewBuilder("TravelMemory").
		Role("Travel Preferences Assistant").
		Goal("Plan trips that respect what the traveller told you before").
		Instructions(
			"Remember the traveller's preferences across sessions",
			"Use stored preferences when suggesting plans",
		).
		Tool(travel.FlightsTool()).
		Build()

	newAgent := func() *agent.ToolCallAgent {
		a := agent.NewToolCallAgent(cfg, d.Provider).
			WithMemory(store, statefulSession).
			WithToolConfig(d.ToolConfig).
			WithLogger(d.logger())
		if d.MaxIterations > 0 {
			a.WithMaxIterations(d.MaxIterations)
		}
		return a
	}

	if err := converse(ctx, d, w, newAgent(), []struct{ heading, input string }{
		{"--- Session 1: sharing preferences ---", "I prefer window seats, budget hotels and vegetarian food."},
	}); err != nil {
		return err
	}

	// A new agent has no state of its own; everything comes from storage.
	restored := newAgent()
	history, err := restored.History(ctx)
	if err != nil {
		return err
	}
	f := d.format()
	printf(w, "\n%s\n", f.Heading("--- Session 2: new agent, same session ---"))
	printf(w, "Reloaded %d messages for session %q\n", len(history), statefulSession)

	return converse(ctx, d, w, restored, []struct{ heading, input string }{
		{"", "Plan a weekend in Paris that fits my preferences."},
	})
}

func autonomous() Pattern {
	return Pattern{
		Name:        "autonomous",
		Title:       "Autonomous Agent",
		Description: "A ReAct agent that decides which tools to call",
		run:         runAutonomous,
	}
}

func runAutonomous(ctx context.Context, d Deps, w io.Writer) error {
	toolset := append([]tools.Tool{travel.WeatherTool(), travel.ActivitiesTool()}, d.Tools...)
	cfg := agent.NewBuilder("TravelHelper").
		Role("Travel Assistant").
		Instructions("Help users plan trips by providing weather and activities").
		Tools(toolset...).
		Build()

	helper := agent.New(cfg, d.Provider).
		WithToolConfig(d.ToolConfig).
		WithLogger(d.logger())
	if d.Store != nil {
		helper.WithStorage(d.Store, autonomousSession)
	}
	if d.MaxIterations > 0 {
		helper.WithMaxIterations(d.MaxIterations)
	}

	f := d.format()
	printf(w, "%s\n", f.Heading("=== AUTONOMOUS AGENT EXAMPLE ==="))
	printf(w, "The agent will decide what information to get first.\n\n")

	resp := helper.Run(ctx, "I'm planning a trip to Paris. What should I know?")
	if err := resp.Err(); err != nil {
		return err
	}
	printf(w, "Result: %s\n", f.Markdown(resp.Result))
	return nil
}

// converse runs each turn against r and prints the answers.
func converse(ctx context.Context, d Deps, w io.Writer, r agent.Runner, turns []struct{ heading, input string }) error {
	f := d.format()
	for _, turn := range turns {
		if turn.heading != "" {
			printf(w, "\n%s\n", f.Heading(turn.heading))
		}
		printf(w, "User: %s\n", turn.input)
		resp := r.Run(ctx, turn.input)
		if err := resp.Err(); err != nil {
			return err
		}
		printf(w, "%s: %s\n", r.Name(), f.Markdown(resp.Result))
	}
	return nil
}
