package patterns

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/richinex/agentpatterns/agent"
	"github.com/richinex/agentpatterns/travel"
	"github.com/richinex/agentpatterns/workflow"
)

const (
	chainingWorkflow   = "travel_planning_workflow"
	unsupportedMessage = "Unable to create itinerary: Destination not recognized or supported."
	chainingRequest    = "I want to visit Paris for 3 days. I love art museums, historical sites, and trying local food."
)

const extractPrompt = `Extract the main destination, trip duration, and user preferences from: {user_input}

Include information about:
- Main destination city/location
- Number of days for the trip
- Specific interests (museums, food, activities)

Format your response as a structured summary.`

const outlinePrompt = `Create a day-by-day travel outline for a trip based on this information: {destination_text}

1. First, identify the city and duration from the input
2. Use the search_attractions tool to find relevant attractions
3. Create a balanced itinerary that includes variety each day

Provide a comprehensive travel outline with a day-by-day structure.`

const expandPrompt = `This is a two-step task:
1. First, add specific timing, transportation details, and logistics to this travel outline: {outline}
2. Then, enhance this schedule with local tips, dining recommendations, and cultural insights.

Provide a detailed, comprehensive itinerary with both logistics and local recommendations.`

func chaining() Pattern {
	return Pattern{
		Name:        "chaining",
		Title:       "Prompt Chaining",
		Description: "Sequential workflow steps with a validation gate between them",
		Workflow:    chainingWorkflow,
		register:    registerChaining,
		run:         runChaining,
	}
}

func registerChaining(rt *workflow.Runtime, d Deps) error {
	planner, writer := chainingAgents(d)

	return activitySet{
		workflow: chainingWorkflow,
		fn:       travelPlanningWorkflow,
		activities: map[string]workflow.ActivityFunc{
			"extract_destination":   workflow.PromptTask{Description: extractPrompt, Provider: d.Provider}.Func(),
			"create_travel_outline": workflow.PromptTask{Description: outlinePrompt, Agent: planner}.Func(),
			"expand_itinerary":      workflow.PromptTask{Description: expandPrompt, Agent: writer}.Func(),
		},
	}.register(rt)
}

// chainingAgents builds the outline and itinerary writers.
func chainingAgents(d Deps) (planner, writer *agent.ToolCallAgent) {
	planner = agent.NewToolCallAgent(
		agent.NewBuilder("TravelPlanner").
			Role("Travel Outline Developer").
			Goal("Create structured travel outlines based on destination information").
			Instructions(
				"Create day-by-day structure for trips",
				"Use tools to search for key attractions based on user preferences",
			).
			Tool(travel.AttractionsTool()).
			Build(),
		d.Provider,
	).WithToolConfig(d.ToolConfig).WithLogger(d.logger())

	writer = agent.NewToolCallAgent(
		agent.NewBuilder("ItineraryCreator").
			Role("Detailed Itinerary Developer").
			Goal("Expand travel outlines into comprehensive itineraries").
			Instructions(
				"Add specific timing and logistics details",
				"Include dining recommendations and local tips",
			).
			Build(),
		d.Provider,
	).WithToolConfig(d.ToolConfig).WithLogger(d.logger())
	return planner, writer
}

// travelPlanningWorkflow extracts the destination, stops unless it is
// supported, then outlines and expands an itinerary.
func travelPlanningWorkflow(ctx *workflow.Context, input json.RawMessage) (any, error) {
	var userInput string
	if err := json.Unmarshal(input, &userInput); err != nil {
		return nil, workflow.NonRetryable(err)
	}

	var destination string
	if err := ctx.CallActivity("extract_destination", map[string]string{"user_input": userInput}, &destination); err != nil {
		return nil, err
	}
	if !supportedDestination(destination) {
		ctx.Logger().Info("destination gate rejected input")
		return unsupportedMessage, nil
	}

	var outline string
	if err := ctx.CallActivity("create_travel_outline", map[string]string{"destination_text": destination}, &outline); err != nil {
		return nil, err
	}

	var itinerary string
	if err := ctx.CallActivity("expand_itinerary", map[string]string{"outline": outline}, &itinerary); err != nil {
		return nil, err
	}
	return itinerary, nil
}

func supportedDestination(text string) bool {
	return strings.Contains(strings.ToLower(text), "paris")
}

func runChaining(ctx context.Context, d Deps, w io.Writer) error {
	f := d.format()
	printf(w, "\n%s\n", f.Heading("=== Prompt Chaining Pattern Demonstration ==="))
	printf(w, "\nUser request: %q\n", chainingRequest)
	printf(w, "\nStarting workflow chain:\n")

	inst, err := runWorkflow(ctx, d.Runtime, chainingWorkflow, chainingRequest)
	if err != nil {
		return err
	}
	history, err := d.Runtime.History(ctx, inst.ID)
	if err != nil {
		return err
	}

	steps := map[string]string{}
	for _, rec := range history {
		var text string
		if json.Unmarshal(rec.Output, &text) == nil {
			steps[rec.Name] = text
		}
	}

	printf(w, "\n--- Step 1 Output (Extract Destination) ---\n%s\n", preview(steps["extract_destination"], 300))
	printf(w, "\n--- Gate: Validating Destination ---\n")
	if outline, ok := steps["create_travel_outline"]; ok {
		printf(w, "Destination valid! Proceeding to outline generation.\n")
		printf(w, "\n--- Step 2 Output (Create Travel Outline) ---\n%s\n", preview(outline, 300))
	}
	if itinerary, ok := steps["expand_itinerary"]; ok {
		printf(w, "\n--- Step 3 Output (Expand to Detailed Itinerary) ---\n")
		printf(w, "Detailed itinerary generated. Length: %d characters\n", len(itinerary))
	}

	var result string
	if err := json.Unmarshal(inst.Output, &result); err != nil {
		return err
	}
	printf(w, "\n%s\n", f.Heading("=== Final Detailed Itinerary ==="))
	printf(w, "============================================\n%s\n============================================\n", f.Markdown(result))
	return nil
}
