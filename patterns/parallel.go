package patterns

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/richinex/agentpatterns/workflow"
)

const parallelWorkflow = "parallel_travel_planning_workflow"

// TravelComponent is one independently researched part of a trip.
type TravelComponent struct {
	Title   string `json:"title" jsonschema:"Title of this travel plan component"`
	Details string `json:"details" jsonschema:"Detailed information about this component"`
}

// TripRequest is the parallelization workflow's input.
type TripRequest struct {
	Destination string `json:"destination"`
	Days        int    `json:"days"`
	Preferences string `json:"preferences"`
}

var parallelRequest = TripRequest{
	Destination: "Paris",
	Days:        3,
	Preferences: "I love art museums, historical sites, and trying local food. I prefer budget-friendly options and walking when possible.",
}

var componentTasks = []struct{ activity, prompt string }{
	{"research_attractions", "Research popular attractions and activities in {destination} for {days} days, considering these preferences: {preferences}"},
	{"recommend_accommodations", "Recommend accommodations in {destination} for {days} days, considering these preferences: {preferences}"},
	{"suggest_transportation", "Suggest transportation options in and to {destination} for {days} days, considering these preferences: {preferences}"},
}

func parallelization() Pattern {
	return Pattern{
		Name:        "parallelization",
		Title:       "Parallelization",
		Description: "Three structured research tasks fanned out concurrently, then combined",
		Workflow:    parallelWorkflow,
		register:    registerParallel,
		run:         runParallel,
	}
}

func registerParallel(rt *workflow.Runtime, d Deps) error {
	activities := map[string]workflow.ActivityFunc{
		"combine_travel_plan": workflow.PromptTask{
			Description: "Create a comprehensive travel plan for {destination} for {days} days based on the researched attractions, accommodations, and transportation: " +
				"Attractions: {attractions} Accommodations: {accommodations} Transportation: {transportation}",
			Provider: d.Provider,
		}.Func(),
	}
	for _, t := range componentTasks {
		activities[t.activity] = workflow.StructuredTask[TravelComponent]{
			Name:        "travel_component",
			Description: t.prompt,
			Provider:    d.Provider,
		}.Func()
	}
	return activitySet{workflow: parallelWorkflow, fn: parallelPlanningWorkflow, activities: activities}.register(rt)
}

// parallelPlanningWorkflow researches the trip components concurrently and
// merges them with one final call.
func parallelPlanningWorkflow(ctx *workflow.Context, input json.RawMessage) (any, error) {
	var req TripRequest
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, workflow.NonRetryable(err)
	}
	log := ctx.Logger()
	log.Info("planning trip", "destination", strings.ToUpper(req.Destination))

	tasks := make([]*workflow.Task, len(componentTasks))
	for i, t := range componentTasks {
		tasks[i] = ctx.Activity(t.activity, req)
	}
	if _, err := ctx.WhenAll(tasks...); err != nil {
		return nil, err
	}
	components, err := workflow.Gather[TravelComponent](tasks)
	if err != nil {
		return nil, err
	}
	for i, c := range components {
		log.Info("component ready", "activity", componentTasks[i].activity, "preview", preview(c.Details, 100))
	}

	var plan string
	err = ctx.CallActivity("combine_travel_plan", map[string]any{
		"destination":    req.Destination,
		"days":           req.Days,
		"attractions":    components[0],
		"accommodations": components[1],
		"transportation": components[2],
	}, &plan)
	return plan, err
}

func runParallel(ctx context.Context, d Deps, w io.Writer) error {
	req := parallelRequest
	f := d.format()
	printf(w, "\n%s\n", f.Heading("=== PARALLELIZATION PATTERN DEMONSTRATION ==="))
	printf(w, "Planning a %d-day trip to %s\n", req.Days, req.Destination)
	printf(w, "User preferences: %s\n", req.Preferences)
	printf(w, "\nWorkflow steps:\n")
	printf(w, "1. Three PARALLEL LLM calls (attractions, accommodations, transportation)\n")
	printf(w, "2. One final LLM call to combine results into a comprehensive plan\n")

	inst, err := runWorkflow(ctx, d.Runtime, parallelWorkflow, req)
	if err != nil {
		return err
	}
	var plan string
	if err := json.Unmarshal(inst.Output, &plan); err != nil {
		return err
	}

	printf(w, "\n%s\n", f.Heading("=== COMPLETE TRAVEL PLAN ==="))
	printf(w, "\nPreview:\n%s\n", f.Markdown(preview(plan, 500)))
	printf(w, "\nParallelization Pattern completed successfully!\n")
	return nil
}
