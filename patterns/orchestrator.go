package patterns

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/richinex/agentpatterns/workflow"
)

const orchestratorWorkflow = "orchestrator_travel_planner"

// TravelTask is one unit of work planned by the orchestrator.
type TravelTask struct {
	TaskID      string `json:"task_id" jsonschema:"Unique identifier for the task"`
	Description string `json:"description" jsonschema:"Detailed description of what the task should accomplish"`
	Query       string `json:"query" jsonschema:"The specific query or prompt for the worker"`
}

// OrchestratorPlan is the orchestrator's structured reply.
type OrchestratorPlan struct {
	Tasks []TravelTask `json:"tasks" jsonschema:"Tasks to be performed by workers"`
}

// WorkerResult pairs a planned task with its output.
type WorkerResult struct {
	TaskID string `json:"task_id"`
	Result string `json:"result"`
}

const orchestratorRequest = `I'm planning a 5-day family trip to Japan in October with my spouse and two children (ages 8 and 12).
We're interested in experiencing both traditional and modern Japanese culture, family-friendly activities,
and want a mix of Tokyo city experiences and at least 2 days in a more natural setting like Hakone or Nikko.
Our budget is moderate, and we prefer public transportation. We'd like recommendations for accommodations,
must-see attractions, transportation logistics, and a day-by-day itinerary.`

func orchestrator() Pattern {
	return Pattern{
		Name:        "orchestrator",
		Title:       "Orchestrator-Workers",
		Description: "An orchestrator plans subtasks at runtime, workers execute them, a synthesiser merges",
		Workflow:    orchestratorWorkflow,
		register:    registerOrchestrator,
		run:         runOrchestrator,
	}
}

func registerOrchestrator(rt *workflow.Runtime, d Deps) error {
	return activitySet{
		workflow: orchestratorWorkflow,
		fn:       orchestratorTravelPlanner,
		activities: map[string]workflow.ActivityFunc{
			"plan_travel_tasks": workflow.StructuredTask[OrchestratorPlan]{
				Name: "orchestrator_plan",
				Description: "Analyze this travel request and create a list of specific tasks needed to create a comprehensive travel plan. " +
					"For each task, provide a task_id, description, and specific query: {request}",
				Provider: d.Provider,
			}.Func(),
			"execute_travel_task": workflow.PromptTask{
				Description: "Execute this specific travel planning task: {task}",
				Provider:    d.Provider,
			}.Func(),
			"synthesize_travel_plan": workflow.PromptTask{
				Description: "Synthesize these worker results into a cohesive, well-formatted travel plan that addresses the original request: {request}. " +
					"Worker results: {results}",
				Provider: d.Provider,
			}.Func(),
		},
	}.register(rt)
}

// orchestratorTravelPlanner runs the planned tasks one after another so
// their sequence numbers follow the plan order on replay.
func orchestratorTravelPlanner(ctx *workflow.Context, input json.RawMessage) (any, error) {
	var params struct {
		Request string `json:"request"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, workflow.NonRetryable(err)
	}
	log := ctx.Logger()

	var plan OrchestratorPlan
	if err := ctx.CallActivity("plan_travel_tasks", map[string]string{"request": params.Request}, &plan); err != nil {
		return nil, err
	}
	log.Info("orchestrator created tasks", "count", len(plan.Tasks))

	results := make([]WorkerResult, 0, len(plan.Tasks))
	for _, task := range plan.Tasks {
		log.Info("executing task", "task_id", task.TaskID, "description", task.Description)
		var out string
		if err := ctx.CallActivity("execute_travel_task", map[string]any{"task": task}, &out); err != nil {
			return nil, err
		}
		results = append(results, WorkerResult{TaskID: task.TaskID, Result: out})
	}

	var final string
	err := ctx.CallActivity("synthesize_travel_plan", map[string]any{
		"request": params.Request,
		"results": results,
	}, &final)
	return final, err
}

func runOrchestrator(ctx context.Context, d Deps, w io.Writer) error {
	f := d.format()
	printf(w, "\n%s\n", f.Heading("=== ORCHESTRATOR-WORKERS PATTERN DEMONSTRATION ==="))
	printf(w, "\nComplex travel request:\n%s\n", orchestratorRequest)
	printf(w, "\nStarting orchestrator workflow...\n")

	inst, err := runWorkflow(ctx, d.Runtime, orchestratorWorkflow, map[string]string{"request": orchestratorRequest})
	if err != nil {
		return err
	}
	history, err := d.Runtime.History(ctx, inst.ID)
	if err != nil {
		return err
	}
	workers := 0
	for _, rec := range history {
		if rec.Name == "execute_travel_task" {
			workers++
		}
	}
	printf(w, "Orchestrator delegated %d tasks to workers\n", workers)

	var final string
	if err := json.Unmarshal(inst.Output, &final); err != nil {
		return err
	}
	printf(w, "\n%s\n%s\n", f.Heading("Final Travel Plan:"), f.Markdown(strings.TrimSpace(final)))
	printf(w, "\nOrchestrator-Workers Pattern completed successfully!\n")
	return nil
}
