package patterns

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/richinex/agentpatterns/workflow"
)

const (
	evaluatorWorkflow    = "evaluator_optimizer_travel_planner"
	defaultMaxIterations = 2
)

// Evaluation is the evaluator's structured reply.
type Evaluation struct {
	Score         int      `json:"score" jsonschema:"Quality score from 1-10"`
	Feedback      []string `json:"feedback" jsonschema:"Specific feedback points for improvement"`
	MeetsCriteria bool     `json:"meets_criteria" jsonschema:"Whether the plan meets all criteria"`
}

// EvaluatorInput is the evaluator-optimizer workflow's input.
type EvaluatorInput struct {
	Request       string `json:"request"`
	MaxIterations int    `json:"max_iterations,omitempty"`
}

// OptimizedPlan is the evaluator-optimizer workflow's output.
type OptimizedPlan struct {
	FinalPlan  string `json:"final_plan"`
	Iterations int    `json:"iterations"`
	FinalScore int    `json:"final_score"`
}

const evaluatorRequest = `I want a weekend trip to San Francisco. I like museums, good food,
and walking tours. My budget is moderate.`

func evaluator() Pattern {
	return Pattern{
		Name:        "evaluator",
		Title:       "Evaluator-Optimizer",
		Description: "Generate, score and refine a plan until it meets the criteria",
		Workflow:    evaluatorWorkflow,
		register:    registerEvaluator,
		run:         runEvaluator,
	}
}

func registerEvaluator(rt *workflow.Runtime, d Deps) error {
	return activitySet{
		workflow: evaluatorWorkflow,
		fn:       evaluatorOptimizerWorkflow,
		activities: map[string]workflow.ActivityFunc{
			"generate_travel_plan": workflow.PromptTask{
				Description: "Create a travel plan for: {request}. If provided, incorporate this feedback: {feedback}",
				Provider:    d.Provider,
			}.Func(),
			"evaluate_travel_plan": workflow.StructuredTask[Evaluation]{
				Name: "evaluation",
				Description: "Evaluate this travel plan. Provide a score (1-10), feedback for improvement, and whether it meets criteria. " +
					"Request: {request} | Plan: {plan}",
				Provider: d.Provider,
			}.Func(),
		},
	}.register(rt)
}

// evaluatorOptimizerWorkflow alternates evaluation and regeneration until
// the plan meets the criteria or max_iterations evaluations have run.
func evaluatorOptimizerWorkflow(ctx *workflow.Context, input json.RawMessage) (any, error) {
	var params EvaluatorInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, workflow.NonRetryable(err)
	}
	if params.MaxIterations <= 0 {
		params.MaxIterations = defaultMaxIterations
	}
	log := ctx.Logger()

	var plan string
	if err := ctx.CallActivity("generate_travel_plan", map[string]any{"request": params.Request, "feedback": nil}, &plan); err != nil {
		return nil, err
	}

	iteration := 1
	var eval Evaluation
	for {
		log.Info("evaluating travel plan", "iteration", iteration)
		if err := ctx.CallActivity("evaluate_travel_plan", map[string]string{"request": params.Request, "plan": plan}, &eval); err != nil {
			return nil, err
		}
		log.Info("plan evaluated", "score", eval.Score, "meets_criteria", eval.MeetsCriteria, "feedback", strings.Join(eval.Feedback, ", "))

		if eval.MeetsCriteria || iteration >= params.MaxIterations {
			break
		}

		if err := ctx.CallActivity("generate_travel_plan", map[string]any{"request": params.Request, "feedback": eval.Feedback}, &plan); err != nil {
			return nil, err
		}
		iteration++
	}

	return OptimizedPlan{FinalPlan: plan, Iterations: iteration, FinalScore: eval.Score}, nil
}

func runEvaluator(ctx context.Context, d Deps, w io.Writer) error {
	f := d.format()
	printf(w, "%s\n", f.Heading("=== EVALUATOR-OPTIMIZER PATTERN DEMO ==="))
	printf(w, "Travel request:\n%s\n", evaluatorRequest)

	inst, err := runWorkflow(ctx, d.Runtime, evaluatorWorkflow, EvaluatorInput{
		Request:       evaluatorRequest,
		MaxIterations: defaultMaxIterations,
	})
	if err != nil {
		return err
	}
	history, err := d.Runtime.History(ctx, inst.ID)
	if err != nil {
		return err
	}
	for _, rec := range history {
		if rec.Name != "evaluate_travel_plan" {
			continue
		}
		var eval Evaluation
		if json.Unmarshal(rec.Output, &eval) != nil {
			continue
		}
		printf(w, "Score: %d/10, Meets criteria: %t\n", eval.Score, eval.MeetsCriteria)
		if len(eval.Feedback) > 0 {
			printf(w, "Feedback: %s\n", strings.Join(eval.Feedback, ", "))
		}
	}

	var result OptimizedPlan
	if err := json.Unmarshal(inst.Output, &result); err != nil {
		return err
	}
	printf(w, "\n%s\n", f.Heading("Final travel plan:"))
	printf(w, "After %d iterations (score: %d/10)\n\n%s\n", result.Iterations, result.FinalScore, f.Markdown(result.FinalPlan))
	printf(w, "\nEvaluator-Optimizer Pattern completed!\n")
	return nil
}
