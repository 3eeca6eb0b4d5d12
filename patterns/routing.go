package patterns

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/richinex/agentpatterns/workflow"
)

const (
	routingWorkflow = "travel_assistant_workflow"
	fallbackAnswer  = "I'm not sure how to help with that specific travel question."
)

// QueryType is the category a travel query is routed to.
type QueryType string

const (
	QueryAttractions    QueryType = "attractions"
	QueryAccommodations QueryType = "accommodations"
	QueryTransportation QueryType = "transportation"
)

// RoutingDecision is the classifier's structured reply.
type RoutingDecision struct {
	QueryType   QueryType `json:"query_type" jsonschema:"One of attractions, accommodations or transportation"`
	Explanation string    `json:"explanation" jsonschema:"Why this route was chosen"`
}

// RoutedAnswer is the routing workflow's output.
type RoutedAnswer struct {
	QueryType QueryType `json:"query_type"`
	Response  string    `json:"response"`
}

var handlers = map[QueryType]string{
	QueryAttractions:    "handle_attractions_query",
	QueryAccommodations: "handle_accommodations_query",
	QueryTransportation: "handle_transportation_query",
}

var routingQueries = []string{
	"What are the must-see attractions in Paris for a 3-day trip?",
	"Can you recommend budget-friendly hotels in central Paris?",
	"What's the best way to get around Paris using public transportation?",
}

func routing() Pattern {
	return Pattern{
		Name:        "routing",
		Title:       "Routing",
		Description: "Classify a query with structured output and dispatch to a specialised handler",
		Workflow:    routingWorkflow,
		register:    registerRouting,
		run:         runRouting,
	}
}

func registerRouting(rt *workflow.Runtime, d Deps) error {
	return activitySet{
		workflow: routingWorkflow,
		fn:       travelAssistantWorkflow,
		activities: map[string]workflow.ActivityFunc{
			"route_query": workflow.StructuredTask[RoutingDecision]{
				Name: "routing_decision",
				Description: "Classify this travel query into one of these categories: " +
					"attractions (for questions about sights, activities, or things to do), " +
					"accommodations (for questions about hotels, rentals, or places to stay), or " +
					"transportation (for questions about getting around or travel logistics). Query: {query}",
				Provider: d.Provider,
			}.Func(),
			handlers[QueryAttractions]: workflow.PromptTask{
				Description: "Answer this question about tourist attractions, sights, or activities: {query}",
				Provider:    d.Provider,
			}.Func(),
			handlers[QueryAccommodations]: workflow.PromptTask{
				Description: "Answer this question about accommodations, hotels, or places to stay: {query}",
				Provider:    d.Provider,
			}.Func(),
			handlers[QueryTransportation]: workflow.PromptTask{
				Description: "Answer this question about transportation, getting around, or travel logistics: {query}",
				Provider:    d.Provider,
			}.Func(),
		},
	}.register(rt)
}

// travelAssistantWorkflow routes {"query": ...} to the handler matching the
// classifier's decision. Unknown categories get a fixed fallback answer.
func travelAssistantWorkflow(ctx *workflow.Context, input json.RawMessage) (any, error) {
	var params struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, workflow.NonRetryable(err)
	}
	query := map[string]string{"query": params.Query}

	var decision RoutingDecision
	if err := ctx.CallActivity("route_query", query, &decision); err != nil {
		return nil, err
	}
	kind := QueryType(strings.ToLower(strings.TrimSpace(string(decision.QueryType))))
	ctx.Logger().Info("query classified", "query_type", kind)

	handler, ok := handlers[kind]
	if !ok {
		return RoutedAnswer{QueryType: kind, Response: fallbackAnswer}, nil
	}
	var response string
	if err := ctx.CallActivity(handler, query, &response); err != nil {
		return nil, err
	}
	return RoutedAnswer{QueryType: kind, Response: response}, nil
}

func runRouting(ctx context.Context, d Deps, w io.Writer) error {
	f := d.format()
	printf(w, "\n%s\n", f.Heading("=== ROUTING PATTERN DEMONSTRATION ==="))
	printf(w, "This example shows how to route different types of travel queries to specialized handlers\n")

	for i, query := range routingQueries {
		printf(w, "\nQuery %d: %s\n", i+1, query)

		inst, err := runWorkflow(ctx, d.Runtime, routingWorkflow, map[string]string{"query": query})
		if err != nil {
			return err
		}
		var answer RoutedAnswer
		if err := json.Unmarshal(inst.Output, &answer); err != nil {
			return err
		}

		label := strings.ToUpper(string(answer.QueryType))
		if _, known := handlers[answer.QueryType]; !known {
			label = "UNKNOWN QUERY"
		}
		printf(w, "\n%s\n", strings.Repeat("*", 80))
		printf(w, "%s RESPONSE:\n%s\n", label, f.Markdown(answer.Response))
		printf(w, "%s\n", strings.Repeat("*", 80))
	}

	printf(w, "\nRouting Pattern completed successfully!\n")
	return nil
}
