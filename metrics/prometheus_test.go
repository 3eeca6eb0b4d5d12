package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinex/agentpatterns/model"
)

func TestRecorderCountsLLMRequests(t *testing.T) {
	rec := New()

	rec.ObserveRequest("openai", "gpt", "chat", 100, 20, true, 300*time.Millisecond)
	rec.ObserveRequest("openai", "gpt", "chat", 50, 0, false, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.llmRequests.WithLabelValues("openai", "gpt", "chat", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.llmRequests.WithLabelValues("openai", "gpt", "chat", "error")))
	assert.Equal(t, 100.0, testutil.ToFloat64(rec.llmTokens.WithLabelValues("openai", "gpt", "prompt")), "failed calls add no tokens")
	assert.Equal(t, 20.0, testutil.ToFloat64(rec.llmTokens.WithLabelValues("openai", "gpt", "completion")))
}

func TestRecorderCountsWorkflowActivity(t *testing.T) {
	rec := New()

	rec.ActivityFinished("extract_destination", true, 2, time.Second)
	rec.ActivityReplayed("extract_destination")
	rec.WorkflowFinished("travel_planning_workflow", model.WorkflowCompleted, 3*time.Second)
	rec.EventDropped("workflows")

	assert.Equal(t, 2.0, testutil.ToFloat64(rec.activityAttempts.WithLabelValues("extract_destination")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.activityReplays.WithLabelValues("extract_destination")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.workflows.WithLabelValues("travel_planning_workflow", "COMPLETED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.eventsDropped.WithLabelValues("workflows")))
}

func TestHandlerExposesRegistry(t *testing.T) {
	rec := New()
	rec.WorkflowFinished("routing", model.WorkflowFailed, time.Millisecond)

	srv := httptest.NewServer(rec.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `workflow_instances_total{status="FAILED",workflow="routing"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestRecordersAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.EventDropped("x")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.eventsDropped.WithLabelValues("x")))
}
