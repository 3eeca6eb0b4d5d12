package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinex/agentpatterns/metrics"
	"github.com/richinex/agentpatterns/model"
	"github.com/richinex/agentpatterns/pubsub"
	"github.com/richinex/agentpatterns/workflow"
)

type fixture struct {
	rt      *workflow.Runtime
	srv     *httptest.Server
	release chan struct{}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	broker := pubsub.New()
	rec := metrics.New()
	rt := workflow.NewRuntime(workflow.Options{
		Broker:   broker,
		Recorder: rec,
		Retry:    workflow.RetryPolicy{MaxAttempts: 1},
	})
	f := &fixture{rt: rt, release: make(chan struct{})}

	require.NoError(t, rt.RegisterActivity("greet", func(_ context.Context, input json.RawMessage) (any, error) {
		var in struct{ City string }
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, err
		}
		return "Bonjour from " + in.City, nil
	}))
	require.NoError(t, rt.RegisterActivity("gate", func(ctx context.Context, _ json.RawMessage) (any, error) {
		select {
		case <-f.release:
			return "released", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}))
	require.NoError(t, rt.RegisterWorkflow("greeting", func(c *workflow.Context, input json.RawMessage) (any, error) {
		var msg string
		err := c.CallActivity("greet", input, &msg)
		return msg, err
	}))
	require.NoError(t, rt.RegisterWorkflow("gated", func(c *workflow.Context, _ json.RawMessage) (any, error) {
		var msg string
		err := c.CallActivity("gate", nil, &msg)
		return msg, err
	}))

	f.srv = httptest.NewServer(New(rt, WithMetrics(rec.Handler())).Handler())
	t.Cleanup(func() {
		f.srv.Close()
		rt.Close()
		broker.Close()
	})
	return f
}

func (f *fixture) post(t *testing.T, path, body string) (*http.Response, map[string]string) {
	t.Helper()
	resp, err := http.Post(f.srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]string{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (f *fixture) status(t *testing.T, id string) (int, model.WorkflowInstance) {
	t.Helper()
	resp, err := http.Get(f.srv.URL + "/status/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	var inst model.WorkflowInstance
	_ = json.NewDecoder(resp.Body).Decode(&inst)
	return resp.StatusCode, inst
}

func (f *fixture) start(t *testing.T, name, body string) string {
	t.Helper()
	resp, out := f.post(t, "/start-workflow/"+name, body)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NotEmpty(t, out["instance_id"])
	return out["instance_id"]
}

func (f *fixture) wait(t *testing.T, id string) model.WorkflowInstance {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	inst, err := f.rt.Wait(ctx, id)
	require.NoError(t, err)
	return inst
}

func TestStartAndStatus(t *testing.T) {
	f := newFixture(t)

	id := f.start(t, "greeting", `{"city":"Paris"}`)
	f.wait(t, id)

	code, inst := f.status(t, id)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, id, inst.ID)
	assert.Equal(t, "greeting", inst.Name)
	assert.Equal(t, model.WorkflowCompleted, inst.Status)
	assert.JSONEq(t, `"Bonjour from Paris"`, string(inst.Output))

	resp, err := http.Get(f.srv.URL + "/history/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	var history []model.ActivityRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	require.Len(t, history, 1)
	assert.Equal(t, "greet", history[0].Name)
}

func TestStartRejectsBadRequests(t *testing.T) {
	f := newFixture(t)

	resp, out := f.post(t, "/start-workflow/unknown", `{}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, out["error"], "unknown workflow")

	resp, _ = f.post(t, "/start-workflow/greeting", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	code, _ := f.status(t, "missing")
	assert.Equal(t, http.StatusNotFound, code)

	resp, err := http.Get(f.srv.URL + "/start-workflow/greeting")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestTerminate(t *testing.T) {
	f := newFixture(t)
	id := f.start(t, "gated", "")

	resp, out := f.post(t, "/terminate/"+id, `{"reason":"changed plans"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "TERMINATED", out["status"])

	_, inst := f.status(t, id)
	assert.Equal(t, model.WorkflowTerminated, inst.Status)
	assert.Contains(t, inst.Error, "changed plans")

	resp, _ = f.post(t, "/terminate/"+id, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = f.post(t, "/terminate/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListings(t *testing.T) {
	f := newFixture(t)
	f.wait(t, f.start(t, "greeting", `{"city":"Rome"}`))

	resp, err := http.Get(f.srv.URL + "/workflows")
	require.NoError(t, err)
	defer resp.Body.Close()
	var names map[string][]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&names))
	assert.Equal(t, []string{"gated", "greeting"}, names["workflows"])

	resp2, err := http.Get(f.srv.URL + "/instances?status=completed")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var list []model.WorkflowInstance
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&list))
	assert.Len(t, list, 1)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	f.wait(t, f.start(t, "greeting", `{"city":"Oslo"}`))

	resp, err := http.Get(f.srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `workflow_instances_total{status="COMPLETED",workflow="greeting"} 1`)
}

func dialEvents(t *testing.T, f *fixture, id string) (*websocket.Conn, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/events/" + id
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn, ctx
}

func TestEventsStreamUntilTerminal(t *testing.T) {
	f := newFixture(t)
	id := f.start(t, "gated", "")
	conn, ctx := dialEvents(t, f, id)

	close(f.release)

	var types []string
	for {
		var ev workflow.Event
		err := wsjson.Read(ctx, conn, &ev)
		if err != nil {
			require.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err), err)
			break
		}
		assert.Equal(t, id, ev.InstanceID)
		types = append(types, ev.Type)
	}
	require.NotEmpty(t, types)
	assert.Equal(t, workflow.EventCompleted, types[len(types)-1])
	assert.Contains(t, types, workflow.EventActivityCompleted)
}

func TestEventsForFinishedInstance(t *testing.T) {
	f := newFixture(t)
	id := f.start(t, "greeting", `{"city":"Lima"}`)
	f.wait(t, id)

	conn, ctx := dialEvents(t, f, id)
	var ev workflow.Event
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, workflow.EventCompleted, ev.Type)
	assert.JSONEq(t, `"Bonjour from Lima"`, string(ev.Output))

	_, _, err := conn.Read(ctx)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestEventsUnknownInstance(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/events/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServeShutsDownWithContext(t *testing.T) {
	rt := workflow.NewRuntime(workflow.Options{})
	defer rt.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(rt).Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal(errors.New("server did not stop"))
	}
}
