package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/richinex/agentpatterns/model"
)

// Context is handed to a workflow function. It assigns sequence numbers to
// activity calls and answers calls already recorded in history.
type Context struct {
	ctx      context.Context
	rt       *Runtime
	instance model.WorkflowInstance
	log      *slog.Logger

	mu      sync.Mutex
	seq     int
	history map[int]model.ActivityRecord
	lastRec int
}

func newContext(ctx context.Context, rt *Runtime, inst model.WorkflowInstance, history []model.ActivityRecord, log *slog.Logger) *Context {
	c := &Context{
		ctx:      ctx,
		rt:       rt,
		instance: inst,
		log:      log,
		history:  make(map[int]model.ActivityRecord, len(history)),
		lastRec:  -1,
	}
	for _, rec := range history {
		c.history[rec.Sequence] = rec
		if rec.Completed && rec.Sequence > c.lastRec {
			c.lastRec = rec.Sequence
		}
	}
	return c
}

// Context returns the instance's cancellation context.
func (c *Context) Context() context.Context { return c.ctx }

// InstanceID returns the ID of the running instance.
func (c *Context) InstanceID() string { return c.instance.ID }

// Name returns the workflow name.
func (c *Context) Name() string { return c.instance.Name }

// Logger returns a logger tagged with the instance.
func (c *Context) Logger() *slog.Logger { return c.log }

// IsReplaying reports whether the next activity call will be answered from
// history. Workflows use it to avoid repeating side effects such as
// printing progress.
func (c *Context) IsReplaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq <= c.lastRec
}

// CallActivity runs one activity and decodes its result into out, which
// may be nil.
func (c *Context) CallActivity(name string, input, out any) error {
	task := c.Activity(name, input)
	if err := c.execute(task); err != nil {
		return err
	}
	return task.Decode(out)
}

// Activity reserves the next sequence number for a call that is executed
// later by WhenAll.
func (c *Context) Activity(name string, input any) *Task {
	c.mu.Lock()
	seq := c.seq
	c.seq++
	c.mu.Unlock()

	raw, err := encode(input)
	return &Task{seq: seq, name: name, input: raw, err: err}
}

// WhenAll executes the pending tasks concurrently, at most MaxConcurrency
// at a time, and returns their results in task order. Every task runs to
// completion; the error is the first failure in task order.
func (c *Context) WhenAll(tasks ...*Task) ([]json.RawMessage, error) {
	var g errgroup.Group
	g.SetLimit(c.rt.maxConc)
	for _, task := range tasks {
		g.Go(func() error {
			_ = c.execute(task)
			return nil
		})
	}
	_ = g.Wait()

	results := make([]json.RawMessage, len(tasks))
	for i, task := range tasks {
		if task.err != nil {
			return nil, task.err
		}
		results[i] = task.result
	}
	return results, nil
}

// Gather decodes the results of finished tasks into a typed slice.
func Gather[T any](tasks []*Task) ([]T, error) {
	out := make([]T, len(tasks))
	for i, task := range tasks {
		if err := task.Decode(&out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Task is an activity call with a reserved sequence number.
type Task struct {
	seq   int
	name  string
	input json.RawMessage

	done   bool
	result json.RawMessage
	err    error
}

// Sequence returns the reserved sequence number.
func (t *Task) Sequence() int { return t.seq }

// Name returns the activity name.
func (t *Task) Name() string { return t.name }

// Err returns the outcome error of an executed task.
func (t *Task) Err() error { return t.err }

// Result returns the raw JSON result of an executed task.
func (t *Task) Result() json.RawMessage { return t.result }

// Decode unmarshals the task result into out. A nil out only checks the
// outcome.
func (t *Task) Decode(out any) error {
	if t.err != nil {
		return t.err
	}
	if !t.done {
		return fmt.Errorf("activity %s#%d has not run", t.name, t.seq)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(t.result, out); err != nil {
		return fmt.Errorf("failed to decode result of %s: %w", t.name, err)
	}
	return nil
}

func (c *Context) execute(task *Task) error {
	if task.done || task.err != nil {
		return task.err
	}
	task.result, task.err = c.run(task.seq, task.name, task.input)
	task.done = true
	return task.err
}

func (c *Context) run(seq int, name string, input json.RawMessage) (json.RawMessage, error) {
	rt := c.rt
	c.mu.Lock()
	prior, recorded := c.history[seq]
	c.mu.Unlock()

	if recorded && prior.Completed {
		if prior.Name != name {
			return nil, fmt.Errorf("%w: sequence %d recorded %s, workflow asked for %s", ErrNondeterministic, seq, prior.Name, name)
		}
		rt.rec.ActivityReplayed(name)
		c.log.Debug("activity replayed", "activity", name, "sequence", seq)
		return prior.Output, nil
	}

	rt.mu.Lock()
	fn, ok := rt.activities[name]
	rt.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownActivity, name)
	}

	start := time.Now()
	var output json.RawMessage
	attempts, err := rt.retry.Do(c.ctx, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			c.log.Info("retrying activity", "activity", name, "sequence", seq, "attempt", attempt)
		}
		out, err := callActivity(ctx, fn, input)
		if err != nil {
			return err
		}
		output, err = encode(out)
		if err != nil {
			return NonRetryable(fmt.Errorf("failed to encode result: %w", err))
		}
		return nil
	})

	rec := model.ActivityRecord{
		InstanceID: c.instance.ID,
		Sequence:   seq,
		Name:       name,
		Input:      input,
		Attempts:   attempts + prior.Attempts,
		UpdatedAt:  time.Now(),
	}
	ev := Event{
		InstanceID: c.instance.ID,
		Workflow:   c.instance.Name,
		Status:     model.WorkflowRunning,
		Activity:   name,
		Sequence:   seq,
		Attempts:   rec.Attempts,
	}
	if err != nil {
		rec.Error = err.Error()
		ev.Type = EventActivityFailed
		ev.Error = rec.Error
	} else {
		rec.Output = output
		rec.Completed = true
		ev.Type = EventActivityCompleted
	}

	persist := context.WithoutCancel(c.ctx)
	if serr := rt.store.SaveActivity(persist, rec); serr != nil {
		c.log.Error("failed to record activity", "activity", name, "sequence", seq, "error", serr)
		if err == nil {
			err = fmt.Errorf("failed to record activity %s: %w", name, serr)
		}
	}
	c.mu.Lock()
	c.history[seq] = rec
	c.mu.Unlock()

	rt.rec.ActivityFinished(name, err == nil, attempts, time.Since(start))
	rt.publish(ev)

	if err != nil {
		c.log.Warn("activity failed", "activity", name, "sequence", seq, "attempts", attempts, "error", err)
		return nil, fmt.Errorf("activity %s: %w", name, err)
	}
	c.log.Debug("activity completed", "activity", name, "sequence", seq, "attempts", attempts)
	return output, nil
}

func callActivity(ctx context.Context, fn ActivityFunc, input json.RawMessage) (out any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("activity panicked: %v", p)
		}
	}()
	return fn(ctx, input)
}
