// Package workflow is an in-process durable workflow runtime.
//
// A workflow is a Go function that calls named activities through its
// Context. Every activity call gets a sequence number from the order of
// calls, and every outcome is written to a storage.WorkflowStore. When an
// instance is re-run after a crash, completed activities are answered from
// that history instead of executing again, so workflow functions must call
// activities in the same order for the same input.
//
// Information Hiding:
// - Instance bookkeeping and cancellation hidden
// - Persistence and event publishing hidden behind Start/Wait/Status
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/richinex/agentpatterns/model"
	"github.com/richinex/agentpatterns/pubsub"
	"github.com/richinex/agentpatterns/storage"
)

var (
	// ErrNotFound is returned for an unknown instance ID.
	ErrNotFound = storage.ErrNotFound

	// ErrUnknownWorkflow is returned by Start for an unregistered name.
	ErrUnknownWorkflow = errors.New("unknown workflow")

	// ErrUnknownActivity is returned by an activity call for an
	// unregistered name. It is not retried.
	ErrUnknownActivity = errors.New("unknown activity")

	// ErrAlreadyRegistered is returned when a name is registered twice.
	ErrAlreadyRegistered = errors.New("already registered")

	// ErrTerminated is the cancellation cause of a terminated instance.
	ErrTerminated = errors.New("workflow terminated")

	// ErrNotRunning is returned by Terminate for a finished instance.
	ErrNotRunning = errors.New("workflow is not running")

	// ErrNondeterministic is returned when replayed history does not match
	// the activity the workflow asks for.
	ErrNondeterministic = errors.New("nondeterministic workflow")

	// ErrShutdown is the cancellation cause used by Close. Interrupted
	// instances stay RUNNING so Resume can pick them up.
	ErrShutdown = errors.New("runtime shut down")
)

// WorkflowFunc is the body of a workflow.
type WorkflowFunc func(ctx *Context, input json.RawMessage) (any, error)

// ActivityFunc is a unit of work whose outcome is recorded in history.
type ActivityFunc func(ctx context.Context, input json.RawMessage) (any, error)

// Recorder receives workflow metrics.
type Recorder interface {
	WorkflowFinished(workflow string, status model.WorkflowStatus, duration time.Duration)
	ActivityFinished(activity string, success bool, attempts int, duration time.Duration)
	ActivityReplayed(activity string)
}

// NopRecorder discards all metrics.
type NopRecorder struct{}

func (NopRecorder) WorkflowFinished(string, model.WorkflowStatus, time.Duration) {}
func (NopRecorder) ActivityFinished(string, bool, int, time.Duration)            {}
func (NopRecorder) ActivityReplayed(string)                                      {}

// DefaultMaxConcurrency bounds WhenAll when Options leaves it unset.
const DefaultMaxConcurrency = 4

// Options configures a Runtime. Zero values select an in-memory store, no
// broker, no metrics, the default retry policy and slog.Default.
type Options struct {
	Store          storage.WorkflowStore
	Broker         *pubsub.Broker
	Recorder       Recorder
	Retry          RetryPolicy
	MaxConcurrency int
	Logger         *slog.Logger
}

// Runtime registers workflows and activities and runs instances.
type Runtime struct {
	store   storage.WorkflowStore
	broker  *pubsub.Broker
	rec     Recorder
	retry   RetryPolicy
	maxConc int
	log     *slog.Logger

	base     context.Context
	shutdown context.CancelCauseFunc
	wg       sync.WaitGroup

	mu         sync.Mutex
	workflows  map[string]WorkflowFunc
	activities map[string]ActivityFunc
	running    map[string]*execution
}

type execution struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// NewRuntime creates a runtime.
func NewRuntime(opts Options) *Runtime {
	if opts.Store == nil {
		opts.Store = storage.NewInMemoryWorkflowStore()
	}
	if opts.Recorder == nil {
		opts.Recorder = NopRecorder{}
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	base, shutdown := context.WithCancelCause(context.Background())
	return &Runtime{
		store:      opts.Store,
		broker:     opts.Broker,
		rec:        opts.Recorder,
		retry:      opts.Retry.withDefaults(),
		maxConc:    opts.MaxConcurrency,
		log:        opts.Logger.With("component", "workflow"),
		base:       base,
		shutdown:   shutdown,
		workflows:  make(map[string]WorkflowFunc),
		activities: make(map[string]ActivityFunc),
		running:    make(map[string]*execution),
	}
}

// RegisterWorkflow adds a workflow under name.
func (r *Runtime) RegisterWorkflow(name string, fn WorkflowFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workflows[name]; exists {
		return fmt.Errorf("workflow %q: %w", name, ErrAlreadyRegistered)
	}
	r.workflows[name] = fn
	return nil
}

// RegisterActivity adds an activity under name.
func (r *Runtime) RegisterActivity(name string, fn ActivityFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.activities[name]; exists {
		return fmt.Errorf("activity %q: %w", name, ErrAlreadyRegistered)
	}
	r.activities[name] = fn
	return nil
}

// Workflows returns the registered workflow names in lexical order.
func (r *Runtime) Workflows() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.workflows))
	for name := range r.workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start creates an instance and runs it in the background. The instance
// outlives ctx; use Terminate to stop it.
func (r *Runtime) Start(ctx context.Context, name string, input any) (string, error) {
	r.mu.Lock()
	fn, ok := r.workflows[name]
	r.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownWorkflow, name)
	}

	raw, err := encode(input)
	if err != nil {
		return "", fmt.Errorf("failed to encode workflow input: %w", err)
	}

	now := time.Now()
	inst := model.WorkflowInstance{
		ID:        uuid.NewString(),
		Name:      name,
		Status:    model.WorkflowPending,
		Input:     raw,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.CreateInstance(ctx, inst); err != nil {
		return "", err
	}

	r.launch(inst, fn)
	return inst.ID, nil
}

// Run starts an instance and waits for it to finish.
func (r *Runtime) Run(ctx context.Context, name string, input any) (model.WorkflowInstance, error) {
	id, err := r.Start(ctx, name, input)
	if err != nil {
		return model.WorkflowInstance{}, err
	}
	return r.Wait(ctx, id)
}

// Wait blocks until the instance is no longer executing in this runtime or
// ctx is done, and returns its stored state.
func (r *Runtime) Wait(ctx context.Context, id string) (model.WorkflowInstance, error) {
	r.mu.Lock()
	exec := r.running[id]
	r.mu.Unlock()

	if exec != nil {
		select {
		case <-exec.done:
		case <-ctx.Done():
			return model.WorkflowInstance{}, ctx.Err()
		}
	}
	return r.store.GetInstance(ctx, id)
}

// Status returns the stored state of an instance.
func (r *Runtime) Status(ctx context.Context, id string) (model.WorkflowInstance, error) {
	return r.store.GetInstance(ctx, id)
}

// Instances lists stored instances, filtered by status unless it is empty.
func (r *Runtime) Instances(ctx context.Context, status model.WorkflowStatus) ([]model.WorkflowInstance, error) {
	return r.store.ListInstances(ctx, status)
}

// History returns the activity records of an instance.
func (r *Runtime) History(ctx context.Context, id string) ([]model.ActivityRecord, error) {
	return r.store.LoadActivities(ctx, id)
}

// Subscribe returns a subscription to the events of one instance. It
// returns nil when the runtime has no broker.
func (r *Runtime) Subscribe(id string, buffer int) *pubsub.Subscription {
	if r.broker == nil {
		return nil
	}
	return r.broker.Subscribe(Topic(id), buffer)
}

// Terminate stops an instance. A running instance is cancelled and
// Terminate waits for it to record TERMINATED; an instance left RUNNING or
// PENDING by an earlier process is marked directly. A finished instance is
// never changed and yields ErrNotRunning.
func (r *Runtime) Terminate(ctx context.Context, id, reason string) error {
	cause := ErrTerminated
	if reason != "" {
		cause = fmt.Errorf("%w: %s", ErrTerminated, reason)
	}

	r.mu.Lock()
	exec := r.running[id]
	r.mu.Unlock()

	if exec != nil {
		exec.cancel(cause)
		select {
		case <-exec.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		inst, err := r.store.GetInstance(ctx, id)
		if err != nil {
			return err
		}
		if inst.Status != model.WorkflowTerminated {
			return fmt.Errorf("%w: %s is %s", ErrNotRunning, id, inst.Status)
		}
		return nil
	}

	inst, err := r.store.GetInstance(ctx, id)
	if err != nil {
		return err
	}
	if inst.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrNotRunning, id, inst.Status)
	}

	inst.Status = model.WorkflowTerminated
	inst.Error = cause.Error()
	inst.UpdatedAt = time.Now()
	if err := r.store.UpdateInstance(ctx, inst); err != nil {
		if errors.Is(err, storage.ErrFinished) {
			return fmt.Errorf("%w: %s already finished", ErrNotRunning, id)
		}
		return err
	}
	r.publish(Event{Type: EventTerminated, InstanceID: id, Workflow: inst.Name, Status: inst.Status, Error: inst.Error})
	return nil
}

// Resume re-runs every PENDING or RUNNING instance in the store that is
// not executing in this runtime. Completed activities replay from history.
// It returns the resumed instance IDs.
func (r *Runtime) Resume(ctx context.Context) ([]string, error) {
	var pending []model.WorkflowInstance
	for _, status := range []model.WorkflowStatus{model.WorkflowPending, model.WorkflowRunning} {
		list, err := r.store.ListInstances(ctx, status)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s instances: %w", status, err)
		}
		pending = append(pending, list...)
	}

	var resumed []string
	for _, inst := range pending {
		r.mu.Lock()
		fn, known := r.workflows[inst.Name]
		_, active := r.running[inst.ID]
		r.mu.Unlock()

		if active {
			continue
		}
		if !known {
			r.log.WarnContext(ctx, "cannot resume unregistered workflow", "instance", inst.ID, "workflow", inst.Name)
			continue
		}
		r.log.InfoContext(ctx, "resuming workflow", "instance", inst.ID, "workflow", inst.Name)
		r.launch(inst, fn)
		resumed = append(resumed, inst.ID)
	}
	return resumed, nil
}

// Close cancels running instances without changing their stored status
// and waits for them to stop.
func (r *Runtime) Close() {
	r.shutdown(ErrShutdown)
	r.wg.Wait()
}

func (r *Runtime) launch(inst model.WorkflowInstance, fn WorkflowFunc) {
	ctx, cancel := context.WithCancelCause(r.base)
	exec := &execution{cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	r.running[inst.ID] = exec
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.running, inst.ID)
			r.mu.Unlock()
			cancel(nil)
			close(exec.done)
		}()
		r.execute(ctx, inst, fn)
	}()
}

func (r *Runtime) execute(ctx context.Context, inst model.WorkflowInstance, fn WorkflowFunc) {
	log := r.log.With("instance", inst.ID, "workflow", inst.Name)
	start := time.Now()

	// Persistence uses a context that survives cancellation so final
	// states are always written.
	persist := context.WithoutCancel(ctx)

	inst.Status = model.WorkflowRunning
	inst.UpdatedAt = start
	if err := r.store.UpdateInstance(persist, inst); err != nil {
		if errors.Is(err, storage.ErrFinished) {
			log.Info("instance finished before it started")
			return
		}
		log.Error("failed to mark workflow running", "error", err)
		return
	}

	history, err := r.store.LoadActivities(persist, inst.ID)
	if err != nil {
		r.finish(persist, log, inst, start, nil, fmt.Errorf("failed to load history: %w", err))
		return
	}
	log.InfoContext(ctx, "workflow started", "replay_records", len(history))
	r.publish(Event{Type: EventStarted, InstanceID: inst.ID, Workflow: inst.Name, Status: inst.Status})

	wctx := newContext(ctx, r, inst, history, log)
	output, runErr := callWorkflow(wctx, fn, inst.Input)

	switch cause := context.Cause(ctx); {
	case errors.Is(cause, ErrShutdown):
		log.Info("workflow interrupted by shutdown; left running for resume")
		return
	case errors.Is(cause, ErrTerminated):
		inst.Status = model.WorkflowTerminated
		inst.Error = cause.Error()
		inst.UpdatedAt = time.Now()
		if err := r.store.UpdateInstance(persist, inst); err != nil {
			log.Error("failed to record termination", "error", err)
		}
		log.Info("workflow terminated", "reason", inst.Error)
		r.rec.WorkflowFinished(inst.Name, inst.Status, time.Since(start))
		r.publish(Event{Type: EventTerminated, InstanceID: inst.ID, Workflow: inst.Name, Status: inst.Status, Error: inst.Error})
		return
	}

	r.finish(persist, log, inst, start, output, runErr)
}

func (r *Runtime) finish(ctx context.Context, log *slog.Logger, inst model.WorkflowInstance, start time.Time, output any, runErr error) {
	if runErr == nil {
		raw, err := encode(output)
		if err != nil {
			runErr = fmt.Errorf("failed to encode workflow output: %w", err)
		} else {
			inst.Output = raw
		}
	}

	ev := Event{InstanceID: inst.ID, Workflow: inst.Name}
	if runErr != nil {
		inst.Status = model.WorkflowFailed
		inst.Error = runErr.Error()
		ev.Type = EventFailed
		ev.Error = inst.Error
		log.Warn("workflow failed", "error", runErr)
	} else {
		inst.Status = model.WorkflowCompleted
		ev.Type = EventCompleted
		ev.Output = inst.Output
		log.Info("workflow completed", "duration", time.Since(start))
	}
	ev.Status = inst.Status
	inst.UpdatedAt = time.Now()

	if err := r.store.UpdateInstance(ctx, inst); err != nil {
		log.Error("failed to record workflow result", "error", err)
	}
	r.rec.WorkflowFinished(inst.Name, inst.Status, time.Since(start))
	r.publish(ev)
}

func callWorkflow(ctx *Context, fn WorkflowFunc, input json.RawMessage) (out any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("workflow panicked: %v", p)
		}
	}()
	return fn(ctx, input)
}

// encode turns a value into JSON. RawMessage and []byte holding JSON are
// passed through; nil becomes null.
func encode(v any) (json.RawMessage, error) {
	switch t := v.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		if len(t) == 0 {
			return json.RawMessage("null"), nil
		}
		if !json.Valid(t) {
			return nil, errors.New("invalid JSON")
		}
		return t, nil
	default:
		return json.Marshal(v)
	}
}
