package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/richinex/agentpatterns/model"
)

var (
	// ErrNotFound is returned when a workflow instance does not exist.
	ErrNotFound = errors.New("not found")

	// ErrFinished is returned by UpdateInstance when the stored instance is
	// already COMPLETED, FAILED or TERMINATED. Finished instances never
	// change.
	ErrFinished = errors.New("instance already finished")
)

// WorkflowStore persists workflow instances and their activity history.
// It is the state behind workflow durability: an instance found RUNNING
// after a restart is resumed by replaying its completed activities.
type WorkflowStore interface {
	// CreateInstance inserts a new instance.
	CreateInstance(ctx context.Context, inst model.WorkflowInstance) error

	// UpdateInstance overwrites status, output, error and update time. It
	// returns ErrFinished when the stored instance is in a terminal state.
	UpdateInstance(ctx context.Context, inst model.WorkflowInstance) error

	// GetInstance returns an instance or ErrNotFound.
	GetInstance(ctx context.Context, id string) (model.WorkflowInstance, error)

	// ListInstances returns instances with the given status, or all
	// instances when status is empty, oldest first.
	ListInstances(ctx context.Context, status model.WorkflowStatus) ([]model.WorkflowInstance, error)

	// SaveActivity inserts or replaces the record at (InstanceID, Sequence).
	SaveActivity(ctx context.Context, rec model.ActivityRecord) error

	// LoadActivities returns the history of an instance ordered by sequence.
	LoadActivities(ctx context.Context, instanceID string) ([]model.ActivityRecord, error)
}

// InMemoryWorkflowStore implements WorkflowStore with maps.
// State is lost when the process exits.
type InMemoryWorkflowStore struct {
	mu         sync.RWMutex
	instances  map[string]model.WorkflowInstance
	activities map[string]map[int]model.ActivityRecord
}

// NewInMemoryWorkflowStore creates an empty store.
func NewInMemoryWorkflowStore() *InMemoryWorkflowStore {
	return &InMemoryWorkflowStore{
		instances:  make(map[string]model.WorkflowInstance),
		activities: make(map[string]map[int]model.ActivityRecord),
	}
}

// CreateInstance inserts a new instance.
func (s *InMemoryWorkflowStore) CreateInstance(_ context.Context, inst model.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.instances[inst.ID]; exists {
		return errors.New("instance already exists: " + inst.ID)
	}
	s.instances[inst.ID] = inst
	return nil
}

// UpdateInstance overwrites an existing instance that has not finished.
func (s *InMemoryWorkflowStore) UpdateInstance(_ context.Context, inst model.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.instances[inst.ID]
	if !ok {
		return ErrNotFound
	}
	if existing.Status.Terminal() {
		return ErrFinished
	}
	existing.Status = inst.Status
	existing.Output = inst.Output
	existing.Error = inst.Error
	existing.UpdatedAt = inst.UpdatedAt
	s.instances[inst.ID] = existing
	return nil
}

// GetInstance returns an instance or ErrNotFound.
func (s *InMemoryWorkflowStore) GetInstance(_ context.Context, id string) (model.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[id]
	if !ok {
		return model.WorkflowInstance{}, ErrNotFound
	}
	return inst, nil
}

// ListInstances returns matching instances, oldest first.
func (s *InMemoryWorkflowStore) ListInstances(_ context.Context, status model.WorkflowStatus) ([]model.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []model.WorkflowInstance{}
	for _, inst := range s.instances {
		if status == "" || inst.Status == status {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// SaveActivity inserts or replaces an activity record.
func (s *InMemoryWorkflowStore) SaveActivity(_ context.Context, rec model.ActivityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[rec.InstanceID]; !ok {
		return ErrNotFound
	}
	history, ok := s.activities[rec.InstanceID]
	if !ok {
		history = make(map[int]model.ActivityRecord)
		s.activities[rec.InstanceID] = history
	}
	history[rec.Sequence] = rec
	return nil
}

// LoadActivities returns the history of an instance ordered by sequence.
func (s *InMemoryWorkflowStore) LoadActivities(_ context.Context, instanceID string) ([]model.ActivityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.activities[instanceID]
	out := make([]model.ActivityRecord, 0, len(history))
	for _, rec := range history {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

var _ WorkflowStore = (*InMemoryWorkflowStore)(nil)
