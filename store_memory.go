package flowkit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of ExecutionStore,
// IntegrationStore, and WorkflowSource. It backs tests and the
// single-process daemon mode.
type MemoryStore struct {
	mutex        sync.RWMutex
	executions   map[string]*Execution
	steps        map[string][]*ExecutionStep
	integrations map[string]map[string]Integration
	workflows    []*Workflow
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executions:   map[string]*Execution{},
		steps:        map[string][]*ExecutionStep{},
		integrations: map[string]map[string]Integration{},
	}
}

func (s *MemoryStore) CreateExecution(ctx context.Context, execution *Execution) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.executions[execution.ID]; exists {
		return fmt.Errorf("execution %q already exists", execution.ID)
	}
	c := *execution
	s.executions[execution.ID] = &c
	return nil
}

func (s *MemoryStore) UpdateExecution(ctx context.Context, execution *Execution) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.executions[execution.ID]; !exists {
		return fmt.Errorf("execution %q not found", execution.ID)
	}
	c := *execution
	s.executions[execution.ID] = &c
	return nil
}

func (s *MemoryStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	execution, ok := s.executions[id]
	if !ok {
		return nil, fmt.Errorf("execution %q not found", id)
	}
	c := *execution
	return &c, nil
}

func (s *MemoryStore) CreateStep(ctx context.Context, step *ExecutionStep) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	c := *step
	s.steps[step.ExecutionID] = append(s.steps[step.ExecutionID], &c)
	return nil
}

func (s *MemoryStore) UpdateStep(ctx context.Context, step *ExecutionStep) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for i, existing := range s.steps[step.ExecutionID] {
		if existing.ID == step.ID {
			c := *step
			s.steps[step.ExecutionID][i] = &c
			return nil
		}
	}
	return fmt.Errorf("step %q not found", step.ID)
}

func (s *MemoryStore) ListSteps(ctx context.Context, executionID string) ([]*ExecutionStep, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	steps := make([]*ExecutionStep, 0, len(s.steps[executionID]))
	for _, step := range s.steps[executionID] {
		c := *step
		steps = append(steps, &c)
	}
	return steps, nil
}

func (s *MemoryStore) LatestScheduleExecution(ctx context.Context, workflowID string, since time.Time) (*Execution, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var latest *Execution
	for _, execution := range s.executions {
		if execution.WorkflowID != workflowID || execution.TriggerType != TriggerTypeSchedule {
			continue
		}
		if execution.CreatedAt.Before(since) {
			continue
		}
		if latest == nil || execution.CreatedAt.After(latest.CreatedAt) {
			latest = execution
		}
	}
	if latest == nil {
		return nil, nil
	}
	c := *latest
	return &c, nil
}

// SetIntegration registers an active credential for a user.
func (s *MemoryStore) SetIntegration(userID string, integration Integration) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.integrations[userID] == nil {
		s.integrations[userID] = map[string]Integration{}
	}
	s.integrations[userID][integration.Provider] = integration
}

func (s *MemoryStore) ActiveIntegrations(ctx context.Context, userID string) (map[string]Integration, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	integrations := make(map[string]Integration, len(s.integrations[userID]))
	for provider, integration := range s.integrations[userID] {
		integrations[provider] = integration
	}
	return integrations, nil
}

// AddWorkflow registers a stored workflow definition.
func (s *MemoryStore) AddWorkflow(workflow *Workflow) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.workflows = append(s.workflows, workflow)
}

func (s *MemoryStore) ListActiveWorkflows(ctx context.Context) ([]*Workflow, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var active []*Workflow
	for _, workflow := range s.workflows {
		if workflow.IsActive {
			active = append(active, workflow)
		}
	}
	return active, nil
}
