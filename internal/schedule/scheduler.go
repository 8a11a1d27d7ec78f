package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorax/gorax/internal/graph"
	"github.com/gorax/gorax/internal/statemachine"
	"github.com/gorax/gorax/internal/workflow"
)

// WorkflowLookup resolves a workflow definition for graph processing.
type WorkflowLookup interface {
	Get(ctx context.Context, tenantID, id string) (workflow.Workflow, error)
}

// WorkflowRunner starts a new run, the same contract internal/engine.Engine
// exposes to HTTP ingress.
type WorkflowRunner interface {
	Start(ctx context.Context, workflowID, tenantID string, processed *graph.ProcessedWorkflow, variables map[string]interface{}, cfg statemachine.RunConfig) (string, error)
	TriggerNode(ctx context.Context, workflowID, tenantID string, processed *graph.ProcessedWorkflow, nodeID string, variables map[string]interface{}, cfg statemachine.RunConfig) (string, error)
}

// Scheduler polls for due ScheduledEvents and starts a workflow run for
// each, advancing NextRun afterward. Mirrors the deleted schedules
// package's ticker-plus-bounded-concurrency poll loop.
type Scheduler struct {
	service   *Service
	workflows WorkflowLookup
	runner    WorkflowRunner
	logger    *slog.Logger

	checkInterval time.Duration
	batchSize     int
	concurrency   int

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
	stopCh  chan struct{}
}

// NewScheduler constructs a Scheduler with sane defaults: a 30s poll
// interval, 100 events per batch, 10 concurrent triggers.
func NewScheduler(service *Service, workflows WorkflowLookup, runner WorkflowRunner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		service:       service,
		workflows:     workflows,
		runner:        runner,
		logger:        logger,
		checkInterval: 30 * time.Second,
		batchSize:     100,
		concurrency:   10,
		stopCh:        make(chan struct{}),
	}
}

// Start launches the poll loop in a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("schedule poller started", "interval", s.checkInterval)
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop ends the poll loop and waits for any in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("schedule poller stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	due, err := s.service.repo.Due(ctx, time.Now(), s.batchSize)
	if err != nil {
		s.logger.Error("failed to list due scheduled events", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}

	semaphore := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup
	for _, event := range due {
		wg.Add(1)
		semaphore <- struct{}{}
		go func(e ScheduledEvent) {
			defer wg.Done()
			defer func() { <-semaphore }()
			s.fire(ctx, e)
		}(event)
	}
	wg.Wait()
}

// fire triggers a workflow run for a single due event and advances its
// NextRun/LastRun bookkeeping, or marks it completed if the cron
// expression has no further occurrence within the schedule window.
func (s *Scheduler) fire(ctx context.Context, event ScheduledEvent) {
	logger := s.logger.With("scheduled_event_id", event.ID, "workflow_id", event.WorkflowID, "tenant_id", event.TenantID)

	wf, err := s.workflows.Get(ctx, event.TenantID, event.WorkflowID)
	if err != nil {
		logger.Error("failed to load workflow for scheduled event", "error", err)
		return
	}
	processed, err := graph.Process(wf.Definition())
	if err != nil {
		logger.Error("scheduled workflow failed graph processing", "error", err)
		return
	}

	variables := event.Data
	if variables == nil {
		variables = map[string]interface{}{}
	}
	var startErr error
	if event.NodeID != "" {
		_, startErr = s.runner.TriggerNode(ctx, event.WorkflowID, event.TenantID, processed, event.NodeID, variables, statemachine.RunConfig{})
	} else {
		_, startErr = s.runner.Start(ctx, event.WorkflowID, event.TenantID, processed, variables, statemachine.RunConfig{})
	}
	if startErr != nil {
		logger.Error("failed to start scheduled run", "error", startErr)
		return
	}

	now := time.Now()
	event.LastRun = &now
	next, err := s.service.computeNextRun(event)
	if err != nil {
		logger.Error("failed to compute next run, pausing", "error", err)
		event.Status = StatusPaused
		event.NextRun = nil
	} else if next == nil {
		event.Status = StatusCompleted
		event.NextRun = nil
	} else {
		event.NextRun = next
	}

	if _, err := s.service.repo.Update(ctx, event); err != nil {
		logger.Error("failed to update scheduled event after firing", "error", err)
	}
}
