// Package engine implements the execution engine: it owns every live
// Context, drives node execution through the Job Queue,
// resolves input/output mappings, selects successors, applies the
// retry policy, and detects run termination.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gorax/gorax/internal/eventbus"
	"github.com/gorax/gorax/internal/expression"
	"github.com/gorax/gorax/internal/graph"
	"github.com/gorax/gorax/internal/jobqueue"
	"github.com/gorax/gorax/internal/statemachine"
	"github.com/gorax/gorax/internal/strategy"
	"github.com/gorax/gorax/internal/workflow"
)

// runEntry is the Engine's live bookkeeping for one run: the pure
// Context plus the engine-owned successor-resolution state and the
// cancel funcs for in-flight node executions, all behind one mutex so
// transitions for a single run are serialized.
type runEntry struct {
	mu          sync.Mutex
	ctx         *statemachine.Context
	bk          *runBookkeeping
	nodeCancels map[string]context.CancelFunc
}

// Engine is the central orchestrator. One Engine can drive many
// concurrent runs; work is distributed across workers via Queue.
type Engine struct {
	mu   sync.RWMutex
	runs map[string]*runEntry

	queue     jobqueue.Queue
	bus       *eventbus.Bus
	registry  *strategy.Registry
	evaluator *expression.Evaluator
	repo      *Repository
	logger    *slog.Logger
	lanes     map[string]string
	backoff   BackoffPolicy

	inFlightMu sync.Mutex
	inFlight   map[string]bool // dedup marker: "runId/nodeId/attempt"
}

// Dependencies bundles the Engine's collaborators.
type Dependencies struct {
	Queue     jobqueue.Queue
	Bus       *eventbus.Bus
	Registry  *strategy.Registry
	Evaluator *expression.Evaluator
	Repo      *Repository
	Logger    *slog.Logger
	Lanes     map[string]string
	Backoff   BackoffPolicy
}

// New constructs an Engine.
func New(deps Dependencies) *Engine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Lanes == nil {
		deps.Lanes = map[string]string{}
	}
	return &Engine{
		runs:      make(map[string]*runEntry),
		queue:     deps.Queue,
		bus:       deps.Bus,
		registry:  deps.Registry,
		evaluator: deps.Evaluator,
		repo:      deps.Repo,
		logger:    deps.Logger,
		lanes:     deps.Lanes,
		backoff:   deps.Backoff,
		inFlight:  make(map[string]bool),
	}
}

func (e *Engine) getRun(runID string) (*runEntry, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entry, ok := e.runs[runID]
	return entry, ok
}

// Start creates a fresh run for workflowDef, transitions it to Running,
// and schedules every entry node.
func (e *Engine) Start(ctx context.Context, workflowID, tenantID string, processed *graph.ProcessedWorkflow, variables map[string]interface{}, cfg statemachine.RunConfig) (string, error) {
	return e.startRun(ctx, workflowID, tenantID, processed, variables, cfg, processed.Entry)
}

// TriggerNode creates a fresh run for workflowDef, transitions it to
// Running, and schedules exactly nodeID instead of the workflow's entry
// nodes — the entry point for externally-bound triggers (a webhook
// endpoint, a scheduled event) that target a specific node rather than
// the graph's natural entry set.
func (e *Engine) TriggerNode(ctx context.Context, workflowID, tenantID string, processed *graph.ProcessedWorkflow, nodeID string, variables map[string]interface{}, cfg statemachine.RunConfig) (string, error) {
	if _, ok := processed.Nodes[nodeID]; !ok {
		return "", fmt.Errorf("engine: trigger node %q not found in workflow %s", nodeID, workflowID)
	}
	return e.startRun(ctx, workflowID, tenantID, processed, variables, cfg, []string{nodeID})
}

func (e *Engine) startRun(ctx context.Context, workflowID, tenantID string, processed *graph.ProcessedWorkflow, variables map[string]interface{}, cfg statemachine.RunConfig, scheduleNodeIDs []string) (string, error) {
	runID := uuid.New().String()
	rc := statemachine.New(runID, workflowID, tenantID, processed, variables, cfg)

	events, err := rc.StartWorkflow()
	if err != nil {
		return "", err
	}
	entry := &runEntry{ctx: rc, bk: newRunBookkeeping(), nodeCancels: make(map[string]context.CancelFunc)}

	e.mu.Lock()
	e.runs[runID] = entry
	e.mu.Unlock()

	e.publishAll(ctx, events)
	e.persistExecution(ctx, rc)

	for _, nodeID := range scheduleNodeIDs {
		if err := e.enqueueSchedule(ctx, entry, nodeID, variables, false); err != nil {
			e.logger.Error("engine: failed scheduling trigger node", "run_id", runID, "node_id", nodeID, "error", err)
		}
	}
	return runID, nil
}

// enqueueSchedule transitions nodeID to Pending (Schedule or Retry) and
// enqueues a job for it.
func (e *Engine) enqueueSchedule(ctx context.Context, entry *runEntry, nodeID string, input interface{}, isRetry bool) error {
	rc := entry.ctx
	var events []statemachine.DomainEvent
	var err error
	if isRetry {
		events, err = rc.RetryNode(nodeID)
	} else {
		events, err = rc.ScheduleNode(nodeID, input)
	}
	if err != nil {
		return err
	}
	e.publishAll(ctx, events)

	rec := rc.NodeRecord(nodeID)
	rec.Input = input
	e.persistNode(ctx, rc.RunID, rec)

	node, ok := rc.Processed.Nodes[nodeID]
	nodeType := ""
	if ok {
		nodeType = node.Type
	}
	job := jobqueue.Job{
		RunID:         rc.RunID,
		NodeID:        nodeID,
		AttemptNumber: rec.RetryCount + 1, // 1-based: RetryCount is 0 on the first attempt
		Lane:          jobqueue.LaneFor(nodeType, e.lanes),
		EnqueuedAt:    time.Now().UTC(),
	}
	return e.queue.Enqueue(ctx, job)
}

// ProcessDelivery is the worker-side entry point: it dequeues exactly
// one job's worth of work, executes the node strategy, and
// acknowledges the delivery. It never panics the worker loop; errors
// are logged and the delivery is still acknowledged, never Nacked.
func (e *Engine) ProcessDelivery(ctx context.Context, delivery jobqueue.Delivery) error {
	job := delivery.Job
	entry, ok := e.getRun(job.RunID)
	if !ok {
		e.logger.Warn("engine: delivery for unknown run, discarding", "run_id", job.RunID, "node_id", job.NodeID)
		return e.queue.Ack(ctx, delivery)
	}

	dedupKey := fmt.Sprintf("%s/%s/%d", job.RunID, job.NodeID, job.AttemptNumber)
	e.inFlightMu.Lock()
	if e.inFlight[dedupKey] {
		e.inFlightMu.Unlock()
		return e.queue.Ack(ctx, delivery) // at-least-once duplicate, already being handled
	}
	e.inFlight[dedupKey] = true
	e.inFlightMu.Unlock()
	defer func() {
		e.inFlightMu.Lock()
		delete(e.inFlight, dedupKey)
		e.inFlightMu.Unlock()
	}()

	entry.mu.Lock()
	rc := entry.ctx

	if rc.State != statemachine.WorkflowRunning && rc.State != statemachine.WorkflowPaused {
		entry.mu.Unlock()
		return e.queue.Ack(ctx, delivery)
	}
	rec := rc.NodeRecord(job.NodeID)
	if rec.State != statemachine.NodePending {
		entry.mu.Unlock()
		return e.queue.Ack(ctx, delivery) // stale delivery: already started/completed elsewhere
	}
	node, ok := rc.Processed.Nodes[job.NodeID]
	if !ok {
		entry.mu.Unlock()
		return e.queue.Ack(ctx, delivery)
	}

	events, err := rc.StartNode(job.NodeID, job.AttemptNumber)
	if err != nil {
		entry.mu.Unlock()
		e.logger.Error("engine: protocol violation starting node", "run_id", job.RunID, "node_id", job.NodeID, "error", err)
		return e.queue.Ack(ctx, delivery)
	}
	e.publishAll(ctx, events)
	e.persistNode(ctx, rc.RunID, rec)
	input := rec.Input

	execCtx, cancel := context.WithCancel(ctx)
	entry.nodeCancels[job.NodeID] = cancel
	entry.mu.Unlock()

	strat, stratErr := e.registry.MustGet(node.Type)
	var result strategy.ExecutionResult
	var execErr error
	if stratErr != nil {
		result = strategy.ExecutionResult{Success: false, Error: stratErr.Error()}
	} else {
		view := e.runView(rc)
		result, execErr = e.executeWithTimeout(execCtx, strat, view, node, input, rc)
	}
	cancel()

	entry.mu.Lock()
	delete(entry.nodeCancels, job.NodeID)
	defer entry.mu.Unlock()

	return e.handleNodeResult(ctx, delivery, entry, node, input, result, execErr)
}

func (e *Engine) runView(rc *statemachine.Context) strategy.RunView {
	return strategy.RunView{
		RunID:      rc.RunID,
		WorkflowID: rc.WorkflowID,
		TenantID:   rc.TenantID,
		Variables:  rc.Variables,
		NodeOutput: func(nodeID string) (interface{}, bool) {
			rec, ok := rc.NodeRecords[nodeID]
			if !ok {
				return nil, false
			}
			return rec.Output, true
		},
	}
}

// timeoutGracePeriod is how long executeWithTimeout keeps listening for
// a strategy's result after its deadline fires before giving up and
// failing the node with ErrNodeTimeout.
const timeoutGracePeriod = 5 * time.Second

// executeWithTimeout runs strat.Execute bounded by the run's configured
// timeout (or a per-node override), canceling ctx when the deadline
// fires so a cooperative strategy can unwind. A result that arrives
// within timeoutGracePeriod of the deadline is still accepted; one that
// doesn't is reported as ErrNodeTimeout. Cleanup runs exactly once,
// whenever Execute actually returns, even if that is after this
// function has already given up and returned to the caller.
func (e *Engine) executeWithTimeout(ctx context.Context, strat strategy.Strategy, view strategy.RunView, node workflow.Node, input interface{}, rc *statemachine.Context) (strategy.ExecutionResult, error) {
	timeout := rc.Config.Timeout
	if override, ok := nodeTimeout(node); ok {
		timeout = override
	}
	if timeout <= 0 {
		result, err := strat.Execute(ctx, view, node, input)
		strat.Cleanup(context.Background(), view, node)
		return result, err
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result strategy.ExecutionResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := strat.Execute(deadlineCtx, view, node, input)
		strat.Cleanup(context.Background(), view, node)
		done <- outcome{result, err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-deadlineCtx.Done():
		select {
		case o := <-done:
			return o.result, o.err
		case <-time.After(timeoutGracePeriod):
			return strategy.ExecutionResult{}, ErrNodeTimeout
		}
	}
}

func (e *Engine) handleNodeResult(ctx context.Context, delivery jobqueue.Delivery, entry *runEntry, node workflow.Node, input interface{}, result strategy.ExecutionResult, execErr error) error {
	rc := entry.ctx

	if execErr != nil && rc.State == statemachine.WorkflowCanceled {
		return e.queue.Ack(ctx, delivery) // interrupted by cooperative cancellation
	}

	if result.Success && execErr == nil {
		return e.completeNode(ctx, delivery, entry, node, input, result.Output)
	}

	errMsg := result.Error
	if execErr != nil {
		if errMsg == "" {
			errMsg = execErr.Error()
		}
	}
	return e.failNode(ctx, delivery, entry, node, errMsg, result.Retryable, execErr)
}

func (e *Engine) completeNode(ctx context.Context, delivery jobqueue.Delivery, entry *runEntry, node workflow.Node, input, output interface{}) error {
	rc := entry.ctx
	if err := ApplyOutputMapping(rc, node, input, output, e.evaluator); err != nil {
		e.logger.Error("engine: outputMapping failed", "run_id", rc.RunID, "node_id", node.ID, "error", err)
	}
	events, err := rc.CompleteNode(node.ID, output)
	if err != nil {
		e.logger.Error("engine: protocol violation completing node", "run_id", rc.RunID, "node_id", node.ID, "error", err)
		return e.queue.Ack(ctx, delivery)
	}
	e.publishAll(ctx, events)
	e.persistNode(ctx, rc.RunID, rc.NodeRecord(node.ID))

	if rc.State == statemachine.WorkflowRunning {
		e.advanceSuccessors(ctx, entry, node.ID, false, input, output)
	} else {
		rc.Deferred[node.ID] = true
	}
	e.checkTermination(ctx, entry)
	return e.queue.Ack(ctx, delivery)
}

// advanceSuccessors resolves and schedules/skips everything reachable
// from sourceID's completion, recursing through skip propagation.
func (e *Engine) advanceSuccessors(ctx context.Context, entry *runEntry, sourceID string, sourceSkipped bool, input, output interface{}) {
	rc := entry.ctx
	toSchedule, toSkip, err := e.resolveSuccessors(rc, entry.bk, sourceID, sourceSkipped, input, output)
	if err != nil {
		e.logger.Error("engine: successor resolution failed", "run_id", rc.RunID, "node_id", sourceID, "error", err)
		return
	}
	for _, nodeID := range toSkip {
		events, err := rc.SkipNode(nodeID)
		if err != nil {
			e.logger.Error("engine: protocol violation skipping node", "run_id", rc.RunID, "node_id", nodeID, "error", err)
			continue
		}
		e.publishAll(ctx, events)
		e.persistNode(ctx, rc.RunID, rc.NodeRecord(nodeID))
		e.advanceSuccessors(ctx, entry, nodeID, true, nil, nil)
	}
	for _, nodeID := range toSchedule {
		resolvedInput, err := ResolveInput(rc, rc.Processed.Nodes[nodeID], e.evaluator)
		if err != nil {
			e.logger.Error("engine: input resolution failed", "run_id", rc.RunID, "node_id", nodeID, "error", err)
			continue
		}
		if err := e.enqueueSchedule(ctx, entry, nodeID, resolvedInput, false); err != nil {
			e.logger.Error("engine: failed scheduling successor", "run_id", rc.RunID, "node_id", nodeID, "error", err)
		}
	}
}

func (e *Engine) failNode(ctx context.Context, delivery jobqueue.Delivery, entry *runEntry, node workflow.Node, errMsg string, retryable bool, cause error) error {
	rc := entry.ctx
	kind := ErrorKindNodeApplication
	if cause != nil {
		kind = ClassifyError(cause).Kind
	}
	events, err := rc.FailNode(node.ID, errMsg)
	if err != nil {
		e.logger.Error("engine: protocol violation failing node", "run_id", rc.RunID, "node_id", node.ID, "error", err)
		return e.queue.Ack(ctx, delivery)
	}
	e.publishAll(ctx, events)
	rec := rc.NodeRecord(node.ID)
	e.persistNode(ctx, rc.RunID, rec)
	e.logger.Warn("engine: node failed", "run_id", rc.RunID, "node_id", node.ID, "kind", kind, "error", errMsg)

	// Timeouts and explicit cancellation are terminal: the strategy has
	// already been abandoned, so retrying it would only compound the
	// resource leak instead of recovering from a transient fault.
	if kind == ErrorKindTimeout || kind == ErrorKindCanceled {
		retryable = false
	}

	maxRetries := rc.Config.MaxRetries
	if override, ok := nodeMaxRetries(node); ok {
		maxRetries = override
	}
	if retryable && rec.RetryCount < maxRetries {
		delay := e.backoff.Delay(rec.RetryCount)
		e.scheduleRetry(entry, node.ID, delay)
		return e.queue.Ack(ctx, delivery)
	}

	if failureEdge := findFailureEdge(rc, node.ID); failureEdge != nil {
		resolvedInput, inputErr := ResolveInput(rc, rc.Processed.Nodes[failureEdge.Target], e.evaluator)
		if inputErr != nil {
			resolvedInput = map[string]interface{}{"error": errMsg}
		}
		if err := e.enqueueSchedule(ctx, entry, failureEdge.Target, resolvedInput, false); err != nil {
			e.logger.Error("engine: failed scheduling failure edge", "run_id", rc.RunID, "node_id", failureEdge.Target, "error", err)
		}
		e.checkTermination(ctx, entry)
		return e.queue.Ack(ctx, delivery)
	}

	failEvents, err := rc.FailWorkflow(fmt.Sprintf("node %s failed: %s", node.ID, errMsg))
	if err == nil {
		e.publishAll(ctx, failEvents)
		e.persistExecution(ctx, rc)
	}
	return e.queue.Ack(ctx, delivery)
}

// scheduleRetry re-enqueues a failed node after its backoff delay,
// interruptible by the run being removed (e.g. canceled) in the
// meantime.
func (e *Engine) scheduleRetry(entry *runEntry, nodeID string, delay time.Duration) {
	runID := entry.ctx.RunID
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		<-timer.C

		entry.mu.Lock()
		defer entry.mu.Unlock()
		rc := entry.ctx
		if rc.State != statemachine.WorkflowRunning && rc.State != statemachine.WorkflowPaused {
			return
		}
		if err := e.enqueueSchedule(context.Background(), entry, nodeID, rc.NodeRecord(nodeID).Input, true); err != nil {
			e.logger.Error("engine: retry scheduling failed", "run_id", runID, "node_id", nodeID, "error", err)
		}
	}()
}

// checkTermination emits workflow.complete once every exit node has
// settled.
func (e *Engine) checkTermination(ctx context.Context, entry *runEntry) {
	rc := entry.ctx
	if rc.State != statemachine.WorkflowRunning {
		return
	}
	if !rc.Terminated() {
		return
	}
	events, err := rc.CompleteWorkflow()
	if err != nil {
		e.logger.Error("engine: protocol violation completing workflow", "run_id", rc.RunID, "error", err)
		return
	}
	e.publishAll(ctx, events)
	e.persistExecution(ctx, rc)
}

// Pause prevents new scheduling on runID; in-flight executions still
// complete and are recorded, but their successors are deferred until Resume.
func (e *Engine) Pause(ctx context.Context, runID string) error {
	entry, ok := e.getRun(runID)
	if !ok {
		return ErrNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	events, err := entry.ctx.PauseWorkflow()
	if err != nil {
		return err
	}
	e.publishAll(ctx, events)
	e.persistExecution(ctx, entry.ctx)
	return nil
}

// Resume re-evaluates every node whose successor scheduling was
// deferred by Pause and proceeds.
func (e *Engine) Resume(ctx context.Context, runID string) error {
	entry, ok := e.getRun(runID)
	if !ok {
		return ErrNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	events, err := entry.ctx.ResumeWorkflow()
	if err != nil {
		return err
	}
	e.publishAll(ctx, events)
	e.persistExecution(ctx, entry.ctx)

	deferred := entry.ctx.Deferred
	entry.ctx.Deferred = make(map[string]bool)
	for nodeID := range deferred {
		rec := entry.ctx.NodeRecords[nodeID]
		e.advanceSuccessors(ctx, entry, nodeID, rec.State == statemachine.NodeSkipped, rec.Input, rec.Output)
	}
	e.checkTermination(ctx, entry)
	return nil
}

// Cancel transitions runID to Canceled, broadcasts cooperative
// cancellation to every in-flight node execution, and records Canceled
// for every node still Pending or Running.
func (e *Engine) Cancel(ctx context.Context, runID string) error {
	entry, ok := e.getRun(runID)
	if !ok {
		return ErrNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	for _, cancel := range entry.nodeCancels {
		cancel()
	}
	events, err := entry.ctx.CancelWorkflow()
	if err != nil {
		return err
	}
	e.publishAll(ctx, events)
	e.persistExecution(ctx, entry.ctx)
	return nil
}

func (e *Engine) publishAll(ctx context.Context, events []statemachine.DomainEvent) {
	for _, ev := range events {
		workflowID, _ := ev.Payload["workflowId"].(string)
		if _, err := e.bus.Publish(ctx, string(ev.Type), ev.TenantID, workflowID, "", ev.Payload, "ok"); err != nil {
			e.logger.Error("engine: publish failed", "event_type", ev.Type, "error", err)
		}
	}
}

func (e *Engine) persistExecution(ctx context.Context, rc *statemachine.Context) {
	if e.repo == nil {
		return
	}
	if err := e.repo.SaveExecution(ctx, rc); err != nil {
		e.logger.Error("engine: persist execution failed", "run_id", rc.RunID, "error", err)
	}
}

func (e *Engine) persistNode(ctx context.Context, runID string, rec *statemachine.NodeRunRecord) {
	if e.repo == nil {
		return
	}
	if err := e.repo.SaveNodeExecution(ctx, runID, rec); err != nil {
		e.logger.Error("engine: persist node execution failed", "run_id", runID, "node_id", rec.NodeID, "error", err)
	}
}

func findFailureEdge(rc *statemachine.Context, nodeID string) *workflow.Edge {
	for _, edge := range rc.Processed.EdgesFrom(nodeID) {
		if edge.FailureEdge {
			e := edge
			return &e
		}
	}
	return nil
}

func nodeMaxRetries(node workflow.Node) (int, bool) {
	raw, ok := node.Config["maxRetries"]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// nodeTimeout reads an optional per-node "timeout" override (seconds)
// out of node.Config, the same override shape nodeMaxRetries reads.
func nodeTimeout(node workflow.Node) (time.Duration, bool) {
	raw, ok := node.Config["timeout"]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case int:
		return time.Duration(v) * time.Second, true
	case int64:
		return time.Duration(v) * time.Second, true
	case float64:
		return time.Duration(v * float64(time.Second)), true
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, false
		}
		return d, true
	default:
		return 0, false
	}
}
