package webhook

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gorax/gorax/internal/engine"
	"github.com/gorax/gorax/internal/eventstore"
	"github.com/gorax/gorax/internal/graph"
	"github.com/gorax/gorax/internal/statemachine"
	"github.com/gorax/gorax/internal/webhookadapter"
	"github.com/gorax/gorax/internal/workflow"
)

// ErrUnknownProvider is returned when an Endpoint names a provider with
// no registered adapter.
var ErrUnknownProvider = errors.New("webhook: unknown provider")

// ErrUnauthorized is returned when a delivery fails signature
// verification.
var ErrUnauthorized = errors.New("webhook: signature verification failed")

// Service registers provider-bound endpoints and turns verified
// deliveries into workflow runs.
type Service struct {
	repo      *Repository
	adapters  *webhookadapter.Registry
	workflows *workflow.Service
	runner    *engine.Engine
	events    *eventstore.Store
	logger    *slog.Logger
}

// NewService creates a new webhook ingress service.
func NewService(repo *Repository, adapters *webhookadapter.Registry, workflows *workflow.Service, runner *engine.Engine, events *eventstore.Store, logger *slog.Logger) *Service {
	return &Service{repo: repo, adapters: adapters, workflows: workflows, runner: runner, events: events, logger: logger}
}

// Create registers a new Endpoint for a workflow's trigger node. A
// signing secret is generated unless the provider supplies its own
// out-of-band (none do today).
func (s *Service) Create(ctx context.Context, tenantID, workflowID, nodeID, provider string) (Endpoint, error) {
	if _, ok := s.adapters.Get(provider); !ok {
		return Endpoint{}, ErrUnknownProvider
	}
	secret, err := generateSecret()
	if err != nil {
		return Endpoint{}, fmt.Errorf("webhook: generate secret: %w", err)
	}
	e := Endpoint{
		TenantID:   tenantID,
		WorkflowID: workflowID,
		NodeID:     nodeID,
		Provider:   provider,
		Secret:     secret,
		Enabled:    true,
	}
	created, err := s.repo.Create(ctx, e)
	if err != nil {
		return Endpoint{}, err
	}
	s.logger.Info("webhook endpoint created", "endpoint_id", created.ID, "workflow_id", workflowID, "provider", provider)
	return created, nil
}

// Get retrieves a single Endpoint.
func (s *Service) Get(ctx context.Context, tenantID, id string) (Endpoint, error) {
	return s.repo.Get(ctx, tenantID, id)
}

// ListByWorkflow returns every Endpoint bound to a workflow.
func (s *Service) ListByWorkflow(ctx context.Context, tenantID, workflowID string) ([]Endpoint, error) {
	return s.repo.ListByWorkflow(ctx, tenantID, workflowID)
}

// Disable deactivates an Endpoint without deleting it.
func (s *Service) Disable(ctx context.Context, tenantID, id string) error {
	return s.repo.SetEnabled(ctx, tenantID, id, false)
}

// Delete removes an Endpoint permanently.
func (s *Service) Delete(ctx context.Context, tenantID, id string) error {
	return s.repo.Delete(ctx, tenantID, id)
}

// Challenge resolves a provider's one-shot verification handshake for
// the Endpoint identified by id (e.g. Meta's hub.challenge GET).
func (s *Service) Challenge(ctx context.Context, id string, rawBody []byte, headers map[string]string) (webhookadapter.ChallengeResult, error) {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return webhookadapter.ChallengeResult{}, err
	}
	adapter, ok := s.adapters.Get(e.Provider)
	if !ok {
		return webhookadapter.ChallengeResult{}, ErrUnknownProvider
	}
	return adapter.HandleChallenge(rawBody, headers), nil
}

// Deliver verifies and normalizes an inbound delivery for the Endpoint
// identified by id, then starts a run of the bound workflow at its
// trigger node. Once the workflow graph is loaded, the normalized event
// is appended to the durable event log whether or not the run starts, so
// replays (internal/eventstore.Replay) can reconstruct delivery history
// without a second bookkeeping table. Deliveries rejected earlier
// (disabled or unknown endpoint, bad signature, workflow load or graph
// error) are not logged.
func (s *Service) Deliver(ctx context.Context, id string, rawBody []byte, headers map[string]string) (runID string, err error) {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if !e.Enabled {
		return "", ErrNotFound
	}

	adapter, ok := s.adapters.Get(e.Provider)
	if !ok {
		return "", ErrUnknownProvider
	}
	if !adapter.VerifySignature(rawBody, headers, e.Secret) {
		return "", ErrUnauthorized
	}

	normalized := adapter.Normalize(rawBody, headers, e.TenantID)

	wf, err := s.workflows.Get(ctx, e.TenantID, e.WorkflowID)
	if err != nil {
		return "", fmt.Errorf("webhook: load workflow: %w", err)
	}
	processed, err := graph.Process(wf.Definition())
	if err != nil {
		return "", fmt.Errorf("webhook: process workflow graph: %w", err)
	}

	variables := map[string]interface{}{
		"trigger": map[string]interface{}{
			"nodeId":     e.NodeID,
			"provider":   normalized.Provider,
			"eventType":  normalized.EventType,
			"customerId": normalized.CustomerID,
			"timestamp":  normalized.Timestamp,
			"data":       normalized.Data,
		},
	}

	runID, startErr := s.runner.TriggerNode(ctx, e.WorkflowID, e.TenantID, processed, e.NodeID, variables, statemachine.RunConfig{})

	status := "ok"
	if startErr != nil {
		status = "error"
	}
	if _, logErr := s.events.Append(ctx, "webhook.delivery.received", e.TenantID, e.WorkflowID, "", normalized, status); logErr != nil {
		s.logger.Error("failed to append webhook delivery event", "error", logErr, "endpoint_id", e.ID)
	}

	if startErr != nil {
		return "", fmt.Errorf("webhook: start run: %w", startErr)
	}
	return runID, nil
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
