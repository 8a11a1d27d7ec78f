// Package webhook binds inbound provider webhooks (WhatsApp, Instagram,
// Slack, Twitter) to a workflow's entry node. Verification and payload
// normalization are delegated to internal/webhookadapter; delivery
// logging and replay are delegated to internal/eventstore, which already
// implements an append-only, replayable log rather than a second bespoke
// event-log subsystem.
package webhook

import (
	"errors"
	"time"
)

// Endpoint binds a tenant's workflow entry node to an inbound provider,
// carrying the signing secret used to verify deliveries.
type Endpoint struct {
	ID         string    `db:"id" json:"id"`
	TenantID   string    `db:"tenant_id" json:"tenantId"`
	WorkflowID string    `db:"workflow_id" json:"workflowId"`
	NodeID     string    `db:"node_id" json:"nodeId"`
	Provider   string    `db:"provider" json:"provider"`
	Secret     string    `db:"secret" json:"secret"`
	Enabled    bool      `db:"enabled" json:"enabled"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time `db:"updated_at" json:"updatedAt"`
}

// ErrNotFound is returned when a tenant/id or tenant/workflow/provider
// triple has no matching Endpoint row.
var ErrNotFound = errors.New("webhook endpoint not found")
