// Package webhookadapter implements the provider-facing half of webhook
// ingress: signature verification, one-shot verification handshakes, and
// normalization of inbound provider payloads into a common shape. Each
// adapter is purely functional; the ingress layer (internal/webhook)
// routes a NormalizedEvent to the right trigger node.
package webhookadapter

import (
	"encoding/json"
	"time"
)

// NormalizedEvent is the common shape every provider adapter produces.
// Unrecognized payloads yield EventType "unknown" with Raw preserved.
type NormalizedEvent struct {
	EventType  string                 `json:"eventType"`
	CustomerID string                 `json:"customerId"`
	Timestamp  time.Time              `json:"timestamp"`
	Provider   string                 `json:"provider"`
	Data       map[string]interface{} `json:"data"`
	Raw        json.RawMessage        `json:"raw"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// ChallengeResult is the outcome of a one-shot verification handshake.
type ChallengeResult struct {
	IsChallenge bool
	Response    []byte
	ContentType string
}

// Adapter is the contract every provider implements.
type Adapter interface {
	Provider() string
	VerifySignature(rawBody []byte, headers map[string]string, secret string) bool
	HandleChallenge(rawBody []byte, headers map[string]string) ChallengeResult
	Normalize(rawBody []byte, headers map[string]string, clientID string) NormalizedEvent
}

func unknownEvent(provider string, rawBody []byte, clientID string) NormalizedEvent {
	return NormalizedEvent{
		EventType:  "unknown",
		CustomerID: clientID,
		Timestamp:  time.Now().UTC(),
		Provider:   provider,
		Data:       map[string]interface{}{},
		Raw:        json.RawMessage(rawBody),
	}
}

// Registry resolves an Adapter by provider name.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry constructs a Registry with every built-in adapter
// registered.
func NewRegistry() *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	r.Register(NewMetaAdapter("whatsapp"))
	r.Register(NewMetaAdapter("instagram"))
	r.Register(NewSlackAdapter())
	r.Register(NewTwitterAdapter())
	return r
}

// Register adds or replaces the adapter for its own Provider() name.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Provider()] = a
}

// Get looks up the adapter for a provider name.
func (r *Registry) Get(provider string) (Adapter, bool) {
	a, ok := r.adapters[provider]
	return a, ok
}
