package webhookadapter

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"
)

// MetaAdapter handles the Meta Graph API webhook shape shared by
// WhatsApp Business and Instagram: a single X-Hub-Signature-256
// HMAC-SHA256 of the raw body, and a GET-based hub.challenge
// handshake. providerName distinguishes the two at registration time;
// the wire format (entry/changes/value) is identical.
type MetaAdapter struct {
	providerName string
}

// NewMetaAdapter constructs a Meta-family adapter for providerName
// ("whatsapp" or "instagram").
func NewMetaAdapter(providerName string) *MetaAdapter {
	return &MetaAdapter{providerName: providerName}
}

func (a *MetaAdapter) Provider() string { return a.providerName }

// VerifySignature checks X-Hub-Signature-256: sha256=<hex hmac of rawBody>.
func (a *MetaAdapter) VerifySignature(rawBody []byte, headers map[string]string, secret string) bool {
	signature := headers["X-Hub-Signature-256"]
	if signature == "" {
		return false
	}
	const prefix = "sha256="
	if len(signature) > len(prefix) && signature[:len(prefix)] == prefix {
		signature = signature[len(prefix):]
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

// HandleChallenge implements the hub.challenge handshake. The ingress
// layer is expected to merge the request's query parameters into
// headers under their literal names (hub.mode, hub.verify_token,
// hub.challenge), since Meta's handshake is a GET request with no body.
func (a *MetaAdapter) HandleChallenge(rawBody []byte, headers map[string]string) ChallengeResult {
	mode := headers["hub.mode"]
	challenge := headers["hub.challenge"]
	if mode != "subscribe" || challenge == "" {
		return ChallengeResult{IsChallenge: false}
	}
	return ChallengeResult{IsChallenge: true, Response: []byte(challenge), ContentType: "text/plain"}
}

type metaPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Messages []struct {
					From      string `json:"from"`
					Timestamp string `json:"timestamp"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// Normalize extracts the first message in the first change of the
// first entry, the common shape for both WhatsApp and Instagram
// inbound events. Anything else yields eventType "unknown".
func (a *MetaAdapter) Normalize(rawBody []byte, headers map[string]string, clientID string) NormalizedEvent {
	var payload metaPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return unknownEvent(a.providerName, rawBody, clientID)
	}
	if len(payload.Entry) == 0 || len(payload.Entry[0].Changes) == 0 {
		return unknownEvent(a.providerName, rawBody, clientID)
	}
	change := payload.Entry[0].Changes[0]
	var data map[string]interface{}
	_ = json.Unmarshal(rawBody, &data)

	customerID := ""
	timestamp := time.Now().UTC()
	if len(change.Value.Messages) > 0 {
		msg := change.Value.Messages[0]
		customerID = msg.From
		if secs, err := strconv.ParseInt(msg.Timestamp, 10, 64); err == nil {
			timestamp = time.Unix(secs, 0).UTC()
		}
	}

	return NormalizedEvent{
		EventType:  change.Field,
		CustomerID: customerID,
		Timestamp:  timestamp,
		Provider:   a.providerName,
		Data:       data,
		Raw:        json.RawMessage(rawBody),
		Metadata:   map[string]interface{}{"entryId": payload.Entry[0].ID},
	}
}
