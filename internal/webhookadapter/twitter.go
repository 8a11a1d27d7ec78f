package webhookadapter

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"time"
)

// TwitterAdapter verifies the Account Activity API's
// X-Twitter-Webhooks-Signature header (sha256 HMAC, base64 or hex
// encoded) and implements the CRC (challenge-response check) handshake.
type TwitterAdapter struct{}

// NewTwitterAdapter constructs the Twitter adapter.
func NewTwitterAdapter() *TwitterAdapter { return &TwitterAdapter{} }

func (a *TwitterAdapter) Provider() string { return "twitter" }

// VerifySignature accepts either base64 (Twitter's documented
// "sha256=<base64>") or hex encoding of the HMAC digest, since
// deployments have been observed sending both.
func (a *TwitterAdapter) VerifySignature(rawBody []byte, headers map[string]string, secret string) bool {
	signature := headers["X-Twitter-Webhooks-Signature"]
	if signature == "" {
		return false
	}
	const prefix = "sha256="
	if len(signature) > len(prefix) && signature[:len(prefix)] == prefix {
		signature = signature[len(prefix):]
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	digest := mac.Sum(nil)

	expectedBase64 := base64.StdEncoding.EncodeToString(digest)
	if hmac.Equal([]byte(signature), []byte(expectedBase64)) {
		return true
	}
	expectedHex := hex.EncodeToString(digest)
	return hmac.Equal([]byte(signature), []byte(expectedHex))
}

// HandleChallenge implements the CRC handshake: a GET request carrying
// a crc_token query parameter (merged into headers by the ingress
// layer, as with Meta's hub.challenge) expects back
// {"response_token": "sha256=<base64 hmac of crc_token>"}.
func (a *TwitterAdapter) HandleChallenge(rawBody []byte, headers map[string]string) ChallengeResult {
	token := headers["crc_token"]
	secret := headers["crc_secret"]
	if token == "" {
		return ChallengeResult{IsChallenge: false}
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(token))
	responseToken := "sha256=" + base64.StdEncoding.EncodeToString(mac.Sum(nil))
	body, _ := json.Marshal(map[string]string{"response_token": responseToken})
	return ChallengeResult{IsChallenge: true, Response: body, ContentType: "application/json"}
}

type twitterEventPayload struct {
	ForUserID string `json:"for_user_id"`
	DirectMessageEvents []struct {
		Type             string `json:"type"`
		CreatedTimestamp string `json:"created_timestamp"`
		MessageCreate     struct {
			SenderID string `json:"sender_id"`
		} `json:"message_create"`
	} `json:"direct_message_events"`
}

// Normalize extracts the first direct-message event, the only
// activity type this system routes to trigger nodes.
func (a *TwitterAdapter) Normalize(rawBody []byte, headers map[string]string, clientID string) NormalizedEvent {
	var payload twitterEventPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil || len(payload.DirectMessageEvents) == 0 {
		return unknownEvent(a.Provider(), rawBody, clientID)
	}
	var data map[string]interface{}
	_ = json.Unmarshal(rawBody, &data)

	event := payload.DirectMessageEvents[0]
	timestamp := time.Now().UTC()
	return NormalizedEvent{
		EventType:  event.Type,
		CustomerID: event.MessageCreate.SenderID,
		Timestamp:  timestamp,
		Provider:   a.Provider(),
		Data:       data,
		Raw:        json.RawMessage(rawBody),
		Metadata:   map[string]interface{}{"forUserId": payload.ForUserID},
	}
}
