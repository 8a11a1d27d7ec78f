package webhookadapter

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"
)

// signatureStaleness bounds how old a Slack request timestamp may be
// before it is rejected outright, defeating replay of a captured
// request even with a leaked signing secret.
const signatureStaleness = 5 * time.Minute

// SlackAdapter verifies Slack's v0 signing scheme
// (v0:timestamp:body, HMAC-SHA256, hex) and implements the
// url_verification handshake.
type SlackAdapter struct{}

// NewSlackAdapter constructs the Slack adapter.
func NewSlackAdapter() *SlackAdapter { return &SlackAdapter{} }

func (a *SlackAdapter) Provider() string { return "slack" }

// VerifySignature checks X-Slack-Signature against v0:timestamp:body
// and rejects requests whose X-Slack-Request-Timestamp is more than
// signatureStaleness away from now.
func (a *SlackAdapter) VerifySignature(rawBody []byte, headers map[string]string, secret string) bool {
	signature := headers["X-Slack-Signature"]
	timestampHeader := headers["X-Slack-Request-Timestamp"]
	if signature == "" || timestampHeader == "" {
		return false
	}

	timestampSecs, err := strconv.ParseInt(timestampHeader, 10, 64)
	if err != nil {
		return false
	}
	age := time.Since(time.Unix(timestampSecs, 0))
	if age < 0 {
		age = -age
	}
	if age > signatureStaleness {
		return false
	}

	const prefix = "v0="
	if len(signature) > len(prefix) && signature[:len(prefix)] == prefix {
		signature = signature[len(prefix):]
	}
	base := "v0:" + timestampHeader + ":" + string(rawBody)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

type slackChallengePayload struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
}

// HandleChallenge implements Slack's url_verification handshake.
func (a *SlackAdapter) HandleChallenge(rawBody []byte, headers map[string]string) ChallengeResult {
	var payload slackChallengePayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return ChallengeResult{IsChallenge: false}
	}
	if payload.Type != "url_verification" || payload.Challenge == "" {
		return ChallengeResult{IsChallenge: false}
	}
	body, _ := json.Marshal(map[string]string{"challenge": payload.Challenge})
	return ChallengeResult{IsChallenge: true, Response: body, ContentType: "application/json"}
}

type slackEventPayload struct {
	TeamID string `json:"team_id"`
	Event  struct {
		Type      string `json:"type"`
		User      string `json:"user"`
		EventTime int64  `json:"event_ts"`
	} `json:"event"`
}

// Normalize extracts Slack's wrapped "event" envelope.
func (a *SlackAdapter) Normalize(rawBody []byte, headers map[string]string, clientID string) NormalizedEvent {
	var payload slackEventPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil || payload.Event.Type == "" {
		return unknownEvent(a.Provider(), rawBody, clientID)
	}
	var data map[string]interface{}
	_ = json.Unmarshal(rawBody, &data)

	timestamp := time.Now().UTC()
	if payload.Event.EventTime > 0 {
		timestamp = time.Unix(payload.Event.EventTime, 0).UTC()
	}
	return NormalizedEvent{
		EventType:  payload.Event.Type,
		CustomerID: payload.Event.User,
		Timestamp:  timestamp,
		Provider:   a.Provider(),
		Data:       data,
		Raw:        json.RawMessage(rawBody),
		Metadata:   map[string]interface{}{"teamId": payload.TeamID},
	}
}
