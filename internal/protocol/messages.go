// Package protocol defines the WebSocket message types exchanged on the chat
// socket. All messages are JSON-encoded and wrapped in an Envelope.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/tubechat/internal/agent"
)

// MessageType identifies the kind of message in the WebSocket protocol.
type MessageType string

const (
	// Client → Server
	MsgChatSend MessageType = "chat.send"
	MsgPong     MessageType = "pong"

	// Server → Client
	MsgAgentEvent MessageType = "agent.event"
	MsgChatReply  MessageType = "chat.reply"
	MsgPing       MessageType = "ping"

	// Bidirectional
	MsgError MessageType = "error"
)

// Error codes carried in ErrorPayload.
const (
	CodeBadRequest  = "bad_request"
	CodeNotFound    = "not_found"
	CodeConflict    = "conflict"
	CodeRateLimited = "rate_limited"
	CodeInternal    = "internal"
)

// Envelope is the top-level message wrapper. ID correlates a chat.send with
// every agent.event, chat.reply or error produced for it.
type Envelope struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope creates an Envelope with a fresh ID and current timestamp.
func NewEnvelope(msgType MessageType, payload any) (*Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return &Envelope{
		Type:      msgType,
		ID:        uuid.New().String(),
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Reply creates an envelope correlated with the request envelope id.
func Reply(requestID string, msgType MessageType, payload any) (*Envelope, error) {
	env, err := NewEnvelope(msgType, payload)
	if err != nil {
		return nil, err
	}
	if requestID != "" {
		env.ID = requestID
	}
	return env, nil
}

// Decode unmarshals the Payload into the given target.
func (e *Envelope) Decode(target any) error {
	return json.Unmarshal(e.Payload, target)
}

// ChatSendPayload is sent with MsgChatSend.
type ChatSendPayload struct {
	WorkspaceID string `json:"workspace_id"`
	Message     string `json:"message"`
}

// AgentEventPayload is sent with MsgAgentEvent for every event of a turn.
type AgentEventPayload struct {
	WorkspaceID string      `json:"workspace_id"`
	Event       agent.Event `json:"event"`
}

// ChatReplyPayload is sent with MsgChatReply when a turn completes.
type ChatReplyPayload struct {
	WorkspaceID string `json:"workspace_id"`
	Response    string `json:"response"`
}

// ErrorPayload is sent with MsgError.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
