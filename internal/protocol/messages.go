// Package protocol defines the realtime event types and structures exchanged
// between the client and server. All events are serialized as JSON and follow
// a consistent envelope format with a type discriminator. The inbound event
// names mirror the public client contract (friendRequest, acceptRequest,
// startConversation, ...), so they are camelCase rather than snake_case.
//
// One wire nuance: the message kind (Text, Media, Document, Link) is named
// "type" inside stored and outbound message objects, which collides with the
// envelope discriminator on the inbound path. Inbound textMessage events
// therefore carry the kind as "msgType"; everywhere else it stays "type".
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Event type constants
// ---------------------------------------------------------------------------

// Client -> Server event types.
const (
	TypeFriendRequest          = "friendRequest"
	TypeAcceptRequest          = "acceptRequest"
	TypeGetDirectConversations = "getDirectConversations"
	TypeStartConversation      = "startConversation"
	TypeGetMessage             = "getMessage"
	TypeTextMessage            = "textMessage"
	TypeEnd                    = "end"
	TypePing                   = "ping"
)

// Server -> Client event types.
const (
	TypeNewFriendRequest = "newFriendRequest"
	TypeRequestSent      = "requestSent"
	TypeRequestAccepted  = "requestAccepted"
	TypeStartChat        = "startChat"
	TypeNewMessage       = "newMessage"
	TypeConversationList = "conversationList"
	TypeMessageList      = "messageList"
	TypeRateLimited      = "rateLimited"
	TypeError            = "error"
	TypePong             = "pong"
)

// Message kinds accepted in textMessage events.
const (
	KindText     = "Text"
	KindMedia    = "Media"
	KindDocument = "Document"
	KindLink     = "Link"
)

// ValidKind reports whether kind is one of the accepted message kinds.
func ValidKind(kind string) bool {
	switch kind {
	case KindText, KindMedia, KindDocument, KindLink:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the event type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Shared payload objects
// ---------------------------------------------------------------------------

// RequestSummary describes a pending friend request in outbound events so
// that the recipient can later accept it by id.
type RequestSummary struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	CreatedAt time.Time `json:"createdAt"`
}

// Participant is a resolved user profile attached to a conversation.
type Participant struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Avatar    string `json:"avatar,omitempty"`
	Status    string `json:"status"`
}

// Message is a single chat message within a conversation. Kind travels under
// the "type" key inside the message object, matching the original schema.
type Message struct {
	ID        string    `json:"id"`
	To        string    `json:"to"`
	From      string    `json:"from"`
	Kind      string    `json:"type"`
	Text      string    `json:"text,omitempty"`
	File      string    `json:"file,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Conversation is the unique two-party thread with resolved participants.
// Messages are populated only where the caller asked for them.
type Conversation struct {
	ID           string        `json:"id"`
	Participants []Participant `json:"participants"`
	Messages     []Message     `json:"messages,omitempty"`
}

// ---------------------------------------------------------------------------
// Client -> Server event structs
// ---------------------------------------------------------------------------

// FriendRequestMsg asks the server to create a friend request from From to To.
type FriendRequestMsg struct {
	Type string `json:"type"`
	To   string `json:"to"`
	From string `json:"from"`
}

// AcceptRequestMsg accepts a pending friend request by id.
type AcceptRequestMsg struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
}

// GetDirectConversationsMsg asks for all conversations the user takes part in.
type GetDirectConversationsMsg struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// StartConversationMsg finds or creates the one-to-one conversation between
// To and From. The result is emitted back to the requester as startChat.
type StartConversationMsg struct {
	Type string `json:"type"`
	To   string `json:"to"`
	From string `json:"from"`
}

// GetMessageMsg asks for the full ordered message history of a conversation.
type GetMessageMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
}

// TextMessageMsg posts a message into a conversation. The envelope "type" is
// the event name, so the message kind travels as "msgType" (one of the Kind*
// constants).
type TextMessageMsg struct {
	Type           string `json:"type"`
	To             string `json:"to"`
	From           string `json:"from"`
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
	MsgType        string `json:"msgType"`
	File           string `json:"file,omitempty"`
}

// EndMsg is the explicit end-of-session event. The server persists Offline
// status for UserID before closing the transport.
type EndMsg struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client event structs
// ---------------------------------------------------------------------------

// NewFriendRequestMsg notifies the recipient that a friend request arrived.
type NewFriendRequestMsg struct {
	Type    string          `json:"type"`
	Message string          `json:"message"`
	Request *RequestSummary `json:"request,omitempty"`
}

// RequestSentMsg confirms (or reports duplicate of) a friend request to the
// sender. Message distinguishes the created and already-pending outcomes.
type RequestSentMsg struct {
	Type    string          `json:"type"`
	Message string          `json:"message"`
	Request *RequestSummary `json:"request,omitempty"`
}

// RequestAcceptedMsg notifies both parties that a friend request was accepted.
type RequestAcceptedMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// StartChatMsg carries the located (or freshly created) conversation back to
// the startConversation requester.
type StartChatMsg struct {
	Type         string       `json:"type"`
	Conversation Conversation `json:"conversation"`
}

// NewMessageMsg delivers a freshly appended message to a live participant.
type NewMessageMsg struct {
	Type           string  `json:"type"`
	ConversationID string  `json:"conversationId"`
	Message        Message `json:"message"`
}

// ConversationListMsg is the direct response to getDirectConversations.
type ConversationListMsg struct {
	Type          string         `json:"type"`
	Conversations []Conversation `json:"conversations"`
}

// MessageListMsg is the direct response to getMessage.
type MessageListMsg struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversationId"`
	Messages       []Message `json:"messages"`
}

// RateLimitedMsg is sent when the client exceeded a per-sender rate limit.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client event.
// It returns the event type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only event types — malformed events are rejected here, before any
// store access is attempted.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeFriendRequest:
		var m FriendRequestMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeAcceptRequest:
		var m AcceptRequestMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeGetDirectConversations:
		var m GetDirectConversationsMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeStartConversation:
		var m StartConversationMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeGetMessage:
		var m GetMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTextMessage:
		var m TextMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeEnd:
		var m EndMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client event type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server event.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server event structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
