package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid friendRequest message
// ---------------------------------------------------------------------------

func TestParseClientMessage_FriendRequest(t *testing.T) {
	input := []byte(`{"type":"friendRequest","to":"user-b","from":"user-a"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeFriendRequest {
		t.Fatalf("expected type %q, got %q", TypeFriendRequest, msgType)
	}

	fr, ok := msg.(FriendRequestMsg)
	if !ok {
		t.Fatalf("expected FriendRequestMsg, got %T", msg)
	}
	if fr.To != "user-b" {
		t.Errorf("expected to %q, got %q", "user-b", fr.To)
	}
	if fr.From != "user-a" {
		t.Errorf("expected from %q, got %q", "user-a", fr.From)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid textMessage message
// ---------------------------------------------------------------------------

func TestParseClientMessage_TextMessage(t *testing.T) {
	input := []byte(`{"type":"textMessage","to":"user-b","from":"user-a","conversationId":"conv-1","message":"Hello!","msgType":"Text"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeTextMessage {
		t.Fatalf("expected type %q, got %q", TypeTextMessage, msgType)
	}

	tm, ok := msg.(TextMessageMsg)
	if !ok {
		t.Fatalf("expected TextMessageMsg, got %T", msg)
	}
	if tm.ConversationID != "conv-1" {
		t.Errorf("expected conversationId %q, got %q", "conv-1", tm.ConversationID)
	}
	if tm.Message != "Hello!" {
		t.Errorf("expected message %q, got %q", "Hello!", tm.Message)
	}
	if tm.MsgType != KindText {
		t.Errorf("expected msgType %q, got %q", KindText, tm.MsgType)
	}
}

// ---------------------------------------------------------------------------
// Test: Creating a newMessage server message
// ---------------------------------------------------------------------------

func TestNewServerMessage_NewMessage(t *testing.T) {
	payload := NewMessageMsg{
		ConversationID: "conv-42",
		Message: Message{
			ID:   "msg-1",
			To:   "user-b",
			From: "user-a",
			Kind: KindText,
			Text: "hey",
		},
	}

	data, err := NewServerMessage(TypeNewMessage, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Decode back and verify structure.
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["type"] != TypeNewMessage {
		t.Errorf("expected type %q, got %v", TypeNewMessage, result["type"])
	}
	if result["conversationId"] != "conv-42" {
		t.Errorf("expected conversationId %q, got %v", "conv-42", result["conversationId"])
	}

	inner, ok := result["message"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected message to be an object, got %T", result["message"])
	}
	if inner["text"] != "hey" {
		t.Errorf("expected text %q, got %v", "hey", inner["text"])
	}
	// The message kind travels under the "type" key inside the message object.
	if inner["type"] != KindText {
		t.Errorf("expected message type %q, got %v", KindText, inner["type"])
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing an unknown message type returns an error
// ---------------------------------------------------------------------------

func TestParseClientMessage_UnknownType(t *testing.T) {
	input := []byte(`{"type":"unknown_type","data":"something"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected an error for unknown message type, got nil")
	}
	if msg != nil {
		t.Errorf("expected nil message for unknown type, got %v", msg)
	}
	if msgType != "unknown_type" {
		t.Errorf("expected returned type %q, got %q", "unknown_type", msgType)
	}
}

// ---------------------------------------------------------------------------
// Test: Server-only event types are rejected on the inbound path
// ---------------------------------------------------------------------------

func TestParseClientMessage_ServerOnlyType(t *testing.T) {
	input := []byte(`{"type":"newMessage","conversationId":"conv-1"}`)

	_, msg, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected an error for server-only message type, got nil")
	}
	if msg != nil {
		t.Errorf("expected nil message, got %v", msg)
	}
}

// ---------------------------------------------------------------------------
// Test: Envelope UnmarshalJSON edge cases
// ---------------------------------------------------------------------------

func TestEnvelope_MissingType(t *testing.T) {
	input := []byte(`{"data":"no type field"}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for missing type field, got nil")
	}
}

func TestEnvelope_InvalidJSON(t *testing.T) {
	input := []byte(`{invalid json}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing all client message types succeeds
// ---------------------------------------------------------------------------

func TestParseClientMessage_AllTypes(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		wantType string
	}{
		{"friendRequest", `{"type":"friendRequest","to":"b","from":"a"}`, TypeFriendRequest},
		{"acceptRequest", `{"type":"acceptRequest","requestId":"req-1"}`, TypeAcceptRequest},
		{"getDirectConversations", `{"type":"getDirectConversations","userId":"a"}`, TypeGetDirectConversations},
		{"startConversation", `{"type":"startConversation","to":"b","from":"a"}`, TypeStartConversation},
		{"getMessage", `{"type":"getMessage","conversationId":"conv-1"}`, TypeGetMessage},
		{"textMessage", `{"type":"textMessage","to":"b","from":"a","conversationId":"conv-1","message":"hi","msgType":"Text"}`, TypeTextMessage},
		{"end", `{"type":"end","userId":"a"}`, TypeEnd},
		{"ping", `{"type":"ping"}`, TypePing},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msgType, msg, err := ParseClientMessage([]byte(tc.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msgType != tc.wantType {
				t.Errorf("expected type %q, got %q", tc.wantType, msgType)
			}
			if msg == nil {
				t.Error("expected non-nil message")
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Test: ValidKind accepts exactly the four kinds
// ---------------------------------------------------------------------------

func TestValidKind(t *testing.T) {
	for _, kind := range []string{KindText, KindMedia, KindDocument, KindLink} {
		if !ValidKind(kind) {
			t.Errorf("expected kind %q to be valid", kind)
		}
	}
	for _, kind := range []string{"", "text", "Audio", "TEXT"} {
		if ValidKind(kind) {
			t.Errorf("expected kind %q to be invalid", kind)
		}
	}
}
