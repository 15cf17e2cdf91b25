package directory

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func newTestStore(t *testing.T, userIDs ...string) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	for _, id := range userIDs {
		u := &User{
			ID:        id,
			FirstName: "Test",
			LastName:  id,
			Email:     fmt.Sprintf("%s@example.com", id),
		}
		if err := s.CreateUser(context.Background(), u); err != nil {
			t.Fatalf("create user %s: %v", id, err)
		}
	}
	return s
}

func TestMemoryStore_UserLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "alice")

	u, err := s.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.Status != StatusOffline {
		t.Errorf("expected new user to be %s, got %s", StatusOffline, u.Status)
	}

	if err := s.SetUserStatus(ctx, "alice", StatusOnline); err != nil {
		t.Fatalf("set status: %v", err)
	}
	u, _ = s.GetUser(ctx, "alice")
	if u.Status != StatusOnline {
		t.Errorf("expected %s, got %s", StatusOnline, u.Status)
	}

	if _, err := s.GetUser(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown user, got %v", err)
	}
	if err := s.SetUserStatus(ctx, "nobody", StatusOnline); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown user, got %v", err)
	}
}

func TestMemoryStore_FriendEdges(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "alice", "bob")

	// Symmetry is the caller's responsibility: two directed inserts.
	if err := s.AddFriend(ctx, "alice", "bob"); err != nil {
		t.Fatalf("add friend: %v", err)
	}
	if err := s.AddFriend(ctx, "bob", "alice"); err != nil {
		t.Fatalf("add friend: %v", err)
	}

	// Inserting an existing edge is idempotent.
	if err := s.AddFriend(ctx, "alice", "bob"); err != nil {
		t.Fatalf("re-add friend: %v", err)
	}

	friends, err := s.ListFriends(ctx, "alice")
	if err != nil {
		t.Fatalf("list friends: %v", err)
	}
	if len(friends) != 1 || friends[0].ID != "bob" {
		t.Fatalf("expected [bob], got %v", friends)
	}

	if err := s.AddFriend(ctx, "alice", "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown friend, got %v", err)
	}
}

func TestMemoryStore_RequestDuplicateIsDirectionSensitive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "alice", "bob")

	if err := s.CreateRequest(ctx, &FriendRequest{Sender: "alice", Recipient: "bob"}); err != nil {
		t.Fatalf("create request: %v", err)
	}

	// Same ordered pair collides.
	err := s.CreateRequest(ctx, &FriendRequest{Sender: "alice", Recipient: "bob"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for same ordered pair, got %v", err)
	}

	// The reverse direction is a distinct pending request.
	if err := s.CreateRequest(ctx, &FriendRequest{Sender: "bob", Recipient: "alice"}); err != nil {
		t.Fatalf("reverse request should be allowed: %v", err)
	}

	if _, err := s.FindRequest(ctx, "alice", "bob"); err != nil {
		t.Errorf("expected to find alice->bob request: %v", err)
	}
	if _, err := s.FindRequest(ctx, "alice", "carol"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_DeleteRequestIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "alice", "bob")

	req := &FriendRequest{Sender: "alice", Recipient: "bob"}
	if err := s.CreateRequest(ctx, req); err != nil {
		t.Fatalf("create request: %v", err)
	}

	if err := s.DeleteRequest(ctx, req.ID); err != nil {
		t.Fatalf("delete request: %v", err)
	}
	// Deleting a gone request is a no-op, not an error.
	if err := s.DeleteRequest(ctx, req.ID); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := s.GetRequest(ctx, req.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStore_FindOrCreateConversationConverges(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "alice", "bob", "carol")

	c1, err := s.FindOrCreateConversation(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("find or create: %v", err)
	}

	// Repeat calls, in either participant order, return the same thread.
	c2, err := s.FindOrCreateConversation(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("find or create reversed: %v", err)
	}
	if c1.ID != c2.ID {
		t.Fatalf("expected the same conversation, got %s and %s", c1.ID, c2.ID)
	}

	// A different pair gets a different thread.
	c3, err := s.FindOrCreateConversation(ctx, "alice", "carol")
	if err != nil {
		t.Fatalf("find or create: %v", err)
	}
	if c3.ID == c1.ID {
		t.Fatal("expected a distinct conversation for a distinct pair")
	}

	if len(c1.Participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(c1.Participants))
	}
	if !c1.HasParticipant("alice") || !c1.HasParticipant("bob") {
		t.Errorf("unexpected participants: %v", c1.Participants)
	}

	if _, err := s.FindOrCreateConversation(ctx, "alice", "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown participant, got %v", err)
	}
}

func TestMemoryStore_ListConversations(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "alice", "bob", "carol")

	s.FindOrCreateConversation(ctx, "alice", "bob")
	s.FindOrCreateConversation(ctx, "alice", "carol")
	s.FindOrCreateConversation(ctx, "bob", "carol")

	convs, err := s.ListConversations(ctx, "alice")
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("expected 2 conversations for alice, got %d", len(convs))
	}
	for _, c := range convs {
		if !c.HasParticipant("alice") {
			t.Errorf("conversation %s does not include alice", c.ID)
		}
	}
}

func TestMemoryStore_MessagesKeepAppendOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "alice", "bob")

	conv, err := s.FindOrCreateConversation(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("find or create: %v", err)
	}

	for i := 0; i < 5; i++ {
		m := &Message{
			ConversationID: conv.ID,
			From:           "alice",
			To:             "bob",
			Kind:           "Text",
			Text:           fmt.Sprintf("message %d", i),
		}
		if err := s.AppendMessage(ctx, m); err != nil {
			t.Fatalf("append message %d: %v", i, err)
		}
		if m.ID == "" {
			t.Fatal("expected append to assign an id")
		}
	}

	msgs, err := s.ListMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(msgs))
	}
	for i, m := range msgs {
		if m.Text != fmt.Sprintf("message %d", i) {
			t.Errorf("message %d out of order: %q", i, m.Text)
		}
		if i > 0 && msgs[i].Seq <= msgs[i-1].Seq {
			t.Errorf("seq not increasing at index %d", i)
		}
	}
}

func TestMemoryStore_MessageErrors(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "alice", "bob")

	err := s.AppendMessage(ctx, &Message{ConversationID: "missing", From: "alice", To: "bob", Kind: "Text", Text: "hi"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound appending to missing conversation, got %v", err)
	}

	if _, err := s.ListMessages(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound listing missing conversation, got %v", err)
	}

	// An existing but empty conversation lists cleanly.
	conv, _ := s.FindOrCreateConversation(ctx, "alice", "bob")
	msgs, err := s.ListMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("list empty conversation: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected no messages, got %d", len(msgs))
	}
}
