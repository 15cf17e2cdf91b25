package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"

	"github.com/c7sync/chat-server/internal/chat"
	"github.com/c7sync/chat-server/internal/delivery"
	"github.com/c7sync/chat-server/internal/directory"
	"github.com/c7sync/chat-server/internal/friends"
	"github.com/c7sync/chat-server/internal/presence"
	"github.com/c7sync/chat-server/internal/protocol"
	"github.com/c7sync/chat-server/internal/ws"
)

// testConn wraps a ws.Connection backed by a net.Pipe. A reader goroutine
// drains server frames from the peer end and decodes them onto events, so
// handler writes never block.
type testConn struct {
	*ws.Connection
	events chan map[string]interface{}
}

func newTestConn(t *testing.T, id, userID string) *testConn {
	t.Helper()
	server, client := net.Pipe()
	tc := &testConn{
		Connection: &ws.Connection{
			ID:        id,
			UserID:    userID,
			Conn:      server,
			CreatedAt: time.Now(),
			LastPing:  time.Now(),
		},
		events: make(chan map[string]interface{}, 16),
	}
	go func() {
		for {
			data, err := wsutil.ReadServerText(client)
			if err != nil {
				return
			}
			var decoded map[string]interface{}
			if err := json.Unmarshal(data, &decoded); err != nil {
				continue
			}
			tc.events <- decoded
		}
	}()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return tc
}

// next returns the next event written to the connection, failing the test if
// none arrives.
func (tc *testConn) next(t *testing.T) map[string]interface{} {
	t.Helper()
	select {
	case ev := <-tc.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

// expectNone asserts that no event arrives within a short window.
func (tc *testConn) expectNone(t *testing.T) {
	t.Helper()
	select {
	case ev := <-tc.events:
		t.Fatalf("expected no event, got %v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func newTestGateway(t *testing.T, userIDs ...string) (*Gateway, *directory.MemoryStore, *presence.Registry) {
	t.Helper()
	store := directory.NewMemoryStore()
	for _, id := range userIDs {
		u := &directory.User{ID: id, FirstName: "Test", LastName: id, Email: id + "@example.com"}
		if err := store.CreateUser(context.Background(), u); err != nil {
			t.Fatalf("create user %s: %v", id, err)
		}
	}
	registry := presence.NewRegistry()
	pusher := delivery.NewPusher(registry, nil)
	gw := New(Config{
		Store:    store,
		Registry: registry,
		Friends:  friends.NewCoordinator(store, pusher),
		Locator:  chat.NewLocator(store),
		Relay:    chat.NewRelay(store, pusher),
		Pusher:   pusher,
	})
	return gw, store, registry
}

func TestHandleFriendRequest_MalformedLeavesStoreUntouched(t *testing.T) {
	gw, store, _ := newTestGateway(t, "alice", "bob")
	conn := newTestConn(t, "c1", "alice")

	cases := []struct {
		name string
		msg  interface{}
	}{
		{"self request", protocol.FriendRequestMsg{From: "alice", To: "alice"}},
		{"missing to", protocol.FriendRequestMsg{From: "alice"}},
		{"missing from", protocol.FriendRequestMsg{To: "bob"}},
		{"wrong payload type", protocol.EndMsg{UserID: "alice"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gw.handleFriendRequest(conn.Connection, tc.msg)

			ev := conn.next(t)
			if ev["type"] != "error" {
				t.Fatalf("expected error event, got %v", ev["type"])
			}
			if ev["code"] != "malformed_event" {
				t.Errorf("expected code malformed_event, got %v", ev["code"])
			}
		})
	}

	// None of the rejected events reached the store.
	if _, err := store.FindRequest(context.Background(), "alice", "bob"); !errors.Is(err, directory.ErrNotFound) {
		t.Errorf("expected no pending request, got %v", err)
	}
}

func TestHandleFriendRequest_NotifiesBothConnections(t *testing.T) {
	gw, store, _ := newTestGateway(t, "alice", "bob")
	alice := newTestConn(t, "c1", "alice")
	bob := newTestConn(t, "c2", "bob")
	gw.OnConnect(alice.Connection)
	gw.OnConnect(bob.Connection)

	gw.handleFriendRequest(alice.Connection, protocol.FriendRequestMsg{From: "alice", To: "bob"})

	if ev := bob.next(t); ev["type"] != "newFriendRequest" {
		t.Errorf("expected newFriendRequest for bob, got %v", ev["type"])
	}
	if ev := alice.next(t); ev["type"] != "requestSent" {
		t.Errorf("expected requestSent for alice, got %v", ev["type"])
	}
	if _, err := store.FindRequest(context.Background(), "alice", "bob"); err != nil {
		t.Errorf("expected pending request: %v", err)
	}
}

func TestHandleStartConversation_RepliesStartChat(t *testing.T) {
	gw, _, _ := newTestGateway(t, "alice", "bob")
	conn := newTestConn(t, "c1", "alice")

	gw.handleStartConversation(conn.Connection, protocol.StartConversationMsg{From: "alice", To: "bob"})

	ev := conn.next(t)
	if ev["type"] != "startChat" {
		t.Fatalf("expected startChat, got %v", ev["type"])
	}
	conv, ok := ev["conversation"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected conversation object, got %v", ev["conversation"])
	}
	if conv["id"] == "" || conv["id"] == nil {
		t.Error("expected conversation id in startChat payload")
	}
}

func TestHandleStartConversation_SelfIsMalformed(t *testing.T) {
	gw, _, _ := newTestGateway(t, "alice")
	conn := newTestConn(t, "c1", "alice")

	gw.handleStartConversation(conn.Connection, protocol.StartConversationMsg{From: "alice", To: "alice"})

	ev := conn.next(t)
	if ev["type"] != "error" || ev["code"] != "malformed_event" {
		t.Fatalf("expected malformed_event error, got %v", ev)
	}
}

func TestHandleTextMessage_UnknownConversationIsNotFound(t *testing.T) {
	gw, _, _ := newTestGateway(t, "alice", "bob")
	conn := newTestConn(t, "c1", "alice")

	gw.handleTextMessage(conn.Connection, protocol.TextMessageMsg{
		From:           "alice",
		To:             "bob",
		ConversationID: "no-such-conversation",
		Message:        "hi",
		MsgType:        protocol.KindText,
	})

	ev := conn.next(t)
	if ev["type"] != "error" || ev["code"] != "not_found" {
		t.Fatalf("expected not_found error, got %v", ev)
	}
}

func TestOnConnect_SetsOnlineAndRegisters(t *testing.T) {
	gw, store, registry := newTestGateway(t, "alice")
	conn := newTestConn(t, "c1", "alice")

	gw.OnConnect(conn.Connection)

	if registry.Lookup("alice") != conn.Connection {
		t.Fatal("expected connection to be registered")
	}
	u, err := store.GetUser(context.Background(), "alice")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.Status != directory.StatusOnline {
		t.Errorf("expected status Online, got %s", u.Status)
	}
}

func TestOnDisconnect_GuardsReconnect(t *testing.T) {
	gw, _, registry := newTestGateway(t, "alice")
	first := newTestConn(t, "c1", "alice")
	second := newTestConn(t, "c2", "alice")

	gw.OnConnect(first.Connection)
	gw.OnConnect(second.Connection)

	// The displaced connection's close must not tear down the fresh one.
	gw.OnDisconnect(first.Connection)
	if registry.Lookup("alice") != second.Connection {
		t.Fatal("expected reconnected connection to survive the stale disconnect")
	}

	gw.OnDisconnect(second.Connection)
	if registry.Lookup("alice") != nil {
		t.Fatal("expected registry entry to be removed")
	}
}

func TestHandleEnd_PersistsOfflineAndCloses(t *testing.T) {
	gw, store, _ := newTestGateway(t, "alice")
	conn := newTestConn(t, "c1", "alice")
	gw.OnConnect(conn.Connection)

	gw.handleEnd(conn.Connection, protocol.EndMsg{UserID: "alice"})

	u, err := store.GetUser(context.Background(), "alice")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.Status != directory.StatusOffline {
		t.Errorf("expected status Offline after end, got %s", u.Status)
	}

	// The close propagates through OnDisconnect in the wired server path; with
	// no server attached the handler closes the transport directly.
	if err := conn.Connection.WriteMessage([]byte(`{}`)); err == nil {
		t.Error("expected write to a closed connection to fail")
	}
}

func TestOnDisconnect_DoesNotPersistOffline(t *testing.T) {
	gw, store, _ := newTestGateway(t, "alice")
	conn := newTestConn(t, "c1", "alice")
	gw.OnConnect(conn.Connection)

	// An abrupt close must leave the persisted status alone; only the
	// explicit end event demotes it.
	gw.OnDisconnect(conn.Connection)

	u, err := store.GetUser(context.Background(), "alice")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.Status != directory.StatusOnline {
		t.Errorf("expected status to stay Online after abrupt disconnect, got %s", u.Status)
	}
	conn.expectNone(t)
}
