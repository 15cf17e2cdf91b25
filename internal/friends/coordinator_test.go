package friends

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/c7sync/chat-server/internal/directory"
)

// capturePusher records every pushed event, decoded to its envelope type.
type capturePusher struct {
	pushes map[string][]map[string]interface{} // userID -> decoded events
}

func newCapturePusher() *capturePusher {
	return &capturePusher{pushes: make(map[string][]map[string]interface{})}
}

func (p *capturePusher) Push(userID string, data []byte) {
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return
	}
	p.pushes[userID] = append(p.pushes[userID], decoded)
}

func (p *capturePusher) types(userID string) []string {
	var out []string
	for _, ev := range p.pushes[userID] {
		if t, ok := ev["type"].(string); ok {
			out = append(out, t)
		}
	}
	return out
}

func newTestCoordinator(t *testing.T, userIDs ...string) (*Coordinator, *directory.MemoryStore, *capturePusher) {
	t.Helper()
	store := directory.NewMemoryStore()
	for _, id := range userIDs {
		u := &directory.User{ID: id, FirstName: "Test", LastName: id, Email: id + "@example.com"}
		if err := store.CreateUser(context.Background(), u); err != nil {
			t.Fatalf("create user %s: %v", id, err)
		}
	}
	pusher := newCapturePusher()
	return NewCoordinator(store, pusher), store, pusher
}

func TestCreateRequest_NotifiesBothParties(t *testing.T) {
	ctx := context.Background()
	coord, store, pusher := newTestCoordinator(t, "alice", "bob")

	outcome, err := coord.CreateRequest(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if outcome != Created {
		t.Fatalf("expected Created, got %v", outcome)
	}

	// Recipient hears newFriendRequest, sender hears requestSent.
	if got := pusher.types("bob"); len(got) != 1 || got[0] != "newFriendRequest" {
		t.Errorf("expected bob to receive [newFriendRequest], got %v", got)
	}
	if got := pusher.types("alice"); len(got) != 1 || got[0] != "requestSent" {
		t.Errorf("expected alice to receive [requestSent], got %v", got)
	}

	// The pending row exists.
	if _, err := store.FindRequest(ctx, "alice", "bob"); err != nil {
		t.Errorf("expected pending request: %v", err)
	}

	// The recipient's event carries the request id for later acceptance.
	ev := pusher.pushes["bob"][0]
	req, ok := ev["request"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected request object in newFriendRequest, got %v", ev)
	}
	if req["id"] == "" || req["id"] == nil {
		t.Error("expected request id in newFriendRequest payload")
	}
}

func TestCreateRequest_DuplicateNotifiesSenderOnly(t *testing.T) {
	ctx := context.Background()
	coord, _, pusher := newTestCoordinator(t, "alice", "bob")

	if _, err := coord.CreateRequest(ctx, "alice", "bob"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	bobBefore := len(pusher.pushes["bob"])

	outcome, err := coord.CreateRequest(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if outcome != AlreadyExists {
		t.Fatalf("expected AlreadyExists, got %v", outcome)
	}

	// The recipient hears nothing new.
	if got := len(pusher.pushes["bob"]); got != bobBefore {
		t.Errorf("expected no new events for bob, got %d", got-bobBefore)
	}

	// The sender is told the request is already pending.
	aliceEvents := pusher.pushes["alice"]
	last := aliceEvents[len(aliceEvents)-1]
	if last["type"] != "requestSent" {
		t.Fatalf("expected requestSent, got %v", last["type"])
	}
	if last["message"] != "There's already friend request with this user" {
		t.Errorf("unexpected duplicate message: %v", last["message"])
	}
}

func TestCreateRequest_ReverseDirectionIsDistinct(t *testing.T) {
	ctx := context.Background()
	coord, _, _ := newTestCoordinator(t, "alice", "bob")

	if _, err := coord.CreateRequest(ctx, "alice", "bob"); err != nil {
		t.Fatalf("alice->bob: %v", err)
	}

	// bob->alice is not suppressed by the pending alice->bob request.
	outcome, err := coord.CreateRequest(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("bob->alice: %v", err)
	}
	if outcome != Created {
		t.Fatalf("expected Created for reverse direction, got %v", outcome)
	}
}

func TestCreateRequest_RejectsSelf(t *testing.T) {
	ctx := context.Background()
	coord, _, _ := newTestCoordinator(t, "alice")

	if _, err := coord.CreateRequest(ctx, "alice", "alice"); err == nil {
		t.Fatal("expected error for self request")
	}
	if _, err := coord.CreateRequest(ctx, "", "alice"); err == nil {
		t.Fatal("expected error for empty sender")
	}
}

func TestAcceptRequest_EstablishesSymmetricFriendship(t *testing.T) {
	ctx := context.Background()
	coord, store, pusher := newTestCoordinator(t, "alice", "bob")

	if _, err := coord.CreateRequest(ctx, "alice", "bob"); err != nil {
		t.Fatalf("create request: %v", err)
	}
	req, err := store.FindRequest(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("find request: %v", err)
	}

	if err := coord.AcceptRequest(ctx, req.ID); err != nil {
		t.Fatalf("accept request: %v", err)
	}

	// Both edges exist.
	aliceFriends, _ := store.ListFriends(ctx, "alice")
	bobFriends, _ := store.ListFriends(ctx, "bob")
	if len(aliceFriends) != 1 || aliceFriends[0].ID != "bob" {
		t.Errorf("expected alice to have friend bob, got %v", aliceFriends)
	}
	if len(bobFriends) != 1 || bobFriends[0].ID != "alice" {
		t.Errorf("expected bob to have friend alice, got %v", bobFriends)
	}

	// The pending request is retired.
	if _, err := store.GetRequest(ctx, req.ID); err == nil {
		t.Error("expected request to be deleted after acceptance")
	}

	// Both parties are notified.
	for _, user := range []string{"alice", "bob"} {
		types := pusher.types(user)
		if len(types) == 0 || types[len(types)-1] != "requestAccepted" {
			t.Errorf("expected %s to receive requestAccepted, got %v", user, types)
		}
	}
}

func TestAcceptRequest_UnknownIDIsNoOp(t *testing.T) {
	ctx := context.Background()
	coord, _, pusher := newTestCoordinator(t, "alice", "bob")

	// A double accept or bogus id must not error or notify anyone.
	if err := coord.AcceptRequest(ctx, "no-such-request"); err != nil {
		t.Fatalf("expected nil error for unknown request, got %v", err)
	}
	if len(pusher.pushes) != 0 {
		t.Errorf("expected no pushes, got %v", pusher.pushes)
	}
}
