package delivery

import (
	"errors"
	"testing"

	"github.com/c7sync/chat-server/internal/presence"
)

type fakeConn struct {
	writes [][]byte
	err    error
}

func (c *fakeConn) WriteMessage(data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.writes = append(c.writes, data)
	return nil
}

func (c *fakeConn) Close() error { return nil }

type fakePublisher struct {
	published map[string][][]byte
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{published: make(map[string][][]byte)}
}

func (p *fakePublisher) PublishUser(userID string, data []byte) error {
	p.published[userID] = append(p.published[userID], data)
	return nil
}

func TestPush_LocalConnectionWins(t *testing.T) {
	registry := presence.NewRegistry()
	conn := &fakeConn{}
	registry.Register("alice", conn)

	publisher := newFakePublisher()
	pusher := NewPusher(registry, publisher)

	pusher.Push("alice", []byte(`{"type":"newMessage"}`))

	if len(conn.writes) != 1 {
		t.Fatalf("expected 1 local write, got %d", len(conn.writes))
	}
	if len(publisher.published["alice"]) != 0 {
		t.Errorf("expected no publish for locally connected user, got %d", len(publisher.published["alice"]))
	}
}

func TestPush_RemoteFallsBackToPublish(t *testing.T) {
	registry := presence.NewRegistry()
	publisher := newFakePublisher()
	pusher := NewPusher(registry, publisher)

	pusher.Push("bob", []byte(`{"type":"newMessage"}`))

	if len(publisher.published["bob"]) != 1 {
		t.Fatalf("expected 1 publish for remote user, got %d", len(publisher.published["bob"]))
	}
}

func TestPush_AbsentUserIsNotAnError(t *testing.T) {
	registry := presence.NewRegistry()
	pusher := NewPusher(registry, nil)

	// No local connection and no publisher: the push is simply dropped.
	pusher.Push("carol", []byte(`{"type":"newMessage"}`))
}

func TestPush_WriteFailureIsSwallowed(t *testing.T) {
	registry := presence.NewRegistry()
	conn := &fakeConn{err: errors.New("broken pipe")}
	registry.Register("alice", conn)

	publisher := newFakePublisher()
	pusher := NewPusher(registry, publisher)

	// A dying local connection must not trigger a remote publish; the
	// message is already durable and the client reconciles on reconnect.
	pusher.Push("alice", []byte(`{"type":"newMessage"}`))
	if len(publisher.published["alice"]) != 0 {
		t.Errorf("expected no publish after local write failure, got %d", len(publisher.published["alice"]))
	}
}

func TestPushLocal(t *testing.T) {
	registry := presence.NewRegistry()
	conn := &fakeConn{}
	registry.Register("alice", conn)
	pusher := NewPusher(registry, newFakePublisher())

	if !pusher.PushLocal("alice", []byte(`{}`)) {
		t.Error("expected PushLocal to report delivery for a local user")
	}
	if pusher.PushLocal("bob", []byte(`{}`)) {
		t.Error("expected PushLocal to report false for a remote user")
	}
}
