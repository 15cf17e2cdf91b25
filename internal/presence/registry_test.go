package presence

import "testing"

// fakeConn is a minimal Conn implementation for registry tests.
type fakeConn struct {
	closed bool
	writes [][]byte
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.writes = append(c.writes, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	conn := &fakeConn{}

	if displaced := r.Register("user-a", conn); displaced != nil {
		t.Fatalf("expected no displaced connection, got %v", displaced)
	}
	if got := r.Lookup("user-a"); got != conn {
		t.Fatalf("expected registered connection, got %v", got)
	}
	if got := r.Lookup("user-b"); got != nil {
		t.Fatalf("expected nil for unknown user, got %v", got)
	}
	if r.Count() != 1 {
		t.Errorf("expected count 1, got %d", r.Count())
	}
}

func TestRegistry_LastConnectWins(t *testing.T) {
	r := NewRegistry()
	first := &fakeConn{}
	second := &fakeConn{}

	r.Register("user-a", first)
	displaced := r.Register("user-a", second)

	if displaced != Conn(first) {
		t.Fatalf("expected first connection to be displaced, got %v", displaced)
	}
	if got := r.Lookup("user-a"); got != Conn(second) {
		t.Fatalf("expected second connection to be registered, got %v", got)
	}
	if r.Count() != 1 {
		t.Errorf("expected count 1 after reconnect, got %d", r.Count())
	}
}

func TestRegistry_RegisterSameConnTwice(t *testing.T) {
	r := NewRegistry()
	conn := &fakeConn{}

	r.Register("user-a", conn)
	if displaced := r.Register("user-a", conn); displaced != nil {
		t.Fatalf("re-registering the same connection should not displace it, got %v", displaced)
	}
}

func TestRegistry_UnregisterIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Register("user-a", &fakeConn{})

	r.Unregister("user-a")
	r.Unregister("user-a") // second call is a no-op

	if got := r.Lookup("user-a"); got != nil {
		t.Fatalf("expected nil after unregister, got %v", got)
	}
	if r.Count() != 0 {
		t.Errorf("expected count 0, got %d", r.Count())
	}
}

func TestRegistry_UnregisterConnGuardsReconnect(t *testing.T) {
	r := NewRegistry()
	stale := &fakeConn{}
	fresh := &fakeConn{}

	r.Register("user-a", stale)
	r.Register("user-a", fresh)

	// The stale connection's cleanup must not tear down the fresh one.
	if r.UnregisterConn("user-a", stale) {
		t.Fatal("expected UnregisterConn to refuse removal of a displaced connection")
	}
	if got := r.Lookup("user-a"); got != Conn(fresh) {
		t.Fatalf("expected fresh connection to survive, got %v", got)
	}

	if !r.UnregisterConn("user-a", fresh) {
		t.Fatal("expected UnregisterConn to remove the current connection")
	}
	if got := r.Lookup("user-a"); got != nil {
		t.Fatalf("expected nil after removal, got %v", got)
	}
}
