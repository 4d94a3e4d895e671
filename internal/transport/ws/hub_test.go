package ws

import (
	"sync"
	"testing"
)

type fakeConn struct {
	id   string
	mu   sync.Mutex
	got  []Message
	full bool
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(msg Message) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return false
	}
	f.got = append(f.got, msg)
	return true
}

func (f *fakeConn) Close() error { return nil }

func (f *fakeConn) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.got))
	for _, m := range f.got {
		out = append(out, m.Type)
	}
	return out
}

func TestHub_GroupsAndBroadcast(t *testing.T) {
	h := NewHub()
	a, b, c := &fakeConn{id: "a"}, &fakeConn{id: "b"}, &fakeConn{id: "c"}
	h.Add(a)
	h.Add(b)
	h.Add(c)

	h.Join("a", "R1")
	h.Join("b", "R1")
	h.Join("c", "R2")

	h.Broadcast("R1", "newMessage", "hi")
	h.BroadcastExcept("R1", "a", "userJoined", "b")

	if got := a.types(); len(got) != 1 || got[0] != "newMessage" {
		t.Fatalf("a got %v", got)
	}
	if got := b.types(); len(got) != 2 {
		t.Fatalf("b got %v", got)
	}
	if got := c.types(); len(got) != 0 {
		t.Fatalf("c got %v", got)
	}

	if !h.Send("c", "roomData", nil) || h.Send("zzz", "roomData", nil) {
		t.Fatalf("targeted send should reach only live connections")
	}
}

func TestHub_LeaveAllAndRemove(t *testing.T) {
	h := NewHub()
	a := &fakeConn{id: "a"}
	h.Add(a)
	h.Join("a", "R1")
	h.Join("a", "R2")

	h.LeaveAll("a")
	if len(h.Members("R1")) != 0 || len(h.Members("R2")) != 0 {
		t.Fatalf("groups not left")
	}
	if !h.Send("a", "x", nil) {
		t.Fatalf("identity delivery lost after LeaveAll")
	}

	h.Join("a", "R3")
	h.Remove("a")
	if len(h.Members("R3")) != 0 || h.Len() != 0 {
		t.Fatalf("connection not removed")
	}

	// join after removal is ignored
	h.Join("a", "R4")
	if len(h.Members("R4")) != 0 {
		t.Fatalf("removed connection rejoined")
	}
}

func TestHub_SaturatedConnectionDoesNotBlockRoom(t *testing.T) {
	h := NewHub()
	slow, ok := &fakeConn{id: "slow", full: true}, &fakeConn{id: "ok"}
	h.Add(slow)
	h.Add(ok)
	h.Join("slow", "R")
	h.Join("ok", "R")

	h.Broadcast("R", "newMessage", 1)
	if len(ok.types()) != 1 {
		t.Fatalf("healthy member missed the event")
	}
}
