package meeting

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"

	"github.com/cwrk-planet/meeting-service/internal/asr"
	"github.com/cwrk-planet/meeting-service/internal/service"
	"github.com/cwrk-planet/meeting-service/internal/storage/memory"
)

type envelope struct {
	event   string
	payload any
}

// fakeTransport is an in-process group/broadcast fabric.
type fakeTransport struct {
	mu     sync.Mutex
	groups map[string]map[string]bool
	inbox  map[string][]envelope
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{groups: map[string]map[string]bool{}, inbox: map[string][]envelope{}}
}

func (f *fakeTransport) Join(connID, group string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.groups[group] == nil {
		f.groups[group] = map[string]bool{}
	}
	f.groups[group][connID] = true
}

func (f *fakeTransport) Leave(connID, group string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.groups[group], connID)
}

func (f *fakeTransport) LeaveAll(connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.groups {
		delete(g, connID)
	}
}

func (f *fakeTransport) Send(connID, event string, payload any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbox[connID] = append(f.inbox[connID], envelope{event, payload})
	return true
}

func (f *fakeTransport) Broadcast(group, event string, payload any) {
	f.BroadcastExcept(group, "", event, payload)
}

func (f *fakeTransport) BroadcastExcept(group, except, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.groups[group] {
		if c != except {
			f.inbox[c] = append(f.inbox[c], envelope{event, payload})
		}
	}
}

func (f *fakeTransport) Members(group string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.groups[group]))
	for c := range f.groups[group] {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func (f *fakeTransport) events(connID, event string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, e := range f.inbox[connID] {
		if e.event == event {
			out = append(out, e.payload)
		}
	}
	return out
}

func (f *fakeTransport) last(t *testing.T, connID, event string) any {
	t.Helper()
	got := f.events(connID, event)
	if len(got) == 0 {
		t.Fatalf("%s: no %q event", connID, event)
	}
	return got[len(got)-1]
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbox = map[string][]envelope{}
}

type audioCall struct {
	room  string
	chunk []byte
	final bool
}

type fakeTranscriber struct {
	mu      sync.Mutex
	ensured []string
	audio   []audioCall
	stopped []string
	panics  bool
}

func (f *fakeTranscriber) Ensure(roomID string) asr.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panics {
		panic("upstream exploded")
	}
	f.ensured = append(f.ensured, roomID)
	return asr.StateConnecting
}

func (f *fakeTranscriber) SubmitAudio(roomID string, chunk []byte, final bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, audioCall{roomID, chunk, final})
	return true
}

func (f *fakeTranscriber) Stop(roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, roomID)
}

type harness struct {
	coord   *Coordinator
	out     *fakeTransport
	asr     *fakeTranscriber
	members *service.MemberService
	chat    *service.ChatService
}

func newHarness() *harness {
	store := memory.New()
	h := &harness{
		out:     newFakeTransport(),
		asr:     &fakeTranscriber{},
		members: service.NewMemberService(store),
		chat:    service.NewChatService(store),
	}
	h.coord = New(Deps{
		Rooms:       service.NewRoomService(store),
		Members:     h.members,
		Chat:        h.chat,
		Transcriber: h.asr,
		Transport:   h.out,
	})
	return h
}

// send dispatches an event the way the websocket server does.
func (h *harness) send(connID, event string, payload any) {
	raw, _ := json.Marshal(payload)
	h.coord.Handle(context.Background(), connID, event, raw)
}

func (h *harness) join(connID, room, user, name string) {
	h.send(connID, EventJoinRoom, JoinRequest{RoomID: room, UserID: user, Username: name})
}
