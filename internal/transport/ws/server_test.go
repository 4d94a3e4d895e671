package ws_test

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/asr"
	"github.com/cwrk-planet/meeting-service/internal/meeting"
	"github.com/cwrk-planet/meeting-service/internal/ratelimit"
	"github.com/cwrk-planet/meeting-service/internal/service"
	"github.com/cwrk-planet/meeting-service/internal/storage/memory"
	"github.com/cwrk-planet/meeting-service/internal/transport/origin"
	"github.com/cwrk-planet/meeting-service/internal/transport/ws"

	"github.com/gorilla/websocket"
)

// countingTranscriber accepts audio and counts the chunks.
type countingTranscriber struct{ chunks atomic.Int64 }

func (*countingTranscriber) Ensure(string) asr.State { return asr.StateReady }
func (t *countingTranscriber) SubmitAudio(string, []byte, bool) bool {
	t.chunks.Add(1)
	return true
}
func (*countingTranscriber) Stop(string) {}

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func newTestServer(t *testing.T, opts ws.Options) (*httptest.Server, *ws.Hub) {
	t.Helper()
	ts, hub, _ := newTestServerWithASR(t, opts)
	return ts, hub
}

func newTestServerWithASR(t *testing.T, opts ws.Options) (*httptest.Server, *ws.Hub, *countingTranscriber) {
	t.Helper()
	tr := &countingTranscriber{}
	store := memory.New()
	hub := ws.NewHub()
	members := service.NewMemberService(store)
	coord := meeting.New(meeting.Deps{
		Rooms:       service.NewRoomService(store),
		Members:     members,
		Chat:        service.NewChatService(store),
		Transcriber: tr,
		Transport:   hub,
	})
	srv := ws.NewServer(hub, coord, opts)
	ts := httptest.NewServer(http.HandlerFunc(srv.HandleWS))
	t.Cleanup(ts.Close)
	return ts, hub, tr
}

func dial(t *testing.T, ts *httptest.Server, hdr http.Header) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(ts.URL, "http")
	c, _, err := websocket.DefaultDialer.Dial(u, hdr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func send(t *testing.T, c *websocket.Conn, typ string, payload any) {
	t.Helper()
	if err := c.WriteJSON(map[string]any{"type": typ, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

// await reads frames until one of type typ arrives.
func await(t *testing.T, c *websocket.Conn, typ string) frame {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var f frame
		if err := c.ReadJSON(&f); err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		if f.Type == typ {
			return f
		}
	}
}

func TestServer_JoinAndChat(t *testing.T) {
	ts, _ := newTestServer(t, ws.Options{})
	a := dial(t, ts, nil)
	b := dial(t, ts, nil)

	await(t, a, ws.TypeConnected)
	await(t, b, ws.TypeConnected)

	send(t, a, meeting.EventJoinRoom, map[string]string{"roomId": "R1", "userId": "A", "username": "Alice"})
	var rd meeting.RoomData
	if err := json.Unmarshal(await(t, a, meeting.EventRoomData).Payload, &rd); err != nil {
		t.Fatalf("decode roomData: %v", err)
	}
	if !rd.IsCreator {
		t.Fatalf("first joiner must be creator")
	}

	send(t, b, meeting.EventJoinRoom, map[string]string{"roomId": "R1", "userId": "B", "username": "Bob"})
	await(t, b, meeting.EventRoomData)
	await(t, a, meeting.EventUserJoined)

	send(t, b, meeting.EventSendMessage, map[string]string{"roomId": "R1", "text": "hi", "author": "Bob", "userId": "B"})
	var msg struct {
		Text string `json:"text"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(await(t, a, meeting.EventNewMessage).Payload, &msg); err != nil {
		t.Fatalf("decode newMessage: %v", err)
	}
	if msg.Text != "hi" || msg.ID == "" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestServer_DisconnectBroadcastsLeave(t *testing.T) {
	ts, hub := newTestServer(t, ws.Options{})
	a := dial(t, ts, nil)
	b := dial(t, ts, nil)

	send(t, a, meeting.EventJoinRoom, map[string]string{"roomId": "R1", "userId": "A", "username": "Alice"})
	await(t, a, meeting.EventRoomData)
	send(t, b, meeting.EventJoinRoom, map[string]string{"roomId": "R1", "userId": "B", "username": "Bob"})
	await(t, b, meeting.EventRoomData)

	_ = b.Close()

	var left meeting.UserRef
	if err := json.Unmarshal(await(t, a, meeting.EventUserLeft).Payload, &left); err != nil {
		t.Fatalf("decode userLeft: %v", err)
	}
	if left.UserID != "B" {
		t.Fatalf("unexpected userLeft %+v", left)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.Len() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("closed connection still registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServer_RateLimitDisconnects(t *testing.T) {
	ts, _ := newTestServer(t, ws.Options{Limiter: ratelimit.New(2, time.Hour)})
	c := dial(t, ts, nil)
	await(t, c, ws.TypeConnected)

	for i := 0; i < 3; i++ {
		send(t, c, meeting.EventTyping, map[string]any{"roomId": "R1", "userId": "A"})
	}

	var p ws.ErrorPayload
	if err := json.Unmarshal(await(t, c, ws.TypeError).Payload, &p); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if !strings.Contains(p.Message, "too many") {
		t.Fatalf("unexpected error %q", p.Message)
	}

	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}
}

func TestServer_AudioStreamBypassesEventLimit(t *testing.T) {
	ts, _, tr := newTestServerWithASR(t, ws.Options{
		Limiter:       ratelimit.New(5, time.Hour),
		StreamEvents:  meeting.StreamEvents,
		StreamLimiter: ratelimit.New(1000, time.Minute),
	})
	c := dial(t, ts, nil)
	await(t, c, ws.TypeConnected)

	send(t, c, meeting.EventJoinRoom, map[string]string{"roomId": "R1", "userId": "A", "username": "Alice"})
	await(t, c, meeting.EventRoomData)

	chunk := base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4})
	const n = 150
	for i := 0; i < n; i++ {
		send(t, c, meeting.EventAudioChunk, map[string]any{"roomId": "R1", "chunkBase64": chunk})
	}

	// the connection is still open and chat still works
	send(t, c, meeting.EventSendMessage, map[string]string{"roomId": "R1", "text": "still here", "author": "Alice", "userId": "A"})
	await(t, c, meeting.EventNewMessage)

	if got := tr.chunks.Load(); got != n {
		t.Fatalf("expected %d chunks delivered, got %d", n, got)
	}
}

func TestServer_StreamLimitDisconnects(t *testing.T) {
	ts, _ := newTestServer(t, ws.Options{
		Limiter:       ratelimit.New(100, time.Hour),
		StreamEvents:  meeting.StreamEvents,
		StreamLimiter: ratelimit.New(3, time.Hour),
	})
	c := dial(t, ts, nil)
	await(t, c, ws.TypeConnected)

	chunk := base64.StdEncoding.EncodeToString([]byte{1})
	for i := 0; i < 4; i++ {
		send(t, c, meeting.EventAudioChunk, map[string]any{"roomId": "R1", "chunkBase64": chunk})
	}

	var p ws.ErrorPayload
	if err := json.Unmarshal(await(t, c, ws.TypeError).Payload, &p); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if !strings.Contains(p.Message, "too many") {
		t.Fatalf("unexpected error %q", p.Message)
	}
}

func TestServer_RejectsForeignOrigin(t *testing.T) {
	ts, _ := newTestServer(t, ws.Options{Origins: origin.NewMatcher([]string{"https://app.example.com"})})
	u := "ws" + strings.TrimPrefix(ts.URL, "http")

	hdr := http.Header{"Origin": []string{"https://evil.example.org"}}
	_, resp, err := websocket.DefaultDialer.Dial(u, hdr)
	if err == nil {
		t.Fatalf("foreign origin accepted")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}

	dial(t, ts, http.Header{"Origin": []string{"https://app.example.com"}})
}

func TestServer_MalformedFrame(t *testing.T) {
	ts, _ := newTestServer(t, ws.Options{})
	c := dial(t, ts, nil)
	await(t, c, ws.TypeConnected)

	if err := c.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	await(t, c, ws.TypeError)

	// the connection stays usable
	send(t, c, meeting.EventJoinRoom, map[string]string{"roomId": "R1", "userId": "A", "username": "Alice"})
	await(t, c, meeting.EventRoomData)
}
