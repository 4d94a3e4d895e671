package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"
	"github.com/cwrk-planet/meeting-service/internal/service"
	"github.com/cwrk-planet/meeting-service/internal/storage/memory"
	"github.com/cwrk-planet/meeting-service/internal/transport/origin"
)

type probe struct {
	name string
	err  error
}

func (p probe) Name() string               { return p.name }
func (p probe) Ping(context.Context) error { return p.err }

type fixture struct {
	router  http.Handler
	rooms   *service.RoomService
	members *service.MemberService
	chat    *service.ChatService
}

func newFixture(t *testing.T, p StoreProbe) *fixture {
	t.Helper()
	store := memory.New()
	f := &fixture{
		rooms:   service.NewRoomService(store),
		members: service.NewMemberService(store),
		chat:    service.NewChatService(store),
	}
	if p == nil {
		p = store
	}
	f.router = NewRouter(RouterDeps{
		Handler: NewHandler(f.rooms, f.members, f.chat, p),
		Origins: origin.NewMatcher([]string{"http://localhost:3000"}),
	})
	return f
}

func (f *fixture) get(t *testing.T, path string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil && rec.Code < 300 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s: %v (%s)", path, err, rec.Body.String())
		}
	}
	return rec.Code
}

func TestHealth_DatabaseState(t *testing.T) {
	cases := []struct {
		probe StoreProbe
		want  string
	}{
		{nil, DBMemory},
		{probe{name: "postgres+memory"}, DBConnected},
		{probe{name: "postgres+memory", err: errors.New("down")}, DBDisconnected},
	}
	for i, c := range cases {
		f := newFixture(t, c.probe)
		var resp HealthResponse
		if code := f.get(t, "/api/health", &resp); code != http.StatusOK {
			t.Fatalf("case %d: status %d", i, code)
		}
		if resp.Database != c.want || resp.Status != "ok" || resp.Timestamp.IsZero() {
			t.Fatalf("case %d: unexpected %+v", i, resp)
		}
	}
}

func TestGetRoom(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if _, _, err := f.rooms.ResolveOrCreate(ctx, "R1", "A", "Alice"); err != nil {
		t.Fatalf("create: %v", err)
	}

	var resp RoomResponse
	if code := f.get(t, "/api/rooms/R1", &resp); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if resp.CreatorID != "A" || resp.Settings.MaxParticipants != domain.DefaultMaxParticipants {
		t.Fatalf("unexpected room %+v", resp)
	}

	if code := f.get(t, "/api/rooms/nope", nil); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
}

func TestGetParticipants(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, _ = f.members.Upsert(ctx, "R1", "A", "Alice", "c1")
	_, _ = f.members.Upsert(ctx, "R1", "B", "Bob", "c2")

	var resp ParticipantsResponse
	if code := f.get(t, "/api/rooms/R1/participants", &resp); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if len(resp.Participants) != 2 || resp.Participants[0].UserID != "A" {
		t.Fatalf("unexpected participants %+v", resp.Participants)
	}

	resp = ParticipantsResponse{}
	f.get(t, "/api/rooms/empty/participants", &resp)
	if resp.Participants == nil || len(resp.Participants) != 0 {
		t.Fatalf("empty room should return an empty list")
	}
}

func TestGetMessages_Paging(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		if _, err := f.chat.Append(ctx, domain.Message{
			RoomID: "R1", Text: string(rune('a' + i)), Author: "A", UserID: "A", Timestamp: ts,
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	var page MessagesResponse
	if code := f.get(t, "/api/rooms/R1/messages?limit=2", &page); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if len(page.Messages) != 2 || page.Messages[0].Text != "d" || page.Messages[1].Text != "e" || page.NextCursor == "" {
		t.Fatalf("unexpected first page %+v", page)
	}

	var older MessagesResponse
	f.get(t, "/api/rooms/R1/messages?limit=2&before="+page.NextCursor, &older)
	if len(older.Messages) != 2 || older.Messages[0].Text != "b" || older.Messages[1].Text != "c" {
		t.Fatalf("unexpected second page %+v", older)
	}

	if code := f.get(t, "/api/rooms/R1/messages?before=!!", nil); code != http.StatusBadRequest {
		t.Fatalf("bad cursor: expected 400, got %d", code)
	}
	if code := f.get(t, "/api/rooms/R1/messages?limit=zero", nil); code != http.StatusBadRequest {
		t.Fatalf("bad limit: expected 400, got %d", code)
	}
}

func TestRouter_CORS(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("allowed origin not echoed: %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://evil.test")
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("foreign origin allowed: %q", got)
	}
}

func TestRouter_Liveness(t *testing.T) {
	f := newFixture(t, nil)
	if code := f.get(t, "/healthz", nil); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrInvalidRequest, http.StatusBadRequest},
		{service.ErrInvalidCursor, http.StatusBadRequest},
		{domain.ErrForbidden, http.StatusForbidden},
		{domain.ErrRoomNotFound, http.StatusNotFound},
		{domain.ErrRoomFull, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for i, c := range cases {
		if got := statusFor(c.err); got != c.want {
			t.Fatalf("case %d: got %d want %d", i, got, c.want)
		}
	}
}
