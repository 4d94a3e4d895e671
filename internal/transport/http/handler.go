package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"
	"github.com/cwrk-planet/meeting-service/internal/service"

	"github.com/go-chi/chi/v5"
)

// StoreProbe reports persistence health.
type StoreProbe interface {
	Name() string
	Ping(ctx context.Context) error
}

const (
	DBConnected    = "connected"
	DBDisconnected = "disconnected"
	DBMemory       = "memory"
)

type Handler struct {
	roomSvc   *service.RoomService
	memberSvc *service.MemberService
	chatSvc   *service.ChatService
	store     StoreProbe
	now       func() time.Time
}

func NewHandler(room *service.RoomService, member *service.MemberService, chat *service.ChatService, store StoreProbe) *Handler {
	return &Handler{
		roomSvc:   room,
		memberSvc: member,
		chatSvc:   chat,
		store:     store,
		now:       time.Now,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write json response failed", slog.Any("err", err))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "handler."+op, slog.Any("err", err))
	}
	writeJSON(w, status, ErrorResponse{Error: messageFor(status, err)})
}

// DBState maps the store to the health report value.
func (h *Handler) DBState(ctx context.Context) string {
	if h.store == nil || h.store.Name() == DBMemory {
		return DBMemory
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		return DBDisconnected
	}
	return DBConnected
}

// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: h.now().UTC(),
		Database:  h.DBState(r.Context()),
	})
}

// GET /api/rooms/{id}
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.roomSvc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "GetRoom", err)
		return
	}

	writeJSON(w, http.StatusOK, RoomResponse{
		ID:           room.ID,
		CreatorID:    room.CreatorID,
		CreatorName:  room.CreatorName,
		CreatedAt:    room.CreatedAt,
		LastActivity: room.LastActivity,
		Settings:     room.Settings,
	})
}

// GET /api/rooms/{id}/participants
func (h *Handler) GetParticipants(w http.ResponseWriter, r *http.Request) {
	items, err := h.memberSvc.List(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "GetParticipants", err)
		return
	}
	if items == nil {
		items = []domain.Participant{}
	}

	writeJSON(w, http.StatusOK, ParticipantsResponse{Participants: items})
}

// GET /api/rooms/{id}/messages?limit=&before=
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	limit := service.DefaultHistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}

	items, next, err := h.chatSvc.History(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("before"), limit)
	if err != nil {
		writeError(w, r, "GetMessages", err)
		return
	}
	if items == nil {
		items = []domain.Message{}
	}

	writeJSON(w, http.StatusOK, MessagesResponse{Messages: items, NextCursor: next})
}
