package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"
	"github.com/cwrk-planet/meeting-service/internal/storage"
)

// RoomService is the room registry: lazy creation, creator identity and
// creator-only meeting end.
type RoomService struct {
	store storage.Store
	now   func() time.Time
}

func NewRoomService(store storage.Store) *RoomService {
	return &RoomService{store: store, now: time.Now}
}

func (s *RoomService) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// ResolveOrCreate возвращает комнату и признак создателя; неизвестная комната
// создаётся, и кандидат становится её создателем.
func (s *RoomService) ResolveOrCreate(ctx context.Context, roomID, userID, name string) (*domain.Room, bool, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" || userID == "" {
		return nil, false, domain.ErrInvalidRequest
	}

	room, err := s.store.Room(ctx, roomID)
	switch {
	case err == nil:
		now := s.now().UTC()
		if err := s.store.TouchRoom(ctx, roomID, now); err != nil {
			slog.WarnContext(ctx, "room: touch failed", "room", roomID, "err", err)
		} else {
			room.LastActivity = now
		}
		return room, room.CreatorID == userID, nil
	case !errors.Is(err, domain.ErrRoomNotFound):
		return nil, false, fmt.Errorf("get room: %w", err)
	}

	now := s.now().UTC()
	fresh := domain.Room{
		ID:           roomID,
		CreatorID:    userID,
		CreatorName:  name,
		CreatedAt:    now,
		LastActivity: now,
		Settings:     domain.DefaultRoomSettings(),
	}
	if err := s.store.CreateRoom(ctx, fresh); err != nil {
		if !errors.Is(err, domain.ErrRoomExists) {
			return nil, false, fmt.Errorf("create room: %w", err)
		}
		// кто-то успел создать раньше
		existing, err := s.store.Room(ctx, roomID)
		if err != nil {
			return nil, false, fmt.Errorf("get room: %w", err)
		}
		return existing, existing.CreatorID == userID, nil
	}

	slog.InfoContext(ctx, "room: created", "room", roomID, "creator", userID)
	return &fresh, true, nil
}

// Get возвращает комнату по ID.
func (s *RoomService) Get(ctx context.Context, roomID string) (*domain.Room, error) {
	if strings.TrimSpace(roomID) == "" {
		return nil, domain.ErrInvalidRequest
	}
	return s.store.Room(ctx, roomID)
}

// EndMeeting purges the room with its messages and participants. Only the
// creator may end a meeting; an unknown room is treated the same way.
func (s *RoomService) EndMeeting(ctx context.Context, roomID, requesterID string) (domain.PurgeResult, error) {
	if roomID == "" || requesterID == "" {
		return domain.PurgeResult{}, domain.ErrInvalidRequest
	}

	room, err := s.store.Room(ctx, roomID)
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			return domain.PurgeResult{}, domain.ErrForbidden
		}
		return domain.PurgeResult{}, fmt.Errorf("get room: %w", err)
	}
	if room.CreatorID != requesterID {
		return domain.PurgeResult{}, domain.ErrForbidden
	}

	res, err := s.store.PurgeRoom(ctx, roomID)
	if err != nil {
		return domain.PurgeResult{}, fmt.Errorf("purge room: %w", err)
	}

	slog.InfoContext(ctx, "room: meeting ended",
		"room", roomID,
		"deleted_messages", res.DeletedMessages,
		"deleted_participants", res.DeletedParticipants,
	)
	return res, nil
}
