package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"

	"github.com/jackc/pgx/v5"
)

type RoomRepository struct {
	q querier
}

func NewRoomRepository(q querier) *RoomRepository {
	return &RoomRepository{q: q}
}

func (r *RoomRepository) Create(ctx context.Context, room domain.Room) error {
	_, err := r.q.Exec(ctx, queryCreateRoom,
		room.ID,
		room.CreatorID,
		room.CreatorName,
		room.CreatedAt,
		room.LastActivity,
		room.Settings.MaxParticipants,
		room.Settings.AllowFileUpload,
		room.Settings.AIEnabled,
	)
	if err != nil {
		if errors.Is(mapPgError(err), errConflict) {
			return domain.ErrRoomExists
		}
		return err
	}
	return nil
}

func (r *RoomRepository) Get(ctx context.Context, id string) (*domain.Room, error) {
	var rm domain.Room
	err := r.q.QueryRow(ctx, queryGetRoom, id).Scan(
		&rm.ID,
		&rm.CreatorID,
		&rm.CreatorName,
		&rm.CreatedAt,
		&rm.LastActivity,
		&rm.Settings.MaxParticipants,
		&rm.Settings.AllowFileUpload,
		&rm.Settings.AIEnabled,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRoomNotFound
		}
		return nil, err
	}
	return &rm, nil
}

func (r *RoomRepository) Touch(ctx context.Context, id string, at time.Time) error {
	tag, err := r.q.Exec(ctx, queryTouchRoom, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}

func (r *RoomRepository) Delete(ctx context.Context, id string) error {
	_, err := r.q.Exec(ctx, queryDeleteRoom, id)
	return err
}
