// Package postgres is the durable Store backed by PostgreSQL.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"
	"github.com/cwrk-planet/meeting-service/internal/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool         *pgxpool.Pool
	rooms        *RoomRepository
	participants *ParticipantRepository
	chat         *ChatRepository
}

var _ storage.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:         pool,
		rooms:        NewRoomRepository(pool),
		participants: NewParticipantRepository(pool),
		chat:         NewChatRepository(pool),
	}
}

func (s *Store) Name() string { return "postgres" }

func (s *Store) Ping(ctx context.Context) error { return Ping(ctx, s.pool) }

func (s *Store) Room(ctx context.Context, roomID string) (*domain.Room, error) {
	return s.rooms.Get(ctx, roomID)
}

func (s *Store) CreateRoom(ctx context.Context, room domain.Room) error {
	return s.rooms.Create(ctx, room)
}

func (s *Store) TouchRoom(ctx context.Context, roomID string, at time.Time) error {
	return s.rooms.Touch(ctx, roomID, at)
}

// PurgeRoom: сообщения, участники и комната удаляются в одной транзакции.
func (s *Store) PurgeRoom(ctx context.Context, roomID string) (domain.PurgeResult, error) {
	var res domain.PurgeResult

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		msgs, err := NewChatRepository(tx).DeleteByRoom(ctx, roomID)
		if err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		parts, err := NewParticipantRepository(tx).DeleteByRoom(ctx, roomID)
		if err != nil {
			return fmt.Errorf("delete participants: %w", err)
		}
		if err := NewRoomRepository(tx).Delete(ctx, roomID); err != nil {
			return fmt.Errorf("delete room: %w", err)
		}
		res = domain.PurgeResult{DeletedMessages: msgs, DeletedParticipants: parts}
		return nil
	})
	if err != nil {
		return domain.PurgeResult{}, err
	}
	return res, nil
}

func (s *Store) SaveParticipant(ctx context.Context, p domain.Participant) (*domain.Participant, error) {
	return s.participants.Upsert(ctx, p)
}

func (s *Store) MarkOffline(ctx context.Context, key domain.ParticipantKey, ifConn string, at time.Time) (bool, error) {
	return s.participants.MarkOffline(ctx, key, ifConn, at)
}

func (s *Store) TouchParticipant(ctx context.Context, key domain.ParticipantKey, at time.Time) error {
	return s.participants.TouchHeartbeat(ctx, key, at)
}

func (s *Store) Participants(ctx context.Context, roomID string) ([]domain.Participant, error) {
	return s.participants.ListByRoom(ctx, roomID)
}

func (s *Store) ParticipantByConn(ctx context.Context, connID string) (*domain.Participant, error) {
	return s.participants.ByConn(ctx, connID)
}

func (s *Store) DemoteStale(ctx context.Context, seenBefore time.Time) ([]domain.ParticipantKey, error) {
	return s.participants.DemoteStale(ctx, seenBefore)
}

func (s *Store) SaveMessage(ctx context.Context, m domain.Message) (*domain.Message, error) {
	return s.chat.Save(ctx, m)
}

func (s *Store) Messages(ctx context.Context, q domain.MessageQuery) ([]domain.Message, error) {
	return s.chat.Recent(ctx, q)
}

func (s *Store) DeleteMessagesBefore(ctx context.Context, before time.Time) (int64, error) {
	return s.chat.DeleteBefore(ctx, before)
}
