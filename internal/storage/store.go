// Package storage defines the persistence gateway used by the room services.
package storage

import (
	"context"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"
)

// Store is implemented by the durable PostgreSQL store and the in-memory store.
// Implementations must be safe for concurrent use.
type Store interface {
	// Rooms
	Room(ctx context.Context, roomID string) (*domain.Room, error)
	CreateRoom(ctx context.Context, room domain.Room) error
	TouchRoom(ctx context.Context, roomID string, at time.Time) error
	// PurgeRoom removes the room with all its messages and participants at once.
	PurgeRoom(ctx context.Context, roomID string) (domain.PurgeResult, error)

	// Participants
	SaveParticipant(ctx context.Context, p domain.Participant) (*domain.Participant, error)
	// MarkOffline clears the binding; when ifConn is set it only applies while
	// the participant is still bound to that connection.
	MarkOffline(ctx context.Context, key domain.ParticipantKey, ifConn string, at time.Time) (bool, error)
	TouchParticipant(ctx context.Context, key domain.ParticipantKey, at time.Time) error
	Participants(ctx context.Context, roomID string) ([]domain.Participant, error)
	ParticipantByConn(ctx context.Context, connID string) (*domain.Participant, error)
	DemoteStale(ctx context.Context, seenBefore time.Time) ([]domain.ParticipantKey, error)

	// Messages
	SaveMessage(ctx context.Context, m domain.Message) (*domain.Message, error)
	// Messages returns oldest -> newest.
	Messages(ctx context.Context, q domain.MessageQuery) ([]domain.Message, error)
	DeleteMessagesBefore(ctx context.Context, before time.Time) (int64, error)

	Ping(ctx context.Context) error
	Name() string
}
