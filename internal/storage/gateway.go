package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"
)

// Gateway routes every call to the primary store and retries the same call on
// the fallback when the primary fails. The decision is per call: the next call
// goes to the primary again.
type Gateway struct {
	primary  Store
	fallback Store
}

var _ Store = (*Gateway)(nil)

func NewGateway(primary, fallback Store) *Gateway {
	return &Gateway{primary: primary, fallback: fallback}
}

// isDomainErr reports errors that are answers, not failures.
func isDomainErr(err error) bool {
	return errors.Is(err, domain.ErrRoomNotFound) ||
		errors.Is(err, domain.ErrRoomExists) ||
		errors.Is(err, domain.ErrParticipantNotFound)
}

func withFallback[T any](ctx context.Context, g *Gateway, op string, call func(Store) (T, error)) (T, error) {
	v, err := call(g.primary)
	if err == nil || isDomainErr(err) || ctx.Err() != nil {
		return v, err
	}
	slog.WarnContext(ctx, "storage: primary failed, using fallback",
		"op", op, "primary", g.primary.Name(), "err", err)

	return call(g.fallback)
}

func (g *Gateway) Name() string { return g.primary.Name() + "+" + g.fallback.Name() }

func (g *Gateway) Ping(ctx context.Context) error { return g.primary.Ping(ctx) }

// Room asks the fallback as well when the primary does not know the room: a
// room created during an outage lives only in memory. Such a room is copied
// back to the primary so its creator stays the same for every later join.
func (g *Gateway) Room(ctx context.Context, roomID string) (*domain.Room, error) {
	room, err := withFallback(ctx, g, "room", func(s Store) (*domain.Room, error) {
		return s.Room(ctx, roomID)
	})
	if !errors.Is(err, domain.ErrRoomNotFound) {
		return room, err
	}

	mem, memErr := g.fallback.Room(ctx, roomID)
	if memErr != nil {
		return nil, err
	}
	switch werr := g.primary.CreateRoom(ctx, *mem); {
	case werr == nil:
		slog.InfoContext(ctx, "storage: room restored to primary", "room", roomID, "primary", g.primary.Name())
	case errors.Is(werr, domain.ErrRoomExists):
		if cur, cerr := g.primary.Room(ctx, roomID); cerr == nil {
			return cur, nil
		}
	default:
		slog.WarnContext(ctx, "storage: room write-through failed", "room", roomID, "err", werr)
	}
	return mem, nil
}

func (g *Gateway) CreateRoom(ctx context.Context, room domain.Room) error {
	_, err := withFallback(ctx, g, "create_room", func(s Store) (struct{}, error) {
		return struct{}{}, s.CreateRoom(ctx, room)
	})
	return err
}

func (g *Gateway) TouchRoom(ctx context.Context, roomID string, at time.Time) error {
	_, err := withFallback(ctx, g, "touch_room", func(s Store) (struct{}, error) {
		return struct{}{}, s.TouchRoom(ctx, roomID, at)
	})
	return err
}

// PurgeRoom clears both stores: writes that fell back earlier must not survive
// the end of the meeting. The fallback is purged even when the primary fails,
// and the primary error is returned since its rows are still there.
func (g *Gateway) PurgeRoom(ctx context.Context, roomID string) (domain.PurgeResult, error) {
	res, err := g.primary.PurgeRoom(ctx, roomID)
	if err != nil {
		res = domain.PurgeResult{}
	}
	mem, memErr := g.fallback.PurgeRoom(ctx, roomID)
	res = res.Add(mem)

	if err != nil {
		return res, fmt.Errorf("purge %s: %w", g.primary.Name(), err)
	}
	return res, memErr
}

func (g *Gateway) SaveParticipant(ctx context.Context, p domain.Participant) (*domain.Participant, error) {
	return withFallback(ctx, g, "save_participant", func(s Store) (*domain.Participant, error) {
		return s.SaveParticipant(ctx, p)
	})
}

func (g *Gateway) MarkOffline(ctx context.Context, key domain.ParticipantKey, ifConn string, at time.Time) (bool, error) {
	return withFallback(ctx, g, "mark_offline", func(s Store) (bool, error) {
		return s.MarkOffline(ctx, key, ifConn, at)
	})
}

func (g *Gateway) TouchParticipant(ctx context.Context, key domain.ParticipantKey, at time.Time) error {
	_, err := withFallback(ctx, g, "touch_participant", func(s Store) (struct{}, error) {
		return struct{}{}, s.TouchParticipant(ctx, key, at)
	})
	return err
}

func (g *Gateway) Participants(ctx context.Context, roomID string) ([]domain.Participant, error) {
	return withFallback(ctx, g, "participants", func(s Store) ([]domain.Participant, error) {
		return s.Participants(ctx, roomID)
	})
}

func (g *Gateway) ParticipantByConn(ctx context.Context, connID string) (*domain.Participant, error) {
	return withFallback(ctx, g, "participant_by_conn", func(s Store) (*domain.Participant, error) {
		return s.ParticipantByConn(ctx, connID)
	})
}

// DemoteStale sweeps both stores and merges the demoted keys.
func (g *Gateway) DemoteStale(ctx context.Context, seenBefore time.Time) ([]domain.ParticipantKey, error) {
	keys, err := g.primary.DemoteStale(ctx, seenBefore)
	if err != nil {
		slog.WarnContext(ctx, "storage: primary sweep failed", "err", err)
	}
	mem, memErr := g.fallback.DemoteStale(ctx, seenBefore)
	if memErr != nil {
		return keys, memErr
	}

	return append(keys, mem...), nil
}

func (g *Gateway) SaveMessage(ctx context.Context, m domain.Message) (*domain.Message, error) {
	return withFallback(ctx, g, "save_message", func(s Store) (*domain.Message, error) {
		return s.SaveMessage(ctx, m)
	})
}

func (g *Gateway) Messages(ctx context.Context, q domain.MessageQuery) ([]domain.Message, error) {
	return withFallback(ctx, g, "messages", func(s Store) ([]domain.Message, error) {
		return s.Messages(ctx, q)
	})
}

func (g *Gateway) DeleteMessagesBefore(ctx context.Context, before time.Time) (int64, error) {
	n, err := g.primary.DeleteMessagesBefore(ctx, before)
	if err != nil {
		slog.WarnContext(ctx, "storage: primary retention purge failed", "err", err)
	}
	m, memErr := g.fallback.DeleteMessagesBefore(ctx, before)

	return n + m, memErr
}
