package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"

	"github.com/jackc/pgx/v5"
)

type ParticipantRepository struct {
	q querier
}

func NewParticipantRepository(q querier) *ParticipantRepository {
	return &ParticipantRepository{q: q}
}

// Upsert: joined_at остаётся от первого входа, остальные поля перезаписываются.
func (r *ParticipantRepository) Upsert(ctx context.Context, p domain.Participant) (*domain.Participant, error) {
	joined := p.JoinTime
	if joined.IsZero() {
		joined = p.LastSeen
	}
	row := r.q.QueryRow(ctx, queryUpsertParticipant,
		p.RoomID, p.UserID, p.Name, string(p.Status), joined, p.LastSeen, p.ConnID)

	return scanParticipant(row)
}

func (r *ParticipantRepository) MarkOffline(ctx context.Context, key domain.ParticipantKey, ifConn string, at time.Time) (bool, error) {
	tag, err := r.q.Exec(ctx, queryMarkOffline, key.RoomID, key.UserID, ifConn, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *ParticipantRepository) TouchHeartbeat(ctx context.Context, key domain.ParticipantKey, at time.Time) error {
	tag, err := r.q.Exec(ctx, queryTouchParticipant, key.RoomID, key.UserID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrParticipantNotFound
	}
	return nil
}

func (r *ParticipantRepository) ListByRoom(ctx context.Context, roomID string) ([]domain.Participant, error) {
	rows, err := r.q.Query(ctx, queryListParticipants, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]domain.Participant, 0, 16)
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *p)
	}
	return list, rows.Err()
}

func (r *ParticipantRepository) ByConn(ctx context.Context, connID string) (*domain.Participant, error) {
	p, err := scanParticipant(r.q.QueryRow(ctx, queryParticipantByConn, connID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrParticipantNotFound
		}
		return nil, err
	}
	return p, nil
}

// DemoteStale: переводит в offline всех, у кого last_seen старше seenBefore.
func (r *ParticipantRepository) DemoteStale(ctx context.Context, seenBefore time.Time) ([]domain.ParticipantKey, error) {
	rows, err := r.q.Query(ctx, queryDemoteStale, seenBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []domain.ParticipantKey
	for rows.Next() {
		var k domain.ParticipantKey
		if err := rows.Scan(&k.RoomID, &k.UserID); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (r *ParticipantRepository) DeleteByRoom(ctx context.Context, roomID string) (int64, error) {
	tag, err := r.q.Exec(ctx, queryDeleteRoomParticipants, roomID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanParticipant(row pgx.Row) (*domain.Participant, error) {
	var (
		p      domain.Participant
		status string
	)
	if err := row.Scan(&p.RoomID, &p.UserID, &p.Name, &status, &p.JoinTime, &p.LastSeen, &p.ConnID); err != nil {
		return nil, err
	}
	p.Status = domain.PresenceStatus(status)
	return &p, nil
}
