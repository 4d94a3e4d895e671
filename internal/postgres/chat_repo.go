package postgres

import (
	"context"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"
)

type ChatRepository struct {
	q querier
}

func NewChatRepository(q querier) *ChatRepository {
	return &ChatRepository{q: q}
}

func (r *ChatRepository) Save(ctx context.Context, m domain.Message) (*domain.Message, error) {
	_, err := r.q.Exec(ctx, querySaveMessage,
		m.ID,
		m.RoomID,
		m.Type,
		m.Text,
		m.Author,
		m.UserID,
		m.Time,
		m.Timestamp,
		m.File,
		m.IsAIQuestion,
		m.OriginUserID,
	)
	if err != nil {
		return nil, mapPgError(err)
	}
	return &m, nil
}

// Recent возвращает последние сообщения комнаты (created_at,id DESC) и
// разворачивает их в хронологический порядок.
func (r *ChatRepository) Recent(ctx context.Context, q domain.MessageQuery) ([]domain.Message, error) {
	var before, beforeID any
	if !q.Before.IsZero() {
		before = q.Before
		beforeID = q.BeforeID
	}

	rows, err := r.q.Query(ctx, queryRecentMessages, q.RoomID, before, beforeID, q.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Message, 0, q.Limit)
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(
			&m.ID,
			&m.RoomID,
			&m.Type,
			&m.Text,
			&m.Author,
			&m.UserID,
			&m.Time,
			&m.Timestamp,
			&m.File,
			&m.IsAIQuestion,
			&m.OriginUserID,
		); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *ChatRepository) DeleteByRoom(ctx context.Context, roomID string) (int64, error) {
	tag, err := r.q.Exec(ctx, queryDeleteRoomMessages, roomID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *ChatRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.q.Exec(ctx, queryDeleteMessagesBefore, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
