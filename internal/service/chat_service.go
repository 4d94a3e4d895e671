package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cwrk-planet/meeting-service/internal/domain"
	"github.com/cwrk-planet/meeting-service/internal/storage"

	"github.com/google/uuid"
)

const (
	MaxMessageRunes = 4000

	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200

	// DefaultRetention: сообщения старше удаляются при очистке.
	DefaultRetention = 30 * 24 * time.Hour
)

// ChatService is the message log.
type ChatService struct {
	store     storage.Store
	retention time.Duration
	now       func() time.Time
}

func NewChatService(store storage.Store) *ChatService {
	return &ChatService{store: store, retention: DefaultRetention, now: time.Now}
}

func (s *ChatService) SetRetention(d time.Duration) {
	if d > 0 {
		s.retention = d
	}
}

func (s *ChatService) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Append assigns id, kind, timestamp and display time when absent and
// persists the message.
func (s *ChatService) Append(ctx context.Context, m domain.Message) (*domain.Message, error) {
	m.Text = strings.TrimSpace(m.Text)
	if m.RoomID == "" || (m.Text == "" && m.File == nil) {
		return nil, domain.ErrInvalidRequest
	}
	if utf8.RuneCountInString(m.Text) > MaxMessageRunes {
		return nil, fmt.Errorf("%w: message too long", domain.ErrInvalidRequest)
	}

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Type == "" {
		m.Type = domain.MessageTypeUser
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now().UTC().Truncate(time.Millisecond)
	}
	if m.Time == "" {
		m.Time = m.Timestamp.Local().Format("15:04")
	}

	saved, err := s.store.SaveMessage(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}
	return saved, nil
}

// Recent returns at most limit newest messages, oldest first.
func (s *ChatService) Recent(ctx context.Context, roomID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.store.Messages(ctx, domain.MessageQuery{RoomID: roomID, Limit: limit})
}

// History pages backwards through the log. The returned cursor points at the
// oldest message of the page and is empty on the last page.
func (s *ChatService) History(ctx context.Context, roomID, before string, limit int) ([]domain.Message, string, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	cur, err := DecodeCursor(before)
	if err != nil {
		return nil, "", err
	}

	q := domain.MessageQuery{RoomID: roomID, Limit: limit}
	if cur != nil {
		q.Before, q.BeforeID = cur.CreatedAt, cur.ID
	}
	out, err := s.store.Messages(ctx, q)
	if err != nil {
		return nil, "", err
	}

	var next string
	if len(out) == limit {
		first := out[0]
		if c, e := EncodeCursor(Cursor{CreatedAt: first.Timestamp, ID: first.ID}); e == nil {
			next = c
		}
	}
	return out, next, nil
}

// PurgeExpired removes messages older than the retention window.
func (s *ChatService) PurgeExpired(ctx context.Context) (int64, error) {
	return s.store.DeleteMessagesBefore(ctx, s.now().UTC().Add(-s.retention))
}
