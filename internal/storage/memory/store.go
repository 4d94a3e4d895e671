// Package memory is the process-local Store used when PostgreSQL is not
// configured or a durable call fails.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"
	"github.com/cwrk-planet/meeting-service/internal/storage"
)

const (
	// MaxRoomMessages is the per-room size that triggers trimming.
	MaxRoomMessages = 1000
	// KeepRoomMessages is how many newest messages survive a trim.
	KeepRoomMessages = 800
)

type roomState struct {
	room         *domain.Room
	messages     []domain.Message
	participants map[string]*domain.Participant
}

type Store struct {
	mu    sync.RWMutex
	rooms map[string]*roomState
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{rooms: make(map[string]*roomState)}
}

func (s *Store) Name() string { return "memory" }

func (s *Store) Ping(context.Context) error { return nil }

// state returns the room bucket, creating it; caller holds the write lock.
func (s *Store) state(roomID string) *roomState {
	st, ok := s.rooms[roomID]
	if !ok {
		st = &roomState{participants: make(map[string]*domain.Participant)}
		s.rooms[roomID] = st
	}
	return st
}

// -------- rooms --------

func (s *Store) Room(_ context.Context, roomID string) (*domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.rooms[roomID]
	if !ok || st.room == nil {
		return nil, domain.ErrRoomNotFound
	}
	r := *st.room
	return &r, nil
}

func (s *Store) CreateRoom(_ context.Context, room domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(room.ID)
	if st.room != nil {
		return domain.ErrRoomExists
	}
	st.room = &room
	return nil
}

func (s *Store) TouchRoom(_ context.Context, roomID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.rooms[roomID]
	if !ok || st.room == nil {
		return domain.ErrRoomNotFound
	}
	st.room.LastActivity = at
	return nil
}

func (s *Store) PurgeRoom(_ context.Context, roomID string) (domain.PurgeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.rooms[roomID]
	if !ok {
		return domain.PurgeResult{}, nil
	}
	delete(s.rooms, roomID)

	return domain.PurgeResult{
		DeletedMessages:     int64(len(st.messages)),
		DeletedParticipants: int64(len(st.participants)),
	}, nil
}

// -------- participants --------

func (s *Store) SaveParticipant(_ context.Context, p domain.Participant) (*domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(p.RoomID)
	if prev, ok := st.participants[p.UserID]; ok && !prev.JoinTime.IsZero() {
		p.JoinTime = prev.JoinTime
	}
	if p.JoinTime.IsZero() {
		p.JoinTime = p.LastSeen
	}
	stored := p
	st.participants[p.UserID] = &stored

	out := stored
	return &out, nil
}

func (s *Store) MarkOffline(_ context.Context, key domain.ParticipantKey, ifConn string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.rooms[key.RoomID]
	if !ok {
		return false, nil
	}
	p, ok := st.participants[key.UserID]
	if !ok {
		return false, nil
	}
	if ifConn != "" && p.ConnID != ifConn {
		return false, nil
	}
	p.Status = domain.StatusOffline
	p.ConnID = ""
	p.LastSeen = at
	return true, nil
}

func (s *Store) TouchParticipant(_ context.Context, key domain.ParticipantKey, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.rooms[key.RoomID]
	if !ok {
		return domain.ErrParticipantNotFound
	}
	p, ok := st.participants[key.UserID]
	if !ok {
		return domain.ErrParticipantNotFound
	}
	p.LastSeen = at
	return nil
}

func (s *Store) Participants(_ context.Context, roomID string) ([]domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.rooms[roomID]
	if !ok {
		return []domain.Participant{}, nil
	}
	out := make([]domain.Participant, 0, len(st.participants))
	for _, p := range st.participants {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinTime.Equal(out[j].JoinTime) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].JoinTime.Before(out[j].JoinTime)
	})
	return out, nil
}

func (s *Store) ParticipantByConn(_ context.Context, connID string) (*domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, st := range s.rooms {
		for _, p := range st.participants {
			if p.ConnID == connID && p.Status == domain.StatusOnline {
				out := *p
				return &out, nil
			}
		}
	}
	return nil, domain.ErrParticipantNotFound
}

func (s *Store) DemoteStale(_ context.Context, seenBefore time.Time) ([]domain.ParticipantKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []domain.ParticipantKey
	for _, st := range s.rooms {
		for _, p := range st.participants {
			if p.Status == domain.StatusOnline && p.LastSeen.Before(seenBefore) {
				p.Status = domain.StatusOffline
				p.ConnID = ""
				keys = append(keys, p.Key())
			}
		}
	}
	return keys, nil
}

// -------- messages --------

func (s *Store) SaveMessage(_ context.Context, m domain.Message) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(m.RoomID)
	st.messages = append(st.messages, m)
	if len(st.messages) > MaxRoomMessages {
		kept := make([]domain.Message, KeepRoomMessages)
		copy(kept, st.messages[len(st.messages)-KeepRoomMessages:])
		st.messages = kept
	}

	out := m
	return &out, nil
}

func (s *Store) Messages(_ context.Context, q domain.MessageQuery) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.rooms[q.RoomID]
	if !ok || q.Limit <= 0 {
		return []domain.Message{}, nil
	}

	// walk backwards from the newest, then restore chronological order
	out := make([]domain.Message, 0, min(q.Limit, len(st.messages)))
	for i := len(st.messages) - 1; i >= 0 && len(out) < q.Limit; i-- {
		m := st.messages[i]
		if !q.Before.IsZero() && !olderThan(m, q.Before, q.BeforeID) {
			continue
		}
		out = append(out, m)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func olderThan(m domain.Message, ts time.Time, id string) bool {
	if m.Timestamp.Equal(ts) {
		return m.ID < id
	}
	return m.Timestamp.Before(ts)
}

func (s *Store) DeleteMessagesBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, st := range s.rooms {
		kept := st.messages[:0]
		for _, m := range st.messages {
			if m.Timestamp.Before(before) {
				n++
				continue
			}
			kept = append(kept, m)
		}
		st.messages = kept
	}
	return n, nil
}
