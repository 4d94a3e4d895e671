package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"
	"github.com/cwrk-planet/meeting-service/internal/storage"
)

// DefaultStaleAfter: участник без активности дольше этого окна считается offline.
const DefaultStaleAfter = 5 * time.Minute

// MemberService is the participant directory. Besides the store it keeps an
// in-process connection index so disconnects and relays resolve without
// scanning rooms.
type MemberService struct {
	store storage.Store

	mu     sync.RWMutex
	byConn map[string]domain.ParticipantKey
	byKey  map[domain.ParticipantKey]string

	staleAfter time.Duration
	now        func() time.Time
}

func NewMemberService(store storage.Store) *MemberService {
	return &MemberService{
		store:      store,
		byConn:     make(map[string]domain.ParticipantKey),
		byKey:      make(map[domain.ParticipantKey]string),
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
	}
}

func (s *MemberService) SetStaleAfter(d time.Duration) {
	if d > 0 {
		s.staleAfter = d
	}
}

func (s *MemberService) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Upsert marks the participant online and binds it to connID.
func (s *MemberService) Upsert(ctx context.Context, roomID, userID, name, connID string) (*domain.Participant, error) {
	if roomID == "" || userID == "" || connID == "" {
		return nil, domain.ErrInvalidRequest
	}

	now := s.now().UTC()
	p, err := s.store.SaveParticipant(ctx, domain.Participant{
		RoomID:   roomID,
		UserID:   userID,
		Name:     strings.TrimSpace(name),
		Status:   domain.StatusOnline,
		JoinTime: now,
		LastSeen: now,
		ConnID:   connID,
	})
	if err != nil {
		return nil, fmt.Errorf("save participant: %w", err)
	}

	s.bind(p.Key(), connID)
	return p, nil
}

// MarkOffline clears the binding. With a non-empty connID it only applies
// while the participant is still bound to that connection, so a late
// disconnect cannot demote a newer session.
func (s *MemberService) MarkOffline(ctx context.Context, roomID, userID, connID string) (bool, error) {
	key := domain.ParticipantKey{RoomID: roomID, UserID: userID}

	changed, err := s.store.MarkOffline(ctx, key, connID, s.now().UTC())
	if err != nil {
		return false, fmt.Errorf("mark offline: %w", err)
	}
	s.unbind(key, connID)
	return changed, nil
}

// Bound resolves a connection through the index.
func (s *MemberService) Bound(connID string) (domain.ParticipantKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.byConn[connID]
	return k, ok
}

// ConnOf returns the connection currently bound to (roomID, userID).
func (s *MemberService) ConnOf(roomID, userID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byKey[domain.ParticipantKey{RoomID: roomID, UserID: userID}]
	return c, ok
}

// FindByConnection returns the participant bound to connID.
func (s *MemberService) FindByConnection(ctx context.Context, connID string) (*domain.Participant, error) {
	key, ok := s.Bound(connID)
	if !ok {
		return nil, domain.ErrParticipantNotFound
	}
	list, err := s.store.Participants(ctx, key.RoomID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	for i := range list {
		if list[i].UserID == key.UserID {
			return &list[i], nil
		}
	}
	return nil, domain.ErrParticipantNotFound
}

// List returns the room's participants ordered by join time.
func (s *MemberService) List(ctx context.Context, roomID string) ([]domain.Participant, error) {
	list, err := s.store.Participants(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return list, nil
}

// OnlineCount counts online participants other than exceptUserID.
func (s *MemberService) OnlineCount(ctx context.Context, roomID, exceptUserID string) (int, error) {
	list, err := s.List(ctx, roomID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range list {
		if p.Online() && p.UserID != exceptUserID {
			n++
		}
	}
	return n, nil
}

// Touch refreshes lastSeen of whoever is bound to connID.
func (s *MemberService) Touch(ctx context.Context, connID string) error {
	key, ok := s.Bound(connID)
	if !ok {
		return nil
	}
	return s.store.TouchParticipant(ctx, key, s.now().UTC())
}

// DemoteNameCollisions переводит в offline участников с тем же именем, но другим userId.
func (s *MemberService) DemoteNameCollisions(ctx context.Context, roomID, name, userID string) ([]domain.Participant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	list, err := s.List(ctx, roomID)
	if err != nil {
		return nil, err
	}

	var demoted []domain.Participant
	for _, p := range list {
		if !p.Online() || p.UserID == userID || p.Name != name {
			continue
		}
		if _, err := s.MarkOffline(ctx, roomID, p.UserID, p.ConnID); err != nil {
			return demoted, err
		}
		demoted = append(demoted, p)
	}
	return demoted, nil
}

// Sweep demotes participants whose lastSeen is older than the stale window
// and returns their keys.
func (s *MemberService) Sweep(ctx context.Context) ([]domain.ParticipantKey, error) {
	keys, err := s.store.DemoteStale(ctx, s.now().UTC().Add(-s.staleAfter))
	if err != nil {
		return nil, fmt.Errorf("demote stale: %w", err)
	}
	for _, k := range keys {
		s.unbind(k, "")
	}
	return keys, nil
}

// ForgetRoom drops every index entry of a purged room.
func (s *MemberService) ForgetRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, c := range s.byKey {
		if k.RoomID == roomID {
			delete(s.byKey, k)
			delete(s.byConn, c)
		}
	}
}

func (s *MemberService) bind(key domain.ParticipantKey, connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.byKey[key]; ok && old != connID {
		delete(s.byConn, old)
	}
	if prev, ok := s.byConn[connID]; ok && prev != key {
		delete(s.byKey, prev)
	}
	s.byKey[key] = connID
	s.byConn[connID] = key
}

func (s *MemberService) unbind(key domain.ParticipantKey, connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byKey[key]
	if !ok || (connID != "" && cur != connID) {
		return
	}
	delete(s.byKey, key)
	if s.byConn[cur] == key {
		delete(s.byConn, cur)
	}
	slog.Debug("member: unbound", "room", key.RoomID, "user", key.UserID, "conn", cur)
}
