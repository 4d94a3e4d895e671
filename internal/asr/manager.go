package asr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"
)

const (
	DefaultRetryCooldown = 5 * time.Second
	DefaultDialTimeout   = 10 * time.Second
	DefaultWriteTimeout  = 5 * time.Second
	// DefaultMaxPending bounds audio queued while a session connects; about 80 s
	// of 40 ms chunks. Chunks beyond it are dropped and logged.
	DefaultMaxPending = 2048
)

type Config struct {
	Mode      string
	AppID     string
	APIKey    string
	APISecret string

	// Endpoint overrides; empty means the public iFlytek endpoints.
	IATURL   string
	RTASRURL string

	DialTimeout   time.Duration
	RetryCooldown time.Duration
	WriteTimeout  time.Duration
	MaxPending    int
}

// ResultFunc receives recognised text of a room.
type ResultFunc func(roomID string, r Result)

// Manager keeps at most one upstream session per room.
type Manager struct {
	proto    Protocol
	dialer   Dialer
	onResult ResultFunc
	disabled bool

	dialTimeout   time.Duration
	retryCooldown time.Duration
	writeTimeout  time.Duration
	maxPending    int
	now           func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
	cooldown map[string]time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(cfg Config, dialer Dialer, onResult ResultFunc) *Manager {
	if dialer == nil {
		dialer = NewWSDialer(cfg.DialTimeout)
	}
	if onResult == nil {
		onResult = func(string, Result) {}
	}
	m := &Manager{
		dialer:        dialer,
		onResult:      onResult,
		dialTimeout:   cfg.DialTimeout,
		retryCooldown: cfg.RetryCooldown,
		writeTimeout:  cfg.WriteTimeout,
		maxPending:    cfg.MaxPending,
		now:           time.Now,
		sessions:      make(map[string]*session),
		cooldown:      make(map[string]time.Time),
	}
	if m.dialTimeout <= 0 {
		m.dialTimeout = DefaultDialTimeout
	}
	if m.retryCooldown <= 0 {
		m.retryCooldown = DefaultRetryCooldown
	}
	if m.writeTimeout <= 0 {
		m.writeTimeout = DefaultWriteTimeout
	}
	if m.maxPending <= 0 {
		m.maxPending = DefaultMaxPending
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())

	switch strings.ToLower(cfg.Mode) {
	case ModeIAT:
		m.proto = &IAT{AppID: cfg.AppID, APIKey: cfg.APIKey, APISecret: cfg.APISecret, URL: cfg.IATURL}
		m.disabled = cfg.APISecret == "" || cfg.APIKey == ""
	default:
		m.proto = &RTASR{AppID: cfg.AppID, APISecret: cfg.APISecret, URL: cfg.RTASRURL}
		m.disabled = cfg.APISecret == ""
	}
	if cfg.AppID == "" {
		m.disabled = true
	}
	if m.disabled {
		slog.Warn("asr: credentials not configured, transcription disabled", "mode", m.proto.Name())
	}
	return m
}

func (m *Manager) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

func (m *Manager) Mode() string  { return m.proto.Name() }
func (m *Manager) Enabled() bool { return !m.disabled }

// State of the room's session; rooms without one are absent.
func (m *Manager) State(roomID string) State {
	if m.disabled {
		return StateDisabled
	}
	m.mu.Lock()
	s, ok := m.sessions[roomID]
	m.mu.Unlock()
	if !ok {
		return StateAbsent
	}
	return s.State()
}

// Ensure opens a session for the room unless one exists. During the cool-down
// after a failed connect the room stays absent.
func (m *Manager) Ensure(roomID string) State {
	if m.disabled {
		return StateDisabled
	}
	s := m.ensure(roomID)
	if s == nil {
		return StateAbsent
	}
	return s.State()
}

func (m *Manager) ensure(roomID string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[roomID]; ok {
		return s
	}
	if until, ok := m.cooldown[roomID]; ok {
		if m.now().Before(until) {
			return nil
		}
		delete(m.cooldown, roomID)
	}
	if m.ctx.Err() != nil {
		return nil
	}

	s := newSession(roomID, m.proto, m.maxPending, m.writeTimeout)
	m.sessions[roomID] = s

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(s)
	}()
	return s
}

// SubmitAudio forwards a chunk, queues it while connecting, or drops it when
// transcription is unavailable. An absent room gets a session first.
func (m *Manager) SubmitAudio(roomID string, chunk []byte, final bool) bool {
	if m.disabled {
		return false
	}
	s := m.ensure(roomID)
	if s == nil {
		return false
	}

	ok, err := s.submit(chunk, final)
	if err != nil {
		if !errors.Is(err, errSessionClosed) {
			slog.Warn("asr: upstream write failed", "room", roomID, "err", err)
		}
		m.drop(roomID, s)
		return false
	}
	return ok
}

// Stop closes the room's session.
func (m *Manager) Stop(roomID string) {
	m.mu.Lock()
	s, ok := m.sessions[roomID]
	delete(m.sessions, roomID)
	m.mu.Unlock()

	if ok {
		s.close()
		slog.Info("asr: session stopped", "room", roomID)
	}
}

// Close stops every session and waits for their readers.
func (m *Manager) Close() {
	m.cancel()

	m.mu.Lock()
	all := make([]*session, 0, len(m.sessions))
	for id, s := range m.sessions {
		all = append(all, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range all {
		s.close()
	}
	m.wg.Wait()
}

func (m *Manager) run(s *session) {
	log := slog.With("room", s.roomID, "mode", m.proto.Name())

	url, header, err := m.proto.Endpoint(m.now())
	if err != nil {
		log.Error("asr: build endpoint", "err", err)
		m.fail(s)
		return
	}

	ctx, cancel := context.WithTimeout(m.ctx, m.dialTimeout)
	conn, err := m.dialer.Dial(ctx, url, header)
	cancel()
	if err != nil {
		log.Error("asr: connect failed", "err", fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err))
		m.fail(s)
		return
	}

	alive, err := s.attach(conn)
	if !alive {
		_ = conn.Close()
		return
	}
	if err != nil {
		log.Error("asr: open session", "err", err)
		m.drop(s.roomID, s)
		return
	}
	log.Info("asr: upstream connected")

	defer func() {
		m.drop(s.roomID, s)
		log.Info("asr: upstream closed")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.State() != StateClosed {
				log.Debug("asr: read ended", "err", err)
			}
			return
		}

		ev, err := m.proto.Decode(data)
		if err != nil {
			log.Warn("asr: upstream message", "err", err)
			continue
		}
		if ev.Started {
			if err := s.markReady(); err != nil {
				log.Warn("asr: flush queued audio", "err", err)
				return
			}
		}
		if ev.Result != nil {
			m.onResult(s.roomID, *ev.Result)
		}
	}
}

// fail removes a session that never connected and starts the cool-down.
func (m *Manager) fail(s *session) {
	m.mu.Lock()
	if m.sessions[s.roomID] == s {
		delete(m.sessions, s.roomID)
		m.cooldown[s.roomID] = m.now().Add(m.retryCooldown)
	}
	m.mu.Unlock()
	s.close()
}

// drop removes s if it is still the room's session.
func (m *Manager) drop(roomID string, s *session) {
	m.mu.Lock()
	if m.sessions[roomID] == s {
		delete(m.sessions, roomID)
	}
	m.mu.Unlock()
	s.close()
}
