package asr

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

type State string

const (
	StateAbsent     State = "absent"
	StateConnecting State = "connecting"
	StateReady      State = "ready"
	StateClosed     State = "closed"
	StateDisabled   State = "disabled"
)

var errSessionClosed = errors.New("asr session closed")

// session owns one upstream socket and the audio queued before it is ready.
// Every write happens under mu, so queued and live frames keep arrival order.
// Each write carries a deadline: a stalled upstream fails the write instead of
// holding mu forever.
type session struct {
	roomID string
	proto  Protocol

	writeTimeout time.Duration

	mu         sync.Mutex
	state      State
	conn       UpstreamConn
	pending    []Frame
	maxPending int
	dropped    int
}

func newSession(roomID string, proto Protocol, maxPending int, writeTimeout time.Duration) *session {
	return &session{
		roomID:       roomID,
		proto:        proto,
		state:        StateConnecting,
		maxPending:   maxPending,
		writeTimeout: writeTimeout,
	}
}

func (s *session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// attach stores the opened socket and writes the opening frames. It reports
// false if the session was stopped while dialing.
func (s *session) attach(conn UpstreamConn) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return false, nil
	}
	s.conn = conn

	frames, err := s.proto.OpenFrames()
	if err != nil {
		return true, err
	}
	if err := s.writeLocked(frames); err != nil {
		return true, err
	}
	if s.proto.ReadyOnOpen() {
		return true, s.readyLocked()
	}
	return true, nil
}

// markReady flushes the queue in arrival order.
func (s *session) markReady() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readyLocked()
}

func (s *session) readyLocked() error {
	if s.state != StateConnecting {
		return nil
	}
	s.state = StateReady
	queued := s.pending
	s.pending = nil
	return s.writeLocked(queued)
}

// submit forwards or queues one audio chunk.
func (s *session) submit(chunk []byte, final bool) (bool, error) {
	frames, err := s.proto.AudioFrames(chunk, final)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateReady:
		return true, s.writeLocked(frames)
	case StateConnecting:
		if s.maxPending > 0 && len(s.pending)+len(frames) > s.maxPending {
			s.dropped++
			if s.dropped == 1 || s.dropped%100 == 0 {
				slog.Warn("asr: queue full, audio dropped",
					"room", s.roomID, "max_pending", s.maxPending, "dropped", s.dropped)
			}
			return false, nil
		}
		s.pending = append(s.pending, frames...)
		return true, nil
	default:
		return false, errSessionClosed
	}
}

// Dropped reports chunks refused because the queue was full.
func (s *session) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *session) writeLocked(frames []Frame) error {
	for _, f := range frames {
		if s.writeTimeout > 0 {
			if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
				return err
			}
		}
		if err := s.conn.WriteMessage(f.Type, f.Data); err != nil {
			return err
		}
	}
	return nil
}

// close is idempotent.
func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	s.pending = nil
	if s.conn != nil {
		_ = s.conn.Close()
	}
}
