package ws

import (
	"log/slog"
	"sort"
	"sync"
)

type Conn interface {
	ID() string
	// Send enqueues without blocking; false when the connection is gone or saturated.
	Send(msg Message) bool
	Close() error
}

// Hub tracks live connections and their broadcast groups. A connection is
// always reachable by its own id; rooms are explicit groups.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]Conn
	groups map[string]map[string]struct{} // group -> set of conn ids
	joined map[string]map[string]struct{} // conn id -> set of groups
}

func NewHub() *Hub {
	return &Hub{
		conns:  make(map[string]Conn),
		groups: make(map[string]map[string]struct{}),
		joined: make(map[string]map[string]struct{}),
	}
}

func (h *Hub) Add(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.ID()] = c
}

// Remove drops the connection from the hub and every group.
func (h *Hub) Remove(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveAllLocked(connID)
	delete(h.conns, connID)
}

func (h *Hub) Join(connID, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[connID]; !ok {
		return
	}
	gs, ok := h.groups[group]
	if !ok {
		gs = make(map[string]struct{})
		h.groups[group] = gs
	}
	gs[connID] = struct{}{}

	js, ok := h.joined[connID]
	if !ok {
		js = make(map[string]struct{})
		h.joined[connID] = js
	}
	js[group] = struct{}{}
}

func (h *Hub) Leave(connID, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(connID, group)
}

func (h *Hub) LeaveAll(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveAllLocked(connID)
}

func (h *Hub) leaveLocked(connID, group string) {
	if gs, ok := h.groups[group]; ok {
		delete(gs, connID)
		if len(gs) == 0 {
			delete(h.groups, group)
		}
	}
	if js, ok := h.joined[connID]; ok {
		delete(js, group)
		if len(js) == 0 {
			delete(h.joined, connID)
		}
	}
}

func (h *Hub) leaveAllLocked(connID string) {
	for g := range h.joined[connID] {
		h.leaveLocked(connID, g)
	}
}

func (h *Hub) Send(connID, event string, payload any) bool {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return c.Send(Message{Type: event, Payload: payload})
}

func (h *Hub) Broadcast(group, event string, payload any) {
	h.BroadcastExcept(group, "", event, payload)
}

// BroadcastExcept is best-effort: saturated connections miss the event.
func (h *Hub) BroadcastExcept(group, exceptConn, event string, payload any) {
	h.mu.RLock()
	targets := make([]Conn, 0, len(h.groups[group]))
	for id := range h.groups[group] {
		if id == exceptConn {
			continue
		}
		if c, ok := h.conns[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	msg := Message{Type: event, Payload: payload}
	for _, c := range targets {
		if !c.Send(msg) {
			slog.Debug("ws: broadcast miss", "group", group, "conn", c.ID(), "event", event)
		}
	}
}

func (h *Hub) Members(group string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.groups[group]))
	for id := range h.groups[group] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// CloseAll closes every live connection; read loops then run their cleanup.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		_ = c.Close()
	}
}
