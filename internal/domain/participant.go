package domain

import "time"

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
)

// Participant is keyed by (RoomID, UserID). ConnID is set only while online.
type Participant struct {
	RoomID   string         `json:"roomId"`
	UserID   string         `json:"userId"`
	Name     string         `json:"name"`
	Status   PresenceStatus `json:"status"`
	JoinTime time.Time      `json:"joinTime"`
	LastSeen time.Time      `json:"lastSeen"`
	ConnID   string         `json:"socketId,omitempty"`
}

func (p Participant) Key() ParticipantKey {
	return ParticipantKey{RoomID: p.RoomID, UserID: p.UserID}
}

func (p Participant) Online() bool {
	return p.Status == StatusOnline && p.ConnID != ""
}

type ParticipantKey struct {
	RoomID string
	UserID string
}
