package domain

import "time"

const DefaultMaxParticipants = 50

type RoomSettings struct {
	MaxParticipants int  `json:"maxParticipants"`
	AllowFileUpload bool `json:"allowFileUpload"`
	AIEnabled       bool `json:"aiEnabled"`
}

func DefaultRoomSettings() RoomSettings {
	return RoomSettings{
		MaxParticipants: DefaultMaxParticipants,
		AllowFileUpload: true,
		AIEnabled:       true,
	}
}

// Room is created lazily by the first joiner, who becomes its creator for good.
type Room struct {
	ID           string       `json:"roomId"`
	CreatorID    string       `json:"creatorId"`
	CreatorName  string       `json:"creatorName"`
	CreatedAt    time.Time    `json:"createdAt"`
	LastActivity time.Time    `json:"lastActivity"`
	Settings     RoomSettings `json:"settings"`
}

// PurgeResult reports what an ended meeting removed.
type PurgeResult struct {
	DeletedMessages     int64 `json:"deletedMessages"`
	DeletedParticipants int64 `json:"deletedParticipants"`
}

func (r PurgeResult) Add(o PurgeResult) PurgeResult {
	return PurgeResult{
		DeletedMessages:     r.DeletedMessages + o.DeletedMessages,
		DeletedParticipants: r.DeletedParticipants + o.DeletedParticipants,
	}
}
