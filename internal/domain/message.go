package domain

import "time"

const (
	MessageTypeUser  = "user"
	MessageTypeVoice = "voice-transcription"
)

type FileDescriptor struct {
	Name string `json:"name"`
	Size string `json:"size"`
	Type string `json:"type"`
	URL  string `json:"url"`
}

// Message is immutable once stored. Time is the display string, Timestamp the
// authoritative ordering key.
type Message struct {
	ID           string          `json:"id"`
	RoomID       string          `json:"roomId"`
	Type         string          `json:"type"`
	Text         string          `json:"text"`
	Author       string          `json:"author"`
	UserID       string          `json:"userId"`
	Time         string          `json:"time"`
	Timestamp    time.Time       `json:"timestamp"`
	File         *FileDescriptor `json:"file,omitempty"`
	IsAIQuestion bool            `json:"isAIQuestion"`
	OriginUserID *string         `json:"originUserId"`
}

// MessageQuery selects the newest Limit messages of a room, optionally strictly
// older than (Before, BeforeID).
type MessageQuery struct {
	RoomID   string
	Limit    int
	Before   time.Time
	BeforeID string
}
