package meeting

import (
	"fmt"
	"strings"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"
	"github.com/cwrk-planet/meeting-service/internal/signaling"
)

// Client -> server events.
const (
	EventJoinRoom    = "joinRoom"
	EventSendMessage = "sendMessage"
	EventTyping      = "typing"
	EventLeaveRoom   = "leaveRoom"
	EventEndMeeting  = "endMeeting"
	EventVoiceJoin   = "voice-join"
	EventVoiceLeave  = "voice-leave"
	EventASRStart    = "asr-start"
	EventAudioChunk  = "audio-chunk"
	EventASRStop     = "asr-stop"
)

// StreamEvents are high-rate media events: audio for transcription and WebRTC
// negotiation. They are metered per connection, apart from chat traffic.
var StreamEvents = []string{
	EventAudioChunk,
	signaling.EventOffer,
	signaling.EventAnswer,
	signaling.EventICECandidate,
}

// Server -> client events.
const (
	EventRoomData           = "roomData"
	EventUserJoined         = "userJoined"
	EventParticipantsUpdate = "participantsUpdate"
	EventNewMessage         = "newMessage"
	EventUserTyping         = "userTyping"
	EventUserLeft           = "userLeft"
	EventMeetingEnded       = "meetingEnded"
	EventEndMeetingSuccess  = "endMeetingSuccess"
	EventTranscript         = "transcript"
	EventVoiceUsers         = "voice-users"
	EventVoiceUserJoined    = "voice-user-joined"
	EventVoiceUserLeft      = "voice-user-left"
	EventError              = "error"
)

func invalid(reason string) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidRequest, reason)
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

type JoinRequest struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

func (r JoinRequest) Validate() error {
	if blank(r.RoomID) || blank(r.UserID) || blank(r.Username) {
		return invalid("roomId, userId and username are required")
	}
	return nil
}

type SendMessageRequest struct {
	RoomID       string                 `json:"roomId"`
	Type         string                 `json:"type"`
	Text         string                 `json:"text"`
	Author       string                 `json:"author"`
	UserID       string                 `json:"userId"`
	Time         string                 `json:"time,omitempty"`
	Timestamp    *time.Time             `json:"timestamp,omitempty"`
	File         *domain.FileDescriptor `json:"file,omitempty"`
	IsAIQuestion bool                   `json:"isAIQuestion,omitempty"`
	OriginUserID *string                `json:"originUserId,omitempty"`
}

func (r SendMessageRequest) Validate() error {
	if blank(r.RoomID) || blank(r.Author) || blank(r.UserID) {
		return invalid("roomId, author and userId are required")
	}
	return nil
}

func (r SendMessageRequest) Message() domain.Message {
	m := domain.Message{
		RoomID:       r.RoomID,
		Type:         r.Type,
		Text:         r.Text,
		Author:       r.Author,
		UserID:       r.UserID,
		Time:         r.Time,
		File:         r.File,
		IsAIQuestion: r.IsAIQuestion,
		OriginUserID: r.OriginUserID,
	}
	if r.Timestamp != nil {
		m.Timestamp = r.Timestamp.UTC()
	}
	return m
}

type TypingRequest struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

func (r TypingRequest) Validate() error {
	if blank(r.RoomID) || blank(r.UserID) {
		return invalid("roomId and userId are required")
	}
	return nil
}

// RoomUserRequest carries leaveRoom, endMeeting, voice-join and voice-leave.
type RoomUserRequest struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

func (r RoomUserRequest) Validate() error {
	if blank(r.RoomID) || blank(r.UserID) {
		return invalid("roomId and userId are required")
	}
	return nil
}

type ASRRequest struct {
	RoomID string `json:"roomId"`
}

func (r ASRRequest) Validate() error {
	if blank(r.RoomID) {
		return invalid("roomId is required")
	}
	return nil
}

type AudioChunkRequest struct {
	RoomID      string `json:"roomId"`
	ChunkBase64 string `json:"chunkBase64"`
	IsLast      bool   `json:"isLast"`
}

func (r AudioChunkRequest) Validate() error {
	if blank(r.RoomID) {
		return invalid("roomId is required")
	}
	if r.ChunkBase64 == "" && !r.IsLast {
		return invalid("chunkBase64 is required")
	}
	return nil
}

// Outbound payloads.

type RoomInfo struct {
	CreatorID   string    `json:"creatorId"`
	CreatorName string    `json:"creatorName"`
	CreatedAt   time.Time `json:"createdAt"`
}

type RoomData struct {
	Messages     []domain.Message     `json:"messages"`
	Participants []domain.Participant `json:"participants"`
	RoomInfo     RoomInfo             `json:"roomInfo"`
	IsCreator    bool                 `json:"isCreator"`
}

type UserRef struct {
	UserID string `json:"userId"`
}

type UserTyping struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

type MeetingEnded struct {
	Message             string `json:"message"`
	DeletedMessages     int64  `json:"deletedMessages"`
	DeletedParticipants int64  `json:"deletedParticipants"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
