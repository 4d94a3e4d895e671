package http

import (
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database"`
}

type RoomResponse struct {
	ID           string              `json:"roomId"`
	CreatorID    string              `json:"creatorId"`
	CreatorName  string              `json:"creatorName"`
	CreatedAt    time.Time           `json:"createdAt"`
	LastActivity time.Time           `json:"lastActivity"`
	Settings     domain.RoomSettings `json:"settings"`
}

type ParticipantsResponse struct {
	Participants []domain.Participant `json:"participants"`
}

type MessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	NextCursor string           `json:"nextCursor,omitempty"`
}
