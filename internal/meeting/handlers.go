package meeting

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cwrk-planet/meeting-service/internal/domain"
	"github.com/cwrk-planet/meeting-service/internal/signaling"
)

const meetingEndedText = "the meeting was ended by its creator and the room data was removed"

func (c *Coordinator) joinRoom(ctx context.Context, connID string, req JoinRequest) error {
	// привязка к другой комнате/личности снимается до входа в новую
	if prev, ok := c.members.Bound(connID); ok && (prev.RoomID != req.RoomID || prev.UserID != req.UserID) {
		c.detach(ctx, connID, prev)
	}

	unlock := c.locks.Lock(req.RoomID)
	defer unlock()

	room, isCreator, err := c.rooms.ResolveOrCreate(ctx, req.RoomID, req.UserID, req.Username)
	if err != nil {
		return fmt.Errorf("resolve room: %w", err)
	}

	if limit := room.Settings.MaxParticipants; limit > 0 {
		online, err := c.members.OnlineCount(ctx, req.RoomID, req.UserID)
		if err != nil {
			return fmt.Errorf("count participants: %w", err)
		}
		if online >= limit {
			return domain.ErrRoomFull
		}
	}

	c.out.LeaveAll(connID)
	c.out.Join(connID, req.RoomID)

	if _, err := c.members.DemoteNameCollisions(ctx, req.RoomID, req.Username, req.UserID); err != nil {
		slog.WarnContext(ctx, "meeting: name collision demotion", "room", req.RoomID, "err", err)
	}

	participant, err := c.members.Upsert(ctx, req.RoomID, req.UserID, req.Username, connID)
	if err != nil {
		return fmt.Errorf("upsert participant: %w", err)
	}

	messages, err := c.chat.Recent(ctx, req.RoomID, c.recent)
	if err != nil {
		return fmt.Errorf("recent messages: %w", err)
	}
	participants, err := c.members.List(ctx, req.RoomID)
	if err != nil {
		return fmt.Errorf("list participants: %w", err)
	}

	c.out.Send(connID, EventRoomData, RoomData{
		Messages:     messages,
		Participants: participants,
		RoomInfo: RoomInfo{
			CreatorID:   room.CreatorID,
			CreatorName: room.CreatorName,
			CreatedAt:   room.CreatedAt,
		},
		IsCreator: isCreator,
	})
	c.out.BroadcastExcept(req.RoomID, connID, EventUserJoined, participant)
	c.out.Broadcast(req.RoomID, EventParticipantsUpdate, participants)

	slog.InfoContext(ctx, "meeting: joined",
		"room", req.RoomID, "user", req.UserID, "conn", connID, "creator", isCreator)
	return nil
}

// detach takes the connection's presence out of its previous room.
func (c *Coordinator) detach(ctx context.Context, connID string, key domain.ParticipantKey) {
	unlock := c.locks.Lock(key.RoomID)
	defer unlock()

	c.out.Leave(connID, key.RoomID)
	if err := c.depart(ctx, connID, key); err != nil {
		slog.WarnContext(ctx, "meeting: detach previous room", "room", key.RoomID, "err", err)
	}
}

// depart marks the participant offline and tells the room. Nothing is
// broadcast when connID no longer holds the binding. Caller holds the room lock.
func (c *Coordinator) depart(ctx context.Context, connID string, key domain.ParticipantKey) error {
	changed, err := c.members.MarkOffline(ctx, key.RoomID, key.UserID, connID)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	c.out.BroadcastExcept(key.RoomID, connID, EventUserLeft, UserRef{UserID: key.UserID})
	if c.voice.Remove(key.RoomID, key.UserID) {
		c.out.BroadcastExcept(key.RoomID, connID, EventVoiceUserLeft, UserRef{UserID: key.UserID})
	}
	return c.broadcastParticipants(ctx, key.RoomID)
}

func (c *Coordinator) sendMessage(ctx context.Context, connID string, req SendMessageRequest) error {
	unlock := c.locks.Lock(req.RoomID)
	defer unlock()

	saved, err := c.chat.Append(ctx, req.Message())
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	c.out.Broadcast(req.RoomID, EventNewMessage, saved)

	c.Touch(ctx, connID)
	return nil
}

func (c *Coordinator) typing(_ context.Context, connID string, req TypingRequest) error {
	c.out.BroadcastExcept(req.RoomID, connID, EventUserTyping, UserTyping{
		UserID:   req.UserID,
		Username: req.Username,
		IsTyping: req.IsTyping,
	})
	return nil
}

func (c *Coordinator) leaveRoom(ctx context.Context, connID string, req RoomUserRequest) error {
	unlock := c.locks.Lock(req.RoomID)
	defer unlock()

	c.out.Leave(connID, req.RoomID)
	return c.depart(ctx, connID, domain.ParticipantKey{RoomID: req.RoomID, UserID: req.UserID})
}

func (c *Coordinator) endMeeting(ctx context.Context, connID string, req RoomUserRequest) error {
	unlock := c.locks.Lock(req.RoomID)
	defer unlock()

	res, err := c.rooms.EndMeeting(ctx, req.RoomID, req.UserID)
	if err != nil {
		return err
	}

	ended := MeetingEnded{
		Message:             meetingEndedText,
		DeletedMessages:     res.DeletedMessages,
		DeletedParticipants: res.DeletedParticipants,
	}
	c.out.Broadcast(req.RoomID, EventMeetingEnded, ended)

	for _, member := range c.out.Members(req.RoomID) {
		c.out.Leave(member, req.RoomID)
	}
	c.members.ForgetRoom(req.RoomID)
	c.voice.Clear(req.RoomID)
	c.asr.Stop(req.RoomID)

	ended.Message = "the meeting has been ended"
	c.out.Send(connID, EventEndMeetingSuccess, ended)
	return nil
}

func (c *Coordinator) voiceJoin(_ context.Context, connID string, req RoomUserRequest) error {
	unlock := c.locks.Lock(req.RoomID)
	defer unlock()

	users := c.voice.Add(req.RoomID, req.UserID)
	c.out.Send(connID, EventVoiceUsers, users)
	c.out.BroadcastExcept(req.RoomID, connID, EventVoiceUserJoined, UserRef{UserID: req.UserID})
	return nil
}

func (c *Coordinator) voiceLeave(_ context.Context, connID string, req RoomUserRequest) error {
	unlock := c.locks.Lock(req.RoomID)
	defer unlock()

	c.voice.Remove(req.RoomID, req.UserID)
	c.out.BroadcastExcept(req.RoomID, connID, EventVoiceUserLeft, UserRef{UserID: req.UserID})
	return nil
}

// signal relays negotiation payloads point to point; misses are silent.
func (c *Coordinator) signal(event string) handlerFunc {
	return func(ctx context.Context, _ string, raw json.RawMessage) error {
		var req signaling.Request
		if err := json.Unmarshal(raw, &req); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
		}
		if err := req.Validate(event); err != nil {
			return err
		}
		if !c.relay.Relay(event, req) {
			slog.DebugContext(ctx, "meeting: signaling target not bound",
				"room", req.RoomID, "to", req.ToUserID, "event", event)
		}
		return nil
	}
}

func (c *Coordinator) asrStart(ctx context.Context, _ string, req ASRRequest) error {
	st := c.asr.Ensure(req.RoomID)
	slog.DebugContext(ctx, "meeting: asr start", "room", req.RoomID, "state", st)
	return nil
}

func (c *Coordinator) audioChunk(_ context.Context, _ string, req AudioChunkRequest) error {
	chunk, err := base64.StdEncoding.DecodeString(req.ChunkBase64)
	if err != nil {
		return fmt.Errorf("%w: chunkBase64: %v", domain.ErrInvalidRequest, err)
	}
	c.asr.SubmitAudio(req.RoomID, chunk, req.IsLast)
	return nil
}

func (c *Coordinator) asrStop(_ context.Context, _ string, req ASRRequest) error {
	c.asr.Stop(req.RoomID)
	return nil
}
