// Package meeting is the room session coordinator: it turns client events
// into room state changes and fans the results out to the room.
package meeting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/cwrk-planet/meeting-service/internal/asr"
	"github.com/cwrk-planet/meeting-service/internal/domain"
	"github.com/cwrk-planet/meeting-service/internal/logger"
	"github.com/cwrk-planet/meeting-service/internal/service"
	"github.com/cwrk-planet/meeting-service/internal/signaling"
)

const DefaultRecentMessages = 50

// Transport groups connections and delivers events. Every connection is
// implicitly a member of the group named after its own id.
type Transport interface {
	Join(connID, group string)
	Leave(connID, group string)
	// LeaveAll leaves every group except the connection's own.
	LeaveAll(connID string)
	Send(connID, event string, payload any) bool
	Broadcast(group, event string, payload any)
	BroadcastExcept(group, exceptConn, event string, payload any)
	Members(group string) []string
}

// Transcriber is the per-room speech session manager.
type Transcriber interface {
	Ensure(roomID string) asr.State
	SubmitAudio(roomID string, chunk []byte, final bool) bool
	Stop(roomID string)
}

type Deps struct {
	Rooms       *service.RoomService
	Members     *service.MemberService
	Chat        *service.ChatService
	Transcriber Transcriber
	Transport   Transport

	RecentMessages int
}

type handlerFunc func(ctx context.Context, connID string, raw json.RawMessage) error

type Coordinator struct {
	rooms   *service.RoomService
	members *service.MemberService
	chat    *service.ChatService
	asr     Transcriber
	out     Transport
	relay   *signaling.Relay

	voice *voiceRoster
	locks *roomLocks

	recent   int
	handlers map[string]handlerFunc
}

func New(d Deps) *Coordinator {
	c := &Coordinator{
		rooms:   d.Rooms,
		members: d.Members,
		chat:    d.Chat,
		asr:     d.Transcriber,
		out:     d.Transport,
		relay:   signaling.NewRelay(d.Members, d.Transport),
		voice:   newVoiceRoster(),
		locks:   newRoomLocks(),
		recent:  d.RecentMessages,
	}
	if c.recent <= 0 {
		c.recent = DefaultRecentMessages
	}

	c.handlers = map[string]handlerFunc{
		EventJoinRoom:    decoded(c.joinRoom),
		EventSendMessage: decoded(c.sendMessage),
		EventTyping:      decoded(c.typing),
		EventLeaveRoom:   decoded(c.leaveRoom),
		EventEndMeeting:  decoded(c.endMeeting),
		EventVoiceJoin:   decoded(c.voiceJoin),
		EventVoiceLeave:  decoded(c.voiceLeave),
		EventASRStart:    decoded(c.asrStart),
		EventAudioChunk:  decoded(c.audioChunk),
		EventASRStop:     decoded(c.asrStop),

		signaling.EventOffer:        c.signal(signaling.EventOffer),
		signaling.EventAnswer:       c.signal(signaling.EventAnswer),
		signaling.EventICECandidate: c.signal(signaling.EventICECandidate),
	}
	return c
}

type validator interface{ Validate() error }

// decoded adapts a typed handler to the dispatch table.
func decoded[T validator](h func(ctx context.Context, connID string, req T) error) handlerFunc {
	return func(ctx context.Context, connID string, raw json.RawMessage) error {
		var req T
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &req); err != nil {
				return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
			}
		}
		if err := req.Validate(); err != nil {
			return err
		}
		return h(ctx, connID, req)
	}
}

// Handle dispatches one client event. Failures are reported to the
// originating connection only.
func (c *Coordinator) Handle(ctx context.Context, connID, event string, raw json.RawMessage) {
	log := logger.FromCtx(ctx).With("conn", connID, "event", event)

	h, ok := c.handlers[event]
	if !ok {
		log.Debug("meeting: unknown event ignored")
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("meeting: handler panic", "panic", rec, "stack", string(debug.Stack()))
			c.out.Send(connID, EventError, ErrorPayload{Message: userMessage(nil)})
		}
	}()

	if err := h(ctx, connID, raw); err != nil {
		if isClientError(err) {
			log.Info("meeting: request rejected", "err", err)
		} else {
			log.Error("meeting: request failed", "err", err)
		}
		c.out.Send(connID, EventError, ErrorPayload{Message: userMessage(err)})
	}
}

func isClientError(err error) bool {
	return errors.Is(err, domain.ErrInvalidRequest) ||
		errors.Is(err, domain.ErrForbidden) ||
		errors.Is(err, domain.ErrRoomFull)
}

func userMessage(err error) string {
	switch {
	case err == nil:
		return "request failed, please retry"
	case errors.Is(err, domain.ErrInvalidRequest):
		return "missing or invalid parameters"
	case errors.Is(err, domain.ErrForbidden):
		return "only the meeting creator can end the meeting"
	case errors.Is(err, domain.ErrRoomFull):
		return "the room is full"
	default:
		return "request failed, please retry"
	}
}

// Disconnect cleans up after a connection that went away without leaveRoom.
func (c *Coordinator) Disconnect(ctx context.Context, connID string) {
	key, ok := c.members.Bound(connID)
	if !ok {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			slog.ErrorContext(ctx, "meeting: disconnect panic", "conn", connID, "panic", rec)
		}
	}()

	unlock := c.locks.Lock(key.RoomID)
	defer unlock()

	if err := c.depart(ctx, connID, key); err != nil {
		slog.ErrorContext(ctx, "meeting: disconnect cleanup", "conn", connID, "room", key.RoomID, "err", err)
	}
}

// Touch refreshes presence of the participant bound to connID.
func (c *Coordinator) Touch(ctx context.Context, connID string) {
	if err := c.members.Touch(ctx, connID); err != nil && !errors.Is(err, domain.ErrParticipantNotFound) {
		slog.DebugContext(ctx, "meeting: touch failed", "conn", connID, "err", err)
	}
}

// StaleDemoted refreshes the participant lists of rooms touched by a sweep.
func (c *Coordinator) StaleDemoted(ctx context.Context, keys []domain.ParticipantKey) {
	byRoom := make(map[string][]string)
	for _, k := range keys {
		byRoom[k.RoomID] = append(byRoom[k.RoomID], k.UserID)
	}

	for roomID, users := range byRoom {
		func() {
			unlock := c.locks.Lock(roomID)
			defer unlock()

			for _, u := range users {
				if c.voice.Remove(roomID, u) {
					c.out.Broadcast(roomID, EventVoiceUserLeft, UserRef{UserID: u})
				}
			}
			if err := c.broadcastParticipants(ctx, roomID); err != nil {
				slog.WarnContext(ctx, "meeting: participants after sweep", "room", roomID, "err", err)
			}
		}()
	}
}

// TranscriptSink broadcasts recognised text to the room.
func TranscriptSink(out Transport) asr.ResultFunc {
	return func(roomID string, r asr.Result) {
		out.Broadcast(roomID, EventTranscript, r)
	}
}

func (c *Coordinator) broadcastParticipants(ctx context.Context, roomID string) error {
	list, err := c.members.List(ctx, roomID)
	if err != nil {
		return err
	}
	c.out.Broadcast(roomID, EventParticipantsUpdate, list)
	return nil
}
