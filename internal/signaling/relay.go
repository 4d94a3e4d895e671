// Package signaling forwards WebRTC negotiation payloads between two
// participants of a room.
package signaling

import (
	"fmt"
	"strings"

	"github.com/cwrk-planet/meeting-service/internal/domain"

	"github.com/pion/webrtc/v4"
)

const (
	EventOffer        = "webrtc-offer"
	EventAnswer       = "webrtc-answer"
	EventICECandidate = "webrtc-ice-candidate"
)

// Directory resolves the connection bound to a participant.
type Directory interface {
	ConnOf(roomID, userID string) (string, bool)
}

// Sender delivers one event to one connection.
type Sender interface {
	Send(connID, event string, payload any) bool
}

// Request is an inbound signaling event. Exactly one of SDP or Candidate is
// set, depending on the event.
type Request struct {
	RoomID     string                     `json:"roomId"`
	FromUserID string                     `json:"fromUserId"`
	ToUserID   string                     `json:"toUserId"`
	SDP        *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate  *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// Forward is what the target receives: the sender and the opaque payload.
type Forward struct {
	RoomID     string                     `json:"roomId"`
	FromUserID string                     `json:"fromUserId"`
	SDP        *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate  *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

func (r Request) Validate(event string) error {
	if r.RoomID == "" || r.FromUserID == "" || r.ToUserID == "" {
		return fmt.Errorf("%w: roomId, fromUserId and toUserId are required", domain.ErrInvalidRequest)
	}

	switch event {
	case EventOffer, EventAnswer:
		if r.SDP == nil || strings.TrimSpace(r.SDP.SDP) == "" {
			return fmt.Errorf("%w: sdp is required", domain.ErrInvalidRequest)
		}
		want := webrtc.SDPTypeOffer
		if event == EventAnswer {
			want = webrtc.SDPTypeAnswer
		}
		if r.SDP.Type != want {
			return fmt.Errorf("%w: sdp type %s does not match %s", domain.ErrInvalidRequest, r.SDP.Type, event)
		}
	case EventICECandidate:
		if r.Candidate == nil {
			return fmt.Errorf("%w: candidate is required", domain.ErrInvalidRequest)
		}
	default:
		return fmt.Errorf("%w: unknown signaling event %q", domain.ErrInvalidRequest, event)
	}
	return nil
}

type Relay struct {
	dir Directory
	out Sender
}

func NewRelay(dir Directory, out Sender) *Relay {
	return &Relay{dir: dir, out: out}
}

// Relay delivers the payload to the target's bound connection only. A target
// without a binding is not an error: the payload is dropped.
func (r *Relay) Relay(event string, req Request) bool {
	connID, ok := r.dir.ConnOf(req.RoomID, req.ToUserID)
	if !ok {
		return false
	}
	return r.out.Send(connID, event, Forward{
		RoomID:     req.RoomID,
		FromUserID: req.FromUserID,
		SDP:        req.SDP,
		Candidate:  req.Candidate,
	})
}
