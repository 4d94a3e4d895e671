// Package asr streams room audio to the iFlytek speech recognition service
// and reports recognised text per room.
package asr

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	ModeIAT   = "iat"
	ModeRTASR = "rtasr"
)

type Result struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

// Frame is one upstream websocket message.
type Frame struct {
	Type int
	Data []byte
}

func textFrame(b []byte) Frame   { return Frame{Type: websocket.TextMessage, Data: b} }
func binaryFrame(b []byte) Frame { return Frame{Type: websocket.BinaryMessage, Data: b} }

// Event is what a single upstream message means to a session.
type Event struct {
	Started bool
	Result  *Result
}

// Protocol hides the handshake and framing differences of the upstream variants.
type Protocol interface {
	Name() string
	// Endpoint returns the signed URL and dial headers.
	Endpoint(now time.Time) (string, http.Header, error)
	// ReadyOnOpen reports whether audio may flow as soon as the socket opens.
	ReadyOnOpen() bool
	// OpenFrames are written right after the socket opens.
	OpenFrames() ([]Frame, error)
	AudioFrames(chunk []byte, final bool) ([]Frame, error)
	Decode(data []byte) (Event, error)
}

// UpstreamConn is the part of *websocket.Conn a session uses.
type UpstreamConn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	SetWriteDeadline(t time.Time) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (UpstreamConn, error)
}

// WSDialer dials the upstream with gorilla/websocket.
type WSDialer struct {
	Dialer *websocket.Dialer
}

func NewWSDialer(handshakeTimeout time.Duration) WSDialer {
	d := *websocket.DefaultDialer
	if handshakeTimeout > 0 {
		d.HandshakeTimeout = handshakeTimeout
	}
	return WSDialer{Dialer: &d}
}

func (d WSDialer) Dial(ctx context.Context, url string, header http.Header) (UpstreamConn, error) {
	conn, resp, err := d.Dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}
