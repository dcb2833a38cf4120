package channel

import (
	"errors"

	"github.com/coder/websocket"

	"github.com/ashureev/pitch-labs/internal/domain"
	"github.com/ashureev/pitch-labs/internal/session"
)

// Application close codes.
const (
	CloseUnauthorized websocket.StatusCode = 4001
	CloseNotFound     websocket.StatusCode = 4004
	CloseSessionEnded websocket.StatusCode = 4010
)

// Client message types.
const (
	msgTurn = "turn"
	msgEnd  = "end"
	msgPing = "ping"
)

// clientMessage is one frame sent by the trainee. Audio is base64 in JSON.
type clientMessage struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Audio     []byte `json:"audio,omitempty"`
	AudioType string `json:"audio_type,omitempty"`
}

// directFrame is written outside the session's event stream.
type directFrame struct {
	Type      session.EventType `json:"type"`
	SessionID string            `json:"session_id,omitempty"`
	Data      any               `json:"data,omitempty"`
}

func pongFrame() directFrame { return directFrame{Type: "pong"} }

func errorFrame(sessionID string, err error) directFrame {
	return directFrame{Type: session.EventError, SessionID: sessionID, Data: session.NewErrorData(err)}
}

// closeCode maps a connect-time failure to the close status sent to the
// client.
func closeCode(err error) websocket.StatusCode {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return CloseUnauthorized
	case errors.Is(err, domain.ErrSessionNotFound):
		return CloseNotFound
	case errors.Is(err, domain.ErrSessionEnded):
		return CloseSessionEnded
	default:
		return websocket.StatusInternalError
	}
}
