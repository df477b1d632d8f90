package transport

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Control actions sent by the client.
const (
	ActionStart  = "start"
	ActionSwitch = "switch"
	ActionStop   = "stop"
)

// Reply types sent to the client.
const (
	ReplyStreamReady   = "stream-ready"
	ReplyStreamError   = "stream-error"
	ReplyStreamStopped = "stream-stopped"
)

var (
	errMissingAction = errors.New("missing action")
	errUnknownAction = errors.New("unknown action")
)

// ControlMessage is an inbound control frame.
type ControlMessage struct {
	Action      string  `json:"action"`
	Destination string  `json:"destination,omitempty"`
	Timestamp   float64 `json:"timestamp,omitempty"` // client clock, milliseconds
	HasAudio    bool    `json:"hasAudio,omitempty"`
}

// Reply is an outbound status frame.
type Reply struct {
	Type     string `json:"type"`
	StreamID string `json:"streamId,omitempty"`
	Error    string `json:"error,omitempty"`
}

func streamReady(streamID string) Reply {
	return Reply{Type: ReplyStreamReady, StreamID: streamID}
}

func streamError(err error) Reply {
	return Reply{Type: ReplyStreamError, Error: err.Error()}
}

func streamStopped() Reply {
	return Reply{Type: ReplyStreamStopped}
}

// ParseControl decodes and validates a control frame.
func ParseControl(data []byte) (ControlMessage, error) {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("invalid control message: %w", err)
	}

	switch msg.Action {
	case ActionStart, ActionSwitch, ActionStop:
		return msg, nil
	case "":
		return msg, errMissingAction
	default:
		return msg, fmt.Errorf("%w %q", errUnknownAction, msg.Action)
	}
}
