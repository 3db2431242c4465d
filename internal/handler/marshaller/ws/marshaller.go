package wsmarshaller

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/webitel/telemetry-pipeline/internal/domain/model"
	"github.com/webitel/telemetry-pipeline/internal/handler/marshaller"
)

// Client frame types.
const (
	FrameEvent      = "event"
	FrameVisibility = "visibility"
	FrameUnload     = "unload"
)

// Server frame types.
const (
	FrameAck     = "ack"
	FrameFlushed = "flushed"
	FrameError   = "error"
)

// ClientFrame is a message sent by the client runtime over its session.
type ClientFrame struct {
	Type  string                   `json:"type"`
	State string                   `json:"state,omitempty"`
	Event *marshaller.EventRequest `json:"event,omitempty"`
}

// ServerFrame is a generic wrapper for WebSocket messages to provide consistent structure.
type ServerFrame struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// DecodeClientFrame parses and validates one client frame.
func DecodeClientFrame(data []byte) (ClientFrame, error) {
	var f ClientFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return ClientFrame{}, fmt.Errorf("decode frame: %w", err)
	}

	switch f.Type {
	case FrameEvent:
		if f.Event == nil {
			return ClientFrame{}, fmt.Errorf("frame %q: missing event", f.Type)
		}
	case FrameVisibility:
		if f.State == "" {
			return ClientFrame{}, fmt.Errorf("frame %q: missing state", f.Type)
		}
	case FrameUnload:
	default:
		return ClientFrame{}, fmt.Errorf("unknown frame type %q", f.Type)
	}
	return f, nil
}

func MarshalAck(id string) ([]byte, error) {
	return json.Marshal(ServerFrame{Type: FrameAck, ID: id})
}

func MarshalError(err error) ([]byte, error) {
	return json.Marshal(ServerFrame{Type: FrameError, Error: err.Error()})
}

// MarshalFlushed reports a completed flush to the session.
func MarshalFlushed(r model.FlushReport) ([]byte, error) {
	return json.Marshal(ServerFrame{Type: FrameFlushed, Payload: r})
}
