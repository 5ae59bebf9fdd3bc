// Package wire translates between the browser-facing JSON message format
// and internal frames. Translation is pure: no I/O, no session state.
//
// Two outer shapes are recognized:
//
//	{"type":"audio","data":"<base64 PCM>","sample_rate":16000,"channels":1}
//	{"type":"message","data":<string or object>}
//
// The "message" payload carries a nested discriminated object (possibly
// JSON-encoded as a string) with its own "type": state, text, error, or note.
package wire

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/voicewire/gateway/internal/frame"
)

// DefaultSampleRate is assumed when an audio message omits sample_rate.
const DefaultSampleRate = 16000

// MalformedMessageError reports a message whose declared kind does not match
// its field set. The offending message is dropped; the session continues.
type MalformedMessageError struct {
	Reason string
}

func (e *MalformedMessageError) Error() string {
	return "malformed message: " + e.Reason
}

// InvalidEncodingError reports an audio payload that is not valid base64.
type InvalidEncodingError struct {
	Err error
}

func (e *InvalidEncodingError) Error() string {
	return "invalid audio encoding: " + e.Err.Error()
}

func (e *InvalidEncodingError) Unwrap() error { return e.Err }

// envelope is the outer wire shape.
type envelope struct {
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data"`
	SampleRate int             `json:"sample_rate,omitempty"`
	Channels   int             `json:"channels,omitempty"`
}

// payload is the nested shape under "message".
type payload struct {
	Type    string     `json:"type"`
	Value   string     `json:"value,omitempty"`
	Role    frame.Role `json:"role,omitempty"`
	Text    string     `json:"text,omitempty"`
	Final   bool       `json:"final,omitempty"`
	Message string     `json:"message,omitempty"`
}

// Decode parses one wire message into a frame. Errors are always
// *MalformedMessageError or *InvalidEncodingError; both mean "drop this
// message", never "kill the session".
func Decode(data []byte) (frame.Frame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &MalformedMessageError{Reason: err.Error()}
	}

	switch env.Type {
	case "audio":
		return decodeAudio(env)
	case "message":
		return decodeMessage(env.Data)
	default:
		return nil, &MalformedMessageError{Reason: fmt.Sprintf("unknown type %q", env.Type)}
	}
}

func decodeAudio(env envelope) (frame.Frame, error) {
	var b64 string
	if err := json.Unmarshal(env.Data, &b64); err != nil {
		return nil, &MalformedMessageError{Reason: "audio data is not a string"}
	}

	// An empty payload is valid base64 for zero bytes; silence-suppressing
	// clients may send it, and every chunk Encode produces must decode.
	pcm, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, &InvalidEncodingError{Err: err}
	}

	rate := env.SampleRate
	if rate <= 0 {
		rate = DefaultSampleRate
	}
	channels := env.Channels
	if channels <= 0 {
		channels = 1
	}

	return frame.AudioChunk{PCM: pcm, SampleRate: rate, Channels: channels}, nil
}

// decodeMessage handles the nested payload, which arrives either as a JSON
// object or as a JSON-encoded string containing one.
func decodeMessage(raw json.RawMessage) (frame.Frame, error) {
	if len(raw) == 0 {
		return nil, &MalformedMessageError{Reason: "message has no data"}
	}

	inner := raw
	var asString string
	if json.Unmarshal(raw, &asString) == nil {
		inner = []byte(asString)
	}

	var p payload
	if err := json.Unmarshal(inner, &p); err != nil {
		return nil, &MalformedMessageError{Reason: "message data is not a recognized object"}
	}

	switch p.Type {
	case "state":
		return frame.ControlEvent{Kind: frame.ControlStateChange, State: frame.State(p.Value)}, nil
	case "text":
		role := p.Role
		if role == "" {
			role = frame.RoleUser
		}
		return frame.TextTurn{Role: role, Text: p.Text, Final: p.Final}, nil
	case "error":
		return frame.ControlEvent{Kind: frame.ControlError, Message: p.Message}, nil
	case "note":
		return frame.SystemNote{Text: p.Text}, nil
	default:
		return nil, &MalformedMessageError{Reason: fmt.Sprintf("unknown message type %q", p.Type)}
	}
}

// Encode renders a frame as one wire message. Audio is base64 PCM with its
// rate and channel count; everything else is wrapped under "message" with
// the nested payload JSON-encoded as a string, mirroring what Decode accepts.
func Encode(f frame.Frame) ([]byte, error) {
	switch v := f.(type) {
	case frame.AudioChunk:
		return json.Marshal(struct {
			Type       string `json:"type"`
			Data       string `json:"data"`
			SampleRate int    `json:"sample_rate"`
			Channels   int    `json:"channels"`
		}{
			Type:       "audio",
			Data:       base64.StdEncoding.EncodeToString(v.PCM),
			SampleRate: v.SampleRate,
			Channels:   v.Channels,
		})
	case frame.TextTurn:
		return encodePayload(payload{Type: "text", Role: v.Role, Text: v.Text, Final: v.Final})
	case frame.ControlEvent:
		switch v.Kind {
		case frame.ControlStateChange:
			return encodePayload(payload{Type: "state", Value: string(v.State)})
		case frame.ControlError:
			return encodePayload(payload{Type: "error", Message: v.Message})
		default:
			return nil, fmt.Errorf("wire: control event %q has no wire form", v.Kind)
		}
	case frame.SystemNote:
		return encodePayload(payload{Type: "note", Text: v.Text})
	default:
		return nil, fmt.Errorf("wire: cannot encode frame of type %T", f)
	}
}

func encodePayload(p payload) ([]byte, error) {
	inner, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal payload: %w", err)
	}
	return json.Marshal(struct {
		Type string `json:"type"`
		Data string `json:"data"`
	}{Type: "message", Data: string(inner)})
}
