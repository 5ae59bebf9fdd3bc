// Package frame defines the typed units of data that flow through a
// session's pipelines: audio chunks, text turns, control events, and
// injected system notes. Frames are immutable once constructed and belong
// to exactly one pipeline traversal.
package frame

// Role identifies the author of a text turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// State is the conversation state of a session.
type State string

const (
	StateIdle       State = "idle"
	StateListening  State = "listening"
	StateProcessing State = "processing"
	StateResponding State = "responding"
)

// ControlKind identifies a lifecycle or signaling event.
type ControlKind string

const (
	ControlUserSpeechStart ControlKind = "user_speech_start"
	ControlUserSpeechEnd   ControlKind = "user_speech_end"
	ControlBotSpeechStart  ControlKind = "bot_speech_start"
	ControlBotSpeechEnd    ControlKind = "bot_speech_end"
	ControlStateChange     ControlKind = "state_change"
	ControlError           ControlKind = "error"
)

// Frame is the unit of pipeline data. The concrete types are AudioChunk,
// TextTurn, ControlEvent, and SystemNote.
type Frame interface {
	isFrame()
}

// AudioChunk carries raw little-endian 16-bit PCM samples.
type AudioChunk struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// TextTurn carries one utterance or a streamed fragment of one.
// Final marks a committed turn; streamed assistant fragments have Final=false
// and the closing frame carries the full accumulated text with Final=true.
type TextTurn struct {
	Role  Role
	Text  string
	Final bool
}

// ControlEvent signals a lifecycle event. State is set for state-change
// events, Message for error events.
type ControlEvent struct {
	Kind    ControlKind
	State   State
	Message string
}

// SystemNote is injected context destined for the language model. It is
// never shown to the end user directly.
type SystemNote struct {
	Text string
}

func (AudioChunk) isFrame()   {}
func (TextTurn) isFrame()     {}
func (ControlEvent) isFrame() {}
func (SystemNote) isFrame()   {}

// StateChange builds the control event emitted on a state transition.
func StateChange(s State) ControlEvent {
	return ControlEvent{Kind: ControlStateChange, State: s}
}

// Error builds the control event emitted when a stage or boundary fails.
func Error(msg string) ControlEvent {
	return ControlEvent{Kind: ControlError, Message: msg}
}
