package pipeline

import (
	"context"
	"sync"

	"github.com/voicewire/gateway/internal/frame"
)

// StateMachine tracks a session's conversation state. Both pipeline
// directions apply events to the same machine, so mutation is serialized
// with a mutex. Transitions to the already-current state are no-ops.
type StateMachine struct {
	mu    sync.Mutex
	state frame.State
}

// NewStateMachine starts in the idle state.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: frame.StateIdle}
}

// Current returns the current state.
func (m *StateMachine) Current() frame.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Apply consumes a lifecycle event and reports the resulting transition.
// It returns the state-change event to emit downstream and true when the
// state actually changed; idempotent or invalid events return false.
func (m *StateMachine) Apply(kind frame.ControlKind) (frame.ControlEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, ok := m.next(kind)
	if !ok || next == m.state {
		return frame.ControlEvent{}, false
	}
	m.state = next
	return frame.StateChange(next), true
}

func (m *StateMachine) next(kind frame.ControlKind) (frame.State, bool) {
	switch kind {
	case frame.ControlUserSpeechStart:
		// Speech onset always yields listening, including barge-in from
		// responding and recovery from a processing turn that produced
		// no usable transcript.
		return frame.StateListening, true
	case frame.ControlUserSpeechEnd:
		if m.state == frame.StateListening {
			return frame.StateProcessing, true
		}
	case frame.ControlBotSpeechStart:
		if m.state == frame.StateProcessing {
			return frame.StateResponding, true
		}
	case frame.ControlBotSpeechEnd:
		if m.state == frame.StateResponding {
			return frame.StateListening, true
		}
	}
	return "", false
}

// Reset forces the machine into the given state. Used on session teardown
// and after an external-service error, where the client must still receive
// a truthful state update.
func (m *StateMachine) Reset(s frame.State) frame.ControlEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
	return frame.StateChange(s)
}

// StateStage applies user-side lifecycle events to the session's state
// machine and emits the resulting state-change events downstream, after
// the event that caused them.
type StateStage struct {
	machine *StateMachine
}

// NewStateStage creates the inbound-direction state stage.
func NewStateStage(machine *StateMachine) *StateStage {
	return &StateStage{machine: machine}
}

func (s *StateStage) Name() string { return "state" }

func (s *StateStage) Process(_ context.Context, f frame.Frame) ([]frame.Frame, error) {
	ev, ok := f.(frame.ControlEvent)
	if !ok {
		return []frame.Frame{f}, nil
	}

	switch ev.Kind {
	case frame.ControlUserSpeechStart, frame.ControlUserSpeechEnd:
		if change, changed := s.machine.Apply(ev.Kind); changed {
			return []frame.Frame{f, change}, nil
		}
	}
	return []frame.Frame{f}, nil
}

// BotStateStage applies assistant-side lifecycle events on the outbound
// direction: first language-model output moves processing to responding,
// synthesis completion moves responding back to listening, and a boundary
// error forces idle.
type BotStateStage struct {
	machine *StateMachine
}

// NewBotStateStage creates the outbound-direction state stage.
func NewBotStateStage(machine *StateMachine) *BotStateStage {
	return &BotStateStage{machine: machine}
}

func (s *BotStateStage) Name() string { return "bot_state" }

func (s *BotStateStage) Process(_ context.Context, f frame.Frame) ([]frame.Frame, error) {
	switch v := f.(type) {
	case frame.ControlEvent:
		switch v.Kind {
		case frame.ControlBotSpeechStart, frame.ControlBotSpeechEnd:
			if change, changed := s.machine.Apply(v.Kind); changed {
				return []frame.Frame{f, change}, nil
			}
		case frame.ControlError:
			// Errors reaching the outbound direction come from the external
			// boundaries. Force idle so the client never freezes on a stale
			// state; the next speech onset recovers to listening.
			if s.machine.Current() != frame.StateIdle {
				return []frame.Frame{f, s.machine.Reset(frame.StateIdle)}, nil
			}
		}
	case frame.TextTurn:
		// A response that finished without ever producing speech (empty or
		// canceled before the first sentence) would otherwise strand the
		// session in processing.
		if v.Role == frame.RoleAssistant && v.Final && s.machine.Current() == frame.StateProcessing {
			return []frame.Frame{f, s.machine.Reset(frame.StateListening)}, nil
		}
	}
	return []frame.Frame{f}, nil
}
