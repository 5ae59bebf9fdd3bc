package pipeline

import (
	"context"
	"strings"
	"sync"

	"github.com/voicewire/gateway/internal/frame"
)

// Turn is one entry of the conversation context handed to the language model.
type Turn struct {
	Role    frame.Role `json:"role"`
	Content string     `json:"content"`
}

// ContextAggregator is the append-only conversation history for one session.
// The first entry is always the base persona instruction, inserted at
// construction and never removed. Snapshot returns a copy, so callers can
// hold it across an LLM call while the pipelines keep appending.
type ContextAggregator struct {
	mu    sync.Mutex
	turns []Turn
}

// NewContextAggregator seeds the history with the persona system turn.
func NewContextAggregator(persona string) *ContextAggregator {
	return &ContextAggregator{
		turns: []Turn{{Role: frame.RoleSystem, Content: persona}},
	}
}

// AppendUser records a committed user utterance.
func (c *ContextAggregator) AppendUser(text string) {
	c.append(frame.RoleUser, text)
}

// AppendAssistant records a completed assistant response.
func (c *ContextAggregator) AppendAssistant(text string) {
	c.append(frame.RoleAssistant, text)
}

// AppendSystem records an injected system note.
func (c *ContextAggregator) AppendSystem(text string) {
	c.append(frame.RoleSystem, text)
}

func (c *ContextAggregator) append(role frame.Role, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, Turn{Role: role, Content: text})
}

// Snapshot returns the ordered history as it stands. The language-model
// boundary receives this verbatim; any context-length bounding is the
// model adapter's concern, not the aggregator's.
func (c *ContextAggregator) Snapshot() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Len returns the number of turns recorded so far.
func (c *ContextAggregator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}

// UserContextStage appends committed user turns and injected system notes
// to the aggregator, in arrival order, so a note emitted by the knowledge
// injector lands immediately before the user turn that triggered it.
type UserContextStage struct {
	agg *ContextAggregator
}

// NewUserContextStage creates the inbound-direction aggregator stage.
func NewUserContextStage(agg *ContextAggregator) *UserContextStage {
	return &UserContextStage{agg: agg}
}

func (s *UserContextStage) Name() string { return "context_user" }

func (s *UserContextStage) Process(_ context.Context, f frame.Frame) ([]frame.Frame, error) {
	switch v := f.(type) {
	case frame.TextTurn:
		if v.Role == frame.RoleUser && v.Final && v.Text != "" {
			s.agg.AppendUser(v.Text)
		}
	case frame.SystemNote:
		s.agg.AppendSystem(v.Text)
	}
	return []frame.Frame{f}, nil
}

// AssistantContextStage buffers streamed assistant fragments and commits
// one combined turn when the closing frame arrives. The closing frame
// carries the full text, so a response cut short by barge-in still commits
// exactly what was generated.
type AssistantContextStage struct {
	agg *ContextAggregator
	buf strings.Builder
}

// NewAssistantContextStage creates the outbound-direction aggregator stage.
func NewAssistantContextStage(agg *ContextAggregator) *AssistantContextStage {
	return &AssistantContextStage{agg: agg}
}

func (s *AssistantContextStage) Name() string { return "context_assistant" }

func (s *AssistantContextStage) Process(_ context.Context, f frame.Frame) ([]frame.Frame, error) {
	turn, ok := f.(frame.TextTurn)
	if !ok || turn.Role != frame.RoleAssistant {
		return []frame.Frame{f}, nil
	}

	if !turn.Final {
		s.buf.WriteString(turn.Text)
		return []frame.Frame{f}, nil
	}

	text := strings.TrimSpace(turn.Text)
	if text == "" {
		text = strings.TrimSpace(s.buf.String())
	}
	s.buf.Reset()
	if text != "" {
		s.agg.AppendAssistant(text)
	}
	return []frame.Frame{f}, nil
}
