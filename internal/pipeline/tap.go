package pipeline

import (
	"context"

	"github.com/voicewire/gateway/internal/frame"
	"github.com/voicewire/gateway/internal/transcript"
)

// TranscriptStage publishes completed turns for one role to the transcript
// hub. Frames pass through untouched; the hub never sees partial turns.
type TranscriptStage struct {
	hub       *transcript.Hub
	sessionID string
	role      frame.Role
}

// NewTranscriptStage creates a transcript tap for the given role.
func NewTranscriptStage(hub *transcript.Hub, sessionID string, role frame.Role) *TranscriptStage {
	return &TranscriptStage{hub: hub, sessionID: sessionID, role: role}
}

func (s *TranscriptStage) Name() string { return "transcript_" + string(s.role) }

func (s *TranscriptStage) Process(_ context.Context, f frame.Frame) ([]frame.Frame, error) {
	turn, ok := f.(frame.TextTurn)
	if ok && turn.Role == s.role && turn.Final && turn.Text != "" {
		s.hub.Publish(s.sessionID, string(turn.Role), turn.Text)
	}
	return []frame.Frame{f}, nil
}
