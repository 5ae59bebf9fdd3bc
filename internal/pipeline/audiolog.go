package pipeline

import (
	"context"
	"log/slog"

	"github.com/voicewire/gateway/internal/frame"
)

// audioLogInterval spaces out chunk logging so a steady audio stream does
// not flood the logs.
const audioLogInterval = 50

// AudioLogStage counts inbound audio chunks and bytes, logging every
// fiftieth chunk. All frames pass through unchanged.
type AudioLogStage struct {
	chunks     int64
	totalBytes int64
}

// NewAudioLogStage creates the inbound audio accounting stage.
func NewAudioLogStage() *AudioLogStage {
	return &AudioLogStage{}
}

func (s *AudioLogStage) Name() string { return "audio_log" }

func (s *AudioLogStage) Process(_ context.Context, f frame.Frame) ([]frame.Frame, error) {
	if chunk, ok := f.(frame.AudioChunk); ok {
		s.chunks++
		s.totalBytes += int64(len(chunk.PCM))
		if s.chunks%audioLogInterval == 1 {
			slog.Debug("receiving audio",
				"chunk", s.chunks,
				"size_bytes", len(chunk.PCM),
				"sample_rate", chunk.SampleRate,
				"total_kb", s.totalBytes/1024)
		}
	}
	return []frame.Frame{f}, nil
}
