// Package pipeline implements the frame pipeline that carries a session's
// audio and text between the wire codec and the speech, language-model, and
// synthesis boundaries. A session runs two pipelines, one per direction;
// each processes its frames on a single goroutine so relative frame order
// is preserved end to end within a direction.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/voicewire/gateway/internal/frame"
	"github.com/voicewire/gateway/internal/metrics"
)

// Stage is one unit of a pipeline. Process consumes a frame and returns
// zero or more frames for the next stage; frames returned alongside a
// non-nil error are forwarded after the resulting error event. Stages may
// hold internal state; the pipeline guarantees Process is never called
// concurrently.
type Stage interface {
	Name() string
	Process(ctx context.Context, f frame.Frame) ([]frame.Frame, error)
}

// Sink receives frames that leave the last stage.
type Sink func(frame.Frame)

// submitQueueSize bounds the head of each pipeline. Submit blocks when the
// queue is full, which backpressures the reader feeding this direction.
const submitQueueSize = 64

// Pipeline is an ordered chain of stages with a buffered head. Frames
// submitted to the head traverse every stage in order; outputs of one stage
// feed the next. A stage error converts the failing frame into an error
// control event for the remaining stages; any frames the stage returned
// alongside the error follow it, and the pipeline keeps accepting frames.
type Pipeline struct {
	direction string
	stages    []Stage
	sink      Sink
	in        chan frame.Frame
	stopped   chan struct{}
}

// New creates a pipeline. The direction label is used in logs and metrics.
func New(direction string, stages []Stage, sink Sink) *Pipeline {
	return &Pipeline{
		direction: direction,
		stages:    stages,
		sink:      sink,
		in:        make(chan frame.Frame, submitQueueSize),
		stopped:   make(chan struct{}),
	}
}

// Submit enqueues a frame at the head. It blocks while the queue is full
// and becomes a no-op once the pipeline has stopped.
func (p *Pipeline) Submit(f frame.Frame) {
	select {
	case p.in <- f:
	case <-p.stopped:
	}
}

// Run processes frames until ctx is canceled. It must be called exactly
// once, on its own goroutine.
func (p *Pipeline) Run(ctx context.Context) {
	defer close(p.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-p.in:
			metrics.FramesProcessed.WithLabelValues(p.direction).Inc()
			p.traverse(ctx, 0, f)
		}
	}
}

// traverse pushes a frame through stages [i:], depth-first so that a
// stage's outputs reach the sink in the order the stage produced them.
func (p *Pipeline) traverse(ctx context.Context, i int, f frame.Frame) {
	if i >= len(p.stages) {
		p.sink(f)
		return
	}

	stage := p.stages[i]
	out, err := stage.Process(ctx, f)
	if err != nil {
		metrics.StageErrors.WithLabelValues(p.direction, stage.Name()).Inc()
		slog.Error("stage failed", "direction", p.direction, "stage", stage.Name(), "error", err)
		// The error event goes first so downstream state settles before
		// any frames the stage salvaged from the failure.
		p.traverse(ctx, i+1, frame.Error(stage.Name()+": "+err.Error()))
	}

	for _, o := range out {
		p.traverse(ctx, i+1, o)
	}
}
