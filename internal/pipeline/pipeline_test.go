package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/voicewire/gateway/internal/frame"
)

// fnStage builds a Stage from a function, for tests.
type fnStage struct {
	name string
	fn   func(frame.Frame) ([]frame.Frame, error)
}

func (s fnStage) Name() string { return s.name }
func (s fnStage) Process(_ context.Context, f frame.Frame) ([]frame.Frame, error) {
	return s.fn(f)
}

func passThrough(name string) Stage {
	return fnStage{name: name, fn: func(f frame.Frame) ([]frame.Frame, error) {
		return []frame.Frame{f}, nil
	}}
}

// collect runs a pipeline over the given frames and returns everything the
// sink received, in order.
func collect(t *testing.T, stages []Stage, frames ...frame.Frame) []frame.Frame {
	t.Helper()

	var got []frame.Frame
	done := make(chan struct{})

	p := New("test", stages, func(f frame.Frame) {
		got = append(got, f)
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer close(done)
		p.Run(ctx)
	}()

	for _, f := range frames {
		p.Submit(f)
	}

	// The sink appends on the pipeline goroutine; poll until the input
	// queue has drained, then stop.
	deadline := time.After(2 * time.Second)
	for len(p.in) > 0 {
		select {
		case <-deadline:
			t.Fatal("pipeline did not drain")
		case <-time.After(time.Millisecond):
		}
	}
	time.Sleep(10 * time.Millisecond)
	cancel()
	<-done

	return got
}

func TestPipelinePreservesOrder(t *testing.T) {
	t.Parallel()

	var in []frame.Frame
	for i := 0; i < 20; i++ {
		in = append(in, frame.TextTurn{Role: frame.RoleUser, Text: fmt.Sprintf("turn %d", i)})
	}

	got := collect(t, []Stage{passThrough("a"), passThrough("b")}, in...)

	if len(got) != len(in) {
		t.Fatalf("got %d frames, want %d", len(got), len(in))
	}
	for i, f := range got {
		turn := f.(frame.TextTurn)
		if want := fmt.Sprintf("turn %d", i); turn.Text != want {
			t.Errorf("frame %d: got %q, want %q", i, turn.Text, want)
		}
	}
}

func TestPipelineFanOutDepthFirst(t *testing.T) {
	t.Parallel()

	// First stage splits each turn into two; both must reach the sink in
	// production order, before the next input frame's outputs.
	split := fnStage{name: "split", fn: func(f frame.Frame) ([]frame.Frame, error) {
		turn := f.(frame.TextTurn)
		return []frame.Frame{
			frame.TextTurn{Role: turn.Role, Text: turn.Text + "/1"},
			frame.TextTurn{Role: turn.Role, Text: turn.Text + "/2"},
		}, nil
	}}

	got := collect(t, []Stage{split, passThrough("tail")},
		frame.TextTurn{Role: frame.RoleUser, Text: "a"},
		frame.TextTurn{Role: frame.RoleUser, Text: "b"},
	)

	want := []string{"a/1", "a/2", "b/1", "b/2"}
	if len(got) != len(want) {
		t.Fatalf("got %d frames, want %d", len(got), len(want))
	}
	for i, f := range got {
		if turn := f.(frame.TextTurn); turn.Text != want[i] {
			t.Errorf("frame %d: got %q, want %q", i, turn.Text, want[i])
		}
	}
}

func TestPipelineDropsFrames(t *testing.T) {
	t.Parallel()

	drop := fnStage{name: "drop", fn: func(f frame.Frame) ([]frame.Frame, error) {
		return nil, nil
	}}

	got := collect(t, []Stage{drop}, frame.TextTurn{Text: "x"}, frame.TextTurn{Text: "y"})
	if len(got) != 0 {
		t.Fatalf("got %d frames, want none", len(got))
	}
}

func TestPipelineStageErrorIsolatesFrame(t *testing.T) {
	t.Parallel()

	failOn := "bad"
	flaky := fnStage{name: "flaky", fn: func(f frame.Frame) ([]frame.Frame, error) {
		if turn, ok := f.(frame.TextTurn); ok && turn.Text == failOn {
			return nil, errors.New("boom")
		}
		return []frame.Frame{f}, nil
	}}

	got := collect(t, []Stage{flaky, passThrough("tail")},
		frame.TextTurn{Role: frame.RoleUser, Text: "ok1"},
		frame.TextTurn{Role: frame.RoleUser, Text: "bad"},
		frame.TextTurn{Role: frame.RoleUser, Text: "ok2"},
	)

	if len(got) != 3 {
		t.Fatalf("got %d frames, want 3", len(got))
	}

	ev, ok := got[1].(frame.ControlEvent)
	if !ok || ev.Kind != frame.ControlError {
		t.Fatalf("frame 1: got %#v, want error control event", got[1])
	}
	if !strings.Contains(ev.Message, "flaky") || !strings.Contains(ev.Message, "boom") {
		t.Errorf("error message %q missing stage name or cause", ev.Message)
	}

	// Frames before and after the failure pass through untouched.
	if turn := got[0].(frame.TextTurn); turn.Text != "ok1" {
		t.Errorf("frame 0: got %q", turn.Text)
	}
	if turn := got[2].(frame.TextTurn); turn.Text != "ok2" {
		t.Errorf("frame 2: got %q", turn.Text)
	}
}

func TestPipelineForwardsFramesSalvagedFromError(t *testing.T) {
	t.Parallel()

	salvaging := fnStage{name: "salvaging", fn: func(f frame.Frame) ([]frame.Frame, error) {
		return []frame.Frame{f}, errors.New("boom")
	}}

	got := collect(t, []Stage{salvaging, passThrough("tail")},
		frame.TextTurn{Role: frame.RoleAssistant, Text: "done", Final: true},
	)

	if len(got) != 2 {
		t.Fatalf("got %d frames, want error event plus salvaged turn", len(got))
	}
	if ev, ok := got[0].(frame.ControlEvent); !ok || ev.Kind != frame.ControlError {
		t.Fatalf("frame 0: got %#v, want error control event", got[0])
	}
	if turn, ok := got[1].(frame.TextTurn); !ok || turn.Text != "done" {
		t.Fatalf("frame 1: got %#v, want the salvaged turn", got[1])
	}
}

func TestPipelineCommitsResponseDespiteSynthesisFailure(t *testing.T) {
	t.Parallel()

	agg := NewContextAggregator("persona")
	tts := ttsStageWith(&fakeSynth{err: errors.New("backend down")})

	got := collect(t, []Stage{tts, NewAssistantContextStage(agg)},
		frame.TextTurn{Role: frame.RoleAssistant, Text: "Arrives Friday"},
		frame.TextTurn{Role: frame.RoleAssistant, Text: "Arrives Friday", Final: true},
	)

	turns := agg.Snapshot()
	if len(turns) != 2 || turns[1].Content != "Arrives Friday" {
		t.Fatalf("aggregator turns = %+v, want committed assistant response", turns)
	}

	var sawFinal bool
	for _, f := range got {
		if turn, ok := f.(frame.TextTurn); ok && turn.Final {
			sawFinal = true
		}
	}
	if !sawFinal {
		t.Fatal("final assistant turn never reached the sink")
	}
}

func TestSubmitAfterStopIsNoop(t *testing.T) {
	t.Parallel()

	p := New("test", []Stage{passThrough("a")}, func(frame.Frame) {})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()
	cancel()
	<-done

	// Must not block or panic.
	p.Submit(frame.TextTurn{Text: "late"})
}

func TestAudioLogStagePassesEverythingThrough(t *testing.T) {
	t.Parallel()

	stage := NewAudioLogStage()
	inputs := []frame.Frame{
		frame.AudioChunk{PCM: make([]byte, 320), SampleRate: 16000, Channels: 1},
		frame.TextTurn{Role: frame.RoleUser, Text: "hello", Final: true},
		frame.StateChange(frame.StateListening),
	}
	for _, in := range inputs {
		out, err := stage.Process(context.Background(), in)
		if err != nil {
			t.Fatal(err)
		}
		if len(out) != 1 {
			t.Fatalf("got %d frames for %T, want passthrough", len(out), in)
		}
	}
	if stage.chunks != 1 || stage.totalBytes != 320 {
		t.Errorf("counted %d chunks / %d bytes, want 1 / 320", stage.chunks, stage.totalBytes)
	}
}
