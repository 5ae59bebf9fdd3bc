package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/voicewire/gateway/internal/audio"
	"github.com/voicewire/gateway/internal/frame"
)

// fakeSynth records requested texts and returns a short WAV clip.
type fakeSynth struct {
	texts []string
	err   error
}

func (f *fakeSynth) SynthesizeAudio(_ context.Context, text string, _ TTSOptions) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.texts = append(f.texts, text)
	return audio.SamplesToWAV(make([]float32, 160), 22050), nil
}

func ttsStageWith(synth TTSSynthesizer) *TTSStage {
	router := NewTTSRouter(map[string]TTSSynthesizer{"fake": synth}, "fake")
	return NewTTSStage(router, "fake", TTSOptions{})
}

func assistantToken(text string) frame.TextTurn {
	return frame.TextTurn{Role: frame.RoleAssistant, Text: text}
}

func TestTTSStageSynthesizesPerSentence(t *testing.T) {
	t.Parallel()

	synth := &fakeSynth{}
	stage := ttsStageWith(synth)
	ctx := context.Background()

	// No boundary yet: token passes through, nothing synthesized.
	out, err := stage.Process(ctx, assistantToken("Your order "))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d frames before boundary", len(out))
	}

	// Boundary completes the first sentence: speech start, audio, token.
	out, err = stage.Process(ctx, assistantToken("shipped. It"))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Fatalf("got %d frames at boundary, want 3", len(out))
	}
	if ev := out[0].(frame.ControlEvent); ev.Kind != frame.ControlBotSpeechStart {
		t.Errorf("first frame %+v, want bot speech start", ev)
	}
	chunk := out[1].(frame.AudioChunk)
	if chunk.SampleRate != 22050 || len(chunk.PCM) == 0 {
		t.Errorf("audio %d bytes at %d Hz", len(chunk.PCM), chunk.SampleRate)
	}
	if len(synth.texts) != 1 || synth.texts[0] != "Your order shipped." {
		t.Errorf("synthesized %q", synth.texts)
	}

	// Remaining tokens accumulate until the final turn flushes them.
	out, err = stage.Process(ctx, assistantToken(" arrives Friday"))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d frames mid-sentence", len(out))
	}

	out, err = stage.Process(ctx, frame.TextTurn{Role: frame.RoleAssistant, Text: "Your order shipped. It arrives Friday", Final: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Fatalf("final: got %d frames, want audio, turn, speech end", len(out))
	}
	if _, ok := out[0].(frame.AudioChunk); !ok {
		t.Errorf("final frame 0: %#v, want audio", out[0])
	}
	if turn := out[1].(frame.TextTurn); !turn.Final {
		t.Errorf("final frame 1: %#v, want final turn", out[1])
	}
	if ev := out[2].(frame.ControlEvent); ev.Kind != frame.ControlBotSpeechEnd {
		t.Errorf("final frame 2: %#v, want bot speech end", out[2])
	}
	if want := "It arrives Friday"; synth.texts[1] != want {
		t.Errorf("flushed %q, want %q", synth.texts[1], want)
	}
}

func TestTTSStageBargeInDropsPendingText(t *testing.T) {
	t.Parallel()

	synth := &fakeSynth{}
	stage := ttsStageWith(synth)
	ctx := context.Background()

	stage.Process(ctx, assistantToken("First sentence. Second half"))

	// Barge-in resets the buffer; pending "Second half" is dropped.
	out, err := stage.Process(ctx, frame.ControlEvent{Kind: frame.ControlUserSpeechStart})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("barge-in emitted %d frames", len(out))
	}

	out, err = stage.Process(ctx, frame.TextTurn{Role: frame.RoleAssistant, Text: "First sentence. Second half", Final: true})
	if err != nil {
		t.Fatal(err)
	}
	// No buffered remainder, not speaking: just the turn.
	if len(out) != 1 {
		t.Fatalf("final after barge-in emitted %d frames", len(out))
	}
	if len(synth.texts) != 1 {
		t.Errorf("synthesized %q after barge-in", synth.texts)
	}
}

func TestTTSStageSynthesisErrorPropagates(t *testing.T) {
	t.Parallel()

	stage := ttsStageWith(&fakeSynth{err: errors.New("backend down")})
	out, err := stage.Process(context.Background(), assistantToken("Hello there. "))
	if err == nil {
		t.Fatal("expected error from failing backend")
	}
	// The fragment itself survives alongside the error.
	if len(out) != 1 {
		t.Fatalf("got %d frames with the error, want the fragment", len(out))
	}
	if turn, ok := out[0].(frame.TextTurn); !ok || turn.Text != "Hello there. " {
		t.Fatalf("salvaged frame = %#v, want the fragment turn", out[0])
	}
}

func TestTTSStageFinalTurnSurvivesSynthesisFailure(t *testing.T) {
	t.Parallel()

	synth := &fakeSynth{}
	stage := ttsStageWith(synth)
	ctx := context.Background()

	// First sentence synthesizes; the backend dies before the flush.
	if _, err := stage.Process(ctx, assistantToken("All good. Arrives")); err != nil {
		t.Fatal(err)
	}
	synth.err = errors.New("backend down")

	final := frame.TextTurn{Role: frame.RoleAssistant, Text: "All good. Arrives Friday", Final: true}
	out, err := stage.Process(ctx, final)
	if err == nil {
		t.Fatal("expected flush error")
	}
	if len(out) != 2 {
		t.Fatalf("got %d frames with the error, want turn plus speech end", len(out))
	}
	if turn, ok := out[0].(frame.TextTurn); !ok || !turn.Final {
		t.Fatalf("frame 0 = %#v, want the final turn", out[0])
	}
	if ev, ok := out[1].(frame.ControlEvent); !ok || ev.Kind != frame.ControlBotSpeechEnd {
		t.Fatalf("frame 1 = %#v, want bot speech end", out[1])
	}

	// Not speaking: only the turn comes back with the error.
	stage2 := ttsStageWith(&fakeSynth{err: errors.New("backend down")})
	stage2.Process(ctx, assistantToken("Arrives Friday"))
	out, err = stage2.Process(ctx, final)
	if err == nil {
		t.Fatal("expected flush error")
	}
	if len(out) != 1 {
		t.Fatalf("got %d frames, want just the final turn", len(out))
	}
}

func TestTTSStageIgnoresUserFrames(t *testing.T) {
	t.Parallel()

	synth := &fakeSynth{}
	stage := ttsStageWith(synth)

	out, err := stage.Process(context.Background(), frame.TextTurn{Role: frame.RoleUser, Text: "hello.", Final: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || len(synth.texts) != 0 {
		t.Fatalf("user turn was synthesized: %d frames, %q", len(out), synth.texts)
	}
}

func TestTTSRouterUnknownEngineFallsBack(t *testing.T) {
	t.Parallel()

	synth := &fakeSynth{}
	router := NewTTSRouter(map[string]TTSSynthesizer{"fake": synth}, "fake")

	result, err := router.Synthesize(context.Background(), "hi there", "missing", TTSOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Audio) == 0 {
		t.Error("fallback produced no audio")
	}
}
