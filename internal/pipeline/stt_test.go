package pipeline

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/voicewire/gateway/internal/audio"
	"github.com/voicewire/gateway/internal/frame"
)

func TestIsNoiseTranscript(t *testing.T) {
	t.Parallel()

	noisy := []string{"*crunching*", "[noise]", "(static)", "you", "Um", "BREATHING"}
	for _, text := range noisy {
		if !isNoiseTranscript(text) {
			t.Errorf("isNoiseTranscript(%q) = false, want true", text)
		}
	}

	clean := []string{"where is my order", "you there?", "the charger broke", "order 1001"}
	for _, text := range clean {
		if isNoiseTranscript(text) {
			t.Errorf("isNoiseTranscript(%q) = true, want false", text)
		}
	}
}

// fakeTranscriber returns a canned result.
type fakeTranscriber struct {
	result TranscribeResult
	err    error
	calls  int
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ []float32) (*TranscribeResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	r := f.result
	return &r, nil
}

func sttStageWith(result TranscribeResult) (*STTStage, *fakeTranscriber) {
	ft := &fakeTranscriber{result: result}
	router := NewSTTRouter(map[string]Transcriber{"fake": ft}, "fake")
	return NewSTTStage(router, "fake", 0.6), ft
}

func segment() frame.AudioChunk {
	samples := make([]float32, 1600)
	return frame.AudioChunk{PCM: audio.EncodePCM16(samples), SampleRate: 16000, Channels: 1}
}

func TestSTTStageEmitsFinalUserTurn(t *testing.T) {
	t.Parallel()

	stage, _ := sttStageWith(TranscribeResult{Text: " where is my order ", NoSpeechProb: 0.1})
	out, err := stage.Process(context.Background(), segment())
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d frames, want 1", len(out))
	}
	turn := out[0].(frame.TextTurn)
	if turn.Role != frame.RoleUser || !turn.Final {
		t.Errorf("turn %+v, want final user turn", turn)
	}
	if turn.Text != "where is my order" {
		t.Errorf("text %q not trimmed", turn.Text)
	}
}

func TestSTTStageFilters(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		result TranscribeResult
	}{
		{"empty", TranscribeResult{Text: "  "}},
		{"noise annotation", TranscribeResult{Text: "[background noise]"}},
		{"hallucinated filler", TranscribeResult{Text: "you"}},
		{"high no-speech prob", TranscribeResult{Text: "hello", NoSpeechProb: 0.9}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stage, _ := sttStageWith(tc.result)
			out, err := stage.Process(context.Background(), segment())
			if err != nil {
				t.Fatal(err)
			}
			if len(out) != 0 {
				t.Errorf("got %d frames, want filtered", len(out))
			}
		})
	}
}

func TestSTTStagePassesNonAudioFrames(t *testing.T) {
	t.Parallel()

	stage, ft := sttStageWith(TranscribeResult{Text: "hi"})
	ev := frame.ControlEvent{Kind: frame.ControlUserSpeechEnd}
	out, err := stage.Process(context.Background(), ev)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0] != frame.Frame(ev) {
		t.Fatalf("control event did not pass through: %#v", out)
	}
	if ft.calls != 0 {
		t.Error("transcriber ran for a non-audio frame")
	}
}

func TestWhisperTranscriber(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" {
			t.Errorf("path %q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		if header.Filename != "audio.wav" {
			t.Errorf("filename %q", header.Filename)
		}
		json.NewEncoder(w).Encode(whisperResponse{Text: "hello world", NoSpeechProb: 0.05})
	}))
	defer srv.Close()

	tr := NewWhisperTranscriber(srv.URL, 2)
	result, err := tr.Transcribe(context.Background(), make([]float32, 1600))
	if err != nil {
		t.Fatal(err)
	}
	if result.Text != "hello world" || result.NoSpeechProb != 0.05 {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestWhisperTranscriberErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tr := NewWhisperTranscriber(srv.URL, 2)
	if _, err := tr.Transcribe(context.Background(), make([]float32, 160)); err == nil {
		t.Fatal("expected error on 503")
	}
}

// loudChunk returns 100ms of audible tone at the given rate.
func loudChunk(rate int) frame.AudioChunk {
	n := rate / 10
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = 0.5 * float32(math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	return frame.AudioChunk{PCM: audio.EncodePCM16(samples), SampleRate: rate, Channels: 1}
}

func silentChunk(rate int) frame.AudioChunk {
	return frame.AudioChunk{PCM: audio.EncodePCM16(make([]float32, rate/10)), SampleRate: rate, Channels: 1}
}

func TestVADStageDetectsSegment(t *testing.T) {
	t.Parallel()

	cfg := audio.VADConfig{
		SpeechThresholdDB: -30,
		SilenceTimeout:    20 * time.Millisecond,
		MinSpeechDuration: 10 * time.Millisecond,
		PreSpeechBuffer:   50 * time.Millisecond,
		SampleRate:        16000,
	}
	stage := NewVADStage(cfg)
	ctx := context.Background()

	out, err := stage.Process(ctx, loudChunk(16000))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("onset: got %d frames, want speech start", len(out))
	}
	if ev := out[0].(frame.ControlEvent); ev.Kind != frame.ControlUserSpeechStart {
		t.Fatalf("onset event %+v", ev)
	}

	// More speech: no duplicate onset.
	time.Sleep(15 * time.Millisecond)
	out, _ = stage.Process(ctx, loudChunk(16000))
	if len(out) != 0 {
		t.Fatalf("continued speech emitted %d frames", len(out))
	}

	// Silence past the timeout closes the segment.
	time.Sleep(30 * time.Millisecond)
	out, err = stage.Process(ctx, silentChunk(16000))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("offset: got %d frames, want end event plus segment", len(out))
	}
	if ev := out[0].(frame.ControlEvent); ev.Kind != frame.ControlUserSpeechEnd {
		t.Errorf("offset event %+v", ev)
	}
	seg := out[1].(frame.AudioChunk)
	if seg.SampleRate != 16000 || len(seg.PCM) == 0 {
		t.Errorf("segment %d bytes at %d Hz", len(seg.PCM), seg.SampleRate)
	}
}

func TestVADStageSilenceProducesNothing(t *testing.T) {
	t.Parallel()

	stage := NewVADStage(audio.DefaultVADConfig())
	for i := 0; i < 5; i++ {
		out, err := stage.Process(context.Background(), silentChunk(16000))
		if err != nil {
			t.Fatal(err)
		}
		if len(out) != 0 {
			t.Fatalf("silence emitted %d frames", len(out))
		}
	}
}

func TestVADStageResamplesInput(t *testing.T) {
	t.Parallel()

	cfg := audio.VADConfig{
		SpeechThresholdDB: -30,
		SilenceTimeout:    20 * time.Millisecond,
		MinSpeechDuration: 10 * time.Millisecond,
		PreSpeechBuffer:   50 * time.Millisecond,
		SampleRate:        16000,
	}
	stage := NewVADStage(cfg)
	ctx := context.Background()

	// 8kHz input still yields a 16kHz segment.
	stage.Process(ctx, loudChunk(8000))
	time.Sleep(15 * time.Millisecond)
	stage.Process(ctx, loudChunk(8000))
	time.Sleep(30 * time.Millisecond)
	out, err := stage.Process(ctx, silentChunk(8000))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d frames, want end event plus segment", len(out))
	}
	if seg := out[1].(frame.AudioChunk); seg.SampleRate != 16000 {
		t.Errorf("segment rate %d, want 16000", seg.SampleRate)
	}
}
