package audio

import (
	"math"
	"time"
)

// VADConfig controls voice activity detection behavior.
type VADConfig struct {
	SpeechThresholdDB float64
	SilenceTimeout    time.Duration
	MinSpeechDuration time.Duration
	PreSpeechBuffer   time.Duration
	SampleRate        int
}

// DefaultVADConfig returns sensible defaults for call center audio.
func DefaultVADConfig() VADConfig {
	return VADConfig{
		SpeechThresholdDB: -30,
		SilenceTimeout:    1000 * time.Millisecond,
		MinSpeechDuration: 500 * time.Millisecond,
		PreSpeechBuffer:   300 * time.Millisecond,
		SampleRate:        16000,
	}
}

// VADResult holds the output of processing an audio chunk. SpeechStarted
// fires on the chunk where speech onset is first detected; SpeechEnded
// fires once the trailing silence exceeds the timeout, carrying the
// accumulated segment.
type VADResult struct {
	SpeechStarted bool
	SpeechEnded   bool
	Audio         []float32
}

// VAD segments a continuous sample stream into utterances using RMS
// energy. While quiet, a rolling pre-roll of recent samples is kept so
// the soft first syllable of an utterance is not clipped; once the
// energy crosses the threshold the pre-roll is prepended and everything
// accumulates until the trailing silence outlasts the timeout. Segments
// shorter than the minimum speech duration are discarded as noise
// bursts. Timing is wall clock, matching the live audio feed.
type VAD struct {
	cfg VADConfig

	voiced     bool
	onset      time.Time // when the current utterance began
	lastVoiced time.Time // last chunk above the threshold
	segment    []float32
	preRoll    []float32
	preRollCap int
}

// NewVAD creates a VAD with the given config.
func NewVAD(cfg VADConfig) *VAD {
	capSamples := int(cfg.PreSpeechBuffer.Seconds() * float64(cfg.SampleRate))
	return &VAD{
		cfg:        cfg,
		preRollCap: capSamples,
		preRoll:    make([]float32, 0, capSamples),
	}
}

// Process feeds an audio chunk into the VAD and returns completed speech segments.
func (v *VAD) Process(samples []float32) VADResult {
	now := time.Now()

	if energyDB(samples) >= v.cfg.SpeechThresholdDB {
		var res VADResult
		if !v.voiced {
			v.voiced = true
			v.onset = now
			v.segment = append(v.segment, v.preRoll...)
			res.SpeechStarted = true
		}
		v.lastVoiced = now
		v.segment = append(v.segment, samples...)
		v.preRoll = v.preRoll[:0]
		return res
	}

	// Quiet chunk. Keep the pre-roll fresh; if no utterance is open
	// there is nothing else to do.
	v.preRoll = append(v.preRoll, samples...)
	if over := len(v.preRoll) - v.preRollCap; over > 0 {
		v.preRoll = v.preRoll[over:]
	}
	if !v.voiced {
		return VADResult{}
	}

	// Trailing silence inside an open utterance stays part of it until
	// the timeout closes the segment.
	v.segment = append(v.segment, samples...)
	if now.Sub(v.lastVoiced) < v.cfg.SilenceTimeout {
		return VADResult{}
	}

	v.voiced = false
	if now.Sub(v.onset) < v.cfg.MinSpeechDuration {
		v.segment = v.segment[:0]
		return VADResult{}
	}

	seg := v.segment
	v.segment = nil
	return VADResult{SpeechEnded: true, Audio: seg}
}

// Flush returns any buffered speech audio and resets the VAD.
func (v *VAD) Flush() []float32 {
	if len(v.segment) == 0 {
		return nil
	}
	seg := v.segment
	v.segment = nil
	v.voiced = false
	return seg
}

// energyDB computes the RMS level of a chunk in decibels, floored at
// -100 for silence.
func energyDB(samples []float32) float64 {
	if len(samples) == 0 {
		return -100
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms < 1e-10 {
		return -100
	}
	return 20 * math.Log10(rms)
}
