package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_sessions_active",
		Help: "Currently active voice sessions",
	})

	SessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_sessions_total",
		Help: "Total voice sessions accepted",
	})

	FramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_frames_processed_total",
		Help: "Frames submitted to a pipeline, by direction",
	}, []string{"direction"})

	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wire_messages_dropped_total",
		Help: "Inbound wire messages dropped by the codec, by reason",
	}, []string{"reason"})

	StageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_stage_errors_total",
		Help: "Frame traversals aborted by a stage error",
	}, []string{"direction", "stage"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_stage_duration_seconds",
		Help:    "Per-boundary latency (stt, llm, tts)",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0},
	}, []string{"stage"})

	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pipeline_turn_duration_seconds",
		Help:    "End-to-end latency from speech-end to first synthesized audio",
		Buckets: []float64{0.1, 0.2, 0.5, 0.8, 1.0, 1.5, 2.0, 3.0, 5.0},
	})

	SpeechSegments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vad_speech_segments_total",
		Help: "Speech segments detected by VAD",
	})

	TranscriptsFiltered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stt_transcripts_filtered_total",
		Help: "Transcripts dropped by the noise filter",
	})

	LookupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "orders_lookup_duration_seconds",
		Help:    "Order record lookup latency",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	})

	LookupFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_lookup_failures_total",
		Help: "Order lookups that did not return a record, by outcome",
	}, []string{"outcome"})

	TranscriptSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "transcript_subscribers",
		Help: "Currently registered transcript subscribers",
	})

	TranscriptEntries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transcript_entries_published_total",
		Help: "Transcript entries published to the hub",
	})

	SubscribersOverloaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transcript_subscribers_overloaded_total",
		Help: "Subscribers disconnected because their queue filled up",
	})

	BargeIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_barge_ins_total",
		Help: "Assistant responses preempted by new user speech",
	})
)
