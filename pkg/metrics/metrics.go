package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "callrecorder"

var (
	FramesCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "frames_total",
		Help:      "Video frames appended to recording sessions.",
	}, []string{"source"})

	FramesRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "frames_rate_limited_total",
		Help:      "Video frames dropped because they arrived faster than the target frame rate.",
	})

	AudioChunksFlushed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "audio_chunks_total",
		Help:      "Audio chunks flushed from track accumulators.",
	}, []string{"source"})

	CaptureDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "dropped_units_total",
		Help:      "Malformed frames or sample buffers dropped during capture.",
	}, []string{"kind"})

	DuplicateTracks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "duplicate_tracks_total",
		Help:      "Tracks ignored because another track already occupies the same participant and source.",
	})

	GPUBusyPolls = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gpu",
		Name:      "busy_polls_total",
		Help:      "GPU telemetry polls that reported the GPU as busy.",
	})

	GPUTelemetryErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gpu",
		Name:      "telemetry_errors_total",
		Help:      "GPU telemetry queries that failed (treated as busy).",
	})

	GPUWaitSeconds = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gpu",
		Name:      "wait_seconds_total",
		Help:      "Time spent waiting for the GPU to become free.",
	})

	GPUWaiting = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "gpu",
		Name:      "waiting",
		Help:      "Amount of goroutines currently waiting for the GPU.",
	})

	GPUWaitStalls = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gpu",
		Name:      "wait_stalls_total",
		Help:      "GPU waits that exceeded the stall warning threshold.",
	})

	EncoderPauses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "pauses_total",
		Help:      "Encoder processes paused because of GPU contention.",
	})

	EncoderFramesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "frames_written_total",
		Help:      "Frames written to encoder pipes.",
	}, []string{"kind"})

	EncoderSegments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "segments_total",
		Help:      "Encoded segments by outcome.",
	}, []string{"result"})

	AudioClippedRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "mixer",
		Name:      "clipped_ratio",
		Help:      "Share of clipped samples in the last mixed track.",
	})

	JobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "jobs_in_flight",
		Help:      "Finalization jobs currently queued or running.",
	})

	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "jobs_finished_total",
		Help:      "Finalization jobs by outcome.",
	}, []string{"result"})
)
