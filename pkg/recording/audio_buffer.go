package recording

import (
	"context"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/callrecorder/pkg/metrics"
	"github.com/xaionaro-go/callrecorder/pkg/recording/types"
	"github.com/xaionaro-go/xsync"
)

// ReanchorThreshold is the gap (in seconds) between the expected and the
// actual timestamp of an incoming unit after which an accumulator
// restarts its timeline from the unit's timestamp, dropping the pending
// samples shorter than a chunk.
const ReanchorThreshold = 0.25

type trackAccumulator struct {
	samples     []int16
	anchored    bool
	anchorTime  float64
	flushCount  int
	participant string
	source      types.AudioSource
}

func (acc *trackAccumulator) bufferStartTime() float64 {
	return acc.anchorTime + float64(acc.flushCount)*types.ChunkDuration
}

func (acc *trackAccumulator) expectedNextTimestamp() float64 {
	return acc.bufferStartTime() + float64(len(acc.samples))/float64(types.SampleRate*types.Channels)
}

func (acc *trackAccumulator) reanchor(ts float64) {
	acc.samples = acc.samples[:0]
	acc.anchorTime = ts
	acc.flushCount = 0
	acc.anchored = true
}

// AudioBuffer holds a fixed-size sample accumulator per (participant,
// source) and the ordered list of chunks flushed from them.
type AudioBuffer struct {
	locker       xsync.Mutex
	accumulators map[types.TrackKey]*trackAccumulator
	chunks       []types.AudioChunk
	frozen       bool
}

// Append adds interleaved stereo samples received at the given timestamp
// and flushes every complete AudioBufferSamples block into a chunk.
//
// Returns the amount of chunks flushed and false if the buffer is frozen.
func (b *AudioBuffer) Append(
	ctx context.Context,
	participantID string,
	source types.AudioSource,
	timestamp float64,
	samples []int16,
) (int, bool) {
	if len(samples) == 0 {
		return 0, true
	}
	key := types.AudioTrackKey(participantID, source)
	var (
		flushed    int
		discarded  int
		reanchored bool
	)
	ok := xsync.DoR1(xsync.WithNoLogging(ctx, true), &b.locker, func() bool {
		if b.frozen {
			return false
		}
		if b.accumulators == nil {
			b.accumulators = map[types.TrackKey]*trackAccumulator{}
		}
		acc := b.accumulators[key]
		if acc == nil {
			acc = &trackAccumulator{
				samples:     make([]int16, 0, types.AudioBufferSamples*2),
				participant: participantID,
				source:      source,
			}
			b.accumulators[key] = acc
		}

		switch {
		case !acc.anchored:
			acc.reanchor(timestamp)
		case timestamp-acc.expectedNextTimestamp() > ReanchorThreshold:
			discarded = len(acc.samples)
			acc.reanchor(timestamp)
			reanchored = true
		}

		acc.samples = append(acc.samples, samples...)
		for len(acc.samples) >= types.AudioBufferSamples {
			chunkSamples := make([]int16, types.AudioBufferSamples)
			copy(chunkSamples, acc.samples)
			b.chunks = append(b.chunks, types.AudioChunk{
				Timestamp:     acc.bufferStartTime(),
				Samples:       chunkSamples,
				ParticipantID: participantID,
				Source:        source,
			})
			acc.flushCount++
			n := copy(acc.samples, acc.samples[types.AudioBufferSamples:])
			acc.samples = acc.samples[:n]
			flushed++
		}
		return true
	})
	if reanchored {
		logger.Debugf(ctx, "audio track %s resumed after a gap at %.3fs, discarded %d pending samples", key, timestamp, discarded)
	}
	if flushed > 0 {
		metrics.AudioChunksFlushed.WithLabelValues(source.String()).Add(float64(flushed))
	}
	return flushed, ok
}

// Freeze forbids further appends and hands over the flushed chunks.
// Samples not yet forming a complete chunk are discarded.
func (b *AudioBuffer) Freeze(ctx context.Context) []types.AudioChunk {
	var pending int
	chunks := xsync.DoR1(ctx, &b.locker, func() []types.AudioChunk {
		b.frozen = true
		for _, acc := range b.accumulators {
			pending += len(acc.samples)
		}
		b.accumulators = nil
		chunks := b.chunks
		b.chunks = nil
		return chunks
	})
	if pending > 0 {
		logger.Debugf(ctx, "discarded %d samples that did not fill a complete chunk", pending)
	}
	return chunks
}

func (b *AudioBuffer) Len(ctx context.Context) int {
	return xsync.DoR1(ctx, &b.locker, func() int {
		return len(b.chunks)
	})
}
