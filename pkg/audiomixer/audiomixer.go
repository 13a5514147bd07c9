// Package audiomixer mixes the audio chunks of all participants into one
// stereo track of exactly the video's duration.
package audiomixer

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/callrecorder/pkg/audio/resampler"
	"github.com/xaionaro-go/callrecorder/pkg/metrics"
	"github.com/xaionaro-go/callrecorder/pkg/recording/types"
)

const (
	// SubSampleThreshold is the fractional sample offset above which a
	// chunk is interpolated onto the sample grid.
	SubSampleThreshold = 0.01

	// KneeLevel is the relative amplitude above which the compressor
	// engages.
	KneeLevel = 0.8

	// QuietPeakLevel is the relative peak below which the track is
	// boosted up to BoostTargetLevel.
	QuietPeakLevel   = 0.1
	BoostTargetLevel = 0.5

	fullScale = 32768.0
)

type Gain uint

const (
	GainUndefined = Gain(iota)
	GainPassthrough
	GainCompressed
	GainBoosted
	GainSilence
	EndOfGain
)

func (g Gain) String() string {
	switch g {
	case GainUndefined:
		return "<undefined>"
	case GainPassthrough:
		return "passthrough"
	case GainCompressed:
		return "compressed"
	case GainBoosted:
		return "boosted"
	case GainSilence:
		return "silence"
	default:
		return fmt.Sprintf("<unexpected_value_%d>", uint(g))
	}
}

type Result struct {
	// Samples is interleaved stereo of exactly ExpectedAudioSamples(totalFrames).
	Samples []int16

	ClippedPercent float64
	Gain           Gain

	// Resampled is true if the mixed length did not match the video and
	// was stretched or squeezed. Audio past the end of the video is
	// dropped, never squeezed in.
	Resampled    bool
	MixedSamples int
}

// Mix produces the audio track for a video of totalFrames frames. The
// result does not depend on the order of chunks.
func Mix(
	ctx context.Context,
	chunks []types.AudioChunk,
	totalFrames int,
) (_ret *Result, _err error) {
	logger.Debugf(ctx, "Mix(ctx, %d chunks, %d frames)", len(chunks), totalFrames)
	defer func() { logger.Debugf(ctx, "/Mix(ctx, %d chunks, %d frames): %v", len(chunks), totalFrames, _err) }()

	expected := types.ExpectedAudioSamples(totalFrames)
	if len(chunks) == 0 {
		logger.Infof(ctx, "no audio was captured, producing %d samples of silence", expected)
		return &Result{
			Samples: make([]int16, expected),
			Gain:    GainSilence,
		}, nil
	}

	sorted := sortChunks(chunks)
	mixed := accumulate(sorted, expected)
	gain := applyGain(mixed)
	samples, clipped := clip(mixed)

	result := &Result{
		Gain:         gain,
		MixedSamples: len(samples),
	}
	if len(samples) > 0 {
		result.ClippedPercent = float64(clipped) * 100 / float64(len(samples))
	}
	metrics.AudioClippedRatio.Set(result.ClippedPercent / 100)
	if result.ClippedPercent > 0 {
		logger.Warnf(ctx, "%.3f%% of the audio samples were clipped", result.ClippedPercent)
	}

	if len(samples) != expected {
		logger.Warnf(ctx, "the mixed audio has %d samples instead of %d, resampling", len(samples), expected)
		samples = resampler.ToLength(samples, types.Channels, expected/types.Channels)
		result.Resampled = true
	}
	result.Samples = samples
	return result, nil
}

func sortChunks(chunks []types.AudioChunk) []types.AudioChunk {
	sorted := make([]types.AudioChunk, len(chunks))
	copy(sorted, chunks)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := &sorted[i], &sorted[j]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		if a.ParticipantID != b.ParticipantID {
			return a.ParticipantID < b.ParticipantID
		}
		return a.Source < b.Source
	})
	return sorted
}

// accumulate sums the chunks onto a timeline of exactly expected samples
// and divides the overlapping regions by the square root of the amount of
// overlapping chunks. Samples beyond the end of the video are dropped.
func accumulate(
	chunks []types.AudioChunk,
	expected int,
) []float64 {
	const ch = types.Channels

	acc := make([]float64, expected-expected%ch)
	overlap := make([]uint16, len(acc)/ch)
	for idx := range chunks {
		c := &chunks[idx]
		if c.Timestamp < 0 {
			continue
		}
		base, frac, interpolate := placement(c.Timestamp)
		chunkFrames := len(c.Samples) / ch

		if !interpolate {
			for i := 0; i < chunkFrames && base+i < len(overlap); i++ {
				for c2 := 0; c2 < ch; c2++ {
					acc[(base+i)*ch+c2] += float64(c.Samples[i*ch+c2])
				}
				overlap[base+i]++
			}
			continue
		}

		// the chunk starts between two output samples: the output sample
		// base+i lies (1-frac) samples after the chunk's own sample i; the
		// last one holds the chunk's last sample up to the next chunk
		w := 1 - frac
		for i := 0; i < chunkFrames && base+i < len(overlap); i++ {
			next := min(i+1, chunkFrames-1)
			for c2 := 0; c2 < ch; c2++ {
				a := float64(c.Samples[i*ch+c2])
				b := float64(c.Samples[next*ch+c2])
				acc[(base+i)*ch+c2] += a + (b-a)*w
			}
			overlap[base+i]++
		}
	}

	for frame, n := range overlap {
		if n <= 1 {
			continue
		}
		k := 1 / math.Sqrt(float64(n))
		acc[frame*ch] *= k
		acc[frame*ch+1] *= k
	}
	return acc
}

// placement returns the first output frame a chunk starting at ts
// contributes to, and whether it has to be interpolated onto the grid.
func placement(ts float64) (int, float64, bool) {
	position := ts * types.SampleRate
	startFrame := math.Floor(position)
	frac := position - startFrame
	if frac <= SubSampleThreshold {
		return int(startFrame), frac, false
	}
	if 1-frac <= SubSampleThreshold {
		return int(startFrame) + 1, 0, false
	}
	return int(startFrame) + 1, frac, true
}

// applyGain is the automatic gain control: a soft-knee compressor for
// loud tracks and a linear boost for quiet ones.
func applyGain(samples []float64) Gain {
	var peak float64
	for _, v := range samples {
		peak = max(peak, math.Abs(v))
	}
	peakLevel := peak / fullScale

	switch {
	case peakLevel > KneeLevel:
		for idx, v := range samples {
			samples[idx] = softKnee(v/fullScale) * fullScale
		}
		return GainCompressed
	case peakLevel > 0 && peakLevel < QuietPeakLevel:
		k := BoostTargetLevel / peakLevel
		for idx := range samples {
			samples[idx] *= k
		}
		return GainBoosted
	default:
		return GainPassthrough
	}
}

// softKnee is the identity below KneeLevel and approaches full scale
// asymptotically above it.
func softKnee(level float64) float64 {
	abs := math.Abs(level)
	if abs <= KneeLevel {
		return level
	}
	room := 1 - KneeLevel
	compressed := KneeLevel + room*math.Tanh((abs-KneeLevel)/room)
	return math.Copysign(compressed, level)
}

func clip(samples []float64) ([]int16, int) {
	out := make([]int16, len(samples))
	var clipped int
	for idx, v := range samples {
		v = math.Round(v)
		switch {
		case v > math.MaxInt16:
			out[idx] = math.MaxInt16
			clipped++
		case v < math.MinInt16:
			out[idx] = math.MinInt16
			clipped++
		default:
			out[idx] = int16(v)
		}
	}
	return out, clipped
}
