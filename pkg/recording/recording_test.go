package recording

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	xlogrus "github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/callrecorder/pkg/clock"
	"github.com/xaionaro-go/callrecorder/pkg/recording/types"
)

func testCtx() context.Context {
	return logger.CtxWithLogger(context.Background(), xlogrus.Default().WithLevel(logger.LevelTrace))
}

func stereo(frames int, value int16) []int16 {
	samples := make([]int16, frames*types.Channels)
	for idx := range samples {
		samples[idx] = value
	}
	return samples
}

func TestAudioBufferFixedSizeFlush(t *testing.T) {
	ctx := testCtx()
	var b AudioBuffer

	// 480 stereo frames (960 samples) per unit, 10ms each
	for i := 0; i < 12; i++ {
		_, ok := b.Append(ctx, "alice", types.AudioSourceMicrophone, 1.0+float64(i)*0.01, stereo(480, int16(i)))
		require.True(t, ok)
	}

	chunks := b.Freeze(ctx)
	// 12*960 = 11520 samples -> 2 chunks of 4800, the 1920 remainder is discarded
	require.Len(t, chunks, 2)
	for idx, chunk := range chunks {
		require.Len(t, chunk.Samples, types.AudioBufferSamples)
		require.Equal(t, "alice", chunk.ParticipantID)
		require.Equal(t, types.AudioSourceMicrophone, chunk.Source)
		require.InDelta(t, 1.0+float64(idx)*0.05, chunk.Timestamp, 1e-9)
	}
	require.Equal(t, int16(5), chunks[1].Samples[0])
}

func TestAudioBufferTimestampsStepExactly(t *testing.T) {
	ctx := testCtx()
	var b AudioBuffer

	// jittery arrival timestamps must not leak into chunk timestamps
	ts := 0.3
	for i := 0; i < 100; i++ {
		ts += 0.01 + float64(i%3-1)*0.002
		b.Append(ctx, "bob", types.AudioSourceMicrophone, ts, stereo(480, 1))
	}
	chunks := b.Freeze(ctx)
	require.Len(t, chunks, 20)
	for idx := 1; idx < len(chunks); idx++ {
		require.InDelta(t, types.ChunkDuration, chunks[idx].Timestamp-chunks[idx-1].Timestamp, 1e-9)
	}
}

func TestAudioBufferReanchorAfterGap(t *testing.T) {
	ctx := testCtx()
	var b AudioBuffer

	b.Append(ctx, "carol", types.AudioSourceMicrophone, 0, stereo(2400, 1))
	b.Append(ctx, "carol", types.AudioSourceMicrophone, 0.05, stereo(1000, 2))
	// a second of silence
	b.Append(ctx, "carol", types.AudioSourceMicrophone, 1.5, stereo(2400, 3))

	chunks := b.Freeze(ctx)
	require.Len(t, chunks, 2)
	assert.InDelta(t, 0.0, chunks[0].Timestamp, 1e-9)
	assert.InDelta(t, 1.5, chunks[1].Timestamp, 1e-9)
	// the 1000 pending samples of the previous talk spurt are dropped
	assert.Equal(t, int16(3), chunks[1].Samples[0])
	assert.NotContains(t, chunks[1].Samples, int16(2))
}

func TestAudioBufferPerTrackAccumulators(t *testing.T) {
	ctx := testCtx()
	var b AudioBuffer

	b.Append(ctx, "alice", types.AudioSourceMicrophone, 0, stereo(2400, 1))
	b.Append(ctx, "alice", types.AudioSourceScreenShareAudio, 0, stereo(1200, 2))
	b.Append(ctx, "bob", types.AudioSourceMicrophone, 0, stereo(1200, 3))
	require.Equal(t, 1, b.Len(ctx))

	b.Append(ctx, "bob", types.AudioSourceMicrophone, 0.025, stereo(1200, 3))
	chunks := b.Freeze(ctx)
	require.Len(t, chunks, 2)
	require.Equal(t, "bob", chunks[1].ParticipantID)

	_, ok := b.Append(ctx, "bob", types.AudioSourceMicrophone, 1, stereo(2400, 3))
	require.False(t, ok)
}

func TestFrameBufferConcurrentAppend(t *testing.T) {
	ctx := testCtx()
	var b FrameBuffer

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				b.Add(ctx, types.TimestampedFrame{
					Pixels:    []byte{byte(g), 0, 0},
					Width:     1,
					Height:    1,
					Timestamp: float64(i) / 24,
					Source:    types.FrameSourceCamera,
				})
			}
		}(g)
	}
	wg.Wait()

	require.Equal(t, 800, b.Len(ctx))
	frames := b.Freeze(ctx)
	require.Len(t, frames, 800)
	require.False(t, b.Add(ctx, types.TimestampedFrame{}))
}

func TestSessionTrackRegistry(t *testing.T) {
	ctx := testCtx()
	s := NewSession("meeting", clock.NewMock())

	key := types.VideoTrackKey("alice", types.FrameSourceCamera)
	require.True(t, s.ClaimTrack(ctx, key, "track-1"))
	require.False(t, s.ClaimTrack(ctx, key, "track-2"))
	require.True(t, s.ClaimTrack(ctx, types.VideoTrackKey("alice", types.FrameSourceScreenShare), "track-3"))

	s.ReleaseTrack(ctx, key, "track-2")
	require.Equal(t, types.TrackID("track-1"), s.ActiveTracks(ctx)[key])

	s.ReleaseTrack(ctx, key, "track-1")
	require.True(t, s.ClaimTrack(ctx, key, "track-2"))
}

func TestSessionStopAndFreeze(t *testing.T) {
	ctx := testCtx()
	clk := clock.NewMock()
	s := NewSession("meeting", clk)

	clk.Add(2500 * time.Millisecond)
	require.InDelta(t, 2.5, s.Now(), 1e-9)
	require.False(t, s.IsStopped())

	for i := 0; i < 10; i++ {
		s.Frames.Add(ctx, types.TimestampedFrame{
			Pixels:    make([]byte, 3),
			Width:     1,
			Height:    1,
			Timestamp: float64(i) * 0.1,
			Source:    types.FrameSourceCamera,
		})
	}

	require.InDelta(t, 2.5, s.Stop(ctx), 1e-9)
	require.True(t, s.IsStopped())
	select {
	case <-s.StopCh():
	default:
		t.Fatal("the stop channel is not closed")
	}

	clk.Add(time.Second)
	frozen := s.Freeze(ctx)
	require.InDelta(t, 2.5, frozen.Duration, 1e-9)
	require.Equal(t, "meeting", frozen.MeetingID)
	require.Len(t, frozen.Frames, 10)
	require.Equal(t, 60, frozen.TotalFrames())
	require.False(t, frozen.IsEmpty())
}

func TestFrozenTotalFrames(t *testing.T) {
	for _, tc := range []struct {
		duration float64
		frames   int
		expected int
	}{
		{duration: 0, frames: 0, expected: 0},
		{duration: 0.01, frames: 1, expected: 1},
		{duration: 0.01, frames: 0, expected: 0},
		{duration: 10, frames: 0, expected: 240},
	} {
		t.Run(fmt.Sprintf("%v_%d", tc.duration, tc.frames), func(t *testing.T) {
			f := &Frozen{Duration: tc.duration, Frames: make([]types.TimestampedFrame, tc.frames)}
			require.Equal(t, tc.expected, f.TotalFrames())
		})
	}
}
