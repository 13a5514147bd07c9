package encoder

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	xlogrus "github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/callrecorder/pkg/frameindex"
	"github.com/xaionaro-go/callrecorder/pkg/gpumonitor"
	"github.com/xaionaro-go/callrecorder/pkg/pausableprocess"
	"github.com/xaionaro-go/callrecorder/pkg/recording/types"
)

const (
	testWidth     = 8
	testHeight    = 4
	testFrameSize = testWidth * testHeight * types.BytesPerPixel
)

func testCtx() context.Context {
	return logger.CtxWithLogger(context.Background(), xlogrus.Default().WithLevel(logger.LevelTrace))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Backend = BackendX264
	cfg.Width = testWidth
	cfg.Height = testHeight
	cfg.SegmentDuration = time.Second
	cfg.BusyCheckInterval = 0
	return cfg
}

// concatHandler makes the fake FFmpeg concatenate the listed segments
// byte-wise, so the output size is the sum of the segments.
func concatHandler(t *testing.T, next func(p *pausableprocess.FakeProcess) int) func(p *pausableprocess.FakeProcess) int {
	return func(p *pausableprocess.FakeProcess) int {
		if p.ArgAfter("-f") != "concat" {
			if next != nil {
				return next(p)
			}
			return pausableprocess.WriteOutputHandler(p)
		}
		list, err := os.ReadFile(p.ArgAfter("-i"))
		require.NoError(t, err)
		var out bytes.Buffer
		for _, line := range strings.Split(strings.TrimSpace(string(list)), "\n") {
			path := strings.TrimSuffix(strings.TrimPrefix(line, "file '"), "'")
			b, err := os.ReadFile(path)
			require.NoError(t, err)
			out.Write(b)
		}
		require.NoError(t, os.WriteFile(p.OutputPath(), out.Bytes(), 0640))
		return 0
	}
}

func solidFrame(slot int, marker byte) types.TimestampedFrame {
	return types.TimestampedFrame{
		Pixels:    bytes.Repeat([]byte{marker}, testFrameSize),
		Width:     testWidth,
		Height:    testHeight,
		Timestamp: (float64(slot) + 0.5) / types.TargetFPS,
		Source:    types.FrameSourceCamera,
	}
}

func newTestEncoder(t *testing.T, fake *pausableprocess.Fake, monitor gpumonitor.ResourceMonitor) *Encoder {
	if fake.Handler == nil {
		fake.Handler = concatHandler(t, nil)
	}
	return New(testConfig(), fake, monitor)
}

func TestEncodeSegmentsAndConcat(t *testing.T) {
	ctx := testCtx()
	dir := t.TempDir()
	fake := &pausableprocess.Fake{}
	monitor := gpumonitor.NewScripted(false)
	enc := newTestEncoder(t, fake, monitor)

	index := frameindex.Build([]types.TimestampedFrame{
		solidFrame(0, 10),
		solidFrame(30, 20),
	})
	result, err := enc.Encode(ctx, Request{
		MeetingID:   "meeting",
		Frames:      index,
		TotalFrames: 60,
		WorkDir:     dir,
		OutputPath:  filepath.Join(dir, "video.mp4"),
	})
	require.NoError(t, err)
	require.False(t, result.Partial)
	require.Equal(t, 3, result.Segments)
	require.Equal(t, 60, result.EncodedFrames)

	procs := fake.Processes()
	require.Len(t, procs, 4)
	require.Len(t, procs[0].StdinBytes(), 24*testFrameSize)
	require.Len(t, procs[1].StdinBytes(), 24*testFrameSize)
	require.Len(t, procs[2].StdinBytes(), 12*testFrameSize)
	require.Equal(t, "concat", procs[3].ArgAfter("-f"))
	require.Equal(t, "libx264", procs[0].ArgAfter("-c:v"))
	require.Equal(t, "8x4", procs[0].ArgAfter("-s"))

	out, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	require.Len(t, out, 60*testFrameSize)

	frameAt := func(slot int) []byte {
		return out[slot*testFrameSize : (slot+1)*testFrameSize]
	}
	// slots 0..3 show the first frame, 4..26 are placeholders,
	// 27..33 show the second frame, the rest are placeholders
	for slot := 0; slot < 60; slot++ {
		var expected byte
		switch {
		case slot <= 3:
			expected = 10
		case slot >= 27 && slot <= 33:
			expected = 20
		}
		require.Equal(t, expected, frameAt(slot)[0], "slot %d", slot)
	}

	_, waitCalls := monitor.Calls()
	require.Equal(t, 3, waitCalls)
}

// Two participants for 10 s; the camera of the first one stops for 2 s
// while the second keeps streaming.
func TestEncodeCameraGapIsFilledByOtherParticipant(t *testing.T) {
	ctx := testCtx()
	dir := t.TempDir()
	fake := &pausableprocess.Fake{}
	enc := newTestEncoder(t, fake, gpumonitor.AlwaysFree{})

	frameOf := func(slot int, offset float64, marker byte) types.TimestampedFrame {
		f := solidFrame(slot, marker)
		f.Timestamp = (float64(slot) + offset) / types.TargetFPS
		return f
	}
	var frames []types.TimestampedFrame
	for slot := 0; slot < 240; slot++ {
		if slot < 48 || slot > 95 {
			frames = append(frames, frameOf(slot, 0.3, 'A'))
		}
		frames = append(frames, frameOf(slot, 0.6, 'B'))
	}

	result, err := enc.Encode(ctx, Request{
		MeetingID:   "meeting",
		Frames:      frameindex.Build(frames),
		TotalFrames: types.TotalFrames(10),
		WorkDir:     dir,
		OutputPath:  filepath.Join(dir, "video.mp4"),
	})
	require.NoError(t, err)
	require.Equal(t, 240, result.EncodedFrames)
	require.Equal(t, 10, result.Segments)

	out, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	require.Len(t, out, 240*testFrameSize)
	for slot := 0; slot < 240; slot++ {
		expected := byte('A')
		if slot >= 48 && slot <= 95 {
			expected = 'B'
		}
		require.Equal(t, expected, out[slot*testFrameSize], "slot %d", slot)
	}
}

func TestEncodePauseResume(t *testing.T) {
	ctx := testCtx()
	dir := t.TempDir()
	fake := &pausableprocess.Fake{}
	// WaitUntilFree before the segment, IsBusy at frames 0 and 1, then
	// busy at frame 2, then free again for the pause wait and afterwards
	monitor := gpumonitor.NewScripted(false, false, false, true, false)
	enc := newTestEncoder(t, fake, monitor)

	result, err := enc.Encode(ctx, Request{
		MeetingID:   "meeting",
		Frames:      frameindex.Build([]types.TimestampedFrame{solidFrame(5, 1)}),
		TotalFrames: 24,
		WorkDir:     dir,
		OutputPath:  filepath.Join(dir, "video.mp4"),
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Pauses)

	procs := fake.Processes()
	require.Len(t, procs, 1)
	pauses, resumes, writesWhilePaused := procs[0].Stats()
	assert.Equal(t, 1, pauses)
	assert.Equal(t, 1, resumes)
	assert.Zero(t, writesWhilePaused)

	// the pause neither drops nor duplicates frames
	out, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	require.Len(t, out, 24*testFrameSize)

	// the encoder itself is never considered a competitor
	for _, excluded := range monitor.ExcludedPIDs {
		require.Equal(t, []int{procs[0].PID()}, excluded)
	}
}

func TestEncodePipeFailureKeepsPartialSegment(t *testing.T) {
	ctx := testCtx()
	dir := t.TempDir()
	fake := &pausableprocess.Fake{FailWritesAfter: 10 * testFrameSize}
	enc := newTestEncoder(t, fake, gpumonitor.AlwaysFree{})

	result, err := enc.Encode(ctx, Request{
		MeetingID:   "meeting",
		Frames:      frameindex.Build(nil),
		TotalFrames: 60,
		WorkDir:     dir,
		OutputPath:  filepath.Join(dir, "video.mp4"),
	})
	require.NoError(t, err)
	require.True(t, result.Partial)
	require.Equal(t, 1, result.Segments)
	require.Equal(t, 10, result.EncodedFrames)
	require.Len(t, fake.Processes(), 1)

	st, err := os.Stat(result.Path)
	require.NoError(t, err)
	require.Equal(t, int64(10*testFrameSize), st.Size())
}

func TestEncodeNonZeroExitAbandonsSegment(t *testing.T) {
	ctx := testCtx()
	dir := t.TempDir()
	fake := &pausableprocess.Fake{}
	fake.Handler = concatHandler(t, func(p *pausableprocess.FakeProcess) int {
		if strings.HasSuffix(p.OutputPath(), "segment_0001.mp4") {
			return 1
		}
		return pausableprocess.WriteOutputHandler(p)
	})
	enc := newTestEncoder(t, fake, gpumonitor.AlwaysFree{})

	result, err := enc.Encode(ctx, Request{
		MeetingID:   "meeting",
		Frames:      frameindex.Build(nil),
		TotalFrames: 60,
		WorkDir:     dir,
		OutputPath:  filepath.Join(dir, "video.mp4"),
	})
	require.NoError(t, err)
	require.True(t, result.Partial)
	require.Equal(t, 1, result.Segments)
	require.Equal(t, 24, result.EncodedFrames)
	// two segment attempts, no third one and no concatenation of one file
	require.Len(t, fake.Processes(), 2)
	require.NoFileExists(t, filepath.Join(dir, segmentsDir, "segment_0001.mp4"))

	plan, err := LoadPlan(ctx, filepath.Join(dir, planFileName))
	require.NoError(t, err)
	require.True(t, plan.Truncated)
}

func TestEncodeFirstSegmentFailure(t *testing.T) {
	ctx := testCtx()
	dir := t.TempDir()
	fake := &pausableprocess.Fake{Handler: func(p *pausableprocess.FakeProcess) int { return 1 }}
	enc := New(testConfig(), fake, gpumonitor.AlwaysFree{})

	_, err := enc.Encode(ctx, Request{
		MeetingID:   "meeting",
		Frames:      frameindex.Build(nil),
		TotalFrames: 10,
		WorkDir:     dir,
		OutputPath:  filepath.Join(dir, "video.mp4"),
	})
	require.Error(t, err)
}

func TestEncodeResumesFromPlan(t *testing.T) {
	ctx := testCtx()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, segmentsDir), 0750))

	firstSegment := filepath.Join(dir, segmentsDir, "segment_0000.mp4")
	require.NoError(t, os.WriteFile(firstSegment, bytes.Repeat([]byte{7}, 24*testFrameSize), 0640))
	cfg := testConfig()
	plan := &SegmentPlan{
		MeetingID:     "meeting",
		TotalFrames:   60,
		SegmentFrames: cfg.SegmentFrames(),
		Width:         cfg.Width,
		Height:        cfg.Height,
		Backend:       BackendX264,
		Completed:     []Segment{{Path: firstSegment, StartFrame: 0, EndFrame: 24}},
		Cursor:        24,
	}
	require.NoError(t, plan.Save(filepath.Join(dir, planFileName)))

	fake := &pausableprocess.Fake{}
	enc := newTestEncoder(t, fake, gpumonitor.AlwaysFree{})
	result, err := enc.Encode(ctx, Request{
		MeetingID:   "meeting",
		Frames:      frameindex.Build(nil),
		TotalFrames: 60,
		WorkDir:     dir,
		OutputPath:  filepath.Join(dir, "video.mp4"),
	})
	require.NoError(t, err)
	require.Equal(t, 3, result.Segments)

	procs := fake.Processes()
	require.Len(t, procs, 3)
	require.True(t, strings.HasSuffix(procs[0].OutputPath(), "segment_0001.mp4"))
	require.Len(t, procs[0].StdinBytes(), 24*testFrameSize)

	out, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	require.Len(t, out, 60*testFrameSize)
	require.Equal(t, byte(7), out[0])

	// a repeated request is a no-op
	result, err = enc.Encode(ctx, Request{
		MeetingID:   "meeting",
		Frames:      frameindex.Build(nil),
		TotalFrames: 60,
		WorkDir:     dir,
		OutputPath:  filepath.Join(dir, "video.mp4"),
	})
	require.NoError(t, err)
	require.Equal(t, 60, result.EncodedFrames)
	require.Len(t, fake.Processes(), 3)
}

func TestEncodeConcatIsGPUGatedForNVENC(t *testing.T) {
	ctx := testCtx()
	dir := t.TempDir()
	fake := &pausableprocess.Fake{}
	monitor := gpumonitor.NewScripted(false)
	enc := newTestEncoder(t, fake, monitor)
	enc.Config.Backend = BackendNVENC

	_, err := enc.Encode(ctx, Request{
		MeetingID:   "meeting",
		Frames:      frameindex.Build(nil),
		TotalFrames: 48,
		WorkDir:     dir,
		OutputPath:  filepath.Join(dir, "video.mp4"),
	})
	require.NoError(t, err)
	_, waitCalls := monitor.Calls()
	require.Equal(t, 3, waitCalls)
	require.Equal(t, "h264_nvenc", fake.Processes()[0].ArgAfter("-c:v"))
}

func TestProbeBackend(t *testing.T) {
	ctx := testCtx()
	for _, tc := range []struct {
		name          string
		encoders      string
		testExitCode  int
		expected      Backend
		expectedCalls int
	}{
		{name: "nvenc works", encoders: " V....D h264_nvenc  NVIDIA NVENC H.264 encoder", expected: BackendNVENC, expectedCalls: 2},
		{name: "no nvenc", encoders: " V....D libx264  libx264 H.264", expected: BackendX264, expectedCalls: 1},
		{name: "nvenc listed but broken", encoders: " V....D h264_nvenc", testExitCode: 1, expected: BackendX264, expectedCalls: 2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fake := &pausableprocess.Fake{Handler: func(p *pausableprocess.FakeProcess) int {
				if p.HasArg("-encoders") {
					fmt.Fprintln(p.Command.Stdout, tc.encoders)
					return 0
				}
				return tc.testExitCode
			}}
			backend, err := ProbeBackend(ctx, fake, "ffmpeg")
			require.NoError(t, err)
			require.Equal(t, tc.expected, backend)
			require.Len(t, fake.Processes(), tc.expectedCalls)
		})
	}
}

func TestMux(t *testing.T) {
	ctx := testCtx()
	dir := t.TempDir()
	fake := &pausableprocess.Fake{}
	enc := New(testConfig(), fake, nil)

	out := filepath.Join(dir, "final", "meeting.mp4")
	require.NoError(t, enc.Mux(ctx, "video.mp4", "audio.wav", out))
	require.FileExists(t, out)
	require.NoFileExists(t, out+".partial")

	p := fake.Processes()[0]
	require.Equal(t, "copy", p.ArgAfter("-c:v"))
	require.Equal(t, "aac", p.ArgAfter("-c:a"))
	require.Equal(t, "48000", p.ArgAfter("-ar"))
	require.Equal(t, "+faststart", p.ArgAfter("-movflags"))
}

func TestMuxFailure(t *testing.T) {
	ctx := testCtx()
	dir := t.TempDir()
	fake := &pausableprocess.Fake{Handler: func(p *pausableprocess.FakeProcess) int { return 0 }}
	enc := New(testConfig(), fake, nil)

	out := filepath.Join(dir, "meeting.mp4")
	// exit code 0 but no output file
	require.Error(t, enc.Mux(ctx, "video.mp4", "audio.wav", out))
	require.NoFileExists(t, out)
}

func TestMuxCancelledKillsEncoder(t *testing.T) {
	ctx, cancel := context.WithCancel(testCtx())
	cancel()
	dir := t.TempDir()
	fake := &pausableprocess.Fake{}
	enc := New(testConfig(), fake, nil)

	out := filepath.Join(dir, "meeting.mp4")
	err := enc.Mux(ctx, "video.mp4", "audio.wav", out)
	require.ErrorIs(t, err, context.Canceled)
	require.NoFileExists(t, out)

	procs := fake.Processes()
	require.Len(t, procs, 1)
	require.True(t, procs[0].Killed())
}

func TestFrameSequenceResize(t *testing.T) {
	frame := types.TimestampedFrame{
		Pixels:    bytes.Repeat([]byte{0, 0, 200}, 4*2),
		Width:     4,
		Height:    2,
		Timestamp: 0.01,
		Source:    types.FrameSourceScreenShare,
	}
	seq := NewFrameSequence(frameindex.Build([]types.TimestampedFrame{frame}), testWidth, testHeight)

	out, source, err := seq.Frame(0)
	require.NoError(t, err)
	require.Equal(t, types.FrameSourceScreenShare, source)
	require.Len(t, out, testFrameSize)
	for idx := 0; idx < len(out); idx += 3 {
		require.InDelta(t, 0, int(out[idx]), 2)
		require.InDelta(t, 0, int(out[idx+1]), 2)
		require.InDelta(t, 200, int(out[idx+2]), 2)
	}

	out, source, err = seq.Frame(100)
	require.NoError(t, err)
	require.Equal(t, types.FrameSourcePlaceholder, source)
	require.Equal(t, make([]byte, testFrameSize), out)
}

func TestSegmentPlanWriteRead(t *testing.T) {
	plan := &SegmentPlan{
		MeetingID:     "m",
		TotalFrames:   100,
		SegmentFrames: 24,
		Backend:       BackendNVENC,
		Completed:     []Segment{{Path: "/tmp/a.mp4", StartFrame: 0, EndFrame: 24}},
		Cursor:        24,
	}
	var b bytes.Buffer
	_, err := plan.WriteTo(&b)
	require.NoError(t, err)

	var dup SegmentPlan
	_, err = dup.ReadFrom(&b)
	require.NoError(t, err)
	require.Equal(t, *plan, dup)
	require.False(t, dup.IsDone())
}
