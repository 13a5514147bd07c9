package finalizer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	xlogrus "github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/callrecorder/pkg/encoder"
	"github.com/xaionaro-go/callrecorder/pkg/gpumonitor"
	"github.com/xaionaro-go/callrecorder/pkg/pausableprocess"
	"github.com/xaionaro-go/callrecorder/pkg/processing"
	"github.com/xaionaro-go/callrecorder/pkg/rawstore"
	"github.com/xaionaro-go/callrecorder/pkg/recording"
	"github.com/xaionaro-go/callrecorder/pkg/recording/types"
)

const (
	testWidth  = 8
	testHeight = 4
)

func testCtx() context.Context {
	return logger.CtxWithLogger(context.Background(), xlogrus.Default().WithLevel(logger.LevelTrace))
}

func newTestFinalizer(fake *pausableprocess.Fake) *Finalizer {
	cfg := encoder.DefaultConfig()
	cfg.Backend = encoder.BackendX264
	cfg.Width = testWidth
	cfg.Height = testHeight
	cfg.SegmentDuration = time.Second
	return New(cfg, gpumonitor.ModeNone, gpumonitor.DefaultConfig(), fake)
}

func writeRaw(t *testing.T, ctx context.Context, dir string, duration float64, withFrames bool) {
	frozen := &recording.Frozen{
		SessionID: uuid.New(),
		MeetingID: "meeting-1",
		StartedAt: time.Now(),
		Duration:  duration,
	}
	if withFrames {
		frozen.Frames = []types.TimestampedFrame{{
			Pixels:    bytes.Repeat([]byte{42}, testWidth*testHeight*types.BytesPerPixel),
			Width:     testWidth,
			Height:    testHeight,
			Timestamp: 0.5 / types.TargetFPS,
			Source:    types.FrameSourceCamera,
		}}
	}
	frozen.Chunks = []types.AudioChunk{{
		Timestamp:     0,
		Samples:       make([]int16, types.AudioBufferSamples),
		ParticipantID: "alice",
		Source:        types.AudioSourceMicrophone,
	}}
	require.NoError(t, rawstore.Write(ctx, dir, frozen, ""))
}

func TestProcess(t *testing.T) {
	ctx := testCtx()
	root := t.TempDir()
	rawDir := filepath.Join(root, "raw")
	writeRaw(t, ctx, rawDir, 2, true)

	fake := &pausableprocess.Fake{}
	f := newTestFinalizer(fake)
	job := processing.Job{
		MeetingID:  "meeting-1",
		RawDir:     rawDir,
		OutputPath: filepath.Join(root, "out", "meeting-1.mp4"),
	}

	path, err := f.Process(ctx, job)
	require.NoError(t, err)
	require.Equal(t, job.OutputPath, path)
	require.FileExists(t, path)
	require.IsType(t, gpumonitor.AlwaysFree{}, f.Encoder.Monitor)

	// 2 segments, concat, mux
	procs := fake.Processes()
	require.Len(t, procs, 4)
	mux := procs[3]
	require.Equal(t, filepath.Join(rawDir, encodeDirName, videoFileName), mux.ArgAfter("-i"))
	require.True(t, mux.HasArg(filepath.Join(rawDir, encodeDirName, audioFileName)))
	require.True(t, mux.HasArg("aac"))

	st, err := os.Stat(filepath.Join(rawDir, encodeDirName, audioFileName))
	require.NoError(t, err)
	require.EqualValues(t, 44+types.ExpectedAudioSamples(48)*2, st.Size())

	// the output exists now, so nothing is run again
	path, err = f.Process(ctx, job)
	require.NoError(t, err)
	require.Equal(t, job.OutputPath, path)
	require.Len(t, fake.Processes(), 4)
}

func TestProcessAudioOnly(t *testing.T) {
	ctx := testCtx()
	root := t.TempDir()
	rawDir := filepath.Join(root, "raw")
	writeRaw(t, ctx, rawDir, 0.5, false)

	fake := &pausableprocess.Fake{}
	f := newTestFinalizer(fake)
	path, err := f.Process(ctx, processing.Job{
		MeetingID:  "meeting-1",
		RawDir:     rawDir,
		OutputPath: filepath.Join(root, "meeting-1.mp4"),
	})
	require.NoError(t, err)
	require.FileExists(t, path)

	// 12 placeholder frames in a single segment
	procs := fake.Processes()
	require.Len(t, procs, 2)
	require.Equal(t, bytes.Repeat([]byte{0}, 12*testWidth*testHeight*types.BytesPerPixel), procs[0].StdinBytes())
}

func TestProcessTooShort(t *testing.T) {
	ctx := testCtx()
	root := t.TempDir()
	rawDir := filepath.Join(root, "raw")
	writeRaw(t, ctx, rawDir, 0.01, false)

	f := newTestFinalizer(&pausableprocess.Fake{})
	_, err := f.Process(ctx, processing.Job{
		MeetingID:  "meeting-1",
		RawDir:     rawDir,
		OutputPath: filepath.Join(root, "meeting-1.mp4"),
	})
	require.ErrorIs(t, err, ErrTooShort)
}

func TestProcessMissingRawDir(t *testing.T) {
	ctx := testCtx()
	root := t.TempDir()

	f := newTestFinalizer(&pausableprocess.Fake{})
	_, err := f.Process(ctx, processing.Job{
		MeetingID:  "meeting-1",
		RawDir:     filepath.Join(root, "nope"),
		OutputPath: filepath.Join(root, "meeting-1.mp4"),
	})
	require.Error(t, err)
}
