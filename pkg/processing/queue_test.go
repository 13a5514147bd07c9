package processing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	xlogrus "github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/stretchr/testify/require"
)

func testCtx() context.Context {
	return logger.CtxWithLogger(context.Background(), xlogrus.Default().WithLevel(logger.LevelTrace))
}

func newRawDir(t *testing.T, root, name string) string {
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "frames.bin.zst"), []byte("raw"), 0644))
	return dir
}

func writingHandler(calls *atomic.Int32) HandlerFunc {
	return func(ctx context.Context, job Job) (string, error) {
		calls.Add(1)
		return job.OutputPath, os.WriteFile(job.OutputPath, []byte("mp4"), 0644)
	}
}

func TestSubmitSuccessRemovesRawDir(t *testing.T) {
	ctx := testCtx()
	root := t.TempDir()

	var calls atomic.Int32
	q := NewQueue(1, writingHandler(&calls))
	job := Job{
		MeetingID:  "meeting-1",
		RawDir:     newRawDir(t, root, "raw"),
		OutputPath: filepath.Join(root, "out.mp4"),
	}

	path, err := q.Submit(ctx, job).Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, job.OutputPath, path)
	require.NoDirExists(t, job.RawDir)
	require.EqualValues(t, 1, calls.Load())
	require.Empty(t, q.Registry.InFlight(ctx))
}

func TestSubmitFailureKeepsRawDir(t *testing.T) {
	ctx := testCtx()
	root := t.TempDir()

	q := NewQueue(1, HandlerFunc(func(ctx context.Context, job Job) (string, error) {
		return "", fmt.Errorf("ffmpeg exploded")
	}))
	job := Job{
		MeetingID:  "meeting-1",
		RawDir:     newRawDir(t, root, "raw"),
		OutputPath: filepath.Join(root, "out.mp4"),
	}

	_, err := q.Submit(ctx, job).Wait(ctx)
	require.ErrorContains(t, err, "ffmpeg exploded")
	require.DirExists(t, job.RawDir)
}

func TestSubmitEmptyOutputIsFailure(t *testing.T) {
	ctx := testCtx()
	root := t.TempDir()

	q := NewQueue(1, HandlerFunc(func(ctx context.Context, job Job) (string, error) {
		return job.OutputPath, os.WriteFile(job.OutputPath, nil, 0644)
	}))
	job := Job{
		MeetingID:  "meeting-1",
		RawDir:     newRawDir(t, root, "raw"),
		OutputPath: filepath.Join(root, "out.mp4"),
	}

	_, err := q.Submit(ctx, job).Wait(ctx)
	require.Error(t, err)
	require.DirExists(t, job.RawDir)
}

func TestSubmitPanicIsFailure(t *testing.T) {
	ctx := testCtx()
	root := t.TempDir()

	q := NewQueue(1, HandlerFunc(func(ctx context.Context, job Job) (string, error) {
		panic("boom")
	}))
	job := Job{
		MeetingID:  "meeting-1",
		RawDir:     newRawDir(t, root, "raw"),
		OutputPath: filepath.Join(root, "out.mp4"),
	}

	_, err := q.Submit(ctx, job).Wait(ctx)
	require.ErrorContains(t, err, "boom")
	require.DirExists(t, job.RawDir)
}

func TestSubmitDuplicateRunsOnce(t *testing.T) {
	ctx := testCtx()
	root := t.TempDir()

	release := make(chan struct{})
	var calls atomic.Int32
	q := NewQueue(1, HandlerFunc(func(ctx context.Context, job Job) (string, error) {
		calls.Add(1)
		<-release
		return job.OutputPath, os.WriteFile(job.OutputPath, []byte("mp4"), 0644)
	}))
	job := Job{
		MeetingID:  "meeting-1",
		RawDir:     newRawDir(t, root, "raw"),
		OutputPath: filepath.Join(root, "out.mp4"),
	}

	t0 := q.Submit(ctx, job)
	t1 := q.Submit(ctx, Job{
		MeetingID:  job.MeetingID,
		RawDir:     job.RawDir + string(filepath.Separator),
		OutputPath: job.OutputPath,
	})
	require.Same(t, t0, t1)
	require.Len(t, q.Registry.InFlight(ctx), 1)
	close(release)

	_, err := t0.Wait(ctx)
	require.NoError(t, err)
	q.Wait()
	require.EqualValues(t, 1, calls.Load())
}

func TestSubmitAlreadyCompleted(t *testing.T) {
	ctx := testCtx()
	root := t.TempDir()

	output := filepath.Join(root, "out.mp4")
	require.NoError(t, os.WriteFile(output, []byte("mp4"), 0644))

	var calls atomic.Int32
	q := NewQueue(1, writingHandler(&calls))
	path, err := q.Submit(ctx, Job{
		MeetingID:  "meeting-1",
		RawDir:     filepath.Join(root, "gone"),
		OutputPath: output,
	}).Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, output, path)
	require.Zero(t, calls.Load())
}

func TestConcurrencyIsBounded(t *testing.T) {
	ctx := testCtx()
	root := t.TempDir()

	var (
		running, maxRunning atomic.Int32
		mu                  sync.Mutex
	)
	q := NewQueue(2, HandlerFunc(func(ctx context.Context, job Job) (string, error) {
		cur := running.Add(1)
		mu.Lock()
		if cur > maxRunning.Load() {
			maxRunning.Store(cur)
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return job.OutputPath, os.WriteFile(job.OutputPath, []byte("mp4"), 0644)
	}))

	var tickets []*Ticket
	for i := 0; i < 6; i++ {
		tickets = append(tickets, q.Submit(ctx, Job{
			MeetingID:  fmt.Sprintf("meeting-%d", i),
			RawDir:     newRawDir(t, root, fmt.Sprintf("raw-%d", i)),
			OutputPath: filepath.Join(root, fmt.Sprintf("out-%d.mp4", i)),
		}))
	}
	for _, ticket := range tickets {
		_, err := ticket.Wait(ctx)
		require.NoError(t, err)
	}
	require.LessOrEqual(t, maxRunning.Load(), int32(2))
}

func TestTicketWaitCancelled(t *testing.T) {
	ctx := testCtx()
	root := t.TempDir()

	release := make(chan struct{})
	defer close(release)
	q := NewQueue(1, HandlerFunc(func(ctx context.Context, job Job) (string, error) {
		<-release
		return "", fmt.Errorf("released")
	}))
	ticket := q.Submit(ctx, Job{
		MeetingID:  "meeting-1",
		RawDir:     newRawDir(t, root, "raw"),
		OutputPath: filepath.Join(root, "out.mp4"),
	})

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err := ticket.Wait(waitCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
