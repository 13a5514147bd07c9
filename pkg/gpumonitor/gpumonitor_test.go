package gpumonitor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	xlogrus "github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/callrecorder/pkg/clock"
)

func testCtx() context.Context {
	return logger.CtxWithLogger(context.Background(), xlogrus.Default().WithLevel(logger.LevelTrace))
}

func newTestMonitor(outputs ...string) (*NvidiaSMI, *clock.Mock, *atomic.Int64) {
	clk := clock.NewMock()
	var calls atomic.Int64
	m := &NvidiaSMI{
		Config:  DefaultConfig(),
		Clock:   clk,
		SelfPID: 100,
	}
	m.Query = func(ctx context.Context) ([]byte, error) {
		idx := int(calls.Add(1)) - 1
		if idx >= len(outputs) {
			idx = len(outputs) - 1
		}
		if outputs[idx] == "error" {
			return nil, errors.New("nvidia-smi has failed")
		}
		return []byte(outputs[idx]), nil
	}
	return m, clk, &calls
}

func TestParseComputeApps(t *testing.T) {
	procs, err := ParseComputeApps([]byte("1234, 2048, /usr/bin/python3\n5678, [N/A], [Not Found]\n\n"))
	require.NoError(t, err)
	require.Equal(t, []GPUProcess{
		{PID: 1234, UsedMemoryMB: 2048, Name: "/usr/bin/python3"},
		{PID: 5678, UsedMemoryMB: 0, Name: "[Not Found]"},
	}, procs)

	_, err = ParseComputeApps([]byte("garbage"))
	require.Error(t, err)
}

func TestIsBusy(t *testing.T) {
	ctx := testCtx()

	t.Run("foreign process over threshold", func(t *testing.T) {
		m, _, _ := newTestMonitor("200, 4000, python3\n")
		require.True(t, m.IsBusy(ctx))
		require.Equal(t, []int{200}, m.State(ctx).HolderPIDs)
	})
	t.Run("small foreign process", func(t *testing.T) {
		m, _, _ := newTestMonitor("200, 500, python3\n")
		require.False(t, m.IsBusy(ctx))
	})
	t.Run("self is ignored", func(t *testing.T) {
		m, _, _ := newTestMonitor("100, 4000, callrecorder\n")
		require.False(t, m.IsBusy(ctx))
	})
	t.Run("excluded pid is ignored", func(t *testing.T) {
		m, _, _ := newTestMonitor("300, 4000, ffmpeg\n")
		require.False(t, m.IsBusy(ctx, 300))
		require.True(t, m.IsBusy(ctx, 301))
	})
	t.Run("idle GPU", func(t *testing.T) {
		m, _, _ := newTestMonitor("")
		require.False(t, m.IsBusy(ctx))
	})
	t.Run("telemetry failure is busy", func(t *testing.T) {
		m, _, _ := newTestMonitor("error")
		state := m.State(ctx)
		require.True(t, state.Busy)
		require.Error(t, state.Err)
		require.True(t, m.IsBusy(ctx))
	})
}

func TestWaitUntilFree(t *testing.T) {
	ctx := testCtx()
	m, clk, calls := newTestMonitor(
		"200, 4000, python3\n",
		"200, 4000, python3\n",
		"error",
		"",
	)

	done := make(chan error, 1)
	go func() {
		done <- m.WaitUntilFree(ctx)
	}()

	var waitErr error
	require.Eventually(t, func() bool {
		select {
		case waitErr = <-done:
			return true
		default:
		}
		clk.Add(m.Config.PollInterval)
		return false
	}, 5*time.Second, time.Millisecond)
	require.NoError(t, waitErr)
	require.Equal(t, int64(4), calls.Load())
}

func TestWaitUntilFreeImmediately(t *testing.T) {
	m, _, calls := newTestMonitor("")
	require.NoError(t, m.WaitUntilFree(testCtx()))
	require.Equal(t, int64(1), calls.Load())
}

func TestWaitUntilFreeCancelled(t *testing.T) {
	ctx, cancelFn := context.WithCancel(testCtx())
	m, clk, _ := newTestMonitor("200, 4000, python3\n")

	done := make(chan error, 1)
	go func() {
		done <- m.WaitUntilFree(ctx)
	}()

	// hours of busy GPU do not end the wait
	for i := 0; i < 100; i++ {
		clk.Add(time.Minute)
	}
	select {
	case <-done:
		t.Fatal("WaitUntilFree returned while the GPU is still busy")
	case <-time.After(50 * time.Millisecond):
	}

	cancelFn()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("WaitUntilFree has not returned after the cancellation")
	}
}

func TestScripted(t *testing.T) {
	ctx := testCtx()
	s := NewScripted(true, false, true)
	require.True(t, s.IsBusy(ctx, 1))
	require.NoError(t, s.WaitUntilFree(ctx))
	require.True(t, s.IsBusy(ctx))
	require.True(t, s.IsBusy(ctx))
	busyCalls, waitCalls := s.Calls()
	require.Equal(t, 3, busyCalls)
	require.Equal(t, 1, waitCalls)
	require.Equal(t, []int{1}, s.ExcludedPIDs[0])
}

func TestNew(t *testing.T) {
	m, err := New(ModeAuto, DefaultConfig(), false)
	require.NoError(t, err)
	require.IsType(t, AlwaysFree{}, m)

	m, err = New(ModeAuto, DefaultConfig(), true)
	require.NoError(t, err)
	require.IsType(t, &NvidiaSMI{}, m)

	m, err = New(ModeNone, DefaultConfig(), true)
	require.NoError(t, err)
	require.IsType(t, AlwaysFree{}, m)

	_, err = New("quantum", DefaultConfig(), true)
	require.Error(t, err)
}
