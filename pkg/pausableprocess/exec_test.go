//go:build unix

package pausableprocess

import (
	"bytes"
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	xlogrus "github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/stretchr/testify/require"
)

func TestExecPauseResume(t *testing.T) {
	catPath, err := exec.LookPath("cat")
	if err != nil {
		t.Skip("no 'cat' available")
	}
	ctx := logger.CtxWithLogger(context.Background(), xlogrus.Default().WithLevel(logger.LevelTrace))

	var stdout bytes.Buffer
	p, err := Exec{}.Start(ctx, Command{
		Path:   catPath,
		Stdout: &stdout,
	})
	require.NoError(t, err)
	require.True(t, p.IsRunning())

	require.NoError(t, p.Pause(ctx))
	require.True(t, p.IsPaused())
	require.True(t, p.IsRunning())
	require.NoError(t, p.Resume(ctx))
	require.False(t, p.IsPaused())

	_, err = p.Stdin().Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, p.Stdin().Close())

	waitCtx, cancelFn := context.WithTimeout(ctx, 10*time.Second)
	defer cancelFn()
	exitCode, err := p.Wait(waitCtx)
	require.NoError(t, err)
	require.Zero(t, exitCode)
	require.Equal(t, "hello", stdout.String())
	require.False(t, p.IsRunning())
}

func TestExecNonZeroExit(t *testing.T) {
	falsePath, err := exec.LookPath("false")
	if err != nil {
		t.Skip("no 'false' available")
	}
	ctx := context.Background()
	p, err := Exec{}.Start(ctx, Command{Path: falsePath})
	require.NoError(t, err)
	exitCode, err := p.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, exitCode)
}
