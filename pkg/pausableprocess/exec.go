package pausableprocess

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sync/atomic"

	child_process_manager "github.com/AgustinSRG/go-child-process-manager"
	"github.com/facebookincubator/go-belt/tool/experimental/errmon"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/shirou/gopsutil/process"
)

// Exec starts real operating system processes.
type Exec struct{}

var _ Starter = Exec{}

type execProcess struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	paused   atomic.Bool
	waitCh   chan struct{}
	exitCode int
	waitErr  error
}

var _ Process = (*execProcess)(nil)

func (Exec) Start(
	ctx context.Context,
	c Command,
) (Process, error) {
	cmd := exec.Command(c.Path, c.Args...)
	cmd.Stdout = c.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = io.Discard
	}
	cmd.Stderr = c.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = io.Discard
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("unable to initialize an stdin pipe: %w", err)
	}

	err = child_process_manager.ConfigureCommand(cmd)
	errmon.ObserveErrorCtx(ctx, err)
	logger.Debugf(ctx, "starting %s %v", c.Path, c.Args)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("unable to start '%s': %w", c.Path, err)
	}
	err = child_process_manager.AddChildProcess(cmd.Process)
	if err != nil {
		if runtime.GOOS == "windows" {
			logger.Debugf(ctx, "unable to register the command to be auto-killed: %v", err)
		} else {
			logger.Errorf(ctx, "unable to register the command to be auto-killed: %v", err)
		}
	}

	p := &execProcess{
		cmd:    cmd,
		stdin:  stdin,
		waitCh: make(chan struct{}),
	}
	go p.wait()
	return p, nil
}

func (p *execProcess) wait() {
	err := p.cmd.Wait()
	p.exitCode = p.cmd.ProcessState.ExitCode()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		p.waitErr = err
	}
	close(p.waitCh)
}

func (p *execProcess) PID() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Stdin() io.WriteCloser {
	return p.stdin
}

func (p *execProcess) Pause(ctx context.Context) error {
	if !p.IsRunning() {
		return fmt.Errorf("process %d is not running", p.PID())
	}
	if err := signalStop(p.cmd.Process); err != nil {
		return fmt.Errorf("unable to pause process %d: %w", p.PID(), err)
	}
	p.paused.Store(true)
	logger.Debugf(ctx, "paused process %d", p.PID())
	return nil
}

func (p *execProcess) Resume(ctx context.Context) error {
	if !p.paused.Load() {
		return nil
	}
	if err := signalContinue(p.cmd.Process); err != nil {
		return fmt.Errorf("unable to resume process %d: %w", p.PID(), err)
	}
	p.paused.Store(false)
	logger.Debugf(ctx, "resumed process %d", p.PID())
	return nil
}

func (p *execProcess) IsPaused() bool {
	return p.paused.Load()
}

func (p *execProcess) IsRunning() bool {
	select {
	case <-p.waitCh:
		return false
	default:
	}
	alive, err := process.PidExists(int32(p.PID()))
	if err != nil {
		return true
	}
	return alive
}

func (p *execProcess) Wait(ctx context.Context) (int, error) {
	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case <-p.waitCh:
	}
	return p.exitCode, p.waitErr
}

func (p *execProcess) Kill() error {
	if p.paused.Load() {
		_ = signalContinue(p.cmd.Process)
	}
	err := p.cmd.Process.Kill()
	if errors.Is(err, errAlreadyFinished) {
		return nil
	}
	return err
}
