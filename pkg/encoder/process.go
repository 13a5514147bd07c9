package encoder

import (
	"context"
	"fmt"
	"io"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/callrecorder/pkg/logwriter"
	"github.com/xaionaro-go/callrecorder/pkg/pausableprocess"
)

type ffmpegProcess struct {
	pausableprocess.Process
	log *logwriter.LogWriter
}

func start(
	ctx context.Context,
	starter pausableprocess.Starter,
	cmd pausableprocess.Command,
) (*ffmpegProcess, error) {
	log := logwriter.NewLogWriter(ctx, logger.FromCtx(ctx), logger.LevelDebug, "ffmpeg: ")
	if cmd.Stderr == nil {
		cmd.Stderr = log
	} else {
		cmd.Stderr = io.MultiWriter(cmd.Stderr, log)
	}
	proc, err := starter.Start(ctx, cmd)
	if err != nil {
		log.Close()
		return nil, err
	}
	return &ffmpegProcess{
		Process: proc,
		log:     log,
	}, nil
}

// finish closes the stdin and waits for the exit code. The process is
// killed if it could not be waited for (e.g. the context is cancelled).
func (p *ffmpegProcess) finish(ctx context.Context) (int, error) {
	defer p.log.Close()
	if err := p.Stdin().Close(); err != nil {
		logger.Debugf(ctx, "unable to close the stdin of %d: %v", p.PID(), err)
	}
	exitCode, err := p.Wait(ctx)
	if err != nil {
		if killErr := p.Kill(); killErr != nil {
			logger.Errorf(ctx, "unable to kill the process %d: %v", p.PID(), killErr)
		}
		return exitCode, fmt.Errorf("unable to wait for process %d: %w", p.PID(), err)
	}
	return exitCode, nil
}

func (p *ffmpegProcess) exitError(exitCode int) error {
	return fmt.Errorf("ffmpeg has exited with code %d: %s", exitCode, p.log.TailString())
}

func run(
	ctx context.Context,
	starter pausableprocess.Starter,
	cmd pausableprocess.Command,
) (int, error) {
	p, err := start(ctx, starter, cmd)
	if err != nil {
		return -1, err
	}
	return p.finish(ctx)
}

// runChecked runs a command and requires it to exit with code 0 and
// produce a non-empty output file.
func runChecked(
	ctx context.Context,
	starter pausableprocess.Starter,
	cmd pausableprocess.Command,
	outputPath string,
) error {
	p, err := start(ctx, starter, cmd)
	if err != nil {
		return err
	}
	exitCode, err := p.finish(ctx)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return p.exitError(exitCode)
	}
	ok, err := isNonEmptyFile(outputPath)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("ffmpeg has exited successfully, but '%s' is empty or missing", outputPath)
	}
	return nil
}
