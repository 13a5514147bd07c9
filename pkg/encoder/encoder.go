// Package encoder turns an indexed frame set into a video file with FFmpeg,
// segment by segment, yielding the GPU to a competing process on demand.
package encoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/callrecorder/pkg/clock"
	"github.com/xaionaro-go/callrecorder/pkg/frameindex"
	"github.com/xaionaro-go/callrecorder/pkg/gpumonitor"
	"github.com/xaionaro-go/callrecorder/pkg/metrics"
	"github.com/xaionaro-go/callrecorder/pkg/pausableprocess"
	"github.com/xaionaro-go/callrecorder/pkg/recording/types"
	"github.com/xaionaro-go/xsync"
)

const (
	planFileName   = "segments.yaml"
	segmentsDir    = "segments"
	concatListName = "concat.txt"
)

type Encoder struct {
	Config  Config
	Starter pausableprocess.Starter
	Monitor gpumonitor.ResourceMonitor
	Clock   clock.Clock

	backendLocker xsync.Mutex
	backend       Backend
}

func New(
	cfg Config,
	starter pausableprocess.Starter,
	monitor gpumonitor.ResourceMonitor,
) *Encoder {
	if starter == nil {
		starter = pausableprocess.Exec{}
	}
	if monitor == nil {
		monitor = gpumonitor.AlwaysFree{}
	}
	return &Encoder{
		Config:  cfg,
		Starter: starter,
		Monitor: monitor,
		Clock:   clock.New(),
	}
}

// Backend returns the configured backend, probing FFmpeg once if it is
// set to "auto".
func (e *Encoder) Backend(ctx context.Context) (Backend, error) {
	return xsync.DoR2(ctx, &e.backendLocker, func() (Backend, error) {
		if e.backend != "" {
			return e.backend, nil
		}
		switch e.Config.Backend {
		case BackendNVENC, BackendX264:
			e.backend = e.Config.Backend
		case BackendAuto, "":
			backend, err := ProbeBackend(ctx, e.Starter, e.Config.FFmpegPath)
			if err != nil {
				return "", err
			}
			e.backend = backend
		default:
			return "", fmt.Errorf("unknown encoder backend '%s'", e.Config.Backend)
		}
		return e.backend, nil
	})
}

// Request describes one video to encode.
type Request struct {
	MeetingID   string
	Frames      *frameindex.Index
	TotalFrames int

	// WorkDir keeps the segments and the SegmentPlan; a request repeated
	// with the same WorkDir resumes from the plan.
	WorkDir    string
	OutputPath string
}

type Result struct {
	Path          string
	Backend       Backend
	EncodedFrames int
	Segments      int
	Pauses        int

	// Partial is true if encoding stopped early after a process failure.
	Partial bool
}

func (e *Encoder) Encode(
	ctx context.Context,
	req Request,
) (_ret *Result, _err error) {
	logger.Debugf(ctx, "Encode(ctx, %s: %d frames -> '%s')", req.MeetingID, req.TotalFrames, req.OutputPath)
	defer func() { logger.Debugf(ctx, "/Encode(ctx, %s): %#+v %v", req.MeetingID, _ret, _err) }()

	if req.TotalFrames <= 0 {
		return nil, fmt.Errorf("nothing to encode: %d frames", req.TotalFrames)
	}
	backend, err := e.Backend(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to determine the encoder backend: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(req.WorkDir, segmentsDir), 0750); err != nil {
		return nil, fmt.Errorf("unable to create the segments directory in '%s': %w", req.WorkDir, err)
	}

	planPath := filepath.Join(req.WorkDir, planFileName)
	plan, err := e.openPlan(ctx, planPath, &SegmentPlan{
		MeetingID:     req.MeetingID,
		TotalFrames:   req.TotalFrames,
		SegmentFrames: e.Config.SegmentFrames(),
		Width:         e.Config.Width,
		Height:        e.Config.Height,
		Backend:       backend,
	})
	if err != nil {
		return nil, err
	}

	result := &Result{
		Path:    req.OutputPath,
		Backend: backend,
	}
	if plan.IsDone() && IsNonEmptyFile(req.OutputPath) {
		logger.Infof(ctx, "the video of %s is already encoded", req.MeetingID)
		result.EncodedFrames = plan.EncodedFrames()
		result.Segments = len(plan.Completed)
		result.Partial = plan.Truncated
		return result, nil
	}

	seq := NewFrameSequence(req.Frames, e.Config.Width, e.Config.Height)
	for !plan.IsDone() {
		startFrame := plan.Cursor
		endFrame := min(startFrame+plan.SegmentFrames, plan.TotalFrames)
		segPath := filepath.Join(req.WorkDir, segmentsDir, fmt.Sprintf("segment_%04d.mp4", len(plan.Completed)))

		if err := e.Monitor.WaitUntilFree(ctx); err != nil {
			return nil, fmt.Errorf("unable to wait for the GPU to become free: %w", err)
		}

		outcome, err := e.encodeSegment(ctx, backend, seq, segPath, startFrame, endFrame)
		result.Pauses += outcome.pauses
		if err != nil {
			return nil, err
		}
		if outcome.kept {
			plan.Completed = append(plan.Completed, Segment{
				Path:       segPath,
				StartFrame: startFrame,
				EndFrame:   startFrame + outcome.written,
			})
			metrics.EncoderSegments.WithLabelValues("completed").Inc()
		} else {
			metrics.EncoderSegments.WithLabelValues("abandoned").Inc()
		}
		if outcome.failure != nil {
			logger.Errorf(ctx, "segment [%d, %d) of %s has failed (kept: %t, frames written: %d): %v; finishing with the segments encoded so far", startFrame, endFrame, req.MeetingID, outcome.kept, outcome.written, outcome.failure)
			plan.Truncated = true
			plan.Cursor = startFrame + outcome.written
		} else {
			plan.Cursor = endFrame
		}
		if err := plan.Save(planPath); err != nil {
			return nil, fmt.Errorf("unable to save the segment plan: %w", err)
		}
	}

	if len(plan.Completed) == 0 {
		return nil, fmt.Errorf("no segment of %s was encoded successfully", req.MeetingID)
	}
	if err := e.concat(ctx, backend, req.WorkDir, plan.Completed, req.OutputPath); err != nil {
		return nil, fmt.Errorf("unable to concatenate the segments: %w", err)
	}

	result.EncodedFrames = plan.EncodedFrames()
	result.Segments = len(plan.Completed)
	result.Partial = plan.Truncated
	if st, err := os.Stat(req.OutputPath); err == nil {
		logger.Infof(ctx, "encoded %d frames of %s in %d segment(s) into '%s' (%s)", result.EncodedFrames, req.MeetingID, result.Segments, req.OutputPath, humanize.Bytes(uint64(st.Size())))
	}
	return result, nil
}

func (e *Encoder) openPlan(
	ctx context.Context,
	planPath string,
	fresh *SegmentPlan,
) (*SegmentPlan, error) {
	loaded, err := LoadPlan(ctx, planPath)
	if err != nil {
		logger.Warnf(ctx, "unable to load the segment plan, starting over: %v", err)
		loaded = nil
	}
	if loaded != nil && loaded.compatible(fresh) && segmentsExist(loaded) {
		if loaded.Cursor > 0 {
			logger.Infof(ctx, "resuming the encoding of %s from frame %d/%d", fresh.MeetingID, loaded.Cursor, loaded.TotalFrames)
		}
		return loaded, nil
	}
	if loaded != nil {
		logger.Infof(ctx, "the segment plan of %s is stale, starting over", fresh.MeetingID)
		for _, seg := range loaded.Completed {
			if err := os.Remove(seg.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
				logger.Warnf(ctx, "unable to remove a stale segment '%s': %v", seg.Path, err)
			}
		}
	}
	if err := fresh.Save(planPath); err != nil {
		return nil, fmt.Errorf("unable to save the segment plan: %w", err)
	}
	return fresh, nil
}

func segmentsExist(plan *SegmentPlan) bool {
	for _, seg := range plan.Completed {
		if !IsNonEmptyFile(seg.Path) {
			return false
		}
	}
	return true
}

type segmentOutcome struct {
	written int
	pauses  int
	kept    bool
	failure error
}

// encodeSegment streams frames [startFrame, endFrame) into a new FFmpeg
// process. Process and pipe failures are reported in the outcome; the
// returned error is set only if the context was cancelled.
func (e *Encoder) encodeSegment(
	ctx context.Context,
	backend Backend,
	seq *FrameSequence,
	segPath string,
	startFrame, endFrame int,
) (_ret segmentOutcome, _err error) {
	logger.Debugf(ctx, "encodeSegment(ctx, %s, '%s', [%d, %d))", backend, segPath, startFrame, endFrame)
	defer func() { logger.Debugf(ctx, "/encodeSegment(ctx, %s, '%s'): %d frames %v", backend, segPath, _ret.written, _err) }()

	var outcome segmentOutcome
	proc, err := start(ctx, e.Starter, pausableprocess.Command{
		Path: e.Config.FFmpegPath,
		Args: segmentArgs(e.Config, backend, segPath),
	})
	if err != nil {
		outcome.failure = fmt.Errorf("unable to start the encoder: %w", err)
		return outcome, nil
	}

	abort := func(err error) (segmentOutcome, error) {
		if killErr := proc.Kill(); killErr != nil {
			logger.Errorf(ctx, "unable to kill the encoder %d: %v", proc.PID(), killErr)
		}
		proc.log.Close()
		os.Remove(segPath)
		return outcome, err
	}

	lastBusyCheck := e.Clock.Now()
	for n := startFrame; n < endFrame; n++ {
		if err := ctx.Err(); err != nil {
			return abort(err)
		}
		if e.isTimeToCheckBusy(&lastBusyCheck) && e.Monitor.IsBusy(ctx, proc.PID()) {
			outcome.pauses++
			if err := e.pauseUntilFree(ctx, proc); err != nil {
				return abort(err)
			}
		}

		buf, source, err := seq.Frame(int64(n))
		if err != nil {
			logger.Warnf(ctx, "unable to render frame %d, using a placeholder: %v", n, err)
			buf, source = seq.placeholder, types.FrameSourcePlaceholder
		}
		if _, err := proc.Stdin().Write(buf); err != nil {
			outcome.failure = fmt.Errorf("unable to write frame %d into the encoder: %w", n, err)
			break
		}
		outcome.written++
		metrics.EncoderFramesWritten.WithLabelValues(source.String()).Inc()
	}

	exitCode, err := proc.finish(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return abort(ctx.Err())
		}
		if outcome.failure == nil {
			outcome.failure = err
		}
	}
	nonEmpty := IsNonEmptyFile(segPath)
	switch {
	case exitCode == 0 && nonEmpty:
		outcome.kept = true
	case outcome.failure != nil:
		outcome.failure = fmt.Errorf("%w (%s)", outcome.failure, proc.exitError(exitCode))
	case exitCode != 0:
		outcome.failure = proc.exitError(exitCode)
	default:
		outcome.failure = fmt.Errorf("the encoder has exited successfully, but '%s' is empty or missing", segPath)
	}
	if !outcome.kept {
		outcome.written = 0
		if err := os.Remove(segPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warnf(ctx, "unable to remove the abandoned segment '%s': %v", segPath, err)
		}
	}
	return outcome, nil
}

func (e *Encoder) isTimeToCheckBusy(lastCheck *time.Time) bool {
	if e.Config.BusyCheckInterval <= 0 {
		return true
	}
	now := e.Clock.Now()
	if now.Sub(*lastCheck) < e.Config.BusyCheckInterval {
		return false
	}
	*lastCheck = now
	return true
}

// pauseUntilFree freezes the encoder while a foreign process holds the
// GPU. No frame is written meanwhile, so the output is not affected.
func (e *Encoder) pauseUntilFree(
	ctx context.Context,
	proc *ffmpegProcess,
) error {
	metrics.EncoderPauses.Inc()
	paused := true
	if err := proc.Pause(ctx); err != nil {
		logger.Warnf(ctx, "unable to pause the encoder, it will idle instead: %v", err)
		paused = false
	}
	waitErr := e.Monitor.WaitUntilFree(ctx, proc.PID())
	if paused {
		if err := proc.Resume(ctx); err != nil {
			return fmt.Errorf("unable to resume the encoder: %w", err)
		}
	}
	if waitErr != nil {
		return fmt.Errorf("unable to wait for the GPU to become free: %w", waitErr)
	}
	return nil
}

func (e *Encoder) concat(
	ctx context.Context,
	backend Backend,
	workDir string,
	segments []Segment,
	outputPath string,
) error {
	if len(segments) == 1 {
		if err := os.Rename(segments[0].Path, outputPath); err != nil {
			return fmt.Errorf("unable to move '%s' to '%s': %w", segments[0].Path, outputPath, err)
		}
		return nil
	}

	if backend.UsesGPU() {
		if err := e.Monitor.WaitUntilFree(ctx); err != nil {
			return fmt.Errorf("unable to wait for the GPU to become free: %w", err)
		}
	}

	var list strings.Builder
	for _, seg := range segments {
		absPath, err := filepath.Abs(seg.Path)
		if err != nil {
			return fmt.Errorf("unable to get the absolute path of '%s': %w", seg.Path, err)
		}
		fmt.Fprintf(&list, "file '%s'\n", strings.ReplaceAll(absPath, "'", `'\''`))
	}
	listPath := filepath.Join(workDir, concatListName)
	if err := os.WriteFile(listPath, []byte(list.String()), 0640); err != nil {
		return fmt.Errorf("unable to write '%s': %w", listPath, err)
	}

	tmpPath := outputPath + ".partial"
	err := runChecked(ctx, e.Starter, pausableprocess.Command{
		Path: e.Config.FFmpegPath,
		Args: concatArgs(listPath, tmpPath),
	}, tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		return fmt.Errorf("unable to move '%s' to '%s': %w", tmpPath, outputPath, err)
	}
	return nil
}

// Mux combines the encoded video and the mixed audio into the final
// container. It succeeds only if FFmpeg exits with code 0 and the output
// is non-empty.
func (e *Encoder) Mux(
	ctx context.Context,
	videoPath string,
	wavPath string,
	outputPath string,
) (_err error) {
	logger.Debugf(ctx, "Mux(ctx, '%s', '%s', '%s')", videoPath, wavPath, outputPath)
	defer func() { logger.Debugf(ctx, "/Mux(ctx, '%s', '%s', '%s'): %v", videoPath, wavPath, outputPath, _err) }()

	if err := os.MkdirAll(filepath.Dir(outputPath), 0750); err != nil {
		return fmt.Errorf("unable to create the directory for '%s': %w", outputPath, err)
	}
	tmpPath := outputPath + ".partial"
	err := runChecked(ctx, e.Starter, pausableprocess.Command{
		Path: e.Config.FFmpegPath,
		Args: muxArgs(e.Config, videoPath, wavPath, tmpPath),
	}, tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("unable to mux '%s' and '%s': %w", videoPath, wavPath, err)
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		return fmt.Errorf("unable to move '%s' to '%s': %w", tmpPath, outputPath, err)
	}
	return nil
}
