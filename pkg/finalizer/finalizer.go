// Package finalizer turns a raw recording directory into the final
// recording file.
package finalizer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/callrecorder/pkg/audiomixer"
	"github.com/xaionaro-go/callrecorder/pkg/encoder"
	"github.com/xaionaro-go/callrecorder/pkg/frameindex"
	"github.com/xaionaro-go/callrecorder/pkg/gpumonitor"
	"github.com/xaionaro-go/callrecorder/pkg/pausableprocess"
	"github.com/xaionaro-go/callrecorder/pkg/processing"
	"github.com/xaionaro-go/callrecorder/pkg/rawstore"
	"github.com/xaionaro-go/xsync"
)

const (
	encodeDirName = "encode"
	videoFileName = "video.mp4"
	audioFileName = "audio.wav"
)

var ErrTooShort = errors.New("the recording is shorter than one video frame")

type Finalizer struct {
	Encoder   *encoder.Encoder
	GPUMode   gpumonitor.Mode
	GPUConfig gpumonitor.Config

	monitorLocker xsync.Mutex
	monitorReady  bool
}

var _ processing.Handler = (*Finalizer)(nil)

func New(
	encCfg encoder.Config,
	gpuMode gpumonitor.Mode,
	gpuCfg gpumonitor.Config,
	starter pausableprocess.Starter,
) *Finalizer {
	return &Finalizer{
		Encoder:   encoder.New(encCfg, starter, nil),
		GPUMode:   gpuMode,
		GPUConfig: gpuCfg,
	}
}

// initMonitor selects the GPU monitor once the encoder backend is known.
func (f *Finalizer) initMonitor(ctx context.Context) error {
	return xsync.DoR1(ctx, &f.monitorLocker, func() error {
		if f.monitorReady {
			return nil
		}
		backend, err := f.Encoder.Backend(ctx)
		if err != nil {
			return fmt.Errorf("unable to determine the encoder backend: %w", err)
		}
		monitor, err := gpumonitor.New(f.GPUMode, f.GPUConfig, backend.UsesGPU())
		if err != nil {
			return fmt.Errorf("unable to initialize the GPU monitor: %w", err)
		}
		logger.Infof(ctx, "encoder backend: %s; GPU monitor: %T", backend, monitor)
		f.Encoder.Monitor = monitor
		f.monitorReady = true
		return nil
	})
}

// Process finalizes the raw recording of the job. Repeating it after an
// interruption resumes the encoding from the saved segment plan.
func (f *Finalizer) Process(
	ctx context.Context,
	job processing.Job,
) (_ret string, _err error) {
	logger.Debugf(ctx, "Process(ctx, %s)", job)
	defer func() { logger.Debugf(ctx, "/Process(ctx, %s): '%s' %v", job, _ret, _err) }()

	if encoder.IsNonEmptyFile(job.OutputPath) {
		logger.Infof(ctx, "'%s' already exists, nothing to do", job.OutputPath)
		return job.OutputPath, nil
	}

	if err := f.initMonitor(ctx); err != nil {
		return "", err
	}

	frozen, err := rawstore.Read(ctx, job.RawDir)
	if err != nil {
		return "", fmt.Errorf("unable to read the raw recording: %w", err)
	}
	totalFrames := frozen.TotalFrames()
	if totalFrames <= 0 {
		return "", ErrTooShort
	}
	index := frameindex.Build(frozen.Frames)
	logger.Infof(ctx, "finalizing %s: %.3fs, %d frames (%d indexed), %d audio chunks", frozen.MeetingID, frozen.Duration, totalFrames, index.Len(), len(frozen.Chunks))

	workDir := filepath.Join(job.RawDir, encodeDirName)
	video, err := f.Encoder.Encode(ctx, encoder.Request{
		MeetingID:   frozen.MeetingID,
		Frames:      index,
		TotalFrames: totalFrames,
		WorkDir:     workDir,
		OutputPath:  filepath.Join(workDir, videoFileName),
	})
	if err != nil {
		return "", fmt.Errorf("unable to encode the video: %w", err)
	}
	if video.Partial {
		logger.Warnf(ctx, "the video of %s is partial: %d of %d frames", frozen.MeetingID, video.EncodedFrames, totalFrames)
	}

	// the audio follows the video actually encoded
	mixed, err := audiomixer.Mix(ctx, frozen.Chunks, video.EncodedFrames)
	if err != nil {
		return "", fmt.Errorf("unable to mix the audio: %w", err)
	}
	wavPath := filepath.Join(workDir, audioFileName)
	if err := audiomixer.WriteWAV(wavPath, mixed.Samples); err != nil {
		return "", fmt.Errorf("unable to write the audio: %w", err)
	}

	if err := f.Encoder.Mux(ctx, video.Path, wavPath, job.OutputPath); err != nil {
		return "", err
	}
	if _, err := os.Stat(job.OutputPath); err != nil {
		return "", fmt.Errorf("unable to stat the output: %w", err)
	}
	return job.OutputPath, nil
}
