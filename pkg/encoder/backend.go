package encoder

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/callrecorder/pkg/pausableprocess"
)

// Backend is the H.264 encoder implementation used for a job.
type Backend string

const (
	BackendAuto  = Backend("auto")
	BackendNVENC = Backend("nvenc")
	BackendX264  = Backend("x264")
)

// Codec returns the FFmpeg encoder name.
func (b Backend) Codec() string {
	switch b {
	case BackendNVENC:
		return "h264_nvenc"
	case BackendX264:
		return "libx264"
	default:
		return ""
	}
}

// UsesGPU returns true if encoding with this backend competes for the GPU.
func (b Backend) UsesGPU() bool {
	return b == BackendNVENC
}

func (b Backend) codecArgs(cfg Config) []string {
	switch b {
	case BackendNVENC:
		return []string{
			"-c:v", b.Codec(),
			"-preset", cfg.NVENCPreset,
			"-rc", "vbr",
			"-cq", fmt.Sprint(cfg.NVENCCQ),
		}
	default:
		return []string{
			"-c:v", BackendX264.Codec(),
			"-preset", cfg.X264Preset,
			"-crf", fmt.Sprint(cfg.X264CRF),
		}
	}
}

// ProbeBackend picks NVENC if FFmpeg lists it and a short test encode with
// it succeeds, and libx264 otherwise.
func ProbeBackend(
	ctx context.Context,
	starter pausableprocess.Starter,
	ffmpegPath string,
) (_ret Backend, _err error) {
	logger.Debugf(ctx, "ProbeBackend(ctx, '%s')", ffmpegPath)
	defer func() { logger.Debugf(ctx, "/ProbeBackend(ctx, '%s'): %s %v", ffmpegPath, _ret, _err) }()

	var stdout bytes.Buffer
	exitCode, err := run(ctx, starter, pausableprocess.Command{
		Path:   ffmpegPath,
		Args:   []string{"-hide_banner", "-nostdin", "-encoders"},
		Stdout: &stdout,
	})
	if err != nil {
		return "", fmt.Errorf("unable to list the encoders of '%s': %w", ffmpegPath, err)
	}
	if exitCode != 0 {
		return "", fmt.Errorf("unable to list the encoders of '%s': exit code %d", ffmpegPath, exitCode)
	}
	if !strings.Contains(stdout.String(), BackendNVENC.Codec()) {
		logger.Infof(ctx, "'%s' is not available, using '%s'", BackendNVENC.Codec(), BackendX264.Codec())
		return BackendX264, nil
	}

	exitCode, err = run(ctx, starter, pausableprocess.Command{
		Path: ffmpegPath,
		Args: []string{
			"-hide_banner", "-nostdin", "-loglevel", "error",
			"-f", "lavfi", "-i", "color=c=black:s=256x256:r=24:d=0.2",
			"-frames:v", "2",
			"-c:v", BackendNVENC.Codec(),
			"-f", "null", "-",
		},
	})
	if err != nil || exitCode != 0 {
		logger.Warnf(ctx, "'%s' is listed, but a test encode failed (exit code %d, err: %v); using '%s'", BackendNVENC.Codec(), exitCode, err, BackendX264.Codec())
		return BackendX264, nil
	}
	return BackendNVENC, nil
}
