package encoder

import (
	"fmt"

	"github.com/xaionaro-go/callrecorder/pkg/recording/types"
)

func segmentArgs(cfg Config, backend Backend, outputPath string) []string {
	args := []string{
		"-hide_banner", "-nostats", "-loglevel", "warning", "-y",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-s", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-r", fmt.Sprint(types.TargetFPS),
		"-i", "-",
	}
	args = append(args, backend.codecArgs(cfg)...)
	return append(args,
		"-pix_fmt", "yuv420p",
		"-an",
		outputPath,
	)
}

func concatArgs(listPath, outputPath string) []string {
	return []string{
		"-hide_banner", "-nostdin", "-loglevel", "warning", "-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-f", "mp4",
		outputPath,
	}
}

func muxArgs(cfg Config, videoPath, wavPath, outputPath string) []string {
	return []string{
		"-hide_banner", "-nostdin", "-loglevel", "warning", "-y",
		"-i", videoPath,
		"-i", wavPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", cfg.AudioBitrate,
		"-ar", fmt.Sprint(types.SampleRate),
		"-ac", fmt.Sprint(types.Channels),
		"-movflags", "+faststart",
		"-f", "mp4",
		outputPath,
	}
}
