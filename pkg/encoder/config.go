package encoder

import (
	"time"

	"github.com/xaionaro-go/callrecorder/pkg/recording/types"
)

type Config struct {
	FFmpegPath string  `yaml:"ffmpeg_path"`
	Backend    Backend `yaml:"backend"`

	// Width and Height are the output resolution; frames of other
	// sizes are rescaled.
	Width  int `yaml:"width"`
	Height int `yaml:"height"`

	SegmentDuration time.Duration `yaml:"segment_duration"`

	// BusyCheckInterval is how often the GPU is polled while frames are
	// being written; a non-positive value means before every frame.
	BusyCheckInterval time.Duration `yaml:"busy_check_interval"`

	X264Preset  string `yaml:"x264_preset"`
	X264CRF     int    `yaml:"x264_crf"`
	NVENCPreset string `yaml:"nvenc_preset"`
	NVENCCQ     int    `yaml:"nvenc_cq"`

	AudioBitrate string `yaml:"audio_bitrate"`
}

func DefaultConfig() Config {
	return Config{
		FFmpegPath:        "ffmpeg",
		Backend:           BackendAuto,
		Width:             types.CanonicalWidth,
		Height:            types.CanonicalHeight,
		SegmentDuration:   15 * time.Minute,
		BusyCheckInterval: 10 * time.Second,
		X264Preset:        "veryfast",
		X264CRF:           23,
		NVENCPreset:       "p4",
		NVENCCQ:           23,
		AudioBitrate:      "192k",
	}
}

// SegmentFrames is the amount of output frames per segment.
func (cfg Config) SegmentFrames() int {
	n := int(cfg.SegmentDuration.Seconds() * types.TargetFPS)
	if n <= 0 {
		n = int((15 * time.Minute).Seconds() * types.TargetFPS)
	}
	return n
}
