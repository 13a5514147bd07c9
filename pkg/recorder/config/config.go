package config

import (
	"context"
	"fmt"
	"os"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/callrecorder/pkg/encoder"
	"github.com/xaionaro-go/callrecorder/pkg/gpumonitor"
	"github.com/xaionaro-go/callrecorder/pkg/processing"
	"github.com/xaionaro-go/callrecorder/pkg/xpath"
)

type GPUConfig struct {
	// Mode selects how the GPU occupancy is observed.
	Mode              gpumonitor.Mode `yaml:"mode"`
	gpumonitor.Config `yaml:",inline"`
}

type QueueConfig struct {
	Concurrency int `yaml:"concurrency"`

	// RecoverOnStart makes the recorder finalize the raw recordings left
	// in WorkDir by a previous run.
	RecoverOnStart bool `yaml:"recover_on_start"`
}

type config struct {
	WorkDir   string         `yaml:"work_dir"`
	OutputDir string         `yaml:"output_dir"`
	Encoder   encoder.Config `yaml:"encoder"`
	GPU       GPUConfig      `yaml:"gpu"`
	Queue     QueueConfig    `yaml:"queue"`
}

type Config config

func DefaultConfig() Config {
	return Config{
		WorkDir:   "~/.callrecorder/work",
		OutputDir: "~/.callrecorder/recordings",
		Encoder:   encoder.DefaultConfig(),
		GPU: GPUConfig{
			Mode:   gpumonitor.ModeAuto,
			Config: gpumonitor.DefaultConfig(),
		},
		Queue: QueueConfig{
			Concurrency:    processing.DefaultConcurrency,
			RecoverOnStart: true,
		},
	}
}

// ExpandPaths resolves "~/" and environment variables in the
// configured paths.
func (cfg *Config) ExpandPaths() error {
	for _, p := range []*string{&cfg.WorkDir, &cfg.OutputDir, &cfg.Encoder.FFmpegPath, &cfg.GPU.NvidiaSMIPath} {
		expanded, err := xpath.Expand(*p)
		if err != nil {
			return fmt.Errorf("unable to expand '%s': %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// ReadConfigFromPath reads the config on top of the values already in cfg.
func ReadConfigFromPath(
	ctx context.Context,
	cfgPath string,
	cfg *Config,
) error {
	b, err := os.ReadFile(cfgPath)
	if err != nil {
		return fmt.Errorf("unable to read file '%s': %w", cfgPath, err)
	}

	_, err = cfg.Read(b)
	return err
}

// ReadOrDefault returns the config from cfgPath, or the default one if
// the path is empty or the file does not exist.
func ReadOrDefault(
	ctx context.Context,
	cfgPath string,
) (*Config, error) {
	cfg := DefaultConfig()
	if cfgPath == "" {
		return &cfg, nil
	}
	_, err := os.Stat(cfgPath)
	switch {
	case err == nil:
		if err := ReadConfigFromPath(ctx, cfgPath, &cfg); err != nil {
			return nil, err
		}
		return &cfg, nil
	case os.IsNotExist(err):
		logger.Debugf(ctx, "cannot find file '%s', using the default config", cfgPath)
		return &cfg, nil
	default:
		return nil, fmt.Errorf("unable to access file '%s': %w", cfgPath, err)
	}
}

func WriteConfigToPath(
	ctx context.Context,
	cfgPath string,
	cfg Config,
) error {
	pathNew := cfgPath + ".new"
	f, err := os.OpenFile(pathNew, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0640)
	if err != nil {
		return fmt.Errorf("unable to open the config file '%s': %w", pathNew, err)
	}
	_, err = cfg.WriteTo(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("unable to write the config to file '%s': %w", pathNew, err)
	}
	err = os.Rename(pathNew, cfgPath)
	if err != nil {
		return fmt.Errorf("cannot move '%s' to '%s': %w", pathNew, cfgPath, err)
	}
	logger.Infof(ctx, "wrote the config to '%s'", cfgPath)
	return nil
}
