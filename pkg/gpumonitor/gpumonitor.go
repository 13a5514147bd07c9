// Package gpumonitor decides whether the GPU is occupied by another
// process (the face-verification model) and lets the encoder wait for it.
package gpumonitor

import (
	"context"
	"fmt"
	"time"
)

// ResourceMonitor is the GPU arbiter consulted by the encoder.
type ResourceMonitor interface {
	// IsBusy returns true if a foreign process holds the GPU. PIDs in
	// excludePIDs (and the current process) are never treated as foreign.
	IsBusy(ctx context.Context, excludePIDs ...int) bool

	// WaitUntilFree blocks until IsBusy returns false. It never times
	// out; it returns an error only if ctx is cancelled.
	WaitUntilFree(ctx context.Context, excludePIDs ...int) error
}

// GPUProcess is a compute process as reported by the GPU telemetry.
type GPUProcess struct {
	PID          int
	UsedMemoryMB int
	Name         string
}

func (p GPUProcess) String() string {
	return fmt.Sprintf("%s(pid:%d, %dMiB)", p.Name, p.PID, p.UsedMemoryMB)
}

// State is the result of one telemetry poll.
type State struct {
	Busy       bool
	HolderPIDs []int
	Processes  []GPUProcess
	Err        error
}

type Mode string

const (
	ModeAuto      = Mode("auto")
	ModeNvidiaSMI = Mode("nvidia-smi")
	ModeNone      = Mode("none")
)

type Config struct {
	NvidiaSMIPath       string        `yaml:"nvidia_smi_path"`
	MemoryThresholdMB   int           `yaml:"memory_threshold_mb"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	ProgressLogInterval time.Duration `yaml:"progress_log_interval"`
	StallWarnAfter      time.Duration `yaml:"stall_warn_after"`
	QueryTimeout        time.Duration `yaml:"query_timeout"`
}

func DefaultConfig() Config {
	return Config{
		NvidiaSMIPath:       "nvidia-smi",
		MemoryThresholdMB:   1000,
		PollInterval:        5 * time.Second,
		ProgressLogInterval: 30 * time.Second,
		StallWarnAfter:      10 * time.Minute,
		QueryTimeout:        10 * time.Second,
	}
}

// New returns the monitor for the given mode. In ModeAuto nvidia-smi is
// used only when the hardware encoder is in use, since without a GPU the
// fail-safe policy would report "busy" forever.
func New(
	mode Mode,
	cfg Config,
	gpuInUse bool,
) (ResourceMonitor, error) {
	switch mode {
	case ModeAuto, "":
		if !gpuInUse {
			return AlwaysFree{}, nil
		}
		return NewNvidiaSMI(cfg), nil
	case ModeNvidiaSMI:
		return NewNvidiaSMI(cfg), nil
	case ModeNone:
		return AlwaysFree{}, nil
	default:
		return nil, fmt.Errorf("unknown GPU monitor mode '%s'", mode)
	}
}

// AlwaysFree is the monitor for hosts without a shared GPU.
type AlwaysFree struct{}

var _ ResourceMonitor = AlwaysFree{}

func (AlwaysFree) IsBusy(context.Context, ...int) bool {
	return false
}

func (AlwaysFree) WaitUntilFree(ctx context.Context, _ ...int) error {
	return ctx.Err()
}
