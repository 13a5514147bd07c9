package gpumonitor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strconv"
	"strings"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/shirou/gopsutil/process"
	"github.com/xaionaro-go/callrecorder/pkg/clock"
	"github.com/xaionaro-go/callrecorder/pkg/metrics"
)

// QueryFunc returns the raw CSV output of the compute-apps query.
type QueryFunc func(ctx context.Context) ([]byte, error)

// NvidiaSMI reads the GPU occupancy from nvidia-smi.
type NvidiaSMI struct {
	Config  Config
	Query   QueryFunc
	Clock   clock.Clock
	SelfPID int
}

var _ ResourceMonitor = (*NvidiaSMI)(nil)

func NewNvidiaSMI(cfg Config) *NvidiaSMI {
	m := &NvidiaSMI{
		Config:  cfg,
		Clock:   clock.New(),
		SelfPID: os.Getpid(),
	}
	m.Query = m.runNvidiaSMI
	return m
}

func (m *NvidiaSMI) runNvidiaSMI(ctx context.Context) ([]byte, error) {
	timeout := m.Config.QueryTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().QueryTimeout
	}
	ctx, cancelFn := context.WithTimeout(ctx, timeout)
	defer cancelFn()

	path := m.Config.NvidiaSMIPath
	if path == "" {
		path = "nvidia-smi"
	}
	cmd := exec.CommandContext(ctx, path,
		"--query-compute-apps=pid,used_memory,process_name",
		"--format=csv,noheader,nounits",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("unable to run '%s': %w (stderr: %s)", path, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// ParseComputeApps parses the "pid, used_memory, process_name" rows.
func ParseComputeApps(out []byte) ([]GPUProcess, error) {
	var result []GPUProcess
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "No running") {
			continue
		}
		fields := strings.SplitN(line, ",", 3)
		if len(fields) < 2 {
			return nil, fmt.Errorf("unexpected row '%s'", line)
		}
		pid, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			return nil, fmt.Errorf("unable to parse the PID in row '%s': %w", line, err)
		}
		mem, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil {
			// e.g. "[N/A]" for processes with unknown usage
			mem = 0
		}
		var name string
		if len(fields) == 3 {
			name = strings.TrimSpace(fields[2])
		}
		result = append(result, GPUProcess{
			PID:          pid,
			UsedMemoryMB: mem,
			Name:         name,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("unable to read the output: %w", err)
	}
	return result, nil
}

func resolveName(ctx context.Context, p *GPUProcess) {
	if p.Name != "" && !strings.HasPrefix(p.Name, "[") {
		return
	}
	proc, err := process.NewProcess(int32(p.PID))
	if err != nil {
		logger.Tracef(ctx, "unable to find process %d: %v", p.PID, err)
		return
	}
	name, err := proc.Name()
	if err != nil {
		logger.Tracef(ctx, "unable to get the name of process %d: %v", p.PID, err)
		return
	}
	p.Name = name
}

// State polls the telemetry once. A telemetry failure yields a busy
// state.
func (m *NvidiaSMI) State(
	ctx context.Context,
	excludePIDs ...int,
) State {
	out, err := m.Query(ctx)
	if err == nil {
		var procs []GPUProcess
		procs, err = ParseComputeApps(out)
		if err == nil {
			return m.evaluate(ctx, procs, excludePIDs)
		}
	}
	metrics.GPUTelemetryErrors.Inc()
	logger.Warnf(ctx, "unable to query the GPU state, assuming it is busy: %v", err)
	return State{
		Busy: true,
		Err:  err,
	}
}

func (m *NvidiaSMI) evaluate(
	ctx context.Context,
	procs []GPUProcess,
	excludePIDs []int,
) State {
	threshold := m.Config.MemoryThresholdMB
	state := State{Processes: procs}
	for idx := range state.Processes {
		p := &state.Processes[idx]
		if p.PID == m.SelfPID || slices.Contains(excludePIDs, p.PID) {
			continue
		}
		if p.UsedMemoryMB <= threshold {
			continue
		}
		resolveName(ctx, p)
		state.Busy = true
		state.HolderPIDs = append(state.HolderPIDs, p.PID)
	}
	return state
}

func (m *NvidiaSMI) IsBusy(
	ctx context.Context,
	excludePIDs ...int,
) bool {
	state := m.State(ctx, excludePIDs...)
	if state.Busy {
		metrics.GPUBusyPolls.Inc()
		if state.Err == nil {
			logger.Debugf(ctx, "the GPU is busy: %v", holders(state))
		}
	}
	return state.Busy
}

func holders(state State) []GPUProcess {
	var result []GPUProcess
	for _, p := range state.Processes {
		if slices.Contains(state.HolderPIDs, p.PID) {
			result = append(result, p)
		}
	}
	return result
}

func (m *NvidiaSMI) WaitUntilFree(
	ctx context.Context,
	excludePIDs ...int,
) error {
	return waitUntilFree(ctx, m.Clock, m.Config, func(ctx context.Context) bool {
		return m.IsBusy(ctx, excludePIDs...)
	})
}
