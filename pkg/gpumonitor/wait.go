package gpumonitor

import (
	"context"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/callrecorder/pkg/clock"
	"github.com/xaionaro-go/callrecorder/pkg/metrics"
)

func waitUntilFree(
	ctx context.Context,
	clk clock.Clock,
	cfg Config,
	isBusy func(context.Context) bool,
) error {
	if !isBusy(ctx) {
		return nil
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultConfig().PollInterval
	}
	progressInterval := cfg.ProgressLogInterval
	if progressInterval <= 0 {
		progressInterval = DefaultConfig().ProgressLogInterval
	}

	startedAt := clk.Now()
	metrics.GPUWaiting.Inc()
	defer func() {
		metrics.GPUWaiting.Dec()
		metrics.GPUWaitSeconds.Add(clk.Since(startedAt).Seconds())
	}()
	logger.Infof(ctx, "waiting for the GPU to become free")

	ticker := clk.Ticker(pollInterval)
	defer ticker.Stop()

	var (
		lastProgressAt time.Duration
		stallReported  bool
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if !isBusy(ctx) {
			logger.Infof(ctx, "the GPU is free after %v", clk.Since(startedAt).Round(time.Second))
			return nil
		}
		waited := clk.Since(startedAt)
		if waited-lastProgressAt >= progressInterval {
			lastProgressAt = waited
			logger.Infof(ctx, "still waiting for the GPU: %v", waited.Round(time.Second))
		}
		if !stallReported && cfg.StallWarnAfter > 0 && waited >= cfg.StallWarnAfter {
			stallReported = true
			metrics.GPUWaitStalls.Inc()
			logger.Warnf(ctx, "the GPU has been busy for %v; still waiting", waited.Round(time.Second))
		}
	}
}
