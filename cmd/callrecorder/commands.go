package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/spf13/cobra"
	"github.com/xaionaro-go/callrecorder/pkg/encoder"
	"github.com/xaionaro-go/callrecorder/pkg/gpumonitor"
	"github.com/xaionaro-go/callrecorder/pkg/pausableprocess"
	"github.com/xaionaro-go/callrecorder/pkg/processing"
	"github.com/xaionaro-go/callrecorder/pkg/rawstore"
	"github.com/xaionaro-go/callrecorder/pkg/recorder"
	"github.com/xaionaro-go/callrecorder/pkg/recorder/config"
	"github.com/xaionaro-go/callrecorder/pkg/synthetic"
	"github.com/xaionaro-go/callrecorder/pkg/xpath"
)

var (
	runtimeCloser context.CancelFunc

	Root = &cobra.Command{
		Use:           appName,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			ctx := initContext(cmd.Context(), flags)
			ctx, runtimeCloser = initRuntime(ctx, flags)
			cmd.SetContext(ctx)
			logger.Debugf(ctx, "log-level: %v", flags.LoggerLevel)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Debug(cmd.Context(), "end")
			if runtimeCloser != nil {
				runtimeCloser()
			}
		},
	}

	Synthetic = &cobra.Command{
		Use:   "synthetic",
		Short: "record generated participants end to end",
		Args:  cobra.ExactArgs(0),
		Run:   syntheticRecording,
	}

	Finalize = &cobra.Command{
		Use:   "finalize <raw-dir> [output-path]",
		Short: "finalize a raw recording into a video file",
		Args:  cobra.RangeArgs(1, 2),
		Run:   finalize,
	}

	Recover = &cobra.Command{
		Use:   "recover",
		Short: "finalize all the raw recordings left in the work directory",
		Args:  cobra.ExactArgs(0),
		Run:   recoverPending,
	}

	GPUStatus = &cobra.Command{
		Use:   "gpu-status",
		Short: "print the GPU compute processes and whether the GPU is considered busy",
		Args:  cobra.ExactArgs(0),
		Run:   gpuStatus,
	}

	ProbeEncoder = &cobra.Command{
		Use:   "probe-encoder",
		Short: "print the video encoder backend which would be used",
		Args:  cobra.ExactArgs(0),
		Run:   probeEncoder,
	}

	GenerateConfig = &cobra.Command{
		Use:   "generate-config",
		Short: "write the default config to --config-path",
		Args:  cobra.ExactArgs(0),
		Run:   generateConfig,
	}

	Version = &cobra.Command{
		Use:   "version",
		Short: "print the build information",
		Args:  cobra.ExactArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			printBuildInfo(cmd.Context(), os.Stdout)
		},
	}
)

func init() {
	initFlags(Root)

	Synthetic.Flags().String("meeting-id", "synthetic", "the meeting ID to record as")
	Synthetic.Flags().Int("participants", 2, "the amount of generated participants")
	Synthetic.Flags().Duration("duration", 10*time.Second, "the length of the recording")
	Synthetic.Flags().Bool("screen-share", false, "make the first participant share the screen")
	Synthetic.Flags().Int("input-sample-rate", 44100, "the sample rate of the generated audio")

	Root.AddCommand(Synthetic)
	Root.AddCommand(Finalize)
	Root.AddCommand(Recover)
	Root.AddCommand(GPUStatus)
	Root.AddCommand(ProbeEncoder)
	Root.AddCommand(GenerateConfig)
	Root.AddCommand(Version)
}

func configPath(ctx context.Context) string {
	p, err := xpath.Expand(flags.ConfigPath)
	assertNoError(ctx, err)
	return p
}

func readConfig(ctx context.Context) config.Config {
	cfg, err := config.ReadOrDefault(ctx, configPath(ctx))
	assertNoError(ctx, err)
	assertNoError(ctx, cfg.ExpandPaths())
	for _, p := range []*string{&cfg.Encoder.FFmpegPath, &cfg.GPU.NvidiaSMIPath} {
		execPath, err := xpath.GetExecPath(*p)
		if err != nil {
			logger.Debugf(ctx, "unable to resolve '%s': %v", *p, err)
			continue
		}
		*p = execPath
	}
	return *cfg
}

func newRecorder(ctx context.Context, cfg config.Config) *recorder.Recorder {
	rec, err := recorder.New(ctx, cfg, nil)
	assertNoError(ctx, err)
	if cfg.Queue.RecoverOnStart {
		tickets, err := rec.RecoverPending(ctx)
		assertNoError(ctx, err)
		if len(tickets) > 0 {
			logger.Infof(ctx, "recovering %d pending recording(s) in the background", len(tickets))
		}
	}
	return rec
}

func syntheticRecording(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	cfg := readConfig(ctx)
	meetingID, _ := cmd.Flags().GetString("meeting-id")
	participants, _ := cmd.Flags().GetInt("participants")
	duration, _ := cmd.Flags().GetDuration("duration")
	screenShare, _ := cmd.Flags().GetBool("screen-share")
	sampleRate, _ := cmd.Flags().GetInt("input-sample-rate")

	rec := newRecorder(ctx, cfg)
	s, err := rec.Start(ctx, meetingID)
	assertNoError(ctx, err)

	for idx := 0; idx < participants; idx++ {
		participantID := fmt.Sprintf("participant-%d", idx)
		assertNoError(ctx, s.AddVideoTrack(synthetic.NewVideoTrack(nil, participantID, false, 640, 360, 30, duration)))
		assertNoError(ctx, s.AddAudioTrack(synthetic.NewAudioTrack(nil, participantID, sampleRate, 220*float64(idx+1), duration)))
		if idx == 0 && screenShare {
			assertNoError(ctx, s.AddVideoTrack(synthetic.NewVideoTrack(nil, participantID, true, 1920, 1080, 10, duration)))
		}
	}

	select {
	case <-ctx.Done():
		logger.Infof(ctx, "interrupted, stopping the recording")
	case <-time.After(duration):
	}

	// the recording is finalized even if interrupted
	path, err := rec.Stop(context.WithoutCancel(ctx), s)
	assertNoError(ctx, err)
	fmt.Println(path)
	rec.Wait()
}

func finalize(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	cfg := readConfig(ctx)
	rawDir := args[0]

	meta, err := rawstore.ReadMeta(rawDir)
	assertNoError(ctx, err)
	outputPath := meta.OutputPath
	if len(args) > 1 {
		outputPath = args[1]
	}
	if outputPath == "" {
		logger.Fatalf(ctx, "the output path is not recorded in '%s', please provide it", rawDir)
	}

	rec, err := recorder.New(ctx, cfg, nil)
	assertNoError(ctx, err)
	path, err := rec.Queue.Submit(ctx, processing.Job{
		MeetingID:  meta.MeetingID,
		RawDir:     rawDir,
		OutputPath: outputPath,
	}).Wait(ctx)
	assertNoError(ctx, err)
	fmt.Println(path)
}

func recoverPending(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	cfg := readConfig(ctx)

	rec, err := recorder.New(ctx, cfg, nil)
	assertNoError(ctx, err)
	tickets, err := rec.RecoverPending(ctx)
	assertNoError(ctx, err)

	var failed int
	for _, ticket := range tickets {
		path, err := ticket.Wait(ctx)
		if err != nil {
			logger.Errorf(ctx, "unable to finalize %s: %v", ticket.Job, err)
			failed++
			continue
		}
		fmt.Println(path)
	}
	if failed > 0 {
		logger.Fatalf(ctx, "%d of %d recording(s) failed", failed, len(tickets))
	}
}

func gpuStatus(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	cfg := readConfig(ctx)

	state := gpumonitor.NewNvidiaSMI(cfg.GPU.Config).State(ctx)
	if state.Err != nil {
		logger.Fatalf(ctx, "unable to query the GPU: %v", state.Err)
	}
	for _, p := range state.Processes {
		fmt.Println(p)
	}
	fmt.Printf("busy: %t (threshold: %d MiB)\n", state.Busy, cfg.GPU.MemoryThresholdMB)
}

func probeEncoder(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	cfg := readConfig(ctx)

	backend, err := encoder.ProbeBackend(ctx, pausableprocess.Exec{}, cfg.Encoder.FFmpegPath)
	assertNoError(ctx, err)
	fmt.Printf("%s (%s)\n", backend, backend.Codec())
}

func generateConfig(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	cfgPath := configPath(ctx)
	if _, err := os.Stat(cfgPath); err == nil {
		logger.Fatalf(ctx, "file '%s' already exists", cfgPath)
	}
	assertNoError(ctx, config.WriteConfigToPath(ctx, cfgPath, config.DefaultConfig()))
}
