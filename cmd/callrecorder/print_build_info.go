package main

import (
	"context"
	"io"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/xaionaro-go/callrecorder/pkg/buildvars"
)

type buildReport struct {
	Version      string            `yaml:"version,omitempty"`
	GitCommit    string            `yaml:"git_commit,omitempty"`
	BuildDate    string            `yaml:"build_date,omitempty"`
	GoVersion    string            `yaml:"go_version"`
	Platform     string            `yaml:"platform"`
	Module       string            `yaml:"module,omitempty"`
	Dependencies map[string]string `yaml:"dependencies,omitempty"`
}

func getBuildReport() buildReport {
	report := buildReport{
		Version:   buildvars.Version,
		GitCommit: buildvars.GitCommit,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if buildvars.BuildDate != nil {
		report.BuildDate = buildvars.BuildDate.UTC().Format(time.RFC3339)
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return report
	}
	report.Module = bi.Main.Path
	if report.Version == "" && bi.Main.Version != "(devel)" {
		report.Version = bi.Main.Version
	}
	for _, setting := range bi.Settings {
		if setting.Key == "vcs.revision" && report.GitCommit == "" {
			report.GitCommit = setting.Value
		}
	}
	report.Dependencies = map[string]string{}
	for _, dep := range bi.Deps {
		report.Dependencies[dep.Path] = dep.Version
	}
	return report
}

func printBuildInfo(
	ctx context.Context,
	out io.Writer,
) {
	b, err := yaml.Marshal(getBuildReport())
	assertNoError(ctx, err)
	_, err = out.Write(b)
	assertNoError(ctx, err)
}
