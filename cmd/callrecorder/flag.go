package main

import (
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/spf13/cobra"
)

type Flags struct {
	LoggerLevel   logger.Level
	ConfigPath    string
	MetricsListen string
	SentryDSN     string
}

var flags = Flags{
	LoggerLevel: logger.LevelInfo,
}

func initFlags(root *cobra.Command) {
	p := root.PersistentFlags()
	p.Var(&flags.LoggerLevel, "log-level", "the logging level")
	p.StringVar(&flags.ConfigPath, "config-path", "~/.callrecorder.yaml", "the path to the config file")
	p.StringVar(&flags.MetricsListen, "metrics-listen", "", "the address to serve Prometheus metrics and net/pprof at")
	p.StringVar(&flags.SentryDSN, "sentry-dsn", "", "DSN of a Sentry instance to send error reports")
}
