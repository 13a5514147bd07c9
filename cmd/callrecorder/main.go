package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	child_process_manager "github.com/AgustinSRG/go-child-process-manager"
	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	xlogrus "github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
)

func main() {
	err := child_process_manager.InitializeChildProcessManager()
	if err != nil {
		panic(err)
	}
	defer child_process_manager.DisposeChildProcessManager()

	ctx := logger.CtxWithLogger(context.Background(), xlogrus.Default())
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = Root.ExecuteContext(ctx)
	belt.Flush(ctx)
	if err != nil {
		os.Exit(1)
	}
}
