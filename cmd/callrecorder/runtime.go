package main

import (
	"context"
	"errors"
	"net/http"
	_ "net/http/pprof"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xaionaro-go/observability"
)

func initRuntime(
	ctx context.Context,
	flags Flags,
) (context.Context, context.CancelFunc) {
	var closeFuncs []func()

	if flags.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.Handle("/debug/pprof/", http.DefaultServeMux)
		srv := &http.Server{Addr: flags.MetricsListen, Handler: mux}
		observability.Go(ctx, func(ctx context.Context) {
			logger.Infof(ctx, "starting to listen for metrics and net/pprof requests at '%s'", flags.MetricsListen)
			err := srv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error(ctx, err)
			}
		})
		closeFuncs = append(closeFuncs, func() { srv.Close() })
	}

	ctx, cancelFn := context.WithCancel(ctx)
	return ctx, func() {
		cancelFn()
		for i := len(closeFuncs) - 1; i >= 0; i-- {
			closeFuncs[i]()
		}
	}
}
