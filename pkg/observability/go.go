package observability

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/experimental/errmon"
	"github.com/facebookincubator/go-belt/tool/logger"
)

// PanicError is returned by CallSafe when the called function panicked.
type PanicError struct {
	Value any
}

func (e PanicError) Error() string {
	return fmt.Sprintf("got panic: %v", e.Value)
}

// CallSafe runs fn; a panic is reported and returned as a PanicError.
func CallSafe(ctx context.Context, fn func(context.Context) error) (_err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		reportPanic(ctx, r)
		_err = PanicError{Value: r}
	}()
	return fn(ctx)
}

func reportPanic(ctx context.Context, r any) {
	logger.FromCtx(ctx).
		WithField("error_event_exception_stack_trace", string(debug.Stack())).
		Errorf("got panic: %v", r)
	errmon.ObserveRecoverCtx(ctx, r)
	belt.Flush(ctx)
}
