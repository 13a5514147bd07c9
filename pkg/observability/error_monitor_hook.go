package observability

import (
	"bytes"
	"context"
	"fmt"
	"runtime"

	"github.com/DataDog/gostackparse"
	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/pkg/field"
	xruntime "github.com/facebookincubator/go-belt/pkg/runtime"
	"github.com/facebookincubator/go-belt/tool/experimental/errmon"
	errmontypes "github.com/facebookincubator/go-belt/tool/experimental/errmon/types"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/adapter"
	loggertypes "github.com/facebookincubator/go-belt/tool/logger/types"
)

const (
	maxStackDumpSize = 10 << 20
	reportQueueSize  = 10
)

// CorrelationFields are the log fields copied into the external IDs of an
// error report, so that reports of the same recording can be grouped.
var CorrelationFields = []string{"meeting_id", "session_id", "job_id", "track_id"}

// ErrorMonitorLoggerHook reports log entries of level Error and more
// severe to the error monitor, with a dump of all goroutines.
type ErrorMonitorLoggerHook struct {
	ErrorMonitor errmontypes.ErrorMonitor
	MinLevel     loggertypes.Level

	reports chan errorReport
}

type errorReport struct {
	entry              *loggertypes.Entry
	goroutines         []errmontypes.Goroutine
	currentGoroutineID int
	stackTrace         xruntime.PCs
}

var _ loggertypes.PreHook = (*ErrorMonitorLoggerHook)(nil)

func NewErrorMonitorLoggerHook(
	ctx context.Context,
	errorMonitor errmon.ErrorMonitor,
) *ErrorMonitorLoggerHook {
	h := &ErrorMonitorLoggerHook{
		ErrorMonitor: errorMonitor,
		MinLevel:     loggertypes.LevelError,
		reports:      make(chan errorReport, reportQueueSize),
	}
	go h.sendLoop(ctx)
	return h
}

func dumpGoroutines() ([]errmontypes.Goroutine, int) {
	buf := make([]byte, min(65536*runtime.NumGoroutine(), maxStackDumpSize))
	all, _ := gostackparse.Parse(bytes.NewReader(buf[:runtime.Stack(buf, true)]))
	result := make([]errmontypes.Goroutine, 0, len(all))
	for _, g := range all {
		result = append(result, *g)
	}

	current, _ := gostackparse.Parse(bytes.NewReader(buf[:runtime.Stack(buf, false)]))
	if len(current) != 1 {
		return result, 0
	}
	return result, current[0].ID
}

// lastEntry keeps the entry a logger call would have emitted.
type lastEntry struct {
	entry *loggertypes.Entry
}

var _ loggertypes.Emitter = (*lastEntry)(nil)

func (e *lastEntry) Emit(entry *loggertypes.Entry) { e.entry = entry }
func (e *lastEntry) Flush()                        {}

func (h *ErrorMonitorLoggerHook) intercept(
	level loggertypes.Level,
	logFn func(l logger.Logger),
) loggertypes.PreHookResult {
	if level > h.MinLevel {
		return loggertypes.PreHookResult{}
	}
	catcher := &lastEntry{}
	logFn(adapter.LoggerFromEmitter(catcher).WithLevel(h.MinLevel))
	if catcher.entry == nil {
		return loggertypes.PreHookResult{}
	}

	goroutines, currentID := dumpGoroutines()
	select {
	case h.reports <- errorReport{
		entry:              detachEntry(catcher.entry),
		goroutines:         goroutines,
		currentGoroutineID: currentID,
		stackTrace:         xruntime.CallerStackTrace(nil),
	}:
	default:
		// the monitor is behind; the entry is still logged locally
	}
	return loggertypes.PreHookResult{}
}

func (h *ErrorMonitorLoggerHook) ProcessInput(
	_ belt.TraceIDs,
	level loggertypes.Level,
	args ...any,
) loggertypes.PreHookResult {
	return h.intercept(level, func(l logger.Logger) { l.Log(level, args...) })
}

func (h *ErrorMonitorLoggerHook) ProcessInputf(
	_ belt.TraceIDs,
	level loggertypes.Level,
	format string,
	args ...any,
) loggertypes.PreHookResult {
	return h.intercept(level, func(l logger.Logger) { l.Logf(level, format, args...) })
}

func (h *ErrorMonitorLoggerHook) ProcessInputFields(
	_ belt.TraceIDs,
	level loggertypes.Level,
	message string,
	fields field.AbstractFields,
) loggertypes.PreHookResult {
	return h.intercept(level, func(l logger.Logger) { l.LogFields(level, message, fields) })
}

// detachEntry copies the entry with its fields, since the logger may
// reuse them after the hook returns.
func detachEntry(entry *loggertypes.Entry) *loggertypes.Entry {
	dup := *entry
	if entry.Fields != nil {
		fields := make(field.Fields, 0, entry.Fields.Len())
		entry.Fields.ForEachField(func(f *field.Field) bool {
			fields = append(fields, *f)
			return true
		})
		dup.Fields = fields
	}
	return &dup
}

// correlationIDs returns "key=value" for every CorrelationFields entry
// present in the fields.
func correlationIDs(fields field.AbstractFields) []any {
	ids := []any{}
	if fields == nil {
		return ids
	}
	for _, key := range CorrelationFields {
		fields.ForEachField(func(f *field.Field) bool {
			if string(f.Key) != key {
				return true
			}
			ids = append(ids, fmt.Sprintf("%s=%v", f.Key, f.Value))
			return false
		})
	}
	return ids
}

func (h *ErrorMonitorLoggerHook) sendLoop(ctx context.Context) {
	for {
		var r errorReport
		select {
		case <-ctx.Done():
			return
		case r = <-h.reports:
		}
		h.ErrorMonitor.Emitter().Emit(&errmontypes.Event{
			Entry:       *r.entry,
			ExternalIDs: correlationIDs(r.entry.Fields),
			Exception: errmontypes.Exception{
				IsPanic:    r.entry.Level <= loggertypes.LevelPanic,
				Error:      fmt.Errorf("[%s] %s", r.entry.Level, r.entry.Message),
				StackTrace: r.stackTrace,
			},
			CurrentGoroutineID: r.currentGoroutineID,
			Goroutines:         r.goroutines,
		})
	}
}
