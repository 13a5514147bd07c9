package logwriter

import (
	"bytes"
	"context"
	"io"
	"strings"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/callrecorder/pkg/ringbuffer"
	"github.com/xaionaro-go/xsync"
)

// DefaultTailLines is the amount of the last lines kept for error reports.
const DefaultTailLines = 20

// LogWriter forwards the output of a subprocess to the logger (flushing
// once per second) and remembers the last lines of it.
type LogWriter struct {
	Logger       logger.Logger
	Level        logger.Level
	Prefix       string
	Buffer       bytes.Buffer
	BufferLocker xsync.Mutex
	tail         *ringbuffer.RingBuffer[string]
	partialLine  []byte
	cancelFn     context.CancelFunc
}

var _ io.WriteCloser = (*LogWriter)(nil)

func NewLogWriter(
	ctx context.Context,
	l logger.Logger,
	level logger.Level,
	prefix string,
) *LogWriter {
	ctx, cancelFn := context.WithCancel(ctx)
	w := &LogWriter{
		Logger:   l,
		Level:    level,
		Prefix:   prefix,
		tail:     ringbuffer.New[string](DefaultTailLines),
		cancelFn: cancelFn,
	}
	go w.flusher(ctx)
	return w
}

func (w *LogWriter) flusher(ctx context.Context) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.Flush()
			return
		case <-t.C:
		}
		w.Flush()
	}
}

func (w *LogWriter) Flush() {
	ctx := xsync.WithNoLogging(context.TODO(), true)

	s := xsync.DoR1(ctx, &w.BufferLocker, func() string {
		s := w.Buffer.String()
		w.Buffer.Reset()
		return s
	})
	if len(s) == 0 || w.Logger == nil {
		return
	}

	w.Logger.Logf(w.Level, "%s%s", w.Prefix, strings.TrimRight(s, "\n"))
}

func (w *LogWriter) Write(b []byte) (int, error) {
	ctx := xsync.WithNoLogging(context.TODO(), true)
	w.BufferLocker.Do(ctx, func() {
		w.Buffer.Write(b)
		w.partialLine = append(w.partialLine, b...)
		idx := bytes.LastIndexAny(w.partialLine, "\r\n")
		if idx < 0 {
			return
		}
		lines := strings.FieldsFunc(string(w.partialLine[:idx+1]), func(r rune) bool {
			return r == '\r' || r == '\n'
		})
		for _, line := range lines {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			w.tail.Add(line)
		}
		w.partialLine = append(w.partialLine[:0], w.partialLine[idx+1:]...)
	})
	return len(b), nil
}

// Tail returns the last lines written (an unterminated line included).
func (w *LogWriter) Tail() []string {
	lines := w.tail.Items()
	partial := xsync.DoR1(xsync.WithNoLogging(context.TODO(), true), &w.BufferLocker, func() string {
		return strings.TrimSpace(string(w.partialLine))
	})
	if partial != "" {
		lines = append(lines, partial)
	}
	return lines
}

// TailString is Tail joined into a single string, suitable for wrapping
// into an error message.
func (w *LogWriter) TailString() string {
	return strings.Join(w.Tail(), "\n")
}

// Close stops the flusher after a final flush.
func (w *LogWriter) Close() error {
	w.cancelFn()
	w.Flush()
	return nil
}
