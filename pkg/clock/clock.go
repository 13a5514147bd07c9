package clock

import (
	"time"

	"github.com/benbjohnson/clock"
)

type Clock = clock.Clock
type Timer = clock.Timer
type Ticker = clock.Ticker
type Mock = clock.Mock

func New() Clock {
	return clock.New()
}

func NewMock() *Mock {
	return clock.NewMock()
}

// Stopwatch is the recording clock: it is started once when a recording
// begins and all capture timestamps are seconds elapsed since then.
type Stopwatch struct {
	clock     Clock
	startedAt time.Time
}

func NewStopwatch(clk Clock) *Stopwatch {
	if clk == nil {
		clk = New()
	}
	return &Stopwatch{
		clock:     clk,
		startedAt: clk.Now(),
	}
}

func (s *Stopwatch) StartedAt() time.Time {
	return s.startedAt
}

// Seconds returns the amount of seconds elapsed since the start.
//
// The value is monotonic as long as the underlying clock is (time.Now
// carries a monotonic reading).
func (s *Stopwatch) Seconds() float64 {
	return s.clock.Since(s.startedAt).Seconds()
}

func (s *Stopwatch) Clock() Clock {
	return s.clock
}
