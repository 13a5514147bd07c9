package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStopwatch(t *testing.T) {
	mock := NewMock()
	sw := NewStopwatch(mock)
	require.Zero(t, sw.Seconds())

	mock.Add(1500 * time.Millisecond)
	require.InDelta(t, 1.5, sw.Seconds(), 1e-9)

	mock.Add(time.Second)
	require.InDelta(t, 2.5, sw.Seconds(), 1e-9)
}
