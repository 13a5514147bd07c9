package resampler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToLength(t *testing.T) {
	t.Run("same length", func(t *testing.T) {
		src := []int16{1, 2, 3, 4}
		require.Equal(t, src, ToLength(src, 2, 2))
	})
	t.Run("stretch", func(t *testing.T) {
		out := ToLength([]int16{0, 0, 100, -100}, 2, 3)
		require.Equal(t, []int16{0, 0, 50, -50, 100, -100}, out)
	})
	t.Run("squeeze", func(t *testing.T) {
		src := make([]int16, 0, 200)
		for i := 0; i < 100; i++ {
			src = append(src, int16(i), int16(-i))
		}
		out := ToLength(src, 2, 10)
		require.Len(t, out, 20)
		require.Equal(t, int16(0), out[0])
		require.Equal(t, int16(99), out[18])
		require.Equal(t, int16(-99), out[19])
	})
	t.Run("empty input", func(t *testing.T) {
		require.Equal(t, make([]int16, 8), ToLength(nil, 2, 4))
	})
	t.Run("zero output", func(t *testing.T) {
		require.Empty(t, ToLength([]int16{1, 2}, 2, 0))
	})
}

func TestResamplerStreaming(t *testing.T) {
	src := make([]int16, 0, 2*480)
	for i := 0; i < 480; i++ {
		src = append(src, int16(i*10), int16(-i*10))
	}

	whole, err := New(2, 16000, 48000)
	require.NoError(t, err)
	expected := whole.Resample(src)

	streamed, err := New(2, 16000, 48000)
	require.NoError(t, err)
	var actual []int16
	for offset := 0; offset < len(src); offset += 2 * 160 {
		actual = append(actual, streamed.Resample(src[offset:offset+2*160])...)
	}

	require.Len(t, actual, len(expected))
	for idx := range expected {
		require.InDelta(t, expected[idx], actual[idx], 1, "sample %d", idx)
	}
	require.InDelta(t, 3*480, len(actual)/2, 6)
}

func TestResamplerPassthrough(t *testing.T) {
	r, err := New(2, 48000, 48000)
	require.NoError(t, err)
	src := []int16{1, 2, 3, 4}
	require.Equal(t, src, r.Resample(src))
}

func TestNewInvalid(t *testing.T) {
	_, err := New(0, 48000, 48000)
	require.Error(t, err)
	_, err = New(2, 0, 48000)
	require.Error(t, err)
}
