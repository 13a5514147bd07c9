package resampler

import (
	"fmt"
	"math"
)

// Resampler converts a stream of interleaved int16 frames from one sample
// rate to another using linear interpolation. The fractional position is
// carried between calls, so feeding a stream unit by unit produces the same
// output as feeding it at once.
//
// It is not safe for concurrent use.
type Resampler struct {
	channels int
	inRate   int
	outRate  int
	step     float64
	position float64
	last     []int16
}

func New(
	channels int,
	inRate int,
	outRate int,
) (*Resampler, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("invalid amount of channels: %d", channels)
	}
	if inRate <= 0 || outRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates: %d -> %d", inRate, outRate)
	}
	return &Resampler{
		channels: channels,
		inRate:   inRate,
		outRate:  outRate,
		step:     float64(inRate) / float64(outRate),
	}, nil
}

func (r *Resampler) String() string {
	return fmt.Sprintf("resampler(%dch: %dHz->%dHz)", r.channels, r.inRate, r.outRate)
}

// Resample consumes src (interleaved, a multiple of the channel count) and
// returns the frames that could be produced so far.
func (r *Resampler) Resample(src []int16) []int16 {
	if r.inRate == r.outRate {
		return append([]int16(nil), src...)
	}
	ch := r.channels
	srcFrames := len(src) / ch
	if srcFrames == 0 {
		return nil
	}

	frameAt := func(idx int) []int16 {
		if r.last != nil {
			if idx == 0 {
				return r.last
			}
			idx--
		}
		return src[idx*ch : (idx+1)*ch]
	}
	total := srcFrames
	if r.last != nil {
		total++
	}

	out := make([]int16, 0, int(float64(total)/r.step+1)*ch)
	for {
		i0 := int(r.position)
		if i0+1 >= total {
			break
		}
		frac := r.position - float64(i0)
		a, b := frameAt(i0), frameAt(i0+1)
		for c := 0; c < ch; c++ {
			out = append(out, lerp(a[c], b[c], frac))
		}
		r.position += r.step
	}

	r.position -= float64(total - 1)
	if r.last == nil {
		r.last = make([]int16, ch)
	}
	copy(r.last, src[(srcFrames-1)*ch:srcFrames*ch])
	return out
}

// ToLength stretches or squeezes interleaved samples so the result has
// exactly outFrames frames. The first and the last input frames map onto
// the first and the last output frames.
func ToLength(
	src []int16,
	channels int,
	outFrames int,
) []int16 {
	if outFrames <= 0 || channels <= 0 {
		return []int16{}
	}
	out := make([]int16, outFrames*channels)
	inFrames := len(src) / channels
	switch {
	case inFrames == 0:
		return out
	case inFrames == outFrames:
		copy(out, src[:outFrames*channels])
		return out
	case inFrames == 1 || outFrames == 1:
		for i := 0; i < outFrames; i++ {
			copy(out[i*channels:(i+1)*channels], src[:channels])
		}
		return out
	}

	ratio := float64(inFrames-1) / float64(outFrames-1)
	for i := 0; i < outFrames; i++ {
		pos := float64(i) * ratio
		i0 := int(pos)
		if i0 >= inFrames-1 {
			i0 = inFrames - 2
		}
		frac := pos - float64(i0)
		for c := 0; c < channels; c++ {
			out[i*channels+c] = lerp(src[i0*channels+c], src[(i0+1)*channels+c], frac)
		}
	}
	return out
}

func lerp(a, b int16, frac float64) int16 {
	v := float64(a) + (float64(b)-float64(a))*frac
	return int16(math.Round(v))
}
