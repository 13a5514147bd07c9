// Package frameindex maps fixed-rate output slots onto captured frames.
package frameindex

import (
	"sort"

	"github.com/xaionaro-go/callrecorder/pkg/recording/types"
)

// Tolerance is the maximal distance (in slots) a lookup may reach out to
// find a neighbouring frame.
var Tolerance = max(3, int(types.FrameInterval*types.TargetFPS*3))

// Index is an immutable slot -> frame mapping, safe for concurrent reads.
type Index struct {
	slots     map[int64]*types.TimestampedFrame
	tolerance int
}

// Build indexes the frames by slot. When several frames fall into the same
// slot the earliest real frame wins. Placeholder frames are never indexed.
func Build(frames []types.TimestampedFrame) *Index {
	order := make([]int, 0, len(frames))
	for idx := range frames {
		if !frames[idx].Source.IsReal() {
			continue
		}
		order = append(order, idx)
	}
	sort.SliceStable(order, func(i, j int) bool {
		return frames[order[i]].Timestamp < frames[order[j]].Timestamp
	})

	index := &Index{
		slots:     make(map[int64]*types.TimestampedFrame, len(order)),
		tolerance: Tolerance,
	}
	for _, idx := range order {
		frame := &frames[idx]
		slot := frame.Slot()
		if _, ok := index.slots[slot]; !ok {
			index.slots[slot] = frame
		}
	}
	return index
}

// Lookup returns the frame for the slot containing ts, or the nearest
// indexed frame within Tolerance slots (an earlier frame wins a tie).
// Returns nil if there is none.
func (idx *Index) Lookup(ts float64) *types.TimestampedFrame {
	return idx.LookupSlot(types.SlotOf(ts))
}

func (idx *Index) LookupSlot(slot int64) *types.TimestampedFrame {
	if frame, ok := idx.slots[slot]; ok {
		return frame
	}
	for d := int64(1); d <= int64(idx.tolerance); d++ {
		if frame, ok := idx.slots[slot-d]; ok {
			return frame
		}
		if frame, ok := idx.slots[slot+d]; ok {
			return frame
		}
	}
	return nil
}

func (idx *Index) Len() int {
	return len(idx.slots)
}
