package ringbuffer

import (
	"context"

	"github.com/xaionaro-go/xsync"
)

// RingBuffer keeps the last cap(Storage) added items.
type RingBuffer[T any] struct {
	Storage           []T
	CurrentWriteIndex uint
	Locker            xsync.Mutex
}

func New[T any](size uint) *RingBuffer[T] {
	if size == 0 {
		size = 1
	}
	return &RingBuffer[T]{
		Storage: make([]T, 0, size),
	}
}

func (r *RingBuffer[T]) Add(item T) {
	r.Locker.Do(xsync.WithNoLogging(context.TODO(), true), func() {
		if r.CurrentWriteIndex >= uint(len(r.Storage)) {
			r.Storage = r.Storage[:len(r.Storage)+1]
		}
		r.Storage[r.CurrentWriteIndex] = item
		r.CurrentWriteIndex++
		if r.CurrentWriteIndex >= uint(cap(r.Storage)) {
			r.CurrentWriteIndex = 0
		}
	})
}

// Items returns a copy of the stored items, the oldest first.
func (r *RingBuffer[T]) Items() []T {
	return xsync.DoR1(context.TODO(), &r.Locker, func() []T {
		result := make([]T, 0, len(r.Storage))
		if len(r.Storage) < cap(r.Storage) {
			return append(result, r.Storage...)
		}
		result = append(result, r.Storage[r.CurrentWriteIndex:]...)
		return append(result, r.Storage[:r.CurrentWriteIndex]...)
	})
}

func (r *RingBuffer[T]) Len() int {
	return xsync.DoR1(context.TODO(), &r.Locker, func() int {
		return len(r.Storage)
	})
}
