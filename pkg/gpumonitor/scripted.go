package gpumonitor

import (
	"context"
	"sync"
)

// Scripted is a ResourceMonitor replaying a predefined sequence of
// busy/free answers; the last answer repeats forever.
type Scripted struct {
	locker       sync.Mutex
	states       []bool
	position     int
	BusyCalls    int
	WaitCalls    int
	ExcludedPIDs [][]int
}

var _ ResourceMonitor = (*Scripted)(nil)

func NewScripted(states ...bool) *Scripted {
	return &Scripted{states: states}
}

func (s *Scripted) next() bool {
	if len(s.states) == 0 {
		return false
	}
	if s.position >= len(s.states) {
		return s.states[len(s.states)-1]
	}
	v := s.states[s.position]
	s.position++
	return v
}

func (s *Scripted) IsBusy(_ context.Context, excludePIDs ...int) bool {
	s.locker.Lock()
	defer s.locker.Unlock()
	s.BusyCalls++
	s.ExcludedPIDs = append(s.ExcludedPIDs, excludePIDs)
	return s.next()
}

func (s *Scripted) WaitUntilFree(ctx context.Context, _ ...int) error {
	s.locker.Lock()
	defer s.locker.Unlock()
	s.WaitCalls++
	for s.next() {
		if s.position >= len(s.states) {
			// the script ends busy: block like the real monitor would
			s.locker.Unlock()
			<-ctx.Done()
			s.locker.Lock()
			return ctx.Err()
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scripted) Calls() (busyCalls, waitCalls int) {
	s.locker.Lock()
	defer s.locker.Unlock()
	return s.BusyCalls, s.WaitCalls
}
