package processing

import (
	"context"

	"github.com/xaionaro-go/xsync"
)

// JobRegistry tracks the in-flight jobs, so that a job submitted twice
// runs once.
type JobRegistry struct {
	locker   xsync.Mutex
	inFlight map[jobKey]*Ticket
}

// acquire returns the ticket of the in-flight job equal to the given one,
// or registers a new ticket. The bool is true if the ticket is new.
func (r *JobRegistry) acquire(ctx context.Context, job Job) (*Ticket, bool) {
	return xsync.DoR2(ctx, &r.locker, func() (*Ticket, bool) {
		if r.inFlight == nil {
			r.inFlight = map[jobKey]*Ticket{}
		}
		if t, ok := r.inFlight[job.key()]; ok {
			return t, false
		}
		t := newTicket(job)
		r.inFlight[job.key()] = t
		return t, true
	})
}

func (r *JobRegistry) release(ctx context.Context, t *Ticket) {
	r.locker.Do(ctx, func() {
		if r.inFlight[t.Job.key()] == t {
			delete(r.inFlight, t.Job.key())
		}
	})
}

// InFlight returns the jobs submitted and not finished yet.
func (r *JobRegistry) InFlight(ctx context.Context) []Job {
	return xsync.DoR1(ctx, &r.locker, func() []Job {
		result := make([]Job, 0, len(r.inFlight))
		for _, t := range r.inFlight {
			result = append(result, t.Job)
		}
		return result
	})
}
