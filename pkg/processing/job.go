package processing

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
)

// Job is the finalization of one raw recording.
type Job struct {
	MeetingID  string
	RawDir     string
	OutputPath string
}

func (j Job) String() string {
	return fmt.Sprintf("%s(%s)", j.MeetingID, j.RawDir)
}

type jobKey struct {
	MeetingID string
	RawDir    string
}

func (j Job) key() jobKey {
	return jobKey{
		MeetingID: j.MeetingID,
		RawDir:    filepath.Clean(j.RawDir),
	}
}

// Handler finalizes a job and returns the path of the produced file.
type Handler interface {
	Process(ctx context.Context, job Job) (string, error)
}

type HandlerFunc func(ctx context.Context, job Job) (string, error)

func (fn HandlerFunc) Process(ctx context.Context, job Job) (string, error) {
	return fn(ctx, job)
}

// Ticket is the handle of a submitted job.
type Ticket struct {
	ID  uuid.UUID
	Job Job

	done chan struct{}
	path string
	err  error
}

func newTicket(job Job) *Ticket {
	return &Ticket{
		ID:   uuid.New(),
		Job:  job,
		done: make(chan struct{}),
	}
}

func (t *Ticket) finish(path string, err error) {
	t.path, t.err = path, err
	close(t.done)
}

// Done is closed when the job has finished.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Wait returns the output path of the job once it has finished.
func (t *Ticket) Wait(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-t.done:
	}
	return t.path, t.err
}
