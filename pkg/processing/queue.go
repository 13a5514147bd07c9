// Package processing runs finalization jobs with bounded concurrency, so
// that at most the configured amount of encoders of this process compete
// for the GPU.
package processing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/callrecorder/pkg/metrics"
	obs "github.com/xaionaro-go/callrecorder/pkg/observability"
	"github.com/xaionaro-go/callrecorder/pkg/rawstore"
	"github.com/xaionaro-go/observability"
	"golang.org/x/sync/semaphore"
)

const DefaultConcurrency = 1

type Queue struct {
	Handler  Handler
	Registry JobRegistry

	semaphore *semaphore.Weighted
	wg        sync.WaitGroup
}

func NewQueue(
	concurrency int,
	handler Handler,
) *Queue {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Queue{
		Handler:   handler,
		semaphore: semaphore.NewWeighted(int64(concurrency)),
	}
}

// Submit enqueues the job. Submitting a job which is already in flight
// returns the same ticket.
func (q *Queue) Submit(
	ctx context.Context,
	job Job,
) *Ticket {
	if isNonEmptyFile(job.OutputPath) && !exists(job.RawDir) {
		logger.Debugf(ctx, "job %s is already completed", job)
		t := newTicket(job)
		t.finish(job.OutputPath, nil)
		return t
	}

	t, isNew := q.Registry.acquire(ctx, job)
	if !isNew {
		logger.Debugf(ctx, "job %s is already in flight", job)
		return t
	}

	ctx = belt.WithField(ctx, "meeting_id", job.MeetingID)
	ctx = belt.WithField(ctx, "job_id", t.ID.String())
	q.wg.Add(1)
	metrics.JobsInFlight.Inc()
	observability.Go(ctx, func(ctx context.Context) {
		defer q.wg.Done()
		defer metrics.JobsInFlight.Dec()
		path, err := q.run(ctx, t)
		q.Registry.release(ctx, t)
		t.finish(path, err)
	})
	return t
}

func (q *Queue) run(
	ctx context.Context,
	t *Ticket,
) (_ret string, _err error) {
	logger.Debugf(ctx, "run(ctx, %s)", t.Job)
	defer func() { logger.Debugf(ctx, "/run(ctx, %s): '%s' %v", t.Job, _ret, _err) }()

	if err := q.semaphore.Acquire(ctx, 1); err != nil {
		metrics.JobsFinished.WithLabelValues("cancelled").Inc()
		return "", fmt.Errorf("unable to wait for a processing slot: %w", err)
	}
	defer q.semaphore.Release(1)

	var path string
	err := obs.CallSafe(ctx, func(ctx context.Context) error {
		var err error
		path, err = q.Handler.Process(ctx, t.Job)
		return err
	})
	if err == nil && !isNonEmptyFile(path) {
		err = fmt.Errorf("the output '%s' is missing or empty", path)
	}
	if err != nil {
		metrics.JobsFinished.WithLabelValues("failed").Inc()
		logger.Errorf(ctx, "unable to process %s (the raw data is kept in '%s'): %v", t.Job, t.Job.RawDir, err)
		return "", err
	}

	if err := os.RemoveAll(t.Job.RawDir); err != nil {
		logger.Errorf(ctx, "unable to remove the raw data '%s': %v", t.Job.RawDir, err)
	}
	metrics.JobsFinished.WithLabelValues("succeeded").Inc()
	logger.Infof(ctx, "finished %s: '%s'", t.Job, path)
	return path, nil
}

// Wait blocks until all the submitted jobs have finished.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// RecoverPending resubmits every raw recording left in workDir (e.g. by
// a crash before its finalization completed).
func (q *Queue) RecoverPending(
	ctx context.Context,
	workDir string,
) ([]*Ticket, error) {
	dirs, err := rawstore.List(workDir)
	if err != nil {
		return nil, fmt.Errorf("unable to list the raw recordings: %w", err)
	}
	var tickets []*Ticket
	for _, dir := range dirs {
		meta, err := rawstore.ReadMeta(dir)
		if err != nil {
			logger.Errorf(ctx, "skipping '%s': %v", dir, err)
			continue
		}
		logger.Infof(ctx, "recovering the pending recording of %s from '%s'", meta.MeetingID, dir)
		tickets = append(tickets, q.Submit(ctx, Job{
			MeetingID:  meta.MeetingID,
			RawDir:     dir,
			OutputPath: meta.OutputPath,
		}))
	}
	return tickets, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}

func isNonEmptyFile(path string) bool {
	if path == "" {
		return false
	}
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular() && st.Size() > 0
}
