// Package recorder is the control surface of the call recorder: it starts
// a recording for a meeting, attaches tracks to it and, on stop, hands
// the captured data over to the processing queue.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/hashicorp/go-multierror"
	"github.com/xaionaro-go/callrecorder/pkg/capture"
	"github.com/xaionaro-go/callrecorder/pkg/clock"
	"github.com/xaionaro-go/callrecorder/pkg/finalizer"
	"github.com/xaionaro-go/callrecorder/pkg/processing"
	"github.com/xaionaro-go/callrecorder/pkg/rawstore"
	"github.com/xaionaro-go/callrecorder/pkg/recorder/config"
	"github.com/xaionaro-go/callrecorder/pkg/recording"
	"github.com/xaionaro-go/callrecorder/pkg/xstring"
	"github.com/xaionaro-go/xsync"
)

// ErrNothingCaptured is returned by Stop if no frame and no audio was
// captured during the recording.
var ErrNothingCaptured = errors.New("nothing was captured")

type Recorder struct {
	Config config.Config
	Clock  clock.Clock
	Queue  *processing.Queue

	// ctx outlives the calls which submit jobs, so that a job is not
	// interrupted when the caller stops waiting for it.
	ctx context.Context

	sessionsLocker xsync.Mutex
	sessions       map[string]*Session
}

// New creates the recorder. If handler is nil the recordings are
// finalized into video files with FFmpeg.
func New(
	ctx context.Context,
	cfg config.Config,
	handler processing.Handler,
) (*Recorder, error) {
	if err := cfg.ExpandPaths(); err != nil {
		return nil, err
	}
	var mErr *multierror.Error
	for _, dir := range []string{cfg.WorkDir, cfg.OutputDir} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("unable to create directory '%s': %w", dir, err))
		}
	}
	if err := mErr.ErrorOrNil(); err != nil {
		return nil, err
	}
	if handler == nil {
		handler = finalizer.New(cfg.Encoder, cfg.GPU.Mode, cfg.GPU.Config, nil)
	}
	return &Recorder{
		Config:   cfg,
		Clock:    clock.New(),
		Queue:    processing.NewQueue(cfg.Queue.Concurrency, handler),
		ctx:      context.WithoutCancel(ctx),
		sessions: map[string]*Session{},
	}, nil
}

// Session is an active recording.
type Session struct {
	*recording.Session
	group  *capture.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// AddVideoTrack starts capturing the track.
func (s *Session) AddVideoTrack(track capture.VideoTrack) error {
	if s.IsStopped() {
		return fmt.Errorf("the recording of %s is already stopped", s.MeetingID)
	}
	logger.Debugf(s.ctx, "adding video track %s of %s", track.ID(), track.ParticipantID())
	s.group.AddVideo(s.ctx, track)
	return nil
}

// AddAudioTrack starts capturing the track.
func (s *Session) AddAudioTrack(track capture.AudioTrack) error {
	if s.IsStopped() {
		return fmt.Errorf("the recording of %s is already stopped", s.MeetingID)
	}
	logger.Debugf(s.ctx, "adding audio track %s of %s", track.ID(), track.ParticipantID())
	s.group.AddAudio(s.ctx, track)
	return nil
}

// Start begins a recording of the meeting. Only one recording per
// meeting may be active.
func (r *Recorder) Start(
	ctx context.Context,
	meetingID string,
) (_ret *Session, _err error) {
	logger.Debugf(ctx, "Start(ctx, '%s')", meetingID)
	defer func() { logger.Debugf(ctx, "/Start(ctx, '%s'): %v", meetingID, _err) }()

	if meetingID == "" {
		return nil, fmt.Errorf("meeting ID is empty")
	}
	return xsync.DoR2(ctx, &r.sessionsLocker, func() (*Session, error) {
		if _, ok := r.sessions[meetingID]; ok {
			return nil, fmt.Errorf("meeting '%s' is already being recorded", meetingID)
		}
		rs := recording.NewSession(meetingID, r.Clock)
		captureCtx := belt.WithField(r.ctx, "meeting_id", meetingID)
		captureCtx = belt.WithField(captureCtx, "session_id", rs.ID.String())
		captureCtx, cancel := context.WithCancel(captureCtx)
		s := &Session{
			Session: rs,
			group:   capture.NewGroup(rs),
			ctx:     captureCtx,
			cancel:  cancel,
		}
		r.sessions[meetingID] = s
		logger.Infof(ctx, "started recording %s of meeting '%s'", rs.ID, meetingID)
		return s, nil
	})
}

// Stop ends the recording, persists the captured data and waits for the
// finalized file. Cancelling ctx stops the waiting, not the job.
func (r *Recorder) Stop(
	ctx context.Context,
	s *Session,
) (_ret string, _err error) {
	logger.Debugf(ctx, "Stop(ctx, '%s')", s.MeetingID)
	defer func() { logger.Debugf(ctx, "/Stop(ctx, '%s'): '%s' %v", s.MeetingID, _ret, _err) }()

	ticket, err := r.stop(ctx, s)
	if err != nil {
		return "", err
	}
	return ticket.Wait(ctx)
}

func (r *Recorder) stop(
	ctx context.Context,
	s *Session,
) (*processing.Ticket, error) {
	duration := s.Session.Stop(ctx)
	if err := s.group.Wait(); err != nil {
		logger.Warnf(ctx, "some tracks of '%s' failed: %v", s.MeetingID, err)
	}
	s.cancel()
	r.sessionsLocker.Do(ctx, func() {
		if r.sessions[s.MeetingID] == s {
			delete(r.sessions, s.MeetingID)
		}
	})

	frozen := s.Freeze(ctx)
	logger.Infof(ctx, "stopped recording %s of meeting '%s': %.3fs, %d frames, %d audio chunks", s.ID, s.MeetingID, duration, len(frozen.Frames), len(frozen.Chunks))
	if frozen.IsEmpty() {
		return nil, ErrNothingCaptured
	}

	name := xstring.ToFileName(s.MeetingID) + "_" + frozen.StartedAt.UTC().Format("20060102-150405")
	rawDir := filepath.Join(r.Config.WorkDir, name+"_"+s.ID.String())
	outputPath := filepath.Join(r.Config.OutputDir, name+".mp4")
	if err := rawstore.Write(ctx, rawDir, frozen, outputPath); err != nil {
		return nil, fmt.Errorf("unable to save the raw recording: %w", err)
	}

	return r.Queue.Submit(r.ctx, processing.Job{
		MeetingID:  s.MeetingID,
		RawDir:     rawDir,
		OutputPath: outputPath,
	}), nil
}

// Sessions returns the meetings being recorded.
func (r *Recorder) Sessions(ctx context.Context) []*Session {
	return xsync.DoR1(ctx, &r.sessionsLocker, func() []*Session {
		result := make([]*Session, 0, len(r.sessions))
		for _, s := range r.sessions {
			result = append(result, s)
		}
		return result
	})
}

// RecoverPending resubmits the raw recordings left in the work directory.
func (r *Recorder) RecoverPending(ctx context.Context) ([]*processing.Ticket, error) {
	logger.Debugf(ctx, "RecoverPending(ctx): '%s'", r.Config.WorkDir)
	return r.Queue.RecoverPending(r.ctx, r.Config.WorkDir)
}

// Wait blocks until every submitted job has finished.
func (r *Recorder) Wait() {
	r.Queue.Wait()
}
