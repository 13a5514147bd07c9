package capture

import (
	"context"

	"github.com/facebookincubator/go-belt/tool/logger"
	obs "github.com/xaionaro-go/callrecorder/pkg/observability"
	"github.com/xaionaro-go/callrecorder/pkg/recording"
	"golang.org/x/sync/errgroup"
)

// Group supervises the capture goroutines of one session. A failing
// track does not affect the others.
type Group struct {
	Session *recording.Session
	group   errgroup.Group
}

func NewGroup(session *recording.Session) *Group {
	return &Group{Session: session}
}

func (g *Group) AddVideo(ctx context.Context, track VideoTrack) {
	g.group.Go(func() error {
		return g.run(ctx, func(ctx context.Context) error {
			return RunVideo(ctx, g.Session, track)
		})
	})
}

func (g *Group) AddAudio(ctx context.Context, track AudioTrack) {
	g.group.Go(func() error {
		return g.run(ctx, func(ctx context.Context) error {
			return RunAudio(ctx, g.Session, track)
		})
	})
}

func (g *Group) run(ctx context.Context, fn func(context.Context) error) error {
	err := obs.CallSafe(ctx, fn)
	if err != nil {
		logger.Errorf(ctx, "capture of %s failed: %v", g.Session.MeetingID, err)
	}
	return err
}

// Wait blocks until every capture goroutine has exited and returns the
// first error any of them returned.
func (g *Group) Wait() error {
	return g.group.Wait()
}
