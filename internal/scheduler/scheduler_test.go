package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"grantradar/features/ingest"
)

type stubFeed struct {
	calls  atomic.Int32
	grants []ingest.RawGrant
	err    error
}

func (f *stubFeed) Fetch(ctx context.Context) ([]ingest.RawGrant, error) {
	f.calls.Add(1)
	return f.grants, f.err
}

type stubReconciler struct {
	calls atomic.Int32
	err   error
}

func (r *stubReconciler) Reconcile(ctx context.Context, snapshot []ingest.RawGrant, force bool) (*ingest.Report, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	return &ingest.Report{Updated: len(snapshot)}, nil
}

func TestScheduler_RunsImmediatelyAndOnTick(t *testing.T) {
	feed := &stubFeed{grants: []ingest.RawGrant{{ID: "g-1"}}}
	reconciler := &stubReconciler{}

	s := New(feed, reconciler, 30*time.Millisecond)
	s.Start()

	assert.Eventually(t, func() bool {
		return reconciler.calls.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)

	s.Stop()
}

func TestScheduler_FeedFailureDoesNotReconcile(t *testing.T) {
	feed := &stubFeed{err: errors.New("feed down")}
	reconciler := &stubReconciler{}

	s := New(feed, reconciler, time.Hour)
	s.Start()

	assert.Eventually(t, func() bool {
		return feed.calls.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	assert.Equal(t, int32(0), reconciler.calls.Load())
}

func TestScheduler_StopReturns(t *testing.T) {
	feed := &stubFeed{}
	reconciler := &stubReconciler{}

	s := New(feed, reconciler, time.Hour)
	s.Start()

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
