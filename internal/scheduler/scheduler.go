// Package scheduler drives the periodic feed reconciliation.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"grantradar/features/ingest"
	"grantradar/internal/middleware"
)

type Feed interface {
	Fetch(ctx context.Context) ([]ingest.RawGrant, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, snapshot []ingest.RawGrant, force bool) (*ingest.Report, error)
}

type Scheduler struct {
	feed       Feed
	reconciler Reconciler
	interval   time.Duration
	stop       chan struct{}
	done       chan struct{}
}

func New(feed Feed, reconciler Reconciler, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Scheduler{
		feed:       feed,
		reconciler: reconciler,
		interval:   interval,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs the tick loop until Stop is called. The first pass runs
// immediately so a fresh deployment does not wait a full interval.
func (s *Scheduler) Start() {
	go func() {
		defer close(s.done)

		s.runOnce()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.runOnce()
			case <-s.stop:
				return
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Scheduler) runOnce() {
	ctx := middleware.WithCorrelationID(context.Background(), uuid.New().String())

	slog.InfoContext(ctx, "scheduled reconciliation starting")

	snapshot, err := s.feed.Fetch(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "scheduled feed fetch failed", "error", err)
		return
	}

	report, err := s.reconciler.Reconcile(ctx, snapshot, false)
	if err != nil {
		slog.ErrorContext(ctx, "scheduled reconciliation failed", "error", err)
		return
	}

	slog.InfoContext(ctx, "scheduled reconciliation finished",
		"updated", report.Updated, "inserted", report.Inserted,
		"skipped", report.Skipped, "failed", report.Failed)
}
