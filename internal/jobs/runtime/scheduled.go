package runtime

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"gatekeeper/internal/support"

	"github.com/charmbracelet/log"
)

// Schedule describes a periodic job that runs on one instance at a time.
type Schedule struct {
	Name string
	// Interval seeds the timer; Updates, when set, replaces it at runtime.
	Interval time.Duration
	Updates  <-chan time.Duration
	Run      func(ctx context.Context)
}

var standalone atomic.Bool

// SetStandalone makes scheduled jobs run without the Redis leader lock. Only
// single-instance deployments without Redis should enable it.
func SetStandalone(enabled bool) {
	standalone.Store(enabled)
}

// StartScheduled blocks until ctx is done, running s.Run immediately and then
// on every tick while this instance holds the job's leader lock.
func StartScheduled(ctx context.Context, s Schedule) {
	if s.Run == nil {
		return
	}

	intervals := make(chan time.Duration, 1)
	go forwardIntervals(ctx, s.Updates, intervals)

	current := s.Interval
	if standalone.Load() {
		runLoop(ctx, s, current, intervals)
		return
	}

	err := support.RunWithLeader(ctx, support.LeaderKey(s.Name), support.DefaultLeadershipTTL, func(leaderCtx context.Context) {
		current = runLoop(leaderCtx, s, current, intervals)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Scheduled job stopped", "job", s.Name, "error", err)
	}
}

// forwardIntervals keeps only the latest interval so a lost leader picks up
// changes made while it was waiting for the lock.
func forwardIntervals(ctx context.Context, in <-chan time.Duration, out chan time.Duration) {
	if in == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-in:
			select {
			case <-out:
			default:
			}
			out <- d
		}
	}
}

func runLoop(ctx context.Context, s Schedule, interval time.Duration, intervals <-chan time.Duration) time.Duration {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return interval
		case <-ticker.C:
			s.Run(ctx)
		case next := <-intervals:
			if next <= 0 || next == interval {
				continue
			}
			log.Info("Scheduled job interval changed", "job", s.Name, "from", interval, "to", next)
			interval = next
			ticker.Reset(interval)
		}
	}
}
