package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gatekeeper/internal/config"
	"gatekeeper/internal/jobs/runtime"
	"gatekeeper/internal/metrics"

	"github.com/charmbracelet/log"
)

const (
	DefaultRetention = 90 * 24 * time.Hour
	retentionJobName = "request_event_retention"
)

type RetentionStore interface {
	DeleteRequestEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SweepRequestEvents deletes events created strictly before now-retention.
// An event exactly at the cutoff is kept.
func SweepRequestEvents(ctx context.Context, store RetentionStore, retention time.Duration, now time.Time) (int64, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}

	cutoff := now.UTC().Add(-retention)
	deleted, err := store.DeleteRequestEventsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("maintenance: delete request events before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	metrics.RetentionDeleted.Add(float64(deleted))
	return deleted, nil
}

// StartRetentionRoutine sweeps on the configured timer under the job's
// leader lock until ctx is done.
func StartRetentionRoutine(ctx context.Context, store RetentionStore) {
	runtime.StartScheduled(ctx, runtime.Schedule{
		Name:     retentionJobName,
		Interval: config.GetRetentionInterval(),
		Updates:  config.RetentionIntervalUpdates(),
		Run: func(ctx context.Context) {
			runRetentionSweep(ctx, store)
		},
	})
}

func runRetentionSweep(ctx context.Context, store RetentionStore) {
	start := time.Now()
	retention := config.GetConfig().Retention.Period()

	deleted, err := SweepRequestEvents(ctx, store, retention, start)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Error("Request event retention sweep failed", "error", err)
		}
		return
	}

	if deleted == 0 {
		return
	}

	log.Info(
		"Request event retention sweep completed",
		"deleted", deleted,
		"retention", retention,
		"duration", time.Since(start),
	)
}
