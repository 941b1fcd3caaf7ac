// Package analysis promotes addresses with sustained request volume to the
// suspicious list and the blacklist.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"gatekeeper/internal/config"
	"gatekeeper/internal/database"
	"gatekeeper/internal/jobs/runtime"
	"gatekeeper/internal/metrics"

	"github.com/charmbracelet/log"
)

const (
	DefaultWindow    = 10 * time.Minute
	DefaultThreshold = 200
	jobName          = "suspicious_activity_analyzer"
)

type Store interface {
	CountRequestsByIPSince(ctx context.Context, since time.Time, minCount int64) ([]database.IPCount, error)
	UpsertSuspiciousIP(ctx context.Context, ip string, observed int64, notes string, now time.Time) error
	EnsureBlacklistEntry(ctx context.Context, ip, reason string, now time.Time) (bool, error)
}

type Options struct {
	Window    time.Duration
	Threshold int64
}

func OptionsFromConfig(cfg config.AnalyzerConfig) Options {
	return Options{Window: cfg.Window(), Threshold: int64(cfg.Threshold)}
}

// SkippedAddress is a grouped row the run could not process.
type SkippedAddress struct {
	IPAddress string `json:"ip_address"`
	Reason    string `json:"reason"`
}

type Report struct {
	WindowStart  time.Time        `json:"window_start"`
	WindowEnd    time.Time        `json:"window_end"`
	Threshold    int64            `json:"threshold"`
	Flagged      int              `json:"flagged"`
	Blacklisted  int              `json:"blacklisted"`
	Skipped      []SkippedAddress `json:"skipped"`
	DurationMsec int64            `json:"duration_ms"`
}

func (r Report) String() string {
	return fmt.Sprintf("Suspicious IP analysis completed: %d flagged, %d newly blacklisted, %d skipped.",
		r.Flagged, r.Blacklisted, len(r.Skipped))
}

// Run looks at events created in [now-window, now], flags every address at
// or above the threshold and blacklists it unless an entry already exists.
// Existing blacklist entries keep their state. Per-address failures are
// reported and do not stop the run; only the grouping query is fatal.
func Run(ctx context.Context, store Store, opts Options, now time.Time) (Report, error) {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}

	started := time.Now()
	now = now.UTC()
	report := Report{
		WindowStart: now.Add(-opts.Window),
		WindowEnd:   now,
		Threshold:   opts.Threshold,
		Skipped:     []SkippedAddress{},
	}

	rows, err := store.CountRequestsByIPSince(ctx, report.WindowStart, opts.Threshold)
	if err != nil {
		return report, fmt.Errorf("analysis: group request events: %w", err)
	}

	minutes := int64(opts.Window / time.Minute)
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		ip := strings.TrimSpace(row.IPAddress)
		if _, err := netip.ParseAddr(ip); err != nil {
			report.skip(row.IPAddress, "malformed address")
			continue
		}

		notes := fmt.Sprintf("%d requests in %d minutes", row.Total, minutes)
		if err := store.UpsertSuspiciousIP(ctx, ip, row.Total, notes, now); err != nil {
			report.skip(ip, err.Error())
			continue
		}
		report.Flagged++
		metrics.AnalyzerResults.WithLabelValues("flagged").Inc()

		reason := fmt.Sprintf("Auto-blacklisted due to %d requests in %d minutes", row.Total, minutes)
		created, err := store.EnsureBlacklistEntry(ctx, ip, reason, now)
		if err != nil {
			report.skip(ip, err.Error())
			continue
		}
		if created {
			report.Blacklisted++
			metrics.AnalyzerResults.WithLabelValues("blacklisted").Inc()
			log.Info("Address auto-blacklisted", "ip", ip, "requests", row.Total, "window", opts.Window)
		}
	}

	report.DurationMsec = time.Since(started).Milliseconds()
	return report, nil
}

func (r *Report) skip(ip, reason string) {
	r.Skipped = append(r.Skipped, SkippedAddress{IPAddress: ip, Reason: reason})
	metrics.AnalyzerResults.WithLabelValues("skipped").Inc()
	log.Warn("Analyzer skipped address", "ip", ip, "reason", reason)
}

// StartAnalyzerRoutine runs the analyzer on the configured timer under the
// job's leader lock until ctx is done.
func StartAnalyzerRoutine(ctx context.Context, store Store) {
	runtime.StartScheduled(ctx, runtime.Schedule{
		Name:     jobName,
		Interval: config.GetAnalyzerInterval(),
		Updates:  config.AnalyzerIntervalUpdates(),
		Run: func(ctx context.Context) {
			report, err := Run(ctx, store, OptionsFromConfig(config.GetConfig().Analyzer), time.Now())
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Error("Suspicious activity analysis failed", "error", err)
				}
				return
			}
			if report.Flagged > 0 || len(report.Skipped) > 0 {
				log.Info("Suspicious activity analysis completed",
					"flagged", report.Flagged,
					"blacklisted", report.Blacklisted,
					"skipped", len(report.Skipped),
					"duration_ms", report.DurationMsec,
				)
			}
		},
	})
}
