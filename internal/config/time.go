package config

import (
	"sync"
	"time"
)

const (
	defaultAnalyzerInterval  = 5 * time.Minute
	defaultRetentionInterval = 24 * time.Hour
	defaultBlocklistInterval = 6 * time.Hour
)

// interval is a duration setting that notifies listeners when it changes.
type interval struct {
	mu        sync.Mutex
	value     time.Duration
	fallback  time.Duration
	listeners []chan time.Duration
}

func newInterval(fallback time.Duration) *interval {
	return &interval{value: fallback, fallback: fallback}
}

func (i *interval) get() time.Duration {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.value
}

func (i *interval) set(d time.Duration) {
	if d <= 0 {
		d = i.fallback
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.value == d {
		return
	}
	i.value = d

	for _, ch := range i.listeners {
		// Drop a stale pending value so the listener always sees the latest.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- d:
		default:
		}
	}
}

// updates returns a channel primed with the current value.
func (i *interval) updates() <-chan time.Duration {
	ch := make(chan time.Duration, 1)

	i.mu.Lock()
	i.listeners = append(i.listeners, ch)
	ch <- i.value
	i.mu.Unlock()

	return ch
}

func (i *interval) reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.value = i.fallback
	i.listeners = nil
}

var (
	analyzerInterval  = newInterval(defaultAnalyzerInterval)
	retentionInterval = newInterval(defaultRetentionInterval)
	blocklistInterval = newInterval(defaultBlocklistInterval)
)

func refreshIntervals(cfg Config) {
	analyzerInterval.set(timerOrDefault(cfg.Analyzer.Timer, defaultAnalyzerInterval))
	retentionInterval.set(timerOrDefault(cfg.Retention.Timer, defaultRetentionInterval))
	blocklistInterval.set(timerOrDefault(cfg.Blocklist.Timer, defaultBlocklistInterval))
}

func timerOrDefault(timer Timer, fallback time.Duration) time.Duration {
	if timer.IsZero() {
		return fallback
	}
	return CalculateBetweenTime(timer)
}

// CalculateBetweenTime converts timer to a duration of at least one second.
func CalculateBetweenTime(timer Timer) time.Duration {
	intervalMs := CalculateMillisecondsOfPeriod(timer)

	minInterval := uint64(1000)
	if intervalMs < minInterval {
		intervalMs = minInterval
	}

	return time.Duration(intervalMs) * time.Millisecond
}

func CalculateMillisecondsOfPeriod(timer Timer) uint64 {
	return uint64(timer.Days)*24*60*60*1000 +
		uint64(timer.Hours)*60*60*1000 +
		uint64(timer.Minutes)*60*1000 +
		uint64(timer.Seconds)*1000
}

func GetAnalyzerInterval() time.Duration {
	return analyzerInterval.get()
}

func AnalyzerIntervalUpdates() <-chan time.Duration {
	return analyzerInterval.updates()
}

func GetRetentionInterval() time.Duration {
	return retentionInterval.get()
}

func RetentionIntervalUpdates() <-chan time.Duration {
	return retentionInterval.updates()
}

func GetBlocklistInterval() time.Duration {
	return blocklistInterval.get()
}

func BlocklistIntervalUpdates() <-chan time.Duration {
	return blocklistInterval.updates()
}
