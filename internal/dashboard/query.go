package dashboard

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"gatekeeper/internal/config"
)

const maxTopN = 100

// ParseQuery reads from, to (YYYY-MM-DD, UTC) and top_n. Missing or invalid
// values fall back to the trailing window ending now and the default top-N.
// from covers its whole day starting at midnight, to runs until 23:59:59.
func ParseQuery(values url.Values, now time.Time, defaults config.DashboardConfig) Query {
	now = now.UTC()

	windowDays := int(defaults.DefaultWindowDays)
	if windowDays <= 0 {
		windowDays = 7
	}
	topN := int(defaults.DefaultTopN)
	if topN <= 0 {
		topN = 10
	}

	q := Query{
		Start: now.AddDate(0, 0, -windowDays),
		End:   now,
		TopN:  topN,
	}

	if day, ok := parseDay(values.Get("from")); ok {
		q.Start = day
	}
	if day, ok := parseDay(values.Get("to")); ok {
		q.End = day.Add(24*time.Hour - time.Nanosecond)
	}

	if raw := strings.TrimSpace(values.Get("top_n")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			q.TopN = min(n, maxTopN)
		}
	}

	return q
}

func parseDay(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	day, err := time.ParseInLocation(time.DateOnly, raw, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}
