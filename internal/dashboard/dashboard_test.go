package dashboard

import (
	"context"
	"net/url"
	"testing"
	"time"

	"gatekeeper/internal/config"
	"gatekeeper/internal/database"
	"gatekeeper/internal/database/dbtest"
	"gatekeeper/internal/domain"
	"gatekeeper/internal/kvstore"
)

func ptr(s string) *string { return &s }

func seed(t *testing.T, store *database.Store, events ...domain.RequestEvent) {
	t.Helper()
	if err := store.InsertRequestEvents(context.Background(), events); err != nil {
		t.Fatalf("seed events: %v", err)
	}
}

func event(ip string, country *string, at time.Time) domain.RequestEvent {
	return domain.RequestEvent{IPAddress: ip, Path: "/", Method: "GET", StatusCode: 200, Country: country, CreatedAt: at}
}

func TestSummarizeGroupsUnknownCountries(t *testing.T) {
	store := dbtest.Store(t)
	ctx := context.Background()
	base := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)

	seed(t, store,
		event("41.90.0.0", ptr("Kenya"), base),
		event("41.90.0.0", ptr("Kenya"), base.Add(time.Minute)),
		event("41.90.1.0", ptr("Kenya"), base.Add(2*time.Minute)),
		event("10.0.0.0", nil, base.Add(3*time.Minute)),
		event("10.0.0.0", nil, base.Add(4*time.Minute)),
	)

	agg := NewAggregator(store, nil, nil)
	snapshot, err := agg.Summarize(ctx, Query{Start: base.Add(-time.Hour), End: base.Add(time.Hour), TopN: 10})
	if err != nil {
		t.Fatalf("Summarize returned error: %v", err)
	}

	if snapshot.TotalRequests != 5 {
		t.Fatalf("total_requests = %d, want 5", snapshot.TotalRequests)
	}
	if len(snapshot.RequestsPerCountry) != 2 {
		t.Fatalf("requests_per_country = %+v, want 2 buckets", snapshot.RequestsPerCountry)
	}
	if got := snapshot.RequestsPerCountry[0]; got.Country != "Kenya" || got.Count != 3 {
		t.Fatalf("first bucket = %+v, want Kenya/3", got)
	}
	if got := snapshot.RequestsPerCountry[1]; got.Country != UnknownCountry || got.Count != 2 {
		t.Fatalf("second bucket = %+v, want Unknown/2", got)
	}

	wantTop := []struct {
		ip    string
		count int64
	}{{"10.0.0.0", 2}, {"41.90.0.0", 2}, {"41.90.1.0", 1}}
	if len(snapshot.TopIPs) != len(wantTop) {
		t.Fatalf("top_ips = %+v", snapshot.TopIPs)
	}
	for i, want := range wantTop {
		if snapshot.TopIPs[i].IPAddress != want.ip || snapshot.TopIPs[i].Count != want.count {
			t.Fatalf("top_ips[%d] = %+v, want %s/%d", i, snapshot.TopIPs[i], want.ip, want.count)
		}
	}
}

func TestSummarizeCountsAreGlobal(t *testing.T) {
	store := dbtest.Store(t)
	ctx := context.Background()
	now := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)

	if _, err := store.EnsureBlacklistEntry(ctx, "203.0.113.0", "test", now.AddDate(-1, 0, 0)); err != nil {
		t.Fatalf("blacklist: %v", err)
	}
	inactive := &domain.BlacklistedIP{IPAddress: "203.0.113.1", Reason: "old", Active: false}
	if err := store.UpsertBlacklistEntry(ctx, inactive); err != nil {
		t.Fatalf("blacklist inactive: %v", err)
	}
	if err := store.UpsertSuspiciousIP(ctx, "198.51.100.0", 300, "", now.AddDate(-1, 0, 0)); err != nil {
		t.Fatalf("suspicious: %v", err)
	}

	snapshot, err := NewAggregator(store, nil, nil).Summarize(ctx, Query{Start: now.Add(-time.Hour), End: now, TopN: 5})
	if err != nil {
		t.Fatalf("Summarize returned error: %v", err)
	}
	if snapshot.TotalRequests != 0 || len(snapshot.TopIPs) != 0 {
		t.Fatalf("empty window returned events: %+v", snapshot)
	}
	if snapshot.BlacklistedCount != 1 || snapshot.SuspiciousCount != 1 {
		t.Fatalf("global counts = %d/%d, want 1/1", snapshot.BlacklistedCount, snapshot.SuspiciousCount)
	}
}

func TestSummarizeServesCachedSnapshotUntilTTL(t *testing.T) {
	store := dbtest.Store(t)
	ctx := context.Background()
	base := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)

	clock := base
	cache := kvstore.NewMemoryStore().WithClock(func() time.Time { return clock })
	agg := NewAggregator(store, cache, func() time.Duration { return 5 * time.Minute })
	q := Query{Start: base.Add(-time.Hour), End: base.Add(time.Hour), TopN: 10}

	seed(t, store, event("41.90.0.0", ptr("Kenya"), base))
	first, err := agg.Summarize(ctx, q)
	if err != nil || first.TotalRequests != 1 {
		t.Fatalf("first summarize: total=%d err=%v", first.TotalRequests, err)
	}

	seed(t, store, event("41.90.0.0", ptr("Kenya"), base.Add(time.Second)))
	cached, err := agg.Summarize(ctx, q)
	if err != nil || cached.TotalRequests != 1 {
		t.Fatalf("cached summarize: total=%d err=%v, want the stale value 1", cached.TotalRequests, err)
	}

	clock = clock.Add(6 * time.Minute)
	fresh, err := agg.Summarize(ctx, q)
	if err != nil || fresh.TotalRequests != 2 {
		t.Fatalf("fresh summarize: total=%d err=%v, want 2", fresh.TotalRequests, err)
	}
}

func TestCacheKey(t *testing.T) {
	q := Query{
		Start: time.Date(2026, 4, 3, 15, 4, 0, 0, time.UTC),
		End:   time.Date(2026, 4, 10, 23, 59, 59, 0, time.UTC),
		TopN:  25,
	}
	if got, want := q.CacheKey(), "security_dashboard:2026-04-03:2026-04-10:25"; got != want {
		t.Fatalf("CacheKey = %q, want %q", got, want)
	}
}

func TestParseQuery(t *testing.T) {
	now := time.Date(2026, 4, 10, 15, 30, 0, 0, time.UTC)
	defaults := config.DashboardConfig{DefaultTopN: 10, DefaultWindowDays: 7}

	t.Run("defaults", func(t *testing.T) {
		q := ParseQuery(url.Values{}, now, defaults)
		if !q.Start.Equal(now.AddDate(0, 0, -7)) || !q.End.Equal(now) || q.TopN != 10 {
			t.Fatalf("unexpected defaults: %+v", q)
		}
	})

	t.Run("explicit range covers whole days", func(t *testing.T) {
		q := ParseQuery(url.Values{"from": {"2026-04-01"}, "to": {"2026-04-02"}, "top_n": {"3"}}, now, defaults)
		if !q.Start.Equal(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)) {
			t.Fatalf("start = %s", q.Start)
		}
		if !q.End.Equal(time.Date(2026, 4, 2, 23, 59, 59, 999999999, time.UTC)) {
			t.Fatalf("end = %s", q.End)
		}
		if q.TopN != 3 {
			t.Fatalf("top_n = %d, want 3", q.TopN)
		}
	})

	t.Run("invalid values fall back", func(t *testing.T) {
		q := ParseQuery(url.Values{"from": {"yesterday"}, "to": {"2026-13-40"}, "top_n": {"many"}}, now, defaults)
		if !q.Start.Equal(now.AddDate(0, 0, -7)) || !q.End.Equal(now) || q.TopN != 10 {
			t.Fatalf("invalid values not replaced by defaults: %+v", q)
		}
	})

	t.Run("top_n bounds", func(t *testing.T) {
		if q := ParseQuery(url.Values{"top_n": {"0"}}, now, defaults); q.TopN != 10 {
			t.Fatalf("top_n=0 gave %d, want 10", q.TopN)
		}
		if q := ParseQuery(url.Values{"top_n": {"5000"}}, now, defaults); q.TopN != maxTopN {
			t.Fatalf("top_n=5000 gave %d, want %d", q.TopN, maxTopN)
		}
	})
}
