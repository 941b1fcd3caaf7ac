// Package dashboard computes the operator security overview.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gatekeeper/internal/api/dto"
	"gatekeeper/internal/config"
	"gatekeeper/internal/database"
	"gatekeeper/internal/kvstore"
	"gatekeeper/internal/metrics"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

const (
	UnknownCountry = "Unknown"
	cacheKeyPrefix = "security_dashboard"
)

type Store interface {
	CountRequestEventsBetween(ctx context.Context, start, end time.Time) (int64, error)
	CountRequestsByCountryBetween(ctx context.Context, start, end time.Time) ([]database.CountryCount, error)
	TopIPsBetween(ctx context.Context, start, end time.Time, limit int) ([]database.IPCount, error)
	CountActiveBlacklistEntries(ctx context.Context) (int64, error)
	CountSuspiciousIPs(ctx context.Context) (int64, error)
}

// Query selects the inclusive window [Start, End] and the number of top addresses.
type Query struct {
	Start time.Time
	End   time.Time
	TopN  int
}

// CacheKey identifies a snapshot by window dates and top-N.
func (q Query) CacheKey() string {
	return fmt.Sprintf("%s:%s:%s:%d", cacheKeyPrefix,
		q.Start.UTC().Format(time.DateOnly), q.End.UTC().Format(time.DateOnly), q.TopN)
}

type Aggregator struct {
	store Store
	cache kvstore.Store
	ttl   func() time.Duration
}

// NewAggregator caches snapshots in cache for ttl(). A nil cache disables caching.
func NewAggregator(store Store, cache kvstore.Store, ttl func() time.Duration) *Aggregator {
	if ttl == nil {
		ttl = func() time.Duration { return config.GetConfig().Dashboard.CacheTTL() }
	}
	return &Aggregator{store: store, cache: cache, ttl: ttl}
}

// Summarize returns the cached snapshot for q when one is live, otherwise it
// computes and caches a fresh one. Cached snapshots are never invalidated
// early; operators may see data up to one TTL old.
func (a *Aggregator) Summarize(ctx context.Context, q Query) (dto.DashboardSnapshot, error) {
	key := q.CacheKey()

	if snapshot, ok := a.cached(ctx, key); ok {
		metrics.DashboardCache.WithLabelValues("hit").Inc()
		return snapshot, nil
	}
	metrics.DashboardCache.WithLabelValues("miss").Inc()

	snapshot, err := a.compute(ctx, q)
	if err != nil {
		return dto.DashboardSnapshot{}, err
	}

	a.persist(ctx, key, snapshot)
	return snapshot, nil
}

func (a *Aggregator) cached(ctx context.Context, key string) (dto.DashboardSnapshot, bool) {
	if a.cache == nil {
		return dto.DashboardSnapshot{}, false
	}

	raw, err := a.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			log.Warn("Dashboard cache read failed", "key", key, "error", err)
		}
		return dto.DashboardSnapshot{}, false
	}

	var snapshot dto.DashboardSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		log.Warn("Dashboard cache entry unreadable", "key", key, "error", err)
		return dto.DashboardSnapshot{}, false
	}
	return snapshot, true
}

func (a *Aggregator) persist(ctx context.Context, key string, snapshot dto.DashboardSnapshot) {
	if a.cache == nil {
		return
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	if err := a.cache.Set(ctx, key, raw, a.ttl()); err != nil {
		log.Warn("Dashboard cache write failed", "key", key, "error", err)
	}
}

func (a *Aggregator) compute(ctx context.Context, q Query) (dto.DashboardSnapshot, error) {
	snapshot := dto.DashboardSnapshot{
		WindowStart: q.Start.UTC(),
		WindowEnd:   q.End.UTC(),
	}

	var (
		countries []database.CountryCount
		top       []database.IPCount
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		snapshot.TotalRequests, err = a.store.CountRequestEventsBetween(gctx, q.Start, q.End)
		return err
	})
	g.Go(func() (err error) {
		countries, err = a.store.CountRequestsByCountryBetween(gctx, q.Start, q.End)
		return err
	})
	g.Go(func() (err error) {
		top, err = a.store.TopIPsBetween(gctx, q.Start, q.End, q.TopN)
		return err
	})
	g.Go(func() (err error) {
		snapshot.BlacklistedCount, err = a.store.CountActiveBlacklistEntries(gctx)
		return err
	})
	g.Go(func() (err error) {
		snapshot.SuspiciousCount, err = a.store.CountSuspiciousIPs(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return dto.DashboardSnapshot{}, fmt.Errorf("dashboard: aggregate: %w", err)
	}

	snapshot.RequestsPerCountry = foldCountries(countries)
	snapshot.TopIPs = make([]dto.IPCount, 0, len(top))
	for _, row := range top {
		snapshot.TopIPs = append(snapshot.TopIPs, dto.IPCount{IPAddress: row.IPAddress, Count: row.Total})
	}
	return snapshot, nil
}

// foldCountries merges missing and blank countries into UnknownCountry and
// sorts by count descending, then name.
func foldCountries(rows []database.CountryCount) []dto.CountryCount {
	totals := make(map[string]int64, len(rows))
	for _, row := range rows {
		name := UnknownCountry
		if row.Country != nil && strings.TrimSpace(*row.Country) != "" {
			name = *row.Country
		}
		totals[name] += row.Total
	}

	out := make([]dto.CountryCount, 0, len(totals))
	for name, total := range totals {
		out = append(out, dto.CountryCount{Country: name, Count: total})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Country < out[j].Country
	})
	return out
}
