// Package bootstrap fills a fresh database with sample security data.
package bootstrap

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"gatekeeper/internal/domain"
	"gatekeeper/internal/security"

	"github.com/charmbracelet/log"
)

const DefaultSeedEvents = 100

type SeedStore interface {
	InsertRequestEvents(ctx context.Context, events []domain.RequestEvent) error
	EnsureBlacklistEntry(ctx context.Context, ip, reason string, now time.Time) (bool, error)
	UpsertSuspiciousIP(ctx context.Context, ip string, observed int64, notes string, now time.Time) error
}

type SeedOptions struct {
	Events    int
	Anonymize bool
	Now       time.Time
	// Rand drives every random choice; nil uses a time-seeded source.
	Rand *rand.Rand
}

type SeedResult struct {
	Events          int
	BlacklistAdded  int
	SuspiciousSaved int
}

func (r SeedResult) String() string {
	return fmt.Sprintf("Seeded %d request events, %d new blacklist entries, %d suspicious records.",
		r.Events, r.BlacklistAdded, r.SuspiciousSaved)
}

var (
	seedMethods = []string{"GET", "POST", "PUT", "DELETE"}
	seedPaths   = []string{
		"/",
		"/admin/login/",
		"/admin/",
		"/api/products/",
		"/api/products/electronics-product-1/",
		"/api/cart/",
		"/api/orders/",
		"/api/auth/login/",
		"/api/auth/register/",
		"/api/security/dashboard/",
	}
	seedUserAgents = []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64)",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)",
		"curl/8.0.1",
		"PostmanRuntime/7.29.2",
		"Mozilla/5.0 (Linux; Android 12)",
	}
	seedReferers  = []string{"", "https://google.com/search?q=shop", "https://example.com/", "http://localhost:3000/"}
	seedCountries = []string{"Kenya", "United States", "Germany", "India", "United Kingdom", ""}
	seedStatuses  = []int{200, 200, 200, 201, 204, 400, 401, 403, 404, 500}
	seedAddresses = []string{
		"102.68.1.23",
		"197.248.45.120",
		"41.90.12.200",
		"192.168.1.10",
		"203.0.113.5",
		"198.51.100.42",
		"172.16.0.22",
	}

	seedBlacklist = []struct{ ip, reason string }{
		{"198.51.100.42", "Detected scraping behavior and rate limit abuse."},
		{"203.0.113.5", "Multiple failed login attempts on /admin."},
	}
	seedSuspicious = []struct {
		ip    string
		count int64
		notes string
	}{
		{"192.168.1.10", 150, "High request volume in a short period."},
		{"172.16.0.22", 90, "Repeated access to sensitive endpoints."},
	}
)

// SeedSecurityData writes sample request events spread over the last 14 days
// plus a few blacklist and suspicious records. Re-running it adds events but
// leaves existing blacklist entries alone and max-merges suspicious counts.
func SeedSecurityData(ctx context.Context, store SeedStore, opts SeedOptions) (SeedResult, error) {
	if opts.Events <= 0 {
		opts.Events = DefaultSeedEvents
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	now := opts.Now.UTC()

	var result SeedResult

	events := make([]domain.RequestEvent, 0, opts.Events)
	for range opts.Events {
		offset := time.Duration(rng.IntN(15))*24*time.Hour + time.Duration(rng.IntN(24*60*60))*time.Second
		path := pick(rng, seedPaths)

		event := domain.RequestEvent{
			IPAddress:   security.StoredAddress(pick(rng, seedAddresses), opts.Anonymize),
			Path:        path,
			Method:      pick(rng, seedMethods),
			UserAgent:   pick(rng, seedUserAgents),
			Referer:     pick(rng, seedReferers),
			StatusCode:  pick(rng, seedStatuses),
			IsSensitive: strings.HasPrefix(path, "/admin") || strings.HasPrefix(path, "/api/auth"),
			CreatedAt:   now.Add(-offset),
		}
		if country := pick(rng, seedCountries); country != "" {
			event.Country = &country
		}
		events = append(events, event)
	}
	if err := store.InsertRequestEvents(ctx, events); err != nil {
		return result, fmt.Errorf("seed request events: %w", err)
	}
	result.Events = len(events)

	for _, entry := range seedBlacklist {
		created, err := store.EnsureBlacklistEntry(ctx, security.StoredAddress(entry.ip, opts.Anonymize), entry.reason, now)
		if err != nil {
			return result, fmt.Errorf("seed blacklist %s: %w", entry.ip, err)
		}
		if created {
			result.BlacklistAdded++
		}
	}

	for _, record := range seedSuspicious {
		ip := security.StoredAddress(record.ip, opts.Anonymize)
		if err := store.UpsertSuspiciousIP(ctx, ip, record.count, record.notes, now); err != nil {
			return result, fmt.Errorf("seed suspicious %s: %w", record.ip, err)
		}
		result.SuspiciousSaved++
	}

	log.Info("Security seed completed",
		"events", result.Events,
		"blacklisted", result.BlacklistAdded,
		"suspicious", result.SuspiciousSaved)
	return result, nil
}

func pick[T any](rng *rand.Rand, values []T) T {
	return values[rng.IntN(len(values))]
}
