// Package geo resolves client addresses to countries for the activity log.
// Every failure is treated as "unknown" by callers; nothing here is allowed
// to delay or fail a request.
package geo

import (
	"context"
	"errors"
	"net/netip"
	"strings"
	"time"

	"gatekeeper/internal/metrics"
)

var (
	// ErrNotFound means the provider answered but knows nothing about the address.
	ErrNotFound = errors.New("geo: location not found")
	// ErrNotRoutable is returned for private, loopback and malformed addresses.
	ErrNotRoutable = errors.New("geo: address is not publicly routable")
)

type Location struct {
	Country       string `json:"country,omitempty"`
	CountryCode   string `json:"country_code,omitempty"`
	Continent     string `json:"continent,omitempty"`
	ContinentCode string `json:"continent_code,omitempty"`
}

// Empty reports whether l carries neither a country name nor a code.
func (l Location) Empty() bool {
	return l.Country == "" && l.CountryCode == ""
}

type Locator interface {
	Lookup(ctx context.Context, ip string) (Location, error)
}

// LocatorFunc adapts a function to Locator.
type LocatorFunc func(ctx context.Context, ip string) (Location, error)

func (f LocatorFunc) Lookup(ctx context.Context, ip string) (Location, error) {
	return f(ctx, ip)
}

// Routable reports whether ip is worth sending to a provider.
func Routable(ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return addr.IsGlobalUnicast() && !addr.IsPrivate() && !addr.IsLoopback()
}

// Resolve looks ip up within timeout and returns the country name and code to
// record. Either may be nil. The country falls back to the code when the
// provider returns no name.
func Resolve(ctx context.Context, locator Locator, ip string, timeout time.Duration) (country, code *string) {
	if locator == nil || !Routable(ip) {
		return nil, nil
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	loc, err := locator.Lookup(ctx, ip)
	if err != nil || loc.Empty() {
		return nil, nil
	}

	if loc.CountryCode != "" {
		c := loc.CountryCode
		code = &c
	}
	name := loc.Country
	if name == "" {
		name = loc.CountryCode
	}
	return &name, code
}

// instrumented records outcome and latency per provider.
type instrumented struct {
	provider string
	next     Locator
}

func Instrument(provider string, next Locator) Locator {
	return &instrumented{provider: provider, next: next}
}

func (i *instrumented) Lookup(ctx context.Context, ip string) (Location, error) {
	start := time.Now()
	loc, err := i.next.Lookup(ctx, ip)
	metrics.GeoLookupDuration.WithLabelValues(i.provider).Observe(time.Since(start).Seconds())

	outcome := "found"
	switch {
	case errors.Is(err, ErrNotFound):
		outcome = "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	metrics.GeoLookups.WithLabelValues(i.provider, outcome).Inc()

	return loc, err
}
