package geo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

var errGeoLiteNotLoaded = errors.New("geo: geolite database not loaded")

// GeoLiteLocator answers from a local GeoLite2 Country database. The database
// can be swapped at runtime with Reload.
type GeoLiteLocator struct {
	mu     sync.RWMutex
	reader *geoip2.Reader
}

// NewGeoLite returns a locator without a database; lookups fail until Reload succeeds.
func NewGeoLite() *GeoLiteLocator {
	return &GeoLiteLocator{}
}

func OpenGeoLite(path string) (*GeoLiteLocator, error) {
	g := NewGeoLite()
	if err := g.Reload(path); err != nil {
		return nil, err
	}
	return g, nil
}

// Reload opens path and replaces the current database. On error the current
// database stays in place.
func (g *GeoLiteLocator) Reload(path string) error {
	reader, err := geoip2.Open(path)
	if err != nil {
		return fmt.Errorf("geo: open geolite database %s: %w", path, err)
	}

	g.mu.Lock()
	previous := g.reader
	g.reader = reader
	g.mu.Unlock()

	if previous != nil {
		_ = previous.Close()
	}
	return nil
}

func (g *GeoLiteLocator) Loaded() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.reader != nil
}

// GeoLiteFromBytes loads a database already held in memory.
func GeoLiteFromBytes(data []byte) (*GeoLiteLocator, error) {
	reader, err := geoip2.FromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("geo: load geolite database: %w", err)
	}
	return &GeoLiteLocator{reader: reader}, nil
}

func (g *GeoLiteLocator) Lookup(ctx context.Context, ip string) (Location, error) {
	if err := ctx.Err(); err != nil {
		return Location{}, err
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Location{}, ErrNotRoutable
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.reader == nil {
		return Location{}, errGeoLiteNotLoaded
	}

	record, err := g.reader.Country(parsed)
	if err != nil {
		return Location{}, fmt.Errorf("geo: geolite lookup: %w", err)
	}

	loc := Location{
		Country:       record.Country.Names["en"],
		CountryCode:   record.Country.IsoCode,
		Continent:     record.Continent.Names["en"],
		ContinentCode: record.Continent.Code,
	}
	if loc.Empty() {
		return Location{}, ErrNotFound
	}
	return loc, nil
}

func (g *GeoLiteLocator) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.reader == nil {
		return nil
	}
	err := g.reader.Close()
	g.reader = nil
	return err
}
