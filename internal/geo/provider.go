package geo

import (
	"net/http"
	"strings"

	"gatekeeper/internal/config"
	"gatekeeper/internal/kvstore"

	"github.com/charmbracelet/log"
)

// NewFromConfig builds the locator chain for the configured provider.
// It returns a nil Locator for provider "none", which callers read as
// "always unknown". For provider "geolite" the second result is the database
// behind the chain so it can be reloaded after a download.
func NewFromConfig(cfg config.GeolocationConfig, token string, store kvstore.Store) (Locator, *GeoLiteLocator) {
	var (
		base     Locator
		geolite  *GeoLiteLocator
		provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	)

	switch provider {
	case "none":
		return nil, nil
	case "geolite":
		geolite = NewGeoLite()
		if err := geolite.Reload(cfg.GeoLitePath); err != nil {
			log.Warn("geo: geolite database unavailable, countries stay unknown until it is downloaded", "error", err)
		}
		base = geolite
	default:
		provider = "ipinfo"
		client := NewIPInfoClient(cfg.URL, token, &http.Client{Timeout: cfg.Timeout()})
		base = NewBreakerLocator(client, BreakerSettings{Name: "ipinfo"})
	}

	return NewCachedLocator(Instrument(provider, base), store, cfg.CacheTTL()), geolite
}
