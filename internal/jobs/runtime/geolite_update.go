package runtime

import (
	"context"
	"errors"
	"time"

	"gatekeeper/internal/geolite"

	"github.com/charmbracelet/log"
)

const (
	geoLiteUpdateJobName       = "geolite_update"
	geoLiteUpdateFallbackEvery = 7 * 24 * time.Hour
)

type GeoLiteDownloader interface {
	Fresh(maxAge time.Duration) bool
	Update(ctx context.Context) error
}

type GeoLitePublisher interface {
	Publish(ctx context.Context) error
}

// GeoLiteUpdate wires the downloader to the local reload and, with Redis, to
// the other instances. Publisher may be nil.
type GeoLiteUpdate struct {
	Downloader GeoLiteDownloader
	Publisher  GeoLitePublisher
	Reload     func(path string) error
	Path       string
	Every      time.Duration
}

// StartGeoLiteUpdateRoutine refreshes the GeoLite database under the job's
// leader lock until ctx is done.
func StartGeoLiteUpdateRoutine(ctx context.Context, u GeoLiteUpdate) {
	if u.Every <= 0 {
		u.Every = geoLiteUpdateFallbackEvery
	}

	StartScheduled(ctx, Schedule{
		Name:     geoLiteUpdateJobName,
		Interval: u.Every,
		Run: func(ctx context.Context) {
			RunGeoLiteUpdate(ctx, u, false)
		},
	})
}

// RunGeoLiteUpdate downloads a new database unless the file on disk is younger
// than u.Every. force skips the age check. It reports whether a new file was
// installed.
func RunGeoLiteUpdate(ctx context.Context, u GeoLiteUpdate, force bool) bool {
	if u.Downloader == nil {
		return false
	}
	if !force && u.Downloader.Fresh(u.Every) {
		log.Debug("GeoLite update skipped: database is fresh", "path", u.Path)
		return false
	}

	err := u.Downloader.Update(ctx)
	switch {
	case errors.Is(err, geolite.ErrNoLicenseKey):
		log.Debug("GeoLite update skipped: license key missing")
		return false
	case err != nil:
		if ctx.Err() == nil {
			log.Error("GeoLite update failed", "error", err)
		}
		return false
	}

	if u.Reload != nil {
		if err := u.Reload(u.Path); err != nil {
			log.Error("GeoLite reload failed", "path", u.Path, "error", err)
			return false
		}
	}

	if u.Publisher != nil {
		if err := u.Publisher.Publish(ctx); err != nil {
			log.Error("GeoLite publish failed", "error", err)
		}
	}
	return true
}
