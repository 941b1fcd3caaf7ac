// Package geolite keeps the local GeoLite2 Country database current: it
// downloads the MaxMind archive and shares the file with other instances
// through Redis.
package geolite

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultDownloadURL = "https://download.maxmind.com/app/geoip_download"
	CountryEdition     = "GeoLite2-Country"
	userAgent          = "gatekeeper-geolite-updater/1.0"
	downloadTimeout    = 2 * time.Minute
)

// ErrNoLicenseKey indicates that MAXMIND_LICENSE_KEY has not been configured.
var ErrNoLicenseKey = errors.New("geolite: license key is not configured")

type Updater struct {
	LicenseKey  string
	Path        string
	DownloadURL string
	Client      *http.Client

	group singleflight.Group
}

func NewUpdater(licenseKey, path string) *Updater {
	return &Updater{
		LicenseKey:  strings.TrimSpace(licenseKey),
		Path:        path,
		DownloadURL: DefaultDownloadURL,
		Client:      &http.Client{Timeout: downloadTimeout},
	}
}

// Fresh reports whether the database on disk is younger than maxAge.
func (u *Updater) Fresh(maxAge time.Duration) bool {
	info, err := os.Stat(u.Path)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) < maxAge
}

// Update downloads the Country edition and atomically replaces the file at
// Path. Concurrent calls share one download.
func (u *Updater) Update(ctx context.Context) error {
	_, err, _ := u.group.Do("update", func() (any, error) {
		if u.LicenseKey == "" {
			return nil, ErrNoLicenseKey
		}
		if err := u.download(ctx); err != nil {
			return nil, err
		}
		log.Info("GeoLite database updated", "path", u.Path)
		return nil, nil
	})
	return err
}

func (u *Updater) download(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.downloadURL(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	client := u.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", CountryEdition, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("download %s: unexpected status %d: %s", CountryEdition, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	gzipReader, err := gzip.NewReader(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: open gzip: %w", CountryEdition, err)
	}
	defer gzipReader.Close()

	want := CountryEdition + ".mmdb"
	tarReader := tar.NewReader(gzipReader)
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%s: read tar: %w", CountryEdition, err)
		}
		if header.Typeflag != tar.TypeReg || filepath.Base(header.Name) != want {
			continue
		}
		if err := writeToFile(u.Path, tarReader); err != nil {
			return fmt.Errorf("%s: write file: %w", CountryEdition, err)
		}
		return nil
	}

	return fmt.Errorf("%s: mmdb file not found in archive", CountryEdition)
}

func (u *Updater) downloadURL() string {
	base := u.DownloadURL
	if base == "" {
		base = DefaultDownloadURL
	}
	return fmt.Sprintf("%s?edition_id=%s&license_key=%s&suffix=tar.gz", base, CountryEdition, u.LicenseKey)
}

// writeToFile goes through a temp file in the same directory so readers
// never see a partial database.
func writeToFile(destPath string, data io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), "geolite-*.mmdb")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmpFile.Name())
	}()

	if _, err := io.Copy(tmpFile, data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("copy data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpFile.Name(), destPath); err != nil {
		return fmt.Errorf("replace file: %w", err)
	}
	return nil
}
