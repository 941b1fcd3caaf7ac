package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"gatekeeper/internal/geolite"
)

type fakeDownloader struct {
	fresh   bool
	err     error
	updates int
}

func (f *fakeDownloader) Fresh(time.Duration) bool { return f.fresh }

func (f *fakeDownloader) Update(context.Context) error {
	f.updates++
	return f.err
}

type fakePublisher struct{ publishes int }

func (f *fakePublisher) Publish(context.Context) error {
	f.publishes++
	return nil
}

func TestRunGeoLiteUpdate(t *testing.T) {
	tests := []struct {
		name        string
		downloader  *fakeDownloader
		force       bool
		wantUpdated bool
		wantUpdates int
		wantReloads int
		wantPublish int
	}{
		{name: "stale database", downloader: &fakeDownloader{}, wantUpdated: true, wantUpdates: 1, wantReloads: 1, wantPublish: 1},
		{name: "fresh database", downloader: &fakeDownloader{fresh: true}},
		{name: "force ignores age", downloader: &fakeDownloader{fresh: true}, force: true, wantUpdated: true, wantUpdates: 1, wantReloads: 1, wantPublish: 1},
		{name: "missing key", downloader: &fakeDownloader{err: geolite.ErrNoLicenseKey}, wantUpdates: 1},
		{name: "download failure", downloader: &fakeDownloader{err: errors.New("boom")}, wantUpdates: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			publisher := &fakePublisher{}
			reloads := 0
			u := GeoLiteUpdate{
				Downloader: tt.downloader,
				Publisher:  publisher,
				Reload: func(path string) error {
					if path != "data/country.mmdb" {
						t.Fatalf("reload path = %q", path)
					}
					reloads++
					return nil
				},
				Path:  "data/country.mmdb",
				Every: time.Hour,
			}

			updated := RunGeoLiteUpdate(context.Background(), u, tt.force)
			if updated != tt.wantUpdated {
				t.Fatalf("updated = %v, want %v", updated, tt.wantUpdated)
			}
			if tt.downloader.updates != tt.wantUpdates {
				t.Fatalf("updates = %d, want %d", tt.downloader.updates, tt.wantUpdates)
			}
			if reloads != tt.wantReloads {
				t.Fatalf("reloads = %d, want %d", reloads, tt.wantReloads)
			}
			if publisher.publishes != tt.wantPublish {
				t.Fatalf("publishes = %d, want %d", publisher.publishes, tt.wantPublish)
			}
		})
	}
}

func TestRunGeoLiteUpdate_FailedReloadSkipsPublish(t *testing.T) {
	publisher := &fakePublisher{}
	u := GeoLiteUpdate{
		Downloader: &fakeDownloader{},
		Publisher:  publisher,
		Reload:     func(string) error { return errors.New("corrupt database") },
		Every:      time.Hour,
	}

	if RunGeoLiteUpdate(context.Background(), u, false) {
		t.Fatal("update reported success after a failed reload")
	}
	if publisher.publishes != 0 {
		t.Fatalf("corrupt database was published %d times", publisher.publishes)
	}
}
