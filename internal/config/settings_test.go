package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func useSettingsFile(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "settings.json")
	t.Setenv("SETTINGS_FILE", path)

	orig := GetConfig()
	t.Cleanup(func() {
		configValue.Store(orig)
		analyzerInterval.reset()
		retentionInterval.reset()
		blocklistInterval.reset()
	})
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("DefaultConfig returned error: %v", err)
	}

	if cfg.RateLimit.MaxRequests != 30 || cfg.RateLimit.Window() != 10*time.Minute {
		t.Fatalf("unexpected rate limit defaults: %+v", cfg.RateLimit)
	}
	if cfg.Analyzer.Threshold != 200 || cfg.Analyzer.Window() != 10*time.Minute {
		t.Fatalf("unexpected analyzer defaults: %+v", cfg.Analyzer)
	}
	if cfg.Retention.Period() != 90*24*time.Hour {
		t.Fatalf("retention period = %s, want 90 days", cfg.Retention.Period())
	}
	if cfg.Dashboard.CacheTTL() != 5*time.Minute || cfg.Dashboard.DefaultTopN != 10 {
		t.Fatalf("unexpected dashboard defaults: %+v", cfg.Dashboard)
	}
	if !cfg.Security.AnonymizeIP || len(cfg.Security.SensitivePaths) != 2 {
		t.Fatalf("unexpected security defaults: %+v", cfg.Security)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("embedded defaults do not validate: %v", err)
	}
}

func TestReadSettingsCreatesDefaultFile(t *testing.T) {
	path := useSettingsFile(t)

	ReadSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("settings file not created: %v", err)
	}
	if string(data) != string(defaultConfig) {
		t.Fatal("created settings file does not match the embedded defaults")
	}
}

func TestReadSettingsFillsMissingKeys(t *testing.T) {
	path := useSettingsFile(t)

	if err := os.WriteFile(path, []byte(`{"rate_limit":{"window_seconds":60,"max_requests":5}}`), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}

	ReadSettings()

	cfg := GetConfig()
	if cfg.RateLimit.MaxRequests != 5 || cfg.RateLimit.Window() != time.Minute {
		t.Fatalf("file values not applied: %+v", cfg.RateLimit)
	}
	if cfg.Analyzer.Threshold != 200 {
		t.Fatalf("missing keys should keep defaults, got threshold %d", cfg.Analyzer.Threshold)
	}
}

func TestValidateJoinsErrors(t *testing.T) {
	cfg, _ := DefaultConfig()
	cfg.Security.SensitivePaths = []string{"(", ""}
	cfg.Geolocation.Provider = "carrier-pigeon"
	cfg.Blocklist.Sources = []string{"https://lists.example.org/drop.txt", "ftp://lists.example.org/drop.txt"}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate accepted an invalid configuration")
	}
	for _, want := range []string{"sensitive_paths", "empty pattern", "carrier-pigeon", "ftp://"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %q", err, want)
		}
	}
}

func TestSetConfigPersistsAndRejectsInvalid(t *testing.T) {
	path := useSettingsFile(t)

	cfg, _ := DefaultConfig()
	cfg.Analyzer.Threshold = 50
	if err := SetConfig(cfg); err != nil {
		t.Fatalf("SetConfig returned error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil || !strings.Contains(string(data), `"threshold": 50`) {
		t.Fatalf("settings not persisted: err=%v data=%s", err, data)
	}

	cfg.RateLimit.MaxRequests = 0
	if err := SetConfig(cfg); err == nil {
		t.Fatal("SetConfig accepted max_requests=0")
	}
	if GetConfig().RateLimit.MaxRequests == 0 {
		t.Fatal("invalid configuration replaced the active one")
	}
}

func TestWatchSettingsReloadsOnWrite(t *testing.T) {
	path := useSettingsFile(t)
	ReadSettings()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := WatchSettings(ctx); err != nil {
		t.Fatalf("WatchSettings returned error: %v", err)
	}

	if err := os.WriteFile(path, []byte(`{"analyzer":{"window_minutes":10,"threshold":77}}`), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if GetConfig().Analyzer.Threshold == 77 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("threshold = %d after edit, want 77", GetConfig().Analyzer.Threshold)
}

func TestCloneDoesNotShareSlices(t *testing.T) {
	cfg, _ := DefaultConfig()
	clone := cfg.Clone()
	clone.Security.SensitivePaths[0] = "^/changed"

	if cfg.Security.SensitivePaths[0] == "^/changed" {
		t.Fatal("Clone shares sensitive_paths with the original")
	}
}
