package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gatekeeper/internal/support"

	"github.com/charmbracelet/log"
)

type Config struct {
	Security    SecurityConfig    `json:"security"`
	RateLimit   RateLimitConfig   `json:"rate_limit"`
	Analyzer    AnalyzerConfig    `json:"analyzer"`
	Retention   RetentionConfig   `json:"retention"`
	Dashboard   DashboardConfig   `json:"dashboard"`
	Geolocation GeolocationConfig `json:"geolocation"`
	ActivityLog ActivityLogConfig `json:"activity_log"`
	Blocklist   BlocklistConfig   `json:"blocklist"`
}

type SecurityConfig struct {
	// SensitivePaths are regular expressions matched against the request path.
	// The rate limiter and the recorded sensitivity flag share this list.
	SensitivePaths []string `json:"sensitive_paths"`
	AnonymizeIP    bool     `json:"anonymize_ip"`
}

type RateLimitConfig struct {
	WindowSeconds uint32 `json:"window_seconds"`
	MaxRequests   uint32 `json:"max_requests"`
}

type AnalyzerConfig struct {
	WindowMinutes uint32 `json:"window_minutes"`
	Threshold     uint32 `json:"threshold"`
	Timer         Timer  `json:"timer"`
}

type RetentionConfig struct {
	Days  uint32 `json:"days"`
	Timer Timer  `json:"timer"`
}

type DashboardConfig struct {
	CacheTTLSeconds   uint32 `json:"cache_ttl_seconds"`
	DefaultTopN       uint32 `json:"default_top_n"`
	DefaultWindowDays uint32 `json:"default_window_days"`
}

type GeolocationConfig struct {
	// Provider is one of "ipinfo", "geolite" or "none".
	Provider    string `json:"provider"`
	URL         string `json:"url"`
	TimeoutMs   uint32 `json:"timeout_ms"`
	CacheHours  uint32 `json:"cache_hours"`
	GeoLitePath string `json:"geolite_path"`

	// GeoLiteRefreshHours is how often the geolite database is re-downloaded
	// when MAXMIND_LICENSE_KEY is set.
	GeoLiteRefreshHours uint32 `json:"geolite_refresh_hours"`
}

type ActivityLogConfig struct {
	QueueSize    uint32 `json:"queue_size"`
	BatchSize    uint32 `json:"batch_size"`
	FlushSeconds uint32 `json:"flush_seconds"`
}

// BlocklistConfig lists plain-text feeds of abusive addresses that are
// imported into the blacklist on Timer.
type BlocklistConfig struct {
	Sources []string `json:"sources"`
	Timer   Timer    `json:"timer"`
}

type Timer struct {
	Days    uint32 `json:"days"`
	Hours   uint32 `json:"hours"`
	Minutes uint32 `json:"minutes"`
	Seconds uint32 `json:"seconds"`
}

func (t Timer) IsZero() bool {
	return t.Days == 0 && t.Hours == 0 && t.Minutes == 0 && t.Seconds == 0
}

const defaultSettingsFilePath = "data/settings.json"

var (
	//go:embed default_settings.json
	defaultConfig []byte

	configValue atomic.Value
	configMu    sync.Mutex

	InProductionMode bool
)

func init() {
	cfg, err := DefaultConfig()
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults are invalid: %v", err))
	}
	configValue.Store(cfg)
}

// DefaultConfig decodes the embedded default settings.
func DefaultConfig() (Config, error) {
	var cfg Config
	if err := json.Unmarshal(defaultConfig, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SettingsFilePath honours SETTINGS_FILE and falls back to data/settings.json.
func SettingsFilePath() string {
	return support.GetEnv("SETTINGS_FILE", defaultSettingsFilePath)
}

func ReadSettings() {
	path := SettingsFilePath()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Error("Error reading settings file", "path", path, "error", err)
			return
		}

		log.Warn("Settings file not found, creating with default configuration", "path", path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			log.Error("Error creating directory for settings file", "error", err)
			return
		}
		if err := os.WriteFile(path, defaultConfig, 0o644); err != nil {
			log.Error("Error writing default settings file", "error", err)
			return
		}
		data = defaultConfig
	}

	if err := loadSettings(data, "file"); err != nil {
		log.Error("Error applying configuration from settings file", "path", path, "error", err)
		return
	}

	log.Debug("Settings file loaded successfully", "path", path)
}

func loadSettings(data []byte, source string) error {
	// Start from the defaults so keys missing in older files keep sane values.
	newConfig, err := DefaultConfig()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &newConfig); err != nil {
		return fmt.Errorf("unmarshal settings: %w", err)
	}
	return applyConfigUpdate(newConfig, configUpdateOptions{source: source})
}

// SetConfig validates, stores, persists and broadcasts newConfig.
func SetConfig(newConfig Config) error {
	if err := applyConfigUpdate(newConfig, configUpdateOptions{persistToFile: true, broadcast: true, source: "local"}); err != nil {
		log.Error("Error applying configuration update", "error", err)
		return err
	}

	log.Debug("Configuration updated and written to file successfully")
	return nil
}

// Clone returns a copy that shares no slices with c.
func (c Config) Clone() Config {
	c.Security.SensitivePaths = append([]string(nil), c.Security.SensitivePaths...)
	c.Blocklist.Sources = append([]string(nil), c.Blocklist.Sources...)
	return c
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error

	for _, pattern := range c.Security.SensitivePaths {
		if strings.TrimSpace(pattern) == "" {
			errs = append(errs, errors.New("security.sensitive_paths: empty pattern"))
			continue
		}
		if _, err := regexp.Compile(pattern); err != nil {
			errs = append(errs, fmt.Errorf("security.sensitive_paths: %q: %w", pattern, err))
		}
	}

	switch strings.ToLower(c.Geolocation.Provider) {
	case "", "ipinfo", "geolite", "none":
	default:
		errs = append(errs, fmt.Errorf("geolocation.provider: unknown provider %q", c.Geolocation.Provider))
	}

	for _, source := range c.Blocklist.Sources {
		parsed, err := url.Parse(strings.TrimSpace(source))
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			errs = append(errs, fmt.Errorf("blocklist.sources: %q is not an http(s) url", source))
		}
	}

	if c.RateLimit.MaxRequests == 0 {
		errs = append(errs, errors.New("rate_limit.max_requests must be positive"))
	}
	if c.Analyzer.Threshold == 0 {
		errs = append(errs, errors.New("analyzer.threshold must be positive"))
	}

	return errors.Join(errs...)
}

type configUpdateOptions struct {
	persistToFile bool
	broadcast     bool
	source        string
}

func applyConfigUpdate(newConfig Config, opts configUpdateOptions) error {
	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	configMu.Lock()
	defer configMu.Unlock()

	configValue.Store(newConfig)
	refreshIntervals(newConfig)

	var errs []error

	if opts.persistToFile {
		data, err := json.MarshalIndent(newConfig, "", "  ")
		if err != nil {
			errs = append(errs, fmt.Errorf("marshal configuration: %w", err))
		} else if err := writeSettingsFile(data); err != nil {
			errs = append(errs, fmt.Errorf("write configuration: %w", err))
		}
	}

	if opts.broadcast {
		if err := broadcastConfigUpdate(newConfig); err != nil {
			errs = append(errs, fmt.Errorf("broadcast configuration: %w", err))
		}
	}

	log.Debug("Configuration applied", "source", opts.source)

	return errors.Join(errs...)
}

func writeSettingsFile(data []byte) error {
	path := SettingsFilePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func GetConfig() Config {
	return configValue.Load().(Config)
}

func SetProductionMode(productionMode bool) {
	InProductionMode = productionMode
}

func (c RateLimitConfig) Window() time.Duration {
	if c.WindowSeconds == 0 {
		return 600 * time.Second
	}
	return time.Duration(c.WindowSeconds) * time.Second
}

func (c AnalyzerConfig) Window() time.Duration {
	if c.WindowMinutes == 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.WindowMinutes) * time.Minute
}

func (c RetentionConfig) Period() time.Duration {
	days := c.Days
	if days == 0 {
		days = 90
	}
	return time.Duration(days) * 24 * time.Hour
}

func (c DashboardConfig) CacheTTL() time.Duration {
	if c.CacheTTLSeconds == 0 {
		return 300 * time.Second
	}
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

func (c GeolocationConfig) Timeout() time.Duration {
	if c.TimeoutMs == 0 {
		return 800 * time.Millisecond
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func (c GeolocationConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheHours) * time.Hour
}

func (c GeolocationConfig) GeoLiteRefresh() time.Duration {
	if c.GeoLiteRefreshHours == 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(c.GeoLiteRefreshHours) * time.Hour
}

func (c ActivityLogConfig) FlushInterval() time.Duration {
	if c.FlushSeconds == 0 {
		return 2 * time.Second
	}
	return time.Duration(c.FlushSeconds) * time.Second
}
