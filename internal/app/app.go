package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"gatekeeper/internal/app/bootstrap"
	"gatekeeper/internal/app/server"
	"gatekeeper/internal/app/version"
	"gatekeeper/internal/auth"
	"gatekeeper/internal/blacklist"
	"gatekeeper/internal/config"
	"gatekeeper/internal/dashboard"
	"gatekeeper/internal/database"
	"gatekeeper/internal/geo"
	"gatekeeper/internal/geolite"
	"gatekeeper/internal/jobs/analysis"
	"gatekeeper/internal/jobs/maintenance"
	"gatekeeper/internal/jobs/runtime"
	"gatekeeper/internal/kvstore"
	"gatekeeper/internal/security"
	"gatekeeper/internal/support"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBackendPort = 8082
	kvstorePrefix      = "gatekeeper:"
	writerDrainTimeout = 15 * time.Second
)

var errUnknownJob = errors.New("unknown job")

func Run() error {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found. Falling back to system environment variables.")
	}

	backendPortFlag := flag.Int("backend-port", defaultBackendPort, "Port for API server")
	productionFlag := flag.Bool("production", false, "Run in production mode")
	runFlag := flag.String("run", "", "Run one job and exit: seed, analyze, sweep or import")
	seedEventsFlag := flag.Int("seed-events", bootstrap.DefaultSeedEvents, "Number of request events created by -run seed")
	flag.Parse()

	production := *productionFlag || support.IsProduction()
	config.SetProductionMode(production)
	log.SetLevel(parseLogLevel(support.GetEnv("LOG_LEVEL", ""), production))
	log.Info("Starting gatekeeper", "version", version.BuildVersion(), "production", production)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config.ReadSettings()

	if _, err := database.SetupDB(); err != nil {
		return fmt.Errorf("failed to set up database: %w", err)
	}
	store := database.NewStore(nil)

	if *runFlag != "" {
		return runOnce(ctx, *runFlag, store, *seedEventsFlag)
	}

	redisClient, err := support.GetRedisClient()
	var cache kvstore.Store
	if err != nil {
		log.Warn("Redis unavailable, using in-process counters and caches", "error", err)
		cache = kvstore.NewMemoryStore()
		runtime.SetStandalone(true)
	} else {
		cache = kvstore.NewRedisStore(redisClient, kvstorePrefix)
		config.EnableRedisSynchronization(ctx, redisClient)
		defer func() {
			if err := support.CloseRedisClient(); err != nil {
				log.Warn("error closing redis client", "error", err)
			}
		}()
	}

	if err := config.WatchSettings(ctx); err != nil {
		log.Warn("Settings file watcher disabled", "error", err)
	}

	cfg := config.GetConfig()
	locator, geoLite := geo.NewFromConfig(cfg.Geolocation, support.GetEnv("IPINFO_TOKEN", ""), cache)
	if geoLite != nil {
		defer geoLite.Close()
	}
	writer := runtime.NewRequestEventWriter(store, runtime.RequestEventWriterOptions{
		QueueSize:     int(cfg.ActivityLog.QueueSize),
		BatchSize:     int(cfg.ActivityLog.BatchSize),
		FlushInterval: cfg.ActivityLog.FlushInterval(),
		Locator:       locator,
		GeoTimeout:    cfg.Geolocation.Timeout(),
	})

	sensitive := security.NewConfiguredSensitivePaths(func() []string {
		return config.GetConfig().Security.SensitivePaths
	})
	pipeline := security.NewPipeline(
		security.NewActivityLogger(writer, sensitive, auth.GetUserIDFromRequest),
		security.NewBlacklistGate(store),
		security.NewRateLimiter(cache, sensitive, func() config.RateLimitConfig {
			return config.GetConfig().RateLimit
		}),
	)

	deps := server.Dependencies{
		Store:     store,
		Dashboard: dashboard.NewAggregator(store, cache, nil),
		Pipeline:  pipeline,
		Operator:  auth.OperatorFromEnv(),
	}
	if !deps.Operator.Configured() {
		log.Warn("ADMIN_EMAIL or ADMIN_PASSWORD_HASH not set, operator login is disabled")
	}
	if redisClient != nil {
		deps.Instances = instanceCounter(redisClient)
	}

	// The writer outlives the server so requests finishing during shutdown
	// are still persisted.
	writerCtx, stopWriter := context.WithCancel(context.Background())
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		writer.Run(writerCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		analysis.StartAnalyzerRoutine(gctx, store)
		return nil
	})
	g.Go(func() error {
		maintenance.StartRetentionRoutine(gctx, store)
		return nil
	})
	g.Go(func() error {
		blacklist.StartImportRoutine(gctx, blacklist.NewImporter(store, nil))
		return nil
	})
	if redisClient != nil {
		g.Go(func() error {
			runtime.StartInstanceHeartbeat(gctx, redisClient, runtime.DefaultHeartbeatInterval, runtime.DefaultHeartbeatTTL)
			return nil
		})
	}
	if geoLite != nil {
		startGeoLite(gctx, g, geoLite, cfg.Geolocation, redisClient)
	}
	g.Go(func() error {
		port := resolvePort("BACKEND_PORT", "PORT", *backendPortFlag)
		return server.OpenRoutes(gctx, port, server.NewRouter(deps))
	})

	err = g.Wait()

	stopWriter()
	select {
	case <-writerDone:
	case <-time.After(writerDrainTimeout):
		log.Warn("Request event writer did not drain in time")
	}
	return err
}

// startGeoLite keeps the local GeoLite database current. With Redis, one
// instance downloads and the rest follow the shared copy.
func startGeoLite(ctx context.Context, g *errgroup.Group, locator *geo.GeoLiteLocator, cfg config.GeolocationConfig, client *redis.Client) {
	update := runtime.GeoLiteUpdate{
		Reload: locator.Reload,
		Path:   cfg.GeoLitePath,
		Every:  cfg.GeoLiteRefresh(),
	}

	if client != nil {
		distributor := geolite.NewDistributor(client, cfg.GeoLitePath)
		update.Publisher = distributor
		g.Go(func() error {
			distributor.Follow(ctx, locator.Reload)
			return nil
		})
	}

	licenseKey := support.GetEnv("MAXMIND_LICENSE_KEY", "")
	if strings.TrimSpace(licenseKey) == "" {
		if !locator.Loaded() {
			log.Warn("GeoLite database missing and MAXMIND_LICENSE_KEY not set, countries will be unknown", "path", cfg.GeoLitePath)
		}
		return
	}

	update.Downloader = geolite.NewUpdater(licenseKey, cfg.GeoLitePath)
	g.Go(func() error {
		runtime.StartGeoLiteUpdateRoutine(ctx, update)
		return nil
	})
}

func instanceCounter(client *redis.Client) func(ctx context.Context) (int, error) {
	return func(ctx context.Context) (int, error) {
		return runtime.CountActiveInstances(ctx, client)
	}
}

// JobStore is what the one-shot jobs need from the database.
type JobStore interface {
	analysis.Store
	maintenance.RetentionStore
	bootstrap.SeedStore
	blacklist.EntryStore
}

// runOnce executes a single job and prints its summary line.
func runOnce(ctx context.Context, job string, store JobStore, seedEvents int) error {
	cfg := config.GetConfig()
	now := time.Now()

	switch strings.ToLower(strings.TrimSpace(job)) {
	case "seed":
		result, err := bootstrap.SeedSecurityData(ctx, store, bootstrap.SeedOptions{
			Events:    seedEvents,
			Anonymize: cfg.Security.AnonymizeIP,
			Now:       now,
		})
		if err != nil {
			return err
		}
		fmt.Println(result.String())
	case "analyze":
		report, err := analysis.Run(ctx, store, analysis.OptionsFromConfig(cfg.Analyzer), now)
		if err != nil {
			return err
		}
		fmt.Println(report.String())
	case "sweep":
		deleted, err := maintenance.SweepRequestEvents(ctx, store, cfg.Retention.Period(), now)
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d request events older than %d days.\n", deleted, cfg.Retention.Days)
	case "import":
		outcome, err := blacklist.NewImporter(store, nil).Import(ctx, cfg.Blocklist.Sources, cfg.Security.AnonymizeIP, now)
		if err != nil {
			return err
		}
		fmt.Println(outcome.String())
	default:
		return fmt.Errorf("%w %q (expected seed, analyze, sweep or import)", errUnknownJob, job)
	}
	return nil
}

// parseLogLevel honours LOG_LEVEL and otherwise logs debug outside production.
func parseLogLevel(raw string, production bool) log.Level {
	if raw = strings.TrimSpace(raw); raw != "" {
		if level, err := log.ParseLevel(raw); err == nil {
			return level
		}
		log.Warn("invalid LOG_LEVEL, using default", "value", raw)
	}
	if production {
		return log.InfoLevel
	}
	return log.DebugLevel
}

func resolvePort(primaryEnv, legacyEnv string, fallback int) int {
	if port := readPort(primaryEnv); port != 0 {
		return port
	}
	if port := readPort(legacyEnv); port != 0 {
		return port
	}
	return fallback
}

func readPort(envKey string) int {
	raw := os.Getenv(envKey)
	if raw == "" {
		return 0
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port == 0 {
		log.Warn("invalid port override", "env", envKey, "value", raw)
		return 0
	}
	return port
}
