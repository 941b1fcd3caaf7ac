package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gatekeeper/internal/domain"
	"gatekeeper/internal/support"

	"github.com/charmbracelet/log"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	DB *gorm.DB

	errNotInitialised = errors.New("database not initialised")
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"

	slowQueryThreshold = 500 * time.Millisecond
)

type Config struct {
	ExistingDB  *gorm.DB
	Dialector   gorm.Dialector
	Logger      logger.Interface
	AutoMigrate bool
	Migrations  []any
}

type Option func(*Config)

// SetupDB opens the configured database into DB and migrates the security
// tables unless WithAutoMigrate(false) is given.
func SetupDB(opts ...Option) (*gorm.DB, error) {
	cfg := Config{AutoMigrate: true, Migrations: DefaultMigrations()}
	for _, opt := range opts {
		opt(&cfg)
	}

	db := cfg.ExistingDB
	if db == nil {
		dialector := cfg.Dialector
		if dialector == nil {
			var err error
			if dialector, err = dialectorFromEnv(); err != nil {
				return nil, err
			}
		}
		if cfg.Logger == nil {
			cfg.Logger = queryLogger(support.GetEnvBool("DB_LOG_QUERIES", false))
		}

		opened, err := gorm.Open(dialector, &gorm.Config{Logger: cfg.Logger})
		if err != nil {
			return nil, fmt.Errorf("database: open %s: %w", dialector.Name(), err)
		}
		if err := poolFromEnv(dialector.Name()).apply(opened); err != nil {
			return nil, err
		}
		db = opened
	}

	if cfg.AutoMigrate && len(cfg.Migrations) > 0 {
		if err := db.AutoMigrate(cfg.Migrations...); err != nil {
			return nil, fmt.Errorf("database: auto migrate: %w", err)
		}
		log.Info("Database migration completed.", "driver", db.Dialector.Name())
	}

	DB = db
	return DB, nil
}

// dialectorFromEnv picks postgres unless DB_DRIVER=sqlite, which keeps the
// whole store in one file for single-node deployments.
func dialectorFromEnv() (gorm.Dialector, error) {
	switch driver := strings.ToLower(strings.TrimSpace(support.GetEnv("DB_DRIVER", driverPostgres))); driver {
	case driverPostgres:
		return postgres.Open(postgresDSN()), nil
	case driverSQLite:
		path := support.GetEnv("SQLITE_PATH", "data/gatekeeper.db")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("database: create sqlite directory: %w", err)
		}
		return sqlite.Open(sqliteDSN(path)), nil
	default:
		return nil, fmt.Errorf("database: unsupported DB_DRIVER %q", driver)
	}
}

// postgresDSN prefers DATABASE_URL and otherwise assembles the key/value form
// from the DB_* variables.
func postgresDSN() string {
	if url := support.GetEnv("DATABASE_URL", ""); url != "" {
		return url
	}

	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		support.GetEnv("DB_HOST", "localhost"),
		support.GetEnv("DB_PORT", "5432"),
		support.GetEnv("DB_USERNAME", "admin"),
		support.GetEnv("DB_PASSWORD", "admin"),
		support.GetEnv("DB_NAME", "gatekeeper"),
		support.GetEnv("DB_SSLMODE", "disable"),
	)
}

// sqliteDSN enables WAL so the dashboard can read while the event writer
// inserts, and waits on a locked database instead of failing.
func sqliteDSN(path string) string {
	return "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

func queryLogger(verbose bool) logger.Interface {
	level := logger.Silent
	if verbose {
		level = logger.Info
	}
	return logger.New(log.Default(), logger.Config{
		SlowThreshold:             slowQueryThreshold,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
	})
}

// DefaultMigrations lists the tables owned by the security core.
func DefaultMigrations() []any {
	return []any{
		domain.User{},
		domain.RequestEvent{},
		domain.BlacklistedIP{},
		domain.SuspiciousIP{},
	}
}

func WithExistingDB(db *gorm.DB) Option {
	return func(cfg *Config) {
		cfg.ExistingDB = db
	}
}

func WithDialector(d gorm.Dialector) Option {
	return func(cfg *Config) {
		cfg.Dialector = d
	}
}

func WithLogger(l logger.Interface) Option {
	return func(cfg *Config) {
		cfg.Logger = l
	}
}

func WithAutoMigrate(enabled bool) Option {
	return func(cfg *Config) {
		cfg.AutoMigrate = enabled
	}
}

type poolSettings struct {
	maxOpen     int
	maxIdle     int
	maxLifetime time.Duration
	maxIdleTime time.Duration
}

// poolFromEnv reads the DB_* pool variables. sqlite allows one writer, so its
// default is a single connection.
func poolFromEnv(driver string) poolSettings {
	defaultOpen := 32
	if driver == driverSQLite {
		defaultOpen = 1
	}

	p := poolSettings{
		maxOpen:     support.GetEnvInt("DB_MAX_OPEN_CONNS", defaultOpen),
		maxLifetime: time.Duration(support.GetEnvInt("DB_CONN_MAX_LIFETIME", 300)) * time.Second,
		maxIdleTime: time.Duration(support.GetEnvInt("DB_CONN_MAX_IDLE_TIME", 60)) * time.Second,
	}
	p.maxIdle = min(support.GetEnvInt("DB_MAX_IDLE_CONNS", p.maxOpen), p.maxOpen)
	return p
}

func (p poolSettings) apply(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("database: get sql.DB: %w", err)
	}

	if p.maxOpen > 0 {
		sqlDB.SetMaxOpenConns(p.maxOpen)
	}
	if p.maxIdle >= 0 {
		sqlDB.SetMaxIdleConns(p.maxIdle)
	}
	if p.maxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(p.maxLifetime)
	}
	if p.maxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(p.maxIdleTime)
	}
	return nil
}

// Store exposes the security tables to the pipeline, the jobs and the dashboard.
type Store struct {
	db *gorm.DB
}

// NewStore wraps db. A nil db falls back to the package connection set by SetupDB.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) conn(ctx context.Context) (*gorm.DB, error) {
	db := s.db
	if db == nil {
		db = DB
	}
	if db == nil {
		return nil, errNotInitialised
	}
	if ctx != nil {
		db = db.WithContext(ctx)
	}
	return db, nil
}

// Ping reports whether the underlying connection answers.
func (s *Store) Ping(ctx context.Context) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
