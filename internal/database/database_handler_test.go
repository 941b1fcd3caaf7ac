package database

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm/logger"
)

func TestSetupDB_SQLiteFromEnv(t *testing.T) {
	previous := DB
	t.Cleanup(func() { DB = previous })

	path := filepath.Join(t.TempDir(), "nested", "gatekeeper.db")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", path)

	db, err := SetupDB(WithLogger(logger.Discard))
	if err != nil {
		t.Fatalf("SetupDB returned error: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if DB != db {
		t.Fatal("SetupDB did not publish the connection")
	}
	if !db.Migrator().HasTable("blacklisted_ips") {
		t.Fatal("security tables were not migrated")
	}

	sqlDB, _ := db.DB()
	if got := sqlDB.Stats().MaxOpenConnections; got != 1 {
		t.Fatalf("sqlite max open connections = %d, want 1", got)
	}

	if err := NewStore(nil).Ping(context.Background()); err != nil {
		t.Fatalf("Ping through the package connection failed: %v", err)
	}
}

func TestSetupDB_WithDialectorSkipsMigration(t *testing.T) {
	previous := DB
	t.Cleanup(func() { DB = previous })

	db, err := SetupDB(
		WithDialector(sqlite.Open("file:setup_no_migrate?mode=memory&cache=shared")),
		WithLogger(logger.Discard),
		WithAutoMigrate(false),
	)
	if err != nil {
		t.Fatalf("SetupDB returned error: %v", err)
	}
	if db.Migrator().HasTable("request_events") {
		t.Fatal("tables migrated although auto migrate was disabled")
	}

	again, err := SetupDB(WithExistingDB(db), WithAutoMigrate(false))
	if err != nil || again != db {
		t.Fatalf("WithExistingDB did not reuse the connection: err=%v", err)
	}
}

func TestSetupDB_RejectsUnknownDriver(t *testing.T) {
	t.Setenv("DB_DRIVER", "oracle")

	if _, err := SetupDB(); err == nil || !strings.Contains(err.Error(), "oracle") {
		t.Fatalf("SetupDB error = %v, want unsupported driver", err)
	}
}

func TestPostgresDSN(t *testing.T) {
	t.Run("discrete variables", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "")
		t.Setenv("DB_HOST", "db.internal")
		t.Setenv("DB_SSLMODE", "require")

		dsn := postgresDSN()
		for _, want := range []string{"host=db.internal", "port=5432", "dbname=gatekeeper", "sslmode=require"} {
			if !strings.Contains(dsn, want) {
				t.Fatalf("dsn %q does not contain %q", dsn, want)
			}
		}
	})

	t.Run("url wins", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/gk")
		if got := postgresDSN(); got != "postgres://u:p@db:5432/gk" {
			t.Fatalf("postgresDSN = %q", got)
		}
	})
}

func TestPoolFromEnv(t *testing.T) {
	t.Setenv("DB_MAX_OPEN_CONNS", "8")
	t.Setenv("DB_MAX_IDLE_CONNS", "20")

	p := poolFromEnv(driverPostgres)
	if p.maxOpen != 8 || p.maxIdle != 8 {
		t.Fatalf("pool = %+v, want idle capped at open", p)
	}
	if p.maxLifetime != 300*time.Second {
		t.Fatalf("max lifetime = %s", p.maxLifetime)
	}
}
